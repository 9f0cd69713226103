//go:build js && wasm

package main

import (
	"errors"
	"io"
	"strings"
	"syscall/js"

	"gopher-vod/internal/uploader"
)

const markerClass = "upload-success"

var errNotReadable = errors.New("browser files are sent as form data")

var document = js.Global().Get("document")

func byID(id string) js.Value {
	return document.Call("getElementById", id)
}

func present(v js.Value) bool {
	return !v.IsNull() && !v.IsUndefined()
}

type domForm struct{ el js.Value }

func (f domForm) Action() string { return f.el.Get("action").String() }

func (f domForm) Method() string {
	m := strings.ToUpper(f.el.Get("method").String())
	if m == "" {
		return "POST"
	}
	return m
}

// domFile wraps a JS File. It is only consumed by xhrTransport.
type domFile struct{ v js.Value }

func (f domFile) Name() string { return f.v.Get("name").String() }
func (f domFile) Size() int64  { return int64(f.v.Get("size").Float()) }

func (f domFile) Open() (io.ReadCloser, error) { return nil, errNotReadable }

type domFileInput struct{ el js.Value }

func (in domFileInput) Selected() (uploader.File, bool) {
	files := in.el.Get("files")
	if !present(files) || files.Length() == 0 {
		return nil, false
	}
	return domFile{v: files.Index(0)}, true
}

func (in domFileInput) Clear() { in.el.Set("value", "") }

type domContainer struct{ el js.Value }

func (c domContainer) Show() { c.el.Get("style").Set("display", "block") }
func (c domContainer) Hide() { c.el.Get("style").Set("display", "none") }

type domIndicator struct{ el js.Value }

func (i domIndicator) SetValue(percent int) { i.el.Set("value", percent) }

type domLabel struct{ el js.Value }

func (l domLabel) SetText(text string) { l.el.Set("textContent", text) }

type domPage struct{ form js.Value }

func (p domPage) Alert(message string) {
	js.Global().Call("alert", message)
}

func (p domPage) ShowMarker(m uploader.Marker) {
	div := document.Call("createElement", "div")
	div.Set("className", markerClass)
	div.Set("textContent", m.String())
	p.form.Call("insertAdjacentElement", "afterend", div)
}

func (p domPage) RemoveMarker() {
	old := document.Call("querySelector", "."+markerClass)
	if present(old) {
		old.Call("remove")
	}
}

func (p domPage) Navigate(url string) {
	js.Global().Get("window").Get("location").Set("href", url)
}

// bindElements looks up the upload form elements. A missing form leaves
// Form nil so the controller stays inert.
func bindElements() uploader.Elements {
	form := byID("upload-form")
	els := uploader.Elements{
		File:      domFileInput{el: byID("video")},
		Container: domContainer{el: byID("progress-wrapper")},
		Indicator: domIndicator{el: byID("progress")},
		Label:     domLabel{el: byID("percent")},
		Page:      domPage{form: form},
	}
	if present(form) {
		els.Form = domForm{el: form}
	}
	return els
}

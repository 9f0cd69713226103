//go:build js && wasm

package main

import (
	"context"
	"errors"
	"fmt"
	"syscall/js"

	"gopher-vod/internal/protocol"
	"gopher-vod/internal/uploader"
)

var errNetwork = errors.New("xhr: network error")

// xhrTransport sends the form data with XMLHttpRequest so upload progress
// events are available.
type xhrTransport struct{}

type xhrResult struct {
	status int
	text   string
	url    string
	err    error
}

func (xhrTransport) Send(ctx context.Context, req uploader.Request, onProgress uploader.ProgressFunc) (*uploader.Response, error) {
	file, ok := req.File.(domFile)
	if !ok {
		return nil, fmt.Errorf("xhr: unsupported file type %T", req.File)
	}

	fd := js.Global().Get("FormData").New()
	fd.Call("append", req.Field, file.v, file.Name())

	xhr := js.Global().Get("XMLHttpRequest").New()
	xhr.Call("open", req.Method, req.URL)
	xhr.Call("setRequestHeader", protocol.HeaderRequestedWith, protocol.RequestedWithUploader)

	// Callbacks run on the JS event loop and must not block.
	progress := make(chan [2]int64, 64)
	done := make(chan xhrResult, 1)

	onProg := js.FuncOf(func(this js.Value, args []js.Value) any {
		e := args[0]
		if !e.Get("lengthComputable").Bool() {
			return nil
		}
		select {
		case progress <- [2]int64{int64(e.Get("loaded").Float()), int64(e.Get("total").Float())}:
		default:
		}
		return nil
	})
	onLoad := js.FuncOf(func(this js.Value, args []js.Value) any {
		done <- xhrResult{
			status: xhr.Get("status").Int(),
			text:   xhr.Get("statusText").String(),
			url:    xhr.Get("responseURL").String(),
		}
		return nil
	})
	onError := js.FuncOf(func(this js.Value, args []js.Value) any {
		done <- xhrResult{err: errNetwork}
		return nil
	})
	defer func() {
		onProg.Release()
		onLoad.Release()
		onError.Release()
	}()

	xhr.Get("upload").Call("addEventListener", "progress", onProg)
	xhr.Call("addEventListener", "load", onLoad)
	xhr.Call("addEventListener", "error", onError)
	xhr.Call("addEventListener", "abort", onError)
	xhr.Call("send", fd)

	for {
		select {
		case p := <-progress:
			if onProgress != nil {
				onProgress(p[0], p[1])
			}
		case r := <-done:
			// Flush progress that arrived with the final event.
			for len(progress) > 0 {
				p := <-progress
				if onProgress != nil {
					onProgress(p[0], p[1])
				}
			}
			if r.err != nil {
				return nil, r.err
			}
			return &uploader.Response{StatusCode: r.status, StatusText: r.text, URL: r.url}, nil
		case <-ctx.Done():
			xhr.Call("abort")
			return nil, ctx.Err()
		}
	}
}

package uploader

import (
	"io"
	"os"
	"path/filepath"
)

// File is the blob selected by the user. Size returns -1 when unknown.
type File interface {
	Name() string
	Size() int64
	Open() (io.ReadCloser, error)
}

// Form supplies the request destination and method.
type Form interface {
	Action() string
	Method() string
}

// FileInput is the file selection control.
type FileInput interface {
	Selected() (File, bool)
	Clear()
}

// Container is the progress wrapper that is shown and hidden.
type Container interface {
	Show()
	Hide()
}

// Indicator is the progress bar accepting 0..100.
type Indicator interface {
	SetValue(percent int)
}

// Label is the percentage text next to the bar.
type Label interface {
	SetText(text string)
}

// Page covers the document-level operations.
type Page interface {
	Alert(message string)
	// ShowMarker inserts the success marker right after the form.
	ShowMarker(m Marker)
	RemoveMarker()
	Navigate(url string)
}

// Elements are the handles a controller binds to. A nil Form disables the
// controller; the other handles are used unchecked.
type Elements struct {
	Form      Form
	File      FileInput
	Container Container
	Indicator Indicator
	Label     Label
	Page      Page
}

// StaticForm is a Form with fixed values.
type StaticForm struct {
	URL  string
	Verb string
}

func (f StaticForm) Action() string { return f.URL }

func (f StaticForm) Method() string {
	if f.Verb == "" {
		return "POST"
	}
	return f.Verb
}

// LocalFile is a file on the local filesystem.
type LocalFile struct {
	Path string
	size int64
}

func (f LocalFile) Name() string { return filepath.Base(f.Path) }
func (f LocalFile) Size() int64  { return f.size }

func (f LocalFile) Open() (io.ReadCloser, error) {
	return os.Open(f.Path)
}

// PathInput selects a file by path. A path that cannot be stat'ed, or that
// names a directory, counts as no selection.
type PathInput struct {
	Path string
}

func (in *PathInput) Selected() (File, bool) {
	if in.Path == "" {
		return nil, false
	}
	info, err := os.Stat(in.Path)
	if err != nil || info.IsDir() {
		return nil, false
	}
	return LocalFile{Path: in.Path, size: info.Size()}, true
}

func (in *PathInput) Clear() { in.Path = "" }

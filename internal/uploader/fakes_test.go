package uploader

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
)

// page records everything the controller does to the elements. The
// controller touches it from its loop goroutine while tests read it.
type page struct {
	mu        sync.Mutex
	file      File
	cleared   bool
	visible   bool
	values    []int
	labels    []string
	alerts    []string
	markers   int
	maxMarker int
	navigated []string
}

func (p *page) Selected() (File, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.file == nil {
		return nil, false
	}
	return p.file, true
}

func (p *page) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.file = nil
	p.cleared = true
}

func (p *page) Show() { p.set(func() { p.visible = true }) }
func (p *page) Hide() { p.set(func() { p.visible = false }) }

func (p *page) SetValue(v int) { p.set(func() { p.values = append(p.values, v) }) }

func (p *page) SetText(s string) { p.set(func() { p.labels = append(p.labels, s) }) }

func (p *page) Alert(msg string) { p.set(func() { p.alerts = append(p.alerts, msg) }) }

func (p *page) ShowMarker(Marker) {
	p.set(func() {
		p.markers++
		if p.markers > p.maxMarker {
			p.maxMarker = p.markers
		}
	})
}

func (p *page) RemoveMarker() {
	p.set(func() {
		if p.markers > 0 {
			p.markers--
		}
	})
}

func (p *page) Navigate(url string) { p.set(func() { p.navigated = append(p.navigated, url) }) }

func (p *page) set(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn()
}

type snapshot struct {
	cleared   bool
	visible   bool
	values    []int
	labels    []string
	alerts    []string
	markers   int
	maxMarker int
	navigated []string
}

func (p *page) snapshot() snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return snapshot{
		cleared:   p.cleared,
		visible:   p.visible,
		values:    append([]int(nil), p.values...),
		labels:    append([]string(nil), p.labels...),
		alerts:    append([]string(nil), p.alerts...),
		markers:   p.markers,
		maxMarker: p.maxMarker,
		navigated: append([]string(nil), p.navigated...),
	}
}

func (p *page) selectFile(f File) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.file = f
	p.cleared = false
}

func (p *page) elements(action string) Elements {
	return Elements{
		Form:      StaticForm{URL: action},
		File:      p,
		Container: p,
		Indicator: p,
		Label:     p,
		Page:      p,
	}
}

type memFile struct {
	name string
	data []byte
	size int64
}

func newMemFile(name string, data []byte) memFile {
	return memFile{name: name, data: data, size: int64(len(data))}
}

func (f memFile) Name() string { return f.name }
func (f memFile) Size() int64  { return f.size }
func (f memFile) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.data)), nil
}

// scripted replays progress steps then answers with resp or err.
type scripted struct {
	mu       sync.Mutex
	steps    [][2]int64
	resp     *Response
	err      error
	gate     chan struct{}
	requests []Request
}

func (s *scripted) Send(ctx context.Context, req Request, onProgress ProgressFunc) (*Response, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	for _, st := range s.steps {
		onProgress(st[0], st[1])
	}
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

func (s *scripted) sent() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

var errConnReset = errors.New("connection reset by peer")

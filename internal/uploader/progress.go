package uploader

import (
	"io"
	"time"
)

// ProgressFunc receives cumulative byte counts while a payload is sent.
type ProgressFunc func(loaded, total int64)

// ProgressReader tracks the number of bytes read and reports them to a
// hook, at most once per interval. The final count is always reported.
type ProgressReader struct {
	Total    int64
	Current  int64
	Reader   io.Reader
	interval time.Duration
	lastEmit time.Time
	hook     ProgressFunc
}

func NewProgressReader(total int64, r io.Reader, interval time.Duration, hook ProgressFunc) *ProgressReader {
	return &ProgressReader{
		Total:    total,
		Reader:   r,
		interval: interval,
		hook:     hook,
	}
}

func (pr *ProgressReader) Read(p []byte) (int, error) {
	n, err := pr.Reader.Read(p)
	if n > 0 {
		pr.Current += int64(n)
		pr.emit()
	}
	return n, err
}

func (pr *ProgressReader) emit() {
	if pr.hook == nil {
		return
	}
	if pr.Current < pr.Total && time.Since(pr.lastEmit) < pr.interval {
		return
	}
	pr.lastEmit = time.Now()
	pr.hook(pr.Current, pr.Total)
}

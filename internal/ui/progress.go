// Package ui renders the upload controller on a terminal.
package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"gopher-vod/internal/uploader"
)

const barWidth = 40

// Terminal is a text rendition of the upload form: a progress bar that is
// redrawn in place, alerts and the success marker as lines. It implements
// every element the controller drives except the form and the file input.
type Terminal struct {
	mu sync.Mutex
	w  io.Writer

	name  string
	total int64

	visible   bool
	midLine   bool
	percent   int
	label     string
	startTime time.Time
	lastDraw  time.Time

	marker   *uploader.Marker
	alerts   []string
	navigate string
}

// NewTerminal draws to w. name and total describe the file being sent;
// total may be -1 when unknown.
func NewTerminal(w io.Writer, name string, total int64) *Terminal {
	return &Terminal{w: w, name: name, total: total}
}

// Show starts a fresh bar.
func (t *Terminal) Show() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.visible = true
	t.startTime = time.Now()
	t.lastDraw = time.Time{}
	t.draw(true)
}

// Hide ends the bar line.
func (t *Terminal) Hide() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.visible {
		return
	}
	t.draw(true)
	t.visible = false
	t.endLine()
}

func (t *Terminal) SetValue(percent int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.percent = percent
	t.draw(percent >= 100)
}

// SetText follows SetValue, so a changed label always redraws to pair it
// with the bar.
func (t *Terminal) SetText(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	changed := text != t.label
	t.label = text
	t.draw(changed)
}

func (t *Terminal) Alert(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.endLine()
	t.alerts = append(t.alerts, message)
	fmt.Fprintf(t.w, "⚠️  %s\n", message)
}

// ShowMarker prints the marker. Printed lines cannot be taken back, so the
// terminal only tracks the marker currently in effect.
func (t *Terminal) ShowMarker(m uploader.Marker) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.endLine()
	t.marker = &m
	fmt.Fprintln(t.w, m.String())
}

func (t *Terminal) RemoveMarker() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.marker = nil
}

// Navigate prints the destination; there is no page to leave.
func (t *Terminal) Navigate(url string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.endLine()
	t.navigate = url
	fmt.Fprintf(t.w, "➡️  %s\n", url)
}

// Marker returns the marker in effect, if any.
func (t *Terminal) Marker() (uploader.Marker, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.marker == nil {
		return uploader.Marker{}, false
	}
	return *t.marker, true
}

func (t *Terminal) Alerts() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.alerts...)
}

func (t *Terminal) Destination() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.navigate
}

func (t *Terminal) endLine() {
	if t.midLine {
		fmt.Fprintln(t.w)
		t.midLine = false
	}
}

// draw redraws the bar at most every 100ms unless forced.
func (t *Terminal) draw(force bool) {
	if !t.visible {
		return
	}
	if !force && time.Since(t.lastDraw) < 100*time.Millisecond {
		return
	}
	t.lastDraw = time.Now()

	p := t.percent
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	completed := barWidth * p / 100
	bar := strings.Repeat("█", completed) + strings.Repeat("░", barWidth-completed)

	label := t.label
	if label == "" {
		label = fmt.Sprintf("%d%%", p)
	}

	fmt.Fprintf(t.w, "\r⬆️  Uploading %s [%s] %4s%s", t.name, bar, label, t.transferred(p))
	t.midLine = true
}

func (t *Terminal) transferred(percent int) string {
	if t.total <= 0 {
		return ""
	}
	sent := t.total * int64(percent) / 100
	duration := time.Since(t.startTime).Seconds()
	if duration <= 0 {
		duration = 0.0001
	}
	rate := uint64(float64(sent) / duration)
	return fmt.Sprintf(" %s / %s (%s/s)", humanize.Bytes(uint64(sent)), humanize.Bytes(uint64(t.total)), humanize.Bytes(rate))
}

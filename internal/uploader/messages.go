package uploader

import (
	"errors"
	"fmt"
)

// User-facing texts. They are part of the page contract and are not
// translated.
const (
	MsgNoFile   = "Escolha um arquivo primeiro"
	MsgNetwork  = "Erro na requisição."
	MsgSuccess  = "Upload feito com sucesso!"
	msgRejected = "Upload falhou: "

	CheckGlyph = "✔"
)

// RejectedMessage is the alert shown for a non-2xx response.
func RejectedMessage(statusText string) string {
	return msgRejected + statusText
}

var (
	// ErrNoFile is returned by Submit when no file is selected.
	ErrNoFile = errors.New("uploader: no file selected")
	// ErrInFlight is returned by Submit while an attempt is running.
	ErrInFlight = errors.New("uploader: upload already in flight")
	// ErrNoForm is returned by Submit when the controller has no form.
	ErrNoForm = errors.New("uploader: no upload form bound")
	// ErrStopped is returned once the controller loop has exited.
	ErrStopped = errors.New("uploader: controller stopped")
)

// RejectedError is the outcome error for a non-2xx response.
type RejectedError struct {
	StatusCode int
	StatusText string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("upload rejected: %d %s", e.StatusCode, e.StatusText)
}

// Marker is the success element shown after the form.
type Marker struct {
	Glyph   string
	Message string
}

func (m Marker) String() string {
	return m.Glyph + " " + m.Message
}

// DefaultMarker is the check glyph plus the fixed success text.
func DefaultMarker() Marker {
	return Marker{Glyph: CheckGlyph, Message: MsgSuccess}
}

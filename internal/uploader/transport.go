package uploader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gopher-vod/internal/protocol"
)

// Request describes one upload attempt.
type Request struct {
	Method string
	URL    string
	Field  string
	File   File
}

// Response is the terminal answer of the server.
type Response struct {
	StatusCode int
	// StatusText is the reason phrase only, e.g. "Internal Server Error".
	StatusText string
	// URL is where the request ended up after redirects.
	URL string
}

func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Transport sends a request. It returns an error only when no response was
// received; any response, whatever its status, is returned as-is.
type Transport interface {
	Send(ctx context.Context, req Request, onProgress ProgressFunc) (*Response, error)
}

// HTTPTransport sends the file as multipart/form-data with net/http.
type HTTPTransport struct {
	Client           *http.Client
	ProgressInterval time.Duration
}

func NewHTTPTransport(client *http.Client) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTransport{Client: client, ProgressInterval: 100 * time.Millisecond}
}

func (t *HTTPTransport) Send(ctx context.Context, req Request, onProgress ProgressFunc) (*Response, error) {
	field := req.Field
	if field == "" {
		field = protocol.FieldVideo
	}
	body, err := newPayload(field, req.File)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var r io.Reader = body
	if body.length >= 0 && onProgress != nil {
		r = NewProgressReader(body.length, body, t.ProgressInterval, onProgress)
	}

	method := req.Method
	if method == "" {
		method = http.MethodPost
	}
	httpReq, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), req.URL, r)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.ContentLength = body.length
	httpReq.Header.Set("Content-Type", body.contentType)
	httpReq.Header.Set(protocol.HeaderRequestedWith, protocol.RequestedWithUploader)

	resp, err := t.Client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send %s: %w", req.URL, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	return &Response{
		StatusCode: resp.StatusCode,
		StatusText: statusText(resp),
		URL:        resp.Request.URL.String(),
	}, nil
}

// statusText strips the numeric code from resp.Status.
func statusText(resp *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	return text
}

// payload is a multipart body whose length is known up front whenever the
// file size is, so progress can be computed.
type payload struct {
	io.Reader
	file        io.Closer
	contentType string
	length      int64
}

func (p *payload) Close() error { return p.file.Close() }

func newPayload(field string, f File) (*payload, error) {
	var head bytes.Buffer
	mw := multipart.NewWriter(&head)
	if _, err := mw.CreateFormFile(field, f.Name()); err != nil {
		return nil, fmt.Errorf("write multipart header: %w", err)
	}
	// Same bytes multipart.Writer.Close would write.
	tail := "\r\n--" + mw.Boundary() + "--\r\n"

	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name(), err)
	}

	length := int64(-1)
	if size := f.Size(); size >= 0 {
		length = int64(head.Len()) + size + int64(len(tail))
	}

	return &payload{
		Reader:      io.MultiReader(&head, rc, strings.NewReader(tail)),
		file:        rc,
		contentType: mw.FormDataContentType(),
		length:      length,
	}, nil
}

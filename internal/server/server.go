// Package server is the HTTP side of the video service: upload endpoint,
// library pages, DASH file serving, status API and status feed.
package server

import (
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"

	"gopher-vod/internal/library"
	"gopher-vod/internal/metrics"
	"gopher-vod/internal/protocol"
	"gopher-vod/internal/transcode"
)

//go:embed templates/*.html
var templates embed.FS

// Queue accepts transcode jobs.
type Queue interface {
	Enqueue(job transcode.Job) error
}

type Config struct {
	Library        *library.Library
	Queue          Queue
	Hub            *Hub
	Metrics        *metrics.Metrics
	UploadsDir     string
	StaticDir      string
	MaxUploadBytes int64
	Extensions     []string

	// UploadsPerMinute limits uploads per client address; 0 disables it.
	UploadsPerMinute float64
	UploadBurst      int
}

type Server struct {
	cfg     Config
	tmpl    *template.Template
	router  *mux.Router
	limiter *ipLimiter
}

func New(cfg Config) (*Server, error) {
	if cfg.Library == nil || cfg.Queue == nil {
		return nil, fmt.Errorf("server: library and queue are required")
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = protocol.DefaultExtensions
	}
	if cfg.Hub == nil {
		cfg.Hub = NewHub(cfg.Library, cfg.Metrics)
	}
	if err := os.MkdirAll(cfg.UploadsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create uploads dir: %w", err)
	}

	tmpl, err := template.New("").Funcs(template.FuncMap{
		"bytes": func(n int64) string { return humanize.Bytes(uint64(n)) },
		"ago":   func(t time.Time) string { return humanize.Time(t) },
	}).ParseFS(templates, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	s := &Server{cfg: cfg, tmpl: tmpl, limiter: newIPLimiter(cfg.UploadsPerMinute, cfg.UploadBurst)}
	s.router = s.routes()
	return s, nil
}

func (s *Server) Handler() http.Handler { return s.router }

// Hub returns the status feed hub, to be notified of library changes.
func (s *Server) Hub() *Hub { return s.cfg.Hub }

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(requestLogger)

	r.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, protocol.RouteVideos, http.StatusFound)
	}).Methods(http.MethodGet)

	r.HandleFunc(protocol.RouteUpload, s.uploadPage).Methods(http.MethodGet)
	r.HandleFunc(protocol.RouteUpload, s.limit(s.upload)).Methods(http.MethodPost)
	r.HandleFunc(protocol.RouteVideos, s.list).Methods(http.MethodGet)
	r.HandleFunc(protocol.RouteWatch+"/{id}", s.watch).Methods(http.MethodGet)
	r.HandleFunc(protocol.RouteVideos+"/{id}/{file:.+}", s.videoFile).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc(protocol.RouteStatus+"/{id}", s.status).Methods(http.MethodGet)
	r.HandleFunc(protocol.RouteFeed+"/{id}", s.feed).Methods(http.MethodGet)

	if s.cfg.Metrics != nil {
		r.Handle("/metrics", s.cfg.Metrics.Handler()).Methods(http.MethodGet)
	}
	if s.cfg.StaticDir != "" {
		r.PathPrefix("/static/").Handler(http.StripPrefix("/static/", http.FileServer(http.Dir(s.cfg.StaticDir))))
	}
	return r
}

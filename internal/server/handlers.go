package server

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"gopher-vod/internal/library"
	"gopher-vod/internal/logger"
	"gopher-vod/internal/protocol"
	"gopher-vod/internal/transcode"
)

// User facing texts.
const (
	msgNoFile      = "Nenhum arquivo enviado"
	msgNoName      = "Arquivo sem nome"
	msgExtension   = "Extensão não permitida"
	msgTooLarge    = "Arquivo muito grande"
	msgBusy        = "Vídeo ainda está sendo processado"
	msgQueueFull   = "Fila de processamento cheia"
	msgServerError = "Erro interno"
)

// multipartMemory is kept small so uploads spill to disk.
const multipartMemory = 8 << 20

type uploadPageData struct {
	Field    string
	Accept   string
	MaxBytes int64
}

type listPageData struct {
	Videos []library.Video
}

type playerPageData struct {
	ID     string
	Title  string
	MPDURL string
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.ExecuteTemplate(w, name, data); err != nil {
		logger.Ctx(r.Context()).Error().Err(err).Str("template", name).Msg("render failed")
	}
}

func (s *Server) uploadPage(w http.ResponseWriter, r *http.Request) {
	accept := make([]string, len(s.cfg.Extensions))
	for i, ext := range s.cfg.Extensions {
		accept[i] = "." + strings.TrimPrefix(ext, ".")
	}
	s.render(w, r, "upload.html", uploadPageData{
		Field:    protocol.FieldVideo,
		Accept:   strings.Join(accept, ","),
		MaxBytes: s.cfg.MaxUploadBytes,
	})
}

func (s *Server) reject(w http.ResponseWriter, r *http.Request, code int, msg, reason string) {
	logger.Ctx(r.Context()).Warn().Int("status", code).Str("reason", reason).Msg("upload rejected")
	s.cfg.Metrics.UploadRejected(reason)
	http.Error(w, msg, code)
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	log := logger.Ctx(r.Context())
	if s.cfg.MaxUploadBytes > 0 {
		if r.ContentLength > s.cfg.MaxUploadBytes {
			s.reject(w, r, http.StatusRequestEntityTooLarge, msgTooLarge, "too_large")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.reject(w, r, http.StatusRequestEntityTooLarge, msgTooLarge, "too_large")
			return
		}
		s.reject(w, r, http.StatusBadRequest, msgNoFile, "bad_form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(protocol.FieldVideo)
	if err != nil {
		// A part without a filename is parsed as a plain value.
		if _, ok := r.MultipartForm.Value[protocol.FieldVideo]; ok {
			s.reject(w, r, http.StatusBadRequest, msgNoName, "no_name")
			return
		}
		s.reject(w, r, http.StatusBadRequest, msgNoFile, "no_file")
		return
	}
	defer file.Close()

	name, err := s.filename(header.Filename)
	switch {
	case errors.Is(err, ErrNoName):
		s.reject(w, r, http.StatusBadRequest, msgNoName, "no_name")
		return
	case errors.Is(err, ErrExtension):
		s.reject(w, r, http.StatusUnsupportedMediaType, msgExtension, "bad_extension")
		return
	}

	id := Stem(name)
	lib := s.cfg.Library
	switch err := lib.Create(id); {
	case errors.Is(err, library.ErrProcessing):
		s.reject(w, r, http.StatusConflict, msgBusy, "busy")
		return
	case err != nil:
		log.Error().Err(err).Str("video", id).Msg("failed to create video dir")
		http.Error(w, msgServerError, http.StatusInternalServerError)
		return
	}

	savePath := filepath.Join(s.cfg.UploadsDir, name)
	size, sum, err := save(file, savePath)
	if err != nil {
		log.Error().Err(err).Str("path", savePath).Msg("failed to save upload")
		s.release(r, id)
		http.Error(w, msgServerError, http.StatusInternalServerError)
		return
	}

	err = lib.WriteMeta(id, library.Meta{
		library.MetaOriginalName: name,
		library.MetaManifest:     library.ManifestFile,
		library.MetaChecksum:     sum,
		library.MetaSize:         strconv.FormatInt(size, 10),
		library.MetaUpload:       savePath,
	})
	if err != nil {
		log.Error().Err(err).Str("video", id).Msg("failed to write meta")
	}

	job := transcode.Job{ID: id, Input: savePath, OriginalName: name, Checksum: sum}
	if err := s.cfg.Queue.Enqueue(job); err != nil {
		log.Error().Err(err).Str("video", id).Msg("failed to queue transcode")
		s.release(r, id)
		s.cfg.Hub.Publish(id)
		s.reject(w, r, http.StatusServiceUnavailable, msgQueueFull, "queue_full")
		return
	}

	s.cfg.Metrics.UploadAccepted(size)
	s.cfg.Hub.Publish(id)
	log.Info().Str("video", id).Str("file", name).Int64("size", size).Str("sha256", sum).Msg("upload accepted")
	w.Header().Set(protocol.HeaderVideoID, id)
	http.Redirect(w, r, protocol.UploadedURL(id), http.StatusSeeOther)
}

func (s *Server) release(r *http.Request, id string) {
	if err := s.cfg.Library.Release(id); err != nil {
		logger.Ctx(r.Context()).Warn().Err(err).Str("video", id).Msg("failed to release video")
	}
}

// filename validates the client supplied name and makes it safe to store.
func (s *Server) filename(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", ErrNoName
	}
	if !AllowedFile(raw, s.cfg.Extensions) {
		return "", ErrExtension
	}
	name := SecureFilename(raw)
	ext := Extension(raw)
	if Stem(name) == "" || Extension(name) != ext {
		name = "video-" + uuid.NewString()[:8] + "." + ext
	}
	return name, nil
}

// save copies src next to path and renames it into place once complete.
func save(src io.Reader, path string) (int64, string, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.part")
	if err != nil {
		return 0, "", err
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), src)
	if err != nil {
		return n, "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return n, "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return n, "", fmt.Errorf("rename upload: %w", err)
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}

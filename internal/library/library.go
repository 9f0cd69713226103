// Package library manages the on-disk video catalogue.
//
// Each video lives in its own directory under the videos root:
//
//	videos/<id>/meta.txt        key=value metadata
//	videos/<id>/.processing     present while transcoding
//	videos/<id>/output.mpd      DASH manifest, present once ready
//	videos/<id>/thumbnail.jpg   optional
package library

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopher-vod/internal/protocol"
)

const (
	MetaFile      = "meta.txt"
	LockFile      = ".processing"
	ManifestFile  = "output.mpd"
	ThumbnailFile = "thumbnail.jpg"

	MetaOriginalName = "original_filename"
	MetaManifest     = "mpd"
	MetaChecksum     = "sha256"
	MetaSize         = "size"
	MetaUpload       = "upload"
)

var (
	ErrNotFound   = errors.New("library: video not found")
	ErrProcessing = errors.New("library: video is still processing")
	ErrNotReady   = errors.New("library: video is not ready")
)

// Video is one catalogue entry as shown on the listing page.
type Video struct {
	ID           string
	OriginalName string
	Thumbnail    string
	Manifest     string
	Checksum     string
	Size         int64
	IsProcessing bool
	IsReady      bool
	ModTime      time.Time
}

// Library is rooted at the videos directory.
type Library struct {
	root string
}

func New(root string) (*Library, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create videos dir: %w", err)
	}
	return &Library{root: root}, nil
}

func (l *Library) Root() string { return l.root }

// Dir returns the directory of a video. id must already be sanitized.
func (l *Library) Dir(id string) string {
	return filepath.Join(l.root, id)
}

func (l *Library) Exists(id string) bool {
	info, err := os.Stat(l.Dir(id))
	return err == nil && info.IsDir()
}

// Create makes the video directory and marks it as processing. It fails
// with ErrProcessing when another upload already holds the lock.
func (l *Library) Create(id string) error {
	dir := l.Dir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create video dir: %w", err)
	}
	return l.Lock(id)
}

// Lock creates the processing lock exclusively.
func (l *Library) Lock(id string) error {
	path := filepath.Join(l.Dir(id), LockFile)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return ErrProcessing
	}
	if err != nil {
		return fmt.Errorf("create processing lock: %w", err)
	}
	_, err = f.WriteString("processing")
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write processing lock: %w", err)
	}
	return nil
}

func (l *Library) Unlock(id string) error {
	err := os.Remove(filepath.Join(l.Dir(id), LockFile))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove processing lock: %w", err)
	}
	return nil
}

// Release drops the lock of an upload that will not be transcoded. A video
// that was ready before the upload stays; anything else is removed.
func (l *Library) Release(id string) error {
	if err := l.Unlock(id); err != nil {
		return err
	}
	if l.IsReady(id) {
		return nil
	}
	return l.Remove(id)
}

// Remove deletes a video and everything it contains.
func (l *Library) Remove(id string) error {
	return os.RemoveAll(l.Dir(id))
}

func (l *Library) IsProcessing(id string) bool {
	_, err := os.Stat(filepath.Join(l.Dir(id), LockFile))
	return err == nil
}

// IsReady reports whether the manifest exists and processing is over.
func (l *Library) IsReady(id string) bool {
	_, err := os.Stat(filepath.Join(l.Dir(id), ManifestFile))
	return err == nil && !l.IsProcessing(id)
}

// Playable returns nil when the video can be watched.
func (l *Library) Playable(id string) error {
	switch {
	case !l.Exists(id):
		return ErrNotFound
	case l.IsProcessing(id):
		return ErrProcessing
	case !l.IsReady(id):
		return ErrNotReady
	}
	return nil
}

// Status is the status API view of a video.
func (l *Library) Status(id string) protocol.VideoStatus {
	st := protocol.VideoStatus{ID: id, Files: []string{}}
	if !l.Exists(id) {
		return st
	}
	st.Exists = true
	st.IsProcessing = l.IsProcessing(id)
	st.IsReady = l.IsReady(id)

	entries, err := os.ReadDir(l.Dir(id))
	if err == nil {
		for _, e := range entries {
			st.Files = append(st.Files, e.Name())
		}
	}
	return st
}

// List returns every video, most recently modified first.
func (l *Library) List() ([]Video, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return nil, fmt.Errorf("read videos dir: %w", err)
	}

	videos := make([]Video, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		videos = append(videos, l.describe(e.Name(), info.ModTime()))
	}

	sort.SliceStable(videos, func(i, j int) bool {
		return videos[i].ModTime.After(videos[j].ModTime)
	})
	return videos, nil
}

// Pending returns the ids still holding a processing lock, e.g. jobs left
// queued by a previous run.
func (l *Library) Pending() ([]string, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return nil, fmt.Errorf("read videos dir: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() && l.IsProcessing(e.Name()) {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

func (l *Library) describe(id string, mod time.Time) Video {
	meta, _ := l.ReadMeta(id)

	v := Video{
		ID:           id,
		OriginalName: meta.Get(MetaOriginalName, "Sem nome"),
		Manifest:     meta.Get(MetaManifest, ManifestFile),
		Checksum:     meta.Get(MetaChecksum, ""),
		IsProcessing: l.IsProcessing(id),
		IsReady:      l.IsReady(id),
		ModTime:      mod,
	}
	fmt.Sscan(meta.Get(MetaSize, "0"), &v.Size)
	if _, err := os.Stat(filepath.Join(l.Dir(id), ThumbnailFile)); err == nil {
		v.Thumbnail = protocol.RouteVideos + "/" + id + "/" + ThumbnailFile
	}
	return v
}

// Meta is the parsed content of meta.txt.
type Meta map[string]string

func (m Meta) Get(key, fallback string) string {
	if v, ok := m[key]; ok && v != "" {
		return v
	}
	return fallback
}

// ParseMeta reads key=value lines; lines without '=' are skipped.
func ParseMeta(content string) Meta {
	m := Meta{}
	for _, line := range strings.Split(content, "\n") {
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		m[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return m
}

// ReadMeta returns an empty Meta when the file is missing.
func (l *Library) ReadMeta(id string) (Meta, error) {
	b, err := os.ReadFile(filepath.Join(l.Dir(id), MetaFile))
	if errors.Is(err, fs.ErrNotExist) {
		return Meta{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read meta: %w", err)
	}
	return ParseMeta(string(b)), nil
}

// WriteMeta replaces meta.txt. Keys are written in a stable order with the
// original filename and manifest first.
func (l *Library) WriteMeta(id string, m Meta) error {
	var b strings.Builder
	written := map[string]bool{}
	for _, k := range []string{MetaOriginalName, MetaManifest} {
		if v, ok := m[k]; ok {
			fmt.Fprintf(&b, "%s=%s\n", k, v)
			written[k] = true
		}
	}
	rest := make([]string, 0, len(m))
	for k := range m {
		if !written[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, k := range rest {
		fmt.Fprintf(&b, "%s=%s\n", k, m[k])
	}

	if err := os.WriteFile(filepath.Join(l.Dir(id), MetaFile), []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write meta: %w", err)
	}
	return nil
}

// MergeMeta adds keys to meta.txt without overwriting existing ones.
func (l *Library) MergeMeta(id string, add Meta) error {
	m, err := l.ReadMeta(id)
	if err != nil {
		return err
	}
	for k, v := range add {
		if _, ok := m[k]; !ok {
			m[k] = v
		}
	}
	return l.WriteMeta(id, m)
}

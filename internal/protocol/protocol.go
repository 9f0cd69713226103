package protocol

import (
	"crypto/sha256"
	"fmt"
	"io"
	"net/url"
	"os"
)

const (
	DefaultHTTPAddr = "0.0.0.0:5001"
	DiscoveryPort   = 9999
	DiscoveryMsg    = "DISCOVER_GOPHER_VOD"

	// FieldVideo is the multipart field carrying the uploaded file.
	FieldVideo = "video"

	HeaderRequestedWith   = "X-Requested-With"
	RequestedWithUploader = "gopher-vod-uploader"

	// HeaderVideoID names the video an accepted upload became.
	HeaderVideoID = "X-Video-Id"
	// QueryUploaded carries the same id on the listing redirect.
	QueryUploaded = "uploaded"
)

// Routes
const (
	RouteUpload = "/upload"
	RouteVideos = "/videos"
	RouteWatch  = "/watch"
	RouteStatus = "/api/video_status"
	RouteFeed   = "/ws/status"
)

// UploadedURL is the listing page an accepted upload redirects to.
func UploadedURL(id string) string {
	return RouteVideos + "?" + url.Values{QueryUploaded: {id}}.Encode()
}

// UploadedID extracts the video id from the URL an upload ended on.
func UploadedID(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Query().Get(QueryUploaded)
}

// DefaultExtensions are the accepted video container extensions.
var DefaultExtensions = []string{"mp4", "mov", "mkv", "webm", "avi"}

// VideoStatus is the JSON body of the status API and of every status feed
// message.
type VideoStatus struct {
	ID           string   `json:"id"`
	Exists       bool     `json:"exists"`
	IsProcessing bool     `json:"is_processing"`
	IsReady      bool     `json:"is_ready"`
	Files        []string `json:"files"`
}

// Terminal reports whether no further status change is expected. A failed
// transcode removes the video, so it shows up as not existing.
func (s VideoStatus) Terminal() bool {
	return !s.IsProcessing
}

// ComputeChecksum calculates the SHA256 hash of everything r yields.
func ComputeChecksum(r io.Reader) ([32]byte, error) {
	hash := sha256.New()
	if _, err := io.Copy(hash, r); err != nil {
		return [32]byte{}, err
	}

	var checksum [32]byte
	copy(checksum[:], hash.Sum(nil))
	return checksum, nil
}

// ChecksumFile calculates the SHA256 hash of a file.
func ChecksumFile(path string) ([32]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return [32]byte{}, err
	}
	defer file.Close()

	sum, err := ComputeChecksum(file)
	if err != nil {
		return [32]byte{}, fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return sum, nil
}

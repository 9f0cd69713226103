// Package transcode turns an uploaded video into a multi-rendition MPEG-DASH
// package with ffmpeg.
package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"gopher-vod/internal/library"
	"gopher-vod/internal/logger"
)

// Rendition is one video-only DASH representation.
type Rendition struct {
	Name   string
	Width  int
	Height int
	CRF    int
}

// Renditions are encoded from lowest to highest quality.
var Renditions = []Rendition{
	{Name: "240p", Width: 426, Height: 240, CRF: 28},
	{Name: "480p", Width: 854, Height: 480, CRF: 25},
	{Name: "720p", Width: 1280, Height: 720, CRF: 23},
	{Name: "1080p", Width: 1920, Height: 1080, CRF: 21},
}

const (
	AudioFile       = "audio.m4a"
	SegmentDuration = "3"
)

func (r Rendition) File() string {
	return fmt.Sprintf("video_%s_dash.mp4", r.Name)
}

// Command is one external program invocation.
type Command struct {
	Name string
	Args []string
	// Optional failures are logged and skipped.
	Optional bool
}

func (c Command) String() string {
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Runner executes a command.
type Runner interface {
	Run(ctx context.Context, cmd Command) error
}

// ExecRunner runs commands as child processes.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, c Command) error {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return &CommandError{Cmd: c, Stdout: stdout.String(), Stderr: stderr.String(), Err: err}
	}
	return nil
}

// CommandError carries the output of a failed command.
type CommandError struct {
	Cmd    Command
	Stdout string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command failed: %s: %v\nSTDOUT: %s\nSTDERR: %s", e.Cmd, e.Err, e.Stdout, e.Stderr)
}

func (e *CommandError) Unwrap() error { return e.Err }

// Plan lists the commands that build the DASH package for input in dest.
func Plan(ffmpeg, input, dest string) []Command {
	plan := []Command{{
		Name: ffmpeg,
		Args: []string{
			"-y", "-ss", "00:00:01", "-i", input,
			"-vframes", "1", "-q:v", "2",
			filepath.Join(dest, library.ThumbnailFile),
		},
		Optional: true,
	}}

	for _, r := range Renditions {
		plan = append(plan, Command{
			Name: ffmpeg,
			Args: []string{
				"-y", "-i", input,
				"-vf", fmt.Sprintf("scale=%d:%d,setsar=1,setdar=16/9", r.Width, r.Height),
				"-c:v", "libx264", "-crf", fmt.Sprint(r.CRF), "-preset", "fast",
				"-an",
				filepath.Join(dest, r.File()),
			},
		})
	}

	plan = append(plan, Command{
		Name: ffmpeg,
		Args: []string{
			"-y", "-i", input,
			"-vn", "-c:a", "aac", "-b:a", "128k",
			filepath.Join(dest, AudioFile),
		},
	})

	mux := []string{}
	for _, r := range Renditions {
		mux = append(mux, "-i", filepath.Join(dest, r.File()))
	}
	mux = append(mux, "-i", filepath.Join(dest, AudioFile))
	for i := range Renditions {
		mux = append(mux, "-map", fmt.Sprintf("%d:v", i))
	}
	mux = append(mux,
		"-map", fmt.Sprintf("%d:a", len(Renditions)),
		"-c", "copy",
		"-f", "dash",
		"-seg_duration", SegmentDuration,
		"-use_timeline", "1",
		"-use_template", "1",
		"-adaptation_sets", adaptationSets(),
		filepath.Join(dest, library.ManifestFile),
	)
	return append(plan, Command{Name: ffmpeg, Args: mux})
}

func adaptationSets() string {
	streams := make([]string, len(Renditions))
	for i := range Renditions {
		streams[i] = fmt.Sprint(i)
	}
	return fmt.Sprintf("id=0,streams=%s id=1,streams=%d", strings.Join(streams, ","), len(Renditions))
}

// Transcoder runs a Plan.
type Transcoder struct {
	FFmpeg string
	Runner Runner
}

func New(ffmpeg string, runner Runner) *Transcoder {
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Transcoder{FFmpeg: ffmpeg, Runner: runner}
}

// Transcode writes the DASH package for input into dest and returns the
// manifest path. Intermediate renditions are removed on success.
func (t *Transcoder) Transcode(ctx context.Context, input, dest string) (string, error) {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dest, err)
	}

	for _, c := range Plan(t.FFmpeg, input, dest) {
		if err := t.Runner.Run(ctx, c); err != nil {
			if c.Optional && !errors.Is(err, context.Canceled) {
				logger.Warn().Err(err).Str("input", input).Msg("optional transcode step failed")
				continue
			}
			return "", err
		}
	}

	for _, r := range Renditions {
		if err := os.Remove(filepath.Join(dest, r.File())); err != nil && !os.IsNotExist(err) {
			logger.Warn().Err(err).Str("file", r.File()).Msg("failed to remove intermediate rendition")
		}
	}
	return filepath.Join(dest, library.ManifestFile), nil
}

package transcode

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopher-vod/internal/library"
)

// fakeRunner creates each command's output file, failing when fail matches.
type fakeRunner struct {
	mu   sync.Mutex
	cmds []Command
	fail func(Command) bool
}

func (r *fakeRunner) Run(_ context.Context, c Command) error {
	r.mu.Lock()
	r.cmds = append(r.cmds, c)
	r.mu.Unlock()
	if r.fail != nil && r.fail(c) {
		return &CommandError{Cmd: c, Stderr: "boom", Err: errors.New("exit status 1")}
	}
	return os.WriteFile(c.Args[len(c.Args)-1], []byte("out"), 0o644)
}

func (r *fakeRunner) commands() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Command(nil), r.cmds...)
}

func outputIs(name string) func(Command) bool {
	return func(c Command) bool { return filepath.Base(c.Args[len(c.Args)-1]) == name }
}

func TestPlan(t *testing.T) {
	plan := Plan("ffmpeg", "in.mp4", "out")
	require.Len(t, plan, 7)

	thumb := plan[0]
	assert.True(t, thumb.Optional)
	assert.Equal(t, "ffmpeg -y -ss 00:00:01 -i in.mp4 -vframes 1 -q:v 2 out/thumbnail.jpg", thumb.String())

	assert.Equal(t,
		"ffmpeg -y -i in.mp4 -vf scale=426:240,setsar=1,setdar=16/9 -c:v libx264 -crf 28 -preset fast -an out/video_240p_dash.mp4",
		plan[1].String())
	assert.Contains(t, plan[4].String(), "scale=1920:1080")
	assert.Contains(t, plan[4].String(), "-crf 21")
	assert.False(t, plan[1].Optional)

	assert.Equal(t, "ffmpeg -y -i in.mp4 -vn -c:a aac -b:a 128k out/audio.m4a", plan[5].String())

	mux := plan[6].String()
	assert.True(t, strings.HasSuffix(mux, "out/output.mpd"))
	assert.Contains(t, mux, "-map 0:v -map 1:v -map 2:v -map 3:v -map 4:a -c copy -f dash -seg_duration 3")
	assert.Contains(t, mux, "-use_timeline 1 -use_template 1")
	assert.Contains(t, plan[6].Args, "id=0,streams=0,1,2,3 id=1,streams=4")
}

func TestTranscodeRemovesIntermediates(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "clip")
	runner := &fakeRunner{}

	mpd, err := New("ffmpeg", runner).Transcode(context.Background(), "in.mp4", dest)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dest, library.ManifestFile), mpd)

	for _, r := range Renditions {
		assert.NoFileExists(t, filepath.Join(dest, r.File()))
	}
	assert.FileExists(t, filepath.Join(dest, AudioFile))
	assert.FileExists(t, filepath.Join(dest, library.ThumbnailFile))
}

func TestTranscodeThumbnailFailureIsTolerated(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "clip")
	runner := &fakeRunner{fail: outputIs(library.ThumbnailFile)}

	_, err := New("ffmpeg", runner).Transcode(context.Background(), "in.mp4", dest)
	require.NoError(t, err)
	assert.Len(t, runner.commands(), 7)
	assert.NoFileExists(t, filepath.Join(dest, library.ThumbnailFile))
}

func TestTranscodeStopsOnRequiredFailure(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "clip")
	runner := &fakeRunner{fail: outputIs("video_480p_dash.mp4")}

	_, err := New("ffmpeg", runner).Transcode(context.Background(), "in.mp4", dest)

	var cerr *CommandError
	require.True(t, errors.As(err, &cerr))
	assert.Contains(t, cerr.Error(), "STDERR: boom")
	assert.Len(t, runner.commands(), 3)
}

type fakePublisher struct {
	mu  sync.Mutex
	ids []string
}

func (p *fakePublisher) Publish(_ context.Context, id, _ string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ids = append(p.ids, id)
	return 2, nil
}

func newPoolFixture(t *testing.T, runner Runner, pub Publisher) (*Pool, *library.Library, chan string) {
	t.Helper()
	lib, err := library.New(filepath.Join(t.TempDir(), "videos"))
	require.NoError(t, err)

	changed := make(chan string, 4)
	pool := NewPool(PoolConfig{
		Workers:   2,
		Library:   lib,
		Encoder:   New("ffmpeg", runner),
		Publisher: pub,
		OnChange:  func(id string) { changed <- id },
	})
	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	t.Cleanup(func() {
		pool.Close()
		cancel()
	})
	return pool, lib, changed
}

func waitChange(t *testing.T, changed chan string) string {
	t.Helper()
	select {
	case id := <-changed:
		return id
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for job")
		return ""
	}
}

func TestPoolSuccess(t *testing.T) {
	pub := &fakePublisher{}
	pool, lib, changed := newPoolFixture(t, &fakeRunner{}, pub)

	require.NoError(t, lib.Create("clip"))
	require.NoError(t, pool.Enqueue(Job{ID: "clip", Input: "uploads/clip.mp4", OriginalName: "clip.mp4"}))

	assert.Equal(t, "clip", waitChange(t, changed))
	assert.False(t, lib.IsProcessing("clip"))
	assert.True(t, lib.IsReady("clip"))

	meta, err := lib.ReadMeta("clip")
	require.NoError(t, err)
	assert.Equal(t, "clip.mp4", meta[library.MetaOriginalName])
	assert.Equal(t, library.ManifestFile, meta[library.MetaManifest])
	assert.Equal(t, []string{"clip"}, pub.ids)
}

func TestPoolFailureRemovesVideo(t *testing.T) {
	pool, lib, changed := newPoolFixture(t, &fakeRunner{fail: outputIs(library.ManifestFile)}, nil)

	require.NoError(t, lib.Create("clip"))
	require.NoError(t, pool.Enqueue(Job{ID: "clip", Input: "in.mp4"}))

	assert.Equal(t, "clip", waitChange(t, changed))
	assert.False(t, lib.Exists("clip"))
}

func TestPoolChecksumMismatchRemovesVideo(t *testing.T) {
	runner := &fakeRunner{}
	pool, lib, changed := newPoolFixture(t, runner, nil)

	input := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(input, []byte("abc"), 0o644))
	require.NoError(t, lib.Create("clip"))
	require.NoError(t, pool.Enqueue(Job{ID: "clip", Input: input, Checksum: strings.Repeat("0", 64)}))

	assert.Equal(t, "clip", waitChange(t, changed))
	assert.False(t, lib.Exists("clip"))
	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Empty(t, runner.cmds)
}

func TestVerify(t *testing.T) {
	input := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(input, []byte("abc"), 0o644))

	abc := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	assert.NoError(t, verify(Job{Input: input, Checksum: abc}))
	assert.NoError(t, verify(Job{Input: "missing"}))
	assert.ErrorIs(t, verify(Job{Input: input, Checksum: "00"}), ErrChecksum)
	assert.Error(t, verify(Job{Input: filepath.Join(t.TempDir(), "missing"), Checksum: abc}))
}

// blockingRunner holds every command until its context ends.
type blockingRunner struct {
	started chan struct{}
}

func (r *blockingRunner) Run(ctx context.Context, _ Command) error {
	select {
	case r.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return ctx.Err()
}

func pendingUpload(t *testing.T, lib *library.Library, id string) Job {
	t.Helper()
	input := filepath.Join(t.TempDir(), id+".mp4")
	require.NoError(t, os.WriteFile(input, []byte(id), 0o644))
	require.NoError(t, lib.Create(id))
	require.NoError(t, lib.WriteMeta(id, library.Meta{
		library.MetaOriginalName: id + ".mp4",
		library.MetaUpload:       input,
	}))
	return Job{ID: id, Input: input, OriginalName: id + ".mp4"}
}

func TestPoolShutdownLeavesJobsResumable(t *testing.T) {
	lib, err := library.New(filepath.Join(t.TempDir(), "videos"))
	require.NoError(t, err)

	runner := &blockingRunner{started: make(chan struct{}, 1)}
	ctx, cancel := context.WithCancel(context.Background())
	pool := NewPool(PoolConfig{Workers: 1, Library: lib, Encoder: New("ffmpeg", runner)})
	pool.Start(ctx)

	require.NoError(t, pool.Enqueue(pendingUpload(t, lib, "a")))
	require.NoError(t, pool.Enqueue(pendingUpload(t, lib, "b")))
	select {
	case <-runner.started:
	case <-time.After(5 * time.Second):
		t.Fatal("transcode never started")
	}
	cancel()
	pool.Close()

	for _, id := range []string{"a", "b"} {
		assert.True(t, lib.Exists(id), id)
		assert.True(t, lib.IsProcessing(id), id)
	}

	changed := make(chan string, 4)
	next := NewPool(PoolConfig{
		Workers:  1,
		Library:  lib,
		Encoder:  New("ffmpeg", &fakeRunner{}),
		OnChange: func(id string) { changed <- id },
	})
	nextCtx, nextCancel := context.WithCancel(context.Background())
	next.Start(nextCtx)
	t.Cleanup(func() {
		next.Close()
		nextCancel()
	})

	n, err := next.Resume()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []string{"a", "b"}, []string{waitChange(t, changed), waitChange(t, changed)})
	for _, id := range []string{"a", "b"} {
		assert.True(t, lib.IsReady(id), id)
	}
}

func TestResumeReleasesMissingUploads(t *testing.T) {
	pool, lib, changed := newPoolFixture(t, &fakeRunner{}, nil)

	job := pendingUpload(t, lib, "gone")
	require.NoError(t, os.Remove(job.Input))
	require.NoError(t, lib.Create("nometa"))

	n, err := pool.Resume()
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.ElementsMatch(t, []string{"gone", "nometa"}, []string{waitChange(t, changed), waitChange(t, changed)})
	assert.False(t, lib.Exists("gone"))
	assert.False(t, lib.Exists("nometa"))
}

func TestPoolRejectsAfterClose(t *testing.T) {
	pool := NewPool(PoolConfig{})
	pool.Close()
	assert.ErrorIs(t, pool.Enqueue(Job{ID: "x"}), ErrClosed)
}

func TestPoolQueueFull(t *testing.T) {
	pool := NewPool(PoolConfig{QueueSize: 1})
	require.NoError(t, pool.Enqueue(Job{ID: "a"}))
	assert.ErrorIs(t, pool.Enqueue(Job{ID: "b"}), ErrQueueFull)
}

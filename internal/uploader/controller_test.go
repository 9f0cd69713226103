package uploader

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SettleDelay = 5 * time.Millisecond
	return cfg
}

func run(t *testing.T, c *Controller) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

func wait(t *testing.T, done <-chan Outcome) (Outcome, bool) {
	t.Helper()
	select {
	case out, ok := <-done:
		return out, ok
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for outcome")
		return Outcome{}, false
	}
}

func TestControllerNoFileSelected(t *testing.T) {
	p := &page{}
	tr := &scripted{resp: &Response{StatusCode: 200, StatusText: "OK"}}
	c := New(p.elements("/upload"), tr, testConfig())
	run(t, c)

	done, err := c.Submit(context.Background())
	require.ErrorIs(t, err, ErrNoFile)
	assert.Nil(t, done)

	snap := p.snapshot()
	assert.Equal(t, []string{"Escolha um arquivo primeiro"}, snap.alerts)
	assert.Empty(t, snap.values)
	assert.False(t, snap.visible)
	assert.Empty(t, tr.sent())
}

func TestControllerTenMegabyteUpload(t *testing.T) {
	const size = 10 << 20
	p := &page{}
	p.selectFile(memFile{name: "clip.mp4", size: size})
	tr := &scripted{
		steps: [][2]int64{{0, size}, {size / 2, size}, {size, size}},
		resp:  &Response{StatusCode: 200, StatusText: "OK"},
	}
	c := New(p.elements("/upload"), tr, testConfig())
	run(t, c)

	done, err := c.Submit(context.Background())
	require.NoError(t, err)

	out, ok := wait(t, done)
	require.True(t, ok)
	assert.Equal(t, Succeeded, out.Phase)
	assert.NoError(t, out.Err)

	snap := p.snapshot()
	// Reset to 0, then the three progress events.
	assert.Equal(t, []int{0, 0, 50, 100}, snap.values)
	assert.Equal(t, "100%", snap.labels[len(snap.labels)-1])
	assert.Equal(t, 1, snap.markers)
	assert.False(t, snap.visible)
	assert.True(t, snap.cleared)
	assert.Empty(t, snap.alerts)

	reqs := tr.sent()
	require.Len(t, reqs, 1)
	assert.Equal(t, "POST", reqs[0].Method)
	assert.Equal(t, "/upload", reqs[0].URL)
	assert.Equal(t, "video", reqs[0].Field)
	assert.Equal(t, "clip.mp4", reqs[0].File.Name())
}

func TestControllerForcesCompletionWithoutProgress(t *testing.T) {
	p := &page{}
	p.selectFile(newMemFile("a.webm", []byte("data")))
	tr := &scripted{resp: &Response{StatusCode: 201, StatusText: "Created", URL: "/videos?uploaded=a"}}
	c := New(p.elements("/upload"), tr, testConfig())
	run(t, c)

	done, err := c.Submit(context.Background())
	require.NoError(t, err)
	out, _ := wait(t, done)

	assert.Equal(t, Succeeded, out.Phase)
	assert.Equal(t, "/videos?uploaded=a", out.URL)
	snap := p.snapshot()
	assert.Equal(t, []int{0, 100}, snap.values)
	assert.Equal(t, 1, snap.markers)
	assert.False(t, snap.visible)
	assert.True(t, snap.cleared)
}

func TestControllerServerRejection(t *testing.T) {
	p := &page{}
	p.selectFile(newMemFile("a.mp4", []byte("data")))
	tr := &scripted{
		steps: [][2]int64{{2, 4}},
		resp:  &Response{StatusCode: 500, StatusText: "Internal Server Error"},
	}
	c := New(p.elements("/upload"), tr, testConfig())
	run(t, c)

	done, err := c.Submit(context.Background())
	require.NoError(t, err)
	out, _ := wait(t, done)

	assert.Equal(t, Failed, out.Phase)
	var rejected *RejectedError
	require.True(t, errors.As(out.Err, &rejected))
	assert.Equal(t, 500, rejected.StatusCode)

	snap := p.snapshot()
	assert.Equal(t, []string{"Upload falhou: Internal Server Error"}, snap.alerts)
	assert.False(t, snap.visible)
	assert.Equal(t, 0, snap.markers)
	assert.False(t, snap.cleared)
}

func TestControllerNetworkError(t *testing.T) {
	p := &page{}
	p.selectFile(newMemFile("a.mp4", []byte("data")))
	tr := &scripted{err: errConnReset}
	c := New(p.elements("/upload"), tr, testConfig())
	run(t, c)

	done, err := c.Submit(context.Background())
	require.NoError(t, err)
	out, _ := wait(t, done)

	assert.Equal(t, Failed, out.Phase)
	assert.ErrorIs(t, out.Err, errConnReset)
	snap := p.snapshot()
	assert.Equal(t, []string{"Erro na requisição."}, snap.alerts)
	assert.False(t, snap.visible)
	assert.Equal(t, 0, snap.markers)
}

func TestControllerRepeatedSuccessKeepsOneMarker(t *testing.T) {
	p := &page{}
	tr := &scripted{resp: &Response{StatusCode: 200, StatusText: "OK"}}
	c := New(p.elements("/upload"), tr, testConfig())
	run(t, c)

	for i := 0; i < 2; i++ {
		p.selectFile(newMemFile("a.mp4", []byte("data")))
		done, err := c.Submit(context.Background())
		require.NoError(t, err)
		out, _ := wait(t, done)
		require.Equal(t, Succeeded, out.Phase)
	}

	snap := p.snapshot()
	assert.Equal(t, 1, snap.markers)
	assert.Equal(t, 1, snap.maxMarker)
}

func TestControllerRejectsSecondSubmitWhileInFlight(t *testing.T) {
	p := &page{}
	p.selectFile(newMemFile("a.mp4", []byte("data")))
	tr := &scripted{
		steps: [][2]int64{{1, 4}},
		resp:  &Response{StatusCode: 200, StatusText: "OK"},
		gate:  make(chan struct{}),
	}
	c := New(p.elements("/upload"), tr, testConfig())
	run(t, c)

	done, err := c.Submit(context.Background())
	require.NoError(t, err)

	_, err = c.Submit(context.Background())
	assert.ErrorIs(t, err, ErrInFlight)

	close(tr.gate)
	out, _ := wait(t, done)
	assert.Equal(t, Succeeded, out.Phase)
	assert.Len(t, tr.sent(), 1)
}

func TestControllerRedirectMode(t *testing.T) {
	p := &page{}
	p.selectFile(newMemFile("a.mp4", []byte("data")))
	tr := &scripted{
		steps: [][2]int64{{4, 4}},
		resp:  &Response{StatusCode: 200, StatusText: "OK"},
	}
	cfg := testConfig()
	cfg.Mode = Redirect
	c := New(p.elements("/upload"), tr, cfg)
	run(t, c)

	done, err := c.Submit(context.Background())
	require.NoError(t, err)
	out, _ := wait(t, done)

	assert.Equal(t, Succeeded, out.Phase)
	snap := p.snapshot()
	assert.Equal(t, []string{"/videos"}, snap.navigated)
	assert.Equal(t, 0, snap.markers)
}

func TestControllerWithoutFormIsInert(t *testing.T) {
	p := &page{}
	els := p.elements("/upload")
	els.Form = nil
	c := New(els, &scripted{}, testConfig())
	assert.False(t, c.Enabled())

	finished := make(chan struct{})
	go func() {
		c.Run(context.Background())
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("Run should return at once without a form")
	}

	_, err := c.Submit(context.Background())
	assert.ErrorIs(t, err, ErrNoForm)
	assert.Equal(t, snapshot{}, p.snapshot())
}

func TestControllerStopAbandonsAttempt(t *testing.T) {
	p := &page{}
	p.selectFile(newMemFile("a.mp4", []byte("data")))
	tr := &scripted{gate: make(chan struct{})}
	c := New(p.elements("/upload"), tr, testConfig())
	stop := run(t, c)

	done, err := c.Submit(context.Background())
	require.NoError(t, err)

	stop()
	_, ok := wait(t, done)
	assert.False(t, ok, "abandoned attempt closes without an outcome")

	_, err = c.Submit(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
}

func TestControllerWaitsSettleDelay(t *testing.T) {
	p := &page{}
	p.selectFile(newMemFile("a.mp4", []byte("data")))
	tr := &scripted{resp: &Response{StatusCode: 200, StatusText: "OK"}}
	cfg := testConfig()
	cfg.SettleDelay = 60 * time.Millisecond
	c := New(p.elements("/upload"), tr, cfg)
	run(t, c)

	start := time.Now()
	done, err := c.Submit(context.Background())
	require.NoError(t, err)
	wait(t, done)

	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestControllerOverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, _, err := r.FormFile("video"); err != nil {
			http.Error(w, "Bad Request", http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "movie.mkv")
	require.NoError(t, os.WriteFile(path, make([]byte, 64<<10), 0o644))

	p := &page{}
	in := &PathInput{Path: path}
	els := p.elements(srv.URL)
	els.File = in

	client := &http.Client{Transport: &http.Transport{}}
	defer client.CloseIdleConnections()
	tr := NewHTTPTransport(client)
	tr.ProgressInterval = 0

	c := New(els, tr, testConfig())
	run(t, c)

	done, err := c.Submit(context.Background())
	require.NoError(t, err)
	out, _ := wait(t, done)

	assert.Equal(t, Failed, out.Phase)
	snap := p.snapshot()
	assert.Equal(t, []string{"Upload falhou: Internal Server Error"}, snap.alerts)
	assert.False(t, snap.visible)
	assert.Equal(t, path, in.Path, "file stays selected after a failure")
}

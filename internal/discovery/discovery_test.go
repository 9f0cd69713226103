package discovery

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startResponder(t *testing.T, url string) string {
	t.Helper()
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- (&Responder{URL: url}).Serve(ctx, conn) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
	return conn.LocalAddr().String()
}

func TestFindRoundTrip(t *testing.T) {
	addr := startResponder(t, "http://192.168.1.20:5001/upload")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	found, err := Find(ctx, []string{addr})
	require.NoError(t, err)
	assert.Equal(t, "http://192.168.1.20:5001/upload", found)
}

func TestFindRewritesUnspecifiedHost(t *testing.T) {
	addr := startResponder(t, "http://0.0.0.0:5001/upload")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	found, err := Find(ctx, []string{addr})
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:5001/upload", found)
}

func TestFindTimesOut(t *testing.T) {
	// Nothing listens on a freshly released port.
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	addr := conn.LocalAddr().String()
	conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err = Find(ctx, []string{addr})
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
}

func TestFindWithoutTargets(t *testing.T) {
	_, err := Find(context.Background(), []string{"not a host:port:x"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResponderIgnoresOtherMessages(t *testing.T) {
	addr := startResponder(t, "http://127.0.0.1:5001/upload")

	conn, err := net.Dial("udp4", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("HELLO"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, err = conn.Read(make([]byte, 64))
	assert.Error(t, err)
}

func TestDefaultTargets(t *testing.T) {
	assert.Equal(t, []string{"255.255.255.255:9999", "127.0.0.1:9999"}, DefaultTargets(9999))
}

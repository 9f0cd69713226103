// Package discovery lets clients on the LAN find the upload endpoint over
// UDP: a client sends the discovery message and the server answers with its
// upload URL.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"gopher-vod/internal/logger"
	"gopher-vod/internal/protocol"
)

var ErrNotFound = errors.New("discovery: no server answered")

// Responder answers discovery probes with a fixed URL.
type Responder struct {
	URL string
}

// Listen binds the discovery port on all IPv4 interfaces and serves until
// ctx is done.
func (r *Responder) Listen(ctx context.Context, port int) error {
	conn, err := net.ListenPacket("udp4", net.JoinHostPort("0.0.0.0", strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("bind discovery port %d: %w", port, err)
	}
	logger.Info().Int("port", port).Str("url", r.URL).Msg("discovery listening")
	return r.Serve(ctx, conn)
}

// Serve answers probes arriving on conn until ctx is done. conn is closed on
// return.
func (r *Responder) Serve(ctx context.Context, conn net.PacketConn) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	buf := make([]byte, 1024)
	for {
		n, remote, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			logger.Warn().Err(err).Msg("discovery read failed")
			continue
		}
		if string(buf[:n]) != protocol.DiscoveryMsg {
			continue
		}
		logger.Debug().Str("from", remote.String()).Msg("discovery request")
		if _, err := conn.WriteTo([]byte(r.URL), remote); err != nil {
			logger.Warn().Err(err).Str("to", remote.String()).Msg("discovery reply failed")
		}
	}
}

// DefaultTargets are the probe destinations used by the client: the IPv4
// broadcast address, then loopback for when broadcast is not permitted.
func DefaultTargets(port int) []string {
	p := strconv.Itoa(port)
	return []string{
		net.JoinHostPort("255.255.255.255", p),
		net.JoinHostPort("127.0.0.1", p),
	}
}

// Find probes every target and returns the first URL announced. A URL whose
// host is unspecified is rewritten to the address the answer came from.
func Find(ctx context.Context, targets []string) (string, error) {
	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return "", fmt.Errorf("listen for discovery replies: %w", err)
	}
	defer conn.Close()

	sent := 0
	for _, t := range targets {
		addr, err := net.ResolveUDPAddr("udp4", t)
		if err != nil {
			logger.Debug().Err(err).Str("target", t).Msg("skipping discovery target")
			continue
		}
		if _, err := conn.WriteTo([]byte(protocol.DiscoveryMsg), addr); err != nil {
			logger.Debug().Err(err).Str("target", t).Msg("discovery probe failed")
			continue
		}
		sent++
	}
	if sent == 0 {
		return "", ErrNotFound
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(5 * time.Second)
	}
	conn.SetReadDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { conn.SetReadDeadline(time.Now()) })
	defer stop()

	buf := make([]byte, 1024)
	n, remote, err := conn.ReadFrom(buf)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotFound, err)
	}

	found := resolveHost(string(buf[:n]), remote)
	logger.Info().Str("url", found).Str("from", remote.String()).Msg("found server")
	return found, nil
}

func resolveHost(announced string, from net.Addr) string {
	u, err := url.Parse(announced)
	if err != nil || u.Host == "" {
		return announced
	}
	ip := net.ParseIP(u.Hostname())
	if ip == nil || !ip.IsUnspecified() {
		return announced
	}
	udp, ok := from.(*net.UDPAddr)
	if !ok {
		return announced
	}
	u.Host = net.JoinHostPort(udp.IP.String(), u.Port())
	return u.String()
}

// LocalIP returns the first non-loopback IPv4 address of the host.
func LocalIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, address := range addrs {
		if ipnet, ok := address.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
			if ipnet.IP.To4() != nil {
				return ipnet.IP.String()
			}
		}
	}
	return ""
}

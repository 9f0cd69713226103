package ui

import (
	"context"
	"fmt"
	"io"
	"net/url"

	"github.com/gorilla/websocket"

	"gopher-vod/internal/protocol"
)

// FeedURL derives the status feed URL of video id from the upload URL.
func FeedURL(uploadURL, id string) (string, error) {
	u, err := url.Parse(uploadURL)
	if err != nil {
		return "", fmt.Errorf("parse upload url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = protocol.RouteFeed + "/" + url.PathEscape(id)
	u.RawQuery = ""
	return u.String(), nil
}

// Follow prints status changes from the feed until the video leaves the
// processing state, and returns the last status seen.
func Follow(ctx context.Context, dialer *websocket.Dialer, feedURL string, w io.Writer) (protocol.VideoStatus, error) {
	var last protocol.VideoStatus

	conn, _, err := dialer.DialContext(ctx, feedURL, nil)
	if err != nil {
		return last, fmt.Errorf("dial status feed: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	printed := false
	for {
		var st protocol.VideoStatus
		if err := conn.ReadJSON(&st); err != nil {
			if ctx.Err() != nil {
				return last, ctx.Err()
			}
			return last, fmt.Errorf("read status feed: %w", err)
		}
		last = st

		switch {
		case st.IsProcessing:
			if !printed {
				fmt.Fprintf(w, "⏳ %s: transcoding...\n", st.ID)
				printed = true
			}
		case st.IsReady:
			fmt.Fprintf(w, "✅ %s: ready\n", st.ID)
		case st.Exists:
			fmt.Fprintf(w, "⚠️  %s: not playable\n", st.ID)
		default:
			fmt.Fprintf(w, "❌ %s: transcoding failed\n", st.ID)
		}

		if st.Terminal() {
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return st, nil
		}
	}
}

package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"tsubuyaki/internal/model"
)

// Watch dials the server's /ws endpoint and calls fn for every event
// until ctx is done or the connection drops.
func (c *Client) Watch(ctx context.Context, fn func(model.Event)) error {
	wsURL := c.BaseURL + "/ws"
	switch {
	case strings.HasPrefix(wsURL, "https://"):
		wsURL = "wss://" + strings.TrimPrefix(wsURL, "https://")
	case strings.HasPrefix(wsURL, "http://"):
		wsURL = "ws://" + strings.TrimPrefix(wsURL, "http://")
	}

	// Origin はサーバーの ALLOWED_ORIGINS に合わせる
	header := http.Header{}
	header.Set("Origin", c.BaseURL)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", ErrTransport, wsURL, err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		var ev model.Event
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: read event: %v", ErrTransport, err)
		}
		fn(ev)
	}
}

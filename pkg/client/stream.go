package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
)

// FollowLogs streams the agent's log tail over a websocket and calls fn
// with every frame. It returns nil when the server closes the stream
// normally, ctx.Err() when ctx ends, or the first error from fn.
func (c *Client) FollowLogs(ctx context.Context, id string, fn func(Logs) error) error {
	u, err := url.Parse(c.endpoint("/agents/"+url.PathEscape(id)+"/logs/stream", nil))
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	dialer := websocket.Dialer{HandshakeTimeout: c.client.Timeout}
	if t, ok := c.client.Transport.(*http.Transport); ok {
		dialer.TLSClientConfig = t.TLSClientConfig
	}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(http.StatusText(resp.StatusCode))}
		}
		return fmt.Errorf("dial log stream: %w", err)
	}
	defer func() { _ = conn.Close() }()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		var frame Logs
		if err := conn.ReadJSON(&frame); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var ce *websocket.CloseError
			if errors.As(err, &ce) && ce.Code == websocket.CloseNormalClosure {
				return nil
			}
			return fmt.Errorf("read log stream: %w", err)
		}
		if err := fn(frame); err != nil {
			return err
		}
	}
}

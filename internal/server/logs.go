package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/loykin/agentdeck/internal/logs"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     sameOrigin,
}

// sameOrigin allows requests without an Origin header and those whose
// Origin host matches the request host.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && u.Host == r.Host
}

// logsResp keeps the polled contract: logs is the joined text or
// NO_LOGS_FOUND.
type logsResp struct {
	Logs   string      `json:"logs"`
	Source logs.Source `json:"source"`
}

func toLogsResp(t logs.Tail) logsResp {
	return logsResp{Logs: t.Text(), Source: t.Source}
}

func (r *Router) handleLogs(c *gin.Context) {
	tail, err := r.console.TailLog(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toLogsResp(tail))
}

// handleLogStream pushes a logsResp frame whenever the tail changes. The
// client only needs to read; closing the socket ends the stream.
func (r *Router) handleLogStream(c *gin.Context) {
	id := c.Param("id")
	if _, err := r.console.GetAgent(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Reader: handles pongs and notices the client going away.
	go func() {
		defer cancel()
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	frames := make(chan []byte, 1)
	followErr := make(chan error, 1)
	go func() {
		followErr <- r.console.FollowLog(ctx, id, r.streamInterval, func(t logs.Tail) error {
			b, err := json.Marshal(toLogsResp(t))
			if err != nil {
				return err
			}
			select {
			case frames <- b:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		})
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case b := <-frames:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case err := <-followErr:
			if err != nil && ctx.Err() == nil {
				r.logger.Debug("log stream ended", "agent", id, "err", err)
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

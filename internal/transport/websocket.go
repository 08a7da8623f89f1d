// Package transport binds the session package's Conn interface to a
// concrete duplex channel. The reference binding is a WebSocket
// upgrade handler, following the teacher's own wsClient (gorilla/websocket,
// a connection-owned mutex to serialize concurrent writes).
package transport

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/askid/voiceauth/internal/session"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsConn adapts a gorilla/websocket connection to session.Conn: JSON
// text frames decode as control Messages, binary frames pass through
// as raw audio blobs (§6).
type wsConn struct {
	conn *websocket.Conn
	mu   sendLock
}

// sendLock serializes concurrent writes to the underlying socket,
// mirroring the teacher's wsClient mutex.
type sendLock struct{ ch chan struct{} }

func newSendLock() sendLock {
	l := sendLock{ch: make(chan struct{}, 1)}
	l.ch <- struct{}{}
	return l
}

func (l sendLock) lock()   { <-l.ch }
func (l sendLock) unlock() { l.ch <- struct{}{} }

func newWSConn(c *websocket.Conn) *wsConn {
	return &wsConn{conn: c, mu: newSendLock()}
}

func (c *wsConn) ReadFrame(ctx context.Context) (session.Frame, error) {
	type result struct {
		frame session.Frame
		err   error
	}
	done := make(chan result, 1)
	go func() {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			done <- result{err: err}
			return
		}
		switch kind {
		case websocket.BinaryMessage:
			done <- result{frame: session.Frame{Audio: data}}
		default:
			var msg session.Message
			if err := json.Unmarshal(data, &msg); err != nil {
				done <- result{err: err}
				return
			}
			done <- result{frame: session.Frame{Message: &msg}}
		}
	}()

	select {
	case <-ctx.Done():
		return session.Frame{}, ctx.Err()
	case r := <-done:
		return r.frame, r.err
	}
}

func (c *wsConn) Send(msg session.Message) error {
	c.mu.lock()
	defer c.mu.unlock()
	return c.conn.WriteJSON(msg)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

// Handler upgrades HTTP requests to WebSocket and hands each
// connection to rt.Serve for the lifetime of the session.
type Handler struct {
	Runtime *session.Runtime
}

// NewHandler returns an http.Handler that serves one voiceauth session
// per accepted WebSocket connection.
func NewHandler(rt *session.Runtime) *Handler {
	return &Handler{Runtime: rt}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("websocket upgrade failed", "error", err)
		return
	}
	conn := newWSConn(raw)
	if err := h.Runtime.Serve(r.Context(), conn); err != nil {
		log.Info("session ended", "error", err)
	}
}

package gateway

import (
	"encoding/json"
	"sync"

	"github.com/gofiber/contrib/websocket"
)

// wsConn wraps a WebSocket connection with a write mutex so the registry and
// the per-connection reader can write concurrently. It implements
// realtime.Conn.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn}
}

// WriteJSON marshals v and writes it as a single text frame.
func (w *wsConn) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame with the given code and reason, then closes the
// transport.
func (w *wsConn) Close(code int, reason string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	return w.conn.Close()
}

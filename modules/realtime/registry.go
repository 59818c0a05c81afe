package realtime

import (
	"log/slog"
	"sync"
	"time"

	domain "github.com/example/realtime-gateway/domain/realtime"
)

// Close codes used when the registry closes a connection.
const (
	// CloseSuperseded is sent to a connection replaced by a newer
	// connection for the same user.
	CloseSuperseded = 4001
	// CloseSendFailed is sent when a write error marked the connection dead.
	CloseSendFailed = 4002
)

// Conn is the write half of a live client transport. Implementations must
// serialize concurrent writes.
type Conn interface {
	WriteJSON(v any) error
	Close(code int, reason string) error
}

// client pairs a connection handle with the identity it was resolved to.
type client struct {
	connID      string
	identity    domain.Identity
	conn        Conn
	connectedAt time.Time
}

// Registry owns the user id -> live connection mapping and enforces a single
// active connection per user. A failed write is treated as proof of a dead
// connection and removes it.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*client // userID -> client
	logger  *slog.Logger
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]*client),
		logger:  slog.Default(),
	}
}

// Register stores the connection for the user. An existing connection for
// the same user is closed with a superseded close frame first.
func (r *Registry) Register(identity domain.Identity, connID string, conn Conn) {
	r.mu.Lock()
	old := r.clients[identity.UserID]
	r.clients[identity.UserID] = &client{
		connID:      connID,
		identity:    identity,
		conn:        conn,
		connectedAt: time.Now(),
	}
	r.mu.Unlock()

	if old != nil {
		_ = old.conn.Close(CloseSuperseded, "superseded")
		r.logger.Info("connection superseded", "userID", identity.UserID, "oldConnID", old.connID)
	}
}

// Release removes the mapping only if connID still owns it. It reports
// whether the caller should proceed with teardown: true when the entry was
// removed or was already gone (a failed write may have dropped it first),
// false when a different connection now owns the user. A superseded
// connection's teardown must not touch the state owned by its successor.
func (r *Registry) Release(userID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[userID]
	if !ok {
		return true
	}
	if c.connID != connID {
		return false
	}
	delete(r.clients, userID)
	return true
}

// Unregister removes the mapping for the user. Idempotent.
func (r *Registry) Unregister(userID string) {
	r.mu.Lock()
	delete(r.clients, userID)
	r.mu.Unlock()
}

// Connected reports whether the user has a live connection.
func (r *Registry) Connected(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.clients[userID]
	return ok
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Send delivers an event to the user's connection, best effort. A write
// failure unregisters the connection.
func (r *Registry) Send(userID string, ev Event) bool {
	r.mu.RLock()
	c, ok := r.clients[userID]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	if err := c.conn.WriteJSON(ev); err != nil {
		r.logger.Warn("send failed, dropping connection", "userID", userID, "error", err)
		r.drop(userID, c)
		return false
	}
	return true
}

// SendTo delivers an event to every listed user that has a live connection,
// except exclude. Returns the number of successful deliveries.
func (r *Registry) SendTo(userIDs []string, ev Event, exclude string) int {
	delivered := 0
	for _, userID := range userIDs {
		if userID == exclude {
			continue
		}
		if r.Send(userID, ev) {
			delivered++
		}
	}
	return delivered
}

// Broadcast delivers an event to every registered connection except exclude.
// Connections that fail the write are unregistered.
func (r *Registry) Broadcast(ev Event, exclude string) int {
	r.mu.RLock()
	targets := make([]string, 0, len(r.clients))
	for userID := range r.clients {
		if userID != exclude {
			targets = append(targets, userID)
		}
	}
	r.mu.RUnlock()

	return r.SendTo(targets, ev, exclude)
}

// drop removes the client if it is still the registered connection for the
// user, then closes the transport.
func (r *Registry) drop(userID string, c *client) {
	r.mu.Lock()
	if cur, ok := r.clients[userID]; ok && cur == c {
		delete(r.clients, userID)
	}
	r.mu.Unlock()
	_ = c.conn.Close(CloseSendFailed, "write failed")
}

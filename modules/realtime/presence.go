package realtime

import (
	"sync"

	domain "github.com/example/realtime-gateway/domain/realtime"
)

type typingKey struct {
	userID string
	roomID string
}

// PresenceTracker stores last-known presence and typing state and detects
// transitions. Broadcasts are edge-triggered: repeating the current value
// produces no network activity. State is not persisted across restarts.
type PresenceTracker struct {
	mu     sync.Mutex
	status map[string]domain.Status
	typing map[typingKey]bool
}

// NewPresenceTracker creates an empty tracker. Unknown users are offline and
// not typing.
func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{
		status: make(map[string]domain.Status),
		typing: make(map[typingKey]bool),
	}
}

// SetStatus records the user's presence and reports whether it changed.
func (p *PresenceTracker) SetStatus(userID string, status domain.Status) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	last, ok := p.status[userID]
	if !ok {
		last = domain.StatusOffline
	}
	if last == status {
		return false
	}
	p.status[userID] = status
	return true
}

// Status returns the user's last-known presence.
func (p *PresenceTracker) Status(userID string) domain.Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s, ok := p.status[userID]; ok {
		return s
	}
	return domain.StatusOffline
}

// SetTyping records the typing flag for (user, room) and reports whether it
// changed.
func (p *PresenceTracker) SetTyping(userID, roomID string, isTyping bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := typingKey{userID: userID, roomID: roomID}
	if p.typing[key] == isTyping {
		return false
	}
	if isTyping {
		p.typing[key] = true
	} else {
		delete(p.typing, key)
	}
	return true
}

// ClearTyping drops the typing record for (user, room), used when the user
// leaves the room.
func (p *PresenceTracker) ClearTyping(userID, roomID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.typing, typingKey{userID: userID, roomID: roomID})
}

// ClearUser drops all state for the user after the offline transition has
// been processed.
func (p *PresenceTracker) ClearUser(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.status, userID)
	for key := range p.typing {
		if key.userID == userID {
			delete(p.typing, key)
		}
	}
}

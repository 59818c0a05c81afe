package realtime

import "time"

// Status is a user's last-known presence state.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Identity is the resolved identity of a connection, fixed for its lifetime.
// Guest identities are minted per connection when no valid token is presented.
type Identity struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Guest    bool   `json:"guest"`
}

// Message is an inbound chat message after validation. The ID doubles as the
// idempotency key for the storage collaborator; the timestamp is assigned by
// the server on arrival.
type Message struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

package realtime

import (
	"errors"
	"os"
	"time"
	"unicode/utf8"

	domain "github.com/example/realtime-gateway/domain/realtime"
)

// Validation constants
const (
	MaxRoomIDLength  = 100
	MaxContentLength = 5000
)

// Validation errors
var (
	ErrRoomIDEmpty    = errors.New("room_id cannot be empty")
	ErrRoomIDTooLong  = errors.New("room_id exceeds maximum length")
	ErrContentEmpty   = errors.New("message content cannot be empty")
	ErrContentTooLong = errors.New("message exceeds maximum length")
	ErrContentInvalid = errors.New("message contains invalid characters")
	ErrNotRoomMember  = errors.New("sender is not a member of the room")
	ErrNotConnected   = errors.New("user has no live connection")
)

// Outbound event types.
const (
	EventConnected     = "connected"
	EventAuthenticated = "authenticated"
	EventJoined        = "joined"
	EventLeft          = "left"
	EventUserJoined    = "user_joined"
	EventUserLeft      = "user_left"
	EventMessage       = "message"
	EventMessageAck    = "message_ack"
	EventTyping        = "typing"
	EventUserStatus    = "user_status"
	EventPong          = "pong"
	EventError         = "error"
)

// Event is the envelope written to clients.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}

// StatusPayload carries a presence transition. RoomID is empty for the
// global-fallback broadcast.
type StatusPayload struct {
	RoomID    string        `json:"room_id,omitempty"`
	UserID    string        `json:"user_id"`
	Username  string        `json:"username"`
	Status    domain.Status `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
}

// TypingPayload carries a typing transition to room peers.
type TypingPayload struct {
	RoomID   string `json:"room_id"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	IsTyping bool   `json:"is_typing"`
}

// RoomEventPayload carries join/leave notifications to room peers.
type RoomEventPayload struct {
	RoomID    string    `json:"room_id"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Timestamp time.Time `json:"timestamp"`
}

// AckPayload confirms delivery of a message back to its sender. Persisted is
// false when the storage collaborator rejected the write after all retries;
// the message was still fanned out to connected peers.
type AckPayload struct {
	MessageID string    `json:"message_id"`
	RoomID    string    `json:"room_id"`
	Persisted bool      `json:"persisted"`
	Timestamp time.Time `json:"timestamp"`
}

// Config holds the engine's policy knobs.
type Config struct {
	// ImplicitJoin treats a message to an unjoined room as an automatic
	// join instead of an error.
	ImplicitJoin bool
	// GlobalPresence broadcasts presence transitions of roomless users to
	// every connection instead of dropping them.
	GlobalPresence bool
	// PersistTimeout bounds the whole persistence attempt, retries
	// included, so a slow storage service cannot stall a connection.
	PersistTimeout time.Duration
}

// LoadConfig reads engine configuration from the environment.
func LoadConfig() Config {
	return Config{
		ImplicitJoin:   os.Getenv("REALTIME_IMPLICIT_JOIN") != "false",
		GlobalPresence: os.Getenv("REALTIME_GLOBAL_PRESENCE") == "true",
		PersistTimeout: 10 * time.Second,
	}
}

// ValidateRoomID validates a room id.
func ValidateRoomID(roomID string) error {
	if roomID == "" {
		return ErrRoomIDEmpty
	}
	if len(roomID) > MaxRoomIDLength {
		return ErrRoomIDTooLong
	}
	return nil
}

// ValidateContent validates message content.
func ValidateContent(content string) error {
	if content == "" {
		return ErrContentEmpty
	}
	if len(content) > MaxContentLength {
		return ErrContentTooLong
	}
	if !utf8.ValidString(content) {
		return ErrContentInvalid
	}
	return nil
}

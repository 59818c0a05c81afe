package events

import (
	"time"

	"github.com/go-monolith/mono/pkg/helper"
)

// MessageRelayedEvent is emitted after a message has been fanned out to its
// room, whether or not persistence succeeded.
type MessageRelayedEvent struct {
	MessageID  string    `json:"message_id"`
	RoomID     string    `json:"room_id"`
	UserID     string    `json:"user_id"`
	Recipients int       `json:"recipients"`
	Persisted  bool      `json:"persisted"`
	Timestamp  time.Time `json:"timestamp"`
}

// PersistFailedEvent is emitted when the storage collaborator rejected a
// message after all retry attempts.
type PersistFailedEvent struct {
	MessageID string    `json:"message_id"`
	RoomID    string    `json:"room_id"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// PresenceChangedEvent is emitted on an online/offline transition.
type PresenceChangedEvent struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Status    string    `json:"status"`
	Rooms     int       `json:"rooms"`
	Timestamp time.Time `json:"timestamp"`
}

// RoomJoinedEvent is emitted when a user becomes a member of a room.
type RoomJoinedEvent struct {
	RoomID    string    `json:"room_id"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Implicit  bool      `json:"implicit"`
	Timestamp time.Time `json:"timestamp"`
}

// RoomLeftEvent is emitted when a user leaves a room, explicitly or at
// disconnect.
type RoomLeftEvent struct {
	RoomID    string    `json:"room_id"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Timestamp time.Time `json:"timestamp"`
}

// Event definitions for the realtime domain.
var (
	MessageRelayedV1 = helper.EventDefinition[MessageRelayedEvent](
		"realtime",
		"MessageRelayed",
		"v1",
	)

	PersistFailedV1 = helper.EventDefinition[PersistFailedEvent](
		"realtime",
		"PersistFailed",
		"v1",
	)

	PresenceChangedV1 = helper.EventDefinition[PresenceChangedEvent](
		"realtime",
		"PresenceChanged",
		"v1",
	)

	RoomJoinedV1 = helper.EventDefinition[RoomJoinedEvent](
		"realtime",
		"RoomJoined",
		"v1",
	)

	RoomLeftV1 = helper.EventDefinition[RoomLeftEvent](
		"realtime",
		"RoomLeft",
		"v1",
	)
)

package realtime

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	domain "github.com/example/realtime-gateway/domain/realtime"
)

// MessageStore is the external persistence collaborator. Implementations
// must treat a duplicate message id as a no-op success.
type MessageStore interface {
	SaveMessage(ctx context.Context, msg domain.Message) error
}

// RelayResult reports what the relay did with a message.
type RelayResult struct {
	Message    domain.Message
	Persisted  bool
	PersistErr error
	Delivered  int
	// AutoJoined is set when the sender was not a room member and the
	// implicit-join policy admitted the message.
	AutoJoined bool
}

// Relay validates inbound messages, persists them to the storage
// collaborator and fans them out to the sender's room peers. Fan-out
// proceeds even when persistence ultimately fails: availability is favored
// over strict durability, so a message can reach live peers yet be missing
// from history.
type Relay struct {
	rooms    *RoomIndex
	registry *Registry
	store    MessageStore
	config   Config
	logger   *slog.Logger
}

// NewRelay creates a relay over the shared registries.
func NewRelay(rooms *RoomIndex, registry *Registry, store MessageStore, config Config) *Relay {
	return &Relay{
		rooms:    rooms,
		registry: registry,
		store:    store,
		config:   config,
		logger:   slog.Default(),
	}
}

// Relay processes one inbound message from sender. A validation error is
// returned to the caller with no side effects. Persistence failure after
// retries is recorded in the result, not returned as an error.
func (r *Relay) Relay(ctx context.Context, sender domain.Identity, roomID, content, messageID string) (*RelayResult, error) {
	if err := ValidateRoomID(roomID); err != nil {
		return nil, err
	}
	if err := ValidateContent(content); err != nil {
		return nil, err
	}

	autoJoined := false
	if !r.rooms.IsMember(sender.UserID, roomID) {
		if !r.config.ImplicitJoin {
			return nil, ErrNotRoomMember
		}
		autoJoined = r.rooms.Join(sender.UserID, roomID)
	}

	// Client-supplied ids enable sender-side idempotent retry; mint one
	// otherwise.
	if messageID == "" {
		messageID = uuid.New().String()
	}

	msg := domain.Message{
		ID:        messageID,
		RoomID:    roomID,
		UserID:    sender.UserID,
		Username:  sender.Username,
		Content:   content,
		Timestamp: time.Now(),
	}

	// The storage call is the only blocking operation here; no registry
	// lock is held while it is in flight.
	persistCtx := ctx
	if r.config.PersistTimeout > 0 {
		var cancel context.CancelFunc
		persistCtx, cancel = context.WithTimeout(ctx, r.config.PersistTimeout)
		defer cancel()
	}
	persistErr := r.store.SaveMessage(persistCtx, msg)
	if persistErr != nil {
		r.logger.Warn("message not persisted, fanning out anyway",
			"messageID", msg.ID,
			"roomID", roomID,
			"error", persistErr)
	}

	// Recipient set is computed after the storage call returns.
	recipients := r.rooms.MembersOf(roomID)
	delivered := r.registry.SendTo(recipients, Event{Type: EventMessage, Payload: msg}, sender.UserID)

	return &RelayResult{
		Message:    msg,
		Persisted:  persistErr == nil,
		PersistErr: persistErr,
		Delivered:  delivered,
		AutoJoined: autoJoined,
	}, nil
}

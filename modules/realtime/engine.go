package realtime

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-monolith/mono"

	domain "github.com/example/realtime-gateway/domain/realtime"
	"github.com/example/realtime-gateway/events"
)

// Engine ties the connection registry, room membership index, presence
// tracker and message relay together. All operations are safe for concurrent
// use; each owner struct guards its own state and no lock is held across the
// persistence call.
type Engine struct {
	registry *Registry
	rooms    *RoomIndex
	presence *PresenceTracker
	relay    *Relay
	config   Config
	bus      mono.EventBus
	logger   *slog.Logger
}

// NewEngine creates an engine with empty registries.
func NewEngine(store MessageStore, config Config) *Engine {
	registry := NewRegistry()
	rooms := NewRoomIndex()
	return &Engine{
		registry: registry,
		rooms:    rooms,
		presence: NewPresenceTracker(),
		relay:    NewRelay(rooms, registry, store, config),
		config:   config,
		logger:   slog.Default(),
	}
}

// SetEventBus attaches the application event bus. Without one the engine
// works normally and just skips publishing.
func (e *Engine) SetEventBus(bus mono.EventBus) {
	e.bus = bus
}

// Connect registers the connection and broadcasts the online transition to
// rooms shared with the user. A prior connection for the same user is closed
// as superseded; its membership survives for the new connection.
func (e *Engine) Connect(identity domain.Identity, connID string, conn Conn) {
	e.registry.Register(identity, connID, conn)
	e.logger.Info("connection active",
		"userID", identity.UserID,
		"connID", connID,
		"guest", identity.Guest)

	if e.presence.SetStatus(identity.UserID, domain.StatusOnline) {
		e.broadcastStatus(identity, domain.StatusOnline, e.rooms.RoomsOf(identity.UserID))
	}
}

// Disconnect tears down all per-connection state: membership, presence and
// the registry entry. It is idempotent and safe to call from both the close
// and error paths; a superseded connection's teardown is a no-op because the
// user's state belongs to the successor.
func (e *Engine) Disconnect(identity domain.Identity, connID string) {
	if !e.registry.Release(identity.UserID, connID) {
		return
	}

	roomsLeft := e.rooms.LeaveAll(identity.UserID)
	for _, roomID := range roomsLeft {
		e.publishRoomLeft(identity, roomID)
	}

	if e.presence.SetStatus(identity.UserID, domain.StatusOffline) {
		e.broadcastStatus(identity, domain.StatusOffline, roomsLeft)
	}
	e.presence.ClearUser(identity.UserID)

	e.logger.Info("connection closed", "userID", identity.UserID, "connID", connID)
}

// Join adds the user to the room and notifies the other members. Re-joining
// is idempotent and notifies nobody.
func (e *Engine) Join(identity domain.Identity, roomID string) error {
	if err := ValidateRoomID(roomID); err != nil {
		return err
	}
	if !e.rooms.Join(identity.UserID, roomID) {
		return nil
	}

	payload := RoomEventPayload{
		RoomID:    roomID,
		UserID:    identity.UserID,
		Username:  identity.Username,
		Timestamp: time.Now(),
	}
	e.registry.SendTo(e.rooms.MembersOf(roomID), Event{Type: EventUserJoined, Payload: payload}, identity.UserID)

	e.publish(func() error {
		return events.RoomJoinedV1.Publish(e.bus, events.RoomJoinedEvent{
			RoomID:    roomID,
			UserID:    identity.UserID,
			Username:  identity.Username,
			Timestamp: payload.Timestamp,
		}, nil)
	})
	return nil
}

// Leave removes the user from the room and notifies the remaining members.
func (e *Engine) Leave(identity domain.Identity, roomID string) error {
	if err := ValidateRoomID(roomID); err != nil {
		return err
	}
	if !e.rooms.Leave(identity.UserID, roomID) {
		return nil
	}
	e.presence.ClearTyping(identity.UserID, roomID)

	e.registry.SendTo(e.rooms.MembersOf(roomID), Event{Type: EventUserLeft, Payload: RoomEventPayload{
		RoomID:    roomID,
		UserID:    identity.UserID,
		Username:  identity.Username,
		Timestamp: time.Now(),
	}}, identity.UserID)

	e.publishRoomLeft(identity, roomID)
	return nil
}

// Typing records a typing transition and broadcasts it to room peers.
// Repeating the current value emits nothing.
func (e *Engine) Typing(identity domain.Identity, roomID string, isTyping bool) error {
	if err := ValidateRoomID(roomID); err != nil {
		return err
	}
	if !e.rooms.IsMember(identity.UserID, roomID) {
		return ErrNotRoomMember
	}
	if !e.presence.SetTyping(identity.UserID, roomID, isTyping) {
		return nil
	}

	e.registry.SendTo(e.rooms.MembersOf(roomID), Event{Type: EventTyping, Payload: TypingPayload{
		RoomID:   roomID,
		UserID:   identity.UserID,
		Username: identity.Username,
		IsTyping: isTyping,
	}}, identity.UserID)
	return nil
}

// SendMessage relays one inbound message: validate, persist with retries,
// fan out to peers and ack the sender. The ack is sent regardless of whether
// any peer was connected, and carries Persisted=false when storage rejected
// the write after all retries.
func (e *Engine) SendMessage(ctx context.Context, sender domain.Identity, roomID, content, messageID string) (*RelayResult, error) {
	res, err := e.relay.Relay(ctx, sender, roomID, content, messageID)
	if err != nil {
		return nil, err
	}

	if res.AutoJoined {
		e.publish(func() error {
			return events.RoomJoinedV1.Publish(e.bus, events.RoomJoinedEvent{
				RoomID:    roomID,
				UserID:    sender.UserID,
				Username:  sender.Username,
				Implicit:  true,
				Timestamp: res.Message.Timestamp,
			}, nil)
		})
	}

	e.registry.Send(sender.UserID, Event{Type: EventMessageAck, Payload: AckPayload{
		MessageID: res.Message.ID,
		RoomID:    roomID,
		Persisted: res.Persisted,
		Timestamp: res.Message.Timestamp,
	}})

	e.publish(func() error {
		return events.MessageRelayedV1.Publish(e.bus, events.MessageRelayedEvent{
			MessageID:  res.Message.ID,
			RoomID:     roomID,
			UserID:     sender.UserID,
			Recipients: res.Delivered,
			Persisted:  res.Persisted,
			Timestamp:  res.Message.Timestamp,
		}, nil)
	})
	if res.PersistErr != nil {
		e.publish(func() error {
			return events.PersistFailedV1.Publish(e.bus, events.PersistFailedEvent{
				MessageID: res.Message.ID,
				RoomID:    roomID,
				Reason:    res.PersistErr.Error(),
				Timestamp: res.Message.Timestamp,
			}, nil)
		})
	}
	return res, nil
}

// Notify delivers an event to a specific connected user, for
// service-to-service use over the HTTP side channel.
func (e *Engine) Notify(recipientID, eventType string, data any) error {
	if !e.registry.Send(recipientID, Event{Type: eventType, Payload: data}) {
		return ErrNotConnected
	}
	return nil
}

// BroadcastEvent fans an event out globally, or to one room when roomID is
// set. Returns the number of deliveries.
func (e *Engine) BroadcastEvent(eventType string, data any, roomID string) int {
	ev := Event{Type: eventType, Payload: data}
	if roomID == "" {
		return e.registry.Broadcast(ev, "")
	}
	return e.registry.SendTo(e.rooms.MembersOf(roomID), ev, "")
}

// ConnectionCount returns the number of live connections.
func (e *Engine) ConnectionCount() int {
	return e.registry.Count()
}

// RoomCount returns the number of rooms with members.
func (e *Engine) RoomCount() int {
	return e.rooms.RoomCount()
}

// broadcastStatus emits the presence transition to every listed room,
// excluding the user. A user with no rooms falls back to a global broadcast
// when the policy allows it, otherwise the transition is emitted to nobody.
func (e *Engine) broadcastStatus(identity domain.Identity, status domain.Status, roomIDs []string) {
	now := time.Now()
	if len(roomIDs) == 0 {
		if e.config.GlobalPresence {
			e.registry.Broadcast(Event{Type: EventUserStatus, Payload: StatusPayload{
				UserID:    identity.UserID,
				Username:  identity.Username,
				Status:    status,
				Timestamp: now,
			}}, identity.UserID)
		}
	} else {
		for _, roomID := range roomIDs {
			e.registry.SendTo(e.rooms.MembersOf(roomID), Event{Type: EventUserStatus, Payload: StatusPayload{
				RoomID:    roomID,
				UserID:    identity.UserID,
				Username:  identity.Username,
				Status:    status,
				Timestamp: now,
			}}, identity.UserID)
		}
	}

	e.publish(func() error {
		return events.PresenceChangedV1.Publish(e.bus, events.PresenceChangedEvent{
			UserID:    identity.UserID,
			Username:  identity.Username,
			Status:    string(status),
			Rooms:     len(roomIDs),
			Timestamp: now,
		}, nil)
	})
}

func (e *Engine) publishRoomLeft(identity domain.Identity, roomID string) {
	e.publish(func() error {
		return events.RoomLeftV1.Publish(e.bus, events.RoomLeftEvent{
			RoomID:    roomID,
			UserID:    identity.UserID,
			Username:  identity.Username,
			Timestamp: time.Now(),
		}, nil)
	})
}

func (e *Engine) publish(fn func() error) {
	if e.bus == nil {
		return
	}
	if err := fn(); err != nil {
		e.logger.Warn("failed to publish event", "error", err)
	}
}

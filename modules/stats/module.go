package stats

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"

	"github.com/example/realtime-gateway/events"
)

// Module is an EventConsumerModule aggregating delivery counters from the
// realtime engine's bus events. Counters reset with the process; they back
// the /stats endpoint, not billing.
type Module struct {
	mu              sync.Mutex
	messagesRelayed uint64
	persistFailures uint64
	roomJoins       uint64
	roomLeaves      uint64
	presenceChanges uint64
}

// Compile-time interface checks.
var _ mono.Module = (*Module)(nil)
var _ mono.EventConsumerModule = (*Module)(nil)
var _ mono.HealthCheckableModule = (*Module)(nil)

// NewModule creates the stats module.
func NewModule() *Module {
	return &Module{}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "stats"
}

// Start initializes the module.
func (m *Module) Start(_ context.Context) error {
	log.Println("[stats] Module started")
	return nil
}

// Stop shuts down the module.
func (m *Module) Stop(_ context.Context) error {
	m.mu.Lock()
	relayed := m.messagesRelayed
	m.mu.Unlock()
	log.Printf("[stats] Module stopped - %d messages relayed", relayed)
	return nil
}

// Health returns the health status.
func (m *Module) Health(_ context.Context) mono.HealthStatus {
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: m.Snapshot(),
	}
}

// RegisterEventConsumers registers event handlers.
func (m *Module) RegisterEventConsumers(registry mono.EventRegistry) error {
	if err := helper.RegisterTypedEventConsumer(
		registry, events.MessageRelayedV1, m.handleMessageRelayed, m,
	); err != nil {
		return fmt.Errorf("failed to register MessageRelayed consumer: %w", err)
	}
	if err := helper.RegisterTypedEventConsumer(
		registry, events.PersistFailedV1, m.handlePersistFailed, m,
	); err != nil {
		return fmt.Errorf("failed to register PersistFailed consumer: %w", err)
	}
	if err := helper.RegisterTypedEventConsumer(
		registry, events.PresenceChangedV1, m.handlePresenceChanged, m,
	); err != nil {
		return fmt.Errorf("failed to register PresenceChanged consumer: %w", err)
	}
	if err := helper.RegisterTypedEventConsumer(
		registry, events.RoomJoinedV1, m.handleRoomJoined, m,
	); err != nil {
		return fmt.Errorf("failed to register RoomJoined consumer: %w", err)
	}
	if err := helper.RegisterTypedEventConsumer(
		registry, events.RoomLeftV1, m.handleRoomLeft, m,
	); err != nil {
		return fmt.Errorf("failed to register RoomLeft consumer: %w", err)
	}

	log.Println("[stats] Registered event consumers")
	return nil
}

func (m *Module) handleMessageRelayed(_ context.Context, _ events.MessageRelayedEvent, _ *mono.Msg) error {
	m.mu.Lock()
	m.messagesRelayed++
	m.mu.Unlock()
	return nil
}

func (m *Module) handlePersistFailed(_ context.Context, event events.PersistFailedEvent, _ *mono.Msg) error {
	m.mu.Lock()
	m.persistFailures++
	m.mu.Unlock()
	log.Printf("[stats] persistence failure recorded for message %s: %s", event.MessageID, event.Reason)
	return nil
}

func (m *Module) handlePresenceChanged(_ context.Context, _ events.PresenceChangedEvent, _ *mono.Msg) error {
	m.mu.Lock()
	m.presenceChanges++
	m.mu.Unlock()
	return nil
}

func (m *Module) handleRoomJoined(_ context.Context, _ events.RoomJoinedEvent, _ *mono.Msg) error {
	m.mu.Lock()
	m.roomJoins++
	m.mu.Unlock()
	return nil
}

func (m *Module) handleRoomLeft(_ context.Context, _ events.RoomLeftEvent, _ *mono.Msg) error {
	m.mu.Lock()
	m.roomLeaves++
	m.mu.Unlock()
	return nil
}

// Snapshot returns the current counter values.
func (m *Module) Snapshot() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[string]any{
		"messages_relayed": m.messagesRelayed,
		"persist_failures": m.persistFailures,
		"room_joins":       m.roomJoins,
		"room_leaves":      m.roomLeaves,
		"presence_changes": m.presenceChanges,
	}
}

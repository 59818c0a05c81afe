package realtime

import (
	"context"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"

	"github.com/example/realtime-gateway/events"
)

// Module wraps the engine for the mono framework and declares the bus
// events it emits.
type Module struct {
	engine *Engine
	logger types.Logger
}

// Compile-time interface checks.
var _ mono.Module = (*Module)(nil)
var _ mono.EventBusAwareModule = (*Module)(nil)
var _ mono.EventEmitterModule = (*Module)(nil)
var _ mono.HealthCheckableModule = (*Module)(nil)

// NewModule creates the realtime module.
func NewModule(store MessageStore, config Config, logger types.Logger) *Module {
	return &Module{
		engine: NewEngine(store, config),
		logger: logger,
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "realtime"
}

// SetEventBus receives the EventBus from the framework.
func (m *Module) SetEventBus(bus mono.EventBus) {
	m.engine.SetEventBus(bus)
}

// EmitEvents declares the events this module can emit.
func (m *Module) EmitEvents() []mono.BaseEventDefinition {
	return []mono.BaseEventDefinition{
		events.MessageRelayedV1.ToBase(),
		events.PersistFailedV1.ToBase(),
		events.PresenceChangedV1.ToBase(),
		events.RoomJoinedV1.ToBase(),
		events.RoomLeftV1.ToBase(),
	}
}

// Start initializes the module.
func (m *Module) Start(_ context.Context) error {
	m.logger.Info("Realtime module started")
	return nil
}

// Stop shuts down the module.
func (m *Module) Stop(_ context.Context) error {
	m.logger.Info("Realtime module stopped", "connections", m.engine.ConnectionCount())
	return nil
}

// Health returns the health status.
func (m *Module) Health(_ context.Context) mono.HealthStatus {
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"connections": m.engine.ConnectionCount(),
			"rooms":       m.engine.RoomCount(),
		},
	}
}

// Engine returns the engine for the gateway module to drive.
func (m *Module) Engine() *Engine {
	return m.engine
}

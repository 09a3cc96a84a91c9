package service

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// ─────────────────────────────────────────────────────────────
// EventEmitter: run lifecycle notifications
// ─────────────────────────────────────────────────────────────

// Events emitted by RunService.
const (
	EventRunStarted   = "run:started"
	EventRunCompleted = "run:completed"
	EventRunFailed    = "run:failed"
	EventRunSkipped   = "run:skipped"
)

// EventEmitter receives run lifecycle events. The CLI logs them; the MCP
// server forwards them to the client as notifications.
type EventEmitter interface {
	Emit(ctx context.Context, event string, data any)
}

// LogEmitter writes every event to a zap logger at debug level.
type LogEmitter struct {
	Log *zap.Logger
}

func (e LogEmitter) Emit(_ context.Context, event string, data any) {
	if e.Log == nil {
		return
	}
	e.Log.Debug("event", zap.String("event", event), zap.Any("data", data))
}

// MockEmitter is a test-friendly EventEmitter that records all calls.
type MockEmitter struct {
	mu     sync.Mutex
	events []EmittedEvent
}

// EmittedEvent holds a single recorded emission for test assertions.
type EmittedEvent struct {
	Event string
	Data  any
}

func (m *MockEmitter) Emit(_ context.Context, event string, data any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, EmittedEvent{Event: event, Data: data})
}

// Events returns a copy of the recorded events.
func (m *MockEmitter) Events() []EmittedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]EmittedEvent(nil), m.events...)
}

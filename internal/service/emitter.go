package service

import (
	"context"
	"sync"
)

// ─────────────────────────────────────────────────────────────
// EventEmitter: the narrow notify contract towards the UI
// ─────────────────────────────────────────────────────────────

// Events emitted by WorkspaceService. The reconcile engine emits the
// page:conflict, page:remote-*, workspace:deleted and sync:error events
// through the same emitter.
const (
	EventWorkspaceChanged = "workspace:changed"
	EventPageChanged      = "page:changed"
	EventPresenceChanged  = "presence:changed"
)

// EventEmitter delivers events to whatever renders the workspace. Services
// receive this interface instead of a UI handle, which keeps them testable
// with MockEmitter.
type EventEmitter interface {
	Emit(ctx context.Context, event string, data any)
}

// NopEmitter drops every event. Headless commands use it.
type NopEmitter struct{}

func (NopEmitter) Emit(context.Context, string, any) {}

// MockEmitter records every call. Safe for concurrent use.
type MockEmitter struct {
	mu     sync.Mutex
	Events []EmittedEvent
}

// EmittedEvent holds a single recorded emission for test assertions.
type EmittedEvent struct {
	Event string
	Data  any
}

func (m *MockEmitter) Emit(_ context.Context, event string, data any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, EmittedEvent{Event: event, Data: data})
}

// Count returns how many times event was emitted.
func (m *MockEmitter) Count(event string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.Events {
		if e.Event == event {
			n++
		}
	}
	return n
}

// Last returns the payload of the most recent emission of event.
func (m *MockEmitter) Last(event string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.Events) - 1; i >= 0; i-- {
		if m.Events[i].Event == event {
			return m.Events[i].Data, true
		}
	}
	return nil, false
}

// Package realtime carries row-change events between collaborators. The
// reconciliation engine pulls events from a Subscription channel in the
// order the transport delivered them.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"

	"notespace/internal/domain"
)

type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

type Table string

const (
	TablePages      Table = "pages"
	TableWorkspaces Table = "workspaces"
)

// ErrSlowConsumer closes a subscription whose buffer filled up. The reader
// has missed events and must resync.
var ErrSlowConsumer = errors.New("subscriber fell behind")

// Event is one committed row change.
type Event struct {
	ID          string          `json:"id"`
	Operation   Operation       `json:"operation"`
	Table       Table           `json:"table"`
	WorkspaceID string          `json:"workspaceId"`
	RowID       string          `json:"rowId"`
	Row         json.RawMessage `json:"row,omitempty"`
	UpdatedBy   string          `json:"updatedBy"`
	UpdatedAt   int64           `json:"updatedAt"`
}

// PageEvent builds an event for a page row. Deletes carry no row body.
func PageEvent(op Operation, p domain.Page) (Event, error) {
	e := Event{
		ID:          ulid.Make().String(),
		Operation:   op,
		Table:       TablePages,
		WorkspaceID: p.WorkspaceID,
		RowID:       p.ID,
		UpdatedBy:   p.UpdatedBy,
		UpdatedAt:   p.UpdatedAt,
	}
	if op != OpDelete {
		row, err := json.Marshal(p)
		if err != nil {
			return Event{}, fmt.Errorf("encode page row: %w", err)
		}
		e.Row = row
	}
	return e, nil
}

// WorkspaceEvent builds an event for a workspace settings row.
func WorkspaceEvent(op Operation, ws domain.Workspace, actor string) (Event, error) {
	e := Event{
		ID:          ulid.Make().String(),
		Operation:   op,
		Table:       TableWorkspaces,
		WorkspaceID: ws.ID,
		RowID:       ws.ID,
		UpdatedBy:   actor,
		UpdatedAt:   ws.UpdatedAt,
	}
	if op != OpDelete {
		settings := ws
		settings.Pages = nil
		row, err := json.Marshal(settings)
		if err != nil {
			return Event{}, fmt.Errorf("encode workspace row: %w", err)
		}
		e.Row = row
	}
	return e, nil
}

func (e Event) Page() (domain.Page, error) {
	var p domain.Page
	if e.Table != TablePages || len(e.Row) == 0 {
		return p, fmt.Errorf("event %s carries no page row", e.ID)
	}
	if err := json.Unmarshal(e.Row, &p); err != nil {
		return p, fmt.Errorf("decode page row: %w", err)
	}
	return p, nil
}

func (e Event) Workspace() (domain.Workspace, error) {
	var ws domain.Workspace
	if e.Table != TableWorkspaces || len(e.Row) == 0 {
		return ws, fmt.Errorf("event %s carries no workspace row", e.ID)
	}
	if err := json.Unmarshal(e.Row, &ws); err != nil {
		return ws, fmt.Errorf("decode workspace row: %w", err)
	}
	return ws, nil
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, workspaceID string) (*Subscription, error)
}

// Subscription is a bounded, ordered stream of events for one workspace.
type Subscription struct {
	WorkspaceID string

	mu      sync.Mutex
	events  chan Event
	closed  bool
	err     error
	onClose func()
	done    chan struct{}
}

func newSubscription(workspaceID string, buffer int, onClose func()) *Subscription {
	if buffer <= 0 {
		buffer = 256
	}
	return &Subscription{
		WorkspaceID: workspaceID,
		events:      make(chan Event, buffer),
		onClose:     onClose,
		done:        make(chan struct{}),
	}
}

// Events is closed when the subscription ends; Err tells why.
func (s *Subscription) Events() <-chan Event { return s.events }

// Err is nil after a normal Close.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed together with the events channel.
func (s *Subscription) Done() <-chan struct{} { return s.done }

func (s *Subscription) Close() { s.fail(nil) }

// deliver enqueues e without blocking. It reports false when the buffer is
// full; the caller then ends the subscription with ErrSlowConsumer outside
// its own locks.
func (s *Subscription) deliver(e Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.events <- e:
		return true
	default:
		return false
	}
}

func (s *Subscription) fail(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.err = err
	close(s.events)
	close(s.done)
	onClose := s.onClose
	s.mu.Unlock()

	if onClose != nil {
		onClose()
	}
}

package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"notespace/internal/domain"
	"notespace/internal/storage"
)

const (
	EventApprovalRequired  = "mcp:approval-required"
	EventApprovalDismissed = "mcp:approval-dismissed"

	defaultApprovalTimeout = 120 * time.Second
	defaultApprovalPoll    = 500 * time.Millisecond
)

// ErrRejected is returned for actions the user turned down or never answered.
var ErrRejected = errors.New("action rejected")

// EventEmitter allows the approval queue to notify the host UI.
type EventEmitter interface {
	Emit(ctx context.Context, event string, data any)
}

// ApprovalBackend parks approvals where another process can settle them.
type ApprovalBackend interface {
	Request(ctx context.Context, a storage.Approval) error
	Status(ctx context.Context, id string) (storage.ApprovalStatus, error)
	Remove(ctx context.Context, id string) error
}

// PendingAction represents a destructive operation awaiting user approval.
type PendingAction struct {
	ID          string `json:"id"`
	Tool        string `json:"tool"`
	Description string `json:"description"`
	CreatedAt   string `json:"createdAt"`
	Metadata    string `json:"metadata"` // JSON with extra context (e.g. page IDs)
}

// ApprovalQueue holds destructive tool calls until a human decides.
// Without a backend, decisions arrive in-process through Approve and
// Reject; with one, the queue writes the request to the backend and polls
// it, so a second process (the CLI) can answer.
type ApprovalQueue struct {
	mu      sync.Mutex
	pending map[string]chan bool
	ctx     context.Context
	emitter EventEmitter
	log     zerolog.Logger
	timeout time.Duration
	poll    time.Duration
	backend ApprovalBackend
}

func NewApprovalQueue(ctx context.Context, emitter EventEmitter, log zerolog.Logger) *ApprovalQueue {
	return &ApprovalQueue{
		pending: make(map[string]chan bool),
		ctx:     ctx,
		emitter: emitter,
		log:     log.With().Str("component", "approval").Logger(),
		timeout: defaultApprovalTimeout,
		poll:    defaultApprovalPoll,
	}
}

func (q *ApprovalQueue) SetBackend(b ApprovalBackend) {
	q.backend = b
}

// SetTimeout bounds how long a request waits. Zero keeps the default.
func (q *ApprovalQueue) SetTimeout(d time.Duration) {
	if d > 0 {
		q.timeout = d
	}
}

// Request blocks until the action is approved, rejected or timed out.
// Anything but approval returns an error wrapping ErrRejected.
func (q *ApprovalQueue) Request(tool, description string, metadata ...string) error {
	id := uuid.New().String()
	meta := "{}"
	if len(metadata) > 0 && metadata[0] != "" {
		meta = metadata[0]
	}
	q.log.Info().Str("id", id).Str("tool", tool).Msg("approval requested")

	if q.backend != nil {
		return q.requestViaBackend(id, tool, description, meta)
	}
	return q.requestViaChannel(id, tool, description, meta)
}

func (q *ApprovalQueue) requestViaBackend(id, tool, description, metadata string) error {
	err := q.backend.Request(q.ctx, storage.Approval{
		ID:          id,
		Tool:        tool,
		Description: description,
		Metadata:    metadata,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := q.backend.Remove(context.Background(), id); err != nil {
			q.log.Warn().Err(err).Str("id", id).Msg("remove approval")
		}
	}()
	q.emitter.Emit(q.ctx, EventApprovalRequired, q.action(id, tool, description, metadata))

	deadline := time.NewTimer(q.timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(q.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			status, err := q.backend.Status(q.ctx, id)
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("%s: approval %s vanished: %w", tool, id, ErrRejected)
			}
			if err != nil {
				continue
			}
			switch status {
			case storage.ApprovalApproved:
				return nil
			case storage.ApprovalRejected:
				return fmt.Errorf("%s rejected by user: %w", tool, ErrRejected)
			}
		case <-deadline.C:
			return fmt.Errorf("%s timed out after %s: %w", tool, q.timeout, ErrRejected)
		case <-q.ctx.Done():
			return q.ctx.Err()
		}
	}
}

func (q *ApprovalQueue) requestViaChannel(id, tool, description, metadata string) error {
	ch := make(chan bool, 1)

	q.mu.Lock()
	q.pending[id] = ch
	q.mu.Unlock()
	defer q.cleanup(id)

	q.emitter.Emit(q.ctx, EventApprovalRequired, q.action(id, tool, description, metadata))

	select {
	case approved := <-ch:
		if !approved {
			return fmt.Errorf("%s rejected by user: %w", tool, ErrRejected)
		}
		return nil
	case <-time.After(q.timeout):
		q.emitter.Emit(q.ctx, EventApprovalDismissed, map[string]string{"id": id})
		return fmt.Errorf("%s timed out after %s: %w", tool, q.timeout, ErrRejected)
	case <-q.ctx.Done():
		return q.ctx.Err()
	}
}

func (q *ApprovalQueue) action(id, tool, description, metadata string) PendingAction {
	return PendingAction{
		ID:          id,
		Tool:        tool,
		Description: description,
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
		Metadata:    metadata,
	}
}

// Approve marks a pending in-process action as approved.
func (q *ApprovalQueue) Approve(actionID string) {
	q.resolve(actionID, true)
}

// Reject marks a pending in-process action as rejected.
func (q *ApprovalQueue) Reject(actionID string) {
	q.resolve(actionID, false)
}

func (q *ApprovalQueue) resolve(actionID string, approved bool) {
	q.mu.Lock()
	ch, ok := q.pending[actionID]
	q.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- approved:
	default:
	}
}

func (q *ApprovalQueue) cleanup(id string) {
	q.mu.Lock()
	delete(q.pending, id)
	q.mu.Unlock()
}

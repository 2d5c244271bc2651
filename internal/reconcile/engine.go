// Package reconcile keeps one open workspace in step with the remote store:
// it merges on open, pushes local edits, and applies remote changes.
package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"notespace/internal/debounce"
	"notespace/internal/domain"
	"notespace/internal/realtime"
	"notespace/internal/remote"
)

// PageState is where a page sits in the push cycle.
type PageState int

const (
	Clean PageState = iota
	LocallyModified
	Pushing
	Conflicted
)

func (s PageState) String() string {
	switch s {
	case Clean:
		return "clean"
	case LocallyModified:
		return "locally-modified"
	case Pushing:
		return "pushing"
	case Conflicted:
		return "conflicted"
	default:
		return "unknown"
	}
}

// Events emitted to the UI.
const (
	EventConflict         = "page:conflict"
	EventRemoteUpdate     = "page:remote-update"
	EventRemoteDelete     = "page:remote-delete"
	EventWorkspaceChanged = "workspace:changed"
	EventWorkspaceDeleted = "workspace:deleted"
	EventSyncError        = "sync:error"
)

const (
	DefaultDebounce   = 750 * time.Millisecond
	DefaultMaxBackoff = 30 * time.Second

	workspaceKey = "workspace"
	deletePrefix = "delete:"
)

// Emitter forwards notices to the UI.
type Emitter interface {
	Emit(ctx context.Context, event string, data any)
}

// Local owns the in-memory workspace. Apply runs fn against the current
// state, persists the result and returns it. The engine never holds its
// own lock while calling Local, so Apply may call back into the engine.
type Local interface {
	Snapshot() domain.Workspace
	Apply(ctx context.Context, fn func(domain.Workspace) domain.Workspace) (domain.Workspace, error)
}

// Clock stamps local changes and is advanced past every remote version seen.
type Clock interface {
	domain.Clock
	Observe(ts int64)
}

// Remote is the part of remote.Store the engine drives.
type Remote interface {
	GetWorkspace(ctx context.Context, id string) (domain.Workspace, error)
	UpdateWorkspace(ctx context.Context, actor string, ws domain.Workspace) error
	ListPages(ctx context.Context, workspaceID string) ([]domain.Page, error)
	GetPage(ctx context.Context, workspaceID, pageID string) (domain.Page, error)
	SavePage(ctx context.Context, workspaceID string, page domain.Page, expectedVersion *int64) remote.SaveResult
	DeletePage(ctx context.Context, workspaceID, pageID, actor string) error
}

type Deps struct {
	WorkspaceID string
	// Actor is the local user id. Events carrying it are our own echoes.
	Actor   string
	Remote  Remote
	Local   Local
	Events  realtime.Subscriber
	Emitter Emitter
	Clock   Clock
	Logger  zerolog.Logger

	Debounce   time.Duration
	MaxBackoff time.Duration
	// ResyncSchedule is a cron spec for the periodic full merge. Empty
	// disables it.
	ResyncSchedule string
}

type ConflictNotice struct {
	WorkspaceID string       `json:"workspaceId"`
	PageID      string       `json:"pageId"`
	Remote      *domain.Page `json:"remote,omitempty"`
}

type SyncErrorNotice struct {
	WorkspaceID string `json:"workspaceId"`
	PageID      string `json:"pageId,omitempty"`
	Op          string `json:"op"`
	Err         string `json:"error"`
	Retrying    bool   `json:"retrying"`
}

type RemoteChange struct {
	WorkspaceID string   `json:"workspaceId"`
	PageIDs     []string `json:"pageIds"`
}

// Engine reconciles one workspace. Create it with New, call Bootstrap and
// Start, and Close it when the workspace is closed.
type Engine struct {
	deps  Deps
	log   zerolog.Logger
	sched *debounce.Scheduler
	guard runningGuard

	mu       sync.Mutex
	states   map[string]PageState
	versions map[string]int64
	dirty    map[string]bool
	backoff  map[string]time.Duration
	closed   bool
	started  bool

	ctx    context.Context
	cancel context.CancelFunc
	cron   *cron.Cron
	wg     sync.WaitGroup
}

func New(deps Deps) *Engine {
	if deps.Debounce <= 0 {
		deps.Debounce = DefaultDebounce
	}
	if deps.MaxBackoff <= 0 {
		deps.MaxBackoff = DefaultMaxBackoff
	}
	if deps.Clock == nil {
		deps.Clock = domain.NewLogicalClock()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		deps:     deps,
		log:      deps.Logger.With().Str("component", "reconcile").Str("workspace", deps.WorkspaceID).Logger(),
		sched:    debounce.New(),
		states:   make(map[string]PageState),
		versions: make(map[string]int64),
		dirty:    make(map[string]bool),
		backoff:  make(map[string]time.Duration),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to the workspace's event stream and begins applying
// events in arrival order. The subscription lasts until Close.
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.closed || e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	e.mu.Unlock()

	if e.deps.Events != nil {
		sub, err := e.deps.Events.Subscribe(e.ctx, e.deps.WorkspaceID)
		if err != nil {
			return domain.Transport("subscribe "+e.deps.WorkspaceID, err)
		}
		e.wg.Add(1)
		go e.run(sub)
	}

	if e.deps.ResyncSchedule != "" {
		e.cron = cron.New()
		_, err := e.cron.AddFunc(e.deps.ResyncSchedule, func() {
			if err := e.Resync(e.ctx); err != nil {
				e.log.Warn().Err(err).Msg("periodic resync")
			}
		})
		if err != nil {
			e.log.Warn().Err(err).Str("spec", e.deps.ResyncSchedule).Msg("invalid resync schedule")
			e.cron = nil
		} else {
			e.cron.Start()
		}
	}
	return nil
}

func (e *Engine) run(sub *realtime.Subscription) {
	defer e.wg.Done()
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				if e.ctx.Err() != nil {
					return
				}
				e.log.Warn().Err(sub.Err()).Msg("subscription ended")
				e.syncError("", "subscribe", sub.Err(), true)
				if sub = e.resubscribe(); sub == nil {
					return
				}
				// Events may have been missed while the stream was down.
				if err := e.Resync(e.ctx); err != nil {
					e.log.Warn().Err(err).Msg("resync after resubscribe")
				}
				continue
			}
			if err := e.HandleEvent(e.ctx, ev); err != nil {
				e.log.Warn().Err(err).Str("event", ev.ID).Msg("apply event")
			}
		case <-e.ctx.Done():
			sub.Close()
			return
		}
	}
}

// resubscribe retries with doubling delays until it succeeds or the engine
// closes, in which case it returns nil.
func (e *Engine) resubscribe() *realtime.Subscription {
	delay := e.deps.Debounce
	for {
		select {
		case <-time.After(delay):
		case <-e.ctx.Done():
			return nil
		}
		sub, err := e.deps.Events.Subscribe(e.ctx, e.deps.WorkspaceID)
		if err == nil {
			e.log.Info().Msg("resubscribed")
			return sub
		}
		e.log.Warn().Err(err).Dur("retry_in", delay).Msg("resubscribe")
		delay = min(delay*2, e.deps.MaxBackoff)
	}
}

// State reports where pageID sits in the push cycle. Unknown pages are Clean.
func (e *Engine) State(pageID string) PageState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.states[pageID]
}

// Version is the last remote version seen for pageID.
func (e *Engine) Version(pageID string) (int64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.versions[pageID]
	return v, ok
}

// Flush runs every pending push now and waits for in-flight ones. Edits
// queued by pushes that were in flight get one more pass; retries scheduled
// by failures in that pass stay pending.
func (e *Engine) Flush(ctx context.Context) error {
	for pass := 0; pass < 2; pass++ {
		e.sched.Flush()
		if err := e.guard.WaitAll(ctx); err != nil {
			return err
		}
		if e.sched.Len() == 0 {
			break
		}
	}
	return nil
}

// Close flushes pending pushes, then stops everything. Results of remote
// calls that complete after Close are discarded.
func (e *Engine) Close(ctx context.Context) error {
	flushErr := e.Flush(ctx)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return flushErr
	}
	e.closed = true
	e.mu.Unlock()

	e.sched.Stop()
	if e.cron != nil {
		<-e.cron.Stop().Done()
	}
	e.cancel()
	if err := e.guard.WaitAll(ctx); err != nil && flushErr == nil {
		flushErr = err
	}
	e.wg.Wait()
	e.log.Debug().Msg("closed")
	return flushErr
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// pending reports a local edit that has not reached the remote yet.
func (e *Engine) pending(pageID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.states[pageID]
	return s == LocallyModified || s == Pushing
}

// forget drops all bookkeeping for pages that no longer exist locally.
func (e *Engine) forget(ids ...string) {
	for _, id := range ids {
		e.sched.Cancel(id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range ids {
		delete(e.states, id)
		delete(e.versions, id)
		delete(e.dirty, id)
		delete(e.backoff, id)
	}
}

// adopt records remote versions for pages now matching the remote.
func (e *Engine) adopt(pages []domain.Page) {
	var newest int64
	e.mu.Lock()
	for _, p := range pages {
		e.versions[p.ID] = p.UpdatedAt
		e.states[p.ID] = Clean
		newest = max(newest, p.UpdatedAt)
	}
	e.mu.Unlock()
	if newest > 0 {
		e.deps.Clock.Observe(newest)
	}
}

// nextBackoff doubles key's retry delay, starting at the debounce interval.
func (e *Engine) nextBackoff(key string) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	d := e.backoff[key]
	if d == 0 {
		d = e.deps.Debounce
	} else {
		d = min(d*2, e.deps.MaxBackoff)
	}
	e.backoff[key] = d
	return d
}

func (e *Engine) emit(event string, data any) {
	if e.deps.Emitter != nil {
		e.deps.Emitter.Emit(e.ctx, event, data)
	}
}

func (e *Engine) syncError(pageID, op string, err error, retrying bool) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	e.emit(EventSyncError, SyncErrorNotice{
		WorkspaceID: e.deps.WorkspaceID,
		PageID:      pageID,
		Op:          op,
		Err:         msg,
		Retrying:    retrying,
	})
}

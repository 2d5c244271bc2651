package app

import (
	"context"
	"sync"
	"time"

	"notespace/internal/domain"
	mcpserver "notespace/internal/mcp"
	"notespace/internal/storage"
)

// cacheWatcher polls the database for writes made by other processes (a
// second MCP server, the CLI): a replaced AppData cache and approvals
// waiting for a decision.
type cacheWatcher struct {
	app      *App
	interval time.Duration

	mu sync.Mutex
	// approvals already announced, so each is emitted once
	emittedApprovals map[string]bool
}

func newCacheWatcher(app *App) *cacheWatcher {
	return &cacheWatcher{app: app, interval: 2 * time.Second, emittedApprovals: map[string]bool{}}
}

// Run polls until ctx is done. A file-backed cache is watched through
// fsnotify instead of polled.
func (w *cacheWatcher) Run(ctx context.Context) {
	if w.app.file != nil {
		go func() {
			err := w.app.file.Watch(ctx, func(data domain.AppData) { w.adopt(ctx, data) })
			if err != nil {
				w.app.log.Warn().Err(err).Msg("watch local cache")
			}
		}()
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.check(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (w *cacheWatcher) check(ctx context.Context) {
	// ── AppData cache ───────────────────────────────────
	if st := w.app.appState; st != nil {
		data, changed, err := st.Poll(ctx)
		if err != nil {
			w.app.log.Warn().Err(err).Msg("poll local cache")
		} else if changed {
			w.adopt(ctx, data)
		}
	}

	// ── Pending MCP approvals (cross-process IPC) ───────
	pending, err := w.app.approvals.Pending(ctx)
	if err != nil {
		return
	}
	w.announce(ctx, pending)
}

func (w *cacheWatcher) adopt(ctx context.Context, data domain.AppData) {
	if err := w.app.ws.ReplaceData(ctx, data); err != nil {
		w.app.log.Warn().Err(err).Msg("adopt external cache")
	}
}

// announce emits approval-required once per pending approval and forgets
// the ones that were settled.
func (w *cacheWatcher) announce(ctx context.Context, pending []storage.Approval) {
	live := make(map[string]bool, len(pending))
	var fresh []storage.Approval

	w.mu.Lock()
	for _, a := range pending {
		live[a.ID] = true
		if !w.emittedApprovals[a.ID] {
			w.emittedApprovals[a.ID] = true
			fresh = append(fresh, a)
		}
	}
	for id := range w.emittedApprovals {
		if !live[id] {
			delete(w.emittedApprovals, id)
		}
	}
	w.mu.Unlock()

	for _, a := range fresh {
		w.app.emitter.Emit(ctx, mcpserver.EventApprovalRequired, mcpserver.PendingAction{
			ID:          a.ID,
			Tool:        a.Tool,
			Description: a.Description,
			CreatedAt:   a.CreatedAt.UTC().Format(time.RFC3339),
			Metadata:    a.Metadata,
		})
	}
}

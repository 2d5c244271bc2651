package reconcile

import (
	"errors"
	"time"

	"notespace/internal/domain"
	"notespace/internal/remote"
)

// Enqueue queues pageID for a debounced push. An edit landing while the page
// is being pushed is pushed again once that push finishes.
func (e *Engine) Enqueue(pageID string) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if e.states[pageID] == Pushing {
		e.dirty[pageID] = true
	} else {
		e.states[pageID] = LocallyModified
	}
	e.mu.Unlock()
	e.schedulePush(pageID, e.deps.Debounce)
}

func (e *Engine) schedulePush(pageID string, delay time.Duration) {
	e.sched.Schedule(pageID, delay, func() { e.push(pageID) })
}

func (e *Engine) push(pageID string) {
	if !e.guard.TryLock(pageID) {
		e.mu.Lock()
		e.dirty[pageID] = true
		e.mu.Unlock()
		return
	}
	defer e.guard.Unlock(pageID)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.states[pageID] = Pushing
	delete(e.dirty, pageID)
	version, known := e.versions[pageID]
	e.mu.Unlock()

	page, ok := e.deps.Local.Snapshot().Page(pageID)
	if !ok {
		// Deleted locally since it was queued; EnqueueDelete owns it now.
		e.forget(pageID)
		return
	}
	page.UpdatedBy = e.deps.Actor
	var expected *int64
	if known {
		expected = &version
	}

	res := e.deps.Remote.SavePage(e.ctx, e.deps.WorkspaceID, page, expected)
	if e.isClosed() {
		return
	}
	switch res.Outcome {
	case remote.Success:
		e.pushed(page, res.Version)
	case remote.Conflict:
		e.resolveConflict(pageID, res.Remote)
	default:
		e.pushFailed(pageID, res.Err)
	}
}

func (e *Engine) pushed(page domain.Page, version int64) {
	e.deps.Clock.Observe(version)
	e.mu.Lock()
	e.versions[page.ID] = version
	delete(e.backoff, page.ID)
	again := e.dirty[page.ID]
	if again {
		e.states[page.ID] = LocallyModified
	} else {
		e.states[page.ID] = Clean
	}
	e.mu.Unlock()

	// Stamp the stored version unless the page changed while in flight.
	_, err := e.deps.Local.Apply(e.ctx, func(ws domain.Workspace) domain.Workspace {
		cur, ok := ws.Page(page.ID)
		if !ok || !cur.SameContent(page) {
			return ws
		}
		cur.UpdatedAt = version
		cur.UpdatedBy = e.deps.Actor
		return ws.PutPage(cur)
	})
	if err != nil {
		e.log.Warn().Err(err).Str("page", page.ID).Msg("persist pushed version")
	}
	e.log.Debug().Str("page", page.ID).Int64("version", version).Msg("pushed")

	if again && !e.sched.Pending(page.ID) {
		e.schedulePush(page.ID, e.deps.Debounce)
	}
}

// resolveConflict replaces the local page with the remote one. A nil
// winner is confirmed with a fresh read; a page gone remotely is removed
// locally along with its descendants.
func (e *Engine) resolveConflict(pageID string, winner *domain.Page) {
	e.mu.Lock()
	e.states[pageID] = Conflicted
	delete(e.dirty, pageID)
	e.mu.Unlock()
	e.sched.Cancel(pageID)

	if winner == nil {
		p, err := e.deps.Remote.GetPage(e.ctx, e.deps.WorkspaceID, pageID)
		switch {
		case err == nil:
			winner = &p
		case !errors.Is(err, domain.ErrNotFound):
			e.pushFailed(pageID, err)
			return
		}
	}

	var removed []string
	_, err := e.deps.Local.Apply(e.ctx, func(ws domain.Workspace) domain.Workspace {
		if winner == nil {
			ws, removed = ws.DeletePage(e.deps.Clock, pageID)
			return ws
		}
		return ws.PutPage(winner.Clone())
	})
	if err != nil {
		e.log.Warn().Err(err).Str("page", pageID).Msg("persist conflict resolution")
	}

	if winner == nil {
		e.forget(removed...)
		e.forget(pageID)
	} else {
		e.adopt([]domain.Page{*winner})
	}
	e.mu.Lock()
	delete(e.backoff, pageID)
	e.mu.Unlock()

	e.log.Info().Str("page", pageID).Bool("deleted", winner == nil).Msg("conflict, remote wins")
	e.emit(EventConflict, ConflictNotice{WorkspaceID: e.deps.WorkspaceID, PageID: pageID, Remote: winner})
}

func retryable(err error) bool {
	return !errors.Is(err, domain.ErrForbidden) && !errors.Is(err, domain.ErrValidation)
}

func (e *Engine) pushFailed(pageID string, err error) {
	retry := retryable(err)
	e.mu.Lock()
	e.states[pageID] = LocallyModified
	e.mu.Unlock()

	e.log.Warn().Err(err).Str("page", pageID).Bool("retrying", retry).Msg("push failed")
	e.syncError(pageID, "save page", err, retry)
	if retry {
		e.schedulePush(pageID, e.nextBackoff(pageID))
	}
}

// EnqueueDelete sends the remote delete for each id right away. The local
// tombstone is cleared once the remote confirms.
func (e *Engine) EnqueueDelete(ids ...string) {
	if e.isClosed() {
		return
	}
	e.forget(ids...)
	for _, id := range ids {
		key := deletePrefix + id
		e.sched.Cancel(key)
		if !e.guard.TryLock(key) {
			continue
		}
		go func(id string) {
			defer e.guard.Unlock(deletePrefix + id)
			e.deleteRemote(id)
		}(id)
	}
}

func (e *Engine) retryDelete(id string) {
	key := deletePrefix + id
	if !e.guard.TryLock(key) {
		return
	}
	defer e.guard.Unlock(key)
	e.deleteRemote(id)
}

func (e *Engine) deleteRemote(id string) {
	err := e.deps.Remote.DeletePage(e.ctx, e.deps.WorkspaceID, id, e.deps.Actor)
	if e.isClosed() {
		return
	}
	key := deletePrefix + id
	if err == nil {
		e.mu.Lock()
		delete(e.backoff, key)
		e.mu.Unlock()
		if _, err := e.deps.Local.Apply(e.ctx, func(ws domain.Workspace) domain.Workspace {
			return ws.ClearDeleted(id)
		}); err != nil {
			e.log.Warn().Err(err).Str("page", id).Msg("persist cleared tombstone")
		}
		e.log.Debug().Str("page", id).Msg("deleted remotely")
		return
	}

	retry := retryable(err)
	e.log.Warn().Err(err).Str("page", id).Bool("retrying", retry).Msg("remote delete failed")
	e.syncError(id, "delete page", err, retry)
	if retry {
		e.sched.Schedule(key, e.nextBackoff(key), func() { e.retryDelete(id) })
	}
}

// EnqueueWorkspace queues a debounced push of the workspace settings:
// name, dark mode and page order. Settings are last-writer-wins.
func (e *Engine) EnqueueWorkspace() {
	if e.isClosed() {
		return
	}
	e.sched.Schedule(workspaceKey, e.deps.Debounce, e.pushWorkspace)
}

func (e *Engine) pushWorkspace() {
	if !e.guard.TryLock(workspaceKey) {
		e.sched.Schedule(workspaceKey, e.deps.Debounce, e.pushWorkspace)
		return
	}
	defer e.guard.Unlock(workspaceKey)
	if e.isClosed() {
		return
	}

	ws := e.deps.Local.Snapshot()
	err := e.deps.Remote.UpdateWorkspace(e.ctx, e.deps.Actor, ws)
	if e.isClosed() {
		return
	}
	if err == nil {
		e.mu.Lock()
		delete(e.backoff, workspaceKey)
		e.mu.Unlock()
		return
	}
	retry := retryable(err)
	e.log.Warn().Err(err).Bool("retrying", retry).Msg("workspace push failed")
	e.syncError("", "update workspace", err, retry)
	if retry {
		e.sched.Schedule(workspaceKey, e.nextBackoff(workspaceKey), e.pushWorkspace)
	}
}

package reconcile

import (
	"context"
	"fmt"

	"notespace/internal/domain"
	"notespace/internal/realtime"
)

// Bootstrap merges the remote workspace into the local one. Remote pages
// win. Local pages the remote has never seen are queued for push, pages
// it acknowledged before but no longer has are removed locally, and
// pages deleted locally stay deleted: their remote delete is re-sent, or
// the tombstone is dropped when the remote no longer has them.
//
// On a remote error the local workspace is returned unchanged with the
// error so the caller can keep working offline.
func (e *Engine) Bootstrap(ctx context.Context) (domain.Workspace, error) {
	remoteWs, err := e.deps.Remote.GetWorkspace(ctx, e.deps.WorkspaceID)
	if err != nil {
		return e.deps.Local.Snapshot(), fmt.Errorf("bootstrap: %w", err)
	}
	pages, err := e.deps.Remote.ListPages(ctx, e.deps.WorkspaceID)
	if err != nil {
		return e.deps.Local.Snapshot(), fmt.Errorf("bootstrap: %w", err)
	}

	var adopted []domain.Page
	var localOnly, resend, removed []string
	ws, err := e.deps.Local.Apply(ctx, func(ws domain.Workspace) domain.Workspace {
		adopted, localOnly, resend, removed = nil, nil, nil, nil
		onRemote := make(map[string]bool, len(pages))
		for _, p := range pages {
			onRemote[p.ID] = true
			if ws.IsDeleted(p.ID) {
				continue
			}
			ws = ws.PutPage(p.Clone())
			adopted = append(adopted, p)
		}
		// A page stamped by a remote write but missing now was deleted by
		// someone else while we were away.
		var gone []string
		for _, id := range ws.PageOrder {
			if onRemote[id] {
				continue
			}
			if p, _ := ws.Page(id); p.UpdatedBy != "" {
				gone = append(gone, id)
			}
		}
		for _, id := range gone {
			var r []string
			ws, r = ws.DeletePage(e.deps.Clock, id)
			removed = append(removed, r...)
		}
		for _, id := range ws.PageOrder {
			if !onRemote[id] {
				localOnly = append(localOnly, id)
			}
		}
		for _, id := range ws.DeletedPageIDs {
			if onRemote[id] {
				resend = append(resend, id)
			} else {
				ws = ws.ClearDeleted(id)
			}
		}
		ws = ws.AdoptOrder(remoteWs.PageOrder)
		ws.Name = remoteWs.Name
		ws.DarkMode = remoteWs.DarkMode
		return ws
	})
	if err != nil {
		return ws, fmt.Errorf("bootstrap: %w", err)
	}

	e.adopt(adopted)
	if len(removed) > 0 {
		e.forget(removed...)
		e.emit(EventRemoteDelete, RemoteChange{WorkspaceID: e.deps.WorkspaceID, PageIDs: removed})
	}
	for _, id := range localOnly {
		e.Enqueue(id)
	}
	e.EnqueueDelete(resend...)
	e.log.Info().
		Int("remote", len(adopted)).
		Int("local_only", len(localOnly)).
		Int("removed", len(removed)).
		Int("tombstones", len(resend)).
		Msg("bootstrapped")
	return ws, nil
}

// HandleEvent applies one remote change. Our own echoes, stale rows and
// rows for pages with an unpushed local edit are skipped; the pending edit
// will either land or conflict when pushed.
func (e *Engine) HandleEvent(ctx context.Context, ev realtime.Event) error {
	if ev.WorkspaceID != e.deps.WorkspaceID || ev.UpdatedBy == e.deps.Actor {
		return nil
	}
	switch ev.Table {
	case realtime.TablePages:
		if ev.Operation == realtime.OpDelete {
			return e.applyRemoteDelete(ctx, ev.RowID)
		}
		p, err := ev.Page()
		if err != nil {
			return err
		}
		return e.applyRemotePage(ctx, p)
	case realtime.TableWorkspaces:
		if ev.Operation == realtime.OpDelete {
			e.emit(EventWorkspaceDeleted, RemoteChange{WorkspaceID: ev.WorkspaceID})
			return nil
		}
		ws, err := ev.Workspace()
		if err != nil {
			return err
		}
		return e.applyRemoteSettings(ctx, ws)
	}
	return nil
}

func (e *Engine) applyRemotePage(ctx context.Context, p domain.Page) error {
	applied := false
	_, err := e.deps.Local.Apply(ctx, func(ws domain.Workspace) domain.Workspace {
		applied = false
		if ws.IsDeleted(p.ID) || e.pending(p.ID) {
			return ws
		}
		if cur, ok := ws.Page(p.ID); ok && p.UpdatedAt <= cur.UpdatedAt {
			return ws
		}
		applied = true
		return ws.PutPage(p.Clone())
	})
	if err != nil {
		return err
	}
	if !applied {
		e.log.Debug().Str("page", p.ID).Int64("version", p.UpdatedAt).Msg("skipped remote page")
		return nil
	}
	e.adopt([]domain.Page{p})
	e.emit(EventRemoteUpdate, RemoteChange{WorkspaceID: e.deps.WorkspaceID, PageIDs: []string{p.ID}})
	return nil
}

func (e *Engine) applyRemoteDelete(ctx context.Context, pageID string) error {
	var removed []string
	_, err := e.deps.Local.Apply(ctx, func(ws domain.Workspace) domain.Workspace {
		ws, removed = ws.DeletePage(e.deps.Clock, pageID)
		return ws
	})
	if err != nil {
		return err
	}
	if len(removed) == 0 {
		return nil
	}
	e.forget(removed...)
	e.emit(EventRemoteDelete, RemoteChange{WorkspaceID: e.deps.WorkspaceID, PageIDs: removed})
	return nil
}

func (e *Engine) applyRemoteSettings(ctx context.Context, remoteWs domain.Workspace) error {
	_, err := e.deps.Local.Apply(ctx, func(ws domain.Workspace) domain.Workspace {
		ws = ws.AdoptOrder(remoteWs.PageOrder)
		ws.Name = remoteWs.Name
		ws.DarkMode = remoteWs.DarkMode
		return ws
	})
	if err != nil {
		return err
	}
	e.emit(EventWorkspaceChanged, RemoteChange{WorkspaceID: e.deps.WorkspaceID})
	return nil
}

// Resync re-reads the remote and heals anything the event stream missed.
// Newer remote rows replace clean local pages, and clean pages that were
// pushed before but are gone remotely are removed. Pages with pending edits
// are left to their push.
func (e *Engine) Resync(ctx context.Context) error {
	remoteWs, err := e.deps.Remote.GetWorkspace(ctx, e.deps.WorkspaceID)
	if err != nil {
		e.syncError("", "resync", err, true)
		return fmt.Errorf("resync: %w", err)
	}
	pages, err := e.deps.Remote.ListPages(ctx, e.deps.WorkspaceID)
	if err != nil {
		e.syncError("", "resync", err, true)
		return fmt.Errorf("resync: %w", err)
	}

	var updated []domain.Page
	var removed []string
	_, err = e.deps.Local.Apply(ctx, func(ws domain.Workspace) domain.Workspace {
		updated, removed = nil, nil
		onRemote := make(map[string]bool, len(pages))
		for _, p := range pages {
			onRemote[p.ID] = true
			if ws.IsDeleted(p.ID) || e.pending(p.ID) {
				continue
			}
			if cur, ok := ws.Page(p.ID); ok && p.UpdatedAt <= cur.UpdatedAt {
				continue
			}
			ws = ws.PutPage(p.Clone())
			updated = append(updated, p)
		}
		var gone []string
		for _, id := range ws.PageOrder {
			if !onRemote[id] && e.pushedBefore(id) {
				gone = append(gone, id)
			}
		}
		for _, id := range gone {
			var r []string
			ws, r = ws.DeletePage(e.deps.Clock, id)
			removed = append(removed, r...)
		}
		ws = ws.AdoptOrder(remoteWs.PageOrder)
		ws.Name = remoteWs.Name
		ws.DarkMode = remoteWs.DarkMode
		return ws
	})
	if err != nil {
		return fmt.Errorf("resync: %w", err)
	}

	e.adopt(updated)
	e.forget(removed...)
	if len(updated) > 0 {
		ids := make([]string, len(updated))
		for i, p := range updated {
			ids[i] = p.ID
		}
		e.emit(EventRemoteUpdate, RemoteChange{WorkspaceID: e.deps.WorkspaceID, PageIDs: ids})
	}
	if len(removed) > 0 {
		e.emit(EventRemoteDelete, RemoteChange{WorkspaceID: e.deps.WorkspaceID, PageIDs: removed})
	}
	e.log.Debug().Int("updated", len(updated)).Int("removed", len(removed)).Msg("resynced")
	return nil
}

// pushedBefore reports a clean page the remote has acknowledged.
func (e *Engine) pushedBefore(pageID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, known := e.versions[pageID]
	return known && e.states[pageID] == Clean
}

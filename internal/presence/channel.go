package presence

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Entry is one user currently viewing a workspace.
type Entry struct {
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	Email       string    `json:"email,omitempty"`
	Color       string    `json:"color,omitempty"`
	LastSeenAt  time.Time `json:"lastSeenAt"`
}

// Channel is the per-workspace presence broadcast: Track announces self
// (join and heartbeat), Watch delivers full rosters (sync).
type Channel interface {
	Track(ctx context.Context, workspaceID string, self Entry) error
	Untrack(ctx context.Context, workspaceID, userID string) error
	// Watch streams the full roster after every change. Only the newest
	// roster is kept for a slow reader. stop ends the stream.
	Watch(ctx context.Context, workspaceID string) (rosters <-chan []Entry, stop func(), err error)
}

// Registry is the in-process Channel. The websocket hub serves it to remote
// clients; tests and single-process setups use it directly.
type Registry struct {
	mu       sync.Mutex
	entries  map[string]map[string]Entry
	watchers map[string]map[chan []Entry]struct{}
	now      func() time.Time
}

func NewRegistry(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		entries:  make(map[string]map[string]Entry),
		watchers: make(map[string]map[chan []Entry]struct{}),
		now:      now,
	}
}

func (r *Registry) Track(_ context.Context, workspaceID string, self Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries[workspaceID] == nil {
		r.entries[workspaceID] = make(map[string]Entry)
	}
	self.LastSeenAt = r.now()
	r.entries[workspaceID][self.UserID] = self
	r.broadcast(workspaceID)
	return nil
}

func (r *Registry) Untrack(_ context.Context, workspaceID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[workspaceID][userID]; !ok {
		return nil
	}
	delete(r.entries[workspaceID], userID)
	r.broadcast(workspaceID)
	return nil
}

func (r *Registry) Watch(ctx context.Context, workspaceID string) (<-chan []Entry, func(), error) {
	ch := make(chan []Entry, 1)
	r.mu.Lock()
	if r.watchers[workspaceID] == nil {
		r.watchers[workspaceID] = make(map[chan []Entry]struct{})
	}
	r.watchers[workspaceID][ch] = struct{}{}
	offer(ch, r.roster(workspaceID))
	r.mu.Unlock()

	var once sync.Once
	stopped := make(chan struct{})
	stop := func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.watchers[workspaceID], ch)
			close(ch)
			r.mu.Unlock()
			close(stopped)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-stopped:
		}
	}()
	return ch, stop, nil
}

// Sweep drops entries not refreshed within maxAge and broadcasts the
// rosters that changed.
func (r *Registry) Sweep(maxAge time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-maxAge)
	dropped := 0
	for ws, users := range r.entries {
		changed := false
		for id, e := range users {
			if e.LastSeenAt.Before(cutoff) {
				delete(users, id)
				changed = true
				dropped++
			}
		}
		if changed {
			r.broadcast(ws)
		}
	}
	return dropped
}

// Roster returns the current roster of workspaceID.
func (r *Registry) Roster(workspaceID string) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.roster(workspaceID)
}

func (r *Registry) roster(workspaceID string) []Entry {
	out := make([]Entry, 0, len(r.entries[workspaceID]))
	for _, e := range r.entries[workspaceID] {
		out = append(out, e)
	}
	sortEntries(out)
	return out
}

func (r *Registry) broadcast(workspaceID string) {
	roster := r.roster(workspaceID)
	for ch := range r.watchers[workspaceID] {
		offer(ch, roster)
	}
}

// offer replaces any unread roster with the newest one.
func offer(ch chan []Entry, roster []Entry) {
	for {
		select {
		case ch <- roster:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}

func sortEntries(list []Entry) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].DisplayName != list[j].DisplayName {
			return list[i].DisplayName < list[j].DisplayName
		}
		return list[i].UserID < list[j].UserID
	})
}

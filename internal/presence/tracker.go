package presence

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const DefaultHeartbeat = "@every 30s"

type Options struct {
	// Heartbeat is a cron spec for re-announcing self. Empty disables it.
	Heartbeat string
	// OnChange receives the roster after every applied sync.
	OnChange func([]Entry)
	Logger   zerolog.Logger
}

// Tracker keeps the roster of one open workspace. Nothing is persisted:
// every sync replaces the roster wholesale.
type Tracker struct {
	ch          Channel
	workspaceID string
	self        Entry
	opts        Options
	log         zerolog.Logger

	mu     sync.RWMutex
	roster map[string]Entry

	// lifecycle serializes Join and Close; the fields below belong to it.
	lifecycle sync.Mutex
	cron      *cron.Cron
	stop      func()
	done      chan struct{}
	joined    bool
}

func NewTracker(ch Channel, workspaceID string, self Entry, opts Options) *Tracker {
	return &Tracker{
		ch:          ch,
		workspaceID: workspaceID,
		self:        self,
		opts:        opts,
		log:         opts.Logger.With().Str("component", "presence").Str("workspace", workspaceID).Logger(),
		roster:      make(map[string]Entry),
	}
}

// Join tracks self and starts consuming roster syncs. A failed Join may be
// retried.
func (t *Tracker) Join(ctx context.Context) error {
	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()
	if t.joined {
		return nil
	}

	rosters, stop, err := t.ch.Watch(ctx, t.workspaceID)
	if err != nil {
		return fmt.Errorf("watch presence: %w", err)
	}
	if err := t.ch.Track(ctx, t.workspaceID, t.self); err != nil {
		stop()
		return fmt.Errorf("join presence: %w", err)
	}

	t.joined = true
	t.stop = stop
	t.done = make(chan struct{})
	go func() {
		defer close(t.done)
		for roster := range rosters {
			t.ApplySync(roster)
		}
	}()

	if t.opts.Heartbeat != "" {
		t.cron = cron.New()
		_, err := t.cron.AddFunc(t.opts.Heartbeat, func() {
			if err := t.ch.Track(context.Background(), t.workspaceID, t.self); err != nil {
				t.log.Warn().Err(err).Msg("heartbeat")
			}
		})
		if err != nil {
			t.log.Warn().Err(err).Str("spec", t.opts.Heartbeat).Msg("invalid heartbeat schedule")
		} else {
			t.cron.Start()
		}
	}
	t.log.Debug().Str("user", t.self.UserID).Msg("joined")
	return nil
}

// ApplySync replaces the roster. Users missing from roster age out; a user
// listed twice keeps the most recent entry.
func (t *Tracker) ApplySync(roster []Entry) {
	next := make(map[string]Entry, len(roster))
	for _, e := range roster {
		if cur, ok := next[e.UserID]; ok && cur.LastSeenAt.After(e.LastSeenAt) {
			continue
		}
		next[e.UserID] = e
	}
	t.mu.Lock()
	t.roster = next
	t.mu.Unlock()

	if t.opts.OnChange != nil {
		t.opts.OnChange(t.Roster())
	}
}

// Roster lists everyone present, self included, sorted by display name.
func (t *Tracker) Roster() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Entry, 0, len(t.roster))
	for _, e := range t.roster {
		out = append(out, e)
	}
	sortEntries(out)
	return out
}

// Others is the roster without self.
func (t *Tracker) Others() []Entry {
	var out []Entry
	for _, e := range t.Roster() {
		if e.UserID != t.self.UserID {
			out = append(out, e)
		}
	}
	return out
}

// Close leaves the channel and stops the heartbeat.
func (t *Tracker) Close(ctx context.Context) error {
	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()
	if !t.joined {
		return nil
	}
	t.joined = false

	if t.cron != nil {
		<-t.cron.Stop().Done()
		t.cron = nil
	}
	err := t.ch.Untrack(ctx, t.workspaceID, t.self.UserID)
	t.stop()
	<-t.done
	t.stop, t.done = nil, nil
	return err
}

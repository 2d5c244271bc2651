package presence_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notespace/internal/presence"
)

func names(list []presence.Entry) []string {
	var out []string
	for _, e := range list {
		out = append(out, e.UserID)
	}
	return out
}

func TestTracker_JoinSeesEachOther(t *testing.T) {
	ctx := context.Background()
	reg := presence.NewRegistry(nil)

	alice := presence.NewTracker(reg, "ws1", presence.Entry{UserID: "alice", DisplayName: "Alice"}, presence.Options{Logger: zerolog.Nop()})
	bob := presence.NewTracker(reg, "ws1", presence.Entry{UserID: "bob", DisplayName: "Bob"}, presence.Options{Logger: zerolog.Nop()})
	require.NoError(t, alice.Join(ctx))
	require.NoError(t, bob.Join(ctx))

	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"alice", "bob"}, names(alice.Roster()))
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"bob"}, names(alice.Others()))

	require.NoError(t, bob.Close(ctx))
	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"alice"}, names(alice.Roster()))
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, alice.Close(ctx))
	assert.Empty(t, reg.Roster("ws1"))
}

// flakyChannel fails the first Track.
type flakyChannel struct {
	*presence.Registry
	mu     sync.Mutex
	failed bool
}

func (f *flakyChannel) Track(ctx context.Context, workspaceID string, self presence.Entry) error {
	f.mu.Lock()
	first := !f.failed
	f.failed = true
	f.mu.Unlock()
	if first {
		return errors.New("connection reset")
	}
	return f.Registry.Track(ctx, workspaceID, self)
}

func TestTracker_JoinRetriesAfterFailure(t *testing.T) {
	ctx := context.Background()
	reg := presence.NewRegistry(nil)
	tr := presence.NewTracker(&flakyChannel{Registry: reg}, "ws1", presence.Entry{UserID: "alice"}, presence.Options{Logger: zerolog.Nop()})

	require.Error(t, tr.Join(ctx))
	assert.Empty(t, reg.Roster("ws1"))
	require.NoError(t, tr.Close(ctx), "nothing to leave")

	require.NoError(t, tr.Join(ctx))
	assert.Equal(t, []string{"alice"}, names(reg.Roster("ws1")))
	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"alice"}, names(tr.Roster()))
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, tr.Close(ctx))
	assert.Empty(t, reg.Roster("ws1"))
}

func TestTracker_WorkspacesAreIsolated(t *testing.T) {
	ctx := context.Background()
	reg := presence.NewRegistry(nil)
	a := presence.NewTracker(reg, "ws1", presence.Entry{UserID: "a"}, presence.Options{Logger: zerolog.Nop()})
	b := presence.NewTracker(reg, "ws2", presence.Entry{UserID: "b"}, presence.Options{Logger: zerolog.Nop()})
	require.NoError(t, a.Join(ctx))
	require.NoError(t, b.Join(ctx))
	defer a.Close(ctx)
	defer b.Close(ctx)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{"a"}, names(a.Roster()))
	assert.Equal(t, []string{"b"}, names(b.Roster()))
}

func TestApplySync_LastWriteWinsAndAgesOut(t *testing.T) {
	var mu sync.Mutex
	var changes int
	tr := presence.NewTracker(presence.NewRegistry(nil), "ws1", presence.Entry{UserID: "me"}, presence.Options{
		Logger:   zerolog.Nop(),
		OnChange: func([]presence.Entry) { mu.Lock(); changes++; mu.Unlock() },
	})
	t0 := time.Now()

	tr.ApplySync([]presence.Entry{
		{UserID: "x", DisplayName: "old", LastSeenAt: t0},
		{UserID: "x", DisplayName: "new", LastSeenAt: t0.Add(time.Second)},
		{UserID: "y", DisplayName: "y", LastSeenAt: t0},
	})
	roster := tr.Roster()
	require.Len(t, roster, 2)
	assert.Equal(t, "new", roster[0].DisplayName)

	tr.ApplySync([]presence.Entry{{UserID: "y", DisplayName: "y", LastSeenAt: t0}})
	assert.Equal(t, []string{"y"}, names(tr.Roster()))
	assert.Equal(t, 2, changes)
}

func TestRegistry_SweepDropsStale(t *testing.T) {
	now := time.Now()
	reg := presence.NewRegistry(func() time.Time { return now })
	ctx := context.Background()
	require.NoError(t, reg.Track(ctx, "ws1", presence.Entry{UserID: "idle"}))
	now = now.Add(time.Minute)
	require.NoError(t, reg.Track(ctx, "ws1", presence.Entry{UserID: "active"}))

	assert.Equal(t, 1, reg.Sweep(30*time.Second))
	assert.Equal(t, []string{"active"}, names(reg.Roster("ws1")))
}

func TestRegistry_WatchKeepsNewestOnly(t *testing.T) {
	reg := presence.NewRegistry(nil)
	ctx, cancel := context.WithCancel(context.Background())
	rosters, _, err := reg.Watch(ctx, "ws1")
	require.NoError(t, err)

	for _, u := range []string{"a", "b", "c"} {
		require.NoError(t, reg.Track(ctx, "ws1", presence.Entry{UserID: u}))
	}
	latest := <-rosters
	assert.Equal(t, []string{"a", "b", "c"}, names(latest))

	cancel()
	assert.Eventually(t, func() bool {
		_, open := <-rosters
		return !open
	}, time.Second, 5*time.Millisecond)
}

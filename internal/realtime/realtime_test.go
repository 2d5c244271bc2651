package realtime_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notespace/internal/domain"
	"notespace/internal/presence"
	"notespace/internal/realtime"
)

func pageEvent(t *testing.T, ws, id string, at int64) realtime.Event {
	t.Helper()
	e, err := realtime.PageEvent(realtime.OpUpdate, domain.Page{ID: id, WorkspaceID: ws, Title: id, UpdatedAt: at, UpdatedBy: "u1"})
	require.NoError(t, err)
	return e
}

func TestPageEvent_RoundTripsRow(t *testing.T) {
	e := pageEvent(t, "ws1", "p1", 7)
	assert.Equal(t, realtime.TablePages, e.Table)
	assert.Len(t, e.ID, 26)

	p, err := e.Page()
	require.NoError(t, err)
	assert.Equal(t, "p1", p.ID)
	assert.EqualValues(t, 7, p.UpdatedAt)

	del, err := realtime.PageEvent(realtime.OpDelete, domain.Page{ID: "p1", WorkspaceID: "ws1"})
	require.NoError(t, err)
	assert.Empty(t, del.Row)
	_, err = del.Page()
	assert.Error(t, err)
}

func TestBroker_DeliversInOrderPerWorkspace(t *testing.T) {
	ctx := context.Background()
	b := realtime.NewBroker(16)
	sub, err := b.Subscribe(ctx, "ws1")
	require.NoError(t, err)
	other, err := b.Subscribe(ctx, "ws2")
	require.NoError(t, err)

	for i := int64(1); i <= 3; i++ {
		require.NoError(t, b.Publish(ctx, pageEvent(t, "ws1", "p", i)))
	}
	for i := int64(1); i <= 3; i++ {
		e := <-sub.Events()
		assert.Equal(t, i, e.UpdatedAt)
	}
	assert.Len(t, other.Events(), 0)
}

func TestBroker_SlowConsumerIsDropped(t *testing.T) {
	ctx := context.Background()
	b := realtime.NewBroker(2)
	sub, err := b.Subscribe(ctx, "ws1")
	require.NoError(t, err)

	for i := int64(1); i <= 3; i++ {
		require.NoError(t, b.Publish(ctx, pageEvent(t, "ws1", "p", i)))
	}
	<-sub.Done()
	assert.ErrorIs(t, sub.Err(), realtime.ErrSlowConsumer)
	assert.Equal(t, 0, b.Subscribers("ws1"))
}

func TestBroker_ContextCancelEndsSubscription(t *testing.T) {
	b := realtime.NewBroker(4)
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := b.Subscribe(ctx, "ws1")
	require.NoError(t, err)
	cancel()

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription still open")
	}
	assert.NoError(t, sub.Err())
	assert.Eventually(t, func() bool { return b.Subscribers("ws1") == 0 }, time.Second, 5*time.Millisecond)
}

func startHub(t *testing.T) (*realtime.Hub, string) {
	t.Helper()
	hub := realtime.NewHub(realtime.HubOptions{Logger: zerolog.Nop()})
	srv := httptest.NewServer(hub.Handler())
	t.Cleanup(srv.Close)
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *realtime.Client {
	t.Helper()
	c, err := realtime.Dial(context.Background(), url, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestHub_RelaysEventsBetweenClients(t *testing.T) {
	_, url := startHub(t)
	ctx := context.Background()
	alice := dial(t, url)
	bob := dial(t, url)

	sub, err := alice.Subscribe(ctx, "ws1")
	require.NoError(t, err)

	require.NoError(t, bob.Publish(ctx, pageEvent(t, "ws1", "p1", 1)))
	require.NoError(t, bob.Publish(ctx, pageEvent(t, "ws2", "p9", 1)))
	require.NoError(t, bob.Publish(ctx, pageEvent(t, "ws1", "p2", 2)))

	var got []string
	for len(got) < 2 {
		select {
		case e := <-sub.Events():
			got = append(got, e.RowID)
		case <-time.After(2 * time.Second):
			t.Fatalf("received only %v", got)
		}
	}
	assert.Equal(t, []string{"p1", "p2"}, got)
}

func TestHub_InProcessPublishReachesClients(t *testing.T) {
	hub, url := startHub(t)
	ctx := context.Background()
	c := dial(t, url)
	sub, err := c.Subscribe(ctx, "ws1")
	require.NoError(t, err)

	require.NoError(t, hub.Broker().Publish(ctx, pageEvent(t, "ws1", "p1", 3)))
	select {
	case e := <-sub.Events():
		p, err := e.Page()
		require.NoError(t, err)
		assert.Equal(t, "p1", p.Title)
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
	}
}

func TestHub_PresenceOverSocket(t *testing.T) {
	hub, url := startHub(t)
	ctx := context.Background()
	alice := dial(t, url)
	bob := dial(t, url)

	tracker := presence.NewTracker(alice, "ws1", presence.Entry{UserID: "alice", DisplayName: "Alice"}, presence.Options{Logger: zerolog.Nop()})
	require.NoError(t, tracker.Join(ctx))
	require.NoError(t, bob.Track(ctx, "ws1", presence.Entry{UserID: "bob", DisplayName: "Bob"}))

	assert.Eventually(t, func() bool { return len(tracker.Others()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "bob", tracker.Others()[0].UserID)

	// a dropped socket takes its presence with it
	require.NoError(t, bob.Close())
	assert.Eventually(t, func() bool { return len(tracker.Others()) == 0 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, tracker.Close(ctx))
	assert.Eventually(t, func() bool { return len(hub.Presence().Roster("ws1")) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestClient_ClosedConnectionFailsCalls(t *testing.T) {
	_, url := startHub(t)
	ctx := context.Background()
	c, err := realtime.Dial(ctx, url, zerolog.Nop())
	require.NoError(t, err)
	sub, err := c.Subscribe(ctx, "ws1")
	require.NoError(t, err)

	require.NoError(t, c.Close())
	<-sub.Done()

	err = c.Publish(ctx, pageEvent(t, "ws1", "p1", 1))
	assert.True(t, errors.Is(err, domain.ErrTransport))
	_, err = c.Subscribe(ctx, "ws1")
	assert.ErrorIs(t, err, domain.ErrTransport)
}

func TestDial_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := realtime.Dial(ctx, "ws://127.0.0.1:1/ws", zerolog.Nop())
	assert.ErrorIs(t, err, domain.ErrTransport)
}

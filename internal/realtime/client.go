package realtime

import (
	"context"
	"errors"
	"sync"

	gorilla "github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"notespace/internal/domain"
	"notespace/internal/presence"
)

// ErrClientClosed is returned by calls on a Client whose socket is gone.
var ErrClientClosed = errors.New("hub connection closed")

// Client talks to a Hub. It serves as Publisher, Subscriber and presence
// Channel for one process.
type Client struct {
	conn *gorilla.Conn
	wmu  sync.Mutex
	log  zerolog.Logger

	local *Broker

	mu         sync.Mutex
	subscribed map[string]bool
	acks       map[string][]chan struct{}
	watching   map[string]bool
	watchers   map[string]map[chan []presence.Entry]struct{}
	closed     bool

	done chan struct{}
}

var (
	_ Publisher        = (*Client)(nil)
	_ Subscriber       = (*Client)(nil)
	_ presence.Channel = (*Client)(nil)
)

// Dial connects to the hub socket at url (ws://host:port/ws).
func Dial(ctx context.Context, url string, log zerolog.Logger) (*Client, error) {
	conn, _, err := gorilla.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, domain.Transport("dial hub", err)
	}
	c := &Client{
		conn:       conn,
		log:        log.With().Str("component", "realtime").Logger(),
		local:      NewBroker(0),
		subscribed: make(map[string]bool),
		acks:       make(map[string][]chan struct{}),
		watching:   make(map[string]bool),
		watchers:   make(map[string]map[chan []presence.Entry]struct{}),
		done:       make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) send(f frame) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return domain.Transport("hub send", ErrClientClosed)
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.conn.WriteJSON(f); err != nil {
		return domain.Transport("hub send", err)
	}
	return nil
}

func (c *Client) Publish(_ context.Context, e Event) error {
	return c.send(frame{Type: framePublish, WorkspaceID: e.WorkspaceID, Event: &e})
}

// Subscribe returns once the hub has acknowledged the workspace stream, so
// events published after it returns are delivered.
func (c *Client) Subscribe(ctx context.Context, workspaceID string) (*Subscription, error) {
	sub, _ := c.local.Subscribe(ctx, workspaceID)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		sub.Close()
		return nil, domain.Transport("subscribe", ErrClientClosed)
	}
	if c.subscribed[workspaceID] {
		c.mu.Unlock()
		return sub, nil
	}
	ack := make(chan struct{})
	c.acks[workspaceID] = append(c.acks[workspaceID], ack)
	c.mu.Unlock()

	if err := c.send(frame{Type: frameSubscribe, WorkspaceID: workspaceID}); err != nil {
		sub.Close()
		return nil, err
	}
	select {
	case <-ack:
		return sub, nil
	case <-c.done:
		sub.Close()
		return nil, domain.Transport("subscribe", ErrClientClosed)
	case <-ctx.Done():
		sub.Close()
		return nil, ctx.Err()
	}
}

func (c *Client) Track(_ context.Context, workspaceID string, self presence.Entry) error {
	return c.send(frame{Type: frameTrack, WorkspaceID: workspaceID, Entry: &self})
}

func (c *Client) Untrack(_ context.Context, workspaceID, userID string) error {
	return c.send(frame{Type: frameUntrack, WorkspaceID: workspaceID, UserID: userID})
}

func (c *Client) Watch(ctx context.Context, workspaceID string) (<-chan []presence.Entry, func(), error) {
	ch := make(chan []presence.Entry, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, nil, domain.Transport("watch presence", ErrClientClosed)
	}
	if c.watchers[workspaceID] == nil {
		c.watchers[workspaceID] = make(map[chan []presence.Entry]struct{})
	}
	c.watchers[workspaceID][ch] = struct{}{}
	first := !c.watching[workspaceID]
	c.watching[workspaceID] = true
	c.mu.Unlock()

	if first {
		if err := c.send(frame{Type: frameWatchPresence, WorkspaceID: workspaceID}); err != nil {
			c.dropWatcher(workspaceID, ch)
			return nil, nil, err
		}
	}

	var once sync.Once
	stopped := make(chan struct{})
	stop := func() {
		once.Do(func() {
			c.dropWatcher(workspaceID, ch)
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

func (c *Client) dropWatcher(workspaceID string, ch chan []presence.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.watchers[workspaceID][ch]; ok {
		delete(c.watchers[workspaceID], ch)
		close(ch)
	}
}

// Done is closed when the socket is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

// Close shuts the socket and ends every subscription and watch.
func (c *Client) Close() error {
	c.wmu.Lock()
	_ = c.conn.WriteMessage(gorilla.CloseMessage, gorilla.FormatCloseMessage(gorilla.CloseNormalClosure, ""))
	c.wmu.Unlock()
	err := c.conn.Close()
	<-c.done
	return err
}

func (c *Client) readLoop() {
	var cause error
	defer func() { c.shutdown(cause) }()

	for {
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			if !gorilla.IsCloseError(err, gorilla.CloseNormalClosure) {
				cause = err
			}
			return
		}
		switch f.Type {
		case frameSubscribed:
			c.mu.Lock()
			c.subscribed[f.WorkspaceID] = true
			for _, ack := range c.acks[f.WorkspaceID] {
				close(ack)
			}
			delete(c.acks, f.WorkspaceID)
			c.mu.Unlock()

		case frameEvent:
			if f.Event != nil {
				_ = c.local.Publish(context.Background(), *f.Event)
			}

		case frameRoster:
			c.mu.Lock()
			for ch := range c.watchers[f.WorkspaceID] {
				offerRoster(ch, f.Roster)
			}
			c.mu.Unlock()

		case frameError:
			if f.Code == codeSlowConsumer {
				c.mu.Lock()
				delete(c.subscribed, f.WorkspaceID)
				c.mu.Unlock()
				c.local.FailWorkspace(f.WorkspaceID, ErrSlowConsumer)
				continue
			}
			c.log.Warn().Str("workspace", f.WorkspaceID).Str("message", f.Message).Msg("hub error")
		}
	}
}

func (c *Client) shutdown(cause error) {
	c.mu.Lock()
	c.closed = true
	for ws, set := range c.watchers {
		for ch := range set {
			close(ch)
		}
		delete(c.watchers, ws)
	}
	c.acks = make(map[string][]chan struct{})
	c.mu.Unlock()

	var err error
	if cause != nil {
		c.log.Warn().Err(cause).Msg("hub connection lost")
		err = domain.Transport("hub stream", cause)
	}
	c.local.CloseAll(err)
	close(c.done)
}

func offerRoster(ch chan []presence.Entry, roster []presence.Entry) {
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

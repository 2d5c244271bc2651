package realtime

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	gorilla "github.com/gorilla/websocket"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"notespace/internal/presence"
)

// Frame types on the hub socket.
const (
	frameSubscribe     = "subscribe"
	frameSubscribed    = "subscribed"
	framePublish       = "publish"
	frameEvent         = "event"
	frameTrack         = "track"
	frameUntrack       = "untrack"
	frameWatchPresence = "watch_presence"
	frameRoster        = "roster"
	frameError         = "error"
)

const codeSlowConsumer = "slow_consumer"

type frame struct {
	Type        string           `json:"type"`
	WorkspaceID string           `json:"workspaceId,omitempty"`
	Event       *Event           `json:"event,omitempty"`
	Entry       *presence.Entry  `json:"entry,omitempty"`
	UserID      string           `json:"userId,omitempty"`
	Roster      []presence.Entry `json:"roster,omitempty"`
	Code        string           `json:"code,omitempty"`
	Message     string           `json:"message,omitempty"`
}

type HubOptions struct {
	// Heartbeat is how often clients re-announce presence. Entries silent
	// for three heartbeats are swept.
	Heartbeat time.Duration
	// SweepSchedule is the cron spec of the stale presence sweep.
	SweepSchedule string
	Buffer        int
	Logger        zerolog.Logger
}

// Hub relays events and presence between clients over websockets. It is
// the transport a team runs next to the shared remote store.
type Hub struct {
	broker   *Broker
	presence *presence.Registry
	opts     HubOptions
	log      zerolog.Logger
	upgrader gorilla.Upgrader
	cron     *cron.Cron
}

func NewHub(opts HubOptions) *Hub {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 30 * time.Second
	}
	if opts.SweepSchedule == "" {
		opts.SweepSchedule = "@every 30s"
	}
	return &Hub{
		broker:   NewBroker(opts.Buffer),
		presence: presence.NewRegistry(nil),
		opts:     opts,
		log:      opts.Logger.With().Str("component", "hub").Logger(),
		upgrader: gorilla.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Broker is the hub's in-process fan-out. Remote stores running in the same
// process publish to it directly.
func (h *Hub) Broker() *Broker { return h.broker }

func (h *Hub) Presence() *presence.Registry { return h.presence }

func (h *Hub) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/ws", h.serveWS)
	return r
}

// Sweep drops presence entries older than three heartbeats.
func (h *Hub) Sweep() int {
	n := h.presence.Sweep(3 * h.opts.Heartbeat)
	if n > 0 {
		h.log.Debug().Int("dropped", n).Msg("presence sweep")
	}
	return n
}

// StartSweeper schedules Sweep. Stop it with StopSweeper.
func (h *Hub) StartSweeper() error {
	c := cron.New()
	if _, err := c.AddFunc(h.opts.SweepSchedule, func() { h.Sweep() }); err != nil {
		return err
	}
	c.Start()
	h.cron = c
	return nil
}

func (h *Hub) StopSweeper() {
	if h.cron != nil {
		<-h.cron.Stop().Done()
		h.cron = nil
	}
}

// Serve listens on addr until ctx is cancelled.
func (h *Hub) Serve(ctx context.Context, addr string) error {
	if err := h.StartSweeper(); err != nil {
		return err
	}
	defer h.StopSweeper()

	server := &http.Server{Addr: addr, Handler: h.Handler()}
	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()
	h.log.Info().Str("addr", addr).Msg("hub listening")

	select {
	case <-ctx.Done():
		h.log.Info().Msg("hub shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-serverErr:
		return err
	}
}

type hubConn struct {
	ws  *gorilla.Conn
	wmu sync.Mutex
}

func (c *hubConn) send(f frame) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.ws.WriteJSON(f)
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("upgrade")
		return
	}
	h.serveConn(&hubConn{ws: ws})
}

func (h *Hub) serveConn(c *hubConn) {
	ctx, cancel := context.WithCancel(context.Background())
	var smu sync.Mutex
	subscribed := make(map[string]bool)
	watching := make(map[string]bool)
	tracked := make(map[string]string)
	var wg sync.WaitGroup

	defer func() {
		cancel()
		for ws, user := range tracked {
			_ = h.presence.Untrack(context.Background(), ws, user)
		}
		_ = c.ws.Close()
		wg.Wait()
	}()

	for {
		var f frame
		if err := c.ws.ReadJSON(&f); err != nil {
			if !gorilla.IsCloseError(err, gorilla.CloseNormalClosure, gorilla.CloseGoingAway) {
				h.log.Debug().Err(err).Msg("connection closed")
			}
			return
		}

		switch f.Type {
		case frameSubscribe:
			smu.Lock()
			if !subscribed[f.WorkspaceID] {
				sub, _ := h.broker.Subscribe(ctx, f.WorkspaceID)
				subscribed[f.WorkspaceID] = true
				wg.Add(1)
				go func() {
					defer wg.Done()
					h.forwardEvents(c, sub, func() {
						smu.Lock()
						delete(subscribed, sub.WorkspaceID)
						smu.Unlock()
					})
				}()
			}
			smu.Unlock()
			_ = c.send(frame{Type: frameSubscribed, WorkspaceID: f.WorkspaceID})

		case framePublish:
			if f.Event == nil {
				_ = c.send(frame{Type: frameError, Message: "publish without event"})
				continue
			}
			_ = h.broker.Publish(ctx, *f.Event)

		case frameTrack:
			if f.Entry == nil {
				continue
			}
			tracked[f.WorkspaceID] = f.Entry.UserID
			_ = h.presence.Track(ctx, f.WorkspaceID, *f.Entry)

		case frameUntrack:
			delete(tracked, f.WorkspaceID)
			_ = h.presence.Untrack(ctx, f.WorkspaceID, f.UserID)

		case frameWatchPresence:
			if watching[f.WorkspaceID] {
				continue
			}
			rosters, _, _ := h.presence.Watch(ctx, f.WorkspaceID)
			watching[f.WorkspaceID] = true
			wg.Add(1)
			go func(ws string) {
				defer wg.Done()
				for roster := range rosters {
					if err := c.send(frame{Type: frameRoster, WorkspaceID: ws, Roster: roster}); err != nil {
						return
					}
				}
			}(f.WorkspaceID)

		default:
			_ = c.send(frame{Type: frameError, Message: "unknown frame " + f.Type})
		}
	}
}

// forwardEvents pumps sub to the socket. release runs once the stream ends
// so the client may subscribe again.
func (h *Hub) forwardEvents(c *hubConn, sub *Subscription, release func()) {
	for e := range sub.Events() {
		e := e
		if err := c.send(frame{Type: frameEvent, WorkspaceID: sub.WorkspaceID, Event: &e}); err != nil {
			sub.Close()
			release()
			return
		}
	}
	release()
	if errors.Is(sub.Err(), ErrSlowConsumer) {
		h.log.Warn().Str("workspace", sub.WorkspaceID).Msg("dropping slow subscriber")
		_ = c.send(frame{Type: frameError, WorkspaceID: sub.WorkspaceID, Code: codeSlowConsumer, Message: ErrSlowConsumer.Error()})
	}
}

package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"notespace/internal/access"
	"notespace/internal/config"
	"notespace/internal/presence"
	"notespace/internal/realtime"
	"notespace/internal/remote"
	"notespace/internal/remote/mongoremote"
	"notespace/internal/remote/sqlremote"
	"notespace/internal/secret"
	"notespace/internal/service"
	"notespace/internal/storage"
)

// App wires the local cache, the optional remote store and the realtime
// transport into one WorkspaceService. Every entry point (MCP, hub, CLI)
// goes through it.
type App struct {
	ctx context.Context
	cfg config.Config
	log zerolog.Logger

	secrets secret.SecretStore
	emitter service.EventEmitter

	db        *storage.DB
	appState  *storage.AppStateStore // nil when LocalBackend is "file"
	file      *storage.FileStore     // nil when LocalBackend is "sqlite"
	approvals *storage.ApprovalStore

	store   *remote.Adapter  // nil offline
	hub     *realtime.Client // nil without HubURL
	members *service.MembershipService
	ws      *service.WorkspaceService
}

// New creates an App. Nothing is opened until Startup.
func New(cfg config.Config, secrets secret.SecretStore, log zerolog.Logger) *App {
	return &App{
		cfg:     cfg,
		log:     log.With().Str("component", "app").Logger(),
		secrets: secrets,
		emitter: logEmitter{log: log.With().Str("component", "events").Logger()},
	}
}

// Startup opens storage, connects to the remote store when one is
// configured and opens the current workspace. Remote failures leave the
// app running offline.
func (a *App) Startup(ctx context.Context) error {
	a.ctx = ctx

	db, err := storage.New(filepath.Join(a.cfg.DataDir, "notespace.db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	a.db = db
	a.approvals = storage.NewApprovalStore(db)

	var local storage.LocalStore
	if a.cfg.LocalBackend == "file" {
		a.file = storage.NewFileStore(a.cfg.LocalPath(), nil, a.log)
		local = a.file
	} else {
		a.appState = storage.NewAppStateStore(db, nil)
		local = a.appState
	}

	opts := service.Options{
		Local:   local,
		Emitter: a.emitter,
		Auth:    service.StaticAuth{UserID: a.cfg.User.ID, Email: a.cfg.User.Email},
		Logger:  a.log,
		Config:  a.cfg,
	}
	if a.cfg.Online() {
		a.connect(ctx, &opts)
	}

	a.ws = service.NewWorkspaceService(opts)
	if err := a.ws.Start(ctx); err != nil {
		return err
	}
	if cur, err := a.ws.Current(); err == nil {
		if _, err := a.ws.OpenWorkspace(ctx, cur.ID); err != nil {
			a.log.Warn().Err(err).Str("workspace", cur.ID).Msg("open workspace")
		}
	}
	return nil
}

// connect fills the online half of opts. With a hub the websocket client
// carries events and presence; without one they stay inside this process.
func (a *App) connect(ctx context.Context, opts *service.Options) {
	var pub realtime.Publisher
	if a.cfg.HubURL != "" {
		client, err := realtime.Dial(ctx, a.cfg.HubURL, a.log)
		if err != nil {
			a.log.Warn().Err(err).Str("hub", a.cfg.HubURL).Msg("hub unreachable, no live updates")
		} else {
			a.hub = client
			pub, opts.Events, opts.Presence = client, client, client
		}
	}
	if a.hub == nil {
		broker := realtime.NewBroker(64)
		pub, opts.Events, opts.Presence = broker, broker, presence.NewRegistry(nil)
	}

	store, err := OpenRemote(ctx, a.cfg, a.secrets, pub, a.log)
	if err != nil {
		a.log.Warn().Err(err).Str("driver", a.cfg.Remote.Driver).Msg("remote store unavailable, staying offline")
		return
	}
	a.store = store
	issuer := access.NewIssuer(a.secrets, nil)
	a.members = service.NewMembershipService(store, issuer, a.cfg.InviteTTL.Duration, a.log)
	opts.Remote = store
	opts.Members = a.members
}

// OpenRemote connects to the store cfg.Remote names. The password is read
// from secrets under Remote.PasswordKey.
func OpenRemote(ctx context.Context, cfg config.Config, secrets secret.SecretStore, pub realtime.Publisher, log zerolog.Logger) (*remote.Adapter, error) {
	key := cfg.Remote.PasswordKey
	if key == "" {
		key = secret.KeyRemotePass
	}
	password, err := secrets.Get(key)
	if err != nil {
		return nil, fmt.Errorf("read remote password: %w", err)
	}

	opts := remote.Options{Publisher: pub, Logger: log}
	switch cfg.Remote.Driver {
	case "postgres", "mysql", "sqlite":
		return sqlremote.Connect(ctx, cfg.Remote, string(password), opts)
	case "mongodb":
		return mongoremote.Connect(ctx, cfg.Remote, string(password), opts)
	case "":
		return nil, errors.New("no remote driver configured")
	default:
		return nil, fmt.Errorf("unsupported remote driver: %s", cfg.Remote.Driver)
	}
}

// Workspaces exposes the service for the CLI and the MCP server.
func (a *App) Workspaces() *service.WorkspaceService { return a.ws }

// Shutdown flushes pending pushes and closes everything Startup opened.
func (a *App) Shutdown(ctx context.Context) {
	if a.ws != nil {
		if err := a.ws.Close(ctx); err != nil {
			a.log.Warn().Err(err).Msg("close workspace")
		}
	}
	if a.hub != nil {
		a.hub.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("close remote store")
		}
	}
	// AppStateStore owns the database handle.
	if a.appState != nil {
		a.appState.Close()
	} else if a.db != nil {
		a.db.Close()
	}
}

// logEmitter writes UI events to the log when no UI is attached.
type logEmitter struct {
	log zerolog.Logger
}

func (e logEmitter) Emit(_ context.Context, event string, data any) {
	e.log.Debug().Str("event", event).Interface("data", data).Msg("emit")
}

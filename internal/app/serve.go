package app

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"notespace/internal/config"
	mcpserver "notespace/internal/mcp"
	"notespace/internal/realtime"
)

// ServeMCP runs the app as a standalone MCP server on stdin/stdout. Destructive
// tools park their approvals in the database, where `notespace approve`
// settles them. Edits made by other processes are adopted while serving.
func (a *App) ServeMCP(ctx context.Context, version string) error {
	go newCacheWatcher(a).Run(ctx)

	srv := mcpserver.New(ctx, mcpserver.Deps{
		Emitter:    a.emitter,
		Workspaces: a.ws,
		Approvals:  a.approvals,
		Logger:     a.log,
		Version:    version,
	})
	a.log.Info().Msg("starting standalone stdio server")
	return srv.ServeStdio()
}

// ServeHub runs the realtime hub on cfg.HubAddr until ctx is cancelled.
func ServeHub(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	hub := realtime.NewHub(realtime.HubOptions{
		Heartbeat: heartbeatInterval(cfg.PresenceHeartbeat),
		Buffer:    256,
		Logger:    log,
	})
	return hub.Serve(ctx, cfg.HubAddr)
}

// heartbeatInterval reads the period of an "@every <duration>" schedule.
// Other specs fall back to the hub default.
func heartbeatInterval(spec string) time.Duration {
	raw, ok := strings.CutPrefix(spec, "@every ")
	if !ok {
		return 0
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0
	}
	return d
}

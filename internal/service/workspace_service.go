package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"notespace/internal/config"
	"notespace/internal/domain"
	"notespace/internal/history"
	"notespace/internal/presence"
	"notespace/internal/realtime"
	"notespace/internal/reconcile"
	"notespace/internal/remote"
	"notespace/internal/storage"
)

// ─────────────────────────────────────────────────────────────
// Workspace Service: the UI-facing façade
// ─────────────────────────────────────────────────────────────

var (
	ErrNoWorkspace = errors.New("no workspace selected")
	ErrOffline     = errors.New("no remote store configured or not signed in")
	ErrNotStarted  = errors.New("workspace service not started")
)

// errNoChange aborts a mutation that would leave the workspace as it is.
var errNoChange = errors.New("no change")

type Options struct {
	Local storage.LocalStore
	// Remote is nil for an offline-only service.
	Remote   remote.Store
	Events   realtime.Subscriber
	Presence presence.Channel
	Members  *MembershipService
	Emitter  EventEmitter
	Auth     Auth
	Clock    reconcile.Clock
	Logger   zerolog.Logger
	Config   config.Config
}

// WorkspaceService orders every edit the same way: mutate in memory,
// persist locally, then queue the push. All in-memory state sits behind mu.
type WorkspaceService struct {
	opts  Options
	log   zerolog.Logger
	clock reconcile.Clock

	mu        sync.Mutex
	data      domain.AppData
	started   bool
	histories map[string]*history.History[[]domain.Block]
	clipboard string
	session   *session
}

// session is the sync machinery of the open workspace.
type session struct {
	workspaceID string
	engine      *reconcile.Engine
	tracker     *presence.Tracker
}

func NewWorkspaceService(opts Options) *WorkspaceService {
	if opts.Emitter == nil {
		opts.Emitter = NopEmitter{}
	}
	if opts.Auth == nil {
		opts.Auth = StaticAuth{}
	}
	if opts.Clock == nil {
		opts.Clock = domain.NewLogicalClock()
	}
	return &WorkspaceService{
		opts:      opts,
		log:       opts.Logger.With().Str("component", "workspace").Logger(),
		clock:     opts.Clock,
		histories: make(map[string]*history.History[[]domain.Block]),
	}
}

// Start loads the local cache. Workspaces created before sign-in are
// claimed by the signed-in user.
func (s *WorkspaceService) Start(ctx context.Context) error {
	data, err := s.opts.Local.Load(ctx)
	if err != nil {
		return fmt.Errorf("load local data: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = data
	s.started = true

	user := s.opts.Auth.CurrentUserID()
	if !s.opts.Auth.IsAuthenticated() {
		return nil
	}
	claimed := 0
	for _, ws := range data.Workspaces {
		if ws.OwnerID != "" {
			continue
		}
		ws = ws.Clone()
		ws.OwnerID = user
		ws.Members = []domain.Member{{WorkspaceID: ws.ID, UserID: user, Role: domain.RoleOwner, JoinedAt: time.Now()}}
		s.data = s.data.With(ws)
		claimed++
	}
	if claimed > 0 {
		s.log.Info().Int("workspaces", claimed).Str("user", user).Msg("claimed local workspaces")
		return s.saveLocked(ctx)
	}
	return nil
}

// online reports whether edits should reach a remote store.
func (s *WorkspaceService) online() bool {
	return s.opts.Remote != nil && s.opts.Auth.IsAuthenticated()
}

func (s *WorkspaceService) actor() string {
	return s.opts.Auth.CurrentUserID()
}

// OpenWorkspace selects id. When online it merges with the remote, starts
// the reconcile engine and joins presence. Remote failures leave the
// workspace open offline; pushes retry on their own.
func (s *WorkspaceService) OpenWorkspace(ctx context.Context, id string) (domain.Workspace, error) {
	if err := s.CloseWorkspace(ctx); err != nil {
		s.log.Warn().Err(err).Msg("close previous workspace")
	}

	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return domain.Workspace{}, ErrNotStarted
	}
	ws, ok := s.data.Workspaces[id]
	if !ok {
		s.mu.Unlock()
		return domain.Workspace{}, domain.NotFound("workspace", id)
	}
	s.data.CurrentWorkspaceID = id
	s.histories = make(map[string]*history.History[[]domain.Block])
	err := s.saveLocked(ctx)
	s.mu.Unlock()
	if err != nil {
		return ws, err
	}

	if s.online() {
		ws = s.startSession(ctx, ws)
	}
	s.emit(EventWorkspaceChanged, ws)
	return ws, nil
}

func (s *WorkspaceService) startSession(ctx context.Context, ws domain.Workspace) domain.Workspace {
	cfg := s.opts.Config
	eng := reconcile.New(reconcile.Deps{
		WorkspaceID:    ws.ID,
		Actor:          s.actor(),
		Remote:         s.opts.Remote,
		Local:          workspaceLocal{s: s, id: ws.ID},
		Events:         s.opts.Events,
		Emitter:        s.opts.Emitter,
		Clock:          s.clock,
		Logger:         s.opts.Logger,
		Debounce:       cfg.PushDebounce.Duration,
		ResyncSchedule: cfg.ResyncSchedule,
	})

	merged, err := eng.Bootstrap(ctx)
	if errors.Is(err, domain.ErrNotFound) && ws.OwnerID == s.actor() && s.opts.Members != nil {
		// First sync of a workspace created on this device.
		if err = s.opts.Members.BootstrapWorkspace(ctx, ws); err == nil {
			merged, err = eng.Bootstrap(ctx)
		}
	}
	if err != nil {
		s.log.Warn().Err(err).Str("workspace", ws.ID).Msg("bootstrap, staying offline")
		s.emit(reconcile.EventSyncError, reconcile.SyncErrorNotice{WorkspaceID: ws.ID, Op: "bootstrap", Err: err.Error(), Retrying: false})
	} else {
		ws = merged
	}
	if err := eng.Start(); err != nil {
		s.log.Warn().Err(err).Str("workspace", ws.ID).Msg("subscribe")
	}

	sess := &session{workspaceID: ws.ID, engine: eng}
	if s.opts.Presence != nil {
		self := presence.Entry{
			UserID:      s.actor(),
			Email:       s.opts.Auth.CurrentUserEmail(),
			DisplayName: cfg.User.DisplayName,
		}
		tracker := presence.NewTracker(s.opts.Presence, ws.ID, self, presence.Options{
			Heartbeat: cfg.PresenceHeartbeat,
			OnChange:  func(roster []presence.Entry) { s.emit(EventPresenceChanged, roster) },
			Logger:    s.opts.Logger,
		})
		if err := tracker.Join(ctx); err != nil {
			s.log.Warn().Err(err).Str("workspace", ws.ID).Msg("join presence")
		} else {
			sess.tracker = tracker
		}
	}

	s.mu.Lock()
	s.session = sess
	s.mu.Unlock()
	return ws
}

// CloseWorkspace flushes pending pushes and leaves presence. The workspace
// stays selected.
func (s *WorkspaceService) CloseWorkspace(ctx context.Context) error {
	s.mu.Lock()
	sess := s.session
	s.session = nil
	s.mu.Unlock()
	if sess == nil {
		return nil
	}

	var errs []error
	if sess.tracker != nil {
		errs = append(errs, sess.tracker.Close(ctx))
	}
	errs = append(errs, sess.engine.Close(ctx))
	return errors.Join(errs...)
}

// Close ends the session. The local store belongs to the caller.
func (s *WorkspaceService) Close(ctx context.Context) error {
	return s.CloseWorkspace(ctx)
}

// Flush pushes every pending edit of the open workspace now.
func (s *WorkspaceService) Flush(ctx context.Context) error {
	if eng := s.engine(); eng != nil {
		return eng.Flush(ctx)
	}
	return nil
}

// SyncState reports where pageID sits in the push cycle. Offline pages are
// always clean.
func (s *WorkspaceService) SyncState(pageID string) reconcile.PageState {
	if eng := s.engine(); eng != nil {
		return eng.State(pageID)
	}
	return reconcile.Clean
}

// Roster lists the users viewing the open workspace.
func (s *WorkspaceService) Roster() []presence.Entry {
	s.mu.Lock()
	sess := s.session
	s.mu.Unlock()
	if sess == nil || sess.tracker == nil {
		return nil
	}
	return sess.tracker.Roster()
}

func (s *WorkspaceService) engine() *reconcile.Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engineLocked(s.data.CurrentWorkspaceID)
}

func (s *WorkspaceService) engineLocked(workspaceID string) *reconcile.Engine {
	if s.session == nil || s.session.workspaceID != workspaceID {
		return nil
	}
	return s.session.engine
}

func (s *WorkspaceService) emit(event string, data any) {
	s.opts.Emitter.Emit(context.Background(), event, data)
}

// ── Persistence ────────────────────────────────────────────

func (s *WorkspaceService) saveLocked(ctx context.Context) error {
	if err := s.opts.Local.Save(ctx, s.data); err != nil {
		return fmt.Errorf("save local data: %w", err)
	}
	return nil
}

// mutate applies fn to the current workspace and persists the result. It
// returns the engine to notify, nil when offline.
func (s *WorkspaceService) mutate(ctx context.Context, fn func(domain.Workspace) (domain.Workspace, error)) (domain.Workspace, *reconcile.Engine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return domain.Workspace{}, nil, ErrNotStarted
	}
	ws, ok := s.data.Current()
	if !ok {
		return domain.Workspace{}, nil, ErrNoWorkspace
	}
	next, err := fn(ws)
	if err != nil {
		return ws, nil, err
	}
	s.data = s.data.With(next)
	if err := s.saveLocked(ctx); err != nil {
		return next, nil, err
	}
	return next, s.engineLocked(next.ID), nil
}

// current returns a copy of the selected workspace.
func (s *WorkspaceService) current() (domain.Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return domain.Workspace{}, ErrNotStarted
	}
	ws, ok := s.data.Current()
	if !ok {
		return domain.Workspace{}, ErrNoWorkspace
	}
	return ws.Clone(), nil
}

// workspaceLocal is the reconcile engine's view of one workspace.
type workspaceLocal struct {
	s  *WorkspaceService
	id string
}

func (l workspaceLocal) Snapshot() domain.Workspace {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	return l.s.data.Workspaces[l.id].Clone()
}

func (l workspaceLocal) Apply(ctx context.Context, fn func(domain.Workspace) domain.Workspace) (domain.Workspace, error) {
	s := l.s
	s.mu.Lock()
	defer s.mu.Unlock()
	ws, ok := s.data.Workspaces[l.id]
	if !ok {
		return domain.Workspace{}, domain.NotFound("workspace", l.id)
	}
	next := fn(ws)
	if l.id == s.data.CurrentWorkspaceID {
		s.syncHistoriesLocked(next)
	}
	s.data = s.data.With(next)
	return next.Clone(), s.saveLocked(ctx)
}

// syncHistoriesLocked restarts the undo history of pages whose blocks were
// replaced from outside and forgets pages that are gone.
func (s *WorkspaceService) syncHistoriesLocked(ws domain.Workspace) {
	for id, h := range s.histories {
		p, ok := ws.Pages[id]
		if !ok {
			delete(s.histories, id)
			continue
		}
		if !domain.BlocksEqual(h.Present(), p.Blocks) {
			h.Reset(domain.CloneBlocks(p.Blocks))
		}
	}
}

// ReplaceData adopts a cache written by another process. Pages of the open
// workspace that differ from memory are queued for push, new tombstones
// for remote delete. The replacement is not written back.
func (s *WorkspaceService) ReplaceData(ctx context.Context, data domain.AppData) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return ErrNotStarted
	}
	prev := s.data.Workspaces[s.data.CurrentWorkspaceID]
	s.data = data
	for _, ws := range data.Workspaces {
		for _, p := range ws.Pages {
			s.clock.Observe(p.UpdatedAt)
		}
		s.clock.Observe(ws.UpdatedAt)
	}

	var changed, deleted []string
	var eng *reconcile.Engine
	var orphan *session
	next, ok := data.Workspaces[prev.ID]
	switch {
	case prev.ID == "":
	case !ok:
		orphan = s.session
		s.session = nil
		s.histories = make(map[string]*history.History[[]domain.Block])
	default:
		s.syncHistoriesLocked(next)
		eng = s.engineLocked(next.ID)
		for id, p := range next.Pages {
			if old, had := prev.Pages[id]; !had || old.UpdatedAt != p.UpdatedAt {
				changed = append(changed, id)
			}
		}
		for _, id := range next.DeletedPageIDs {
			if !prev.IsDeleted(id) {
				deleted = append(deleted, id)
			}
		}
		if next.UpdatedAt != prev.UpdatedAt && eng != nil {
			eng.EnqueueWorkspace()
		}
	}
	s.mu.Unlock()

	s.log.Info().Int("changed", len(changed)).Int("deleted", len(deleted)).Msg("adopted external app data")
	if orphan != nil {
		if orphan.tracker != nil {
			_ = orphan.tracker.Close(ctx)
		}
		if err := orphan.engine.Close(ctx); err != nil {
			s.log.Warn().Err(err).Str("workspace", orphan.workspaceID).Msg("close session of removed workspace")
		}
	}
	if eng != nil {
		sort.Strings(changed)
		for _, id := range changed {
			eng.Enqueue(id)
		}
		if len(deleted) > 0 {
			eng.EnqueueDelete(deleted...)
		}
	}
	if ws, ok := data.Current(); ok {
		s.emit(EventWorkspaceChanged, ws)
	}
	return nil
}

// ── Workspaces ─────────────────────────────────────────────

// ListWorkspaces returns every cached workspace, oldest first.
func (s *WorkspaceService) ListWorkspaces() []domain.Workspace {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Workspace, 0, len(s.data.Workspaces))
	for _, ws := range s.data.Workspaces {
		out = append(out, ws.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out
}

// Current returns the selected workspace.
func (s *WorkspaceService) Current() (domain.Workspace, error) {
	return s.current()
}

// CreateWorkspace adds a workspace owned by the current user. When online
// it is also created remotely; a failure there is retried on open.
func (s *WorkspaceService) CreateWorkspace(ctx context.Context, name string) (domain.Workspace, error) {
	ws := domain.NewWorkspace(s.clock, name, s.actor())

	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return domain.Workspace{}, ErrNotStarted
	}
	s.data = s.data.With(ws)
	if s.data.CurrentWorkspaceID == "" {
		s.data.CurrentWorkspaceID = ws.ID
	}
	err := s.saveLocked(ctx)
	s.mu.Unlock()
	if err != nil {
		return ws, err
	}

	if s.online() && s.opts.Members != nil {
		if err := s.opts.Members.BootstrapWorkspace(ctx, ws); err != nil {
			s.log.Warn().Err(err).Str("workspace", ws.ID).Msg("create remote workspace")
		}
	}
	s.emit(EventWorkspaceChanged, ws)
	return ws, nil
}

// SwitchWorkspace closes the open workspace and opens id.
func (s *WorkspaceService) SwitchWorkspace(ctx context.Context, id string) (domain.Workspace, error) {
	return s.OpenWorkspace(ctx, id)
}

func (s *WorkspaceService) RenameWorkspace(ctx context.Context, name string) error {
	return s.updateSettings(ctx, func(ws domain.Workspace) domain.Workspace { return ws.Rename(s.clock, name) })
}

func (s *WorkspaceService) SetDarkMode(ctx context.Context, on bool) error {
	return s.updateSettings(ctx, func(ws domain.Workspace) domain.Workspace { return ws.SetDarkMode(s.clock, on) })
}

func (s *WorkspaceService) updateSettings(ctx context.Context, fn func(domain.Workspace) domain.Workspace) error {
	ws, eng, err := s.mutate(ctx, func(ws domain.Workspace) (domain.Workspace, error) {
		return fn(ws), nil
	})
	if err != nil {
		return err
	}
	if eng != nil {
		eng.EnqueueWorkspace()
	}
	s.emit(EventWorkspaceChanged, ws)
	return nil
}

// ── Membership ─────────────────────────────────────────────

func (s *WorkspaceService) membership() (*MembershipService, error) {
	if s.opts.Members == nil || !s.online() {
		return nil, ErrOffline
	}
	return s.opts.Members, nil
}

// Invite creates an invite to the open workspace.
func (s *WorkspaceService) Invite(ctx context.Context, role domain.Role) (domain.Invite, error) {
	m, err := s.membership()
	if err != nil {
		return domain.Invite{}, err
	}
	ws, err := s.current()
	if err != nil {
		return domain.Invite{}, err
	}
	return m.CreateInvite(ctx, s.actor(), ws.ID, role)
}

// AcceptInvite redeems token and caches the joined workspace locally.
func (s *WorkspaceService) AcceptInvite(ctx context.Context, token string) (AcceptResult, error) {
	m, err := s.membership()
	if err != nil {
		return AcceptResult{}, err
	}
	res, err := m.Accept(ctx, s.actor(), token)
	if err != nil {
		return res, err
	}
	if err := s.fetchWorkspace(ctx, res.Member.WorkspaceID); err != nil {
		s.log.Warn().Err(err).Str("workspace", res.Member.WorkspaceID).Msg("fetch joined workspace")
	}
	return res, nil
}

// fetchWorkspace caches a remote workspace that is not known locally yet.
func (s *WorkspaceService) fetchWorkspace(ctx context.Context, id string) error {
	s.mu.Lock()
	_, known := s.data.Workspaces[id]
	s.mu.Unlock()
	if known {
		return nil
	}

	ws, err := s.opts.Remote.GetWorkspace(ctx, id)
	if err != nil {
		return err
	}
	pages, err := s.opts.Remote.ListPages(ctx, id)
	if err != nil {
		return err
	}
	ws.Pages = make(map[string]domain.Page, len(pages))
	for _, p := range pages {
		ws = ws.PutPage(p)
	}
	if members, err := s.opts.Remote.ListMembers(ctx, id); err == nil {
		ws.Members = members
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = s.data.With(ws)
	return s.saveLocked(ctx)
}

// Members lists the open workspace's members from the remote store.
func (s *WorkspaceService) Members(ctx context.Context) ([]domain.Member, error) {
	m, err := s.membership()
	if err != nil {
		return nil, err
	}
	ws, err := s.current()
	if err != nil {
		return nil, err
	}
	return m.Members(ctx, ws.ID)
}

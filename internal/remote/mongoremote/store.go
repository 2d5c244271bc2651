// Package mongoremote stores the shared workspace rows in MongoDB.
package mongoremote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"notespace/internal/config"
	"notespace/internal/domain"
	"notespace/internal/remote"
)

type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

var _ remote.Backend = (*Store)(nil)

// BuildURI accepts a full mongodb:// or mongodb+srv:// string in DSN or
// Host, substituting the <password> placeholder, or builds one from
// host and port.
func BuildURI(cfg config.Remote, password string) string {
	uri := cfg.DSN
	if uri == "" && (strings.HasPrefix(cfg.Host, "mongodb://") || strings.HasPrefix(cfg.Host, "mongodb+srv://")) {
		uri = cfg.Host
	}
	if uri != "" {
		if password != "" {
			uri = strings.ReplaceAll(uri, "<password>", password)
			uri = strings.ReplaceAll(uri, "<db_password>", password)
		}
		return uri
	}
	port := cfg.Port
	if port == 0 {
		port = 27017
	}
	if cfg.Username != "" {
		return fmt.Sprintf("mongodb://%s:%s@%s:%d", cfg.Username, password, cfg.Host, port)
	}
	return fmt.Sprintf("mongodb://%s:%d", cfg.Host, port)
}

// Open connects to uri and uses database dbName.
func Open(ctx context.Context, uri, dbName string) (*Store, error) {
	if dbName == "" {
		dbName = "notespace"
	}
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return &Store{client: client, db: client.Database(dbName)}, nil
}

// Connect opens the database cfg describes and serves it through
// remote.Adapter.
func Connect(ctx context.Context, cfg config.Remote, password string, opts remote.Options) (*remote.Adapter, error) {
	s, err := Open(ctx, BuildURI(cfg, password), cfg.Database)
	if err != nil {
		return nil, domain.Transport("connect mongodb", err)
	}
	return remote.NewAdapter("mongodb", s, opts), nil
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) workspaces() *mongo.Collection { return s.db.Collection("workspaces") }
func (s *Store) pages() *mongo.Collection      { return s.db.Collection("pages") }
func (s *Store) members() *mongo.Collection    { return s.db.Collection("members") }
func (s *Store) invites() *mongo.Collection    { return s.db.Collection("invites") }

type settingsDoc struct {
	PageOrder []string `bson:"page_order"`
	DarkMode  bool     `bson:"dark_mode"`
	CreatedAt int64    `bson:"created_at"`
	UpdatedAt int64    `bson:"updated_at"`
}

type workspaceDoc struct {
	ID       string      `bson:"_id"`
	OwnerID  string      `bson:"owner_id"`
	Name     string      `bson:"name"`
	Settings settingsDoc `bson:"settings"`
}

func toWorkspaceDoc(ws domain.Workspace) workspaceDoc {
	return workspaceDoc{
		ID:      ws.ID,
		OwnerID: ws.OwnerID,
		Name:    ws.Name,
		Settings: settingsDoc{
			PageOrder: ws.PageOrder,
			DarkMode:  ws.DarkMode,
			CreatedAt: ws.CreatedAt,
			UpdatedAt: ws.UpdatedAt,
		},
	}
}

func (d workspaceDoc) workspace() domain.Workspace {
	return domain.Workspace{
		ID:        d.ID,
		OwnerID:   d.OwnerID,
		Name:      d.Name,
		PageOrder: d.Settings.PageOrder,
		DarkMode:  d.Settings.DarkMode,
		CreatedAt: d.Settings.CreatedAt,
		UpdatedAt: d.Settings.UpdatedAt,
	}
}

// Page rows keep the block tree as a JSON string so block attrs survive
// unchanged.
type pageDoc struct {
	ID          string `bson:"_id"`
	WorkspaceID string `bson:"workspace_id"`
	PageID      string `bson:"page_id"`
	Data        string `bson:"data"`
	CreatedAt   int64  `bson:"created_at"`
	UpdatedAt   int64  `bson:"updated_at"`
	UpdatedBy   string `bson:"updated_by"`
}

func pageKey(workspaceID, pageID string) string { return workspaceID + "/" + pageID }

func (d pageDoc) page() (domain.Page, error) {
	var p domain.Page
	if err := json.Unmarshal([]byte(d.Data), &p); err != nil {
		return p, fmt.Errorf("decode page %s: %w", d.PageID, err)
	}
	p.UpdatedAt = d.UpdatedAt
	p.UpdatedBy = d.UpdatedBy
	return p, nil
}

type memberDoc struct {
	ID          string `bson:"_id"`
	WorkspaceID string `bson:"workspace_id"`
	UserID      string `bson:"user_id"`
	Role        string `bson:"role"`
	JoinedAt    int64  `bson:"joined_at"`
}

func toMemberDoc(m domain.Member) memberDoc {
	return memberDoc{
		ID:          m.WorkspaceID + "/" + m.UserID,
		WorkspaceID: m.WorkspaceID,
		UserID:      m.UserID,
		Role:        string(m.Role),
		JoinedAt:    m.JoinedAt.UnixMilli(),
	}
}

type inviteDoc struct {
	ID          string `bson:"_id"`
	WorkspaceID string `bson:"workspace_id"`
	Token       string `bson:"token"`
	Role        string `bson:"role"`
	ExpiresAt   *int64 `bson:"expires_at,omitempty"`
	Revoked     bool   `bson:"revoked"`
	AcceptedBy  string `bson:"accepted_by"`
	CreatedBy   string `bson:"created_by"`
	CreatedAt   int64  `bson:"created_at"`
}

func toInviteDoc(inv domain.Invite) inviteDoc {
	d := inviteDoc{
		ID:          inv.ID,
		WorkspaceID: inv.WorkspaceID,
		Token:       inv.Token,
		Role:        string(inv.Role),
		Revoked:     inv.Revoked,
		AcceptedBy:  inv.AcceptedBy,
		CreatedBy:   inv.CreatedBy,
		CreatedAt:   inv.CreatedAt.UnixMilli(),
	}
	if inv.ExpiresAt != nil {
		ms := inv.ExpiresAt.UnixMilli()
		d.ExpiresAt = &ms
	}
	return d
}

func (d inviteDoc) invite() domain.Invite {
	inv := domain.Invite{
		ID:          d.ID,
		WorkspaceID: d.WorkspaceID,
		Token:       d.Token,
		Role:        domain.Role(d.Role),
		Revoked:     d.Revoked,
		AcceptedBy:  d.AcceptedBy,
		CreatedBy:   d.CreatedBy,
		CreatedAt:   time.UnixMilli(d.CreatedAt),
	}
	if d.ExpiresAt != nil {
		t := time.UnixMilli(*d.ExpiresAt)
		inv.ExpiresAt = &t
	}
	return inv
}

var byCreated = options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})

func (s *Store) InsertWorkspace(ctx context.Context, ws domain.Workspace, owner domain.Member) error {
	if _, err := s.workspaces().InsertOne(ctx, toWorkspaceDoc(ws)); err != nil {
		return fmt.Errorf("insert workspace: %w", err)
	}
	if _, err := s.members().InsertOne(ctx, toMemberDoc(owner)); err != nil {
		_, _ = s.workspaces().DeleteOne(ctx, bson.M{"_id": ws.ID})
		return fmt.Errorf("insert owner: %w", err)
	}
	return nil
}

func (s *Store) Workspace(ctx context.Context, id string) (domain.Workspace, error) {
	var d workspaceDoc
	err := s.workspaces().FindOne(ctx, bson.M{"_id": id}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Workspace{}, domain.NotFound("workspace", id)
	}
	if err != nil {
		return domain.Workspace{}, err
	}
	return d.workspace(), nil
}

func (s *Store) WorkspacesFor(ctx context.Context, userID string) ([]domain.Workspace, error) {
	cur, err := s.members().Find(ctx, bson.M{"user_id": userID})
	if err != nil {
		return nil, err
	}
	var rows []memberDoc
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(rows))
	for _, m := range rows {
		ids = append(ids, m.WorkspaceID)
	}

	wcur, err := s.workspaces().Find(ctx, bson.M{"_id": bson.M{"$in": ids}},
		options.Find().SetSort(bson.D{{Key: "settings.created_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var docs []workspaceDoc
	if err := wcur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]domain.Workspace, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.workspace())
	}
	return out, nil
}

func (s *Store) PutWorkspace(ctx context.Context, ws domain.Workspace) error {
	_, err := s.workspaces().ReplaceOne(ctx, bson.M{"_id": ws.ID}, toWorkspaceDoc(ws))
	return err
}

func (s *Store) DeleteWorkspace(ctx context.Context, id string) error {
	for _, coll := range []*mongo.Collection{s.pages(), s.members(), s.invites()} {
		if _, err := coll.DeleteMany(ctx, bson.M{"workspace_id": id}); err != nil {
			return fmt.Errorf("delete %s: %w", coll.Name(), err)
		}
	}
	_, err := s.workspaces().DeleteOne(ctx, bson.M{"_id": id})
	return err
}

func (s *Store) Pages(ctx context.Context, workspaceID string) ([]domain.Page, error) {
	cur, err := s.pages().Find(ctx, bson.M{"workspace_id": workspaceID}, byCreated)
	if err != nil {
		return nil, err
	}
	var docs []pageDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]domain.Page, 0, len(docs))
	for _, d := range docs {
		p, err := d.page()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Store) findPage(ctx context.Context, workspaceID, pageID string) (pageDoc, bool, error) {
	var d pageDoc
	err := s.pages().FindOne(ctx, bson.M{"_id": pageKey(workspaceID, pageID)}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return d, false, nil
	}
	return d, err == nil, err
}

func (s *Store) Page(ctx context.Context, workspaceID, pageID string) (domain.Page, error) {
	d, ok, err := s.findPage(ctx, workspaceID, pageID)
	if err != nil {
		return domain.Page{}, err
	}
	if !ok {
		return domain.Page{}, domain.NotFound("page", pageID)
	}
	return d.page()
}

// SwapPage filters the update on the stored updated_at, so a concurrent
// writer that got there first makes it match nothing.
func (s *Store) SwapPage(ctx context.Context, p domain.Page, expected *int64) (remote.Swap, error) {
	sw, err := s.swapPage(ctx, p, expected)
	if expected == nil && errors.Is(err, errLostRace) {
		return s.swapPage(ctx, p, nil)
	}
	return sw, err
}

// errLostRace marks a write another writer overtook between read and write.
var errLostRace = errors.New("concurrent write")

func (s *Store) swapPage(ctx context.Context, p domain.Page, expected *int64) (remote.Swap, error) {
	stored, exists, err := s.findPage(ctx, p.WorkspaceID, p.ID)
	if err != nil {
		return remote.Swap{}, err
	}
	conflict := func() (remote.Swap, error) {
		d, ok, err := s.findPage(ctx, p.WorkspaceID, p.ID)
		if err != nil || !ok {
			return remote.Swap{Conflict: true}, err
		}
		cur, err := d.page()
		if err != nil {
			return remote.Swap{}, err
		}
		return remote.Swap{Conflict: true, Current: &cur}, nil
	}

	if expected != nil && (!exists || *expected != stored.UpdatedAt) {
		return conflict()
	}

	saved := p.Clone()
	if exists {
		saved.CreatedAt = stored.CreatedAt
		saved.UpdatedAt = domain.NextVersion(p.UpdatedAt, stored.UpdatedAt)
	}
	data, err := json.Marshal(saved)
	if err != nil {
		return remote.Swap{}, fmt.Errorf("encode page: %w", err)
	}
	doc := pageDoc{
		ID:          pageKey(saved.WorkspaceID, saved.ID),
		WorkspaceID: saved.WorkspaceID,
		PageID:      saved.ID,
		Data:        string(data),
		CreatedAt:   saved.CreatedAt,
		UpdatedAt:   saved.UpdatedAt,
		UpdatedBy:   saved.UpdatedBy,
	}

	if !exists {
		if _, err := s.pages().InsertOne(ctx, doc); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				if expected == nil {
					return remote.Swap{}, fmt.Errorf("insert page: %w", errLostRace)
				}
				return conflict()
			}
			return remote.Swap{}, fmt.Errorf("insert page: %w", err)
		}
		return remote.Swap{Saved: saved, Created: true}, nil
	}

	res, err := s.pages().UpdateOne(ctx,
		bson.M{"_id": doc.ID, "updated_at": stored.UpdatedAt},
		bson.M{"$set": bson.M{
			"data":       doc.Data,
			"updated_at": doc.UpdatedAt,
			"updated_by": doc.UpdatedBy,
		}},
	)
	if err != nil {
		return remote.Swap{}, fmt.Errorf("update page: %w", err)
	}
	if res.MatchedCount == 0 {
		if expected == nil {
			return remote.Swap{}, fmt.Errorf("update page: %w", errLostRace)
		}
		return conflict()
	}
	return remote.Swap{Saved: saved}, nil
}

func (s *Store) DeletePage(ctx context.Context, workspaceID, pageID string) error {
	res, err := s.pages().DeleteOne(ctx, bson.M{"_id": pageKey(workspaceID, pageID)})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return domain.NotFound("page", pageID)
	}
	return nil
}

func (s *Store) Members(ctx context.Context, workspaceID string) ([]domain.Member, error) {
	cur, err := s.members().Find(ctx, bson.M{"workspace_id": workspaceID},
		options.Find().SetSort(bson.D{{Key: "user_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var docs []memberDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]domain.Member, 0, len(docs))
	for _, d := range docs {
		out = append(out, domain.Member{
			WorkspaceID: d.WorkspaceID,
			UserID:      d.UserID,
			Role:        domain.Role(d.Role),
			JoinedAt:    time.UnixMilli(d.JoinedAt),
		})
	}
	return out, nil
}

func (s *Store) PutMember(ctx context.Context, m domain.Member) error {
	d := toMemberDoc(m)
	_, err := s.members().ReplaceOne(ctx, bson.M{"_id": d.ID}, d, options.Replace().SetUpsert(true))
	return err
}

func (s *Store) DeleteMember(ctx context.Context, workspaceID, userID string) error {
	_, err := s.members().DeleteOne(ctx, bson.M{"_id": workspaceID + "/" + userID})
	return err
}

func (s *Store) PutInvite(ctx context.Context, inv domain.Invite) error {
	d := toInviteDoc(inv)
	_, err := s.invites().ReplaceOne(ctx, bson.M{"_id": d.ID}, d, options.Replace().SetUpsert(true))
	return err
}

func (s *Store) findInvite(ctx context.Context, filter bson.M, id string) (domain.Invite, error) {
	var d inviteDoc
	err := s.invites().FindOne(ctx, filter).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Invite{}, domain.NotFound("invite", id)
	}
	if err != nil {
		return domain.Invite{}, err
	}
	return d.invite(), nil
}

func (s *Store) Invite(ctx context.Context, id string) (domain.Invite, error) {
	return s.findInvite(ctx, bson.M{"_id": id}, id)
}

func (s *Store) InviteByToken(ctx context.Context, token string) (domain.Invite, error) {
	return s.findInvite(ctx, bson.M{"token": token}, "token")
}

func (s *Store) Invites(ctx context.Context, workspaceID string) ([]domain.Invite, error) {
	cur, err := s.invites().Find(ctx, bson.M{"workspace_id": workspaceID}, byCreated)
	if err != nil {
		return nil, err
	}
	var docs []inviteDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]domain.Invite, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.invite())
	}
	return out, nil
}

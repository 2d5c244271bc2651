package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"notespace/internal/domain"
)

// LocalStore is the durable on-device cache of AppData. Calls take effect
// in the order they are made.
type LocalStore interface {
	Load(ctx context.Context) (domain.AppData, error)
	Save(ctx context.Context, data domain.AppData) error
	Close() error
}

// Seed builds the AppData of a first run.
type Seed func() domain.AppData

func defaultSeed() domain.AppData {
	return domain.DefaultAppData(domain.NewLogicalClock(), "")
}

// legacyWorkspace is the version 1 layout: one workspace per device with its
// pages in an array, no membership, no page map.
type legacyWorkspace struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	OwnerID   string        `json:"ownerId"`
	Pages     []domain.Page `json:"pages"`
	DarkMode  bool          `json:"darkMode"`
	CreatedAt int64         `json:"createdAt"`
	UpdatedAt int64         `json:"updatedAt"`
}

type legacyBlob struct {
	Version   int              `json:"version"`
	Workspace *legacyWorkspace `json:"workspace"`
}

// decodeAppData reads either shape. upgraded is true when a version 1 blob
// was converted and must be written back.
func decodeAppData(raw []byte) (data domain.AppData, upgraded bool, err error) {
	var probe legacyBlob
	if err := json.Unmarshal(raw, &probe); err != nil {
		return data, false, fmt.Errorf("decode app data: %w", err)
	}
	if probe.Version < domain.AppDataVersion && probe.Workspace != nil {
		return upgradeLegacy(*probe.Workspace), true, nil
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return data, false, fmt.Errorf("decode app data: %w", err)
	}
	if data.Workspaces == nil {
		data.Workspaces = map[string]domain.Workspace{}
	}
	return data, false, nil
}

func upgradeLegacy(old legacyWorkspace) domain.AppData {
	id := old.ID
	if id == "" {
		id = domain.NewID()
	}
	ws := domain.Workspace{
		ID:        id,
		Name:      old.Name,
		OwnerID:   old.OwnerID,
		PageOrder: make([]string, 0, len(old.Pages)),
		Pages:     make(map[string]domain.Page, len(old.Pages)),
		DarkMode:  old.DarkMode,
		CreatedAt: old.CreatedAt,
		UpdatedAt: old.UpdatedAt,
	}
	if ws.Name == "" {
		ws.Name = "My Workspace"
	}
	for _, p := range old.Pages {
		if p.ID == "" {
			continue
		}
		p.WorkspaceID = id
		if _, dup := ws.Pages[p.ID]; !dup {
			ws.PageOrder = append(ws.PageOrder, p.ID)
		}
		ws.Pages[p.ID] = p
	}
	if ws.OwnerID != "" {
		ws.Members = []domain.Member{{WorkspaceID: id, UserID: ws.OwnerID, Role: domain.RoleOwner}}
	}
	return domain.AppData{
		Version:            domain.AppDataVersion,
		CurrentWorkspaceID: id,
		Workspaces:         map[string]domain.Workspace{id: ws},
	}
}

func encodeAppData(data domain.AppData) ([]byte, error) {
	data.Version = domain.AppDataVersion
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode app data: %w", err)
	}
	return raw, nil
}

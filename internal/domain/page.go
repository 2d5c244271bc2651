package domain

// Page is one document: an ordered block forest plus metadata. ParentID
// links pages into the workspace's navigation forest; empty means top level.
type Page struct {
	ID          string  `json:"id"`
	WorkspaceID string  `json:"workspaceId"`
	Title       string  `json:"title"`
	Icon        string  `json:"icon,omitempty"`
	Cover       string  `json:"cover,omitempty"`
	ParentID    string  `json:"parentId,omitempty"`
	Blocks      []Block `json:"blocks"`
	CreatedAt   int64   `json:"createdAt"`
	UpdatedAt   int64   `json:"updatedAt"`
	UpdatedBy   string  `json:"updatedBy,omitempty"`
}

const UntitledPage = "Untitled"

// NewPage returns an untitled page holding one empty text block.
func NewPage(c Clock, workspaceID, parentID string) Page {
	now := c.Now()
	return Page{
		ID:          NewID(),
		WorkspaceID: workspaceID,
		Title:       UntitledPage,
		ParentID:    parentID,
		Blocks:      []Block{NewBlock(BlockText, "")},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Clone deep-copies the block tree.
func (p Page) Clone() Page {
	p.Blocks = CloneBlocks(p.Blocks)
	return p
}

// SameContent compares everything a collaborator can edit, ignoring the
// version stamp.
func (p Page) SameContent(o Page) bool {
	return p.ID == o.ID && p.Title == o.Title && p.Icon == o.Icon &&
		p.Cover == o.Cover && p.ParentID == o.ParentID && BlocksEqual(p.Blocks, o.Blocks)
}

// NextVersion is the version a write proposing `proposed` lands at when the
// stored row is at `current`. Versions strictly increase per row.
func NextVersion(proposed, current int64) int64 {
	if proposed <= current {
		return current + 1
	}
	return proposed
}

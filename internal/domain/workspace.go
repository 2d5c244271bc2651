package domain

import "time"

// Workspace is the collaboration boundary. It owns its pages, members and
// invites. All mutators have value receivers and return a new Workspace;
// the receiver is never modified.
type Workspace struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	OwnerID   string          `json:"ownerId"`
	PageOrder []string        `json:"pageOrder"`
	Pages     map[string]Page `json:"pages"`
	DarkMode  bool            `json:"darkMode"`
	Members   []Member        `json:"members,omitempty"`
	Invites   []Invite        `json:"invites,omitempty"`
	// DeletedPageIDs are local deletions whose remote delete has not been
	// confirmed yet. They keep bootstrap from resurrecting those pages.
	DeletedPageIDs []string `json:"deletedPageIds,omitempty"`
	CreatedAt      int64    `json:"createdAt"`
	UpdatedAt      int64    `json:"updatedAt"`
}

// NewWorkspace creates an empty workspace owned by ownerID.
func NewWorkspace(c Clock, name, ownerID string) Workspace {
	now := c.Now()
	ws := Workspace{
		ID:        NewID(),
		Name:      name,
		OwnerID:   ownerID,
		PageOrder: []string{},
		Pages:     map[string]Page{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if ownerID != "" {
		ws.Members = []Member{{WorkspaceID: ws.ID, UserID: ownerID, Role: RoleOwner, JoinedAt: time.UnixMilli(now)}}
	}
	return ws
}

// Clone copies every map and slice. Block trees are shared because block
// values are never modified in place.
func (w Workspace) Clone() Workspace {
	out := w
	out.PageOrder = append([]string{}, w.PageOrder...)
	out.Pages = make(map[string]Page, len(w.Pages))
	for id, p := range w.Pages {
		out.Pages[id] = p
	}
	out.Members = append([]Member(nil), w.Members...)
	out.Invites = append([]Invite(nil), w.Invites...)
	out.DeletedPageIDs = append([]string(nil), w.DeletedPageIDs...)
	return out
}

func (w Workspace) Page(id string) (Page, bool) {
	p, ok := w.Pages[id]
	return p, ok
}

// OrderedPages lists pages in PageOrder. Pages missing from the order are
// appended in no particular order.
func (w Workspace) OrderedPages() []Page {
	out := make([]Page, 0, len(w.Pages))
	seen := make(map[string]bool, len(w.Pages))
	for _, id := range w.PageOrder {
		if p, ok := w.Pages[id]; ok && !seen[id] {
			out = append(out, p)
			seen[id] = true
		}
	}
	for id, p := range w.Pages {
		if !seen[id] {
			out = append(out, p)
		}
	}
	return out
}

// Children returns the direct child ids of id in PageOrder. An empty id
// selects top-level pages.
func (w Workspace) Children(id string) []string {
	var out []string
	for _, p := range w.OrderedPages() {
		if p.ParentID == id {
			out = append(out, p.ID)
		}
	}
	return out
}

// Descendants returns every page below id, pre-order, excluding id itself.
func (w Workspace) Descendants(id string) []string {
	var out []string
	seen := map[string]bool{id: true}
	var walk func(parent string)
	walk = func(parent string) {
		for _, c := range w.Children(parent) {
			if seen[c] {
				continue
			}
			seen[c] = true
			out = append(out, c)
			walk(c)
		}
	}
	walk(id)
	return out
}

// Ancestors returns the parent chain of id, nearest first. A broken chain
// (a parent that no longer exists, or a cycle in foreign data) stops the walk.
func (w Workspace) Ancestors(id string) []string {
	var out []string
	seen := map[string]bool{id: true}
	p, ok := w.Pages[id]
	for ok && p.ParentID != "" && !seen[p.ParentID] {
		out = append(out, p.ParentID)
		seen[p.ParentID] = true
		p, ok = w.Pages[p.ParentID]
	}
	return out
}

// ── Page transforms ────────────────────────────────────────

// CreatePage appends a new page to PageOrder. An unknown parent yields a
// top-level page.
func (w Workspace) CreatePage(c Clock, parentID string) (Workspace, Page) {
	if _, ok := w.Pages[parentID]; !ok {
		parentID = ""
	}
	p := NewPage(c, w.ID, parentID)
	out := w.Clone()
	out.Pages[p.ID] = p
	out.PageOrder = append(out.PageOrder, p.ID)
	out.UpdatedAt = p.CreatedAt
	return out, p
}

// DeletePage removes id and every page whose ancestor chain includes id, from
// both Pages and PageOrder at once. The removed ids are returned pre-order.
// Unknown ids are a no-op.
func (w Workspace) DeletePage(c Clock, id string) (Workspace, []string) {
	if _, ok := w.Pages[id]; !ok {
		return w, nil
	}
	removed := append([]string{id}, w.Descendants(id)...)
	gone := make(map[string]bool, len(removed))
	for _, r := range removed {
		gone[r] = true
	}
	out := w.Clone()
	for _, r := range removed {
		delete(out.Pages, r)
	}
	order := out.PageOrder[:0]
	for _, pid := range out.PageOrder {
		if !gone[pid] {
			order = append(order, pid)
		}
	}
	out.PageOrder = order
	out.UpdatedAt = c.Now()
	return out, removed
}

func (w Workspace) RenamePage(c Clock, id, title string) Workspace {
	return w.mutatePage(c, id, func(p *Page) { p.Title = title })
}

func (w Workspace) SetIcon(c Clock, id, icon string) Workspace {
	return w.mutatePage(c, id, func(p *Page) { p.Icon = icon })
}

func (w Workspace) SetCover(c Clock, id, cover string) Workspace {
	return w.mutatePage(c, id, func(p *Page) { p.Cover = cover })
}

// UpdatePageBlocks replaces the block forest of id.
func (w Workspace) UpdatePageBlocks(c Clock, id string, blocks []Block) Workspace {
	return w.mutatePage(c, id, func(p *Page) { p.Blocks = blocks })
}

// Reparent moves id under newParent (empty for top level). Moving a page
// under itself or one of its descendants is rejected.
func (w Workspace) Reparent(c Clock, id, newParent string) (Workspace, error) {
	if _, ok := w.Pages[id]; !ok {
		return w, NotFound("page", id)
	}
	if newParent != "" {
		if _, ok := w.Pages[newParent]; !ok {
			return w, invalid("reparent page", "parent %s does not exist", newParent)
		}
		if newParent == id {
			return w, invalid("reparent page", "page %s cannot be its own parent", id)
		}
		for _, d := range w.Descendants(id) {
			if d == newParent {
				return w, invalid("reparent page", "page %s is a descendant of %s", newParent, id)
			}
		}
	}
	return w.mutatePage(c, id, func(p *Page) { p.ParentID = newParent }), nil
}

// ReorderPages replaces PageOrder. order must be a permutation of the current
// PageOrder: same ids, no repeats, nothing missing.
func (w Workspace) ReorderPages(c Clock, order []string) (Workspace, error) {
	if len(order) != len(w.PageOrder) {
		return w, invalid("reorder pages", "expected %d ids, got %d", len(w.PageOrder), len(order))
	}
	known := make(map[string]bool, len(w.PageOrder))
	for _, id := range w.PageOrder {
		known[id] = true
	}
	seen := make(map[string]bool, len(order))
	for _, id := range order {
		if !known[id] {
			return w, invalid("reorder pages", "unknown page %s", id)
		}
		if seen[id] {
			return w, invalid("reorder pages", "page %s listed twice", id)
		}
		seen[id] = true
	}
	out := w.Clone()
	out.PageOrder = append([]string{}, order...)
	out.UpdatedAt = c.Now()
	return out, nil
}

// PutPage inserts or replaces p without touching its version stamp. New
// pages are appended to PageOrder.
func (w Workspace) PutPage(p Page) Workspace {
	out := w.Clone()
	if _, exists := out.Pages[p.ID]; !exists && !contains(out.PageOrder, p.ID) {
		out.PageOrder = append(out.PageOrder, p.ID)
	}
	p.WorkspaceID = w.ID
	out.Pages[p.ID] = p
	return out
}

// AdoptOrder takes preferred as PageOrder and appends the pages it leaves
// out in their current order. Ids of unknown pages are dropped. The version
// stamp is untouched.
func (w Workspace) AdoptOrder(preferred []string) Workspace {
	out := w.Clone()
	order := make([]string, 0, len(w.PageOrder))
	seen := make(map[string]bool, len(w.PageOrder))
	for _, id := range preferred {
		if _, ok := w.Pages[id]; ok && !seen[id] {
			order = append(order, id)
			seen[id] = true
		}
	}
	for _, id := range w.PageOrder {
		if _, ok := w.Pages[id]; ok && !seen[id] {
			order = append(order, id)
			seen[id] = true
		}
	}
	out.PageOrder = order
	return out
}

// ── Settings ───────────────────────────────────────────────

func (w Workspace) SetDarkMode(c Clock, on bool) Workspace {
	out := w.Clone()
	out.DarkMode = on
	out.UpdatedAt = c.Now()
	return out
}

func (w Workspace) Rename(c Clock, name string) Workspace {
	out := w.Clone()
	out.Name = name
	out.UpdatedAt = c.Now()
	return out
}

// ── Tombstones ─────────────────────────────────────────────

// MarkDeleted records ids as locally deleted and awaiting remote removal.
func (w Workspace) MarkDeleted(ids ...string) Workspace {
	out := w.Clone()
	for _, id := range ids {
		if !contains(out.DeletedPageIDs, id) {
			out.DeletedPageIDs = append(out.DeletedPageIDs, id)
		}
	}
	return out
}

// ClearDeleted drops id from the tombstone list once the remote agrees.
func (w Workspace) ClearDeleted(id string) Workspace {
	if !contains(w.DeletedPageIDs, id) {
		return w
	}
	out := w.Clone()
	kept := out.DeletedPageIDs[:0]
	for _, d := range out.DeletedPageIDs {
		if d != id {
			kept = append(kept, d)
		}
	}
	out.DeletedPageIDs = kept
	return out
}

func (w Workspace) IsDeleted(id string) bool {
	return contains(w.DeletedPageIDs, id)
}

func (w Workspace) mutatePage(c Clock, id string, fn func(*Page)) Workspace {
	p, ok := w.Pages[id]
	if !ok {
		return w
	}
	out := w.Clone()
	fn(&p)
	p.UpdatedAt = c.Now()
	out.Pages[id] = p
	out.UpdatedAt = p.UpdatedAt
	return out
}

func contains(list []string, id string) bool {
	for _, s := range list {
		if s == id {
			return true
		}
	}
	return false
}

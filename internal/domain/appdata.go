package domain

// AppDataVersion is the current on-disk shape of AppData.
const AppDataVersion = 2

// AppData is the whole offline cache: every workspace this device knows,
// with pages embedded.
type AppData struct {
	Version            int                  `json:"version"`
	CurrentWorkspaceID string               `json:"currentWorkspaceId"`
	Workspaces         map[string]Workspace `json:"workspaces"`
}

// Current returns the selected workspace.
func (a AppData) Current() (Workspace, bool) {
	ws, ok := a.Workspaces[a.CurrentWorkspaceID]
	return ws, ok
}

// With returns a copy of a holding ws.
func (a AppData) With(ws Workspace) AppData {
	out := a
	out.Workspaces = make(map[string]Workspace, len(a.Workspaces)+1)
	for id, w := range a.Workspaces {
		out.Workspaces[id] = w
	}
	out.Workspaces[ws.ID] = ws
	return out
}


// DefaultAppData builds the first-run cache: one workspace holding the
// onboarding page.
func DefaultAppData(c Clock, ownerID string) AppData {
	ws := NewWorkspace(c, "My Workspace", ownerID)
	page := OnboardingPage(c, ws.ID)
	ws = ws.PutPage(page)
	return AppData{
		Version:            AppDataVersion,
		CurrentWorkspaceID: ws.ID,
		Workspaces:         map[string]Workspace{ws.ID: ws},
	}
}

// OnboardingPage is the fixed welcome document of a fresh install.
func OnboardingPage(c Clock, workspaceID string) Page {
	p := NewPage(c, workspaceID, "")
	p.Title = "Getting Started"
	p.Icon = "👋"
	todo := NewBlock(BlockTodo, "Check off this to-do")
	done := NewBlock(BlockTodo, "Open this workspace for the first time")
	done.Attrs = TodoAttrs{Checked: true}
	toggle := NewBlock(BlockToggle, "Pages can nest")
	toggle.Children = []Block{NewBlock(BlockText, "Blocks inside a toggle are hidden until it opens.")}
	p.Blocks = []Block{
		NewBlock(BlockHeading1, "Welcome to your workspace"),
		NewBlock(BlockText, "Everything here is saved on this device and syncs when you sign in."),
		done,
		todo,
		NewBlock(BlockBulleted, "Type to add a block"),
		NewBlock(BlockBulleted, "Copy blocks between pages without losing structure"),
		toggle,
		NewBlock(BlockDivider, ""),
		NewBlock(BlockQuote, "Edits made offline are pushed once you are back online."),
	}
	return p
}

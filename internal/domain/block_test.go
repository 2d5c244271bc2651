package domain_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notespace/internal/domain"
)

func sampleTree() domain.Block {
	root := domain.NewBlock(domain.BlockToggle, "root")
	child := domain.NewBlock(domain.BlockTodo, "child")
	child.Children = []domain.Block{domain.NewBlock(domain.BlockText, "grandchild")}
	root.Children = []domain.Block{child, domain.NewBlock(domain.BlockCode, "x := 1")}
	return root
}

func collectIDs(list []domain.Block) []string {
	var ids []string
	for _, b := range list {
		ids = append(ids, b.ID)
		ids = append(ids, collectIDs(b.Children)...)
	}
	return ids
}

type shape struct {
	Type     domain.BlockType
	Content  string
	Children []shape
}

func shapeOf(list []domain.Block) []shape {
	var out []shape
	for _, b := range list {
		out = append(out, shape{Type: b.Type, Content: b.Content, Children: shapeOf(b.Children)})
	}
	return out
}

func TestNewBlock_Defaults(t *testing.T) {
	b := domain.NewBlock(domain.BlockTodo, "buy milk")
	assert.NotEmpty(t, b.ID)
	assert.Equal(t, domain.TodoAttrs{}, b.Attrs)

	d := domain.NewBlock(domain.BlockDivider, "ignored")
	assert.Empty(t, d.Content)
	assert.Nil(t, d.Attrs)

	unknown := domain.NewBlock("sparkle", "hi")
	assert.Equal(t, domain.BlockText, unknown.Type)
}

func TestDeepDuplicate_DisjointIDsSameShape(t *testing.T) {
	orig := sampleTree()
	dup := domain.DeepDuplicate(orig)

	assert.Equal(t, shapeOf([]domain.Block{orig}), shapeOf([]domain.Block{dup}))

	origIDs := collectIDs([]domain.Block{orig})
	dupIDs := collectIDs([]domain.Block{dup})
	require.Len(t, dupIDs, len(origIDs))
	for _, id := range dupIDs {
		assert.NotContains(t, origIDs, id)
	}
}

func TestDuplicate_DropsChildren(t *testing.T) {
	orig := sampleTree()
	dup := domain.Duplicate(orig)
	assert.NotEqual(t, orig.ID, dup.ID)
	assert.Equal(t, orig.Content, dup.Content)
	assert.Empty(t, dup.Children)
}

func TestChangeType(t *testing.T) {
	b := domain.NewBlock(domain.BlockText, "hello")

	h := domain.ChangeType(b, domain.BlockHeading2)
	assert.Equal(t, b.ID, h.ID)
	assert.Equal(t, "hello", h.Content)

	div := domain.ChangeType(b, domain.BlockDivider)
	assert.Empty(t, div.Content)

	tbl := domain.ChangeType(b, domain.BlockTable)
	assert.Empty(t, tbl.Content)
	assert.Equal(t, domain.PlaceholderTable(), tbl.Attrs)

	todo := domain.ChangeType(b, domain.BlockTodo)
	assert.Equal(t, domain.TodoAttrs{}, todo.Attrs)
}

func TestMerge(t *testing.T) {
	a := domain.NewBlock(domain.BlockHeading1, "first")
	a.Children = []domain.Block{domain.NewBlock(domain.BlockText, "a1")}
	b := domain.NewBlock(domain.BlockText, "second")
	b.Children = []domain.Block{domain.NewBlock(domain.BlockText, "b1")}

	m := domain.Merge(a, b)
	assert.Equal(t, a.ID, m.ID)
	assert.Equal(t, domain.BlockHeading1, m.Type)
	assert.Equal(t, "first\nsecond", m.Content)
	require.Len(t, m.Children, 2)
	assert.Equal(t, "a1", m.Children[0].Content)
	assert.Equal(t, "b1", m.Children[1].Content)
	assert.Len(t, a.Children, 1, "input must not be modified")
}

func TestMove(t *testing.T) {
	list := []domain.Block{
		domain.NewBlock(domain.BlockText, "a"),
		domain.NewBlock(domain.BlockText, "b"),
		domain.NewBlock(domain.BlockText, "c"),
		domain.NewBlock(domain.BlockText, "d"),
	}
	contents := func(l []domain.Block) []string {
		var out []string
		for _, b := range l {
			out = append(out, b.Content)
		}
		return out
	}

	assert.Equal(t, []string{"b", "c", "a", "d"}, contents(domain.Move(list, 0, 2)))
	assert.Equal(t, []string{"d", "a", "b", "c"}, contents(domain.Move(list, 3, 0)))
	assert.Equal(t, []string{"a", "b", "c", "d"}, contents(list), "input must not be modified")

	for i := range list {
		for j := range list {
			moved := domain.Move(list, i, j)
			assert.ElementsMatch(t, list, moved)
		}
	}

	assert.Equal(t, list, domain.Move(list, 1, 1))
	assert.Equal(t, list, domain.Move(list, -1, 2))
	assert.Equal(t, list, domain.Move(list, 0, 4))
	assert.Nil(t, domain.Move(nil, 0, 1))
}

func TestFindByID(t *testing.T) {
	root := sampleTree()
	grand := root.Children[0].Children[0]
	list := []domain.Block{root}

	_, ok := domain.FindByID(list, grand.ID)
	assert.False(t, ok, "top-level search must not descend")

	found, ok := domain.DeepFindByID(list, grand.ID)
	require.True(t, ok)
	assert.Equal(t, "grandchild", found.Content)

	_, ok = domain.DeepFindByID(list, "missing")
	assert.False(t, ok)
}

func TestTreeEdits(t *testing.T) {
	root := sampleTree()
	child := root.Children[0]
	list := []domain.Block{root}

	updated, ok := domain.UpdateBlock(list, child.ID, domain.ToggleTodo)
	require.True(t, ok)
	got, _ := domain.DeepFindByID(updated, child.ID)
	assert.Equal(t, domain.TodoAttrs{Checked: true}, got.Attrs)
	orig, _ := domain.DeepFindByID(list, child.ID)
	assert.Equal(t, domain.TodoAttrs{}, orig.Attrs)

	nb := domain.NewBlock(domain.BlockQuote, "inserted")
	inserted := domain.InsertAfter(list, child.ID, nb)
	require.Len(t, inserted[0].Children, 3)
	assert.Equal(t, nb.ID, inserted[0].Children[1].ID)

	removed, ok := domain.RemoveBlock(inserted, child.ID)
	require.True(t, ok)
	_, found := domain.DeepFindByID(removed, child.Children[0].ID)
	assert.False(t, found, "subtree goes with its root")

	appended := domain.InsertAfter(list, "", nb)
	assert.Len(t, appended, 2)
}

func TestBlockJSON_TaggedAttrs(t *testing.T) {
	b := domain.NewBlock(domain.BlockCode, "fmt.Println()")
	b.Attrs = domain.CodeAttrs{Language: "go"}
	img := domain.NewBlock(domain.BlockImage, "")
	img.Attrs = domain.ImageAttrs{URL: "https://example.com/a.png", Width: 320}
	b.Children = []domain.Block{img}

	data, err := json.Marshal(b)
	require.NoError(t, err)

	var decoded domain.Block
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, domain.CodeAttrs{Language: "go"}, decoded.Attrs)
	require.Len(t, decoded.Children, 1)
	assert.Equal(t, domain.ImageAttrs{URL: "https://example.com/a.png", Width: 320}, decoded.Children[0].Attrs)
	assert.True(t, domain.BlocksEqual([]domain.Block{b}, []domain.Block{decoded}))
}

func TestBlockJSON_MissingAttrsGetDefaults(t *testing.T) {
	var b domain.Block
	require.NoError(t, json.Unmarshal([]byte(`{"id":"x","type":"toggle","content":"t"}`), &b))
	assert.Equal(t, domain.ToggleAttrs{}, b.Attrs)
}

func TestForest(t *testing.T) {
	root := sampleTree()
	f, err := domain.NewForest([]domain.Block{root})
	require.NoError(t, err)

	grand := root.Children[0].Children[0]
	assert.Equal(t, 2, f.Depth(grand.ID))
	assert.Equal(t, -1, f.Depth("missing"))
	parent, ok := f.Parent(grand.ID)
	require.True(t, ok)
	assert.Equal(t, root.Children[0].ID, parent)
	assert.Equal(t, collectIDs([]domain.Block{root}), f.IDs())
	assert.True(t, domain.BlocksEqual([]domain.Block{root}, f.Blocks()))

	fresh := f.Reidentify()
	assert.Equal(t, shapeOf(f.Blocks()), shapeOf(fresh.Blocks()))
	for _, id := range fresh.IDs() {
		_, found := f.Find(id)
		assert.False(t, found)
	}
}

func TestDeepDuplicateAll_RejectsReusedIDs(t *testing.T) {
	a := domain.NewBlock(domain.BlockText, "a")
	parent := domain.NewBlock(domain.BlockToggle, "p")
	parent.Children = []domain.Block{a}

	dup, err := domain.DeepDuplicateAll([]domain.Block{parent, a})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Nil(t, dup)

	dup, err = domain.DeepDuplicateAll([]domain.Block{parent})
	require.NoError(t, err)
	assert.Equal(t, shapeOf([]domain.Block{parent}), shapeOf(dup))
	assert.NotEqual(t, parent.ID, dup[0].ID)
	assert.NotEqual(t, a.ID, dup[0].Children[0].ID)
}

func TestForest_RejectsDuplicateIDs(t *testing.T) {
	a := domain.NewBlock(domain.BlockText, "a")
	b := a
	b.Content = "b"
	parent := domain.NewBlock(domain.BlockToggle, "p")
	parent.Children = []domain.Block{b}

	_, err := domain.NewForest([]domain.Block{a, parent})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrValidation)
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
}

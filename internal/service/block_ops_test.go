package service_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notespace/internal/config"
	"notespace/internal/domain"
	"notespace/internal/service"
	"notespace/internal/storage"
)

// pageWith creates a page whose blocks are exactly the given contents as
// text blocks.
func pageWith(t *testing.T, svc *service.WorkspaceService, contents ...string) (domain.Page, []domain.Block) {
	t.Helper()
	ctx := context.Background()
	p, err := svc.CreatePage(ctx, "")
	require.NoError(t, err)
	placeholder := p.Blocks[0].ID

	var added []domain.Block
	after := placeholder
	for _, c := range contents {
		b, err := svc.AddBlock(ctx, p.ID, after, domain.BlockText, c)
		require.NoError(t, err)
		added = append(added, b)
		after = b.ID
	}
	require.NoError(t, svc.DeleteBlock(ctx, p.ID, placeholder))
	return p, added
}

func contents(t *testing.T, svc *service.WorkspaceService, pageID string) []string {
	t.Helper()
	p, err := svc.GetPage(pageID)
	require.NoError(t, err)
	out := make([]string, len(p.Blocks))
	for i, b := range p.Blocks {
		out[i] = b.Content
	}
	return out
}

func TestBlocks_AddUpdateDelete(t *testing.T) {
	svc, _, _ := newOffline(t)
	ctx := context.Background()
	p, blocks := pageWith(t, svc, "one", "two", "three")

	require.NoError(t, svc.UpdateBlockContent(ctx, p.ID, blocks[1].ID, "TWO"))
	require.NoError(t, svc.DeleteBlock(ctx, p.ID, blocks[0].ID))
	assert.Equal(t, []string{"TWO", "three"}, contents(t, svc, p.ID))

	assert.ErrorIs(t, svc.UpdateBlockContent(ctx, p.ID, "nope", "x"), domain.ErrNotFound)
	assert.ErrorIs(t, svc.DeleteBlock(ctx, "no-page", blocks[1].ID), domain.ErrNotFound)
	_, err := svc.AddBlock(ctx, p.ID, "", domain.BlockType("hologram"), "")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestBlocks_TypeAndTodo(t *testing.T) {
	svc, _, _ := newOffline(t)
	ctx := context.Background()
	p, blocks := pageWith(t, svc, "buy milk")
	id := blocks[0].ID

	require.NoError(t, svc.ChangeBlockType(ctx, p.ID, id, domain.BlockTodo))
	require.NoError(t, svc.ToggleTodo(ctx, p.ID, id))

	got, err := svc.GetPage(p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BlockTodo, got.Blocks[0].Type)
	assert.Equal(t, domain.TodoAttrs{Checked: true}, got.Blocks[0].Attrs)
	assert.Equal(t, "buy milk", got.Blocks[0].Content)

	out, err := svc.ExportPlainText(p.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "buy milk")
}

func TestBlocks_MergeMoveDuplicate(t *testing.T) {
	svc, _, _ := newOffline(t)
	ctx := context.Background()
	p, blocks := pageWith(t, svc, "a", "b", "c")

	require.NoError(t, svc.MergeWithPrevious(ctx, p.ID, blocks[1].ID))
	assert.Equal(t, []string{"a\nb", "c"}, contents(t, svc, p.ID))

	// Nothing precedes the first block.
	require.NoError(t, svc.MergeWithPrevious(ctx, p.ID, blocks[0].ID))
	assert.Equal(t, []string{"a\nb", "c"}, contents(t, svc, p.ID))

	require.NoError(t, svc.MoveBlock(ctx, p.ID, 1, 0))
	assert.Equal(t, []string{"c", "a\nb"}, contents(t, svc, p.ID))

	dup, err := svc.DuplicateBlock(ctx, p.ID, blocks[2].ID)
	require.NoError(t, err)
	assert.NotEqual(t, blocks[2].ID, dup.ID)
	assert.Equal(t, []string{"c", "c", "a\nb"}, contents(t, svc, p.ID))
}

func TestBlocks_CopyPaste(t *testing.T) {
	svc, _, _ := newOffline(t)
	ctx := context.Background()
	src, blocks := pageWith(t, svc, "x", "y")
	dst, _ := pageWith(t, svc, "z")

	payload, err := svc.CopyBlocks(src.ID, blocks[0].ID, blocks[1].ID)
	require.NoError(t, err)
	assert.Contains(t, payload, domain.ClipboardMarker)

	pasted, err := svc.PasteBlocks(ctx, dst.ID, "", "")
	require.NoError(t, err)
	require.Len(t, pasted, 2)
	assert.NotEqual(t, blocks[0].ID, pasted[0].ID, "paste assigns fresh ids")
	assert.Equal(t, []string{"z", "x", "y"}, contents(t, svc, dst.ID))

	// Foreign text is parsed as plain text.
	_, err = svc.PasteBlocks(ctx, dst.ID, pasted[0].ID, "- from elsewhere")
	require.NoError(t, err)
	got, err := svc.GetPage(dst.ID)
	require.NoError(t, err)
	require.Len(t, got.Blocks, 4)
	assert.Equal(t, domain.BlockBulleted, got.Blocks[2].Type)
	assert.Equal(t, "from elsewhere", got.Blocks[2].Content)

	_, err = svc.CopyBlocks(src.ID, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestHistory_UndoRedo(t *testing.T) {
	svc, _, _ := newOffline(t)
	ctx := context.Background()
	p, blocks := pageWith(t, svc, "draft")

	require.NoError(t, svc.UpdateBlockContent(ctx, p.ID, blocks[0].ID, "final"))
	ok, err := svc.Undo(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"draft"}, contents(t, svc, p.ID))

	ok, err = svc.Redo(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"final"}, contents(t, svc, p.ID))

	ok, err = svc.Redo(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, ok, "nothing left to redo")

	undo, redo := svc.CanUndo(p.ID)
	assert.True(t, undo)
	assert.False(t, redo)
}

func TestHistory_NewEditClearsRedo(t *testing.T) {
	svc, _, _ := newOffline(t)
	ctx := context.Background()
	p, blocks := pageWith(t, svc, "v1")

	require.NoError(t, svc.UpdateBlockContent(ctx, p.ID, blocks[0].ID, "v2"))
	_, err := svc.Undo(ctx, p.ID)
	require.NoError(t, err)
	require.NoError(t, svc.UpdateBlockContent(ctx, p.ID, blocks[0].ID, "v3"))

	ok, err := svc.Redo(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{"v3"}, contents(t, svc, p.ID))
}

func TestHistory_RapidEditsCoalesce(t *testing.T) {
	cfg := testConfig()
	cfg.HistoryDebounce = config.Duration{Duration: time.Hour}
	svc := service.NewWorkspaceService(service.Options{
		Local:  storage.NewFileStore(filepath.Join(t.TempDir(), "appdata.json"), emptySeed, zerolog.Nop()),
		Logger: zerolog.Nop(),
		Config: cfg,
	})
	ctx := context.Background()
	require.NoError(t, svc.Start(ctx))

	p, err := svc.CreatePage(ctx, "")
	require.NoError(t, err)
	id := p.Blocks[0].ID
	for _, text := range []string{"h", "he", "hel", "hello"} {
		require.NoError(t, svc.UpdateBlockContent(ctx, p.ID, id, text))
	}

	ok, err := svc.Undo(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{""}, contents(t, svc, p.ID), "one undo step for the whole burst")
	ok, err = svc.Undo(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

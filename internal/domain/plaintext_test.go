package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notespace/internal/domain"
)

func TestToPlainText(t *testing.T) {
	done := domain.NewBlock(domain.BlockTodo, "ship it")
	done.Attrs = domain.TodoAttrs{Checked: true}
	code := domain.NewBlock(domain.BlockCode, "a := 1\nb := 2")
	code.Attrs = domain.CodeAttrs{Language: "go"}
	file := domain.NewBlock(domain.BlockFile, "")
	file.Attrs = domain.FileAttrs{Name: "report.pdf"}
	toggle := domain.NewBlock(domain.BlockToggle, "more")
	toggle.Children = []domain.Block{domain.NewBlock(domain.BlockBulleted, "hidden")}

	blocks := []domain.Block{
		domain.NewBlock(domain.BlockHeading1, "Title"),
		domain.NewBlock(domain.BlockHeading3, "Small"),
		domain.NewBlock(domain.BlockNumbered, "one"),
		domain.NewBlock(domain.BlockNumbered, "two"),
		done,
		domain.NewBlock(domain.BlockTodo, "later"),
		domain.NewBlock(domain.BlockQuote, "wise"),
		domain.NewBlock(domain.BlockDivider, ""),
		code,
		domain.NewBlock(domain.BlockImage, ""),
		file,
		toggle,
	}

	want := "# Title\n" +
		"### Small\n" +
		"1. one\n" +
		"2. two\n" +
		"[x] ship it\n" +
		"[ ] later\n" +
		"> wise\n" +
		"---\n" +
		"```go\na := 1\nb := 2\n```\n" +
		"[image]\n" +
		"[file: report.pdf]\n" +
		"▸ more\n" +
		"  - hidden"
	assert.Equal(t, want, domain.ToPlainText(blocks))
}

func TestFromPlainText(t *testing.T) {
	text := "# Title\n\n- item\n  [x] nested done\n1. first\n> quoted\n---\n```sh\necho hi\n```\nplain words\n[table]"
	blocks := domain.FromPlainText(text)
	require.Len(t, blocks, 8)

	assert.Equal(t, domain.BlockHeading1, blocks[0].Type)
	assert.Equal(t, "Title", blocks[0].Content)

	assert.Equal(t, domain.BlockBulleted, blocks[1].Type)
	require.Len(t, blocks[1].Children, 1)
	assert.Equal(t, domain.BlockTodo, blocks[1].Children[0].Type)
	assert.Equal(t, domain.TodoAttrs{Checked: true}, blocks[1].Children[0].Attrs)

	assert.Equal(t, domain.BlockNumbered, blocks[2].Type)
	assert.Equal(t, "first", blocks[2].Content)
	assert.Equal(t, domain.BlockQuote, blocks[3].Type)
	assert.Equal(t, domain.BlockDivider, blocks[4].Type)

	assert.Equal(t, domain.BlockCode, blocks[5].Type)
	assert.Equal(t, "echo hi", blocks[5].Content)
	assert.Equal(t, domain.CodeAttrs{Language: "sh"}, blocks[5].Attrs)

	assert.Equal(t, domain.BlockText, blocks[6].Type)
	assert.Equal(t, domain.BlockTable, blocks[7].Type)
}

func TestPlainTextRoundTripKeepsStructure(t *testing.T) {
	orig := []domain.Block{
		domain.NewBlock(domain.BlockHeading2, "Plan"),
		domain.NewBlock(domain.BlockBulleted, "a"),
		domain.NewBlock(domain.BlockTodo, "b"),
	}
	back := domain.FromPlainText(domain.ToPlainText(orig))
	assert.Equal(t, shapeOf(orig), shapeOf(back))
	for i := range orig {
		assert.NotEqual(t, orig[i].ID, back[i].ID)
	}
}

func TestClipboardRoundTrip(t *testing.T) {
	blocks := []domain.Block{sampleTree(), domain.NewBlock(domain.BlockQuote, "q")}
	payload := domain.SerializeClipboard(blocks)
	require.Contains(t, payload, domain.ClipboardMarker)

	pasted, ok := domain.DeserializeClipboard(payload)
	require.True(t, ok)
	assert.Equal(t, shapeOf(blocks), shapeOf(pasted))

	origIDs := collectIDs(blocks)
	for _, id := range collectIDs(pasted) {
		assert.NotContains(t, origIDs, id)
	}
	require.NoError(t, domain.ValidateBlocks(append(blocks, pasted...)))
}

func TestClipboardRejectsForeignPayloads(t *testing.T) {
	for _, payload := range []string{
		"",
		"just some text",
		"[{\"id\":\"a\"}]",
		domain.ClipboardMarker + "{not json",
		domain.ClipboardMarker + `[{"id":"a","type":"text"},{"id":"a","type":"text"}]`,
	} {
		assert.NotPanics(t, func() {
			blocks, ok := domain.DeserializeClipboard(payload)
			assert.False(t, ok, payload)
			assert.Nil(t, blocks)
		})
	}
}

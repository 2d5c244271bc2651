package domain

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

type BlockType string

const (
	BlockText     BlockType = "text"
	BlockHeading1 BlockType = "heading1"
	BlockHeading2 BlockType = "heading2"
	BlockHeading3 BlockType = "heading3"
	BlockBulleted BlockType = "bulleted"
	BlockNumbered BlockType = "numbered"
	BlockTodo     BlockType = "todo"
	BlockCode     BlockType = "code"
	BlockQuote    BlockType = "quote"
	BlockDivider  BlockType = "divider"
	BlockToggle   BlockType = "toggle"
	BlockCallout  BlockType = "callout"
	BlockImage    BlockType = "image"
	BlockTable    BlockType = "table"
	BlockVideo    BlockType = "video"
	BlockFile     BlockType = "file"
)

var blockTypes = map[BlockType]struct{}{
	BlockText: {}, BlockHeading1: {}, BlockHeading2: {}, BlockHeading3: {},
	BlockBulleted: {}, BlockNumbered: {}, BlockTodo: {}, BlockCode: {},
	BlockQuote: {}, BlockDivider: {}, BlockToggle: {}, BlockCallout: {},
	BlockImage: {}, BlockTable: {}, BlockVideo: {}, BlockFile: {},
}

func (t BlockType) Valid() bool {
	_, ok := blockTypes[t]
	return ok
}

// Block is one node of a page's document tree. Block values are treated as
// immutable: every operation in this file returns fresh slices.
type Block struct {
	ID       string    `json:"id"`
	Type     BlockType `json:"type"`
	Content  string    `json:"content"`
	Attrs    Attrs     `json:"attrs,omitempty"`
	Children []Block   `json:"children,omitempty"`
}

type blockJSON struct {
	ID       string          `json:"id"`
	Type     BlockType       `json:"type"`
	Content  string          `json:"content"`
	Attrs    json.RawMessage `json:"attrs,omitempty"`
	Children []Block         `json:"children,omitempty"`
}

func (b Block) MarshalJSON() ([]byte, error) {
	out := blockJSON{ID: b.ID, Type: b.Type, Content: b.Content, Children: b.Children}
	if b.Attrs != nil {
		raw, err := json.Marshal(b.Attrs)
		if err != nil {
			return nil, fmt.Errorf("encode attrs of %s: %w", b.ID, err)
		}
		out.Attrs = raw
	}
	return json.Marshal(out)
}

func (b *Block) UnmarshalJSON(data []byte) error {
	var in blockJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if !in.Type.Valid() {
		in.Type = BlockText
	}
	attrs, err := decodeAttrs(in.Type, in.Attrs)
	if err != nil {
		return fmt.Errorf("decode attrs of %s: %w", in.ID, err)
	}
	*b = Block{ID: in.ID, Type: in.Type, Content: in.Content, Attrs: attrs, Children: in.Children}
	return nil
}

// NewID returns a fresh opaque identifier.
func NewID() string {
	return uuid.New().String()
}

// NewBlock creates a block with a fresh id and default attributes for t.
func NewBlock(t BlockType, content string) Block {
	if !t.Valid() {
		t = BlockText
	}
	if t == BlockDivider {
		content = ""
	}
	return Block{ID: NewID(), Type: t, Content: content, Attrs: DefaultAttrs(t)}
}

// Duplicate copies b under a new id. Children are not copied.
func Duplicate(b Block) Block {
	return Block{ID: NewID(), Type: b.Type, Content: b.Content, Attrs: cloneAttrs(b.Attrs)}
}

// DeepDuplicate copies b and all of its descendants, giving every node a new id.
func DeepDuplicate(b Block) Block {
	dup := Duplicate(b)
	if len(b.Children) > 0 {
		dup.Children = make([]Block, len(b.Children))
		for i, c := range b.Children {
			dup.Children[i] = DeepDuplicate(c)
		}
	}
	return dup
}

// DeepDuplicateAll deep-duplicates every block of list. A list that reuses
// an id is rejected with a ValidationError.
func DeepDuplicateAll(list []Block) ([]Block, error) {
	f, err := NewForest(list)
	if err != nil {
		return nil, err
	}
	return f.Reidentify().Blocks(), nil
}

// CloneBlocks returns a structural copy of list that keeps ids.
func CloneBlocks(list []Block) []Block {
	if list == nil {
		return nil
	}
	out := make([]Block, len(list))
	for i, b := range list {
		b.Attrs = cloneAttrs(b.Attrs)
		b.Children = CloneBlocks(b.Children)
		out[i] = b
	}
	return out
}

// ChangeType converts b to t. Content survives except for dividers, which
// are cleared, and tables, whose content is replaced by placeholder cells.
func ChangeType(b Block, t BlockType) Block {
	if !t.Valid() || b.Type == t {
		return b
	}
	out := Block{ID: b.ID, Type: t, Content: b.Content, Attrs: DefaultAttrs(t), Children: b.Children}
	switch t {
	case BlockDivider, BlockTable:
		out.Content = ""
	}
	return out
}

// Merge joins b into a: a's identity and type, both contents separated by a
// newline, a's children followed by b's.
func Merge(a, b Block) Block {
	out := a
	out.Content = a.Content + "\n" + b.Content
	if len(a.Children)+len(b.Children) > 0 {
		out.Children = make([]Block, 0, len(a.Children)+len(b.Children))
		out.Children = append(out.Children, a.Children...)
		out.Children = append(out.Children, b.Children...)
	}
	return out
}

// Move returns list with the element at from moved to index to. Equal or
// out of range indices return list unchanged.
func Move(list []Block, from, to int) []Block {
	if from == to || from < 0 || to < 0 || from >= len(list) || to >= len(list) {
		return list
	}
	out := make([]Block, 0, len(list))
	moved := list[from]
	for i, b := range list {
		if i != from {
			out = append(out, b)
		}
	}
	out = append(out[:to], append([]Block{moved}, out[to:]...)...)
	return out
}

// FindByID searches the top-level list only.
func FindByID(list []Block, id string) (Block, bool) {
	for _, b := range list {
		if b.ID == id {
			return b, true
		}
	}
	return Block{}, false
}

// DeepFindByID searches list depth-first, descending into children.
func DeepFindByID(list []Block, id string) (Block, bool) {
	for _, b := range list {
		if b.ID == id {
			return b, true
		}
		if found, ok := DeepFindByID(b.Children, id); ok {
			return found, true
		}
	}
	return Block{}, false
}

// UpdateBlock replaces the block with id anywhere in the tree by fn(block).
func UpdateBlock(list []Block, id string, fn func(Block) Block) ([]Block, bool) {
	for i, b := range list {
		if b.ID == id {
			out := append([]Block(nil), list...)
			out[i] = fn(b)
			return out, true
		}
		if children, ok := UpdateBlock(b.Children, id, fn); ok {
			out := append([]Block(nil), list...)
			out[i].Children = children
			return out, true
		}
	}
	return list, false
}

// RemoveBlock deletes the block with id and its subtree.
func RemoveBlock(list []Block, id string) ([]Block, bool) {
	for i, b := range list {
		if b.ID == id {
			out := make([]Block, 0, len(list)-1)
			out = append(out, list[:i]...)
			return append(out, list[i+1:]...), true
		}
		if children, ok := RemoveBlock(b.Children, id); ok {
			out := append([]Block(nil), list...)
			out[i].Children = children
			return out, true
		}
	}
	return list, false
}

// InsertAfter places nb right after the sibling with afterID. An empty or
// unknown afterID appends nb at the top level.
func InsertAfter(list []Block, afterID string, nb Block) []Block {
	if afterID != "" {
		if out, ok := insertAfter(list, afterID, nb); ok {
			return out
		}
	}
	out := make([]Block, 0, len(list)+1)
	out = append(out, list...)
	return append(out, nb)
}

func insertAfter(list []Block, afterID string, nb Block) ([]Block, bool) {
	for i, b := range list {
		if b.ID == afterID {
			out := make([]Block, 0, len(list)+1)
			out = append(out, list[:i+1]...)
			out = append(out, nb)
			return append(out, list[i+1:]...), true
		}
		if children, ok := insertAfter(b.Children, afterID, nb); ok {
			out := append([]Block(nil), list...)
			out[i].Children = children
			return out, true
		}
	}
	return nil, false
}

// PreviousSibling returns the block preceding id among its siblings.
func PreviousSibling(list []Block, id string) (Block, bool) {
	for i, b := range list {
		if b.ID == id {
			if i == 0 {
				return Block{}, false
			}
			return list[i-1], true
		}
		if prev, ok := PreviousSibling(b.Children, id); ok {
			return prev, true
		}
	}
	return Block{}, false
}

// ToggleTodo flips the checked flag of a todo block. Other types are returned as is.
func ToggleTodo(b Block) Block {
	if a, ok := b.Attrs.(TodoAttrs); ok {
		a.Checked = !a.Checked
		b.Attrs = a
	} else if b.Type == BlockTodo {
		b.Attrs = TodoAttrs{Checked: true}
	}
	return b
}

// BlocksEqual reports structural equality of two block lists, ids included.
func BlocksEqual(a, b []Block) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Type != b[i].Type || a[i].Content != b[i].Content {
			return false
		}
		if !attrsEqual(a[i].Attrs, b[i].Attrs) {
			return false
		}
		if !BlocksEqual(a[i].Children, b[i].Children) {
			return false
		}
	}
	return true
}

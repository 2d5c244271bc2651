package domain

import (
	"encoding/json"
	"reflect"
)

// Attrs holds the type-specific fields of a block. Each BlockType has at
// most one variant; the variant is selected by the block's Type when decoding.
type Attrs interface {
	blockAttrs()
}

// StyleAttrs carries color overrides for text-like blocks.
type StyleAttrs struct {
	Color      string `json:"color,omitempty"`
	Background string `json:"background,omitempty"`
}

type TodoAttrs struct {
	Checked bool `json:"checked"`
}

type CodeAttrs struct {
	Language string `json:"language"`
}

type ToggleAttrs struct {
	Open bool `json:"open"`
}

type CalloutAttrs struct {
	Icon  string `json:"icon"`
	Color string `json:"color,omitempty"`
}

type ImageAttrs struct {
	URL     string `json:"url"`
	Caption string `json:"caption,omitempty"`
	Width   int    `json:"width,omitempty"`
}

type VideoAttrs struct {
	URL string `json:"url"`
}

type FileAttrs struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	Size int64  `json:"size,omitempty"`
}

// TableAttrs is the structured cell data of a table block.
type TableAttrs struct {
	Rows      [][]string `json:"rows"`
	HeaderRow bool       `json:"headerRow"`
}

func (StyleAttrs) blockAttrs()   {}
func (TodoAttrs) blockAttrs()    {}
func (CodeAttrs) blockAttrs()    {}
func (ToggleAttrs) blockAttrs()  {}
func (CalloutAttrs) blockAttrs() {}
func (ImageAttrs) blockAttrs()   {}
func (VideoAttrs) blockAttrs()   {}
func (FileAttrs) blockAttrs()    {}
func (TableAttrs) blockAttrs()   {}

// PlaceholderTable is the cell data a block receives when it becomes a table.
func PlaceholderTable() TableAttrs {
	return TableAttrs{Rows: [][]string{{"", ""}, {"", ""}}, HeaderRow: true}
}

// DefaultAttrs returns the zero-state attributes for t. Divider carries none.
func DefaultAttrs(t BlockType) Attrs {
	switch t {
	case BlockTodo:
		return TodoAttrs{}
	case BlockCode:
		return CodeAttrs{Language: "plaintext"}
	case BlockToggle:
		return ToggleAttrs{}
	case BlockCallout:
		return CalloutAttrs{Icon: "💡"}
	case BlockImage:
		return ImageAttrs{}
	case BlockVideo:
		return VideoAttrs{}
	case BlockFile:
		return FileAttrs{}
	case BlockTable:
		return PlaceholderTable()
	case BlockDivider:
		return nil
	default:
		return StyleAttrs{}
	}
}

func decodeAttrs(t BlockType, raw json.RawMessage) (Attrs, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return DefaultAttrs(t), nil
	}
	switch t {
	case BlockTodo:
		return decodeInto[TodoAttrs](raw)
	case BlockCode:
		return decodeInto[CodeAttrs](raw)
	case BlockToggle:
		return decodeInto[ToggleAttrs](raw)
	case BlockCallout:
		return decodeInto[CalloutAttrs](raw)
	case BlockImage:
		return decodeInto[ImageAttrs](raw)
	case BlockVideo:
		return decodeInto[VideoAttrs](raw)
	case BlockFile:
		return decodeInto[FileAttrs](raw)
	case BlockTable:
		return decodeInto[TableAttrs](raw)
	case BlockDivider:
		return nil, nil
	default:
		return decodeInto[StyleAttrs](raw)
	}
}

func decodeInto[A Attrs](raw json.RawMessage) (Attrs, error) {
	var a A
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, err
	}
	return a, nil
}

func cloneAttrs(a Attrs) Attrs {
	t, ok := a.(TableAttrs)
	if !ok {
		return a
	}
	rows := make([][]string, len(t.Rows))
	for i, r := range t.Rows {
		rows[i] = append([]string(nil), r...)
	}
	t.Rows = rows
	return t
}

func attrsEqual(a, b Attrs) bool {
	return reflect.DeepEqual(a, b)
}

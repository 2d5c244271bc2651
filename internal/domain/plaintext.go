package domain

import (
	"regexp"
	"strconv"
	"strings"
)

const plainIndent = "  "

var numberedPrefix = regexp.MustCompile(`^(\d+)\. `)

// ToPlainText renders blocks as markdown-like lines for the system clipboard.
// Nested children are indented two spaces per level. Media and tables
// degrade to bracketed tokens.
func ToPlainText(blocks []Block) string {
	var sb strings.Builder
	writePlain(&sb, blocks, 0)
	return strings.TrimRight(sb.String(), "\n")
}

func writePlain(sb *strings.Builder, blocks []Block, depth int) {
	indent := strings.Repeat(plainIndent, depth)
	number := 0
	for _, b := range blocks {
		if b.Type == BlockNumbered {
			number++
		} else {
			number = 0
		}
		if b.Type == BlockCode {
			lang := ""
			if a, ok := b.Attrs.(CodeAttrs); ok && a.Language != "plaintext" {
				lang = a.Language
			}
			sb.WriteString(indent + "```" + lang + "\n")
			for _, line := range strings.Split(b.Content, "\n") {
				sb.WriteString(indent + line + "\n")
			}
			sb.WriteString(indent + "```\n")
		} else {
			prefix := plainPrefix(b, number)
			lines := strings.Split(b.Content, "\n")
			sb.WriteString(indent + prefix + lines[0] + "\n")
			for _, line := range lines[1:] {
				sb.WriteString(indent + line + "\n")
			}
		}
		writePlain(sb, b.Children, depth+1)
	}
}

func plainPrefix(b Block, number int) string {
	switch b.Type {
	case BlockHeading1:
		return "# "
	case BlockHeading2:
		return "## "
	case BlockHeading3:
		return "### "
	case BlockBulleted:
		return "- "
	case BlockNumbered:
		return strconv.Itoa(number) + ". "
	case BlockTodo:
		if a, ok := b.Attrs.(TodoAttrs); ok && a.Checked {
			return "[x] "
		}
		return "[ ] "
	case BlockQuote:
		return "> "
	case BlockToggle:
		return "▸ "
	case BlockCallout:
		if a, ok := b.Attrs.(CalloutAttrs); ok && a.Icon != "" {
			return a.Icon + " "
		}
		return "💡 "
	case BlockDivider:
		return "---"
	case BlockImage:
		return "[image]"
	case BlockTable:
		return "[table]"
	case BlockVideo:
		return "[video]"
	case BlockFile:
		if a, ok := b.Attrs.(FileAttrs); ok && a.Name != "" {
			return "[file: " + a.Name + "]"
		}
		return "[file]"
	}
	return ""
}

type plainNode struct {
	block    Block
	depth    int
	children []*plainNode
}

// FromPlainText parses lines produced by ToPlainText (or typed by hand) into
// fresh blocks. Unrecognised lines become text blocks; the round trip is not
// guaranteed to be the identity.
func FromPlainText(text string) []Block {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	var roots []*plainNode
	var stack []*plainNode

	attach := func(n *plainNode) {
		for len(stack) > 0 && stack[len(stack)-1].depth >= n.depth {
			stack = stack[:len(stack)-1]
		}
		if len(stack) == 0 {
			roots = append(roots, n)
		} else {
			parent := stack[len(stack)-1]
			parent.children = append(parent.children, n)
		}
		stack = append(stack, n)
	}

	for i := 0; i < len(lines); i++ {
		raw := lines[i]
		trimmed := strings.TrimLeft(raw, " \t")
		if strings.TrimSpace(trimmed) == "" {
			continue
		}
		depth := (len(raw) - len(trimmed)) / len(plainIndent)

		if lang, ok := strings.CutPrefix(trimmed, "```"); ok {
			var body []string
			for i++; i < len(lines); i++ {
				if strings.TrimSpace(lines[i]) == "```" {
					break
				}
				body = append(body, strings.TrimPrefix(lines[i], strings.Repeat(plainIndent, depth)))
			}
			b := NewBlock(BlockCode, strings.Join(body, "\n"))
			if lang = strings.TrimSpace(lang); lang != "" {
				b.Attrs = CodeAttrs{Language: lang}
			}
			attach(&plainNode{block: b, depth: depth})
			continue
		}
		attach(&plainNode{block: parsePlainLine(trimmed), depth: depth})
	}

	var build func(nodes []*plainNode) []Block
	build = func(nodes []*plainNode) []Block {
		if len(nodes) == 0 {
			return nil
		}
		out := make([]Block, len(nodes))
		for i, n := range nodes {
			b := n.block
			b.Children = build(n.children)
			out[i] = b
		}
		return out
	}
	return build(roots)
}

func parsePlainLine(line string) Block {
	switch {
	case line == "---":
		return NewBlock(BlockDivider, "")
	case line == "[image]":
		return NewBlock(BlockImage, "")
	case line == "[table]":
		return NewBlock(BlockTable, "")
	case line == "[video]":
		return NewBlock(BlockVideo, "")
	case line == "[file]":
		return NewBlock(BlockFile, "")
	case strings.HasPrefix(line, "[file: ") && strings.HasSuffix(line, "]"):
		b := NewBlock(BlockFile, "")
		b.Attrs = FileAttrs{Name: strings.TrimSuffix(strings.TrimPrefix(line, "[file: "), "]")}
		return b
	}

	prefixes := []struct {
		prefix string
		t      BlockType
	}{
		{"### ", BlockHeading3},
		{"## ", BlockHeading2},
		{"# ", BlockHeading1},
		{"- ", BlockBulleted},
		{"* ", BlockBulleted},
		{"> ", BlockQuote},
		{"▸ ", BlockToggle},
		{"💡 ", BlockCallout},
	}
	for _, p := range prefixes {
		if rest, ok := strings.CutPrefix(line, p.prefix); ok {
			return NewBlock(p.t, rest)
		}
	}
	if rest, ok := strings.CutPrefix(line, "[ ] "); ok {
		return NewBlock(BlockTodo, rest)
	}
	for _, done := range []string{"[x] ", "[X] "} {
		if rest, ok := strings.CutPrefix(line, done); ok {
			b := NewBlock(BlockTodo, rest)
			b.Attrs = TodoAttrs{Checked: true}
			return b
		}
	}
	if m := numberedPrefix.FindString(line); m != "" {
		return NewBlock(BlockNumbered, line[len(m):])
	}
	return NewBlock(BlockText, line)
}

package domain

// Forest is an arena view of a block tree: nodes are addressed by index and
// linked through explicit parent and child index lists. Construction rejects
// duplicate ids, so any Forest obtained from NewForest is collision free.
type Forest struct {
	nodes []forestNode
	index map[string]int
	roots []int
}

type forestNode struct {
	block    Block // Children is always nil; structure lives in children
	parent   int
	children []int
}

// NewForest indexes blocks. It fails with a ValidationError on the first
// repeated or empty id.
func NewForest(blocks []Block) (*Forest, error) {
	f := &Forest{index: make(map[string]int)}
	var add func(b Block, parent int) (int, error)
	add = func(b Block, parent int) (int, error) {
		if b.ID == "" {
			return -1, invalid("index blocks", "block without id")
		}
		if _, dup := f.index[b.ID]; dup {
			return -1, invalid("index blocks", "duplicate block id %s", b.ID)
		}
		idx := len(f.nodes)
		node := b
		node.Children = nil
		f.nodes = append(f.nodes, forestNode{block: node, parent: parent})
		f.index[b.ID] = idx
		for _, c := range b.Children {
			ci, err := add(c, idx)
			if err != nil {
				return -1, err
			}
			f.nodes[idx].children = append(f.nodes[idx].children, ci)
		}
		return idx, nil
	}
	for _, b := range blocks {
		idx, err := add(b, -1)
		if err != nil {
			return nil, err
		}
		f.roots = append(f.roots, idx)
	}
	return f, nil
}

// ValidateBlocks checks that no id occurs twice in the tree.
func ValidateBlocks(blocks []Block) error {
	_, err := NewForest(blocks)
	return err
}

// Find returns the subtree rooted at id.
func (f *Forest) Find(id string) (Block, bool) {
	idx, ok := f.index[id]
	if !ok {
		return Block{}, false
	}
	return f.build(idx), true
}

// Parent returns the id of id's parent block, or false for roots and unknown ids.
func (f *Forest) Parent(id string) (string, bool) {
	idx, ok := f.index[id]
	if !ok || f.nodes[idx].parent < 0 {
		return "", false
	}
	return f.nodes[f.nodes[idx].parent].block.ID, true
}

// Depth is 0 for top-level blocks and -1 for unknown ids.
func (f *Forest) Depth(id string) int {
	idx, ok := f.index[id]
	if !ok {
		return -1
	}
	d := 0
	for p := f.nodes[idx].parent; p >= 0; p = f.nodes[p].parent {
		d++
	}
	return d
}

// IDs lists every id in pre-order.
func (f *Forest) IDs() []string {
	ids := make([]string, 0, len(f.nodes))
	var walk func(idx int)
	walk = func(idx int) {
		ids = append(ids, f.nodes[idx].block.ID)
		for _, c := range f.nodes[idx].children {
			walk(c)
		}
	}
	for _, r := range f.roots {
		walk(r)
	}
	return ids
}

// Reidentify returns a forest of the same shape where every node carries a
// fresh id. The receiver is left untouched.
func (f *Forest) Reidentify() *Forest {
	out := &Forest{
		nodes: make([]forestNode, len(f.nodes)),
		index: make(map[string]int, len(f.nodes)),
		roots: append([]int(nil), f.roots...),
	}
	for i, n := range f.nodes {
		n.block.ID = NewID()
		n.block.Attrs = cloneAttrs(n.block.Attrs)
		n.children = append([]int(nil), n.children...)
		out.nodes[i] = n
		out.index[n.block.ID] = i
	}
	return out
}

// Blocks rebuilds the nested value form.
func (f *Forest) Blocks() []Block {
	out := make([]Block, len(f.roots))
	for i, r := range f.roots {
		out[i] = f.build(r)
	}
	return out
}

func (f *Forest) build(idx int) Block {
	n := f.nodes[idx]
	b := n.block
	if len(n.children) > 0 {
		b.Children = make([]Block, len(n.children))
		for i, c := range n.children {
			b.Children[i] = f.build(c)
		}
	}
	return b
}

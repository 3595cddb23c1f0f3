package gnetdag

// FixedTree represents a tree where each non-leaf node has a fixed number of children.
// With BranchFactor=3, the entries are arranged in layers like:
//
//	0 (L0)
//	1 2 3 (L1)
//	4 5 6 7 8 9 10 11 12 (L2)
//
// Entry indices are intended as indices into an existing ordered slice,
// such as the validators of a gossip network, treated as a tree.
//
// Methods on FixedTree use unchecked math,
// so negative indices or a non-positive branch factor result in undefined behavior.
type FixedTree struct {
	// The width of the layer at index 1.
	BranchFactor int
}

// Parent returns the parent index of entryIdx, or -1 for the root.
func (t FixedTree) Parent(entryIdx int) int {
	if entryIdx == 0 {
		return -1
	}
	return (entryIdx - 1) / t.BranchFactor
}

// FirstChild returns the index of the first child of entryIdx.
// The tree does not know the number of entries,
// so the caller must check that the child exists.
func (t FixedTree) FirstChild(entryIdx int) int {
	return entryIdx*t.BranchFactor + 1
}

// Children returns the indices of entryIdx's children
// that exist in a tree of n entries.
func (t FixedTree) Children(entryIdx, n int) []int {
	first := t.FirstChild(entryIdx)
	if first >= n {
		return nil
	}

	last := min(first+t.BranchFactor, n)
	out := make([]int, 0, last-first)
	for i := first; i < last; i++ {
		out = append(out, i)
	}
	return out
}

// Neighbors returns the parent (if any) and children of entryIdx in a tree of n entries.
func (t FixedTree) Neighbors(entryIdx, n int) []int {
	out := t.Children(entryIdx, n)
	if p := t.Parent(entryIdx); p >= 0 {
		out = append([]int{p}, out...)
	}
	return out
}

// Layer returns the layer that would contain the given entry index.
func (t FixedTree) Layer(entryIdx int) int {
	layer := 0
	for entryIdx > 0 {
		entryIdx = t.Parent(entryIdx)
		layer++
	}
	return layer
}

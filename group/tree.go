package group

import "github.com/nevindra/vtrt"

// Tree is a binomial spanning tree over a group's membership, rooted at one
// member, used to fan broadcasts out and fan reductions in with O(log n)
// depth. Node i's relative rank is its position in members once the tree's
// root has been rotated to relative rank 0.
type Tree struct {
	members []vtrt.NodeID
	root    vtrt.NodeID
	relRank map[vtrt.NodeID]int
}

// BuildTree constructs the binomial spanning tree over members, rooted at
// root. members need not be pre-sorted; order is preserved for relative
// rank assignment after rotating root to position 0.
func BuildTree(members []vtrt.NodeID, root vtrt.NodeID) *Tree {
	n := len(members)
	t := &Tree{members: make([]vtrt.NodeID, n), root: root, relRank: make(map[vtrt.NodeID]int, n)}

	rootIdx := 0
	for i, m := range members {
		if m == root {
			rootIdx = i
			break
		}
	}
	for i := 0; i < n; i++ {
		t.members[i] = members[(rootIdx+i)%n]
		t.relRank[t.members[i]] = i
	}
	return t
}

// entryMask computes the mask bit at which relative rank rel would receive
// a broadcast in a standard recursive-doubling binomial tree over n
// members: the lowest set bit of rel, or (for rel == 0, the root) the
// smallest power of two >= n.
func entryMask(rel, n int) int {
	mask := 1
	for mask < n {
		if rel&mask != 0 {
			return mask
		}
		mask <<= 1
	}
	return mask
}

// Parent returns node's parent in the tree and true, or (0, false) if node
// is the root.
func (t *Tree) Parent(node vtrt.NodeID) (vtrt.NodeID, bool) {
	rel, ok := t.relRank[node]
	if !ok || rel == 0 {
		return 0, false
	}
	mask := entryMask(rel, len(t.members))
	return t.members[rel-mask], true
}

// Children returns node's direct children in the tree.
func (t *Tree) Children(node vtrt.NodeID) []vtrt.NodeID {
	rel, ok := t.relRank[node]
	if !ok {
		return nil
	}
	n := len(t.members)
	var out []vtrt.NodeID
	for mask := entryMask(rel, n) >> 1; mask > 0; mask >>= 1 {
		childRel := rel + mask
		if childRel < n {
			out = append(out, t.members[childRel])
		}
	}
	return out
}

// Members returns the tree's membership in root-relative order (root first).
func (t *Tree) Members() []vtrt.NodeID { return t.members }

// Root returns the tree's root node.
func (t *Tree) Root() vtrt.NodeID { return t.root }

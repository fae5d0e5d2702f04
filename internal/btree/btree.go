// Package btree implements a persistent B-tree whose nodes carry
// aggregated summaries of their subtrees. Cursors seek along any
// dimension derivable from those summaries, which lets one tree be
// indexed by several orderings at once.
package btree

import "sort"

const treeBase = 16

// Summary is the aggregate carried by every node. Add combines two
// summaries without mutating either operand. The zero value is the
// identity element.
type Summary[S any] interface {
	Add(other S) S
}

// Item is a value stored in a tree.
type Item[S Summary[S]] interface {
	Summarize() S
}

// KeyedItem is an item with a stable key, required for batch edits.
type KeyedItem[K, S any] interface {
	Summarize() S
	Key() K
}

// Dimension is a value that can be accumulated from summaries and
// compared against seek targets. The zero value extended with a
// summary must equal the dimension extracted from that summary alone.
type Dimension[D, S any] interface {
	AddSummary(summary S) D
	Compare(other D) int
}

// SeekBias resolves seeks that land exactly on an item boundary.
type SeekBias int

const (
	// Left stops before an item whose end equals the target.
	Left SeekBias = iota
	// Right moves past an item whose end equals the target.
	Right
)

type node[I Item[S], S Summary[S]] struct {
	height         uint8
	summary        S
	childSummaries []S
	children       []*node[I, S]
	items          []I
}

func (n *node[I, S]) isLeaf() bool {
	return n.height == 0
}

func (n *node[I, S]) isEmpty() bool {
	return n.height == 0 && len(n.items) == 0
}

func (n *node[I, S]) underflowing() bool {
	if n.height == 0 {
		return len(n.items) < treeBase
	}
	return len(n.children) < treeBase
}

// Tree is a persistent B-tree. The zero value is an empty tree.
// Mutating methods replace the root; existing nodes are shared, never
// changed, so copying a Tree value snapshots it.
type Tree[I Item[S], S Summary[S]] struct {
	root *node[I, S]
}

func (t Tree[I, S]) node() *node[I, S] {
	if t.root == nil {
		return &node[I, S]{}
	}
	return t.root
}

// FromItem builds a tree holding a single item.
func FromItem[S Summary[S], I Item[S]](item I) Tree[I, S] {
	return Tree[I, S]{root: &node[I, S]{
		summary: item.Summarize(),
		items:   []I{item},
	}}
}

// Summary returns the aggregate over all items.
func (t Tree[I, S]) Summary() S {
	return t.node().summary
}

// IsEmpty reports whether the tree holds no items.
func (t Tree[I, S]) IsEmpty() bool {
	return t.node().isEmpty()
}

// Extent returns the tree's total extent along dimension D.
func Extent[D Dimension[D, S], I Item[S], S Summary[S]](t Tree[I, S]) D {
	var d D
	return d.AddSummary(t.node().summary)
}

// Items collects every item in order.
func (t Tree[I, S]) Items() []I {
	return appendItems(t.node(), nil)
}

func appendItems[I Item[S], S Summary[S]](n *node[I, S], out []I) []I {
	if n.isLeaf() {
		return append(out, n.items...)
	}
	for _, child := range n.children {
		out = appendItems(child, out)
	}
	return out
}

// First returns the leftmost item.
func (t Tree[I, S]) First() (I, bool) {
	n := t.node()
	for !n.isLeaf() {
		n = n.children[0]
	}
	if len(n.items) == 0 {
		var zero I
		return zero, false
	}
	return n.items[0], true
}

// Last returns the rightmost item.
func (t Tree[I, S]) Last() (I, bool) {
	n := t.node()
	for !n.isLeaf() {
		n = n.children[len(n.children)-1]
	}
	if len(n.items) == 0 {
		var zero I
		return zero, false
	}
	return n.items[len(n.items)-1], true
}

// Push appends a single item.
func (t *Tree[I, S]) Push(item I) {
	t.PushTree(FromItem[S](item))
}

// Extend appends items in order, batching them into full leaves.
func (t *Tree[I, S]) Extend(items []I) {
	var leafItems []I
	var leafSummary S
	for _, item := range items {
		if len(leafItems) == 2*treeBase {
			t.PushTree(Tree[I, S]{root: &node[I, S]{summary: leafSummary, items: leafItems}})
			leafItems = nil
			var zero S
			leafSummary = zero
		}
		leafItems = append(leafItems, item)
		leafSummary = leafSummary.Add(item.Summarize())
	}
	if len(leafItems) > 0 {
		t.PushTree(Tree[I, S]{root: &node[I, S]{summary: leafSummary, items: leafItems}})
	}
}

// PushTree appends every item of other after the items of t.
func (t *Tree[I, S]) PushTree(other Tree[I, S]) {
	otherRoot := other.node()
	if otherRoot.isEmpty() {
		return
	}
	selfRoot := t.node()
	if selfRoot.height < otherRoot.height {
		for _, child := range otherRoot.children {
			t.PushTree(Tree[I, S]{root: child})
		}
		return
	}
	root, split := pushTreeRecursive(selfRoot, otherRoot)
	if split != nil {
		t.root = fromChildNodes([]*node[I, S]{root, split})
	} else {
		t.root = root
	}
}

// pushTreeRecursive grafts other onto the rightmost spine of n. It
// returns the rebuilt node and, when the result no longer fits, a
// second node carrying the overflowing right half.
func pushTreeRecursive[I Item[S], S Summary[S]](n, other *node[I, S]) (*node[I, S], *node[I, S]) {
	if n.isLeaf() {
		count := len(n.items) + len(other.items)
		items := make([]I, 0, count)
		items = append(items, n.items...)
		items = append(items, other.items...)
		if count > 2*treeBase {
			midpoint := (count + count%2) / 2
			return newLeaf[I, S](items[:midpoint]), newLeaf[I, S](items[midpoint:])
		}
		return &node[I, S]{summary: n.summary.Add(other.summary), items: items}, nil
	}

	childSummaries := make([]S, len(n.childSummaries), len(n.childSummaries)+1)
	copy(childSummaries, n.childSummaries)
	children := make([]*node[I, S], len(n.children), len(n.children)+1)
	copy(children, n.children)

	var summariesToAppend []S
	var nodesToAppend []*node[I, S]
	heightDelta := int(n.height) - int(other.height)
	switch {
	case heightDelta == 0:
		summariesToAppend = other.childSummaries
		nodesToAppend = other.children
	case heightDelta == 1 && !other.underflowing():
		summariesToAppend = []S{other.summary}
		nodesToAppend = []*node[I, S]{other}
	default:
		last := len(children) - 1
		newLast, split := pushTreeRecursive(children[last], other)
		children[last] = newLast
		childSummaries[last] = newLast.summary
		if split != nil {
			summariesToAppend = []S{split.summary}
			nodesToAppend = []*node[I, S]{split}
		}
	}

	count := len(children) + len(nodesToAppend)
	allSummaries := append(childSummaries, summariesToAppend...)
	allChildren := append(children, nodesToAppend...)
	if count > 2*treeBase {
		midpoint := (count + count%2) / 2
		left := newInternal(n.height, allSummaries[:midpoint], allChildren[:midpoint])
		right := newInternal(n.height, allSummaries[midpoint:], allChildren[midpoint:])
		return left, right
	}
	return newInternal(n.height, allSummaries, allChildren), nil
}

func newLeaf[I Item[S], S Summary[S]](items []I) *node[I, S] {
	var summary S
	for _, item := range items {
		summary = summary.Add(item.Summarize())
	}
	return &node[I, S]{summary: summary, items: items}
}

func newInternal[I Item[S], S Summary[S]](height uint8, childSummaries []S, children []*node[I, S]) *node[I, S] {
	var summary S
	for _, s := range childSummaries {
		summary = summary.Add(s)
	}
	return &node[I, S]{
		height:         height,
		summary:        summary,
		childSummaries: childSummaries,
		children:       children,
	}
}

func fromChildNodes[I Item[S], S Summary[S]](children []*node[I, S]) *node[I, S] {
	childSummaries := make([]S, len(children))
	for i, child := range children {
		childSummaries[i] = child.summary
	}
	return newInternal(children[0].height+1, childSummaries, children)
}

// Edit is a single operation in a batch edit of a keyed tree.
type Edit[I any] struct {
	item   I
	remove bool
}

// Insert adds item to the tree, replacing any item with the same key.
func Insert[I any](item I) Edit[I] {
	return Edit[I]{item: item}
}

// Remove deletes the item carrying this item's key, if present.
func Remove[I any](item I) Edit[I] {
	return Edit[I]{item: item, remove: true}
}

// EditTree applies a batch of keyed edits in a single pass. The key
// dimension K must be supplied explicitly; the remaining type
// arguments are inferred.
func EditTree[K Dimension[K, S], S Summary[S], I KeyedItem[K, S]](t *Tree[I, S], edits []Edit[I]) {
	if len(edits) == 0 {
		return
	}
	sort.SliceStable(edits, func(i, j int) bool {
		return edits[i].item.Key().Compare(edits[j].item.Key()) < 0
	})

	cursor := t.Cursor()
	var newTree Tree[I, S]
	var buffered []I
	var zeroKey K
	Seek(cursor, zeroKey, Left)
	for _, edit := range edits {
		newKey := edit.item.Key()
		oldItem, ok := cursor.Item()
		if ok && oldItem.Key().Compare(newKey) < 0 {
			newTree.Extend(buffered)
			buffered = buffered[:0]
			newTree.PushTree(Slice(cursor, newKey, Left))
			oldItem, ok = cursor.Item()
		}
		if ok && oldItem.Key().Compare(newKey) == 0 {
			cursor.Next()
		}
		if !edit.remove {
			buffered = append(buffered, edit.item)
		}
	}
	newTree.Extend(buffered)
	newTree.PushTree(cursor.Suffix())
	*t = newTree
}

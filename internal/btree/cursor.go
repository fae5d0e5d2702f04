package btree

// Cursor walks a tree item by item. Seeks position it along a chosen
// dimension; Next and Prev step between neighbors. The summary of
// everything before the current item is maintained incrementally, so
// Start and End are O(1).
//
// A cursor observes the tree value it was created from. Edits to the
// original Tree variable do not disturb it.
type Cursor[I Item[S], S Summary[S]] struct {
	tree    Tree[I, S]
	stack   []cursorEntry[I, S]
	summary S
	didSeek bool
	atStart bool
	filter  func(S) bool
}

// cursorEntry records the path through one node. For internal nodes
// index addresses the child currently descended into, for leaves the
// current item. entrySummary is the cursor summary as it was when the
// node was entered, which lets Prev rebuild state without re-seeking.
type cursorEntry[I Item[S], S Summary[S]] struct {
	node         *node[I, S]
	index        int
	entrySummary S
}

// Cursor returns an unpositioned cursor over the tree.
func (t Tree[I, S]) Cursor() *Cursor[I, S] {
	return &Cursor[I, S]{tree: t}
}

// Filter returns a cursor positioned at the first item whose summary
// satisfies predicate; Next then skips any item or whole subtree whose
// summary fails it. Skipped regions still accumulate into the cursor
// summary, so Start remains exact.
func (t Tree[I, S]) Filter(predicate func(S) bool) *Cursor[I, S] {
	c := &Cursor[I, S]{tree: t, filter: predicate, didSeek: true}
	root := t.node()
	if !root.isEmpty() && predicate(root.summary) {
		c.stack = append(c.stack, cursorEntry[I, S]{node: root})
		c.filterNext(true)
	}
	return c
}

// Reset returns the cursor to its unpositioned state.
func (c *Cursor[I, S]) Reset() {
	c.didSeek = false
	c.atStart = false
	c.stack = c.stack[:0]
	var zero S
	c.summary = zero
}

// Clone returns an independent cursor at the same position. Moving one
// cursor leaves the other where it was.
func (c *Cursor[I, S]) Clone() *Cursor[I, S] {
	clone := *c
	clone.stack = append([]cursorEntry[I, S](nil), c.stack...)
	return &clone
}

// Item returns the current item. ok is false when the cursor has moved
// past the last item or before the first.
func (c *Cursor[I, S]) Item() (item I, ok bool) {
	if len(c.stack) == 0 {
		return item, false
	}
	entry := &c.stack[len(c.stack)-1]
	if entry.index < len(entry.node.items) {
		return entry.node.items[entry.index], true
	}
	return item, false
}

// PrevItem returns the item immediately before the current position.
func (c *Cursor[I, S]) PrevItem() (item I, ok bool) {
	if len(c.stack) == 0 {
		if c.didSeek && !c.atStart {
			return c.tree.Last()
		}
		return item, false
	}
	for i := len(c.stack) - 1; i >= 0; i-- {
		entry := &c.stack[i]
		if entry.index == 0 {
			continue
		}
		if entry.node.isLeaf() {
			return entry.node.items[entry.index-1], true
		}
		n := entry.node.children[entry.index-1]
		for !n.isLeaf() {
			n = n.children[len(n.children)-1]
		}
		return n.items[len(n.items)-1], true
	}
	return item, false
}

// Start returns the accumulated dimension up to the current item.
func Start[D Dimension[D, S], I Item[S], S Summary[S]](c *Cursor[I, S]) D {
	var d D
	return d.AddSummary(c.summary)
}

// End returns the accumulated dimension through the current item.
func End[D Dimension[D, S], I Item[S], S Summary[S]](c *Cursor[I, S]) D {
	d := Start[D](c)
	if item, ok := c.Item(); ok {
		d = d.AddSummary(item.Summarize())
	}
	return d
}

// Next advances to the following item. On an unpositioned cursor it
// moves to the first item.
func (c *Cursor[I, S]) Next() {
	if c.filter != nil {
		c.filterNext(false)
		return
	}
	if !c.didSeek || c.atStart {
		c.didSeek = true
		c.atStart = false
		if len(c.stack) == 0 {
			root := c.tree.node()
			if !root.isEmpty() {
				c.descendToStart(root)
			}
			return
		}
	}
	for len(c.stack) > 0 {
		entry := &c.stack[len(c.stack)-1]
		var descendInto *node[I, S]
		if entry.node.isLeaf() {
			c.summary = c.summary.Add(entry.node.items[entry.index].Summarize())
			entry.index++
			if entry.index < len(entry.node.items) {
				return
			}
		} else {
			entry.index++
			if entry.index < len(entry.node.children) {
				descendInto = entry.node.children[entry.index]
			}
		}
		if descendInto != nil {
			c.descendToStart(descendInto)
			return
		}
		c.stack = c.stack[:len(c.stack)-1]
	}
}

// Prev steps back to the preceding item. Past the end it moves to the
// last item; at the first item it moves before the start, after which
// Item reports no item and Next returns to the first.
func (c *Cursor[I, S]) Prev() {
	if !c.didSeek || len(c.stack) == 0 {
		c.didSeek = true
		c.atStart = false
		root := c.tree.node()
		if !root.isEmpty() {
			var zero S
			c.descendToEnd(root, zero)
		}
		return
	}
	for len(c.stack) > 0 {
		entry := &c.stack[len(c.stack)-1]
		if entry.index > 0 {
			entry.index--
			if entry.node.isLeaf() {
				summary := entry.entrySummary
				for i := 0; i < entry.index; i++ {
					summary = summary.Add(entry.node.items[i].Summarize())
				}
				c.summary = summary
				return
			}
			summary := entry.entrySummary
			for i := 0; i < entry.index; i++ {
				summary = summary.Add(entry.node.childSummaries[i])
			}
			c.descendToEnd(entry.node.children[entry.index], summary)
			return
		}
		c.stack = c.stack[:len(c.stack)-1]
	}
	c.atStart = true
	var zero S
	c.summary = zero
}

func (c *Cursor[I, S]) descendToStart(n *node[I, S]) {
	c.didSeek = true
	for {
		c.stack = append(c.stack, cursorEntry[I, S]{node: n, entrySummary: c.summary})
		if n.isLeaf() {
			return
		}
		n = n.children[0]
	}
}

// descendToEnd walks to the rightmost item of n. entrySummary is the
// cursor summary at n's left edge.
func (c *Cursor[I, S]) descendToEnd(n *node[I, S], entrySummary S) {
	for {
		if n.isLeaf() {
			index := len(n.items) - 1
			c.stack = append(c.stack, cursorEntry[I, S]{node: n, index: index, entrySummary: entrySummary})
			summary := entrySummary
			for i := 0; i < index; i++ {
				summary = summary.Add(n.items[i].Summarize())
			}
			c.summary = summary
			return
		}
		index := len(n.children) - 1
		c.stack = append(c.stack, cursorEntry[I, S]{node: n, index: index, entrySummary: entrySummary})
		for i := 0; i < index; i++ {
			entrySummary = entrySummary.Add(n.childSummaries[i])
		}
		n = n.children[index]
	}
}

// filterNext advances to the next item whose summary satisfies the
// filter. descending distinguishes entering a fresh subtree from
// stepping past the current item.
func (c *Cursor[I, S]) filterNext(descending bool) {
	for len(c.stack) > 0 {
		entry := &c.stack[len(c.stack)-1]
		if entry.node.isLeaf() {
			if !descending {
				c.summary = c.summary.Add(entry.node.items[entry.index].Summarize())
				entry.index++
			}
			descending = false
			for entry.index < len(entry.node.items) {
				summary := entry.node.items[entry.index].Summarize()
				if c.filter(summary) {
					return
				}
				c.summary = c.summary.Add(summary)
				entry.index++
			}
		} else {
			if !descending {
				entry.index++
			}
			descending = false
			for entry.index < len(entry.node.children) {
				if c.filter(entry.node.childSummaries[entry.index]) {
					child := entry.node.children[entry.index]
					c.stack = append(c.stack, cursorEntry[I, S]{node: child, entrySummary: c.summary})
					descending = true
					break
				}
				c.summary = c.summary.Add(entry.node.childSummaries[entry.index])
				entry.index++
			}
			if descending {
				continue
			}
		}
		c.stack = c.stack[:len(c.stack)-1]
	}
}

// Seek positions the cursor at the first item whose end along D
// reaches target, restarting from the front. It reports whether the
// target lies exactly on an item boundary.
func Seek[D Dimension[D, S], I Item[S], S Summary[S]](c *Cursor[I, S], target D, bias SeekBias) bool {
	c.Reset()
	return seekInternal(c, target, bias, nil)
}

// SeekForward continues an earlier seek toward a target that must not
// precede the current position.
func SeekForward[D Dimension[D, S], I Item[S], S Summary[S]](c *Cursor[I, S], target D, bias SeekBias) bool {
	return seekInternal(c, target, bias, nil)
}

// Slice advances to end and returns a tree holding every item crossed
// on the way, preserving order.
func Slice[D Dimension[D, S], I Item[S], S Summary[S]](c *Cursor[I, S], end D, bias SeekBias) Tree[I, S] {
	var slice Tree[I, S]
	seekInternal(c, end, bias, &slice)
	return slice
}

// Suffix consumes the remainder of the tree from the current position
// and returns it. The cursor ends past the last item.
func (c *Cursor[I, S]) Suffix() Tree[I, S] {
	var suffix Tree[I, S]
	if !c.didSeek || c.atStart {
		c.didSeek = true
		c.atStart = false
		c.stack = c.stack[:0]
		suffix.PushTree(c.tree)
		c.summary = c.summary.Add(c.tree.node().summary)
		return suffix
	}
	for len(c.stack) > 0 {
		entry := &c.stack[len(c.stack)-1]
		if entry.node.isLeaf() {
			if entry.index < len(entry.node.items) {
				items := make([]I, len(entry.node.items)-entry.index)
				copy(items, entry.node.items[entry.index:])
				leaf := newLeaf[I, S](items)
				suffix.PushTree(Tree[I, S]{root: leaf})
				c.summary = c.summary.Add(leaf.summary)
			}
		} else {
			for i := entry.index + 1; i < len(entry.node.children); i++ {
				suffix.PushTree(Tree[I, S]{root: entry.node.children[i]})
				c.summary = c.summary.Add(entry.node.childSummaries[i])
			}
		}
		c.stack = c.stack[:len(c.stack)-1]
	}
	return suffix
}

func seekInternal[D Dimension[D, S], I Item[S], S Summary[S]](c *Cursor[I, S], target D, bias SeekBias, slice *Tree[I, S]) bool {
	var zero D
	pos := zero.AddSummary(c.summary)
	var containing *node[I, S]

	if c.didSeek {
		c.atStart = false
	outer:
		for len(c.stack) > 0 {
			entry := &c.stack[len(c.stack)-1]
			if !entry.node.isLeaf() {
				entry.index++
				for entry.index < len(entry.node.children) {
					childSummary := entry.node.childSummaries[entry.index]
					childEnd := pos.AddSummary(childSummary)
					cmp := target.Compare(childEnd)
					if cmp > 0 || (cmp == 0 && bias == Right) {
						c.summary = c.summary.Add(childSummary)
						pos = childEnd
						if slice != nil {
							slice.PushTree(Tree[I, S]{root: entry.node.children[entry.index]})
						}
						entry.index++
					} else {
						containing = entry.node.children[entry.index]
						break outer
					}
				}
			} else {
				var sliceItems []I
				for entry.index < len(entry.node.items) {
					item := entry.node.items[entry.index]
					itemSummary := item.Summarize()
					itemEnd := pos.AddSummary(itemSummary)
					cmp := target.Compare(itemEnd)
					if cmp > 0 || (cmp == 0 && bias == Right) {
						c.summary = c.summary.Add(itemSummary)
						pos = itemEnd
						if slice != nil {
							sliceItems = append(sliceItems, item)
						}
						entry.index++
					} else {
						if slice != nil && len(sliceItems) > 0 {
							slice.PushTree(Tree[I, S]{root: newLeaf[I, S](sliceItems)})
						}
						break outer
					}
				}
				if slice != nil && len(sliceItems) > 0 {
					slice.PushTree(Tree[I, S]{root: newLeaf[I, S](sliceItems)})
				}
			}
			c.stack = c.stack[:len(c.stack)-1]
		}
	} else {
		c.didSeek = true
		containing = c.tree.node()
	}

	for containing != nil {
		entrySummary := c.summary
		var next *node[I, S]
		if !containing.isLeaf() {
			for index := 0; index < len(containing.children); index++ {
				childSummary := containing.childSummaries[index]
				childEnd := pos.AddSummary(childSummary)
				cmp := target.Compare(childEnd)
				if cmp > 0 || (cmp == 0 && bias == Right) {
					c.summary = c.summary.Add(childSummary)
					pos = childEnd
					if slice != nil {
						slice.PushTree(Tree[I, S]{root: containing.children[index]})
					}
				} else {
					c.stack = append(c.stack, cursorEntry[I, S]{node: containing, index: index, entrySummary: entrySummary})
					next = containing.children[index]
					break
				}
			}
		} else {
			var sliceItems []I
			for index := 0; index < len(containing.items); index++ {
				item := containing.items[index]
				itemSummary := item.Summarize()
				itemEnd := pos.AddSummary(itemSummary)
				cmp := target.Compare(itemEnd)
				if cmp > 0 || (cmp == 0 && bias == Right) {
					c.summary = c.summary.Add(itemSummary)
					pos = itemEnd
					if slice != nil {
						sliceItems = append(sliceItems, item)
					}
				} else {
					c.stack = append(c.stack, cursorEntry[I, S]{node: containing, index: index, entrySummary: entrySummary})
					break
				}
			}
			if slice != nil && len(sliceItems) > 0 {
				slice.PushTree(Tree[I, S]{root: newLeaf[I, S](sliceItems)})
			}
		}
		containing = next
	}

	if bias == Left {
		return target.Compare(End[D](c)) == 0
	}
	return target.Compare(Start[D](c)) == 0
}

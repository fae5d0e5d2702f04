// Package buffer implements a conflict-free replicated text buffer.
//
// Text is stored as a sequence of fragments, where each fragment is a
// surviving slice of some insertion. Edits never rewrite history: an
// insertion splits existing fragments and deletions mark fragments as
// invisible, so concurrent operations from other replicas can still
// address the text they were produced against. Fragments live in a
// summarizing B-tree, which keeps offset arithmetic and version
// filtering logarithmic.
package buffer

import (
	"errors"
	"unicode/utf16"

	"weft/internal/btree"
	"weft/internal/clock"
	"weft/internal/opqueue"
)

var (
	// ErrOffsetOutOfRange reports an offset or point beyond the buffer
	// extent.
	ErrOffsetOutOfRange = errors.New("buffer: offset out of range")
	// ErrInvalidOperation reports an operation that references an
	// insertion this replica can never resolve.
	ErrInvalidOperation = errors.New("buffer: invalid operation")
	// ErrInvalidAnchor reports an anchor from another buffer or an
	// unobserved insertion.
	ErrInvalidAnchor = errors.New("buffer: invalid anchor")
	// ErrInvalidSelectionSet reports a selection set id that does not
	// exist on this buffer.
	ErrInvalidSelectionSet = errors.New("buffer: invalid selection set")
)

// SelectionSetId identifies one replica's selection set within a buffer.
type SelectionSetId = clock.Local

// OffsetRange is a half-open range in UTF-16 code units.
type OffsetRange struct {
	Start int
	End   int
}

// PointRange is a half-open range in row/column coordinates.
type PointRange struct {
	Start Point
	End   Point
}

type anchorPosition struct {
	offset int
	point  Point
}

// Buffer is a replicated text buffer. It is not safe for concurrent
// use; the owning tree serializes access.
type Buffer struct {
	fragments            btree.Tree[fragment, fragmentSummary]
	insertionSplits      map[clock.Local]btree.Tree[insertionSplit, insertionSplitSummary]
	anchorCache          map[Anchor]anchorPosition
	offsetCache          map[Point]int
	version              clock.Global
	selections           map[SelectionSetId][]Selection
	selectionsLastUpdate clock.Local
	deferredOps          opqueue.Queue[Operation]
	deferredReplicas     map[clock.ReplicaId]struct{}
}

// New returns a buffer seeded with base text. The base insertion
// carries zero timestamps, so every replica considers it observed and
// operations against it are never deferred.
func New(base string) *Buffer {
	b := &Buffer{
		insertionSplits:  make(map[clock.Local]btree.Tree[insertionSplit, insertionSplitSummary]),
		anchorCache:      make(map[Anchor]anchorPosition),
		offsetCache:      make(map[Point]int),
		version:          clock.Global{},
		selections:       make(map[SelectionSetId][]Selection),
		deferredReplicas: make(map[clock.ReplicaId]struct{}),
	}

	baseInsertion := insertion{
		id:   clock.Local{},
		text: NewText(base),
	}
	b.insertionSplits[baseInsertion.id] = btree.FromItem[insertionSplitSummary](insertionSplit{
		extent:     0,
		fragmentId: minFragmentId(),
	})
	b.fragments.Push(fragment{
		id:        minFragmentId(),
		insertion: baseInsertion,
	})
	if baseInsertion.text.len() > 0 {
		baseFragmentId := fragmentIdBetween(minFragmentId(), maxFragmentId())
		splits := b.insertionSplits[baseInsertion.id]
		splits.Push(insertionSplit{
			extent:     baseInsertion.text.len(),
			fragmentId: baseFragmentId,
		})
		b.insertionSplits[baseInsertion.id] = splits
		b.fragments.Push(newFragment(baseFragmentId, baseInsertion))
	}
	return b
}

// Clone returns an independent copy. Fragment trees are persistent, so
// the copy shares structure with the original until either side edits.
func (b *Buffer) Clone() *Buffer {
	splits := make(map[clock.Local]btree.Tree[insertionSplit, insertionSplitSummary], len(b.insertionSplits))
	for id, tree := range b.insertionSplits {
		splits[id] = tree
	}
	selections := make(map[SelectionSetId][]Selection, len(b.selections))
	for id, sels := range b.selections {
		selections[id] = append([]Selection(nil), sels...)
	}
	replicas := make(map[clock.ReplicaId]struct{}, len(b.deferredReplicas))
	for id := range b.deferredReplicas {
		replicas[id] = struct{}{}
	}
	return &Buffer{
		fragments:            b.fragments,
		insertionSplits:      splits,
		anchorCache:          make(map[Anchor]anchorPosition),
		offsetCache:          make(map[Point]int),
		version:              b.version.Clone(),
		selections:           selections,
		selectionsLastUpdate: b.selectionsLastUpdate,
		deferredOps:          b.deferredOps,
		deferredReplicas:     replicas,
	}
}

// Len returns the buffer extent in UTF-16 code units.
func (b *Buffer) Len() int {
	return int(btree.Extent[textOffset](b.fragments))
}

// MaxPoint returns the position just past the last character.
func (b *Buffer) MaxPoint() Point {
	return btree.Extent[Point](b.fragments)
}

// IsModified reports whether the buffer has ever been edited, locally
// or remotely. Selection updates do not count.
func (b *Buffer) IsModified() bool {
	return len(b.version) > 0
}

// Version returns a copy of the buffer's version vector.
func (b *Buffer) Version() clock.Global {
	return b.version.Clone()
}

// CodeUnits returns the visible text as UTF-16 code units.
func (b *Buffer) CodeUnits() []uint16 {
	out := make([]uint16, 0, b.Len())
	cursor := b.fragments.Cursor()
	for cursor.Next(); ; cursor.Next() {
		item, ok := cursor.Item()
		if !ok {
			break
		}
		if item.isVisible() {
			out = append(out, item.codeUnits()...)
		}
	}
	return out
}

// String returns the visible text.
func (b *Buffer) String() string {
	return string(utf16.Decode(b.CodeUnits()))
}

// LenForRow returns the length of a row in UTF-16 code units, not
// counting the newline.
func (b *Buffer) LenForRow(row uint32) (uint32, error) {
	rowStart, err := b.offsetForPoint(Point{Row: row})
	if err != nil {
		return 0, err
	}
	maxPoint := b.MaxPoint()
	rowEnd := b.Len()
	if row < maxPoint.Row {
		next, err := b.offsetForPoint(Point{Row: row + 1})
		if err != nil {
			return 0, err
		}
		rowEnd = next - 1
	}
	return uint32(rowEnd - rowStart), nil
}

// LongestRow returns the row with the most code units and its length.
func (b *Buffer) LongestRow() (uint32, uint32) {
	s := b.fragments.Summary()
	return s.longestRow, s.longestRowLen
}

// Line returns the text of one row, without its trailing newline.
func (b *Buffer) Line(row uint32) (string, error) {
	start, err := b.offsetForPoint(Point{Row: row})
	if err != nil {
		return "", err
	}
	if start == b.Len() {
		return "", ErrOffsetOutOfRange
	}
	var units []uint16
	for _, u := range b.codeUnitsFrom(start) {
		if u == '\n' {
			break
		}
		units = append(units, u)
	}
	return string(utf16.Decode(units)), nil
}

// TextInRange returns the visible text between two offsets.
func (b *Buffer) TextInRange(start, end int) (string, error) {
	if start > end || end > b.Len() {
		return "", ErrOffsetOutOfRange
	}
	units := b.codeUnitsFrom(start)
	if len(units) > end-start {
		units = units[:end-start]
	}
	return string(utf16.Decode(units)), nil
}

func (b *Buffer) codeUnitsFrom(offset int) []uint16 {
	var out []uint16
	cursor := b.fragments.Cursor()
	btree.Seek(cursor, textOffset(offset), btree.Right)
	if item, ok := cursor.Item(); ok {
		start := int(btree.Start[textOffset](cursor))
		units := item.codeUnits()
		if offset-start < len(units) {
			out = append(out, units[offset-start:]...)
		}
	}
	for {
		cursor.Next()
		item, ok := cursor.Item()
		if !ok {
			break
		}
		if item.isVisible() {
			out = append(out, item.codeUnits()...)
		}
	}
	return out
}

// Edit replaces ranges of UTF-16 offsets with new text and returns the
// operations to broadcast. Empty ranges with empty text are dropped.
func (b *Buffer) Edit(oldRanges []OffsetRange, newText string, localClock *clock.Local, lamportClock *clock.Lamport) []Operation {
	var text *Text
	if t := NewText(newText); t.len() > 0 {
		text = t
	}
	b.invalidateCaches()

	ranges := make([]OffsetRange, 0, len(oldRanges))
	for _, r := range oldRanges {
		if text != nil || r.End > r.Start {
			ranges = append(ranges, r)
		}
	}

	ops := b.spliceFragments(ranges, text, localClock, lamportClock)
	if len(ops) > 0 {
		if edit, ok := ops[len(ops)-1].(*EditOperation); ok {
			b.version.Observe(edit.LocalTimestamp)
		}
	}
	return ops
}

// EditPoints is Edit with ranges in row/column coordinates. Ranges that
// do not resolve to valid offsets are skipped.
func (b *Buffer) EditPoints(oldRanges []PointRange, newText string, localClock *clock.Local, lamportClock *clock.Lamport) []Operation {
	ranges := make([]OffsetRange, 0, len(oldRanges))
	for _, r := range oldRanges {
		start, errStart := b.offsetForPoint(r.Start)
		end, errEnd := b.offsetForPoint(r.End)
		if errStart == nil && errEnd == nil {
			ranges = append(ranges, OffsetRange{Start: start, End: end})
		}
	}
	return b.Edit(ranges, newText, localClock, lamportClock)
}

// spliceFragments rewrites the fragment tree for a batch of ranges,
// producing one operation per range. Ranges must be ordered and
// disjoint.
func (b *Buffer) spliceFragments(oldRanges []OffsetRange, newText *Text, localClock *clock.Local, lamportClock *clock.Lamport) []Operation {
	rangeIndex := 0
	nextRange := func() (OffsetRange, bool) {
		if rangeIndex < len(oldRanges) {
			r := oldRanges[rangeIndex]
			rangeIndex++
			return r, true
		}
		return OffsetRange{}, false
	}

	curRange, haveRange := nextRange()
	if !haveRange {
		return nil
	}

	ops := make([]Operation, 0, len(oldRanges))
	oldFragments := b.fragments
	cursor := oldFragments.Cursor()
	newFragments := btree.Slice(cursor, textOffset(curRange.Start), btree.Right)

	var startId, endId clock.Local
	var startOffset, endOffset int
	versionInRange := clock.Global{}

	localTimestamp := localClock.Tick()
	lamportTimestamp := lamportClock.Tick()

	for haveRange {
		item, ok := cursor.Item()
		if !ok {
			break
		}
		frag := item.clone()
		fragStart := int(btree.Start[textOffset](cursor))
		fragEnd := fragStart + frag.len()

		oldSplitTree := b.insertionSplits[frag.insertion.id]
		delete(b.insertionSplits, frag.insertion.id)
		splitsCursor := oldSplitTree.Cursor()
		newSplitTree := btree.Slice(splitsCursor, splitOffset(frag.startOffset), btree.Right)

		// Find all the fragments that this range intersects.
		for haveRange && curRange.Start < fragEnd {
			r := curRange

			// Split the old fragment if the range starts or ends inside it.
			if r.Start > fragStart {
				prefix := frag.clone()
				prefix.endOffset = prefix.startOffset + (r.Start - fragStart)
				last, _ := newFragments.Last()
				prefix.id = fragmentIdBetween(last.id, frag.id)
				frag.startOffset = prefix.endOffset
				newSplitTree.Push(insertionSplit{
					extent:     prefix.endOffset - prefix.startOffset,
					fragmentId: prefix.id,
				})
				newFragments.Push(prefix)
				fragStart = r.Start
			}

			if r.End == fragStart {
				last, _ := newFragments.Last()
				endId = last.insertion.id
				endOffset = last.endOffset
			} else if r.End == fragEnd {
				endId = frag.insertion.id
				endOffset = frag.endOffset
			}

			if r.Start == fragStart {
				last, _ := newFragments.Last()
				startId = last.insertion.id
				startOffset = last.endOffset
				if newText != nil {
					newFragments.Push(b.buildFragmentToInsert(last, &frag, newText, localTimestamp, lamportTimestamp))
				}
			}

			if r.End < fragEnd {
				if r.End > fragStart {
					prefix := frag.clone()
					prefix.endOffset = prefix.startOffset + (r.End - fragStart)
					last, _ := newFragments.Last()
					prefix.id = fragmentIdBetween(last.id, frag.id)
					if frag.isVisible() {
						prefix.deletions[localTimestamp] = struct{}{}
					}
					frag.startOffset = prefix.endOffset
					newSplitTree.Push(insertionSplit{
						extent:     prefix.endOffset - prefix.startOffset,
						fragmentId: prefix.id,
					})
					newFragments.Push(prefix)
					fragStart = r.End
					endId = frag.insertion.id
					endOffset = frag.startOffset
					versionInRange.Observe(frag.insertion.id)
				}
			} else {
				versionInRange.Observe(frag.insertion.id)
				if frag.isVisible() {
					frag.deletions[localTimestamp] = struct{}{}
				}
			}

			if r.End <= fragEnd {
				ops = append(ops, &EditOperation{
					StartId:          startId,
					StartOffset:      startOffset,
					EndId:            endId,
					EndOffset:        endOffset,
					VersionInRange:   versionInRange,
					NewText:          newText,
					LocalTimestamp:   localTimestamp,
					LamportTimestamp: lamportTimestamp,
				})
				versionInRange = clock.Global{}
				curRange, haveRange = nextRange()
				if haveRange {
					localTimestamp = localClock.Tick()
					lamportTimestamp = lamportClock.Tick()
				}
			} else {
				break
			}
		}

		newSplitTree.Push(insertionSplit{
			extent:     frag.endOffset - frag.startOffset,
			fragmentId: frag.id,
		})
		splitsCursor.Next()
		rest := btree.Slice(splitsCursor, btree.Extent[splitOffset](oldSplitTree), btree.Right)
		newSplitTree.PushTree(rest)
		b.insertionSplits[frag.insertion.id] = newSplitTree
		newFragments.Push(frag)

		// Scan forward until the current range ends, deleting any wholly
		// covered fragments along the way.
		cursor.Next()
		if haveRange {
			r := curRange
			for {
				inner, ok := cursor.Item()
				if !ok {
					break
				}
				fragStart = int(btree.Start[textOffset](cursor))
				fragEnd = fragStart + inner.len()
				if r.Start < fragStart && r.End >= fragEnd {
					covered := inner.clone()
					if covered.isVisible() {
						covered.deletions[localTimestamp] = struct{}{}
					}
					versionInRange.Observe(covered.insertion.id)
					newFragments.Push(covered)
					cursor.Next()
					if r.End == fragEnd {
						endId = covered.insertion.id
						endOffset = covered.endOffset
						ops = append(ops, &EditOperation{
							StartId:          startId,
							StartOffset:      startOffset,
							EndId:            endId,
							EndOffset:        endOffset,
							VersionInRange:   versionInRange,
							NewText:          newText,
							LocalTimestamp:   localTimestamp,
							LamportTimestamp: lamportTimestamp,
						})
						versionInRange = clock.Global{}
						curRange, haveRange = nextRange()
						if haveRange {
							localTimestamp = localClock.Tick()
							lamportTimestamp = lamportClock.Tick()
						}
						break
					}
				} else {
					break
				}
			}

			if haveRange && curRange.Start > fragEnd {
				mid := btree.Slice(cursor, textOffset(curRange.Start), btree.Right)
				newFragments.PushTree(mid)
			}
		}
	}

	if haveRange {
		// The remaining range starts past the end of the buffer.
		last, _ := newFragments.Last()
		ops = append(ops, &EditOperation{
			StartId:          last.insertion.id,
			StartOffset:      last.endOffset,
			EndId:            last.insertion.id,
			EndOffset:        last.endOffset,
			VersionInRange:   clock.Global{},
			NewText:          newText,
			LocalTimestamp:   localTimestamp,
			LamportTimestamp: lamportTimestamp,
		})
		if newText != nil {
			newFragments.Push(b.buildFragmentToInsert(last, nil, newText, localTimestamp, lamportTimestamp))
		}
	} else {
		rest := btree.Slice(cursor, btree.Extent[textOffset](oldFragments), btree.Right)
		newFragments.PushTree(rest)
	}

	b.fragments = newFragments
	return ops
}

// buildFragmentToInsert creates the fragment for freshly inserted text,
// ordered between prev and next, and registers the insertion's split
// tree.
func (b *Buffer) buildFragmentToInsert(prev fragment, next *fragment, text *Text, localTimestamp clock.Local, lamportTimestamp clock.Lamport) fragment {
	nextId := maxFragmentId()
	if next != nil {
		nextId = next.id
	}
	newId := fragmentIdBetween(prev.id, nextId)

	b.insertionSplits[localTimestamp] = btree.FromItem[insertionSplitSummary](insertionSplit{
		extent:     text.len(),
		fragmentId: newId,
	})
	return newFragment(newId, insertion{
		id:               localTimestamp,
		parentId:         prev.insertion.id,
		offsetInParent:   prev.endOffset,
		text:             text,
		lamportTimestamp: lamportTimestamp,
	})
}

// ApplyOps integrates operations from other replicas. Operations whose
// causal dependencies are missing are deferred, along with any later
// operations from the same replica, and flushed once the dependencies
// arrive.
func (b *Buffer) ApplyOps(ops []Operation, localClock *clock.Local, lamportClock *clock.Lamport) error {
	var deferred []Operation
	for _, op := range ops {
		if b.canApplyOp(op) {
			if err := b.applyOp(op, localClock, lamportClock); err != nil {
				return err
			}
		} else {
			b.deferredReplicas[op.Replica()] = struct{}{}
			deferred = append(deferred, op)
		}
	}
	b.deferredOps.Insert(deferred)
	return b.flushDeferredOps(localClock, lamportClock)
}

func (b *Buffer) applyOp(op Operation, localClock *clock.Local, lamportClock *clock.Lamport) error {
	switch op := op.(type) {
	case *EditOperation:
		if err := b.applyEdit(op, localClock, lamportClock); err != nil {
			return err
		}
		b.invalidateCaches()
		return nil
	case *UpdateSelectionsOperation:
		if op.Remove {
			delete(b.selections, op.SetId)
		} else {
			b.selections[op.SetId] = op.Selections
		}
		localClock.Observe(op.SetId)
		lamportClock.Observe(op.LamportTimestamp)
		b.selectionsLastUpdate = op.LocalTimestamp
		return nil
	default:
		return ErrInvalidOperation
	}
}

func (b *Buffer) applyEdit(op *EditOperation, localClock *clock.Local, lamportClock *clock.Lamport) error {
	if b.version.Observed(op.LocalTimestamp) {
		return nil
	}

	newText := op.NewText
	startFragmentId, err := b.resolveFragmentId(op.StartId, op.StartOffset)
	if err != nil {
		return err
	}
	endFragmentId, err := b.resolveFragmentId(op.EndId, op.EndOffset)
	if err != nil {
		return err
	}

	oldFragments := b.fragments
	cursor := oldFragments.Cursor()
	newFragments := btree.Slice(cursor, startFragmentId, btree.Left)

	if item, ok := cursor.Item(); ok && op.StartOffset == item.endOffset {
		newFragments.Push(item)
		cursor.Next()
	}

	for {
		item, ok := cursor.Item()
		if !ok {
			break
		}
		if newText == nil && item.id.Compare(endFragmentId) > 0 {
			break
		}
		frag := item.clone()

		if frag.id.Compare(startFragmentId) == 0 || frag.id.Compare(endFragmentId) == 0 {
			splitStart := frag.startOffset
			if startFragmentId.Compare(frag.id) == 0 {
				splitStart = op.StartOffset
			}
			splitEnd := frag.endOffset
			if endFragmentId.Compare(frag.id) == 0 {
				splitEnd = op.EndOffset
			}
			prevItem, _ := cursor.PrevItem()
			before, within, after := b.splitFragment(prevItem, frag, splitStart, splitEnd)

			var inserted *fragment
			if newText != nil {
				prev := before
				if prev == nil {
					prev = &prevItem
				}
				next := within
				if next == nil {
					next = after
				}
				nf := b.buildFragmentToInsert(*prev, next, newText, op.LocalTimestamp, op.LamportTimestamp)
				inserted = &nf
				newText = nil
			}
			if before != nil {
				newFragments.Push(*before)
			}
			if inserted != nil {
				newFragments.Push(*inserted)
			}
			if within != nil {
				w := *within
				if op.VersionInRange.Observed(w.insertion.id) {
					w = w.markDeleted(op.LocalTimestamp)
				}
				newFragments.Push(w)
			}
			if after != nil {
				newFragments.Push(*after)
			}
		} else {
			if newText != nil && op.LamportTimestamp.Compare(frag.insertion.lamportTimestamp) > 0 {
				prevItem, _ := cursor.PrevItem()
				newFragments.Push(b.buildFragmentToInsert(prevItem, &frag, newText, op.LocalTimestamp, op.LamportTimestamp))
				newText = nil
			}
			if frag.id.Compare(endFragmentId) < 0 && op.VersionInRange.Observed(frag.insertion.id) {
				frag = frag.markDeleted(op.LocalTimestamp)
			}
			newFragments.Push(frag)
		}
		cursor.Next()
	}

	if newText != nil {
		prevItem, _ := cursor.PrevItem()
		newFragments.Push(b.buildFragmentToInsert(prevItem, nil, newText, op.LocalTimestamp, op.LamportTimestamp))
	}

	rest := btree.Slice(cursor, btree.Extent[textOffset](oldFragments), btree.Right)
	newFragments.PushTree(rest)
	b.fragments = newFragments
	b.version.Observe(op.LocalTimestamp)
	localClock.Observe(op.LocalTimestamp)
	lamportClock.Observe(op.LamportTimestamp)
	return nil
}

// splitFragment cuts frag at the operation's boundaries, returning the
// pieces before, within and after the range that actually exist. The
// insertion's split tree is updated to match.
func (b *Buffer) splitFragment(prev, frag fragment, rangeStart, rangeEnd int) (*fragment, *fragment, *fragment) {
	if rangeEnd == frag.startOffset {
		after := frag
		return nil, nil, &after
	} else if rangeStart == frag.endOffset {
		before := frag
		return &before, nil, nil
	} else if rangeStart == frag.startOffset && rangeEnd == frag.endOffset {
		within := frag
		return nil, &within, nil
	}

	prefix := frag
	var before, within, after *fragment
	if rangeEnd < frag.endOffset {
		suffix := prefix
		suffix.startOffset = rangeEnd
		prefix.endOffset = rangeEnd
		prefix.id = fragmentIdBetween(prev.id, suffix.id)
		after = &suffix
	}
	if rangeStart != rangeEnd {
		suffix := prefix
		suffix.startOffset = rangeStart
		prefix.endOffset = rangeStart
		prefix.id = fragmentIdBetween(prev.id, suffix.id)
		within = &suffix
	}
	if rangeStart > frag.startOffset {
		before = &prefix
	}

	oldSplitTree := b.insertionSplits[frag.insertion.id]
	delete(b.insertionSplits, frag.insertion.id)
	splitsCursor := oldSplitTree.Cursor()
	newSplitTree := btree.Slice(splitsCursor, splitOffset(frag.startOffset), btree.Right)
	if before != nil {
		newSplitTree.Push(insertionSplit{
			extent:     rangeStart - frag.startOffset,
			fragmentId: before.id,
		})
	}
	if within != nil {
		newSplitTree.Push(insertionSplit{
			extent:     rangeEnd - rangeStart,
			fragmentId: within.id,
		})
	}
	if after != nil {
		newSplitTree.Push(insertionSplit{
			extent:     frag.endOffset - rangeEnd,
			fragmentId: after.id,
		})
	}
	splitsCursor.Next()
	rest := btree.Slice(splitsCursor, btree.Extent[splitOffset](oldSplitTree), btree.Right)
	newSplitTree.PushTree(rest)
	b.insertionSplits[frag.insertion.id] = newSplitTree

	return before, within, after
}

// resolveFragmentId maps an insertion id and offset to the id of the
// fragment currently holding that slice of the insertion.
func (b *Buffer) resolveFragmentId(insertionId clock.Local, offset int) (fragmentId, error) {
	splitTree, ok := b.insertionSplits[insertionId]
	if !ok {
		return nil, ErrInvalidOperation
	}
	cursor := splitTree.Cursor()
	btree.Seek(cursor, splitOffset(offset), btree.Left)
	split, ok := cursor.Item()
	if !ok {
		return nil, ErrInvalidOperation
	}
	return split.fragmentId, nil
}

func (b *Buffer) canApplyOp(op Operation) bool {
	if _, deferred := b.deferredReplicas[op.Replica()]; deferred {
		return false
	}
	switch op := op.(type) {
	case *EditOperation:
		return b.version.Observed(op.StartId) &&
			b.version.Observed(op.EndId) &&
			b.version.ObservedAll(op.VersionInRange)
	case *UpdateSelectionsOperation:
		for _, sel := range op.Selections {
			for _, anchor := range [2]Anchor{sel.Start, sel.End} {
				if anchor.Kind == AnchorMiddle && !b.version.Observed(anchor.InsertionId) {
					return false
				}
			}
		}
		return true
	default:
		return true
	}
}

// flushDeferredOps retries every deferred operation. Clearing the
// deferred replica set first lets newly applicable operations unblock
// the rest of their replica's queue in one pass.
func (b *Buffer) flushDeferredOps(localClock *clock.Local, lamportClock *clock.Lamport) error {
	clear(b.deferredReplicas)
	var deferred []Operation
	for _, op := range b.deferredOps.Drain() {
		if b.canApplyOp(op) {
			if err := b.applyOp(op, localClock, lamportClock); err != nil {
				return err
			}
		} else {
			b.deferredReplicas[op.Replica()] = struct{}{}
			deferred = append(deferred, op)
		}
	}
	b.deferredOps.Insert(deferred)
	return nil
}

// DeferredOpsLen returns the number of operations waiting on missing
// causal dependencies.
func (b *Buffer) DeferredOpsLen() int {
	return b.deferredOps.Len()
}

func (b *Buffer) invalidateCaches() {
	clear(b.anchorCache)
	clear(b.offsetCache)
}

// offsetForPoint converts a row/column position to a UTF-16 offset,
// caching resolved positions until the next edit.
func (b *Buffer) offsetForPoint(point Point) (int, error) {
	if offset, ok := b.offsetCache[point]; ok {
		return offset, nil
	}
	cursor := b.fragments.Cursor()
	btree.Seek(cursor, point, btree.Left)
	item, ok := cursor.Item()
	if !ok {
		if point.Compare(b.MaxPoint()) == 0 {
			return b.Len(), nil
		}
		return 0, ErrOffsetOutOfRange
	}
	overshoot, err := item.offsetForPoint(point.Sub(btree.Start[Point](cursor)))
	if err != nil {
		return 0, err
	}
	offset := int(btree.Start[textOffset](cursor)) + overshoot
	b.offsetCache[point] = offset
	return offset, nil
}

// pointForOffset converts a UTF-16 offset to a row/column position.
func (b *Buffer) pointForOffset(offset int) (Point, error) {
	if offset > b.Len() {
		return Point{}, ErrOffsetOutOfRange
	}
	cursor := b.fragments.Cursor()
	btree.Seek(cursor, textOffset(offset), btree.Left)
	item, ok := cursor.Item()
	if !ok {
		return b.MaxPoint(), nil
	}
	start := int(btree.Start[textOffset](cursor))
	overshoot, err := item.pointForOffset(offset - start)
	if err != nil {
		return Point{}, err
	}
	return btree.Start[Point](cursor).Add(overshoot), nil
}

// PointForOffset converts a UTF-16 offset to a row/column position.
func (b *Buffer) PointForOffset(offset int) (Point, error) {
	return b.pointForOffset(offset)
}

// OffsetForPoint converts a row/column position to a UTF-16 offset.
func (b *Buffer) OffsetForPoint(point Point) (int, error) {
	return b.offsetForPoint(point)
}

package epoch

import (
	"weft/internal/btree"
	"weft/internal/clock"
)

// fixConflicts repairs the tree around a file whose location changed.
// Concurrent moves can introduce directory cycles; the cycle is broken
// by reverting the move with the latest timestamp, restoring the
// parent it had before. Afterwards any name collisions among the
// affected files are repaired. The returned fixup operations are
// already applied locally and must be broadcast so every replica
// repairs identically.
func (e *Epoch) fixConflicts(fileId FileId, lamportClock *clock.Lamport) []Operation {
	var fixupOps []Operation
	revertedMoves := make(map[FileId]clock.Lamport)

	// Walk from the file to the root. Seeing the same file twice means
	// the walk is trapped in a cycle.
	visited := make(map[FileId]struct{})
	var latestMove *parentRef
	cursor := e.parentRefs.Cursor()
	btree.Seek(cursor, byChild(fileId), btree.Left)
outer:
	for {
		ref, ok := cursor.Item()
		if !ok {
			break
		}
		if _, seen := visited[ref.childId]; seen {
			if latestMove == nil {
				break
			}
			// Revert the newest move on the cycle: record the parent ref
			// that preceded it, then restart the walk from there.
			btree.Seek(cursor, latestMove.Key(), btree.Right)
			for {
				prev, ok := cursor.Item()
				if !ok {
					break
				}
				if prev.parent != nil {
					revertedMoves[prev.childId] = prev.timestamp
					break
				}
				cursor.Next()
			}
			latestMove = nil
			clear(visited)
			continue
		}

		visited[ref.childId] = struct{}{}
		// Pretend reverted moves never happened by skipping ahead to the
		// ref they restore.
		if restored, ok := revertedMoves[ref.childId]; ok {
			for ref.timestamp.Compare(restored) > 0 {
				cursor.Next()
				next, ok := cursor.Item()
				if !ok {
					break outer
				}
				ref = next
			}
		}
		// The ref is a move, not the file's original insert, when an
		// older ref for the same child follows it.
		if latestMove == nil || ref.timestamp.Compare(latestMove.timestamp) > 0 {
			cursor.Next()
			if next, ok := cursor.Item(); ok && next.childId == ref.childId {
				moveRef := ref
				latestMove = &moveRef
			}
		}
		if ref.parent == nil {
			break
		}
		parentId := ref.parent.FileId
		if parentId == RootFileId {
			break
		}
		if !btree.Seek(cursor, byChild(parentId), btree.Left) {
			break
		}
	}

	for childId, timestamp := range revertedMoves {
		btree.Seek(cursor, parentRefKey{childId: childId, timestamp: timestamp}, btree.Left)
		ref, ok := cursor.Item()
		if !ok || ref.childId != childId {
			continue
		}
		fixupOps = append(fixupOps, &UpdateParentOperation{
			ChildId:          childId,
			NewParent:        ref.parent,
			LocalTimestamp:   e.localClock.Tick(),
			LamportTimestamp: lamportClock.Tick(),
		})
	}
	for _, op := range fixupOps {
		_ = e.applyOp(op, lamportClock)
	}
	for childId := range revertedMoves {
		fixupOps = append(fixupOps, e.fixNameConflicts(childId, lamportClock)...)
	}
	if _, reverted := revertedMoves[fileId]; !reverted {
		fixupOps = append(fixupOps, e.fixNameConflicts(fileId, lamportClock)...)
	}
	return fixupOps
}

// fixNameConflicts renames files that collide with the given file's
// current entry. The first visible entry for a (parent, name) wins its
// name; every later visible duplicate is renamed to the shortest free
// name formed by appending "~".
func (e *Epoch) fixNameConflicts(fileId FileId, lamportClock *clock.Lamport) []Operation {
	var fixupOps []Operation

	parentRefCursor := e.parentRefs.Cursor()
	btree.Seek(parentRefCursor, byChild(fileId), btree.Left)
	ref, ok := parentRefCursor.Item()
	if !ok || ref.childId != fileId || ref.parent == nil {
		return nil
	}
	parentId := ref.parent.FileId
	name := ref.parent.Name

	// Both cursors observe the tree as it was before any fixup below
	// edits it, which keeps the iteration stable while ops apply.
	cursor1 := e.childRefs.Cursor()
	btree.Seek(cursor1, childRefKey{parentId: parentId, name: name}, btree.Left)
	cursor1.Next()
	cursor2 := cursor1.Clone()
	uniqueName := name

	for {
		dup, ok := cursor1.Item()
		if !ok || !dup.visible || dup.parentId != parentId || dup.name != name {
			break
		}
		for {
			uniqueName += "~"
			btree.SeekForward(cursor2, childRefKey{parentId: parentId, name: uniqueName}, btree.Left)
			if conflict, ok := cursor2.Item(); ok && conflict.visible &&
				conflict.parentId == parentId && conflict.name == uniqueName {
				continue
			}
			break
		}
		fixupOp := &UpdateParentOperation{
			ChildId:          dup.childId,
			NewParent:        &Parent{FileId: parentId, Name: uniqueName},
			LocalTimestamp:   e.localClock.Tick(),
			LamportTimestamp: lamportClock.Tick(),
		}
		_ = e.applyOp(fixupOp, lamportClock)
		fixupOps = append(fixupOps, fixupOp)

		visibleIndex := btree.End[visibleCount](cursor1)
		btree.SeekForward(cursor1, visibleIndex, btree.Right)
	}
	return fixupOps
}

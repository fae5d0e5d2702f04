package worktree

import (
	"slices"

	"weft/internal/buffer"
	"weft/internal/clock"
	"weft/internal/epoch"
)

// Buffer is a handle to an open text file. The handle stays valid
// across edits, renames, and epoch resets; when a reset drops the file
// it is backed by, the handle detaches and keeps its last text until a
// later epoch restores the path.
type Buffer struct {
	tree         *WorkTree
	fileId       epoch.FileId
	detached     bool
	detachedPath string
	detachedText string
	callbacks    []bufferCallback
	nextCallback int
}

type bufferCallback struct {
	id int
	fn func([]buffer.Change)
}

// Disposable unregisters a callback when called.
type Disposable func()

func (d Disposable) Dispose() { d() }

// FileId returns the id of the file the buffer is attached to.
func (b *Buffer) FileId() epoch.FileId {
	return b.fileId
}

// Path returns the buffer's current path, or false when the buffer is
// detached or its file has been removed.
func (b *Buffer) Path() (string, bool) {
	if b.detached {
		return "", false
	}
	return b.tree.epoch.Path(b.fileId)
}

// Text returns the buffer's current contents. A detached buffer keeps
// the text it had when it was detached.
func (b *Buffer) Text() string {
	if b.detached {
		return b.detachedText
	}
	text, err := b.tree.epoch.Text(b.fileId)
	if err != nil {
		return ""
	}
	return text
}

// Version returns the buffer's version vector, or nil when detached.
func (b *Buffer) Version() clock.Global {
	if b.detached {
		return nil
	}
	version, err := b.tree.epoch.BufferVersion(b.fileId)
	if err != nil {
		return nil
	}
	return version
}

// ChangesSince reports the edits applied after the given version, as
// ordered range replacements against the older text.
func (b *Buffer) ChangesSince(since clock.Global) []buffer.Change {
	if b.detached {
		return nil
	}
	changes, err := b.tree.epoch.ChangesSince(b.fileId, since)
	if err != nil {
		return nil
	}
	return changes
}

// DeferredOperationCount returns the number of received edits waiting
// for missing dependencies.
func (b *Buffer) DeferredOperationCount() int {
	if b.detached {
		return 0
	}
	count, err := b.tree.epoch.BufferDeferredOpsLen(b.fileId)
	if err != nil {
		return 0
	}
	return count
}

// Edit replaces the given offset ranges with newText. The ranges are
// interpreted against the buffer's current text and must be ordered and
// disjoint.
func (b *Buffer) Edit(oldRanges []buffer.OffsetRange, newText string) (OperationEnvelope, error) {
	if b.detached {
		return OperationEnvelope{}, ErrDetachedBuffer
	}
	op, err := b.tree.epoch.Edit(b.fileId, oldRanges, newText, &b.tree.lamport)
	if err != nil {
		return OperationEnvelope{}, err
	}
	return b.tree.envelope(op), nil
}

// EditPoints is Edit with row and column coordinates.
func (b *Buffer) EditPoints(oldRanges []buffer.PointRange, newText string) (OperationEnvelope, error) {
	if b.detached {
		return OperationEnvelope{}, ErrDetachedBuffer
	}
	op, err := b.tree.epoch.EditPoints(b.fileId, oldRanges, newText, &b.tree.lamport)
	if err != nil {
		return OperationEnvelope{}, err
	}
	return b.tree.envelope(op), nil
}

// AddSelectionSet records this replica's selections over the buffer and
// returns the new set's id.
func (b *Buffer) AddSelectionSet(ranges []buffer.PointRange) (buffer.SelectionSetId, OperationEnvelope, error) {
	if b.detached {
		return buffer.SelectionSetId{}, OperationEnvelope{}, ErrDetachedBuffer
	}
	setId, op, err := b.tree.epoch.AddSelectionSet(b.fileId, ranges, &b.tree.lamport)
	if err != nil {
		return buffer.SelectionSetId{}, OperationEnvelope{}, err
	}
	return setId, b.tree.envelope(op), nil
}

// ReplaceSelectionSet swaps the contents of a selection set this
// replica added earlier.
func (b *Buffer) ReplaceSelectionSet(setId buffer.SelectionSetId, ranges []buffer.PointRange) (OperationEnvelope, error) {
	if b.detached {
		return OperationEnvelope{}, ErrDetachedBuffer
	}
	op, err := b.tree.epoch.ReplaceSelectionSet(b.fileId, setId, ranges, &b.tree.lamport)
	if err != nil {
		return OperationEnvelope{}, err
	}
	return b.tree.envelope(op), nil
}

// RemoveSelectionSet drops a selection set this replica added earlier.
func (b *Buffer) RemoveSelectionSet(setId buffer.SelectionSetId) (OperationEnvelope, error) {
	if b.detached {
		return OperationEnvelope{}, ErrDetachedBuffer
	}
	op, err := b.tree.epoch.RemoveSelectionSet(b.fileId, setId, &b.tree.lamport)
	if err != nil {
		return OperationEnvelope{}, err
	}
	return b.tree.envelope(op), nil
}

// SelectionRanges resolves every selection set over the buffer, split
// into this replica's own sets and other replicas' sets. Remote sets
// are ordered by creation within each replica.
func (b *Buffer) SelectionRanges() (map[buffer.SelectionSetId][]buffer.PointRange, map[clock.ReplicaId][][]buffer.PointRange, error) {
	if b.detached {
		return nil, nil, ErrDetachedBuffer
	}
	all, err := b.tree.epoch.AllSelectionRanges(b.fileId)
	if err != nil {
		return nil, nil, err
	}
	local := make(map[buffer.SelectionSetId][]buffer.PointRange)
	type remoteSet struct {
		setId  buffer.SelectionSetId
		ranges []buffer.PointRange
	}
	remoteSets := make(map[clock.ReplicaId][]remoteSet)
	for setId, ranges := range all {
		if setId.Replica == b.tree.replica {
			local[setId] = ranges
			continue
		}
		remoteSets[setId.Replica] = append(remoteSets[setId.Replica], remoteSet{setId: setId, ranges: ranges})
	}
	remote := make(map[clock.ReplicaId][][]buffer.PointRange, len(remoteSets))
	for replica, sets := range remoteSets {
		slices.SortFunc(sets, func(a, b remoteSet) int {
			return a.setId.Compare(b.setId)
		})
		ranges := make([][]buffer.PointRange, len(sets))
		for i, set := range sets {
			ranges[i] = set.ranges
		}
		remote[replica] = ranges
	}
	return local, remote, nil
}

// OnChange registers a callback invoked with the edits other replicas
// apply to the buffer. Local edits do not fire it.
func (b *Buffer) OnChange(fn func([]buffer.Change)) Disposable {
	id := b.nextCallback
	b.nextCallback++
	b.callbacks = append(b.callbacks, bufferCallback{id: id, fn: fn})
	return func() {
		b.callbacks = slices.DeleteFunc(b.callbacks, func(cb bufferCallback) bool {
			return cb.id == id
		})
	}
}

func (b *Buffer) notify(changes []buffer.Change) {
	for _, cb := range slices.Clone(b.callbacks) {
		cb.fn(changes)
	}
}

func (b *Buffer) attach(fileId epoch.FileId) {
	b.fileId = fileId
	b.detached = false
	b.detachedPath = ""
	b.detachedText = ""
}

func (b *Buffer) detach(path, text string) {
	b.detached = true
	b.detachedPath = path
	b.detachedText = text
}

// Package epoch implements a replicated directory tree. Every replica
// applies the same operations in whatever order they arrive and
// converges on the same tree, with concurrent moves resolved by
// timestamp, directory cycles reverted, and name collisions repaired
// with generated fixup operations.
//
// An epoch starts from a base snapshot whose entries stream in through
// AppendBaseEntries. Files gain identity independent of their path, so
// a file can be created, edited, and replicated before it is ever
// named, and edits follow a file through renames.
package epoch

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"weft/internal/btree"
	"weft/internal/buffer"
	"weft/internal/clock"
	"weft/internal/opqueue"
)

var (
	ErrInvalidPath      = errors.New("epoch: invalid path")
	ErrInvalidFileId    = errors.New("epoch: invalid file id")
	ErrInvalidDirEntry  = errors.New("epoch: invalid directory entry")
	ErrInvalidOperation = errors.New("epoch: invalid operation")
	ErrCursorExhausted  = errors.New("epoch: cursor exhausted")
)

// DirEntry is one entry of a base snapshot listing, in depth-first
// order. Depth is the nesting level, starting at 1 for entries of the
// root directory.
type DirEntry struct {
	Depth int      `json:"depth"`
	Name  string   `json:"name"`
	Type  FileType `json:"type"`
}

// textFile carries the replicated text of one file. Until the file is
// opened its operations accumulate in deferred; opening builds a buffer
// from the base text and replays them.
type textFile struct {
	buffer   *buffer.Buffer
	deferred []buffer.Operation
}

func (t *textFile) clone() *textFile {
	out := &textFile{deferred: append([]buffer.Operation(nil), t.deferred...)}
	if t.buffer != nil {
		out.buffer = t.buffer.Clone()
	}
	return out
}

func (t *textFile) isModified() bool {
	if t.buffer != nil {
		return t.buffer.IsModified()
	}
	for _, op := range t.deferred {
		if _, ok := op.(*buffer.EditOperation); ok {
			return true
		}
	}
	return false
}

// Epoch is one replica's view of the tree. Mutating methods take the
// replica's Lamport clock so that operations created here order after
// everything the replica has seen.
type Epoch struct {
	Id clock.Lamport

	baseEntriesNextId uint64
	baseEntriesStack  []FileId
	metadata          btree.Tree[metadata, FileId]
	parentRefs        btree.Tree[parentRef, parentRefKey]
	childRefs         btree.Tree[childRef, childRefSummary]
	version           clock.Global
	localClock        clock.Local
	textFiles         map[FileId]*textFile
	deferredOps       opqueue.Queue[Operation]
}

// New returns an empty epoch for the given replica.
func New(replica clock.ReplicaId, id clock.Lamport) *Epoch {
	return &Epoch{
		Id:                id,
		baseEntriesNextId: 1,
		localClock:        clock.NewLocal(replica),
		textFiles:         make(map[FileId]*textFile),
	}
}

// Clone returns a deep copy of the epoch. The trees share structure
// with the original; both copies can be mutated independently.
func (e *Epoch) Clone() *Epoch {
	out := *e
	out.baseEntriesStack = append([]FileId(nil), e.baseEntriesStack...)
	out.version = e.version.Clone()
	out.textFiles = make(map[FileId]*textFile, len(e.textFiles))
	for id, tf := range e.textFiles {
		out.textFiles[id] = tf.clone()
	}
	return &out
}

// Replica returns the id of the local replica.
func (e *Epoch) Replica() clock.ReplicaId {
	return e.localClock.Replica
}

// Version returns the operations applied so far as a version vector.
func (e *Epoch) Version() clock.Global {
	return e.version.Clone()
}

// Observed reports whether the operation identified by id has been
// applied.
func (e *Epoch) Observed(id clock.Local) bool {
	return e.version.Observed(id)
}

// DeferredOpsLen returns the number of tree operations waiting on
// dependencies that have not arrived. Buffer operations deferred inside
// unopened files are not counted.
func (e *Epoch) DeferredOpsLen() int {
	return e.deferredOps.Len()
}

// AppendBaseEntries feeds the next chunk of the base snapshot listing
// into the epoch. Entries stream in depth-first order. Returns fixup
// operations created when base entries collide with files inserted
// concurrently by other replicas.
func (e *Epoch) AppendBaseEntries(entries []DirEntry, lamportClock *clock.Lamport) ([]Operation, error) {
	var metadataEdits []btree.Edit[metadata]
	var parentRefEdits []btree.Edit[parentRef]
	var childRefEdits []btree.Edit[childRef]
	nameConflicts := make(map[FileId]struct{})

	childRefCursor := e.childRefs.Cursor()
	for _, entry := range entries {
		if entry.Depth == 0 || entry.Depth > len(e.baseEntriesStack)+1 {
			return nil, ErrInvalidDirEntry
		}
		e.baseEntriesStack = e.baseEntriesStack[:entry.Depth-1]
		parentId := RootFileId
		if n := len(e.baseEntriesStack); n > 0 {
			parentId = e.baseEntriesStack[n-1]
		}
		fileId := BaseFileId(e.baseEntriesNextId)
		e.baseEntriesNextId++

		metadataEdits = append(metadataEdits, btree.Insert(metadata{
			fileId:   fileId,
			fileType: entry.Type,
		}))
		parentRefEdits = append(parentRefEdits, btree.Insert(parentRef{
			childId: fileId,
			parent:  &Parent{FileId: parentId, Name: entry.Name},
		}))
		childRefEdits = append(childRefEdits, btree.Insert(childRef{
			parentId: parentId,
			name:     entry.Name,
			childId:  fileId,
			visible:  true,
		}))
		if btree.Seek(childRefCursor, childRefKey{parentId: parentId, name: entry.Name}, btree.Left) {
			nameConflicts[fileId] = struct{}{}
		}
		if entry.Type == FileTypeDirectory {
			e.baseEntriesStack = append(e.baseEntriesStack, fileId)
		}
	}

	btree.EditTree[FileId](&e.metadata, metadataEdits)
	btree.EditTree[parentRefKey](&e.parentRefs, parentRefEdits)
	btree.EditTree[childRefValueKey](&e.childRefs, childRefEdits)

	var fixupOps []Operation
	for fileId := range nameConflicts {
		fixupOps = append(fixupOps, e.fixNameConflicts(fileId, lamportClock)...)
	}
	deferred := e.deferredOps.Drain()
	moreFixups, err := e.applyOpsInternal(deferred, lamportClock)
	if err != nil {
		return nil, err
	}
	return append(fixupOps, moreFixups...), nil
}

// ApplyOps applies operations received from other replicas. Operations
// whose dependencies are missing are deferred and replayed once they
// can apply. Returns fixup operations created while repairing
// conflicts; these must be broadcast like locally created operations.
func (e *Epoch) ApplyOps(ops []Operation, lamportClock *clock.Lamport) ([]Operation, error) {
	fixupOps, err := e.applyOpsInternal(ops, lamportClock)
	if err != nil {
		return nil, err
	}
	deferred := e.deferredOps.Drain()
	moreFixups, err := e.applyOpsInternal(deferred, lamportClock)
	if err != nil {
		return nil, err
	}
	return append(fixupOps, moreFixups...), nil
}

// applyOpsInternal applies a batch against a clone of the epoch and
// commits the clone only if the whole batch succeeds, so a bad batch
// cannot leave the epoch half-updated.
func (e *Epoch) applyOpsInternal(ops []Operation, lamportClock *clock.Lamport) ([]Operation, error) {
	if len(ops) == 0 {
		return nil, nil
	}
	newEpoch := e.Clone()
	var deferredOps []Operation
	potentialConflicts := make(map[FileId]struct{})

	for _, op := range ops {
		if !newEpoch.canApplyOp(op) {
			deferredOps = append(deferredOps, op)
			continue
		}
		switch op := op.(type) {
		case *InsertMetadataOperation:
			if op.Parent != nil {
				potentialConflicts[op.FileId] = struct{}{}
			}
		case *UpdateParentOperation:
			potentialConflicts[op.ChildId] = struct{}{}
		}
		if err := newEpoch.applyOp(op, lamportClock); err != nil {
			return nil, err
		}
	}
	newEpoch.deferredOps.Insert(deferredOps)

	var fixupOps []Operation
	for fileId := range potentialConflicts {
		fixupOps = append(fixupOps, newEpoch.fixConflicts(fileId, lamportClock)...)
	}
	*e = *newEpoch
	return fixupOps, nil
}

func (e *Epoch) canApplyOp(op Operation) bool {
	switch op := op.(type) {
	case *InsertMetadataOperation:
		return true
	case *UpdateParentOperation:
		_, err := e.fileMetadata(op.ChildId)
		return err == nil
	case *BufferOperation:
		_, err := e.fileMetadata(op.FileId)
		return err == nil
	default:
		return false
	}
}

func (e *Epoch) applyOp(op Operation, lamportClock *clock.Lamport) error {
	e.version.Observe(op.OperationId())
	e.localClock.Observe(op.OperationId())
	lamportClock.Observe(op.Timestamp())

	switch op := op.(type) {
	case *InsertMetadataOperation:
		e.insertMetadataOp(op)
		return nil
	case *UpdateParentOperation:
		e.updateParentOp(op)
		return nil
	case *BufferOperation:
		return e.bufferOp(op, lamportClock)
	default:
		return ErrInvalidOperation
	}
}

// insertMetadataOp registers the file and, when it was created with a
// parent, links it into the tree. Re-delivery is a no-op.
func (e *Epoch) insertMetadataOp(op *InsertMetadataOperation) {
	cursor := e.metadata.Cursor()
	if btree.Seek(cursor, op.FileId, btree.Left) {
		return
	}
	btree.EditTree[FileId](&e.metadata, []btree.Edit[metadata]{
		btree.Insert(metadata{fileId: op.FileId, fileType: op.FileType}),
	})
	if op.Parent != nil {
		btree.EditTree[parentRefKey](&e.parentRefs, []btree.Edit[parentRef]{
			btree.Insert(parentRef{childId: op.FileId, timestamp: op.LamportTimestamp, parent: op.Parent}),
		})
		btree.EditTree[childRefValueKey](&e.childRefs, []btree.Edit[childRef]{
			btree.Insert(childRef{
				parentId:  op.Parent.FileId,
				name:      op.Parent.Name,
				timestamp: op.LamportTimestamp,
				childId:   op.FileId,
				visible:   true,
			}),
		})
	}
}

// updateParentOp records a new parent ref for the child and maintains
// the invariant that the child has at most one ref in childRefs: the
// one holding its current or last visible location. A move older than
// the child's newest ref loses, but an old move can still resurrect a
// file that the newest ref shows as deleted, leaving an invisible
// marker so later writers order correctly against it.
func (e *Epoch) updateParentOp(op *UpdateParentOperation) {
	var childRefEdits []btree.Edit[childRef]

	parentRefCursor := e.parentRefs.Cursor()
	if btree.Seek(parentRefCursor, byChild(op.ChildId), btree.Left) {
		latestParentRef, _ := parentRefCursor.Item()
		var latestVisibleParentRef *parentRef
		for {
			ref, ok := parentRefCursor.Item()
			if !ok || ref.childId != op.ChildId {
				break
			}
			if ref.parent != nil {
				latestVisibleParentRef = &ref
				break
			}
			parentRefCursor.Next()
		}

		var currentChildRef *childRef
		if latestVisibleParentRef != nil {
			childRefCursor := e.childRefs.Cursor()
			btree.Seek(childRefCursor, childRefValueKey{
				parentId:  latestVisibleParentRef.parent.FileId,
				name:      latestVisibleParentRef.parent.Name,
				visible:   latestParentRef.parent != nil,
				timestamp: latestVisibleParentRef.timestamp,
			}, btree.Left)
			if ref, ok := childRefCursor.Item(); ok {
				currentChildRef = &ref
			}
		}

		if op.LamportTimestamp.Compare(latestParentRef.timestamp) > 0 {
			if currentChildRef != nil {
				childRefEdits = append(childRefEdits, btree.Remove(*currentChildRef))
			}
			if op.NewParent != nil {
				childRefEdits = append(childRefEdits, btree.Insert(childRef{
					parentId:  op.NewParent.FileId,
					name:      op.NewParent.Name,
					timestamp: op.LamportTimestamp,
					childId:   op.ChildId,
					visible:   true,
				}))
			} else if currentChildRef != nil {
				hidden := *currentChildRef
				hidden.visible = false
				childRefEdits = append(childRefEdits, btree.Insert(hidden))
			}
		} else if (latestVisibleParentRef == nil || op.LamportTimestamp.Compare(latestVisibleParentRef.timestamp) > 0) &&
			latestParentRef.parent == nil && op.NewParent != nil {
			if currentChildRef != nil {
				childRefEdits = append(childRefEdits, btree.Remove(*currentChildRef))
			}
			childRefEdits = append(childRefEdits, btree.Insert(childRef{
				parentId:  op.NewParent.FileId,
				name:      op.NewParent.Name,
				timestamp: op.LamportTimestamp,
				childId:   op.ChildId,
				visible:   false,
			}))
		}
	} else if op.NewParent != nil {
		childRefEdits = append(childRefEdits, btree.Insert(childRef{
			parentId:  op.NewParent.FileId,
			name:      op.NewParent.Name,
			timestamp: op.LamportTimestamp,
			childId:   op.ChildId,
			visible:   true,
		}))
	}

	btree.EditTree[parentRefKey](&e.parentRefs, []btree.Edit[parentRef]{
		btree.Insert(parentRef{childId: op.ChildId, timestamp: op.LamportTimestamp, parent: op.NewParent}),
	})
	btree.EditTree[childRefValueKey](&e.childRefs, childRefEdits)
}

func (e *Epoch) bufferOp(op *BufferOperation, lamportClock *clock.Lamport) error {
	tf := e.textFiles[op.FileId]
	if tf == nil {
		tf = &textFile{}
		e.textFiles[op.FileId] = tf
	}
	if tf.buffer == nil {
		tf.deferred = append(tf.deferred, op.Operations...)
		return nil
	}
	if err := tf.buffer.ApplyOps(op.Operations, &e.localClock, lamportClock); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOperation, err)
	}
	return nil
}

// CreateFile creates a file or directory under parent. The operation is
// validated against a clone first; a name collision fails the call
// without touching the epoch.
func (e *Epoch) CreateFile(parentId FileId, name string, fileType FileType, lamportClock *clock.Lamport) (Operation, error) {
	if err := e.checkFileId(parentId, FileTypeDirectory); err != nil {
		return nil, err
	}
	newLamportClock := *lamportClock
	newEpoch := e.Clone()
	fileId := NewFileId(newEpoch.localClock.Tick())
	op := &InsertMetadataOperation{
		FileId:           fileId,
		FileType:         fileType,
		Parent:           &Parent{FileId: parentId, Name: name},
		LocalTimestamp:   newEpoch.localClock.Tick(),
		LamportTimestamp: newLamportClock.Tick(),
	}
	fixupOps, err := newEpoch.applyOpsInternal([]Operation{op}, &newLamportClock)
	if err != nil {
		return nil, err
	}
	if len(fixupOps) > 0 {
		return nil, fmt.Errorf("%w: name is already in use", ErrInvalidOperation)
	}
	*lamportClock = newLamportClock
	*e = *newEpoch
	return op, nil
}

// NewTextFile creates an unnamed text file. The file stays invisible
// until a Rename gives it a parent, which lets a buffer replicate
// before it has a path.
func (e *Epoch) NewTextFile(lamportClock *clock.Lamport) (FileId, Operation) {
	fileId := NewFileId(e.localClock.Tick())
	op := &InsertMetadataOperation{
		FileId:           fileId,
		FileType:         FileTypeText,
		LocalTimestamp:   e.localClock.Tick(),
		LamportTimestamp: lamportClock.Tick(),
	}
	_ = e.applyOp(op, lamportClock)
	return fileId, op
}

// Rename moves a file under a new parent with a new name. Like
// CreateFile, a resulting name collision fails without touching the
// epoch.
func (e *Epoch) Rename(fileId, newParentId FileId, newName string, lamportClock *clock.Lamport) (Operation, error) {
	if err := e.checkFileId(fileId, ""); err != nil {
		return nil, err
	}
	if err := e.checkFileId(newParentId, FileTypeDirectory); err != nil {
		return nil, err
	}
	newLamportClock := *lamportClock
	newEpoch := e.Clone()
	op := &UpdateParentOperation{
		ChildId:          fileId,
		NewParent:        &Parent{FileId: newParentId, Name: newName},
		LocalTimestamp:   newEpoch.localClock.Tick(),
		LamportTimestamp: newLamportClock.Tick(),
	}
	fixupOps, err := newEpoch.applyOpsInternal([]Operation{op}, &newLamportClock)
	if err != nil {
		return nil, err
	}
	if len(fixupOps) > 0 {
		return nil, fmt.Errorf("%w: name is already in use", ErrInvalidOperation)
	}
	*lamportClock = newLamportClock
	*e = *newEpoch
	return op, nil
}

// Remove unlinks a file from the tree. The file and its replicated text
// survive; deleted-entry listings can still reach it.
func (e *Epoch) Remove(fileId FileId, lamportClock *clock.Lamport) (Operation, error) {
	if err := e.checkFileId(fileId, ""); err != nil {
		return nil, err
	}
	op := &UpdateParentOperation{
		ChildId:          fileId,
		LocalTimestamp:   e.localClock.Tick(),
		LamportTimestamp: lamportClock.Tick(),
	}
	if err := e.applyOp(op, lamportClock); err != nil {
		return nil, err
	}
	return op, nil
}

// OpenTextFile builds the file's buffer from the base text and replays
// any operations that arrived before the file was opened. Opening an
// already open file keeps the existing buffer.
func (e *Epoch) OpenTextFile(fileId FileId, baseText string, lamportClock *clock.Lamport) error {
	if err := e.checkFileId(fileId, FileTypeText); err != nil {
		return err
	}
	tf := e.textFiles[fileId]
	if tf == nil {
		e.textFiles[fileId] = &textFile{buffer: buffer.New(baseText)}
		return nil
	}
	if tf.buffer != nil {
		return nil
	}
	buf := buffer.New(baseText)
	deferred := tf.deferred
	tf.deferred = nil
	if err := buf.ApplyOps(deferred, &e.localClock, lamportClock); err != nil {
		tf.deferred = deferred
		return fmt.Errorf("%w: %v", ErrInvalidOperation, err)
	}
	tf.buffer = buf
	return nil
}

// IsBuffered reports whether the file has an open buffer.
func (e *Epoch) IsBuffered(fileId FileId) bool {
	tf := e.textFiles[fileId]
	return tf != nil && tf.buffer != nil
}

// Edit splices newText over the given offset ranges of an open text
// file.
func (e *Epoch) Edit(fileId FileId, oldRanges []buffer.OffsetRange, newText string, lamportClock *clock.Lamport) (Operation, error) {
	return e.mutateBuffer(fileId, lamportClock, func(buf *buffer.Buffer, localClock *clock.Local, lamportClock *clock.Lamport) ([]buffer.Operation, error) {
		return buf.Edit(oldRanges, newText, localClock, lamportClock), nil
	})
}

// EditPoints is Edit with the ranges addressed in row/column
// coordinates.
func (e *Epoch) EditPoints(fileId FileId, oldRanges []buffer.PointRange, newText string, lamportClock *clock.Lamport) (Operation, error) {
	return e.mutateBuffer(fileId, lamportClock, func(buf *buffer.Buffer, localClock *clock.Local, lamportClock *clock.Lamport) ([]buffer.Operation, error) {
		return buf.EditPoints(oldRanges, newText, localClock, lamportClock), nil
	})
}

// AddSelectionSet records a set of selections over an open text file
// and returns the new set's id along with the operation to broadcast.
func (e *Epoch) AddSelectionSet(fileId FileId, ranges []buffer.PointRange, lamportClock *clock.Lamport) (buffer.SelectionSetId, Operation, error) {
	var setId buffer.SelectionSetId
	op, err := e.mutateBuffer(fileId, lamportClock, func(buf *buffer.Buffer, localClock *clock.Local, lamportClock *clock.Lamport) ([]buffer.Operation, error) {
		selections, err := selectionsForRanges(buf, ranges)
		if err != nil {
			return nil, err
		}
		id, op := buf.AddSelectionSet(selections, localClock, lamportClock)
		setId = id
		return []buffer.Operation{op}, nil
	})
	if err != nil {
		return buffer.SelectionSetId{}, nil, err
	}
	return setId, op, nil
}

// ReplaceSelectionSet swaps the contents of an existing selection set.
func (e *Epoch) ReplaceSelectionSet(fileId FileId, setId buffer.SelectionSetId, ranges []buffer.PointRange, lamportClock *clock.Lamport) (Operation, error) {
	return e.mutateBuffer(fileId, lamportClock, func(buf *buffer.Buffer, localClock *clock.Local, lamportClock *clock.Lamport) ([]buffer.Operation, error) {
		selections, err := selectionsForRanges(buf, ranges)
		if err != nil {
			return nil, err
		}
		op, err := buf.MutateSelections(setId, localClock, lamportClock, func(*buffer.Buffer, []buffer.Selection) []buffer.Selection {
			return selections
		})
		if err != nil {
			return nil, err
		}
		return []buffer.Operation{op}, nil
	})
}

// RemoveSelectionSet drops a selection set.
func (e *Epoch) RemoveSelectionSet(fileId FileId, setId buffer.SelectionSetId, lamportClock *clock.Lamport) (Operation, error) {
	return e.mutateBuffer(fileId, lamportClock, func(buf *buffer.Buffer, localClock *clock.Local, lamportClock *clock.Lamport) ([]buffer.Operation, error) {
		op, err := buf.RemoveSelectionSet(setId, localClock, lamportClock)
		if err != nil {
			return nil, err
		}
		return []buffer.Operation{op}, nil
	})
}

func (e *Epoch) mutateBuffer(fileId FileId, lamportClock *clock.Lamport, mutate func(buf *buffer.Buffer, localClock *clock.Local, lamportClock *clock.Lamport) ([]buffer.Operation, error)) (Operation, error) {
	tf := e.textFiles[fileId]
	if tf == nil || tf.buffer == nil {
		return nil, fmt.Errorf("%w: file has not been opened", ErrInvalidFileId)
	}
	ops, err := mutate(tf.buffer, &e.localClock, lamportClock)
	if err != nil {
		return nil, err
	}
	localTimestamp := e.localClock.Tick()
	e.version.Observe(localTimestamp)
	return &BufferOperation{
		FileId:           fileId,
		Operations:       ops,
		LocalTimestamp:   localTimestamp,
		LamportTimestamp: lamportClock.Tick(),
	}, nil
}

func (e *Epoch) openBuffer(fileId FileId) (*buffer.Buffer, error) {
	tf := e.textFiles[fileId]
	if tf == nil || tf.buffer == nil {
		return nil, fmt.Errorf("%w: file has not been opened", ErrInvalidFileId)
	}
	return tf.buffer, nil
}

// Text returns the current contents of an open text file.
func (e *Epoch) Text(fileId FileId) (string, error) {
	buf, err := e.openBuffer(fileId)
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// ChangesSince reports the edits applied to an open text file after the
// given version, as ordered range replacements against the older text.
func (e *Epoch) ChangesSince(fileId FileId, since clock.Global) ([]buffer.Change, error) {
	buf, err := e.openBuffer(fileId)
	if err != nil {
		return nil, err
	}
	return buf.ChangesSince(since), nil
}

// BufferVersion returns the version vector of an open text file.
func (e *Epoch) BufferVersion(fileId FileId) (clock.Global, error) {
	buf, err := e.openBuffer(fileId)
	if err != nil {
		return nil, err
	}
	return buf.Version(), nil
}

// BufferDeferredOpsLen returns the number of operations an open text
// file is holding for missing dependencies.
func (e *Epoch) BufferDeferredOpsLen(fileId FileId) (int, error) {
	buf, err := e.openBuffer(fileId)
	if err != nil {
		return 0, err
	}
	return buf.DeferredOpsLen(), nil
}

// SelectionRanges resolves one selection set of an open text file to
// point ranges.
func (e *Epoch) SelectionRanges(fileId FileId, setId buffer.SelectionSetId) ([]buffer.PointRange, error) {
	buf, err := e.openBuffer(fileId)
	if err != nil {
		return nil, err
	}
	selections, err := buf.SelectionSet(setId)
	if err != nil {
		return nil, err
	}
	return selectionRanges(buf, selections)
}

// AllSelectionRanges resolves every selection set of an open text file,
// keyed by set id.
func (e *Epoch) AllSelectionRanges(fileId FileId) (map[buffer.SelectionSetId][]buffer.PointRange, error) {
	buf, err := e.openBuffer(fileId)
	if err != nil {
		return nil, err
	}
	out := make(map[buffer.SelectionSetId][]buffer.PointRange)
	for setId, selections := range buf.Selections() {
		ranges, err := selectionRanges(buf, selections)
		if err != nil {
			return nil, err
		}
		out[setId] = ranges
	}
	return out, nil
}

// SelectionsChangedSince reports whether any selection set of the file
// changed after the given version.
func (e *Epoch) SelectionsChangedSince(fileId FileId, since clock.Global) (bool, error) {
	buf, err := e.openBuffer(fileId)
	if err != nil {
		return false, err
	}
	return buf.SelectionsChangedSince(since), nil
}

func selectionsForRanges(buf *buffer.Buffer, ranges []buffer.PointRange) ([]buffer.Selection, error) {
	sorted := append([]buffer.PointRange(nil), ranges...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start.Compare(sorted[j].Start) < 0
	})
	var merged []buffer.PointRange
	for _, r := range sorted {
		if n := len(merged); n > 0 && merged[n-1].End.Compare(r.Start) >= 0 {
			if r.End.Compare(merged[n-1].End) > 0 {
				merged[n-1].End = r.End
			}
			continue
		}
		merged = append(merged, r)
	}
	selections := make([]buffer.Selection, 0, len(merged))
	for _, r := range merged {
		start, err := buf.AnchorBeforePoint(r.Start)
		if err != nil {
			return nil, err
		}
		end, err := buf.AnchorBeforePoint(r.End)
		if err != nil {
			return nil, err
		}
		selections = append(selections, buffer.Selection{Start: start, End: end})
	}
	return selections, nil
}

func selectionRanges(buf *buffer.Buffer, selections []buffer.Selection) ([]buffer.PointRange, error) {
	ranges := make([]buffer.PointRange, 0, len(selections))
	for _, s := range selections {
		start, err := buf.PointForAnchor(s.Start)
		if err != nil {
			return nil, err
		}
		end, err := buf.PointForAnchor(s.End)
		if err != nil {
			return nil, err
		}
		ranges = append(ranges, buffer.PointRange{Start: start, End: end})
	}
	return ranges, nil
}

// FileId resolves a path to the id of the visible file at that
// location. The empty path names the root directory.
func (e *Epoch) FileId(path string) (FileId, error) {
	components, err := splitPath(path)
	if err != nil {
		return FileId{}, err
	}
	cursor := e.childRefs.Cursor()
	childId := RootFileId
	for _, name := range components {
		if !btree.Seek(cursor, childRefKey{parentId: childId, name: name}, btree.Left) {
			return FileId{}, fmt.Errorf("%w: file not found", ErrInvalidPath)
		}
		ref, _ := cursor.Item()
		if !ref.visible {
			return FileId{}, fmt.Errorf("%w: file not found", ErrInvalidPath)
		}
		childId = ref.childId
	}
	return childId, nil
}

// Exists reports whether a visible file is at the path.
func (e *Epoch) Exists(path string) bool {
	_, err := e.FileId(path)
	return err == nil
}

// Path returns the file's current path, or false when the file or one
// of its ancestors has been unlinked.
func (e *Epoch) Path(fileId FileId) (string, bool) {
	var components []string
	ok := e.visitAncestors(fileId, func(name string) {
		components = append(components, name)
	})
	if !ok {
		return "", false
	}
	slices.Reverse(components)
	return strings.Join(components, "/"), true
}

// BasePath returns the path the file had in the epoch's base snapshot,
// or false when the file was not part of it.
func (e *Epoch) BasePath(fileId FileId) (string, bool) {
	cursor := e.parentRefs.Cursor()
	var components []string
	for fileId != RootFileId {
		if !fileId.IsBase() {
			return "", false
		}
		btree.Seek(cursor, parentRefKey{childId: fileId}, btree.Left)
		ref, ok := cursor.Item()
		if !ok || ref.childId != fileId || ref.parent == nil {
			return "", false
		}
		components = append(components, ref.parent.Name)
		fileId = ref.parent.FileId
	}
	slices.Reverse(components)
	return strings.Join(components, "/"), true
}

// visitAncestors walks from the file to the root, calling f with each
// ancestor entry name starting at the file's own. Returns false when
// the chain is broken by a deletion or loops.
func (e *Epoch) visitAncestors(fileId FileId, f func(name string)) bool {
	if fileId == RootFileId {
		return true
	}
	cursor := e.parentRefs.Cursor()
	if !btree.Seek(cursor, byChild(fileId), btree.Left) {
		return false
	}
	visited := map[FileId]struct{}{fileId: {}}
	for {
		ref, ok := cursor.Item()
		if !ok || ref.parent == nil {
			return false
		}
		parentId := ref.parent.FileId
		if _, seen := visited[parentId]; seen {
			return false
		}
		visited[parentId] = struct{}{}
		f(ref.parent.Name)
		if parentId == RootFileId {
			return true
		}
		if !btree.Seek(cursor, byChild(parentId), btree.Left) {
			return false
		}
	}
}

// FileType returns whether the file is a directory or a text file.
func (e *Epoch) FileType(fileId FileId) (FileType, error) {
	m, err := e.fileMetadata(fileId)
	if err != nil {
		return "", err
	}
	return m.fileType, nil
}

func (e *Epoch) fileMetadata(fileId FileId) (metadata, error) {
	if fileId == RootFileId {
		return metadata{fileId: RootFileId, fileType: FileTypeDirectory}, nil
	}
	cursor := e.metadata.Cursor()
	if btree.Seek(cursor, fileId, btree.Left) {
		m, _ := cursor.Item()
		return m, nil
	}
	return metadata{}, fmt.Errorf("%w: file does not exist", ErrInvalidFileId)
}

// checkFileId verifies the file exists and, when expected is non-empty,
// that it has the expected type.
func (e *Epoch) checkFileId(fileId FileId, expected FileType) error {
	m, err := e.fileMetadata(fileId)
	if err != nil {
		return err
	}
	if expected != "" && m.fileType != expected {
		if expected == FileTypeDirectory {
			return fmt.Errorf("%w: file is not a directory", ErrInvalidFileId)
		}
		return fmt.Errorf("%w: file is not a text file", ErrInvalidFileId)
	}
	return nil
}

func (e *Epoch) isModifiedFile(fileId FileId) bool {
	tf := e.textFiles[fileId]
	return tf != nil && tf.isModified()
}

func splitPath(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	var components []string
	for _, name := range strings.Split(path, "/") {
		switch name {
		case "":
			continue
		case ".", "..":
			return nil, fmt.Errorf("%w: path contains unsupported components", ErrInvalidPath)
		default:
			components = append(components, name)
		}
	}
	return components, nil
}

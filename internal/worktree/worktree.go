// Package worktree exposes a replicated working tree over the epoch
// engine. A WorkTree owns one epoch at a time, wraps its operations in
// envelopes for replication, and hands out Buffer handles that stay
// valid across edits, renames, and epoch resets.
package worktree

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"weft/internal/buffer"
	"weft/internal/clock"
	"weft/internal/epoch"
)

var (
	ErrInvalidReplicaId = errors.New("worktree: replica id must not be zero")
	ErrNotATextFile     = errors.New("worktree: not a text file")
	ErrDetachedBuffer   = errors.New("worktree: buffer is no longer part of the tree")
)

// WorkTree is one replica's view of a shared tree of files. All methods
// that mutate the tree return envelopes that must be delivered to every
// other replica; envelopes received from them are fed to ApplyOps.
// WorkTree is not safe for concurrent use.
type WorkTree struct {
	replica       clock.ReplicaId
	provider      SnapshotProvider
	epoch         *epoch.Epoch
	head          *Oid
	lamport       clock.Lamport
	buffers       map[epoch.FileId]*Buffer
	detached      []*Buffer
	locations     map[clock.ReplicaId]location
	locationClock clock.Local
}

type location struct {
	fileId epoch.FileId
	active bool
	seq    uint64
}

// Entry describes one file during a tree walk.
type Entry struct {
	FileId  epoch.FileId
	Type    epoch.FileType
	Depth   int
	Name    string
	Path    string
	Status  epoch.FileStatus
	Visible bool
}

// EntriesOptions controls which files Entries reports. A nil
// DescendInto walks every directory; otherwise only the listed paths
// are descended into.
type EntriesOptions struct {
	ShowDeleted bool
	DescendInto []string
}

// Create builds a work tree for the given replica. When start
// operations from an existing peer are supplied they are applied and
// head is ignored, since the envelopes carry their epoch's head.
// Otherwise a fresh epoch is started on head, which may be nil for an
// empty tree. The returned envelopes must be broadcast.
func Create(replica clock.ReplicaId, head *Oid, startOps []OperationEnvelope, provider SnapshotProvider) (*WorkTree, []OperationEnvelope, error) {
	if replica == (clock.ReplicaId{}) {
		return nil, nil, ErrInvalidReplicaId
	}
	wt := &WorkTree{
		replica:       replica,
		provider:      provider,
		epoch:         epoch.New(replica, clock.Lamport{}),
		lamport:       clock.NewLamport(replica),
		buffers:       make(map[epoch.FileId]*Buffer),
		locations:     make(map[clock.ReplicaId]location),
		locationClock: clock.Local{Replica: replica},
	}
	if len(startOps) > 0 {
		out, err := wt.ApplyOps(startOps)
		if err != nil {
			return nil, nil, err
		}
		return wt, out, nil
	}
	out, err := wt.Reset(head)
	if err != nil {
		return nil, nil, err
	}
	return wt, out, nil
}

// Replica returns the id this work tree stamps on its operations.
func (wt *WorkTree) Replica() clock.ReplicaId {
	return wt.replica
}

// Head returns the snapshot the current epoch is based on, or nil.
func (wt *WorkTree) Head() *Oid {
	return cloneOid(wt.head)
}

// EpochId identifies the current epoch across replicas.
func (wt *WorkTree) EpochId() clock.Lamport {
	return wt.epoch.Id
}

// Version returns the versions of every replica's operations observed
// in the current epoch.
func (wt *WorkTree) Version() clock.Global {
	return wt.epoch.Version()
}

// HasObserved reports whether every operation counted in version has
// been applied to the current epoch.
func (wt *WorkTree) HasObserved(version clock.Global) bool {
	return wt.epoch.Version().ObservedAll(version)
}

// DeferredOperationCount returns the number of received tree operations
// waiting for missing dependencies.
func (wt *WorkTree) DeferredOperationCount() int {
	return wt.epoch.DeferredOpsLen()
}

// ApplyOps applies envelopes received from other replicas. Envelopes
// for superseded epochs are dropped, and the first envelope seen for a
// newer epoch resets this tree onto that epoch's head before applying.
// The returned envelopes are fixups that must be broadcast.
func (wt *WorkTree) ApplyOps(envelopes []OperationEnvelope) ([]OperationEnvelope, error) {
	var out []OperationEnvelope
	var pending []pendingChange
	pre := wt.snapshotBufferVersions()
	for _, envelope := range envelopes {
		switch cmp := envelope.EpochId.Compare(wt.epoch.Id); {
		case cmp < 0:
			// Keep local timestamps ahead of the old epoch's traffic.
			wt.lamport.Observe(envelope.EpochId)
			if envelope.Operation != nil {
				wt.lamport.Observe(envelope.Operation.Timestamp())
			}
			if envelope.Location != nil {
				wt.lamport.Observe(envelope.Location.LamportTimestamp)
				wt.locationClock.Observe(envelope.Location.LocalTimestamp)
			}
			continue
		case cmp > 0:
			// Changes must be reported against the buffers' old
			// versions before the switch invalidates them.
			pending = append(pending, wt.collectChanges(pre)...)
			switched, err := wt.switchEpoch(envelope.EpochId, envelope.EpochHead)
			if err != nil {
				wt.fireChanges(pending)
				return out, err
			}
			pending = append(pending, switched...)
			pre = wt.snapshotBufferVersions()
			if envelope.IsEpochReset() {
				continue
			}
		}
		fixups, err := wt.applyCurrent(envelope)
		out = append(out, fixups...)
		if err != nil {
			pending = append(pending, wt.collectChanges(pre)...)
			wt.fireChanges(pending)
			return out, err
		}
	}
	pending = append(pending, wt.collectChanges(pre)...)
	pending = append(pending, wt.reattachDetached()...)
	wt.fireChanges(pending)
	return out, nil
}

func (wt *WorkTree) applyCurrent(envelope OperationEnvelope) ([]OperationEnvelope, error) {
	if envelope.Location != nil {
		wt.lamport.Observe(envelope.Location.LamportTimestamp)
		// Replaying this replica's own journal must leave the clock
		// ahead of every sequence number it already spent.
		wt.locationClock.Observe(envelope.Location.LocalTimestamp)
		wt.applyLocation(*envelope.Location)
		return nil, nil
	}
	if envelope.Operation == nil {
		// A duplicate start of the epoch we are already on.
		return nil, nil
	}
	fixups, err := wt.epoch.ApplyOps([]epoch.Operation{envelope.Operation}, &wt.lamport)
	if err != nil {
		return nil, err
	}
	return wt.envelopes(fixups), nil
}

func (wt *WorkTree) applyLocation(update LocationUpdate) {
	if current, ok := wt.locations[update.Replica]; ok && current.seq >= update.LocalTimestamp.Seq {
		return
	}
	wt.locations[update.Replica] = location{
		fileId: update.FileId,
		active: update.Active,
		seq:    update.LocalTimestamp.Seq,
	}
}

// Reset abandons the current epoch and starts a new one on head, which
// may be nil for an empty base. Files created in the current epoch are
// recreated in the new one, open buffers are carried over, and buffers
// whose text differs under the new head notify their callbacks with a
// minimal diff. The returned envelopes reset every other replica.
func (wt *WorkTree) Reset(head *Oid) ([]OperationEnvelope, error) {
	survivors := wt.collectSurvivors()
	epochId := wt.lamport.Tick()
	pending, err := wt.switchEpoch(epochId, head)
	if err != nil {
		return nil, err
	}
	out := []OperationEnvelope{{EpochId: epochId, EpochHead: cloneOid(head)}}
	for _, s := range survivors {
		if wt.epoch.Exists(s.path) {
			// The new base has a file at this path already; an open
			// buffer was re-homed onto it during the switch.
			continue
		}
		parentId := epoch.RootFileId
		if s.parentPath != "" {
			var err error
			if parentId, err = wt.epoch.FileId(s.parentPath); err != nil {
				continue
			}
		}
		op, err := wt.epoch.CreateFile(parentId, s.name, s.fileType, &wt.lamport)
		if err != nil {
			continue
		}
		out = append(out, wt.envelope(op))
		if !s.buffered {
			continue
		}
		fileId, err := wt.epoch.FileId(s.path)
		if err != nil {
			continue
		}
		if err := wt.epoch.OpenTextFile(fileId, "", &wt.lamport); err != nil {
			continue
		}
		if s.text != "" {
			editOp, err := wt.epoch.Edit(fileId, []buffer.OffsetRange{{Start: 0, End: 0}}, s.text, &wt.lamport)
			if err != nil {
				continue
			}
			out = append(out, wt.envelope(editOp))
		}
		if s.buf != nil {
			s.buf.attach(fileId)
			wt.buffers[fileId] = s.buf
		}
	}
	pending = append(pending, wt.reattachDetached()...)
	wt.fireChanges(pending)
	return out, nil
}

type survivor struct {
	path       string
	parentPath string
	name       string
	fileType   epoch.FileType
	text       string
	buffered   bool
	buf        *Buffer
}

// collectSurvivors captures the files created in the current epoch, in
// depth-first order so parents are recreated before their children.
func (wt *WorkTree) collectSurvivors() []survivor {
	cursor := wt.epoch.Cursor()
	if cursor == nil {
		return nil
	}
	var survivors []survivor
	for {
		entry, err := cursor.Entry()
		if err != nil {
			return survivors
		}
		if entry.Status == epoch.StatusNew && entry.Visible {
			path := cursor.Path()
			parentPath, name := splitLast(path)
			s := survivor{
				path:       path,
				parentPath: parentPath,
				name:       name,
				fileType:   entry.FileType,
			}
			if entry.FileType == epoch.FileTypeText && wt.epoch.IsBuffered(entry.FileId) {
				if text, err := wt.epoch.Text(entry.FileId); err == nil {
					s.buffered = true
					s.text = text
					s.buf = wt.buffers[entry.FileId]
				}
			}
			survivors = append(survivors, s)
		}
		if !cursor.Next(true) {
			return survivors
		}
	}
}

// switchEpoch replaces the current epoch with a fresh one based on
// head. Open buffers whose path exists as a text file in the new base
// are re-homed onto it; the rest are detached. The work tree is left
// untouched when the provider fails.
func (wt *WorkTree) switchEpoch(id clock.Lamport, head *Oid) ([]pendingChange, error) {
	lamport := wt.lamport
	lamport.Observe(id)
	newEpoch := epoch.New(wt.replica, id)
	if head != nil {
		entries, err := readBaseEntries(wt.provider, *head)
		if err != nil {
			return nil, err
		}
		if _, err := newEpoch.AppendBaseEntries(entries, &lamport); err != nil {
			return nil, err
		}
	}

	type rehome struct {
		buf     *Buffer
		fileId  epoch.FileId
		changes []buffer.Change
	}
	type detach struct {
		buf  *Buffer
		path string
		text string
	}
	var rehomes []rehome
	var detaches []detach
	for fileId, buf := range wt.buffers {
		text, err := wt.epoch.Text(fileId)
		if err != nil {
			continue
		}
		path, _ := wt.epoch.Path(fileId)
		newId, ok := wt.rehomeTarget(newEpoch, fileId)
		if !ok {
			detaches = append(detaches, detach{buf: buf, path: path, text: text})
			continue
		}
		baseText, err := wt.provider.BaseText(*head, path)
		if err != nil {
			return nil, err
		}
		if err := newEpoch.OpenTextFile(newId, baseText, &lamport); err != nil {
			return nil, err
		}
		rehomes = append(rehomes, rehome{buf: buf, fileId: newId, changes: buffer.Diff(text, baseText)})
	}

	wt.epoch = newEpoch
	wt.head = cloneOid(head)
	wt.lamport = lamport
	clear(wt.locations)
	wt.buffers = make(map[epoch.FileId]*Buffer)
	var pending []pendingChange
	for _, r := range rehomes {
		r.buf.attach(r.fileId)
		wt.buffers[r.fileId] = r.buf
		if len(r.changes) > 0 {
			pending = append(pending, pendingChange{buffer: r.buf, changes: r.changes})
		}
	}
	for _, d := range detaches {
		d.buf.detach(d.path, d.text)
		wt.detached = append(wt.detached, d.buf)
	}
	return pending, nil
}

// reattachDetached re-homes detached buffers whose old path resolves to
// a text file again, which happens when a reset's base brings the path
// back or when the resetting replica's recreate operations arrive.
func (wt *WorkTree) reattachDetached() []pendingChange {
	if len(wt.detached) == 0 {
		return nil
	}
	var pending []pendingChange
	var still []*Buffer
	for _, buf := range wt.detached {
		if !buf.detached {
			continue
		}
		fileId, err := wt.epoch.FileId(buf.detachedPath)
		if err != nil {
			still = append(still, buf)
			continue
		}
		if fileType, err := wt.epoch.FileType(fileId); err != nil || fileType != epoch.FileTypeText {
			still = append(still, buf)
			continue
		}
		if _, taken := wt.buffers[fileId]; taken {
			still = append(still, buf)
			continue
		}
		if err := wt.openEpochBuffer(fileId); err != nil {
			still = append(still, buf)
			continue
		}
		oldText := buf.detachedText
		buf.attach(fileId)
		wt.buffers[fileId] = buf
		if newText, err := wt.epoch.Text(fileId); err == nil {
			if changes := buffer.Diff(oldText, newText); len(changes) > 0 {
				pending = append(pending, pendingChange{buffer: buf, changes: changes})
			}
		}
	}
	wt.detached = still
	return pending
}

// rehomeTarget resolves a buffer's current path to a text file in the
// epoch being switched to.
func (wt *WorkTree) rehomeTarget(newEpoch *epoch.Epoch, fileId epoch.FileId) (epoch.FileId, bool) {
	path, ok := wt.epoch.Path(fileId)
	if !ok {
		return epoch.FileId{}, false
	}
	newId, err := newEpoch.FileId(path)
	if err != nil {
		return epoch.FileId{}, false
	}
	fileType, err := newEpoch.FileType(newId)
	if err != nil || fileType != epoch.FileTypeText {
		return epoch.FileId{}, false
	}
	return newId, true
}

// CreateFile creates a file or directory at path. The parent directory
// must already exist.
func (wt *WorkTree) CreateFile(path string, fileType epoch.FileType) (OperationEnvelope, error) {
	parentPath, name := splitLast(path)
	parentId := epoch.RootFileId
	if parentPath != "" {
		var err error
		if parentId, err = wt.epoch.FileId(parentPath); err != nil {
			return OperationEnvelope{}, err
		}
	}
	op, err := wt.epoch.CreateFile(parentId, name, fileType, &wt.lamport)
	if err != nil {
		return OperationEnvelope{}, err
	}
	return wt.envelope(op), nil
}

// Rename moves the file at oldPath to newPath.
func (wt *WorkTree) Rename(oldPath, newPath string) (OperationEnvelope, error) {
	fileId, err := wt.epoch.FileId(oldPath)
	if err != nil {
		return OperationEnvelope{}, err
	}
	newParentPath, newName := splitLast(newPath)
	newParentId := epoch.RootFileId
	if newParentPath != "" {
		if newParentId, err = wt.epoch.FileId(newParentPath); err != nil {
			return OperationEnvelope{}, err
		}
	}
	op, err := wt.epoch.Rename(fileId, newParentId, newName, &wt.lamport)
	if err != nil {
		return OperationEnvelope{}, err
	}
	return wt.envelope(op), nil
}

// Remove deletes the file at path. Removed files stay in the tree as
// invisible entries so concurrent operations on them still apply.
func (wt *WorkTree) Remove(path string) (OperationEnvelope, error) {
	fileId, err := wt.epoch.FileId(path)
	if err != nil {
		return OperationEnvelope{}, err
	}
	op, err := wt.epoch.Remove(fileId, &wt.lamport)
	if err != nil {
		return OperationEnvelope{}, err
	}
	return wt.envelope(op), nil
}

// Exists reports whether a visible file exists at path.
func (wt *WorkTree) Exists(path string) bool {
	return wt.epoch.Exists(path)
}

// OpenTextFile loads the file at path into memory and returns a handle
// to it. Opening the same file again returns the identical handle. Base
// files are loaded from the snapshot provider; the handle survives
// renames and epoch resets.
func (wt *WorkTree) OpenTextFile(path string) (*Buffer, error) {
	fileId, err := wt.epoch.FileId(path)
	if err != nil {
		return nil, err
	}
	fileType, err := wt.epoch.FileType(fileId)
	if err != nil {
		return nil, err
	}
	if fileType != epoch.FileTypeText {
		return nil, fmt.Errorf("%w: %s", ErrNotATextFile, path)
	}
	if buf, ok := wt.buffers[fileId]; ok {
		return buf, nil
	}
	if err := wt.openEpochBuffer(fileId); err != nil {
		return nil, err
	}
	buf := &Buffer{tree: wt, fileId: fileId}
	wt.buffers[fileId] = buf
	return buf, nil
}

func (wt *WorkTree) openEpochBuffer(fileId epoch.FileId) error {
	if wt.epoch.IsBuffered(fileId) {
		return nil
	}
	var baseText string
	if fileId.IsBase() && wt.head != nil {
		// The file may have been renamed since the epoch started; the
		// provider knows it by its original path.
		if basePath, ok := wt.epoch.BasePath(fileId); ok {
			text, err := wt.provider.BaseText(*wt.head, basePath)
			if err != nil {
				return err
			}
			baseText = text
		}
	}
	return wt.epoch.OpenTextFile(fileId, baseText, &wt.lamport)
}

// Entries walks the tree in depth-first order.
func (wt *WorkTree) Entries(options EntriesOptions) []Entry {
	cursor := wt.epoch.Cursor()
	if cursor == nil {
		return nil
	}
	var entries []Entry
	for {
		entry, err := cursor.Entry()
		if err != nil {
			return entries
		}
		include := options.ShowDeleted || entry.Status != epoch.StatusRemoved
		path := cursor.Path()
		if include {
			entries = append(entries, Entry{
				FileId:  entry.FileId,
				Type:    entry.FileType,
				Depth:   entry.Depth,
				Name:    entry.Name,
				Path:    path,
				Status:  entry.Status,
				Visible: entry.Visible,
			})
		}
		descend := include && (options.DescendInto == nil || slices.Contains(options.DescendInto, path))
		if !cursor.Next(descend) {
			return entries
		}
	}
}

// SetActiveLocation broadcasts which buffer this replica is viewing.
// Passing nil clears the location.
func (wt *WorkTree) SetActiveLocation(buf *Buffer) (OperationEnvelope, error) {
	update := LocationUpdate{
		Replica:          wt.replica,
		LocalTimestamp:   wt.locationClock.Tick(),
		LamportTimestamp: wt.lamport.Tick(),
	}
	if buf != nil {
		if buf.detached {
			return OperationEnvelope{}, ErrDetachedBuffer
		}
		update.FileId = buf.fileId
		update.Active = true
	}
	wt.applyLocation(update)
	return OperationEnvelope{
		EpochId:   wt.epoch.Id,
		EpochHead: cloneOid(wt.head),
		Location:  &update,
	}, nil
}

// ReplicaLocations returns the path each replica is viewing. Replicas
// with a cleared location or one that does not resolve to a visible
// path are omitted.
func (wt *WorkTree) ReplicaLocations() map[clock.ReplicaId]string {
	locations := make(map[clock.ReplicaId]string)
	for replica, loc := range wt.locations {
		if !loc.active {
			continue
		}
		if path, ok := wt.epoch.Path(loc.fileId); ok {
			locations[replica] = path
		}
	}
	return locations
}

func (wt *WorkTree) envelope(op epoch.Operation) OperationEnvelope {
	return OperationEnvelope{
		EpochId:   wt.epoch.Id,
		EpochHead: cloneOid(wt.head),
		Operation: op,
	}
}

func (wt *WorkTree) envelopes(ops []epoch.Operation) []OperationEnvelope {
	if len(ops) == 0 {
		return nil
	}
	envelopes := make([]OperationEnvelope, len(ops))
	for i, op := range ops {
		envelopes[i] = wt.envelope(op)
	}
	return envelopes
}

type pendingChange struct {
	buffer  *Buffer
	changes []buffer.Change
}

// snapshotBufferVersions records each open buffer's version so changes
// applied on behalf of other replicas can be reported to callbacks.
func (wt *WorkTree) snapshotBufferVersions() map[*Buffer]clock.Global {
	versions := make(map[*Buffer]clock.Global, len(wt.buffers))
	for fileId, buf := range wt.buffers {
		if version, err := wt.epoch.BufferVersion(fileId); err == nil {
			versions[buf] = version
		}
	}
	return versions
}

func (wt *WorkTree) collectChanges(pre map[*Buffer]clock.Global) []pendingChange {
	var pending []pendingChange
	for buf, version := range pre {
		if wt.buffers[buf.fileId] != buf {
			continue
		}
		changes, err := wt.epoch.ChangesSince(buf.fileId, version)
		if err != nil || len(changes) == 0 {
			continue
		}
		pending = append(pending, pendingChange{buffer: buf, changes: changes})
	}
	return pending
}

func (wt *WorkTree) fireChanges(pending []pendingChange) {
	for _, p := range pending {
		p.buffer.notify(p.changes)
	}
}

func splitLast(path string) (string, string) {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[:i], path[i+1:]
	}
	return "", path
}

func cloneOid(oid *Oid) *Oid {
	if oid == nil {
		return nil
	}
	clone := *oid
	return &clone
}

package epoch

import (
	"strings"

	"weft/internal/btree"
)

// FileStatus classifies a file against the epoch's base snapshot.
type FileStatus string

const (
	StatusNew                FileStatus = "new"
	StatusRenamed            FileStatus = "renamed"
	StatusRemoved            FileStatus = "removed"
	StatusModified           FileStatus = "modified"
	StatusRenamedAndModified FileStatus = "renamed-and-modified"
	StatusUnchanged          FileStatus = "unchanged"
)

// CursorEntry describes one file during a tree walk. Visible is false
// for removed files and for everything beneath a removed directory.
type CursorEntry struct {
	FileId   FileId     `json:"file_id"`
	FileType FileType   `json:"file_type"`
	Depth    int        `json:"depth"`
	Name     string     `json:"name"`
	Status   FileStatus `json:"status"`
	Visible  bool       `json:"visible"`
}

// Cursor walks the epoch's entries depth-first, removed entries
// included. It observes the tree as it was when the cursor was
// created.
type Cursor struct {
	textFiles       map[FileId]*textFile
	metadataCursor  *btree.Cursor[metadata, FileId]
	parentRefCursor *btree.Cursor[parentRef, parentRefKey]
	childRefCursor  *btree.Cursor[childRef, childRefSummary]
	stack           []cursorStackEntry
	path            []string
}

// cursorStackEntry tracks the walk through one directory. visible is
// whether every ancestor up to the root is itself visible.
type cursorStackEntry struct {
	cursor  *btree.Cursor[childRef, childRefSummary]
	visible bool
}

// Cursor returns a walker positioned at the first entry, or nil when
// the tree is empty.
func (e *Epoch) Cursor() *Cursor {
	c := &Cursor{
		textFiles:       e.textFiles,
		metadataCursor:  e.metadata.Cursor(),
		parentRefCursor: e.parentRefs.Cursor(),
		childRefCursor:  e.childRefs.Cursor(),
	}
	if !c.descendInto(true, RootFileId) {
		return nil
	}
	return c
}

// Next advances to the following entry, entering the current directory
// only when canDescend. Returns false once the walk is done.
func (c *Cursor) Next(canDescend bool) bool {
	if len(c.stack) == 0 {
		return false
	}
	entry, err := c.Entry()
	if err != nil {
		return false
	}
	if !canDescend || entry.FileType != FileTypeDirectory || !c.descendInto(entry.Visible, entry.FileId) {
		for len(c.stack) > 0 && !c.nextSibling() {
			c.stack = c.stack[:len(c.stack)-1]
			c.path = c.path[:len(c.path)-1]
		}
	}
	return len(c.stack) > 0
}

// Entry describes the file the cursor is on.
func (c *Cursor) Entry() (CursorEntry, error) {
	if len(c.stack) == 0 {
		return CursorEntry{}, ErrCursorExhausted
	}
	stackEntry := c.stack[len(c.stack)-1]
	m, ok := c.metadataCursor.Item()
	if !ok {
		return CursorEntry{}, ErrCursorExhausted
	}
	ref, ok := stackEntry.cursor.Item()
	if !ok {
		return CursorEntry{}, ErrCursorExhausted
	}

	// The newest parent ref gives the file's current location, the
	// oldest its original one. Comparing them classifies the file.
	parentRefCursor := c.parentRefCursor.Clone()
	btree.Seek(parentRefCursor, byChild(ref.childId), btree.Left)
	newestRef, ok := parentRefCursor.Item()
	if !ok {
		return CursorEntry{}, ErrCursorExhausted
	}
	btree.Seek(parentRefCursor, byChild(ref.childId), btree.Right)
	parentRefCursor.Prev()
	oldestRef, ok := parentRefCursor.Item()
	if !ok {
		return CursorEntry{}, ErrCursorExhausted
	}

	var status FileStatus
	var visible bool
	if ref.childId.IsBase() {
		switch {
		case parentsEqual(newestRef.parent, oldestRef.parent):
			if c.isModified(m.fileId) {
				status = StatusModified
			} else {
				status = StatusUnchanged
			}
			visible = true
		case newestRef.parent != nil:
			if c.isModified(m.fileId) {
				status = StatusRenamedAndModified
			} else {
				status = StatusRenamed
			}
			visible = true
		default:
			status = StatusRemoved
		}
	} else {
		status = StatusNew
		visible = newestRef.parent != nil
	}

	return CursorEntry{
		FileId:   m.fileId,
		FileType: m.fileType,
		Depth:    len(c.stack),
		Name:     ref.name,
		Status:   status,
		Visible:  stackEntry.visible && visible,
	}, nil
}

// Path returns the current entry's path from the epoch root.
func (c *Cursor) Path() string {
	return strings.Join(c.path, "/")
}

func (c *Cursor) descendInto(parentVisible bool, dirId FileId) bool {
	childRefCursor := c.childRefCursor.Clone()
	btree.Seek(childRefCursor, byParent(dirId), btree.Left)
	ref, ok := childRefCursor.Item()
	if !ok || ref.parentId != dirId {
		return false
	}
	c.stack = append(c.stack, cursorStackEntry{cursor: childRefCursor, visible: parentVisible})
	c.path = append(c.path, ref.name)
	btree.Seek(c.metadataCursor, ref.childId, btree.Left)
	return true
}

func (c *Cursor) nextSibling() bool {
	stackEntry := &c.stack[len(c.stack)-1]
	ref, ok := stackEntry.cursor.Item()
	if !ok {
		return false
	}
	parentId := ref.parentId
	stackEntry.cursor.Next()
	next, ok := stackEntry.cursor.Item()
	if !ok || next.parentId != parentId {
		return false
	}
	btree.Seek(c.metadataCursor, next.childId, btree.Left)
	c.path[len(c.path)-1] = next.name
	return true
}

func (c *Cursor) isModified(fileId FileId) bool {
	tf := c.textFiles[fileId]
	return tf != nil && tf.isModified()
}

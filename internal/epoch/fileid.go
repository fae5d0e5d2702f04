package epoch

import "weft/internal/clock"

// FileId names a file within an epoch. Files that were present in the
// epoch's base snapshot carry a dense index assigned while the base
// entries stream in; files created afterwards carry the sequence
// timestamp of their insert operation, which is unique across replicas.
// The zero FileId is the root directory.
type FileId struct {
	IsNew bool        `json:"is_new,omitempty"`
	Index uint64      `json:"index,omitempty"`
	Id    clock.Local `json:"id,omitempty"`
}

// RootFileId is the implicit root directory of every epoch.
var RootFileId FileId

// BaseFileId returns the id of the index-th base entry.
func BaseFileId(index uint64) FileId {
	return FileId{Index: index}
}

// NewFileId returns the id of a file created by an operation.
func NewFileId(id clock.Local) FileId {
	return FileId{IsNew: true, Id: id}
}

// IsBase reports whether the file came from the base snapshot.
func (f FileId) IsBase() bool {
	return !f.IsNew
}

// Compare orders base files before new ones, base files by index, and
// new files by the timestamp that created them.
func (f FileId) Compare(other FileId) int {
	switch {
	case f.IsNew != other.IsNew:
		if f.IsNew {
			return 1
		}
		return -1
	case !f.IsNew:
		switch {
		case f.Index < other.Index:
			return -1
		case f.Index > other.Index:
			return 1
		}
		return 0
	default:
		return f.Id.Compare(other.Id)
	}
}

// Add keeps the rightmost id, making FileId usable as its own tree
// summary.
func (f FileId) Add(other FileId) FileId {
	return other
}

// AddSummary makes FileId a seek dimension over trees it summarizes.
func (f FileId) AddSummary(s FileId) FileId {
	return s
}

// Parent locates a file under a directory: the directory's id plus the
// entry name. A nil *Parent means the file is deleted or not yet linked
// into the tree.
type Parent struct {
	FileId FileId `json:"file_id"`
	Name   string `json:"name"`
}

func parentsEqual(a, b *Parent) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

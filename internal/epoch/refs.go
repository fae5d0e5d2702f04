package epoch

import (
	"strings"

	"weft/internal/clock"
)

// FileType distinguishes directories from text files.
type FileType string

const (
	FileTypeDirectory FileType = "directory"
	FileTypeText      FileType = "text"
)

// The epoch keeps three trees. metadata records each file's type, keyed
// by id. parentRefs records every parent a file has ever been assigned,
// newest first, so the current location is the first ref for a child.
// childRefs records directory entries ordered by (parent, name), with
// visible entries sorted before deleted ones and newer entries before
// older, so the winning entry for a name is the first in its group.

type metadata struct {
	fileId   FileId
	fileType FileType
}

func (m metadata) Summarize() FileId { return m.fileId }

func (m metadata) Key() FileId { return m.fileId }

type parentRef struct {
	childId   FileId
	timestamp clock.Lamport
	parent    *Parent
}

func (r parentRef) Summarize() parentRefKey {
	return parentRefKey{childId: r.childId, timestamp: r.timestamp}
}

func (r parentRef) Key() parentRefKey {
	return parentRefKey{childId: r.childId, timestamp: r.timestamp}
}

// parentRefKey orders refs by child id, then newest timestamp first.
type parentRefKey struct {
	childId   FileId
	timestamp clock.Lamport
}

func (k parentRefKey) Add(other parentRefKey) parentRefKey {
	return other
}

func (k parentRefKey) AddSummary(s parentRefKey) parentRefKey {
	return s
}

func (k parentRefKey) Compare(other parentRefKey) int {
	if cmp := k.childId.Compare(other.childId); cmp != 0 {
		return cmp
	}
	return other.timestamp.Compare(k.timestamp)
}

// byChild seeks parent refs by child id alone, landing on the newest
// ref for that child.
type byChild FileId

func (d byChild) AddSummary(s parentRefKey) byChild {
	return byChild(s.childId)
}

func (d byChild) Compare(other byChild) int {
	return FileId(d).Compare(FileId(other))
}

type childRef struct {
	parentId  FileId
	name      string
	timestamp clock.Lamport
	childId   FileId
	visible   bool
}

func (r childRef) Summarize() childRefSummary {
	s := childRefSummary{
		parentId:  r.parentId,
		name:      r.name,
		visible:   r.visible,
		timestamp: r.timestamp,
	}
	if r.visible {
		s.visibleCount = 1
	}
	return s
}

func (r childRef) Key() childRefValueKey {
	return childRefValueKey{
		parentId:  r.parentId,
		name:      r.name,
		visible:   r.visible,
		timestamp: r.timestamp,
	}
}

type childRefSummary struct {
	parentId     FileId
	name         string
	visible      bool
	timestamp    clock.Lamport
	visibleCount int
}

func (s childRefSummary) Add(other childRefSummary) childRefSummary {
	other.visibleCount += s.visibleCount
	return other
}

// childRefValueKey orders entries by (parent, name), visible before
// deleted, then newest first within a name.
type childRefValueKey struct {
	parentId  FileId
	name      string
	visible   bool
	timestamp clock.Lamport
}

func (k childRefValueKey) AddSummary(s childRefSummary) childRefValueKey {
	return childRefValueKey{
		parentId:  s.parentId,
		name:      s.name,
		visible:   s.visible,
		timestamp: s.timestamp,
	}
}

func (k childRefValueKey) Compare(other childRefValueKey) int {
	if cmp := k.parentId.Compare(other.parentId); cmp != 0 {
		return cmp
	}
	if cmp := strings.Compare(k.name, other.name); cmp != 0 {
		return cmp
	}
	if k.visible != other.visible {
		if k.visible {
			return -1
		}
		return 1
	}
	return other.timestamp.Compare(k.timestamp)
}

// childRefKey seeks by (parent, name) alone, landing on the winning
// entry for that name.
type childRefKey struct {
	parentId FileId
	name     string
}

func (k childRefKey) AddSummary(s childRefSummary) childRefKey {
	return childRefKey{parentId: s.parentId, name: s.name}
}

func (k childRefKey) Compare(other childRefKey) int {
	if cmp := k.parentId.Compare(other.parentId); cmp != 0 {
		return cmp
	}
	return strings.Compare(k.name, other.name)
}

// byParent seeks child refs by parent id alone, landing on the
// directory's first entry.
type byParent FileId

func (d byParent) AddSummary(s childRefSummary) byParent {
	return byParent(s.parentId)
}

func (d byParent) Compare(other byParent) int {
	return FileId(d).Compare(FileId(other))
}

// visibleCount counts visible entries to the left of a position, which
// lets a cursor skip straight to the next visible entry.
type visibleCount int

func (d visibleCount) AddSummary(s childRefSummary) visibleCount {
	return d + visibleCount(s.visibleCount)
}

func (d visibleCount) Compare(other visibleCount) int {
	switch {
	case d < other:
		return -1
	case d > other:
		return 1
	default:
		return 0
	}
}

package buffer

import (
	"math"

	"weft/internal/clock"
)

// fragmentId orders fragments by a dense sequence of u16 paths, so a
// fresh id can always be generated between two existing ones without
// rebalancing the neighbors.
type fragmentId []uint16

func minFragmentId() fragmentId {
	return fragmentId{0}
}

func maxFragmentId() fragmentId {
	return fragmentId{math.MaxUint16}
}

// fragmentIdBetween picks an id strictly between left and right.
// left must be strictly less than right.
func fragmentIdBetween(left, right fragmentId) fragmentId {
	var entries []uint16
	for i := 0; ; i++ {
		var l uint16
		if i < len(left) {
			l = left[i]
		}
		r := uint16(math.MaxUint16)
		if i < len(right) {
			r = right[i]
		}
		if interval := r - l; interval > 1 {
			entries = append(entries, l+interval/2)
			break
		}
		entries = append(entries, l)
	}
	return entries
}

func (f fragmentId) Compare(other fragmentId) int {
	for i := 0; i < len(f) && i < len(other); i++ {
		if f[i] != other[i] {
			if f[i] < other[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(f) < len(other):
		return -1
	case len(f) > len(other):
		return 1
	}
	return 0
}

func (f fragmentId) AddSummary(s fragmentSummary) fragmentId {
	return s.maxFragmentId
}

// insertion is a single burst of text attributed to one edit. It never
// changes once created; fragments reference slices of it.
type insertion struct {
	id               clock.Local
	parentId         clock.Local
	offsetInParent   int
	text             *Text
	lamportTimestamp clock.Lamport
}

// fragment is a contiguous slice of an insertion as it currently
// appears in the woven text. Deleted fragments stay in the tree with a
// non-empty deletions set so concurrent edits can still address them.
type fragment struct {
	id          fragmentId
	insertion   insertion
	startOffset int
	endOffset   int
	deletions   map[clock.Local]struct{}
}

func newFragment(id fragmentId, ins insertion) fragment {
	return fragment{
		id:          id,
		insertion:   ins,
		startOffset: 0,
		endOffset:   ins.text.len(),
		deletions:   map[clock.Local]struct{}{},
	}
}

// clone returns a fragment that can be mutated without disturbing
// tree-shared state.
func (f fragment) clone() fragment {
	deletions := make(map[clock.Local]struct{}, len(f.deletions))
	for d := range f.deletions {
		deletions[d] = struct{}{}
	}
	f.deletions = deletions
	return f
}

func (f fragment) markDeleted(timestamp clock.Local) fragment {
	f = f.clone()
	f.deletions[timestamp] = struct{}{}
	return f
}

func (f fragment) codeUnit(offset int) (uint16, bool) {
	if offset < f.len() {
		return f.insertion.text.codeUnits[f.startOffset+offset], true
	}
	return 0, false
}

func (f fragment) codeUnits() []uint16 {
	return f.insertion.text.codeUnits[f.startOffset:f.endOffset]
}

// len is the fragment's visible length; deleted fragments occupy no
// space in the woven text.
func (f fragment) len() int {
	if f.isVisible() {
		return f.extent()
	}
	return 0
}

func (f fragment) extent() int {
	return f.endOffset - f.startOffset
}

func (f fragment) extent2d() Point {
	p, _ := f.pointForOffset(f.extent())
	return p
}

func (f fragment) isVisible() bool {
	return len(f.deletions) == 0
}

func (f fragment) wasVisible(version clock.Global) bool {
	if !version.Observed(f.insertion.id) {
		return false
	}
	for d := range f.deletions {
		if version.Observed(d) {
			return false
		}
	}
	return true
}

func (f fragment) pointForOffset(offset int) (Point, error) {
	text := f.insertion.text
	end, err := text.pointForOffset(f.startOffset + offset)
	if err != nil {
		return Point{}, err
	}
	start, err := text.pointForOffset(f.startOffset)
	if err != nil {
		return Point{}, err
	}
	return end.Sub(start), nil
}

func (f fragment) offsetForPoint(point Point) (int, error) {
	text := f.insertion.text
	start, err := text.pointForOffset(f.startOffset)
	if err != nil {
		return 0, err
	}
	offset, err := text.offsetForPoint(start.Add(point))
	if err != nil {
		return 0, err
	}
	return offset - f.startOffset, nil
}

func (f fragment) Summarize() fragmentSummary {
	maxVersion := clock.Global{}
	maxVersion.Observe(f.insertion.id)
	for d := range f.deletions {
		maxVersion.Observe(d)
	}

	if !f.isVisible() {
		return fragmentSummary{
			maxFragmentId: f.id,
			maxVersion:    maxVersion,
		}
	}

	start2d, _ := f.insertion.text.pointForOffset(f.startOffset)
	end2d, _ := f.insertion.text.pointForOffset(f.endOffset)

	var firstRowLen uint32
	if start2d.Row == end2d.Row {
		firstRowLen = uint32(f.extent())
	} else {
		offset, _ := f.offsetForPoint(Point{Row: 1, Column: 0})
		firstRowLen = uint32(offset) - 1
	}
	longestRow, longestRowLen, _ := f.insertion.text.longestRowInRange(f.startOffset, f.endOffset)

	return fragmentSummary{
		extent:        f.len(),
		extent2d:      end2d.Sub(start2d),
		maxFragmentId: f.id,
		firstRowLen:   firstRowLen,
		longestRow:    longestRow - start2d.Row,
		longestRowLen: longestRowLen,
		maxVersion:    maxVersion,
	}
}

// fragmentSummary aggregates a run of fragments: its 1d and 2d extent,
// longest-row bookkeeping and the newest edits it has absorbed.
type fragmentSummary struct {
	extent        int
	extent2d      Point
	maxFragmentId fragmentId
	firstRowLen   uint32
	longestRow    uint32
	longestRowLen uint32
	maxVersion    clock.Global
}

func (s fragmentSummary) Add(other fragmentSummary) fragmentSummary {
	result := s
	lastRowLen := s.extent2d.Column + other.firstRowLen
	if lastRowLen > result.longestRowLen {
		result.longestRow = s.extent2d.Row
		result.longestRowLen = lastRowLen
	}
	if other.longestRowLen > result.longestRowLen {
		result.longestRow = s.extent2d.Row + other.longestRow
		result.longestRowLen = other.longestRowLen
	}
	if s.extent2d.Row == 0 {
		result.firstRowLen = s.firstRowLen + other.firstRowLen
	}

	result.extent = s.extent + other.extent
	result.extent2d = s.extent2d.Add(other.extent2d)
	result.maxFragmentId = other.maxFragmentId
	result.maxVersion = s.maxVersion.Clone()
	result.maxVersion.ObserveAll(other.maxVersion)
	return result
}

// textOffset indexes fragments by visible length in code units.
type textOffset int

func (o textOffset) AddSummary(s fragmentSummary) textOffset {
	return o + textOffset(s.extent)
}

func (o textOffset) Compare(other textOffset) int {
	switch {
	case o < other:
		return -1
	case o > other:
		return 1
	}
	return 0
}

// insertionSplit records how one insertion has been carved into
// fragments. Seeking by offset inside the insertion yields the
// fragment now holding that offset.
type insertionSplit struct {
	extent     int
	fragmentId fragmentId
}

func (s insertionSplit) Summarize() insertionSplitSummary {
	return insertionSplitSummary{extent: s.extent}
}

type insertionSplitSummary struct {
	extent int
}

func (s insertionSplitSummary) Add(other insertionSplitSummary) insertionSplitSummary {
	return insertionSplitSummary{extent: s.extent + other.extent}
}

// splitOffset indexes insertion splits by offset within the insertion.
type splitOffset int

func (o splitOffset) AddSummary(s insertionSplitSummary) splitOffset {
	return o + splitOffset(s.extent)
}

func (o splitOffset) Compare(other splitOffset) int {
	switch {
	case o < other:
		return -1
	case o > other:
		return 1
	}
	return 0
}

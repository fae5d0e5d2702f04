package buffer

import (
	"encoding/json"
	"math/bits"
	"unicode/utf16"
)

// Text is an immutable sequence of UTF-16 code units with a balanced
// index over line lengths, so offset/point conversions and longest-row
// queries stay logarithmic in the number of lines.
type Text struct {
	codeUnits []uint16
	nodes     []lineNode
}

// lineNode is one entry of the implicit binary tree over lines. offset
// and rows aggregate the node's subtree; len is the length of the
// node's own line.
type lineNode struct {
	len           uint32
	longestRow    uint32
	longestRowLen uint32
	offset        int
	rows          uint32
}

type lineNodeProbe struct {
	offsetStart              int
	offsetEnd                int
	row                      uint32
	leftAncestorEndOffset    int
	rightAncestorStartOffset int
	node                     *lineNode
	leftChild                *lineNode
	rightChild               *lineNode
}

// NewText builds a Text from a UTF-8 string.
func NewText(s string) *Text {
	return newText(utf16.Encode([]rune(s)))
}

func newText(codeUnits []uint16) *Text {
	var lineLengths []uint32
	prevOffset := 0
	for offset, codeUnit := range codeUnits {
		if codeUnit == '\n' {
			lineLengths = append(lineLengths, uint32(offset-prevOffset))
			prevOffset = offset + 1
		}
	}
	lineLengths = append(lineLengths, uint32(len(codeUnits)-prevOffset))

	nodes := make([]lineNode, len(lineLengths))
	buildLineTree(0, lineLengths, nodes)
	return &Text{codeUnits: codeUnits, nodes: nodes}
}

// buildLineTree fills nodes with a balanced tree in heap order. The
// pivot is chosen so the left subtree is the complete one.
func buildLineTree(index int, lineLengths []uint32, nodes []lineNode) {
	if len(lineLengths) == 0 {
		return
	}

	var mid int
	if len(lineLengths) > 1 {
		depth := bits.Len(uint(len(lineLengths))) - 1
		maxElements := 1<<depth - 1
		rightSubtreeElements := 1 << (depth - 1)
		mid = len(lineLengths) - rightSubtreeElements
		if mid > maxElements {
			mid = maxElements
		}
	}
	length := lineLengths[mid]

	leftIndex := index*2 + 1
	rightIndex := index*2 + 2
	buildLineTree(leftIndex, lineLengths[:mid], nodes)
	buildLineTree(rightIndex, lineLengths[mid+1:], nodes)

	var left, right lineNode
	if leftIndex < len(nodes) {
		left = nodes[leftIndex]
	}
	if rightIndex < len(nodes) {
		right = nodes[rightIndex]
	}

	var longestRow, longestRowLen uint32
	if left.longestRowLen > longestRowLen {
		longestRow = left.longestRow
		longestRowLen = left.longestRowLen
	}
	if length > longestRowLen {
		longestRow = left.rows
		longestRowLen = length
	}
	if right.longestRowLen > longestRowLen {
		longestRow = left.rows + right.longestRow + 1
		longestRowLen = right.longestRowLen
	}

	nodes[index] = lineNode{
		len:           length,
		longestRow:    longestRow,
		longestRowLen: longestRowLen,
		offset:        left.offset + int(length) + right.offset + 1,
		rows:          left.rows + right.rows + 1,
	}
}

func (t *Text) len() int {
	return len(t.codeUnits)
}

func (t *Text) String() string {
	return string(utf16.Decode(t.codeUnits))
}

// MarshalJSON encodes the text as a UTF-8 string; lone surrogates are
// replaced, matching how the text is displayed.
func (t *Text) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *Text) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*t = *NewText(s)
	return nil
}

// longestRowInRange finds the longest row intersecting the given
// offset range, clipped to it.
func (t *Text) longestRowInRange(start, end int) (uint32, uint32, error) {
	var longestRow, longestRowLen uint32

	_, _, _, _, ok := t.search(func(probe lineNodeProbe) int {
		if start <= probe.offsetEnd && probe.rightAncestorStartOffset <= end {
			if probe.rightChild != nil && probe.rightChild.longestRowLen >= longestRowLen {
				longestRow = probe.row + 1 + probe.rightChild.longestRow
				longestRowLen = probe.rightChild.longestRowLen
			}
		}

		if start < probe.offsetStart {
			if probe.offsetEnd < end && probe.node.len >= longestRowLen {
				longestRow = probe.row
				longestRowLen = probe.node.len
			}
			return -1
		} else if start > probe.offsetEnd {
			return 1
		}
		nodeEnd := probe.offsetEnd
		if end < nodeEnd {
			nodeEnd = end
		}
		if nodeLen := uint32(nodeEnd - start); nodeLen >= longestRowLen {
			longestRow = probe.row
			longestRowLen = nodeLen
		}
		return 0
	})
	if !ok {
		return 0, 0, ErrOffsetOutOfRange
	}

	_, _, _, _, ok = t.search(func(probe lineNodeProbe) int {
		if end >= probe.offsetStart && probe.leftAncestorEndOffset >= start {
			if probe.leftChild != nil && probe.leftChild.longestRowLen > longestRowLen {
				leftAncestorRow := probe.row - probe.leftChild.rows
				longestRow = leftAncestorRow + probe.leftChild.longestRow
				longestRowLen = probe.leftChild.longestRowLen
			}
		}

		if end < probe.offsetStart {
			return -1
		} else if end > probe.offsetEnd {
			if start < probe.offsetStart && probe.node.len > longestRowLen {
				longestRow = probe.row
				longestRowLen = probe.node.len
			}
			return 1
		}
		nodeStart := probe.offsetStart
		if start > nodeStart {
			nodeStart = start
		}
		if nodeLen := uint32(end - nodeStart); nodeLen > longestRowLen {
			longestRow = probe.row
			longestRowLen = nodeLen
		}
		return 0
	})
	if !ok {
		return 0, 0, ErrOffsetOutOfRange
	}

	return longestRow, longestRowLen, nil
}

func (t *Text) pointForOffset(offset int) (Point, error) {
	start, _, row, _, ok := t.search(func(probe lineNodeProbe) int {
		if offset < probe.offsetStart {
			return -1
		} else if offset > probe.offsetEnd {
			return 1
		}
		return 0
	})
	if !ok {
		return Point{}, ErrOffsetOutOfRange
	}
	return Point{Row: row, Column: uint32(offset - start)}, nil
}

func (t *Text) offsetForPoint(point Point) (int, error) {
	start, _, _, node, ok := t.search(func(probe lineNodeProbe) int {
		if point.Row < probe.row {
			return -1
		} else if point.Row > probe.row {
			return 1
		}
		return 0
	})
	if !ok || point.Column > node.len {
		return 0, ErrOffsetOutOfRange
	}
	return start + int(point.Column), nil
}

// search walks the line tree guided by f, which returns a comparison
// against the probed node. It reports the matching line's offset
// range, row and node.
func (t *Text) search(f func(lineNodeProbe) int) (start, end int, row uint32, node *lineNode, ok bool) {
	leftAncestorEndOffset := 0
	leftAncestorRow := uint32(0)
	rightAncestorStartOffset := t.nodes[0].offset
	curIndex := 0
	for curIndex < len(t.nodes) {
		curNode := &t.nodes[curIndex]
		var leftChild, rightChild *lineNode
		if leftIndex := curIndex*2 + 1; leftIndex < len(t.nodes) {
			leftChild = &t.nodes[leftIndex]
		}
		if rightIndex := curIndex*2 + 2; rightIndex < len(t.nodes) {
			rightChild = &t.nodes[rightIndex]
		}
		curStart := leftAncestorEndOffset
		if leftChild != nil {
			curStart += leftChild.offset
		}
		curEnd := curStart + int(curNode.len)
		curRow := leftAncestorRow
		if leftChild != nil {
			curRow += leftChild.rows
		}

		switch f(lineNodeProbe{
			offsetStart:              curStart,
			offsetEnd:                curEnd,
			row:                      curRow,
			leftAncestorEndOffset:    leftAncestorEndOffset,
			rightAncestorStartOffset: rightAncestorStartOffset,
			node:                     curNode,
			leftChild:                leftChild,
			rightChild:               rightChild,
		}) {
		case -1:
			curIndex = curIndex*2 + 1
			rightAncestorStartOffset = curStart
		case 0:
			return curStart, curEnd, curRow, curNode, true
		default:
			curIndex = curIndex*2 + 2
			leftAncestorEndOffset = curEnd + 1
			leftAncestorRow = curRow + 1
		}
	}
	return 0, 0, 0, nil, false
}

// extentOfCodeUnits measures a chunk of code units as a Point.
func extentOfCodeUnits(codeUnits []uint16) Point {
	var rows, lastRowLen uint32
	for _, c := range codeUnits {
		if c == '\n' {
			rows++
			lastRowLen = 0
		} else {
			lastRowLen++
		}
	}
	return Point{Row: rows, Column: lastRowLen}
}

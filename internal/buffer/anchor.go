package buffer

import (
	"weft/internal/btree"
	"weft/internal/clock"
)

// AnchorBias controls which side of an anchor concurrent insertions
// land on.
type AnchorBias string

const (
	// BiasLeft keeps the anchor before text inserted at its position.
	BiasLeft AnchorBias = "left"
	// BiasRight moves the anchor past text inserted at its position.
	BiasRight AnchorBias = "right"
)

func (b AnchorBias) seekBias() btree.SeekBias {
	if b == BiasRight {
		return btree.Right
	}
	return btree.Left
}

// AnchorKind discriminates the three anchor shapes.
type AnchorKind string

const (
	// AnchorStart pins to the beginning of the buffer.
	AnchorStart AnchorKind = "start"
	// AnchorEnd pins to the end of the buffer.
	AnchorEnd AnchorKind = "end"
	// AnchorMiddle pins to an offset within a specific insertion.
	AnchorMiddle AnchorKind = "middle"
)

// Anchor is a position that stays logically fixed as the buffer is
// edited, locally or by other replicas. Middle anchors address an
// offset inside an insertion, so they survive any rearrangement of the
// visible text.
type Anchor struct {
	Kind        AnchorKind  `json:"kind"`
	InsertionId clock.Local `json:"insertion_id"`
	Offset      int         `json:"offset"`
	Bias        AnchorBias  `json:"bias,omitempty"`
}

// StartAnchor returns the anchor pinned to the buffer start.
func StartAnchor() Anchor {
	return Anchor{Kind: AnchorStart}
}

// EndAnchor returns the anchor pinned to the buffer end.
func EndAnchor() Anchor {
	return Anchor{Kind: AnchorEnd}
}

// AnchorBeforeOffset returns a left-biased anchor at a UTF-16 offset.
func (b *Buffer) AnchorBeforeOffset(offset int) (Anchor, error) {
	return b.anchorForOffset(offset, BiasLeft)
}

// AnchorAfterOffset returns a right-biased anchor at a UTF-16 offset.
func (b *Buffer) AnchorAfterOffset(offset int) (Anchor, error) {
	return b.anchorForOffset(offset, BiasRight)
}

// AnchorBeforePoint returns a left-biased anchor at a row/column
// position.
func (b *Buffer) AnchorBeforePoint(point Point) (Anchor, error) {
	offset, err := b.offsetForPoint(point)
	if err != nil {
		return Anchor{}, err
	}
	return b.anchorForOffset(offset, BiasLeft)
}

// AnchorAfterPoint returns a right-biased anchor at a row/column
// position.
func (b *Buffer) AnchorAfterPoint(point Point) (Anchor, error) {
	offset, err := b.offsetForPoint(point)
	if err != nil {
		return Anchor{}, err
	}
	return b.anchorForOffset(offset, BiasRight)
}

func (b *Buffer) anchorForOffset(offset int, bias AnchorBias) (Anchor, error) {
	maxOffset := b.Len()
	if offset > maxOffset {
		return Anchor{}, ErrOffsetOutOfRange
	}
	switch bias {
	case BiasLeft:
		if offset == 0 {
			return StartAnchor(), nil
		}
	case BiasRight:
		if offset == maxOffset {
			return EndAnchor(), nil
		}
	}

	cursor := b.fragments.Cursor()
	btree.Seek(cursor, textOffset(offset), bias.seekBias())
	frag, ok := cursor.Item()
	if !ok {
		return Anchor{}, ErrOffsetOutOfRange
	}
	offsetInFragment := offset - int(btree.Start[textOffset](cursor))
	overshoot, err := frag.pointForOffset(offsetInFragment)
	if err != nil {
		return Anchor{}, err
	}
	anchor := Anchor{
		Kind:        AnchorMiddle,
		InsertionId: frag.insertion.id,
		Offset:      frag.startOffset + offsetInFragment,
		Bias:        bias,
	}
	point := btree.Start[Point](cursor).Add(overshoot)
	b.cachePosition(&anchor, offset, point)
	return anchor, nil
}

// OffsetForAnchor resolves an anchor to its current UTF-16 offset.
func (b *Buffer) OffsetForAnchor(anchor Anchor) (int, error) {
	pos, err := b.positionForAnchor(anchor)
	if err != nil {
		return 0, err
	}
	return pos.offset, nil
}

// PointForAnchor resolves an anchor to its current row/column position.
func (b *Buffer) PointForAnchor(anchor Anchor) (Point, error) {
	pos, err := b.positionForAnchor(anchor)
	if err != nil {
		return Point{}, err
	}
	return pos.point, nil
}

// CompareAnchors orders two anchors by their current offsets.
func (b *Buffer) CompareAnchors(a, other Anchor) (int, error) {
	offsetA, err := b.OffsetForAnchor(a)
	if err != nil {
		return 0, err
	}
	offsetB, err := b.OffsetForAnchor(other)
	if err != nil {
		return 0, err
	}
	switch {
	case offsetA < offsetB:
		return -1, nil
	case offsetA > offsetB:
		return 1, nil
	default:
		return 0, nil
	}
}

func (b *Buffer) positionForAnchor(anchor Anchor) (anchorPosition, error) {
	switch anchor.Kind {
	case AnchorStart:
		return anchorPosition{}, nil
	case AnchorEnd:
		return anchorPosition{offset: b.Len(), point: b.MaxPoint()}, nil
	case AnchorMiddle:
	default:
		return anchorPosition{}, ErrInvalidAnchor
	}

	if pos, ok := b.anchorCache[anchor]; ok {
		return pos, nil
	}

	splitTree, ok := b.insertionSplits[anchor.InsertionId]
	if !ok {
		return anchorPosition{}, ErrInvalidAnchor
	}
	splitsCursor := splitTree.Cursor()
	btree.Seek(splitsCursor, splitOffset(anchor.Offset), anchor.Bias.seekBias())
	split, ok := splitsCursor.Item()
	if !ok {
		return anchorPosition{}, ErrInvalidAnchor
	}

	cursor := b.fragments.Cursor()
	btree.Seek(cursor, split.fragmentId, btree.Left)
	frag, ok := cursor.Item()
	if !ok {
		return anchorPosition{}, ErrInvalidAnchor
	}

	overshoot := 0
	if frag.isVisible() {
		overshoot = anchor.Offset - frag.startOffset
	}
	overshoot2d, err := frag.pointForOffset(overshoot)
	if err != nil {
		return anchorPosition{}, err
	}
	pos := anchorPosition{
		offset: int(btree.Start[textOffset](cursor)) + overshoot,
		point:  btree.Start[Point](cursor).Add(overshoot2d),
	}
	b.cachePosition(&anchor, pos.offset, pos.point)
	return pos, nil
}

func (b *Buffer) cachePosition(anchor *Anchor, offset int, point Point) {
	if anchor != nil {
		b.anchorCache[*anchor] = anchorPosition{offset: offset, point: point}
	}
	b.offsetCache[point] = offset
}

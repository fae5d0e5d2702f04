package buffer

import "weft/internal/clock"

// Selection is an anchored range with a direction. The head is the end
// the cursor moves; the tail stays put.
type Selection struct {
	Start    Anchor `json:"start"`
	End      Anchor `json:"end"`
	Reversed bool   `json:"reversed,omitempty"`
}

// Head returns the moving end of the selection.
func (s Selection) Head() Anchor {
	if s.Reversed {
		return s.Start
	}
	return s.End
}

// Tail returns the fixed end of the selection.
func (s Selection) Tail() Anchor {
	if s.Reversed {
		return s.End
	}
	return s.Start
}

// SetHead moves the selection head to cursor, flipping the selection's
// direction when the head crosses the tail.
func (s *Selection) SetHead(b *Buffer, cursor Anchor) error {
	order, err := b.CompareAnchors(cursor, s.Tail())
	if err != nil {
		return err
	}
	if order < 0 {
		if !s.Reversed {
			s.Start, s.End = s.End, s.Start
			s.Reversed = true
		}
		s.Start = cursor
	} else {
		if s.Reversed {
			s.Start, s.End = s.End, s.Start
			s.Reversed = false
		}
		s.End = cursor
	}
	return nil
}

// IsEmpty reports whether both ends resolve to the same position.
func (s Selection) IsEmpty(b *Buffer) bool {
	order, err := b.CompareAnchors(s.Start, s.End)
	return err == nil && order == 0
}

// AddSelectionSet registers a new selection set and returns its id plus
// the operation to broadcast.
func (b *Buffer) AddSelectionSet(selections []Selection, localClock *clock.Local, lamportClock *clock.Lamport) (SelectionSetId, Operation) {
	setId := localClock.Tick()
	b.selections[setId] = append([]Selection(nil), selections...)
	return setId, &UpdateSelectionsOperation{
		SetId:            setId,
		Selections:       selections,
		LocalTimestamp:   localClock.Tick(),
		LamportTimestamp: lamportClock.Tick(),
	}
}

// RemoveSelectionSet drops a selection set.
func (b *Buffer) RemoveSelectionSet(setId SelectionSetId, localClock *clock.Local, lamportClock *clock.Lamport) (Operation, error) {
	if _, ok := b.selections[setId]; !ok {
		return nil, ErrInvalidSelectionSet
	}
	delete(b.selections, setId)
	return &UpdateSelectionsOperation{
		SetId:            setId,
		Remove:           true,
		LocalTimestamp:   localClock.Tick(),
		LamportTimestamp: lamportClock.Tick(),
	}, nil
}

// MutateSelections passes the set to f for editing, merges overlapping
// selections and returns the operation to broadcast.
func (b *Buffer) MutateSelections(setId SelectionSetId, localClock *clock.Local, lamportClock *clock.Lamport, f func(*Buffer, []Selection) []Selection) (Operation, error) {
	current, ok := b.selections[setId]
	if !ok {
		return nil, ErrInvalidSelectionSet
	}
	delete(b.selections, setId)
	// Operations already broadcast may still reference the stored
	// slice, so f gets its own copy to mutate.
	selections := f(b, append([]Selection(nil), current...))
	selections = b.mergeSelections(selections)
	b.selections[setId] = selections
	return &UpdateSelectionsOperation{
		SetId:            setId,
		Selections:       selections,
		LocalTimestamp:   localClock.Tick(),
		LamportTimestamp: lamportClock.Tick(),
	}, nil
}

// Selections returns a snapshot of all selection sets.
func (b *Buffer) Selections() map[SelectionSetId][]Selection {
	out := make(map[SelectionSetId][]Selection, len(b.selections))
	for id, sels := range b.selections {
		out[id] = append([]Selection(nil), sels...)
	}
	return out
}

// SelectionSet returns one selection set.
func (b *Buffer) SelectionSet(setId SelectionSetId) ([]Selection, error) {
	sels, ok := b.selections[setId]
	if !ok {
		return nil, ErrInvalidSelectionSet
	}
	return append([]Selection(nil), sels...), nil
}

// SelectionsChangedSince reports whether any replica has updated a
// selection set past the given version.
func (b *Buffer) SelectionsChangedSince(since clock.Global) bool {
	return !since.Observed(b.selectionsLastUpdate)
}

// mergeSelections collapses selections whose ranges touch or overlap.
// Input must be ordered by start anchor.
func (b *Buffer) mergeSelections(selections []Selection) []Selection {
	if len(selections) == 0 {
		return selections
	}
	merged := make([]Selection, 0, len(selections))
	prev := selections[0]
	for _, sel := range selections[1:] {
		order, err := b.CompareAnchors(prev.End, sel.Start)
		if err == nil && order >= 0 {
			endOrder, err := b.CompareAnchors(sel.End, prev.End)
			if err == nil && endOrder > 0 {
				prev.End = sel.End
			}
		} else {
			merged = append(merged, prev)
			prev = sel
		}
	}
	merged = append(merged, prev)
	return merged
}

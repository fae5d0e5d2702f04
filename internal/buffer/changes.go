package buffer

import (
	"unicode/utf16"

	"github.com/pmezard/go-difflib/difflib"

	"weft/internal/btree"
	"weft/internal/clock"
)

// Change describes one contiguous rewrite: the text between Start and
// End is replaced by CodeUnits. Changes are meant to be applied in
// order; each range is expressed in the coordinates of the buffer with
// all preceding changes already applied.
type Change struct {
	Start     Point
	End       Point
	CodeUnits []uint16
	NewExtent Point
}

// Text returns the replacement text.
func (c Change) Text() string {
	return string(utf16.Decode(c.CodeUnits))
}

// ChangesSince reports the contiguous rewrites that transform the text
// at the given version into the current text. Fragments untouched since
// the version are skipped via the tree's version summaries.
func (b *Buffer) ChangesSince(since clock.Global) []Change {
	cursor := b.fragments.Filter(func(s fragmentSummary) bool {
		return s.maxVersion.ChangedSince(since)
	})

	var changes []Change
	var change *Change
	for {
		frag, ok := cursor.Item()
		if !ok {
			break
		}
		position := btree.Start[Point](cursor)

		inserted := !frag.wasVisible(since) && frag.isVisible()
		deleted := frag.wasVisible(since) && !frag.isVisible()
		if inserted || deleted {
			if change != nil && change.Start.Add(change.NewExtent).Compare(position) != 0 {
				changes = append(changes, *change)
				change = nil
				continue
			}
			if change == nil {
				change = &Change{Start: position, End: position}
			}
			if inserted {
				change.CodeUnits = append(change.CodeUnits, frag.codeUnits()...)
				change.NewExtent = change.NewExtent.Add(frag.extent2d())
			} else {
				change.End = change.End.Add(frag.extent2d())
			}
		}
		cursor.Next()
	}
	if change != nil {
		changes = append(changes, *change)
	}
	return changes
}

// Diff computes the changes that rewrite a into b, at character
// granularity. Like ChangesSince, each change's range assumes the
// preceding changes were applied.
func Diff(a, b string) []Change {
	matcher := difflib.NewMatcher(runeStrings(a), runeStrings(b))
	aRunes := []rune(a)
	bRunes := []rune(b)

	var changes []Change
	var change *Change
	var position Point

	flush := func() {
		if change != nil {
			changes = append(changes, *change)
			change = nil
		}
	}
	remove := func(runes []rune) {
		extent := extentOfCodeUnits(utf16.Encode(runes))
		if change == nil {
			change = &Change{Start: position, End: position}
		}
		change.End = change.End.Add(extent)
	}
	insert := func(runes []rune) {
		units := utf16.Encode(runes)
		extent := extentOfCodeUnits(units)
		if change == nil {
			change = &Change{Start: position, End: position}
		}
		change.CodeUnits = append(change.CodeUnits, units...)
		change.NewExtent = change.NewExtent.Add(extent)
		position = position.Add(extent)
	}

	for _, op := range matcher.GetOpCodes() {
		switch op.Tag {
		case 'e':
			position = position.Add(extentOfCodeUnits(utf16.Encode(aRunes[op.I1:op.I2])))
			flush()
		case 'd':
			remove(aRunes[op.I1:op.I2])
		case 'i':
			insert(bRunes[op.J1:op.J2])
		case 'r':
			remove(aRunes[op.I1:op.I2])
			insert(bRunes[op.J1:op.J2])
		}
	}
	flush()
	return changes
}

func runeStrings(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

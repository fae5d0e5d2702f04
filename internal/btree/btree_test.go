package btree

import (
	"math/rand"
	"testing"
)

type testItem uint8

type testSummary struct {
	count testCount
	max   testItem
}

func (i testItem) Summarize() testSummary {
	return testSummary{count: 1, max: i}
}

func (i testItem) Key() testKey {
	return testKey(i)
}

func (s testSummary) Add(other testSummary) testSummary {
	s.count += other.count
	if other.max > s.max {
		s.max = other.max
	}
	return s
}

type testCount int

func (c testCount) AddSummary(s testSummary) testCount {
	return c + s.count
}

func (c testCount) Compare(other testCount) int {
	switch {
	case c < other:
		return -1
	case c > other:
		return 1
	}
	return 0
}

type testKey uint8

func (k testKey) AddSummary(s testSummary) testKey {
	return testKey(s.max)
}

func (k testKey) Compare(other testKey) int {
	switch {
	case k < other:
		return -1
	case k > other:
		return 1
	}
	return 0
}

func sequence(start, end int) []testItem {
	items := make([]testItem, 0, end-start)
	for i := start; i < end; i++ {
		items = append(items, testItem(i))
	}
	return items
}

func randomItems(rng *rand.Rand, count int) []testItem {
	items := make([]testItem, count)
	for i := range items {
		items[i] = testItem(rng.Intn(256))
	}
	return items
}

func sameItems(a, b []testItem) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestExtendAndPushTree(t *testing.T) {
	var tree1 Tree[testItem, testSummary]
	tree1.Extend(sequence(0, 20))

	var tree2 Tree[testItem, testSummary]
	tree2.Extend(sequence(50, 100))

	tree1.PushTree(tree2)

	want := append(sequence(0, 20), sequence(50, 100)...)
	if got := tree1.Items(); !sameItems(got, want) {
		t.Fatalf("items = %v, want %v", got, want)
	}
	if got := Extent[testCount](tree1); got != 70 {
		t.Errorf("extent = %d, want 70", got)
	}

	t.Run("suffix", func(t *testing.T) {
		cursor := tree1.Cursor()
		Seek(cursor, testCount(7), Right)
		suffix := cursor.Suffix()
		if got := suffix.Items(); !sameItems(got, want[7:]) {
			t.Errorf("suffix items = %v, want %v", got, want[7:])
		}
		if _, ok := cursor.Item(); ok {
			t.Error("cursor should be past the end after taking the suffix")
		}
	})
}

func TestDeepTree(t *testing.T) {
	var tree Tree[testItem, testSummary]
	want := make([]testItem, 2000)
	for i := range want {
		want[i] = testItem(i % 251)
	}
	tree.Extend(want)

	if got := tree.Items(); !sameItems(got, want) {
		t.Fatalf("items mismatch after extending %d items", len(want))
	}

	cursor := tree.Cursor()
	cursor.Next()
	for i := range want {
		item, ok := cursor.Item()
		if !ok || item != want[i] {
			t.Fatalf("item at %d = %v (ok=%v), want %v", i, item, ok, want[i])
		}
		if got := Start[testCount](cursor); got != testCount(i) {
			t.Fatalf("start at %d = %d", i, got)
		}
		cursor.Next()
	}
	if _, ok := cursor.Item(); ok {
		t.Error("cursor should be exhausted")
	}

	t.Run("seek_forward", func(t *testing.T) {
		cursor := tree.Cursor()
		Seek(cursor, testCount(100), Right)
		for _, target := range []int{101, 500, 567, 1999} {
			SeekForward(cursor, testCount(target), Right)
			if item, ok := cursor.Item(); !ok || item != want[target] {
				t.Errorf("after forward seek to %d: item = %v (ok=%v), want %v", target, item, ok, want[target])
			}
		}
	})
}

func TestRandomSplices(t *testing.T) {
	for seed := int64(0); seed < 200; seed++ {
		rng := rand.New(rand.NewSource(seed))

		var tree Tree[testItem, testSummary]
		reference := randomItems(rng, rng.Intn(10))
		tree.Extend(reference)

		for i := 0; i < 10; i++ {
			spliceEnd := rng.Intn(int(Extent[testCount](tree)) + 1)
			spliceStart := rng.Intn(spliceEnd + 1)
			newItems := randomItems(rng, rng.Intn(3))
			treeEnd := Extent[testCount](tree)

			updated := append([]testItem(nil), reference[:spliceStart]...)
			updated = append(updated, newItems...)
			updated = append(updated, reference[spliceEnd:]...)
			reference = updated

			cursor := tree.Cursor()
			newTree := Slice(cursor, testCount(spliceStart), Right)
			newTree.Extend(newItems)
			Seek(cursor, testCount(spliceEnd), Right)
			newTree.PushTree(Slice(cursor, treeEnd, Right))
			tree = newTree

			if got := tree.Items(); !sameItems(got, reference) {
				t.Fatalf("seed %d: items = %v, want %v", seed, got, reference)
			}

			pos := rng.Intn(len(reference) + 1)
			c := tree.Cursor()
			Seek(c, testCount(pos), Right)
			for j := 0; j < 5; j++ {
				if pos > 0 {
					prev, ok := c.PrevItem()
					if !ok || prev != reference[pos-1] {
						t.Fatalf("seed %d: prev item at %d = %v (ok=%v), want %v", seed, pos, prev, ok, reference[pos-1])
					}
				} else if prev, ok := c.PrevItem(); ok {
					t.Fatalf("seed %d: prev item at start = %v, want none", seed, prev)
				}

				if pos < len(reference) {
					item, ok := c.Item()
					if !ok || item != reference[pos] {
						t.Fatalf("seed %d: item at %d = %v (ok=%v), want %v", seed, pos, item, ok, reference[pos])
					}
				} else if item, ok := c.Item(); ok {
					t.Fatalf("seed %d: item past end = %v, want none", seed, item)
				}

				c.Next()
				if pos < len(reference) {
					pos++
				}
			}
		}
	}
}

func TestPrev(t *testing.T) {
	var tree Tree[testItem, testSummary]
	tree.Extend(sequence(0, 40))

	cursor := tree.Cursor()
	Seek(cursor, testCount(25), Right)
	for i := 24; i >= 0; i-- {
		cursor.Prev()
		item, ok := cursor.Item()
		if !ok || item != testItem(i) {
			t.Fatalf("item after prev = %v (ok=%v), want %d", item, ok, i)
		}
		if got := Start[testCount](cursor); got != testCount(i) {
			t.Fatalf("start after prev = %d, want %d", got, i)
		}
	}

	cursor.Prev()
	if item, ok := cursor.Item(); ok {
		t.Fatalf("item before start = %v, want none", item)
	}
	if _, ok := cursor.PrevItem(); ok {
		t.Error("prev item before start should be none")
	}
	cursor.Next()
	if item, ok := cursor.Item(); !ok || item != 0 {
		t.Errorf("item after returning from front = %v (ok=%v), want 0", item, ok)
	}

	t.Run("from_end", func(t *testing.T) {
		cursor := tree.Cursor()
		Seek(cursor, testCount(40), Right)
		if _, ok := cursor.Item(); ok {
			t.Fatal("cursor should be past the end")
		}
		if item, ok := cursor.PrevItem(); !ok || item != 39 {
			t.Fatalf("prev item past end = %v (ok=%v), want 39", item, ok)
		}
		cursor.Prev()
		if item, ok := cursor.Item(); !ok || item != 39 {
			t.Fatalf("item after prev from end = %v (ok=%v), want 39", item, ok)
		}
	})
}

func TestEditTree(t *testing.T) {
	var tree Tree[testItem, testSummary]
	tree.Extend([]testItem{10, 20, 30})

	EditTree[testKey](&tree, []Edit[testItem]{
		Insert(testItem(15)),
		Remove(testItem(20)),
		Insert(testItem(30)),
		Insert(testItem(5)),
	})

	want := []testItem{5, 10, 15, 30}
	if got := tree.Items(); !sameItems(got, want) {
		t.Fatalf("items = %v, want %v", got, want)
	}

	EditTree[testKey](&tree, []Edit[testItem]{
		Remove(testItem(5)),
		Remove(testItem(30)),
		Insert(testItem(12)),
	})

	want = []testItem{10, 12, 15}
	if got := tree.Items(); !sameItems(got, want) {
		t.Fatalf("items after second edit = %v, want %v", got, want)
	}
}

func TestFilterCursor(t *testing.T) {
	for seed := int64(0); seed < 50; seed++ {
		rng := rand.New(rand.NewSource(seed))

		var tree Tree[testItem, testSummary]
		reference := randomItems(rng, rng.Intn(120))
		tree.Extend(reference)

		type match struct {
			item testItem
			pos  testCount
		}
		var want []match
		for i, item := range reference {
			if item >= 200 {
				want = append(want, match{item: item, pos: testCount(i)})
			}
		}

		var got []match
		cursor := tree.Filter(func(s testSummary) bool {
			return s.max >= 200
		})
		for {
			item, ok := cursor.Item()
			if !ok {
				break
			}
			got = append(got, match{item: item, pos: Start[testCount](cursor)})
			cursor.Next()
		}

		if len(got) != len(want) {
			t.Fatalf("seed %d: matched %d items, want %d", seed, len(got), len(want))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("seed %d: match %d = %+v, want %+v", seed, i, got[i], want[i])
			}
		}
	}
}

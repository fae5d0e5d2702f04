package buffer

import (
	"errors"
	"math/rand"
	"strings"
	"testing"
)

func TestTextRoundTrip(t *testing.T) {
	for _, s := range []string{"", "a", "abc\ndef", "\n\n\n", "héllo\nwörld", "日本\n語"} {
		if got := NewText(s).String(); got != s {
			t.Errorf("NewText(%q).String() = %q", s, got)
		}
	}
}

func TestPointForOffset(t *testing.T) {
	text := NewText("abc\ndefgh\nijklm\nopq")
	cases := []struct {
		offset int
		point  Point
	}{
		{0, Point{0, 0}},
		{1, Point{0, 1}},
		{2, Point{0, 2}},
		{3, Point{0, 3}},
		{4, Point{1, 0}},
		{5, Point{1, 1}},
		{9, Point{1, 5}},
		{10, Point{2, 0}},
		{14, Point{2, 4}},
		{15, Point{2, 5}},
		{16, Point{3, 0}},
		{17, Point{3, 1}},
		{19, Point{3, 3}},
	}
	for _, c := range cases {
		got, err := text.pointForOffset(c.offset)
		if err != nil {
			t.Fatalf("pointForOffset(%d): %v", c.offset, err)
		}
		if got != c.point {
			t.Errorf("pointForOffset(%d) = %v, want %v", c.offset, got, c.point)
		}
	}
	if _, err := text.pointForOffset(20); !errors.Is(err, ErrOffsetOutOfRange) {
		t.Errorf("pointForOffset(20) error = %v", err)
	}

	text = NewText("abc")
	for offset := 0; offset <= 3; offset++ {
		got, err := text.pointForOffset(offset)
		if err != nil {
			t.Fatalf("pointForOffset(%d): %v", offset, err)
		}
		if want := (Point{0, uint32(offset)}); got != want {
			t.Errorf("pointForOffset(%d) = %v, want %v", offset, got, want)
		}
	}
	if _, err := text.pointForOffset(4); !errors.Is(err, ErrOffsetOutOfRange) {
		t.Errorf("pointForOffset(4) error = %v", err)
	}
}

func TestOffsetForPoint(t *testing.T) {
	text := NewText("abc\ndefgh")
	cases := []struct {
		point  Point
		offset int
	}{
		{Point{0, 0}, 0},
		{Point{0, 1}, 1},
		{Point{0, 2}, 2},
		{Point{0, 3}, 3},
		{Point{1, 0}, 4},
		{Point{1, 1}, 5},
		{Point{1, 5}, 9},
	}
	for _, c := range cases {
		got, err := text.offsetForPoint(c.point)
		if err != nil {
			t.Fatalf("offsetForPoint(%v): %v", c.point, err)
		}
		if got != c.offset {
			t.Errorf("offsetForPoint(%v) = %d, want %d", c.point, got, c.offset)
		}
	}
	if _, err := text.offsetForPoint(Point{0, 4}); !errors.Is(err, ErrOffsetOutOfRange) {
		t.Errorf("offsetForPoint({0,4}) error = %v", err)
	}
	if _, err := text.offsetForPoint(Point{1, 6}); !errors.Is(err, ErrOffsetOutOfRange) {
		t.Errorf("offsetForPoint({1,6}) error = %v", err)
	}
}

func TestLongestRowInRange(t *testing.T) {
	for seed := int64(0); seed < 100; seed++ {
		rng := rand.New(rand.NewSource(seed))
		s := randomString(rng, 1+rng.Intn(9))
		text := NewText(s)

		for i := 0; i < 10; i++ {
			end := 1 + rng.Intn(len(s))
			start := rng.Intn(end + 1)

			curRow := uint32(strings.Count(s[:start], "\n"))
			var curRowLen uint32
			wantRow, wantRowLen := curRow, curRowLen
			for _, ch := range s[start:end] {
				if ch == '\n' {
					if curRowLen > wantRowLen {
						wantRow, wantRowLen = curRow, curRowLen
					}
					curRow++
					curRowLen = 0
				} else {
					curRowLen++
				}
			}
			if curRowLen > wantRowLen {
				wantRow, wantRowLen = curRow, curRowLen
			}

			gotRow, gotRowLen, err := text.longestRowInRange(start, end)
			if err != nil {
				t.Fatalf("seed %d: longestRowInRange(%d, %d): %v", seed, start, end, err)
			}
			if gotRow != wantRow || gotRowLen != wantRowLen {
				t.Fatalf("seed %d: longestRowInRange(%d, %d) of %q = (%d, %d), want (%d, %d)",
					seed, start, end, s, gotRow, gotRowLen, wantRow, wantRowLen)
			}
		}
	}
}

// randomString draws lowercase letters with occasional newlines, the
// same shape of input the replication tests use.
func randomString(rng *rand.Rand, n int) string {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		if rng.Intn(5) == 0 {
			sb.WriteByte('\n')
		} else {
			sb.WriteByte(byte('a' + rng.Intn(26)))
		}
	}
	return sb.String()
}

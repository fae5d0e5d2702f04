package buffer

import (
	"math/rand"
	"sort"
	"testing"
)

func TestFragmentIdBetween(t *testing.T) {
	for seed := int64(0); seed < 10; seed++ {
		rng := rand.New(rand.NewSource(seed))
		ids := []fragmentId{minFragmentId(), maxFragmentId()}
		for i := 0; i < 100; i++ {
			index := 1 + rng.Intn(len(ids)-1)
			ids = append(ids, nil)
			copy(ids[index+1:], ids[index:])
			ids[index] = fragmentIdBetween(ids[index-1], ids[index+1])

			if !sort.SliceIsSorted(ids, func(i, j int) bool {
				return ids[i].Compare(ids[j]) < 0
			}) {
				t.Fatalf("seed %d: ids out of order after %d insertions", seed, i+1)
			}
			if ids[index].Compare(ids[index-1]) == 0 || ids[index].Compare(ids[index+1]) == 0 {
				t.Fatalf("seed %d: between produced an endpoint", seed)
			}
		}
	}
}

package opqueue

import (
	"testing"

	"github.com/google/uuid"

	"weft/internal/clock"
)

type testOp struct {
	ts    clock.Lamport
	label string
}

func (o testOp) Timestamp() clock.Lamport {
	return o.ts
}

func TestQueueOrdersByTimestamp(t *testing.T) {
	replica := uuid.New()
	stamp := func(value uint64) clock.Lamport {
		return clock.Lamport{Value: value, Replica: replica}
	}

	var q Queue[testOp]
	if !q.IsEmpty() {
		t.Fatal("zero queue should be empty")
	}

	q.Insert([]testOp{
		{ts: stamp(3), label: "c"},
		{ts: stamp(1), label: "a"},
	})
	q.Insert([]testOp{
		{ts: stamp(2), label: "b"},
	})
	if got := q.Len(); got != 3 {
		t.Fatalf("len = %d, want 3", got)
	}

	drained := q.Drain()
	if !q.IsEmpty() {
		t.Error("queue should be empty after drain")
	}
	want := []string{"a", "b", "c"}
	if len(drained) != len(want) {
		t.Fatalf("drained %d ops, want %d", len(drained), len(want))
	}
	for i, op := range drained {
		if op.label != want[i] {
			t.Errorf("op %d = %q, want %q", i, op.label, want[i])
		}
	}
}

func TestQueueDeduplicates(t *testing.T) {
	replicaA := uuid.New()
	replicaB := uuid.New()

	var q Queue[testOp]
	q.Insert([]testOp{
		{ts: clock.Lamport{Value: 1, Replica: replicaA}, label: "first"},
		{ts: clock.Lamport{Value: 1, Replica: replicaB}, label: "other replica"},
	})
	q.Insert([]testOp{
		{ts: clock.Lamport{Value: 1, Replica: replicaA}, label: "redelivered"},
	})

	if got := q.Len(); got != 2 {
		t.Fatalf("len = %d, want 2", got)
	}
}

// Package opqueue queues replicated operations that arrived before
// their causal dependencies. Operations are held in timestamp order
// and deduplicated, so re-delivered envelopes collapse into one entry.
package opqueue

import (
	"weft/internal/btree"
	"weft/internal/clock"
)

// Operation is any replicated operation with a Lamport timestamp.
type Operation interface {
	Timestamp() clock.Lamport
}

// summary aggregates a subtree of queued operations. Timestamps are
// unique within a queue, so last is the subtree's final timestamp.
type summary struct {
	last  clock.Lamport
	count int
}

func (s summary) Add(other summary) summary {
	return summary{last: other.last, count: s.count + other.count}
}

// Key addresses queued operations by timestamp.
type Key struct {
	timestamp clock.Lamport
}

func (k Key) AddSummary(s summary) Key {
	return Key{timestamp: s.last}
}

func (k Key) Compare(other Key) int {
	return k.timestamp.Compare(other.timestamp)
}

type item[T Operation] struct {
	op T
}

func (i item[T]) Summarize() summary {
	return summary{last: i.op.Timestamp(), count: 1}
}

func (i item[T]) Key() Key {
	return Key{timestamp: i.op.Timestamp()}
}

// Queue is a set of deferred operations. The zero value is empty.
type Queue[T Operation] struct {
	tree btree.Tree[item[T], summary]
}

// Insert adds operations to the queue. An operation whose timestamp is
// already present replaces the existing entry.
func (q *Queue[T]) Insert(ops []T) {
	if len(ops) == 0 {
		return
	}
	edits := make([]btree.Edit[item[T]], len(ops))
	for i, op := range ops {
		edits[i] = btree.Insert(item[T]{op: op})
	}
	btree.EditTree[Key](&q.tree, edits)
}

// Drain empties the queue and returns its operations in timestamp
// order.
func (q *Queue[T]) Drain() []T {
	items := q.tree.Items()
	q.tree = btree.Tree[item[T], summary]{}
	ops := make([]T, len(items))
	for i, it := range items {
		ops[i] = it.op
	}
	return ops
}

// Len returns the number of queued operations.
func (q *Queue[T]) Len() int {
	return q.tree.Summary().count
}

// IsEmpty reports whether the queue holds no operations.
func (q *Queue[T]) IsEmpty() bool {
	return q.Len() == 0
}

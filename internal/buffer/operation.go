package buffer

import "weft/internal/clock"

// Operation is a replicated buffer mutation. Operations commute with
// concurrent operations; applying the same set in any causal order
// converges.
type Operation interface {
	Timestamp() clock.Lamport
	Replica() clock.ReplicaId
	isOperation()
}

// EditOperation splices text over a range addressed in insertion
// coordinates. Insertion ids and offsets stay meaningful on replicas
// that have diverged, unlike absolute buffer offsets.
type EditOperation struct {
	StartId          clock.Local   `json:"start_id"`
	StartOffset      int           `json:"start_offset"`
	EndId            clock.Local   `json:"end_id"`
	EndOffset        int           `json:"end_offset"`
	VersionInRange   clock.Global  `json:"version_in_range,omitempty"`
	NewText          *Text         `json:"new_text,omitempty"`
	LocalTimestamp   clock.Local   `json:"local_timestamp"`
	LamportTimestamp clock.Lamport `json:"lamport_timestamp"`
}

func (o *EditOperation) Timestamp() clock.Lamport {
	return o.LamportTimestamp
}

func (o *EditOperation) Replica() clock.ReplicaId {
	return o.LocalTimestamp.Replica
}

func (o *EditOperation) isOperation() {}

// UpdateSelectionsOperation replaces one selection set, or removes it
// when Remove is set.
type UpdateSelectionsOperation struct {
	SetId            clock.Local   `json:"set_id"`
	Selections       []Selection   `json:"selections,omitempty"`
	Remove           bool          `json:"remove,omitempty"`
	LocalTimestamp   clock.Local   `json:"local_timestamp"`
	LamportTimestamp clock.Lamport `json:"lamport_timestamp"`
}

func (o *UpdateSelectionsOperation) Timestamp() clock.Lamport {
	return o.LamportTimestamp
}

func (o *UpdateSelectionsOperation) Replica() clock.ReplicaId {
	return o.LocalTimestamp.Replica
}

func (o *UpdateSelectionsOperation) isOperation() {}

package worktree

import (
	"weft/internal/clock"
	"weft/internal/epoch"
)

// OperationEnvelope is the unit of replication between work trees. It
// carries one operation together with the epoch it was generated in, so
// receivers can attribute late arrivals to the right snapshot.
//
// At most one payload field is set: Operation for tree and text
// operations, Location for active-location updates. An envelope with
// neither starts a new epoch.
type OperationEnvelope struct {
	EpochId   clock.Lamport   `json:"epoch_id"`
	EpochHead *Oid            `json:"epoch_head,omitempty"`
	Operation epoch.Operation `json:"operation,omitempty"`
	Location  *LocationUpdate `json:"location,omitempty"`
}

// LocationUpdate replicates which file a replica is currently viewing.
// Updates are last-writer-wins per replica, ordered by LocalTimestamp.
type LocationUpdate struct {
	Replica          clock.ReplicaId `json:"replica"`
	FileId           epoch.FileId    `json:"file_id,omitempty"`
	Active           bool            `json:"active"`
	LocalTimestamp   clock.Local     `json:"local_timestamp"`
	LamportTimestamp clock.Lamport   `json:"lamport_timestamp"`
}

// EpochReplicaId returns the replica that started the envelope's epoch.
func (e OperationEnvelope) EpochReplicaId() clock.ReplicaId {
	return e.EpochId.Replica
}

// IsEpochReset reports whether the envelope starts a new epoch.
func (e OperationEnvelope) IsEpochReset() bool {
	return e.Operation == nil && e.Location == nil
}

// IsSelectionUpdate reports whether the envelope affects neither text
// nor tree state. Consumers optimizing redraws may coalesce or drop
// such envelopes.
func (e OperationEnvelope) IsSelectionUpdate() bool {
	if e.Location != nil {
		return true
	}
	if op, ok := e.Operation.(*epoch.BufferOperation); ok {
		return op.SelectionsOnly()
	}
	return false
}

package epoch

import (
	"weft/internal/buffer"
	"weft/internal/clock"
)

// Operation is a replicated tree mutation. Operations commute with
// concurrent operations; applying the same set in any causal order
// converges.
type Operation interface {
	// OperationId is the per-replica sequence timestamp assigned when the
	// operation was created. It identifies the operation for idempotence
	// and version tracking.
	OperationId() clock.Local
	Timestamp() clock.Lamport
	Replica() clock.ReplicaId
	isOperation()
}

// InsertMetadataOperation registers a file's type and, when the file was
// created with a parent, links it into the tree.
type InsertMetadataOperation struct {
	FileId           FileId        `json:"file_id"`
	FileType         FileType      `json:"file_type"`
	Parent           *Parent       `json:"parent,omitempty"`
	LocalTimestamp   clock.Local   `json:"local_timestamp"`
	LamportTimestamp clock.Lamport `json:"lamport_timestamp"`
}

func (o *InsertMetadataOperation) OperationId() clock.Local {
	return o.LocalTimestamp
}

func (o *InsertMetadataOperation) Timestamp() clock.Lamport {
	return o.LamportTimestamp
}

func (o *InsertMetadataOperation) Replica() clock.ReplicaId {
	return o.LocalTimestamp.Replica
}

func (o *InsertMetadataOperation) isOperation() {}

// UpdateParentOperation moves a file under a new parent, or unlinks it
// from the tree when NewParent is nil.
type UpdateParentOperation struct {
	ChildId          FileId        `json:"child_id"`
	NewParent        *Parent       `json:"new_parent,omitempty"`
	LocalTimestamp   clock.Local   `json:"local_timestamp"`
	LamportTimestamp clock.Lamport `json:"lamport_timestamp"`
}

func (o *UpdateParentOperation) OperationId() clock.Local {
	return o.LocalTimestamp
}

func (o *UpdateParentOperation) Timestamp() clock.Lamport {
	return o.LamportTimestamp
}

func (o *UpdateParentOperation) Replica() clock.ReplicaId {
	return o.LocalTimestamp.Replica
}

func (o *UpdateParentOperation) isOperation() {}

// BufferOperation carries text and selection operations for one file.
type BufferOperation struct {
	FileId           FileId             `json:"file_id"`
	Operations       []buffer.Operation `json:"operations"`
	LocalTimestamp   clock.Local        `json:"local_timestamp"`
	LamportTimestamp clock.Lamport      `json:"lamport_timestamp"`
}

func (o *BufferOperation) OperationId() clock.Local {
	return o.LocalTimestamp
}

func (o *BufferOperation) Timestamp() clock.Lamport {
	return o.LamportTimestamp
}

func (o *BufferOperation) Replica() clock.ReplicaId {
	return o.LocalTimestamp.Replica
}

func (o *BufferOperation) isOperation() {}

// SelectionsOnly reports whether the operation carries selection updates
// and no text edits.
func (o *BufferOperation) SelectionsOnly() bool {
	for _, op := range o.Operations {
		if _, ok := op.(*buffer.EditOperation); ok {
			return false
		}
	}
	return true
}

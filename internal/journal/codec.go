package journal

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"weft/internal/buffer"
	"weft/internal/clock"
	"weft/internal/epoch"
	"weft/internal/worktree"
)

var ErrCorruptRecord = errors.New("journal: corrupt record")

// Record is one journal entry: the replicated envelope plus the wall
// time it was appended, which the compactor uses for tombstone expiry.
type Record struct {
	RecordedAt time.Time
	Envelope   worktree.OperationEnvelope
}

const (
	kindReset byte = iota + 1
	kindOperation
	kindLocation
)

const (
	headerLen  = 1 + 8 + 8 + 16 + 4
	maxPayload = 1 << 28
)

// WriteRecord writes a single record in binary.
func WriteRecord(w io.Writer, rec Record) error {
	// Format:
	// [1 byte kind]
	// [8 bytes appended-at unix nanos]
	// [8 bytes epoch lamport value]
	// [16 bytes epoch replica]
	// [4 bytes payloadLen]
	// [payload JSON]
	payload, err := marshalPayload(rec.Envelope)
	if err != nil {
		return err
	}
	buf := make([]byte, headerLen)
	buf[0] = recordKind(rec.Envelope)
	binary.BigEndian.PutUint64(buf[1:9], uint64(rec.RecordedAt.UnixNano()))
	binary.BigEndian.PutUint64(buf[9:17], rec.Envelope.EpochId.Value)
	copy(buf[17:33], rec.Envelope.EpochId.Replica[:])
	binary.BigEndian.PutUint32(buf[33:37], uint32(len(payload)))
	if _, err := w.Write(buf); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

// ReadRecord reads a single record. The epoch id comes from the fixed
// header; the payload carries the rest of the envelope.
func ReadRecord(r io.Reader) (Record, error) {
	header := make([]byte, headerLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return Record{}, err
	}
	kind := header[0]
	if kind < kindReset || kind > kindLocation {
		return Record{}, ErrCorruptRecord
	}
	payloadLen := binary.BigEndian.Uint32(header[33:37])
	if payloadLen > maxPayload {
		return Record{}, ErrCorruptRecord
	}
	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Record{}, err
	}

	envelope, err := unmarshalPayload(kind, payload)
	if err != nil {
		return Record{}, err
	}
	envelope.EpochId.Value = binary.BigEndian.Uint64(header[9:17])
	copy(envelope.EpochId.Replica[:], header[17:33])
	return Record{
		RecordedAt: time.Unix(0, int64(binary.BigEndian.Uint64(header[1:9]))).UTC(),
		Envelope:   envelope,
	}, nil
}

func recordKind(envelope worktree.OperationEnvelope) byte {
	switch {
	case envelope.Operation != nil:
		return kindOperation
	case envelope.Location != nil:
		return kindLocation
	default:
		return kindReset
	}
}

// payloadRecord is the JSON payload of a record. The epoch id rides in
// the fixed header, not here.
type payloadRecord struct {
	EpochHead *worktree.Oid            `json:"epoch_head,omitempty"`
	Operation *operationRecord         `json:"operation,omitempty"`
	Location  *worktree.LocationUpdate `json:"location,omitempty"`
}

// operationRecord is a tagged union: Kind names the concrete type Body
// decodes into. Interface-valued operations cannot round-trip through
// encoding/json without it.
type operationRecord struct {
	Kind string          `json:"kind"`
	Body json.RawMessage `json:"body"`
}

const (
	opKindInsertMetadata = "insert_metadata"
	opKindUpdateParent   = "update_parent"
	opKindBuffer         = "buffer"
	opKindEdit           = "edit"
	opKindSelections     = "selections"
)

// bufferOperationRecord mirrors epoch.BufferOperation with its nested
// operations in tagged-union form.
type bufferOperationRecord struct {
	FileId           epoch.FileId       `json:"file_id"`
	Operations       []*operationRecord `json:"operations"`
	LocalTimestamp   clock.Local        `json:"local_timestamp"`
	LamportTimestamp clock.Lamport      `json:"lamport_timestamp"`
}

func marshalPayload(envelope worktree.OperationEnvelope) ([]byte, error) {
	payload := payloadRecord{
		EpochHead: envelope.EpochHead,
		Location:  envelope.Location,
	}
	if envelope.Operation != nil {
		rec, err := marshalOperation(envelope.Operation)
		if err != nil {
			return nil, err
		}
		payload.Operation = rec
	}
	return json.Marshal(payload)
}

func unmarshalPayload(kind byte, data []byte) (worktree.OperationEnvelope, error) {
	var payload payloadRecord
	if err := json.Unmarshal(data, &payload); err != nil {
		return worktree.OperationEnvelope{}, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	envelope := worktree.OperationEnvelope{
		EpochHead: payload.EpochHead,
		Location:  payload.Location,
	}
	if payload.Operation != nil {
		op, err := unmarshalOperation(payload.Operation)
		if err != nil {
			return worktree.OperationEnvelope{}, err
		}
		envelope.Operation = op
	}
	if kind != recordKind(envelope) {
		return worktree.OperationEnvelope{}, ErrCorruptRecord
	}
	return envelope, nil
}

func marshalOperation(op epoch.Operation) (*operationRecord, error) {
	switch op := op.(type) {
	case *epoch.InsertMetadataOperation:
		return newOperationRecord(opKindInsertMetadata, op)
	case *epoch.UpdateParentOperation:
		return newOperationRecord(opKindUpdateParent, op)
	case *epoch.BufferOperation:
		wire := bufferOperationRecord{
			FileId:           op.FileId,
			LocalTimestamp:   op.LocalTimestamp,
			LamportTimestamp: op.LamportTimestamp,
		}
		for _, bufOp := range op.Operations {
			rec, err := marshalBufferOperation(bufOp)
			if err != nil {
				return nil, err
			}
			wire.Operations = append(wire.Operations, rec)
		}
		return newOperationRecord(opKindBuffer, wire)
	default:
		return nil, fmt.Errorf("journal: unknown operation type %T", op)
	}
}

func marshalBufferOperation(op buffer.Operation) (*operationRecord, error) {
	switch op := op.(type) {
	case *buffer.EditOperation:
		return newOperationRecord(opKindEdit, op)
	case *buffer.UpdateSelectionsOperation:
		return newOperationRecord(opKindSelections, op)
	default:
		return nil, fmt.Errorf("journal: unknown buffer operation type %T", op)
	}
}

func newOperationRecord(kind string, body any) (*operationRecord, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return &operationRecord{Kind: kind, Body: data}, nil
}

func unmarshalOperation(rec *operationRecord) (epoch.Operation, error) {
	switch rec.Kind {
	case opKindInsertMetadata:
		var op epoch.InsertMetadataOperation
		if err := json.Unmarshal(rec.Body, &op); err != nil {
			return nil, err
		}
		return &op, nil
	case opKindUpdateParent:
		var op epoch.UpdateParentOperation
		if err := json.Unmarshal(rec.Body, &op); err != nil {
			return nil, err
		}
		return &op, nil
	case opKindBuffer:
		var wire bufferOperationRecord
		if err := json.Unmarshal(rec.Body, &wire); err != nil {
			return nil, err
		}
		op := &epoch.BufferOperation{
			FileId:           wire.FileId,
			LocalTimestamp:   wire.LocalTimestamp,
			LamportTimestamp: wire.LamportTimestamp,
		}
		for _, bufRec := range wire.Operations {
			bufOp, err := unmarshalBufferOperation(bufRec)
			if err != nil {
				return nil, err
			}
			op.Operations = append(op.Operations, bufOp)
		}
		return op, nil
	default:
		return nil, fmt.Errorf("journal: unknown operation kind %q", rec.Kind)
	}
}

func unmarshalBufferOperation(rec *operationRecord) (buffer.Operation, error) {
	switch rec.Kind {
	case opKindEdit:
		var op buffer.EditOperation
		if err := json.Unmarshal(rec.Body, &op); err != nil {
			return nil, err
		}
		return &op, nil
	case opKindSelections:
		var op buffer.UpdateSelectionsOperation
		if err := json.Unmarshal(rec.Body, &op); err != nil {
			return nil, err
		}
		return &op, nil
	default:
		return nil, fmt.Errorf("journal: unknown buffer operation kind %q", rec.Kind)
	}
}

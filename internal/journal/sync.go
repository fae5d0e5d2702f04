package journal

import (
	"github.com/sirupsen/logrus"

	"weft/internal/clock"
	"weft/internal/worktree"
)

// envelopeKey identifies an envelope across journals: epoch starts by
// their epoch id, operations by epoch plus operation id, location
// updates by the owner's location sequence. Operation ids restart per
// epoch, so the epoch id is part of the key.
type envelopeKey struct {
	kind         byte
	epochValue   uint64
	epochReplica clock.ReplicaId
	replica      clock.ReplicaId
	seq          uint64
}

func keyOf(envelope worktree.OperationEnvelope) envelopeKey {
	key := envelopeKey{
		kind:         recordKind(envelope),
		epochValue:   envelope.EpochId.Value,
		epochReplica: envelope.EpochId.Replica,
	}
	switch {
	case envelope.Operation != nil:
		id := envelope.Operation.OperationId()
		key.replica = id.Replica
		key.seq = id.Seq
	case envelope.Location != nil:
		key.replica = envelope.Location.Replica
		key.seq = envelope.Location.LocalTimestamp.Seq
	}
	return key
}

// missingFrom returns the envelopes in peer that are not in local,
// preserving peer's order.
func missingFrom(local, peer []worktree.OperationEnvelope) []worktree.OperationEnvelope {
	have := make(map[envelopeKey]bool, len(local))
	for _, envelope := range local {
		have[keyOf(envelope)] = true
	}
	var missing []worktree.OperationEnvelope
	for _, envelope := range peer {
		if !have[keyOf(envelope)] {
			missing = append(missing, envelope)
		}
	}
	return missing
}

// Sync exchanges envelopes with a peer journal both ways. Envelopes
// missing here are appended here and returned, so the caller can apply
// them to its work tree; envelopes missing from the peer are appended
// to the peer.
func (j *Journal) Sync(peer *Journal) (pulled []worktree.OperationEnvelope, pushed int, err error) {
	local, err := j.LoadAll()
	if err != nil {
		return nil, 0, err
	}
	remote, err := peer.LoadAll()
	if err != nil {
		return nil, 0, err
	}

	pulled = missingFrom(local, remote)
	toPush := missingFrom(remote, local)
	if err := j.Append(pulled...); err != nil {
		return nil, 0, err
	}
	if err := peer.Append(toPush...); err != nil {
		return pulled, 0, err
	}
	j.log.WithFields(logrus.Fields{
		"pulled": len(pulled),
		"pushed": len(toPush),
		"peer":   peer.Path(),
	}).Info("synced journals")
	return pulled, len(toPush), nil
}

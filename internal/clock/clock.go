// Package clock provides the logical clocks that order operations across
// replicas: per-replica sequence clocks, version vectors, and Lamport clocks.
package clock

import (
	"bytes"
	"fmt"
	"math"

	"github.com/google/uuid"
)

// ReplicaId identifies one participant. It is chosen once, at replica
// creation, and never changes.
type ReplicaId = uuid.UUID

// Ordering classifies two version vectors relative to each other.
type Ordering int

const (
	Equal Ordering = iota
	Before
	After
	Concurrent
)

// Local identifies an operation: the replica that created it plus a strictly
// increasing per-replica sequence number. Sequence numbers are assigned at
// operation creation and never reused.
type Local struct {
	Replica ReplicaId `json:"replica"`
	Seq     uint64    `json:"seq"`
}

// NewLocal returns a sequence clock for the given replica. The first Tick
// yields sequence number 1; the zero Local is reserved for base content.
func NewLocal(replica ReplicaId) Local {
	return Local{Replica: replica, Seq: 1}
}

// Tick returns the current timestamp and advances the clock.
func (l *Local) Tick() Local {
	t := *l
	l.Seq++
	return t
}

// Observe advances the clock past a timestamp seen from the same replica.
// Timestamps from other replicas are ignored.
func (l *Local) Observe(other Local) {
	if l.Replica == other.Replica && other.Seq >= l.Seq {
		l.Seq = other.Seq + 1
	}
}

// Compare orders timestamps by (replica, seq).
func (l Local) Compare(other Local) int {
	if cmp := bytes.Compare(l.Replica[:], other.Replica[:]); cmp != 0 {
		return cmp
	}
	switch {
	case l.Seq < other.Seq:
		return -1
	case l.Seq > other.Seq:
		return 1
	default:
		return 0
	}
}

func (l Local) String() string {
	return fmt.Sprintf("%s:%d", l.Replica, l.Seq)
}

// Global is a version vector: for each replica, the highest sequence number
// observed from it. Replicas without an entry are at 0.
type Global map[ReplicaId]uint64

// Get returns the highest observed sequence number for a replica.
func (g Global) Get(replica ReplicaId) uint64 {
	return g[replica]
}

// Observe records a timestamp, raising its replica's entry if needed.
func (g *Global) Observe(timestamp Local) {
	if *g == nil {
		*g = make(Global)
	}
	if timestamp.Seq > (*g)[timestamp.Replica] {
		(*g)[timestamp.Replica] = timestamp.Seq
	}
}

// ObserveAll folds another vector into this one.
func (g *Global) ObserveAll(other Global) {
	for replica, seq := range other {
		g.Observe(Local{Replica: replica, Seq: seq})
	}
}

// Observed reports whether the timestamp has been observed.
func (g Global) Observed(timestamp Local) bool {
	return g.Get(timestamp.Replica) >= timestamp.Seq
}

// ObservedAll reports whether every timestamp counted in other has been
// observed, i.e. other ≤ g pointwise.
func (g Global) ObservedAll(other Global) bool {
	for replica, seq := range other {
		if g.Get(replica) < seq {
			return false
		}
	}
	return true
}

// ChangedSince reports whether g contains any timestamp other has not seen.
func (g Global) ChangedSince(other Global) bool {
	for replica, seq := range g {
		if seq > other.Get(replica) {
			return true
		}
	}
	return false
}

// Compare classifies g against other under the pointwise partial order.
func (g Global) Compare(other Global) Ordering {
	ahead := g.ChangedSince(other)
	behind := other.ChangedSince(g)
	switch {
	case ahead && behind:
		return Concurrent
	case ahead:
		return After
	case behind:
		return Before
	default:
		return Equal
	}
}

// Clone returns an independent copy of the vector.
func (g Global) Clone() Global {
	if g == nil {
		return nil
	}
	out := make(Global, len(g))
	for replica, seq := range g {
		out[replica] = seq
	}
	return out
}

// Lamport is a Lamport timestamp. Timestamps are totally ordered by value,
// with the replica id breaking ties.
type Lamport struct {
	Value   uint64    `json:"value"`
	Replica ReplicaId `json:"replica"`
}

// NewLamport returns a Lamport clock for the given replica. The first Tick
// yields value 1; the zero Lamport is reserved for base content.
func NewLamport(replica ReplicaId) Lamport {
	return Lamport{Value: 1, Replica: replica}
}

// MaxLamport returns the greatest possible timestamp, for use as a seek bound.
func MaxLamport() Lamport {
	return Lamport{Value: math.MaxUint64, Replica: uuid.Max}
}

// Tick returns the current timestamp and advances the clock.
func (t *Lamport) Tick() Lamport {
	out := *t
	t.Value++
	return out
}

// Observe advances the clock past a timestamp received from another replica.
func (t *Lamport) Observe(other Lamport) {
	if other.Value > t.Value {
		t.Value = other.Value
	}
	t.Value++
}

// Compare orders timestamps by (value, replica).
func (t Lamport) Compare(other Lamport) int {
	switch {
	case t.Value < other.Value:
		return -1
	case t.Value > other.Value:
		return 1
	default:
		return bytes.Compare(t.Replica[:], other.Replica[:])
	}
}

// Less reports whether t orders before other.
func (t Lamport) Less(other Lamport) bool {
	return t.Compare(other) < 0
}

func (t Lamport) String() string {
	return fmt.Sprintf("%s:%d", t.Replica, t.Value)
}

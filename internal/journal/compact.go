package journal

import (
	"time"

	"github.com/sirupsen/logrus"

	"weft/internal/buffer"
	"weft/internal/clock"
	"weft/internal/epoch"
)

// Config defines thresholds for when to perform compaction.
type Config struct {
	// How often to run compaction.
	Interval time.Duration
	// How long selection-set removals and location clears are kept, so
	// a late peer merge cannot resurrect what they removed.
	TombstoneTTL time.Duration
}

// DefaultConfig returns sensible defaults for compaction.
func DefaultConfig() *Config {
	return &Config{
		Interval:     time.Hour,
		TombstoneTTL: 7 * 24 * time.Hour,
	}
}

// Compactor periodically rewrites the journal, dropping envelopes a
// replay no longer needs: everything from superseded epochs, selection
// and location updates overwritten by later ones, and expired
// tombstones.
type Compactor struct {
	journal *Journal
	config  *Config
	done    chan struct{}
	log     *logrus.Entry
}

// NewCompactor creates a compactor for the journal.
func NewCompactor(j *Journal, config *Config) *Compactor {
	if config == nil {
		config = DefaultConfig()
	}
	return &Compactor{
		journal: j,
		config:  config,
		done:    make(chan struct{}),
		log:     logrus.WithField("component", "journal.compactor"),
	}
}

// Start begins periodic compaction in the background.
func (c *Compactor) Start() error {
	ticker := time.NewTicker(c.config.Interval)
	go func() {
		for {
			select {
			case <-ticker.C:
				dropped, err := c.Compact()
				if err != nil {
					c.log.WithError(err).Warn("compaction failed")
					continue
				}
				if dropped > 0 {
					c.log.WithField("dropped", dropped).Info("compacted journal")
				}
			case <-c.done:
				ticker.Stop()
				return
			}
		}
	}()
	return nil
}

// Stop stops the compactor.
func (c *Compactor) Stop() {
	close(c.done)
}

// Compact runs one compaction pass and returns the number of records
// dropped.
func (c *Compactor) Compact() (int, error) {
	cutoff := time.Now().UTC().Add(-c.config.TombstoneTTL)
	return c.journal.Rewrite(func(records []Record) []Record {
		return compactRecords(records, cutoff)
	})
}

type selectionKey struct {
	fileId epoch.FileId
	setId  buffer.SelectionSetId
}

type selectionState struct {
	timestamp  clock.Lamport
	remove     bool
	recordedAt time.Time
}

type locationState struct {
	seq        uint64
	active     bool
	recordedAt time.Time
}

func compactRecords(records []Record, cutoff time.Time) []Record {
	if len(records) == 0 {
		return records
	}

	var newest clock.Lamport
	for _, rec := range records {
		if newest.Less(rec.Envelope.EpochId) {
			newest = rec.Envelope.EpochId
		}
	}
	selections := latestSelectionUpdates(records, newest)
	locations := latestLocationUpdates(records, newest)

	drop := make([]bool, len(records))
	keptNewest := -1
	lastNewest := -1
	for i, rec := range records {
		envelope := rec.Envelope
		if envelope.EpochId.Compare(newest) != 0 {
			// A replay drops envelopes from superseded epochs on
			// arrival; keeping them only grows the log.
			drop[i] = true
			continue
		}
		lastNewest = i
		switch {
		case envelope.Location != nil:
			drop[i] = locationSuperseded(rec, locations, cutoff)
		case envelope.Operation != nil:
			if bufOp, ok := envelope.Operation.(*epoch.BufferOperation); ok && bufOp.SelectionsOnly() {
				drop[i] = selectionsSuperseded(bufOp, selections, cutoff)
			}
		}
		if !drop[i] {
			keptNewest = i
		}
	}
	// At least one record of the newest epoch must survive, or a
	// replay would lose the epoch and its head entirely.
	if keptNewest == -1 && lastNewest >= 0 {
		drop[lastNewest] = false
	}

	var kept []Record
	for i, rec := range records {
		if !drop[i] {
			kept = append(kept, rec)
		}
	}
	return kept
}

// latestSelectionUpdates finds, per selection set, the most recent
// update in the newest epoch. Mixed edit-and-selection operations
// count: they can supersede a selection-only envelope.
func latestSelectionUpdates(records []Record, newest clock.Lamport) map[selectionKey]selectionState {
	latest := make(map[selectionKey]selectionState)
	for _, rec := range records {
		envelope := rec.Envelope
		if envelope.Operation == nil || envelope.EpochId.Compare(newest) != 0 {
			continue
		}
		bufOp, ok := envelope.Operation.(*epoch.BufferOperation)
		if !ok {
			continue
		}
		for _, op := range bufOp.Operations {
			sel, ok := op.(*buffer.UpdateSelectionsOperation)
			if !ok {
				continue
			}
			key := selectionKey{fileId: bufOp.FileId, setId: sel.SetId}
			if state, ok := latest[key]; ok && sel.LamportTimestamp.Compare(state.timestamp) <= 0 {
				continue
			}
			latest[key] = selectionState{
				timestamp:  sel.LamportTimestamp,
				remove:     sel.Remove,
				recordedAt: rec.RecordedAt,
			}
		}
	}
	return latest
}

func latestLocationUpdates(records []Record, newest clock.Lamport) map[clock.ReplicaId]locationState {
	latest := make(map[clock.ReplicaId]locationState)
	for _, rec := range records {
		loc := rec.Envelope.Location
		if loc == nil || rec.Envelope.EpochId.Compare(newest) != 0 {
			continue
		}
		if state, ok := latest[loc.Replica]; ok && loc.LocalTimestamp.Seq <= state.seq {
			continue
		}
		latest[loc.Replica] = locationState{
			seq:        loc.LocalTimestamp.Seq,
			active:     loc.Active,
			recordedAt: rec.RecordedAt,
		}
	}
	return latest
}

// selectionsSuperseded reports whether every selection update in the
// operation has been overwritten by a later one, or belongs to a set
// whose removal has expired.
func selectionsSuperseded(op *epoch.BufferOperation, latest map[selectionKey]selectionState, cutoff time.Time) bool {
	for _, bufOp := range op.Operations {
		sel, ok := bufOp.(*buffer.UpdateSelectionsOperation)
		if !ok {
			continue
		}
		state := latest[selectionKey{fileId: op.FileId, setId: sel.SetId}]
		if sel.LamportTimestamp.Compare(state.timestamp) < 0 {
			continue
		}
		// This update is the set's current state.
		if state.remove && state.recordedAt.Before(cutoff) {
			continue
		}
		return false
	}
	return true
}

func locationSuperseded(rec Record, latest map[clock.ReplicaId]locationState, cutoff time.Time) bool {
	loc := rec.Envelope.Location
	state := latest[loc.Replica]
	if loc.LocalTimestamp.Seq < state.seq {
		return true
	}
	return !state.active && state.recordedAt.Before(cutoff)
}

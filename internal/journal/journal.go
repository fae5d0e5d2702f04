// Package journal persists operation envelopes as an append-only log,
// so a work tree can be rebuilt by replay and synced with peers by
// exchanging missing envelopes.
package journal

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"weft/internal/clock"
	"weft/internal/worktree"
)

const logName = "log.bin"

// Journal is an append-only envelope log under a directory. A truncated
// tail, left by a crash mid-append, is dropped on load; everything
// before it stays intact.
type Journal struct {
	dir string
	mu  sync.Mutex
	log *logrus.Entry
}

// Open returns a journal rooted at dir. The log file is created on
// first append.
func Open(dir string) *Journal {
	return &Journal{
		dir: dir,
		log: logrus.WithField("component", "journal"),
	}
}

// Path returns the location of the log file.
func (j *Journal) Path() string {
	return filepath.Join(j.dir, logName)
}

// Append writes envelopes to the end of the log.
func (j *Journal) Append(envelopes ...worktree.OperationEnvelope) error {
	if len(envelopes) == 0 {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := os.MkdirAll(j.dir, 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(j.Path(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	now := time.Now().UTC()
	for _, envelope := range envelopes {
		if err := WriteRecord(f, Record{RecordedAt: now, Envelope: envelope}); err != nil {
			return err
		}
	}
	return nil
}

// LoadAll reads every envelope in the log, in append order. A missing
// log file is an empty journal.
func (j *Journal) LoadAll() ([]worktree.OperationEnvelope, error) {
	records, err := j.Records()
	if err != nil {
		return nil, err
	}
	envelopes := make([]worktree.OperationEnvelope, len(records))
	for i, rec := range records {
		envelopes[i] = rec.Envelope
	}
	return envelopes, nil
}

// Records reads every record in the log, with append times.
func (j *Journal) Records() ([]Record, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.readRecords()
}

func (j *Journal) readRecords() ([]Record, error) {
	f, err := os.Open(j.Path())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := ReadLog(f)
	if err != nil {
		j.log.WithError(err).Warn("dropping log records after corrupt entry")
	}
	return records, nil
}

// ReadLog decodes records from r until EOF. A truncated final record is
// dropped silently; any other decode failure is returned along with the
// records read before it.
func ReadLog(r io.Reader) ([]Record, error) {
	var out []Record
	for {
		rec, err := ReadRecord(r)
		if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}

// Version returns the version vector over the newest epoch's logged
// operations. Older epochs are skipped, as a replay skips them, and
// location updates are not counted.
func (j *Journal) Version() (clock.Global, error) {
	envelopes, err := j.LoadAll()
	if err != nil {
		return nil, err
	}
	var newest clock.Lamport
	for _, envelope := range envelopes {
		if newest.Less(envelope.EpochId) {
			newest = envelope.EpochId
		}
	}
	var version clock.Global
	for _, envelope := range envelopes {
		if envelope.Operation != nil && envelope.EpochId.Compare(newest) == 0 {
			version.Observe(envelope.Operation.OperationId())
		}
	}
	return version, nil
}

// Rewrite replaces the log with fn(records), atomically. It returns
// the number of records dropped. Appends are blocked for the duration,
// so fn cannot lose a concurrent write.
func (j *Journal) Rewrite(fn func([]Record) []Record) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	records, err := j.readRecords()
	if err != nil {
		return 0, err
	}
	kept := fn(records)
	dropped := len(records) - len(kept)
	if dropped <= 0 {
		return 0, nil
	}

	tmpPath := j.Path() + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return 0, err
	}
	for _, rec := range kept {
		if err := WriteRecord(f, rec); err != nil {
			f.Close()
			os.Remove(tmpPath)
			return 0, err
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, err
	}
	if err := os.Rename(tmpPath, j.Path()); err != nil {
		os.Remove(tmpPath)
		return 0, err
	}
	return dropped, nil
}

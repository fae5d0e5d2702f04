package worktree

import (
	"errors"
	"fmt"
	"io"

	"weft/internal/epoch"
)

// ErrUnknownSnapshot is returned by providers that cannot resolve an oid.
var ErrUnknownSnapshot = errors.New("worktree: unknown snapshot")

// SnapshotProvider supplies the contents of external snapshots. The work
// tree consumes it synchronously while constructing an epoch and while
// opening text files; a provider failure fails the in-flight call and
// leaves previously applied state untouched.
type SnapshotProvider interface {
	// BaseEntries lists the snapshot's entries in depth-first order.
	// Each call returns a fresh reader.
	BaseEntries(oid Oid) (EntryReader, error)

	// BaseText returns the content of the text file at path within the
	// snapshot.
	BaseText(oid Oid, path string) (string, error)
}

// EntryReader yields directory entries until io.EOF. Any other error is
// terminal.
type EntryReader interface {
	Next() (epoch.DirEntry, error)
}

func readBaseEntries(provider SnapshotProvider, oid Oid) ([]epoch.DirEntry, error) {
	reader, err := provider.BaseEntries(oid)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", oid, err)
	}
	var entries []epoch.DirEntry
	for {
		entry, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read snapshot %s: %w", oid, err)
		}
		entries = append(entries, entry)
	}
}

package snapshot

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"weft/internal/epoch"
	"weft/internal/worktree"
)

// Entry is one file or directory of a snapshot, depth-encoded the way
// the work tree consumes base listings: depth-first order, with Depth
// 1 for entries of the root directory.
type Entry struct {
	Depth int            `json:"depth"`
	Name  string         `json:"name"`
	Type  epoch.FileType `json:"type"`
	// Blob is the hex sha256 of the file content. Directories have
	// none.
	Blob string `json:"blob,omitempty"`
}

// Manifest lists a snapshot's entries together with provenance
// metadata. The snapshot id is the sha256 of a stable rendering of
// every field except the signature, so the signature can be computed
// over the id and attached afterwards. Signed manifests carry their
// signer's public key and verify against it wherever they are copied.
type Manifest struct {
	AuthorName  string    `json:"authorName,omitempty"`
	AuthorEmail string    `json:"authorEmail,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	Message     string    `json:"message,omitempty"`
	Entries     []Entry   `json:"entries"`
	SignedBy    string    `json:"signedBy,omitempty"`
	Signature   string    `json:"signature,omitempty"`
}

// Oid computes the snapshot id.
func (m *Manifest) Oid() worktree.Oid {
	h := sha256.New()
	h.Write([]byte(m.AuthorName))
	h.Write([]byte{0})
	h.Write([]byte(m.AuthorEmail))
	h.Write([]byte{0})
	h.Write([]byte(m.CreatedAt.UTC().Format(time.RFC3339Nano)))
	h.Write([]byte{0})
	h.Write([]byte(m.Message))
	h.Write([]byte{0})
	h.Write([]byte(m.SignedBy))
	for _, entry := range m.Entries {
		fmt.Fprintf(h, "\x00%d\x00%s\x00%s\x00%s", entry.Depth, entry.Name, entry.Type, entry.Blob)
	}
	var oid worktree.Oid
	copy(oid[:], h.Sum(nil))
	return oid
}

// EntryAt finds the entry at the slash-separated path, reconstructing
// paths from the depth encoding as it scans.
func (m *Manifest) EntryAt(path string) (Entry, bool) {
	var parts []string
	for _, entry := range m.Entries {
		if entry.Depth < 1 || entry.Depth > len(parts)+1 {
			return Entry{}, false
		}
		parts = append(parts[:entry.Depth-1], entry.Name)
		if strings.Join(parts, "/") == path {
			return entry, true
		}
	}
	return Entry{}, false
}

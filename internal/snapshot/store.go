// Package snapshot stores the external snapshots work trees are built
// on: a content-addressed badger database of file blobs, shared
// between snapshots, and manifests describing each snapshot's tree.
package snapshot

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"weft/internal/epoch"
	"weft/internal/signing"
	"weft/internal/worktree"
)

var (
	ErrCorruptManifest = errors.New("snapshot: corrupt manifest")
	ErrBadSignature    = errors.New("snapshot: bad manifest signature")
	ErrFileNotFound    = errors.New("snapshot: file not found")
)

var (
	blobPrefix     = []byte("blob:")
	manifestPrefix = []byte("manifest:")
)

// Config configures a Store.
type Config struct {
	// Path is the badger database directory.
	Path string
	// Keys, when present, signs manifests written by Import. Loading
	// verifies against the key embedded in the manifest, so no keys
	// are needed to check snapshots signed elsewhere.
	Keys *signing.Keys
}

// Store is a content-addressed snapshot store. Blobs are keyed by the
// sha256 of their content; manifests are keyed by snapshot id.
type Store struct {
	config Config
	db     *badger.DB
	mu     sync.Mutex
	log    *logrus.Entry
}

// Open opens the store at config.Path, creating it if needed.
func Open(config Config) (*Store, error) {
	opts := badger.DefaultOptions(config.Path)
	opts.Logger = nil
	opts.SyncWrites = false
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot store: %w", err)
	}
	return &Store{
		config: config,
		db:     db,
		log:    logrus.WithField("component", "snapshot"),
	}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func blobKey(sum []byte) []byte {
	return append(append([]byte(nil), blobPrefix...), sum...)
}

func manifestKey(oid worktree.Oid) []byte {
	return append(append([]byte(nil), manifestPrefix...), oid[:]...)
}

// putBlob stores content keyed by its sha256 and returns the hex hash.
// Existing blobs are left untouched, so identical files share one
// blob.
func (s *Store) putBlob(content []byte) (string, error) {
	sum := sha256.Sum256(content)
	err := s.db.Update(func(txn *badger.Txn) error {
		key := blobKey(sum[:])
		_, err := txn.Get(key)
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, content)
	})
	if err != nil {
		return "", fmt.Errorf("failed to store blob: %w", err)
	}
	return hex.EncodeToString(sum[:]), nil
}

// Blob returns the content stored under the hex sha256 hash.
func (s *Store) Blob(hash string) ([]byte, error) {
	sum, err := hex.DecodeString(hash)
	if err != nil || len(sum) != sha256.Size {
		return nil, fmt.Errorf("snapshot: invalid blob hash %q", hash)
	}
	var content []byte
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(blobKey(sum))
		if err != nil {
			return err
		}
		content, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch blob %s: %w", hash, err)
	}
	return content, nil
}

// saveManifest stores the manifest under its id and returns the id.
func (s *Store) saveManifest(manifest *Manifest) (worktree.Oid, error) {
	oid := manifest.Oid()
	raw, err := json.Marshal(manifest)
	if err != nil {
		return worktree.Oid{}, fmt.Errorf("failed to encode manifest: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(manifestKey(oid), raw)
	})
	if err != nil {
		return worktree.Oid{}, fmt.Errorf("failed to store manifest: %w", err)
	}
	return oid, nil
}

// Manifest loads the manifest for oid. The stored bytes must hash back
// to oid, and a signed manifest must verify against its embedded key.
func (s *Store) Manifest(oid worktree.Oid) (*Manifest, error) {
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(manifestKey(oid))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w %s", worktree.ErrUnknownSnapshot, oid)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch manifest %s: %w", oid, err)
	}
	var manifest Manifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCorruptManifest, oid)
	}
	if manifest.Oid() != oid {
		return nil, fmt.Errorf("%w: %s", ErrCorruptManifest, oid)
	}
	if manifest.Signature != "" {
		if !signing.VerifyKey(manifest.SignedBy, oid[:], manifest.Signature) {
			return nil, fmt.Errorf("%w: %s", ErrBadSignature, oid)
		}
	}
	return &manifest, nil
}

// Info summarizes one stored snapshot.
type Info struct {
	Oid      worktree.Oid
	Manifest Manifest
}

// List returns every stored snapshot, oldest first. Listing does not
// verify integrity or signatures; loading does.
func (s *Store) List() ([]Info, error) {
	var infos []Info
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(manifestPrefix); it.ValidForPrefix(manifestPrefix); it.Next() {
			item := it.Item()
			var oid worktree.Oid
			copy(oid[:], item.Key()[len(manifestPrefix):])
			var manifest Manifest
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &manifest)
			})
			if err != nil {
				return err
			}
			infos = append(infos, Info{Oid: oid, Manifest: manifest})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].Manifest.CreatedAt.Equal(infos[j].Manifest.CreatedAt) {
			return infos[i].Manifest.CreatedAt.Before(infos[j].Manifest.CreatedAt)
		}
		return bytes.Compare(infos[i].Oid[:], infos[j].Oid[:]) < 0
	})
	return infos, nil
}

// Remove deletes the manifest for oid. Blobs it referenced stay until
// the next garbage collection.
func (s *Store) Remove(oid worktree.Oid) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.db.Update(func(txn *badger.Txn) error {
		key := manifestKey(oid)
		if _, err := txn.Get(key); err != nil {
			return err
		}
		return txn.Delete(key)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%w %s", worktree.ErrUnknownSnapshot, oid)
	}
	if err != nil {
		return fmt.Errorf("failed to remove snapshot %s: %w", oid, err)
	}
	s.log.WithField("oid", oid).Info("removed snapshot")
	return nil
}

// ReplicateTo copies manifests missing from dst, together with the
// blobs they reference, and returns how many were copied. Manifests
// are loaded through the verifying path first, so corrupt or badly
// signed snapshots do not propagate.
func (s *Store) ReplicateTo(dst *Store) (int, error) {
	infos, err := s.List()
	if err != nil {
		return 0, err
	}
	copied := 0
	for _, info := range infos {
		_, err := dst.Manifest(info.Oid)
		if err == nil {
			continue
		}
		if !errors.Is(err, worktree.ErrUnknownSnapshot) {
			return copied, err
		}
		manifest, err := s.Manifest(info.Oid)
		if err != nil {
			return copied, err
		}
		if err := dst.adopt(manifest, s); err != nil {
			return copied, err
		}
		copied++
	}
	if copied > 0 {
		s.log.WithFields(logrus.Fields{
			"manifests": copied,
			"to":        dst.config.Path,
		}).Info("replicated snapshots")
	}
	return copied, nil
}

// adopt copies one manifest and its blobs from src. Holding the lock
// keeps the collector from sweeping blobs before the manifest lands.
func (s *Store) adopt(manifest *Manifest, src *Store) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range manifest.Entries {
		if entry.Blob == "" {
			continue
		}
		content, err := src.Blob(entry.Blob)
		if err != nil {
			return err
		}
		if _, err := s.putBlob(content); err != nil {
			return err
		}
	}
	_, err := s.saveManifest(manifest)
	return err
}

// BaseEntries implements worktree.SnapshotProvider.
func (s *Store) BaseEntries(oid worktree.Oid) (worktree.EntryReader, error) {
	manifest, err := s.Manifest(oid)
	if err != nil {
		return nil, err
	}
	entries := make([]epoch.DirEntry, len(manifest.Entries))
	for i, entry := range manifest.Entries {
		entries[i] = epoch.DirEntry{Depth: entry.Depth, Name: entry.Name, Type: entry.Type}
	}
	return &entryReader{entries: entries}, nil
}

// BaseText implements worktree.SnapshotProvider.
func (s *Store) BaseText(oid worktree.Oid, path string) (string, error) {
	manifest, err := s.Manifest(oid)
	if err != nil {
		return "", err
	}
	entry, ok := manifest.EntryAt(path)
	if !ok || entry.Type != epoch.FileTypeText {
		return "", fmt.Errorf("%w: %s in %s", ErrFileNotFound, path, oid)
	}
	content, err := s.Blob(entry.Blob)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

type entryReader struct {
	entries []epoch.DirEntry
	next    int
}

func (r *entryReader) Next() (epoch.DirEntry, error) {
	if r.next >= len(r.entries) {
		return epoch.DirEntry{}, io.EOF
	}
	entry := r.entries[r.next]
	r.next++
	return entry, nil
}

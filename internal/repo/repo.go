// Package repo ties a checkout together: the .weft metadata layout,
// the replica identity, and the live work tree rebuilt by replaying
// the journal, plus the background maintenance services.
package repo

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"weft/internal/clock"
	"weft/internal/config"
	"weft/internal/journal"
	"weft/internal/signing"
	"weft/internal/snapshot"
	"weft/internal/worktree"
)

// WeftDir is the metadata directory at the repository root.
const WeftDir = ".weft"

const (
	journalDirName   = "journal"
	snapshotsDirName = "snapshots"
	configDirName    = "config"
	keysDirName      = "keys"
	headName         = "HEAD"
)

var (
	ErrExists   = errors.New("repo: repository already exists")
	ErrNotFound = errors.New("repo: no weft repository found")
)

// Init creates the .weft layout under path: journal and snapshot
// directories, a config with a fresh replica id, signing keys, and an
// empty HEAD.
func Init(path string) error {
	weftPath := filepath.Join(path, WeftDir)
	if _, err := os.Stat(weftPath); err == nil {
		return ErrExists
	}
	dirs := []string{
		weftPath,
		filepath.Join(weftPath, journalDirName),
		filepath.Join(weftPath, snapshotsDirName),
		filepath.Join(weftPath, configDirName),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	if err := config.SetRepo(path, config.KeyReplicaId, uuid.NewString()); err != nil {
		return err
	}
	if _, err := signing.Generate(filepath.Join(weftPath, keysDirName)); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(weftPath, headName), nil, 0644); err != nil {
		return err
	}
	logrus.WithField("root", path).Info("initialized repository")
	return nil
}

// Find walks upward from start until it reaches a directory containing
// .weft.
func Find(start string) (string, error) {
	current, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(current, WeftDir)); err == nil {
			return current, nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", fmt.Errorf("%w (searched upward from %s)", ErrNotFound, start)
		}
		current = parent
	}
}

// Repo is an open checkout: the live work tree, its journal and
// snapshot store, and the background maintenance services.
type Repo struct {
	root      string
	replica   clock.ReplicaId
	journal   *journal.Journal
	store     *snapshot.Store
	tree      *worktree.WorkTree
	compactor *journal.Compactor
	collector *snapshot.Collector
	log       *logrus.Entry
}

// Open finds the repository containing start and rebuilds its work
// tree by replaying the journal. Background compaction and garbage
// collection are started; Close stops them.
func Open(start string) (*Repo, error) {
	root, err := Find(start)
	if err != nil {
		return nil, err
	}
	raw, err := config.Get(root, config.KeyReplicaId)
	if err != nil {
		return nil, fmt.Errorf("failed to read replica id: %w", err)
	}
	replica, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse replica id %q: %w", raw, err)
	}

	keys, err := signing.Load(filepath.Join(root, WeftDir, keysDirName))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	var signer *signing.Keys
	if config.GetDefault(root, config.KeySnapshotSign, "false") == "true" {
		if !keys.CanSign() {
			return nil, errors.New("repo: snapshot signing enabled but no private key")
		}
		signer = keys
	}

	store, err := snapshot.Open(snapshot.Config{
		Path: filepath.Join(root, WeftDir, snapshotsDirName),
		Keys: signer,
	})
	if err != nil {
		return nil, err
	}

	jrnl := journal.Open(filepath.Join(root, WeftDir, journalDirName))
	envelopes, err := jrnl.LoadAll()
	if err != nil {
		store.Close()
		return nil, err
	}
	head, err := readHead(root)
	if err != nil {
		store.Close()
		return nil, err
	}
	tree, startOps, err := worktree.Create(replica, head, envelopes, store)
	if err != nil {
		store.Close()
		return nil, err
	}
	if err := jrnl.Append(startOps...); err != nil {
		store.Close()
		return nil, err
	}

	interval, err := time.ParseDuration(config.GetDefault(root, config.KeyCompactInterval, "1h"))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to parse %s: %w", config.KeyCompactInterval, err)
	}
	compactorConfig := journal.DefaultConfig()
	compactorConfig.Interval = interval

	r := &Repo{
		root:      root,
		replica:   replica,
		journal:   jrnl,
		store:     store,
		tree:      tree,
		compactor: journal.NewCompactor(jrnl, compactorConfig),
		collector: snapshot.NewCollector(store, 0),
		log:       logrus.WithField("component", "repo"),
	}
	if err := r.compactor.Start(); err != nil {
		store.Close()
		return nil, err
	}
	if err := r.collector.Start(); err != nil {
		r.compactor.Stop()
		store.Close()
		return nil, err
	}
	r.log.WithFields(logrus.Fields{
		"root":    root,
		"replica": replica,
	}).Debug("opened repository")
	return r, nil
}

// Close stops background services and releases the snapshot store.
func (r *Repo) Close() error {
	r.compactor.Stop()
	r.collector.Stop()
	return r.store.Close()
}

// Root returns the repository root directory.
func (r *Repo) Root() string {
	return r.root
}

// Replica returns this checkout's replica id.
func (r *Repo) Replica() clock.ReplicaId {
	return r.replica
}

// Tree returns the live work tree.
func (r *Repo) Tree() *worktree.WorkTree {
	return r.tree
}

// Journal returns the operation journal.
func (r *Repo) Journal() *journal.Journal {
	return r.journal
}

// Store returns the snapshot store.
func (r *Repo) Store() *snapshot.Store {
	return r.store
}

// Record appends envelopes the live tree emitted to the journal.
func (r *Repo) Record(envelopes ...worktree.OperationEnvelope) error {
	return r.journal.Append(envelopes...)
}

// ImportSnapshot stores a snapshot of dir with authorship taken from
// config.
func (r *Repo) ImportSnapshot(dir, message string) (worktree.Oid, error) {
	return r.store.Import(dir, snapshot.ImportOptions{
		AuthorName:  config.GetDefault(r.root, config.KeyUserName, ""),
		AuthorEmail: config.GetDefault(r.root, config.KeyUserEmail, ""),
		Message:     message,
	})
}

// Reset moves the work tree onto a new base snapshot and journals the
// epoch change. A nil head resets to an empty tree.
func (r *Repo) Reset(head *worktree.Oid) error {
	envelopes, err := r.tree.Reset(head)
	if err != nil {
		return err
	}
	if err := r.journal.Append(envelopes...); err != nil {
		return err
	}
	return r.saveHead()
}

// Sync merges journals and snapshot stores with the peer repository at
// peerPath and applies pulled operations to the live tree. The peer
// must not be open elsewhere, since its stores are locked while
// syncing.
func (r *Repo) Sync(peerPath string) (int, int, error) {
	peerRoot, err := Find(peerPath)
	if err != nil {
		return 0, 0, err
	}
	if peerRoot == r.root {
		return 0, 0, errors.New("repo: cannot sync a repository with itself")
	}

	peerStore, err := snapshot.Open(snapshot.Config{
		Path: filepath.Join(peerRoot, WeftDir, snapshotsDirName),
	})
	if err != nil {
		return 0, 0, err
	}
	defer peerStore.Close()

	// Snapshots travel first so pulled epochs can resolve their bases.
	if _, err := peerStore.ReplicateTo(r.store); err != nil {
		return 0, 0, err
	}
	if _, err := r.store.ReplicateTo(peerStore); err != nil {
		return 0, 0, err
	}

	peerJournal := journal.Open(filepath.Join(peerRoot, WeftDir, journalDirName))
	pulled, pushed, err := r.journal.Sync(peerJournal)
	if err != nil {
		return 0, 0, err
	}
	fixups, err := r.tree.ApplyOps(pulled)
	if err != nil {
		return len(pulled), pushed, err
	}
	if err := r.journal.Append(fixups...); err != nil {
		return len(pulled), pushed, err
	}
	if err := r.saveHead(); err != nil {
		return len(pulled), pushed, err
	}
	r.log.WithFields(logrus.Fields{
		"pulled": len(pulled),
		"pushed": pushed,
		"peer":   peerRoot,
	}).Info("synced with peer")
	return len(pulled), pushed, nil
}

func readHead(root string) (*worktree.Oid, error) {
	raw, err := os.ReadFile(filepath.Join(root, WeftDir, headName))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return nil, nil
	}
	oid, err := worktree.ParseOid(text)
	if err != nil {
		return nil, err
	}
	return &oid, nil
}

func (r *Repo) saveHead() error {
	var text string
	if head := r.tree.Head(); head != nil {
		text = head.String()
	}
	return os.WriteFile(filepath.Join(r.root, WeftDir, headName), []byte(text), 0644)
}

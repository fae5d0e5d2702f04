package snapshot

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"weft/internal/epoch"
	"weft/internal/ignore"
	"weft/internal/signing"
	"weft/internal/worktree"
)

const importWorkers = 8

// ImportOptions carries the metadata recorded in an imported
// snapshot's manifest.
type ImportOptions struct {
	AuthorName  string
	AuthorEmail string
	Message     string
}

// Import walks root and stores a snapshot of it: one blob per file,
// deduplicated by content hash, and a manifest listing the tree in
// depth-first order. Patterns from the root's ignore file are honored
// and files that are not valid UTF-8 are skipped. When signing keys
// are configured the manifest is signed.
func (s *Store) Import(root string, options ImportOptions) (worktree.Oid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ignoreList, err := ignore.Load(root)
	if err != nil {
		return worktree.Oid{}, fmt.Errorf("failed to read ignore file: %w", err)
	}
	items, err := collectItems(root, ignoreList, s.log)
	if err != nil {
		return worktree.Oid{}, err
	}
	blobs, err := s.storeBlobs(items)
	if err != nil {
		return worktree.Oid{}, err
	}

	manifest := &Manifest{
		AuthorName:  options.AuthorName,
		AuthorEmail: options.AuthorEmail,
		CreatedAt:   time.Now().UTC(),
		Message:     options.Message,
	}
	for _, item := range items {
		entry := item.entry
		if entry.Type == epoch.FileTypeText {
			hash, ok := blobs[item.rel]
			if !ok {
				continue
			}
			entry.Blob = hash
		}
		manifest.Entries = append(manifest.Entries, entry)
	}

	if s.config.Keys.CanSign() {
		manifest.SignedBy = s.config.Keys.PublicHex()
		oid := manifest.Oid()
		signature, err := s.config.Keys.Sign(oid[:])
		if err != nil {
			return worktree.Oid{}, err
		}
		if !signing.VerifyKey(manifest.SignedBy, oid[:], signature) {
			return worktree.Oid{}, errors.New("snapshot: signature failed verification right after signing")
		}
		manifest.Signature = signature
	}

	oid, err := s.saveManifest(manifest)
	if err != nil {
		return worktree.Oid{}, err
	}
	s.log.WithFields(logrus.Fields{
		"oid":     oid,
		"entries": len(manifest.Entries),
	}).Info("imported snapshot")
	return oid, nil
}

type walkItem struct {
	entry Entry
	path  string // absolute, files only
	rel   string
}

// collectItems walks root and returns one item per importable entry.
// WalkDir's lexical order visits a directory before its contents,
// which is exactly the depth-first order manifests encode.
func collectItems(root string, ignoreList *ignore.List, log *logrus.Entry) ([]walkItem, error) {
	var items []walkItem
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if ignoreList.Match(rel) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		depth := strings.Count(rel, "/") + 1
		switch {
		case d.IsDir():
			items = append(items, walkItem{
				entry: Entry{Depth: depth, Name: d.Name(), Type: epoch.FileTypeDirectory},
			})
		case d.Type().IsRegular():
			items = append(items, walkItem{
				entry: Entry{Depth: depth, Name: d.Name(), Type: epoch.FileTypeText},
				path:  path,
				rel:   rel,
			})
		default:
			log.WithField("path", rel).Warn("skipping irregular file")
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}
	return items, nil
}

// storeBlobs hashes and stores file contents concurrently. The result
// maps relative paths to blob hashes; files that are not valid UTF-8
// are logged and left out.
func (s *Store) storeBlobs(items []walkItem) (map[string]string, error) {
	var files []walkItem
	for _, item := range items {
		if item.entry.Type == epoch.FileTypeText {
			files = append(files, item)
		}
	}
	if len(files) == 0 {
		return nil, nil
	}

	chWork := make(chan walkItem, len(files))
	chErr := make(chan error, importWorkers)
	blobs := make(map[string]string, len(files))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < importWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range chWork {
				content, err := os.ReadFile(item.path)
				if err != nil {
					chErr <- fmt.Errorf("failed to read %s: %w", item.rel, err)
					return
				}
				if !utf8.Valid(content) {
					s.log.WithField("path", item.rel).Warn("skipping file that is not valid UTF-8")
					continue
				}
				hash, err := s.putBlob(content)
				if err != nil {
					chErr <- err
					return
				}
				mu.Lock()
				blobs[item.rel] = hash
				mu.Unlock()
			}
		}()
	}
	for _, item := range files {
		chWork <- item
	}
	close(chWork)
	wg.Wait()

	select {
	case err := <-chErr:
		return nil, err
	default:
	}
	return blobs, nil
}

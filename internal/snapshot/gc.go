package snapshot

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

// DefaultCollectInterval is how often the background collector sweeps.
const DefaultCollectInterval = 24 * time.Hour

// CollectGarbage deletes blobs no manifest references and returns the
// number deleted. Orphans appear when a snapshot is removed and when
// an import fails between writing blobs and writing the manifest.
func (s *Store) CollectGarbage() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	referenced := make(map[string]bool)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(manifestPrefix); it.ValidForPrefix(manifestPrefix); it.Next() {
			var manifest Manifest
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &manifest)
			})
			if err != nil {
				return err
			}
			for _, entry := range manifest.Entries {
				if entry.Blob == "" {
					continue
				}
				sum, err := hex.DecodeString(entry.Blob)
				if err != nil {
					return fmt.Errorf("%w: bad blob hash %q", ErrCorruptManifest, entry.Blob)
				}
				referenced[string(sum)] = true
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to scan manifests: %w", err)
	}

	var orphans [][]byte
	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(blobPrefix); it.ValidForPrefix(blobPrefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			if !referenced[string(key[len(blobPrefix):])] {
				orphans = append(orphans, key)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to scan blobs: %w", err)
	}
	if len(orphans) == 0 {
		return 0, nil
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		for _, key := range orphans {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete blobs: %w", err)
	}
	s.log.WithField("blobs", len(orphans)).Info("collected unreferenced blobs")
	return len(orphans), nil
}

// Collector runs garbage collection on a timer.
type Collector struct {
	store    *Store
	interval time.Duration
	done     chan struct{}
	log      *logrus.Entry
}

// NewCollector creates a collector sweeping the store every interval.
// A zero interval means DefaultCollectInterval.
func NewCollector(store *Store, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = DefaultCollectInterval
	}
	return &Collector{
		store:    store,
		interval: interval,
		done:     make(chan struct{}),
		log:      logrus.WithField("component", "snapshot.collector"),
	}
}

// Start begins periodic collection in the background.
func (c *Collector) Start() error {
	ticker := time.NewTicker(c.interval)
	go func() {
		for {
			select {
			case <-ticker.C:
				if _, err := c.store.CollectGarbage(); err != nil {
					c.log.WithError(err).Warn("garbage collection failed")
				}
			case <-c.done:
				ticker.Stop()
				return
			}
		}
	}()
	return nil
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.done)
}

package storage

import (
	"fmt"

	"github.com/cockroachdb/pebble"
)

// PebbleStore owns the node's pebble database. FillStore and RecordStore
// share it under disjoint key prefixes.
type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	opts := &pebble.Options{
		// Performance tuning
		Cache:                       pebble.NewCache(64 << 20), // 64MB cache
		MemTableSize:                32 << 20,                  // 32MB memtable
		MaxConcurrentCompactions:    func() int { return 2 },
		L0CompactionThreshold:       2,
		L0StopWritesThreshold:       12,
		LBaseMaxBytes:               64 << 20, // 64MB
		MaxOpenFiles:                1000,
		BytesPerSync:                512 << 10, // 512KB
		DisableAutomaticCompactions: false,
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

// get returns a copy of the value under key, or nil if missing
func (s *PebbleStore) get(key []byte) ([]byte, error) {
	val, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), val...), nil
}

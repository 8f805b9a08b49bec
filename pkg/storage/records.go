package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperswap/pkg/exchange/record"
)

// RecordStore persists settlement events in publish order and indexes them
// by both order keys. It is a record.Sink.
type RecordStore struct {
	mu    sync.Mutex
	store *PebbleStore
	seq   uint64
}

func NewRecordStore(store *PebbleStore) (*RecordStore, error) {
	r := &RecordStore{store: store}
	val, err := store.get([]byte(keyRecordSeq))
	if err != nil {
		return nil, fmt.Errorf("failed to load record sequence: %w", err)
	}
	if val != nil {
		if r.seq, err = parseSeq(val); err != nil {
			return nil, fmt.Errorf("failed to load record sequence: %w", err)
		}
	}
	return r, nil
}

func (r *RecordStore) Publish(_ context.Context, ev record.Event) error {
	data, err := encodeGob(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	seq := r.seq + 1
	batch := r.store.db.NewBatch()
	defer batch.Close()
	_ = batch.Set(recordKey(seq), data, nil)
	_ = batch.Set(orderRecordKey(ev.Match.LeftKey, seq), nil, nil)
	if ev.Match.RightKey != ev.Match.LeftKey {
		_ = batch.Set(orderRecordKey(ev.Match.RightKey, seq), nil, nil)
	}
	_ = batch.Set([]byte(keyRecordSeq), seqKey(seq), nil)
	if err := batch.Commit(pebble.NoSync); err != nil {
		return fmt.Errorf("failed to save event: %w", err)
	}
	r.seq = seq
	return nil
}

// Recent returns up to limit events, newest first
func (r *RecordStore) Recent(limit int) ([]record.Event, error) {
	prefix := []byte(prefixRecord)
	iter, err := r.store.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []record.Event
	for iter.Last(); iter.Valid() && len(out) < limit; iter.Prev() {
		var ev record.Event
		if err := decodeGob(iter.Value(), &ev); err != nil {
			continue // Skip invalid entries
		}
		out = append(out, ev)
	}
	return out, nil
}

// ByOrder returns up to limit events that touched orderKey, newest first
func (r *RecordStore) ByOrder(orderKey common.Hash, limit int) ([]record.Event, error) {
	prefix := orderRecordPrefix(orderKey)
	iter, err := r.store.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []record.Event
	for iter.Last(); iter.Valid() && len(out) < limit; iter.Prev() {
		seq, err := parseSeq(iter.Key()[len(prefix):])
		if err != nil {
			continue
		}
		val, err := r.store.get(recordKey(seq))
		if err != nil {
			return nil, err
		}
		if val == nil {
			continue
		}
		var ev record.Event
		if err := decodeGob(val, &ev); err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

var _ record.Sink = (*RecordStore)(nil)

package storage

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperswap/pkg/exchange/ledger"
)

// FillStore is the durable fill ledger. Advance writes all updates in one
// synced batch so a crash never leaves half of a match recorded.
type FillStore struct {
	mu    sync.Mutex
	store *PebbleStore
}

func NewFillStore(store *PebbleStore) *FillStore {
	return &FillStore{store: store}
}

func (f *FillStore) Get(key common.Hash) (*big.Int, error) {
	val, err := f.store.get(fillKey(key))
	if err != nil {
		return nil, fmt.Errorf("failed to get fill %s: %w", key.Hex(), err)
	}
	return new(big.Int).SetBytes(val), nil
}

func (f *FillStore) Advance(updates ...ledger.Update) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	batch := f.store.db.NewBatch()
	defer batch.Close()

	for _, u := range updates {
		current, err := f.Get(u.Key)
		if err != nil {
			return err
		}
		if err := ledger.CheckMonotonic(u.Key, current, u.Amount); err != nil {
			return err
		}
		if err := batch.Set(fillKey(u.Key), u.Amount.Bytes(), nil); err != nil {
			return fmt.Errorf("failed to stage fill: %w", err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit fills: %w", err)
	}
	return nil
}

var _ ledger.Ledger = (*FillStore)(nil)

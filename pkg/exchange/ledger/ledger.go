package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// ErrFillDecrease is returned when an update would lower a recorded fill
var ErrFillDecrease = errors.New("fill cannot decrease")

// Update sets the fill for one order key
type Update struct {
	Key    common.Hash
	Amount *big.Int
}

// Ledger maps order keys to cumulative filled amounts.
// Unknown keys read as zero. Advance applies every update or none.
type Ledger interface {
	Get(key common.Hash) (*big.Int, error)
	Advance(updates ...Update) error
}

// CheckMonotonic verifies that amount does not go below current
func CheckMonotonic(key common.Hash, current, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: %s: invalid amount %v", ErrFillDecrease, key.Hex(), amount)
	}
	if amount.Cmp(current) < 0 {
		return fmt.Errorf("%w: %s: %s -> %s", ErrFillDecrease, key.Hex(), current, amount)
	}
	return nil
}

// Memory is a mutex-guarded in-memory Ledger
type Memory struct {
	mu    sync.RWMutex
	fills map[common.Hash]*big.Int
}

func NewMemory() *Memory {
	return &Memory{fills: make(map[common.Hash]*big.Int)}
}

func (m *Memory) Get(key common.Hash) (*big.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if v, ok := m.fills[key]; ok {
		return new(big.Int).Set(v), nil
	}
	return new(big.Int), nil
}

func (m *Memory) Advance(updates ...Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range updates {
		current := m.fills[u.Key]
		if current == nil {
			current = new(big.Int)
		}
		if err := CheckMonotonic(u.Key, current, u.Amount); err != nil {
			return err
		}
	}
	for _, u := range updates {
		m.fills[u.Key] = new(big.Int).Set(u.Amount)
	}
	return nil
}

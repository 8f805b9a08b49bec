package order

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrOrderNotStarted = errors.New("order not started yet")
	ErrOrderExpired    = errors.New("order expired")
	ErrZeroValue       = errors.New("asset value is zero")
)

// Order offers MakeAsset in exchange for TakeAsset.
// A zero Taker means any counterparty; Start/End of 0 leave the window open.
type Order struct {
	Maker     common.Address
	MakeAsset Asset
	Taker     common.Address
	TakeAsset Asset
	Salt      *big.Int
	Start     uint64 // unix seconds
	End       uint64 // unix seconds
	DataType  DataType
	Data      []byte
}

// IsOneShot reports a salt-0 order: never tracked in the fill ledger and only
// valid when submitted by its own maker.
func (o *Order) IsOneShot() bool {
	return o.Salt == nil || o.Salt.Sign() == 0
}

// ValidateWindow checks start < now < end, treating 0 as unbounded
func (o *Order) ValidateWindow(now time.Time) error {
	ts := uint64(now.Unix())
	if o.Start != 0 && o.Start >= ts {
		return fmt.Errorf("%w: starts at %d, now %d", ErrOrderNotStarted, o.Start, ts)
	}
	if o.End != 0 && o.End <= ts {
		return fmt.Errorf("%w: ended at %d, now %d", ErrOrderExpired, o.End, ts)
	}
	return nil
}

// ValidateValues rejects nil or zero asset amounts
func (o *Order) ValidateValues() error {
	if o.MakeAsset.Value == nil || o.MakeAsset.Value.Sign() <= 0 {
		return fmt.Errorf("%w: make %s", ErrZeroValue, o.MakeAsset.Type.Class)
	}
	if o.TakeAsset.Value == nil || o.TakeAsset.Value.Sign() <= 0 {
		return fmt.Errorf("%w: take %s", ErrZeroValue, o.TakeAsset.Type.Class)
	}
	return nil
}

// DecodedData decodes Data by DataType
func (o *Order) DecodedData() (Data, error) {
	return DecodeData(o.DataType, o.Data)
}

// RequiredFill is the fill amount at which the order is fully consumed:
// the take value, or the make value for make-fill orders.
func (o *Order) RequiredFill(makeFill bool) *big.Int {
	if makeFill {
		return cloneInt(o.MakeAsset.Value)
	}
	return cloneInt(o.TakeAsset.Value)
}

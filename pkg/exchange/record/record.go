package record

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/uhyunpark/hyperswap/pkg/exchange/fee"
	"github.com/uhyunpark/hyperswap/pkg/exchange/order"
)

// Direction of a transfer relative to the right (maker) order
type Direction int

const (
	ToMaker Direction = iota // left maker's asset moving to the right side
	ToTaker                  // right maker's asset moving to the left side
)

func (d Direction) String() string {
	if d == ToTaker {
		return "TO_TAKER"
	}
	return "TO_MAKER"
}

func (d Direction) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Direction) UnmarshalText(b []byte) error {
	switch string(b) {
	case "TO_MAKER":
		*d = ToMaker
	case "TO_TAKER":
		*d = ToTaker
	default:
		return fmt.Errorf("unknown direction %q", b)
	}
	return nil
}

// Match summarises one settled order pair
type Match struct {
	LeftKey      common.Hash
	RightKey     common.Hash
	LeftMaker    common.Address
	RightMaker   common.Address
	NewLeftFill  *big.Int
	NewRightFill *big.Int
}

func (m Match) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		LeftKey      common.Hash    `json:"left_key"`
		RightKey     common.Hash    `json:"right_key"`
		LeftMaker    common.Address `json:"left_maker"`
		RightMaker   common.Address `json:"right_maker"`
		NewLeftFill  string         `json:"new_left_fill"`
		NewRightFill string         `json:"new_right_fill"`
	}{m.LeftKey, m.RightKey, m.LeftMaker, m.RightMaker, str(m.NewLeftFill), str(m.NewRightFill)})
}

// Transfer is one disbursement as observed from outside
type Transfer struct {
	AssetClass order.AssetClass
	AssetData  hexutil.Bytes
	Value      *big.Int
	From       common.Address
	To         common.Address
	Direction  Direction
	Category   fee.Category
}

func (t Transfer) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		AssetClass string         `json:"asset_class"`
		AssetData  hexutil.Bytes  `json:"asset_data,omitempty"`
		Value      string         `json:"value"`
		From       common.Address `json:"from"`
		To         common.Address `json:"to"`
		Direction  Direction      `json:"direction"`
		Category   fee.Category   `json:"category"`
	}{t.AssetClass.String(), t.AssetData, str(t.Value), t.From, t.To, t.Direction, t.Category})
}

func (m *Match) UnmarshalJSON(b []byte) error {
	var raw struct {
		LeftKey      common.Hash    `json:"left_key"`
		RightKey     common.Hash    `json:"right_key"`
		LeftMaker    common.Address `json:"left_maker"`
		RightMaker   common.Address `json:"right_maker"`
		NewLeftFill  string         `json:"new_left_fill"`
		NewRightFill string         `json:"new_right_fill"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	left, err := parseInt(raw.NewLeftFill)
	if err != nil {
		return err
	}
	right, err := parseInt(raw.NewRightFill)
	if err != nil {
		return err
	}
	*m = Match{raw.LeftKey, raw.RightKey, raw.LeftMaker, raw.RightMaker, left, right}
	return nil
}

func (t *Transfer) UnmarshalJSON(b []byte) error {
	var raw struct {
		AssetClass string         `json:"asset_class"`
		AssetData  hexutil.Bytes  `json:"asset_data"`
		Value      string         `json:"value"`
		From       common.Address `json:"from"`
		To         common.Address `json:"to"`
		Direction  Direction      `json:"direction"`
		Category   fee.Category   `json:"category"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	class, err := order.ParseClass(raw.AssetClass)
	if err != nil {
		return err
	}
	value, err := parseInt(raw.Value)
	if err != nil {
		return err
	}
	*t = Transfer{class, raw.AssetData, value, raw.From, raw.To, raw.Direction, raw.Category}
	return nil
}

func parseInt(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return v, nil
}

func str(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// Event is everything a settled match emits, in emission order
type Event struct {
	Match     Match      `json:"match"`
	Transfers []Transfer `json:"transfers"`
	Timestamp int64      `json:"timestamp"` // unix milliseconds
}

// Sink receives events after the match is committed
type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

// Fanout publishes to every sink and joins their errors
type Fanout []Sink

func (f Fanout) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for i, s := range f {
		if err := s.Publish(ctx, ev); err != nil {
			errs = append(errs, fmt.Errorf("sink %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Memory keeps published events in order
type Memory struct {
	mu     sync.Mutex
	events []Event
}

func (m *Memory) Publish(_ context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

// Events returns a copy of everything published so far
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

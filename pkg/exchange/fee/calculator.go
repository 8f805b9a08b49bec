package fee

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperswap/pkg/exchange/order"
	"github.com/uhyunpark/hyperswap/pkg/exchange/royalty"
)

var (
	ErrFeeCeilingExceeded = errors.New("fee ceiling exceeded")
	ErrInvalidPayouts     = errors.New("payouts must sum to 10000 bps")
	ErrInvalidConfig      = errors.New("invalid fee config")
)

// Category of a disbursement, in waterfall order
type Category int

const (
	CategoryProtocol Category = iota
	CategoryRoyalty
	CategoryOrigin
	CategoryPayout
)

func (c Category) String() string {
	switch c {
	case CategoryProtocol:
		return "PROTOCOL"
	case CategoryRoyalty:
		return "ROYALTY"
	case CategoryOrigin:
		return "ORIGIN"
	case CategoryPayout:
		return "PAYOUT"
	}
	return fmt.Sprintf("Category(%d)", int(c))
}

func (c Category) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Category) UnmarshalText(b []byte) error {
	for _, k := range []Category{CategoryProtocol, CategoryRoyalty, CategoryOrigin, CategoryPayout} {
		if k.String() == string(b) {
			*c = k
			return nil
		}
	}
	return fmt.Errorf("unknown fee category %q", b)
}

// Config is fixed per exchange instance
type Config struct {
	ProtocolBps uint16
	Receiver    common.Address
	MaxFeeBps   uint16 // ceiling for protocol + royalties + origin fees
}

// Disbursement is one slice of a leg's value
type Disbursement struct {
	Category Category
	To       common.Address
	Amount   *big.Int
	InNative bool // protocol fee settled in native currency via unwrap
}

// Leg describes value moving from one order's maker to the other side
type Leg struct {
	Total       *big.Int
	Counter     order.AssetType // asset moving the other way; royalties come from it if it is an NFT
	Beneficiary common.Address  // receiving maker, paid when Payouts is empty
	Payouts     []order.Part    // receiving order's payout split
	Origins     []order.Part    // origin fees of both orders, left first
	// NativeProtocolFee marks a wrapped-native leg paid by the maker: the
	// protocol fee is converted to native currency.
	NativeProtocolFee bool
}

// Calculator splits leg values into the fee waterfall
type Calculator struct {
	cfg       Config
	royalties royalty.Provider
}

// NewCalculator validates the config. royalties may be nil, in which case
// only royalties embedded in the NFT asset data are paid.
func NewCalculator(cfg Config, royalties royalty.Provider) (*Calculator, error) {
	if cfg.MaxFeeBps > order.BpsDenominator {
		return nil, fmt.Errorf("%w: max fee %d bps", ErrInvalidConfig, cfg.MaxFeeBps)
	}
	if cfg.ProtocolBps > cfg.MaxFeeBps {
		return nil, fmt.Errorf("%w: protocol fee %d bps above ceiling %d", ErrInvalidConfig, cfg.ProtocolBps, cfg.MaxFeeBps)
	}
	if cfg.ProtocolBps > 0 && cfg.Receiver == (common.Address{}) {
		return nil, fmt.Errorf("%w: protocol fee without receiver", ErrInvalidConfig)
	}
	return &Calculator{cfg: cfg, royalties: royalties}, nil
}

func (c *Calculator) Config() Config { return c.cfg }

// WithFees splits the fee leg: protocol, royalties, origin fees, then payouts.
// Amounts sum to leg.Total exactly; zero amounts are left out.
func (c *Calculator) WithFees(leg Leg) ([]Disbursement, error) {
	royalties, err := c.royaltiesFor(leg.Counter)
	if err != nil {
		return nil, err
	}

	total := uint64(c.cfg.ProtocolBps) + order.SumBps(royalties) + order.SumBps(leg.Origins)
	if total > uint64(c.cfg.MaxFeeBps) {
		return nil, fmt.Errorf("%w: %d bps > %d bps", ErrFeeCeilingExceeded, total, c.cfg.MaxFeeBps)
	}
	if err := validatePayouts(leg.Payouts); err != nil {
		return nil, err
	}

	var out []Disbursement
	rest := new(big.Int).Set(leg.Total)
	take := func(cat Category, to common.Address, bps uint16, native bool) {
		amount := bpsOf(leg.Total, bps)
		if amount.Sign() == 0 {
			return
		}
		rest.Sub(rest, amount)
		out = append(out, Disbursement{Category: cat, To: to, Amount: amount, InNative: native})
	}

	take(CategoryProtocol, c.cfg.Receiver, c.cfg.ProtocolBps, leg.NativeProtocolFee)
	for _, r := range royalties {
		take(CategoryRoyalty, r.Account, r.Value, false)
	}
	for _, o := range leg.Origins {
		take(CategoryOrigin, o.Account, o.Value, false)
	}

	return append(out, payouts(rest, leg.Beneficiary, leg.Payouts)...), nil
}

// PayoutsOnly splits the non-fee leg among the receiving order's payouts
func (c *Calculator) PayoutsOnly(leg Leg) ([]Disbursement, error) {
	if err := validatePayouts(leg.Payouts); err != nil {
		return nil, err
	}
	return payouts(new(big.Int).Set(leg.Total), leg.Beneficiary, leg.Payouts), nil
}

// payouts gives every recipient but the last floor(rest * bps / 10000); the
// last one receives what is left so the split is exact. With indivisible
// units and a skewed split, early recipients can end up with nothing.
func payouts(rest *big.Int, beneficiary common.Address, parts []order.Part) []Disbursement {
	if rest.Sign() == 0 {
		return nil
	}
	if len(parts) == 0 {
		return []Disbursement{{Category: CategoryPayout, To: beneficiary, Amount: rest}}
	}

	var out []Disbursement
	left := new(big.Int).Set(rest)
	for i, p := range parts {
		amount := bpsOf(rest, p.Value)
		if i == len(parts)-1 {
			amount = left
		}
		if amount.Sign() == 0 {
			continue
		}
		left = new(big.Int).Sub(left, amount)
		out = append(out, Disbursement{Category: CategoryPayout, To: p.Account, Amount: amount})
	}
	return out
}

func validatePayouts(parts []order.Part) error {
	if len(parts) == 0 {
		return nil
	}
	if sum := order.SumBps(parts); sum != order.BpsDenominator {
		return fmt.Errorf("%w: got %d", ErrInvalidPayouts, sum)
	}
	return nil
}

func (c *Calculator) royaltiesFor(counter order.AssetType) ([]order.Part, error) {
	if !counter.Class.IsNFT() {
		return nil, nil
	}
	ref, err := order.DecodeAssetData(counter)
	if err != nil {
		return nil, err
	}
	if len(ref.Royalties) > 0 {
		return ref.Royalties, nil
	}
	if c.royalties == nil {
		return nil, nil
	}
	parts, err := c.royalties.Royalties(ref.Token, ref.TokenID)
	if err != nil {
		return nil, fmt.Errorf("royalty lookup: %w", err)
	}
	return parts, nil
}

func bpsOf(v *big.Int, bps uint16) *big.Int {
	out := new(big.Int).Mul(v, big.NewInt(int64(bps)))
	return out.Quo(out, big.NewInt(order.BpsDenominator))
}

// Sum adds up disbursement amounts
func Sum(ds []Disbursement) *big.Int {
	total := new(big.Int)
	for _, d := range ds {
		total.Add(total, d.Amount)
	}
	return total
}

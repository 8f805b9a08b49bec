package vault

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperswap/pkg/exchange/order"
	"github.com/uhyunpark/hyperswap/pkg/exchange/transfer"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrNFTValue            = errors.New("single NFT transfers must move exactly one unit")
)

// Holding is one asset balance of an account
type Holding struct {
	Asset   order.AssetType
	Balance *big.Int
}

// Vault is an in-memory multi-asset balance book. It implements the transfer
// handlers for every built-in asset class plus the wrapped-native unwrap
// capability, so a node can settle matches without an external chain.
type Vault struct {
	mu       sync.RWMutex
	balances map[string]map[common.Address]*big.Int // asset key -> owner -> balance
	assets   map[string]order.AssetType
	log      *zap.SugaredLogger
}

func New(log *zap.SugaredLogger) *Vault {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Vault{
		balances: make(map[string]map[common.Address]*big.Int),
		assets:   make(map[string]order.AssetType),
		log:      log,
	}
}

// assetKey identifies an asset independent of embedded royalty data:
// class + token (+ token id for NFTs).
func assetKey(t order.AssetType) (string, error) {
	if t.Class.Custom() {
		return t.Class.Hex() + ":" + hexutil.Encode(t.Data), nil
	}
	ref, err := order.DecodeAssetData(t)
	if err != nil {
		return "", err
	}
	key := t.Class.Hex() + ":" + ref.Token.Hex()
	if ref.TokenID != nil {
		key += ":" + ref.TokenID.String()
	}
	return key, nil
}

// Mint credits amount of t to owner. Used for devnet funding and tests.
func (v *Vault) Mint(owner common.Address, t order.AssetType, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}
	key, err := assetKey(t)
	if err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.credit(key, t, owner, amount)
	v.log.Debugw("vault_mint", "owner", owner.Hex(), "asset", t.Class.String(), "amount", amount.String())
	return nil
}

// Balance returns owner's balance of t
func (v *Vault) Balance(owner common.Address, t order.AssetType) *big.Int {
	key, err := assetKey(t)
	if err != nil {
		return new(big.Int)
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	if b, ok := v.balances[key][owner]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// Holdings lists owner's non-zero balances sorted by asset key
func (v *Vault) Holdings(owner common.Address) []Holding {
	v.mu.RLock()
	defer v.mu.RUnlock()

	keys := make([]string, 0, len(v.balances))
	for key, owners := range v.balances {
		if b, ok := owners[owner]; ok && b.Sign() > 0 {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	out := make([]Holding, 0, len(keys))
	for _, key := range keys {
		out = append(out, Holding{Asset: v.assets[key], Balance: new(big.Int).Set(v.balances[key][owner])})
	}
	return out
}

// Transfer implements transfer.Handler for every class the vault knows
func (v *Vault) Transfer(_ context.Context, t transfer.Transfer) error {
	if t.Value == nil || t.Value.Sign() <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, t.Value)
	}
	if t.Asset.Class == order.ClassERC721 && t.Value.Cmp(big.NewInt(1)) != 0 {
		return fmt.Errorf("%w: got %s", ErrNFTValue, t.Value)
	}
	key, err := assetKey(t.Asset)
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.debit(key, t.From, t.Value); err != nil {
		return err
	}
	v.credit(key, t.Asset, t.To, t.Value)
	return nil
}

// Unwrap burns wrapped tokens held by holder and credits native currency
func (v *Vault) Unwrap(_ context.Context, token, holder common.Address, amount *big.Int) error {
	return v.convert(order.Token(order.ClassWrapped, token), order.Native(), holder, amount)
}

// Wrap is the inverse of Unwrap
func (v *Vault) Wrap(_ context.Context, token, holder common.Address, amount *big.Int) error {
	return v.convert(order.Native(), order.Token(order.ClassWrapped, token), holder, amount)
}

func (v *Vault) convert(from, to order.AssetType, holder common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}
	fromKey, _ := assetKey(from)
	toKey, _ := assetKey(to)

	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.debit(fromKey, holder, amount); err != nil {
		return err
	}
	v.credit(toKey, to, holder, amount)
	return nil
}

// RegisterHandlers installs the vault as handler for all built-in classes
// and as the unwrap capability.
func (v *Vault) RegisterHandlers(r *transfer.Router) {
	for _, c := range []order.AssetClass{
		order.ClassNative, order.ClassWrapped, order.ClassERC20, order.ClassERC721, order.ClassERC1155,
	} {
		r.Register(c, v)
	}
	r.SetUnwrapper(v)
}

func (v *Vault) debit(key string, owner common.Address, amount *big.Int) error {
	bal := v.balances[key][owner]
	if bal == nil || bal.Cmp(amount) < 0 {
		have := "0"
		if bal != nil {
			have = bal.String()
		}
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, owner.Hex(), have, amount)
	}
	bal.Sub(bal, amount)
	return nil
}

func (v *Vault) credit(key string, t order.AssetType, owner common.Address, amount *big.Int) {
	owners, ok := v.balances[key]
	if !ok {
		owners = make(map[common.Address]*big.Int)
		v.balances[key] = owners
		v.assets[key] = order.AssetType{Class: t.Class, Data: append([]byte(nil), t.Data...)}
	}
	bal, ok := owners[owner]
	if !ok {
		bal = new(big.Int)
		owners[owner] = bal
	}
	bal.Add(bal, amount)
}

package auth

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/uhyunpark/hyperswap/pkg/crypto"
	"github.com/uhyunpark/hyperswap/pkg/exchange/order"
	"github.com/uhyunpark/hyperswap/pkg/util"
)

var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrAllowanceExpired = errors.New("match allowance expired")
	ErrAllowanceInvalid = errors.New("match allowance invalid")
)

// AllowanceTypes is the EIP-712 schema of a relayer match allowance
var AllowanceTypes = apitypes.Types{
	"MatchAllowance": []apitypes.Type{
		{Name: "orderKey", Type: "bytes32"},
		{Name: "expiry", Type: "uint256"},
	},
}

// Evidence is what a submitter supplies to prove an order may be matched
type Evidence struct {
	Signature          []byte // maker signature over the order digest
	AllowanceExpiry    uint64 // unix seconds
	AllowanceSignature []byte // relayer signature over the allowance digest
}

// Strategy authorizes one order for one match attempt
type Strategy interface {
	Name() string
	Authorize(o *order.Order, key common.Hash) error
}

// SelfAuthorized applies when the caller is the order's own maker
type SelfAuthorized struct{}

func (SelfAuthorized) Name() string { return "self" }

func (SelfAuthorized) Authorize(*order.Order, common.Hash) error { return nil }

// SignatureAuthorized checks the maker's signature over the order digest
type SignatureAuthorized struct {
	hasher    *order.Hasher
	signature []byte
}

func (SignatureAuthorized) Name() string { return "signature" }

func (s SignatureAuthorized) Authorize(o *order.Order, key common.Hash) error {
	digest, err := s.hasher.Digest(key)
	if err != nil {
		return err
	}
	signer, err := crypto.RecoverAddress(digest, s.signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if signer != o.Maker {
		return fmt.Errorf("%w: recovered %s, maker %s", ErrInvalidSignature, signer.Hex(), o.Maker.Hex())
	}
	return nil
}

// AllowanceAuthorized checks a relayer-signed, time-bounded match allowance
type AllowanceAuthorized struct {
	domain    crypto.Domain
	relayer   common.Address
	expiry    uint64
	signature []byte
	now       time.Time
}

func (AllowanceAuthorized) Name() string { return "allowance" }

func (a AllowanceAuthorized) Authorize(_ *order.Order, key common.Hash) error {
	if a.expiry <= uint64(a.now.Unix()) {
		return fmt.Errorf("%w: expiry %d, now %d", ErrAllowanceExpired, a.expiry, a.now.Unix())
	}
	if a.relayer == (common.Address{}) {
		return fmt.Errorf("%w: no relayer authority configured", ErrAllowanceInvalid)
	}
	digest, err := AllowanceDigest(a.domain, key, a.expiry)
	if err != nil {
		return err
	}
	signer, err := crypto.RecoverAddress(digest, a.signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAllowanceInvalid, err)
	}
	if signer != a.relayer {
		return fmt.Errorf("%w: signed by %s", ErrAllowanceInvalid, signer.Hex())
	}
	return nil
}

// AllowanceDigest is the value the relayer signs for (orderKey, expiry)
func AllowanceDigest(domain crypto.Domain, orderKey common.Hash, expiry uint64) (common.Hash, error) {
	msg := apitypes.TypedDataMessage{
		"orderKey": orderKey.Hex(),
		"expiry":   new(big.Int).SetUint64(expiry).String(),
	}
	structHash, err := domain.HashStruct(AllowanceTypes, "MatchAllowance", msg)
	if err != nil {
		return common.Hash{}, err
	}
	return domain.Digest(structHash)
}

// SignAllowance is used by relayer tooling to grant an allowance for one order
func SignAllowance(domain crypto.Domain, relayer *crypto.Signer, orderKey common.Hash, expiry uint64) ([]byte, error) {
	digest, err := AllowanceDigest(domain, orderKey, expiry)
	if err != nil {
		return nil, err
	}
	return relayer.Sign(digest)
}

// Validator selects and runs the authorization strategy for an order
type Validator struct {
	hasher  *order.Hasher
	relayer common.Address
	clock   util.Clock
}

func NewValidator(hasher *order.Hasher, relayer common.Address, clock util.Clock) *Validator {
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Validator{hasher: hasher, relayer: relayer, clock: clock}
}

// Relayer returns the trusted allowance authority
func (v *Validator) Relayer() common.Address { return v.relayer }

// Now is the validator's view of the current time
func (v *Validator) Now() time.Time { return v.clock.Now() }

// Select picks the strategy for o submitted by caller. Precedence: the caller
// is the maker, then a maker signature, then a relayer allowance. The zero
// address never counts as a maker acting for itself.
func (v *Validator) Select(o *order.Order, caller common.Address, ev Evidence) (Strategy, error) {
	switch {
	case caller != (common.Address{}) && caller == o.Maker:
		return SelfAuthorized{}, nil
	case o.IsOneShot():
		return nil, fmt.Errorf("%w: maker is not caller", ErrInvalidSignature)
	case len(ev.Signature) > 0:
		return SignatureAuthorized{hasher: v.hasher, signature: ev.Signature}, nil
	case len(ev.AllowanceSignature) > 0:
		return v.allowance(ev), nil
	default:
		return nil, fmt.Errorf("%w: no signature or allowance for maker %s", ErrInvalidSignature, o.Maker.Hex())
	}
}

func (v *Validator) allowance(ev Evidence) AllowanceAuthorized {
	return AllowanceAuthorized{
		domain:    v.hasher.Domain(),
		relayer:   v.relayer,
		expiry:    ev.AllowanceExpiry,
		signature: ev.AllowanceSignature,
		now:       v.clock.Now(),
	}
}

// Authorize selects a strategy and evaluates it against the order key. A
// signature that fails to verify falls back to an allowance supplied with it.
func (v *Validator) Authorize(o *order.Order, key common.Hash, caller common.Address, ev Evidence) (Strategy, error) {
	s, err := v.Select(o, caller, ev)
	if err != nil {
		return nil, err
	}
	sigErr := s.Authorize(o, key)
	if sigErr == nil {
		return s, nil
	}
	if _, ok := s.(SignatureAuthorized); !ok || len(ev.AllowanceSignature) == 0 {
		return nil, sigErr
	}
	a := v.allowance(ev)
	if err := a.Authorize(o, key); err != nil {
		return nil, fmt.Errorf("%w (signature: %v)", err, sigErr)
	}
	return a, nil
}

package auth

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/uhyunpark/hyperswap/pkg/crypto"
)

var ErrCallerUnauthenticated = errors.New("caller not authenticated")

// MaxCallWindow bounds how far in the future a call signature may expire
const MaxCallWindow = time.Hour

// CallTypes is the EIP-712 schema a caller signs to submit one match. It
// binds both order keys and the forwarded native value.
var CallTypes = apitypes.Types{
	"MatchCall": []apitypes.Type{
		{Name: "leftKey", Type: "bytes32"},
		{Name: "rightKey", Type: "bytes32"},
		{Name: "value", Type: "uint256"},
		{Name: "expiry", Type: "uint256"},
	},
}

// Call is a match submission as the caller signed it
type Call struct {
	Caller    common.Address
	LeftKey   common.Hash
	RightKey  common.Hash
	Value     *big.Int
	Expiry    uint64
	Signature []byte
}

// CallDigest is the value a caller signs for one submission
func CallDigest(domain crypto.Domain, leftKey, rightKey common.Hash, value *big.Int, expiry uint64) (common.Hash, error) {
	if value == nil {
		value = new(big.Int)
	}
	msg := apitypes.TypedDataMessage{
		"leftKey":  leftKey.Hex(),
		"rightKey": rightKey.Hex(),
		"value":    value.String(),
		"expiry":   new(big.Int).SetUint64(expiry).String(),
	}
	structHash, err := domain.HashStruct(CallTypes, "MatchCall", msg)
	if err != nil {
		return common.Hash{}, err
	}
	return domain.Digest(structHash)
}

// SignCall signs a submission on behalf of caller
func SignCall(domain crypto.Domain, caller *crypto.Signer, leftKey, rightKey common.Hash, value *big.Int, expiry uint64) ([]byte, error) {
	digest, err := CallDigest(domain, leftKey, rightKey, value, expiry)
	if err != nil {
		return nil, err
	}
	return caller.Sign(digest)
}

// AuthenticateCall checks that c.Caller signed this exact submission and that
// the signature is still live. It returns the signed digest.
func (v *Validator) AuthenticateCall(c Call) (common.Hash, error) {
	now := v.clock.Now()
	if c.Caller == (common.Address{}) {
		return common.Hash{}, fmt.Errorf("%w: no caller", ErrCallerUnauthenticated)
	}
	if c.Expiry <= uint64(now.Unix()) {
		return common.Hash{}, fmt.Errorf("%w: expired at %d, now %d", ErrCallerUnauthenticated, c.Expiry, now.Unix())
	}
	if c.Expiry > uint64(now.Add(MaxCallWindow).Unix()) {
		return common.Hash{}, fmt.Errorf("%w: expiry %d beyond %s", ErrCallerUnauthenticated, c.Expiry, MaxCallWindow)
	}
	digest, err := CallDigest(v.hasher.Domain(), c.LeftKey, c.RightKey, c.Value, c.Expiry)
	if err != nil {
		return common.Hash{}, err
	}
	signer, err := crypto.RecoverAddress(digest, c.Signature)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %v", ErrCallerUnauthenticated, err)
	}
	if signer != c.Caller {
		return common.Hash{}, fmt.Errorf("%w: signed by %s, caller %s", ErrCallerUnauthenticated, signer.Hex(), c.Caller.Hex())
	}
	return digest, nil
}

// CallLog remembers accepted call digests until they expire so a signed
// submission is used at most once
type CallLog struct {
	mu   sync.Mutex
	seen map[common.Hash]uint64
}

func NewCallLog() *CallLog {
	return &CallLog{seen: make(map[common.Hash]uint64)}
}

// Use records digest, failing if it was already used
func (l *CallLog) Use(digest common.Hash, expiry uint64, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := uint64(now.Unix())
	for d, exp := range l.seen {
		if exp <= ts {
			delete(l.seen, d)
		}
	}
	if _, ok := l.seen[digest]; ok {
		return fmt.Errorf("%w: call already submitted", ErrCallerUnauthenticated)
	}
	l.seen[digest] = expiry
	return nil
}

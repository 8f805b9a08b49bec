package royalty

import (
	"fmt"
	"math/big"
	"os"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/uhyunpark/hyperswap/pkg/exchange/order"
)

// Provider looks up royalty recipients for one NFT
type Provider interface {
	Royalties(token common.Address, tokenID *big.Int) ([]order.Part, error)
}

// Registry is an in-memory Provider. Royalties can be set per token id or
// for a whole collection; a token-id entry wins over the collection entry.
type Registry struct {
	mu         sync.RWMutex
	byToken    map[common.Address]map[string][]order.Part
	collection map[common.Address][]order.Part
}

func NewRegistry() *Registry {
	return &Registry{
		byToken:    make(map[common.Address]map[string][]order.Part),
		collection: make(map[common.Address][]order.Part),
	}
}

// SetCollection sets royalties for every token of a contract
func (r *Registry) SetCollection(token common.Address, parts []order.Part) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.collection[token] = append([]order.Part(nil), parts...)
}

// SetToken sets royalties for one token id
func (r *Registry) SetToken(token common.Address, tokenID *big.Int, parts []order.Part) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids, ok := r.byToken[token]
	if !ok {
		ids = make(map[string][]order.Part)
		r.byToken[token] = ids
	}
	ids[tokenID.String()] = append([]order.Part(nil), parts...)
}

func (r *Registry) Royalties(token common.Address, tokenID *big.Int) ([]order.Part, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if tokenID != nil {
		if parts, ok := r.byToken[token][tokenID.String()]; ok {
			return append([]order.Part(nil), parts...), nil
		}
	}
	return append([]order.Part(nil), r.collection[token]...), nil
}

// ============================================================================
// YAML seed file
// ============================================================================

// File is the on-disk registry seed:
//
//	royalties:
//	  - token: "0x..."
//	    token_id: "7"        # omit for the whole collection
//	    recipients:
//	      - account: "0x..."
//	        bps: 250
type File struct {
	Royalties []Entry `yaml:"royalties"`
}

type Entry struct {
	Token      string      `yaml:"token"`
	TokenID    string      `yaml:"token_id"`
	Recipients []Recipient `yaml:"recipients"`
}

type Recipient struct {
	Account string `yaml:"account"`
	Bps     uint16 `yaml:"bps"`
}

// LoadFile reads a YAML seed file into a new registry
func LoadFile(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read royalty file: %w", err)
	}
	return Parse(raw)
}

// Parse builds a registry from YAML bytes
func Parse(raw []byte) (*Registry, error) {
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse royalty file: %w", err)
	}

	reg := NewRegistry()
	for i, e := range f.Royalties {
		if !common.IsHexAddress(e.Token) {
			return nil, fmt.Errorf("entry %d: invalid token %q", i, e.Token)
		}
		parts := make([]order.Part, 0, len(e.Recipients))
		for _, rc := range e.Recipients {
			if !common.IsHexAddress(rc.Account) {
				return nil, fmt.Errorf("entry %d: invalid account %q", i, rc.Account)
			}
			if rc.Bps > order.BpsDenominator {
				return nil, fmt.Errorf("entry %d: bps %d exceeds 10000", i, rc.Bps)
			}
			parts = append(parts, order.Part{Account: common.HexToAddress(rc.Account), Value: rc.Bps})
		}

		token := common.HexToAddress(e.Token)
		if e.TokenID == "" {
			reg.SetCollection(token, parts)
			continue
		}
		id, ok := new(big.Int).SetString(e.TokenID, 10)
		if !ok {
			return nil, fmt.Errorf("entry %d: invalid token_id %q", i, e.TokenID)
		}
		reg.SetToken(token, id, parts)
	}
	return reg, nil
}

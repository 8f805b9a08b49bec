package order

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/uhyunpark/hyperswap/pkg/crypto"
)

// Types is the EIP-712 schema external signers use for orders
var Types = apitypes.Types{
	"AssetType": []apitypes.Type{
		{Name: "assetClass", Type: "bytes4"},
		{Name: "data", Type: "bytes"},
	},
	"Asset": []apitypes.Type{
		{Name: "assetType", Type: "AssetType"},
		{Name: "value", Type: "uint256"},
	},
	"Order": []apitypes.Type{
		{Name: "maker", Type: "address"},
		{Name: "makeAsset", Type: "Asset"},
		{Name: "taker", Type: "address"},
		{Name: "takeAsset", Type: "Asset"},
		{Name: "salt", Type: "uint256"},
		{Name: "start", Type: "uint256"},
		{Name: "end", Type: "uint256"},
		{Name: "dataType", Type: "bytes4"},
		{Name: "data", Type: "bytes"},
	},
}

// Message renders the order as an EIP-712 message. Big integers are
// normalised to decimal strings and bytes to 0x-hex, so two orders that are
// equal field by field always produce the same message.
func (o *Order) Message() apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"maker":     o.Maker.Hex(),
		"makeAsset": assetMessage(o.MakeAsset),
		"taker":     o.Taker.Hex(),
		"takeAsset": assetMessage(o.TakeAsset),
		"salt":      cloneInt(o.Salt).String(),
		"start":     strconv.FormatUint(o.Start, 10),
		"end":       strconv.FormatUint(o.End, 10),
		"dataType":  hexutil.Encode(o.DataType[:]),
		"data":      hexutil.Encode(o.Data),
	}
}

func assetMessage(a Asset) map[string]interface{} {
	return map[string]interface{}{
		"assetType": map[string]interface{}{
			"assetClass": hexutil.Encode(a.Type.Class[:]),
			"data":       hexutil.Encode(a.Type.Data),
		},
		"value": cloneInt(a.Value).String(),
	}
}

// Hasher binds order keys to a signing domain
type Hasher struct {
	domain crypto.Domain
}

func NewHasher(domain crypto.Domain) *Hasher {
	return &Hasher{domain: domain}
}

func (h *Hasher) Domain() crypto.Domain { return h.domain }

// Key returns the order key: hashStruct(Order). It does not depend on the
// domain; it is the fill ledger key and the subject of match allowances.
func (h *Hasher) Key(o *Order) (common.Hash, error) {
	return h.domain.HashStruct(Types, "Order", o.Message())
}

// Digest is what the maker signs: keccak256("\x19\x01" || separator || key)
func (h *Hasher) Digest(key common.Hash) (common.Hash, error) {
	return h.domain.Digest(key)
}

// Sign produces the maker's signature for the order
func (h *Hasher) Sign(signer *crypto.Signer, o *Order) ([]byte, error) {
	key, err := h.Key(o)
	if err != nil {
		return nil, err
	}
	digest, err := h.Digest(key)
	if err != nil {
		return nil, err
	}
	return signer.Sign(digest)
}

// TypedDataJSON is the eth_signTypedData_v4 document for the order
func (h *Hasher) TypedDataJSON(o *Order) (string, error) {
	return h.domain.JSON(Types, "Order", o.Message())
}

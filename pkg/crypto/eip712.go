package crypto

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Domain is the EIP-712 domain separator input.
// It pins signatures to one chain and one settlement contract address.
type Domain struct {
	Name              string         // Protocol name (e.g., "HyperSwap")
	Version           string         // Protocol version (e.g., "2")
	ChainID           *big.Int       // Chain ID (1337 for local, 1 for mainnet)
	VerifyingContract common.Address // Exchange address signers commit to
}

// DefaultDomain returns the devnet EIP-712 domain
func DefaultDomain() Domain {
	return Domain{
		Name:              "HyperSwap",
		Version:           "2",
		ChainID:           big.NewInt(1337),
		VerifyingContract: common.Address{},
	}
}

var domainFields = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

func (d Domain) typed() apitypes.TypedDataDomain {
	return apitypes.TypedDataDomain{
		Name:              d.Name,
		Version:           d.Version,
		ChainId:           (*math.HexOrDecimal256)(d.ChainID),
		VerifyingContract: d.VerifyingContract.Hex(),
	}
}

// TypedData wraps a message and its struct types into a full EIP-712 document
// bound to this domain. The EIP712Domain type is added automatically.
func (d Domain) TypedData(types apitypes.Types, primaryType string, message apitypes.TypedDataMessage) apitypes.TypedData {
	all := apitypes.Types{"EIP712Domain": domainFields}
	for name, fields := range types {
		all[name] = fields
	}
	return apitypes.TypedData{
		Types:       all,
		PrimaryType: primaryType,
		Domain:      d.typed(),
		Message:     message,
	}
}

// Separator returns hashStruct(EIP712Domain)
func (d Domain) Separator() (common.Hash, error) {
	td := d.TypedData(nil, "EIP712Domain", nil)
	sep, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash domain: %w", err)
	}
	return common.BytesToHash(sep), nil
}

// HashStruct computes hashStruct(primaryType, message) for the given types.
func (d Domain) HashStruct(types apitypes.Types, primaryType string, message apitypes.TypedDataMessage) (common.Hash, error) {
	td := d.TypedData(types, primaryType, message)
	h, err := td.HashStruct(primaryType, message)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash %s: %w", primaryType, err)
	}
	return common.BytesToHash(h), nil
}

// Digest returns the value a wallet signs for a struct hash in this domain:
// keccak256("\x19\x01" || domainSeparator || structHash)
func (d Domain) Digest(structHash common.Hash) (common.Hash, error) {
	sep, err := d.Separator()
	if err != nil {
		return common.Hash{}, err
	}
	raw := make([]byte, 0, 66)
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, sep.Bytes()...)
	raw = append(raw, structHash.Bytes()...)
	return crypto.Keccak256Hash(raw), nil
}

// JSON renders the typed data document in the eth_signTypedData_v4 format so
// a wallet can sign it.
func (d Domain) JSON(types apitypes.Types, primaryType string, message apitypes.TypedDataMessage) (string, error) {
	td := d.TypedData(types, primaryType, message)
	out, err := json.MarshalIndent(td, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(out), nil
}

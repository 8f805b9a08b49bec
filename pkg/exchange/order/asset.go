package order

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// AssetClass identifies how an asset moves: bytes4(keccak256(name))
type AssetClass [4]byte

var (
	ClassNative  = classID("ETH")     // network native currency
	ClassWrapped = classID("WETH")    // wrapped native token
	ClassERC20   = classID("ERC20")   // fungible token
	ClassERC721  = classID("ERC721")  // single non-fungible token
	ClassERC1155 = classID("ERC1155") // multi non-fungible token
)

var classNames = map[AssetClass]string{
	ClassNative:  "ETH",
	ClassWrapped: "WETH",
	ClassERC20:   "ERC20",
	ClassERC721:  "ERC721",
	ClassERC1155: "ERC1155",
}

func classID(name string) AssetClass {
	var c AssetClass
	copy(c[:], crypto.Keccak256([]byte(name))[:4])
	return c
}

// CustomClass derives the identifier for an asset class this package does
// not know about. Such assets settle only if a transfer handler is registered.
func CustomClass(name string) AssetClass { return classID(name) }

// ClassFromName maps "ERC20", "ETH", ... to the class id
func ClassFromName(name string) (AssetClass, bool) {
	for c, n := range classNames {
		if n == name {
			return c, true
		}
	}
	return AssetClass{}, false
}

// ParseClass accepts a built-in class name or a 0x-prefixed 4 byte id
func ParseClass(s string) (AssetClass, error) {
	if c, ok := ClassFromName(s); ok {
		return c, nil
	}
	raw, err := decode4(s)
	if err != nil {
		return AssetClass{}, fmt.Errorf("invalid class %q", s)
	}
	return AssetClass(raw), nil
}

func (c AssetClass) String() string {
	if n, ok := classNames[c]; ok {
		return n
	}
	return hexutil.Encode(c[:])
}

// Hex returns the 0x-prefixed 4 byte id
func (c AssetClass) Hex() string { return hexutil.Encode(c[:]) }

// IsNFT reports single or multi non-fungible classes
func (c AssetClass) IsNFT() bool { return c == ClassERC721 || c == ClassERC1155 }

// Custom reports whether the class is outside the built-in set
func (c AssetClass) Custom() bool {
	_, ok := classNames[c]
	return !ok
}

var (
	ErrAssetData       = errors.New("malformed asset data")
	ErrAssetDataLength = errors.New("asset data does not match asset class")
)

// AssetType is a class plus its ABI-encoded reference (token contract, token id)
type AssetType struct {
	Class AssetClass
	Data  []byte
}

// Equal compares class and encoded reference byte-for-byte
func (t AssetType) Equal(o AssetType) bool {
	return t.Class == o.Class && bytes.Equal(t.Data, o.Data)
}

// Asset is an amount of one asset type. Values are base units for fungible
// classes and unit counts for NFT classes.
type Asset struct {
	Type  AssetType
	Value *big.Int
}

// NewAsset copies value so later mutation by the caller cannot leak in.
func NewAsset(t AssetType, value *big.Int) Asset {
	return Asset{Type: AssetType{Class: t.Class, Data: append([]byte(nil), t.Data...)}, Value: cloneInt(value)}
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// ============================================================================
// Asset data codecs
// ============================================================================

var (
	tAddress, _ = abi.NewType("address", "", nil)
	tUint256, _ = abi.NewType("uint256", "", nil)
	tParts, _   = abi.NewType("tuple[]", "", []abi.ArgumentMarshaling{
		{Name: "account", Type: "address"},
		{Name: "value", Type: "uint96"},
	})

	tokenArgs        = abi.Arguments{{Type: tAddress}}
	nftArgs          = abi.Arguments{{Type: tAddress}, {Type: tUint256}}
	nftRoyaltiesArgs = abi.Arguments{{Type: tAddress}, {Type: tUint256}, {Type: tParts}}
)

// Native returns the native currency asset type (no reference data)
func Native() AssetType { return AssetType{Class: ClassNative} }

// Token returns a fungible asset type (ERC20 or the wrapped native token)
func Token(class AssetClass, token common.Address) AssetType {
	data, _ := tokenArgs.Pack(token)
	return AssetType{Class: class, Data: data}
}

// NFT returns a single or multi NFT asset type, optionally carrying the
// token's own royalty list.
func NFT(class AssetClass, token common.Address, tokenID *big.Int, royalties ...Part) (AssetType, error) {
	var (
		data []byte
		err  error
	)
	if len(royalties) == 0 {
		data, err = nftArgs.Pack(token, cloneInt(tokenID))
	} else {
		data, err = nftRoyaltiesArgs.Pack(token, cloneInt(tokenID), toABIParts(royalties))
	}
	if err != nil {
		return AssetType{}, fmt.Errorf("encode nft asset data: %w", err)
	}
	return AssetType{Class: class, Data: data}, nil
}

// AssetRef is the decoded form of AssetType.Data
type AssetRef struct {
	Token     common.Address
	TokenID   *big.Int // nil for fungible classes
	Royalties []Part   // embedded royalties, NFT classes only
}

// DecodeAssetData decodes the reference for the built-in classes. Custom
// classes return an empty ref; their data is opaque to the core.
func DecodeAssetData(t AssetType) (AssetRef, error) {
	switch t.Class {
	case ClassNative:
		if len(t.Data) != 0 {
			return AssetRef{}, fmt.Errorf("%w: native asset carries %d bytes", ErrAssetDataLength, len(t.Data))
		}
		return AssetRef{}, nil

	case ClassWrapped, ClassERC20:
		if len(t.Data) != 32 {
			return AssetRef{}, fmt.Errorf("%w: %s wants 32 bytes, got %d", ErrAssetDataLength, t.Class, len(t.Data))
		}
		out, err := tokenArgs.Unpack(t.Data)
		if err != nil {
			return AssetRef{}, fmt.Errorf("%w: %v", ErrAssetData, err)
		}
		return AssetRef{Token: out[0].(common.Address)}, nil

	case ClassERC721, ClassERC1155:
		if len(t.Data) == 64 {
			out, err := nftArgs.Unpack(t.Data)
			if err != nil {
				return AssetRef{}, fmt.Errorf("%w: %v", ErrAssetData, err)
			}
			return AssetRef{Token: out[0].(common.Address), TokenID: out[1].(*big.Int)}, nil
		}
		out, err := nftRoyaltiesArgs.Unpack(t.Data)
		if err != nil {
			return AssetRef{}, fmt.Errorf("%w: %v", ErrAssetData, err)
		}
		raw := *abi.ConvertType(out[2], new([]abiPart)).(*[]abiPart)
		royalties, err := fromABIParts(raw)
		if err != nil {
			return AssetRef{}, err
		}
		return AssetRef{Token: out[0].(common.Address), TokenID: out[1].(*big.Int), Royalties: royalties}, nil
	}
	return AssetRef{}, nil
}

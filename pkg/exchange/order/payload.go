package order

import (
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// AssetPayload is the JSON wire form of an Asset
type AssetPayload struct {
	Class string `json:"class"` // "ETH", "ERC20", ... or 0x-prefixed 4 byte id
	Data  string `json:"data"`  // 0x-hex ABI encoded reference
	Value string `json:"value"` // BigInt as string
}

// Payload is the JSON wire form of an Order, as clients submit it
type Payload struct {
	Maker     string       `json:"maker"`
	MakeAsset AssetPayload `json:"make_asset"`
	Taker     string       `json:"taker"` // "" or zero address = any taker
	TakeAsset AssetPayload `json:"take_asset"`
	Salt      string       `json:"salt"`  // BigInt as string
	Start     string       `json:"start"` // Unix seconds, "0" = unbounded
	End       string       `json:"end"`   // Unix seconds, "0" = unbounded
	DataType  string       `json:"data_type"`
	Data      string       `json:"data"`
}

// ToOrder parses the payload; malformed fields are rejected here so the
// hashing and settlement code only ever sees well-formed orders.
func (p *Payload) ToOrder() (*Order, error) {
	if !common.IsHexAddress(p.Maker) {
		return nil, fmt.Errorf("invalid maker: %q", p.Maker)
	}
	taker := common.Address{}
	if p.Taker != "" {
		if !common.IsHexAddress(p.Taker) {
			return nil, fmt.Errorf("invalid taker: %q", p.Taker)
		}
		taker = common.HexToAddress(p.Taker)
	}

	makeAsset, err := p.MakeAsset.toAsset()
	if err != nil {
		return nil, fmt.Errorf("make asset: %w", err)
	}
	takeAsset, err := p.TakeAsset.toAsset()
	if err != nil {
		return nil, fmt.Errorf("take asset: %w", err)
	}

	salt, ok := new(big.Int).SetString(orDefault(p.Salt, "0"), 10)
	if !ok || salt.Sign() < 0 {
		return nil, fmt.Errorf("invalid salt: %s", p.Salt)
	}
	start, err := strconv.ParseUint(orDefault(p.Start, "0"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid start: %s", p.Start)
	}
	end, err := strconv.ParseUint(orDefault(p.End, "0"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid end: %s", p.End)
	}

	dataType := DataDefault
	if p.DataType != "" {
		raw, err := decode4(p.DataType)
		if err != nil {
			return nil, fmt.Errorf("invalid data_type: %w", err)
		}
		dataType = DataType(raw)
	}
	data, err := decodeHex(p.Data)
	if err != nil {
		return nil, fmt.Errorf("invalid data: %w", err)
	}

	return &Order{
		Maker:     common.HexToAddress(p.Maker),
		MakeAsset: makeAsset,
		Taker:     taker,
		TakeAsset: takeAsset,
		Salt:      salt,
		Start:     start,
		End:       end,
		DataType:  dataType,
		Data:      data,
	}, nil
}

// FromOrder converts an Order to its wire form
func FromOrder(o *Order) *Payload {
	return &Payload{
		Maker:     o.Maker.Hex(),
		MakeAsset: fromAsset(o.MakeAsset),
		Taker:     o.Taker.Hex(),
		TakeAsset: fromAsset(o.TakeAsset),
		Salt:      cloneInt(o.Salt).String(),
		Start:     strconv.FormatUint(o.Start, 10),
		End:       strconv.FormatUint(o.End, 10),
		DataType:  hexutil.Encode(o.DataType[:]),
		Data:      hexutil.Encode(o.Data),
	}
}

func (a AssetPayload) toAsset() (Asset, error) {
	class, err := ParseClass(a.Class)
	if err != nil {
		return Asset{}, err
	}
	data, err := decodeHex(a.Data)
	if err != nil {
		return Asset{}, fmt.Errorf("invalid asset data: %w", err)
	}
	value, ok := new(big.Int).SetString(a.Value, 10)
	if !ok || value.Sign() < 0 {
		return Asset{}, fmt.Errorf("invalid value: %q", a.Value)
	}
	t := AssetType{Class: class, Data: data}
	if _, err := DecodeAssetData(t); err != nil {
		return Asset{}, err
	}
	return Asset{Type: t, Value: value}, nil
}

func fromAsset(a Asset) AssetPayload {
	return AssetPayload{
		Class: a.Type.Class.String(),
		Data:  hexutil.Encode(a.Type.Data),
		Value: cloneInt(a.Value).String(),
	}
}

func decodeHex(s string) ([]byte, error) {
	if s == "" || s == "0x" {
		return nil, nil
	}
	return hexutil.Decode(s)
}

func decode4(s string) ([4]byte, error) {
	var out [4]byte
	raw, err := hexutil.Decode(s)
	if err != nil {
		return out, err
	}
	if len(raw) != 4 {
		return out, fmt.Errorf("want 4 bytes, got %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

package order

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// BpsDenominator is 100% in basis points
const BpsDenominator = 10000

// Part is a (recipient, basis points) pair used for payouts, origin fees and royalties
type Part struct {
	Account common.Address
	Value   uint16 // basis points
}

// DataType tags how Order.Data is encoded
type DataType [4]byte

var (
	DataDefault = DataType{0xff, 0xff, 0xff, 0xff}
	DataV1      = DataType(classID("V1"))
	DataV2      = DataType(classID("V2"))
)

func (d DataType) String() string {
	switch d {
	case DataDefault:
		return "default"
	case DataV1:
		return "V1"
	case DataV2:
		return "V2"
	}
	return hexutil.Encode(d[:])
}

var (
	ErrUnknownDataType = errors.New("unknown order data type")
	ErrOrderData       = errors.New("malformed order data")
	ErrPartValue       = errors.New("part value exceeds 10000 bps")
)

// Data is the decoded order payload
type Data struct {
	Payouts    []Part
	OriginFees []Part
	IsMakeFill bool // V2 only: fill counts consumed make value instead of received take value
}

type abiPart struct {
	Account common.Address
	Value   *big.Int
}

type abiDataV1 struct {
	Payouts    []abiPart
	OriginFees []abiPart
}

type abiDataV2 struct {
	Payouts    []abiPart
	OriginFees []abiPart
	IsMakeFill bool
}

var (
	partComponents = []abi.ArgumentMarshaling{
		{Name: "account", Type: "address"},
		{Name: "value", Type: "uint96"},
	}
	tDataV1, _ = abi.NewType("tuple", "", []abi.ArgumentMarshaling{
		{Name: "payouts", Type: "tuple[]", Components: partComponents},
		{Name: "originFees", Type: "tuple[]", Components: partComponents},
	})
	tDataV2, _ = abi.NewType("tuple", "", []abi.ArgumentMarshaling{
		{Name: "payouts", Type: "tuple[]", Components: partComponents},
		{Name: "originFees", Type: "tuple[]", Components: partComponents},
		{Name: "isMakeFill", Type: "bool"},
	})
	dataV1Args = abi.Arguments{{Type: tDataV1}}
	dataV2Args = abi.Arguments{{Type: tDataV2}}
)

// DecodeData decodes an order payload by its tag. Unknown tags are rejected.
func DecodeData(dataType DataType, data []byte) (Data, error) {
	switch dataType {
	case DataDefault:
		if len(data) != 0 {
			return Data{}, fmt.Errorf("%w: default data type carries %d bytes", ErrOrderData, len(data))
		}
		return Data{}, nil

	case DataV1:
		out, err := dataV1Args.Unpack(data)
		if err != nil {
			return Data{}, fmt.Errorf("%w: %v", ErrOrderData, err)
		}
		v1 := *abi.ConvertType(out[0], new(abiDataV1)).(*abiDataV1)
		return buildData(v1.Payouts, v1.OriginFees, false)

	case DataV2:
		out, err := dataV2Args.Unpack(data)
		if err != nil {
			return Data{}, fmt.Errorf("%w: %v", ErrOrderData, err)
		}
		v2 := *abi.ConvertType(out[0], new(abiDataV2)).(*abiDataV2)
		return buildData(v2.Payouts, v2.OriginFees, v2.IsMakeFill)
	}
	return Data{}, fmt.Errorf("%w: %s", ErrUnknownDataType, dataType)
}

func buildData(payouts, origins []abiPart, makeFill bool) (Data, error) {
	p, err := fromABIParts(payouts)
	if err != nil {
		return Data{}, err
	}
	o, err := fromABIParts(origins)
	if err != nil {
		return Data{}, err
	}
	return Data{Payouts: p, OriginFees: o, IsMakeFill: makeFill}, nil
}

// EncodeDataV1 encodes payouts and origin fees under the V1 tag
func EncodeDataV1(payouts, originFees []Part) ([]byte, error) {
	data, err := dataV1Args.Pack(abiDataV1{Payouts: toABIParts(payouts), OriginFees: toABIParts(originFees)})
	if err != nil {
		return nil, fmt.Errorf("encode V1 data: %w", err)
	}
	return data, nil
}

// EncodeDataV2 encodes payouts, origin fees and the fill mode under the V2 tag
func EncodeDataV2(payouts, originFees []Part, isMakeFill bool) ([]byte, error) {
	data, err := dataV2Args.Pack(abiDataV2{
		Payouts:    toABIParts(payouts),
		OriginFees: toABIParts(originFees),
		IsMakeFill: isMakeFill,
	})
	if err != nil {
		return nil, fmt.Errorf("encode V2 data: %w", err)
	}
	return data, nil
}

func toABIParts(parts []Part) []abiPart {
	out := make([]abiPart, len(parts))
	for i, p := range parts {
		out[i] = abiPart{Account: p.Account, Value: big.NewInt(int64(p.Value))}
	}
	return out
}

func fromABIParts(raw []abiPart) ([]Part, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]Part, len(raw))
	for i, p := range raw {
		if p.Value == nil || !p.Value.IsUint64() || p.Value.Uint64() > BpsDenominator {
			return nil, fmt.Errorf("%w: %s gets %v", ErrPartValue, p.Account.Hex(), p.Value)
		}
		out[i] = Part{Account: p.Account, Value: uint16(p.Value.Uint64())}
	}
	return out, nil
}

// SumBps adds up part values
func SumBps(parts []Part) uint64 {
	var sum uint64
	for _, p := range parts {
		sum += uint64(p.Value)
	}
	return sum
}

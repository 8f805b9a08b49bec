package order

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperswap/pkg/crypto"
)

var (
	maker   = common.HexToAddress("0x1000000000000000000000000000000000000001")
	token   = common.HexToAddress("0x2000000000000000000000000000000000000002")
	nftAddr = common.HexToAddress("0x3000000000000000000000000000000000000003")
)

func sampleOrder(t *testing.T) *Order {
	t.Helper()
	nft, err := NFT(ClassERC1155, nftAddr, big.NewInt(7))
	if err != nil {
		t.Fatalf("nft: %v", err)
	}
	return &Order{
		Maker:     maker,
		MakeAsset: NewAsset(nft, big.NewInt(10)),
		TakeAsset: NewAsset(Native(), new(big.Int).Mul(big.NewInt(10), big.NewInt(1e18))),
		Salt:      big.NewInt(1),
		DataType:  DataDefault,
	}
}

func TestKeyIsDeterministic(t *testing.T) {
	h := NewHasher(crypto.DefaultDomain())
	o := sampleOrder(t)

	k1, err := h.Key(o)
	if err != nil {
		t.Fatalf("key: %v", err)
	}

	// Same values built differently must hash identically
	same := *o
	same.Salt, _ = new(big.Int).SetString("0001", 10)
	same.Data = []byte{}
	same.TakeAsset = NewAsset(Native(), new(big.Int).Exp(big.NewInt(10), big.NewInt(19), nil))
	k2, err := h.Key(&same)
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	if k1 != k2 {
		t.Errorf("equal orders hash differently: %s vs %s", k1.Hex(), k2.Hex())
	}

	// The key does not depend on the signing domain
	other := crypto.DefaultDomain()
	other.ChainID = big.NewInt(5)
	k3, _ := NewHasher(other).Key(o)
	if k1 != k3 {
		t.Errorf("key depends on domain")
	}
}

func TestKeyCoversEveryField(t *testing.T) {
	h := NewHasher(crypto.DefaultDomain())
	base, _ := h.Key(sampleOrder(t))

	mutations := map[string]func(o *Order){
		"maker":     func(o *Order) { o.Maker = token },
		"taker":     func(o *Order) { o.Taker = token },
		"salt":      func(o *Order) { o.Salt = big.NewInt(2) },
		"start":     func(o *Order) { o.Start = 1 },
		"end":       func(o *Order) { o.End = 1 },
		"data type": func(o *Order) { o.DataType = DataV1 },
		"data":      func(o *Order) { o.Data = []byte{1} },
		"make value": func(o *Order) {
			o.MakeAsset = NewAsset(o.MakeAsset.Type, big.NewInt(11))
		},
		"take class": func(o *Order) {
			o.TakeAsset = NewAsset(Token(ClassWrapped, token), o.TakeAsset.Value)
		},
	}
	for name, mutate := range mutations {
		o := sampleOrder(t)
		mutate(o)
		k, err := h.Key(o)
		if err != nil {
			t.Fatalf("%s: key: %v", name, err)
		}
		if k == base {
			t.Errorf("%s: key unchanged", name)
		}
	}
}

func TestSignedDigestRecoversMaker(t *testing.T) {
	signer, _ := crypto.GenerateKey()
	h := NewHasher(crypto.DefaultDomain())
	o := sampleOrder(t)
	o.Maker = signer.Address()

	sig, err := h.Sign(signer, o)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	key, _ := h.Key(o)
	digest, _ := h.Digest(key)
	got, err := crypto.RecoverAddress(digest, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if got != signer.Address() {
		t.Errorf("recovered %s, want %s", got.Hex(), signer.Address().Hex())
	}
}

func TestDecodeData(t *testing.T) {
	payouts := []Part{{Account: maker, Value: 7500}, {Account: token, Value: 2500}}
	origins := []Part{{Account: nftAddr, Value: 300}}

	v1, err := EncodeDataV1(payouts, origins)
	if err != nil {
		t.Fatalf("encode v1: %v", err)
	}
	d, err := DecodeData(DataV1, v1)
	if err != nil {
		t.Fatalf("decode v1: %v", err)
	}
	if len(d.Payouts) != 2 || d.Payouts[1] != payouts[1] || len(d.OriginFees) != 1 || d.OriginFees[0] != origins[0] {
		t.Errorf("v1 decoded = %+v", d)
	}
	if d.IsMakeFill {
		t.Error("v1 must not be make-fill")
	}

	v2, _ := EncodeDataV2(nil, nil, true)
	d, err = DecodeData(DataV2, v2)
	if err != nil {
		t.Fatalf("decode v2: %v", err)
	}
	if !d.IsMakeFill || len(d.Payouts) != 0 {
		t.Errorf("v2 decoded = %+v", d)
	}

	if _, err := DecodeData(DataType{1, 2, 3, 4}, nil); !errors.Is(err, ErrUnknownDataType) {
		t.Errorf("unknown tag: err = %v", err)
	}
	if _, err := DecodeData(DataV1, []byte{1, 2, 3}); !errors.Is(err, ErrOrderData) {
		t.Errorf("garbage v1: err = %v", err)
	}
	if _, err := DecodeData(DataDefault, []byte{1}); !errors.Is(err, ErrOrderData) {
		t.Errorf("default with payload: err = %v", err)
	}

	tooBig, _ := EncodeDataV1([]Part{{Account: maker, Value: 10001}}, nil)
	if _, err := DecodeData(DataV1, tooBig); !errors.Is(err, ErrPartValue) {
		t.Errorf("oversized part: err = %v", err)
	}
}

func TestAssetData(t *testing.T) {
	ref, err := DecodeAssetData(Token(ClassERC20, token))
	if err != nil || ref.Token != token {
		t.Fatalf("erc20 ref = %+v, err = %v", ref, err)
	}

	plain, _ := NFT(ClassERC721, nftAddr, big.NewInt(42))
	ref, err = DecodeAssetData(plain)
	if err != nil || ref.Token != nftAddr || ref.TokenID.Int64() != 42 || ref.Royalties != nil {
		t.Fatalf("nft ref = %+v, err = %v", ref, err)
	}

	withRoyalty, _ := NFT(ClassERC721, nftAddr, big.NewInt(42), Part{Account: maker, Value: 250})
	ref, err = DecodeAssetData(withRoyalty)
	if err != nil {
		t.Fatalf("nft with royalties: %v", err)
	}
	if len(ref.Royalties) != 1 || ref.Royalties[0].Value != 250 || ref.Royalties[0].Account != maker {
		t.Errorf("royalties = %+v", ref.Royalties)
	}

	if _, err := DecodeAssetData(AssetType{Class: ClassNative, Data: []byte{1}}); !errors.Is(err, ErrAssetDataLength) {
		t.Errorf("native with data: err = %v", err)
	}
	if _, err := DecodeAssetData(AssetType{Class: ClassERC20}); !errors.Is(err, ErrAssetDataLength) {
		t.Errorf("erc20 without data: err = %v", err)
	}

	custom := AssetType{Class: CustomClass("CRYPTO_PUNKS"), Data: []byte{9, 9}}
	if _, err := DecodeAssetData(custom); err != nil {
		t.Errorf("custom class data must be opaque: %v", err)
	}
	if !custom.Class.Custom() || ClassERC20.Custom() {
		t.Error("Custom() misclassifies")
	}
}

func TestValidateWindow(t *testing.T) {
	now := time.Unix(1000, 0)
	tests := []struct {
		name       string
		start, end uint64
		want       error
	}{
		{"unbounded", 0, 0, nil},
		{"open", 999, 1001, nil},
		{"starts now", 1000, 0, ErrOrderNotStarted},
		{"future", 2000, 0, ErrOrderNotStarted},
		{"ends now", 0, 1000, ErrOrderExpired},
		{"past", 0, 10, ErrOrderExpired},
	}
	for _, tt := range tests {
		o := &Order{Start: tt.start, End: tt.end}
		err := o.ValidateWindow(now)
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: err = %v, want %v", tt.name, err, tt.want)
		}
	}
}

func TestPayloadRoundTripKeepsKey(t *testing.T) {
	h := NewHasher(crypto.DefaultDomain())
	o := sampleOrder(t)
	o.DataType = DataV1
	o.Data, _ = EncodeDataV1([]Part{{Account: maker, Value: 10000}}, nil)

	back, err := FromOrder(o).ToOrder()
	if err != nil {
		t.Fatalf("to order: %v", err)
	}
	k1, _ := h.Key(o)
	k2, _ := h.Key(back)
	if k1 != k2 {
		t.Errorf("payload conversion changed the key")
	}
}

func TestPayloadRejectsMalformed(t *testing.T) {
	good := FromOrder(sampleOrder(t))
	tests := map[string]func(p *Payload){
		"maker":     func(p *Payload) { p.Maker = "nope" },
		"taker":     func(p *Payload) { p.Taker = "0x12" },
		"salt":      func(p *Payload) { p.Salt = "-1" },
		"start":     func(p *Payload) { p.Start = "soon" },
		"value":     func(p *Payload) { p.MakeAsset.Value = "1.5" },
		"class":     func(p *Payload) { p.TakeAsset.Class = "DOGE" },
		"data_type": func(p *Payload) { p.DataType = "0x01" },
		"data":      func(p *Payload) { p.Data = "zz" },
		"asset data": func(p *Payload) {
			p.TakeAsset.Data = "0x01"
		},
	}
	for name, mutate := range tests {
		p := *good
		mutate(&p)
		if _, err := p.ToOrder(); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

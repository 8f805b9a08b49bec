package record

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperswap/pkg/exchange/fee"
	"github.com/uhyunpark/hyperswap/pkg/exchange/order"
)

type failingSink struct{}

func (failingSink) Publish(context.Context, Event) error { return errors.New("down") }

func TestFanoutPublishesToAll(t *testing.T) {
	a, b := &Memory{}, &Memory{}
	err := Fanout{a, failingSink{}, b}.Publish(context.Background(), Event{Timestamp: 1})
	if err == nil || !strings.Contains(err.Error(), "sink 1") {
		t.Errorf("err = %v, want sink 1 failure", err)
	}
	if len(a.Events()) != 1 || len(b.Events()) != 1 {
		t.Errorf("events: a=%d b=%d", len(a.Events()), len(b.Events()))
	}
}

func TestTransferJSON(t *testing.T) {
	tr := Transfer{
		AssetClass: order.ClassNative,
		Value:      new(big.Int).Exp(big.NewInt(10), big.NewInt(30), nil),
		From:       common.HexToAddress("0x1"),
		To:         common.HexToAddress("0x2"),
		Direction:  ToTaker,
		Category:   fee.CategoryRoyalty,
	}
	raw, err := json.Marshal(tr)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out map[string]interface{}
	_ = json.Unmarshal(raw, &out)

	if out["asset_class"] != "ETH" || out["direction"] != "TO_TAKER" || out["category"] != "ROYALTY" {
		t.Errorf("json = %s", raw)
	}
	if out["value"] != "1000000000000000000000000000000" {
		t.Errorf("value = %v, want decimal string", out["value"])
	}
	if _, ok := out["asset_data"]; ok {
		t.Errorf("empty asset data should be omitted: %s", raw)
	}
}

func TestTransferDecodesOwnEncoding(t *testing.T) {
	raw := []byte(`{"asset_class":"0xdeadbeef","asset_data":"0x01","value":"7",` +
		`"from":"0x0000000000000000000000000000000000000001","to":"0x0000000000000000000000000000000000000002",` +
		`"direction":"TO_MAKER","category":"ORIGIN"}`)
	var tr Transfer
	if err := json.Unmarshal(raw, &tr); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if tr.AssetClass != (order.AssetClass{0xde, 0xad, 0xbe, 0xef}) || tr.Value.Int64() != 7 || tr.Category != fee.CategoryOrigin {
		t.Errorf("decoded = %+v", tr)
	}

	if err := json.Unmarshal([]byte(`{"asset_class":"ETH","value":"1e3"}`), &tr); err == nil {
		t.Error("expected non-decimal value to be rejected")
	}
}

package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/segmentio/kafka-go"

	"github.com/uhyunpark/hyperswap/pkg/exchange/fee"
	"github.com/uhyunpark/hyperswap/pkg/exchange/order"
	"github.com/uhyunpark/hyperswap/pkg/exchange/record"
)

type captureWriter struct {
	msgs []kafka.Message
	err  error
}

func (c *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, msgs...)
	return nil
}

func (c *captureWriter) Close() error { return nil }

func TestProducerKeysByMakerOrder(t *testing.T) {
	w := &captureWriter{}
	p := &Producer{writer: w}

	ev := record.Event{
		Match: record.Match{
			LeftKey:      common.HexToHash("0x01"),
			RightKey:     common.HexToHash("0x02"),
			NewLeftFill:  big.NewInt(3),
			NewRightFill: big.NewInt(4),
		},
		Transfers: []record.Transfer{
			{AssetClass: order.ClassNative, Value: big.NewInt(1), Category: fee.CategoryProtocol},
			{AssetClass: order.ClassNative, Value: big.NewInt(9), Category: fee.CategoryPayout},
		},
		Timestamp: 1_700_000_000_123,
	}
	if err := p.Publish(context.Background(), ev); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("messages = %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != ev.Match.RightKey.Hex() {
		t.Errorf("key = %s", msg.Key)
	}
	if msg.Time.UnixMilli() != ev.Timestamp {
		t.Errorf("time = %v", msg.Time)
	}
	if len(msg.Headers) != 2 || string(msg.Headers[1].Value) != "2" {
		t.Errorf("headers = %+v", msg.Headers)
	}

	var decoded record.Event
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("value: %v", err)
	}
	if decoded.Match.NewRightFill.Int64() != 4 || decoded.Transfers[1].Category != fee.CategoryPayout {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestProducerPropagatesWriteError(t *testing.T) {
	down := errors.New("broker down")
	p := &Producer{writer: &captureWriter{err: down}}
	if err := p.Publish(context.Background(), record.Event{}); !errors.Is(err, down) {
		t.Errorf("err = %v", err)
	}
}

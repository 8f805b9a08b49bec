package p2p

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/uhyunpark/hyperswap/pkg/exchange/record"
)

const wireVersion = 1

func init() {
	gob.Register(SettlementWire{})
}

// SettlementWire is the gossip envelope of one settled match
type SettlementWire struct {
	Version uint8
	Event   []byte // gob-encoded record.Event
}

func encodeSettlement(ev record.Event) ([]byte, error) {
	eb, err := gobEncode(ev)
	if err != nil {
		return nil, err
	}
	return gobEncode(SettlementWire{Version: wireVersion, Event: eb})
}

func decodeSettlement(b []byte) (record.Event, error) {
	var w SettlementWire
	if err := gobDecode(b, &w); err != nil {
		return record.Event{}, err
	}
	if w.Version != wireVersion {
		return record.Event{}, fmt.Errorf("unsupported wire version %d", w.Version)
	}
	var ev record.Event
	if err := gobDecode(w.Event, &ev); err != nil {
		return record.Event{}, err
	}
	return ev, nil
}

func gobEncode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
func gobDecode(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}

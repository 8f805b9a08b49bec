package storage

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperswap/pkg/exchange/fee"
	"github.com/uhyunpark/hyperswap/pkg/exchange/ledger"
	"github.com/uhyunpark/hyperswap/pkg/exchange/order"
	"github.com/uhyunpark/hyperswap/pkg/exchange/record"
)

func openStore(t *testing.T, dir string) *PebbleStore {
	t.Helper()
	s, err := NewPebbleStore(filepath.Join(dir, "db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return s
}

func TestFillStoreAdvance(t *testing.T) {
	s := openStore(t, t.TempDir())
	t.Cleanup(func() { s.Close() })
	fills := NewFillStore(s)

	a, b := common.HexToHash("0xa"), common.HexToHash("0xb")
	if got, _ := fills.Get(a); got.Sign() != 0 {
		t.Fatalf("unknown key = %s, want 0", got)
	}

	if err := fills.Advance(ledger.Update{Key: a, Amount: big.NewInt(5)}, ledger.Update{Key: b, Amount: big.NewInt(9)}); err != nil {
		t.Fatalf("advance: %v", err)
	}

	// b decreases, so a must not move either
	err := fills.Advance(ledger.Update{Key: a, Amount: big.NewInt(6)}, ledger.Update{Key: b, Amount: big.NewInt(8)})
	if !errors.Is(err, ledger.ErrFillDecrease) {
		t.Fatalf("err = %v, want fill decrease", err)
	}
	if got, _ := fills.Get(a); got.Int64() != 5 {
		t.Errorf("a = %s after rejected batch, want 5", got)
	}
}

func TestFillStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	key := common.HexToHash("0xfeed")
	big1e30 := new(big.Int).Exp(big.NewInt(10), big.NewInt(30), nil)

	s := openStore(t, dir)
	if err := NewFillStore(s).Advance(ledger.Update{Key: key, Amount: big1e30}); err != nil {
		t.Fatalf("advance: %v", err)
	}
	s.Close()

	s = openStore(t, dir)
	t.Cleanup(func() { s.Close() })
	got, err := NewFillStore(s).Get(key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Cmp(big1e30) != 0 {
		t.Errorf("fill = %s, want %s", got, big1e30)
	}
}

func event(left, right common.Hash, ts int64) record.Event {
	return record.Event{
		Match: record.Match{
			LeftKey:      left,
			RightKey:     right,
			NewLeftFill:  big.NewInt(1),
			NewRightFill: big.NewInt(2),
		},
		Transfers: []record.Transfer{{
			AssetClass: order.ClassNative,
			Value:      big.NewInt(100),
			From:       common.HexToAddress("0x1"),
			To:         common.HexToAddress("0x2"),
			Direction:  record.ToTaker,
			Category:   fee.CategoryRoyalty,
		}},
		Timestamp: ts,
	}
}

func TestRecordStoreQueries(t *testing.T) {
	dir := t.TempDir()
	a, b, c := common.HexToHash("0xa"), common.HexToHash("0xb"), common.HexToHash("0xc")
	ctx := context.Background()

	s := openStore(t, dir)
	recs, err := NewRecordStore(s)
	if err != nil {
		t.Fatalf("record store: %v", err)
	}
	for i, ev := range []record.Event{event(a, b, 1), event(c, b, 2)} {
		if err := recs.Publish(ctx, ev); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	s.Close()

	// sequence continues after reopen
	s = openStore(t, dir)
	t.Cleanup(func() { s.Close() })
	recs, err = NewRecordStore(s)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if err := recs.Publish(ctx, event(a, c, 3)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	recent, err := recs.Recent(2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 2 || recent[0].Timestamp != 3 || recent[1].Timestamp != 2 {
		t.Fatalf("recent = %+v", recent)
	}
	tr := recent[0].Transfers[0]
	if tr.Category != fee.CategoryRoyalty || tr.Direction != record.ToTaker || tr.Value.Int64() != 100 {
		t.Errorf("decoded transfer = %+v", tr)
	}

	byB, _ := recs.ByOrder(b, 10)
	if len(byB) != 2 || byB[0].Timestamp != 2 {
		t.Errorf("by order b = %+v", byB)
	}
	byA, _ := recs.ByOrder(a, 10)
	if len(byA) != 2 || byA[0].Timestamp != 3 || byA[1].Timestamp != 1 {
		t.Errorf("by order a = %+v", byA)
	}
}

func TestFileJournalAppendsLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settlements.jsonl")
	j, err := NewFileJournal(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for i := int64(1); i <= 2; i++ {
		if err := j.Publish(context.Background(), record.Event{Timestamp: i}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %q", lines)
	}
	var ev record.Event
	if err := json.Unmarshal([]byte(lines[1]), &ev); err != nil || ev.Timestamp != 2 {
		t.Errorf("last line = %s, err = %v", lines[1], err)
	}
}

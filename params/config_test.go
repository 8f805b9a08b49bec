package params

import (
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("CHAIN_ID", "31337")
	t.Setenv("PROTOCOL_FEE_BPS", "100")
	t.Setenv("MAX_FEE_BPS", "20000") // out of range, ignored
	t.Setenv("RELAYER_ADDRESS", "0x00000000000000000000000000000000000000aa")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("DEVNET_ACCOUNTS", "0x00000000000000000000000000000000000000b1,nope")
	t.Setenv("DEVNET_FUND_ETH", "1.5")

	cfg := LoadFromEnv(filepath.Join(t.TempDir(), "missing.env"))

	if cfg.Exchange.ChainID != 31337 || cfg.Domain().ChainID.Int64() != 31337 {
		t.Errorf("chain id = %d", cfg.Exchange.ChainID)
	}
	if cfg.Fees().ProtocolBps != 100 || cfg.Exchange.MaxFeeBps != Default().Exchange.MaxFeeBps {
		t.Errorf("fees = %+v", cfg.Fees())
	}
	if cfg.Exchange.Relayer != common.HexToAddress("0xaa") {
		t.Errorf("relayer = %s", cfg.Exchange.Relayer)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("brokers = %q", cfg.Kafka.Brokers)
	}
	if len(cfg.Devnet.Accounts) != 1 {
		t.Errorf("accounts = %v", cfg.Devnet.Accounts)
	}
	want, _ := new(big.Int).SetString("1500000000000000000", 10)
	if cfg.Devnet.FundETH.Cmp(want) != 0 {
		t.Errorf("fund = %s", cfg.Devnet.FundETH)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("validate: %v", err)
	}
}

func TestLoadFromDotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("P2P_TOPIC=test-settlements\nJOURNAL_PATH=/tmp/j.jsonl\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		os.Unsetenv("P2P_TOPIC")
		os.Unsetenv("JOURNAL_PATH")
	})
	t.Setenv("JOURNAL_PATH", "/var/journal.jsonl") // environment wins over the file

	cfg := LoadFromEnv(path)
	if cfg.P2P.Topic != "test-settlements" {
		t.Errorf("topic = %s", cfg.P2P.Topic)
	}
	if cfg.Node.JournalPath != "/var/journal.jsonl" {
		t.Errorf("journal = %s", cfg.Node.JournalPath)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	cfg.Exchange.Escrow = common.Address{}
	cfg.Exchange.ProtocolBps = 6000
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, want := range []string{"escrow", "exceeds max fee"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("err = %v, missing %q", err, want)
		}
	}
}

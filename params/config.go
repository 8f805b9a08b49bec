package params

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/hyperswap/pkg/crypto"
	"github.com/uhyunpark/hyperswap/pkg/exchange/fee"
)

// Exchange holds the settlement parameters fixed for the lifetime of a node
type Exchange struct {
	ChainID           int64
	VerifyingContract common.Address
	ProtocolBps       uint16
	FeeReceiver       common.Address
	MaxFeeBps         uint16
	Escrow            common.Address // holds forwarded native value during a match
	Relayer           common.Address // signer of match allowances, zero disables them
	RoyaltyFile       string         // optional YAML registry seed
}

type Node struct {
	DataDir     string
	APIAddr     string
	LogFile     string
	LogLevel    string
	JournalPath string // append-only JSON lines of settlements, empty disables
}

type P2P struct {
	ListenAddr string // empty disables the peer feed
	Bootstrap  []string
	Topic      string
}

type Kafka struct {
	Brokers []string // empty disables the kafka feed
	Topic   string
}

// Devnet pre-funds accounts in the in-memory vault. Account i also receives
// ERC721 token id i+1 of Collection.
type Devnet struct {
	Accounts   []common.Address
	FundETH    *big.Int       // wei, also minted as WETH
	WETH       common.Address // wrapped native token contract
	Collection common.Address
}

type Config struct {
	Exchange Exchange
	Node     Node
	P2P      P2P
	Kafka    Kafka
	Devnet   Devnet
}

func Default() Config {
	return Config{
		Exchange: Exchange{
			ChainID:     1337,
			ProtocolBps: 250,
			FeeReceiver: common.HexToAddress("0x00000000000000000000000000000000000fee01"),
			MaxFeeBps:   5000,
			Escrow:      common.HexToAddress("0x00000000000000000000000000000000000e5c01"),
		},
		Node: Node{
			DataDir:  "data",
			APIAddr:  ":8080",
			LogFile:  "logs/node.log",
			LogLevel: "info",
		},
		P2P: P2P{
			Topic: "hyperswap-settlements",
		},
		Kafka: Kafka{
			Topic: "hyperswap.settlements",
		},
		Devnet: Devnet{
			FundETH:    new(big.Int).Mul(big.NewInt(100), big.NewInt(1e18)),
			WETH:       common.HexToAddress("0x00000000000000000000000000000000000e7e01"),
			Collection: common.HexToAddress("0x00000000000000000000000000000000000c0de1"),
		},
	}
}

// Domain is the EIP-712 domain orders and allowances are signed under
func (c Config) Domain() crypto.Domain {
	d := crypto.DefaultDomain()
	d.ChainID = big.NewInt(c.Exchange.ChainID)
	d.VerifyingContract = c.Exchange.VerifyingContract
	return d
}

func (c Config) Fees() fee.Config {
	return fee.Config{
		ProtocolBps: c.Exchange.ProtocolBps,
		Receiver:    c.Exchange.FeeReceiver,
		MaxFeeBps:   c.Exchange.MaxFeeBps,
	}
}

// Validate reports settings the node cannot start with
func (c Config) Validate() error {
	var errs []error
	if c.Exchange.ChainID <= 0 {
		errs = append(errs, fmt.Errorf("chain id must be positive, got %d", c.Exchange.ChainID))
	}
	if c.Exchange.Escrow == (common.Address{}) {
		errs = append(errs, errors.New("escrow address is required"))
	}
	if c.Exchange.ProtocolBps > c.Exchange.MaxFeeBps {
		errs = append(errs, fmt.Errorf("protocol fee %d bps exceeds max fee %d bps", c.Exchange.ProtocolBps, c.Exchange.MaxFeeBps))
	}
	if c.Exchange.MaxFeeBps > 10000 {
		errs = append(errs, fmt.Errorf("max fee %d bps exceeds 100%%", c.Exchange.MaxFeeBps))
	}
	return errors.Join(errs...)
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	// Exchange
	if v, err := strconv.ParseInt(os.Getenv("CHAIN_ID"), 10, 64); err == nil {
		cfg.Exchange.ChainID = v
	}
	setAddress(&cfg.Exchange.VerifyingContract, "VERIFYING_CONTRACT")
	setBps(&cfg.Exchange.ProtocolBps, "PROTOCOL_FEE_BPS")
	setAddress(&cfg.Exchange.FeeReceiver, "FEE_RECEIVER")
	setBps(&cfg.Exchange.MaxFeeBps, "MAX_FEE_BPS")
	setAddress(&cfg.Exchange.Escrow, "ESCROW_ADDRESS")
	setAddress(&cfg.Exchange.Relayer, "RELAYER_ADDRESS")
	cfg.Exchange.RoyaltyFile = getEnv("ROYALTY_FILE", cfg.Exchange.RoyaltyFile)

	// Node
	cfg.Node.DataDir = getEnv("DATA_DIR", cfg.Node.DataDir)
	cfg.Node.APIAddr = getEnv("API_ADDR", cfg.Node.APIAddr)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	cfg.Node.LogLevel = getEnv("LOG_LEVEL", cfg.Node.LogLevel)
	cfg.Node.JournalPath = getEnv("JOURNAL_PATH", cfg.Node.JournalPath)

	// Feeds
	cfg.P2P.ListenAddr = getEnv("P2P_LISTEN", cfg.P2P.ListenAddr)
	cfg.P2P.Bootstrap = getList("P2P_BOOTSTRAP", cfg.P2P.Bootstrap)
	cfg.P2P.Topic = getEnv("P2P_TOPIC", cfg.P2P.Topic)
	cfg.Kafka.Brokers = getList("KAFKA_BROKERS", cfg.Kafka.Brokers)
	cfg.Kafka.Topic = getEnv("KAFKA_TOPIC", cfg.Kafka.Topic)

	// Devnet funding, e.g. DEVNET_ACCOUNTS=0xabc...,0xdef... DEVNET_FUND_ETH=12.5
	for _, a := range getList("DEVNET_ACCOUNTS", nil) {
		if common.IsHexAddress(a) {
			cfg.Devnet.Accounts = append(cfg.Devnet.Accounts, common.HexToAddress(a))
		}
	}
	if v := os.Getenv("DEVNET_FUND_ETH"); v != "" {
		if d, err := decimal.NewFromString(v); err == nil && d.IsPositive() {
			cfg.Devnet.FundETH = d.Shift(18).BigInt()
		}
	}
	setAddress(&cfg.Devnet.WETH, "DEVNET_WETH")
	setAddress(&cfg.Devnet.Collection, "DEVNET_COLLECTION")

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getList splits a comma-separated variable, dropping empty entries
func getList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func setAddress(dst *common.Address, key string) {
	if v := os.Getenv(key); common.IsHexAddress(v) {
		*dst = common.HexToAddress(v)
	}
}

func setBps(dst *uint16, key string) {
	if v, err := strconv.ParseUint(os.Getenv(key), 10, 16); err == nil && v <= 10000 {
		*dst = uint16(v)
	}
}

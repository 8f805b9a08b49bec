package main

import (
	"context"
	"log"
	"math/big"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperswap/params"
	"github.com/uhyunpark/hyperswap/pkg/api"
	"github.com/uhyunpark/hyperswap/pkg/exchange/auth"
	"github.com/uhyunpark/hyperswap/pkg/exchange/engine"
	"github.com/uhyunpark/hyperswap/pkg/exchange/fee"
	"github.com/uhyunpark/hyperswap/pkg/exchange/order"
	"github.com/uhyunpark/hyperswap/pkg/exchange/record"
	"github.com/uhyunpark/hyperswap/pkg/exchange/royalty"
	"github.com/uhyunpark/hyperswap/pkg/exchange/transfer"
	"github.com/uhyunpark/hyperswap/pkg/kafka"
	"github.com/uhyunpark/hyperswap/pkg/metrics"
	"github.com/uhyunpark/hyperswap/pkg/p2p"
	"github.com/uhyunpark/hyperswap/pkg/storage"
	"github.com/uhyunpark/hyperswap/pkg/util"
	"github.com/uhyunpark/hyperswap/pkg/vault"
)

const (
	feedQueueSize = 1024
	feedTimeout   = 5 * time.Second
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory

	// Setup logging (write to both console and file)
	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile, "level", cfg.Node.LogLevel)

	if err := cfg.Validate(); err != nil {
		sugar.Fatalw("config_invalid", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Storage ----
	if err := os.MkdirAll(cfg.Node.DataDir, 0o755); err != nil {
		sugar.Fatalw("data_dir_failed", "dir", cfg.Node.DataDir, "err", err)
	}
	db, err := storage.NewPebbleStore(filepath.Join(cfg.Node.DataDir, "pebble"))
	if err != nil {
		sugar.Fatalw("pebble_open_failed", "err", err)
	}
	defer db.Close()

	fills := storage.NewFillStore(db)
	records, err := storage.NewRecordStore(db)
	if err != nil {
		sugar.Fatalw("record_store_failed", "err", err)
	}

	var journal storage.Journal = storage.NewNopJournal()
	if cfg.Node.JournalPath != "" {
		if journal, err = storage.NewFileJournal(cfg.Node.JournalPath); err != nil {
			sugar.Fatalw("journal_open_failed", "path", cfg.Node.JournalPath, "err", err)
		}
	}
	defer journal.Close()

	// ---- Assets ----
	// The vault stands in for on-chain token contracts on a devnet node
	v := vault.New(sugar)
	router := transfer.NewRouter(sugar)
	v.RegisterHandlers(router)
	fundDevnet(v, cfg.Devnet, sugar)

	// ---- Fees ----
	registry := royalty.NewRegistry()
	if cfg.Exchange.RoyaltyFile != "" {
		if registry, err = royalty.LoadFile(cfg.Exchange.RoyaltyFile); err != nil {
			sugar.Fatalw("royalty_file_invalid", "path", cfg.Exchange.RoyaltyFile, "err", err)
		}
	}
	fees, err := fee.NewCalculator(cfg.Fees(), registry)
	if err != nil {
		sugar.Fatalw("fee_config_invalid", "err", err)
	}

	// ---- Engine ----
	hasher := order.NewHasher(cfg.Domain())
	clock := util.RealClock{}
	validator := auth.NewValidator(hasher, cfg.Exchange.Relayer, clock)
	eng, err := engine.NewEngine(engine.Config{Escrow: cfg.Exchange.Escrow}, hasher, validator, fees, router, fills, clock, sugar)
	if err != nil {
		sugar.Fatalw("engine_init_failed", "err", err)
	}
	m := metrics.New()
	eng.SetMetrics(m)

	// ---- API Server ----
	apiServer := api.NewServer(eng, v, records, m, cfg.Exchange.Relayer, sugar)

	// ---- Record sinks ----
	// Durable stores are written inside the engine lock. Network feeds run
	// behind a queue so a slow peer or broker never holds up settlement.
	feeds := record.Fanout{apiServer.Hub()}

	if cfg.P2P.ListenAddr != "" {
		feed, err := p2p.NewFeed(ctx, p2p.Config{
			ListenAddr: cfg.P2P.ListenAddr,
			Bootstrap:  cfg.P2P.Bootstrap,
			Topic:      cfg.P2P.Topic,
			Logger:     sugar,
		})
		if err != nil {
			sugar.Fatalw("libp2p_init_failed", "err", err)
		}
		defer feed.Close()
		feed.SetHandler(func(_ context.Context, from peer.ID, ev record.Event) {
			sugar.Infow("peer_settlement",
				"from", from.String(),
				"left_key", ev.Match.LeftKey.Hex(),
				"right_key", ev.Match.RightKey.Hex(),
				"transfers", len(ev.Transfers))
		})
		feeds = append(feeds, feed)
	}

	if len(cfg.Kafka.Brokers) > 0 {
		producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer producer.Close()
		feeds = append(feeds, producer)
		sugar.Infow("kafka_enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	// closed before the feeds so queued events still go out
	async := record.NewAsync(feeds, feedQueueSize, feedTimeout, sugar)
	defer async.Close()
	eng.SetSink(record.Fanout{records, journal, async})

	sugar.Infow("node_starting",
		"chain_id", cfg.Exchange.ChainID,
		"escrow", cfg.Exchange.Escrow.Hex(),
		"relayer", cfg.Exchange.Relayer.Hex(),
		"protocol_fee_bps", cfg.Exchange.ProtocolBps,
		"feeds", len(feeds))

	if err := apiServer.Start(ctx, cfg.Node.APIAddr); err != nil {
		sugar.Fatalw("api_server_failed", "err", err)
	}
	sugar.Info("node_stopped")
}

// fundDevnet mints native and wrapped currency plus one collection token to
// each configured account
func fundDevnet(v *vault.Vault, d params.Devnet, log *zap.SugaredLogger) {
	weth := order.Token(order.ClassWrapped, d.WETH)
	for i, a := range d.Accounts {
		tokenID := big.NewInt(int64(i + 1))
		nft, err := order.NFT(order.ClassERC721, d.Collection, tokenID)
		if err != nil {
			log.Warnw("devnet_fund_failed", "account", a.Hex(), "err", err)
			continue
		}
		for _, mint := range []struct {
			asset  order.AssetType
			amount *big.Int
		}{
			{order.Native(), d.FundETH},
			{weth, d.FundETH},
			{nft, big.NewInt(1)},
		} {
			if err := v.Mint(a, mint.asset, mint.amount); err != nil {
				log.Warnw("devnet_fund_failed", "account", a.Hex(), "class", mint.asset.Class.String(), "err", err)
			}
		}
		log.Infow("devnet_funded", "account", a.Hex(), "wei", d.FundETH.String(), "token_id", tokenID.String())
	}
}

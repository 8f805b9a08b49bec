package p2p

import (
	"context"
	"sync"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperswap/pkg/exchange/record"
)

const DefaultTopic = "hyperswap-settlements"

// Handler receives settlements gossiped by other nodes
type Handler func(ctx context.Context, from peer.ID, ev record.Event)

// Feed gossips settlement records over libp2p pubsub. It is a record.Sink.
type Feed struct {
	h   host.Host
	ps  *pubsub.PubSub
	log *zap.SugaredLogger

	topic *pubsub.Topic
	sub   *pubsub.Subscription

	cancel context.CancelFunc

	muH     sync.RWMutex
	handler Handler
}

type Config struct {
	ListenAddr string
	Bootstrap  []string
	Topic      string
	Logger     *zap.SugaredLogger
}

func NewFeed(ctx context.Context, cfg Config) (*Feed, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}

	var opts []libp2p.Option
	if cfg.ListenAddr != "" {
		maddr, err := ma.NewMultiaddr(cfg.ListenAddr)
		if err != nil {
			return nil, err
		}
		opts = append(opts, libp2p.ListenAddrs(maddr))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		cancel()
		h.Close()
		return nil, err
	}

	f := &Feed{h: h, ps: ps, log: cfg.Logger, cancel: cancel}

	for _, bs := range cfg.Bootstrap {
		if err := connectMultiaddr(ctx, h, bs); err != nil {
			cfg.Logger.Warnw("bootstrap_connect_failed", "addr", bs, "err", err)
		}
	}

	if f.topic, err = ps.Join(cfg.Topic); err != nil {
		f.Close()
		return nil, err
	}
	if f.sub, err = f.topic.Subscribe(); err != nil {
		f.Close()
		return nil, err
	}

	go f.handleSettlements(ctx)

	cfg.Logger.Infow("libp2p_ready", "peer", h.ID().String(), "listen", cfg.ListenAddr, "topic", cfg.Topic)
	return f, nil
}

func connectMultiaddr(ctx context.Context, h host.Host, addr string) error {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return err
	}
	return h.Connect(ctx, *info)
}

func (f *Feed) SetHandler(h Handler) { f.muH.Lock(); f.handler = h; f.muH.Unlock() }

func (f *Feed) Host() host.Host { return f.h }

// Addrs returns dialable addresses including the /p2p/<id> suffix, suitable
// as bootstrap entries for another node
func (f *Feed) Addrs() []string {
	self, err := ma.NewMultiaddr("/p2p/" + f.h.ID().String())
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(f.h.Addrs()))
	for _, a := range f.h.Addrs() {
		out = append(out, a.Encapsulate(self).String())
	}
	return out
}

// Publish gossips one settlement to the topic
func (f *Feed) Publish(ctx context.Context, ev record.Event) error {
	data, err := encodeSettlement(ev)
	if err != nil {
		return err
	}
	return f.topic.Publish(ctx, data)
}

func (f *Feed) Close() error {
	f.cancel()
	if f.sub != nil {
		f.sub.Cancel()
	}
	if f.topic != nil {
		_ = f.topic.Close()
	}
	return f.h.Close()
}

// inbound

func (f *Feed) handleSettlements(ctx context.Context) {
	self := f.h.ID()
	for {
		msg, err := f.sub.Next(ctx)
		if err != nil {
			return
		}
		if msg.GetFrom() == self {
			continue
		}
		ev, err := decodeSettlement(msg.Data)
		if err != nil {
			f.log.Debugw("settlement_decode_failed", "from", msg.GetFrom().String(), "err", err)
			continue
		}

		f.muH.RLock()
		h := f.handler
		f.muH.RUnlock()
		if h != nil {
			h(ctx, msg.GetFrom(), ev)
		}
	}
}

var _ record.Sink = (*Feed)(nil)

package engine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperswap/pkg/exchange/auth"
	"github.com/uhyunpark/hyperswap/pkg/exchange/fee"
	"github.com/uhyunpark/hyperswap/pkg/exchange/ledger"
	"github.com/uhyunpark/hyperswap/pkg/exchange/order"
	"github.com/uhyunpark/hyperswap/pkg/exchange/record"
	"github.com/uhyunpark/hyperswap/pkg/exchange/transfer"
	"github.com/uhyunpark/hyperswap/pkg/metrics"
	"github.com/uhyunpark/hyperswap/pkg/util"
)

// SignedOrder is an order plus whatever proves it may be matched
type SignedOrder struct {
	Order              order.Order
	Signature          []byte
	AllowanceExpiry    uint64
	AllowanceSignature []byte
}

func (s SignedOrder) evidence() auth.Evidence {
	return auth.Evidence{
		Signature:          s.Signature,
		AllowanceExpiry:    s.AllowanceExpiry,
		AllowanceSignature: s.AllowanceSignature,
	}
}

// Request is one match attempt. Value is native currency the caller forwards
// with the call; any surplus is refunded.
type Request struct {
	Left   SignedOrder
	Right  SignedOrder
	Caller common.Address
	Value  *big.Int
}

// Result describes a settled match
type Result struct {
	Event      record.Event
	LeftValue  *big.Int // left make asset given to the right side
	RightValue *big.Int // right make asset given to the left side
	Refund     *big.Int
	LeftAuth   string
	RightAuth  string
}

type Config struct {
	Escrow common.Address // holds forwarded native currency during an attempt
}

// Engine settles order pairs one at a time
type Engine struct {
	mu sync.Mutex

	cfg       Config
	hasher    *order.Hasher
	validator *auth.Validator
	fees      *fee.Calculator
	router    *transfer.Router
	fills     ledger.Ledger
	clock     util.Clock

	sink    record.Sink
	metrics *metrics.Metrics
	log     *zap.SugaredLogger
}

func NewEngine(cfg Config, hasher *order.Hasher, validator *auth.Validator, fees *fee.Calculator, router *transfer.Router, fills ledger.Ledger, clock util.Clock, log *zap.SugaredLogger) (*Engine, error) {
	if cfg.Escrow == (common.Address{}) {
		return nil, errors.New("engine: escrow address is required")
	}
	if clock == nil {
		clock = util.RealClock{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Engine{
		cfg:       cfg,
		hasher:    hasher,
		validator: validator,
		fees:      fees,
		router:    router,
		fills:     fills,
		clock:     clock,
		log:       log,
	}, nil
}

// SetSink installs where settled events go. Publication happens after the
// attempt is committed and still under the engine lock, so s should only do
// local writes and hand network delivery to a record.Async. Failures are
// logged and never undo the match.
func (e *Engine) SetSink(s record.Sink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sink = s
}

func (e *Engine) SetMetrics(m *metrics.Metrics) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metrics = m
}

// Hasher returns the order hasher bound to the engine's signing domain
func (e *Engine) Hasher() *order.Hasher { return e.hasher }

// Validator returns the authorization rules orders are checked against
func (e *Engine) Validator() *auth.Validator { return e.validator }

// Fill returns the recorded fill for an order key
func (e *Engine) Fill(key common.Hash) (*big.Int, error) {
	return e.fills.Get(key)
}

// Match validates, prices and settles one order pair. Either every effect
// lands (transfers, ledger, records) or none does.
func (e *Engine) Match(ctx context.Context, req Request) (res *Result, err error) {
	started := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() {
		if err != nil {
			e.metrics.ObserveMatch(Reason(err), started)
			e.log.Infow("match_rejected", "caller", req.Caller.Hex(), "reason", Reason(err), "err", err)
			return
		}
		e.metrics.ObserveMatch("ok", started)
	}()

	now := e.clock.Now()
	p, err := e.prepare(req, now)
	if err != nil {
		return nil, err
	}

	sess := e.router.Begin()
	if err := e.execute(ctx, sess, p); err != nil {
		e.rollback(ctx, sess, p)
		return nil, err
	}
	if err := e.fills.Advance(p.updates()...); err != nil {
		e.rollback(ctx, sess, p)
		return nil, fmt.Errorf("%w: %w", ErrLedger, err)
	}
	sess.Commit()

	ev := record.Event{
		Match: record.Match{
			LeftKey:      p.left.key,
			RightKey:     p.right.key,
			LeftMaker:    p.left.order.Maker,
			RightMaker:   p.right.order.Maker,
			NewLeftFill:  p.newLeft,
			NewRightFill: p.newRight,
		},
		Transfers: p.records,
		Timestamp: now.UnixMilli(),
	}
	for _, t := range ev.Transfers {
		e.metrics.ObserveTransfer(t.Category.String())
	}
	e.publish(ctx, ev)

	e.log.Infow("match_settled",
		"left_key", p.left.key.Hex(),
		"right_key", p.right.key.Hex(),
		"left_value", p.res.LeftValue.String(),
		"right_value", p.res.RightValue.String(),
		"fee_side", p.feeSide.String(),
		"transfers", len(ev.Transfers),
		"refund", p.refund.String(),
	)
	return &Result{
		Event:      ev,
		LeftValue:  p.res.LeftValue,
		RightValue: p.res.RightValue,
		Refund:     p.refund,
		LeftAuth:   p.left.auth,
		RightAuth:  p.right.auth,
	}, nil
}

func (e *Engine) rollback(ctx context.Context, sess *transfer.Session, p *plan) {
	if err := sess.Rollback(ctx); err != nil {
		e.log.Errorw("match_rollback_failed", "left_key", p.left.key.Hex(), "right_key", p.right.key.Hex(), "err", err)
	}
}

func (e *Engine) publish(ctx context.Context, ev record.Event) {
	if e.sink == nil {
		return
	}
	if err := e.sink.Publish(ctx, ev); err != nil {
		e.metrics.ObserveSinkError("records")
		e.log.Warnw("record_publish_failed", "left_key", ev.Match.LeftKey.Hex(), "err", err)
	}
}

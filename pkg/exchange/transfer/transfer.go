package transfer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperswap/pkg/exchange/order"
)

var (
	ErrUnsupportedAsset = errors.New("no transfer handler for asset class")
	ErrNoUnwrapper      = errors.New("unwrap capability not configured")
	ErrSessionClosed    = errors.New("transfer session already closed")
)

// Transfer moves Value of Asset from From to To
type Transfer struct {
	Asset order.AssetType
	Value *big.Int
	From  common.Address
	To    common.Address
}

func (t Transfer) reverse() Transfer {
	return Transfer{Asset: t.Asset, Value: t.Value, From: t.To, To: t.From}
}

// Handler moves one asset class between accounts
type Handler interface {
	Transfer(ctx context.Context, t Transfer) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, t Transfer) error

func (f HandlerFunc) Transfer(ctx context.Context, t Transfer) error { return f(ctx, t) }

// Unwrapper converts a wrapped native token held by holder into native
// currency credited to the same holder, and back.
type Unwrapper interface {
	Unwrap(ctx context.Context, token, holder common.Address, amount *big.Int) error
	Wrap(ctx context.Context, token, holder common.Address, amount *big.Int) error
}

// Router is the handler table keyed by asset class
type Router struct {
	mu        sync.RWMutex
	handlers  map[order.AssetClass]Handler
	unwrapper Unwrapper
	log       *zap.SugaredLogger
}

func NewRouter(log *zap.SugaredLogger) *Router {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Router{handlers: make(map[order.AssetClass]Handler), log: log}
}

// Register installs the handler for an asset class, replacing any previous one
func (r *Router) Register(class order.AssetClass, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[class] = h
}

// SetUnwrapper installs the wrapped-native conversion capability
func (r *Router) SetUnwrapper(u Unwrapper) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unwrapper = u
}

// Supports reports whether a handler exists for class
func (r *Router) Supports(class order.AssetClass) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[class]
	return ok
}

func (r *Router) handler(class order.AssetClass) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[class]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAsset, class)
	}
	return h, nil
}

// Begin opens a session. Every effect dispatched through it is undone in
// reverse order by Rollback unless Commit is called first.
func (r *Router) Begin() *Session {
	return &Session{router: r}
}

// Session records compensations for dispatched transfers
type Session struct {
	router *Router
	undo   []func(context.Context) error
	closed bool
}

// Transfer dispatches t to its class handler
func (s *Session) Transfer(ctx context.Context, t Transfer) error {
	if s.closed {
		return ErrSessionClosed
	}
	if t.Value == nil || t.Value.Sign() == 0 {
		return nil
	}
	h, err := s.router.handler(t.Asset.Class)
	if err != nil {
		return err
	}
	if err := h.Transfer(ctx, t); err != nil {
		return fmt.Errorf("%s transfer %s -> %s: %w", t.Asset.Class, t.From.Hex(), t.To.Hex(), err)
	}
	s.undo = append(s.undo, func(ctx context.Context) error {
		return h.Transfer(ctx, t.reverse())
	})
	return nil
}

// Unwrap converts amount of the wrapped token held by holder to native currency
func (s *Session) Unwrap(ctx context.Context, token, holder common.Address, amount *big.Int) error {
	if s.closed {
		return ErrSessionClosed
	}
	s.router.mu.RLock()
	u := s.router.unwrapper
	s.router.mu.RUnlock()
	if u == nil {
		return ErrNoUnwrapper
	}
	if err := u.Unwrap(ctx, token, holder, amount); err != nil {
		return fmt.Errorf("unwrap %s for %s: %w", amount, holder.Hex(), err)
	}
	s.undo = append(s.undo, func(ctx context.Context) error {
		return u.Wrap(ctx, token, holder, amount)
	})
	return nil
}

// Commit keeps every dispatched effect
func (s *Session) Commit() {
	s.closed = true
	s.undo = nil
}

// Rollback compensates dispatched effects, newest first. It keeps going past
// failures and returns them joined.
func (s *Session) Rollback(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true
	var errs []error
	for i := len(s.undo) - 1; i >= 0; i-- {
		if err := s.undo[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		s.router.log.Errorw("transfer_rollback_incomplete", "failed", len(errs), "dispatched", len(s.undo))
	}
	s.undo = nil
	return errors.Join(errs...)
}

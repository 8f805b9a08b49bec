package record

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrQueueFull = errors.New("record queue full")
	ErrClosed    = errors.New("record queue closed")
)

// Async forwards events to next from a single goroutine, in the order they
// were published. Publish never waits on next.
type Async struct {
	next    Sink
	timeout time.Duration
	queue   chan Event
	done    chan struct{}
	log     *zap.SugaredLogger

	mu     sync.RWMutex
	closed bool
}

// NewAsync starts the forwarding goroutine. Each event gets timeout to reach
// next; a full queue of size events rejects further publications.
func NewAsync(next Sink, size int, timeout time.Duration, log *zap.SugaredLogger) *Async {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if size < 1 {
		size = 1
	}
	a := &Async{
		next:    next,
		timeout: timeout,
		queue:   make(chan Event, size),
		done:    make(chan struct{}),
		log:     log,
	}
	go a.run()
	return a
}

// Publish enqueues ev. The caller's context is not carried over since it
// usually ends before the event is delivered.
func (a *Async) Publish(_ context.Context, ev Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.queue <- ev:
		return nil
	default:
		return ErrQueueFull
	}
}

func (a *Async) run() {
	defer close(a.done)
	for ev := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := a.next.Publish(ctx, ev); err != nil {
			a.log.Warnw("record_forward_failed",
				"left_key", ev.Match.LeftKey.Hex(),
				"right_key", ev.Match.RightKey.Hex(),
				"err", err)
		}
		cancel()
	}
}

// Close stops accepting events and waits until the queued ones are delivered
func (a *Async) Close() error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	<-a.done
	return nil
}

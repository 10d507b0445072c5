// Package schedule provides the externally-owned tick source for components
// that must not schedule their own wake-ups. Modeling periodic work as
// messages injected by a separate collaborator keeps the receiving state
// machine deterministic and testable.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pacerio/pacer/pkg/concurrency"
	"github.com/pacerio/pacer/pkg/failfast"
	"github.com/pacerio/pacer/pkg/logging"
)

// Tickable receives periodic ticks. Tick must not block.
type Tickable interface {
	Tick() error
}

// Ticker delivers ticks to a target at a fixed interval. The target never
// sees the timer, only tick messages.
type Ticker struct {
	interval time.Duration
	target   Tickable
	logger   logging.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewTicker creates a ticker. A nil logger falls back to the default.
func NewTicker(interval time.Duration, target Tickable, logger logging.Logger) *Ticker {
	failfast.NotNil(target, "target")
	failfast.If(interval > 0, "tick interval must be positive, got %v", interval)

	if logger == nil {
		logger = logging.New()
	}
	return &Ticker{
		interval: interval,
		target:   target,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start begins tick delivery.
func (t *Ticker) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return fmt.Errorf("ticker already started")
	}
	t.started = true

	ctx, t.cancel = context.WithCancel(ctx)
	go t.run(ctx)
	return nil
}

// Stop halts tick delivery and waits for the loop to exit.
func (t *Ticker) Stop() {
	t.mu.Lock()
	if !t.started {
		t.mu.Unlock()
		return
	}
	cancel := t.cancel
	t.mu.Unlock()

	cancel()
	<-t.done
}

func (t *Ticker) run(ctx context.Context) {
	defer close(t.done)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			switch err := t.target.Tick(); err {
			case nil:
			case concurrency.ErrMailboxFull:
				// Target is busy; this tick carries no information
				// the next one won't.
			case concurrency.ErrMailboxClosed:
				t.logger.Debug("ticker: target closed, stopping")
				return
			default:
				t.logger.Warnf("ticker: tick failed: %v", err)
			}
		}
	}
}

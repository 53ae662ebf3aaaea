// Package poller drives the fetch, flatten, account and notify loop over the
// brokerage order history.
package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/fillwatch/internal/broker"
	"github.com/eddiefleurent/fillwatch/internal/flatten"
	"github.com/eddiefleurent/fillwatch/internal/messaging"
	"github.com/eddiefleurent/fillwatch/internal/metrics"
	"github.com/eddiefleurent/fillwatch/internal/notify"
	"github.com/eddiefleurent/fillwatch/internal/tracker"
)

// State is the lifecycle state of a Poller.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "idle"
	}
}

// Poller owns the trackers and the dedup set of one watch loop.
type Poller struct {
	source    broker.OrderSource
	notifier  notify.Notifier
	flattener *flatten.Flattener
	prices    *tracker.PriceTracker
	positions *tracker.PositionTracker

	interval time.Duration
	lookback time.Duration
	status   string
	template string

	logger  logrus.FieldLogger
	metrics *metrics.Metrics

	mu    sync.Mutex
	seen  map[string]struct{}
	state atomic.Int32
}

// New creates a Poller reading from source and dispatching to notifier.
func New(source broker.OrderSource, notifier notify.Notifier, opts ...Option) *Poller {
	p := &Poller{
		source:    source,
		notifier:  notifier,
		flattener: flatten.New(nil),
		prices:    tracker.NewPriceTracker(),
		positions: tracker.NewPositionTracker(),
		interval:  DefaultInterval,
		lookback:  DefaultLookback,
		status:    DefaultStatus,
		template:  messaging.DefaultTemplate,
		seen:      make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logrus.New()
	}
	if p.notifier == nil {
		p.notifier = notify.NewLogNotifier(p.logger)
	}
	return p
}

// Run polls until ctx is cancelled. The first cycle starts immediately.
// A cycle in flight at cancellation finishes its record loop.
func (p *Poller) Run(ctx context.Context) error {
	if !p.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return errors.New("poller already started")
	}
	defer p.state.Store(int32(StateStopped))

	p.logger.WithFields(logrus.Fields{
		"interval": p.interval,
		"lookback": p.lookback,
		"status":   p.status,
	}).Info("poller starting")

	if ctx.Err() != nil {
		return nil
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.PollOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopped")
			return nil
		case <-ticker.C:
			p.PollOnce(ctx)
		}
	}
}

// State returns the lifecycle state.
func (p *Poller) State() State {
	return State(p.state.Load())
}

// Seen returns the number of dispatched identities.
func (p *Poller) Seen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.seen)
}

// Prices returns the price tracker owned by the poller.
func (p *Poller) Prices() *tracker.PriceTracker {
	return p.prices
}

// Positions returns the position tracker owned by the poller.
func (p *Poller) Positions() *tracker.PositionTracker {
	return p.positions
}

func (p *Poller) hasSeen(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.seen[id]
	return ok
}

func (p *Poller) markSeen(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen[id] = struct{}{}
	return len(p.seen)
}

package poller

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/fillwatch/internal/flatten"
	"github.com/eddiefleurent/fillwatch/internal/metrics"
	"github.com/eddiefleurent/fillwatch/internal/tracker"
)

// Defaults applied by New.
const (
	DefaultInterval = 5 * time.Second
	DefaultLookback = time.Hour
	DefaultStatus   = "FILLED"
)

// Option configures a Poller.
type Option func(*Poller)

// WithInterval sets the delay between cycles. Non-positive values are ignored.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithTemplate sets the notification template. Empty selects the default.
func WithTemplate(tmpl string) Option {
	return func(p *Poller) { p.template = tmpl }
}

// WithStatus sets the broker order status filter. Empty fetches every status.
func WithStatus(status string) Option {
	return func(p *Poller) { p.status = status }
}

// WithLookback sets how far back each fetch reaches.
func WithLookback(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.lookback = d
		}
	}
}

// WithPriceTracker uses a pre-seeded price tracker.
func WithPriceTracker(pt *tracker.PriceTracker) Option {
	return func(p *Poller) {
		if pt != nil {
			p.prices = pt
		}
	}
}

// WithPositionTracker uses a pre-seeded position tracker.
func WithPositionTracker(pt *tracker.PositionTracker) Option {
	return func(p *Poller) {
		if pt != nil {
			p.positions = pt
		}
	}
}

// WithSeen marks identities as already dispatched.
func WithSeen(ids ...string) Option {
	return func(p *Poller) {
		for _, id := range ids {
			p.seen[id] = struct{}{}
		}
	}
}

// WithFlattener overrides the order flattener.
func WithFlattener(f *flatten.Flattener) Option {
	return func(p *Poller) {
		if f != nil {
			p.flattener = f
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(p *Poller) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithMetrics records cycle metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Poller) { p.metrics = m }
}

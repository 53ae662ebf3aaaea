package poller

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/fillwatch/internal/flatten"
	"github.com/eddiefleurent/fillwatch/internal/messaging"
	"github.com/eddiefleurent/fillwatch/internal/metrics"
	"github.com/eddiefleurent/fillwatch/internal/tracker"
)

// Template placeholders computed per record, on top of the raw record fields.
const (
	FieldTicker    = "ticker"
	FieldPctChange = "pct_change"
	FieldOpenQty   = "open_qty"
	FieldPnLPct    = "pnl_pct"
	FieldPctGain   = "pct_gain"
	FieldRealized  = "realized"
	FieldStatus    = "status"
)

// CycleStats summarizes one poll cycle.
type CycleStats struct {
	ID         string
	Records    int
	Skipped    int
	Duplicates int
	Dispatched int
	Err        error
}

// PollOnce runs a single fetch, flatten and dispatch cycle. Fetch and
// flatten failures end the cycle and are reported in CycleStats.Err.
// Records whose identity was already seen are dropped before either tracker
// is updated, so a repolled fill neither moves the last price nor is applied
// to the position book a second time.
func (p *Poller) PollOnce(ctx context.Context) CycleStats {
	start := time.Now()
	stats := CycleStats{ID: uuid.NewString()}
	log := p.logger.WithField("cycle", stats.ID)

	p.metrics.IncPolls()
	defer func() { p.metrics.ObserveCycle(time.Since(start)) }()

	raw, err := p.source.GetAccountOrders(ctx, p.status, p.lookback)
	if err != nil {
		p.metrics.IncFetchErrors()
		log.WithError(err).Error("failed to fetch orders")
		stats.Err = err
		return stats
	}
	p.metrics.MarkPollSuccess(time.Now())

	records, err := p.flattener.Dataset(raw)
	if err != nil {
		p.metrics.IncFlattenErrors()
		log.WithError(err).Error("failed to flatten orders")
		stats.Err = err
		return stats
	}
	stats.Records = len(records)
	p.metrics.AddFlattened(len(records))

	// dispatches outlive cancellation so the record loop can finish
	sendCtx := context.WithoutCancel(ctx)
	for _, rec := range records {
		switch p.process(sendCtx, log, rec) {
		case outcomeSkipped:
			stats.Skipped++
		case outcomeDuplicate:
			stats.Duplicates++
		case outcomeDispatched:
			stats.Dispatched++
		}
	}

	log.WithFields(logrus.Fields{
		"records":    stats.Records,
		"skipped":    stats.Skipped,
		"duplicates": stats.Duplicates,
		"dispatched": stats.Dispatched,
	}).Debug("cycle complete")
	return stats
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeDuplicate
	outcomeDispatched
)

func (p *Poller) process(ctx context.Context, log logrus.FieldLogger, rec flatten.Record) outcome {
	symbol, ok := rec.String(flatten.FieldSymbol)
	if !ok {
		p.metrics.RecordSkipped(metrics.ReasonMissingSymbol)
		log.Debug("skipping record without symbol")
		return outcomeSkipped
	}
	log = log.WithField("symbol", symbol)

	price, ok := rec.Float(flatten.FieldPrice)
	if !ok {
		p.metrics.RecordSkipped(metrics.ReasonMissingPrice)
		log.Debug("skipping record without price")
		return outcomeSkipped
	}

	id, hasID := rec.Identity()
	if hasID && p.hasSeen(id) {
		p.metrics.RecordSkipped(metrics.ReasonDuplicate)
		return outcomeDuplicate
	}
	if orderID, ok := rec.String(flatten.FieldOrderID); ok {
		log = log.WithField("order_id", orderID)
	}

	expiration, _ := rec.String(flatten.FieldExpiration)
	strike, _ := rec.Float(flatten.FieldStrike)
	key := tracker.NewKey(symbol, expiration, strike)

	values := rec.Values()
	values[FieldTicker] = symbol
	values[FieldPctChange] = p.prices.UpdateAndGetChange(symbol, price)

	qty, hasQty := rec.Float(flatten.FieldQuantity)
	side, hasSide := rec.String(flatten.FieldSide)
	if !hasSide {
		side, hasSide = rec.String(flatten.FieldInstruction)
	}
	if hasQty && hasSide {
		realized, err := p.positions.AddTrade(tracker.Trade{
			Symbol:     symbol,
			Side:       side,
			Expiration: expiration,
			Quantity:   qty,
			Price:      price,
			Strike:     strike,
		})
		if err != nil {
			p.metrics.RecordAccountingError(accountingKind(err))
			log.WithError(err).WithField("key", key.String()).Warn("trade not applied")
		} else {
			values[FieldRealized] = realized
		}
	}

	openQty := p.positions.OpenQuantity(key)
	values[FieldOpenQty] = openQty
	values[FieldPnLPct] = p.positions.CalculatePnL(key)
	values[FieldPctGain] = p.positions.PercentGain(key, price)
	if openQty > 0 {
		values[FieldStatus] = "OPEN"
	} else {
		values[FieldStatus] = "CLOSED"
	}

	msg := messaging.Compose(p.template, values)
	err := p.notifier.Send(ctx, msg)
	p.metrics.RecordDispatch(err)
	if err != nil {
		log.WithError(err).Error("failed to dispatch notification")
	}

	if hasID {
		p.metrics.SetSeen(p.markSeen(id))
	}
	return outcomeDispatched
}

func accountingKind(err error) string {
	switch {
	case errors.Is(err, tracker.ErrOverSell):
		return "oversell"
	case errors.Is(err, tracker.ErrInvalidSide):
		return "invalid_side"
	case errors.Is(err, tracker.ErrInvalidQuantity):
		return "invalid_quantity"
	case errors.Is(err, tracker.ErrInvalidPrice):
		return "invalid_price"
	}
	return "other"
}

// Package tracker provides in-memory price and FIFO position accounting.
package tracker

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Side is the normalized direction of a trade.
type Side string

const (
	// SideBuy opens or adds to a position
	SideBuy Side = "BUY"
	// SideSell closes lots of a position
	SideSell Side = "SELL"
)

// ParseSide normalizes s case-insensitively to BUY or SELL.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidSide, s)
}

// Key identifies a tracked contract. An empty Expiration and a zero Strike
// mean "not applicable" (equities).
type Key struct {
	Symbol     string  `json:"symbol"`
	Expiration string  `json:"expiration,omitempty"`
	Strike     float64 `json:"strike,omitempty"`
}

// NewKey builds a normalized contract key.
func NewKey(symbol, expiration string, strike float64) Key {
	if strike == 0 {
		strike = 0 // collapse -0
	}
	return Key{Symbol: symbol, Expiration: strings.TrimSpace(expiration), Strike: strike}
}

func (k Key) String() string {
	if k.Expiration == "" && k.Strike == 0 {
		return k.Symbol
	}
	return fmt.Sprintf("%s %s %g", k.Symbol, k.Expiration, k.Strike)
}

// Trade is a single fill to be applied to the position book.
type Trade struct {
	Symbol     string
	Side       string
	Expiration string
	Quantity   float64
	Price      float64
	Strike     float64
}

// Key returns the normalized contract key of the trade.
func (t Trade) Key() Key {
	return NewKey(t.Symbol, t.Expiration, t.Strike)
}

type lot struct {
	qty   decimal.Decimal
	price decimal.Decimal
}

type position struct {
	lots        []lot // oldest first
	realized    decimal.Decimal
	closedBasis decimal.Decimal
	averageCost decimal.Decimal
}

func (p *position) openQuantity() decimal.Decimal {
	total := decimal.Zero
	for _, l := range p.lots {
		total = total.Add(l.qty)
	}
	return total
}

func (p *position) recomputeAverage() {
	qty := decimal.Zero
	cost := decimal.Zero
	for _, l := range p.lots {
		qty = qty.Add(l.qty)
		cost = cost.Add(l.qty.Mul(l.price))
	}
	if qty.IsZero() {
		p.averageCost = decimal.Zero
		return
	}
	p.averageCost = cost.Div(qty)
}

// PositionTracker keeps FIFO lots and realized PnL per contract key.
type PositionTracker struct {
	mu        sync.RWMutex
	positions map[Key]*position
}

// NewPositionTracker creates an empty PositionTracker.
func NewPositionTracker() *PositionTracker {
	return &PositionTracker{positions: make(map[Key]*position)}
}

// AddTrade applies t to the book and returns the dollar PnL realized by it.
// BUY trades append a lot and realize nothing. SELL trades consume lots
// oldest first. When a SELL exceeds the open quantity ErrOverSell is returned
// and the lots consumed before the shortfall stay consumed.
func (pt *PositionTracker) AddTrade(t Trade) (float64, error) {
	side, err := ParseSide(t.Side)
	if err != nil {
		return 0, err
	}
	if !(t.Quantity > 0) || math.IsInf(t.Quantity, 1) {
		return 0, fmt.Errorf("%w: %v", ErrInvalidQuantity, t.Quantity)
	}
	if !finite(t.Price) {
		return 0, fmt.Errorf("%w: %v", ErrInvalidPrice, t.Price)
	}

	key := t.Key()
	qty := decimal.NewFromFloat(t.Quantity)
	price := decimal.NewFromFloat(t.Price)

	pt.mu.Lock()
	defer pt.mu.Unlock()

	pos, ok := pt.positions[key]
	if !ok {
		pos = &position{}
		pt.positions[key] = pos
	}

	if side == SideBuy {
		pos.lots = append(pos.lots, lot{qty: qty, price: price})
		pos.recomputeAverage()
		return 0, nil
	}

	realized := decimal.Zero
	remaining := qty
	for remaining.IsPositive() {
		if len(pos.lots) == 0 {
			pos.recomputeAverage()
			return 0, fmt.Errorf("%w for %s: short by %s", ErrOverSell, key, remaining)
		}
		head := &pos.lots[0]
		closeQty := decimal.Min(remaining, head.qty)
		head.qty = head.qty.Sub(closeQty)

		pnl := price.Sub(head.price).Mul(closeQty)
		realized = realized.Add(pnl)
		pos.realized = pos.realized.Add(pnl)
		pos.closedBasis = pos.closedBasis.Add(head.price.Mul(closeQty))

		if head.qty.IsZero() {
			pos.lots = pos.lots[1:]
		}
		remaining = remaining.Sub(closeQty)
	}
	pos.recomputeAverage()

	return realized.InexactFloat64(), nil
}

// OpenQuantity returns the remaining open quantity for key, 0 if unknown.
func (pt *PositionTracker) OpenQuantity(key Key) float64 {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	pos, ok := pt.positions[key]
	if !ok {
		return 0
	}
	return pos.openQuantity().InexactFloat64()
}

// CalculatePnL returns realized PnL as a percentage of the closed cost basis.
// It is 0 while nothing has been closed.
func (pt *PositionTracker) CalculatePnL(key Key) float64 {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	pos, ok := pt.positions[key]
	if !ok || pos.closedBasis.IsZero() {
		return 0
	}
	return pos.realized.Div(pos.closedBasis).Mul(hundred).InexactFloat64()
}

// PercentGain returns the unrealized gain of the open lots at currentPrice
// relative to their weighted average cost. It is 0 with no open position
// or a non-finite currentPrice.
func (pt *PositionTracker) PercentGain(key Key, currentPrice float64) float64 {
	if !finite(currentPrice) {
		return 0
	}
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	pos, ok := pt.positions[key]
	if !ok || pos.averageCost.IsZero() {
		return 0
	}
	current := decimal.NewFromFloat(currentPrice)
	return current.Sub(pos.averageCost).Div(pos.averageCost).Mul(hundred).InexactFloat64()
}

// AverageCost returns the weighted average price of the open lots.
func (pt *PositionTracker) AverageCost(key Key) float64 {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	if pos, ok := pt.positions[key]; ok {
		return pos.averageCost.InexactFloat64()
	}
	return 0
}

// RealizedPnL returns cumulative realized dollars for key.
func (pt *PositionTracker) RealizedPnL(key Key) float64 {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	if pos, ok := pt.positions[key]; ok {
		return pos.realized.InexactFloat64()
	}
	return 0
}

// ClosedBasis returns the cumulative cost basis of closed lots for key.
func (pt *PositionTracker) ClosedBasis(key Key) float64 {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	if pos, ok := pt.positions[key]; ok {
		return pos.closedBasis.InexactFloat64()
	}
	return 0
}

// PositionSnapshot is a read-only view of one contract's accounting state.
type PositionSnapshot struct {
	Key          Key     `json:"key"`
	Lots         int     `json:"lots"`
	OpenQuantity float64 `json:"open_quantity"`
	AverageCost  float64 `json:"average_cost"`
	RealizedPnL  float64 `json:"realized_pnl"`
	ClosedBasis  float64 `json:"closed_basis"`
	PnLPercent   float64 `json:"pnl_percent"`
}

// Snapshot returns the state of every known contract, ordered by key.
func (pt *PositionTracker) Snapshot() []PositionSnapshot {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	out := make([]PositionSnapshot, 0, len(pt.positions))
	for key, pos := range pt.positions {
		snap := PositionSnapshot{
			Key:          key,
			Lots:         len(pos.lots),
			OpenQuantity: pos.openQuantity().InexactFloat64(),
			AverageCost:  pos.averageCost.InexactFloat64(),
			RealizedPnL:  pos.realized.InexactFloat64(),
			ClosedBasis:  pos.closedBasis.InexactFloat64(),
		}
		if !pos.closedBasis.IsZero() {
			snap.PnLPercent = pos.realized.Div(pos.closedBasis).Mul(hundred).InexactFloat64()
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Key, out[j].Key
		if a.Symbol != b.Symbol {
			return a.Symbol < b.Symbol
		}
		if a.Expiration != b.Expiration {
			return a.Expiration < b.Expiration
		}
		return a.Strike < b.Strike
	})
	return out
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

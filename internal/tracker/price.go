package tracker

import "sync"

// PriceTracker remembers the last observed price per contract identifier.
type PriceTracker struct {
	mu         sync.RWMutex
	lastPrices map[string]float64
}

// NewPriceTracker creates an empty PriceTracker.
func NewPriceTracker() *PriceTracker {
	return &PriceTracker{lastPrices: make(map[string]float64)}
}

// UpdateAndGetChange stores price for contract and returns the percent change
// from the previously stored price. The first observation of a contract, or a
// previous price of exactly zero, yields 0.
func (t *PriceTracker) UpdateAndGetChange(contract string, price float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	previous, seen := t.lastPrices[contract]
	t.lastPrices[contract] = price
	if !seen || previous == 0 {
		return 0
	}
	return (price - previous) / previous * 100
}

// LastPrice returns the last stored price for contract.
func (t *PriceTracker) LastPrice(contract string) (float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.lastPrices[contract]
	return p, ok
}

// Prices returns a copy of all stored prices.
func (t *PriceTracker) Prices() map[string]float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]float64, len(t.lastPrices))
	for k, v := range t.lastPrices {
		out[k] = v
	}
	return out
}

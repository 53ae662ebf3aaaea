// Package mock provides a synthetic order source for paper mode.
package mock

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eddiefleurent/fillwatch/internal/broker"
	"github.com/eddiefleurent/fillwatch/internal/util"
)

// DefaultSymbols are traded when NewOrderGenerator gets none.
var DefaultSymbols = []string{"SPY", "AAPL", "SPY   250321C00600000"}

const orderTimeFormat = "2006-01-02T15:04:05.000Z"

// secureFloat64 generates a cryptographically secure random float64 between 0 and 1
func secureFloat64() float64 {
	n, err := rand.Int(rand.Reader, big.NewInt(1<<53))
	if err != nil {
		// Fallback to a reasonable default if crypto/rand fails
		return 0.5
	}
	return float64(n.Int64()) / (1 << 53)
}

// secureInt63n generates a cryptographically secure random int64 between 0 and n-1
func secureInt63n(n int64) int64 {
	max := big.NewInt(n)
	r, err := rand.Int(rand.Reader, max)
	if err != nil {
		// Fallback to a reasonable default if crypto/rand fails
		return n / 2
	}
	return r.Int64()
}

type fill struct {
	id          int64
	tag         string
	symbol      string
	instruction string
	qty         float64
	price       float64
	at          time.Time
}

// OrderGenerator implements broker.OrderSource with random-walk fills. Every
// call may add one fill; calls return all fills inside the lookback window,
// so repeated polls see the same orders again.
type OrderGenerator struct {
	mu          sync.Mutex
	symbols     []string
	prices      map[string]float64
	holdings    map[string]float64
	fills       []fill
	nextID      int64
	probability float64
	now         func() time.Time
}

var _ broker.OrderSource = (*OrderGenerator)(nil)

// GeneratorOption configures an OrderGenerator.
type GeneratorOption func(*OrderGenerator)

// WithFillProbability sets the chance, clamped to [0,1], that a call adds a fill.
func WithFillProbability(p float64) GeneratorOption {
	return func(g *OrderGenerator) {
		g.probability = math.Max(0, math.Min(1, p))
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) GeneratorOption {
	return func(g *OrderGenerator) {
		if now != nil {
			g.now = now
		}
	}
}

// NewOrderGenerator creates a generator trading symbols.
func NewOrderGenerator(symbols []string, opts ...GeneratorOption) *OrderGenerator {
	if len(symbols) == 0 {
		symbols = DefaultSymbols
	}
	g := &OrderGenerator{
		symbols:     symbols,
		prices:      make(map[string]float64, len(symbols)),
		holdings:    make(map[string]float64, len(symbols)),
		nextID:      1000000000 + secureInt63n(1000000),
		probability: 0.5,
		now:         time.Now,
	}
	for _, s := range symbols {
		g.prices[s] = startingPrice(s)
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func startingPrice(symbol string) float64 {
	if osi, ok := util.ParseOSI(symbol); ok {
		return util.RoundToTick(1+osi.Strike*0.01*(0.5+secureFloat64()), 0.01)
	}
	return util.RoundToTick(50+secureFloat64()*450, 0.01)
}

// GetAccountOrders returns Schwab-shaped FILLED orders entered within lookback.
func (g *OrderGenerator) GetAccountOrders(ctx context.Context, status string, lookback time.Duration) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now().UTC()
	if secureFloat64() < g.probability {
		g.fills = append(g.fills, g.generate(now))
	}

	orders := make([]schwabOrder, 0, len(g.fills))
	if status != "" && !strings.EqualFold(status, "FILLED") {
		return json.Marshal(orders)
	}
	cutoff := now.Add(-lookback)
	for _, f := range g.fills {
		if f.at.Before(cutoff) {
			continue
		}
		orders = append(orders, toSchwabOrder(f))
	}
	return json.Marshal(orders)
}

// generate walks the price of a random symbol and books a fill. Sells
// never exceed holdings.
func (g *OrderGenerator) generate(now time.Time) fill {
	symbol := g.symbols[secureInt63n(int64(len(g.symbols)))]

	price := g.prices[symbol]
	price = math.Max(0.01, price*(1+(secureFloat64()-0.5)*0.04))
	price = util.RoundToTick(price, 0.01)
	g.prices[symbol] = price

	held := g.holdings[symbol]
	selling := held > 0 && secureFloat64() < 0.5
	qty := float64(1 + secureInt63n(10))
	if selling {
		qty = math.Min(held, float64(1+secureInt63n(int64(held))))
		g.holdings[symbol] = held - qty
	} else {
		g.holdings[symbol] = held + qty
	}

	_, isOption := util.ParseOSI(symbol)
	var instruction string
	switch {
	case selling && isOption:
		instruction = "SELL_TO_CLOSE"
	case selling:
		instruction = "SELL"
	case isOption:
		instruction = "BUY_TO_OPEN"
	default:
		instruction = "BUY"
	}

	id := g.nextID
	g.nextID++
	return fill{
		id:          id,
		tag:         "paper-" + uuid.NewString()[:8],
		symbol:      symbol,
		instruction: instruction,
		qty:         qty,
		price:       price,
		at:          now,
	}
}

type schwabInstrument struct {
	AssetType        string `json:"assetType"`
	Symbol           string `json:"symbol"`
	UnderlyingSymbol string `json:"underlyingSymbol,omitempty"`
	PutCall          string `json:"putCall,omitempty"`
}

type schwabLeg struct {
	Instruction string           `json:"instruction"`
	Quantity    float64          `json:"quantity"`
	Instrument  schwabInstrument `json:"instrument"`
}

type schwabExecutionLeg struct {
	LegID    int     `json:"legId"`
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
	Time     string  `json:"time"`
}

type schwabActivity struct {
	ActivityType  string               `json:"activityType"`
	ExecutionLegs []schwabExecutionLeg `json:"executionLegs"`
}

type schwabOrder struct {
	OrderID                 int64            `json:"orderId"`
	Status                  string           `json:"status"`
	EnteredTime             string           `json:"enteredTime"`
	Tag                     string           `json:"tag"`
	OrderLegCollection      []schwabLeg      `json:"orderLegCollection"`
	OrderActivityCollection []schwabActivity `json:"orderActivityCollection"`
}

func toSchwabOrder(f fill) schwabOrder {
	inst := schwabInstrument{AssetType: "EQUITY", Symbol: f.symbol, UnderlyingSymbol: f.symbol}
	if osi, ok := util.ParseOSI(f.symbol); ok {
		inst = schwabInstrument{
			AssetType:        "OPTION",
			Symbol:           f.symbol,
			UnderlyingSymbol: osi.Underlying,
			PutCall:          osi.PutCall,
		}
	}
	ts := f.at.Format(orderTimeFormat)
	return schwabOrder{
		OrderID:     f.id,
		Status:      "FILLED",
		EnteredTime: ts,
		Tag:         f.tag,
		OrderLegCollection: []schwabLeg{
			{Instruction: f.instruction, Quantity: f.qty, Instrument: inst},
		},
		OrderActivityCollection: []schwabActivity{{
			ActivityType: "EXECUTION",
			ExecutionLegs: []schwabExecutionLeg{
				{LegID: 1, Price: f.price, Quantity: f.qty, Time: ts},
			},
		}},
	}
}

// Package flatten turns nested broker order payloads into one flat record
// per order leg using declarative gjson path mappings.
package flatten

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/eddiefleurent/fillwatch/internal/util"
)

// Record field names produced by DefaultMapping and the derived fields.
const (
	FieldSymbol      = "symbol"
	FieldUnderlying  = "underlying"
	FieldInstruction = "instruction"
	FieldQuantity    = "qty"
	FieldPrice       = "price"
	FieldOrderID     = "order_id"
	FieldTime        = "time"
	FieldAssetType   = "asset_type"
	FieldPutCall     = "put_call"
	FieldOrderStatus = "order_status"
	FieldEnteredTime = "entered_time"

	FieldSide       = "side"
	FieldExpiration = "expiration"
	FieldStrike     = "strike"
	FieldMultiLeg   = "multi_leg"
	FieldLeg        = "leg"
)

// legPlaceholder is replaced by the leg index in mapping paths.
const legPlaceholder = "{leg}"

var (
	// ErrInvalidJSON is returned when the payload is not valid JSON
	ErrInvalidJSON = errors.New("payload is not valid JSON")
	// ErrNotArray is returned when the payload is not a JSON array of orders
	ErrNotArray = errors.New("payload is not a JSON array")
)

// Mapping maps record field names to gjson paths. Paths may contain {leg}.
type Mapping map[string]string

// DefaultMapping extracts the fields of a Schwab account order.
var DefaultMapping = Mapping{
	FieldSymbol:      "orderLegCollection.{leg}.instrument.symbol",
	FieldUnderlying:  "orderLegCollection.{leg}.instrument.underlyingSymbol",
	FieldInstruction: "orderLegCollection.{leg}.instruction",
	FieldQuantity:    "orderLegCollection.{leg}.quantity",
	FieldPrice:       "orderActivityCollection.0.executionLegs.{leg}.price",
	FieldOrderID:     "orderId",
	FieldTime:        "orderActivityCollection.0.executionLegs.{leg}.time",
	FieldAssetType:   "orderLegCollection.{leg}.instrument.assetType",
	FieldPutCall:     "orderLegCollection.{leg}.instrument.putCall",
	FieldOrderStatus: "status",
	FieldEnteredTime: "enteredTime",
}

// Flattener converts raw order snapshots into records.
type Flattener struct {
	mapping Mapping
}

// New creates a Flattener for m; a nil mapping selects DefaultMapping.
func New(m Mapping) *Flattener {
	if m == nil {
		m = DefaultMapping
	}
	return &Flattener{mapping: m}
}

// Dataset flattens a JSON array of orders with DefaultMapping.
func Dataset(raw []byte) ([]Record, error) {
	return New(nil).Dataset(raw)
}

// Dataset flattens a JSON array of orders. An empty or null payload yields no
// records. Records keep the order of the orders and of their legs.
func (f *Flattener) Dataset(raw []byte) ([]Record, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	if !gjson.Valid(trimmed) {
		return nil, ErrInvalidJSON
	}
	parsed := gjson.Parse(trimmed)
	if !parsed.IsArray() {
		return nil, fmt.Errorf("%w: got %s", ErrNotArray, parsed.Type)
	}

	var records []Record
	for _, order := range parsed.Array() {
		records = append(records, f.Order(order)...)
	}
	return records, nil
}

// Order flattens a single order into one record per leg.
func (f *Flattener) Order(order gjson.Result) []Record {
	legs := order.Get("orderLegCollection").Array()
	records := make([]Record, 0, len(legs))
	for i := range legs {
		rec := f.extract(order, i)
		rec[FieldMultiLeg] = len(legs) > 1
		rec[FieldLeg] = i
		derive(rec)
		records = append(records, rec)
	}
	return records
}

func (f *Flattener) extract(order gjson.Result, leg int) Record {
	rec := make(Record, len(f.mapping)+6)
	idx := strconv.Itoa(leg)
	for field, path := range f.mapping {
		res := order.Get(strings.ReplaceAll(path, legPlaceholder, idx))
		if !res.Exists() || res.Type == gjson.Null {
			rec[field] = nil
			continue
		}
		rec[field] = res.Value()
	}
	return rec
}

// derive adds the normalized side and, for OSI option symbols, the contract
// expiration and strike when the mapping did not supply them.
func derive(rec Record) {
	if instr, ok := rec.String(FieldInstruction); ok {
		if side := NormalizeInstruction(instr); side != "" {
			rec[FieldSide] = side
		}
	}

	symbol, ok := rec.String(FieldSymbol)
	if !ok {
		return
	}
	osi, ok := util.ParseOSI(symbol)
	if !ok {
		return
	}
	if !rec.Has(FieldExpiration) {
		rec[FieldExpiration] = osi.ExpirationDate()
	}
	if !rec.Has(FieldStrike) {
		rec[FieldStrike] = osi.Strike
	}
	if !rec.Has(FieldUnderlying) {
		rec[FieldUnderlying] = osi.Underlying
	}
	if !rec.Has(FieldPutCall) {
		rec[FieldPutCall] = osi.PutCall
	}
}

// NormalizeInstruction maps broker order instructions onto BUY or SELL.
// Unknown instructions yield "".
func NormalizeInstruction(instr string) string {
	switch strings.ToUpper(strings.TrimSpace(instr)) {
	case "BUY", "BUY_TO_OPEN", "BUY_TO_CLOSE", "BUY_TO_COVER":
		return "BUY"
	case "SELL", "SELL_TO_OPEN", "SELL_TO_CLOSE", "SELL_SHORT":
		return "SELL"
	}
	return ""
}

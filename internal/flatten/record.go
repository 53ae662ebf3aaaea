package flatten

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Record is one flattened order leg. Missing fields are present with a nil
// value or absent altogether.
type Record map[string]any

// Has reports whether field holds a non-nil, non-empty value.
func (r Record) Has(field string) bool {
	v, ok := r[field]
	if !ok || v == nil {
		return false
	}
	if s, isString := v.(string); isString {
		return strings.TrimSpace(s) != ""
	}
	return true
}

// String returns field rendered as text.
func (r Record) String(field string) (string, bool) {
	if !r.Has(field) {
		return "", false
	}
	switch v := r[field].(type) {
	case string:
		return v, true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(v), true
	default:
		return fmt.Sprint(v), true
	}
}

// Float returns field as a finite number. Numeric strings are parsed;
// NaN and infinities count as missing.
func (r Record) Float(field string) (float64, bool) {
	if !r.Has(field) {
		return 0, false
	}
	var f float64
	switch v := r[field].(type) {
	case float64:
		f = v
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Identity returns the natural identity of the leg, order id + leg index +
// execution time. Records lacking an order id or execution time have none.
func (r Record) Identity() (string, bool) {
	orderID, ok := r.String(FieldOrderID)
	if !ok {
		return "", false
	}
	execTime, ok := r.String(FieldTime)
	if !ok {
		return "", false
	}
	leg, _ := r.String(FieldLeg)
	return orderID + "|" + leg + "|" + execTime, true
}

// Values returns a shallow copy of the record for template rendering.
func (r Record) Values() map[string]any {
	out := make(map[string]any, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

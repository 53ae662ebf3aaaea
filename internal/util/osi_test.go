package util

import (
	"math"
	"testing"
)

func TestParseOSI(t *testing.T) {
	tests := []struct {
		in             string
		wantOK         bool
		wantUnderlying string
		wantExpiration string
		wantPutCall    string
		wantStrike     float64
	}{
		{"SPY241220P00450000", true, "SPY", "2024-12-20", "PUT", 450},
		{"AAPL  240119C00150000", true, "AAPL", "2024-01-19", "CALL", 150},
		{"SPXW  250321C05672500", true, "SPXW", "2025-03-21", "CALL", 5672.5},
		{"  QQQ   240315p00400500  ", true, "QQQ", "2024-03-15", "PUT", 400.5},
		{"AAPL", false, "", "", "", 0},
		{"240119C00150000", false, "", "", "", 0},
		{"AAPL  240119X00150000", false, "", "", "", 0},
		{"AAPL  241319C00150000", false, "", "", "", 0},
		{"AAPL  24011AC00150000", false, "", "", "", 0},
		{"AAPL1240119C00150000", false, "", "", "", 0},
		{"AA PL 240119C00150000", false, "", "", "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseOSI(tt.in)
			if ok != tt.wantOK {
				t.Fatalf("ParseOSI(%q) ok = %t, want %t", tt.in, ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if got.Underlying != tt.wantUnderlying {
				t.Errorf("Underlying = %q, want %q", got.Underlying, tt.wantUnderlying)
			}
			if got.ExpirationDate() != tt.wantExpiration {
				t.Errorf("Expiration = %q, want %q", got.ExpirationDate(), tt.wantExpiration)
			}
			if got.PutCall != tt.wantPutCall {
				t.Errorf("PutCall = %q, want %q", got.PutCall, tt.wantPutCall)
			}
			if math.Abs(got.Strike-tt.wantStrike) > 1e-9 {
				t.Errorf("Strike = %v, want %v", got.Strike, tt.wantStrike)
			}
		})
	}
}

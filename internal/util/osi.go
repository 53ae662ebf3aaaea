package util

import (
	"strconv"
	"strings"
	"time"
)

// osiSuffixLen is YYMMDD + P/C + 8-digit strike
const osiSuffixLen = 15

// OSI is a parsed OCC option symbol.
type OSI struct {
	Underlying string
	Expiration time.Time
	PutCall    string // "PUT" | "CALL"
	Strike     float64
}

// ExpirationDate returns the expiration as YYYY-MM-DD.
func (o OSI) ExpirationDate() string {
	return o.Expiration.Format("2006-01-02")
}

// ParseOSI parses an OCC/OSI option symbol such as "SPY241220P00450000" or
// the space padded "AAPL  240119C00150000" form used by Schwab.
func ParseOSI(s string) (OSI, bool) {
	s = strings.TrimSpace(s)
	if len(s) <= osiSuffixLen {
		return OSI{}, false
	}

	suffix := s[len(s)-osiSuffixLen:]
	root := strings.TrimSpace(s[:len(s)-osiSuffixLen])
	if root == "" || strings.ContainsAny(root, " \t") {
		return OSI{}, false
	}

	date, typeChar, strike := suffix[:6], suffix[6], suffix[7:]
	if !isSixDigits(date) || !isEightDigits(strike) {
		return OSI{}, false
	}
	// the expiration must not be part of a longer numeric run
	if last := root[len(root)-1]; last >= '0' && last <= '9' {
		return OSI{}, false
	}

	var putCall string
	switch typeChar {
	case 'P', 'p':
		putCall = "PUT"
	case 'C', 'c':
		putCall = "CALL"
	default:
		return OSI{}, false
	}

	exp, err := time.Parse("060102", date)
	if err != nil {
		return OSI{}, false
	}
	milli, err := strconv.ParseInt(strike, 10, 64)
	if err != nil {
		return OSI{}, false
	}

	return OSI{
		Underlying: root,
		Expiration: exp,
		PutCall:    putCall,
		Strike:     float64(milli) / 1000,
	}, true
}

// isSixDigits checks if a string consists of exactly 6 digits
func isSixDigits(s string) bool {
	return len(s) == 6 && allDigits(s)
}

// isEightDigits checks if a string consists of exactly 8 digits
func isEightDigits(s string) bool {
	return len(s) == 8 && allDigits(s)
}

func allDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

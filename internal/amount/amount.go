// internal/amount/amount.go
package amount

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// Display amounts arrive in mixed denominations: fiat-abbreviated strings
// like "$1.2M" or "₹500K", plain numbers, and native-token decimals like
// "0.05 ETH". Aggregation parses each into a normalized magnitude, sums with
// exact decimal arithmetic, and reformats using the same M/K thresholds.

var (
	million  = decimal.NewFromInt(1_000_000)
	thousand = decimal.NewFromInt(1_000)
	billion  = decimal.NewFromInt(1_000_000_000)
)

// Parse extracts the numeric magnitude from a display amount. Currency
// symbols, commas and a trailing token symbol are ignored; a K/M/B suffix
// scales the value.
func Parse(s string) (decimal.Decimal, error) {
	orig := s
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, ' '); i > 0 {
		s = s[:i] // "0.05 ETH" -> "0.05"
	}
	s = strings.ReplaceAll(s, ",", "")

	// Strip currency symbols before the first numeric rune
	start := strings.IndexFunc(s, func(r rune) bool {
		return unicode.IsDigit(r) || r == '.' || r == '-'
	})
	if start < 0 {
		return decimal.Zero, fmt.Errorf("amount %q has no numeric part", orig)
	}
	s = s[start:]

	mult := decimal.NewFromInt(1)
	if n := len(s); n > 1 {
		switch s[n-1] {
		case 'B', 'b':
			mult, s = billion, s[:n-1]
		case 'M', 'm':
			mult, s = million, s[:n-1]
		case 'K', 'k':
			mult, s = thousand, s[:n-1]
		}
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("amount %q: %w", orig, err)
	}
	return d.Mul(mult), nil
}

// Sum parses and adds a list of display amounts. Unparseable entries are
// skipped so one malformed document cannot poison the ledger totals.
func Sum(amounts []string) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		d, err := Parse(a)
		if err != nil {
			continue
		}
		total = total.Add(d)
	}
	return total
}

// Format renders a normalized total back into abbreviated display form,
// prefixed with the given currency symbol.
func Format(total decimal.Decimal, symbol string) string {
	abs := total.Abs()
	switch {
	case abs.GreaterThanOrEqual(billion):
		return symbol + total.Div(billion).Round(1).String() + "B"
	case abs.GreaterThanOrEqual(million):
		return symbol + total.Div(million).Round(1).String() + "M"
	case abs.GreaterThanOrEqual(thousand):
		return symbol + total.Div(thousand).Round(1).String() + "K"
	default:
		return symbol + total.String()
	}
}

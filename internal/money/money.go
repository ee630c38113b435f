// Package money provides integer arithmetic on minor-currency-unit amounts.
//
// All monetary values in the platform are int64 minor units (cents for USD)
// and all rates are int64 basis points (1 bps = 0.01%). Working in integers
// end to end means fee breakdowns always sum exactly with no fractional-cent
// residue.
package money

import "fmt"

// BpsDenominator is the basis-point scale: 10000 bps = 100%.
const BpsDenominator = 10000

// ApplyBps returns amount * bps / 10000, rounded half-up to the nearest
// minor unit. Both amount and bps must be non-negative.
func ApplyBps(amount, bps int64) int64 {
	if amount <= 0 || bps <= 0 {
		return 0
	}
	return (amount*bps + BpsDenominator/2) / BpsDenominator
}

// Clamp bounds v to [min, max]. A max of 0 means unbounded above.
func Clamp(v, min, max int64) int64 {
	if v < min {
		v = min
	}
	if max > 0 && v > max {
		v = max
	}
	return v
}

// Format renders minor units as a major-unit decimal string, e.g.
// Format(150000, "usd") == "1500.00 USD". Display only; never parsed back.
func Format(amount int64, currency string) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, amount/100, amount%100, upper(currency))
}

func upper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}

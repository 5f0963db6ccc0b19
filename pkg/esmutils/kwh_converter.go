package esmutils

import (
	"math"

	"github.com/shopspring/decimal"
)

// Registers reporting in 0.01 kWh
func CentiKWHToKWH(raw uint32) float64 {
	return float64(raw) / 100
}

// Rounded to Wh. NaN and Inf have no decimal form and come back as zero, false.
func KWHToDecimal(kwh float64) (decimal.Decimal, bool) {
	if math.IsNaN(kwh) || math.IsInf(kwh, 0) {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(kwh).Round(3), true
}

// Money is kept to cents.
func RoundAmount(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(2)
}

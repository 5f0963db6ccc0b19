// Package statement prices billing totals and renders them for customers.
package statement

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/NotCoffee418/edge_billing/pkg/billing"
	"github.com/NotCoffee418/edge_billing/pkg/esmutils"
	"github.com/NotCoffee418/edge_billing/pkg/types"
)

var (
	ErrNilTotals          = errors.New("statement: totals required")
	ErrMissingMeterTotals = errors.New("statement: billing meter has no totals")
	ErrNegativePrice      = errors.New("statement: price must not be negative")
	ErrNonFiniteTotals    = errors.New("statement: totals are not finite numbers")
)

// Prices per kWh for the two origins of billed energy.
type Prices struct {
	IntroPerKWH decimal.Decimal
	ProdPerKWH  decimal.Decimal
}

func NewPrices(introPerKWH, prodPerKWH float64) Prices {
	return Prices{
		IntroPerKWH: decimal.NewFromFloat(introPerKWH),
		ProdPerKWH:  decimal.NewFromFloat(prodPerKWH),
	}
}

// Line is one billed meter.
type Line struct {
	MeterKey          string          `json:"meterKey"`
	MeterOnEdge       string          `json:"meterOnEdge"`
	MeterID           int64           `json:"meterId"`
	IntroKWH          decimal.Decimal `json:"introKWH"`
	PartFromProdKWH   decimal.Decimal `json:"partFromProdKWH"`
	PartFromIntroKWH  decimal.Decimal `json:"partFromIntroKWH"`
	ProdKWH           decimal.Decimal `json:"prodKWH"`
	Amount            decimal.Decimal `json:"amount"`
	ProductionLeakage bool            `json:"productionLeakage"`
}

type Report struct {
	EdgeID      string          `json:"edgeId"`
	Currency    string          `json:"currency"`
	PeriodStart time.Time       `json:"periodStart"`
	PeriodEnd   time.Time       `json:"periodEnd"`
	GeneratedAt time.Time       `json:"generatedAt"`
	IntroPrice  decimal.Decimal `json:"introPrice"`
	ProdPrice   decimal.Decimal `json:"prodPrice"`
	Lines       []Line          `json:"lines"`
	TotalKWH    decimal.Decimal `json:"totalKWH"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	Warnings    []string        `json:"warnings,omitempty"`
}

// BuildReport prices every billing meter of edge in configuration order.
// Amounts are computed from the rounded kWh shares so the printed figures add up.
func BuildReport(edge types.Edge, prices Prices, currency string, totals *billing.KWHTotals) (*Report, error) {
	if totals == nil {
		return nil, ErrNilTotals
	}
	if prices.IntroPerKWH.IsNegative() || prices.ProdPerKWH.IsNegative() {
		return nil, ErrNegativePrice
	}

	report := &Report{
		EdgeID:      edge.ID,
		Currency:    currency,
		GeneratedAt: time.Now().UTC(),
		IntroPrice:  prices.IntroPerKWH,
		ProdPrice:   prices.ProdPerKWH,
		Lines:       make([]Line, 0, len(edge.BillingMeters)),
		TotalKWH:    decimal.Zero,
		TotalAmount: decimal.Zero,
	}
	report.Warnings = append(report.Warnings, totals.Warnings...)

	for _, meter := range edge.BillingMeters {
		key := meter.BillingKey()
		bt, ok := totals.Meter(key)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingMeterTotals, key)
		}

		intro, err := kwh(key, "intro", bt.TotalKWHBillIntro)
		if err != nil {
			return nil, err
		}
		fromProd, err := kwh(key, "part from production", bt.TotalKWHBillPartFromProd)
		if err != nil {
			return nil, err
		}
		fromIntro, err := kwh(key, "part from introduction", bt.TotalKWHBillPartFromIntro)
		if err != nil {
			return nil, err
		}
		// Production on a billing meter is informational and may be unknown.
		prod, _ := esmutils.KWHToDecimal(bt.TotalKWHBillProd)

		line := Line{
			MeterKey:          key,
			MeterOnEdge:       meter.MeterOnEdge,
			MeterID:           meter.MeterID,
			IntroKWH:          intro,
			PartFromProdKWH:   fromProd,
			PartFromIntroKWH:  fromIntro,
			ProdKWH:           prod,
			ProductionLeakage: bt.ProductionLeakage,
		}
		line.Amount = esmutils.RoundAmount(
			line.PartFromProdKWH.Mul(prices.ProdPerKWH).Add(line.PartFromIntroKWH.Mul(prices.IntroPerKWH)),
		)

		report.Lines = append(report.Lines, line)
		report.TotalKWH = report.TotalKWH.Add(line.IntroKWH)
		report.TotalAmount = report.TotalAmount.Add(line.Amount)
	}

	return report, nil
}

// SetPeriod records the billed window on the report.
func (r *Report) SetPeriod(start, end time.Time) {
	r.PeriodStart = start.UTC()
	r.PeriodEnd = end.UTC()
}

func kwh(key, field string, v float64) (decimal.Decimal, error) {
	d, ok := esmutils.KWHToDecimal(v)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s %s", ErrNonFiniteTotals, key, field)
	}
	return d, nil
}

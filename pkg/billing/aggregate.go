// Package billing integrates cumulative meter registers into billed energy
// totals, splitting billed import between self-produced and grid shares.
package billing

import (
	"fmt"
	"math"

	log "github.com/sirupsen/logrus"

	"github.com/NotCoffee418/edge_billing/pkg/readmode"
	"github.com/NotCoffee418/edge_billing/pkg/types"
)

// DefaultLeakageToleranceKWH is the production on a billing meter above which
// it is reported as leakage.
const DefaultLeakageToleranceKWH = 0.001

// Options tune an aggregation run.
type Options struct {
	// LeakageToleranceKWH is DefaultLeakageToleranceKWH when nil. Zero flags
	// any production at all.
	LeakageToleranceKWH *float64
}

// WithLeakageTolerance returns Options with an explicit tolerance.
func WithLeakageTolerance(kwh float64) Options {
	return Options{LeakageToleranceKWH: &kwh}
}

func (o Options) leakageTolerance() float64 {
	if o.LeakageToleranceKWH == nil {
		return DefaultLeakageToleranceKWH
	}
	return *o.LeakageToleranceKWH
}

type billedMeter struct {
	desc   readmode.Descriptor
	prev   types.StepEnergy
	totals *BillingTotals
}

// Aggregate walks a time ordered series and returns fresh totals for every
// billing meter of the edge.
//
// Missing columns and non-numeric readings are not rejected here, they
// propagate as NaN into the affected sums. Use ValidateSeries first when that
// is not acceptable.
func Aggregate(edge types.Edge, series []types.TimedRow, opts Options) (*KWHTotals, error) {
	if len(series) == 0 {
		return nil, ErrEmptySeries
	}

	intro := readmode.Decode(edge.IntroductionMeter)
	prod := readmode.Decode(edge.ProductionMeter)

	first := series[0].Values
	prevIntro := intro.Sum(first)
	prevProd := prod.Sum(first)

	result := &KWHTotals{
		EdgeID:       edge.ID,
		IntroAtStart: prevIntro,
		ProdAtStart:  prevProd,
		Billing:      make(map[string]*BillingTotals, len(edge.BillingMeters)),
	}

	billed := make([]*billedMeter, 0, len(edge.BillingMeters))
	for _, m := range edge.BillingMeters {
		if _, dup := result.Billing[m.BillingKey()]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateBillingMeter, m.BillingKey())
		}
		desc := readmode.Decode(m)
		start := desc.Sum(first)
		totals := &BillingTotals{
			MeterID:     m.MeterID,
			MeterOnEdge: m.MeterOnEdge,
			BillAtStart: start,
		}
		result.Billing[m.BillingKey()] = totals
		billed = append(billed, &billedMeter{desc: desc, prev: start, totals: totals})
	}

	var last StepSnapshot
	for i := 1; i < len(series); i++ {
		row := series[i].Values

		curIntro := intro.Sum(row)
		curProd := prod.Sum(row)
		introDelta := curIntro.Sub(prevIntro)
		prodDelta := curProd.Sub(prevProd)

		step := StepSnapshot{
			ImportIntro: introDelta.Consumption,
			ExportIntro: introDelta.Production,
			ImportProd:  prodDelta.Consumption,
			ExportProd:  prodDelta.Production,
		}
		step.PercentProdOverIntroStraight = ratio(step.ExportProd, step.ImportIntro)
		step.PercentProdOverIntroReverse = ratio(step.ImportIntro, step.ExportProd)

		for _, b := range billed {
			cur := b.desc.Sum(row)
			billDelta := cur.Sub(b.prev)

			b.totals.TotalKWHBillIntro += billDelta.Consumption
			b.totals.TotalKWHBillPartFromProd += billDelta.Consumption * step.PercentProdOverIntroStraight
			b.totals.TotalKWHBillPartFromIntro += billDelta.Consumption * (1 - step.PercentProdOverIntroStraight)
			b.totals.TotalKWHBillProd += billDelta.Production

			b.prev = cur
		}

		prevIntro = curIntro
		prevProd = curProd
		last = step
		result.Steps++
	}

	result.IntroAtEnd = prevIntro
	result.ProdAtEnd = prevProd
	if result.Steps > 0 {
		result.LastStep = &last
	}

	tolerance := opts.leakageTolerance()
	for _, b := range billed {
		b.totals.BillAtEnd = b.prev
		if math.IsNaN(b.totals.TotalKWHBillProd) {
			msg := fmt.Sprintf("billing meter %s (%d) production is unknown, leakage cannot be checked",
				b.desc.Meter.MeterOnEdge, b.desc.Meter.MeterID)
			result.Warnings = append(result.Warnings, msg)
			log.WithFields(log.Fields{
				"edge":  edge.ID,
				"meter": b.desc.Meter.BillingKey(),
			}).Warn("Unknown production on billing meter")
			continue
		}
		if math.Abs(b.totals.TotalKWHBillProd) > tolerance {
			b.totals.ProductionLeakage = true
			msg := fmt.Sprintf("billing meter %s (%d) registered %.3f kWh production",
				b.desc.Meter.MeterOnEdge, b.desc.Meter.MeterID, b.totals.TotalKWHBillProd)
			result.Warnings = append(result.Warnings, msg)
			log.WithFields(log.Fields{
				"edge":  edge.ID,
				"meter": b.desc.Meter.BillingKey(),
				"kwh":   b.totals.TotalKWHBillProd,
			}).Warn("Production leakage on billing meter")
		}
	}

	return result, nil
}

// ratio divides, returning 0 instead of a division by zero.
func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

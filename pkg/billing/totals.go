package billing

import (
	"math"

	"github.com/NotCoffee418/edge_billing/pkg/types"
)

// Epsilon is the tolerance used when comparing accumulated kWh values.
const Epsilon = 1e-9

// BillingTotals accumulates the billed energy of one billing meter.
type BillingTotals struct {
	MeterID     int64            `json:"meterId"`
	MeterOnEdge string           `json:"meterOnEdge"`
	BillAtStart types.StepEnergy `json:"billAtStart"`
	BillAtEnd   types.StepEnergy `json:"billAtEnd"`

	TotalKWHBillIntro         float64 `json:"totalKWHBill_intro"`
	TotalKWHBillPartFromProd  float64 `json:"totalKWHBill_partFromProd"`
	TotalKWHBillPartFromIntro float64 `json:"totalKWHBill_partFromIntro"`
	// TotalKWHBillProd is production seen on a billing meter, expected ~0.
	TotalKWHBillProd float64 `json:"totalKWHBill_prod"`

	ProductionLeakage bool `json:"productionLeakage"`
}

// SplitBalanced reports whether both shares add up to the billed import.
func (b *BillingTotals) SplitBalanced() bool {
	sum := b.TotalKWHBillPartFromProd + b.TotalKWHBillPartFromIntro
	return math.Abs(sum-b.TotalKWHBillIntro) <= Epsilon*math.Max(1, math.Abs(b.TotalKWHBillIntro))
}

// StepSnapshot holds the deltas and ratios computed for a single step.
//
// PercentProdOverIntroStraight is ExportProd / ImportIntro.
// PercentProdOverIntroReverse is its reciprocal, ImportIntro / ExportProd.
// Swapping the meters' roles instead would give ExportIntro / ImportProd;
// that reading is not used. Both ratios are 0 when the divisor is 0.
//
// The import/export deltas are not accumulated. Only the values of the final
// step of a series are reported; consumers that need running sums must use the
// BillingTotals accumulators.
type StepSnapshot struct {
	ImportIntro float64 `json:"totalKWHImport_intro"`
	ExportIntro float64 `json:"totalKWHExport_intro"`
	ImportProd  float64 `json:"totalKWHImport_prod"`
	ExportProd  float64 `json:"totalKWHExport_prod"`

	PercentProdOverIntroStraight float64 `json:"percentProdOverIntro_straight"`
	PercentProdOverIntroReverse  float64 `json:"percentProdOverIntro_reverse"`
}

// KWHTotals is the result of aggregating one edge over one series.
type KWHTotals struct {
	EdgeID string `json:"edgeId"`
	Steps  int    `json:"steps"`

	IntroAtStart types.StepEnergy `json:"introAtStart"`
	IntroAtEnd   types.StepEnergy `json:"introAtEnd"`
	ProdAtStart  types.StepEnergy `json:"prodAtStart"`
	ProdAtEnd    types.StepEnergy `json:"prodAtEnd"`

	// LastStep is nil when the series had a single row.
	LastStep *StepSnapshot `json:"lastStep,omitempty"`

	Billing  map[string]*BillingTotals `json:"billingTotals"`
	Warnings []string                  `json:"warnings,omitempty"`
}

// Meter returns the totals for a billing meter key ("meter_<id>").
func (t *KWHTotals) Meter(key string) (*BillingTotals, bool) {
	b, ok := t.Billing[key]
	return b, ok
}

package types

import "fmt"

// Meter is the billing-relevant configuration of one meter on an edge.
type Meter struct {
	MeterOnEdge string `json:"meterOnEdge" toml:"meter_on_edge"`
	ReadMode    uint8  `json:"readMode" toml:"read_mode"`
	MeterID     int64  `json:"meterId" toml:"meter_id"`
}

// ColumnPrefix is prepended to every column name of this meter.
func (m Meter) ColumnPrefix() string {
	return m.MeterOnEdge + "_"
}

// BillingKey is the key the meter's totals are stored under.
func (m Meter) BillingKey() string {
	return fmt.Sprintf("meter_%d", m.MeterID)
}

// Edge groups the meters of one remote edge device.
type Edge struct {
	ID                string  `json:"id" toml:"id"`
	IntroductionMeter Meter   `json:"introductionMeter" toml:"introduction_meter"`
	ProductionMeter   Meter   `json:"productionMeter" toml:"production_meter"`
	BillingMeters     []Meter `json:"billingMeters" toml:"billing_meters"`
}

// Meters returns every meter on the edge, introduction and production first.
func (e Edge) Meters() []Meter {
	meters := make([]Meter, 0, len(e.BillingMeters)+2)
	meters = append(meters, e.IntroductionMeter, e.ProductionMeter)
	return append(meters, e.BillingMeters...)
}

package readmode

import (
	"github.com/NotCoffee418/edge_billing/pkg/types"
)

// Phase identifies one register group of a meter.
type Phase int

const (
	F1 Phase = iota
	F2
	F3
	Sys
)

func (p Phase) String() string {
	switch p {
	case F1:
		return "F1"
	case F2:
		return "F2"
	case F3:
		return "F3"
	case Sys:
		return "Sys"
	default:
		return "Unknown"
	}
}

// Phases lists the per-phase register groups, without Sys.
var Phases = []Phase{F1, F2, F3}

// Columns names the registers read for one phase and the sign applied to them.
type Columns struct {
	Consumption string  `json:"consumption"`
	Production  string  `json:"production"`
	Sign        float64 `json:"sign"`
}

// Descriptor is the decoded, read-only view of a meter's read mode.
type Descriptor struct {
	Meter    types.Meter `json:"meter"`
	ReadMode uint8       `json:"readMode"`
	Mode     Mode        `json:"mode"`
	SumMode  bool        `json:"sumMode"`
	F1       Columns     `json:"f1"`
	F2       Columns     `json:"f2"`
	F3       Columns     `json:"f3"`
	Sys      Columns     `json:"sys"`
}

// Decode builds the descriptor for a meter. It never fails.
func Decode(meter types.Meter) Descriptor {
	mode := ParseMode(meter.ReadMode)
	prefix := meter.ColumnPrefix()

	return Descriptor{
		Meter:    meter,
		ReadMode: meter.ReadMode,
		Mode:     mode,
		SumMode:  mode.SumMode(),
		F1:       phaseColumns(prefix, F1, mode.Invert.F1, mode.Swap.F1),
		F2:       phaseColumns(prefix, F2, mode.Invert.F2, mode.Swap.F2),
		F3:       phaseColumns(prefix, F3, mode.Invert.F3, mode.Swap.F3),
		Sys:      phaseColumns(prefix, Sys, mode.Invert.Sys, mode.Swap.Sys),
	}
}

func phaseColumns(prefix string, phase Phase, invert, swap bool) Columns {
	cols := Columns{
		Consumption: ColumnName(prefix, "Consumption", phase),
		Production:  ColumnName(prefix, "Production", phase),
		Sign:        1,
	}
	if swap {
		cols.Consumption, cols.Production = cols.Production, cols.Consumption
	}
	if invert {
		cols.Sign = -1
	}
	return cols
}

// ColumnName builds "<prefix><kind><phase>", e.g. "meter0_ConsumptionF1".
func ColumnName(prefix, kind string, phase Phase) string {
	return prefix + kind + phase.String()
}

// Phase returns the columns for one phase.
func (d Descriptor) Phase(p Phase) Columns {
	switch p {
	case F1:
		return d.F1
	case F2:
		return d.F2
	case F3:
		return d.F3
	default:
		return d.Sys
	}
}

// RequiredColumns lists the columns Sum reads from a row.
func (d Descriptor) RequiredColumns() []string {
	if !d.SumMode {
		return []string{d.Sys.Consumption, d.Sys.Production}
	}
	cols := make([]string, 0, 2*len(Phases))
	for _, p := range Phases {
		c := d.Phase(p)
		cols = append(cols, c.Consumption, c.Production)
	}
	return cols
}

// Sum totals the meter's consumption and production for one row.
// A missing column yields NaN in the affected field.
func (d Descriptor) Sum(row types.Row) types.StepEnergy {
	if !d.SumMode {
		return types.StepEnergy{
			Consumption: d.Sys.Sign * row.Value(d.Sys.Consumption),
			Production:  d.Sys.Sign * row.Value(d.Sys.Production),
		}
	}

	var step types.StepEnergy
	for _, p := range Phases {
		c := d.Phase(p)
		step.Consumption += c.Sign * row.Value(c.Consumption)
		step.Production += c.Sign * row.Value(c.Production)
	}
	return step
}

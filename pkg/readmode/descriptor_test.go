package readmode

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NotCoffee418/edge_billing/pkg/types"
)

func meterWithMode(mode int) types.Meter {
	return types.Meter{MeterOnEdge: "meter0", ReadMode: uint8(mode), MeterID: 1}
}

func expectedSign(mode int, bit uint8) float64 {
	if uint8(mode)&bit != 0 {
		return -1
	}
	return 1
}

func TestDecodeSignsForEveryMode(t *testing.T) {
	for mode := 0; mode <= 255; mode++ {
		d := Decode(meterWithMode(mode))

		assert.Equal(t, expectedSign(mode, InvertF1), d.F1.Sign, "mode %#02x F1", mode)
		assert.Equal(t, expectedSign(mode, InvertF2), d.F2.Sign, "mode %#02x F2", mode)
		assert.Equal(t, expectedSign(mode, InvertF3), d.F3.Sign, "mode %#02x F3", mode)
		assert.Equal(t, expectedSign(mode, InvertSys), d.Sys.Sign, "mode %#02x Sys", mode)
	}
}

func TestDecodeSumModeForEveryMode(t *testing.T) {
	for mode := 0; mode <= 255; mode++ {
		d := Decode(meterWithMode(mode))
		assert.Equal(t, mode&0xE0 != 0, d.SumMode, "mode %#02x", mode)
	}
}

func TestDecodeSwapBitSwapsColumns(t *testing.T) {
	swaps := map[Phase]uint8{F1: SwapF1, F2: SwapF2, F3: SwapF3, Sys: SwapSys}

	for mode := 0; mode <= 255; mode++ {
		for phase, bit := range swaps {
			d := Decode(meterWithMode(mode))
			flipped := Decode(meterWithMode(mode ^ int(bit)))

			assert.Equal(t, d.Phase(phase).Consumption, flipped.Phase(phase).Production, "mode %#02x %s", mode, phase)
			assert.Equal(t, d.Phase(phase).Production, flipped.Phase(phase).Consumption, "mode %#02x %s", mode, phase)
		}
	}
}

func TestModeByteRoundTrip(t *testing.T) {
	for mode := 0; mode <= 255; mode++ {
		assert.Equal(t, uint8(mode), ParseMode(uint8(mode)).Byte())
	}
}

func TestDecodeColumnNames(t *testing.T) {
	d := Decode(meterWithMode(0))

	assert.Equal(t, "meter0_ConsumptionF1", d.F1.Consumption)
	assert.Equal(t, "meter0_ProductionF3", d.F3.Production)
	assert.Equal(t, "meter0_ConsumptionSys", d.Sys.Consumption)
	assert.Equal(t, "meter0_ProductionSys", d.Sys.Production)
}

func TestSumSystemTotals(t *testing.T) {
	row := types.Row{"meter0_ConsumptionSys": 100, "meter0_ProductionSys": 10}

	got := Decode(meterWithMode(0x00)).Sum(row)

	assert.Equal(t, types.StepEnergy{Consumption: 100, Production: 10}, got)
}

func TestSumInvertedAndSwappedSystem(t *testing.T) {
	row := types.Row{"meter0_ConsumptionSys": 100, "meter0_ProductionSys": 10}
	d := Decode(meterWithMode(0x11))

	require.Equal(t, "meter0_ProductionSys", d.Sys.Consumption)
	require.Equal(t, -1.0, d.Sys.Sign)

	got := d.Sum(row)
	assert.Equal(t, -10.0, got.Consumption)
	assert.Equal(t, -100.0, got.Production)
}

func TestSumPhases(t *testing.T) {
	row := types.Row{
		"meter0_ConsumptionF1": 1, "meter0_ProductionF1": 10,
		"meter0_ConsumptionF2": 2, "meter0_ProductionF2": 20,
		"meter0_ConsumptionF3": 3, "meter0_ProductionF3": 30,
		"meter0_ConsumptionSys": 1000, "meter0_ProductionSys": 1000,
	}

	tests := []struct {
		name string
		mode int
		want types.StepEnergy
	}{
		// F1 swapped: consumption reads ProductionF1.
		{"swap F1", 0x20, types.StepEnergy{Consumption: 10 + 2 + 3, Production: 1 + 20 + 30}},
		{"swap F1 invert F2", 0x24, types.StepEnergy{Consumption: 10 - 2 + 3, Production: 1 - 20 + 30}},
		{"swap all phases", 0xE0, types.StepEnergy{Consumption: 60, Production: 6}},
		{"invert F3 only stays on Sys", 0x08, types.StepEnergy{Consumption: 1000, Production: 1000}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decode(meterWithMode(tt.mode)).Sum(row)
			assert.InDelta(t, tt.want.Consumption, got.Consumption, 1e-9)
			assert.InDelta(t, tt.want.Production, got.Production, 1e-9)
		})
	}
}

func TestSumMissingColumnPropagatesNaN(t *testing.T) {
	row := types.Row{"meter0_ConsumptionSys": 5}

	got := Decode(meterWithMode(0)).Sum(row)

	assert.Equal(t, 5.0, got.Consumption)
	assert.True(t, math.IsNaN(got.Production))
}

func TestRequiredColumns(t *testing.T) {
	assert.Equal(t,
		[]string{"meter0_ConsumptionSys", "meter0_ProductionSys"},
		Decode(meterWithMode(0x01)).RequiredColumns())
	assert.Len(t, Decode(meterWithMode(0x40)).RequiredColumns(), 6)
}

// Package readmode decodes the 8 bit meter read mode into the columns and
// signs used to sum a meter's registers.
package readmode

// Bit layout of the read mode byte.
const (
	InvertSys uint8 = 0x01
	InvertF1  uint8 = 0x02
	InvertF2  uint8 = 0x04
	InvertF3  uint8 = 0x08
	SwapSys   uint8 = 0x10
	SwapF1    uint8 = 0x20
	SwapF2    uint8 = 0x40
	SwapF3    uint8 = 0x80

	// sumModeMask selects the phase swap bits. Any of them set means the
	// meter totals are summed from the phases.
	sumModeMask uint8 = SwapF1 | SwapF2 | SwapF3
)

// PhaseSet holds one flag per phase and one for the system total.
type PhaseSet struct {
	F1  bool `json:"f1"`
	F2  bool `json:"f2"`
	F3  bool `json:"f3"`
	Sys bool `json:"sys"`
}

// SignSet marks phases whose sign is inverted.
type SignSet = PhaseSet

// SwapSet marks phases whose consumption and production columns are swapped.
type SwapSet = PhaseSet

// Mode is the read mode byte split into its flags.
type Mode struct {
	Invert SignSet `json:"invert"`
	Swap   SwapSet `json:"swap"`
}

// ParseMode splits a read mode byte. Every value is valid.
func ParseMode(b uint8) Mode {
	return Mode{
		Invert: SignSet{
			F1:  b&InvertF1 != 0,
			F2:  b&InvertF2 != 0,
			F3:  b&InvertF3 != 0,
			Sys: b&InvertSys != 0,
		},
		Swap: SwapSet{
			F1:  b&SwapF1 != 0,
			F2:  b&SwapF2 != 0,
			F3:  b&SwapF3 != 0,
			Sys: b&SwapSys != 0,
		},
	}
}

// Byte packs the flags back into a read mode byte.
func (m Mode) Byte() uint8 {
	var b uint8
	set := func(on bool, bit uint8) {
		if on {
			b |= bit
		}
	}
	set(m.Invert.Sys, InvertSys)
	set(m.Invert.F1, InvertF1)
	set(m.Invert.F2, InvertF2)
	set(m.Invert.F3, InvertF3)
	set(m.Swap.Sys, SwapSys)
	set(m.Swap.F1, SwapF1)
	set(m.Swap.F2, SwapF2)
	set(m.Swap.F3, SwapF3)
	return b
}

// SumMode reports whether totals come from summing F1+F2+F3 instead of the
// system register. It is driven by the phase swap bits, the same bits that
// swap the phase columns.
func (m Mode) SumMode() bool {
	return m.Swap.F1 || m.Swap.F2 || m.Swap.F3
}

package p1source

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sigurn/crc16"

	"github.com/NotCoffee418/edge_billing/pkg/readmode"
	"github.com/NotCoffee418/edge_billing/pkg/types"
)

var (
	ErrInvalidCRC      = errors.New("p1source: invalid telegram crc")
	ErrMissingRegister = errors.New("p1source: telegram lacks energy registers")
)

var (
	timestampPattern = regexp.MustCompile(`0-0:1\.0\.0\((\d{12})([WS])\)`)

	// Cumulative energy registers, day (tariff 1) and night (tariff 2).
	consumptionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`1-0:1\.8\.1\((\d+\.\d+)\*kWh\)`),
		regexp.MustCompile(`1-0:1\.8\.2\((\d+\.\d+)\*kWh\)`),
	}
	productionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`1-0:2\.8\.1\((\d+\.\d+)\*kWh\)`),
		regexp.MustCompile(`1-0:2\.8\.2\((\d+\.\d+)\*kWh\)`),
	}
)

var crcTable = crc16.MakeTable(crc16.CRC16_ARC)

// ValidateCRC checks the CRC16/ARC after the closing '!'.
func ValidateCRC(telegram string) bool {
	parts := strings.Split(telegram, "!")
	if len(parts) != 2 || len(parts[1]) < 4 {
		return false
	}

	data := parts[0] + "!"
	givenCRC := parts[1][:4]
	calcCRC := fmt.Sprintf("%04X", crc16.Checksum([]byte(data), crcTable))

	return strings.ToUpper(givenCRC) == calcCRC
}

// ParseTelegram turns a DSMR telegram into a row of system totals for the
// meter named meterOnEdge. Instantaneous per-phase power is not cumulative
// and is left out. Readings without a telegram timestamp use now.
func ParseTelegram(telegram, meterOnEdge string, now time.Time) (types.TimedRow, error) {
	if !ValidateCRC(telegram) {
		return types.TimedRow{}, ErrInvalidCRC
	}

	consumption, okC := sumRegisters(telegram, consumptionPatterns)
	production, okP := sumRegisters(telegram, productionPatterns)
	if !okC || !okP {
		return types.TimedRow{}, ErrMissingRegister
	}

	prefix := meterOnEdge + "_"
	return types.TimedRow{
		Timestamp: parseTimestamp(telegram, now),
		Values: types.Row{
			readmode.ColumnName(prefix, "Consumption", readmode.Sys): consumption,
			readmode.ColumnName(prefix, "Production", readmode.Sys):  production,
		},
	}, nil
}

func sumRegisters(telegram string, patterns []*regexp.Regexp) (float64, bool) {
	var sum float64
	found := false
	for _, p := range patterns {
		match := p.FindStringSubmatch(telegram)
		if match == nil {
			continue
		}
		if v, err := strconv.ParseFloat(match[1], 64); err == nil {
			sum += v
			found = true
		}
	}
	return sum, found
}

// parseTimestamp reads YYMMDDhhmmss with W (winter, UTC+1) or S (summer,
// UTC+2) suffix.
func parseTimestamp(telegram string, now time.Time) time.Time {
	match := timestampPattern.FindStringSubmatch(telegram)
	if match == nil {
		return now.UTC()
	}
	offset := 1
	if match[2] == "S" {
		offset = 2
	}
	t, err := time.ParseInLocation("060102150405", match[1], time.FixedZone("", offset*3600))
	if err != nil {
		return now.UTC()
	}
	return t.UTC()
}

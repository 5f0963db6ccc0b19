package p1source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/sigurn/crc16"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NotCoffee418/edge_billing/pkg/types"
)

const telegramBody = "/FLU5\\253770234_A\r\n" +
	"\r\n" +
	"0-0:96.1.4(50217)\r\n" +
	"0-0:1.0.0(250114093000W)\r\n" +
	"1-0:1.8.1(000123.456*kWh)\r\n" +
	"1-0:1.8.2(000100.044*kWh)\r\n" +
	"1-0:2.8.1(000010.000*kWh)\r\n" +
	"1-0:2.8.2(000002.500*kWh)\r\n" +
	"1-0:1.7.0(00.512*kW)\r\n" +
	"1-0:21.7.0(00.200*kW)\r\n" +
	"!"

func withCRC(body string) string {
	crc := crc16.Checksum([]byte(body), crc16.MakeTable(crc16.CRC16_ARC))
	return body + fmt.Sprintf("%04X", crc) + "\r\n"
}

func TestValidateCRC(t *testing.T) {
	assert.True(t, ValidateCRC(withCRC(telegramBody)))
	assert.False(t, ValidateCRC(telegramBody+"0000\r\n"))
	assert.False(t, ValidateCRC("no terminator"))
}

func TestParseTelegram(t *testing.T) {
	row, err := ParseTelegram(withCRC(telegramBody), "meter2", time.Now())
	require.NoError(t, err)

	// Winter time is UTC+1.
	assert.Equal(t, time.Date(2025, 1, 14, 8, 30, 0, 0, time.UTC), row.Timestamp)
	assert.InDelta(t, 223.5, row.Values["meter2_ConsumptionSys"], 1e-9)
	assert.InDelta(t, 12.5, row.Values["meter2_ProductionSys"], 1e-9)
	assert.Len(t, row.Values, 2)
}

func TestParseTelegramErrors(t *testing.T) {
	_, err := ParseTelegram(telegramBody+"FFFF\r\n", "m", time.Now())
	assert.ErrorIs(t, err, ErrInvalidCRC)

	noEnergy := "/X\r\n0-0:1.0.0(250114093000W)\r\n!"
	_, err = ParseTelegram(withCRC(noEnergy), "m", time.Now())
	assert.ErrorIs(t, err, ErrMissingRegister)
}

func TestParseTelegramWithoutTimestamp(t *testing.T) {
	body := "/X\r\n1-0:1.8.1(1.000*kWh)\r\n1-0:2.8.1(0.000*kWh)\r\n!"
	now := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

	row, err := ParseTelegram(withCRC(body), "m", now)
	require.NoError(t, err)
	assert.Equal(t, now, row.Timestamp)
}

type fakePort struct {
	io.Reader
}

func (fakePort) Write(p []byte) (int, error) { return len(p), nil }
func (fakePort) Close() error                { return nil }

func TestStartReading(t *testing.T) {
	// Leading garbage before the first telegram start is ignored.
	data := "garbage\r\n" + withCRC(telegramBody) + withCRC(telegramBody)
	p := NewP1Reader("/dev/null", 115200, "meter2")
	p.open = func() (io.ReadWriteCloser, error) {
		return fakePort{Reader: bytes.NewBufferString(data)}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var rows []types.TimedRow
	err := p.StartReading(ctx, func(row types.TimedRow) { rows = append(rows, row) })

	assert.ErrorIs(t, err, io.EOF)
	assert.Len(t, rows, 2)
}

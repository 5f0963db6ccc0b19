// Package inverter reads the cumulative yield of a solar inverter over
// modbus TCP and reports it as a production meter row.
package inverter

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/goburrow/modbus"
	probing "github.com/prometheus-community/pro-bing"

	"github.com/NotCoffee418/edge_billing/pkg/esmutils"
	"github.com/NotCoffee418/edge_billing/pkg/readmode"
	"github.com/NotCoffee418/edge_billing/pkg/types"
)

var (
	ErrModbusNotConfigured = fmt.Errorf("modbus not configured")
	ErrModbusReadFailed    = fmt.Errorf("modbus read failed")
	ErrModbusNotConnected  = fmt.Errorf("modbus not connected")
)

const (
	// Accumulated energy yield, 2 registers, unit 0.01 kWh.
	totalYieldRegister uint16 = 32106
	totalYieldQuantity uint16 = 2

	cacheFor   = 10 * time.Second
	maxRetries = 3
)

// Config locates the inverter.
type Config struct {
	IP               string
	ModbusPort       int
	MeterOnEdge      string
	WlanConnectionId string
}

// Reader polls one inverter. Reads are cached to avoid spamming the poor inverter.
type Reader struct {
	cfg Config

	mu           sync.Mutex
	lastYieldKWH float64
	lastReadTime time.Time

	// readRegisters and ping are replaced in tests.
	readRegisters func() ([]byte, error)
	ping          func(host string) (bool, time.Duration, error)
}

func NewReader(cfg Config) *Reader {
	r := &Reader{cfg: cfg}
	r.readRegisters = r.readModbus
	r.ping = ping
	return r
}

// IsConfigured checks if the modbus configuration is set.
func (r *Reader) IsConfigured() bool {
	return r.cfg.IP != "" && r.cfg.ModbusPort != 0 && r.cfg.MeterOnEdge != ""
}

// ReadRow returns a production meter row holding the inverter's total yield.
func (r *Reader) ReadRow(now time.Time) (types.TimedRow, error) {
	yield, err := r.ReadTotalYield()
	if err != nil {
		return types.TimedRow{}, err
	}

	prefix := r.cfg.MeterOnEdge + "_"
	return types.TimedRow{
		Timestamp: now.UTC(),
		Values: types.Row{
			readmode.ColumnName(prefix, "Consumption", readmode.Sys): 0,
			readmode.ColumnName(prefix, "Production", readmode.Sys):  yield,
		},
	}, nil
}

// ReadTotalYield returns the lifetime yield in kWh.
func (r *Reader) ReadTotalYield() (float64, error) {
	if !r.IsConfigured() {
		return 0, ErrModbusNotConfigured
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastReadTime.After(time.Now().Add(-cacheFor)) {
		return r.lastYieldKWH, nil
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 && r.cfg.WlanConnectionId != "" {
			// Try reconnecting on retry attempts
			if err := r.tryReconnect(); err != nil {
				lastErr = fmt.Errorf("reconnect failed on attempt %d: %w", attempt+1, err)
				continue
			}
		}

		// Ping check before attempting modbus connection
		if ok, _, err := r.ping(r.cfg.IP); !ok || err != nil {
			lastErr = fmt.Errorf("ping failed on attempt %d: %w", attempt+1, errors.Join(ErrModbusNotConnected, err))
			continue
		}

		result, err := r.readRegisters()
		if err != nil {
			lastErr = fmt.Errorf("read yield failed on attempt %d: %w", attempt+1, err)
			continue
		}

		yield, err := decodeYield(result)
		if err != nil {
			lastErr = err
			continue
		}
		r.lastYieldKWH = yield
		r.lastReadTime = time.Now()
		return yield, nil
	}

	return 0, errors.Join(ErrModbusReadFailed, lastErr)
}

// decodeYield reads an unsigned 32 bit big endian register pair.
func decodeYield(result []byte) (float64, error) {
	if len(result) < 4 {
		return 0, fmt.Errorf("short register read: %d bytes", len(result))
	}
	return esmutils.CentiKWHToKWH(binary.BigEndian.Uint32(result[:4])), nil
}

func (r *Reader) readModbus() ([]byte, error) {
	handler := modbus.NewTCPClientHandler(fmt.Sprintf("%s:%d", r.cfg.IP, r.cfg.ModbusPort))
	handler.Timeout = 10 * time.Second
	handler.SlaveId = 0

	if err := handler.Connect(); err != nil {
		return nil, err
	}
	defer handler.Close()

	// The 2s delay after connecting causes everything to not implode as much
	time.Sleep(2 * time.Second)
	client := modbus.NewClient(handler)
	return client.ReadHoldingRegisters(totalYieldRegister, totalYieldQuantity)
}

func (r *Reader) tryReconnect() error {
	// Check if already connected
	ok, _, err := r.ping(r.cfg.IP)
	if err == nil && ok {
		return nil
	}

	// Try reconnecting to wifi
	cmd := exec.Command("nmcli", "connection", "up", r.cfg.WlanConnectionId)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to bring up wifi connection: %w", err)
	}

	// Wait a bit for the connection to establish
	time.Sleep(5 * time.Second)

	ok, _, err = r.ping(r.cfg.IP)
	if err != nil {
		return err
	}
	if !ok {
		return ErrModbusNotConnected
	}
	return nil
}

func ping(host string) (bool, time.Duration, error) {
	pinger, err := probing.NewPinger(host)
	if err != nil {
		return false, 0, err
	}

	pinger.Count = 1
	pinger.Timeout = 2 * time.Second
	pinger.SetPrivileged(false) // UDP-based, no root needed

	err = pinger.Run()
	if err != nil {
		return false, 0, err
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv > 0 {
		return true, stats.AvgRtt, nil
	}

	return false, 0, fmt.Errorf("no response")
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NotCoffee418/edge_billing/pkg/types"
)

const sampleBillingConfig = `
listen_address = "127.0.0.1"
listen_port = 9999
currency = "CHF"

[[edge]]
id = "site-a"
intro_price_per_kwh = 0.27
prod_price_per_kwh = 0.15

[edge.introduction_meter]
meter_on_edge = "meter0"
read_mode = 17
meter_id = 1

[edge.production_meter]
meter_on_edge = "meter1"
meter_id = 2

[[edge.billing_meters]]
meter_on_edge = "meter2"
read_mode = 224
meter_id = 3

[[edge.billing_meters]]
meter_on_edge = "meter3"
meter_id = 4
`

func TestLoadBillingAPIConfigCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "billing_api.toml")

	cfg, err := LoadBillingAPIConfigFrom(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultBillingAPIConfig(), cfg)

	_, err = os.Stat(path)
	require.NoError(t, err)

	again, err := LoadBillingAPIConfigFrom(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoadBillingAPIConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "billing_api.toml")
	require.NoError(t, os.WriteFile(path, []byte(sampleBillingConfig), 0o644))

	cfg, err := LoadBillingAPIConfigFrom(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.ListenAddress)
	assert.Equal(t, 9999, cfg.ListenPort)
	assert.Equal(t, "CHF", cfg.Currency)
	// Unset keys keep their defaults.
	assert.Equal(t, 90, cfg.RetentionDays)

	require.Len(t, cfg.Edges, 1)
	edge, ok := cfg.Edge("site-a")
	require.True(t, ok)
	assert.Equal(t, 0.27, edge.IntroPricePerKWH)
	assert.Equal(t, types.Meter{MeterOnEdge: "meter0", ReadMode: 0x11, MeterID: 1}, edge.IntroductionMeter)
	require.Len(t, edge.BillingMeters, 2)
	assert.Equal(t, uint8(0xE0), edge.BillingMeters[0].ReadMode)

	assert.Len(t, cfg.EdgeList(), 1)
}

func TestValidateRejectsDuplicates(t *testing.T) {
	cfg := DefaultBillingAPIConfig()
	dup := cfg.Edges[0]
	dup.BillingMeters = append(dup.BillingMeters, dup.BillingMeters[0])
	cfg.Edges = append(cfg.Edges, dup)

	err := cfg.Validate()
	assert.ErrorIs(t, err, ErrDuplicateEdge)
	assert.ErrorIs(t, err, ErrDuplicateBillingMeter)

	cfg = DefaultBillingAPIConfig()
	cfg.Edges[0].ProductionMeter.MeterOnEdge = ""
	assert.ErrorIs(t, cfg.Validate(), ErrEmptyMeterName)
}

func TestLeakageTolerance(t *testing.T) {
	path := filepath.Join(t.TempDir(), "billing_api.toml")
	require.NoError(t, os.WriteFile(path, []byte("leakage_tolerance_kwh = 0.0\n"+sampleBillingConfig), 0o644))

	cfg, err := LoadBillingAPIConfigFrom(path)
	require.NoError(t, err)
	assert.Equal(t, 0.0, cfg.LeakageToleranceKWH)

	cfg.LeakageToleranceKWH = -1
	assert.ErrorIs(t, cfg.Validate(), ErrNegativeTolerance)
}

func TestMeterCollectorSources(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meter_collector.toml")
	cfg, err := LoadMeterCollectorConfigFrom(path)
	require.NoError(t, err)

	assert.False(t, cfg.IsP1Configured())
	assert.False(t, cfg.IsInverterConfigured())

	cfg.P1.SerialDevice = "/dev/ttyUSB0"
	cfg.P1.EdgeID = "edge0"
	cfg.P1.MeterOnEdge = "meter2"
	assert.True(t, cfg.IsP1Configured())
}

package config

import "github.com/NotCoffee418/edge_billing/pkg/types"

type MeterCollectorConfig struct {
	EdgeHost   string   `toml:"edge_host"`
	TLSEnabled bool     `toml:"tls_enabled"`
	EdgeIDs    []string `toml:"edge_ids"`
	LogLevel   string   `toml:"log_level"`

	// Serves /metrics when set.
	MetricsAddress string `toml:"metrics_address"`

	// Optional local sources, left empty when the edge reports everything.
	P1       P1SourceConfig       `toml:"p1"`
	Inverter InverterSourceConfig `toml:"inverter"`
}

type P1SourceConfig struct {
	SerialDevice string `toml:"serial_device"`
	Baudrate     uint   `toml:"baudrate"`
	EdgeID       string `toml:"edge_id"`
	MeterOnEdge  string `toml:"meter_on_edge"`
}

type InverterSourceConfig struct {
	IP          string `toml:"ip"`
	ModbusPort  int    `toml:"modbus_port"`
	PollSeconds int    `toml:"poll_seconds"`
	EdgeID      string `toml:"edge_id"`
	MeterOnEdge string `toml:"meter_on_edge"`
	// Should be named `preconfigured`
	// Check with `nmcli device status`
	WlanConnectionId string `toml:"wlan_connection_id"`
}

type BillingAPIConfig struct {
	ListenAddress       string  `toml:"listen_address"`
	ListenPort          int     `toml:"listen_port"`
	LogLevel            string  `toml:"log_level"`
	LeakageToleranceKWH float64 `toml:"leakage_tolerance_kwh"`
	Currency            string  `toml:"currency"`
	// Raw rows older than this are removed once billed.
	RetentionDays int          `toml:"retention_days"`
	Edges         []EdgeConfig `toml:"edge"`
}

type EdgeConfig struct {
	types.Edge
	IntroPricePerKWH float64 `toml:"intro_price_per_kwh"`
	ProdPricePerKWH  float64 `toml:"prod_price_per_kwh"`
}

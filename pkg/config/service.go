package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/NotCoffee418/edge_billing/pkg/pathing"
	"github.com/NotCoffee418/edge_billing/pkg/types"
)

var (
	ActiveBillingAPIConfig     *BillingAPIConfig
	ActiveMeterCollectorConfig *MeterCollectorConfig
)

var (
	ErrDuplicateEdge         = errors.New("config: duplicate edge id")
	ErrEmptyEdgeID           = errors.New("config: empty edge id")
	ErrEmptyMeterName        = errors.New("config: empty meter_on_edge")
	ErrDuplicateBillingMeter = errors.New("config: duplicate billing meter id")
	ErrNegativeTolerance     = errors.New("config: leakage_tolerance_kwh must not be negative")
)

func DefaultBillingAPIConfig() *BillingAPIConfig {
	return &BillingAPIConfig{
		ListenAddress:       "0.0.0.0",
		ListenPort:          9040,
		LogLevel:            "info",
		LeakageToleranceKWH: 0.001,
		Currency:            "EUR",
		RetentionDays:       90,
		Edges: []EdgeConfig{
			{
				Edge: types.Edge{
					ID:                "edge0",
					IntroductionMeter: types.Meter{MeterOnEdge: "meter0", MeterID: 1},
					ProductionMeter:   types.Meter{MeterOnEdge: "meter1", MeterID: 2},
					BillingMeters: []types.Meter{
						{MeterOnEdge: "meter2", MeterID: 3},
					},
				},
				IntroPricePerKWH: 0.30,
				ProdPricePerKWH:  0.18,
			},
		},
	}
}

func DefaultMeterCollectorConfig() *MeterCollectorConfig {
	return &MeterCollectorConfig{
		EdgeHost:       "localhost:8085",
		TLSEnabled:     false,
		EdgeIDs:        []string{"edge0"},
		LogLevel:       "info",
		MetricsAddress: "0.0.0.0:9041",
		P1: P1SourceConfig{
			Baudrate: 115200,
		},
		Inverter: InverterSourceConfig{
			ModbusPort:       502,
			PollSeconds:      60,
			WlanConnectionId: "preconfigured", // Check with `nmcli device status`
		},
	}
}

func LoadBillingAPIConfig() error {
	cfg, err := LoadBillingAPIConfigFrom(filepath.Join(pathing.GetConfigDir(), "billing_api.toml"))
	if err != nil {
		return err
	}
	ActiveBillingAPIConfig = cfg
	return nil
}

// LoadBillingAPIConfigFrom reads the file at configPath, writing the defaults
// there first when it does not exist.
func LoadBillingAPIConfigFrom(configPath string) (*BillingAPIConfig, error) {
	cfg := DefaultBillingAPIConfig()
	created, err := createIfMissing(configPath, cfg)
	if err != nil {
		return nil, err
	}
	if !created {
		// Edges from the file replace the sample edge entirely.
		cfg.Edges = nil
		if err := decodeFile(configPath, cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func LoadMeterCollectorConfig() error {
	cfg, err := LoadMeterCollectorConfigFrom(filepath.Join(pathing.GetConfigDir(), "meter_collector.toml"))
	if err != nil {
		return err
	}
	ActiveMeterCollectorConfig = cfg
	return nil
}

func LoadMeterCollectorConfigFrom(configPath string) (*MeterCollectorConfig, error) {
	cfg := DefaultMeterCollectorConfig()
	created, err := createIfMissing(configPath, cfg)
	if err != nil {
		return nil, err
	}
	if !created {
		cfg.EdgeIDs = nil
		if err := decodeFile(configPath, cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// createIfMissing writes cfg to configPath when no file exists yet.
func createIfMissing(configPath string, cfg any) (bool, error) {
	if _, err := os.Stat(configPath); !os.IsNotExist(err) {
		return false, nil
	}
	cfgFile, err := os.Create(configPath)
	if err != nil {
		return false, err
	}
	defer cfgFile.Close()
	if err := toml.NewEncoder(cfgFile).Encode(cfg); err != nil {
		return false, err
	}
	return true, nil
}

func decodeFile(configPath string, cfg any) error {
	if _, err := toml.DecodeFile(configPath, cfg); err != nil {
		return fmt.Errorf("decode %s: %w", configPath, err)
	}
	return nil
}

// Validate checks edge and meter identities.
func (c *BillingAPIConfig) Validate() error {
	var errs []error
	if c.LeakageToleranceKWH < 0 {
		errs = append(errs, ErrNegativeTolerance)
	}
	edgeIDs := make(map[string]bool)
	for _, e := range c.Edges {
		if e.ID == "" {
			errs = append(errs, ErrEmptyEdgeID)
			continue
		}
		if edgeIDs[e.ID] {
			errs = append(errs, fmt.Errorf("%w: %s", ErrDuplicateEdge, e.ID))
		}
		edgeIDs[e.ID] = true

		meterIDs := make(map[int64]bool)
		for _, m := range e.Meters() {
			if m.MeterOnEdge == "" {
				errs = append(errs, fmt.Errorf("%w: edge %s meter %d", ErrEmptyMeterName, e.ID, m.MeterID))
			}
		}
		for _, m := range e.BillingMeters {
			if meterIDs[m.MeterID] {
				errs = append(errs, fmt.Errorf("%w: edge %s meter %d", ErrDuplicateBillingMeter, e.ID, m.MeterID))
			}
			meterIDs[m.MeterID] = true
		}
	}
	return errors.Join(errs...)
}

// Edge looks up an edge by id.
func (c *BillingAPIConfig) Edge(id string) (EdgeConfig, bool) {
	for _, e := range c.Edges {
		if e.ID == id {
			return e, true
		}
	}
	return EdgeConfig{}, false
}

// EdgeList returns the plain edge definitions.
func (c *BillingAPIConfig) EdgeList() []types.Edge {
	edges := make([]types.Edge, 0, len(c.Edges))
	for _, e := range c.Edges {
		edges = append(edges, e.Edge)
	}
	return edges
}

// IsP1Configured reports whether a local P1 port feeds a billing meter.
func (c *MeterCollectorConfig) IsP1Configured() bool {
	return c.P1.SerialDevice != "" && c.P1.EdgeID != "" && c.P1.MeterOnEdge != ""
}

// IsInverterConfigured reports whether an inverter feeds a production meter.
// This feature is optional, Empty values as config are acceptable.
func (c *MeterCollectorConfig) IsInverterConfigured() bool {
	return c.Inverter.IP != "" && c.Inverter.ModbusPort != 0 &&
		c.Inverter.EdgeID != "" && c.Inverter.MeterOnEdge != ""
}

package pathing

import (
	"os"
	"path/filepath"
)

// EnsureDirs creates the data and config directories when missing.
func EnsureDirs() error {
	// Directories that must exist:
	dirs := []string{
		GetDataDir(),
		GetConfigDir(),
	}

	for _, dir := range dirs {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return err
			}
		}
	}
	return nil
}

func GetMeterDbPath() string {
	return filepath.Join(GetDataDir(), "edge-billing.db")
}

func GetDataDir() string {
	if dir := os.Getenv("EDGE_BILLING_DATA_DIR"); dir != "" {
		return dir
	}
	return "/var/lib/edge_billing"
}

func GetConfigDir() string {
	if dir := os.Getenv("EDGE_BILLING_CONFIG_DIR"); dir != "" {
		return dir
	}
	return "/etc/edge_billing"
}

// Package config loads the JSON configuration file for the tapecore CLI:
// the default device URI, changer retry budgets, and logging setup.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Device  DeviceConfig  `json:"device"`
	Changer ChangerConfig `json:"changer"`
	Restore RestoreConfig `json:"restore"`
	Logging LoggingConfig `json:"logging"`
}

// DeviceConfig holds the default device URI and block size used when a
// command is invoked without an explicit -device flag.
type DeviceConfig struct {
	DefaultURI string `json:"default_uri"`
	BlockSize  int    `json:"block_size"`
}

// ChangerConfig holds the changer driver's retry budgets. Some
// libraries report not-ready for minutes after a load, so the rewind
// retry budget is configurable rather than hardcoded.
type ChangerConfig struct {
	SCSIDevice           string        `json:"scsi_device"`
	TestUnitReadyTimeout time.Duration `json:"test_unit_ready_timeout"`
	RewindRetryBudget    time.Duration `json:"rewind_retry_budget"`
	StatusMaxRetries     int           `json:"status_max_retries"`
	EmulateBarcode       bool          `json:"emulate_barcode"`
	LabelDBPath          string        `json:"label_db_path"`
}

// RestoreConfig holds the restore path's consecutive-error skip
// threshold and default body block size.
type RestoreConfig struct {
	MaxConsecutiveErrors int `json:"max_consecutive_errors"`
	BlockSize            int `json:"block_size"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Format     string `json:"format"` // "json" or "text"
	OutputPath string `json:"output_path"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			DefaultURI: "tape:/dev/nst0",
			BlockSize:  32 * 1024,
		},
		Changer: ChangerConfig{
			SCSIDevice:           "/dev/sch0",
			TestUnitReadyTimeout: 200 * time.Second,
			RewindRetryBudget:    180 * time.Second,
			StatusMaxRetries:     2,
			EmulateBarcode:       false,
			LabelDBPath:          "/var/lib/tapecore/labels.db",
		},
		Restore: RestoreConfig{
			MaxConsecutiveErrors: 10,
			BlockSize:            32 * 1024,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			OutputPath: "",
		},
	}
}

// Load loads configuration from a JSON file, falling back to defaults if
// the file doesn't exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save saves the configuration to a JSON file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

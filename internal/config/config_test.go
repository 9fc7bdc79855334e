package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Device.DefaultURI != "tape:/dev/nst0" {
		t.Errorf("expected default_uri tape:/dev/nst0, got %s", cfg.Device.DefaultURI)
	}

	if cfg.Device.BlockSize != 32*1024 {
		t.Errorf("expected block size 32768, got %d", cfg.Device.BlockSize)
	}

	if cfg.Changer.RewindRetryBudget != 180*time.Second {
		t.Errorf("expected rewind retry budget 180s, got %v", cfg.Changer.RewindRetryBudget)
	}

	if cfg.Restore.MaxConsecutiveErrors != 10 {
		t.Errorf("expected max consecutive errors 10, got %d", cfg.Restore.MaxConsecutiveErrors)
	}
}

func TestLoadNonExistentFile(t *testing.T) {
	cfg, err := Load("/non/existent/path.json")
	if err != nil {
		t.Fatalf("expected no error for non-existent file, got %v", err)
	}

	if cfg.Device.DefaultURI != "tape:/dev/nst0" {
		t.Errorf("expected default device uri, got %s", cfg.Device.DefaultURI)
	}
}

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	cfg := DefaultConfig()
	cfg.Device.DefaultURI = "rait:/mnt/tapes/{a,b,c}"
	cfg.Changer.EmulateBarcode = true

	if err := cfg.Save(configPath); err != nil {
		t.Fatalf("failed to save config: %v", err)
	}

	if _, err := os.Stat(configPath); err != nil {
		t.Fatalf("config file not created: %v", err)
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if loaded.Device.DefaultURI != "rait:/mnt/tapes/{a,b,c}" {
		t.Errorf("expected default_uri rait:/mnt/tapes/{a,b,c}, got %s", loaded.Device.DefaultURI)
	}

	if !loaded.Changer.EmulateBarcode {
		t.Error("expected EmulateBarcode to be true after load")
	}
}

func TestLoadOverridesOnlySetFields(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	if err := os.WriteFile(configPath, []byte(`{"restore":{"max_consecutive_errors":5}}`), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Restore.MaxConsecutiveErrors != 5 {
		t.Errorf("expected overridden max consecutive errors 5, got %d", cfg.Restore.MaxConsecutiveErrors)
	}
	if cfg.Device.DefaultURI != "tape:/dev/nst0" {
		t.Errorf("expected untouched default_uri to remain, got %s", cfg.Device.DefaultURI)
	}
}

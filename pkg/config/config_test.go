package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

// TestDefaultConfig_ScanDefaults verifies the orchestrator starts disabled
func TestDefaultConfig_ScanDefaults(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Scan.Mode != "off" {
		t.Errorf("Scan.Mode = %q, want off", cfg.Scan.Mode)
	}
	if cfg.Scan.IntervalMinutes != 15 {
		t.Errorf("Scan.IntervalMinutes = %d, want 15", cfg.Scan.IntervalMinutes)
	}
}

// TestDefaultConfig_DailyLimit verifies the global daily ceiling has a default
func TestDefaultConfig_DailyLimit(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Limits.MaxActionsPerDay == 0 {
		t.Error("MaxActionsPerDay should not be zero")
	}
}

func TestDefaultConfig_MoltbookAPIBase(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Moltbook.APIBase == "" {
		t.Error("Moltbook API base should not be empty")
	}
}

func TestScanInterval_ClampsInvalid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Scan.IntervalMinutes = 0

	if got := cfg.ScanInterval(); got != 15 {
		t.Errorf("ScanInterval() = %d, want 15", got)
	}
}

func TestLoadConfig_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("load missing config: %v", err)
	}
	if cfg.Agents.Defaults.Provider != "openrouter" {
		t.Errorf("Provider = %q, want openrouter", cfg.Agents.Defaults.Provider)
	}
}

func TestLoadConfig_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg := DefaultConfig()
	cfg.Moltbook.AgentUsername = "vision-bot"
	cfg.Limits.MaxActionsPerDay = 7
	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("save config: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if loaded.Moltbook.AgentUsername != "vision-bot" {
		t.Errorf("AgentUsername = %q, want vision-bot", loaded.Moltbook.AgentUsername)
	}
	if loaded.Limits.MaxActionsPerDay != 7 {
		t.Errorf("MaxActionsPerDay = %d, want 7", loaded.Limits.MaxActionsPerDay)
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	os.Setenv("MOLTVISION_SCAN_MODE", "autopilot")
	defer os.Unsetenv("MOLTVISION_SCAN_MODE")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Scan.Mode != "autopilot" {
		t.Errorf("Scan.Mode = %q, want autopilot from env", cfg.Scan.Mode)
	}
}

func TestFlexibleStringSlice_MixedTypes(t *testing.T) {
	var cfg Config
	raw := `{"channels":{"discord":{"allow_from":["123", 456]}}}`
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	got := cfg.Channels.Discord.AllowFrom
	if len(got) != 2 || got[0] != "123" || got[1] != "456" {
		t.Errorf("AllowFrom = %v, want [123 456]", got)
	}
}

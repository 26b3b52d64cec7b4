package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("Default log level mismatch: got %s, want info", cfg.LogLevel)
	}
	if cfg.MetricsEnabled {
		t.Errorf("Metrics should be disabled by default")
	}
	if cfg.MetricsPort != 9090 {
		t.Errorf("Default metrics port mismatch: got %d, want 9090", cfg.MetricsPort)
	}
	if len(cfg.CartridgePaths) != 1 || cfg.CartridgePaths[0] != "./cartridges" {
		t.Errorf("Default cartridge paths mismatch: got %v, want [./cartridges]", cfg.CartridgePaths)
	}
	if cfg.Wasm.MemoryPages != 256 || cfg.Wasm.CallTimeout != 250*time.Millisecond {
		t.Errorf("Default wasm config mismatch: %+v", cfg.Wasm)
	}
	if cfg.Display.Width != 320 || cfg.Display.Height != 240 || cfg.Display.TickRate != 60 {
		t.Errorf("Default display config mismatch: %+v", cfg.Display)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pixelhost.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
metrics_enabled: true
metrics_port: 8080
wasm:
  call_timeout: 1s
  wasi: true
display:
  width: 64
  height: 48
`)

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("Log level mismatch: got %s, want debug", cfg.LogLevel)
	}
	if cfg.MetricsPort != 8080 {
		t.Errorf("Metrics port mismatch: got %d, want 8080", cfg.MetricsPort)
	}
	if cfg.Wasm.CallTimeout != time.Second || !cfg.Wasm.WASI {
		t.Errorf("Wasm config mismatch: %+v", cfg.Wasm)
	}
	if cfg.Display.Width != 64 || cfg.Display.Height != 48 {
		t.Errorf("Display size mismatch: %dx%d", cfg.Display.Width, cfg.Display.Height)
	}
	// Unset keys keep their defaults.
	if cfg.Display.TickRate != 60 {
		t.Errorf("Tick rate mismatch: got %d, want 60", cfg.Display.TickRate)
	}
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("PIXELHOST_DISPLAY_TICK_RATE", "30")
	t.Setenv("PIXELHOST_LOG_LEVEL", "warn")

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Display.TickRate != 30 {
		t.Errorf("Tick rate mismatch: got %d, want 30", cfg.Display.TickRate)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("Log level mismatch: got %s, want warn", cfg.LogLevel)
	}
}

func TestLoadOverridesWin(t *testing.T) {
	t.Setenv("PIXELHOST_DISPLAY_MAX_TICKS", "5")
	path := writeConfig(t, "display:\n  max_ticks: 3\n")

	cfg, err := Load(path, map[string]any{"display.max_ticks": 9})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Display.MaxTicks != 9 {
		t.Errorf("Max ticks mismatch: got %d, want 9", cfg.Display.MaxTicks)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Error("missing config file should fail")
	}

	if _, err := Load(writeConfig(t, "display: [unclosed"), nil); err == nil {
		t.Error("invalid YAML should fail")
	}

	if _, err := Load(writeConfig(t, "display:\n  tick_rate: -1\n"), nil); err == nil {
		t.Error("negative tick rate should fail validation")
	}

	if _, err := Load("", map[string]any{"metrics_enabled": true, "metrics_port": 70000}); err == nil {
		t.Error("out of range metrics port should fail validation")
	}
}

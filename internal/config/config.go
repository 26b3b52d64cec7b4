// Package config loads pixelhost settings from a YAML file, PIXELHOST_
// environment variables and command line overrides, in increasing order of
// precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, with dots in keys
// becoming underscores: PIXELHOST_DISPLAY_TICK_RATE.
const EnvPrefix = "PIXELHOST"

type Config struct {
	LogLevel       string        `mapstructure:"log_level"`
	LogFile        string        `mapstructure:"log_file"`
	CartridgePaths []string      `mapstructure:"cartridge_paths"`
	MetricsEnabled bool          `mapstructure:"metrics_enabled"`
	MetricsPort    int           `mapstructure:"metrics_port"`
	Wasm           WasmConfig    `mapstructure:"wasm"`
	Display        DisplayConfig `mapstructure:"display"`
}

// WasmConfig holds guest runtime configuration.
type WasmConfig struct {
	// Memory limit per guest (in pages, 64KB each).
	MemoryPages uint32 `mapstructure:"memory_pages"`
	// Compilation cache directory; empty disables the cache.
	CacheDir string `mapstructure:"cache_dir"`
	// Offer wasi_snapshot_preview1 to guests.
	WASI bool `mapstructure:"wasi"`
	// Deadline for a single guest call.
	CallTimeout time.Duration `mapstructure:"call_timeout"`
	// Guest debug messages logged per second.
	DebugRateLimit float64 `mapstructure:"debug_rate_limit"`
}

// DisplayConfig holds the headless size and tick pacing.
type DisplayConfig struct {
	Width    int `mapstructure:"width"`
	Height   int `mapstructure:"height"`
	TickRate int `mapstructure:"tick_rate"`
	MaxTicks int `mapstructure:"max_ticks"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
	v.SetDefault("cartridge_paths", []string{"./cartridges"})
	v.SetDefault("metrics_enabled", false)
	v.SetDefault("metrics_port", 9090)

	v.SetDefault("wasm.memory_pages", 256) // 16MB
	v.SetDefault("wasm.cache_dir", "")
	v.SetDefault("wasm.wasi", false)
	v.SetDefault("wasm.call_timeout", 250*time.Millisecond)
	v.SetDefault("wasm.debug_rate_limit", 50)

	v.SetDefault("display.width", 320)
	v.SetDefault("display.height", 240)
	v.SetDefault("display.tick_rate", 60)
	v.SetDefault("display.max_ticks", 0)
}

// Load reads configPath (if non-empty), applies the environment and then
// overrides, keyed like the YAML file ("display.tick_rate").
func Load(configPath string, overrides map[string]any) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}

	for key, value := range overrides {
		v.Set(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the runtime cannot honor.
func (c *Config) Validate() error {
	var errs []error
	if c.MetricsEnabled && (c.MetricsPort <= 0 || c.MetricsPort > 65535) {
		errs = append(errs, fmt.Errorf("metrics_port %d out of range", c.MetricsPort))
	}
	if c.Wasm.MemoryPages > 65536 {
		errs = append(errs, fmt.Errorf("wasm.memory_pages %d exceeds 65536", c.Wasm.MemoryPages))
	}
	if c.Wasm.CallTimeout < 0 {
		errs = append(errs, errors.New("wasm.call_timeout must not be negative"))
	}
	if c.Display.Width < 0 || c.Display.Height < 0 {
		errs = append(errs, fmt.Errorf("display size %dx%d is negative", c.Display.Width, c.Display.Height))
	}
	if c.Display.TickRate < 0 {
		errs = append(errs, errors.New("display.tick_rate must not be negative"))
	}
	if c.Display.MaxTicks < 0 {
		errs = append(errs, errors.New("display.max_ticks must not be negative"))
	}
	return errors.Join(errs...)
}

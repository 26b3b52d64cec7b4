package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/woxQAQ/pixelhost/internal/config"
	"github.com/woxQAQ/pixelhost/internal/wasm"
)

var rootCmd = &cobra.Command{
	Use:          "pixelhost",
	Short:        "Run sandboxed pixel-buffer WebAssembly guests",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to configuration file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Int("width", 0, "Display width in pixels")
	rootCmd.PersistentFlags().Int("height", 0, "Display height in pixels")
	rootCmd.PersistentFlags().Int("tick-rate", 0, "Ticks per second (0 runs as fast as possible)")
	rootCmd.PersistentFlags().StringSlice("cartridge-path", nil, "Directory searched for cartridges (repeatable)")
}

// flagOverrides maps the flags set on the command line to config keys.
var flagOverrides = map[string]string{
	"log-level":      "log_level",
	"width":          "display.width",
	"height":         "display.height",
	"tick-rate":      "display.tick_rate",
	"max-ticks":      "display.max_ticks",
	"cartridge-path": "cartridge_paths",
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	overrides := map[string]any{}
	for flagName, key := range flagOverrides {
		f := cmd.Flags().Lookup(flagName)
		if f == nil || !f.Changed {
			continue
		}
		switch f.Value.Type() {
		case "int":
			v, _ := cmd.Flags().GetInt(flagName)
			overrides[key] = v
		case "stringSlice":
			v, _ := cmd.Flags().GetStringSlice(flagName)
			overrides[key] = v
		default:
			overrides[key] = f.Value.String()
		}
	}

	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath, overrides)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger. When logFile is set all output goes
// there, which keeps the terminal display clean.
func newLogger(level, logFile string) (*zap.Logger, error) {
	var zcfg zap.Config
	if level == "debug" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		zcfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	if logFile != "" {
		zcfg.OutputPaths = []string{logFile}
		zcfg.ErrorOutputPaths = []string{logFile}
	}
	return zcfg.Build()
}

func runtimeConfig(cfg *config.Config) *wasm.RuntimeConfig {
	rc := wasm.DefaultRuntimeConfig()
	rc.MemoryPages = cfg.Wasm.MemoryPages
	rc.CacheDir = cfg.Wasm.CacheDir
	rc.EnableWASI = cfg.Wasm.WASI
	rc.CallTimeout = cfg.Wasm.CallTimeout
	rc.DebugRateLimit = cfg.Wasm.DebugRateLimit
	return rc
}

// session is the state shared by the commands that load guests.
type session struct {
	cfg     *config.Config
	logger  *zap.Logger
	runtime *wasm.Runtime
}

func newSession(ctx context.Context, cfg *config.Config, logFile string) (*session, error) {
	logger, err := newLogger(cfg.LogLevel, logFile)
	if err != nil {
		return nil, err
	}

	runtime, err := wasm.NewRuntime(ctx, logger, runtimeConfig(cfg))
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("create runtime: %w", err)
	}
	return &session{cfg: cfg, logger: logger, runtime: runtime}, nil
}

func (s *session) close(ctx context.Context) {
	if !s.runtime.IsClosed() {
		if err := s.runtime.Close(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("Failed to close runtime", zap.Error(err))
		}
	}
	_ = s.logger.Sync()
}

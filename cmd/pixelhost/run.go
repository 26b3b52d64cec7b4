package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/woxQAQ/pixelhost/internal/cartridge"
	"github.com/woxQAQ/pixelhost/internal/display"
	"github.com/woxQAQ/pixelhost/internal/driver"
	"github.com/woxQAQ/pixelhost/internal/input"
	"github.com/woxQAQ/pixelhost/internal/metrics"
)

var runCmd = &cobra.Command{
	Use:   "run <cartridge>",
	Short: "Run a cartridge until interrupted",
	Long: `Run a cartridge directory, a bare .wasm file, or a cartridge found by name
under the configured cartridge paths.

When stdout is a terminal the guest is drawn in the terminal and receives
keyboard and mouse input. Otherwise it runs against a headless display.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().Int("max-ticks", 0, "Stop after this many ticks (0 runs until interrupted)")
	runCmd.Flags().Bool("headless", false, "Never use the terminal display")

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	headless, _ := cmd.Flags().GetBool("headless")
	interactive := !headless && term.IsTerminal(int(os.Stdout.Fd()))

	logFile := cfg.LogFile
	if interactive && logFile == "" {
		logFile = filepath.Join(os.TempDir(), "pixelhost.log")
	}

	ctx := cmd.Context()
	s, err := newSession(ctx, cfg, logFile)
	if err != nil {
		return err
	}
	defer s.close(ctx)

	s.logger.Info("Starting pixelhost",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("date", date),
	)

	manager := cartridge.NewManager(cfg, s.runtime, s.logger)
	cart, err := manager.Open(ctx, args[0])
	if err != nil {
		return fmt.Errorf("open cartridge: %w", err)
	}
	settings := displaySettings(cmd, cfg, cart)

	var collector *metrics.Collector
	var registry *prometheus.Registry
	if cfg.MetricsEnabled {
		collector, registry, err = newCollector()
		if err != nil {
			return err
		}
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	opts := driver.Options{TickRate: settings.TickRate, MaxTicks: cfg.Display.MaxTicks}
	l := launch{
		manager:   manager,
		cartridge: cart,
		options:   opts,
		collector: collector,
	}

	var terminal *display.Terminal
	if interactive {
		queue := input.NewQueue(input.DefaultQueueLimit)
		terminal = display.NewTerminal(queue, s.logger,
			display.WithTitle(cart.Title()),
			display.WithQuitHandler(stop),
		)
		l.display, l.source = terminal, queue
	} else {
		l.display = display.NewHeadless(settings.Width, settings.Height)
	}

	drv, err := s.start(ctx, l)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer stop()
		return drv.Run(gctx)
	})
	if terminal != nil {
		g.Go(func() error {
			defer stop()
			return terminal.Run(gctx)
		})
	}
	if registry != nil {
		g.Go(func() error {
			return metrics.Serve(gctx, cfg.MetricsPort, registry, s.logger)
		})
	}

	err = g.Wait()
	stats := drv.Stats()
	s.logger.Info("Run complete",
		zap.Int("ticks", stats.Ticks),
		zap.Uint64("frames", stats.Frames),
		zap.Duration("elapsed", stats.Elapsed),
		zap.Error(err),
	)
	if err != nil {
		return fmt.Errorf("run %s: %w", cart.Name(), err)
	}
	return nil
}

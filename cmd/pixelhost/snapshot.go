package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/woxQAQ/pixelhost/internal/cartridge"
	"github.com/woxQAQ/pixelhost/internal/display"
	"github.com/woxQAQ/pixelhost/internal/driver"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot <cartridge>",
	Short: "Run a cartridge headless for a few ticks and save the last frame as PNG",
	Args:  cobra.ExactArgs(1),
	RunE:  runSnapshot,
}

func init() {
	snapshotCmd.Flags().Int("ticks", 1, "Number of ticks to run before capturing")
	snapshotCmd.Flags().StringP("out", "o", "frame.png", "Output PNG file")

	rootCmd.AddCommand(snapshotCmd)
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	ticks, _ := cmd.Flags().GetInt("ticks")
	if ticks <= 0 {
		return fmt.Errorf("--ticks must be positive, got %d", ticks)
	}
	out, _ := cmd.Flags().GetString("out")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	s, err := newSession(ctx, cfg, cfg.LogFile)
	if err != nil {
		return err
	}
	defer s.close(ctx)

	manager := cartridge.NewManager(cfg, s.runtime, s.logger)
	cart, err := manager.Open(ctx, args[0])
	if err != nil {
		return fmt.Errorf("open cartridge: %w", err)
	}
	settings := displaySettings(cmd, cfg, cart)

	// Snapshots run as fast as possible regardless of the tick rate.
	headless := display.NewHeadless(settings.Width, settings.Height)
	drv, err := s.start(ctx, launch{
		manager:   manager,
		cartridge: cart,
		display:   headless,
		options:   driver.Options{MaxTicks: ticks},
	})
	if err != nil {
		return err
	}
	if err := drv.Run(ctx); err != nil {
		return fmt.Errorf("run %s: %w", cart.Name(), err)
	}

	frame, ok := headless.Last()
	if !ok {
		return errors.New("guest presented no frame")
	}
	if err := writePNG(out, frame); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%dx%d after %d ticks)\n", out, frame.Width, frame.Height, drv.Stats().Ticks)
	return nil
}

func writePNG(path string, frame display.Frame) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := display.EncodePNG(f, frame); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}

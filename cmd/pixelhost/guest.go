package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/woxQAQ/pixelhost/internal/cartridge"
	"github.com/woxQAQ/pixelhost/internal/config"
	"github.com/woxQAQ/pixelhost/internal/display"
	"github.com/woxQAQ/pixelhost/internal/driver"
	"github.com/woxQAQ/pixelhost/internal/input"
	"github.com/woxQAQ/pixelhost/internal/metrics"
	"github.com/woxQAQ/pixelhost/internal/wasm"
)

// displaySettings merges the configured display with the cartridge's
// preferences. Flags given on the command line win over both.
func displaySettings(cmd *cobra.Command, cfg *config.Config, c *cartridge.Cartridge) cartridge.DisplayConfig {
	d := c.Display(cartridge.DisplayConfig{
		Width:    cfg.Display.Width,
		Height:   cfg.Display.Height,
		TickRate: cfg.Display.TickRate,
	})
	if cmd.Flags().Changed("width") {
		d.Width = cfg.Display.Width
	}
	if cmd.Flags().Changed("height") {
		d.Height = cfg.Display.Height
	}
	if cmd.Flags().Changed("tick-rate") {
		d.TickRate = cfg.Display.TickRate
	}
	return d
}

// newCollector returns a collector registered on a fresh registry along
// with the Go and process collectors.
func newCollector() (*metrics.Collector, *prometheus.Registry, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector, err := metrics.New(registry)
	if err != nil {
		return nil, nil, fmt.Errorf("register metrics: %w", err)
	}
	return collector, registry, nil
}

type launch struct {
	manager   *cartridge.Manager
	cartridge *cartridge.Cartridge
	display   display.Display
	source    input.Source
	options   driver.Options
	collector *metrics.Collector
}

// start instantiates the cartridge with a driver as its host environment.
func (s *session) start(ctx context.Context, l launch) (*driver.Driver, error) {
	var observer wasm.Observer
	if l.collector != nil {
		l.options.Metrics = l.collector
		observer = l.collector
	}

	drv := driver.New(l.display, l.source, l.options, s.logger)
	inst, err := l.manager.Instantiate(ctx, l.cartridge.Name(), drv, observer)
	if err != nil {
		return nil, fmt.Errorf("start cartridge %s: %w", l.cartridge.Name(), err)
	}
	drv.AttachInstance(inst, observer)
	return drv, nil
}

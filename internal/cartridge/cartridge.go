// Package cartridge finds, validates and compiles guest programs packaged
// as a directory holding manifest.yaml and a .wasm file.
package cartridge

import (
	"time"

	"github.com/woxQAQ/pixelhost/internal/wasm"
)

// Cartridge represents a loaded cartridge with its manifest and compiled guest.
type Cartridge struct {
	// Manifest is the parsed cartridge metadata
	Manifest *Manifest

	// Compiled is the compiled guest module
	Compiled *wasm.CompiledModule

	// LoadedAt is the timestamp when the cartridge was loaded
	LoadedAt time.Time
}

// Name returns the cartridge name.
func (c *Cartridge) Name() string {
	return c.Manifest.Name
}

// Title returns the display title, falling back to the name.
func (c *Cartridge) Title() string {
	if c.Manifest.Title != "" {
		return c.Manifest.Title
	}
	return c.Manifest.Name
}

// Version returns the cartridge version.
func (c *Cartridge) Version() string {
	return c.Manifest.Version
}

// Display returns the preferred display settings, with zero fields filled
// from def.
func (c *Cartridge) Display(def DisplayConfig) DisplayConfig {
	d := c.Manifest.Display
	if d.Width == 0 {
		d.Width = def.Width
	}
	if d.Height == 0 {
		d.Height = def.Height
	}
	if d.TickRate == 0 {
		d.TickRate = def.TickRate
	}
	return d
}

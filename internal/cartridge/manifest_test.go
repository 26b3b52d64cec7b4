package cartridge

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestParseManifest_Valid(t *testing.T) {
	dir := writeCartridge(t, t.TempDir(), "paint", validManifest("paint"))

	m, err := ParseManifest(dir)
	if err != nil {
		t.Fatalf("ParseManifest() failed: %v", err)
	}

	if m.Name != "paint" {
		t.Errorf("expected name 'paint', got '%s'", m.Name)
	}
	if m.Version != "1.0.0" {
		t.Errorf("expected version '1.0.0', got '%s'", m.Version)
	}
	if m.Title != "Paint Demo" {
		t.Errorf("expected title 'Paint Demo', got '%s'", m.Title)
	}
	if m.Display.Width != 64 || m.Display.Height != 48 || m.Display.TickRate != 0 {
		t.Errorf("unexpected display %+v", m.Display)
	}
	if m.WasmPath() != filepath.Join(dir, "game.wasm") {
		t.Errorf("unexpected wasm path %s", m.WasmPath())
	}
	if m.Dir() != dir {
		t.Errorf("unexpected dir %s", m.Dir())
	}
}

func TestParseManifest_NotFound(t *testing.T) {
	_, err := ParseManifest(filepath.Join(t.TempDir(), "nonexistent"))

	var nf *ManifestNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected ManifestNotFoundError, got %T", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("error should wrap os.ErrNotExist")
	}
}

func TestParseManifest_InvalidYAML(t *testing.T) {
	dir := writeCartridge(t, t.TempDir(), "broken", "name: [unclosed")

	_, err := ParseManifest(dir)
	var pe *ManifestParseError
	if !errors.As(err, &pe) {
		t.Errorf("expected ManifestParseError, got %T", err)
	}
}

func TestParseManifest_Validation(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
		field    string
	}{
		{
			name:     "missing name",
			manifest: "version: 1.0.0\nwasm:\n  file: game.wasm\n",
			field:    "name",
		},
		{
			name:     "bad name",
			manifest: "name: Paint Demo\nversion: 1.0.0\nwasm:\n  file: game.wasm\n",
			field:    "name",
		},
		{
			name:     "missing version",
			manifest: "name: paint\nwasm:\n  file: game.wasm\n",
			field:    "version",
		},
		{
			name:     "missing wasm file",
			manifest: "name: paint\nversion: 1.0.0\n",
			field:    "wasm.file",
		},
		{
			name:     "wasm file escapes",
			manifest: "name: paint\nversion: 1.0.0\nwasm:\n  file: ../game.wasm\n",
			field:    "wasm.file",
		},
		{
			name:     "negative display",
			manifest: "name: paint\nversion: 1.0.0\nwasm:\n  file: game.wasm\ndisplay:\n  width: -1\n",
			field:    "display",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeCartridge(t, t.TempDir(), "c", tt.manifest)

			_, err := ParseManifest(dir)
			var ve *ManifestValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ManifestValidationError, got %T (%v)", err, err)
			}
			if ve.Field != tt.field {
				t.Errorf("expected field %q, got %q", tt.field, ve.Field)
			}
		})
	}
}

func TestParseManifest_WasmNotFound(t *testing.T) {
	dir := writeCartridge(t, t.TempDir(), "paint", "name: paint\nversion: 1.0.0\nwasm:\n  file: other.wasm\n")

	_, err := ParseManifest(dir)
	var wnf *WasmNotFoundError
	if !errors.As(err, &wnf) {
		t.Fatalf("expected WasmNotFoundError, got %T", err)
	}
	if wnf.WasmFile != "other.wasm" {
		t.Errorf("unexpected wasm file %s", wnf.WasmFile)
	}
}

func TestManifestForWasm(t *testing.T) {
	path := filepath.Join(writeCartridge(t, t.TempDir(), "x", validManifest("x")), "game.wasm")

	m, err := manifestForWasm(path)
	if err != nil {
		t.Fatal(err)
	}
	if m.Name != "game" || m.WasmPath() != path {
		t.Errorf("unexpected manifest %+v (%s)", m, m.WasmPath())
	}

	if _, err := manifestForWasm(path + ".missing"); err == nil {
		t.Error("missing file should fail")
	}
}

func TestCartridgeDisplayDefaults(t *testing.T) {
	c := &Cartridge{Manifest: &Manifest{Name: "paint", Display: DisplayConfig{Width: 64}}}

	got := c.Display(DisplayConfig{Width: 320, Height: 240, TickRate: 60})
	if got != (DisplayConfig{Width: 64, Height: 240, TickRate: 60}) {
		t.Errorf("Display() = %+v", got)
	}
	if c.Title() != "paint" {
		t.Errorf("Title() = %s, want name fallback", c.Title())
	}
}

package cartridge

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// ManifestFile is the file name looked up in each cartridge directory.
const ManifestFile = "manifest.yaml"

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// Manifest represents the cartridge manifest.yaml structure.
type Manifest struct {
	Name        string        `yaml:"name"`
	Version     string        `yaml:"version"`
	Title       string        `yaml:"title"`
	Description string        `yaml:"description"`
	Author      string        `yaml:"author"`
	License     string        `yaml:"license"`
	Wasm        WasmConfig    `yaml:"wasm"`
	Display     DisplayConfig `yaml:"display"`

	// Internal fields
	dir string // Directory containing manifest
}

// WasmConfig holds guest module configuration.
type WasmConfig struct {
	File string `yaml:"file"`
}

// DisplayConfig is the display a cartridge was designed for. Zero fields
// defer to the host configuration.
type DisplayConfig struct {
	Width    int `yaml:"width"`
	Height   int `yaml:"height"`
	TickRate int `yaml:"tick_rate"`
}

// ParseManifest reads and parses manifest.yaml from a directory.
func ParseManifest(dir string) (*Manifest, error) {
	manifestPath := filepath.Join(dir, ManifestFile)

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, &ManifestNotFoundError{
			Path: manifestPath,
			Err:  err,
		}
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, &ManifestParseError{
			Path: manifestPath,
			Err:  err,
		}
	}

	m.dir = dir

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// manifestForWasm describes a bare .wasm file as a cartridge named after it.
func manifestForWasm(path string) (*Manifest, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, &WasmNotFoundError{ManifestPath: "", WasmFile: path}
	}
	base := filepath.Base(path)
	return &Manifest{
		Name:    strings.ToLower(strings.TrimSuffix(base, filepath.Ext(base))),
		Version: "0.0.0",
		Wasm:    WasmConfig{File: base},
		dir:     filepath.Dir(path),
	}, nil
}

// Validate checks manifest fields.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return &ManifestValidationError{
			Path:    m.Path(),
			Field:   "name",
			Message: "name is required",
		}
	}

	if !namePattern.MatchString(m.Name) {
		return &ManifestValidationError{
			Path:    m.Path(),
			Field:   "name",
			Message: fmt.Sprintf("invalid name %q (lowercase letters, digits, '.', '_' and '-')", m.Name),
		}
	}

	if m.Version == "" {
		return &ManifestValidationError{
			Path:    m.Path(),
			Field:   "version",
			Message: "version is required",
		}
	}

	if m.Wasm.File == "" {
		return &ManifestValidationError{
			Path:    m.Path(),
			Field:   "wasm.file",
			Message: "wasm.file is required",
		}
	}

	if !filepath.IsLocal(m.Wasm.File) {
		return &ManifestValidationError{
			Path:    m.Path(),
			Field:   "wasm.file",
			Message: fmt.Sprintf("wasm.file %q must stay inside the cartridge directory", m.Wasm.File),
		}
	}

	if m.Display.Width < 0 || m.Display.Height < 0 || m.Display.TickRate < 0 {
		return &ManifestValidationError{
			Path:    m.Path(),
			Field:   "display",
			Message: "display settings must not be negative",
		}
	}

	// Validate Wasm file exists
	if _, err := os.Stat(m.WasmPath()); os.IsNotExist(err) {
		return &WasmNotFoundError{
			ManifestPath: m.Path(),
			WasmFile:     m.Wasm.File,
		}
	}

	return nil
}

// Path returns the manifest file path.
func (m *Manifest) Path() string {
	return filepath.Join(m.dir, ManifestFile)
}

// WasmPath returns the path to the guest file.
func (m *Manifest) WasmPath() string {
	return filepath.Join(m.dir, m.Wasm.File)
}

// Dir returns the directory containing the manifest.
func (m *Manifest) Dir() string {
	return m.dir
}

package cartridge

import (
	"fmt"
)

// ManifestNotFoundError occurs when manifest.yaml is not found in a directory.
type ManifestNotFoundError struct {
	Path string
	Err  error
}

func (e *ManifestNotFoundError) Error() string {
	return fmt.Sprintf("manifest not found at '%s': %v", e.Path, e.Err)
}

func (e *ManifestNotFoundError) Unwrap() error {
	return e.Err
}

// ManifestParseError occurs when manifest.yaml cannot be parsed as valid YAML.
type ManifestParseError struct {
	Path string
	Err  error
}

func (e *ManifestParseError) Error() string {
	return fmt.Sprintf("failed to parse manifest at '%s': %v", e.Path, e.Err)
}

func (e *ManifestParseError) Unwrap() error {
	return e.Err
}

// ManifestValidationError occurs when manifest.yaml fails validation.
type ManifestValidationError struct {
	Path    string
	Field   string
	Message string
}

func (e *ManifestValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("manifest validation failed at '%s': %s (field: %s)",
			e.Path, e.Message, e.Field)
	}
	return fmt.Sprintf("manifest validation failed at '%s': %s", e.Path, e.Message)
}

// WasmNotFoundError occurs when the guest file referenced in a manifest
// doesn't exist.
type WasmNotFoundError struct {
	ManifestPath string
	WasmFile     string
}

func (e *WasmNotFoundError) Error() string {
	return fmt.Sprintf("guest file '%s' not found (referenced in manifest '%s')",
		e.WasmFile, e.ManifestPath)
}

// LoadError occurs when a cartridge's guest fails to compile.
type LoadError struct {
	CartridgeName string
	Err           error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load cartridge '%s': %v", e.CartridgeName, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// NotFoundError occurs when a cartridge is not found in the registry.
type NotFoundError struct {
	CartridgeName string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("cartridge '%s' not found", e.CartridgeName)
}

// AlreadyRegisteredError occurs when attempting to register a duplicate cartridge.
type AlreadyRegisteredError struct {
	CartridgeName string
}

func (e *AlreadyRegisteredError) Error() string {
	return fmt.Sprintf("cartridge '%s' is already registered", e.CartridgeName)
}

// NoCartridgesFoundError occurs when no cartridges are found in the configured paths.
type NoCartridgesFoundError struct {
	Paths []string
}

func (e *NoCartridgesFoundError) Error() string {
	return fmt.Sprintf("no cartridges found in paths: %v", e.Paths)
}

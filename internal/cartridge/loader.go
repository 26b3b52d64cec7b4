package cartridge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/woxQAQ/pixelhost/internal/wasm"
)

// Loader handles loading cartridges from disk.
type Loader struct {
	moduleLoader *wasm.ModuleLoader
	logger       *zap.Logger
}

// NewLoader creates a new cartridge loader.
func NewLoader(runtime *wasm.Runtime, logger *zap.Logger) *Loader {
	return &Loader{
		moduleLoader: wasm.NewModuleLoader(runtime, logger),
		logger:       logger.With(zap.String("component", "cartridge-loader")),
	}
}

// Load loads a single cartridge from a directory.
func (l *Loader) Load(ctx context.Context, dir string) (*Cartridge, error) {
	l.logger.Debug("Loading cartridge", zap.String("dir", dir))

	manifest, err := ParseManifest(dir)
	if err != nil {
		return nil, err
	}
	return l.compile(ctx, manifest)
}

// LoadPath loads a cartridge directory or a bare .wasm file.
func (l *Loader) LoadPath(ctx context.Context, path string) (*Cartridge, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("open cartridge %s: %w", path, err)
	}
	if info.IsDir() {
		return l.Load(ctx, path)
	}

	manifest, err := manifestForWasm(path)
	if err != nil {
		return nil, err
	}
	return l.compile(ctx, manifest)
}

func (l *Loader) compile(ctx context.Context, manifest *Manifest) (*Cartridge, error) {
	l.logger.Info("Loading cartridge",
		zap.String("name", manifest.Name),
		zap.String("version", manifest.Version),
	)

	// Compile guest module (uses internal caching)
	compiled, err := l.moduleLoader.LoadModuleFromFile(ctx, manifest.WasmPath())
	if err != nil {
		return nil, &LoadError{
			CartridgeName: manifest.Name,
			Err:           err,
		}
	}

	c := &Cartridge{
		Manifest: manifest,
		Compiled: compiled,
		LoadedAt: time.Now(),
	}

	l.logger.Info("Cartridge loaded successfully",
		zap.String("name", manifest.Name),
		zap.String("size", humanize.Bytes(uint64(compiled.SizeBytes))),
	)

	return c, nil
}

// Inspect describes the guest of a cartridge directory or .wasm file
// without keeping it compiled.
func (l *Loader) Inspect(ctx context.Context, path string) (*Manifest, wasm.Description, int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, wasm.Description{}, 0, fmt.Errorf("open cartridge %s: %w", path, err)
	}

	var manifest *Manifest
	if info.IsDir() {
		manifest, err = ParseManifest(path)
	} else {
		manifest, err = manifestForWasm(path)
	}
	if err != nil {
		return nil, wasm.Description{}, 0, err
	}

	desc, size, err := l.moduleLoader.Inspect(ctx, &wasm.FileModuleSource{Path: manifest.WasmPath()})
	if err != nil {
		return manifest, wasm.Description{}, 0, err
	}
	return manifest, desc, size, nil
}

// Scan reads the manifests under paths without compiling anything. Broken
// cartridges are reported in the error slice and skipped.
func Scan(paths []string) ([]*Manifest, []error) {
	var manifests []*Manifest
	var errs []error

	for _, basePath := range paths {
		entries, err := os.ReadDir(basePath)
		if err != nil {
			if !os.IsNotExist(err) {
				errs = append(errs, fmt.Errorf("failed to read directory '%s': %w", basePath, err))
			}
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			m, err := ParseManifest(filepath.Join(basePath, entry.Name()))
			if err != nil {
				errs = append(errs, err)
				continue
			}
			manifests = append(manifests, m)
		}
	}
	return manifests, errs
}

// Discover scans directories for cartridges and compiles each.
func (l *Loader) Discover(ctx context.Context, paths []string) ([]*Cartridge, error) {
	var cartridges []*Cartridge
	var errs []error

	for _, basePath := range paths {
		l.logger.Debug("Scanning cartridge directory", zap.String("path", basePath))

		entries, err := os.ReadDir(basePath)
		if err != nil {
			if os.IsNotExist(err) {
				l.logger.Warn("Cartridge path does not exist", zap.String("path", basePath))
				continue
			}
			return nil, fmt.Errorf("failed to read directory '%s': %w", basePath, err)
		}

		// Try to load each subdirectory as a cartridge
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}

			dir := filepath.Join(basePath, entry.Name())

			c, err := l.Load(ctx, dir)
			if err != nil {
				l.logger.Error("Failed to load cartridge",
					zap.String("dir", dir),
					zap.Error(err),
				)
				errs = append(errs, err)
				continue
			}

			cartridges = append(cartridges, c)
		}
	}

	if len(cartridges) > 0 && len(errs) > 0 {
		l.logger.Warn("Some cartridges failed to load",
			zap.Int("loaded", len(cartridges)),
			zap.Int("failed", len(errs)),
		)
	}

	if len(cartridges) == 0 {
		return nil, &NoCartridgesFoundError{Paths: paths}
	}

	return cartridges, nil
}

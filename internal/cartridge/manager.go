package cartridge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/woxQAQ/pixelhost/internal/config"
	"github.com/woxQAQ/pixelhost/internal/wasm"
)

// Manager resolves cartridge references and instantiates their guests.
type Manager struct {
	cfg         *config.Config
	runtime     *wasm.Runtime
	loader      *Loader
	registry    *Registry
	instanceMgr *wasm.InstanceManager
	logger      *zap.Logger

	mu     sync.RWMutex
	loaded bool
}

// NewManager creates a new cartridge manager.
func NewManager(cfg *config.Config, runtime *wasm.Runtime, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:         cfg,
		runtime:     runtime,
		loader:      NewLoader(runtime, logger),
		registry:    NewRegistry(logger),
		instanceMgr: wasm.NewInstanceManager(runtime, logger),
		logger:      logger.With(zap.String("component", "cartridge-manager")),
	}
}

// LoadAll discovers and loads all cartridges from configured paths.
func (m *Manager) LoadAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.loaded {
		return fmt.Errorf("cartridges already loaded")
	}

	m.logger.Info("Loading cartridges",
		zap.Strings("paths", m.cfg.CartridgePaths),
	)

	cartridges, err := m.loader.Discover(ctx, m.cfg.CartridgePaths)
	if err != nil {
		var none *NoCartridgesFoundError
		if errors.As(err, &none) {
			m.logger.Warn("No cartridges found in configured paths",
				zap.Strings("paths", m.cfg.CartridgePaths),
			)
			m.loaded = true
			return nil
		}
		return err
	}

	for _, c := range cartridges {
		if err := m.registry.Register(c); err != nil {
			m.logger.Error("Failed to register cartridge",
				zap.String("name", c.Manifest.Name),
				zap.Error(err),
			)
			continue
		}
	}

	m.loaded = true

	m.logger.Info("Cartridges loaded successfully",
		zap.Int("count", m.registry.Count()),
	)

	return nil
}

// Open resolves ref as a path to a cartridge directory or .wasm file, and
// otherwise as the name of a cartridge under the configured paths.
func (m *Manager) Open(ctx context.Context, ref string) (*Cartridge, error) {
	if _, err := os.Stat(ref); err == nil {
		c, err := m.loader.LoadPath(ctx, ref)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		if existing, ok := m.registry.Get(c.Name()); ok {
			return existing, nil
		}
		if err := m.registry.Register(c); err != nil {
			return nil, err
		}
		return c, nil
	}

	if !m.IsLoaded() {
		if err := m.LoadAll(ctx); err != nil {
			return nil, err
		}
	}
	return m.Get(ref)
}

// Get retrieves a cartridge by name.
func (m *Manager) Get(name string) (*Cartridge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.registry.Get(name)
	if !ok {
		return nil, &NotFoundError{CartridgeName: name}
	}

	return c, nil
}

// Instantiate creates a new instance of a cartridge's guest. env answers
// its host queries; observer may be nil.
func (m *Manager) Instantiate(ctx context.Context, name string, env wasm.HostEnv, observer wasm.Observer) (*wasm.Instance, error) {
	c, err := m.Get(name)
	if err != nil {
		return nil, err
	}

	return m.instanceMgr.Instantiate(ctx, &wasm.InstanceConfig{
		ModuleName: c.Compiled.Name,
		Env:        env,
		Observer:   observer,
	})
}

// Shutdown tears down every instance and the runtime.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Shutting down cartridge manager")

	// Runtime close handles instance cleanup
	if err := m.runtime.Close(ctx); err != nil {
		m.logger.Error("Failed to shutdown runtime", zap.Error(err))
		return err
	}

	m.logger.Info("Cartridge manager shutdown complete")
	return nil
}

// Loader returns the cartridge loader.
func (m *Manager) Loader() *Loader {
	return m.loader
}

// Registry returns the cartridge registry (for testing/inspection).
func (m *Manager) Registry() *Registry {
	return m.registry
}

// IsLoaded returns whether the configured paths have been scanned.
func (m *Manager) IsLoaded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loaded
}

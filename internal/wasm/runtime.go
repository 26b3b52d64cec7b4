// Package wasm hosts sandboxed pixel-buffer guests on wazero: it owns their
// memory, binds their entry points and serves their host imports.
package wasm

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	"github.com/woxQAQ/pixelhost/pkg/abi"
)

// Runtime owns the wazero runtime shared by every guest instance in the
// process: the host function table, the compiled module cache and the set
// of live instances.
type Runtime struct {
	runtime wazero.Runtime
	cache   wazero.CompilationCache

	// Compiled module cache (key: module name -> *CompiledModule)
	modules sync.Map

	// Live instances (key: instance ID -> *Instance)
	instances sync.Map
	live      atomic.Int64

	hostFuncs *HostFunctions
	config    *RuntimeConfig
	logger    *zap.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

// RuntimeConfig holds runtime configuration.
type RuntimeConfig struct {
	// Memory limit per guest (in pages, 64KB each).
	// Default: 256 pages = 16MB
	MemoryPages uint32

	// Directory for wazero's persistent compilation cache; empty keeps
	// compiled code in memory only.
	CacheDir string

	// Maximum number of live instances.
	MaxInstances int

	// Instantiate wasi_snapshot_preview1 for guests built against WASI.
	EnableWASI bool

	// Deadline for a single guest call; zero disables it.
	CallTimeout time.Duration

	// Guest debug messages admitted per second per instance.
	DebugRateLimit float64
}

// CompiledModule wraps a wazero.CompiledModule with metadata.
type CompiledModule struct {
	Module wazero.CompiledModule

	Name      string
	Source    string
	SizeBytes int64

	CompiledAt int64
}

// DefaultRuntimeConfig returns sensible defaults.
func DefaultRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		MemoryPages:    256,
		CacheDir:       "",
		MaxInstances:   16,
		EnableWASI:     false,
		CallTimeout:    250 * time.Millisecond,
		DebugRateLimit: DefaultDebugRateLimit,
	}
}

// NewRuntime creates the wazero runtime and instantiates the host module.
func NewRuntime(ctx context.Context, logger *zap.Logger, config *RuntimeConfig) (*Runtime, error) {
	if config == nil {
		config = DefaultRuntimeConfig()
	}

	rtConfig := wazero.NewRuntimeConfig().
		WithCloseOnContextDone(true)
	if config.MemoryPages > 0 {
		rtConfig = rtConfig.WithMemoryLimitPages(config.MemoryPages)
	}

	var cache wazero.CompilationCache
	if config.CacheDir != "" {
		var err error
		cache, err = wazero.NewCompilationCacheWithDir(config.CacheDir)
		if err != nil {
			logger.Warn("Failed to open compilation cache, continuing without it",
				zap.String("cache_dir", config.CacheDir),
				zap.Error(err),
			)
		} else {
			rtConfig = rtConfig.WithCompilationCache(cache)
		}
	}

	r := wazero.NewRuntimeWithConfig(ctx, rtConfig)

	rt := &Runtime{
		runtime:   r,
		cache:     cache,
		hostFuncs: NewHostFunctions(logger),
		config:    config,
		logger:    logger.With(zap.String("component", "wasm-runtime")),
		closed:    make(chan struct{}),
	}

	if _, err := rt.hostFuncs.export(r.NewHostModuleBuilder(abi.ImportModule)).Instantiate(ctx); err != nil {
		rt.closeEngine(context.Background())
		return nil, fmt.Errorf("failed to instantiate host module: %w", err)
	}

	if config.EnableWASI {
		if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
			rt.closeEngine(context.Background())
			return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
		}
	}

	rt.logger.Info("Wasm runtime initialized",
		zap.Uint32("memory_pages", config.MemoryPages),
		zap.String("cache_dir", config.CacheDir),
		zap.Int("max_instances", config.MaxInstances),
		zap.Bool("wasi", config.EnableWASI),
		zap.Duration("call_timeout", config.CallTimeout),
	)

	return rt, nil
}

func (r *Runtime) closeEngine(ctx context.Context) error {
	err := r.runtime.Close(ctx)
	if r.cache != nil {
		if cerr := r.cache.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// Close tears down every live instance, then the runtime.
// Safe to call multiple times (idempotent).
func (r *Runtime) Close(ctx context.Context) error {
	var err error
	r.closeOnce.Do(func() {
		r.logger.Info("Shutting down Wasm runtime")

		r.instances.Range(func(key, value any) bool {
			if inst, ok := value.(*Instance); ok {
				if closeErr := inst.Close(ctx); closeErr != nil {
					r.logger.Warn("Failed to close instance",
						zap.String("instance_id", key.(string)),
						zap.Error(closeErr),
					)
				}
			}
			return true
		})

		err = r.closeEngine(ctx)

		close(r.closed)
		r.logger.Info("Wasm runtime shutdown complete")
	})

	return err
}

// Config returns the runtime configuration.
func (r *Runtime) Config() *RuntimeConfig {
	return r.config
}

// GetCompiledModule retrieves a compiled module from cache.
func (r *Runtime) GetCompiledModule(name string) (*CompiledModule, bool) {
	if val, ok := r.modules.Load(name); ok {
		if mod, ok := val.(*CompiledModule); ok {
			return mod, true
		}
	}
	return nil, false
}

// StoreCompiledModule stores a compiled module in cache.
func (r *Runtime) StoreCompiledModule(module *CompiledModule) {
	r.modules.Store(module.Name, module)
}

// GetInstance retrieves a live instance.
func (r *Runtime) GetInstance(instanceID string) (*Instance, bool) {
	val, ok := r.instances.Load(instanceID)
	if !ok {
		return nil, false
	}
	inst, ok := val.(*Instance)
	return inst, ok
}

func (r *Runtime) storeInstance(inst *Instance) {
	r.instances.Store(inst.ID, inst)
	r.live.Add(1)
}

func (r *Runtime) deleteInstance(instanceID string) {
	if _, loaded := r.instances.LoadAndDelete(instanceID); loaded {
		r.live.Add(-1)
	}
}

// InstanceCount returns the number of live instances.
func (r *Runtime) InstanceCount() int {
	return int(r.live.Load())
}

// IsClosed returns whether the runtime has been closed.
func (r *Runtime) IsClosed() bool {
	select {
	case <-r.closed:
		return true
	default:
		return false
	}
}

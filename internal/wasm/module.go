package wasm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"
)

// MaxModuleSize bounds the guest binaries the loader accepts (64MB).
const MaxModuleSize = 64 << 20

// ErrModuleTooLarge is returned for guest binaries above MaxModuleSize.
var ErrModuleTooLarge = errors.New("guest module too large")

// ModuleLoader reads, compiles and caches guest modules.
type ModuleLoader struct {
	runtime *Runtime
	logger  *zap.Logger
}

// NewModuleLoader creates a new module loader.
func NewModuleLoader(runtime *Runtime, logger *zap.Logger) *ModuleLoader {
	return &ModuleLoader{
		runtime: runtime,
		logger:  logger.With(zap.String("component", "wasm-loader")),
	}
}

// ModuleSource provides guest bytecode.
type ModuleSource interface {
	// Bytes returns the Wasm bytecode.
	Bytes() ([]byte, error)

	// Name identifies the module in the cache.
	Name() string
}

// FileModuleSource reads a guest from disk.
type FileModuleSource struct {
	Path string
}

// Bytes reads at most MaxModuleSize bytes of the file.
func (f *FileModuleSource) Bytes() ([]byte, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, MaxModuleSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxModuleSize {
		return nil, ErrModuleTooLarge
	}
	return data, nil
}

// Name returns the file path.
func (f *FileModuleSource) Name() string {
	return f.Path
}

// MemoryModuleSource serves a guest already in memory, e.g. embedded.
type MemoryModuleSource struct {
	ModuleName string
	Data       []byte
}

// Bytes returns the Wasm bytecode.
func (m *MemoryModuleSource) Bytes() ([]byte, error) {
	if len(m.Data) > MaxModuleSize {
		return nil, ErrModuleTooLarge
	}
	return m.Data, nil
}

// Name returns the module name.
func (m *MemoryModuleSource) Name() string {
	return m.ModuleName
}

// LoadModule compiles source unless a module of the same name is cached.
// Modules missing a required export are rejected here rather than at
// instantiation.
func (l *ModuleLoader) LoadModule(ctx context.Context, source ModuleSource) (*CompiledModule, error) {
	if cached, ok := l.runtime.GetCompiledModule(source.Name()); ok {
		l.logger.Debug("Module cache hit", zap.String("module", source.Name()))
		return cached, nil
	}

	wasmBytes, err := source.Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to read module %s: %w", source.Name(), err)
	}

	l.logger.Info("Compiling guest module",
		zap.String("module", source.Name()),
		zap.Int("size_bytes", len(wasmBytes)),
	)

	start := time.Now()
	compiled, err := l.runtime.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, &CompilationError{ModuleName: source.Name(), Err: err}
	}

	exported := compiled.ExportedFunctions()
	for _, name := range requiredExports {
		def, ok := exported[name]
		if !ok {
			compiled.Close(context.Background())
			return nil, &CompilationError{
				ModuleName: source.Name(),
				Err:        &FunctionNotFoundError{ModuleName: source.Name(), FunctionName: name},
			}
		}
		if _, err := checkSignature(name, def); err != nil {
			compiled.Close(context.Background())
			return nil, &CompilationError{ModuleName: source.Name(), Err: err}
		}
	}

	module := &CompiledModule{
		Module:     compiled,
		Name:       source.Name(),
		Source:     source.Name(),
		SizeBytes:  int64(len(wasmBytes)),
		CompiledAt: time.Now().Unix(),
	}
	l.runtime.StoreCompiledModule(module)

	l.logger.Info("Module compiled successfully",
		zap.String("module", source.Name()),
		zap.Duration("duration", time.Since(start)),
	)

	return module, nil
}

// LoadModuleFromFile is a convenience function for loading from a file path.
func (l *ModuleLoader) LoadModuleFromFile(ctx context.Context, path string) (*CompiledModule, error) {
	return l.LoadModule(ctx, &FileModuleSource{Path: path})
}

// LoadModuleFromMemory loads from a byte slice.
func (l *ModuleLoader) LoadModuleFromMemory(ctx context.Context, name string, data []byte) (*CompiledModule, error) {
	return l.LoadModule(ctx, &MemoryModuleSource{ModuleName: name, Data: data})
}

// Inspect compiles source without caching or export validation and
// describes it.
func (l *ModuleLoader) Inspect(ctx context.Context, source ModuleSource) (Description, int64, error) {
	wasmBytes, err := source.Bytes()
	if err != nil {
		return Description{}, 0, fmt.Errorf("failed to read module %s: %w", source.Name(), err)
	}
	compiled, err := l.runtime.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return Description{}, 0, &CompilationError{ModuleName: source.Name(), Err: err}
	}
	defer compiled.Close(context.Background())

	return Describe(&CompiledModule{Module: compiled, Name: source.Name()}), int64(len(wasmBytes)), nil
}

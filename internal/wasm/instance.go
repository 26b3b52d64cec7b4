package wasm

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	"github.com/woxQAQ/pixelhost/pkg/abi"
)

// InstanceManager creates guest instances from compiled modules.
type InstanceManager struct {
	runtime *Runtime
	logger  *zap.Logger
}

// NewInstanceManager creates a new instance manager.
func NewInstanceManager(runtime *Runtime, logger *zap.Logger) *InstanceManager {
	return &InstanceManager{
		runtime: runtime,
		logger:  logger.With(zap.String("component", "wasm-instance")),
	}
}

// InstanceConfig holds configuration for creating instances.
type InstanceConfig struct {
	// Module name to instantiate.
	ModuleName string

	// Instance ID (if empty, one is generated).
	InstanceID string

	// Env answers this instance's host function queries.
	Env HostEnv

	// Observer receives call timings; may be nil.
	Observer Observer
}

// Instance is one running guest: its module, memory bridge and capability set.
type Instance struct {
	module api.Module

	ID        string
	Name      string
	CreatedAt int64

	Exports *Exports
	Bridge  *Bridge

	binding *hostBinding
	runtime *Runtime
	closed  bool
}

// guestFunc is a bound export. It attaches the host binding to the call,
// applies the call deadline and turns failures into traps.
type guestFunc struct {
	name       string
	fn         api.Function
	i32Results bool
	inst       *Instance
	timeout    time.Duration
	observer   Observer
}

func (f *guestFunc) Call(ctx context.Context, params ...uint64) ([]uint64, error) {
	// Host shutdown is observed between ticks; a call in flight is only
	// bounded by its own deadline.
	callCtx := context.WithoutCancel(ctx)
	if f.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, f.timeout)
		defer cancel()
	}
	callCtx = withBinding(callCtx, f.inst.binding)

	start := time.Now()
	results, err := f.fn.Call(callCtx, params...)
	f.observer.GuestCall(f.name, time.Since(start))

	if err != nil {
		var exitErr *sys.ExitError
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) ||
			(errors.As(err, &exitErr) && exitErr.ExitCode() == sys.ExitCodeDeadlineExceeded) {
			err = &TimeoutError{Duration: f.timeout, Err: err}
		}
		return nil, &Fault{Kind: KindGuestTrap, Call: f.name, Err: err}
	}
	if f.i32Results {
		for i := range results {
			results[i] = uint64(uint32(results[i]))
		}
	}
	return results, nil
}

// Instantiate creates a new instance from a compiled module and binds its
// exports. Required exports and exported memory must be present.
func (m *InstanceManager) Instantiate(ctx context.Context, config *InstanceConfig) (*Instance, error) {
	if m.runtime.IsClosed() {
		return nil, errors.New("runtime is closed")
	}
	compiled, ok := m.runtime.GetCompiledModule(config.ModuleName)
	if !ok {
		return nil, &ModuleNotFoundError{ModuleName: config.ModuleName}
	}
	if limit := m.runtime.config.MaxInstances; limit > 0 && m.runtime.InstanceCount() >= limit {
		return nil, fmt.Errorf("instance limit of %d reached", limit)
	}
	if config.Env == nil {
		return nil, errors.New("instance config has no host environment")
	}

	instanceID := config.InstanceID
	if instanceID == "" {
		instanceID = generateInstanceID()
	}
	observer := config.Observer
	if observer == nil {
		observer = nopObserver{}
	}

	m.logger.Info("Instantiating guest module",
		zap.String("module", config.ModuleName),
		zap.String("instance_id", instanceID),
	)

	// Reactor-style guests export _initialize instead of _start.
	moduleConfig := wazero.NewModuleConfig().
		WithName(instanceID).
		WithStartFunctions("_initialize")
	if m.runtime.config.EnableWASI {
		moduleConfig = moduleConfig.WithSysWalltime().WithSysNanotime()
	}

	module, err := m.runtime.runtime.InstantiateModule(ctx, compiled.Module, moduleConfig)
	if err != nil {
		return nil, &InstantiationError{ModuleName: config.ModuleName, InstanceID: instanceID, Err: err}
	}

	inst := &Instance{
		module:    module,
		ID:        instanceID,
		Name:      config.ModuleName,
		CreatedAt: time.Now().Unix(),
		runtime:   m.runtime,
	}

	fail := func(err error) (*Instance, error) {
		module.Close(context.Background())
		return nil, &InstantiationError{ModuleName: config.ModuleName, InstanceID: instanceID, Err: err}
	}

	mem := module.Memory()
	if mem == nil {
		return fail(newFault(KindProtocolViolation, "instantiate", "guest has no linear memory"))
	}

	exports, err := m.bindExports(inst, module, observer)
	if err != nil {
		return fail(err)
	}

	instLogger := m.logger.With(zap.String("instance_id", instanceID))
	inst.Exports = exports
	inst.Bridge = NewBridge(mem, exports.Alloc, exports.Free, instLogger)
	inst.binding = newHostBinding(inst.Bridge, config.Env, m.runtime.config.DebugRateLimit, instLogger)

	m.runtime.storeInstance(inst)

	m.logger.Info("Guest instantiated successfully",
		zap.String("instance_id", instanceID),
		zap.Strings("capabilities", exports.Capabilities()),
		zap.Uint32("memory_bytes", mem.Size()),
	)

	return inst, nil
}

// bindExports resolves each entry point once. A malformed required export
// fails instantiation; a malformed optional one is a protocol violation.
func (m *InstanceManager) bindExports(inst *Instance, module api.Module, observer Observer) (*Exports, error) {
	bind := func(name string) (Func, ValueClass, error) {
		fn := module.ExportedFunction(name)
		if fn == nil {
			if isRequired(name) {
				return nil, ClassNone, &FunctionNotFoundError{ModuleName: inst.Name, FunctionName: name}
			}
			return nil, ClassNone, nil
		}
		def := fn.Definition()
		class, err := checkSignature(name, def)
		if err != nil {
			if isRequired(name) {
				return nil, ClassNone, err
			}
			return nil, ClassNone, &Fault{Kind: KindProtocolViolation, Call: name, Err: err}
		}
		results := def.ResultTypes()
		return &guestFunc{
			name:       name,
			fn:         fn,
			i32Results: len(results) == 1 && results[0] == api.ValueTypeI32,
			inst:       inst,
			timeout:    m.runtime.config.CallTimeout,
			observer:   observer,
		}, class, nil
	}

	e := &Exports{ScrollArg: ClassF64}
	targets := []struct {
		name  string
		fn    *Func
		class *ValueClass
	}{
		{abi.ExportAlloc, &e.Alloc, nil},
		{abi.ExportFree, &e.Free, nil},
		{abi.ExportDraw, &e.Draw, nil},
		{abi.ExportInit, &e.Init, nil},
		{abi.ExportDeinit, &e.Deinit, nil},
		{abi.ExportUpdate, &e.Update, &e.UpdateArg},
		{abi.ExportOnMouseEvent, &e.OnMouseEvent, nil},
		{abi.ExportOnMouseScrollEvent, &e.OnMouseScrollEvent, &e.ScrollArg},
		{abi.ExportOnKeyEvent, &e.OnKeyEvent, nil},
	}
	for _, t := range targets {
		fn, class, err := bind(t.name)
		if err != nil {
			return nil, err
		}
		if fn == nil {
			continue
		}
		*t.fn = fn
		if t.class != nil {
			*t.class = class
		}
	}
	return e, nil
}

// Close releases the instance and its memory. Safe to call twice.
func (i *Instance) Close(ctx context.Context) error {
	if i.closed {
		return nil
	}
	i.closed = true
	i.runtime.deleteInstance(i.ID)
	return i.module.Close(ctx)
}

var instanceSeq atomic.Uint64

// generateInstanceID returns a process-unique instance ID.
func generateInstanceID() string {
	return fmt.Sprintf("guest-%d", instanceSeq.Add(1))
}

package wasm

import (
	"context"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/woxQAQ/pixelhost/pkg/abi"
)

const (
	// MaxDebugMessageSize caps a single guest debug message (4KB).
	MaxDebugMessageSize = 4096

	// DefaultDebugRateLimit is the number of debug messages per second an
	// instance may log.
	DefaultDebugRateLimit = 50
)

// HostEnv is what the host functions of one instance can observe. The
// runtime driver implements it; each instance gets its own.
type HostEnv interface {
	// Debug receives sanitized guest log output.
	Debug(msg string)

	// WindowSize returns the display size in pixels.
	WindowSize() (width, height uint64)

	// MousePos returns the last known pointer position.
	MousePos() (x, y uint64)
}

// hostBinding ties the host function table to one instance.
type hostBinding struct {
	bridge  *Bridge
	env     HostEnv
	limiter *rate.Limiter
	dropped int
	logger  *zap.Logger
}

func newHostBinding(bridge *Bridge, env HostEnv, perSecond float64, logger *zap.Logger) *hostBinding {
	if perSecond <= 0 {
		perSecond = DefaultDebugRateLimit
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return &hostBinding{
		bridge:  bridge,
		env:     env,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		logger:  logger,
	}
}

type bindingKey struct{}

func withBinding(ctx context.Context, b *hostBinding) context.Context {
	return context.WithValue(ctx, bindingKey{}, b)
}

func bindingFrom(ctx context.Context) *hostBinding {
	b, _ := ctx.Value(bindingKey{}).(*hostBinding)
	return b
}

// debug implements debug(ptr, len). Unreadable or invalid text never faults.
func (b *hostBinding) debug(ptr, length uint64) {
	if !b.limiter.Allow() {
		b.dropped++
		return
	}
	if b.dropped > 0 {
		b.logger.Warn("Guest debug output was rate limited", zap.Int("dropped", b.dropped))
		b.dropped = 0
	}

	truncated := false
	if length > MaxDebugMessageSize {
		truncated = true
		length = MaxDebugMessageSize
	}

	raw, err := b.bridge.ReadBytes(ptr, length)
	if err != nil {
		b.logger.Warn("Guest debug message is out of bounds",
			zap.Error(&HostFunctionError{FunctionName: abi.ImportDebug, Err: err}),
		)
		return
	}

	msg := strings.ToValidUTF8(string(raw), "�")
	if truncated {
		msg += " [truncated]"
	}
	b.env.Debug(msg)
}

// getWindowSize implements get_window_size(out_w, out_h).
func (b *hostBinding) getWindowSize(wPtr, hPtr uint64) {
	w, h := b.env.WindowSize()
	b.writePair(abi.ImportGetWindowSize, wPtr, w, hPtr, h)
}

// getMousePos implements get_mouse_pos(out_x, out_y).
func (b *hostBinding) getMousePos(xPtr, yPtr uint64) {
	x, y := b.env.MousePos()
	b.writePair(abi.ImportGetMousePos, xPtr, x, yPtr, y)
}

// writePair writes both slots or neither.
func (b *hostBinding) writePair(fn string, aPtr, a, bPtr, bv uint64) {
	for _, ptr := range []uint64{aPtr, bPtr} {
		if _, err := b.bridge.Resolve(ptr, abi.SlotSize); err != nil {
			b.logger.Warn("Guest output slot is out of bounds",
				zap.Error(&HostFunctionError{FunctionName: fn, Err: err}),
			)
			return
		}
	}
	_ = b.bridge.WriteUint64(aPtr, a)
	_ = b.bridge.WriteUint64(bPtr, bv)
}

// HostFunctions is the fixed table of functions guests import from the
// "env" module. It is stateless; per-instance state travels in the call
// context, so one table serves any number of instances.
type HostFunctions struct {
	logger *zap.Logger
}

// NewHostFunctions creates the host function table.
func NewHostFunctions(logger *zap.Logger) *HostFunctions {
	return &HostFunctions{
		logger: logger.With(zap.String("component", "wasm-host")),
	}
}

func (h *HostFunctions) unbound(fn string) {
	h.logger.Warn("Host function called outside a dispatched guest call",
		zap.String("function", fn),
	)
}

func (h *HostFunctions) debug(ctx context.Context, mod api.Module, stack []uint64) {
	b := bindingFrom(ctx)
	if b == nil {
		h.unbound(abi.ImportDebug)
		return
	}
	b.debug(stack[0], stack[1])
}

func (h *HostFunctions) getWindowSize(ctx context.Context, mod api.Module, stack []uint64) {
	b := bindingFrom(ctx)
	if b == nil {
		h.unbound(abi.ImportGetWindowSize)
		return
	}
	b.getWindowSize(stack[0], stack[1])
}

func (h *HostFunctions) getMousePos(ctx context.Context, mod api.Module, stack []uint64) {
	b := bindingFrom(ctx)
	if b == nil {
		h.unbound(abi.ImportGetMousePos)
		return
	}
	b.getMousePos(stack[0], stack[1])
}

// export registers the table on a host module builder. Offsets and lengths
// cross the boundary as i64.
func (h *HostFunctions) export(builder wazero.HostModuleBuilder) wazero.HostModuleBuilder {
	i64Pair := []api.ValueType{api.ValueTypeI64, api.ValueTypeI64}

	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(h.debug), i64Pair, nil).
		WithParameterNames("ptr", "len").
		Export(abi.ImportDebug)

	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(h.getWindowSize), i64Pair, nil).
		WithParameterNames("out_width", "out_height").
		Export(abi.ImportGetWindowSize)

	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(h.getMousePos), i64Pair, nil).
		WithParameterNames("out_x", "out_y").
		Export(abi.ImportGetMousePos)

	return builder
}

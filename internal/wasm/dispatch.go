package wasm

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/woxQAQ/pixelhost/internal/input"
	"github.com/woxQAQ/pixelhost/pkg/abi"
)

// State is the lifecycle state of an instance.
type State int

const (
	StateUninitialized State = iota
	StateRunning
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateRunning:
		return "running"
	case StateFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// Observer receives dispatch statistics. All methods must be cheap.
type Observer interface {
	GuestCall(call string, d time.Duration)
	EventDelivered(kind string)
	EventDropped(kind, reason string)
}

type nopObserver struct{}

func (nopObserver) GuestCall(string, time.Duration) {}
func (nopObserver) EventDelivered(string)           {}
func (nopObserver) EventDropped(string, string)     {}

// Dispatcher drives the lifecycle and event entry points of one instance.
//
// init runs at most once, before anything else; deinit runs at most once,
// after everything else, and never after a fault. Once Finalized every call
// returns ErrFinalized.
type Dispatcher struct {
	exports  *Exports
	bridge   *Bridge
	observer Observer
	logger   *zap.Logger

	state State
	fault error

	mouseX, mouseY uint64
}

// NewDispatcher creates a dispatcher in the Uninitialized state.
func NewDispatcher(exports *Exports, bridge *Bridge, observer Observer, logger *zap.Logger) *Dispatcher {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Dispatcher{
		exports:  exports,
		bridge:   bridge,
		observer: observer,
		logger:   logger.With(zap.String("component", "event-dispatcher")),
	}
}

// State returns the lifecycle state.
func (d *Dispatcher) State() State {
	return d.state
}

// Fault returns the fault that finalized the instance, if any.
func (d *Dispatcher) Fault() error {
	return d.fault
}

// MousePos returns the last pointer position seen in input events.
func (d *Dispatcher) MousePos() (uint64, uint64) {
	return d.mouseX, d.mouseY
}

// Abort finalizes the instance without calling deinit.
func (d *Dispatcher) Abort(err error) {
	if d.state == StateFinalized {
		return
	}
	d.state = StateFinalized
	d.fault = err
	d.logger.Error("Guest instance aborted", zap.Error(err))
}

func (d *Dispatcher) fail(call string, err error) error {
	f := asFault(call, err)
	d.Abort(f)
	return f
}

func (d *Dispatcher) requireRunning() error {
	if d.state == StateFinalized {
		return ErrFinalized
	}
	if d.state != StateRunning {
		return errors.New("instance is not running")
	}
	return nil
}

func (d *Dispatcher) call(ctx context.Context, name string, fn Func, params ...uint64) error {
	if _, err := fn.Call(ctx, params...); err != nil {
		return d.fail(name, err)
	}
	return nil
}

// Start moves Uninitialized to Running and calls init if exported.
func (d *Dispatcher) Start(ctx context.Context) error {
	switch d.state {
	case StateFinalized:
		return ErrFinalized
	case StateRunning:
		return errors.New("instance already started")
	}
	d.state = StateRunning
	if d.exports.Init == nil {
		return nil
	}
	return d.call(ctx, abi.ExportInit, d.exports.Init)
}

// Deliver hands the events of one tick to the guest in timestamp order.
// Events whose entry point the guest does not export are dropped.
func (d *Dispatcher) Deliver(ctx context.Context, events []input.Event) error {
	if err := d.requireRunning(); err != nil {
		return err
	}

	ordered := make([]input.Event, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	for _, ev := range ordered {
		if err := d.deliver(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, ev input.Event) error {
	kind := ev.Kind.String()

	switch ev.Kind {
	case input.KindMouseMove:
		d.mouseX, d.mouseY = ev.Move.X, ev.Move.Y
		return nil

	case input.KindMouseButton:
		d.mouseX, d.mouseY = ev.Mouse.X, ev.Mouse.Y
		if d.exports.OnMouseEvent == nil {
			d.observer.EventDropped(kind, "not_exported")
			return nil
		}
		m := ev.Mouse
		if err := d.call(ctx, abi.ExportOnMouseEvent, d.exports.OnMouseEvent,
			uint64(m.Kind), uint64(m.Button), m.X, m.Y); err != nil {
			return err
		}

	case input.KindMouseScroll:
		if d.exports.OnMouseScrollEvent == nil {
			d.observer.EventDropped(kind, "not_exported")
			return nil
		}
		if err := d.call(ctx, abi.ExportOnMouseScrollEvent, d.exports.OnMouseScrollEvent,
			encodeFloat(d.exports.ScrollArg, ev.Scroll.DeltaY)); err != nil {
			return err
		}

	case input.KindKey:
		if d.exports.OnKeyEvent == nil {
			d.observer.EventDropped(kind, "not_exported")
			return nil
		}
		delivered, err := d.deliverKey(ctx, ev.Key)
		if err != nil || !delivered {
			return err
		}

	default:
		d.observer.EventDropped(kind, "unknown_kind")
		return nil
	}

	d.observer.EventDelivered(kind)
	return nil
}

// deliverKey copies the key name into a guest scratch buffer, calls
// on_key_event and frees the buffer. An allocation the guest cannot satisfy
// drops this one event.
func (d *Dispatcher) deliverKey(ctx context.Context, key input.KeyEvent) (bool, error) {
	name := []byte(key.Name)
	if len(name) == 0 || len(name) > abi.MaxKeyNameLen {
		d.observer.EventDropped("key", "bad_name")
		return false, nil
	}

	scratch, err := d.bridge.Allocate(ctx, uint64(len(name)))
	if err != nil {
		switch KindOf(err) {
		case KindAllocationFailure, KindOutOfBounds:
			d.logger.Warn("Dropping key event, no scratch memory",
				zap.String("key", key.Name),
				zap.Error(err),
			)
			d.observer.EventDropped("key", KindOf(err).String())
			return false, nil
		}
		return false, d.fail(abi.ExportAlloc, err)
	}

	if err := scratch.Write(name); err != nil {
		return false, d.fail(abi.ExportOnKeyEvent, err)
	}
	if err := d.call(ctx, abi.ExportOnKeyEvent, d.exports.OnKeyEvent,
		uint64(key.Kind), scratch.Offset, scratch.Length); err != nil {
		return false, err
	}
	if err := d.bridge.Deallocate(ctx, scratch); err != nil {
		return false, d.fail(abi.ExportFree, err)
	}
	return true, nil
}

// Update calls the guest's update once. elapsed is passed when update takes
// a parameter, as milliseconds.
func (d *Dispatcher) Update(ctx context.Context, elapsed time.Duration) error {
	if err := d.requireRunning(); err != nil {
		return err
	}
	if d.exports.Update == nil {
		return nil
	}

	ms := float64(elapsed) / float64(time.Millisecond)
	switch d.exports.UpdateArg {
	case ClassNone:
		return d.call(ctx, abi.ExportUpdate, d.exports.Update)
	case ClassInt:
		return d.call(ctx, abi.ExportUpdate, d.exports.Update, uint64(elapsed.Milliseconds()))
	default:
		return d.call(ctx, abi.ExportUpdate, d.exports.Update, encodeFloat(d.exports.UpdateArg, ms))
	}
}

// Draw gives the guest its chance to render into the draw buffer.
func (d *Dispatcher) Draw(ctx context.Context, buffer Region, width, height uint64) error {
	if err := d.requireRunning(); err != nil {
		return err
	}
	return d.call(ctx, abi.ExportDraw, d.exports.Draw, buffer.Offset, width, height)
}

// Finish moves Running to Finalized and calls deinit if exported. An
// instance that never started is finalized without any guest call.
func (d *Dispatcher) Finish(ctx context.Context) error {
	switch d.state {
	case StateFinalized:
		return ErrFinalized
	case StateUninitialized:
		d.state = StateFinalized
		return nil
	}
	d.state = StateFinalized
	if d.exports.Deinit == nil {
		return nil
	}
	if _, err := d.exports.Deinit.Call(ctx); err != nil {
		f := asFault(abi.ExportDeinit, err)
		d.fault = f
		return f
	}
	return nil
}

func encodeFloat(class ValueClass, v float64) uint64 {
	if class == ClassF32 {
		if v > math.MaxFloat32 {
			v = math.MaxFloat32
		} else if v < -math.MaxFloat32 {
			v = -math.MaxFloat32
		}
		return api.EncodeF32(float32(v))
	}
	return api.EncodeF64(v)
}

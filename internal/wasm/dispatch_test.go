package wasm

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap/zaptest"

	"github.com/woxQAQ/pixelhost/internal/input"
	"github.com/woxQAQ/pixelhost/pkg/abi"
)

type countingObserver struct {
	delivered map[string]int
	dropped   map[string]string
}

func newCountingObserver() *countingObserver {
	return &countingObserver{delivered: map[string]int{}, dropped: map[string]string{}}
}

func (o *countingObserver) GuestCall(string, time.Duration)  {}
func (o *countingObserver) EventDelivered(kind string)       { o.delivered[kind]++ }
func (o *countingObserver) EventDropped(kind, reason string) { o.dropped[kind] = reason }

type dispatchFixture struct {
	mem      *sliceMemory
	rec      *recorder
	exports  *Exports
	bridge   *Bridge
	observer *countingObserver
	d        *Dispatcher
}

// newDispatchFixture builds a guest exporting every entry point.
func newDispatchFixture(t *testing.T, alloc func(...uint64) ([]uint64, error)) *dispatchFixture {
	t.Helper()
	f := &dispatchFixture{mem: newSliceMemory(4096), rec: &recorder{}, observer: newCountingObserver()}
	f.bridge = newTestBridge(t, f.mem, f.rec, alloc)
	f.exports = &Exports{
		Alloc:              f.bridge.alloc,
		Free:               f.bridge.free,
		Draw:               f.rec.fn("draw", nil),
		Init:               f.rec.fn("init", nil),
		Deinit:             f.rec.fn("deinit", nil),
		Update:             f.rec.fn("update", nil),
		OnMouseEvent:       f.rec.fn("on_mouse_event", nil),
		OnMouseScrollEvent: f.rec.fn("on_mouse_scroll_event", nil),
		OnKeyEvent:         f.rec.fn("on_key_event", nil),
		ScrollArg:          ClassF64,
	}
	f.d = NewDispatcher(f.exports, f.bridge, f.observer, zaptest.NewLogger(t))
	return f
}

func TestDispatcherLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture(t, bumpAlloc(64))

	if err := f.d.Update(ctx, 0); err == nil {
		t.Error("Update before Start should fail")
	}
	if err := f.d.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := f.d.Start(ctx); err == nil {
		t.Error("second Start should fail")
	}
	if err := f.d.Update(ctx, 16*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if err := f.d.Draw(ctx, Region{Offset: 128}, 2, 2); err != nil {
		t.Fatal(err)
	}
	if err := f.d.Finish(ctx); err != nil {
		t.Fatal(err)
	}

	want := []string{"init", "update", "draw", "deinit"}
	if got := f.rec.names(); !reflect.DeepEqual(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
	if got := f.rec.calls[2].params; !reflect.DeepEqual(got, []uint64{128, 2, 2}) {
		t.Errorf("draw params = %v", got)
	}

	if f.d.State() != StateFinalized {
		t.Errorf("State() = %v", f.d.State())
	}
	for _, err := range []error{
		f.d.Update(ctx, 0),
		f.d.Deliver(ctx, nil),
		f.d.Draw(ctx, Region{}, 0, 0),
		f.d.Finish(ctx),
		f.d.Start(ctx),
	} {
		if !errors.Is(err, ErrFinalized) {
			t.Errorf("call after finalize = %v, want ErrFinalized", err)
		}
	}
	if f.rec.count("deinit") != 1 {
		t.Errorf("deinit ran %d times", f.rec.count("deinit"))
	}
}

func TestDispatcherFinishWithoutStart(t *testing.T) {
	f := newDispatchFixture(t, bumpAlloc(64))
	if err := f.d.Finish(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(f.rec.calls) != 0 {
		t.Errorf("unstarted instance made guest calls: %v", f.rec.names())
	}
}

func TestDispatcherInitTrap(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture(t, bumpAlloc(64))
	f.exports.Init = f.rec.fn("init", trap)

	err := f.d.Start(ctx)
	if !errors.Is(err, ErrGuestTrap) || !errors.Is(err, errTrap) {
		t.Fatalf("Start() error = %v", err)
	}
	if f.d.State() != StateFinalized || f.d.Fault() == nil {
		t.Errorf("trap should finalize with a fault")
	}
	if !errors.Is(f.d.Finish(ctx), ErrFinalized) {
		t.Errorf("Finish after fault should be refused")
	}
	if f.rec.count("deinit") != 0 {
		t.Errorf("deinit ran after a fault")
	}
}

func TestDispatcherFaultStopsEvents(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture(t, bumpAlloc(64))
	f.exports.OnMouseEvent = f.rec.fn("on_mouse_event", trap)

	if err := f.d.Start(ctx); err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	events := []input.Event{
		input.NewMouse(now, abi.MouseDown, abi.ButtonLeft, 1, 2),
		input.NewScroll(now.Add(time.Millisecond), 1),
	}
	if err := f.d.Deliver(ctx, events); !errors.Is(err, ErrGuestTrap) {
		t.Fatalf("Deliver() error = %v", err)
	}
	if f.rec.count("on_mouse_scroll_event") != 0 {
		t.Errorf("events were delivered after a fault")
	}
}

func TestDeliverOrderAndParams(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture(t, bumpAlloc(64))
	if err := f.d.Start(ctx); err != nil {
		t.Fatal(err)
	}
	f.rec.calls = nil

	base := time.Now()
	key, err := input.NewKey(base.Add(3*time.Millisecond), abi.KeyDown, "KeyA")
	if err != nil {
		t.Fatal(err)
	}
	events := []input.Event{
		key,
		input.NewScroll(base.Add(2*time.Millisecond), -1.5),
		input.NewMouse(base.Add(1*time.Millisecond), abi.MouseUp, abi.ButtonRight, 10, 20),
		input.NewMove(base, 3, 4),
	}
	if err := f.d.Deliver(ctx, events); err != nil {
		t.Fatal(err)
	}

	want := []string{"on_mouse_event", "on_mouse_scroll_event", "alloc", "on_key_event", "free"}
	if got := f.rec.names(); !reflect.DeepEqual(got, want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}

	if got := f.rec.calls[0].params; !reflect.DeepEqual(got, []uint64{1, 2, 10, 20}) {
		t.Errorf("on_mouse_event params = %v", got)
	}
	if got := api.DecodeF64(f.rec.calls[1].params[0]); got != -1.5 {
		t.Errorf("scroll delta = %v", got)
	}

	keyCall := f.rec.calls[3].params
	if keyCall[0] != uint64(abi.KeyDown) || keyCall[1] != 64 || keyCall[2] != 4 {
		t.Errorf("on_key_event params = %v", keyCall)
	}
	if string(f.mem.buf[64:68]) != "KeyA" {
		t.Errorf("key name in guest memory = %q", f.mem.buf[64:68])
	}
	free := f.rec.calls[4].params
	if free[0] != 64 || free[1] != 4 {
		t.Errorf("free params = %v", free)
	}

	if x, y := f.d.MousePos(); x != 10 || y != 20 {
		t.Errorf("MousePos() = %d, %d", x, y)
	}
	if f.observer.delivered["key"] != 1 || f.observer.delivered["mouse"] != 1 || f.observer.delivered["scroll"] != 1 {
		t.Errorf("delivered = %v", f.observer.delivered)
	}
}

func TestDeliverMoveTracksPointer(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture(t, bumpAlloc(64))
	if err := f.d.Start(ctx); err != nil {
		t.Fatal(err)
	}
	f.rec.calls = nil

	if err := f.d.Deliver(ctx, []input.Event{input.NewMove(time.Now(), 40, 50)}); err != nil {
		t.Fatal(err)
	}
	if len(f.rec.calls) != 0 {
		t.Errorf("move event reached the guest: %v", f.rec.names())
	}
	if x, y := f.d.MousePos(); x != 40 || y != 50 {
		t.Errorf("MousePos() = %d, %d", x, y)
	}
}

func TestDeliverSkipsMissingEntryPoints(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture(t, bumpAlloc(64))
	f.exports.OnMouseEvent = nil
	f.exports.OnMouseScrollEvent = nil
	f.exports.OnKeyEvent = nil
	f.exports.Init = nil
	f.exports.Deinit = nil
	f.exports.Update = nil

	if err := f.d.Start(ctx); err != nil {
		t.Fatal(err)
	}
	key, _ := input.NewKey(time.Now(), abi.KeyUp, "Space")
	events := []input.Event{
		input.NewMouse(time.Now(), abi.MouseDown, abi.ButtonLeft, 0, 0),
		input.NewScroll(time.Now(), 1),
		key,
	}
	if err := f.d.Deliver(ctx, events); err != nil {
		t.Fatal(err)
	}
	if err := f.d.Update(ctx, time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if err := f.d.Finish(ctx); err != nil {
		t.Fatal(err)
	}

	if len(f.rec.calls) != 0 {
		t.Errorf("calls = %v, want none", f.rec.names())
	}
	for _, kind := range []string{"mouse", "scroll", "key"} {
		if f.observer.dropped[kind] != "not_exported" {
			t.Errorf("%s drop reason = %q", kind, f.observer.dropped[kind])
		}
	}
}

func TestDeliverKeyAllocationFailure(t *testing.T) {
	for name, alloc := range map[string]func(...uint64) ([]uint64, error){
		"null":    constAlloc(0),
		"no room": constAlloc(4094),
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := newDispatchFixture(t, alloc)
			if err := f.d.Start(ctx); err != nil {
				t.Fatal(err)
			}

			key, _ := input.NewKey(time.Now(), abi.KeyDown, "Enter")
			if err := f.d.Deliver(ctx, []input.Event{key}); err != nil {
				t.Fatalf("allocation failure should drop the event, got %v", err)
			}
			if f.rec.count("on_key_event") != 0 {
				t.Errorf("on_key_event called without scratch")
			}
			if f.d.State() != StateRunning {
				t.Errorf("State() = %v, want running", f.d.State())
			}
			if f.observer.dropped["key"] == "" {
				t.Errorf("drop not reported")
			}
		})
	}
}

func TestDeliverKeyProtocolViolation(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture(t, constAlloc(1<<20))
	if err := f.d.Start(ctx); err != nil {
		t.Fatal(err)
	}

	key, _ := input.NewKey(time.Now(), abi.KeyDown, "Enter")
	if err := f.d.Deliver(ctx, []input.Event{key}); !errors.Is(err, ErrProtocolViolation) {
		t.Fatalf("Deliver() error = %v", err)
	}
	if f.d.State() != StateFinalized {
		t.Errorf("protocol violation should finalize the instance")
	}
}

func TestUpdateArgument(t *testing.T) {
	tests := []struct {
		class ValueClass
		check func(uint64) bool
	}{
		{ClassInt, func(v uint64) bool { return v == 16 }},
		{ClassF64, func(v uint64) bool { return api.DecodeF64(v) == 16.5 }},
		{ClassF32, func(v uint64) bool { return api.DecodeF32(v) == 16.5 }},
	}

	for _, tt := range tests {
		t.Run(tt.class.String(), func(t *testing.T) {
			ctx := context.Background()
			f := newDispatchFixture(t, bumpAlloc(64))
			f.exports.UpdateArg = tt.class
			if err := f.d.Start(ctx); err != nil {
				t.Fatal(err)
			}
			if err := f.d.Update(ctx, 16500*time.Microsecond); err != nil {
				t.Fatal(err)
			}
			call := f.rec.calls[len(f.rec.calls)-1]
			if len(call.params) != 1 || !tt.check(call.params[0]) {
				t.Errorf("update params = %v", call.params)
			}
		})
	}
}

func TestScrollF32(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture(t, bumpAlloc(64))
	f.exports.ScrollArg = ClassF32
	if err := f.d.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := f.d.Deliver(ctx, []input.Event{input.NewScroll(time.Now(), 2.25)}); err != nil {
		t.Fatal(err)
	}
	call := f.rec.calls[len(f.rec.calls)-1]
	if got := api.DecodeF32(call.params[0]); got != 2.25 {
		t.Errorf("scroll delta = %v", got)
	}
}

// Package driver runs the tick loop of one guest instance.
package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/woxQAQ/pixelhost/internal/display"
	"github.com/woxQAQ/pixelhost/internal/input"
	"github.com/woxQAQ/pixelhost/internal/wasm"
	"github.com/woxQAQ/pixelhost/pkg/abi"
)

// ErrNotAttached is returned by Run before a guest has been attached.
var ErrNotAttached = errors.New("driver has no guest attached")

// Metrics receives per-tick statistics.
type Metrics interface {
	Tick()
	FramePresented()
	Fault(kind string)
}

type nopMetrics struct{}

func (nopMetrics) Tick()           {}
func (nopMetrics) FramePresented() {}
func (nopMetrics) Fault(string)    {}

// Closer releases the guest once the driver is done with it.
type Closer interface {
	Close(ctx context.Context) error
}

// Options configures the tick loop.
type Options struct {
	// TickRate is the number of ticks per second. Zero runs ticks back to
	// back.
	TickRate int

	// MaxTicks stops the loop after that many ticks. Zero runs until the
	// context is cancelled.
	MaxTicks int

	Metrics Metrics
}

// Stats summarizes a run.
type Stats struct {
	Ticks   int
	Frames  uint64
	Elapsed time.Duration
}

// Driver owns one guest instance for its whole life: it dispatches input,
// calls update and draw once per tick and presents the frame. It also
// answers the guest's host function queries.
//
// All guest calls happen on the goroutine running Run.
type Driver struct {
	display display.Display
	source  input.Source
	opts    Options
	metrics Metrics

	dispatcher *wasm.Dispatcher
	bridge     *wasm.Bridge
	sink       *wasm.FrameSink
	closer     Closer

	buffer   wasm.Region
	bufferW  uint64
	bufferH  uint64
	stats    Stats
	logger   *zap.Logger
	guestLog *zap.Logger
	observer wasm.Observer
}

// New creates a driver presenting to d and reading input from src. src may
// be nil.
func New(d display.Display, src input.Source, opts Options, logger *zap.Logger) *Driver {
	metrics := opts.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Driver{
		display:  d,
		source:   src,
		opts:     opts,
		metrics:  metrics,
		logger:   logger.With(zap.String("component", "runtime-driver")),
		guestLog: logger.With(zap.String("component", "guest")),
	}
}

// Debug implements wasm.HostEnv.
func (d *Driver) Debug(msg string) {
	d.guestLog.Info("Guest debug", zap.String("guest_msg", msg))
}

// WindowSize implements wasm.HostEnv.
func (d *Driver) WindowSize() (uint64, uint64) {
	w, h := d.display.Size()
	if w < 0 || h < 0 {
		return 0, 0
	}
	return uint64(w), uint64(h)
}

// MousePos implements wasm.HostEnv.
func (d *Driver) MousePos() (uint64, uint64) {
	if d.dispatcher == nil {
		return 0, 0
	}
	return d.dispatcher.MousePos()
}

// Attach hands the driver a freshly instantiated guest. closer is called
// once when Run returns and may be nil.
func (d *Driver) Attach(exports *wasm.Exports, bridge *wasm.Bridge, closer Closer, observer wasm.Observer) {
	d.bridge = bridge
	d.closer = closer
	d.observer = observer
	d.dispatcher = wasm.NewDispatcher(exports, bridge, observer, d.logger)
	d.sink = wasm.NewFrameSink(bridge, d.display, d.logger)
}

// AttachInstance is Attach for a wazero instance.
func (d *Driver) AttachInstance(inst *wasm.Instance, observer wasm.Observer) {
	d.Attach(inst.Exports, inst.Bridge, inst, observer)
}

// Dispatcher returns the attached dispatcher, or nil.
func (d *Driver) Dispatcher() *wasm.Dispatcher {
	return d.dispatcher
}

// Stats returns what the driver has done so far.
func (d *Driver) Stats() Stats {
	return d.stats
}

// Run calls init, ticks until ctx is cancelled or MaxTicks is reached, then
// frees the draw buffer and calls deinit. Cancellation is observed only
// between ticks. A guest fault ends the run immediately, without deinit,
// and is returned.
func (d *Driver) Run(ctx context.Context) error {
	if d.dispatcher == nil {
		return ErrNotAttached
	}
	if d.closer != nil {
		defer func() {
			if err := d.closer.Close(context.WithoutCancel(ctx)); err != nil {
				d.logger.Warn("Failed to close guest instance", zap.Error(err))
			}
		}()
	}

	started := time.Now()
	defer func() { d.stats.Elapsed = time.Since(started) }()

	d.logger.Info("Starting guest",
		zap.Int("tick_rate", d.opts.TickRate),
		zap.Int("max_ticks", d.opts.MaxTicks),
	)

	if err := d.dispatcher.Start(ctx); err != nil {
		return d.fatal(err)
	}

	var ticks <-chan time.Time
	if d.opts.TickRate > 0 {
		ticker := time.NewTicker(time.Second / time.Duration(d.opts.TickRate))
		defer ticker.Stop()
		ticks = ticker.C
	}

	last := time.Now()
	for d.opts.MaxTicks <= 0 || d.stats.Ticks < d.opts.MaxTicks {
		if ctx.Err() != nil {
			return d.shutdown(ctx, nil)
		}
		if ticks != nil {
			select {
			case <-ctx.Done():
				return d.shutdown(ctx, nil)
			case <-ticks:
			}
		}

		now := time.Now()
		elapsed := now.Sub(last)
		last = now

		if err := d.tick(ctx, elapsed); err != nil {
			if wasm.IsFault(err) {
				return d.fatal(err)
			}
			return d.shutdown(ctx, err)
		}
	}
	return d.shutdown(ctx, nil)
}

func (d *Driver) tick(ctx context.Context, elapsed time.Duration) error {
	if d.source != nil {
		if err := d.dispatcher.Deliver(ctx, d.source.Drain()); err != nil {
			return err
		}
	}
	if err := d.dispatcher.Update(ctx, elapsed); err != nil {
		return err
	}

	w, h := d.WindowSize()
	buf, err := d.drawBuffer(ctx, w, h)
	if err != nil {
		return err
	}
	if err := d.dispatcher.Draw(ctx, buf, w, h); err != nil {
		return err
	}
	if buf.Length > 0 {
		if err := d.sink.Present(buf.Offset, buf.Length, w, h); err != nil {
			return err
		}
		d.stats.Frames++
		d.metrics.FramePresented()
	}

	d.stats.Ticks++
	d.metrics.Tick()
	return nil
}

// drawBuffer returns a guest buffer sized for a w x h frame, replacing the
// previous one when the display size changed.
func (d *Driver) drawBuffer(ctx context.Context, w, h uint64) (wasm.Region, error) {
	if w == d.bufferW && h == d.bufferH && d.buffer.Length > 0 {
		return d.bridge.Resolve(d.buffer.Offset, d.buffer.Length)
	}

	resized := d.buffer.Length > 0
	if err := d.releaseBuffer(ctx); err != nil {
		return wasm.Region{}, err
	}

	size, ok := abi.FrameLen(w, h)
	if !ok {
		return wasm.Region{}, fmt.Errorf("display size %dx%d overflows a frame", w, h)
	}
	buf, err := d.bridge.Allocate(ctx, size)
	if err != nil {
		return wasm.Region{}, err
	}

	if resized {
		d.logger.Debug("Display resized",
			zap.Uint64("width", w),
			zap.Uint64("height", h),
		)
	}
	d.buffer, d.bufferW, d.bufferH = buf, w, h
	return buf, nil
}

func (d *Driver) releaseBuffer(ctx context.Context) error {
	buf := d.buffer
	d.buffer = wasm.Region{}
	d.bufferW, d.bufferH = 0, 0
	return d.bridge.Deallocate(ctx, buf)
}

// shutdown frees the draw buffer and calls deinit. cause, if set, is the
// host-side error that ended the loop and is returned alongside.
func (d *Driver) shutdown(ctx context.Context, cause error) error {
	if err := d.releaseBuffer(ctx); err != nil {
		return errors.Join(cause, d.fatal(err))
	}
	if err := d.dispatcher.Finish(ctx); err != nil {
		d.metrics.Fault(wasm.KindOf(err).String())
		d.logger.Error("Guest deinit failed", zap.Error(err))
		return errors.Join(cause, err)
	}

	d.logger.Info("Guest finished",
		zap.Int("ticks", d.stats.Ticks),
		zap.Uint64("frames", d.stats.Frames),
	)
	return cause
}

// fatal finalizes the guest without deinit.
func (d *Driver) fatal(err error) error {
	d.metrics.Fault(wasm.KindOf(err).String())
	d.dispatcher.Abort(err)
	return err
}

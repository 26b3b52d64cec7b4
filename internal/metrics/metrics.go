// Package metrics exports runtime statistics to prometheus.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "pixelhost"

// Collector records tick, frame, event and fault counts. A nil *Collector
// is valid and records nothing.
type Collector struct {
	ticks       prometheus.Counter
	frames      prometheus.Counter
	delivered   *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	faults      *prometheus.CounterVec
	callSeconds *prometheus.HistogramVec
}

// New creates a collector and registers it on reg.
func New(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Driver ticks completed.",
		}),
		frames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_presented_total",
			Help:      "Frames handed to the display.",
		}),
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_delivered_total",
			Help:      "Input events delivered to the guest.",
		}, []string{"kind"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Input events not delivered to the guest.",
		}, []string{"kind", "reason"}),
		faults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "faults_total",
			Help:      "Fatal guest faults.",
		}, []string{"kind"}),
		callSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "guest_call_seconds",
			Help:      "Duration of guest entry point calls.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 8),
		}, []string{"call"}),
	}

	for _, col := range []prometheus.Collector{c.ticks, c.frames, c.delivered, c.dropped, c.faults, c.callSeconds} {
		if err := reg.Register(col); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return c, nil
}

func (c *Collector) Tick() {
	if c == nil {
		return
	}
	c.ticks.Inc()
}

func (c *Collector) FramePresented() {
	if c == nil {
		return
	}
	c.frames.Inc()
}

func (c *Collector) Fault(kind string) {
	if c == nil {
		return
	}
	c.faults.WithLabelValues(kind).Inc()
}

// GuestCall implements wasm.Observer.
func (c *Collector) GuestCall(call string, d time.Duration) {
	if c == nil {
		return
	}
	c.callSeconds.WithLabelValues(call).Observe(d.Seconds())
}

// EventDelivered implements wasm.Observer.
func (c *Collector) EventDelivered(kind string) {
	if c == nil {
		return
	}
	c.delivered.WithLabelValues(kind).Inc()
}

// EventDropped implements wasm.Observer.
func (c *Collector) EventDropped(kind, reason string) {
	if c == nil {
		return
	}
	c.dropped.WithLabelValues(kind, reason).Inc()
}

// Serve exposes gatherer on /metrics until ctx is done.
func Serve(ctx context.Context, port int, gatherer prometheus.Gatherer, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(port)),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Serving metrics", zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

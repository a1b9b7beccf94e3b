package metrics

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds the live session counters. All methods are safe on a nil
// receiver so components can run without metrics.
type Metrics struct {
	// Frame counters
	Frames        atomic.Uint64
	DisplayErrors atomic.Uint64

	// Analysis counters
	Analyses       atomic.Uint64
	RateLimited    atomic.Uint64
	EncodeFailures atomic.Uint64
	RemoteFailures atomic.Uint64
	RemoteTimeouts atomic.Uint64

	// Last observed detection sizes
	LastFaces  atomic.Uint64
	LastLabels atomic.Uint64

	latency  prometheus.Histogram
	registry *prometheus.Registry
}

// New creates a Metrics instance with its own Prometheus registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vigil_analysis_latency_seconds",
			Help:    "Wall time of successful remote analyses",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8},
		}),
	}
	m.register()
	return m
}

func (m *Metrics) register() {
	gauge := func(name, help string, v *atomic.Uint64) {
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: name, Help: help},
			func() float64 { return float64(v.Load()) },
		))
	}

	gauge("vigil_frames_total", "Frames shown since session start", &m.Frames)
	gauge("vigil_display_errors_total", "Frames the output surface failed to present", &m.DisplayErrors)
	gauge("vigil_analyses_total", "Successful remote analyses", &m.Analyses)
	gauge("vigil_rate_limited_total", "Analysis triggers suppressed by the minimum interval", &m.RateLimited)
	gauge("vigil_encode_failures_total", "Frames that could not be encoded for analysis", &m.EncodeFailures)
	gauge("vigil_remote_failures_total", "Failed remote analyses, timeouts included", &m.RemoteFailures)
	gauge("vigil_remote_timeouts_total", "Remote analyses abandoned at the deadline", &m.RemoteTimeouts)
	gauge("vigil_last_faces", "Faces in the most recent analysis", &m.LastFaces)
	gauge("vigil_last_labels", "Labels in the most recent analysis", &m.LastLabels)

	m.registry.MustRegister(m.latency)
}

func (m *Metrics) FrameShown() {
	if m != nil {
		m.Frames.Add(1)
	}
}

func (m *Metrics) DisplayFailed() {
	if m != nil {
		m.DisplayErrors.Add(1)
	}
}

// Analyzed records a successful analysis and its size.
func (m *Metrics) Analyzed(latency time.Duration, faces, labels int) {
	if m == nil {
		return
	}
	m.Analyses.Add(1)
	m.LastFaces.Store(uint64(faces))
	m.LastLabels.Store(uint64(labels))
	m.latency.Observe(latency.Seconds())
}

func (m *Metrics) Suppressed() {
	if m != nil {
		m.RateLimited.Add(1)
	}
}

func (m *Metrics) EncodeFailed() {
	if m != nil {
		m.EncodeFailures.Add(1)
	}
}

func (m *Metrics) RemoteFailed(timeout bool) {
	if m == nil {
		return
	}
	m.RemoteFailures.Add(1)
	if timeout {
		m.RemoteTimeouts.Add(1)
	}
}

// Handler returns the HTTP handler for this registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server stopped", zap.Error(err))
	}
}

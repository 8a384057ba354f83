package admin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/n0izn0iz/vst-bridge/pkg/wire"
)

// Metrics records bridge activity. It implements bridge.Observer.
type Metrics struct {
	registry *prometheus.Registry

	events        *prometheus.HistogramVec
	cachedAnswers *prometheus.CounterVec
	blocks        *prometheus.CounterVec
	blockDuration prometheus.Histogram
	blockFrames   prometheus.Gauge
	priority      prometheus.Gauge
	priorityFails prometheus.Counter
}

// NewMetrics creates the bridge metrics in their own registry, together with
// the Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vst_bridge_event_duration_seconds",
				Help:    "Time spent handling dispatcher calls and host callbacks",
				Buckets: prometheus.ExponentialBuckets(0.00005, 4, 8),
			},
			[]string{"direction", "opcode"},
		),
		cachedAnswers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vst_bridge_cached_callbacks_total",
				Help: "Host callbacks answered without a roundtrip",
			},
			[]string{"opcode"},
		),
		blocks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vst_bridge_audio_blocks_total",
				Help: "Processed audio blocks",
			},
			[]string{"precision"},
		),
		blockDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "vst_bridge_audio_block_duration_seconds",
				Help:    "Time spent in the plugin's process function per block",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 10),
			},
		),
		blockFrames: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "vst_bridge_audio_block_frames",
				Help: "Frames in the last processed block",
			},
		),
		priority: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "vst_bridge_audio_priority",
				Help: "Realtime priority last applied to the audio worker",
			},
		),
		priorityFails: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "vst_bridge_audio_priority_failures_total",
				Help: "Failed attempts to mirror the host's realtime priority",
			},
		),
	}
	m.registry.MustRegister(
		m.events, m.cachedAnswers, m.blocks, m.blockDuration, m.blockFrames,
		m.priority, m.priorityFails,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry holding the bridge metrics.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveEvent implements bridge.Observer.
func (m *Metrics) ObserveEvent(dir wire.Direction, opcode int32, d time.Duration, cached bool) {
	name := wire.OpcodeName(dir, opcode)
	if cached {
		m.cachedAnswers.WithLabelValues(name).Inc()
		return
	}
	m.events.WithLabelValues(dir.String(), name).Observe(d.Seconds())
}

// ObserveBlock implements bridge.Observer.
func (m *Metrics) ObserveBlock(frames int32, doublePrecision bool, d time.Duration) {
	precision := "single"
	if doublePrecision {
		precision = "double"
	}
	m.blocks.WithLabelValues(precision).Inc()
	m.blockDuration.Observe(d.Seconds())
	m.blockFrames.Set(float64(frames))
}

// ObservePriority implements bridge.Observer.
func (m *Metrics) ObservePriority(priority int32, ok bool) {
	if !ok {
		m.priorityFails.Inc()
		return
	}
	m.priority.Set(float64(priority))
}

// MetricsServer serves /metrics and /healthz.
type MetricsServer struct {
	logger *zap.Logger
	server *http.Server
	lis    net.Listener
}

// ServeMetrics starts serving m on addr. It returns once the listener is
// bound.
func ServeMetrics(addr string, m *Metrics, logger *zap.Logger) (*MetricsServer, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s := &MetricsServer{
		logger: logger.Named("metrics"),
		lis:    lis,
		server: &http.Server{
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  30 * time.Second,
		},
	}
	go func() {
		if err := s.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	s.logger.Info("serving metrics", zap.String("addr", lis.Addr().String()))
	return s, nil
}

// Addr returns the bound address.
func (s *MetricsServer) Addr() string { return s.lis.Addr().String() }

// Shutdown stops the server.
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

package observability

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/pipedbundle/internal/config"
)

// Compile outcomes used as the "outcome" label
const (
	OutcomeSuccess    = "success"
	OutcomeWarnings   = "warnings"
	OutcomeErrors     = "errors"
	OutcomeFatal      = "fatal"
	OutcomeSuppressed = "suppressed"
	OutcomeEmpty      = "empty"
)

// Metrics holds the Prometheus metrics of a pipedbundle process
type Metrics struct {
	registry *prometheus.Registry

	// Compile metrics
	compilesTotal   *prometheus.CounterVec
	compileDuration *prometheus.HistogramVec
	messagesTotal   *prometheus.CounterVec

	// Output metrics
	outputFilesTotal prometheus.Counter
	outputBytesTotal prometheus.Counter

	// Pipeline metrics
	entryPoints   prometheus.Gauge
	watchSessions prometheus.Gauge
}

// NewMetrics creates the metrics on a private registry, so several
// instances can coexist in one process
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		compilesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipedbundle_compiles_total",
				Help: "Total number of compile cycles by outcome",
			},
			[]string{"outcome"},
		),
		compileDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipedbundle_compile_duration_seconds",
				Help:    "Compile cycle latency in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"outcome"},
		),
		messagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipedbundle_compile_messages_total",
				Help: "Total number of compile errors and warnings",
			},
			[]string{"severity"},
		),

		outputFilesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "pipedbundle_output_files_total",
				Help: "Total number of output files pushed downstream",
			},
		),
		outputBytesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "pipedbundle_output_bytes_total",
				Help: "Total number of output bytes pushed downstream",
			},
		),

		entryPoints: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "pipedbundle_entry_points",
				Help: "Number of entry points in the most recent compile",
			},
		),
		watchSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "pipedbundle_watch_sessions",
				Help: "Current number of active watch sessions",
			},
		),
	}
}

// Registry returns the registry the metrics are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordCompile records one compile cycle
func (m *Metrics) RecordCompile(outcome string, duration time.Duration) {
	m.compilesTotal.WithLabelValues(outcome).Inc()
	m.compileDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordMessages records the errors and warnings reported by a cycle
func (m *Metrics) RecordMessages(errors, warnings int) {
	if errors > 0 {
		m.messagesTotal.WithLabelValues("error").Add(float64(errors))
	}
	if warnings > 0 {
		m.messagesTotal.WithLabelValues("warning").Add(float64(warnings))
	}
}

// RecordOutputFile records one file pushed downstream
func (m *Metrics) RecordOutputFile(size int) {
	m.outputFilesTotal.Inc()
	m.outputBytesTotal.Add(float64(size))
}

// SetEntryPoints records the entry point count of the current compile
func (m *Metrics) SetEntryPoints(n int) {
	m.entryPoints.Set(float64(n))
}

// WatchStarted marks a watch session as active
func (m *Metrics) WatchStarted() {
	m.watchSessions.Inc()
}

// WatchStopped marks a watch session as finished
func (m *Metrics) WatchStopped() {
	m.watchSessions.Dec()
}

// Handler returns a Fiber handler for the Prometheus metrics endpoint
func (m *Metrics) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

// MetricsServer exposes Metrics over HTTP
type MetricsServer struct {
	app     *fiber.App
	address string
}

// NewMetricsServer creates a Fiber app serving m at cfg.Path
func NewMetricsServer(m *Metrics, cfg config.MetricsConfig) *MetricsServer {
	app := fiber.New(fiber.Config{
		AppName:               "pipedbundle",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
	})
	app.Get(cfg.Path, m.Handler())
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	return &MetricsServer{app: app, address: cfg.Address}
}

// App returns the underlying Fiber app
func (s *MetricsServer) App() *fiber.App {
	return s.app
}

// Start listens until Shutdown is called
func (s *MetricsServer) Start() error {
	log.Info().Str("address", s.address).Msg("Starting metrics server")
	return s.app.Listen(s.address)
}

// Shutdown gracefully shuts down the server
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

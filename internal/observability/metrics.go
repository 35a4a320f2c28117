// Package observability exposes launcher metrics in the Prometheus format.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Probe results
const (
	ResultHealthy   = "healthy"
	ResultUnhealthy = "unhealthy"
)

// MetricsManager manages Prometheus metrics
type MetricsManager struct {
	logger   *zap.SugaredLogger
	registry *prometheus.Registry

	uptime prometheus.GaugeFunc

	// Activation endpoint
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	// Supervised server
	serverUp           prometheus.Gauge
	serverStateChanges *prometheus.CounterVec
	restartBudgetUsed  prometheus.Gauge
	probes             *prometheus.CounterVec
	probeDuration      prometheus.Histogram

	// Updates
	updateStates *prometheus.CounterVec
	menuActions  *prometheus.CounterVec
}

// NewMetricsManager creates a new metrics manager
func NewMetricsManager(logger *zap.SugaredLogger) *MetricsManager {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	mm := &MetricsManager{
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}

	mm.initMetrics(time.Now())
	mm.registerMetrics()

	return mm
}

func (mm *MetricsManager) initMetrics(startTime time.Time) {
	mm.uptime = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "sigma_launcher_uptime_seconds",
		Help: "Time since the launcher started",
	}, func() float64 { return time.Since(startTime).Seconds() })

	mm.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sigma_launcher_http_requests_total",
			Help: "Total number of activation endpoint requests",
		},
		[]string{"method", "path", "status"},
	)

	mm.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sigma_launcher_http_request_duration_seconds",
			Help:    "Activation endpoint request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	mm.serverUp = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sigma_launcher_server_up",
		Help: "1 while the supervised server is running",
	})

	mm.serverStateChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sigma_launcher_server_state_changes_total",
			Help: "Total number of server status changes",
		},
		[]string{"from_state", "to_state"},
	)

	mm.restartBudgetUsed = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sigma_launcher_server_restart_budget_used",
		Help: "Automatic restarts consumed since the server last reached running",
	})

	mm.probes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sigma_launcher_health_probes_total",
			Help: "Total number of health probes",
		},
		[]string{"result"},
	)

	mm.probeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sigma_launcher_health_probe_duration_seconds",
			Help:    "Health probe duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 3},
		},
	)

	mm.updateStates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sigma_launcher_update_states_total",
			Help: "Total number of update checker state changes",
		},
		[]string{"state"},
	)

	mm.menuActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sigma_launcher_menu_actions_total",
			Help: "Total number of tray menu actions",
		},
		[]string{"action"},
	)
}

func (mm *MetricsManager) registerMetrics() {
	mm.registry.MustRegister(
		mm.uptime,
		mm.httpRequests,
		mm.httpDuration,
		mm.serverUp,
		mm.serverStateChanges,
		mm.restartBudgetUsed,
		mm.probes,
		mm.probeDuration,
		mm.updateStates,
		mm.menuActions,
	)

	// Also register Go runtime metrics
	mm.registry.MustRegister(collectors.NewGoCollector())
	mm.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Handler returns an HTTP handler for the /metrics endpoint
func (mm *MetricsManager) Handler() http.Handler {
	return promhttp.HandlerFor(mm.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry for custom metrics
func (mm *MetricsManager) Registry() *prometheus.Registry {
	return mm.registry
}

// RecordHTTPRequest records an activation endpoint request
func (mm *MetricsManager) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	mm.httpRequests.WithLabelValues(method, path, status).Inc()
	mm.httpDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordServerStateChange records a status transition of the supervised server.
func (mm *MetricsManager) RecordServerStateChange(fromState, toState string, running bool) {
	mm.serverStateChanges.WithLabelValues(fromState, toState).Inc()
	if running {
		mm.serverUp.Set(1)
	} else {
		mm.serverUp.Set(0)
	}
}

// SetRestartBudgetUsed mirrors the retry budget count.
func (mm *MetricsManager) SetRestartBudgetUsed(count int) {
	mm.restartBudgetUsed.Set(float64(count))
}

// RecordProbe records one health probe.
func (mm *MetricsManager) RecordProbe(healthy bool, duration time.Duration) {
	result := ResultUnhealthy
	if healthy {
		result = ResultHealthy
	}
	mm.probes.WithLabelValues(result).Inc()
	mm.probeDuration.Observe(duration.Seconds())
}

// RecordUpdateState records an update checker state change.
func (mm *MetricsManager) RecordUpdateState(state string) {
	mm.updateStates.WithLabelValues(state).Inc()
}

// RecordMenuAction records a tray menu click.
func (mm *MetricsManager) RecordMenuAction(action string) {
	mm.menuActions.WithLabelValues(action).Inc()
}

// HTTPMiddleware returns middleware that records HTTP metrics
func (mm *MetricsManager) HTTPMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap the response writer to capture status code
			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(ww, r)

			mm.RecordHTTPRequest(r.Method, r.URL.Path, http.StatusText(ww.statusCode), time.Since(start))
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

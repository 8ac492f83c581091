package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"taengine/internal/series"
	"taengine/internal/signal"
)

// Metrics holds all Prometheus metrics for the evaluation engine. Each
// instance owns its registry so several can coexist in one process (tests,
// embedded servers).
type Metrics struct {
	Registry *prometheus.Registry

	EvaluationsTotal *prometheus.CounterVec // labels: status=ok|error
	EvaluationDur    prometheus.Histogram
	BarsEvaluated    prometheus.Counter

	// Graph node metrics
	NodeEvalDur     *prometheus.HistogramVec // labels: indicator
	NodeErrorsTotal *prometheus.CounterVec   // labels: indicator

	// Last-bar signals of evaluated nodes
	SignalsTotal *prometheus.CounterVec // labels: signal

	// Persistence
	SQLiteCommitDur prometheus.Histogram
	RedisWriteDur   prometheus.Histogram
	PublishErrors   *prometheus.CounterVec // labels: sink=sqlite|redis

	// Circuit breaker around Redis publishing
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedWrites      prometheus.Counter

	// Gateway
	WSClients    prometheus.Gauge
	WSFramesSent prometheus.Counter
	HTTPRequests *prometheus.CounterVec // labels: route, code
}

// NewMetrics creates all metrics on a fresh registry that also carries the
// Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,

		EvaluationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taengine_evaluations_total",
			Help: "Graph evaluations by outcome",
		}, []string{"status"}),
		EvaluationDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "taengine_evaluation_duration_seconds",
			Help:    "Whole-graph evaluation latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
		BarsEvaluated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taengine_bars_evaluated_total",
			Help: "Bars fed through graph evaluations",
		}),

		NodeEvalDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "taengine_node_duration_seconds",
			Help:    "Single indicator evaluation latency",
			Buckets: []float64{0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}, []string{"indicator"}),
		NodeErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taengine_node_errors_total",
			Help: "Indicator evaluations that returned an error",
		}, []string{"indicator"}),

		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taengine_last_signals_total",
			Help: "Last-bar signals of evaluated nodes",
		}, []string{"signal"}),

		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "taengine_sqlite_commit_duration_seconds",
			Help:    "SQLite result commit latency",
			Buckets: prometheus.DefBuckets,
		}),
		RedisWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "taengine_redis_write_duration_seconds",
			Help:    "Redis snapshot publish latency",
			Buckets: prometheus.DefBuckets,
		}),
		PublishErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taengine_publish_errors_total",
			Help: "Result persistence failures by sink",
		}, []string{"sink"}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taengine_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taengine_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisBufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taengine_redis_buffered_writes_total",
			Help: "Snapshots buffered locally while the Redis circuit breaker is open",
		}),

		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taengine_ws_clients",
			Help: "Connected websocket stream clients",
		}),
		WSFramesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taengine_ws_frames_sent_total",
			Help: "Per-bar frames written to websocket clients",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taengine_http_requests_total",
			Help: "Gateway HTTP requests by route and status code",
		}, []string{"route", "code"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.EvaluationsTotal,
		m.EvaluationDur,
		m.BarsEvaluated,
		m.NodeEvalDur,
		m.NodeErrorsTotal,
		m.SignalsTotal,
		m.SQLiteCommitDur,
		m.RedisWriteDur,
		m.PublishErrors,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedWrites,
		m.WSClients,
		m.WSFramesSent,
		m.HTTPRequests,
	)

	return m
}

// NodeEvaluated records one graph node evaluation. It satisfies
// graph.Observer.
func (m *Metrics) NodeEvaluated(_, indicatorName string, d time.Duration, err error) {
	m.NodeEvalDur.WithLabelValues(indicatorName).Observe(d.Seconds())
	if err != nil {
		m.NodeErrorsTotal.WithLabelValues(indicatorName).Inc()
	}
}

// ObserveEvaluation records a whole-graph evaluation and the last-bar
// signal of every node.
func (m *Metrics) ObserveEvaluation(bars int, d time.Duration, results map[string]*series.Result, err error) {
	m.EvaluationDur.Observe(d.Seconds())
	if err != nil {
		m.EvaluationsTotal.WithLabelValues("error").Inc()
		return
	}
	m.EvaluationsTotal.WithLabelValues("ok").Inc()
	m.BarsEvaluated.Add(float64(bars))
	for _, r := range results {
		if r.Len() == 0 {
			continue
		}
		m.SignalsTotal.WithLabelValues(r.LastSignal().String()).Inc()
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// HealthStatus represents the system health. Dependencies that are not
// enabled never degrade the status.
type HealthStatus struct {
	mu sync.RWMutex

	RedisEnabled   bool      `json:"redis_enabled"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteEnabled  bool      `json:"sqlite_enabled"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	LastEvaluation time.Time `json:"last_evaluation"`
	LastSignal     string    `json:"last_signal"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

// EnableRedis marks Redis as a checked dependency.
func (h *HealthStatus) EnableRedis() {
	h.mu.Lock()
	h.RedisEnabled = true
	h.mu.Unlock()
}

// EnableSQLite marks SQLite as a checked dependency.
func (h *HealthStatus) EnableSQLite() {
	h.mu.Lock()
	h.SQLiteEnabled = true
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

// RecordEvaluation stamps the latest evaluation.
func (h *HealthStatus) RecordEvaluation(t time.Time, last signal.Signal) {
	h.mu.Lock()
	h.LastEvaluation = t
	h.LastSignal = last.String()
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. nil clients are
// skipped.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	check := func() {
		probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if rdb != nil {
			h.CheckRedis(probeCtx, rdb)
		}
		if sqlDB != nil {
			h.CheckSQLite(probeCtx, sqlDB)
		}
	}
	check()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				check()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	redisDown := h.RedisEnabled && !h.RedisConnected
	sqliteDown := h.SQLiteEnabled && !h.SQLiteOK
	if redisDown || sqliteDown {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if redisDown && sqliteDown {
		overallStatus = "unhealthy"
	}

	lastEval := ""
	if !h.LastEvaluation.IsZero() {
		lastEval = h.LastEvaluation.Format(time.RFC3339)
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		RedisEnabled    bool    `json:"redis_enabled"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteEnabled   bool    `json:"sqlite_enabled"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastEvaluation  string  `json:"last_evaluation"`
		LastSignal      string  `json:"last_signal"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		RedisEnabled:    h.RedisEnabled,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteEnabled:   h.SQLiteEnabled,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastEvaluation:  lastEval,
		LastSignal:      h.LastSignal,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, m *Metrics, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.Handle("/healthz", health)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handler exposes the mux, mainly for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}

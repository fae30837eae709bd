// Package metrics exposes Prometheus metrics and the /healthz liveness
// endpoint for the site backend.
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
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the backend.
type Metrics struct {
	// Market data poller
	RefreshesTotal  prometheus.Counter
	RefreshFailures prometheus.Counter
	RefreshDur      prometheus.Histogram
	FeedStale       prometheus.Gauge // 1 while serving stale data
	TrackedCoins    prometheus.Gauge

	// Simulator
	SimOpsTotal    *prometheus.CounterVec // labels: op=buy|sell|reset|initial
	SimOpsRejected *prometheus.CounterVec // labels: op
	ActiveSessions prometheus.Gauge
	RevalueDur     prometheus.Histogram

	// WebSocket feed
	WSClients        prometheus.Gauge
	WSEnvelopesTotal prometheus.Counter

	// Warm store
	RedisBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisBreakerTrips prometheus.Counter
	SnapshotWriteDur  prometheus.Histogram
}

// New registers and returns all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		RefreshesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "beuhouse_market_refreshes_total",
			Help: "Total successful market refreshes",
		}),
		RefreshFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "beuhouse_market_refresh_failures_total",
			Help: "Total failed market refresh attempts",
		}),
		RefreshDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "beuhouse_market_refresh_duration_seconds",
			Help:    "Upstream markets fetch latency",
			Buckets: prometheus.DefBuckets,
		}),
		FeedStale: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "beuhouse_market_feed_stale",
			Help: "1 while the served snapshot is stale, 0 otherwise",
		}),
		TrackedCoins: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "beuhouse_tracked_coins",
			Help: "Coins in the latest market snapshot",
		}),

		SimOpsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beuhouse_sim_operations_total",
			Help: "Simulator operations accepted (by op)",
		}, []string{"op"}),
		SimOpsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beuhouse_sim_operations_rejected_total",
			Help: "Simulator operations rejected (by op)",
		}, []string{"op"}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "beuhouse_sim_active_sessions",
			Help: "Live simulator sessions",
		}),
		RevalueDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "beuhouse_sim_revalue_duration_seconds",
			Help:    "Time to revalue all live portfolios after a refresh",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),

		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "beuhouse_ws_clients",
			Help: "Connected WebSocket clients",
		}),
		WSEnvelopesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "beuhouse_ws_envelopes_total",
			Help: "Market refresh envelopes broadcast",
		}),

		RedisBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "beuhouse_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "beuhouse_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		SnapshotWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "beuhouse_redis_snapshot_write_duration_seconds",
			Help:    "Warm store snapshot write latency",
			Buckets: prometheus.DefBuckets,
		}),
	}

	prometheus.MustRegister(
		m.RefreshesTotal,
		m.RefreshFailures,
		m.RefreshDur,
		m.FeedStale,
		m.TrackedCoins,
		m.SimOpsTotal,
		m.SimOpsRejected,
		m.ActiveSessions,
		m.RevalueDur,
		m.WSClients,
		m.WSEnvelopesTotal,
		m.RedisBreakerState,
		m.RedisBreakerTrips,
		m.SnapshotWriteDur,
	)

	return m
}

// HealthStatus represents backend health for the /healthz probe.
type HealthStatus struct {
	mu sync.RWMutex

	LastRefreshAt  time.Time
	FeedStale      bool
	RedisConnected bool
	SQLiteOK       bool

	RedisLatencyMs  float64
	SQLiteLatencyMs float64
	LastCheckAt     time.Time
	StartedAt       time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

func (h *HealthStatus) SetRefresh(at time.Time, stale bool) {
	h.mu.Lock()
	h.LastRefreshAt = at
	h.FeedStale = stale
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

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint. The feed being stale degrades the
// status; only a dead content store makes the probe fail, since the site can
// keep serving markets and simulations without Redis.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if h.FeedStale || !h.RedisConnected {
		overallStatus = "degraded"
	}
	if !h.SQLiteOK {
		overallStatus = "unhealthy"
		httpCode = http.StatusServiceUnavailable
	}

	refreshAge := ""
	if !h.LastRefreshAt.IsZero() {
		refreshAge = time.Since(h.LastRefreshAt).Round(time.Second).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		LastRefreshAt   string  `json:"last_refresh_at"`
		RefreshAge      string  `json:"refresh_age"`
		FeedStale       bool    `json:"feed_stale"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		LastRefreshAt:   h.LastRefreshAt.Format(time.RFC3339),
		RefreshAge:      refreshAge,
		FeedStale:       h.FeedStale,
		RedisConnected:  h.RedisConnected,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		RedisLatencyMs:  h.RedisLatencyMs,
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
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

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

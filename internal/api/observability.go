package api

import (
	"net/http"
	"net/http/pprof"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// Metrics with bounded cardinality (no per-player or per-client labels).
var (
	advanceCallDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "game_advance_call_duration_seconds",
		Help:    "Time spent in one advance call",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
	})

	advanceCallCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "game_advance_call_count",
		Help: "Advance-call counter of the local session",
	})

	delayedMessages = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "game_delayed_messages",
		Help: "Messages buffered by the delayer",
	})

	// The lag health metric: a growing backlog of advance messages means
	// this client is falling behind real time.
	delayedAdvanceMessages = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "game_delayed_advance_messages",
		Help: "Advance messages buffered by the delayer",
	})

	desyncsDetected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "game_desyncs_detected",
		Help: "Checksum mismatches detected by the synchronizer",
	})

	resyncsCompleted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "game_resyncs_completed",
		Help: "Full state resyncs completed",
	})

	playerCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "game_player_count",
		Help: "Players in the canonical list",
	})

	activePlayerCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "game_active_player_count",
		Help: "Players in game and not defeated",
	})

	connectionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connection_rejected_total",
		Help: "Connections rejected by rate limiter or connection caps",
	}, []string{"reason"}) // bounded: "rate_limit", "ws_total_limit", "ws_ip_limit", "origin"

	wsConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "websocket_connections_active",
		Help: "Currently active WebSocket clients",
	})

	wsMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "websocket_messages_total",
		Help: "Total WebSocket messages relayed",
	})
)

// ObservabilityConfig configures the debug server.
type ObservabilityConfig struct {
	Enabled       bool
	ListenAddr    string // localhost only unless explicitly overridden
	BasicAuthUser string
	BasicAuthPass string
}

// DefaultObservabilityConfig returns safe defaults.
func DefaultObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		Enabled:    true,
		ListenAddr: "127.0.0.1:6060",
	}
}

// StartDebugServer starts the internal pprof+metrics server. It binds to
// localhost only unless ALLOW_DEBUG_EXTERNAL=true.
func StartDebugServer(cfg ObservabilityConfig) error {
	if !cfg.Enabled {
		log.Info("debug server disabled")
		return nil
	}

	if cfg.ListenAddr != "127.0.0.1:6060" && cfg.ListenAddr != "localhost:6060" {
		if os.Getenv("ALLOW_DEBUG_EXTERNAL") != "true" {
			log.Warn("debug server forced to localhost")
			cfg.ListenAddr = "127.0.0.1:6060"
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	var handler http.Handler = mux
	if cfg.BasicAuthUser != "" {
		handler = basicAuthMiddleware(cfg.BasicAuthUser, cfg.BasicAuthPass, mux)
	}

	go func() {
		log.Printf("debug server on %s (pprof, /metrics)", cfg.ListenAddr)
		if err := http.ListenAndServe(cfg.ListenAddr, handler); err != nil {
			log.Errorf("debug server: %v", err)
		}
	}()

	return nil
}

func basicAuthMiddleware(user, pass string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || u != user || p != pass {
			w.Header().Set("WWW-Authenticate", `Basic realm="debug"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RecordAdvanceCall records one advance call's duration.
func RecordAdvanceCall(d time.Duration) {
	advanceCallDuration.Observe(d.Seconds())
}

// UpdateSessionGauges pushes a session stats snapshot into the gauges. The
// snapshot comes off the game loop; only plain numbers cross this boundary.
func UpdateSessionGauges(callCount uint32, delayed, delayedAdvance, players, active int, desyncs, resyncs uint64) {
	advanceCallCount.Set(float64(callCount))
	delayedMessages.Set(float64(delayed))
	delayedAdvanceMessages.Set(float64(delayedAdvance))
	playerCount.Set(float64(players))
	activePlayerCount.Set(float64(active))
	desyncsDetected.Set(float64(desyncs))
	resyncsCompleted.Set(float64(resyncs))
}

// RecordConnectionRejected increments the bounded-reason rejection counter.
func RecordConnectionRejected(reason string) {
	connectionRejected.WithLabelValues(reason).Inc()
}

// UpdateWSConnections updates the WebSocket client gauge.
func UpdateWSConnections(count int) {
	wsConnectionsActive.Set(float64(count))
}

// IncrementWSMessages counts one relayed WebSocket message.
func IncrementWSMessages() {
	wsMessagesTotal.Inc()
}

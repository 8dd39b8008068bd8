package metrics

import (
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// API metrics
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kidsfeed_api_requests_total",
			Help: "Total number of API requests processed",
		},
		[]string{"method", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kidsfeed_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Access gate metrics
	AccessDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kidsfeed_access_decisions_total",
			Help: "Access gate decisions by result and lock reason",
		},
		[]string{"result", "reason"},
	)

	AdmissionDenials = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kidsfeed_admission_denials_total",
			Help: "Video opens refused by the admission policy",
		},
	)

	// Usage metrics
	WatchSecondsCredited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kidsfeed_watch_seconds_credited_total",
			Help: "Seconds of playback credited to family quotas",
		},
		[]string{"family"},
	)

	QuotaResets = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kidsfeed_quota_resets_total",
			Help: "Daily quota counters zeroed on a calendar-day change",
		},
	)

	// Playback metrics
	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kidsfeed_active_sessions",
			Help: "Number of open playback sessions",
		},
	)

	SessionsClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kidsfeed_sessions_closed_total",
			Help: "Playback sessions closed by cause",
		},
		[]string{"cause"},
	)

	StateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kidsfeed_player_state_transitions_total",
			Help: "Player state transitions by target mode",
		},
		[]string{"mode"},
	)

	FallbackAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kidsfeed_fallback_attempts_total",
			Help: "Fallback provider requests by tier and outcome",
		},
		[]string{"tier", "outcome"},
	)

	FallbackResolutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kidsfeed_fallback_resolution_seconds",
			Help:    "Time to resolve a fallback source",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 4, 8, 16, 32, 64},
		},
		[]string{"mode"},
	)

	FallbackCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kidsfeed_fallback_cache_hits_total",
			Help: "Fallback resolutions served from the stream cache",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		AccessDecisions,
		AdmissionDenials,
		WatchSecondsCredited,
		QuotaResets,
		ActiveSessions,
		SessionsClosed,
		StateTransitions,
		FallbackAttempts,
		FallbackResolutionDuration,
		FallbackCacheHits,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// Handler serves /metrics and a plain /health check.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			// Use systemd socket-activated listener
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			// Create and bind listener ourselves
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}

// Package api serves the family management and playback session HTTP
// API.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/goodtune/kidsfeed/internal/playback"
	"github.com/goodtune/kidsfeed/internal/policy"
	"github.com/goodtune/kidsfeed/internal/session"
	"github.com/goodtune/kidsfeed/internal/storage"
	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// Config holds the API server configuration.
type Config struct {
	ListenAddr      string
	RateLimit       int
	RateLimitWindow time.Duration
	AllowedOrigins  []string
	Clock           clockwork.Clock
}

// Gate evaluates access for family members.
type Gate interface {
	Check(ctx context.Context, familyID, memberID string) (policy.AccessDecision, error)
	Controls(ctx context.Context, familyID string) (policy.ParentalControls, error)
}

// Quota reads today's family watch counter.
type Quota interface {
	Current(ctx context.Context, familyID string) (storage.WatchQuota, error)
}

// Sessions manages open playback sessions.
type Sessions interface {
	Open(ctx context.Context, familyID, memberID, videoID string) (*session.Session, error)
	Get(id string) (*session.Session, error)
	List() []session.Info
	Close(id string) error
	HandleEvent(id string, ev playback.Event) error
	CloseVideo(familyID, videoID string) int
	ControlsChanged(ctx context.Context, familyID string) error
}

// Server represents the API HTTP server.
type Server struct {
	config   Config
	store    storage.Store
	gate     Gate
	quota    Quota
	sessions Sessions
	validate *Validator
	clock    clockwork.Clock
	server   *http.Server
	router   *mux.Router
	handler  http.Handler
	listener net.Listener
	logger   zerolog.Logger
}

// NewServer creates a new API server.
func NewServer(cfg Config, store storage.Store, gate Gate, quota Quota, sessions Sessions, logger zerolog.Logger) *Server {
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 100
	}
	if cfg.RateLimitWindow == 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	s := &Server{
		config:   cfg,
		store:    store,
		gate:     gate,
		quota:    quota,
		sessions: sessions,
		validate: NewValidator(),
		clock:    cfg.Clock,
		router:   mux.NewRouter(),
		logger:   logger.With().Str("component", "api").Logger(),
	}

	s.setupRoutes()

	// mux only runs Use middleware on matched routes; preflights have none.
	var handler http.Handler = s.router
	if len(cfg.AllowedOrigins) > 0 {
		handler = CORSMiddleware(cfg.AllowedOrigins)(handler)
	}
	handler = RateLimitMiddleware(cfg.RateLimit, cfg.RateLimitWindow)(handler)
	s.handler = LoggingMiddleware(s.logger)(handler)

	// No WriteTimeout: renderer websockets are long lived.
	s.server = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.handler,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	families := s.router.PathPrefix("/api/families/{family}").Subrouter()

	families.HandleFunc("/members", s.listMembers).Methods("GET")
	families.HandleFunc("/members/{member}", s.getMember).Methods("GET")
	families.HandleFunc("/members/{member}", s.putMember).Methods("PUT")
	families.HandleFunc("/members/{member}", s.deleteMember).Methods("DELETE")
	families.HandleFunc("/members/{member}/access", s.getAccess).Methods("GET")

	families.HandleFunc("/controls", s.getControls).Methods("GET")
	families.HandleFunc("/controls", s.putControls).Methods("PUT")
	families.HandleFunc("/quota", s.getQuota).Methods("GET")

	families.HandleFunc("/videos", s.listVideos).Methods("GET")
	families.HandleFunc("/videos", s.createVideo).Methods("POST")
	families.HandleFunc("/videos/{video}", s.getVideo).Methods("GET")
	families.HandleFunc("/videos/{video}", s.deleteVideo).Methods("DELETE")

	families.HandleFunc("/sessions", s.openSession).Methods("POST")

	s.router.HandleFunc("/api/sessions", s.listSessions).Methods("GET")
	s.router.HandleFunc("/api/sessions/{session}", s.getSession).Methods("GET")
	s.router.HandleFunc("/api/sessions/{session}", s.closeSession).Methods("DELETE")
	s.router.HandleFunc("/api/sessions/{session}/events", s.postEvent).Methods("POST")
	s.router.HandleFunc("/api/sessions/{session}/ws", s.rendererSocket).Methods("GET")
}

// SetListener sets a pre-created listener for systemd socket activation.
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the API server.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.config.ListenAddr).Msg("Starting API server")

	ln := s.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", s.config.ListenAddr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", s.config.ListenAddr, err)
		}
	} else {
		s.logger.Debug().Msg("Using systemd socket-activated API listener")
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()

	return nil
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping API server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}

	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "ok",
		"active_sessions": len(s.sessions.List()),
	})
}

package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/goodtune/kidsfeed/internal/api"
	"github.com/goodtune/kidsfeed/internal/config"
	"github.com/goodtune/kidsfeed/internal/metrics"
	"github.com/goodtune/kidsfeed/internal/playback"
	"github.com/goodtune/kidsfeed/internal/playback/fallback"
	"github.com/goodtune/kidsfeed/internal/policy"
	"github.com/goodtune/kidsfeed/internal/policy/opa"
	"github.com/goodtune/kidsfeed/internal/session"
	"github.com/goodtune/kidsfeed/internal/storage"
	"github.com/goodtune/kidsfeed/internal/storage/bolt"
	"github.com/goodtune/kidsfeed/internal/storage/redis"
	"github.com/goodtune/kidsfeed/internal/systemd"
	"github.com/goodtune/kidsfeed/internal/usage"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server"},
	Short:   "Start the kidsfeed server",
	Long:    `Start the kidsfeed API, session manager, quota reset scheduler and metrics endpoints.`,
	RunE:    runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting kidsfeed")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	// Initialize storage
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("type", cfg.Storage.Type).
		Msg("Storage initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockwork.NewRealClock()
	location, err := cfg.Location()
	if err != nil {
		return fmt.Errorf("invalid timezone: %w", err)
	}

	// Initialize quota tracker and daily reset
	tracker := usage.NewTracker(store.Quotas(), usage.Config{
		Clock:    clock,
		Location: location,
	}, logger)

	resetScheduler := usage.NewResetScheduler(
		tracker,
		parseDuration(cfg.Usage.ResetCheckInterval, time.Minute),
		logger,
	)
	resetScheduler.Start(ctx)

	// Initialize access gate and admission policy
	opaEngine, err := opa.NewEngine(cfg.Policy.PolicyDir, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OPA engine: %w", err)
	}

	policyEngine := policy.NewEngine(store, tracker, opaEngine, defaultControls(cfg.Policy.DefaultControls), logger)

	logger.Info().
		Strs("packages", opaEngine.Packages()).
		Msg("Access gate initialized")

	// Initialize fallback resolver
	resolver, err := fallback.NewResolver(fallbackConfig(cfg.Playback, clock), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize fallback resolver: %w", err)
	}

	// Initialize session manager
	manager := session.NewManager(store, policyEngine, tracker, resolver, session.Options{
		Clock:              clock,
		TickInterval:       parseDuration(cfg.Usage.TickInterval, usage.DefaultTickInterval),
		APILoadTimeout:     parseDuration(cfg.Playback.APILoadTimeout, playback.DefaultAPILoadTimeout),
		ReevaluateInterval: parseDuration(cfg.Usage.ReevaluateInterval, session.DefaultReevaluateInterval),
		Player: playback.PlayerOptions{
			ContainerID: cfg.Playback.PlayerContainerID,
			Origin:      cfg.Playback.Origin,
		},
	}, logger)

	managerDone := make(chan struct{})
	go func() {
		defer close(managerDone)
		manager.Run(ctx)
	}()

	// Initialize API server
	apiAddr := listenAddr(cfg.Server.BindAddress, cfg.Server.APIPort)
	apiServer := api.NewServer(api.Config{
		ListenAddr:      apiAddr,
		RateLimit:       cfg.Server.RateLimit,
		RateLimitWindow: parseDuration(cfg.Server.RateLimitWindow, time.Minute),
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		Clock:           clock,
	}, store, policyEngine, tracker, manager, logger)

	if sdListeners.API != nil {
		apiServer.SetListener(sdListeners.API)
	}

	if err := apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	// Initialize Metrics Server
	var metricsServer *metrics.Server
	if cfg.Server.MetricsPort > 0 || sdListeners.Metrics != nil {
		metricsAddr := listenAddr(cfg.Server.BindAddress, cfg.Server.MetricsPort)
		metricsServer = metrics.NewServer(metricsAddr, logger)

		// Use systemd socket-activated listener if available
		if sdListeners.Metrics != nil {
			metricsServer.SetListener(sdListeners.Metrics)
		}

		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start Metrics Server: %w", err)
		}
	}

	// Log startup complete
	logger.Info().Msg("kidsfeed startup complete")
	logger.Info().Msgf("API: http://%s/api", apiAddr)
	if metricsServer != nil {
		logger.Info().Msgf("Metrics: http://%s/metrics", listenAddr(cfg.Server.BindAddress, cfg.Server.MetricsPort))
	}

	// Notify systemd that we're ready to serve requests
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	} else if systemd.IsSystemdService() {
		logger.Debug().Msg("Sent systemd ready notification")
	}
	go systemd.RunWatchdog(ctx, logger)

	// Wait for signals (shutdown or reload)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	for sig := range sigChan {
		if sig != syscall.SIGHUP {
			logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received, gracefully stopping...")
			break
		}

		logger.Info().Msg("SIGHUP received, reloading admission policies...")
		if err := opaEngine.Reload(); err != nil {
			logger.Error().Err(err).Msg("Failed to reload policies")
		} else {
			logger.Info().Msg("Policies reloaded successfully")
		}
	}

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	if err := apiServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping API server")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error closing playback sessions")
	}

	cancel()
	<-managerDone
	resetScheduler.Stop()

	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping Metrics Server")
		}
	}

	logger.Info().Msg("kidsfeed stopped")

	return nil
}

func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "", "bolt":
		return bolt.Open(cfg.Path)
	case "redis":
		return redis.Open(cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s (must be bolt or redis)", cfg.Type)
	}
}

func defaultControls(cfg config.ControlsConfig) policy.ParentalControls {
	return policy.ParentalControls{
		Enabled:               cfg.Enabled,
		DailyTimeLimitMinutes: cfg.DailyTimeLimitMinutes,
		Schedule: policy.Schedule{
			Start: cfg.ScheduleStart,
			End:   cfg.ScheduleEnd,
		},
	}
}

func fallbackConfig(cfg config.PlaybackConfig, clock clockwork.Clock) fallback.Config {
	return fallback.Config{
		StreamProviders:   cfg.StreamProviders,
		MetadataProviders: cfg.MetadataProviders,
		Timeout:           parseDuration(cfg.ProviderTimeout, fallback.DefaultTimeout),
		Preferences: fallback.Preferences{
			StreamQuality:   cfg.PreferredStreamQuality,
			StreamFormat:    cfg.PreferredStreamFormat,
			FormatQuality:   cfg.PreferredFormatQuality,
			FormatContainer: cfg.PreferredFormatContainer,
		},
		CacheSize: cfg.CacheSize,
		CacheTTL:  parseDuration(cfg.CacheTTL, 30*time.Minute),
		Clock:     clock,
	}
}

func listenAddr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/Socialeap/project-watch-dashboard/internal/config"
	"github.com/Socialeap/project-watch-dashboard/internal/convo"
	"github.com/Socialeap/project-watch-dashboard/internal/gateway"
	"github.com/Socialeap/project-watch-dashboard/internal/observability"
	"github.com/Socialeap/project-watch-dashboard/internal/projects"
	"github.com/Socialeap/project-watch-dashboard/internal/session"
	"github.com/Socialeap/project-watch-dashboard/internal/stt"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("voice_mode", cfg.VoiceMode).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Project Watch voice service starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Project store, loaded once at startup and refreshed in the background
	store := projects.NewStore(projectSource(cfg))
	if err := store.Refresh(ctx); err != nil {
		logger.Warn().Err(err).Msg("Initial project load failed, starting with no records")
	}

	engine := convo.NewEngine(cfg, logger)
	manager := session.NewManager(logger)
	voice := gateway.NewHandler(cfg, engine, store, manager, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/voice", voice.HandleVoiceWS)
	mux.HandleFunc("/health", observability.HealthCheckHandler())

	geminiCheck := func(ctx context.Context) (bool, error) {
		if cfg.GeminiAPIKey == "" {
			return false, fmt.Errorf("missing Gemini API key")
		}
		if stt.NewGeminiTranscriber(cfg) == nil {
			return false, fmt.Errorf("failed to create Gemini transcriber")
		}
		return true, nil
	}
	projectsCheck := func(ctx context.Context) (bool, error) {
		// Healthy as long as the snapshot query answers; an empty store is
		// valid (no active projects)
		_ = store.Snapshot()
		return true, nil
	}
	mux.HandleFunc("/ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"gemini":   geminiCheck,
		"projects": projectsCheck,
	}))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		endpoint := fmt.Sprintf("ws://localhost:%s/voice", cfg.Port)
		if cfg.PublicURL != "" {
			endpoint = fmt.Sprintf("wss://%s/voice", hostOnly(cfg.PublicURL))
		}
		logger.Info().Str("port", cfg.Port).Str("endpoint", endpoint).Msg("Server listening")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		interval := time.Duration(cfg.ProjectsRefreshMs) * time.Millisecond
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if err := store.Refresh(gctx); err != nil {
					logger.Warn().Err(err).Msg("Project refresh failed")
				}
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()

		logger.Info().Msg("Shutting down server...")
		manager.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("Server exited with error")
	}

	logger.Info().Msg("Server exited gracefully")
}

// projectSource picks the configured project data source. Without a file the
// store starts empty and the refresh loop is a no-op.
func projectSource(cfg *config.Config) projects.Source {
	if cfg.ProjectsFile != "" {
		return &projects.FileSource{Path: cfg.ProjectsFile}
	}
	return &projects.StaticSource{}
}

// hostOnly strips a scheme prefix from a public URL
func hostOnly(raw string) string {
	for _, prefix := range []string{"https://", "http://", "wss://", "ws://"} {
		if len(raw) > len(prefix) && raw[:len(prefix)] == prefix {
			return raw[len(prefix):]
		}
	}
	return raw
}

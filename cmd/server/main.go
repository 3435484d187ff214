package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lexiqai/indextts-gateway/internal/artifacts"
	"github.com/lexiqai/indextts-gateway/internal/bus"
	"github.com/lexiqai/indextts-gateway/internal/config"
	"github.com/lexiqai/indextts-gateway/internal/engine"
	"github.com/lexiqai/indextts-gateway/internal/httpapi"
	"github.com/lexiqai/indextts-gateway/internal/observability"
	"github.com/lexiqai/indextts-gateway/internal/orchestrator"
	"github.com/lexiqai/indextts-gateway/internal/resilience"
	"github.com/lexiqai/indextts-gateway/internal/session"
	"github.com/lexiqai/indextts-gateway/internal/voices"
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
		Str("engine_mode", cfg.EngineMode).
		Str("engine_url", cfg.EngineURL).
		Str("voices_dir", cfg.VoicesDir).
		Str("output_dir", cfg.OutputDir).
		Int("queue_depth", cfg.QueueDepth).
		Bool("bus_enabled", cfg.BusEnabled).
		Msg("IndexTTS gateway starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx)

	// Model checkpoints and directories must exist before anything is reachable
	if err := cfg.CheckModelDir(); err != nil {
		logger.Fatal().Err(err).Msg("Model directory check failed")
	}
	if err := cfg.EnsureDirs(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to prepare directories")
	}

	shutdownTracing, err := observability.InitTracing(ctx, cfg.OTLPEndpoint, cfg.OTLPInsecure)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize tracing")
	}

	ledger, err := artifacts.OpenLedger(ctx, cfg.LedgerPath, logger.With().Str("component", "ledger").Logger())
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open artifact ledger")
	}
	if cfg.ArtifactRetentionHours > 0 {
		go ledger.RunPruner(ctx, time.Hour, time.Duration(cfg.ArtifactRetentionHours)*time.Hour)
	}

	// One engine for the whole process
	eng, err := engine.New(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to start synthesis engine")
	}

	alloc := artifacts.NewAllocator(cfg.OutputDir)
	orch := orchestrator.New(eng, alloc, ledger, orchestrator.Options{
		QueueDepth:            cfg.QueueDepth,
		DefaultSentenceTokens: cfg.DefaultSentenceTokens,
		Logger:                logger,
	})

	registry := voices.New(cfg.VoicesDir)
	examples, err := voices.LoadExamples(cfg.ExamplesFile)
	if err != nil {
		logger.Warn().Err(err).Str("file", cfg.ExamplesFile).Msg("Failed to load examples")
	}

	// Create HTTP server
	mux := http.NewServeMux()

	httpapi.New(orch, registry, alloc, cfg.EmotionWeightDefault, logger).Register(mux)
	mux.Handle("/session", session.New(orch, registry, examples, cfg.PublicBaseURL, logger))

	// Health check endpoint
	mux.HandleFunc("/health", observability.HealthCheckHandler())
	mux.HandleFunc("/ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"engine": orch.Health,
		"ledger": ledger.Ping,
	}))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Optional message bus front end
	var natsConn *nats.Conn
	busDone := make(chan struct{})
	if cfg.BusEnabled {
		natsConn, err = bus.Connect(ctx, cfg.BusURL, &resilience.ReconnectConfig{
			MaxAttempts: cfg.ReconnectMaxAttempts,
			Backoff:     time.Duration(cfg.ReconnectBackoff) * time.Millisecond,
			Multiplier:  2.0,
			MaxBackoff:  30 * time.Second,
		}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to message bus")
		}
		var store nats.ObjectStore
		if cfg.BusObjectBucket != "" {
			if store, err = bus.OpenObjectStore(natsConn, cfg.BusObjectBucket); err != nil {
				logger.Fatal().Err(err).Msg("Failed to open artifact bucket")
			}
		}
		worker := bus.NewWorker(natsConn, cfg.BusSubject, orch, registry, cfg.EmotionWeightDefault, store, logger)
		go func() {
			defer close(busDone)
			if err := worker.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("Bus worker stopped")
			}
		}()
	} else {
		close(busDone)
	}

	// Create HTTP server with timeouts. Synthesis can take minutes, so the
	// write timeout is generous.
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("session", fmt.Sprintf("ws://localhost:%s/session", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	<-ctx.Done()
	logger.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	<-busDone
	if natsConn != nil {
		natsConn.Close()
	}
	if err := orch.Close(); err != nil {
		logger.Warn().Err(err).Msg("Failed to close orchestrator")
	}
	if err := eng.Close(); err != nil {
		logger.Warn().Err(err).Msg("Failed to close engine")
	}
	if err := ledger.Close(); err != nil {
		logger.Warn().Err(err).Msg("Failed to close ledger")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Failed to flush traces")
	}

	logger.Info().Msg("Server exited gracefully")
}

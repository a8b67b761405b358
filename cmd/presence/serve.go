package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"presence-lab/contract"
	"presence-lab/infrastructure/api"
	"presence-lab/infrastructure/grpc/server"
	"presence-lab/infrastructure/websocket"
	"presence-lab/internal"
	"presence-lab/observability"
	"presence-lab/repositories"
	"presence-lab/runtime"
	"presence-lab/runtime/workers"
	"presence-lab/services"
	"syscall"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the presence server",
		Long: `Start the websocket presence server, the liveness sweeper and the gRPC health service.
Configuration is read from the environment (and an optional .env file).`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(parent context.Context) error {
	// 1. Configuration & Logger
	config, err := internal.Load()
	if err != nil {
		return configError{err}
	}
	log := logs.GetLoggerFromString(config.LogLevel)
	charReplacement, err := internal.CharacterRune(config.CharReplacement)
	if err != nil {
		return configError{err}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	monitoring := observability.NewMonitoringManager(registry)

	// 2. Optional journal (BadgerDB)
	var journal contract.Journal
	if config.JournalFilepath != "" {
		db, err := repositories.OpenBadger(config.JournalFilepath)
		if err != nil {
			return fmt.Errorf("journal opening failed: %w", err)
		}
		defer func() {
			log.Info("Closing BadgerDB...")
			_ = db.Close()
		}()
		journal = repositories.NewJournalRepository(db, log, &config.JournalLimit)
	}

	// 3. Supervision & Orchestration
	orchestrator := runtime.NewOrchestrator(log, workers.NewSupervisor(log, config.RestartInterval),
		monitoring, journal, runtime.OrchestratorConfig{
			CleanupInterval:     config.CleanupInterval,
			InactivityThreshold: config.InactivityThreshold,
			MetricInterval:      config.MetricInterval,
			CensorNames:         config.CensorNames,
			CharReplacement:     charReplacement,
			JournalBufferSize:   config.JournalBufferSize,
		})
	orchestrator.Add(server.NewHealthServer(log, config.GrpcAddress()))
	if err := orchestrator.Prepare(); err != nil {
		return fmt.Errorf("orchestrator preparation failed: %w", err)
	}

	// 4. Context & Signals
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	workersDone := make(chan struct{})
	go func() {
		orchestrator.Start(ctx)
		close(workersDone)
	}()

	// 5. HTTP server
	service := services.NewPresenceService(log, orchestrator.Registry(), orchestrator.Sessions(), orchestrator.Broadcaster(),
		orchestrator.Censor(), monitoring, config.ConnectionBufferSize, config.WriteTimeout)
	ws := websocket.NewHandler(ctx, log, service, config.Origins(), config.MaxMessageSize)
	httpServer := &http.Server{
		Addr:              config.Address(),
		Handler:           api.NewRouter(log, ws, orchestrator.Registry(), journal, monitoring),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info("Starting presence server", "address", config.Address(),
			"cleanup_interval", config.CleanupInterval, "inactivity_threshold", config.InactivityThreshold)
		if err := httpServer.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	// 6. Wait for Stop or Error
	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case serveErr = <-errChan:
	}

	// 7. Final Cleanup
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown incomplete", "error", err)
	}
	orchestrator.Stop()
	<-workersDone
	log.Info("Program stopped cleanly")

	return serveErr
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"defitrack/internal/aggregator"
	"defitrack/internal/config"
	"defitrack/internal/observability"
	"defitrack/internal/persistence"
	"defitrack/internal/position"
	"defitrack/internal/queue"
	"defitrack/internal/server"
	"defitrack/internal/stream"
	"defitrack/internal/syncer"
)

func main() {
	logger := observability.NewLogger("main")
	logger.Info().Msg("defitrack starting")

	cfg, err := config.Load(os.Getenv("DEFITRACK_CONFIG"))
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	// --- Context with graceful shutdown ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := persistence.Open(ctx, cfg.Postgres)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer db.Close()
	logger.Info().Msg("postgres connected")

	if cfg.Postgres.RunMigrations {
		migrator := persistence.NewMigrator(db, cfg.Postgres.MigrationsDir, observability.NewLogger("migrator"))
		if err := migrator.Up(ctx); err != nil {
			logger.Fatal().Err(err).Msg("run migrations")
		}
		logger.Info().Msg("migrations applied")
	}

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- NATS ---
	// A failed broker connection is not fatal: queues run degraded and
	// stream events stay process-local until the broker comes back.
	var nc *nats.Conn
	var js jetstream.JetStream
	nc, js, err = queue.Connect(cfg.NATS.URL, observability.NewLogger("nats"))
	if err != nil {
		logger.Warn().Err(err).Msg("nats unavailable, starting degraded")
		nc, js = nil, nil
	} else {
		defer nc.Close()
		logger.Info().Msg("nats connected")
	}

	// --- Job queues ---
	queueManager := queue.NewManager(js, observability.NewLogger("queue"), metrics)
	if err := queueManager.EnsureStreams(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ensure job streams")
	}

	// --- Broadcast ---
	connManager := stream.NewConnectionManager(
		cfg.Stream.Heartbeat(),
		cfg.Stream.IdleTimeout(),
		observability.NewLogger("stream"),
		metrics,
	)
	var bus stream.Bus
	if nc != nil {
		bus = stream.NewNATSBus(nc, cfg.Stream.Subject, observability.NewLogger("bus"), metrics)
	}
	broadcaster := stream.NewBroadcaster(bus, connManager, observability.NewLogger("broadcast"))
	if err := broadcaster.Start(); err != nil {
		logger.Fatal().Err(err).Msg("start broadcaster")
	}
	defer broadcaster.Close()

	// --- Sync pipeline ---
	store := position.NewSQLStore(db, metrics)
	jobStatusStore := persistence.NewJobStatusStore(db)
	orchestrator := syncer.NewOrchestrator(
		aggregator.NewClient(cfg.Aggregator, observability.NewLogger("aggregator")),
		aggregator.NewParser(observability.NewLogger("parser"), metrics),
		position.NewMapper(cfg.Sync.SyncSource),
		store,
		position.NewReconciler(store, cfg.Sync.StaleAfter(), cfg.Sync.PurgeAfter(), observability.NewLogger("reconciler")),
		broadcaster,
		jobStatusStore,
		observability.NewLogger("syncer"),
		metrics,
	)

	// --- HTTP surface ---
	syncHandler := server.NewSyncHandler(cfg.Sync, queueManager, jobStatusStore, observability.NewLogger("api"))
	streamHandler := server.NewStreamHandler(connManager, observability.NewLogger("api"))
	router := server.NewRouter(cfg, syncHandler, streamHandler, healthChecker)

	httpServer := &http.Server{
		Addr:        cfg.Server.Addr,
		Handler:     router,
		ReadTimeout: time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		// WriteTimeout stays zero: live streams are long-lived responses.
	}

	// --- Start goroutines ---
	errChan := make(chan error, 8)

	// 1. Queue workers. Cleanup jobs are rare, so one maintenance worker
	// is plenty next to the wallet-sync pool.
	workerLogger := observability.NewLogger("worker")
	for i := 0; i < cfg.Sync.WorkerCount; i++ {
		w := queue.NewWorker(queueManager, queue.QueueWalletSync, workerLogger, metrics)
		orchestrator.RegisterWalletHandlers(w)
		go func() {
			errChan <- w.Run(ctx)
		}()
	}
	maintenanceWorker := queue.NewWorker(queueManager, queue.QueueMaintenance, workerLogger, metrics)
	orchestrator.RegisterMaintenanceHandlers(maintenanceWorker)
	go func() {
		errChan <- maintenanceWorker.Run(ctx)
	}()

	// 2. Connection heartbeats and eviction
	go func() {
		errChan <- connManager.Run(ctx)
	}()

	// 3. Periodic maintenance enqueue
	go func() {
		runMaintenanceScheduler(ctx, queueManager, cfg.Sync, logger)
	}()

	// 4. HTTP server
	go func() {
		logger.Info().Str("addr", cfg.Server.Addr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("http server: %w", err)
		}
	}()

	// 5. Prometheus metrics server
	go func() {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{Addr: cfg.Server.MetricsAddr, Handler: metricsMux}
		go func() {
			<-ctx.Done()
			shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
			defer c()
			metricsServer.Shutdown(shutCtx)
		}()
		logger.Info().Str("addr", cfg.Server.MetricsAddr).Msg("metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	healthChecker.SetReady(true)
	logger.Info().
		Str("http", cfg.Server.Addr).
		Str("metrics", cfg.Server.MetricsAddr).
		Int("workers", cfg.Sync.WorkerCount).
		Bool("degraded", nc == nil).
		Msg("defitrack ready")

	// --- Wait for shutdown signal ---
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		if err != nil && err != context.Canceled {
			logger.Error().Err(err).Msg("goroutine failed, shutting down")
		}
	}

	// --- Graceful shutdown ---
	healthChecker.SetReady(false)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}

	logger.Info().Msg("defitrack shutdown complete")
}

// runMaintenanceScheduler enqueues the stale-position cleanup job on a
// fixed interval. Enqueueing is best-effort; a degraded broker just means
// the next tick tries again.
func runMaintenanceScheduler(ctx context.Context, queues *queue.Manager, cfg config.SyncConfig, logger zerolog.Logger) {
	interval := time.Duration(cfg.MaintenanceMinutes) * time.Minute
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			handle, err := queues.AddJob(ctx, queue.JobCleanupStale, nil)
			if err != nil {
				logger.Warn().Err(err).Msg("maintenance enqueue failed")
				continue
			}
			if handle == nil {
				continue
			}
			logger.Info().Str("job_id", handle.ID).Msg("maintenance cleanup enqueued")
		}
	}
}

// Command worker renders receipts for committed sales off the request path.
// It reads sales from Postgres and spools ESC/POS files for the printer bridge.
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

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"kedaipos/backend/internal/config"
	"kedaipos/backend/internal/logger"
	"kedaipos/backend/internal/metrics"
	"kedaipos/backend/internal/notify"
	pgstore "kedaipos/backend/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(logger.Config{Env: cfg.AppEnv, Level: cfg.LogLevel})

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("worker stopped with error")
	}
	log.Info().Msg("worker stopped")
}

func run(cfg config.Config, log zerolog.Logger) error {
	if err := validateWorkerConfig(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pg, err := pgstore.New(connectCtx, cfg.DatabaseURL, log)
	cancel()
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pg.Close()

	m := metrics.New()
	handler := notify.NewReceiptHandler(pg, notify.SpoolSink{Dir: cfg.ReceiptSpool}, cfg.ShopName, log,
		notify.WithLocation(cfg.Location()),
		notify.WithObserver(m.ReceiptJob),
	)
	worker := notify.NewWorker(
		asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB},
		cfg.ReceiptQueue, cfg.ReceiptWorkers, handler,
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	metricsServer := &http.Server{
		Addr:              cfg.WorkerMetrics,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info().Str("queue", cfg.ReceiptQueue).Str("spool", cfg.ReceiptSpool).Msg("receipt worker started")
		return worker.Run(gctx)
	})
	group.Go(func() error {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})
	return group.Wait()
}

// validateWorkerConfig refuses the in-memory store: the worker would never
// see sales recorded by the server process.
func validateWorkerConfig(cfg config.Config) error {
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required for the receipt worker")
	}
	if cfg.RedisAddr == "" {
		return errors.New("REDIS_ADDR is required for the receipt worker")
	}
	if cfg.ReceiptSpool == "" {
		return errors.New("RECEIPT_SPOOL_DIR must not be empty")
	}
	return nil
}

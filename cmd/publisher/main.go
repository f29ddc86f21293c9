package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"liguns/internal/api"
	"liguns/internal/app"
	"liguns/internal/database"
	"liguns/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := app.LoadConfigAndLogger("publisher")
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error().Err(err).Msg("close resources")
		}
	}()

	startMetrics(ctx, a, logger)

	if cfg.Backup.Enabled {
		backupService := database.NewBackupService(a.DB, cfg.Backup, logger)
		go backupService.Start(ctx)
	}

	if cfg.Publisher.SchedulerEnabled {
		scheduler := worker.NewScheduler(a.Job, cfg.Publisher.Interval, logger)
		go scheduler.Start(ctx)
	} else {
		logger.Info().Msg("in-process scheduler disabled, relying on the cron endpoint")
	}

	httpServer := api.NewHTTPServer(cfg.API, api.Deps{
		Job:         a.Job,
		Scheduling:  a.Scheduling,
		Captions:    a.Captions,
		DeadLetters: a.DeadLetters,
		Media:       a.Media.Handler(a.MediaPrefix()),
		MediaPrefix: a.MediaPrefix(),
		Ready:       a.Ready,
		Location:    a.Location,
	}, logger)

	return serve(ctx, httpServer, a, logger)
}

func serve(ctx context.Context, httpServer *api.HTTPServer, a *app.App, logger *zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Start()
	}()

	logger.Info().
		Int("http_port", a.Config.API.HTTP.Port).
		Bool("scheduler", a.Config.Publisher.SchedulerEnabled).
		Str("timezone", a.Location.String()).
		Msg("publisher started")

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("http server stopped")
			return err
		}
	}

	// In-flight publish runs finish inside the write timeout or are cut off here;
	// entries they had claimed become eligible again once the claim expires.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}

	logger.Info().Msg("publisher stopped")
	return nil
}

func startMetrics(ctx context.Context, a *app.App, logger *zerolog.Logger) {
	if !a.Config.Monitoring.PrometheusEnabled {
		return
	}
	go startMetricsServer(ctx, a.Config.Monitoring.PrometheusPort, logger)
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	logger.Info().Int("port", port).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}

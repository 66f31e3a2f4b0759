package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/feichai0017/file-converter/config"
	"github.com/feichai0017/file-converter/internal/app"
	"github.com/feichai0017/file-converter/pkg/logger"
	"github.com/feichai0017/file-converter/pkg/metrics"
	"github.com/feichai0017/file-converter/pkg/worker"
)

func main() {
	cfg, err := config.Get()
	if err != nil {
		panic(err)
	}

	log, err := app.NewLogger(cfg, "worker")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if cfg.Worker.Mode != "asynq" {
		log.Error("The worker process needs worker.mode asynq", logger.String("mode", cfg.Worker.Mode))
		os.Exit(1)
	}

	metrics.MustRegister()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to build runtime", logger.Error(err))
		os.Exit(1)
	}
	defer rt.Close()

	qc := rt.QueueConfig()
	conversionWorker := worker.NewConversionWorker(worker.Config{
		Redis:           qc.RedisOpt(),
		Concurrency:     cfg.Worker.Concurrency,
		Queue:           qc.Queue,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, rt.Engine, log)

	if err := conversionWorker.Start(ctx); err != nil {
		log.Error("Failed to start worker", logger.Error(err))
		os.Exit(1)
	}

	metricsSrv := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("Metrics server error", logger.Error(err))
		}
	}()

	log.Info("Worker started",
		logger.Int("concurrency", cfg.Worker.Concurrency),
		logger.String("queue", qc.Queue),
	)
	<-ctx.Done()

	log.Info("Shutting down worker...")
	_ = conversionWorker.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	log.Info("Worker stopped")
}

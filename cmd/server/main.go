package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/feichai0017/file-converter/api/handlers"
	"github.com/feichai0017/file-converter/api/middleware"
	"github.com/feichai0017/file-converter/api/routes"
	"github.com/feichai0017/file-converter/config"
	"github.com/feichai0017/file-converter/internal/app"
	"github.com/feichai0017/file-converter/internal/library"
	"github.com/feichai0017/file-converter/internal/service/conversion"
	"github.com/feichai0017/file-converter/pkg/logger"
	"github.com/feichai0017/file-converter/pkg/metrics"
	"github.com/feichai0017/file-converter/pkg/queue"
	"github.com/feichai0017/file-converter/pkg/worker"
)

func main() {
	cfg, err := config.Get()
	if err != nil {
		panic(err)
	}

	// init logger
	log, err := app.NewLogger(cfg, "server")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	metrics.MustRegister()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("Server exited with error", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	rt, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			log.Warn("Failed to release resources", logger.Error(err))
		}
	}()

	// background work outlives the signal until the HTTP server has drained
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()

	dispatcher, err := newDispatcher(workCtx, rt, log)
	if err != nil {
		return err
	}

	lib, libCheck, err := newLibrary(ctx, rt, log)
	if err != nil {
		return err
	}

	svc := conversion.NewService(conversion.Deps{
		Registry:   rt.Registry,
		Tracker:    rt.Tracker,
		Inputs:     rt.Inputs,
		Artifacts:  rt.Artifacts,
		Dispatcher: dispatcher,
		Library:    lib,
	}, conversion.ServiceConfig{MaxFileSize: cfg.Server.MaxUploadBytes}, log)

	janitor := conversion.NewJanitor(rt.Tracker, rt.Inputs, rt.Artifacts, rt.Storage, conversion.RetentionConfig{
		ArtifactTTL: cfg.Retention.ArtifactTTL,
		JobTTL:      cfg.Retention.JobTTL,
		Interval:    cfg.Retention.SweepInterval,
	}, log)
	go janitor.Run(workCtx)

	healthHandler := handlers.NewHealthHandler(2*time.Second, log)
	healthHandler.Register("storage", rt.CheckStorage)
	healthHandler.Register("redis", rt.CheckRedis)
	if libCheck != nil {
		healthHandler.Register("library", libCheck)
	}

	grpcServer, err := startGRPC(workCtx, cfg.Server.GRPCAddr, healthHandler, log)
	if err != nil {
		return err
	}
	defer grpcServer.GracefulStop()

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	routes.SetupRoutes(r, handlers.NewHandlers(svc, healthHandler, cfg.Server.MaxUploadBytes, log), routes.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Limiter:        middleware.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst),
		Auth:           middleware.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		Logger:         log,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("Server starting", logger.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("Server forced to shutdown", logger.Error(err))
		_ = srv.Close()
	}

	cancelWork()
	if s, ok := dispatcher.(interface{ Stop() error }); ok {
		if err := s.Stop(); err != nil {
			log.Warn("Failed to stop worker pool", logger.Error(err))
		}
	}
	log.Info("Server stopped")
	return nil
}

// newDispatcher starts a local pool or connects to asynq, per worker.mode.
func newDispatcher(ctx context.Context, rt *app.Runtime, log logger.Logger) (queue.Dispatcher, error) {
	cfg := rt.Config
	if cfg.Worker.Mode == "asynq" {
		q := queue.NewAsynqQueue(rt.QueueConfig(), log)
		rt.OnClose(q.Close)
		log.Info("Dispatching to asynq", logger.String("queue", cfg.Worker.Queue))
		return q, nil
	}

	pool := worker.NewPool(rt.Engine, cfg.Worker.Concurrency, cfg.Worker.QueueDepth, log)
	if err := pool.Start(ctx); err != nil {
		return nil, err
	}
	return pool, nil
}

func newLibrary(ctx context.Context, rt *app.Runtime, log logger.Logger) (*library.Library, handlers.Check, error) {
	if rt.Config.Library.Backend != "postgres" {
		return library.New(rt.Storage, library.NewMemoryIndex(), log), nil, nil
	}
	idx, err := library.NewPostgresIndex(ctx, rt.Config.Library.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	rt.OnClose(func() error {
		idx.Close()
		return nil
	})
	return library.New(rt.Storage, idx, log), idx.Ping, nil
}

// startGRPC serves the standard health service, kept in step with the HTTP
// health checks.
func startGRPC(ctx context.Context, addr string, h *handlers.HealthHandler, log logger.Logger) (*grpc.Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	s := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)

	go h.Watch(ctx, 10*time.Second, func(healthy bool) {
		status := healthpb.HealthCheckResponse_SERVING
		if !healthy {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		hs.SetServingStatus("", status)
	})

	go func() {
		log.Info("gRPC health server starting", logger.String("addr", addr))
		if err := s.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Error("gRPC server error", logger.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		hs.Shutdown()
	}()
	return s, nil
}

// Package app wires the components shared by the API server and the worker
// process from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/feichai0017/file-converter/config"
	"github.com/feichai0017/file-converter/internal/artifact"
	"github.com/feichai0017/file-converter/internal/converter/builtin"
	"github.com/feichai0017/file-converter/internal/engine"
	"github.com/feichai0017/file-converter/internal/registry"
	"github.com/feichai0017/file-converter/internal/tracker"
	"github.com/feichai0017/file-converter/pkg/logger"
	"github.com/feichai0017/file-converter/pkg/queue"
	"github.com/feichai0017/file-converter/pkg/storage"
)

// healthKey is probed to check that storage answers.
const healthKey = "healthz/probe"

// Runtime holds the components both processes need.
type Runtime struct {
	Config    *config.Config
	Logger    logger.Logger
	Registry  *registry.Registry
	Storage   storage.Storage
	Tracker   tracker.Tracker
	Inputs    *artifact.Inputs
	Artifacts *artifact.Store
	Engine    *engine.Engine
	// Redis is nil unless the tracker runs on Redis.
	Redis *redis.Client

	closers []func() error
}

// NewLogger builds the process logger from cfg, adding the process name so
// server and worker lines can be told apart.
func NewLogger(cfg *config.Config, process string) (logger.Logger, error) {
	lc := cfg.Log
	fields := make(map[string]interface{}, len(lc.InitialFields)+1)
	for k, v := range lc.InitialFields {
		fields[k] = v
	}
	fields["process"] = process
	lc.InitialFields = fields
	return logger.New(lc)
}

// Build wires storage, the job tracker, the strategy table and the engine.
func Build(ctx context.Context, cfg *config.Config, log logger.Logger) (*Runtime, error) {
	rt := &Runtime{Config: cfg, Logger: log}

	reg, err := registry.Open(cfg.Registry.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load tool catalog: %w", err)
	}
	rt.Registry = reg

	rt.Storage, err = storage.NewStorage(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	switch cfg.Tracker.Backend {
	case "redis":
		rt.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		rt.closers = append(rt.closers, rt.Redis.Close)
		if err := rt.Redis.Ping(ctx).Err(); err != nil {
			_ = rt.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		rt.Tracker = tracker.NewRedis(rt.Redis, cfg.Tracker.LockTTL, cfg.Retention.JobTTL, log)
	default:
		rt.Tracker = tracker.NewMemory(log)
	}

	rt.Inputs = artifact.NewInputs(rt.Storage, log)
	rt.Artifacts = artifact.NewStore(rt.Storage, cfg.Retention.ArtifactTTL, log)

	deps, err := builtin.DepsFromConfig(ctx, cfg)
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("failed to initialize strategy dependencies: %w", err)
	}
	table, err := builtin.Table(log, deps, reg)
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("failed to build strategy table: %w", err)
	}

	rt.Engine = engine.New(reg, table, rt.Tracker, rt.Inputs, rt.Artifacts, engine.ConfigFrom(cfg.Engine), log)

	log.Info("Runtime ready",
		logger.Int("tools", len(reg.Tools())),
		logger.String("storage", cfg.Storage.Backend),
		logger.String("tracker", cfg.Tracker.Backend),
	)
	return rt, nil
}

// QueueConfig is the asynq configuration shared by dispatcher and worker.
func (rt *Runtime) QueueConfig() queue.Config {
	cfg := rt.Config
	return queue.Config{
		RedisAddr:     cfg.Redis.Addr,
		RedisPassword: cfg.Redis.Password,
		RedisDB:       cfg.Redis.DB,
		Queue:         cfg.Worker.Queue,
		MaxDepth:      cfg.Worker.QueueDepth,
		Timeout:       cfg.Tracker.LockTTL + time.Minute,
	}
}

// OnClose registers fn to run, in reverse order, when the runtime closes.
func (rt *Runtime) OnClose(fn func() error) {
	rt.closers = append(rt.closers, fn)
}

// CheckStorage probes the storage backend.
func (rt *Runtime) CheckStorage(ctx context.Context) error {
	_, err := rt.Storage.Exists(ctx, healthKey)
	return err
}

// CheckRedis pings Redis when it is in use.
func (rt *Runtime) CheckRedis(ctx context.Context) error {
	if rt.Redis == nil {
		return nil
	}
	return rt.Redis.Ping(ctx).Err()
}

func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

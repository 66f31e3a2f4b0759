package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/feichai0017/file-converter/pkg/logger"
	"github.com/feichai0017/file-converter/pkg/queue"
)

type Config struct {
	Redis       asynq.RedisClientOpt
	Concurrency int
	Queue       string
	// ShutdownTimeout bounds how long Stop waits for active tasks.
	ShutdownTimeout time.Duration
}

// ConversionWorker consumes conversion tasks from asynq.
type ConversionWorker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger logger.Logger
}

func NewConversionWorker(cfg Config, exec Executor, log logger.Logger) *ConversionWorker {
	log = log.Named("worker")
	server := asynq.NewServer(cfg.Redis, asynq.Config{
		Concurrency:     cfg.Concurrency,
		Queues:          map[string]int{cfg.Queue: 1},
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          asynqLogger{log},
	})

	mux := asynq.NewServeMux()
	mux.Handle(queue.TaskTypeConversion, NewHandler(exec, log))

	return &ConversionWorker{server: server, mux: mux, logger: log}
}

// NewHandler adapts an Executor to asynq.
func NewHandler(exec Executor, log logger.Logger) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
		task, err := queue.DecodeTask(t.Payload())
		if err != nil {
			log.Error("Failed to decode task",
				logger.Error(err),
				logger.String("payload", string(t.Payload())),
			)
			return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}

		log.Info("Processing conversion task",
			logger.String("jobId", task.JobID),
			logger.String("tool", task.ToolID),
		)
		if err := execute(ctx, exec, task.JobID, log); err != nil {
			return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}
		return nil
	})
}

func (w *ConversionWorker) Start(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("start worker server: %w", err)
	}
	go func() {
		<-ctx.Done()
		w.Stop()
	}()
	return nil
}

func (w *ConversionWorker) Stop() error {
	w.server.Shutdown()
	return nil
}

// asynqLogger routes asynq's own logging through the service logger.
type asynqLogger struct{ l logger.Logger }

func (a asynqLogger) Debug(args ...interface{}) { a.l.Debug(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...interface{})  { a.l.Info(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...interface{})  { a.l.Warn(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...interface{}) { a.l.Error(fmt.Sprint(args...)) }
func (a asynqLogger) Fatal(args ...interface{}) { a.l.Fatal(fmt.Sprint(args...)) }

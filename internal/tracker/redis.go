package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/feichai0017/file-converter/internal/models"
	"github.com/feichai0017/file-converter/pkg/logger"
)

const (
	keyPrefix    = "fc:job:"
	finishedKey  = "fc:jobs:finished"
	maxTxRetries = 16
	// terminalGrace keeps finished records a little past the retention
	// sweep so the janitor still finds their inputs and artifacts.
	terminalGrace = time.Hour
)

func jobKey(id string) string        { return keyPrefix + id }
func lockKey(id string) string       { return keyPrefix + id + ":lock" }
func eventsChannel(id string) string { return keyPrefix + id + ":events" }
func cancelChannel(id string) string { return keyPrefix + id + ":cancel" }

// releaseLock deletes the lock only if this process still holds it.
var releaseLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis keeps jobs in Redis so the API server and worker processes share
// them. Updates are optimistic WATCH/MULTI transactions; each carries its
// own pub/sub publish, so subscribers see changes in commit order.
type Redis struct {
	client  redis.UniversalClient
	lockTTL time.Duration
	jobTTL  time.Duration
	owner   string
	logger  logger.Logger
	now     func() time.Time
}

func NewRedis(client redis.UniversalClient, lockTTL, jobTTL time.Duration, log logger.Logger) *Redis {
	return &Redis{
		client:  client,
		lockTTL: lockTTL,
		jobTTL:  jobTTL,
		owner:   uuid.NewString(),
		logger:  log.Named("tracker"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source, for tests.
func (r *Redis) WithClock(now func() time.Time) *Redis {
	r.now = now
	return r
}

func (r *Redis) Create(ctx context.Context, id, toolID string, inputs []models.InputRef, options map[string]any) (*models.Job, error) {
	j := newJob(id, toolID, inputs, options, r.now())
	data, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("encode job: %w", err)
	}
	ok, err := r.client.SetNX(ctx, jobKey(j.ID), data, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateID, j.ID)
	}
	return j, nil
}

func (r *Redis) Status(ctx context.Context, id string) (*models.Job, error) {
	data, err := r.client.Get(ctx, jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	var j models.Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &j, nil
}

// mutation is what a transition did to a job.
type mutation struct {
	changed bool
	publish bool
}

// update runs fn against the current job inside WATCH/MULTI and retries
// when another writer got there first.
func (r *Redis) update(ctx context.Context, id string, fn func(j *models.Job) (mutation, error)) (*models.Job, error) {
	key := jobKey(id)
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		var out *models.Job
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return fmt.Errorf("%w: %s", ErrNotFound, id)
			}
			if err != nil {
				return err
			}
			var j models.Job
			if err := json.Unmarshal(data, &j); err != nil {
				return fmt.Errorf("decode job %s: %w", id, err)
			}
			m, err := fn(&j)
			if err != nil {
				return err
			}
			out = &j
			if !m.changed {
				return nil
			}

			encoded, err := json.Marshal(&j)
			if err != nil {
				return err
			}
			var ttl time.Duration
			if j.Status.Terminal() {
				ttl = r.jobTTL + terminalGrace
			}
			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.Set(ctx, key, encoded, ttl)
				if j.Status.Terminal() && j.FinishedAt != nil {
					p.ZAdd(ctx, finishedKey, redis.Z{Score: float64(j.FinishedAt.UnixMilli()), Member: id})
				}
				if m.publish {
					u, _ := json.Marshal(j.Update())
					p.Publish(ctx, eventsChannel(id), u)
				}
				if j.CancelRequested && !j.Status.Terminal() {
					p.Publish(ctx, cancelChannel(id), "1")
				}
				return nil
			})
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return out, err
	}
	return nil, fmt.Errorf("update job %s: too much contention", id)
}

func (r *Redis) Cancel(ctx context.Context, id string) (*models.Job, error) {
	j, err := r.update(ctx, id, func(j *models.Job) (mutation, error) {
		publish, err := applyCancel(j, r.now())
		return mutation{changed: err == nil, publish: publish}, err
	})
	if err != nil {
		return nil, err
	}
	r.logger.Info("Job cancel requested",
		logger.String("jobId", id),
		logger.String("status", string(j.Status)),
	)
	return j, nil
}

func (r *Redis) Begin(ctx context.Context, id string) (*models.Job, error) {
	ok, err := r.client.SetNX(ctx, lockKey(id), r.owner, r.lockTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExecuting, id)
	}
	j, err := r.update(ctx, id, func(j *models.Job) (mutation, error) {
		if err := applyBegin(j, r.now()); err != nil {
			return mutation{}, err
		}
		return mutation{changed: true, publish: true}, nil
	})
	if err != nil {
		if relErr := r.Finish(ctx, id); relErr != nil {
			r.logger.Warn("Failed to release lock", logger.String("jobId", id), logger.Error(relErr))
		}
		return nil, err
	}
	return j, nil
}

func (r *Redis) ReportProgress(ctx context.Context, id string, pct int) error {
	var verdict progressVerdict
	j, err := r.update(ctx, id, func(j *models.Job) (mutation, error) {
		v, err := applyProgress(j, pct, r.now())
		verdict = v
		applied := err == nil && v == progressApplied
		return mutation{changed: applied, publish: applied}, err
	})
	if err != nil {
		return err
	}
	if verdict != progressApplied && verdict != progressSame {
		r.logger.Debug("Progress update dropped",
			logger.String("jobId", id),
			logger.Int("progress", pct),
			logger.Int("current", j.Progress),
			logger.String("reason", string(verdict)),
		)
	}
	return nil
}

func (r *Redis) Succeed(ctx context.Context, id string, ref models.ArtifactRef, attempts int) (*models.Job, error) {
	return r.update(ctx, id, func(j *models.Job) (mutation, error) {
		if err := applySucceed(j, ref, attempts, r.now()); err != nil {
			return mutation{}, fmt.Errorf("%w: %s", err, id)
		}
		return mutation{changed: true, publish: true}, nil
	})
}

func (r *Redis) Fail(ctx context.Context, id string, detail models.ErrorDetail, attempts int) (*models.Job, error) {
	return r.update(ctx, id, func(j *models.Job) (mutation, error) {
		if err := applyFail(j, detail, attempts, r.now()); err != nil {
			return mutation{}, fmt.Errorf("%w: %s", err, id)
		}
		return mutation{changed: true, publish: true}, nil
	})
}

func (r *Redis) Finish(ctx context.Context, id string) error {
	if err := releaseLock.Run(ctx, r.client, []string{lockKey(id)}, r.owner).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

func (r *Redis) WatchCancel(parent context.Context, id string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	ps := r.client.Subscribe(ctx, cancelChannel(id))
	if _, err := ps.Receive(ctx); err != nil {
		r.logger.Warn("Cancel watch unavailable", logger.String("jobId", id), logger.Error(err))
		ps.Close()
		return ctx, cancel
	}
	if j, err := r.Status(ctx, id); err != nil || j.CancelRequested {
		cancel()
	}

	msgs := ps.Channel()
	go func() {
		defer ps.Close()
		select {
		case <-ctx.Done():
		case <-msgs:
			cancel()
		}
	}()
	return ctx, cancel
}

func (r *Redis) Subscribe(ctx context.Context, id string) (<-chan models.ProgressUpdate, error) {
	ps := r.client.Subscribe(ctx, eventsChannel(id))
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	// Read the snapshot only after the subscription is live so no update
	// falls between the two.
	j, err := r.Status(ctx, id)
	if err != nil {
		ps.Close()
		return nil, err
	}

	out := make(chan models.ProgressUpdate, subscriberBuffer)
	out <- j.Update()
	if j.Status.Terminal() {
		ps.Close()
		close(out)
		return out, nil
	}

	msgs := ps.Channel()
	go func() {
		defer close(out)
		defer ps.Close()
		last := j.Update()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var u models.ProgressUpdate
				if err := json.Unmarshal([]byte(msg.Payload), &u); err != nil {
					r.logger.Warn("Malformed progress update", logger.String("jobId", id), logger.Error(err))
					continue
				}
				// Updates committed before the snapshot can still arrive.
				if !u.Status.Terminal() && (u.Progress < last.Progress || !u.At.After(last.At)) {
					continue
				}
				select {
				case out <- u:
				case <-ctx.Done():
					return
				}
				last = u
				if u.Status.Terminal() {
					return
				}
			}
		}
	}()
	return out, nil
}

func (r *Redis) Purge(ctx context.Context, id string) error {
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, jobKey(id), lockKey(id))
		p.ZRem(ctx, finishedKey, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("purge job %s: %w", id, err)
	}
	return nil
}

func (r *Redis) FinishedBefore(ctx context.Context, t time.Time) ([]string, error) {
	ids, err := r.client.ZRangeByScore(ctx, finishedKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(t.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list finished jobs: %w", err)
	}
	return ids, nil
}

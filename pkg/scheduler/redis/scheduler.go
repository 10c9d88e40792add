// Package redis provides a Redis-backed delayed-job scheduler.
//
// Jobs live in a sorted set scored by due time, with payloads in a hash
// keyed by job key. A poll loop pops due members and invokes the handler; a
// handler error re-scores the job for retry. Removal happens only after the
// handler returns nil, so a crash between delivery and removal redelivers:
// at-least-once, as the port promises.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/relancehq/relance/pkg/scheduler"
)

const (
	jobsKey     = "relance:jobs"     // sorted set: job key -> due time
	payloadsKey = "relance:payloads" // hash: job key -> job JSON

	defaultPollInterval  = time.Second
	defaultRetryInterval = 30 * time.Second
	connectTimeout       = 5 * time.Second
)

// Scheduler is a Redis sorted-set delayed-job scheduler.
type Scheduler struct {
	client        redis.UniversalClient
	logger        *slog.Logger
	pollInterval  time.Duration
	retryInterval time.Duration
	handler       scheduler.Handler
	stopCh        chan struct{}
	wg            sync.WaitGroup
	mu            sync.Mutex
	started       bool
}

// NewScheduler connects to Redis at the given URL and returns a scheduler.
func NewScheduler(ctx context.Context, logger *slog.Logger, redisURL string) (*Scheduler, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	err = client.Ping(pingCtx).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.InfoContext(ctx, "Connected to Redis", "addr", options.Addr)

	return &Scheduler{
		client:        client,
		logger:        logger.With("module", "redis_scheduler"),
		pollInterval:  defaultPollInterval,
		retryInterval: defaultRetryInterval,
		stopCh:        make(chan struct{}),
	}, nil
}

// Schedule enqueues a job, replacing any prior schedule with the same key.
func (s *Scheduler) Schedule(ctx context.Context, job scheduler.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, payloadsKey, job.Key, payload)
	pipe.ZAdd(ctx, jobsKey, redis.Z{
		Score:  float64(job.NotBefore.UnixMilli()),
		Member: job.Key,
	})

	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", job.Key, err)
	}

	return nil
}

// Cancel removes a pending job. Best-effort: a job already handed to the
// handler is not recalled.
func (s *Scheduler) Cancel(ctx context.Context, key string) error {
	pipe := s.client.TxPipeline()
	pipe.ZRem(ctx, jobsKey, key)
	pipe.HDel(ctx, payloadsKey, key)

	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to cancel job %s: %w", key, err)
	}

	return nil
}

// Start begins the poll loop delivering due jobs to the handler.
func (s *Scheduler) Start(ctx context.Context, handler scheduler.Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	s.handler = handler
	s.started = true

	s.wg.Add(1)

	go s.poll(ctx)

	s.logger.InfoContext(ctx, "Scheduler poll loop started")

	return nil
}

// Stop shuts down the poll loop and closes the Redis client.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()

		return nil
	}
	s.started = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	err := s.client.Close()
	if err != nil {
		return fmt.Errorf("failed to close Redis client: %w", err)
	}

	s.logger.InfoContext(ctx, "Scheduler stopped")

	return nil
}

func (s *Scheduler) poll(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := s.deliverDue(ctx)
			if err != nil {
				s.logger.ErrorContext(ctx, "Error delivering due jobs", "error", err)
			}
		}
	}
}

func (s *Scheduler) deliverDue(ctx context.Context) error {
	now := time.Now().UTC()

	keys, err := s.client.ZRangeByScore(ctx, jobsKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.UnixMilli()),
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}

		return fmt.Errorf("failed to query due jobs: %w", err)
	}

	for _, key := range keys {
		s.deliver(ctx, key)
	}

	return nil
}

func (s *Scheduler) deliver(ctx context.Context, key string) {
	payload, err := s.client.HGet(ctx, payloadsKey, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Cancelled between the range query and here.
			_ = s.client.ZRem(ctx, jobsKey, key).Err()

			return
		}

		s.logger.ErrorContext(ctx, "Failed to load job payload", "key", key, "error", err)

		return
	}

	var job scheduler.Job

	err = json.Unmarshal([]byte(payload), &job)
	if err != nil {
		s.logger.ErrorContext(ctx, "Dropping undecodable job", "key", key, "error", err)
		_ = s.Cancel(ctx, key)

		return
	}

	if !jobDue(job, time.Now().UTC()) {
		// The key was re-scheduled between the range query and the payload
		// read; the replacement waits for its own due time.
		return
	}

	err = s.handler(ctx, job)
	if err != nil {
		s.logger.ErrorContext(ctx, "Job handler failed, scheduling retry",
			"key", key,
			"instance_id", job.InstanceID,
			"step_index", job.StepIndex,
			"error", err)

		retryErr := s.client.ZAdd(ctx, jobsKey, redis.Z{
			Score:  float64(time.Now().UTC().Add(s.retryInterval).UnixMilli()),
			Member: key,
		}).Err()
		if retryErr != nil {
			s.logger.ErrorContext(ctx, "Failed to re-score job for retry", "key", key, "error", retryErr)
		}

		return
	}

	err = s.Cancel(ctx, key)
	if err != nil {
		// Redelivery on the next poll is acceptable, the handler is idempotent.
		s.logger.ErrorContext(ctx, "Failed to remove delivered job", "key", key, "error", err)
	}
}

// jobDue reports whether the job's payload is due at the given time. A key
// popped from the due set may have been replaced concurrently by a later
// schedule for the same key; the payload read back then belongs to the
// replacement and must not fire early.
func jobDue(job scheduler.Job, now time.Time) bool {
	return !job.NotBefore.After(now)
}

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"clubattendance/internal/logging"
)

// Kind names the batch operation a job runs.
type Kind string

const (
	KindInitialize Kind = "initialize"
	KindSweep      Kind = "sweep"
)

// Job asks a worker to run the initializer or sweeper for one session of one week.
type Job struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	SessionTime string    `json:"sessionTime"`
	WeekNumber  int       `json:"weekNumber"`
	MarkAs      string    `json:"markAs,omitempty"`
	EnqueuedAt  time.Time `json:"enqueuedAt"`
}

// NewJob stamps a job with a fresh id.
func NewJob(kind Kind, sessionTime string, week int, markAs string) Job {
	return Job{
		ID:          uuid.NewString(),
		Kind:        kind,
		SessionTime: sessionTime,
		WeekNumber:  week,
		MarkAs:      markAs,
		EnqueuedAt:  time.Now().UTC(),
	}
}

// Queue is the abstraction over different backends.
type Queue interface {
	Publish(ctx context.Context, job Job) error
	Consume(ctx context.Context) (<-chan Job, error)
}

// InMemory is a minimal channel-backed queue for dev/testing.
type InMemory struct {
	ch chan Job
}

// NewInMemory creates a bounded in-memory queue.
func NewInMemory(size int) *InMemory {
	return &InMemory{ch: make(chan Job, size)}
}

// Publish enqueues a job.
func (q *InMemory) Publish(ctx context.Context, job Job) error {
	select {
	case q.ch <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume returns a channel for workers; it closes when ctx ends.
func (q *InMemory) Consume(ctx context.Context) (<-chan Job, error) {
	out := make(chan Job)
	go func() {
		defer close(out)
		for {
			select {
			case job := <-q.ch:
				select {
				case out <- job:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// RedisQueue implements a Redis list-backed queue of JSON jobs.
type RedisQueue struct {
	client *redis.Client
	key    string
	logger *slog.Logger
}

// NewRedisQueue builds a queue using LPUSH/BRPOP semantics.
func NewRedisQueue(client *redis.Client, key string, logger *slog.Logger) *RedisQueue {
	if key == "" {
		key = "attendance:jobs"
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &RedisQueue{client: client, key: key, logger: logger}
}

// Publish enqueues a job.
func (q *RedisQueue) Publish(ctx context.Context, job Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.key, raw).Err()
}

// Consume streams jobs using BRPOP. Entries that do not decode are dropped.
func (q *RedisQueue) Consume(ctx context.Context) (<-chan Job, error) {
	out := make(chan Job)
	go func() {
		defer close(out)
		for {
			res, err := q.client.BRPop(ctx, 5*time.Second, q.key).Result()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if !errors.Is(err, redis.Nil) {
					q.logger.Warn("queue pop failed", "key", q.key, "error", err)
					time.Sleep(time.Second)
				}
				continue
			}
			if len(res) != 2 {
				continue
			}
			var job Job
			if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
				q.logger.Warn("dropping malformed job", "key", q.key, "error", err)
				continue
			}
			select {
			case out <- job:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

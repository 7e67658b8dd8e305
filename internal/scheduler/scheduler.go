// Package scheduler opens and closes sessions automatically: it enqueues an
// initialize job when a window opens and a sweep job once the late window ends.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"clubattendance/internal/attendance"
	"clubattendance/internal/logging"
	"clubattendance/internal/metrics"
	"clubattendance/internal/queue"
	"clubattendance/internal/schedule"
)

// sweepGrace is how long after a window closes the scheduler still enqueues its sweep.
const sweepGrace = 6 * time.Hour

// Deduper remembers which jobs were already enqueued, across ticks and replicas.
type Deduper interface {
	// Claim returns true the first time key is seen.
	Claim(ctx context.Context, key string) (bool, error)
	// Release forgets key so a later Claim succeeds again.
	Release(ctx context.Context, key string) error
}

// MemoryDeduper is a process-local Deduper.
type MemoryDeduper struct {
	mu   sync.Mutex
	seen map[string]bool
}

func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{seen: make(map[string]bool)}
}

func (d *MemoryDeduper) Claim(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen[key] {
		return false, nil
	}
	d.seen[key] = true
	return true, nil
}

func (d *MemoryDeduper) Release(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, key)
	return nil
}

// RedisDeduper claims keys with SETNX so several workers enqueue each job once.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDeduper(client *redis.Client) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: 24 * time.Hour}
}

func (d *RedisDeduper) Claim(ctx context.Context, key string) (bool, error) {
	return d.client.SetNX(ctx, "attendance:scheduled:"+key, 1, d.ttl).Result()
}

func (d *RedisDeduper) Release(ctx context.Context, key string) error {
	return d.client.Del(ctx, "attendance:scheduled:"+key).Err()
}

// ConfigSource supplies the schedule and the current time.
type ConfigSource interface {
	Current(ctx context.Context) (schedule.Config, error)
	Now() time.Time
}

// Scheduler turns clock transitions into queue jobs.
type Scheduler struct {
	configs ConfigSource
	queue   queue.Queue
	dedupe  Deduper
	logger  *slog.Logger
}

func New(configs ConfigSource, q queue.Queue, dedupe Deduper, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Scheduler{configs: configs, queue: q, dedupe: dedupe, logger: logger}
}

// Tick evaluates the schedule once. Debug mode never triggers automatic jobs.
func (s *Scheduler) Tick(ctx context.Context) error {
	cfg, err := s.configs.Current(ctx)
	if err != nil {
		return err
	}
	if cfg.DebugMode {
		return nil
	}
	now := s.configs.Now()
	if int(now.Weekday()) != cfg.DayOfWeek {
		return nil
	}
	week := schedule.WeekNumber(cfg, now)

	var errs []error
	for _, n := range []int{1, 2} {
		w, _ := schedule.WindowOn(cfg, n, now)
		switch {
		case w.Contains(now):
			errs = append(errs, s.enqueueOnce(ctx, queue.NewJob(queue.KindInitialize, w.Time, week, "")))
		case !now.Before(w.ClosesAt) && now.Sub(w.ClosesAt) < sweepGrace:
			errs = append(errs, s.enqueueOnce(ctx, queue.NewJob(queue.KindSweep, w.Time, week, string(attendance.StatusAbsent))))
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) enqueueOnce(ctx context.Context, job queue.Job) error {
	key := fmt.Sprintf("%s:%d:%s", job.Kind, job.WeekNumber, job.SessionTime)
	first, err := s.dedupe.Claim(ctx, key)
	if err != nil {
		return fmt.Errorf("claim %s: %w", key, err)
	}
	if !first {
		return nil
	}
	if err := s.queue.Publish(ctx, job); err != nil {
		// Unclaimed so the next tick retries the publish.
		if rerr := s.dedupe.Release(ctx, key); rerr != nil {
			s.logger.Warn("release dedupe claim failed", "key", key, "error", rerr)
		}
		return fmt.Errorf("publish %s: %w", key, err)
	}
	s.logger.Info("job enqueued", "job_id", job.ID, "kind", job.Kind, "week", job.WeekNumber, "session_time", job.SessionTime)
	return nil
}

// Run ticks every interval until ctx ends.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := s.Tick(ctx); err != nil {
			s.logger.Warn("scheduler tick failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Ledger is the part of the attendance service jobs drive.
type Ledger interface {
	InitializeSession(ctx context.Context, sessionTime string, week int) (attendance.InitResult, error)
	Sweep(ctx context.Context, sessionTime string, week int, markAs attendance.Status) (attendance.SweepResult, error)
}

// Handle runs one job against the ledger.
func Handle(ctx context.Context, ledger Ledger, job queue.Job) error {
	switch job.Kind {
	case queue.KindInitialize:
		_, err := ledger.InitializeSession(ctx, job.SessionTime, job.WeekNumber)
		return err
	case queue.KindSweep:
		_, err := ledger.Sweep(ctx, job.SessionTime, job.WeekNumber, attendance.Status(job.MarkAs))
		return err
	}
	return fmt.Errorf("unknown job kind %q", job.Kind)
}

// Consume processes jobs until the channel closes. Failed jobs are logged;
// both operations are idempotent, so the next scheduled or manual run repairs them.
func Consume(ctx context.Context, jobs <-chan queue.Job, ledger Ledger, m *metrics.Metrics, logger *slog.Logger) {
	for job := range jobs {
		if err := Handle(ctx, ledger, job); err != nil {
			m.Job(string(job.Kind), "failed")
			logger.Error("job failed", "job_id", job.ID, "kind", job.Kind, "error", err)
			continue
		}
		m.Job(string(job.Kind), "ok")
		logger.Info("job done", "job_id", job.ID, "kind", job.Kind, "week", job.WeekNumber)
	}
}

// Package app assembles the backends shared by the api and worker binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"clubattendance/internal/attendance"
	"clubattendance/internal/config"
	"clubattendance/internal/metrics"
	"clubattendance/internal/queue"
	"clubattendance/internal/roster"
	"clubattendance/internal/schedule"
	"clubattendance/internal/store"
)

// Deps is the wired attendance stack.
type Deps struct {
	DB       *store.DB
	Redis    *store.Redis
	Schedule *schedule.Manager
	Ledger   *attendance.Service
	Roster   roster.Provider
	Queue    queue.Queue
	Metrics  *metrics.Metrics
}

// Build connects the configured backends. With STORE_BACKEND=memory no
// database is opened and state lives only in this process.
func Build(ctx context.Context, cfg config.App, reg prometheus.Registerer, logger *slog.Logger) (*Deps, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	d := &Deps{Metrics: metrics.New(reg)}
	d.Redis = store.NewRedis(cfg.RedisAddr)

	var (
		configStore schedule.Store
		ledgerStore attendance.Store
	)
	switch cfg.StoreBackend {
	case "memory":
		configStore = schedule.NewMemoryStore()
		ledgerStore = attendance.NewMemoryStore()
	case "postgres":
		db, err := store.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		d.DB = db
		configStore = schedule.NewPostgresStore(db.Client)
		ledgerStore = attendance.NewPostgresStore(db.Client)
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}

	d.Roster, err = buildRoster(cfg, d, logger)
	if err != nil {
		d.Close()
		return nil, err
	}

	d.Schedule, err = schedule.NewManager(configStore,
		schedule.WithLogger(logger),
		schedule.WithClock(func() time.Time { return time.Now().In(loc) }),
	)
	if err != nil {
		d.Close()
		return nil, err
	}

	d.Ledger, err = attendance.NewService(ledgerStore, d.Schedule, d.Roster,
		attendance.WithLogger(logger),
		attendance.WithMetrics(d.Metrics),
	)
	if err != nil {
		d.Close()
		return nil, err
	}

	switch cfg.QueueBackend {
	case "memory":
		d.Queue = queue.NewInMemory(64)
	case "redis":
		d.Queue = queue.NewRedisQueue(d.Redis.Client, "attendance:jobs", logger)
	default:
		d.Close()
		return nil, fmt.Errorf("unknown QUEUE_BACKEND %q", cfg.QueueBackend)
	}
	return d, nil
}

// buildRoster prefers a roster file, then the members table behind the Redis cache.
func buildRoster(cfg config.App, d *Deps, logger *slog.Logger) (roster.Provider, error) {
	if cfg.RosterFile != "" {
		return roster.LoadFile(cfg.RosterFile)
	}
	if d.DB == nil {
		return nil, errors.New("ROSTER_FILE is required without a database")
	}
	return roster.NewCached(roster.NewPostgres(d.DB.Client), d.Redis.Client, cfg.RosterCacheTTL, logger), nil
}

// Close releases every open connection.
func (d *Deps) Close() {
	if d.DB != nil {
		_ = d.DB.Close()
	}
	_ = d.Redis.Close()
}

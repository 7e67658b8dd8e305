package schedule

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"clubattendance/internal/logging"
)

// Manager reads the schedule for each request and applies admin actions.
// Writes are read-modify-write without a lock: concurrent edits are last-write-wins.
type Manager struct {
	store  Store
	now    func() time.Time
	logger *slog.Logger
}

type Option func(*Manager)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

func NewManager(store Store, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("config store is required")
	}
	m := &Manager{store: store, now: time.Now, logger: logging.Discard()}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Now returns the manager's current time.
func (m *Manager) Now() time.Time {
	return m.now()
}

// Current loads the schedule, falling back to Defaults when none is saved.
// While codes are enabled an expired code is replaced and persisted.
func (m *Manager) Current(ctx context.Context) (Config, error) {
	cfg, err := m.load(ctx)
	if err != nil {
		return Config{}, err
	}
	now := m.now()
	if cfg.CodeEnabled && cfg.CodeExpired(now) {
		refreshed, err := withNewCode(cfg, now)
		if err != nil {
			m.logger.Warn("verification code refresh failed", "error", err)
			return cfg, nil
		}
		if err := m.store.Save(ctx, refreshed); err != nil {
			m.logger.Warn("verification code refresh not saved", "error", err)
			return cfg, nil
		}
		m.logger.Info("verification code rotated")
		return refreshed, nil
	}
	return cfg, nil
}

func (m *Manager) load(ctx context.Context) (Config, error) {
	stored, err := m.store.Load(ctx)
	if err != nil {
		return Config{}, err
	}
	if stored == nil {
		return Defaults(), nil
	}
	return *stored, nil
}

func (m *Manager) mutate(ctx context.Context, fn func(*Config) error) (Config, error) {
	cfg, err := m.load(ctx)
	if err != nil {
		return Config{}, err
	}
	if err := fn(&cfg); err != nil {
		return Config{}, err
	}
	cfg.UpdatedAt = m.now()
	if err := m.store.Save(ctx, cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ToggleDebug turns the time-window bypass on or off.
func (m *Manager) ToggleDebug(ctx context.Context, enabled bool) (Config, error) {
	return m.mutate(ctx, func(c *Config) error {
		c.DebugMode = enabled
		return nil
	})
}

// Update applies the present field groups of patch.
func (m *Manager) Update(ctx context.Context, patch ConfigPatch) (Config, error) {
	return m.mutate(ctx, func(c *Config) error {
		next := patch.Apply(*c)
		if err := next.Validate(); err != nil {
			return err
		}
		*c = next
		return nil
	})
}

// GenerateCode issues a fresh code and enables code checking.
func (m *Manager) GenerateCode(ctx context.Context) (Config, error) {
	return m.mutate(ctx, func(c *Config) error {
		next, err := withNewCode(*c, m.now())
		if err != nil {
			return err
		}
		*c = next
		return nil
	})
}

// ToggleCode enables or disables code checking. Enabling without a live code issues one.
func (m *Manager) ToggleCode(ctx context.Context, enabled bool) (Config, error) {
	return m.mutate(ctx, func(c *Config) error {
		if enabled && c.CodeExpired(m.now()) {
			next, err := withNewCode(*c, m.now())
			if err != nil {
				return err
			}
			*c = next
		}
		c.CodeEnabled = enabled
		return nil
	})
}

// ClearCode removes the code and disables checking.
func (m *Manager) ClearCode(ctx context.Context) (Config, error) {
	return m.mutate(ctx, func(c *Config) error {
		c.VerificationCode = ""
		c.CodeCreatedAt = nil
		c.CodeEnabled = false
		return nil
	})
}

func withNewCode(c Config, now time.Time) (Config, error) {
	code, err := NewCode()
	if err != nil {
		return c, err
	}
	created := now
	c.VerificationCode = code
	c.CodeCreatedAt = &created
	c.CodeEnabled = true
	return c, nil
}

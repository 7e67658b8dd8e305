package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedClock struct{ t time.Time }

func (c *fixedClock) now() time.Time { return c.t }

func newTestManager(t *testing.T, store Store, clock *fixedClock) *Manager {
	t.Helper()
	m, err := NewManager(store, WithClock(clock.now))
	require.NoError(t, err)
	return m
}

func TestManagerCurrent(t *testing.T) {
	ctx := context.Background()
	clock := &fixedClock{t: tuesday(15, 0, 0)}

	t.Run("absent config falls back to defaults", func(t *testing.T) {
		store := NewMemoryStore()
		m := newTestManager(t, store, clock)
		cfg, err := m.Current(ctx)
		require.NoError(t, err)
		assert.Equal(t, Defaults(), cfg)

		stored, err := store.Load(ctx)
		require.NoError(t, err)
		assert.Nil(t, stored, "reads never create the singleton")
	})

	t.Run("expired code is rotated lazily", func(t *testing.T) {
		store := NewMemoryStore()
		m := newTestManager(t, store, clock)
		_, err := m.GenerateCode(ctx)
		require.NoError(t, err)

		clock.t = clock.t.Add(CodeTTL + time.Second)
		cfg, err := m.Current(ctx)
		require.NoError(t, err)
		assert.True(t, cfg.CodeEnabled)
		assert.Equal(t, clock.t, *cfg.CodeCreatedAt)
		assert.False(t, cfg.CodeExpired(clock.t))

		stored, err := store.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, cfg.VerificationCode, stored.VerificationCode)
	})

	t.Run("disabled code is not rotated", func(t *testing.T) {
		store := NewMemoryStore()
		m := newTestManager(t, store, clock)
		_, err := m.GenerateCode(ctx)
		require.NoError(t, err)
		_, err = m.ToggleCode(ctx, false)
		require.NoError(t, err)

		clock.t = clock.t.Add(time.Hour)
		cfg, err := m.Current(ctx)
		require.NoError(t, err)
		assert.True(t, cfg.CodeExpired(clock.t))
	})
}

func TestManagerActions(t *testing.T) {
	ctx := context.Background()
	clock := &fixedClock{t: tuesday(14, 0, 0)}
	store := NewMemoryStore()
	m := newTestManager(t, store, clock)

	cfg, err := m.ToggleDebug(ctx, true)
	require.NoError(t, err)
	assert.True(t, cfg.DebugMode)
	assert.Equal(t, clock.t, cfg.UpdatedAt)

	day := 3
	dur := 10
	cfg, err = m.Update(ctx, ConfigPatch{DayOfWeek: &day, Session1Duration: &dur})
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.DayOfWeek)
	assert.Equal(t, 10, cfg.Session1Duration)
	assert.True(t, cfg.DebugMode, "unrelated field groups survive")

	bad := 9
	_, err = m.Update(ctx, ConfigPatch{DayOfWeek: &bad})
	assert.ErrorIs(t, err, ErrInvalidConfig)
	cfg, err = m.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.DayOfWeek, "rejected update is not saved")

	cfg, err = m.ToggleCode(ctx, true)
	require.NoError(t, err)
	assert.True(t, cfg.CodeEnabled)
	assert.True(t, cfg.HasCode())

	cfg, err = m.ClearCode(ctx)
	require.NoError(t, err)
	assert.False(t, cfg.CodeEnabled)
	assert.False(t, cfg.HasCode())
	assert.Nil(t, cfg.CodeCreatedAt)
}

type failingStore struct{}

func (failingStore) Load(context.Context) (*Config, error) { return nil, errors.New("unavailable") }
func (failingStore) Save(context.Context, Config) error    { return errors.New("unavailable") }

func TestManagerStoreErrors(t *testing.T) {
	_, err := NewManager(nil)
	assert.Error(t, err)

	m := newTestManager(t, failingStore{}, &fixedClock{t: time.Now()})
	_, err = m.Current(context.Background())
	assert.Error(t, err)
	_, err = m.ToggleDebug(context.Background(), true)
	assert.Error(t, err)
}

//go:build integration

package schedule_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clubattendance/internal/schedule"
	"clubattendance/internal/store/pgtest"
)

func TestPostgresConfigStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	db := pgtest.Open(t)
	pgtest.Truncate(t, db, "attendance_config")
	st := schedule.NewPostgresStore(db.Client)

	cfg, err := st.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, cfg, "no row until the first save")

	now := time.Date(2026, time.January, 13, 15, 0, 0, 0, time.UTC)
	m, err := schedule.NewManager(st, schedule.WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	issued, err := m.GenerateCode(ctx)
	require.NoError(t, err)
	dur := 10
	_, err = m.Update(ctx, schedule.ConfigPatch{Session1Duration: &dur})
	require.NoError(t, err)

	stored, err := st.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, issued.VerificationCode, stored.VerificationCode)
	assert.True(t, stored.CodeEnabled)
	assert.Equal(t, 10, stored.Session1Duration)
	assert.Equal(t, schedule.Defaults().Session2Start, stored.Session2Start)

	var rows int
	require.NoError(t, db.Client.QueryRowContext(ctx, `SELECT COUNT(*) FROM attendance_config`).Scan(&rows))
	assert.Equal(t, 1, rows, "config stays a singleton")
}

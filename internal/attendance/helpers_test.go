package attendance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"clubattendance/internal/metrics"
	"clubattendance/internal/roster"
	"clubattendance/internal/schedule"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

// at returns 2026-01-13 (a Tuesday in week 2) at hh:mm:ss UTC.
func at(hh, mm, ss int) time.Time {
	return time.Date(2026, time.January, 13, hh, mm, ss, 0, time.UTC)
}

type fixture struct {
	svc      *Service
	store    *MemoryStore
	clock    *testClock
	configs  *schedule.Manager
	students []roster.Student
}

func defaultRoster() []roster.Student {
	return []roster.Student{
		{ID: "m1", StudentID: "12345", Name: "Kim Minji", Email: "kim@school.test"},
		{ID: "m2", StudentID: "22222", Name: "Lee Jun", Email: "lee@school.test"},
		{ID: "m3", StudentID: "33333", Name: "Park Hana", Email: "park@school.test"},
	}
}

func newFixture(t *testing.T, store Store) *fixture {
	t.Helper()
	mem, _ := store.(*MemoryStore)
	if store == nil {
		mem = NewMemoryStore()
		store = mem
	}
	clock := &testClock{t: at(15, 22, 0)}
	configs, err := schedule.NewManager(schedule.NewMemoryStore(), schedule.WithClock(clock.now))
	require.NoError(t, err)
	students := defaultRoster()
	svc, err := NewService(store, configs, roster.NewStatic(students), WithMetrics(metrics.Nop()))
	require.NoError(t, err)
	return &fixture{svc: svc, store: mem, clock: clock, configs: configs, students: students}
}

func (f *fixture) checkIn(t *testing.T, studentID string) (Record, error) {
	t.Helper()
	return f.svc.CheckIn(context.Background(), CheckInRequest{StudentID: studentID, StudentName: "n-" + studentID})
}

// flakyStore fails Create for the listed students.
type flakyStore struct {
	*MemoryStore
	mu       sync.Mutex
	failFor  map[string]bool
	failList bool
}

var errUnavailable = errors.New("store unavailable")

func (s *flakyStore) Create(ctx context.Context, rec Record) error {
	s.mu.Lock()
	fail := s.failFor[rec.StudentID]
	s.mu.Unlock()
	if fail {
		return errUnavailable
	}
	return s.MemoryStore.Create(ctx, rec)
}

func (s *flakyStore) ListWeek(ctx context.Context, week int) ([]Record, error) {
	if s.failList {
		return nil, errUnavailable
	}
	return s.MemoryStore.ListWeek(ctx, week)
}

func (s *flakyStore) heal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failFor = nil
}

package attendance

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"clubattendance/internal/roster"
	"clubattendance/internal/schedule"
)

// InitResult summarizes an InitializeSession run.
type InitResult struct {
	SessionNumber int    `json:"sessionNumber"`
	SessionTime   string `json:"sessionTime"`
	WeekNumber    int    `json:"weekNumber"`
	TotalStudents int    `json:"totalStudents"`
	Created       int    `json:"newRecordsCount"`
	Existing      int    `json:"existingRecordsCount"`
	Failed        int    `json:"failedCount"`
}

// SweepResult summarizes a Sweep run.
type SweepResult struct {
	SessionNumber int    `json:"sessionNumber"`
	SessionTime   string `json:"sessionTime"`
	WeekNumber    int    `json:"weekNumber"`
	MarkedAs      Status `json:"markedAs"`
	TotalStudents int    `json:"totalStudents"`
	Updated       int    `json:"updatedCount"`
	Created       int    `json:"createdCount"`
	Skipped       int    `json:"skippedCount"`
	Failed        int    `json:"failedCount"`
}

type sessionSnapshot struct {
	cfg      schedule.Config
	number   int
	label    string
	students []roster.Student
	records  []Record
}

// snapshot loads the roster and the session's records of week concurrently.
func (s *Service) snapshot(ctx context.Context, sessionTime string, week int) (sessionSnapshot, error) {
	if week < 1 {
		return sessionSnapshot{}, fmt.Errorf("%w: week %d", ErrInvalidRequest, week)
	}
	cfg, err := s.configs.Current(ctx)
	if err != nil {
		return sessionSnapshot{}, err
	}
	number, err := resolveSession(cfg, sessionTime)
	if err != nil {
		return sessionSnapshot{}, fmt.Errorf("%w: %q", err, sessionTime)
	}

	snap := sessionSnapshot{cfg: cfg, number: number, label: cfg.SessionLabel(number)}
	var all []Record
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		students, err := s.roster.Students(gctx)
		if err != nil {
			return fmt.Errorf("load roster: %w", err)
		}
		snap.students = students
		return nil
	})
	g.Go(func() error {
		records, err := s.store.ListWeek(gctx, week)
		if err != nil {
			return err
		}
		all = records
		return nil
	})
	if err := g.Wait(); err != nil {
		return sessionSnapshot{}, err
	}

	filter := newSessionFilter(cfg, number)
	for _, rec := range all {
		switch filter.match(rec) {
		case matched:
			snap.records = append(snap.records, rec)
		case ambiguous:
			s.logger.Warn("legacy record label matches both sessions, ignored",
				"key", rec.ID, "session_time", rec.SessionTime, "week", week)
		}
	}
	return snap, nil
}

func (snap sessionSnapshot) recorded() map[string]bool {
	seen := make(map[string]bool, len(snap.records))
	for _, rec := range snap.records {
		seen[rec.StudentID] = true
	}
	return seen
}

// InitializeSession creates a pending record for every roster student without
// one in the session. Existing records of any status are left alone, so the
// call can be repeated; a create lost to a concurrent run counts as existing.
func (s *Service) InitializeSession(ctx context.Context, sessionTime string, week int) (InitResult, error) {
	snap, err := s.snapshot(ctx, sessionTime, week)
	if err != nil {
		return InitResult{}, err
	}
	res := InitResult{SessionNumber: snap.number, SessionTime: snap.label, WeekNumber: week, TotalStudents: len(snap.students)}
	seen := snap.recorded()
	now := s.configs.Now()

	for _, st := range snap.students {
		if seen[st.StudentID] {
			res.Existing++
			continue
		}
		key := Key{StudentID: st.StudentID, Session: snap.number, Week: week}
		rec := newRecord(key, Identity{StudentID: st.StudentID, Name: st.Name, Email: st.Email}, snap.label, StatusPending, nil, "", now)
		err := s.store.Create(ctx, rec)
		switch {
		case err == nil:
			res.Created++
		case errors.Is(err, ErrDuplicateKey):
			res.Existing++
		default:
			res.Failed++
			s.logger.Error("initialize record failed", "key", key.String(), "error", err)
		}
		seen[st.StudentID] = true
	}

	s.metrics.Batch("initialize", "created", res.Created)
	s.metrics.Batch("initialize", "failed", res.Failed)
	s.logger.Info("session initialized",
		"session", snap.number, "week", week, "created", res.Created, "existing", res.Existing, "failed", res.Failed)
	return res, nil
}

// Sweep closes a session: pending records move to markAs and roster students
// with no record get one directly in markAs. A second sweep is a no-op.
func (s *Service) Sweep(ctx context.Context, sessionTime string, week int, markAs Status) (SweepResult, error) {
	if markAs == "" {
		markAs = StatusAbsent
	}
	if markAs != StatusAbsent && markAs != StatusLate {
		return SweepResult{}, fmt.Errorf("%w: sweep can only mark absent or late, got %q", ErrInvalidStatus, markAs)
	}
	snap, err := s.snapshot(ctx, sessionTime, week)
	if err != nil {
		return SweepResult{}, err
	}
	res := SweepResult{SessionNumber: snap.number, SessionTime: snap.label, WeekNumber: week, MarkedAs: markAs, TotalStudents: len(snap.students)}
	now := s.configs.Now()
	update := Update{Status: markAs, CheckInTime: &now, Notes: noteSystemClose}

	for _, rec := range snap.records {
		if rec.Status != StatusPending {
			continue
		}
		_, err := s.store.Transition(ctx, rec.Key(), StatusPending, update)
		switch {
		case err == nil:
			res.Updated++
		case errors.Is(err, ErrStaleRecord), errors.Is(err, ErrNotFound):
			res.Skipped++
		default:
			res.Failed++
			s.logger.Error("sweep update failed", "key", rec.ID, "error", err)
		}
	}

	seen := snap.recorded()
	for _, st := range snap.students {
		if seen[st.StudentID] {
			continue
		}
		key := Key{StudentID: st.StudentID, Session: snap.number, Week: week}
		rec := newRecord(key, Identity{StudentID: st.StudentID, Name: st.Name, Email: st.Email}, snap.label, markAs, &now, noteSystemClose, now)
		err := s.store.Create(ctx, rec)
		switch {
		case err == nil:
			res.Created++
		case errors.Is(err, ErrDuplicateKey):
			res.Skipped++
		default:
			res.Failed++
			s.logger.Error("sweep backfill failed", "key", key.String(), "error", err)
		}
		seen[st.StudentID] = true
	}

	s.metrics.Batch("sweep", "updated", res.Updated)
	s.metrics.Batch("sweep", "created", res.Created)
	s.metrics.Batch("sweep", "failed", res.Failed)
	s.logger.Info("session swept",
		"session", snap.number, "week", week, "mark_as", markAs,
		"updated", res.Updated, "created", res.Created, "skipped", res.Skipped, "failed", res.Failed)
	return res, nil
}

package attendance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"clubattendance/internal/logging"
	"clubattendance/internal/metrics"
	"clubattendance/internal/roster"
	"clubattendance/internal/schedule"
)

const (
	noteLateCheckIn = "checked in during late window"
	noteSystemClose = "system auto-marked: window closed"
	noteAdminSet    = "set by admin"
)

// ConfigSource supplies the schedule for a request and the current time.
// *schedule.Manager satisfies it.
type ConfigSource interface {
	Current(ctx context.Context) (schedule.Config, error)
	Now() time.Time
}

// Service coordinates check-ins, session initialization, sweeps and admin overrides.
// It holds no per-request state; all coordination happens in the Store.
type Service struct {
	store   Store
	configs ConfigSource
	roster  roster.Provider
	metrics *metrics.Metrics
	logger  *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// NewService wires the ledger to its collaborators.
func NewService(store Store, configs ConfigSource, students roster.Provider, opts ...Option) (*Service, error) {
	if store == nil || configs == nil || students == nil {
		return nil, errors.New("attendance store, config source and roster are required")
	}
	s := &Service{store: store, configs: configs, roster: students, logger: logging.Discard()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CheckInRequest is a student's check-in attempt.
type CheckInRequest struct {
	StudentID        string
	StudentName      string
	StudentEmail     string
	VerificationCode string
}

// CheckIn records the student's arrival for the open session of the current week.
func (s *Service) CheckIn(ctx context.Context, req CheckInRequest) (Record, error) {
	req.StudentID = strings.TrimSpace(req.StudentID)
	if req.StudentID == "" {
		return Record{}, fmt.Errorf("%w: student id required", ErrInvalidRequest)
	}
	cfg, err := s.configs.Current(ctx)
	if err != nil {
		return Record{}, err
	}
	now := s.configs.Now()

	session, open := schedule.CurrentSession(cfg, now)
	if !open {
		s.metrics.Rejected("window_closed")
		return Record{}, &WindowClosedError{Schedule: schedule.Describe(cfg)}
	}
	if cfg.CodeEnabled && !cfg.CheckCode(req.VerificationCode, now) {
		s.metrics.Rejected("invalid_code")
		return Record{}, ErrInvalidCode
	}

	key := Key{StudentID: req.StudentID, Session: session.Number, Week: schedule.WeekNumber(cfg, now)}
	who := Identity{StudentID: req.StudentID, Name: req.StudentName, Email: req.StudentEmail}
	rec, err := s.ensurePending(ctx, key, who, session.Time, now)
	if err != nil {
		return Record{}, err
	}
	if rec.Status != StatusPending {
		s.metrics.Rejected("already_checked_in")
		return Record{}, &AlreadyCheckedInError{Status: rec.Status}
	}

	update := Update{Status: StatusPresent, CheckInTime: &now}
	if session.Late {
		update.Status = StatusLate
		update.Notes = noteLateCheckIn
	}
	updated, err := s.store.Transition(ctx, key, StatusPending, update)
	if errors.Is(err, ErrStaleRecord) {
		s.metrics.Rejected("already_checked_in")
		return Record{}, s.alreadyCheckedIn(ctx, key)
	}
	if err != nil {
		return Record{}, err
	}
	s.metrics.CheckedIn(string(updated.Status))
	s.logger.Info("student checked in",
		"student_id", key.StudentID, "session", key.Session, "week", key.Week, "status", updated.Status)
	return updated, nil
}

func (s *Service) alreadyCheckedIn(ctx context.Context, key Key) error {
	rec, err := s.store.Get(ctx, key)
	if err != nil || rec == nil {
		return &AlreadyCheckedInError{Status: StatusPresent}
	}
	return &AlreadyCheckedInError{Status: rec.Status}
}

// ensurePending returns the record for key, creating it as pending when absent.
// Losing a create race to another writer is fine: the winner's record is returned.
func (s *Service) ensurePending(ctx context.Context, key Key, who Identity, sessionTime string, now time.Time) (Record, error) {
	existing, err := s.store.Get(ctx, key)
	if err != nil {
		return Record{}, err
	}
	if existing != nil {
		return *existing, nil
	}
	rec := newRecord(key, who, sessionTime, StatusPending, nil, "", now)
	err = s.store.Create(ctx, rec)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, ErrDuplicateKey) {
		return Record{}, err
	}
	existing, err = s.store.Get(ctx, key)
	if err != nil {
		return Record{}, err
	}
	if existing == nil {
		return Record{}, fmt.Errorf("record %s vanished after duplicate create: %w", key, ErrStaleRecord)
	}
	return *existing, nil
}

// SetStatus force-sets a record's status. It is the only way out of a terminal
// state. When the record does not exist yet it is created from the key.
func (s *Service) SetStatus(ctx context.Context, rawKey string, status Status, notes *string) (Record, bool, error) {
	key, err := ParseKey(rawKey)
	if err != nil {
		return Record{}, false, err
	}
	if !status.Valid() {
		return Record{}, false, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	now := s.configs.Now()
	update := Update{Status: status, CheckInTime: &now, Notes: noteAdminSet}
	if notes != nil {
		update.Notes = *notes
	}

	rec, err := s.store.Set(ctx, key, update)
	if err == nil {
		s.metrics.Override(string(status))
		return rec, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Record{}, false, err
	}

	created, err := s.createForKey(ctx, key, update, now)
	if errors.Is(err, ErrDuplicateKey) {
		rec, err = s.store.Set(ctx, key, update)
		if err != nil {
			return Record{}, false, err
		}
		s.metrics.Override(string(status))
		return rec, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	s.metrics.Override(string(status))
	return created, true, nil
}

// AdminRecord is an administrator's explicit record creation.
type AdminRecord struct {
	StudentID     string
	SessionNumber int
	WeekNumber    int
	Status        Status
	Notes         string
}

// CreateRecord creates a record in any status. A taken key fails with ErrDuplicateKey.
func (s *Service) CreateRecord(ctx context.Context, in AdminRecord) (Record, error) {
	key := Key{StudentID: strings.TrimSpace(in.StudentID), Session: in.SessionNumber, Week: in.WeekNumber}
	if err := key.Validate(); err != nil {
		return Record{}, err
	}
	if !in.Status.Valid() {
		return Record{}, fmt.Errorf("%w: %q", ErrInvalidStatus, in.Status)
	}
	now := s.configs.Now()
	update := Update{Status: in.Status, Notes: in.Notes}
	if in.Status != StatusPending {
		update.CheckInTime = &now
	}
	rec, err := s.createForKey(ctx, key, update, now)
	if err != nil {
		return Record{}, err
	}
	s.metrics.Override(string(in.Status))
	return rec, nil
}

func (s *Service) createForKey(ctx context.Context, key Key, u Update, now time.Time) (Record, error) {
	cfg, err := s.configs.Current(ctx)
	if err != nil {
		return Record{}, err
	}
	who := Identity{StudentID: key.StudentID}
	student, err := roster.Lookup(ctx, s.roster, key.StudentID)
	if err != nil {
		s.logger.Warn("roster lookup failed, record created without name", "student_id", key.StudentID, "error", err)
	} else if student != nil {
		who.Name, who.Email = student.Name, student.Email
	}
	rec := newRecord(key, who, cfg.SessionLabel(key.Session), u.Status, u.CheckInTime, u.Notes, now)
	if err := s.store.Create(ctx, rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

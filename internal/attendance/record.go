package attendance

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Status is the state of one ledger record. Pending is the only non-terminal state.
type Status string

const (
	StatusPending Status = "pending"
	StatusPresent Status = "present"
	StatusLate    Status = "late"
	StatusAbsent  Status = "absent"
)

// Statuses lists every status in display order.
var Statuses = []Status{StatusPending, StatusPresent, StatusLate, StatusAbsent}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPresent, StatusLate, StatusAbsent:
		return true
	}
	return false
}

// Terminal reports whether only an admin override may change s.
func (s Status) Terminal() bool {
	return s.Valid() && s != StatusPending
}

// ParseStatus validates a wire status.
func ParseStatus(v string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, v)
	}
	return s, nil
}

// Key identifies the single record a student may have for a session in a week.
type Key struct {
	StudentID string
	Session   int
	Week      int
}

// String serializes the key as studentId_session_week, the record's storage id.
func (k Key) String() string {
	return k.StudentID + "_" + strconv.Itoa(k.Session) + "_" + strconv.Itoa(k.Week)
}

// Validate checks that k can name a record.
func (k Key) Validate() error {
	if k.StudentID == "" {
		return fmt.Errorf("%w: empty student id", ErrInvalidKey)
	}
	if k.Session != 1 && k.Session != 2 {
		return fmt.Errorf("%w: session %d", ErrInvalidKey, k.Session)
	}
	if k.Week < 1 {
		return fmt.Errorf("%w: week %d", ErrInvalidKey, k.Week)
	}
	return nil
}

// ParseKey reverses Key.String. Fields are split from the right so student
// ids may themselves contain underscores.
func ParseKey(raw string) (Key, error) {
	rest, weekPart, ok := cutLast(raw, "_")
	if !ok {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, raw)
	}
	studentID, sessionPart, ok := cutLast(rest, "_")
	if !ok {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, raw)
	}
	session, err := strconv.Atoi(sessionPart)
	if err != nil {
		return Key{}, fmt.Errorf("%w: session in %q", ErrInvalidKey, raw)
	}
	week, err := strconv.Atoi(weekPart)
	if err != nil {
		return Key{}, fmt.Errorf("%w: week in %q", ErrInvalidKey, raw)
	}
	k := Key{StudentID: studentID, Session: session, Week: week}
	return k, k.Validate()
}

func cutLast(s, sep string) (string, string, bool) {
	i := strings.LastIndex(s, sep)
	if i < 0 {
		return s, "", false
	}
	return s[:i], s[i+len(sep):], true
}

// Record is one student's attendance for one session of one week.
type Record struct {
	ID            string     `json:"id"`
	StudentID     string     `json:"studentId"`
	StudentName   string     `json:"studentName"`
	StudentEmail  string     `json:"studentEmail"`
	SessionNumber int        `json:"sessionNumber"`
	SessionTime   string     `json:"sessionTime"`
	WeekNumber    int        `json:"weekNumber"`
	Status        Status     `json:"status"`
	CheckInTime   *time.Time `json:"checkInTime"`
	Notes         string     `json:"notes"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// Key returns the record's composite key.
func (r Record) Key() Key {
	return Key{StudentID: r.StudentID, Session: r.SessionNumber, Week: r.WeekNumber}
}

// Identity is the roster data denormalized onto a record at write time.
type Identity struct {
	StudentID string
	Name      string
	Email     string
}

func newRecord(key Key, who Identity, sessionTime string, status Status, at *time.Time, notes string, now time.Time) Record {
	return Record{
		ID:            key.String(),
		StudentID:     key.StudentID,
		StudentName:   who.Name,
		StudentEmail:  who.Email,
		SessionNumber: key.Session,
		SessionTime:   sessionTime,
		WeekNumber:    key.Week,
		Status:        status,
		CheckInTime:   at,
		Notes:         notes,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Update is the mutable part of a record.
type Update struct {
	Status      Status
	CheckInTime *time.Time
	Notes       string
}

func (u Update) apply(r Record, now time.Time) Record {
	r.Status = u.Status
	r.CheckInTime = u.CheckInTime
	r.Notes = u.Notes
	r.UpdatedAt = now
	return r
}

var (
	ErrDuplicateKey     = errors.New("attendance record already exists")
	ErrNotFound         = errors.New("attendance record not found")
	ErrStaleRecord      = errors.New("attendance record changed concurrently")
	ErrInvalidKey       = errors.New("invalid attendance key")
	ErrInvalidStatus    = errors.New("invalid attendance status")
	ErrInvalidRequest   = errors.New("invalid attendance request")
	ErrUnknownSession   = errors.New("unknown session")
	ErrWindowClosed     = errors.New("attendance window is closed")
	ErrInvalidCode      = errors.New("invalid or expired verification code")
	ErrAlreadyCheckedIn = errors.New("already checked in")
)

// WindowClosedError carries the schedule so callers can tell students when to come back.
type WindowClosedError struct {
	Schedule string
}

func (e *WindowClosedError) Error() string {
	return fmt.Sprintf("attendance is closed; check-in is open %s", e.Schedule)
}

func (e *WindowClosedError) Unwrap() error { return ErrWindowClosed }

// AlreadyCheckedInError reports the status the student already holds.
type AlreadyCheckedInError struct {
	Status Status
}

func (e *AlreadyCheckedInError) Error() string {
	return fmt.Sprintf("already checked in for this session (status: %s)", e.Status)
}

func (e *AlreadyCheckedInError) Unwrap() error { return ErrAlreadyCheckedIn }

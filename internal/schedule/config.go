// Package schedule holds the weekly attendance configuration and the pure
// clock functions that decide when check-in is open.
package schedule

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"
)

// CodeTTL is how long a verification code stays valid after creation.
const CodeTTL = 10 * time.Minute

const dateLayout = "2006-01-02"

// ErrInvalidConfig is returned when a schedule fails validation.
var ErrInvalidConfig = errors.New("invalid attendance config")

// ClockTime is a wall-clock hour and minute.
type ClockTime struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

// String renders the HH:MM label used on ledger records.
func (t ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Minutes returns minutes since midnight.
func (t ClockTime) Minutes() int {
	return t.Hour*60 + t.Minute
}

func (t ClockTime) valid() bool {
	return t.Hour >= 0 && t.Hour < 24 && t.Minute >= 0 && t.Minute < 60
}

// ParseClockTime parses an HH:MM label.
func ParseClockTime(s string) (ClockTime, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return ClockTime{}, fmt.Errorf("clock time %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil {
		return ClockTime{}, fmt.Errorf("clock time %q: %w", s, err)
	}
	m, err := strconv.Atoi(mm)
	if err != nil {
		return ClockTime{}, fmt.Errorf("clock time %q: %w", s, err)
	}
	t := ClockTime{Hour: h, Minute: m}
	if !t.valid() {
		return ClockTime{}, fmt.Errorf("clock time %q out of range", s)
	}
	return t, nil
}

// Config is the singleton weekly attendance schedule.
type Config struct {
	DayOfWeek        int        `json:"dayOfWeek"`
	Session1Start    ClockTime  `json:"session1Start"`
	Session1Duration int        `json:"session1Duration"`
	Session2Start    ClockTime  `json:"session2Start"`
	Session2Duration int        `json:"session2Duration"`
	WeekStartDate    string     `json:"weekStartDate"`
	DebugMode        bool       `json:"debugMode"`
	VerificationCode string     `json:"verificationCode,omitempty"`
	CodeEnabled      bool       `json:"codeEnabled"`
	CodeCreatedAt    *time.Time `json:"codeCreatedAt,omitempty"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// Defaults is the schedule used until an administrator saves one.
func Defaults() Config {
	return Config{
		DayOfWeek:        int(time.Tuesday),
		Session1Start:    ClockTime{Hour: 15, Minute: 20},
		Session1Duration: 5,
		Session2Start:    ClockTime{Hour: 15, Minute: 40},
		Session2Duration: 5,
		WeekStartDate:    "2026-01-06",
	}
}

const minutesPerDay = 24 * 60

func clockAt(minutes int) ClockTime {
	return ClockTime{Hour: minutes / 60, Minute: minutes % 60}
}

// Validate checks ranges of every field group and that session 1's late
// window closes before session 2 opens.
func (c Config) Validate() error {
	if c.DayOfWeek < 0 || c.DayOfWeek > 6 {
		return fmt.Errorf("%w: dayOfWeek %d not in 0-6", ErrInvalidConfig, c.DayOfWeek)
	}
	if !c.Session1Start.valid() || !c.Session2Start.valid() {
		return fmt.Errorf("%w: session start out of range", ErrInvalidConfig)
	}
	if c.Session1Duration <= 0 || c.Session2Duration <= 0 {
		return fmt.Errorf("%w: session durations must be positive", ErrInvalidConfig)
	}
	// Each window spans start to start+2*duration (on time then late).
	end1 := c.Session1Start.Minutes() + 2*c.Session1Duration
	end2 := c.Session2Start.Minutes() + 2*c.Session2Duration
	if end1 > minutesPerDay || end2 > minutesPerDay {
		return fmt.Errorf("%w: session windows must end by midnight", ErrInvalidConfig)
	}
	if end1 > c.Session2Start.Minutes() {
		return fmt.Errorf("%w: session 1 closes at %s, after session 2 starts at %s",
			ErrInvalidConfig, clockAt(end1), c.Session2Start)
	}
	if _, err := c.WeekStart(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// WeekStart parses the anchor date of week 1.
func (c Config) WeekStart() (time.Time, error) {
	return time.Parse(dateLayout, c.WeekStartDate)
}

// Slot returns the start and on-time duration of session n (1 or 2).
func (c Config) Slot(n int) (ClockTime, int, bool) {
	switch n {
	case 1:
		return c.Session1Start, c.Session1Duration, true
	case 2:
		return c.Session2Start, c.Session2Duration, true
	}
	return ClockTime{}, 0, false
}

// SessionLabel returns the HH:MM label of session n, or "" if n is unknown.
func (c Config) SessionLabel(n int) string {
	start, _, ok := c.Slot(n)
	if !ok {
		return ""
	}
	return start.String()
}

// SessionByLabel resolves a label to its session number under the current schedule.
func (c Config) SessionByLabel(label string) (int, bool) {
	switch strings.TrimSpace(label) {
	case c.Session1Start.String():
		return 1, true
	case c.Session2Start.String():
		return 2, true
	}
	return 0, false
}

// HasCode reports whether a code is stored, expired or not.
func (c Config) HasCode() bool {
	return c.VerificationCode != ""
}

// CodeExpired reports whether the stored code is missing or older than CodeTTL.
func (c Config) CodeExpired(now time.Time) bool {
	if c.VerificationCode == "" || c.CodeCreatedAt == nil {
		return true
	}
	return now.Sub(*c.CodeCreatedAt) >= CodeTTL
}

// CheckCode compares code against the live code.
func (c Config) CheckCode(code string, now time.Time) bool {
	if c.CodeExpired(now) || code == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(code)), []byte(c.VerificationCode)) == 1
}

// Public strips the verification code for non-admin callers.
func (c Config) Public() Config {
	c.VerificationCode = ""
	return c
}

// NewCode returns a random 4 digit code.
func NewCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%04d", n.Int64()), nil
}

// Describe renders the schedule for people, e.g. "Tuesdays 15:20-15:30 and 15:40-15:50".
func Describe(c Config) string {
	day := time.Weekday(c.DayOfWeek).String() + "s"
	return fmt.Sprintf("%s %s and %s", day, span(c.Session1Start, c.Session1Duration), span(c.Session2Start, c.Session2Duration))
}

func span(start ClockTime, duration int) string {
	end := start.Minutes() + 2*duration
	return fmt.Sprintf("%s-%02d:%02d", start, (end/60)%24, end%60)
}

// ConfigPatch carries the field groups an administrator wants to change.
type ConfigPatch struct {
	DayOfWeek        *int       `json:"dayOfWeek"`
	Session1Start    *ClockTime `json:"session1Start"`
	Session1Duration *int       `json:"session1Duration"`
	Session2Start    *ClockTime `json:"session2Start"`
	Session2Duration *int       `json:"session2Duration"`
	WeekStartDate    *string    `json:"weekStartDate"`
	DebugMode        *bool      `json:"debugMode"`
}

// Apply writes every present field onto c.
func (p ConfigPatch) Apply(c Config) Config {
	if p.DayOfWeek != nil {
		c.DayOfWeek = *p.DayOfWeek
	}
	if p.Session1Start != nil {
		c.Session1Start = *p.Session1Start
	}
	if p.Session1Duration != nil {
		c.Session1Duration = *p.Session1Duration
	}
	if p.Session2Start != nil {
		c.Session2Start = *p.Session2Start
	}
	if p.Session2Duration != nil {
		c.Session2Duration = *p.Session2Duration
	}
	if p.WeekStartDate != nil {
		c.WeekStartDate = *p.WeekStartDate
	}
	if p.DebugMode != nil {
		c.DebugMode = *p.DebugMode
	}
	return c
}

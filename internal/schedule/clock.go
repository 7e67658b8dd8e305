package schedule

import (
	"math"
	"time"
)

// Window is one session's check-in span on a given day.
// On time is [OpensAt, LateAt); late is [LateAt, ClosesAt).
type Window struct {
	Number   int
	Time     string
	OpensAt  time.Time
	LateAt   time.Time
	ClosesAt time.Time
}

// Contains reports whether t falls in the on-time or late span.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.OpensAt) && t.Before(w.ClosesAt)
}

// IsLate reports whether t is at or past the end of the on-time span.
// A check-in exactly at LateAt is late; this is the only boundary rule used.
func (w Window) IsLate(t time.Time) bool {
	return !t.Before(w.LateAt)
}

// Session describes the open check-in window at a moment.
type Session struct {
	Number           int       `json:"sessionNumber"`
	Time             string    `json:"sessionTime"`
	MinutesRemaining int       `json:"minutesRemaining"`
	Late             bool      `json:"isLate"`
	OpensAt          time.Time `json:"opensAt"`
	LateAt           time.Time `json:"lateAt"`
	ClosesAt         time.Time `json:"closesAt"`
}

// WindowOn returns session n's window on the calendar day of day, in day's location.
func WindowOn(c Config, n int, day time.Time) (Window, bool) {
	start, duration, ok := c.Slot(n)
	if !ok {
		return Window{}, false
	}
	y, m, d := day.Date()
	opens := time.Date(y, m, d, start.Hour, start.Minute, 0, 0, day.Location())
	step := time.Duration(duration) * time.Minute
	return Window{
		Number:   n,
		Time:     start.String(),
		OpensAt:  opens,
		LateAt:   opens.Add(step),
		ClosesAt: opens.Add(2 * step),
	}, true
}

// CurrentSession reports the open session at now, if any. In debug mode the
// gate is bypassed and session 1 is always open and on time.
func CurrentSession(c Config, now time.Time) (Session, bool) {
	if c.DebugMode {
		step := time.Duration(c.Session1Duration) * time.Minute
		return Session{
			Number:           1,
			Time:             c.Session1Start.String(),
			MinutesRemaining: c.Session1Duration,
			OpensAt:          now,
			LateAt:           now.Add(step),
			ClosesAt:         now.Add(2 * step),
		}, true
	}
	if int(now.Weekday()) != c.DayOfWeek {
		return Session{}, false
	}
	for _, n := range []int{1, 2} {
		w, _ := WindowOn(c, n, now)
		if !w.Contains(now) {
			continue
		}
		return Session{
			Number:           n,
			Time:             w.Time,
			MinutesRemaining: minutesRemaining(w, now),
			Late:             w.IsLate(now),
			OpensAt:          w.OpensAt,
			LateAt:           w.LateAt,
			ClosesAt:         w.ClosesAt,
		}, true
	}
	return Session{}, false
}

// minutesRemaining is positive exactly while the on-time span is running.
func minutesRemaining(w Window, now time.Time) int {
	return int(math.Ceil(w.LateAt.Sub(now).Minutes()))
}

// WeekNumber counts whole weeks from the anchor date to now, starting at 1.
// Dates before the anchor are clamped to week 1.
func WeekNumber(c Config, now time.Time) int {
	anchor, err := c.WeekStart()
	if err != nil {
		return 1
	}
	days := civilDays(now) - civilDays(anchor)
	if days < 0 {
		return 1
	}
	return days/7 + 1
}

// civilDays counts calendar days since the epoch for t's local date, ignoring DST.
func civilDays(t time.Time) int {
	y, m, d := t.Date()
	return int(time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400)
}

package attendance

import (
	"clubattendance/internal/schedule"
)

// legacyToleranceMinutes bounds how far a historical session label may sit
// from a configured start time and still be attributed to that session.
const legacyToleranceMinutes = 30

// sessionFilter selects the records of one session out of a week's records.
//
// Rules, in order:
//  1. a record carrying a session number (from its key) matches on that number;
//  2. otherwise an exact label match;
//  3. otherwise the legacy bridge: a label within 30 minutes of the session's
//     configured start. This is best effort for rows written before keys
//     carried the session number, not a correctness guarantee. A label within
//     tolerance of both sessions is ambiguous and matches neither.
type sessionFilter struct {
	number int
	label  string
	cfg    schedule.Config
}

func newSessionFilter(cfg schedule.Config, number int) sessionFilter {
	return sessionFilter{number: number, label: cfg.SessionLabel(number), cfg: cfg}
}

type matchResult int

const (
	noMatch matchResult = iota
	matched
	ambiguous
)

func (f sessionFilter) match(rec Record) matchResult {
	if rec.SessionNumber != 0 {
		if rec.SessionNumber == f.number {
			return matched
		}
		return noMatch
	}
	if rec.SessionTime == f.label {
		return matched
	}
	t, err := schedule.ParseClockTime(rec.SessionTime)
	if err != nil {
		return noMatch
	}
	near1 := within(t, f.cfg.Session1Start)
	near2 := within(t, f.cfg.Session2Start)
	switch {
	case near1 && near2:
		return ambiguous
	case f.number == 1 && near1, f.number == 2 && near2:
		return matched
	}
	return noMatch
}

func within(a, b schedule.ClockTime) bool {
	d := a.Minutes() - b.Minutes()
	if d < 0 {
		d = -d
	}
	return d <= legacyToleranceMinutes
}

// resolveSession maps a session label from a caller onto a session number.
// Labels that no longer match the schedule exactly fall back to the legacy
// tolerance rule; an ambiguous label is rejected.
func resolveSession(cfg schedule.Config, label string) (int, error) {
	if n, ok := cfg.SessionByLabel(label); ok {
		return n, nil
	}
	probe := Record{SessionTime: label}
	var found []int
	for _, n := range []int{1, 2} {
		if newSessionFilter(cfg, n).match(probe) == matched {
			found = append(found, n)
		}
	}
	if len(found) == 1 {
		return found[0], nil
	}
	return 0, ErrUnknownSession
}

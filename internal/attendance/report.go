package attendance

import (
	"context"
	"sort"
)

// Counts tallies a session's records. Unrecorded counts roster students with no record.
type Counts struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Present    int `json:"present"`
	Late       int `json:"late"`
	Absent     int `json:"absent"`
	Unrecorded int `json:"unrecorded"`
}

func (c *Counts) add(s Status) {
	switch s {
	case StatusPending:
		c.Pending++
	case StatusPresent:
		c.Present++
	case StatusLate:
		c.Late++
	case StatusAbsent:
		c.Absent++
	}
}

// SessionView is one session's records in a week.
type SessionView struct {
	SessionNumber int      `json:"sessionNumber"`
	SessionTime   string   `json:"sessionTime"`
	WeekNumber    int      `json:"weekNumber"`
	Records       []Record `json:"records"`
	Counts        Counts   `json:"counts"`
}

// WeekView summarizes both sessions of a week.
type WeekView struct {
	WeekNumber    int           `json:"weekNumber"`
	TotalStudents int           `json:"totalStudents"`
	Sessions      []SessionView `json:"sessions"`
}

// SessionRecords lists a session's records. With includeAll, roster students
// without a record appear as synthetic pending entries (not persisted).
func (s *Service) SessionRecords(ctx context.Context, sessionTime string, week int, includeAll bool) (SessionView, error) {
	snap, err := s.snapshot(ctx, sessionTime, week)
	if err != nil {
		return SessionView{}, err
	}
	return s.view(snap, week, includeAll), nil
}

func (s *Service) view(snap sessionSnapshot, week int, includeAll bool) SessionView {
	v := SessionView{SessionNumber: snap.number, SessionTime: snap.label, WeekNumber: week}
	v.Records = append(v.Records, snap.records...)
	for _, rec := range snap.records {
		v.Counts.add(rec.Status)
	}
	seen := snap.recorded()
	for _, st := range snap.students {
		if seen[st.StudentID] {
			continue
		}
		v.Counts.Unrecorded++
		if includeAll {
			key := Key{StudentID: st.StudentID, Session: snap.number, Week: week}
			v.Records = append(v.Records, Record{
				ID:            key.String(),
				StudentID:     st.StudentID,
				StudentName:   st.Name,
				StudentEmail:  st.Email,
				SessionNumber: snap.number,
				SessionTime:   snap.label,
				WeekNumber:    week,
				Status:        StatusPending,
			})
		}
	}
	v.Counts.Total = len(snap.records) + v.Counts.Unrecorded
	sort.SliceStable(v.Records, func(i, j int) bool {
		if v.Records[i].StudentName != v.Records[j].StudentName {
			return v.Records[i].StudentName < v.Records[j].StudentName
		}
		return v.Records[i].StudentID < v.Records[j].StudentID
	})
	return v
}

// SessionCounts returns per-status counts for one session.
func (s *Service) SessionCounts(ctx context.Context, sessionTime string, week int) (SessionView, error) {
	snap, err := s.snapshot(ctx, sessionTime, week)
	if err != nil {
		return SessionView{}, err
	}
	v := s.view(snap, week, false)
	v.Records = nil
	return v, nil
}

// WeekSummary reports both sessions of week with roster padding.
func (s *Service) WeekSummary(ctx context.Context, week int) (WeekView, error) {
	cfg, err := s.configs.Current(ctx)
	if err != nil {
		return WeekView{}, err
	}
	out := WeekView{WeekNumber: week}
	for _, n := range []int{1, 2} {
		snap, err := s.snapshot(ctx, cfg.SessionLabel(n), week)
		if err != nil {
			return WeekView{}, err
		}
		out.TotalStudents = len(snap.students)
		out.Sessions = append(out.Sessions, s.view(snap, week, true))
	}
	return out, nil
}

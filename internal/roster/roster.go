// Package roster provides the snapshot of active students eligible for attendance.
package roster

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Student is one active roster member. StudentID is the stable school id
// used in ledger keys; ID is the membership row id.
type Student struct {
	ID        string `json:"id"`
	StudentID string `json:"studentId"`
	Name      string `json:"name"`
	Email     string `json:"email"`
}

// Provider returns every active student.
type Provider interface {
	Students(ctx context.Context) ([]Student, error)
}

// Lookup finds a student by StudentID in p's snapshot. It returns nil when absent.
func Lookup(ctx context.Context, p Provider, studentID string) (*Student, error) {
	students, err := p.Students(ctx)
	if err != nil {
		return nil, err
	}
	for i := range students {
		if students[i].StudentID == studentID {
			return &students[i], nil
		}
	}
	return nil, nil
}

// Postgres reads members with the student role.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Students(ctx context.Context) ([]Student, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, student_id, name, email
		FROM members
		WHERE role = 'student' AND active AND student_id <> ''
		ORDER BY student_id
	`)
	if err != nil {
		return nil, fmt.Errorf("query roster: %w", err)
	}
	defer rows.Close()

	var students []Student
	for rows.Next() {
		var s Student
		if err := rows.Scan(&s.ID, &s.StudentID, &s.Name, &s.Email); err != nil {
			return nil, fmt.Errorf("scan roster: %w", err)
		}
		students = append(students, s)
	}
	return students, rows.Err()
}

// Static serves a fixed roster.
type Static struct {
	students []Student
}

// NewStatic copies students, sorted by StudentID.
func NewStatic(students []Student) *Static {
	cp := append([]Student(nil), students...)
	sort.Slice(cp, func(i, j int) bool { return cp[i].StudentID < cp[j].StudentID })
	return &Static{students: cp}
}

// LoadFile reads a JSON array of students.
func LoadFile(path string) (*Static, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster file: %w", err)
	}
	var students []Student
	if err := json.Unmarshal(raw, &students); err != nil {
		return nil, fmt.Errorf("decode roster file: %w", err)
	}
	return NewStatic(students), nil
}

func (s *Static) Students(_ context.Context) ([]Student, error) {
	return append([]Student(nil), s.students...), nil
}

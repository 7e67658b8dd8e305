package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

const recordColumns = `unique_key, student_id, student_name, student_email, session_number,
	session_time, week_number, status, check_in_time, notes, created_at, updated_at`

// PostgresStore persists the ledger in Postgres. unique_key is the primary
// key, so concurrent creates for one key resolve to a single winner.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a ledger store on db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create never upserts: a taken key yields ErrDuplicateKey.
func (r *PostgresStore) Create(ctx context.Context, rec Record) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_records (`+recordColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, rec.Key().String(), rec.StudentID, rec.StudentName, rec.StudentEmail, rec.SessionNumber,
		rec.SessionTime, rec.WeekNumber, string(rec.Status), rec.CheckInTime, rec.Notes, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("insert attendance record: %w", err)
	}
	return nil
}

// Get returns the record for key, or nil when none exists.
func (r *PostgresStore) Get(ctx context.Context, key Key) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM attendance_records WHERE unique_key = $1`, key.String())
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get attendance record: %w", err)
	}
	return &rec, nil
}

// Transition updates the record only while its status still equals from.
func (r *PostgresStore) Transition(ctx context.Context, key Key, from Status, u Update) (Record, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE attendance_records
		SET status = $3, check_in_time = $4, notes = $5, updated_at = NOW()
		WHERE unique_key = $1 AND status = $2
		RETURNING `+recordColumns,
		key.String(), string(from), string(u.Status), u.CheckInTime, u.Notes)
	rec, err := scanRecord(row)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("transition attendance record: %w", err)
	}
	existing, gerr := r.Get(ctx, key)
	if gerr != nil {
		return Record{}, gerr
	}
	if existing == nil {
		return Record{}, ErrNotFound
	}
	return Record{}, ErrStaleRecord
}

// Set overwrites status, time and notes regardless of the current status.
func (r *PostgresStore) Set(ctx context.Context, key Key, u Update) (Record, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE attendance_records
		SET status = $2, check_in_time = $3, notes = $4, updated_at = NOW()
		WHERE unique_key = $1
		RETURNING `+recordColumns,
		key.String(), string(u.Status), u.CheckInTime, u.Notes)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("set attendance record: %w", err)
	}
	return rec, nil
}

// ListWeek returns every record of a week, across both sessions.
func (r *PostgresStore) ListWeek(ctx context.Context, week int) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE week_number = $1
		ORDER BY unique_key
	`, week)
	if err != nil {
		return nil, fmt.Errorf("list attendance records: %w", err)
	}
	defer rows.Close()

	var res []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attendance record: %w", err)
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (Record, error) {
	var rec Record
	var status string
	if err := s.Scan(&rec.ID, &rec.StudentID, &rec.StudentName, &rec.StudentEmail, &rec.SessionNumber,
		&rec.SessionTime, &rec.WeekNumber, &status, &rec.CheckInTime, &rec.Notes, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return Record{}, err
	}
	rec.Status = Status(status)
	return rec, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

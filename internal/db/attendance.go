package db

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/johnpaulpatigas/benthel-attendance/internal/model"
)

// ListAttendance returns check-in events most recent first. studentID nil
// means the whole table. Ties on created_at break on id descending so
// repeated queries return a stable order.
func (s *Store) ListAttendance(ctx context.Context, studentID *uuid.UUID) ([]model.AttendanceRecord, error) {
	query := `
		SELECT id, student_id, created_at
		FROM attendance
		ORDER BY created_at DESC, id DESC
	`
	args := []any{}
	if studentID != nil {
		query = `
			SELECT id, student_id, created_at
			FROM attendance
			WHERE student_id = $1
			ORDER BY created_at DESC, id DESC
		`
		args = append(args, *studentID)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.AttendanceRecord
	for rows.Next() {
		var record model.AttendanceRecord
		if err := rows.Scan(&record.ID, &record.StudentID, &record.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (s *Store) ListAttendanceWithStudents(ctx context.Context) ([]model.AttendanceEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT a.id, a.student_id, a.created_at, s.first_name, s.last_name, s.class_name
		FROM attendance a
		JOIN students s ON s.id = a.student_id
		ORDER BY a.created_at DESC, a.id DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.AttendanceEntry
	for rows.Next() {
		var entry model.AttendanceEntry
		if err := rows.Scan(
			&entry.Record.ID,
			&entry.Record.StudentID,
			&entry.Record.CreatedAt,
			&entry.Student.FirstName,
			&entry.Student.LastName,
			&entry.Student.ClassName,
		); err != nil {
			return nil, err
		}
		entry.Student.ID = entry.Record.StudentID
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// InsertAttendance appends one check-in event. created_at comes back from
// the store so callers publish the authoritative timestamp, not their own.
func (s *Store) InsertAttendance(ctx context.Context, recordID, studentID uuid.UUID) (model.AttendanceRecord, error) {
	record := model.AttendanceRecord{ID: recordID, StudentID: studentID}
	var createdAt time.Time
	row := s.pool.QueryRow(ctx, `
		INSERT INTO attendance (id, student_id)
		VALUES ($1, $2)
		RETURNING created_at
	`, recordID, studentID)
	if err := row.Scan(&createdAt); err != nil {
		return model.AttendanceRecord{}, err
	}
	record.CreatedAt = createdAt
	return record, nil
}

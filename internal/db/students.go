package db

import (
	"context"

	"github.com/google/uuid"

	"github.com/johnpaulpatigas/benthel-attendance/internal/model"
)

const studentColumns = `id, first_name, last_name, rfid_tag, class_name, created_at`

// ListStudents returns the whole roster ordered by first name ascending,
// the order the admin directory displays.
func (s *Store) ListStudents(ctx context.Context) ([]model.Student, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+studentColumns+`
		FROM students
		ORDER BY first_name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var students []model.Student
	for rows.Next() {
		var student model.Student
		if err := rows.Scan(&student.ID, &student.FirstName, &student.LastName, &student.RFIDTag, &student.ClassName, &student.CreatedAt); err != nil {
			return nil, err
		}
		students = append(students, student)
	}
	return students, rows.Err()
}

func (s *Store) GetStudent(ctx context.Context, studentID uuid.UUID) (model.Student, error) {
	var student model.Student
	row := s.pool.QueryRow(ctx, `
		SELECT `+studentColumns+`
		FROM students
		WHERE id = $1
	`, studentID)
	err := row.Scan(&student.ID, &student.FirstName, &student.LastName, &student.RFIDTag, &student.ClassName, &student.CreatedAt)
	return student, err
}

// GetStudentByRFID resolves a scanned tag to a student. Tags are not
// guaranteed unique by the schema; the most recently registered match wins.
func (s *Store) GetStudentByRFID(ctx context.Context, rfidTag string) (model.Student, error) {
	var student model.Student
	row := s.pool.QueryRow(ctx, `
		SELECT `+studentColumns+`
		FROM students
		WHERE rfid_tag = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, rfidTag)
	err := row.Scan(&student.ID, &student.FirstName, &student.LastName, &student.RFIDTag, &student.ClassName, &student.CreatedAt)
	return student, err
}

func (s *Store) CreateStudent(ctx context.Context, student model.Student) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO students (id, first_name, last_name, rfid_tag, class_name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, student.ID, student.FirstName, student.LastName, student.RFIDTag, student.ClassName, student.CreatedAt)
	return err
}

func (s *Store) UpdateStudent(ctx context.Context, student model.Student) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE students
		SET first_name = $1, last_name = $2, rfid_tag = $3, class_name = $4
		WHERE id = $5
	`, student.FirstName, student.LastName, student.RFIDTag, student.ClassName, student.ID)
	return err
}

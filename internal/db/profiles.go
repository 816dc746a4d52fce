package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/johnpaulpatigas/benthel-attendance/internal/model"
)

func (s *Store) GetProfile(ctx context.Context, userID uuid.UUID) (model.Profile, error) {
	profile := model.Profile{UserID: userID}
	var role string
	row := s.pool.QueryRow(ctx, `
		SELECT role, student_id
		FROM profiles
		WHERE id = $1
	`, userID)
	err := row.Scan(&role, &profile.StudentID)
	profile.Role = model.ParseRole(role)
	return profile, err
}

// ProvisionProfile writes or replaces the durable role record for an
// existing user. The existence check and the upsert share one transaction.
// Returns pgx.ErrNoRows when the user does not exist.
func (s *Store) ProvisionProfile(ctx context.Context, profile model.Profile) error {
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, profile.UserID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return pgx.ErrNoRows
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO profiles (id, role, student_id)
			VALUES ($1, $2, $3)
			ON CONFLICT (id) DO UPDATE SET role = EXCLUDED.role, student_id = EXCLUDED.student_id
		`, profile.UserID, string(profile.Role), profile.StudentID)
		return err
	})
}

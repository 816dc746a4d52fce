package db

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/johnpaulpatigas/benthel-attendance/internal/model"
)

func (s *Store) CreateUser(ctx context.Context, user model.User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, email, password_hash, first_name, last_name, meta_role, meta_student_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, user.ID, user.Email, user.PasswordHash, user.FirstName, user.LastName, nullRole(user.MetaRole), user.MetaStudent, user.CreatedAt)
	return err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (model.User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, email, password_hash, first_name, last_name, meta_role, meta_student_id, created_at
		FROM users
		WHERE email = $1
	`, email)
	return scanUser(row)
}

func (s *Store) GetUserByID(ctx context.Context, userID uuid.UUID) (model.User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, email, password_hash, first_name, last_name, meta_role, meta_student_id, created_at
		FROM users
		WHERE id = $1
	`, userID)
	return scanUser(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (model.User, error) {
	var user model.User
	var metaRole *string
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.FirstName,
		&user.LastName,
		&metaRole,
		&user.MetaStudent,
		&user.CreatedAt,
	)
	if metaRole != nil {
		user.MetaRole = model.ParseRole(*metaRole)
	}
	return user, err
}

func nullRole(role model.Role) *string {
	if role == model.RoleUnresolved {
		return nil
	}
	s := string(role)
	return &s
}

func (s *Store) CreateRefreshSession(ctx context.Context, session model.RefreshSession) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO refresh_token_sessions (id, user_id, token_hash, created_at, expires_at, revoked_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, session.ID, session.UserID, session.TokenHash, session.CreatedAt, session.ExpiresAt, session.RevokedAt)
	return err
}

func (s *Store) GetRefreshSession(ctx context.Context, tokenHash string) (model.RefreshSession, error) {
	var session model.RefreshSession
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, token_hash, created_at, expires_at, revoked_at
		FROM refresh_token_sessions
		WHERE token_hash = $1
	`, tokenHash)
	err := row.Scan(&session.ID, &session.UserID, &session.TokenHash, &session.CreatedAt, &session.ExpiresAt, &session.RevokedAt)
	return session, err
}

func (s *Store) RevokeRefreshSession(ctx context.Context, sessionID uuid.UUID, revokedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE refresh_token_sessions SET revoked_at = $1 WHERE id = $2`, revokedAt, sessionID)
	return err
}

func (s *Store) DeleteExpiredRefreshSessions(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM refresh_token_sessions WHERE expires_at < $1 OR revoked_at IS NOT NULL`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

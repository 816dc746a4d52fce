// Package identity turns raw authentication state into a resolved
// (user, role) session and exposes the sign-in/sign-up/sign-out surface
// the portal's HTTP layer drives.
package identity

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/johnpaulpatigas/benthel-attendance/internal/auth"
	"github.com/johnpaulpatigas/benthel-attendance/internal/model"
)

var (
	// ErrAuthFailed covers bad credentials and unknown accounts. It is
	// surfaced verbatim and never retried.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrUnresolvedRole means neither the profile record nor the token
	// metadata carries a role. The caller must stay in an explicit
	// role-unknown state; defaulting to any role is forbidden.
	ErrUnresolvedRole = errors.New("role could not be resolved")
)

// ProfileStore is the slice of the store the resolver reads.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID uuid.UUID) (model.Profile, error)
}

// Resolver derives the role for a session. Policy: the durable profile row
// wins; token metadata is the fallback for users whose profile provisioning
// lags their signup. Neither source yielding a role is ErrUnresolvedRole.
type Resolver struct {
	store ProfileStore
}

func NewResolver(store ProfileStore) *Resolver {
	return &Resolver{store: store}
}

func (r *Resolver) ResolveSession(ctx context.Context, claims *auth.Claims) (*model.Session, error) {
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, ErrAuthFailed
	}

	session := &model.Session{
		UserID:    userID,
		FirstName: claims.FirstName,
		LastName:  claims.LastName,
	}

	profile, err := r.store.GetProfile(ctx, userID)
	switch {
	case err == nil:
		session.Role = profile.Role
		session.LinkedStudentID = profile.StudentID
	case errors.Is(err, pgx.ErrNoRows):
		session.Role = model.ParseRole(claims.Role)
		if claims.StudentID != nil {
			if studentID, parseErr := uuid.Parse(*claims.StudentID); parseErr == nil {
				session.LinkedStudentID = &studentID
			}
		}
	default:
		return nil, err
	}

	if session.Role == model.RoleUnresolved {
		return nil, ErrUnresolvedRole
	}
	return session, nil
}

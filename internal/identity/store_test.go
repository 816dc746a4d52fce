package identity

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/johnpaulpatigas/benthel-attendance/internal/model"
)

// fakeStore implements UserStore in memory for the tests in this package.
// Missing rows answer pgx.ErrNoRows, matching the real store.
type fakeStore struct {
	users    map[uuid.UUID]model.User
	profiles map[uuid.UUID]model.Profile
	sessions map[string]model.RefreshSession
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    make(map[uuid.UUID]model.User),
		profiles: make(map[uuid.UUID]model.Profile),
		sessions: make(map[string]model.RefreshSession),
	}
}

func (s *fakeStore) CreateUser(_ context.Context, user model.User) error {
	s.users[user.ID] = user
	return nil
}

func (s *fakeStore) GetUserByEmail(_ context.Context, email string) (model.User, error) {
	for _, user := range s.users {
		if user.Email == email {
			return user, nil
		}
	}
	return model.User{}, pgx.ErrNoRows
}

func (s *fakeStore) GetUserByID(_ context.Context, userID uuid.UUID) (model.User, error) {
	user, ok := s.users[userID]
	if !ok {
		return model.User{}, pgx.ErrNoRows
	}
	return user, nil
}

func (s *fakeStore) ProvisionProfile(_ context.Context, profile model.Profile) error {
	if _, ok := s.users[profile.UserID]; !ok {
		return pgx.ErrNoRows
	}
	s.profiles[profile.UserID] = profile
	return nil
}

func (s *fakeStore) GetProfile(_ context.Context, userID uuid.UUID) (model.Profile, error) {
	profile, ok := s.profiles[userID]
	if !ok {
		return model.Profile{}, pgx.ErrNoRows
	}
	return profile, nil
}

func (s *fakeStore) CreateRefreshSession(_ context.Context, session model.RefreshSession) error {
	s.sessions[session.TokenHash] = session
	return nil
}

func (s *fakeStore) GetRefreshSession(_ context.Context, tokenHash string) (model.RefreshSession, error) {
	session, ok := s.sessions[tokenHash]
	if !ok {
		return model.RefreshSession{}, pgx.ErrNoRows
	}
	return session, nil
}

func (s *fakeStore) RevokeRefreshSession(_ context.Context, sessionID uuid.UUID, revokedAt time.Time) error {
	for hash, session := range s.sessions {
		if session.ID == sessionID {
			session.RevokedAt = &revokedAt
			s.sessions[hash] = session
		}
	}
	return nil
}

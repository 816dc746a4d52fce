package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/johnpaulpatigas/benthel-attendance/internal/model"
)

func newTestProvider(store UserStore) *Provider {
	return NewProvider(store, "test-secret", "test-issuer", time.Minute, time.Hour)
}

func signUpTeacher(t *testing.T, provider *Provider, email string) *model.User {
	t.Helper()
	user, err := provider.SignUp(context.Background(), email, "password", ProfileMetadata{
		FirstName: "Rita",
		LastName:  "Gomez",
		Role:      "teacher",
	})
	if err != nil {
		t.Fatalf("signup error: %v", err)
	}
	return user
}

func TestSignInAndRestore(t *testing.T) {
	store := newFakeStore()
	provider := newTestProvider(store)
	signUpTeacher(t, provider, "rita@school.test")

	tokens, session, err := provider.SignIn(context.Background(), "rita@school.test", "password")
	if err != nil {
		t.Fatalf("signin error: %v", err)
	}
	if session.Role != model.RoleTeacher {
		t.Fatalf("expected teacher role, got %s", session.Role)
	}

	restored, err := provider.RestoreSession(context.Background(), tokens.AccessToken)
	if err != nil {
		t.Fatalf("restore error: %v", err)
	}
	if restored == nil || restored.UserID != session.UserID {
		t.Fatalf("expected restored session for the same user")
	}
}

func TestSignInRejectsBadCredentials(t *testing.T) {
	store := newFakeStore()
	provider := newTestProvider(store)
	signUpTeacher(t, provider, "rita@school.test")

	if _, _, err := provider.SignIn(context.Background(), "rita@school.test", "wrong"); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed for wrong password, got %v", err)
	}
	if _, _, err := provider.SignIn(context.Background(), "nobody@school.test", "password"); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed for unknown user, got %v", err)
	}
}

func TestRestoreSessionEmptyTokenIsNotAnError(t *testing.T) {
	provider := newTestProvider(newFakeStore())

	session, err := provider.RestoreSession(context.Background(), "")
	if err != nil || session != nil {
		t.Fatalf("expected nil, nil for missing session, got %v, %v", session, err)
	}
	session, err = provider.RestoreSession(context.Background(), "not-a-token")
	if err != nil || session != nil {
		t.Fatalf("expected nil, nil for garbage token, got %v, %v", session, err)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	store := newFakeStore()
	provider := newTestProvider(store)
	signUpTeacher(t, provider, "rita@school.test")

	tokens, _, err := provider.SignIn(context.Background(), "rita@school.test", "password")
	if err != nil {
		t.Fatalf("signin error: %v", err)
	}

	next, err := provider.Refresh(context.Background(), tokens.RefreshToken)
	if err != nil {
		t.Fatalf("refresh error: %v", err)
	}
	if next.RefreshToken == tokens.RefreshToken {
		t.Fatalf("expected rotated refresh token")
	}
	if _, err := provider.Refresh(context.Background(), tokens.RefreshToken); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("expected old refresh token to be dead, got %v", err)
	}
}

func TestSignOutIsTerminalAndQuiet(t *testing.T) {
	store := newFakeStore()
	provider := newTestProvider(store)
	signUpTeacher(t, provider, "rita@school.test")

	tokens, _, err := provider.SignIn(context.Background(), "rita@school.test", "password")
	if err != nil {
		t.Fatalf("signin error: %v", err)
	}
	if err := provider.SignOut(context.Background(), tokens.RefreshToken); err != nil {
		t.Fatalf("signout error: %v", err)
	}
	if _, err := provider.Refresh(context.Background(), tokens.RefreshToken); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("expected refresh after signout to fail, got %v", err)
	}
	// Unknown token: same end state, no error.
	if err := provider.SignOut(context.Background(), "unknown"); err != nil {
		t.Fatalf("expected quiet signout for unknown token, got %v", err)
	}
}

func TestProvisionOverridesMetadataRole(t *testing.T) {
	store := newFakeStore()
	provider := newTestProvider(store)
	user := signUpTeacher(t, provider, "rita@school.test")

	if err := provider.Provision(context.Background(), user.ID, model.RoleAdmin, nil); err != nil {
		t.Fatalf("provision error: %v", err)
	}

	_, session, err := provider.SignIn(context.Background(), "rita@school.test", "password")
	if err != nil {
		t.Fatalf("signin error: %v", err)
	}
	if session.Role != model.RoleAdmin {
		t.Fatalf("expected the profile role to win, got %s", session.Role)
	}
}

func TestProvisionRejectsUnknownUserAndUnresolvedRole(t *testing.T) {
	store := newFakeStore()
	provider := newTestProvider(store)
	user := signUpTeacher(t, provider, "rita@school.test")

	if err := provider.Provision(context.Background(), uuid.New(), model.RoleTeacher, nil); err == nil {
		t.Fatalf("expected an error for an unknown user")
	}
	if err := provider.Provision(context.Background(), user.ID, model.RoleUnresolved, nil); !errors.Is(err, ErrUnresolvedRole) {
		t.Fatalf("expected ErrUnresolvedRole, got %v", err)
	}
}

func TestOnSessionChangeDisposerUnsubscribesOnce(t *testing.T) {
	store := newFakeStore()
	provider := newTestProvider(store)
	signUpTeacher(t, provider, "rita@school.test")

	var events []ChangeKind
	dispose := provider.OnSessionChange(func(event ChangeEvent) {
		events = append(events, event.Kind)
	})

	tokens, _, err := provider.SignIn(context.Background(), "rita@school.test", "password")
	if err != nil {
		t.Fatalf("signin error: %v", err)
	}
	if _, err := provider.Refresh(context.Background(), tokens.RefreshToken); err != nil {
		t.Fatalf("refresh error: %v", err)
	}

	dispose()
	dispose() // second call must be a no-op

	if _, session, err := provider.SignIn(context.Background(), "rita@school.test", "password"); err != nil || session == nil {
		t.Fatalf("signin error after dispose: %v", err)
	}

	want := []ChangeKind{ChangeSignedIn, ChangeRefreshed}
	if len(events) != len(want) {
		t.Fatalf("expected %d events before dispose, got %d", len(want), len(events))
	}
	for i, kind := range want {
		if events[i] != kind {
			t.Fatalf("expected event %d to be %s, got %s", i, kind, events[i])
		}
	}
}

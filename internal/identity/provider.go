package identity

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/johnpaulpatigas/benthel-attendance/internal/auth"
	"github.com/johnpaulpatigas/benthel-attendance/internal/crypto"
	"github.com/johnpaulpatigas/benthel-attendance/internal/model"
)

// UserStore is the slice of the store the provider needs.
type UserStore interface {
	ProfileStore
	ProvisionProfile(ctx context.Context, profile model.Profile) error
	CreateUser(ctx context.Context, user model.User) error
	GetUserByEmail(ctx context.Context, email string) (model.User, error)
	GetUserByID(ctx context.Context, userID uuid.UUID) (model.User, error)
	CreateRefreshSession(ctx context.Context, session model.RefreshSession) error
	GetRefreshSession(ctx context.Context, tokenHash string) (model.RefreshSession, error)
	RevokeRefreshSession(ctx context.Context, sessionID uuid.UUID, revokedAt time.Time) error
}

type ChangeKind string

const (
	ChangeSignedIn  ChangeKind = "signed_in"
	ChangeSignedOut ChangeKind = "signed_out"
	ChangeRefreshed ChangeKind = "token_refreshed"
)

type ChangeEvent struct {
	Kind    ChangeKind
	Session *model.Session
}

type Tokens struct {
	AccessToken  string
	RefreshToken string
}

// ProfileMetadata is what signup embeds in the credential. The profile row
// itself is provisioned separately (by an administrator), which is why role
// resolution falls back to this metadata.
type ProfileMetadata struct {
	FirstName string `json:"first_name" validate:"required"`
	LastName  string `json:"last_name" validate:"required"`
	Role      string `json:"role" validate:"required,oneof=student parent teacher"`
	StudentID string `json:"student_id" validate:"omitempty,uuid"`
}

// Provider is the identity surface: credential issuance and verification,
// session restore, and session-change notification. Constructed once in
// main and injected; nothing reaches for a package-level handle.
type Provider struct {
	store      UserStore
	resolver   *Resolver
	secret     string
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration

	mu        sync.Mutex
	listeners map[int]func(ChangeEvent)
	nextID    int
}

func NewProvider(store UserStore, secret, issuer string, accessTTL, refreshTTL time.Duration) *Provider {
	return &Provider{
		store:      store,
		resolver:   NewResolver(store),
		secret:     secret,
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		listeners:  make(map[int]func(ChangeEvent)),
	}
}

func (p *Provider) Resolver() *Resolver {
	return p.resolver
}

// OnSessionChange registers a listener for sign-in, sign-out and token
// refresh. The returned disposer removes exactly that listener and is safe
// to call more than once.
func (p *Provider) OnSessionChange(fn func(ChangeEvent)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.listeners, id)
			p.mu.Unlock()
		})
	}
}

func (p *Provider) emit(event ChangeEvent) {
	p.mu.Lock()
	targets := make([]func(ChangeEvent), 0, len(p.listeners))
	for _, fn := range p.listeners {
		targets = append(targets, fn)
	}
	p.mu.Unlock()
	for _, fn := range targets {
		fn(event)
	}
}

func (p *Provider) SignIn(ctx context.Context, email, password string) (*Tokens, *model.Session, error) {
	user, err := p.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrAuthFailed
		}
		return nil, nil, err
	}
	if err := crypto.CheckPassword(user.PasswordHash, password); err != nil {
		return nil, nil, ErrAuthFailed
	}

	tokens, err := p.issueTokens(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	// An unresolved role is not a sign-in failure: credentials were good,
	// the caller just stays in an explicit role-unknown state.
	session, err := p.resolver.ResolveSession(ctx, p.claimsFor(user))
	if err != nil && !errors.Is(err, ErrUnresolvedRole) {
		return nil, nil, err
	}
	p.emit(ChangeEvent{Kind: ChangeSignedIn, Session: session})
	return tokens, session, nil
}

func (p *Provider) SignUp(ctx context.Context, email, password string, meta ProfileMetadata) (*model.User, error) {
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return nil, err
	}
	user := model.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: hash,
		FirstName:    meta.FirstName,
		LastName:     meta.LastName,
		MetaRole:     model.ParseRole(meta.Role),
		CreatedAt:    time.Now().UTC(),
	}
	if meta.StudentID != "" {
		studentID, err := uuid.Parse(meta.StudentID)
		if err != nil {
			return nil, err
		}
		user.MetaStudent = &studentID
	}
	if err := p.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Provision writes or replaces a user's durable role record. Sign-up never
// creates one, so this is the only in-band path that populates the profile
// tier the resolver prefers.
func (p *Provider) Provision(ctx context.Context, userID uuid.UUID, role model.Role, studentID *uuid.UUID) error {
	if role == model.RoleUnresolved {
		return ErrUnresolvedRole
	}
	return p.store.ProvisionProfile(ctx, model.Profile{UserID: userID, Role: role, StudentID: studentID})
}

// SignOut revokes the refresh session behind the given token. Revoking an
// unknown token is not an error; the end state is the same.
func (p *Provider) SignOut(ctx context.Context, refreshToken string) error {
	session, err := p.store.GetRefreshSession(ctx, crypto.HashToken(refreshToken))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return err
	}
	if err := p.store.RevokeRefreshSession(ctx, session.ID, time.Now().UTC()); err != nil {
		return err
	}
	p.emit(ChangeEvent{Kind: ChangeSignedOut})
	return nil
}

// RestoreSession re-establishes identity from a previously issued access
// token. An empty or invalid token is the normal unauthenticated boot
// state and returns nil, nil rather than an error.
func (p *Provider) RestoreSession(ctx context.Context, accessToken string) (*model.Session, error) {
	if accessToken == "" {
		return nil, nil
	}
	claims, err := auth.ParseToken(p.secret, p.issuer, accessToken)
	if err != nil {
		return nil, nil
	}
	return p.resolver.ResolveSession(ctx, claims)
}

// Refresh rotates the refresh token and issues a fresh access token.
func (p *Provider) Refresh(ctx context.Context, refreshToken string) (*Tokens, error) {
	stored, err := p.store.GetRefreshSession(ctx, crypto.HashToken(refreshToken))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAuthFailed
		}
		return nil, err
	}
	now := time.Now().UTC()
	if stored.RevokedAt != nil || now.After(stored.ExpiresAt) {
		return nil, ErrAuthFailed
	}
	user, err := p.store.GetUserByID(ctx, stored.UserID)
	if err != nil {
		return nil, err
	}
	if err := p.store.RevokeRefreshSession(ctx, stored.ID, now); err != nil {
		return nil, err
	}
	tokens, err := p.issueTokens(ctx, user)
	if err != nil {
		return nil, err
	}
	if session, resolveErr := p.resolver.ResolveSession(ctx, p.claimsFor(user)); resolveErr == nil {
		p.emit(ChangeEvent{Kind: ChangeRefreshed, Session: session})
	}
	return tokens, nil
}

func (p *Provider) claimsFor(user model.User) *auth.Claims {
	claims := &auth.Claims{
		UserID:    user.ID.String(),
		Role:      string(user.MetaRole),
		FirstName: user.FirstName,
		LastName:  user.LastName,
	}
	if user.MetaStudent != nil {
		studentID := user.MetaStudent.String()
		claims.StudentID = &studentID
	}
	return claims
}

func (p *Provider) issueTokens(ctx context.Context, user model.User) (*Tokens, error) {
	accessToken, err := auth.NewAccessToken(p.secret, p.issuer, p.accessTTL, *p.claimsFor(user))
	if err != nil {
		return nil, err
	}
	refreshToken, err := crypto.NewRefreshToken()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	err = p.store.CreateRefreshSession(ctx, model.RefreshSession{
		ID:        uuid.New(),
		UserID:    user.ID,
		TokenHash: crypto.HashToken(refreshToken),
		CreatedAt: now,
		ExpiresAt: now.Add(p.refreshTTL),
	})
	if err != nil {
		return nil, err
	}
	return &Tokens{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

// Package projection holds the three role-scoped live views. Each one
// follows the same lifecycle: mount resolves the scope, opens exactly one
// subscription, performs the initial fetch, refetches on every change
// event, and closes the subscription on unmount. A projection never holds
// two live subscriptions; changing scope closes the old one first.
//
// Refetches overwrite the snapshot in completion order. Two refetches may
// be in flight at once and the later-completing one wins the displayed
// state; the store itself is never wrong, only the transient view can lag
// until the next change. A failed refetch keeps the last snapshot.
package projection

import (
	"context"
	"errors"
	"sync"

	"github.com/johnpaulpatigas/benthel-attendance/internal/directory"
	"github.com/johnpaulpatigas/benthel-attendance/internal/feed"
	"github.com/johnpaulpatigas/benthel-attendance/internal/model"
	"github.com/johnpaulpatigas/benthel-attendance/internal/notify"
)

// ErrRoleUnresolved rejects mounting any view for a session whose role
// never resolved. The caller stays in an explicit role-unknown state.
var ErrRoleUnresolved = errors.New("no view for unresolved role")

type Projection interface {
	// Mount resolves the scope, opens the subscription and runs the
	// initial fetch. A viewer session without a linked student fails
	// with model.ErrUnlinkedStudent.
	Mount(ctx context.Context) error
	// Unmount closes the subscription. Safe to call more than once.
	Unmount()
	// Updates signals after each completed refetch. Closed by Unmount.
	Updates() <-chan struct{}
	// Snapshot returns the current rendered view for serialization.
	Snapshot() any
}

// Select picks the view for a resolved session. The switch is exhaustive
// over every role; there is no default privileged fallback.
func Select(session *model.Session, dir *directory.Directory, f *feed.Feed) (Projection, error) {
	switch session.Role {
	case model.RoleAdmin:
		return NewAdmin(dir), nil
	case model.RoleTeacher:
		return NewTeacher(f), nil
	case model.RoleStudent, model.RoleParent:
		return NewStudent(f, session), nil
	case model.RoleUnresolved:
		return nil, ErrRoleUnresolved
	}
	return nil, ErrRoleUnresolved
}

// viewState is the mount/subscription/update plumbing every projection
// shares. The updates channel is buffered to one so a burst of refetches
// collapses into a single pending signal.
type viewState struct {
	mu      sync.Mutex
	ctx     context.Context
	sub     *notify.Subscription
	updates chan struct{}
	closed  bool
}

func newViewState() viewState {
	return viewState{updates: make(chan struct{}, 1)}
}

// attach closes any previous subscription before opening the next one, so
// the projection never holds two live channels and no event is delivered
// through both.
func (s *viewState) attach(ctx context.Context, open func() *notify.Subscription) {
	s.mu.Lock()
	old := s.sub
	s.sub = nil
	s.ctx = ctx
	s.mu.Unlock()
	if old != nil {
		old.Close()
	}
	sub := open()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		sub.Close()
		return
	}
	s.sub = sub
	s.mu.Unlock()
}

func (s *viewState) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

func (s *viewState) signal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

func (s *viewState) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	sub := s.sub
	s.sub = nil
	close(s.updates)
	s.mu.Unlock()
	if sub != nil {
		sub.Close()
	}
}

// subscription exposes the live handle for lifecycle assertions in tests.
func (s *viewState) subscription() *notify.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sub
}

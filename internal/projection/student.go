package projection

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/johnpaulpatigas/benthel-attendance/internal/feed"
	"github.com/johnpaulpatigas/benthel-attendance/internal/model"
	"github.com/johnpaulpatigas/benthel-attendance/internal/notify"
)

type RecordRow struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

type StudentSnapshot struct {
	Role      model.Role  `json:"role"`
	StudentID uuid.UUID   `json:"student_id"`
	Records   []RecordRow `json:"records"`
}

// Student is the single-subject view shared by the student and parent
// roles: only the linked student's check-ins, most recent first. Mounting
// fails with model.ErrUnlinkedStudent when the session carries no link;
// the view must never fall through to another student's data.
type Student struct {
	feed    *feed.Feed
	session *model.Session
	state   viewState

	scope   uuid.UUID   // guarded by state.mu
	records []RecordRow // guarded by state.mu
}

func NewStudent(f *feed.Feed, session *model.Session) *Student {
	return &Student{feed: f, session: session, state: newViewState()}
}

func (p *Student) Mount(ctx context.Context) error {
	studentID, err := p.session.RequireLink()
	if err != nil {
		return err
	}
	p.mountScope(ctx, studentID)
	return nil
}

// SetScope re-subscribes under a new student id. The old subscription is
// closed before the new one opens, so no event is ever delivered twice.
// The scope normally never changes for the lifetime of a session; this
// exists for the re-link case.
func (p *Student) SetScope(ctx context.Context, studentID uuid.UUID) {
	p.mountScope(ctx, studentID)
}

func (p *Student) mountScope(ctx context.Context, studentID uuid.UUID) {
	p.state.mu.Lock()
	p.scope = studentID
	p.state.mu.Unlock()
	p.state.attach(ctx, func() *notify.Subscription {
		return p.feed.Subscribe(feed.ForStudent(studentID), func() { p.refresh() })
	})
	p.refresh()
}

func (p *Student) Unmount() {
	p.state.close()
}

func (p *Student) Updates() <-chan struct{} {
	return p.state.updates
}

func (p *Student) Snapshot() any {
	p.state.mu.Lock()
	defer p.state.mu.Unlock()
	return StudentSnapshot{Role: p.session.Role, StudentID: p.scope, Records: p.records}
}

func (p *Student) refresh() {
	ctx := p.state.context()
	if ctx == nil {
		return
	}
	p.state.mu.Lock()
	scope := p.scope
	p.state.mu.Unlock()

	records, err := p.feed.Query(ctx, feed.ForStudent(scope))
	if err != nil {
		log.Printf("student projection refresh: %v", err)
		return
	}
	rows := make([]RecordRow, 0, len(records))
	for _, record := range records {
		rows = append(rows, RecordRow{ID: record.ID, CreatedAt: record.CreatedAt})
	}

	p.state.mu.Lock()
	p.records = rows
	p.state.mu.Unlock()
	p.state.signal()
}

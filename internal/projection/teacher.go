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

type EntryRow struct {
	ID        uuid.UUID `json:"id"`
	StudentID uuid.UUID `json:"student_id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	ClassName string    `json:"class_name"`
	CreatedAt time.Time `json:"created_at"`
}

type TeacherSnapshot struct {
	Role    model.Role `json:"role"`
	Entries []EntryRow `json:"entries"`
}

// Teacher is the global live feed: every check-in, most recent first, with
// the student's name and class joined in at query time.
type Teacher struct {
	feed  *feed.Feed
	state viewState

	entries []EntryRow // guarded by state.mu
}

func NewTeacher(f *feed.Feed) *Teacher {
	return &Teacher{feed: f, state: newViewState()}
}

func (p *Teacher) Mount(ctx context.Context) error {
	p.state.attach(ctx, func() *notify.Subscription {
		return p.feed.Subscribe(feed.All(), func() { p.refresh() })
	})
	p.refresh()
	return nil
}

func (p *Teacher) Unmount() {
	p.state.close()
}

func (p *Teacher) Updates() <-chan struct{} {
	return p.state.updates
}

func (p *Teacher) Snapshot() any {
	p.state.mu.Lock()
	defer p.state.mu.Unlock()
	return TeacherSnapshot{Role: model.RoleTeacher, Entries: p.entries}
}

func (p *Teacher) refresh() {
	ctx := p.state.context()
	if ctx == nil {
		return
	}
	joined, err := p.feed.QueryJoined(ctx)
	if err != nil {
		log.Printf("teacher projection refresh: %v", err)
		return
	}
	rows := make([]EntryRow, 0, len(joined))
	for _, entry := range joined {
		rows = append(rows, EntryRow{
			ID:        entry.Record.ID,
			StudentID: entry.Record.StudentID,
			FirstName: entry.Student.FirstName,
			LastName:  entry.Student.LastName,
			ClassName: entry.Student.ClassName,
			CreatedAt: entry.Record.CreatedAt,
		})
	}

	p.state.mu.Lock()
	p.entries = rows
	p.state.mu.Unlock()
	p.state.signal()
}

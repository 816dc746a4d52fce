package projection

import (
	"context"
	"log"

	"github.com/google/uuid"

	"github.com/johnpaulpatigas/benthel-attendance/internal/directory"
	"github.com/johnpaulpatigas/benthel-attendance/internal/model"
	"github.com/johnpaulpatigas/benthel-attendance/internal/notify"
)

type StudentRow struct {
	ID        uuid.UUID `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	RFIDTag   string    `json:"rfid_tag"`
	ClassName string    `json:"class_name"`
}

type AdminSnapshot struct {
	Role     model.Role   `json:"role"`
	Students []StudentRow `json:"students"`
}

// Admin is the registrar view: the full roster, first-name order, plus the
// create/update surface. It watches the students table only; attendance
// never reaches this view.
type Admin struct {
	dir   *directory.Directory
	state viewState

	students []StudentRow // guarded by state.mu
}

func NewAdmin(dir *directory.Directory) *Admin {
	return &Admin{dir: dir, state: newViewState()}
}

func (p *Admin) Mount(ctx context.Context) error {
	p.state.attach(ctx, func() *notify.Subscription {
		return p.dir.OnChange(func() { p.refresh() })
	})
	p.refresh()
	return nil
}

func (p *Admin) Unmount() {
	p.state.close()
}

func (p *Admin) Updates() <-chan struct{} {
	return p.state.updates
}

func (p *Admin) Snapshot() any {
	p.state.mu.Lock()
	defer p.state.mu.Unlock()
	return AdminSnapshot{Role: model.RoleAdmin, Students: p.students}
}

// Create and Update pass through to the directory so the admin view owns
// the whole roster surface. Errors come back verbatim for the form.
func (p *Admin) Create(ctx context.Context, fields directory.Fields) (*model.Student, error) {
	return p.dir.Create(ctx, fields)
}

func (p *Admin) Update(ctx context.Context, studentID uuid.UUID, fields directory.Fields) error {
	return p.dir.Update(ctx, studentID, fields)
}

func (p *Admin) refresh() {
	ctx := p.state.context()
	if ctx == nil {
		return
	}
	students, err := p.dir.ListAll(ctx)
	if err != nil {
		log.Printf("admin projection refresh: %v", err)
		return
	}
	rows := make([]StudentRow, 0, len(students))
	for _, student := range students {
		rows = append(rows, StudentRow{
			ID:        student.ID,
			FirstName: student.FirstName,
			LastName:  student.LastName,
			RFIDTag:   student.RFIDTag,
			ClassName: student.ClassName,
		})
	}

	p.state.mu.Lock()
	p.students = rows
	p.state.mu.Unlock()
	p.state.signal()
}

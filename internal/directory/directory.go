// Package directory is the CRUD surface over the student roster. Only the
// admin role writes here; everything else reads. Students are never
// deleted.
package directory

import (
	"context"
	"log"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/johnpaulpatigas/benthel-attendance/internal/model"
	"github.com/johnpaulpatigas/benthel-attendance/internal/notify"
)

type Store interface {
	ListStudents(ctx context.Context) ([]model.Student, error)
	GetStudent(ctx context.Context, studentID uuid.UUID) (model.Student, error)
	CreateStudent(ctx context.Context, student model.Student) error
	UpdateStudent(ctx context.Context, student model.Student) error
}

// Fields is the admin form payload. All four are required on create;
// update treats an empty field as "keep the stored value". A validation
// failure comes back verbatim so the form can show it inline.
type Fields struct {
	FirstName string `json:"first_name" validate:"required"`
	LastName  string `json:"last_name" validate:"required"`
	RFIDTag   string `json:"rfid_tag" validate:"required"`
	ClassName string `json:"class_name" validate:"required"`
}

type Directory struct {
	store    Store
	bus      notify.Bus
	validate *validator.Validate
}

func New(store Store, bus notify.Bus) *Directory {
	return &Directory{
		store:    store,
		bus:      bus,
		validate: validator.New(),
	}
}

// ListAll returns the roster ordered by first name ascending.
func (d *Directory) ListAll(ctx context.Context) ([]model.Student, error) {
	return d.store.ListStudents(ctx)
}

func (d *Directory) Get(ctx context.Context, studentID uuid.UUID) (model.Student, error) {
	return d.store.GetStudent(ctx, studentID)
}

func (d *Directory) Create(ctx context.Context, fields Fields) (*model.Student, error) {
	if err := d.validate.Struct(fields); err != nil {
		return nil, err
	}
	student := model.Student{
		ID:        uuid.New(),
		FirstName: fields.FirstName,
		LastName:  fields.LastName,
		RFIDTag:   fields.RFIDTag,
		ClassName: fields.ClassName,
		CreatedAt: time.Now().UTC(),
	}
	if err := d.store.CreateStudent(ctx, student); err != nil {
		return nil, err
	}
	if err := d.bus.Publish(ctx, notify.Event{Table: notify.TableStudents, Kind: notify.KindInsert, RowID: student.ID}); err != nil {
		log.Printf("directory insert publish: %v", err)
	}
	return &student, nil
}

// Update replaces the given fields, keeping the stored value for any left
// empty. The merged row must still pass the same validation as Create.
func (d *Directory) Update(ctx context.Context, studentID uuid.UUID, fields Fields) error {
	existing, err := d.store.GetStudent(ctx, studentID)
	if err != nil {
		return err
	}
	if fields.FirstName != "" {
		existing.FirstName = fields.FirstName
	}
	if fields.LastName != "" {
		existing.LastName = fields.LastName
	}
	if fields.RFIDTag != "" {
		existing.RFIDTag = fields.RFIDTag
	}
	if fields.ClassName != "" {
		existing.ClassName = fields.ClassName
	}
	merged := Fields{
		FirstName: existing.FirstName,
		LastName:  existing.LastName,
		RFIDTag:   existing.RFIDTag,
		ClassName: existing.ClassName,
	}
	if err := d.validate.Struct(merged); err != nil {
		return err
	}
	if err := d.store.UpdateStudent(ctx, existing); err != nil {
		return err
	}
	if err := d.bus.Publish(ctx, notify.Event{Table: notify.TableStudents, Kind: notify.KindUpdate, RowID: studentID}); err != nil {
		log.Printf("directory update publish: %v", err)
	}
	return nil
}

// OnChange fires on any students-table event. The admin listing is its
// only consumer; it refetches the whole roster rather than patching state.
func (d *Directory) OnChange(fn func()) *notify.Subscription {
	return d.bus.Subscribe(notify.TableStudents, func(notify.Event) { fn() })
}

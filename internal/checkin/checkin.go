// Package checkin ingests RFID scans. It is the only writer to the
// attendance table in this process; the feed just observes what lands on
// the bus.
package checkin

import (
	"context"
	"errors"
	"log"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/johnpaulpatigas/benthel-attendance/internal/model"
	"github.com/johnpaulpatigas/benthel-attendance/internal/notify"
)

// ErrUnknownTag means the scanned tag resolves to no registered student.
var ErrUnknownTag = errors.New("rfid tag not registered")

type Store interface {
	GetStudentByRFID(ctx context.Context, rfidTag string) (model.Student, error)
	InsertAttendance(ctx context.Context, recordID, studentID uuid.UUID) (model.AttendanceRecord, error)
}

type Ingest struct {
	store Store
	bus   notify.Bus
}

func New(store Store, bus notify.Bus) *Ingest {
	return &Ingest{store: store, bus: bus}
}

// Record resolves the tag, appends one attendance event and publishes the
// insert. The stored created_at is authoritative; the caller's clock never
// enters the record.
func (i *Ingest) Record(ctx context.Context, rfidTag string) (*model.AttendanceRecord, error) {
	student, err := i.store.GetStudentByRFID(ctx, rfidTag)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUnknownTag
		}
		return nil, err
	}
	record, err := i.store.InsertAttendance(ctx, uuid.New(), student.ID)
	if err != nil {
		return nil, err
	}
	if err := i.bus.Publish(ctx, notify.Event{
		Table:     notify.TableAttendance,
		Kind:      notify.KindInsert,
		RowID:     record.ID,
		StudentID: &record.StudentID,
	}); err != nil {
		log.Printf("checkin publish: %v", err)
	}
	return &record, nil
}

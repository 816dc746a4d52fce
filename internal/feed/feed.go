// Package feed is the live attendance log: a read surface over the
// insert-only attendance table plus scoped change subscriptions. The feed
// never produces inserts itself; it observes what the check-in pipeline
// writes. Notification is coarse per design: an event says only that the
// watched slice changed, and the consumer re-runs its query to get the
// filtered, ordered result. That keeps the client free of incremental diff
// state at the cost of one scoped query per change.
package feed

import (
	"context"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/johnpaulpatigas/benthel-attendance/internal/model"
	"github.com/johnpaulpatigas/benthel-attendance/internal/notify"
)

var refetches = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "benthel_feed_queries_total",
	Help: "Attendance feed queries, by scope.",
}, []string{"scope"})

type Store interface {
	ListAttendance(ctx context.Context, studentID *uuid.UUID) ([]model.AttendanceRecord, error)
	ListAttendanceWithStudents(ctx context.Context) ([]model.AttendanceEntry, error)
}

// Filter scopes a query or subscription: all records, or one student's.
type Filter struct {
	StudentID *uuid.UUID
}

func All() Filter {
	return Filter{}
}

func ForStudent(studentID uuid.UUID) Filter {
	return Filter{StudentID: &studentID}
}

func (f Filter) Topic() string {
	if f.StudentID == nil {
		return notify.TableAttendance
	}
	return notify.StudentTopic(*f.StudentID)
}

func (f Filter) scope() string {
	if f.StudentID == nil {
		return "all"
	}
	return "student"
}

type Feed struct {
	store Store
	bus   notify.Bus
}

func New(store Store, bus notify.Bus) *Feed {
	return &Feed{store: store, bus: bus}
}

// Query returns the scoped slice ordered created_at descending, id
// descending on ties.
func (f *Feed) Query(ctx context.Context, filter Filter) ([]model.AttendanceRecord, error) {
	refetches.WithLabelValues(filter.scope()).Inc()
	return f.store.ListAttendance(ctx, filter.StudentID)
}

// QueryJoined is Query for the teacher view: every record with the
// student's name and class joined in.
func (f *Feed) QueryJoined(ctx context.Context) ([]model.AttendanceEntry, error) {
	refetches.WithLabelValues("joined").Inc()
	return f.store.ListAttendanceWithStudents(ctx)
}

// Subscribe opens a live channel with the same filter shape Query takes.
// onChange carries no row data; the consumer refetches. Close on the
// returned subscription is idempotent and stops further invocations.
func (f *Feed) Subscribe(filter Filter, onChange func()) *notify.Subscription {
	return f.bus.Subscribe(filter.Topic(), func(notify.Event) { onChange() })
}

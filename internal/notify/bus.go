// Package notify is the change bus under every live view: writers publish
// table-level events, projections subscribe by topic and blind-refetch
// their scoped slice on each delivery. The bus carries no row data beyond
// identity; consumers always re-query the store for current state.
package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

type Kind string

const (
	KindInsert Kind = "insert"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

const (
	TableStudents   = "students"
	TableAttendance = "attendance"
)

type Event struct {
	Table     string     `json:"table"`
	Kind      Kind       `json:"kind"`
	RowID     uuid.UUID  `json:"row_id"`
	StudentID *uuid.UUID `json:"student_id,omitempty"`
}

// Topics lists the channels an event fans out to. Attendance events land on
// the table-wide topic and on a per-student topic, so a scoped subscription
// only ever sees its own student's events (the moral equivalent of the
// store-side "student_id=eq.X" channel filter).
func (e Event) Topics() []string {
	topics := []string{e.Table}
	if e.Table == TableAttendance && e.StudentID != nil {
		topics = append(topics, StudentTopic(*e.StudentID))
	}
	return topics
}

func StudentTopic(studentID uuid.UUID) string {
	return fmt.Sprintf("%s:student:%s", TableAttendance, studentID)
}

type Status int32

const (
	StatusConnecting Status = iota
	StatusActive
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusActive:
		return "active"
	case StatusClosed:
		return "closed"
	}
	return "unknown"
}

type Bus interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(topic string, onChange func(Event)) *Subscription
}

// Subscription is a live handle on one topic. Close is idempotent: the
// second and later calls are no-ops, and no onChange fires after the first
// Close returns.
type Subscription struct {
	topic string

	mu       sync.Mutex
	status   Status
	onChange func(Event)
	closeFn  func(*Subscription)
}

func newSubscription(topic string, onChange func(Event), closeFn func(*Subscription)) *Subscription {
	return &Subscription{
		topic:    topic,
		status:   StatusConnecting,
		onChange: onChange,
		closeFn:  closeFn,
	}
}

func (s *Subscription) Topic() string {
	return s.topic
}

func (s *Subscription) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Subscription) activate() {
	s.mu.Lock()
	if s.status == StatusConnecting {
		s.status = StatusActive
	}
	s.mu.Unlock()
}

func (s *Subscription) deliver(event Event) {
	s.mu.Lock()
	fn := s.onChange
	closed := s.status == StatusClosed
	s.mu.Unlock()
	if closed || fn == nil {
		return
	}
	fn(event)
}

func (s *Subscription) Close() {
	s.mu.Lock()
	if s.status == StatusClosed {
		s.mu.Unlock()
		return
	}
	s.status = StatusClosed
	closeFn := s.closeFn
	s.closeFn = nil
	s.mu.Unlock()
	if closeFn != nil {
		closeFn(s)
	}
}

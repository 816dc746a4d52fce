package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrUnlinkedStudent marks a student/parent session that resolved no linked
// student. Views scoped by student must surface this explicitly instead of
// falling through to an empty or foreign slice.
var ErrUnlinkedStudent = errors.New("session has no linked student")

// Role is the resolved access level of a signed-in user. The zero value is
// RoleUnresolved: a session whose role could not be determined from either
// the profile record or the token metadata. Consumers must branch on every
// role explicitly and never treat RoleUnresolved as a usable default.
type Role string

const (
	RoleUnresolved Role = ""
	RoleAdmin      Role = "admin"
	RoleTeacher    Role = "teacher"
	RoleStudent    Role = "student"
	RoleParent     Role = "parent"
)

func ParseRole(s string) Role {
	switch Role(s) {
	case RoleAdmin, RoleTeacher, RoleStudent, RoleParent:
		return Role(s)
	}
	return RoleUnresolved
}

// Viewer reports whether the role is scoped to a single student's records.
func (r Role) Viewer() bool {
	return r == RoleStudent || r == RoleParent
}

type User struct {
	ID           uuid.UUID
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	MetaRole     Role
	MetaStudent  *uuid.UUID
	CreatedAt    time.Time
}

// Profile is the durable role record keyed by user id. Role assignment may
// lag profile provisioning, so the profile row can be missing for a valid
// user; the resolver then falls back to the token metadata.
type Profile struct {
	UserID    uuid.UUID
	Role      Role
	StudentID *uuid.UUID
}

type Student struct {
	ID        uuid.UUID
	FirstName string
	LastName  string
	RFIDTag   string
	ClassName string
	CreatedAt time.Time
}

// AttendanceRecord is an insert-only check-in event. Rows are never updated
// or deleted once written; created_at is assigned by the store and is the
// authoritative ordering key.
type AttendanceRecord struct {
	ID        uuid.UUID
	StudentID uuid.UUID
	CreatedAt time.Time
}

// AttendanceEntry is a check-in joined with the student's name and class at
// query time, the shape the teacher feed displays.
type AttendanceEntry struct {
	Record  AttendanceRecord
	Student Student
}

// Session is the resolved identity a projection mounts against. A session
// with a viewer role must carry exactly one LinkedStudentID; the resolver
// refuses to hand out a viewer session without one.
type Session struct {
	UserID          uuid.UUID
	Role            Role
	LinkedStudentID *uuid.UUID
	FirstName       string
	LastName        string
}

// RequireLink returns the linked student id or ErrUnlinkedStudent. It is
// the single gate student-scoped views go through before touching data.
func (s *Session) RequireLink() (uuid.UUID, error) {
	if s.LinkedStudentID == nil {
		return uuid.Nil, ErrUnlinkedStudent
	}
	return *s.LinkedStudentID, nil
}

type RefreshSession struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}

package projection

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/johnpaulpatigas/benthel-attendance/internal/directory"
	"github.com/johnpaulpatigas/benthel-attendance/internal/feed"
	"github.com/johnpaulpatigas/benthel-attendance/internal/model"
	"github.com/johnpaulpatigas/benthel-attendance/internal/notify"
)

// fakeStore backs both the directory and the feed for these tests.
type fakeStore struct {
	students map[uuid.UUID]model.Student
	records  []model.AttendanceRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{students: make(map[uuid.UUID]model.Student)}
}

func (s *fakeStore) ListStudents(context.Context) ([]model.Student, error) {
	list := make([]model.Student, 0, len(s.students))
	for _, student := range s.students {
		list = append(list, student)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].FirstName < list[j].FirstName })
	return list, nil
}

func (s *fakeStore) GetStudent(_ context.Context, studentID uuid.UUID) (model.Student, error) {
	student, ok := s.students[studentID]
	if !ok {
		return model.Student{}, pgx.ErrNoRows
	}
	return student, nil
}

func (s *fakeStore) CreateStudent(_ context.Context, student model.Student) error {
	s.students[student.ID] = student
	return nil
}

func (s *fakeStore) UpdateStudent(_ context.Context, student model.Student) error {
	s.students[student.ID] = student
	return nil
}

func (s *fakeStore) ListAttendance(_ context.Context, studentID *uuid.UUID) ([]model.AttendanceRecord, error) {
	var matched []model.AttendanceRecord
	for _, record := range s.records {
		if studentID == nil || record.StudentID == *studentID {
			matched = append(matched, record)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID.String() > matched[j].ID.String()
	})
	return matched, nil
}

func (s *fakeStore) ListAttendanceWithStudents(ctx context.Context) ([]model.AttendanceEntry, error) {
	records, _ := s.ListAttendance(ctx, nil)
	entries := make([]model.AttendanceEntry, 0, len(records))
	for _, record := range records {
		entries = append(entries, model.AttendanceEntry{Record: record, Student: s.students[record.StudentID]})
	}
	return entries, nil
}

func (s *fakeStore) checkIn(studentID uuid.UUID, at time.Time) model.AttendanceRecord {
	record := model.AttendanceRecord{ID: uuid.New(), StudentID: studentID, CreatedAt: at}
	s.records = append(s.records, record)
	return record
}

func publishCheckIn(t *testing.T, bus notify.Bus, record model.AttendanceRecord) {
	t.Helper()
	if err := bus.Publish(context.Background(), notify.Event{
		Table:     notify.TableAttendance,
		Kind:      notify.KindInsert,
		RowID:     record.ID,
		StudentID: &record.StudentID,
	}); err != nil {
		t.Fatalf("publish error: %v", err)
	}
}

func drainSignal(t *testing.T, updates <-chan struct{}) {
	t.Helper()
	select {
	case <-updates:
	default:
		t.Fatalf("expected a pending update signal")
	}
}

func TestAdminEndToEndRegistration(t *testing.T) {
	store := newFakeStore()
	bus := notify.NewMemoryBus()
	dir := directory.New(store, bus)

	admin := NewAdmin(dir)
	if err := admin.Mount(context.Background()); err != nil {
		t.Fatalf("mount error: %v", err)
	}
	defer admin.Unmount()
	drainSignal(t, admin.Updates()) // initial fetch

	if _, err := admin.Create(context.Background(), directory.Fields{FirstName: "Zoe", LastName: "Tan", RFIDTag: "CD34", ClassName: "10-B"}); err != nil {
		t.Fatalf("create error: %v", err)
	}
	if _, err := admin.Create(context.Background(), directory.Fields{FirstName: "Ana", LastName: "Lee", RFIDTag: "AB12", ClassName: "10-A"}); err != nil {
		t.Fatalf("create error: %v", err)
	}
	drainSignal(t, admin.Updates())

	snapshot := admin.Snapshot().(AdminSnapshot)
	if len(snapshot.Students) != 2 {
		t.Fatalf("expected 2 students, got %d", len(snapshot.Students))
	}
	if snapshot.Students[0].FirstName != "Ana" {
		t.Fatalf("expected Ana Lee listed before Zoe Tan, got %s", snapshot.Students[0].FirstName)
	}
}

func TestTeacherFeedShowsNewCheckInFirst(t *testing.T) {
	store := newFakeStore()
	bus := notify.NewMemoryBus()
	f := feed.New(store, bus)

	ana := model.Student{ID: uuid.New(), FirstName: "Ana", LastName: "Lee", RFIDTag: "AB12", ClassName: "10-A"}
	store.students[ana.ID] = ana
	store.checkIn(ana.ID, time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))

	teacher := NewTeacher(f)
	if err := teacher.Mount(context.Background()); err != nil {
		t.Fatalf("mount error: %v", err)
	}
	defer teacher.Unmount()
	drainSignal(t, teacher.Updates())

	record := store.checkIn(ana.ID, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	publishCheckIn(t, bus, record)
	drainSignal(t, teacher.Updates())

	snapshot := teacher.Snapshot().(TeacherSnapshot)
	if len(snapshot.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(snapshot.Entries))
	}
	top := snapshot.Entries[0]
	if top.ID != record.ID || top.FirstName != "Ana" || top.LastName != "Lee" || top.ClassName != "10-A" {
		t.Fatalf("expected new check-in on top with joined name and class, got %+v", top)
	}
	if !top.CreatedAt.Equal(record.CreatedAt) {
		t.Fatalf("expected created_at from the record")
	}
}

func TestStudentProjectionScopedToLink(t *testing.T) {
	store := newFakeStore()
	bus := notify.NewMemoryBus()
	f := feed.New(store, bus)

	s1 := uuid.New()
	s2 := uuid.New()
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	store.checkIn(s1, base)
	store.checkIn(s2, base.Add(time.Minute))
	store.checkIn(s1, base.Add(2*time.Minute))

	session := &model.Session{UserID: uuid.New(), Role: model.RoleStudent, LinkedStudentID: &s1}
	view := NewStudent(f, session)
	if err := view.Mount(context.Background()); err != nil {
		t.Fatalf("mount error: %v", err)
	}
	defer view.Unmount()
	drainSignal(t, view.Updates())

	snapshot := view.Snapshot().(StudentSnapshot)
	if len(snapshot.Records) != 2 {
		t.Fatalf("expected 2 records for linked student, got %d", len(snapshot.Records))
	}
	if snapshot.Records[0].CreatedAt.Before(snapshot.Records[1].CreatedAt) {
		t.Fatalf("expected descending time order")
	}

	// An insert for the other student must not disturb the displayed set.
	record := store.checkIn(s2, base.Add(3*time.Minute))
	publishCheckIn(t, bus, record)
	select {
	case <-view.Updates():
		t.Fatalf("expected no refetch for another student's event")
	default:
	}
}

func TestStudentProjectionUnlinkedFailsExplicitly(t *testing.T) {
	store := newFakeStore()
	f := feed.New(store, notify.NewMemoryBus())
	session := &model.Session{UserID: uuid.New(), Role: model.RoleParent}

	view := NewStudent(f, session)
	err := view.Mount(context.Background())
	if !errors.Is(err, model.ErrUnlinkedStudent) {
		t.Fatalf("expected ErrUnlinkedStudent, got %v", err)
	}
}

func TestStudentProjectionSetScopeResubscribes(t *testing.T) {
	store := newFakeStore()
	bus := notify.NewMemoryBus()
	f := feed.New(store, bus)

	s1 := uuid.New()
	s2 := uuid.New()
	session := &model.Session{UserID: uuid.New(), Role: model.RoleStudent, LinkedStudentID: &s1}

	view := NewStudent(f, session)
	if err := view.Mount(context.Background()); err != nil {
		t.Fatalf("mount error: %v", err)
	}
	defer view.Unmount()
	drainSignal(t, view.Updates())

	first := view.state.subscription()
	view.SetScope(context.Background(), s2)
	drainSignal(t, view.Updates())

	if first.Status() != notify.StatusClosed {
		t.Fatalf("expected old subscription closed after scope change")
	}
	second := view.state.subscription()
	if second == first || second.Status() != notify.StatusActive {
		t.Fatalf("expected a fresh active subscription")
	}
	if second.Topic() != notify.StudentTopic(s2) {
		t.Fatalf("expected new topic for new scope, got %s", second.Topic())
	}

	// Events for the old scope are dead; events for the new scope land.
	publishCheckIn(t, bus, store.checkIn(s1, time.Now().UTC()))
	select {
	case <-view.Updates():
		t.Fatalf("expected no update for the old scope")
	default:
	}
	publishCheckIn(t, bus, store.checkIn(s2, time.Now().UTC()))
	drainSignal(t, view.Updates())
}

func TestUnmountClosesSubscriptionOnce(t *testing.T) {
	store := newFakeStore()
	bus := notify.NewMemoryBus()
	f := feed.New(store, bus)

	teacher := NewTeacher(f)
	if err := teacher.Mount(context.Background()); err != nil {
		t.Fatalf("mount error: %v", err)
	}
	sub := teacher.state.subscription()

	teacher.Unmount()
	teacher.Unmount()

	if sub.Status() != notify.StatusClosed {
		t.Fatalf("expected closed subscription after unmount")
	}
	// A late event must not panic or signal.
	publishCheckIn(t, bus, store.checkIn(uuid.New(), time.Now().UTC()))
}

func TestAttachAfterCloseDropsTheNewSubscription(t *testing.T) {
	bus := notify.NewMemoryBus()
	state := newViewState()
	state.close()

	var sub *notify.Subscription
	state.attach(context.Background(), func() *notify.Subscription {
		sub = bus.Subscribe(notify.TableAttendance, func(notify.Event) {})
		return sub
	})

	if state.subscription() != nil {
		t.Fatalf("closed state stored a subscription")
	}
	if sub.Status() != notify.StatusClosed {
		t.Fatalf("expected the new subscription closed, got %v", sub.Status())
	}
}

func TestSetScopeAfterUnmountLeavesNoSubscription(t *testing.T) {
	store := newFakeStore()
	bus := notify.NewMemoryBus()
	f := feed.New(store, bus)

	s1 := uuid.New()
	session := &model.Session{UserID: uuid.New(), Role: model.RoleStudent, LinkedStudentID: &s1}
	view := NewStudent(f, session)
	if err := view.Mount(context.Background()); err != nil {
		t.Fatalf("mount error: %v", err)
	}
	view.Unmount()

	view.SetScope(context.Background(), uuid.New())
	if view.state.subscription() != nil {
		t.Fatalf("unmounted view holds a live subscription")
	}
}

func TestSelectIsExhaustiveOverRoles(t *testing.T) {
	store := newFakeStore()
	bus := notify.NewMemoryBus()
	dir := directory.New(store, bus)
	f := feed.New(store, bus)
	studentID := uuid.New()

	cases := []struct {
		role model.Role
		want any
	}{
		{model.RoleAdmin, &Admin{}},
		{model.RoleTeacher, &Teacher{}},
		{model.RoleStudent, &Student{}},
		{model.RoleParent, &Student{}},
	}
	for _, tc := range cases {
		session := &model.Session{UserID: uuid.New(), Role: tc.role, LinkedStudentID: &studentID}
		view, err := Select(session, dir, f)
		if err != nil {
			t.Fatalf("select %s: %v", tc.role, err)
		}
		switch tc.want.(type) {
		case *Admin:
			if _, ok := view.(*Admin); !ok {
				t.Fatalf("expected admin view for %s", tc.role)
			}
		case *Teacher:
			if _, ok := view.(*Teacher); !ok {
				t.Fatalf("expected teacher view for %s", tc.role)
			}
		case *Student:
			if _, ok := view.(*Student); !ok {
				t.Fatalf("expected student view for %s", tc.role)
			}
		}
	}

	if _, err := Select(&model.Session{Role: model.RoleUnresolved}, dir, f); !errors.Is(err, ErrRoleUnresolved) {
		t.Fatalf("expected ErrRoleUnresolved, got %v", err)
	}
}

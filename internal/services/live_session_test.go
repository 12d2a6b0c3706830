package services

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"liveclass-backend/internal/models"
	"liveclass-backend/internal/repository"
)

// memCourses is a versioned in-memory CourseStore.
type memCourses struct {
	mu      sync.Mutex
	courses map[uuid.UUID]*models.Course
	saves   int

	// beforeSave runs ahead of the version check; a non-nil error fails the save.
	beforeSave func(ctx context.Context, c *models.Course) error
}

func newMemCourses() *memCourses {
	return &memCourses{courses: make(map[uuid.UUID]*models.Course)}
}

func cloneCourse(c *models.Course) *models.Course {
	out := *c
	out.LiveSessions = append([]models.LiveSession(nil), c.LiveSessions...)
	return &out
}

func (m *memCourses) Create(_ context.Context, c *models.Course) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.Version = 0
	m.courses[c.ID] = cloneCourse(c)
	return nil
}

func (m *memCourses) Load(_ context.Context, id uuid.UUID) (*models.Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.courses[id]
	if !ok {
		return nil, repository.ErrCourseNotFound
	}
	return cloneCourse(c), nil
}

func (m *memCourses) Save(ctx context.Context, c *models.Course) error {
	m.mu.Lock()
	hook := m.beforeSave
	m.saves++
	m.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, c); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.courses[c.ID]
	if !ok {
		return repository.ErrCourseNotFound
	}
	if stored.Version != c.Version {
		return repository.ErrVersionConflict
	}
	c.Version++
	m.courses[c.ID] = cloneCourse(c)
	return nil
}

func (m *memCourses) Find(_ context.Context, f models.SessionFilter) ([]*models.Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Course
	for _, c := range m.courses {
		if f.CourseID != nil && c.ID != *f.CourseID {
			continue
		}
		if f.OwnerID != nil && c.InstructorID != *f.OwnerID {
			continue
		}
		out = append(out, cloneCourse(c))
	}
	return out, nil
}

func (m *memCourses) get(id uuid.UUID) *models.Course {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneCourse(m.courses[id])
}

func (m *memCourses) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// write simulates another writer committing a change to the stored course.
func (m *memCourses) write(id uuid.UUID, fn func(c *models.Course)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.courses[id]
	fn(c)
	c.Version++
}

type memCleanupQueue struct {
	mu   sync.Mutex
	jobs []models.CleanupJob
}

func (q *memCleanupQueue) Enqueue(_ context.Context, job models.CleanupJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

type notifyCall struct {
	groupID  uuid.UUID
	meeting  string
	courseID *uuid.UUID
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
	err   error
}

func (n *recordingNotifier) NotifyGroupMeeting(_ context.Context, groupID uuid.UUID, m *models.RemoteMeeting, courseID *uuid.UUID) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notifyCall{groupID: groupID, meeting: m.ProviderID, courseID: courseID})
	return n.err
}

type sessionFixture struct {
	zoom       *fakeZoom
	store      *memCourses
	queue      *memCleanupQueue
	notifier   *recordingNotifier
	svc        *LiveSessionService
	course     *models.Course
	instructor uuid.UUID
}

var fixedNow = time.Date(2025, 2, 20, 8, 0, 0, 0, time.UTC)

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	f := &sessionFixture{
		zoom:       newFakeZoom(t),
		store:      newMemCourses(),
		queue:      &memCleanupQueue{},
		notifier:   &recordingNotifier{},
		instructor: uuid.New(),
	}
	f.course = &models.Course{Title: "Algebra", InstructorID: f.instructor, LiveSessions: []models.LiveSession{}}
	if err := f.store.Create(context.Background(), f.course); err != nil {
		t.Fatalf("seed course: %v", err)
	}
	f.svc = NewLiveSessionService(f.store, f.zoom.client(nil),
		WithNotifier(f.notifier),
		WithCleanupQueue(f.queue),
		WithSessionClock(func() time.Time { return fixedNow }),
	)
	return f
}

func (f *sessionFixture) createReq(topic string) models.CreateSessionRequest {
	return models.CreateSessionRequest{
		Topic:           topic,
		StartTime:       testStart,
		DurationMinutes: 60,
		RequesterID:     f.instructor,
	}
}

func (f *sessionFixture) mustCreate(t *testing.T, topic string) *models.CreateSessionResult {
	t.Helper()
	res, err := f.svc.CreateSession(context.Background(), f.course.ID, f.createReq(topic))
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return res
}

// ─── Create ───

func TestCreateSession_EmbedsMeeting(t *testing.T) {
	f := newSessionFixture(t)

	res := f.mustCreate(t, "Intro")

	s := res.Session
	if !s.EndTime.Equal(time.Date(2025, 3, 1, 11, 0, 0, 0, time.UTC)) {
		t.Errorf("Expected end 2025-03-01T11:00Z, got %s", s.EndTime)
	}
	if s.MeetingLink != res.Meeting.JoinURL || s.ProviderMeetingID != res.Meeting.ProviderID {
		t.Errorf("Session not linked to meeting: %+v vs %+v", s, res.Meeting)
	}
	if s.State != models.SessionPersisted || s.Materials == nil || s.RecordingURL != nil {
		t.Errorf("Unexpected initial session fields: %+v", s)
	}
	if !s.CreatedAt.Equal(fixedNow) {
		t.Errorf("Expected CreatedAt from clock, got %s", s.CreatedAt)
	}

	stored := f.store.get(f.course.ID)
	if len(stored.LiveSessions) != 1 || stored.LiveSessions[0].ID != s.ID {
		t.Fatalf("Expected session to be stored, got %+v", stored.LiveSessions)
	}
	if stored.Version != 1 {
		t.Errorf("Expected version 1, got %d", stored.Version)
	}
	if got := f.zoom.postBody()["agenda"]; got != "Live session for course: Algebra" {
		t.Errorf("Expected default agenda, got %v", got)
	}
}

func TestCreateSession_ProviderFailureLeavesCourseUntouched(t *testing.T) {
	f := newSessionFixture(t)
	f.zoom.failNext(http.MethodPost, "user-meetings", http.StatusInternalServerError)

	_, err := f.svc.CreateSession(context.Background(), f.course.ID, f.createReq("Intro"))

	var apiErr *ProviderAPIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected ProviderAPIError, got %v", err)
	}
	if f.store.saveCount() != 0 {
		t.Errorf("Save must not be called when the provider fails, got %d saves", f.store.saveCount())
	}
	if n := len(f.store.get(f.course.ID).LiveSessions); n != 0 {
		t.Errorf("Expected no sessions, got %d", n)
	}
}

func TestCreateSession_CompensatesFailedPersist(t *testing.T) {
	f := newSessionFixture(t)
	saveErr := errors.New("disk full")
	f.store.beforeSave = func(context.Context, *models.Course) error { return saveErr }

	_, err := f.svc.CreateSession(context.Background(), f.course.ID, f.createReq("Intro"))

	if !errors.Is(err, saveErr) {
		t.Fatalf("Expected the persist error, got %v", err)
	}
	var pf *PartialFailureError
	if errors.As(err, &pf) {
		t.Fatalf("Successful compensation must not be a partial failure: %v", err)
	}
	if f.zoom.has("85746065432") {
		t.Error("Expected the remote meeting to be deleted")
	}
	if len(f.queue.jobs) != 0 {
		t.Errorf("Expected no cleanup job, got %d", len(f.queue.jobs))
	}
}

func TestCreateSession_CompensationRunsAfterCallerCancels(t *testing.T) {
	f := newSessionFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.store.beforeSave = func(context.Context, *models.Course) error {
		cancel()
		return errors.New("connection reset")
	}

	f.svc.CreateSession(ctx, f.course.ID, f.createReq("Intro"))

	if f.zoom.has("85746065432") {
		t.Error("Expected the remote meeting to be deleted even after cancellation")
	}
}

func TestCreateSession_FailedCompensationIsPartialFailure(t *testing.T) {
	f := newSessionFixture(t)
	f.store.beforeSave = func(context.Context, *models.Course) error { return errors.New("disk full") }
	f.zoom.failNext(http.MethodDelete, "meeting", http.StatusBadRequest)

	_, err := f.svc.CreateSession(context.Background(), f.course.ID, f.createReq("Intro"))

	var pf *PartialFailureError
	if !errors.As(err, &pf) {
		t.Fatalf("Expected *PartialFailureError, got %v", err)
	}
	if pf.Op != "create" || pf.MeetingID != "85746065432" || pf.CompensationErr == nil {
		t.Errorf("Unexpected partial failure: %+v", pf)
	}
	if len(f.queue.jobs) != 1 || f.queue.jobs[0].MeetingID != "85746065432" || f.queue.jobs[0].CourseID != f.course.ID {
		t.Fatalf("Expected one cleanup job for the orphan, got %+v", f.queue.jobs)
	}
	if !f.zoom.has("85746065432") {
		t.Error("Remote meeting should still exist until the cleanup job runs")
	}
}

func TestCreateSession_CompensationTreatsMissingMeetingAsDeleted(t *testing.T) {
	f := newSessionFixture(t)
	f.store.beforeSave = func(context.Context, *models.Course) error { return errors.New("disk full") }
	f.zoom.failNext(http.MethodDelete, "meeting", http.StatusNotFound)

	_, err := f.svc.CreateSession(context.Background(), f.course.ID, f.createReq("Intro"))

	var pf *PartialFailureError
	if err == nil || errors.As(err, &pf) {
		t.Fatalf("Expected a plain persist error, got %v", err)
	}
	if len(f.queue.jobs) != 0 {
		t.Errorf("Expected no cleanup job, got %d", len(f.queue.jobs))
	}
}

func TestCreateSession_RetriesVersionConflict(t *testing.T) {
	f := newSessionFixture(t)
	other := models.LiveSession{ID: uuid.New(), Topic: "Other writer", State: models.SessionPersisted}

	first := true
	f.store.beforeSave = func(context.Context, *models.Course) error {
		if first {
			first = false
			f.store.write(f.course.ID, func(c *models.Course) {
				c.LiveSessions = append(c.LiveSessions, other)
			})
		}
		return nil
	}

	res := f.mustCreate(t, "Intro")

	stored := f.store.get(f.course.ID)
	if len(stored.LiveSessions) != 2 {
		t.Fatalf("Expected both writers' sessions, got %+v", stored.LiveSessions)
	}
	if stored.SessionIndex(other.ID) < 0 || stored.SessionIndex(res.Session.ID) < 0 {
		t.Errorf("A session was lost: %+v", stored.LiveSessions)
	}
	if f.store.saveCount() != 2 {
		t.Errorf("Expected 2 save attempts, got %d", f.store.saveCount())
	}
}

func TestCreateSession_GivesUpOnPersistentConflict(t *testing.T) {
	f := newSessionFixture(t)
	f.store.beforeSave = func(context.Context, *models.Course) error {
		f.store.write(f.course.ID, func(*models.Course) {})
		return nil
	}

	_, err := f.svc.CreateSession(context.Background(), f.course.ID, f.createReq("Intro"))

	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("Expected *ConflictError, got %v", err)
	}
	if f.zoom.has("85746065432") {
		t.Error("Expected the meeting to be rolled back")
	}
}

func TestCreateSession_ConcurrentCreatesAllPersist(t *testing.T) {
	f := newSessionFixture(t)

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CreateSession(context.Background(), f.course.ID, f.createReq("Intro"))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
	}
	stored := f.store.get(f.course.ID)
	if len(stored.LiveSessions) != n || stored.Version != n {
		t.Fatalf("Expected %d sessions at version %d, got %d at %d", n, n, len(stored.LiveSessions), stored.Version)
	}
}

func TestCreateSession_Rejections(t *testing.T) {
	f := newSessionFixture(t)

	t.Run("validation", func(t *testing.T) {
		_, err := f.svc.CreateSession(context.Background(), f.course.ID, models.CreateSessionRequest{RequesterID: f.instructor})
		var vErr *ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("Expected *ValidationError, got %v", err)
		}
		for _, field := range []string{"topic", "start_time", "duration"} {
			if vErr.Fields[field] == "" {
				t.Errorf("Expected field error for %s", field)
			}
		}
	})

	t.Run("not the instructor", func(t *testing.T) {
		req := f.createReq("Intro")
		req.RequesterID = uuid.New()
		_, err := f.svc.CreateSession(context.Background(), f.course.ID, req)
		var forbidden *ForbiddenError
		if !errors.As(err, &forbidden) {
			t.Fatalf("Expected *ForbiddenError, got %v", err)
		}
	})

	t.Run("unknown course", func(t *testing.T) {
		_, err := f.svc.CreateSession(context.Background(), uuid.New(), f.createReq("Intro"))
		var nf *NotFoundError
		if !errors.As(err, &nf) {
			t.Fatalf("Expected *NotFoundError, got %v", err)
		}
	})

	if got := f.zoom.callCount(http.MethodPost, "user-meetings"); got != 0 {
		t.Errorf("Rejected creates must not reach the provider, got %d calls", got)
	}
}

func TestCreateSession_NotifiesGroupAndIgnoresFailure(t *testing.T) {
	f := newSessionFixture(t)
	groupID := uuid.New()
	f.notifier.err = errors.New("redis down")

	req := f.createReq("Intro")
	req.GroupID = &groupID
	res, err := f.svc.CreateSession(context.Background(), f.course.ID, req)
	if err != nil {
		t.Fatalf("A notification failure must not fail the create: %v", err)
	}

	if len(f.notifier.calls) != 1 {
		t.Fatalf("Expected one notification, got %d", len(f.notifier.calls))
	}
	call := f.notifier.calls[0]
	if call.groupID != groupID || call.meeting != res.Meeting.ProviderID || call.courseID == nil || *call.courseID != f.course.ID {
		t.Errorf("Unexpected notification: %+v", call)
	}
}

// ─── Update ───

func TestUpdateSession_OnlyTopic(t *testing.T) {
	f := newSessionFixture(t)
	created := f.mustCreate(t, "Intro")

	topic := "Renamed"
	updated, err := f.svc.UpdateSession(context.Background(), f.course.ID, created.Session.ID, models.UpdateSessionRequest{
		Topic:       &topic,
		RequesterID: f.instructor,
	})
	if err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}

	if body := f.zoom.patchBody(); len(body) != 1 || body["topic"] != "Renamed" {
		t.Errorf("Expected PATCH with only topic, got %v", body)
	}
	if updated.Topic != "Renamed" || !updated.StartTime.Equal(testStart) || updated.DurationMinutes != 60 {
		t.Errorf("Unexpected merge: %+v", updated)
	}
	if !updated.EndTime.Equal(created.Session.EndTime) || updated.State != models.SessionUpdated {
		t.Errorf("Expected end unchanged and state updated, got %s / %s", updated.EndTime, updated.State)
	}

	stored := f.store.get(f.course.ID).LiveSessions[0]
	if stored.Topic != "Renamed" || stored.MeetingLink != created.Session.MeetingLink {
		t.Errorf("Stored session not merged: %+v", stored)
	}
}

func TestUpdateSession_LegacyRecordKeepsDuration(t *testing.T) {
	f := newSessionFixture(t)
	meeting, err := f.zoom.client(nil).CreateMeeting(context.Background(), models.CreateMeetingRequest{Topic: "Old", StartTime: testStart, DurationMinutes: 90})
	if err != nil {
		t.Fatalf("seed meeting: %v", err)
	}
	legacy := models.LiveSession{
		ID:          uuid.New(),
		StartTime:   testStart,
		EndTime:     testStart.Add(90 * time.Minute),
		Topic:       "Old",
		MeetingLink: "https://us05web.zoom.us/j/" + meeting.ProviderID + "?pwd=abc",
		State:       models.SessionPersisted,
	}
	f.store.write(f.course.ID, func(c *models.Course) { c.LiveSessions = append(c.LiveSessions, legacy) })

	newStart := testStart.Add(24 * time.Hour)
	updated, err := f.svc.UpdateSession(context.Background(), f.course.ID, legacy.ID, models.UpdateSessionRequest{
		StartTime:   &newStart,
		RequesterID: f.instructor,
	})
	if err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}
	if updated.DurationMinutes != 90 || !updated.EndTime.Equal(newStart.Add(90*time.Minute)) {
		t.Errorf("Expected 90 minute duration to carry over, got %d ending %s", updated.DurationMinutes, updated.EndTime)
	}
	if got := f.zoom.meeting(meeting.ProviderID).StartTime; got != "2025-03-02T10:00:00Z" {
		t.Errorf("Expected remote start to move, got %s", got)
	}
}

func TestLegacySessionWithoutState(t *testing.T) {
	f := newSessionFixture(t)
	meeting, err := f.zoom.client(nil).CreateMeeting(context.Background(), models.CreateMeetingRequest{Topic: "Old", StartTime: testStart, DurationMinutes: 60})
	if err != nil {
		t.Fatalf("seed meeting: %v", err)
	}
	// Written before state and provider_meeting_id were stored.
	legacy := models.LiveSession{
		ID:          uuid.New(),
		StartTime:   testStart,
		EndTime:     testStart.Add(time.Hour),
		Topic:       "Old",
		MeetingLink: "https://us05web.zoom.us/j/" + meeting.ProviderID + "?pwd=abc",
	}
	f.store.write(f.course.ID, func(c *models.Course) { c.LiveSessions = append(c.LiveSessions, legacy) })

	listed, err := f.svc.ListSessions(context.Background(), models.SessionFilter{CourseID: &f.course.ID})
	if err != nil || len(listed) != 1 || listed[0].State != models.SessionPersisted {
		t.Fatalf("Expected the legacy session listed as persisted, got %+v (%v)", listed, err)
	}

	topic := "Renamed"
	updated, err := f.svc.UpdateSession(context.Background(), f.course.ID, legacy.ID, models.UpdateSessionRequest{Topic: &topic, RequesterID: f.instructor})
	if err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}
	if updated.State != models.SessionUpdated || f.zoom.meeting(meeting.ProviderID).Topic != "Renamed" {
		t.Errorf("Expected update to reach the meeting found through the join link, got %+v", updated)
	}

	if _, err := f.svc.RecordSession(context.Background(), f.course.ID, legacy.ID, "https://cdn.example.com/rec/old.mp4", f.instructor); err != nil {
		t.Fatalf("RecordSession: %v", err)
	}

	if err := f.svc.DeleteSession(context.Background(), f.course.ID, legacy.ID, f.instructor); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if f.zoom.has(meeting.ProviderID) || len(f.store.get(f.course.ID).LiveSessions) != 0 {
		t.Error("Expected both the remote meeting and the record to be gone")
	}
}

func TestUpdateSession_EmptyIsNoop(t *testing.T) {
	f := newSessionFixture(t)
	created := f.mustCreate(t, "Intro")

	got, err := f.svc.UpdateSession(context.Background(), f.course.ID, created.Session.ID, models.UpdateSessionRequest{RequesterID: f.instructor})
	if err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}
	if got.Topic != "Intro" || got.State != models.SessionPersisted {
		t.Errorf("Expected current session back, got %+v", got)
	}
	if n := f.zoom.callCount(http.MethodPatch, "meeting"); n != 0 {
		t.Errorf("Expected no provider call, got %d", n)
	}
}

func TestUpdateSession_PersistFailureIsPartial(t *testing.T) {
	f := newSessionFixture(t)
	created := f.mustCreate(t, "Intro")
	f.store.beforeSave = func(context.Context, *models.Course) error { return errors.New("connection refused") }

	topic := "Renamed"
	_, err := f.svc.UpdateSession(context.Background(), f.course.ID, created.Session.ID, models.UpdateSessionRequest{Topic: &topic, RequesterID: f.instructor})

	var pf *PartialFailureError
	if !errors.As(err, &pf) || pf.Op != "update" || pf.SessionID != created.Session.ID.String() {
		t.Fatalf("Expected update partial failure, got %v", err)
	}
	if f.zoom.meeting(created.Meeting.ProviderID).Topic != "Renamed" {
		t.Error("Remote change should have been applied")
	}
}

func TestUpdateSession_RejectsInactiveSession(t *testing.T) {
	f := newSessionFixture(t)
	gone := models.LiveSession{ID: uuid.New(), Topic: "x", ProviderMeetingID: "1", State: models.SessionRemoteDeleted}
	f.store.write(f.course.ID, func(c *models.Course) { c.LiveSessions = append(c.LiveSessions, gone) })

	topic := "Renamed"
	_, err := f.svc.UpdateSession(context.Background(), f.course.ID, gone.ID, models.UpdateSessionRequest{Topic: &topic})

	var stateErr *InvalidStateError
	if !errors.As(err, &stateErr) || stateErr.Op != "update" {
		t.Fatalf("Expected *InvalidStateError, got %v", err)
	}
	if n := f.zoom.callCount(http.MethodPatch, "meeting"); n != 0 {
		t.Errorf("Expected no provider call, got %d", n)
	}
}

func TestUpdateSession_UnknownSession(t *testing.T) {
	f := newSessionFixture(t)
	topic := "Renamed"
	_, err := f.svc.UpdateSession(context.Background(), f.course.ID, uuid.New(), models.UpdateSessionRequest{Topic: &topic})

	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.Message != "Live session not found" {
		t.Fatalf("Expected live session not found, got %v", err)
	}
}

// ─── Delete ───

func TestDeleteSession_RemovesBothSides(t *testing.T) {
	f := newSessionFixture(t)
	created := f.mustCreate(t, "Intro")
	keep := f.mustCreate(t, "Second")

	if err := f.svc.DeleteSession(context.Background(), f.course.ID, created.Session.ID, f.instructor); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}

	if _, err := f.zoom.client(nil).GetMeeting(context.Background(), created.Meeting.ProviderID); !IsProviderNotFound(err) {
		t.Errorf("Expected remote meeting to be gone, got %v", err)
	}
	sessions, err := f.svc.ListSessions(context.Background(), models.SessionFilter{CourseID: &f.course.ID})
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != keep.Session.ID {
		t.Errorf("Expected only the second session to remain, got %+v", sessions)
	}
}

func TestDeleteSession_MissingRemoteMeetingStillDeletes(t *testing.T) {
	f := newSessionFixture(t)
	created := f.mustCreate(t, "Intro")
	f.zoom.failNext(http.MethodDelete, "meeting", http.StatusNotFound)

	if err := f.svc.DeleteSession(context.Background(), f.course.ID, created.Session.ID, f.instructor); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if n := len(f.store.get(f.course.ID).LiveSessions); n != 0 {
		t.Errorf("Expected local session removed, got %d", n)
	}
}

func TestDeleteSession_ProviderFailureKeepsRecord(t *testing.T) {
	f := newSessionFixture(t)
	created := f.mustCreate(t, "Intro")
	f.zoom.failNext(http.MethodDelete, "meeting", http.StatusForbidden)

	err := f.svc.DeleteSession(context.Background(), f.course.ID, created.Session.ID, f.instructor)

	if err == nil {
		t.Fatal("Expected provider error")
	}
	if n := len(f.store.get(f.course.ID).LiveSessions); n != 1 {
		t.Errorf("Expected session kept, got %d", n)
	}
}

func TestDeleteSession_PersistFailureIsPartial(t *testing.T) {
	f := newSessionFixture(t)
	created := f.mustCreate(t, "Intro")
	f.store.beforeSave = func(context.Context, *models.Course) error { return errors.New("connection refused") }

	err := f.svc.DeleteSession(context.Background(), f.course.ID, created.Session.ID, f.instructor)

	var pf *PartialFailureError
	if !errors.As(err, &pf) || pf.Op != "delete" {
		t.Fatalf("Expected delete partial failure, got %v", err)
	}
	if f.zoom.has(created.Meeting.ProviderID) {
		t.Error("Remote meeting should be deleted")
	}
}

func TestDeleteSession_Forbidden(t *testing.T) {
	f := newSessionFixture(t)
	created := f.mustCreate(t, "Intro")

	err := f.svc.DeleteSession(context.Background(), f.course.ID, created.Session.ID, uuid.New())

	var forbidden *ForbiddenError
	if !errors.As(err, &forbidden) {
		t.Fatalf("Expected *ForbiddenError, got %v", err)
	}
	if !f.zoom.has(created.Meeting.ProviderID) {
		t.Error("Remote meeting must survive a forbidden delete")
	}
}

// ─── Record ───

func TestRecordSession(t *testing.T) {
	f := newSessionFixture(t)
	created := f.mustCreate(t, "Intro")

	got, err := f.svc.RecordSession(context.Background(), f.course.ID, created.Session.ID, "https://cdn.example.com/rec/1.mp4", f.instructor)
	if err != nil {
		t.Fatalf("RecordSession: %v", err)
	}
	if got.RecordingURL == nil || *got.RecordingURL != "https://cdn.example.com/rec/1.mp4" {
		t.Errorf("Expected recording url, got %v", got.RecordingURL)
	}
	if stored := f.store.get(f.course.ID).LiveSessions[0]; stored.RecordingURL == nil {
		t.Error("Recording url not persisted")
	}
	if n := f.zoom.callCount(http.MethodPatch, "meeting"); n != 0 {
		t.Errorf("Recording is local only, got %d provider updates", n)
	}
}

func TestRecordSession_Rejections(t *testing.T) {
	f := newSessionFixture(t)
	gone := models.LiveSession{ID: uuid.New(), Topic: "x", State: models.SessionRemoteDeleted}
	f.store.write(f.course.ID, func(c *models.Course) { c.LiveSessions = append(c.LiveSessions, gone) })

	for _, bad := range []string{"", "not a url", "ftp://files.example.com/rec", "/relative/path"} {
		_, err := f.svc.RecordSession(context.Background(), f.course.ID, gone.ID, bad, f.instructor)
		var vErr *ValidationError
		if !errors.As(err, &vErr) || vErr.Fields["recording_url"] == "" {
			t.Errorf("RecordSession(%q): expected recording_url validation error, got %v", bad, err)
		}
	}

	_, err := f.svc.RecordSession(context.Background(), f.course.ID, gone.ID, "https://cdn.example.com/rec/1.mp4", f.instructor)
	var stateErr *InvalidStateError
	if !errors.As(err, &stateErr) || stateErr.Op != "record" {
		t.Fatalf("Expected *InvalidStateError, got %v", err)
	}
}

// ─── List ───

func TestListSessions_Filters(t *testing.T) {
	f := newSessionFixture(t)
	f.mustCreate(t, "Intro")
	later := f.createReq("Review")
	later.StartTime = testStart.Add(48 * time.Hour)
	if _, err := f.svc.CreateSession(context.Background(), f.course.ID, later); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	from := testStart.Add(time.Hour)
	tests := []struct {
		name   string
		filter models.SessionFilter
		want   int
	}{
		{"all for course", models.SessionFilter{CourseID: &f.course.ID}, 2},
		{"by owner", models.SessionFilter{OwnerID: &f.instructor}, 2},
		{"topic is case-insensitive", models.SessionFilter{Topic: "intro"}, 1},
		{"start window", models.SessionFilter{StartFrom: &from}, 1},
		{"other owner", models.SessionFilter{OwnerID: ptrUUID(uuid.New())}, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := f.svc.ListSessions(context.Background(), tc.filter)
			if err != nil {
				t.Fatalf("ListSessions: %v", err)
			}
			if got == nil || len(got) != tc.want {
				t.Errorf("Expected %d sessions, got %v", tc.want, got)
			}
		})
	}
}

func ptrUUID(id uuid.UUID) *uuid.UUID { return &id }

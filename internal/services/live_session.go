package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"liveclass-backend/internal/metrics"
	"liveclass-backend/internal/models"
	"liveclass-backend/internal/repository"
)

const (
	defaultSaveAttempts        = 3
	defaultCompensationTimeout = 15 * time.Second
)

// CourseStore is the load/save contract over the course aggregate.
// Save must fail with repository.ErrVersionConflict when the stored version
// no longer matches the one that was loaded.
type CourseStore interface {
	Create(ctx context.Context, c *models.Course) error
	Load(ctx context.Context, id uuid.UUID) (*models.Course, error)
	Save(ctx context.Context, c *models.Course) error
	Find(ctx context.Context, filter models.SessionFilter) ([]*models.Course, error)
}

// GroupNotifier fans a scheduled meeting out to a group's students.
type GroupNotifier interface {
	NotifyGroupMeeting(ctx context.Context, groupID uuid.UUID, meeting *models.RemoteMeeting, courseID *uuid.UUID) error
}

type LiveSessionService struct {
	courses  CourseStore
	provider MeetingProvider
	notifier GroupNotifier
	locker   CourseLocker
	cleanup  CleanupQueue

	owner               string
	saveAttempts        int
	compensationTimeout time.Duration
	now                 func() time.Time
}

type LiveSessionOption func(*LiveSessionService)

func WithNotifier(n GroupNotifier) LiveSessionOption {
	return func(s *LiveSessionService) { s.notifier = n }
}

func WithLocker(l CourseLocker) LiveSessionOption {
	return func(s *LiveSessionService) { s.locker = l }
}

func WithCleanupQueue(q CleanupQueue) LiveSessionOption {
	return func(s *LiveSessionService) { s.cleanup = q }
}

// WithMeetingOwner sets the provider user that hosts created meetings.
func WithMeetingOwner(owner string) LiveSessionOption {
	return func(s *LiveSessionService) { s.owner = owner }
}

func WithSessionClock(now func() time.Time) LiveSessionOption {
	return func(s *LiveSessionService) { s.now = now }
}

func NewLiveSessionService(courses CourseStore, provider MeetingProvider, opts ...LiveSessionOption) *LiveSessionService {
	s := &LiveSessionService{
		courses:             courses,
		provider:            provider,
		saveAttempts:        defaultSaveAttempts,
		compensationTimeout: defaultCompensationTimeout,
		now:                 func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.locker == nil {
		s.locker = NewLocalLocker()
	}
	return s
}

// CreateSession schedules a remote meeting and embeds it in the course.
// The remote meeting is created first; if persisting the course then fails
// the meeting is deleted again, and if that also fails a cleanup job is
// queued and a *PartialFailureError is returned.
func (s *LiveSessionService) CreateSession(ctx context.Context, courseID uuid.UUID, req models.CreateSessionRequest) (*models.CreateSessionResult, error) {
	if err := validateCreateSession(req); err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, courseID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	course, err := s.load(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if err := checkOwner(course, req.RequesterID); err != nil {
		return nil, err
	}

	agenda := req.Agenda
	if agenda == "" {
		agenda = "Live session for course: " + course.Title
	}

	state := models.SessionRequested
	meeting, err := s.provider.CreateMeeting(ctx, models.CreateMeetingRequest{
		OwnerID:         s.owner,
		Topic:           req.Topic,
		StartTime:       req.StartTime,
		DurationMinutes: req.DurationMinutes,
		Agenda:          agenda,
	})
	if err != nil {
		return nil, fmt.Errorf("live session create (course %s): %w", courseID, err)
	}
	state = nextState(state, models.SessionRemoteCreated)

	now := s.now()
	start := req.StartTime.UTC()
	session := models.LiveSession{
		ID:                uuid.New(),
		SessionDate:       start,
		StartTime:         start,
		EndTime:           start.Add(time.Duration(req.DurationMinutes) * time.Minute),
		DurationMinutes:   req.DurationMinutes,
		Topic:             req.Topic,
		MeetingLink:       meeting.JoinURL,
		ProviderMeetingID: meeting.ProviderID,
		Materials:         []models.Material{},
		State:             nextState(state, models.SessionPersisted),
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	saved, err := s.mutateAndSave(ctx, course, func(c *models.Course) error {
		c.LiveSessions = append(c.LiveSessions, session)
		return nil
	})
	if err != nil {
		return nil, s.compensateCreate(ctx, courseID, meeting.ProviderID, err)
	}

	groupID := req.GroupID
	if groupID == nil {
		groupID = saved.GroupID
	}
	if groupID != nil && s.notifier != nil {
		if err := s.notifier.NotifyGroupMeeting(ctx, *groupID, meeting, &courseID); err != nil {
			log.Printf("live session create (course %s, group %s): notification failed: %v", courseID, *groupID, err)
		}
	}

	return &models.CreateSessionResult{Course: saved, Meeting: meeting, Session: &session}, nil
}

func (s *LiveSessionService) compensateCreate(ctx context.Context, courseID uuid.UUID, meetingID string, cause error) error {
	// The caller may already be gone; the delete still has to run.
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.compensationTimeout)
	defer cancel()

	derr := s.provider.DeleteMeeting(cctx, meetingID)
	if derr == nil || IsProviderNotFound(derr) {
		log.Printf("live session create (course %s): persist failed, meeting %s rolled back: %v", courseID, meetingID, cause)
		return fmt.Errorf("live session create (course %s): %w", courseID, cause)
	}

	metrics.PartialFailures.WithLabelValues("create").Inc()
	log.Printf("✗ live session create (course %s): meeting %s orphaned: persist: %v; compensation: %v", courseID, meetingID, cause, derr)

	if s.cleanup != nil {
		job := models.CleanupJob{
			ID:         uuid.New(),
			MeetingID:  meetingID,
			CourseID:   courseID,
			Reason:     cause.Error(),
			EnqueuedAt: s.now(),
		}
		if err := s.cleanup.Enqueue(cctx, job); err != nil {
			log.Printf("✗ live session create (course %s): could not queue cleanup of meeting %s: %v", courseID, meetingID, err)
		}
	}

	return &PartialFailureError{
		Op:              "create",
		CourseID:        courseID.String(),
		MeetingID:       meetingID,
		Cause:           cause,
		CompensationErr: derr,
	}
}

// UpdateSession pushes the present fields to the provider and then merges
// them into the stored session. Absent fields keep their current values.
func (s *LiveSessionService) UpdateSession(ctx context.Context, courseID, sessionID uuid.UUID, req models.UpdateSessionRequest) (*models.LiveSession, error) {
	if err := validateUpdateSession(req); err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, courseID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	course, err := s.load(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if err := checkOwner(course, req.RequesterID); err != nil {
		return nil, err
	}
	current, err := findSession(course, sessionID)
	if err != nil {
		return nil, err
	}
	if !current.State.CanTransition(models.SessionUpdated) {
		return nil, &InvalidStateError{SessionID: sessionID.String(), State: string(current.State), Op: "update"}
	}
	if req.Empty() {
		out := *current
		return &out, nil
	}

	meetingID := current.MeetingID()
	err = s.provider.UpdateMeeting(ctx, meetingID, models.MeetingUpdate{
		Topic:           req.Topic,
		StartTime:       req.StartTime,
		DurationMinutes: req.DurationMinutes,
	})
	if err != nil {
		return nil, fmt.Errorf("live session update (course %s, session %s): %w", courseID, sessionID, err)
	}

	var updated models.LiveSession
	_, err = s.mutateAndSave(ctx, course, func(c *models.Course) error {
		ls, err := findSession(c, sessionID)
		if err != nil {
			return err
		}
		mergeSessionUpdate(ls, req, s.now())
		updated = *ls
		return nil
	})
	if err != nil {
		return nil, s.partialFailure("update", courseID, sessionID, meetingID, err)
	}
	return &updated, nil
}

func mergeSessionUpdate(ls *models.LiveSession, req models.UpdateSessionRequest, now time.Time) {
	if ls.DurationMinutes == 0 && ls.EndTime.After(ls.StartTime) {
		ls.DurationMinutes = int(ls.EndTime.Sub(ls.StartTime) / time.Minute)
	}
	if req.Topic != nil {
		ls.Topic = *req.Topic
	}
	if req.StartTime != nil {
		ls.StartTime = req.StartTime.UTC()
		ls.SessionDate = ls.StartTime
	}
	if req.DurationMinutes != nil {
		ls.DurationMinutes = *req.DurationMinutes
	}
	ls.EndTime = ls.StartTime.Add(time.Duration(ls.DurationMinutes) * time.Minute)
	ls.State = models.SessionUpdated
	ls.UpdatedAt = now
}

// DeleteSession removes the remote meeting and then the embedded record.
// A meeting the provider no longer knows about counts as deleted.
func (s *LiveSessionService) DeleteSession(ctx context.Context, courseID, sessionID, requesterID uuid.UUID) error {
	unlock, err := s.locker.Lock(ctx, courseID)
	if err != nil {
		return err
	}
	defer unlock()

	course, err := s.load(ctx, courseID)
	if err != nil {
		return err
	}
	if err := checkOwner(course, requesterID); err != nil {
		return err
	}
	current, err := findSession(course, sessionID)
	if err != nil {
		return err
	}
	if !current.State.CanTransition(models.SessionRemoteDeleted) {
		return &InvalidStateError{SessionID: sessionID.String(), State: string(current.State), Op: "delete"}
	}

	meetingID := current.MeetingID()
	if meetingID != "" {
		err := s.provider.DeleteMeeting(ctx, meetingID)
		switch {
		case IsProviderNotFound(err):
			log.Printf("live session delete (course %s, session %s): meeting %s already gone", courseID, sessionID, meetingID)
		case err != nil:
			return fmt.Errorf("live session delete (course %s, session %s): %w", courseID, sessionID, err)
		}
	}

	_, err = s.mutateAndSave(ctx, course, func(c *models.Course) error {
		i := c.SessionIndex(sessionID)
		if i < 0 {
			return errSessionAlreadyRemoved
		}
		c.LiveSessions = append(c.LiveSessions[:i], c.LiveSessions[i+1:]...)
		return nil
	})
	if errors.Is(err, errSessionAlreadyRemoved) {
		return nil
	}
	if err != nil {
		return s.partialFailure("delete", courseID, sessionID, meetingID, err)
	}
	return nil
}

var errSessionAlreadyRemoved = errors.New("session already removed")

// RecordSession attaches a recording link. It is a local change only.
func (s *LiveSessionService) RecordSession(ctx context.Context, courseID, sessionID uuid.UUID, recordingURL string, requesterID uuid.UUID) (*models.LiveSession, error) {
	recordingURL = strings.TrimSpace(recordingURL)
	if u, err := url.ParseRequestURI(recordingURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, &ValidationError{Fields: map[string]string{"recording_url": "must be an absolute http(s) URL"}}
	}

	unlock, err := s.locker.Lock(ctx, courseID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	course, err := s.load(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if err := checkOwner(course, requesterID); err != nil {
		return nil, err
	}

	var recorded models.LiveSession
	_, err = s.mutateAndSave(ctx, course, func(c *models.Course) error {
		ls, err := findSession(c, sessionID)
		if err != nil {
			return err
		}
		if !ls.State.Active() {
			return &InvalidStateError{SessionID: sessionID.String(), State: string(ls.State), Op: "record"}
		}
		link := recordingURL
		ls.RecordingURL = &link
		ls.UpdatedAt = s.now()
		recorded = *ls
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &recorded, nil
}

// ListSessions flattens the sessions of every course matching the filter.
// Order follows course order, then session order within a course.
func (s *LiveSessionService) ListSessions(ctx context.Context, filter models.SessionFilter) ([]models.LiveSession, error) {
	courses, err := s.courses.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list live sessions: %w", err)
	}

	sessions := []models.LiveSession{}
	for _, c := range courses {
		c.NormalizeSessions()
		for i := range c.LiveSessions {
			if filter.MatchesSession(&c.LiveSessions[i]) {
				sessions = append(sessions, c.LiveSessions[i])
			}
		}
	}
	return sessions, nil
}

// mutateAndSave applies mutate and saves, reloading and re-applying on
// version conflicts. It returns the course as saved.
func (s *LiveSessionService) mutateAndSave(ctx context.Context, course *models.Course, mutate func(*models.Course) error) (*models.Course, error) {
	var err error
	for attempt := 0; attempt < s.saveAttempts; attempt++ {
		if attempt > 0 {
			course, err = s.load(ctx, course.ID)
			if err != nil {
				return nil, err
			}
		}
		if err = mutate(course); err != nil {
			return nil, err
		}
		err = s.courses.Save(ctx, course)
		if err == nil {
			return course, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return nil, translateStoreErr(err)
		}
	}
	return nil, &ConflictError{Message: fmt.Sprintf("course %s kept changing, gave up after %d attempts", course.ID, s.saveAttempts)}
}

func (s *LiveSessionService) partialFailure(op string, courseID, sessionID uuid.UUID, meetingID string, cause error) error {
	metrics.PartialFailures.WithLabelValues(op).Inc()
	log.Printf("✗ live session %s (course %s, session %s): meeting %s changed remotely but not locally: %v",
		op, courseID, sessionID, meetingID, cause)
	return &PartialFailureError{
		Op:        op,
		CourseID:  courseID.String(),
		SessionID: sessionID.String(),
		MeetingID: meetingID,
		Cause:     cause,
	}
}

func (s *LiveSessionService) load(ctx context.Context, courseID uuid.UUID) (*models.Course, error) {
	c, err := s.courses.Load(ctx, courseID)
	if err != nil {
		return nil, translateStoreErr(err)
	}
	c.NormalizeSessions()
	return c, nil
}

func translateStoreErr(err error) error {
	if errors.Is(err, repository.ErrCourseNotFound) {
		return &NotFoundError{Message: "Course not found"}
	}
	return err
}

func findSession(c *models.Course, sessionID uuid.UUID) (*models.LiveSession, error) {
	i := c.SessionIndex(sessionID)
	if i < 0 {
		return nil, &NotFoundError{Message: "Live session not found"}
	}
	return &c.LiveSessions[i], nil
}

// checkOwner allows uuid.Nil as an internal caller.
func checkOwner(c *models.Course, requesterID uuid.UUID) error {
	if requesterID != uuid.Nil && c.InstructorID != requesterID {
		return &ForbiddenError{Message: "Only the course instructor can manage its live sessions"}
	}
	return nil
}

func nextState(from, to models.SessionState) models.SessionState {
	if !from.CanTransition(to) {
		panic(fmt.Sprintf("illegal session transition %s -> %s", from, to))
	}
	return to
}

func validateCreateSession(req models.CreateSessionRequest) error {
	fields := map[string]string{}
	if strings.TrimSpace(req.Topic) == "" {
		fields["topic"] = "is required"
	}
	if req.StartTime.IsZero() {
		fields["start_time"] = "is required"
	}
	if req.DurationMinutes <= 0 {
		fields["duration"] = "must be a positive number of minutes"
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func validateUpdateSession(req models.UpdateSessionRequest) error {
	fields := map[string]string{}
	if req.Topic != nil && strings.TrimSpace(*req.Topic) == "" {
		fields["topic"] = "cannot be empty"
	}
	if req.StartTime != nil && req.StartTime.IsZero() {
		fields["start_time"] = "cannot be empty"
	}
	if req.DurationMinutes != nil && *req.DurationMinutes <= 0 {
		fields["duration"] = "must be a positive number of minutes"
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

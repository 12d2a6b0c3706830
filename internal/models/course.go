package models

import (
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SessionState is the lifecycle position of an embedded live session.
//
//	requested -> remote_created -> persisted -> updated* -> remote_deleted -> deleted
type SessionState string

const (
	SessionRequested     SessionState = "requested"
	SessionRemoteCreated SessionState = "remote_created"
	SessionPersisted     SessionState = "persisted"
	SessionUpdated       SessionState = "updated"
	SessionRemoteDeleted SessionState = "remote_deleted"
	SessionDeleted       SessionState = "deleted"
)

var sessionTransitions = map[SessionState][]SessionState{
	SessionRequested:     {SessionRemoteCreated},
	SessionRemoteCreated: {SessionPersisted},
	SessionPersisted:     {SessionUpdated, SessionRemoteDeleted},
	SessionUpdated:       {SessionUpdated, SessionRemoteDeleted},
	SessionRemoteDeleted: {SessionDeleted},
}

// CanTransition reports whether moving from s to next is a legal lifecycle step.
func (s SessionState) CanTransition(next SessionState) bool {
	for _, allowed := range sessionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Active reports whether the session is backed by a live remote meeting
// and may still be mutated.
func (s SessionState) Active() bool {
	return s == SessionPersisted || s == SessionUpdated
}

type Material struct {
	URL  string `json:"url" bson:"url"`
	Name string `json:"name" bson:"name"`
	Type string `json:"type" bson:"type"`
}

type LiveSession struct {
	ID                uuid.UUID    `json:"id" bson:"id"`
	SessionDate       time.Time    `json:"session_date" bson:"session_date"`
	StartTime         time.Time    `json:"start_time" bson:"start_time"`
	EndTime           time.Time    `json:"end_time" bson:"end_time"`
	DurationMinutes   int          `json:"duration_minutes" bson:"duration_minutes"`
	Topic             string       `json:"topic" bson:"topic"`
	MeetingLink       string       `json:"meeting_link" bson:"meeting_link"`
	ProviderMeetingID string       `json:"provider_meeting_id" bson:"provider_meeting_id"`
	RecordingURL      *string      `json:"recording_url" bson:"recording_url"`
	Materials         []Material   `json:"materials" bson:"materials"`
	State             SessionState `json:"state" bson:"state"`
	CreatedAt         time.Time    `json:"created_at" bson:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at" bson:"updated_at"`
}

// MeetingID returns the provider meeting id, falling back to the last path
// segment of the join link for records written before the id was stored.
func (s *LiveSession) MeetingID() string {
	if s.ProviderMeetingID != "" {
		return s.ProviderMeetingID
	}
	return MeetingIDFromLink(s.MeetingLink)
}

// MeetingIDFromLink extracts the meeting id from a join URL such as
// https://us05web.zoom.us/j/85746065432?pwd=abc.
func MeetingIDFromLink(link string) string {
	if link == "" {
		return ""
	}
	path := link
	if u, err := url.Parse(link); err == nil && u.Path != "" {
		path = u.Path
	} else if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	path = strings.TrimRight(path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		path = path[i+1:]
	}
	return path
}

type Course struct {
	ID           uuid.UUID     `json:"id" bson:"_id"`
	Title        string        `json:"title" bson:"title"`
	Description  string        `json:"description" bson:"description"`
	InstructorID uuid.UUID     `json:"instructor_id" bson:"instructor_id"`
	GroupID      *uuid.UUID    `json:"group_id,omitempty" bson:"group_id,omitempty"`
	LiveSessions []LiveSession `json:"live_sessions" bson:"live_sessions"`
	Version      int           `json:"version" bson:"version"`
	CreatedAt    time.Time     `json:"created_at" bson:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at" bson:"updated_at"`
}

// SessionIndex returns the position of the session with the given id, or -1.
func (c *Course) SessionIndex(id uuid.UUID) int {
	for i := range c.LiveSessions {
		if c.LiveSessions[i].ID == id {
			return i
		}
	}
	return -1
}

// NormalizeSessions treats sessions stored before the lifecycle state was
// recorded as persisted.
func (c *Course) NormalizeSessions() {
	for i := range c.LiveSessions {
		if c.LiveSessions[i].State == "" {
			c.LiveSessions[i].State = SessionPersisted
		}
	}
}

// SessionFilter selects courses (CourseID, OwnerID) and then sessions
// within them (Topic, StartFrom, StartTo). Zero values match everything.
type SessionFilter struct {
	CourseID  *uuid.UUID
	OwnerID   *uuid.UUID
	Topic     string
	StartFrom *time.Time
	StartTo   *time.Time
}

// MatchesSession applies the session-level part of the filter.
func (f SessionFilter) MatchesSession(s *LiveSession) bool {
	if f.Topic != "" && !strings.EqualFold(s.Topic, f.Topic) {
		return false
	}
	if f.StartFrom != nil && s.StartTime.Before(*f.StartFrom) {
		return false
	}
	if f.StartTo != nil && s.StartTime.After(*f.StartTo) {
		return false
	}
	return true
}

type CreateSessionRequest struct {
	Topic           string     `json:"topic"`
	StartTime       time.Time  `json:"start_time"`
	DurationMinutes int        `json:"duration"`
	Agenda          string     `json:"agenda,omitempty"`
	RequesterID     uuid.UUID  `json:"-"`
	GroupID         *uuid.UUID `json:"group_id,omitempty"`
}

// UpdateSessionRequest carries a partial update; nil fields are left as is.
type UpdateSessionRequest struct {
	Topic           *string    `json:"topic,omitempty"`
	StartTime       *time.Time `json:"start_time,omitempty"`
	DurationMinutes *int       `json:"duration,omitempty"`
	RequesterID     uuid.UUID  `json:"-"`
}

// Empty reports whether no schedulable field is present.
func (r UpdateSessionRequest) Empty() bool {
	return r.Topic == nil && r.StartTime == nil && r.DurationMinutes == nil
}

type CreateSessionResult struct {
	Course  *Course        `json:"course"`
	Meeting *RemoteMeeting `json:"meeting"`
	Session *LiveSession   `json:"session"`
}

package models

import "time"

// AccessToken is a bearer credential issued by the meeting provider.
type AccessToken struct {
	Value     string
	ExpiresAt time.Time
}

// ValidAt reports whether the token can still be handed out at now,
// keeping margin in reserve.
func (t AccessToken) ValidAt(now time.Time, margin time.Duration) bool {
	return t.Value != "" && now.Before(t.ExpiresAt.Add(-margin))
}

type RemoteMeeting struct {
	ProviderID      string    `json:"id"`
	JoinURL         string    `json:"join_url"`
	StartURL        string    `json:"start_url,omitempty"`
	Password        string    `json:"password,omitempty"`
	Topic           string    `json:"topic"`
	StartTime       time.Time `json:"start_time"`
	DurationMinutes int       `json:"duration"`
	Agenda          string    `json:"agenda,omitempty"`
}

type CreateMeetingRequest struct {
	OwnerID         string    `json:"-"`
	Topic           string    `json:"topic"`
	StartTime       time.Time `json:"start_time"`
	DurationMinutes int       `json:"duration"`
	Agenda          string    `json:"agenda,omitempty"`
}

// MeetingUpdate is a partial update; nil fields are not sent to the provider.
type MeetingUpdate struct {
	Topic           *string    `json:"topic,omitempty"`
	StartTime       *time.Time `json:"start_time,omitempty"`
	DurationMinutes *int       `json:"duration,omitempty"`
	Agenda          *string    `json:"agenda,omitempty"`
}

type JoinInfo struct {
	JoinURL   string    `json:"join_url"`
	Topic     string    `json:"topic"`
	StartTime time.Time `json:"start_time"`
}

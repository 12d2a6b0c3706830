package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Group struct {
	ID           uuid.UUID   `json:"id"`
	Name         string      `json:"name"`
	Description  string      `json:"description,omitempty"`
	InstructorID uuid.UUID   `json:"instructor_id"`
	StudentIDs   []uuid.UUID `json:"student_ids"`
	MeetingIDs   []string    `json:"meeting_ids"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

type Notification struct {
	ID        uuid.UUID       `json:"id"`
	UserID    uuid.UUID       `json:"user_id"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	Type      string          `json:"type"`     // "info" | "success" | "warning" | "error" | "meeting"
	Category  string          `json:"category"` // "course" | "enrollment" | "schedule" | "system"
	Metadata  json.RawMessage `json:"metadata"`
	Read      bool            `json:"read"`
	CreatedAt time.Time       `json:"created_at"`
}

type MeetingNotificationMeta struct {
	MeetingID   string     `json:"meeting_id"`
	MeetingLink string     `json:"meeting_link"`
	StartTime   time.Time  `json:"start_time"`
	CourseID    *uuid.UUID `json:"course_id,omitempty"`
}

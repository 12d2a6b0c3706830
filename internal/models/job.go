package models

import (
	"time"

	"github.com/google/uuid"
)

// CleanupJob asks the worker pool to delete a remote meeting that has no
// local session record (left behind by a failed create compensation).
type CleanupJob struct {
	ID         uuid.UUID `json:"id"`
	MeetingID  string    `json:"meeting_id"`
	CourseID   uuid.UUID `json:"course_id"`
	Reason     string    `json:"reason"`
	Attempts   int       `json:"attempts"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// WebSocket message types
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// API Error response
type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}

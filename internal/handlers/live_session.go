package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"liveclass-backend/internal/middleware"
	"liveclass-backend/internal/models"
)

type liveSessionService interface {
	CreateSession(ctx context.Context, courseID uuid.UUID, req models.CreateSessionRequest) (*models.CreateSessionResult, error)
	UpdateSession(ctx context.Context, courseID, sessionID uuid.UUID, req models.UpdateSessionRequest) (*models.LiveSession, error)
	DeleteSession(ctx context.Context, courseID, sessionID, requesterID uuid.UUID) error
	RecordSession(ctx context.Context, courseID, sessionID uuid.UUID, recordingURL string, requesterID uuid.UUID) (*models.LiveSession, error)
	ListSessions(ctx context.Context, filter models.SessionFilter) ([]models.LiveSession, error)
}

type LiveSessionHandler struct {
	sessions liveSessionService
}

func NewLiveSessionHandler(sessions liveSessionService) *LiveSessionHandler {
	return &LiveSessionHandler{sessions: sessions}
}

func (h *LiveSessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	courseID, ok := uuidParam(w, r, "courseId")
	if !ok {
		return
	}
	var req models.CreateSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.RequesterID = middleware.GetUserID(r.Context())

	result, err := h.sessions.CreateSession(r.Context(), courseID, req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// ListForCourse lists the sessions of one course.
func (h *LiveSessionHandler) ListForCourse(w http.ResponseWriter, r *http.Request) {
	courseID, ok := uuidParam(w, r, "courseId")
	if !ok {
		return
	}
	h.list(w, r, models.SessionFilter{CourseID: &courseID})
}

// List accepts course_id, owner_id, topic, from and to (RFC 3339) as query
// parameters. owner_id=me selects the caller's courses.
func (h *LiveSessionHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, fields := parseSessionFilter(r)
	if len(fields) > 0 {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Invalid filter", fields, r))
		return
	}
	h.list(w, r, filter)
}

func (h *LiveSessionHandler) list(w http.ResponseWriter, r *http.Request, filter models.SessionFilter) {
	sessions, err := h.sessions.ListSessions(r.Context(), filter)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions, "total": len(sessions)})
}

func parseSessionFilter(r *http.Request) (models.SessionFilter, map[string]string) {
	q := r.URL.Query()
	fields := map[string]string{}
	var filter models.SessionFilter

	if v := q.Get("course_id"); v != "" {
		if id, err := uuid.Parse(v); err == nil {
			filter.CourseID = &id
		} else {
			fields["course_id"] = "must be a UUID"
		}
	}
	if v := q.Get("owner_id"); v != "" {
		if v == "me" {
			id := middleware.GetUserID(r.Context())
			filter.OwnerID = &id
		} else if id, err := uuid.Parse(v); err == nil {
			filter.OwnerID = &id
		} else {
			fields["owner_id"] = "must be a UUID or \"me\""
		}
	}
	filter.Topic = q.Get("topic")
	for name, dst := range map[string]**time.Time{"from": &filter.StartFrom, "to": &filter.StartTo} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			fields[name] = "must be an RFC 3339 timestamp"
			continue
		}
		*dst = &t
	}
	return filter, fields
}

func (h *LiveSessionHandler) Update(w http.ResponseWriter, r *http.Request) {
	courseID, ok := uuidParam(w, r, "courseId")
	if !ok {
		return
	}
	sessionID, ok := uuidParam(w, r, "sessionId")
	if !ok {
		return
	}
	var req models.UpdateSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.RequesterID = middleware.GetUserID(r.Context())

	session, err := h.sessions.UpdateSession(r.Context(), courseID, sessionID, req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

func (h *LiveSessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	courseID, ok := uuidParam(w, r, "courseId")
	if !ok {
		return
	}
	sessionID, ok := uuidParam(w, r, "sessionId")
	if !ok {
		return
	}

	if err := h.sessions.DeleteSession(r.Context(), courseID, sessionID, middleware.GetUserID(r.Context())); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Live session deleted"})
}

func (h *LiveSessionHandler) Record(w http.ResponseWriter, r *http.Request) {
	courseID, ok := uuidParam(w, r, "courseId")
	if !ok {
		return
	}
	sessionID, ok := uuidParam(w, r, "sessionId")
	if !ok {
		return
	}
	var req struct {
		RecordingURL string `json:"recording_url"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	session, err := h.sessions.RecordSession(r.Context(), courseID, sessionID, req.RecordingURL, middleware.GetUserID(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"liveclass-backend/internal/middleware"
	"liveclass-backend/internal/models"
	"liveclass-backend/internal/repository"
	"liveclass-backend/internal/services"
)

type groupNotifier interface {
	NotifyGroupMeeting(ctx context.Context, groupID uuid.UUID, meeting *models.RemoteMeeting, courseID *uuid.UUID) error
}

type groupReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Group, error)
	GetByMeetingID(ctx context.Context, meetingID string) (*models.Group, error)
}

type meetingCourseLookup interface {
	FindByMeetingID(ctx context.Context, meetingID string) (*models.Course, error)
}

// MeetingHandler exposes the provider directly, for meetings that are not
// attached to a course. Meetings embedded in a course are changed through
// the live-session routes only.
type MeetingHandler struct {
	provider services.MeetingProvider
	groups   groupReader
	courses  meetingCourseLookup
	notifier groupNotifier
	owner    string
}

// NewMeetingHandler hosts every created meeting under owner, the configured
// provider user.
func NewMeetingHandler(provider services.MeetingProvider, groups groupReader, courses meetingCourseLookup, notifier groupNotifier, owner string) *MeetingHandler {
	return &MeetingHandler{provider: provider, groups: groups, courses: courses, notifier: notifier, owner: owner}
}

// meetingIDParam reads the numeric provider meeting id from the URL.
func meetingIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if id == "" || strings.TrimLeft(id, "0123456789") != "" {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Invalid meeting id",
			map[string]string{"id": "must be numeric"}, r))
		return "", false
	}
	return id, true
}

// authorizeMutation rejects changes to a meeting that a course embeds, and to
// a group meeting the caller does not teach.
func (h *MeetingHandler) authorizeMutation(w http.ResponseWriter, r *http.Request, meetingID string) bool {
	userID := middleware.GetUserID(r.Context())

	course, err := h.courses.FindByMeetingID(r.Context(), meetingID)
	switch {
	case err == nil && course.InstructorID != userID:
		writeJSON(w, http.StatusForbidden, errorResp("FORBIDDEN", "Only the course instructor can change this meeting", r))
		return false
	case err == nil:
		writeJSON(w, http.StatusConflict, errorResp("CONFLICT",
			"This meeting belongs to a live session; change it through /api/v1/live-sessions", r))
		return false
	case !errors.Is(err, repository.ErrCourseNotFound):
		handleServiceError(w, r, err)
		return false
	}

	group, err := h.groups.GetByMeetingID(r.Context(), meetingID)
	switch {
	case err == nil && group.InstructorID != userID:
		writeJSON(w, http.StatusForbidden, errorResp("FORBIDDEN", "Only the group instructor can change this meeting", r))
		return false
	case err != nil && !errors.Is(err, repository.ErrGroupNotFound):
		handleServiceError(w, r, err)
		return false
	}
	return true
}

func validateMeetingRequest(req models.CreateMeetingRequest) map[string]string {
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
	return fields
}

func (h *MeetingHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.CreateMeetingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if fields := validateMeetingRequest(req); len(fields) > 0 {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed", fields, r))
		return
	}
	req.OwnerID = h.owner

	meeting, err := h.provider.CreateMeeting(r.Context(), req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, meeting)
}

// CreateForGroup schedules a meeting for a group the caller teaches and
// notifies its students. A failed notification does not fail the request.
func (h *MeetingHandler) CreateForGroup(w http.ResponseWriter, r *http.Request) {
	groupID, ok := uuidParam(w, r, "groupId")
	if !ok {
		return
	}
	var req models.CreateMeetingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if fields := validateMeetingRequest(req); len(fields) > 0 {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed", fields, r))
		return
	}

	group, err := h.groups.GetByID(r.Context(), groupID)
	if errors.Is(err, repository.ErrGroupNotFound) {
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Group not found", r))
		return
	}
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if group.InstructorID != middleware.GetUserID(r.Context()) {
		writeJSON(w, http.StatusForbidden, errorResp("FORBIDDEN", "Only the group instructor can schedule group meetings", r))
		return
	}

	req.OwnerID = h.owner
	meeting, err := h.provider.CreateMeeting(r.Context(), req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	notified := true
	if err := h.notifier.NotifyGroupMeeting(r.Context(), groupID, meeting, nil); err != nil {
		log.Printf("group meeting %s (group %s): notification failed: %v", meeting.ProviderID, groupID, err)
		notified = false
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"meeting":  meeting,
		"notified": notified,
	})
}

// List returns the configured host's scheduled meetings. A list cut short by
// the provider page cap is returned with truncated set.
func (h *MeetingHandler) List(w http.ResponseWriter, r *http.Request) {
	meetings, err := h.provider.ListMeetings(r.Context(), h.owner)
	truncated := errors.Is(err, services.ErrMeetingListTruncated)
	if err != nil && !truncated {
		handleServiceError(w, r, err)
		return
	}
	if meetings == nil {
		meetings = []models.RemoteMeeting{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"meetings": meetings, "total": len(meetings), "truncated": truncated})
}

func (h *MeetingHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := meetingIDParam(w, r)
	if !ok {
		return
	}
	meeting, err := h.provider.GetMeeting(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, meeting)
}

func (h *MeetingHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := meetingIDParam(w, r)
	if !ok {
		return
	}
	var update models.MeetingUpdate
	if !decodeJSON(w, r, &update) {
		return
	}
	if update.DurationMinutes != nil && *update.DurationMinutes <= 0 {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed",
			map[string]string{"duration": "must be a positive number of minutes"}, r))
		return
	}
	if !h.authorizeMutation(w, r, id) {
		return
	}

	if err := h.provider.UpdateMeeting(r.Context(), id, update); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Meeting updated"})
}

func (h *MeetingHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := meetingIDParam(w, r)
	if !ok {
		return
	}
	if !h.authorizeMutation(w, r, id) {
		return
	}

	if err := h.provider.DeleteMeeting(r.Context(), id); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Meeting deleted"})
}

func (h *MeetingHandler) Join(w http.ResponseWriter, r *http.Request) {
	id, ok := meetingIDParam(w, r)
	if !ok {
		return
	}
	info, err := h.provider.GetJoinInfo(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"liveclass-backend/internal/middleware"
	"liveclass-backend/internal/models"
	"liveclass-backend/internal/repository"
)

type courseStore interface {
	Create(ctx context.Context, c *models.Course) error
	Load(ctx context.Context, id uuid.UUID) (*models.Course, error)
	Find(ctx context.Context, filter models.SessionFilter) ([]*models.Course, error)
}

type CourseHandler struct {
	courses courseStore
}

func NewCourseHandler(courses courseStore) *CourseHandler {
	return &CourseHandler{courses: courses}
}

type createCourseRequest struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	GroupID     *uuid.UUID `json:"group_id,omitempty"`
}

func (h *CourseHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createCourseRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed",
			map[string]string{"title": "is required"}, r))
		return
	}

	course := &models.Course{
		Title:        req.Title,
		Description:  req.Description,
		InstructorID: middleware.GetUserID(r.Context()),
		GroupID:      req.GroupID,
	}
	if err := h.courses.Create(r.Context(), course); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, course)
}

// List returns the caller's courses.
func (h *CourseHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	courses, err := h.courses.Find(r.Context(), models.SessionFilter{OwnerID: &userID})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if courses == nil {
		courses = []*models.Course{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"courses": courses})
}

func (h *CourseHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "courseId")
	if !ok {
		return
	}

	course, err := h.courses.Load(r.Context(), id)
	if errors.Is(err, repository.ErrCourseNotFound) {
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Course not found", r))
		return
	}
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, course)
}

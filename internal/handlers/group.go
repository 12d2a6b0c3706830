package handlers

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"liveclass-backend/internal/middleware"
	"liveclass-backend/internal/models"
	"liveclass-backend/internal/repository"
	"liveclass-backend/internal/services"
)

const meetingLookupConcurrency = 4

type groupRepository interface {
	Create(ctx context.Context, g *models.Group) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Group, error)
}

type meetingGetter interface {
	GetMeeting(ctx context.Context, id string) (*models.RemoteMeeting, error)
}

type GroupHandler struct {
	groups   groupRepository
	meetings meetingGetter
}

func NewGroupHandler(groups groupRepository, meetings meetingGetter) *GroupHandler {
	return &GroupHandler{groups: groups, meetings: meetings}
}

type createGroupRequest struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	StudentIDs  []uuid.UUID `json:"student_ids"`
}

func (h *GroupHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed",
			map[string]string{"name": "is required"}, r))
		return
	}

	group := &models.Group{
		Name:         req.Name,
		Description:  req.Description,
		InstructorID: middleware.GetUserID(r.Context()),
		StudentIDs:   dedupeIDs(req.StudentIDs),
	}
	if err := h.groups.Create(r.Context(), group); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, group)
}

func (h *GroupHandler) Get(w http.ResponseWriter, r *http.Request) {
	group, ok := h.loadVisible(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, group)
}

// Meetings resolves the group's meeting ids against the provider. Meetings
// the provider no longer has are left out.
func (h *GroupHandler) Meetings(w http.ResponseWriter, r *http.Request) {
	group, ok := h.loadVisible(w, r)
	if !ok {
		return
	}

	var (
		mu       sync.Mutex
		meetings = []models.RemoteMeeting{}
	)
	g, ctx := errgroup.WithContext(r.Context())
	g.SetLimit(meetingLookupConcurrency)
	for _, id := range group.MeetingIDs {
		g.Go(func() error {
			m, err := h.meetings.GetMeeting(ctx, id)
			if services.IsProviderNotFound(err) {
				return nil
			}
			if err != nil {
				return err
			}
			mu.Lock()
			meetings = append(meetings, *m)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		handleServiceError(w, r, err)
		return
	}

	sort.SliceStable(meetings, func(i, j int) bool {
		return meetings[i].StartTime.Before(meetings[j].StartTime)
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{"meetings": meetings, "total": len(meetings)})
}

// loadVisible loads the group named in the URL if the caller teaches it or
// is one of its students.
func (h *GroupHandler) loadVisible(w http.ResponseWriter, r *http.Request) (*models.Group, bool) {
	id, ok := uuidParam(w, r, "groupId")
	if !ok {
		return nil, false
	}

	group, err := h.groups.GetByID(r.Context(), id)
	if errors.Is(err, repository.ErrGroupNotFound) {
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Group not found", r))
		return nil, false
	}
	if err != nil {
		handleServiceError(w, r, err)
		return nil, false
	}

	userID := middleware.GetUserID(r.Context())
	if group.InstructorID != userID && !containsID(group.StudentIDs, userID) {
		writeJSON(w, http.StatusForbidden, errorResp("FORBIDDEN", "You are not a member of this group", r))
		return nil, false
	}
	return group, true
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func dedupeIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

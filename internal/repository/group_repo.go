package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"liveclass-backend/internal/models"
)

var ErrGroupNotFound = errors.New("group not found")

type GroupRepo struct {
	pool *pgxpool.Pool
}

func NewGroupRepo(pool *pgxpool.Pool) *GroupRepo {
	return &GroupRepo{pool: pool}
}

func (r *GroupRepo) Create(ctx context.Context, g *models.Group) error {
	g.ID = uuid.New()
	if g.StudentIDs == nil {
		g.StudentIDs = []uuid.UUID{}
	}
	if g.MeetingIDs == nil {
		g.MeetingIDs = []string{}
	}

	query := `INSERT INTO groups (id, name, description, instructor_id, student_ids, meeting_ids)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at, updated_at`

	return r.pool.QueryRow(ctx, query,
		g.ID, g.Name, g.Description, g.InstructorID, g.StudentIDs, g.MeetingIDs,
	).Scan(&g.CreatedAt, &g.UpdatedAt)
}

func (r *GroupRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Group, error) {
	g := &models.Group{}
	query := `SELECT id, name, description, instructor_id, student_ids, meeting_ids, created_at, updated_at
		FROM groups WHERE id = $1`

	err := r.pool.QueryRow(ctx, query, id).Scan(
		&g.ID, &g.Name, &g.Description, &g.InstructorID, &g.StudentIDs, &g.MeetingIDs,
		&g.CreatedAt, &g.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrGroupNotFound
	}
	if err != nil {
		return nil, err
	}
	return g, nil
}

// GetByMeetingID returns the group a provider meeting was scheduled for.
func (r *GroupRepo) GetByMeetingID(ctx context.Context, meetingID string) (*models.Group, error) {
	g := &models.Group{}
	query := `SELECT id, name, description, instructor_id, student_ids, meeting_ids, created_at, updated_at
		FROM groups WHERE $1 = ANY(meeting_ids) LIMIT 1`
	err := r.pool.QueryRow(ctx, query, meetingID).Scan(
		&g.ID, &g.Name, &g.Description, &g.InstructorID, &g.StudentIDs, &g.MeetingIDs,
		&g.CreatedAt, &g.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrGroupNotFound
	}
	if err != nil {
		return nil, err
	}
	return g, nil
}

// AppendMeeting records a provider meeting id on the group, once.
func (r *GroupRepo) AppendMeeting(ctx context.Context, groupID uuid.UUID, meetingID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE groups
		SET meeting_ids = CASE
				WHEN $2 = ANY(meeting_ids) THEN meeting_ids
				ELSE array_append(meeting_ids, $2)
			END,
			updated_at = NOW()
		WHERE id = $1
	`, groupID, meetingID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrGroupNotFound
	}
	return nil
}

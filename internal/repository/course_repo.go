package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"liveclass-backend/internal/models"
)

var (
	ErrCourseNotFound  = errors.New("course not found")
	ErrVersionConflict = errors.New("course was modified concurrently")
)

// CourseRepo stores courses in Postgres with live sessions embedded as JSONB.
type CourseRepo struct {
	pool *pgxpool.Pool
}

func NewCourseRepo(pool *pgxpool.Pool) *CourseRepo {
	return &CourseRepo{pool: pool}
}

func (r *CourseRepo) Create(ctx context.Context, c *models.Course) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.LiveSessions == nil {
		c.LiveSessions = []models.LiveSession{}
	}
	sessions, err := json.Marshal(c.LiveSessions)
	if err != nil {
		return fmt.Errorf("encode live sessions: %w", err)
	}
	c.Version = 0

	query := `INSERT INTO courses (id, title, description, instructor_id, group_id, live_sessions, version)
		VALUES ($1, $2, $3, $4, $5, $6, 0) RETURNING created_at, updated_at`

	return r.pool.QueryRow(ctx, query,
		c.ID, c.Title, c.Description, c.InstructorID, c.GroupID, sessions,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
}

func (r *CourseRepo) Load(ctx context.Context, id uuid.UUID) (*models.Course, error) {
	query := `SELECT id, title, description, instructor_id, group_id, live_sessions, version, created_at, updated_at
		FROM courses WHERE id = $1`

	c, err := scanCourse(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCourseNotFound
	}
	return c, err
}

// Save writes the whole aggregate if the stored version still equals
// c.Version, then bumps c.Version.
func (r *CourseRepo) Save(ctx context.Context, c *models.Course) error {
	sessions, err := json.Marshal(c.LiveSessions)
	if err != nil {
		return fmt.Errorf("encode live sessions: %w", err)
	}

	now := time.Now().UTC()
	tag, err := r.pool.Exec(ctx, `
		UPDATE courses
		SET title = $1, description = $2, group_id = $3, live_sessions = $4,
			version = version + 1, updated_at = $5
		WHERE id = $6 AND version = $7
	`, c.Title, c.Description, c.GroupID, sessions, now, c.ID, c.Version)
	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM courses WHERE id = $1)", c.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrCourseNotFound
		}
		return ErrVersionConflict
	}

	c.Version++
	c.UpdatedAt = now
	return nil
}

// FindByMeetingID returns the course whose live sessions reference the given
// provider meeting, matching the stored id or, for older records, the join link.
func (r *CourseRepo) FindByMeetingID(ctx context.Context, meetingID string) (*models.Course, error) {
	query := `SELECT id, title, description, instructor_id, group_id, live_sessions, version, created_at, updated_at
		FROM courses
		WHERE EXISTS (
			SELECT 1 FROM jsonb_array_elements(live_sessions) s
			WHERE s->>'provider_meeting_id' = $1
				OR s->>'meeting_link' ~ $2
		)
		LIMIT 1`
	c, err := scanCourse(r.pool.QueryRow(ctx, query, meetingID, joinLinkPattern(meetingID)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCourseNotFound
	}
	return c, err
}

// joinLinkPattern matches a join URL whose /j/ segment is meetingID.
func joinLinkPattern(meetingID string) string {
	return "/j/" + regexp.QuoteMeta(meetingID) + "([?#/]|$)"
}

// Find applies the course-level part of filter; session-level matching is
// left to the caller.
func (r *CourseRepo) Find(ctx context.Context, filter models.SessionFilter) ([]*models.Course, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.CourseID != nil {
		args = append(args, *filter.CourseID)
		where = append(where, fmt.Sprintf("id = $%d", len(args)))
	}
	if filter.OwnerID != nil {
		args = append(args, *filter.OwnerID)
		where = append(where, fmt.Sprintf("instructor_id = $%d", len(args)))
	}

	query := `SELECT id, title, description, instructor_id, group_id, live_sessions, version, created_at, updated_at
		FROM courses`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var courses []*models.Course
	for rows.Next() {
		c, err := scanCourse(rows)
		if err != nil {
			return nil, err
		}
		courses = append(courses, c)
	}
	return courses, rows.Err()
}

func scanCourse(row pgx.Row) (*models.Course, error) {
	c := &models.Course{}
	var sessions []byte
	if err := row.Scan(
		&c.ID, &c.Title, &c.Description, &c.InstructorID, &c.GroupID,
		&sessions, &c.Version, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(sessions) > 0 {
		if err := json.Unmarshal(sessions, &c.LiveSessions); err != nil {
			return nil, fmt.Errorf("decode live sessions for course %s: %w", c.ID, err)
		}
	}
	if c.LiveSessions == nil {
		c.LiveSessions = []models.LiveSession{}
	}
	return c, nil
}

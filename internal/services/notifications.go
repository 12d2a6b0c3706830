package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"liveclass-backend/internal/models"
	"liveclass-backend/internal/repository"
)

const (
	groupMeetingTitle      = "New Group Meeting Scheduled"
	defaultNotificationCap = 50
)

type groupStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Group, error)
	AppendMeeting(ctx context.Context, groupID uuid.UUID, meetingID string) error
}

type notificationStore interface {
	Create(ctx context.Context, n *models.Notification) error
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Notification, error)
	MarkRead(ctx context.Context, id, userID uuid.UUID) (bool, error)
	MarkAllRead(ctx context.Context, userID uuid.UUID) error
}

// UpdatePublisher pushes a WebSocket message to one user's channel.
type UpdatePublisher interface {
	PublishUpdate(ctx context.Context, userID uuid.UUID, msg models.WSMessage) error
}

// RedisPublisher publishes on user_updates:<id>, the channels the hub
// subscribes to.
type RedisPublisher struct {
	redis *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{redis: client}
}

func (p *RedisPublisher) PublishUpdate(ctx context.Context, userID uuid.UUID, msg models.WSMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.redis.Publish(ctx, fmt.Sprintf("user_updates:%s", userID.String()), string(data)).Err()
}

type NotificationService struct {
	groups        groupStore
	notifications notificationStore
	publisher     UpdatePublisher
}

func NewNotificationService(groups groupStore, notifications notificationStore, publisher UpdatePublisher) *NotificationService {
	return &NotificationService{groups: groups, notifications: notifications, publisher: publisher}
}

// NotifyGroupMeeting stores a notification for every student in the group
// and pushes it to connected clients. All per-student failures are joined
// into the returned error; students that succeeded stay notified.
func (s *NotificationService) NotifyGroupMeeting(ctx context.Context, groupID uuid.UUID, meeting *models.RemoteMeeting, courseID *uuid.UUID) error {
	group, err := s.groups.GetByID(ctx, groupID)
	if errors.Is(err, repository.ErrGroupNotFound) {
		return &NotFoundError{Message: "Group not found"}
	}
	if err != nil {
		return fmt.Errorf("notify group %s: %w", groupID, err)
	}

	if err := s.groups.AppendMeeting(ctx, groupID, meeting.ProviderID); err != nil {
		log.Printf("notify group %s: could not record meeting %s: %v", groupID, meeting.ProviderID, err)
	}

	meta, err := json.Marshal(models.MeetingNotificationMeta{
		MeetingID:   meeting.ProviderID,
		MeetingLink: meeting.JoinURL,
		StartTime:   meeting.StartTime,
		CourseID:    courseID,
	})
	if err != nil {
		return err
	}
	message := fmt.Sprintf("A new meeting %q has been scheduled for your group %q on %s (UTC).",
		meeting.Topic, group.Name, meeting.StartTime.UTC().Format("Jan 2, 2006 15:04"))

	var errs []error
	for _, studentID := range group.StudentIDs {
		n := &models.Notification{
			UserID:   studentID,
			Title:    groupMeetingTitle,
			Message:  message,
			Type:     "meeting",
			Category: "schedule",
			Metadata: meta,
		}
		if err := s.notifications.Create(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("student %s: %w", studentID, err))
			continue
		}
		if s.publisher == nil {
			continue
		}
		if err := s.publisher.PublishUpdate(ctx, studentID, models.WSMessage{Type: "notification", Payload: n}); err != nil {
			// Stored already; the client picks it up on the next list.
			log.Printf("notify group %s: publish to %s failed: %v", groupID, studentID, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify group %s: %d of %d students failed: %w",
			groupID, len(errs), len(group.StudentIDs), errors.Join(errs...))
	}
	return nil
}

func (s *NotificationService) List(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = defaultNotificationCap
	}
	out, err := s.notifications.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []*models.Notification{}
	}
	return out, nil
}

func (s *NotificationService) MarkRead(ctx context.Context, id, userID uuid.UUID) error {
	ok, err := s.notifications.MarkRead(ctx, id, userID)
	if err != nil {
		return err
	}
	if !ok {
		return &NotFoundError{Message: "Notification not found"}
	}
	return nil
}

func (s *NotificationService) MarkAllRead(ctx context.Context, userID uuid.UUID) error {
	return s.notifications.MarkAllRead(ctx, userID)
}

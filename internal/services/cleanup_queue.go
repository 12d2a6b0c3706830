package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"liveclass-backend/internal/models"
)

const (
	CleanupQueueKey = "queue:meeting-cleanup"
	// CleanupDelayedKey holds jobs waiting for a retry, scored by the Unix
	// second they become due.
	CleanupDelayedKey = "queue:meeting-cleanup:delayed"
)

// CleanupQueue accepts orphaned remote meetings for background deletion.
type CleanupQueue interface {
	Enqueue(ctx context.Context, job models.CleanupJob) error
}

type RedisCleanupQueue struct {
	redis *redis.Client
}

func NewRedisCleanupQueue(client *redis.Client) *RedisCleanupQueue {
	return &RedisCleanupQueue{redis: client}
}

func (q *RedisCleanupQueue) Enqueue(ctx context.Context, job models.CleanupJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := q.redis.LPush(ctx, CleanupQueueKey, string(data)).Err(); err != nil {
		return fmt.Errorf("enqueue cleanup for meeting %s: %w", job.MeetingID, err)
	}
	return nil
}

package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"liveclass-backend/internal/metrics"
	"liveclass-backend/internal/models"
	"liveclass-backend/internal/services"
)

type meetingDeleter interface {
	DeleteMeeting(ctx context.Context, id string) error
}

type outcome string

const (
	outcomeDeleted  outcome = "deleted"
	outcomeGone     outcome = "gone"
	outcomeRetry    outcome = "retry"
	outcomeAbandon  outcome = "abandoned"
	popTimeout              = 5 * time.Second
	jobLockTTL              = 5 * time.Minute
	deleteTimeout           = 30 * time.Second
	defaultAttempts         = 5
	promoteInterval         = time.Second
	promoteBatch            = 100
)

// promoteDue moves up to ARGV[2] jobs whose score is at or before ARGV[1]
// from the delayed set onto the work list in one step.
var promoteDue = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, job in ipairs(due) do
	redis.call('ZREM', KEYS[1], job)
	redis.call('LPUSH', KEYS[2], job)
end
return #due
`)

// Pool drains queue:meeting-cleanup, deleting remote meetings that were
// created but never recorded on a course.
type Pool struct {
	redis       *redis.Client
	provider    meetingDeleter
	workerCount int
	maxAttempts int
	requeue     func(job models.CleanupJob, delay time.Duration)
	now         func() time.Time
	stopChan    chan struct{}
	wg          sync.WaitGroup
}

func NewPool(redisClient *redis.Client, provider meetingDeleter, workerCount, maxAttempts int) *Pool {
	if workerCount <= 0 {
		workerCount = 1
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultAttempts
	}
	p := &Pool{
		redis:       redisClient,
		provider:    provider,
		workerCount: workerCount,
		maxAttempts: maxAttempts,
		stopChan:    make(chan struct{}),
		now:         time.Now,
	}
	p.requeue = p.scheduleRetry
	return p
}

func (p *Pool) Start() {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.wg.Add(1)
	go p.promoter()
	log.Printf("Started %d cleanup workers", p.workerCount)
}

// Stop waits for in-flight jobs; a worker blocked in BLPOP exits within popTimeout.
func (p *Pool) Stop() {
	close(p.stopChan)
	p.wg.Wait()
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopChan:
			log.Printf("Cleanup worker %d shutting down", id)
			return
		default:
		}

		ctx := context.Background()

		result, err := p.redis.BLPop(ctx, popTimeout, services.CleanupQueueKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			log.Printf("Cleanup worker %d: queue read failed: %v", id, err)
			time.Sleep(time.Second)
			continue
		}
		if len(result) < 2 {
			continue
		}

		var job models.CleanupJob
		if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
			log.Printf("Cleanup worker %d: failed to parse job: %v", id, err)
			continue
		}

		lockKey := fmt.Sprintf("cleanup_lock:%s", job.MeetingID)
		locked, err := p.redis.SetNX(ctx, lockKey, job.ID.String(), jobLockTTL).Result()
		if err != nil || !locked {
			continue
		}

		log.Printf("Cleanup worker %d: deleting orphaned meeting %s (course %s, attempt %d)",
			id, job.MeetingID, job.CourseID, job.Attempts+1)
		p.Process(ctx, job)

		p.redis.Del(ctx, lockKey)
	}
}

// Process runs one delete attempt and schedules a retry when it is worth one.
func (p *Pool) Process(ctx context.Context, job models.CleanupJob) outcome {
	dctx, cancel := context.WithTimeout(ctx, deleteTimeout)
	err := p.provider.DeleteMeeting(dctx, job.MeetingID)
	cancel()

	job.Attempts++
	result := classify(err, job.Attempts, p.maxAttempts)
	metrics.CleanupJobs.WithLabelValues(string(result)).Inc()

	switch result {
	case outcomeDeleted, outcomeGone:
		log.Printf("✓ orphaned meeting %s cleaned up (%s)", job.MeetingID, result)
	case outcomeRetry:
		delay := backoff(job.Attempts)
		log.Printf("Cleanup of meeting %s failed (attempt %d): %v, retrying in %s", job.MeetingID, job.Attempts, err, delay)
		p.requeue(job, delay)
	case outcomeAbandon:
		log.Printf("✗ cleanup of meeting %s abandoned after %d attempts: %v", job.MeetingID, job.Attempts, err)
	}
	return result
}

// scheduleRetry parks the job in the delayed set so a restart does not lose it.
func (p *Pool) scheduleRetry(job models.CleanupJob, delay time.Duration) {
	entry, err := retryEntry(job, p.now(), delay)
	if err != nil {
		log.Printf("✗ cleanup of meeting %s: cannot encode retry: %v", job.MeetingID, err)
		return
	}
	if err := p.redis.ZAdd(context.Background(), services.CleanupDelayedKey, entry).Err(); err != nil {
		log.Printf("✗ cleanup of meeting %s: failed to schedule retry: %v", job.MeetingID, err)
	}
}

func retryEntry(job models.CleanupJob, now time.Time, delay time.Duration) (redis.Z, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return redis.Z{}, err
	}
	return redis.Z{Score: float64(now.Add(delay).Unix()), Member: string(data)}, nil
}

// promoter moves retries whose time has come back onto the work list.
func (p *Pool) promoter() {
	defer p.wg.Done()
	ticker := time.NewTicker(promoteInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopChan:
			return
		case <-ticker.C:
			p.promote(context.Background())
		}
	}
}

func (p *Pool) promote(ctx context.Context) {
	keys := []string{services.CleanupDelayedKey, services.CleanupQueueKey}
	for {
		n, err := promoteDue.Run(ctx, p.redis, keys, p.now().Unix(), promoteBatch).Int()
		if err != nil {
			log.Printf("Cleanup promoter: %v", err)
			return
		}
		if n < promoteBatch {
			return
		}
	}
}

// classify decides what to do after attempt number attempts. Only transient
// provider failures are retried; any other error will not change on retry.
func classify(err error, attempts, maxAttempts int) outcome {
	switch {
	case err == nil:
		return outcomeDeleted
	case services.IsProviderNotFound(err):
		return outcomeGone
	case services.Retryable(err) && attempts < maxAttempts:
		return outcomeRetry
	default:
		return outcomeAbandon
	}
}

func backoff(attempts int) time.Duration {
	if attempts > 6 {
		attempts = 6
	}
	return time.Duration(1<<uint(attempts)) * time.Second
}

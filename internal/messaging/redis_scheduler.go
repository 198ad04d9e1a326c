package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/temcen/productimporter/internal/tasks"
)

const scheduledTasksKey = "tasks:scheduled"

// SortedSetClient is the subset of the go-redis client the scheduler uses.
type SortedSetClient interface {
	ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd
	ZRangeByScore(ctx context.Context, key string, opt *redis.ZRangeBy) *redis.StringSliceCmd
	ZRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
}

// RedisScheduler keeps delayed tasks in a sorted set scored by due time in
// milliseconds. Several processes may poll the same set: a task is published
// only by the poller whose ZREM removed it.
type RedisScheduler struct {
	client       SortedSetClient
	pollInterval time.Duration
	batchSize    int64
	logger       *logrus.Logger
	now          func() time.Time
}

func NewRedisScheduler(client SortedSetClient, pollInterval time.Duration, logger *logrus.Logger) *RedisScheduler {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &RedisScheduler{
		client:       client,
		pollInterval: pollInterval,
		batchSize:    100,
		logger:       logger,
		now:          time.Now,
	}
}

func (s *RedisScheduler) Schedule(ctx context.Context, t tasks.Task, at time.Time) error {
	member, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal scheduled task: %w", err)
	}

	if err := s.client.ZAdd(ctx, scheduledTasksKey, redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: string(member),
	}).Err(); err != nil {
		return fmt.Errorf("failed to schedule task: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"task_id":   t.ID,
		"task_name": t.Name,
		"due_at":    at,
	}).Debug("Task scheduled")
	return nil
}

func (s *RedisScheduler) Run(ctx context.Context, publish func(context.Context, tasks.Task) error) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		if _, err := s.PublishDue(ctx, publish); err != nil {
			s.logger.WithError(err).Warn("Failed to publish due tasks")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// PublishDue moves every task due by now to publish and returns how many it
// moved. A task whose publish fails is put back with its original score.
func (s *RedisScheduler) PublishDue(ctx context.Context, publish func(context.Context, tasks.Task) error) (int, error) {
	nowMillis := s.now().UnixMilli()
	members, err := s.client.ZRangeByScore(ctx, scheduledTasksKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(nowMillis, 10),
		Count: s.batchSize,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read scheduled tasks: %w", err)
	}

	published := 0
	for _, member := range members {
		removed, err := s.client.ZRem(ctx, scheduledTasksKey, member).Result()
		if err != nil {
			return published, fmt.Errorf("failed to claim scheduled task: %w", err)
		}
		if removed == 0 {
			// Another poller claimed it
			continue
		}

		var t tasks.Task
		if err := json.Unmarshal([]byte(member), &t); err != nil {
			s.logger.WithError(err).Error("Dropping undecodable scheduled task")
			continue
		}

		if err := publish(ctx, t); err != nil {
			s.logger.WithError(err).WithField("task_id", t.ID).Warn("Failed to publish due task, rescheduling")
			if zerr := s.client.ZAdd(ctx, scheduledTasksKey, redis.Z{
				Score:  float64(nowMillis),
				Member: member,
			}).Err(); zerr != nil {
				return published, fmt.Errorf("failed to reschedule task %s: %w", t.ID, zerr)
			}
			continue
		}
		published++
	}

	return published, nil
}

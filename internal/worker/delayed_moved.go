package worker

import (
	"context"
	"time"

	"BigqueryIngest/internal/queue"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const moveBatch = 100

func delayedLockKey(queueName string) string {
	return "lock:delayed_moved:" + queueName
}

// MoveDueOnce 在锁保护下把每个队列到期的延时条目移到就绪队列，返回移动总数
func MoveDueOnce(ctx context.Context, rdb *redis.Client, queues []string, workerID string, now time.Time, log zerolog.Logger) int {
	total := 0
	for _, q := range queues {
		lockKey := delayedLockKey(q)
		// 获取锁
		got, err := queue.AcquireLock(ctx, rdb, lockKey, workerID, 5*time.Second)
		if err != nil {
			log.Error().Err(err).Str("queue", q).Msg("acquire delayed lock failed")
			continue
		}
		if !got {
			continue
		}
		moved, err := queue.MoveDueDelayedToReadyAtomic(ctx, rdb, q, now, moveBatch)
		if err != nil {
			log.Error().Err(err).Str("queue", q).Msg("move delayed failed")
		} else if moved > 0 {
			log.Info().Str("queue", q).Int("count", moved).Msg("delayed moved to ready")
		}
		total += moved
		// 释放锁
		if _, err := queue.ReleaseLock(ctx, rdb, lockKey, workerID); err != nil {
			log.Warn().Err(err).Str("queue", q).Msg("release delayed lock failed")
		}
	}
	return total
}

// StartDelayedMover 周期执行 MoveDueOnce 直到 ctx 结束
func StartDelayedMover(ctx context.Context, rdb *redis.Client, queues []string, workerID string, interval time.Duration, log zerolog.Logger) {
	tkr := time.NewTicker(interval)
	defer tkr.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-tkr.C:
			MoveDueOnce(ctx, rdb, queues, workerID, now, log)
		}
	}
}

package worker

import (
	"context"
	"time"

	"BigqueryIngest/internal/lease"
	"BigqueryIngest/internal/queue"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// InflightReaper 把崩溃 worker 遗留在 inflight 中的条目放回就绪队列
// 条目第一次被看到后超过 grace 且没有派发租约，视为遗留
type InflightReaper struct {
	rdb       *redis.Client
	queues    []string
	grace     time.Duration
	firstSeen map[string]time.Time
	now       func() time.Time
	log       zerolog.Logger
}

func NewInflightReaper(rdb *redis.Client, queues []string, leaseTTL time.Duration, log zerolog.Logger) *InflightReaper {
	return &InflightReaper{
		rdb:       rdb,
		queues:    queues,
		grace:     2 * leaseTTL,
		firstSeen: make(map[string]time.Time),
		now:       time.Now,
		log:       log,
	}
}

// WithClock 替换时钟，便于测试
func (r *InflightReaper) WithClock(now func() time.Time) *InflightReaper {
	r.now = now
	return r
}

func (r *InflightReaper) Start(ctx context.Context, interval time.Duration) {
	tkr := time.NewTicker(interval)
	defer tkr.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tkr.C:
			r.ReapOnce(ctx)
		}
	}
}

// ReapOnce 扫描一轮，返回放回就绪队列的条目数
func (r *InflightReaper) ReapOnce(ctx context.Context) int {
	now := r.now()
	seen := make(map[string]time.Time)
	requeued := 0
	for _, q := range r.queues {
		items, err := r.rdb.LRange(ctx, queue.InflightKey(q), 0, -1).Result()
		if err != nil {
			r.log.Error().Err(err).Str("queue", q).Msg("list inflight failed")
			continue
		}
		for _, raw := range items {
			key := q + "\x00" + raw
			first, ok := r.firstSeen[key]
			if !ok {
				first = now
			}
			seen[key] = first
			if now.Sub(first) < r.grace {
				continue
			}

			task, err := queue.Decode(raw)
			if err == nil {
				// 若租约键仍存在，说明可能还在执行，跳过
				held, err := r.rdb.Exists(ctx, lease.DispatchKey(task.ID.String())).Result()
				if err != nil {
					r.log.Warn().Err(err).Msg("check dispatch lease failed")
					continue
				}
				if held > 0 {
					continue
				}
			}

			moved, err := queue.RequeueInflight(ctx, r.rdb, q, raw)
			if err != nil {
				r.log.Error().Err(err).Str("queue", q).Msg("requeue inflight failed")
				continue
			}
			delete(seen, key)
			if moved {
				requeued++
				r.log.Warn().Str("queue", q).Str("task_id", task.ID.String()).Msg("orphaned entry requeued")
			}
		}
	}
	r.firstSeen = seen
	return requeued
}

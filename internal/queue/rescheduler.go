package queue

import (
	"context"
	"time"

	"BigqueryIngest/internal/domain"
	"BigqueryIngest/internal/metrics"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Rescheduler 把未完成的触发重新放入延时队列；不等待被延后的工作执行
type Rescheduler struct {
	rdb          *redis.Client
	defaultQueue string
	now          func() time.Time
	log          zerolog.Logger
}

func NewRescheduler(rdb *redis.Client, defaultQueue string, log zerolog.Logger) *Rescheduler {
	return &Rescheduler{rdb: rdb, defaultQueue: defaultQueue, now: time.Now, log: log}
}

// WithClock 替换时钟，便于测试
func (r *Rescheduler) WithClock(now func() time.Time) *Rescheduler {
	r.now = now
	return r
}

// Defer 以绝对时间 eta 入队；未指定队列名时落到默认队列
// 参数原样转发，重复执行与原始触发等价
func (r *Rescheduler) Defer(ctx context.Context, task domain.ScheduledTask, eta time.Time) (domain.ScheduledTask, error) {
	if task.QueueName == "" {
		task.QueueName = r.defaultQueue
	}
	task.ID = uuid.New()
	task.ETA = eta
	task.Attempt = 0

	payload, err := Encode(task)
	if err != nil {
		return domain.ScheduledTask{}, err
	}
	if err := EnqueueDelayed(ctx, r.rdb, task.QueueName, payload, eta); err != nil {
		return domain.ScheduledTask{}, errors.Wrapf(err, "enqueue delayed %s", task.Endpoint)
	}
	metrics.Deferrals.WithLabelValues(task.QueueName).Inc()
	r.log.Info().
		Str("task_id", task.ID.String()).
		Str("queue", task.QueueName).
		Str("endpoint", task.Endpoint).
		Time("eta", eta).
		Msg("task deferred")
	return task, nil
}

// DeferIn 以相对倒计时入队
func (r *Rescheduler) DeferIn(ctx context.Context, task domain.ScheduledTask, countdown time.Duration) (domain.ScheduledTask, error) {
	return r.Defer(ctx, task, r.now().Add(countdown))
}

package worker

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"BigqueryIngest/internal/domain"
	"BigqueryIngest/internal/lease"
	"BigqueryIngest/internal/metrics"
	"BigqueryIngest/internal/queue"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	HeaderQueueName  = "X-Queue-Name"
	HeaderRetryCount = "X-Task-Retry-Count"
)

const (
	outcomeSucceeded = "succeeded"
	outcomeRetried   = "retried"
	outcomeDead      = "dead"
	outcomeSkipped   = "skipped"
)

type DispatcherOptions struct {
	BaseURL     string
	Rate        float64 // 每秒最多回调次数
	MaxAttempts int
	BackoffBase time.Duration
	Timeout     time.Duration
}

// Dispatcher 把到期的队列条目以 GET 回调 api 进程，并按响应决定完成、重试或进入死信
type Dispatcher struct {
	rdb      *redis.Client
	leases   *lease.Manager
	client   *http.Client
	limiter  *rate.Limiter
	opts     DispatcherOptions
	workerID string
	now      func() time.Time
	log      zerolog.Logger
}

func NewDispatcher(rdb *redis.Client, leases *lease.Manager, workerID string, opts DispatcherOptions, log zerolog.Logger) *Dispatcher {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 5 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	limit := rate.Inf
	if opts.Rate > 0 {
		limit = rate.Limit(opts.Rate)
	}
	return &Dispatcher{
		rdb:      rdb,
		leases:   leases,
		client:   &http.Client{Timeout: opts.Timeout},
		limiter:  rate.NewLimiter(limit, 1),
		opts:     opts,
		workerID: workerID,
		now:      time.Now,
		log:      log,
	}
}

// WithClock 替换时钟，便于测试
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// Consume 阻塞消费一个队列：条目移入 inflight 并取得租约后才交给 pool 排队
func (d *Dispatcher) Consume(ctx context.Context, queueName string, pool *Pool) {
	for {
		raw, err := d.rdb.BLMove(ctx, queue.ReadyKey(queueName), queue.InflightKey(queueName), "LEFT", "RIGHT", 5*time.Second).Result()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if err != redis.Nil {
				d.log.Error().Err(err).Str("queue", queueName).Msg("blmove failed")
				time.Sleep(time.Second)
			}
			continue
		}
		c, ok := d.claim(ctx, queueName, raw)
		if !ok {
			continue
		}
		if !pool.Submit(func(ctx context.Context) { d.dispatch(ctx, c) }) {
			// pool 已停止：放弃租约，条目留在 inflight 由 reaper 放回
			d.abandon(c)
			return
		}
	}
}

// Handle 处理一个已移入 inflight 的条目
func (d *Dispatcher) Handle(ctx context.Context, queueName, raw string) {
	c, ok := d.claim(ctx, queueName, raw)
	if !ok {
		return
	}
	d.dispatch(ctx, c)
}

// claimed 已持有派发租约、等待回调的条目
type claimed struct {
	queueName string
	raw       string
	task      domain.ScheduledTask
	stop      context.CancelFunc
}

// claim 解码并取得派发租约；租约在排队期间持续续期，reaper 不会回收
func (d *Dispatcher) claim(ctx context.Context, queueName, raw string) (*claimed, bool) {
	task, err := queue.Decode(raw)
	if err != nil {
		d.log.Error().Err(err).Str("queue", queueName).Msg("drop undecodable entry")
		_ = queue.EnqueueDLQ(ctx, d.rdb, queueName, raw)
		_ = queue.AckInflight(ctx, d.rdb, queueName, raw)
		return nil, false
	}
	if task.QueueName == "" {
		task.QueueName = queueName
	}
	id := task.ID.String()

	// 设置租约，失败说明其他 worker 正在回调同一条目
	ok, err := d.leases.Acquire(ctx, id)
	if err != nil || !ok {
		d.log.Warn().Err(err).Str("task_id", id).Msg("dispatch lease occupied")
		d.count(task.QueueName, outcomeSkipped)
		return nil, false
	}
	renewCtx, cancel := context.WithCancel(ctx)
	go func() {
		tk := time.NewTicker(d.leases.TTL() / 3)
		defer tk.Stop()
		for {
			select {
			case <-renewCtx.Done():
				return
			case <-tk.C:
				_, _ = d.leases.Renew(renewCtx, id)
			}
		}
	}()
	return &claimed{queueName: queueName, raw: raw, task: task, stop: cancel}, true
}

func (d *Dispatcher) abandon(c *claimed) {
	c.stop()
	_, _ = d.leases.Release(context.Background(), c.task.ID.String())
}

func (d *Dispatcher) dispatch(ctx context.Context, c *claimed) {
	task := c.task
	id := task.ID.String()
	defer func() {
		c.stop()
		_ = queue.AckInflight(ctx, d.rdb, c.queueName, c.raw)
		_, _ = d.leases.Release(ctx, id)
	}()

	if err := d.limiter.Wait(ctx); err != nil {
		return
	}
	status, err := d.call(ctx, task)
	switch {
	case err == nil && status < 300:
		d.count(task.QueueName, outcomeSucceeded)
		d.log.Info().Str("task_id", id).Str("endpoint", task.Endpoint).Int("status", status).Msg("task dispatched")
	case err == nil && status < 500:
		// 4xx 为终态，重试不会改变结果
		d.dead(ctx, task, "status "+strconv.Itoa(status))
	default:
		reason := "status " + strconv.Itoa(status)
		if err != nil {
			reason = err.Error()
		}
		d.retry(ctx, task, reason)
	}
}

func (d *Dispatcher) call(ctx context.Context, task domain.ScheduledTask) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, task.URL(d.opts.BaseURL), nil)
	if err != nil {
		return 0, errors.Wrap(err, "build request")
	}
	req.Header.Set(HeaderQueueName, task.QueueName)
	req.Header.Set(HeaderRetryCount, strconv.Itoa(task.Attempt))

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, errors.Wrapf(err, "GET %s", task.Endpoint)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// Backoff 第 attempt 次重试的等待时间：base * 2^(attempt-1)
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base * time.Duration(1<<(attempt-1))
}

func (d *Dispatcher) retry(ctx context.Context, task domain.ScheduledTask, reason string) {
	task.Attempt++
	if task.Attempt >= d.opts.MaxAttempts {
		d.dead(ctx, task, reason)
		return
	}
	next := d.now().Add(Backoff(d.opts.BackoffBase, task.Attempt))
	task.ETA = next
	payload, err := queue.Encode(task)
	if err != nil {
		d.log.Error().Err(err).Str("task_id", task.ID.String()).Msg("encode retry failed")
		return
	}
	if err := queue.EnqueueDelayed(ctx, d.rdb, task.QueueName, payload, next); err != nil {
		d.log.Error().Err(err).Str("task_id", task.ID.String()).Msg("enqueue delayed failed")
		return
	}
	d.count(task.QueueName, outcomeRetried)
	d.log.Warn().Str("task_id", task.ID.String()).Str("reason", reason).Int("attempt", task.Attempt).
		Time("eta", next).Msg("task scheduled for retry")
}

func (d *Dispatcher) dead(ctx context.Context, task domain.ScheduledTask, reason string) {
	payload, err := queue.Encode(task)
	if err != nil {
		d.log.Error().Err(err).Str("task_id", task.ID.String()).Msg("encode dlq entry failed")
		return
	}
	if err := queue.EnqueueDLQ(ctx, d.rdb, task.QueueName, payload); err != nil {
		d.log.Error().Err(err).Str("task_id", task.ID.String()).Msg("enqueue dlq failed")
		return
	}
	d.count(task.QueueName, outcomeDead)
	d.log.Error().Str("task_id", task.ID.String()).Str("endpoint", task.Endpoint).Str("reason", reason).
		Int("attempt", task.Attempt).Msg("task moved to DLQ")
}

// count 同时记录 Prometheus 计数与 Redis 中的按 worker 统计
func (d *Dispatcher) count(queueName, outcome string) {
	metrics.Dispatches.WithLabelValues(queueName, outcome).Inc()
	_ = d.rdb.Incr(context.Background(), WorkerMetricKey(d.workerID, queueName, outcome)).Err()
}

// WorkerMetricKey metrics:worker:<workerID>:<queue>:<outcome>
func WorkerMetricKey(workerID, queueName, outcome string) string {
	return "metrics:worker:" + workerID + ":" + queueName + ":" + outcome
}

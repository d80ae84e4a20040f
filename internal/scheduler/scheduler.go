package scheduler

import (
	"context"
	"strconv"
	"time"

	"BigqueryIngest/internal/domain"
	"BigqueryIngest/internal/queue"
	"BigqueryIngest/internal/repo"
	"BigqueryIngest/internal/service"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// 补偿策略参数
const (
	maxCatchupWindows  = 10        // 最多补偿 10 次
	maxCatchupDuration = time.Hour // 只补最近 1 小时内的漏触发
)

// Scheduler 负责：周期性扫描 schedules 表，按 cron 生成触发条目并放入就绪队列
type Scheduler struct {
	db       *pgxpool.Pool
	rdb      *redis.Client
	interval time.Duration
	timezone *time.Location
	log      zerolog.Logger
}

// NewScheduler 创建一个 Scheduler，tz 为规则未指定时区时使用的默认时区
func NewScheduler(db *pgxpool.Pool, rdb *redis.Client, interval time.Duration, tz string, log zerolog.Logger) (*Scheduler, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, err
	}
	return &Scheduler{db: db, rdb: rdb, interval: interval, timezone: loc, log: log}, nil
}

// Run 每隔 interval 调用一次 tickOnce，直到 ctx 结束
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info().Dur("interval", s.interval).Msg("scheduler started")
	tkr := time.NewTicker(s.interval)
	defer tkr.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("scheduler stopped")
			return
		case <-tkr.C:
			if err := s.tickOnce(ctx); err != nil {
				s.log.Error().Err(err).Msg("scheduler tick failed")
			}
		}
	}
}

// tickOnce 扫描所有启用的 schedule, 判断是否需要触发
func (s *Scheduler) tickOnce(ctx context.Context) error {
	enabled := true
	schedules, err := repo.ListSchedules(ctx, s.db, &enabled)
	if err != nil {
		return err
	}
	now := time.Now()

	totalCatchup := 0   // 补跑的次数总和
	totalTriggered := 0 // 成功触发的条目数总和
	for _, sch := range schedules {
		catchup, triggered, err := s.handleSchedule(ctx, sch, now)
		if err != nil {
			s.log.Error().Err(err).Str("schedule_id", sch.ID.String()).Msg("handle schedule failed")
			continue
		}
		totalCatchup += catchup
		totalTriggered += triggered
	}

	_ = s.rdb.Incr(ctx, "metrics:scheduler:ticks").Err()
	_ = s.rdb.HSet(ctx, "metrics:scheduler:last", map[string]any{
		"time":            now.Format(time.RFC3339),
		"enabled_count":   len(schedules),
		"catchup_count":   totalCatchup,
		"triggered_count": totalTriggered,
	}).Err()

	s.log.Debug().Int("enabled", len(schedules)).Int("catchup", totalCatchup).Int("triggered", totalTriggered).Msg("tick")
	return nil
}

func (s *Scheduler) location(sch domain.Schedule) *time.Location {
	if sch.Timezone == "" {
		return s.timezone
	}
	loc, err := time.LoadLocation(sch.Timezone)
	if err != nil {
		return s.timezone
	}
	return loc
}

// FireTimes 计算 (last, now] 内需要触发的时间点，最多 limit 个，早于 cutoff 的被跳过
func FireTimes(sched cron.Schedule, last, now, cutoff time.Time, limit int) []time.Time {
	var out []time.Time
	for len(out) < limit {
		next := sched.Next(last)
		if next.After(now) {
			break
		}
		last = next
		if next.Before(cutoff) {
			continue
		}
		out = append(out, next)
	}
	return out
}

func (s *Scheduler) handleSchedule(ctx context.Context, sch domain.Schedule, now time.Time) (int, int, error) {
	cronSched, err := service.CronParser.Parse(sch.CronExpr)
	if err != nil {
		return 0, 0, err
	}
	loc := s.location(sch)
	now = now.In(loc)

	// 计算上次 trigger 时间；没触发过则从上一个 tick 开始
	last := now.Add(-s.interval)
	if sch.LastTriggeredAt != nil {
		last = sch.LastTriggeredAt.In(loc)
	}

	fires := FireTimes(cronSched, last, now, now.Add(-maxCatchupDuration), maxCatchupWindows)
	triggered := 0
	prev := last
	for _, fire := range fires {
		task := BuildTrigger(sch, prev, fire)
		if err := s.enqueue(ctx, task); err != nil {
			s.log.Error().Err(err).Str("schedule_id", sch.ID.String()).Time("fire_at", fire).Msg("trigger schedule failed")
		} else {
			triggered++
			s.log.Info().Str("schedule_id", sch.ID.String()).Str("task_id", task.ID.String()).
				Str("endpoint", task.Endpoint).Time("fire_at", fire).Msg("schedule triggered")
		}
		// 更新 last_triggered_at
		if err := repo.UpdateScheduleLastTriggeredAt(ctx, s.db, sch.ID, fire); err != nil {
			return len(fires), triggered, err
		}
		prev = fire
	}
	return len(fires), triggered, nil
}

// BuildTrigger 生成一次触发条目：先带上规则固定参数，再补充本次时间参数
// batch 覆盖 [prev, fire) 的日志；backup 以 fire 作为备份时间戳
func BuildTrigger(sch domain.Schedule, prev, fire time.Time) domain.ScheduledTask {
	params := append(domain.Params(nil), sch.Params...)
	switch sch.Flow {
	case domain.FlowBatch:
		if _, ok := params.Get("queueName"); !ok {
			params = params.Set("queueName", sch.QueueName)
		}
		params = params.Set("startMs", strconv.FormatInt(prev.UnixMilli(), 10))
		params = params.Set("endMs", strconv.FormatInt(fire.UnixMilli(), 10))
	case domain.FlowBackup:
		params = params.Set("timestamp", strconv.FormatInt(fire.UnixMilli(), 10))
	}
	return domain.ScheduledTask{
		ID:        uuid.New(),
		Endpoint:  sch.Endpoint,
		Params:    params,
		ETA:       fire,
		QueueName: sch.QueueName,
	}
}

func (s *Scheduler) enqueue(ctx context.Context, task domain.ScheduledTask) error {
	payload, err := queue.Encode(task)
	if err != nil {
		return err
	}
	return queue.EnqueueReady(ctx, s.rdb, task.QueueName, payload)
}

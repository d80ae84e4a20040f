package service

import (
	"context"
	"time"

	"BigqueryIngest/internal/domain"
	"BigqueryIngest/internal/repo"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
)

var ErrInvalidSchedule = errors.New("invalid schedule")

// CronParser 与 scheduler 使用同一种解析规则（5 段，支持描述符）
var CronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type ScheduleService struct {
	db     *pgxpool.Pool
	queues []string
}

// NewScheduleService queues 为 worker 消费的队列，第一个为默认队列
func NewScheduleService(db *pgxpool.Pool, queues []string) *ScheduleService {
	return &ScheduleService{db: db, queues: queues}
}

type CreateScheduleParams struct {
	Name      string
	Flow      string
	CronExpr  string
	Timezone  string
	QueueName string
	Params    domain.Params
	Enabled   bool
}

// EndpointForFlow 每个 flow 对应的触发回调路径
func EndpointForFlow(flow string) (string, bool) {
	switch flow {
	case domain.FlowBatch:
		return BatchEndpoint, true
	case domain.FlowBackup:
		return BackupEndpoint, true
	}
	return "", false
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

// BuildSchedule 校验参数并生成待保存的规则；目标队列必须在 queues 中
func BuildSchedule(p CreateScheduleParams, queues []string) (domain.Schedule, error) {
	if len(queues) == 0 {
		return domain.Schedule{}, errors.Wrap(ErrInvalidSchedule, "no consumed queues configured")
	}
	endpoint, ok := EndpointForFlow(p.Flow)
	if !ok {
		return domain.Schedule{}, errors.Wrapf(ErrInvalidSchedule, "unknown flow %q", p.Flow)
	}
	if _, err := CronParser.Parse(p.CronExpr); err != nil {
		return domain.Schedule{}, errors.Wrapf(ErrInvalidSchedule, "cron %q: %v", p.CronExpr, err)
	}
	if _, err := time.LoadLocation(p.Timezone); err != nil {
		return domain.Schedule{}, errors.Wrapf(ErrInvalidSchedule, "timezone %q: %v", p.Timezone, err)
	}
	queue := p.QueueName
	if queue == "" {
		queue = queues[0]
	}
	if !contains(queues, queue) {
		return domain.Schedule{}, errors.Wrapf(ErrInvalidSchedule, "queue %q is not consumed", queue)
	}
	// 批量触发的 queueName 参数决定限流延后投递到哪个队列
	if v, ok := p.Params.Get("queueName"); ok && !contains(queues, v) {
		return domain.Schedule{}, errors.Wrapf(ErrInvalidSchedule, "param queueName %q is not consumed", v)
	}
	params := p.Params
	if params == nil {
		params = domain.Params{}
	}
	return domain.Schedule{
		ID:        uuid.New(),
		Name:      p.Name,
		Flow:      p.Flow,
		CronExpr:  p.CronExpr,
		Timezone:  p.Timezone,
		Endpoint:  endpoint,
		QueueName: queue,
		Params:    params,
		Enabled:   p.Enabled,
	}, nil
}

func (s *ScheduleService) CreateSchedule(ctx context.Context, params CreateScheduleParams) (uuid.UUID, error) {
	sch, err := BuildSchedule(params, s.queues)
	if err != nil {
		return uuid.UUID{}, err
	}
	if err := repo.CreateSchedule(ctx, s.db, &sch); err != nil {
		return uuid.UUID{}, err
	}
	return sch.ID, nil
}

func (s *ScheduleService) ListSchedules(ctx context.Context, enabled *bool) ([]domain.Schedule, error) {
	return repo.ListSchedules(ctx, s.db, enabled)
}

func (s *ScheduleService) ToggleSchedule(ctx context.Context, id uuid.UUID, enabled bool) error {
	return repo.ToggleScheduleEnabled(ctx, s.db, id, enabled)
}

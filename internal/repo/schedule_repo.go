package repo

import (
	"context"
	"encoding/json"
	"time"

	"BigqueryIngest/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const scheduleColumns = `id, name, flow, cron_expr, timezone, endpoint, queue_name, params, enabled, last_triggered_at`

// CreateSchedule 创建定时计划规则
func CreateSchedule(ctx context.Context, db *pgxpool.Pool, s *domain.Schedule) error {
	params, err := json.Marshal(s.Params)
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, `
		INSERT INTO schedules (`+scheduleColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, s.ID, s.Name, s.Flow, s.CronExpr, s.Timezone, s.Endpoint, s.QueueName, params, s.Enabled, s.LastTriggeredAt)
	return err
}

func scanSchedule(row pgx.Row) (domain.Schedule, error) {
	var s domain.Schedule
	var params []byte
	if err := row.Scan(
		&s.ID, &s.Name, &s.Flow, &s.CronExpr, &s.Timezone, &s.Endpoint, &s.QueueName, &params, &s.Enabled, &s.LastTriggeredAt,
	); err != nil {
		return domain.Schedule{}, err
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &s.Params); err != nil {
			return domain.Schedule{}, err
		}
	}
	return s, nil
}

// ListSchedules 简单按 enabled 过滤 （nil 表示不过滤）
func ListSchedules(ctx context.Context, db *pgxpool.Pool, enabled *bool) ([]domain.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules`
	args := []any{}
	if enabled != nil {
		query += " WHERE enabled=$1"
		args = append(args, *enabled)
	}
	query += " ORDER BY name"
	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// GetScheduleByID 根据 ID 查询schedule
func GetScheduleByID(ctx context.Context, db *pgxpool.Pool, id uuid.UUID) (*domain.Schedule, error) {
	s, err := scanSchedule(db.QueryRow(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// UpdateScheduleLastTriggeredAt 更新定时计划规则的最后触发时间
func UpdateScheduleLastTriggeredAt(ctx context.Context, db *pgxpool.Pool, id uuid.UUID, t time.Time) error {
	_, err := db.Exec(ctx, `
		UPDATE schedules
        SET last_triggered_at = $1
        WHERE id = $2
	`, t, id)
	return err
}

// ToggleScheduleEnabled 启停一个 schedule
func ToggleScheduleEnabled(ctx context.Context, db *pgxpool.Pool, id uuid.UUID, enabled bool) error {
	_, err := db.Exec(ctx, `
		UPDATE schedules
        SET enabled = $1
        WHERE id = $2
	`, enabled, id)
	return err
}

package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	FlowBatch  = "batch"  // 日志批量导入（限流）
	FlowBackup = "backup" // 备份完成后导入
)

type Schedule struct {
	ID              uuid.UUID  `json:"id"`                // 调度规则的唯一标识
	Name            string     `json:"name"`              // 名称
	Flow            string     `json:"flow"`              // batch / backup
	CronExpr        string     `json:"cron_expression"`   // cron 表达式
	Timezone        string     `json:"timezone"`          // 时区
	Endpoint        string     `json:"endpoint"`          // 触发的回调路径
	QueueName       string     `json:"queue_name"`        // 入队的队列
	Params          Params     `json:"params"`            // 固定参数
	Enabled         bool       `json:"enabled"`           // 是否启用
	LastTriggeredAt *time.Time `json:"last_triggered_at"` // 上次触发时间（补偿）
}

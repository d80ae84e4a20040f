// Package backup 轮询外部备份注册表，判断某次备份是否已可导入
package backup

import (
	"context"
	"strings"
	"time"

	"BigqueryIngest/internal/domain"
	"BigqueryIngest/internal/metrics"

	"github.com/rs/zerolog"
)

// Registry 按名称区间查询备份记录，升序，最多 limit 条
type Registry interface {
	QueryBackups(ctx context.Context, nameLow, nameHigh string, limit int) ([]domain.BackupRecord, error)
}

type Status int

const (
	NotReady Status = iota
	Ready
	Expired
)

func (s Status) String() string {
	switch s {
	case Ready:
		return "ready"
	case Expired:
		return "expired"
	default:
		return "not_ready"
	}
}

type Result struct {
	Status Status
	Handle string // Ready 时为备份的存储句柄，原样返回
	Record domain.BackupRecord
}

type Poller struct {
	registry Registry
	log      zerolog.Logger
}

func NewPoller(registry Registry, log zerolog.Logger) *Poller {
	return &Poller{registry: registry, log: log}
}

// Poll 查找名称以 namePrefix 开头的备份
// 超过 maxAge 返回 Expired（调用方不应再重试），与注册表内容无关
// 注册表会在前缀后追加日期，因此查询闭区间 [namePrefix, namePrefix+"Z"] 并取第一条
func (p *Poller) Poll(ctx context.Context, namePrefix string, triggeredAt, now time.Time, maxAge time.Duration) Result {
	if now.Sub(triggeredAt) > maxAge {
		metrics.BackupPolls.WithLabelValues(Expired.String()).Inc()
		return Result{Status: Expired}
	}

	res := p.lookup(ctx, namePrefix)
	metrics.BackupPolls.WithLabelValues(res.Status.String()).Inc()
	return res
}

func (p *Poller) lookup(ctx context.Context, namePrefix string) Result {
	records, err := p.registry.QueryBackups(ctx, namePrefix, namePrefix+"Z", 1)
	if err != nil {
		// 注册表查询失败按未就绪处理，由调用方延后重试
		p.log.Error().Err(err).Str("backup_name", namePrefix).Msg("query backup registry failed")
		return Result{Status: NotReady}
	}
	if len(records) != 1 || !strings.Contains(records[0].Name, namePrefix) {
		names := make([]string, 0, len(records))
		for _, r := range records {
			names = append(names, r.Name)
		}
		p.log.Warn().Str("backup_name", namePrefix).Strs("results", names).Msg("backup not found")
		return Result{Status: NotReady}
	}

	rec := records[0]
	if rec.StorageHandle == "" {
		p.log.Warn().Str("backup_name", rec.Name).Msg("backup has no storage handle")
		return Result{Status: NotReady, Record: rec}
	}
	// 句柄存在即视为完成，completion time 缺失不阻塞
	if rec.CompletionTime == nil {
		p.log.Info().Str("backup_name", rec.Name).Msg("backup has handle but no completion time")
	}
	p.log.Info().Str("backup_name", rec.Name).Str("handle", rec.StorageHandle).Msg("backup ready")
	return Result{Status: Ready, Handle: rec.StorageHandle, Record: rec}
}

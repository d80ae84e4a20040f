package gcp

import (
	"context"
	"time"

	"BigqueryIngest/internal/domain"

	"cloud.google.com/go/datastore"
	"github.com/pkg/errors"
)

// BackupInfoKind 托管备份服务写入的元数据实体
const BackupInfoKind = "_AE_Backup_Information"

type backupInfo struct {
	Name         string    `datastore:"name"`
	CompleteTime time.Time `datastore:"complete_time,noindex"`
	GSHandle     string    `datastore:"gs_handle,noindex"`
}

// BackupRegistry 实现 backup.Registry
type BackupRegistry struct {
	client *datastore.Client
}

func NewBackupRegistry(client *datastore.Client) *BackupRegistry {
	return &BackupRegistry{client: client}
}

func (r *BackupRegistry) QueryBackups(ctx context.Context, nameLow, nameHigh string, limit int) ([]domain.BackupRecord, error) {
	q := datastore.NewQuery(BackupInfoKind).
		FilterField("name", ">=", nameLow).
		FilterField("name", "<=", nameHigh).
		Order("name").
		Limit(limit)

	var infos []backupInfo
	if _, err := r.client.GetAll(ctx, q, &infos); err != nil {
		// 实体上还有其它属性，忽略字段不匹配
		var mismatch *datastore.ErrFieldMismatch
		if !errors.As(err, &mismatch) {
			return nil, errors.Wrap(err, "query backup info")
		}
	}

	out := make([]domain.BackupRecord, 0, len(infos))
	for _, info := range infos {
		out = append(out, info.record())
	}
	return out, nil
}

func (b backupInfo) record() domain.BackupRecord {
	rec := domain.BackupRecord{Name: b.Name, StorageHandle: b.GSHandle}
	if !b.CompleteTime.IsZero() {
		t := b.CompleteTime
		rec.CompletionTime = &t
	}
	return rec
}

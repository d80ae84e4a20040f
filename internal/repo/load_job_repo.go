package repo

import (
	"context"
	"encoding/json"
	"strconv"

	"BigqueryIngest/internal/domain"

	"github.com/jackc/pgx/v5/pgxpool"
)

// LoadJobRepo 记录每次导入任务提交的结果，实现 service.JobRecorder
type LoadJobRepo struct {
	db *pgxpool.Pool
}

func NewLoadJobRepo(db *pgxpool.Pool) *LoadJobRepo {
	return &LoadJobRepo{db: db}
}

// InsertLoadJob 插入一条提交记录
func (r *LoadJobRepo) InsertLoadJob(ctx context.Context, rec domain.LoadJobRecord) error {
	uris, err := json.Marshal(rec.SourceURIs)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO load_jobs (id, flow, kind, job_id, destination, source_uris, status, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, rec.ID, rec.Flow, rec.Kind, rec.JobID, rec.Destination, uris, rec.Status, rec.Error, rec.CreatedAt)
	return err
}

// ListRecentLoadJobs 按时间倒序列出最近的提交记录，flow 为空表示不过滤
func (r *LoadJobRepo) ListRecentLoadJobs(ctx context.Context, flow string, limit int) ([]domain.LoadJobRecord, error) {
	query := `
		SELECT id, flow, kind, job_id, destination, source_uris, status, error, created_at
		FROM load_jobs`
	args := []any{}
	if flow != "" {
		query += " WHERE flow=$1"
		args = append(args, flow)
	}
	args = append(args, limit)
	query += " ORDER BY created_at DESC LIMIT $" + strconv.Itoa(len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.LoadJobRecord
	for rows.Next() {
		var rec domain.LoadJobRecord
		var uris []byte
		if err := rows.Scan(&rec.ID, &rec.Flow, &rec.Kind, &rec.JobID, &rec.Destination, &uris, &rec.Status, &rec.Error, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(uris, &rec.SourceURIs); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

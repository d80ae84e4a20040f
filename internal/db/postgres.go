package db

import (
	"context"
	"time"

	"github.com/avast/retry-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

func Init(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "parse postgres dsn")
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "create postgres pool")
	}
	//连接测试
	err = retry.Do(
		func() error { return pool.Ping(ctx) },
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
	)
	if err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}
	return pool, nil
}

func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS schedules (
            id UUID PRIMARY KEY,
            name TEXT NOT NULL,
            flow TEXT NOT NULL,
            cron_expr TEXT NOT NULL,
            timezone TEXT NOT NULL,
            endpoint TEXT NOT NULL,
            queue_name TEXT NOT NULL,
            params JSONB NOT NULL DEFAULT '[]',
            enabled BOOLEAN NOT NULL DEFAULT TRUE,
            last_triggered_at TIMESTAMPTZ,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
		`CREATE TABLE IF NOT EXISTS load_jobs (
            id UUID PRIMARY KEY,
            flow TEXT NOT NULL,
            kind TEXT NOT NULL DEFAULT '',
            job_id TEXT NOT NULL DEFAULT '',
            destination TEXT NOT NULL,
            source_uris JSONB NOT NULL,
            status TEXT NOT NULL,
            error TEXT NOT NULL DEFAULT '',
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
		`CREATE INDEX IF NOT EXISTS idx_load_jobs_created_at ON load_jobs(created_at DESC);`,
	}
	for _, q := range ddl {
		if _, err := pool.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "ensure schema")
		}
	}
	return nil
}

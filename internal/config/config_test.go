package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, []string{"default"}, cfg.QueueNames)
	assert.Equal(t, "default", cfg.DefaultQueue())
	assert.Equal(t, "bigquery-load", cfg.LoadRateLimitKey)
	assert.Equal(t, 60*time.Second, cfg.LoadDelay)
	assert.Equal(t, 15*time.Minute, cfg.BackupMaxAge)
	assert.Equal(t, 3*time.Minute, cfg.BackupRetryCountdown)
}

func TestLoad_QueueNamesTrimmed(t *testing.T) {
	t.Setenv("QUEUE_NAMES", " bq-load , ,backup")
	t.Setenv("WORKER_CONCURRENCY", "0")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"bq-load", "backup"}, cfg.QueueNames)
	assert.Equal(t, 1, cfg.WorkerConcurrency)
}

func TestLoad_BigqueryProjectFallsBackToGCPProject(t *testing.T) {
	t.Setenv("GCP_PROJECT_ID", "streak-logs")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "streak-logs", cfg.BigqueryProjectID)
}

func TestLoad_RejectsNonPositiveDelay(t *testing.T) {
	t.Setenv("LOAD_DELAY", "0s")

	_, err := Load()
	assert.Error(t, err)
}

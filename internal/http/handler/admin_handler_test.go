package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"BigqueryIngest/internal/domain"
	"BigqueryIngest/internal/queue"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func do(r *gin.Engine, method, target, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	r.ServeHTTP(w, req)
	return w
}

func TestReadyz(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/readyz", NewHealthHandler(pinger{}, pinger{}).Readyz)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/readyz", "").Code)

	r = gin.New()
	r.GET("/readyz", NewHealthHandler(pinger{}, pinger{err: errors.New("down")}).Readyz)
	w := do(r, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "redis ping failed")
}

func TestQueueHandler_ListAndReplayDLQ(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	ctx := context.Background()

	task := domain.ScheduledTask{ID: uuid.New(), Endpoint: "/loadCloudStorageToBigquery", QueueName: "default", Attempt: 4}
	raw, err := queue.Encode(task)
	require.NoError(t, err)
	require.NoError(t, queue.EnqueueDLQ(ctx, rdb, "default", raw))

	h := NewQueueHandler(rdb)
	r := gin.New()
	r.GET("/api/v1/queues/:name/dlq", h.ListDLQ)
	r.POST("/api/v1/queues/:name/dlq/replay", h.ReplayDLQ)

	w := do(r, http.MethodGet, "/api/v1/queues/default/dlq", "")
	require.Equal(t, http.StatusOK, w.Code)
	var listed struct {
		Count int                    `json:"count"`
		Items []domain.ScheduledTask `json:"items"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	assert.Equal(t, 1, listed.Count)
	assert.Equal(t, task.ID, listed.Items[0].ID)

	w = do(r, http.MethodPost, "/api/v1/queues/default/dlq/replay", `{"count":5,"reset_attempts":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"moved":1`)

	ready, err := rdb.LRange(ctx, queue.ReadyKey("default"), 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, ready, 1)
	replayed, err := queue.Decode(ready[0])
	require.NoError(t, err)
	assert.Zero(t, replayed.Attempt)
}

type jobLister struct {
	flow  string
	limit int
}

func (j *jobLister) ListRecentLoadJobs(_ context.Context, flow string, limit int) ([]domain.LoadJobRecord, error) {
	j.flow, j.limit = flow, limit
	return []domain.LoadJobRecord{{ID: uuid.New(), Flow: flow, Status: domain.LoadJobSubmitted, CreatedAt: time.Now()}}, nil
}

func TestJobsHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	jobs := &jobLister{}
	r := gin.New()
	r.GET("/api/v1/jobs", NewJobsHandler(jobs).ListJobs)

	w := do(r, http.MethodGet, "/api/v1/jobs?flow=backup&limit=10", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "backup", jobs.flow)
	assert.Equal(t, 10, jobs.limit)

	w = do(r, http.MethodGet, "/api/v1/jobs?flow=stream", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWorkerMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	require.NoError(t, mr.Set("metrics:worker:w1:default:succeeded", "3"))

	r := gin.New()
	r.GET("/api/v1/metrics/worker", NewMetricsHandler(rdb, zerolog.Nop()).GetWorkerMetrics)
	w := do(r, http.MethodGet, "/api/v1/metrics/worker", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"outcome":"succeeded"`)
	assert.Contains(t, w.Body.String(), `"value":3`)
}

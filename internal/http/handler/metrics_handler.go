package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type MetricsHandler struct {
	rdb *redis.Client
	log zerolog.Logger
}

func NewMetricsHandler(rdb *redis.Client, log zerolog.Logger) *MetricsHandler {
	return &MetricsHandler{rdb: rdb, log: log}
}

// GET /api/v1/metrics/scheduler
func (h *MetricsHandler) GetSchedulerMetrics(c *gin.Context) {
	ctx := c.Request.Context()
	last, err := h.rdb.HGetAll(ctx, "metrics:scheduler:last").Result()
	if err != nil {
		h.log.Error().Err(err).Msg("get scheduler metrics failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	ticks, err := h.rdb.Get(ctx, "metrics:scheduler:ticks").Int64()
	if err != nil && err != redis.Nil {
		h.log.Error().Err(err).Msg("get scheduler ticks failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ticks": ticks,
		"last":  last, // 包含 time, enabled_count, catchup_count, triggered_count
	})
}

// GET /api/v1/metrics/worker
func (h *MetricsHandler) GetWorkerMetrics(c *gin.Context) {
	ctx := c.Request.Context()
	type item struct {
		Worker  string `json:"worker"`
		Queue   string `json:"queue"`
		Outcome string `json:"outcome"`
		Value   int64  `json:"value"`
	}
	list := []item{}
	// metrics:worker:<workerID>:<queue>:<outcome>
	iter := h.rdb.Scan(ctx, 0, "metrics:worker:*", 1000).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		parts := strings.Split(k, ":")
		if len(parts) != 5 {
			continue
		}
		val, _ := h.rdb.Get(ctx, k).Int64()
		list = append(list, item{Worker: parts[2], Queue: parts[3], Outcome: parts[4], Value: val})
	}
	if err := iter.Err(); err != nil {
		h.log.Error().Err(err).Msg("scan worker metrics failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"metrics": list, "count": len(list)})
}

package handler

import (
	"net/http"
	"strconv"

	"BigqueryIngest/internal/domain"
	"BigqueryIngest/internal/queue"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

type QueueHandler struct {
	rdb *redis.Client
}

func NewQueueHandler(rdb *redis.Client) *QueueHandler {
	return &QueueHandler{rdb: rdb}
}

// GET /api/v1/queues/:name/dlq?count=50
func (h *QueueHandler) ListDLQ(c *gin.Context) {
	name := c.Param("name")
	count := int64(50)
	if v, err := strconv.Atoi(c.Query("count")); err == nil && v > 0 {
		count = int64(v)
	}
	raw, err := queue.ListDLQ(c.Request.Context(), h.rdb, name, 0, count-1)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list dlq failed", "detail": err.Error()})
		return
	}
	items := make([]domain.ScheduledTask, 0, len(raw))
	var undecodable []string
	for _, r := range raw {
		task, err := queue.Decode(r)
		if err != nil {
			undecodable = append(undecodable, r)
			continue
		}
		items = append(items, task)
	}
	body := gin.H{"queue": name, "count": len(raw), "items": items}
	if len(undecodable) > 0 {
		body["undecodable"] = undecodable
	}
	c.JSON(http.StatusOK, body)
}

// POST /api/v1/queues/:name/dlq/replay
type ReplayDLQRequest struct {
	Count         int  `json:"count"`
	ResetAttempts bool `json:"reset_attempts"`
}

func (h *QueueHandler) ReplayDLQ(c *gin.Context) {
	name := c.Param("name")
	var req ReplayDLQRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Count <= 0 {
		req.Count = 1
	}
	moved, err := queue.ReplayDLQ(c.Request.Context(), h.rdb, name, req.Count, req.ResetAttempts)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "replay dlq failed", "detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"queue": name, "moved": moved})
}

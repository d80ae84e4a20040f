package handler

import (
	"net/http"

	"BigqueryIngest/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

type WorkerHandler struct {
	rdb *redis.Client
}

func NewWorkerHandler(rdb *redis.Client) *WorkerHandler {
	return &WorkerHandler{rdb: rdb}
}

// GET /api/v1/workers
func (h *WorkerHandler) ListWorkers(c *gin.Context) {
	workers, err := worker.ListLiveWorkers(c.Request.Context(), h.rdb)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list workers failed", "detail": err.Error()})
		return
	}
	if workers == nil {
		workers = []worker.LiveWorker{}
	}
	c.JSON(http.StatusOK, gin.H{"workers": workers, "count": len(workers)})
}

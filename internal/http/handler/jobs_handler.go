package handler

import (
	"context"
	"net/http"
	"strconv"

	"BigqueryIngest/internal/domain"

	"github.com/gin-gonic/gin"
)

// JobLister 由 repo.LoadJobRepo 实现
type JobLister interface {
	ListRecentLoadJobs(ctx context.Context, flow string, limit int) ([]domain.LoadJobRecord, error)
}

type JobsHandler struct {
	jobs JobLister
}

func NewJobsHandler(jobs JobLister) *JobsHandler {
	return &JobsHandler{jobs: jobs}
}

// GET /api/v1/jobs?flow=backup&limit=50
func (h *JobsHandler) ListJobs(c *gin.Context) {
	limit := 50
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 && v <= 500 {
		limit = v
	}
	flow := c.Query("flow")
	if flow != "" && flow != domain.FlowBatch && flow != domain.FlowBackup {
		c.JSON(http.StatusBadRequest, gin.H{"error": "flow must be batch or backup"})
		return
	}
	jobs, err := h.jobs.ListRecentLoadJobs(c.Request.Context(), flow, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list jobs failed", "detail": err.Error()})
		return
	}
	if jobs == nil {
		jobs = []domain.LoadJobRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "count": len(jobs)})
}

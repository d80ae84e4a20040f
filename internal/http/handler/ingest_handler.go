package handler

import (
	"context"
	"net/http"

	"BigqueryIngest/internal/domain"
	"BigqueryIngest/internal/export"
	"BigqueryIngest/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Ingestor 由 service.IngestService 实现
type Ingestor interface {
	RunBatch(ctx context.Context, req service.BatchRequest) (service.BatchResult, error)
	RunBackup(ctx context.Context, req service.BackupRequest) (service.BackupResult, error)
}

type IngestHandler struct {
	svc Ingestor
	log zerolog.Logger
}

func NewIngestHandler(svc Ingestor, log zerolog.Logger) *IngestHandler {
	return &IngestHandler{svc: svc, log: log}
}

// Register 挂载两个触发入口（GET，参数在 query string 中）
func (h *IngestHandler) Register(r gin.IRouter) {
	r.GET(service.BatchEndpoint, h.LoadCloudStorage)
	r.GET(service.BackupEndpoint, h.IngestBackup)
}

// 保留原始参数顺序，延后重试时原样转发
func triggerParams(c *gin.Context) domain.Params {
	return domain.ParamsFromQuery(c.Request.URL.RawQuery)
}

// GET /loadCloudStorageToBigquery
func (h *IngestHandler) LoadCloudStorage(c *gin.Context) {
	req, err := service.ParseBatchRequest(triggerParams(c))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.svc.RunBatch(c.Request.Context(), req)
	if err != nil {
		status := statusFor(err)
		h.log.Error().Err(err).Int("status", status).Str("table", req.TableID).Msg("batch load failed")
		c.JSON(status, gin.H{"error": err.Error(), "uris": len(res.URIs)})
		return
	}
	if res.Deferred {
		c.JSON(http.StatusOK, gin.H{"status": "deferred", "retry_at": res.RetryAt.UTC()})
		return
	}
	if len(res.URIs) == 0 {
		c.JSON(http.StatusOK, gin.H{"status": "no_uris", "uris": 0})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "submitted", "uris": len(res.URIs), "job_id": res.JobID})
}

// GET /builtinDatastoreToBigqueryIngestorTask
func (h *IngestHandler) IngestBackup(c *gin.Context) {
	req, err := service.ParseBackupRequest(triggerParams(c))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.svc.RunBackup(c.Request.Context(), req)
	body := gin.H{"backup_name": res.BackupName}
	if res.Status != "" {
		body["status"] = res.Status
	}
	if res.Handle != "" {
		body["handle"] = res.Handle
	}
	if len(res.Kinds) > 0 {
		body["kinds"] = res.Kinds
	}

	switch {
	case res.Status == service.BackupRetrying:
		body["retry_in_seconds"] = int(res.RetryIn.Seconds())
		c.JSON(http.StatusOK, body)
	case res.Status == service.BackupPartial:
		// 部分成功不触发重投，失败的 kind 记录在 body 中
		h.log.Warn().Err(err).Str("backup_name", res.BackupName).Msg("backup ingestion partially failed")
		c.JSON(http.StatusOK, body)
	case err != nil:
		status := statusFor(err)
		h.log.Error().Err(err).Int("status", status).Str("backup_name", res.BackupName).Msg("backup ingestion failed")
		body["error"] = err.Error()
		c.JSON(status, body)
	default:
		c.JSON(http.StatusOK, body)
	}
}

// statusFor 把协调器错误映射为 HTTP 状态码
func statusFor(err error) int {
	var missing *service.MissingParameterError
	var invalid *service.InvalidParameterError
	var submission *service.SubmissionError
	var tableDelete *service.TableDeleteError
	switch {
	case errors.As(err, &missing), errors.As(err, &invalid),
		errors.Is(err, export.ErrUnknownExporterSet),
		errors.Is(err, export.ErrUnknownExportConfig):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrBackupExpired):
		return http.StatusNotFound
	case errors.As(err, &submission), errors.As(err, &tableDelete):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"BigqueryIngest/internal/backup"
	"BigqueryIngest/internal/domain"
	"BigqueryIngest/internal/export"
	"BigqueryIngest/internal/lease"
	"BigqueryIngest/internal/metrics"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	BatchEndpoint  = "/loadCloudStorageToBigquery"
	BackupEndpoint = "/builtinDatastoreToBigqueryIngestorTask"
)

type Reserver interface {
	Reserve(ctx context.Context, key string, window time.Duration) (lease.Reservation, error)
}

type Deferrer interface {
	Defer(ctx context.Context, task domain.ScheduledTask, eta time.Time) (domain.ScheduledTask, error)
	DeferIn(ctx context.Context, task domain.ScheduledTask, countdown time.Duration) (domain.ScheduledTask, error)
}

type BackupPoller interface {
	Poll(ctx context.Context, namePrefix string, triggeredAt, now time.Time, maxAge time.Duration) backup.Result
}

// URILister 列出 [startMs, endMs) 内匹配 selector 的对象 URI，有序
type URILister interface {
	ListObjectURIs(ctx context.Context, bucket, selector string, startMs, endMs int64) ([]string, error)
}

type JobSubmitter interface {
	SubmitLoadJob(ctx context.Context, spec domain.LoadJobSpec) (string, error)
}

// TableManager 表不存在时返回 domain.ErrTableNotFound
type TableManager interface {
	GetTable(ctx context.Context, ref domain.TableRef) error
	DeleteTable(ctx context.Context, ref domain.TableRef) error
}

type JobRecorder interface {
	InsertLoadJob(ctx context.Context, rec domain.LoadJobRecord) error
}

// Deps 外部协作者，进程内初始化一次，无需释放
type Deps struct {
	Limiter     Reserver
	Rescheduler Deferrer
	Poller      BackupPoller
	Lister      URILister
	Schemas     export.LineReader
	Submitter   JobSubmitter
	Tables      TableManager
	Recorder    JobRecorder // 可为 nil
	Configs     *export.ConfigRegistry
}

type Options struct {
	RateLimitKey         string
	LoadDelay            time.Duration
	BackupMaxAge         time.Duration
	BackupRetryCountdown time.Duration
	// Queues worker 实际消费的队列；延后任务只能投递到这些队列
	Queues []string
}

// MaxTimestampSkew 触发时间戳最多可超前当前时间的幅度
const MaxTimestampSkew = 5 * time.Minute

// IngestService 每次触发执行一次：限流或轮询，然后提交导入任务
type IngestService struct {
	Deps
	opts Options
	now  func() time.Time
	log  zerolog.Logger
}

func NewIngestService(deps Deps, opts Options, log zerolog.Logger) *IngestService {
	return &IngestService{Deps: deps, opts: opts, now: time.Now, log: log}
}

// WithClock 替换时钟，便于测试
func (s *IngestService) WithClock(now func() time.Time) *IngestService {
	s.now = now
	return s
}

// consumed 队列是否有 worker 消费；为空的名字交给 Rescheduler 回落到默认队列
func (s *IngestService) consumed(queueName string) bool {
	if queueName == "" {
		return true
	}
	for _, q := range s.opts.Queues {
		if q == queueName {
			return true
		}
	}
	return false
}

// ---- 批量日志导入（限流） ----

type BatchRequest struct {
	QueueName     string
	StartMs       int64
	EndMs         int64
	BucketName    string
	ProjectID     string
	DatasetID     string
	TableID       string
	ExporterSetID string
	Raw           domain.Params
}

// ParseBatchRequest 校验全部必填参数，缺失时不产生任何副作用
func ParseBatchRequest(params domain.Params) (BatchRequest, error) {
	req := BatchRequest{Raw: params}
	str := func(name string, dst *string) error {
		v, ok := params.Get(name)
		if !ok || strings.TrimSpace(v) == "" {
			return &MissingParameterError{Name: name}
		}
		*dst = v
		return nil
	}
	num := func(name string, dst *int64) error {
		var v string
		if err := str(name, &v); err != nil {
			return err
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return &MissingParameterError{Name: name}
		}
		*dst = n
		return nil
	}
	for _, err := range []error{
		str("queueName", &req.QueueName),
		num("startMs", &req.StartMs),
		num("endMs", &req.EndMs),
		str("bucketName", &req.BucketName),
		str("bigqueryProjectId", &req.ProjectID),
		str("bigqueryDatasetId", &req.DatasetID),
		str("bigqueryTableId", &req.TableID),
		str("fieldExporterSetId", &req.ExporterSetID),
	} {
		if err != nil {
			return BatchRequest{}, err
		}
	}
	return req, nil
}

type BatchResult struct {
	Deferred bool
	RetryAt  time.Time
	URIs     []string
	JobID    string
}

func (s *IngestService) RunBatch(ctx context.Context, req BatchRequest) (BatchResult, error) {
	if !s.consumed(req.QueueName) {
		return BatchResult{}, &InvalidParameterError{Name: "queueName", Reason: "queue " + req.QueueName + " is not consumed by any worker"}
	}
	set, err := export.LookupExporterSet(req.ExporterSetID)
	if err != nil {
		return BatchResult{}, err
	}

	res, err := s.Limiter.Reserve(ctx, s.opts.RateLimitKey, s.opts.LoadDelay)
	if err != nil {
		return BatchResult{}, err
	}
	if !res.Proceed {
		task := domain.ScheduledTask{Endpoint: BatchEndpoint, Params: req.Raw, QueueName: req.QueueName}
		if _, err := s.Rescheduler.Defer(ctx, task, res.NextAllowed); err != nil {
			return BatchResult{}, err
		}
		s.log.Info().Str("key", s.opts.RateLimitKey).Time("retry_at", res.NextAllowed).Msg("rate limiting load job")
		return BatchResult{Deferred: true, RetryAt: res.NextAllowed}, nil
	}

	uris, err := s.Lister.ListObjectURIs(ctx, req.BucketName, set.SchemaHash(), req.StartMs, req.EndMs)
	if err != nil {
		return BatchResult{}, errors.Wrapf(err, "list uris in %s", req.BucketName)
	}
	out := BatchResult{URIs: uris}
	s.log.Info().Int("uris", len(uris)).Int64("start_ms", req.StartMs).Int64("end_ms", req.EndMs).Msg("got uris to process")
	if len(uris) == 0 {
		return out, nil
	}

	// 同一批次共享 schema，取第一个文件的描述
	schema, err := export.ReadSchema(ctx, s.Schemas, uris[0])
	if err != nil {
		return out, &SchemaReadError{URI: uris[0], Err: err}
	}

	spec := domain.LoadJobSpec{
		SourceURIs:       uris,
		DestinationTable: domain.TableRef{ProjectID: req.ProjectID, DatasetID: req.DatasetID, TableID: req.TableID},
		Format:           domain.FormatCSV,
		Schema:           schema,
		AppendMode:       true,
	}
	jobID, err := s.submit(ctx, domain.FlowBatch, "", spec)
	if err != nil {
		return out, err
	}
	out.JobID = jobID
	return out, nil
}

// ---- 备份完成后导入 ----

type BackupRequest struct {
	Timestamp      int64
	ExportConfigID string
	Raw            domain.Params
}

func ParseBackupRequest(params domain.Params) (BackupRequest, error) {
	v, _ := params.Get("timestamp")
	ts, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || ts == 0 {
		return BackupRequest{}, &MissingParameterError{Name: "timestamp"}
	}
	id, _ := params.Get("exportConfigId")
	if strings.TrimSpace(id) == "" {
		return BackupRequest{}, &MissingParameterError{Name: "exportConfigId"}
	}
	return BackupRequest{Timestamp: ts, ExportConfigID: id, Raw: params}, nil
}

const (
	BackupRetrying  = "retrying"
	BackupSubmitted = "submitted"
	BackupPartial   = "partial"
	BackupFailed    = "failed"
)

type KindOutcome struct {
	Kind         string `json:"kind"`
	Table        string `json:"table"`
	SourceURI    string `json:"source_uri"`
	DeletedTable bool   `json:"deleted_table,omitempty"`
	JobID        string `json:"job_id,omitempty"`
	Error        string `json:"error,omitempty"`
}

type BackupResult struct {
	Status     string
	BackupName string
	Handle     string
	RetryIn    time.Duration
	Kinds      []KindOutcome
}

// BackupName 备份名 = 配置前缀 + 触发时间戳
func BackupName(prefix string, timestamp int64) string {
	return prefix + strconv.FormatInt(timestamp, 10)
}

// HandleToURI 把备份句柄转为某个 kind 的导入源
func HandleToURI(handle, kind string) string {
	uri := strings.ReplaceAll(handle, "/gs/", "gs://")
	return strings.ReplaceAll(uri, "backup_info", kind+".backup_info")
}

// RunBackup 备份未就绪时延后重试；就绪后对每个 kind 独立提交，单个失败不影响其余
func (s *IngestService) RunBackup(ctx context.Context, req BackupRequest) (BackupResult, error) {
	now := s.now()
	triggeredAt := time.UnixMilli(req.Timestamp)
	// 未来时间戳的备份年龄为负，永远不会判定过期
	if triggeredAt.Sub(now) > MaxTimestampSkew {
		return BackupResult{}, &InvalidParameterError{Name: "timestamp", Reason: "more than " + MaxTimestampSkew.String() + " in the future"}
	}
	cfg, err := s.Configs.Lookup(req.ExportConfigID)
	if err != nil {
		return BackupResult{}, err
	}
	if !s.consumed(cfg.QueueName) {
		return BackupResult{}, &InvalidParameterError{Name: "exportConfigId", Reason: "config " + cfg.ID + " targets unconsumed queue " + cfg.QueueName}
	}
	name := BackupName(cfg.BackupNamePrefix, req.Timestamp)
	out := BackupResult{BackupName: name}

	poll := s.Poller.Poll(ctx, name, triggeredAt, now, s.opts.BackupMaxAge)
	switch poll.Status {
	case backup.Expired:
		s.log.Error().Str("bucket", cfg.BucketName).Str("export_config", cfg.ID).Str("backup_name", name).
			Dur("max_age", s.opts.BackupMaxAge).Msg("cannot find backup after retrying")
		return out, errors.Wrapf(ErrBackupExpired, "%s (config %s, bucket %s)", name, cfg.ID, cfg.BucketName)
	case backup.NotReady:
		task := domain.ScheduledTask{Endpoint: BackupEndpoint, Params: req.Raw, QueueName: cfg.QueueName}
		if _, err := s.Rescheduler.DeferIn(ctx, task, s.opts.BackupRetryCountdown); err != nil {
			return out, err
		}
		s.log.Info().Str("backup_name", name).Dur("retry_in", s.opts.BackupRetryCountdown).Msg("backup incomplete, retrying")
		out.Status = BackupRetrying
		out.RetryIn = s.opts.BackupRetryCountdown
		return out, nil
	}

	out.Handle = poll.Handle
	s.log.Info().Str("backup_name", name).Str("handle", poll.Handle).Msg("backup complete, starting ingestion")

	var merr *multierror.Error
	for _, kind := range cfg.Kinds {
		outcome, err := s.loadKind(ctx, cfg, poll.Handle, kind, req.Timestamp)
		if err != nil {
			outcome.Error = err.Error()
			merr = multierror.Append(merr, err)
		}
		out.Kinds = append(out.Kinds, outcome)
	}

	failed := 0
	if merr != nil {
		failed = len(merr.Errors)
	}
	switch {
	case failed == 0:
		out.Status = BackupSubmitted
	case failed == len(cfg.Kinds):
		out.Status = BackupFailed
	default:
		out.Status = BackupPartial
	}
	return out, merr.ErrorOrNil()
}

func (s *IngestService) loadKind(ctx context.Context, cfg export.ExportConfig, handle, kind string, timestamp int64) (KindOutcome, error) {
	tableID := kind
	if cfg.AppendTimestamp {
		tableID += strconv.FormatInt(timestamp, 10)
	}
	table := domain.TableRef{ProjectID: cfg.ProjectID, DatasetID: cfg.DatasetID, TableID: tableID}
	outcome := KindOutcome{Kind: kind, Table: table.String(), SourceURI: HandleToURI(handle, kind)}

	if !cfg.AppendTimestamp {
		deleted, err := s.dropTable(ctx, table)
		if err != nil {
			return outcome, &TableDeleteError{Kind: kind, Err: err}
		}
		outcome.DeletedTable = deleted
	}

	spec := domain.LoadJobSpec{
		SourceURIs:       []string{outcome.SourceURI},
		DestinationTable: table,
		Format:           domain.FormatDatastoreBackup,
		Options:          map[string]string{"allowQuotedNewlines": "true"},
		AppendMode:       cfg.AppendTimestamp,
	}
	jobID, err := s.submit(ctx, domain.FlowBackup, kind, spec)
	if err != nil {
		return outcome, err
	}
	outcome.JobID = jobID
	return outcome, nil
}

// dropTable 查到旧表则删除；不存在不是错误
func (s *IngestService) dropTable(ctx context.Context, table domain.TableRef) (bool, error) {
	if err := s.Tables.GetTable(ctx, table); err != nil {
		if errors.Is(err, domain.ErrTableNotFound) {
			return false, nil
		}
		return false, errors.Wrapf(err, "get table %s", table)
	}
	s.log.Info().Str("table", table.String()).Msg("deleting old table")
	if err := s.Tables.DeleteTable(ctx, table); err != nil {
		if errors.Is(err, domain.ErrTableNotFound) {
			return false, nil
		}
		return false, errors.Wrapf(err, "delete table %s", table)
	}
	return true, nil
}

func (s *IngestService) submit(ctx context.Context, flow, kind string, spec domain.LoadJobSpec) (string, error) {
	rec := domain.LoadJobRecord{
		ID:          uuid.New(),
		Flow:        flow,
		Kind:        kind,
		Destination: spec.DestinationTable.String(),
		SourceURIs:  spec.SourceURIs,
		CreatedAt:   s.now(),
	}

	jobID, err := s.Submitter.SubmitLoadJob(ctx, spec)
	if err != nil {
		metrics.LoadJobs.WithLabelValues(flow, "failed").Inc()
		s.log.Error().Err(err).Str("kind", kind).Str("table", rec.Destination).Msg("load job submission failed")
		rec.Status = domain.LoadJobFailed
		rec.Error = err.Error()
		s.record(ctx, rec)
		return "", &SubmissionError{Kind: kind, Err: err}
	}

	metrics.LoadJobs.WithLabelValues(flow, "submitted").Inc()
	s.log.Info().Str("kind", kind).Str("table", rec.Destination).Str("job_id", jobID).
		Strs("source_uris", spec.SourceURIs).Msg("load job started")
	rec.Status = domain.LoadJobSubmitted
	rec.JobID = jobID
	s.record(ctx, rec)
	return jobID, nil
}

func (s *IngestService) record(ctx context.Context, rec domain.LoadJobRecord) {
	if s.Recorder == nil {
		return
	}
	if err := s.Recorder.InsertLoadJob(ctx, rec); err != nil {
		s.log.Warn().Err(err).Str("job_id", rec.JobID).Msg("record load job failed")
	}
}

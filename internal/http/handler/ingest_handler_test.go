package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"BigqueryIngest/internal/export"
	"BigqueryIngest/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIngestor struct {
	batchReq  service.BatchRequest
	batchRes  service.BatchResult
	backupReq service.BackupRequest
	backupRes service.BackupResult
	err       error
	calls     int
}

func (f *fakeIngestor) RunBatch(_ context.Context, req service.BatchRequest) (service.BatchResult, error) {
	f.calls++
	f.batchReq = req
	return f.batchRes, f.err
}

func (f *fakeIngestor) RunBackup(_ context.Context, req service.BackupRequest) (service.BackupResult, error) {
	f.calls++
	f.backupReq = req
	return f.backupRes, f.err
}

func serve(t *testing.T, f *fakeIngestor, target string) (*httptest.ResponseRecorder, map[string]any) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewIngestHandler(f, zerolog.Nop()).Register(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body
}

const batchQuery = "/loadCloudStorageToBigquery?queueName=bq-load&startMs=1000&endMs=2000&bucketName=logs" +
	"&bigqueryProjectId=p&bigqueryDatasetId=d&bigqueryTableId=requests&fieldExporterSetId=http-transactions"

func TestLoadCloudStorage_MissingParameter(t *testing.T) {
	f := &fakeIngestor{}
	w, body := serve(t, f, "/loadCloudStorageToBigquery?queueName=bq-load&startMs=1000")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, body["error"], "endMs")
	assert.Zero(t, f.calls)
}

func TestLoadCloudStorage_ForwardsOrderedParams(t *testing.T) {
	f := &fakeIngestor{batchRes: service.BatchResult{URIs: []string{"gs://logs/a"}, JobID: "job-1"}}
	w, body := serve(t, f, batchQuery)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "submitted", body["status"])
	assert.Equal(t, "job-1", body["job_id"])
	assert.Equal(t, int64(1000), f.batchReq.StartMs)
	require.Len(t, f.batchReq.Raw, 8)
	assert.Equal(t, "queueName", f.batchReq.Raw[0].Key)
	assert.Equal(t, "fieldExporterSetId", f.batchReq.Raw[7].Key)
}

func TestLoadCloudStorage_NoURIs(t *testing.T) {
	w, body := serve(t, &fakeIngestor{}, batchQuery)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "no_uris", body["status"])
	assert.EqualValues(t, 0, body["uris"])
}

func TestLoadCloudStorage_Deferred(t *testing.T) {
	f := &fakeIngestor{batchRes: service.BatchResult{Deferred: true, RetryAt: time.UnixMilli(1_700_000_060_000)}}
	w, body := serve(t, f, batchQuery)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "deferred", body["status"])
	assert.NotEmpty(t, body["retry_at"])
}

func TestLoadCloudStorage_ErrorStatuses(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{errors.Wrap(export.ErrUnknownExporterSet, "x"), http.StatusBadRequest},
		{&service.InvalidParameterError{Name: "queueName", Reason: "not consumed"}, http.StatusBadRequest},
		{&service.SubmissionError{Err: errors.New("quota")}, http.StatusBadGateway},
		{&service.SchemaReadError{URI: "gs://a", Err: errors.New("bad")}, http.StatusInternalServerError},
	}
	for _, c := range cases {
		w, body := serve(t, &fakeIngestor{err: c.err}, batchQuery)
		assert.Equal(t, c.want, w.Code, c.err.Error())
		assert.NotEmpty(t, body["error"])
	}
}

func TestIngestBackup_InvalidTimestamp(t *testing.T) {
	f := &fakeIngestor{}
	w, _ := serve(t, f, "/builtinDatastoreToBigqueryIngestorTask?timestamp=0&exportConfigId=datastore-replace")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, f.calls)
}

func TestIngestBackup_ExpiredIsNotFound(t *testing.T) {
	f := &fakeIngestor{
		backupRes: service.BackupResult{BackupName: "bq_backup_1"},
		err:       errors.Wrap(service.ErrBackupExpired, "bq_backup_1"),
	}
	w, body := serve(t, f, "/builtinDatastoreToBigqueryIngestorTask?timestamp=1&exportConfigId=datastore-replace")

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "bq_backup_1", body["backup_name"])
}

func TestIngestBackup_UnknownConfigIsBadRequest(t *testing.T) {
	f := &fakeIngestor{err: errors.Wrap(export.ErrUnknownExportConfig, "nope")}
	w, _ := serve(t, f, "/builtinDatastoreToBigqueryIngestorTask?timestamp=1&exportConfigId=nope")

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIngestBackup_Retrying(t *testing.T) {
	f := &fakeIngestor{backupRes: service.BackupResult{Status: service.BackupRetrying, RetryIn: 3 * time.Minute}}
	w, body := serve(t, f, "/builtinDatastoreToBigqueryIngestorTask?timestamp=1&exportConfigId=datastore-replace")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, service.BackupRetrying, body["status"])
	assert.EqualValues(t, 180, body["retry_in_seconds"])
}

func TestIngestBackup_PartialAndFailed(t *testing.T) {
	kinds := []service.KindOutcome{{Kind: "User", JobID: "job-1"}, {Kind: "Pipeline", Error: "quota"}}
	merr := multierror.Append(nil, &service.SubmissionError{Kind: "Pipeline", Err: errors.New("quota")})

	f := &fakeIngestor{backupRes: service.BackupResult{Status: service.BackupPartial, Kinds: kinds}, err: merr}
	w, body := serve(t, f, "/builtinDatastoreToBigqueryIngestorTask?timestamp=1&exportConfigId=datastore-replace")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, service.BackupPartial, body["status"])
	assert.Len(t, body["kinds"], 2)

	f = &fakeIngestor{backupRes: service.BackupResult{Status: service.BackupFailed, Kinds: kinds[1:]}, err: merr}
	w, body = serve(t, f, "/builtinDatastoreToBigqueryIngestorTask?timestamp=1&exportConfigId=datastore-replace")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, service.BackupFailed, body["status"])
}

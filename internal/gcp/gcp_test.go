package gcp

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"BigqueryIngest/internal/domain"

	"cloud.google.com/go/bigquery"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

func TestInRange(t *testing.T) {
	sel := "abc123"
	assert.True(t, inRange("abc123/1000_2000.log", sel, 1000, 2000))
	assert.True(t, inRange("abc123/1999_2500.log", sel, 1000, 2000))
	assert.False(t, inRange("abc123/2000_3000.log", sel, 1000, 2000))
	assert.False(t, inRange("abc123/999_1000.log", sel, 1000, 2000))
	assert.False(t, inRange("abc123/1000_2000.log.schema", sel, 1000, 2000))
	assert.False(t, inRange("other/1000_2000.log", sel, 1000, 2000))
	assert.False(t, inRange("abc123/notes.txt", sel, 1000, 2000))
}

func TestFirstLine(t *testing.T) {
	line, ok, err := firstLine(strings.NewReader("a:string,b:integer\nrest\n"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "a:string,b:integer", line)

	line, ok, err = firstLine(strings.NewReader("a:string"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "a:string", line)

	_, ok, err = firstLine(strings.NewReader(""))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParseGCSURI(t *testing.T) {
	b, o, err := parseGCSURI("gs://logs/abc/1000_2000.log.schema")
	require.NoError(t, err)
	assert.Equal(t, "logs", b)
	assert.Equal(t, "abc/1000_2000.log.schema", o)

	for _, bad := range []string{"/gs/logs/x", "gs://logs", "gs:///x"} {
		_, _, err := parseGCSURI(bad)
		assert.Error(t, err, bad)
	}
}

func TestGCSReference(t *testing.T) {
	ref := gcsReference(domain.LoadJobSpec{
		SourceURIs: []string{"gs://b/User.backup_info"},
		Format:     domain.FormatDatastoreBackup,
		Options:    map[string]string{"allowQuotedNewlines": "true"},
	})
	assert.Equal(t, bigquery.DatastoreBackup, ref.SourceFormat)
	assert.True(t, ref.AllowQuotedNewlines)
	assert.Nil(t, ref.Schema)

	ref = gcsReference(domain.LoadJobSpec{
		SourceURIs: []string{"gs://b/x.log"},
		Format:     domain.FormatCSV,
		Schema:     []domain.SchemaField{{Name: "httpStatus", Type: "integer", Nullable: true}},
	})
	assert.Equal(t, bigquery.CSV, ref.SourceFormat)
	require.Len(t, ref.Schema, 1)
	assert.Equal(t, bigquery.IntegerFieldType, ref.Schema[0].Type)
	assert.False(t, ref.Schema[0].Required)
}

func TestWriteDisposition(t *testing.T) {
	assert.Equal(t, bigquery.WriteAppend, writeDisposition(domain.LoadJobSpec{AppendMode: true}))
	assert.Equal(t, bigquery.WriteTruncate, writeDisposition(domain.LoadJobSpec{}))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(errors.Wrap(&googleapi.Error{Code: http.StatusNotFound}, "get table")))
	assert.False(t, isNotFound(&googleapi.Error{Code: http.StatusForbidden}))
	assert.False(t, isNotFound(errors.New("boom")))
}

func TestBackupInfoRecord(t *testing.T) {
	rec := backupInfo{Name: "bq_backup_1", GSHandle: "/gs/b/x.backup_info"}.record()
	assert.Nil(t, rec.CompletionTime)

	done := time.Unix(1_700_000_000, 0)
	rec = backupInfo{Name: "bq_backup_1", CompleteTime: done}.record()
	require.NotNil(t, rec.CompletionTime)
	assert.Equal(t, done, *rec.CompletionTime)
}

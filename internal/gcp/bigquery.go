package gcp

import (
	"context"
	"strings"

	"BigqueryIngest/internal/domain"

	"cloud.google.com/go/bigquery"
	"github.com/pkg/errors"
)

// Warehouse 提交导入任务并管理目标表，实现 service.JobSubmitter 与 service.TableManager
type Warehouse struct {
	client *bigquery.Client
}

func NewWarehouse(client *bigquery.Client) *Warehouse {
	return &Warehouse{client: client}
}

func (w *Warehouse) table(ref domain.TableRef) *bigquery.Table {
	return w.client.DatasetInProject(ref.ProjectID, ref.DatasetID).Table(ref.TableID)
}

// SubmitLoadJob 只提交不等待，返回任务 id
func (w *Warehouse) SubmitLoadJob(ctx context.Context, spec domain.LoadJobSpec) (string, error) {
	loader := w.table(spec.DestinationTable).LoaderFrom(gcsReference(spec))
	loader.CreateDisposition = bigquery.CreateIfNeeded
	loader.WriteDisposition = writeDisposition(spec)

	job, err := loader.Run(ctx)
	if err != nil {
		return "", errors.Wrapf(err, "run load job into %s", spec.DestinationTable)
	}
	return job.ID(), nil
}

func (w *Warehouse) GetTable(ctx context.Context, ref domain.TableRef) error {
	if _, err := w.table(ref).Metadata(ctx); err != nil {
		if isNotFound(err) {
			return domain.ErrTableNotFound
		}
		return err
	}
	return nil
}

func (w *Warehouse) DeleteTable(ctx context.Context, ref domain.TableRef) error {
	if err := w.table(ref).Delete(ctx); err != nil {
		if isNotFound(err) {
			return domain.ErrTableNotFound
		}
		return err
	}
	return nil
}

func gcsReference(spec domain.LoadJobSpec) *bigquery.GCSReference {
	ref := bigquery.NewGCSReference(spec.SourceURIs...)
	switch spec.Format {
	case domain.FormatDatastoreBackup:
		ref.SourceFormat = bigquery.DatastoreBackup
	default:
		ref.SourceFormat = bigquery.CSV
	}
	if len(spec.Schema) > 0 {
		ref.Schema = toSchema(spec.Schema)
	}
	if spec.Options["allowQuotedNewlines"] == "true" {
		ref.AllowQuotedNewlines = true
	}
	return ref
}

// 追加模式写入已有表；替换模式旧表已被删除，截断写入
func writeDisposition(spec domain.LoadJobSpec) bigquery.TableWriteDisposition {
	if spec.AppendMode {
		return bigquery.WriteAppend
	}
	return bigquery.WriteTruncate
}

func toSchema(fields []domain.SchemaField) bigquery.Schema {
	out := make(bigquery.Schema, 0, len(fields))
	for _, f := range fields {
		out = append(out, &bigquery.FieldSchema{
			Name:     f.Name,
			Type:     bigquery.FieldType(strings.ToUpper(f.Type)),
			Required: !f.Nullable && !f.Repeated,
			Repeated: f.Repeated,
		})
	}
	return out
}

// Package gcp 把 service 层的协作者接口落到 BigQuery、Cloud Storage 与 Datastore 上
package gcp

import (
	"context"
	"net/http"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/datastore"
	"cloud.google.com/go/storage"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

type Options struct {
	ProjectID         string // Datastore 所在项目
	BigqueryProjectID string // 为空时同 ProjectID
	CredentialsFile   string // 为空时使用默认凭据
}

// Clients 进程内共享的 GCP 客户端
type Clients struct {
	BigQuery  *bigquery.Client
	Storage   *storage.Client
	Datastore *datastore.Client
}

func NewClients(ctx context.Context, o Options) (*Clients, error) {
	var opts []option.ClientOption
	if o.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(o.CredentialsFile))
	}
	bqProject := o.BigqueryProjectID
	if bqProject == "" {
		bqProject = o.ProjectID
	}

	c := &Clients{}
	var err error
	if c.BigQuery, err = bigquery.NewClient(ctx, bqProject, opts...); err != nil {
		return nil, errors.Wrap(err, "create bigquery client")
	}
	if c.Storage, err = storage.NewClient(ctx, opts...); err != nil {
		_ = c.Close()
		return nil, errors.Wrap(err, "create storage client")
	}
	if c.Datastore, err = datastore.NewClient(ctx, o.ProjectID, opts...); err != nil {
		_ = c.Close()
		return nil, errors.Wrap(err, "create datastore client")
	}
	return c, nil
}

func (c *Clients) Close() error {
	var merr *multierror.Error
	if c.BigQuery != nil {
		merr = multierror.Append(merr, c.BigQuery.Close())
	}
	if c.Storage != nil {
		merr = multierror.Append(merr, c.Storage.Close())
	}
	if c.Datastore != nil {
		merr = multierror.Append(merr, c.Datastore.Close())
	}
	return merr.ErrorOrNil()
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}

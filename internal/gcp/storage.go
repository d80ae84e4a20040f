package gcp

import (
	"bufio"
	"context"
	"io"
	"sort"
	"strconv"
	"strings"

	"BigqueryIngest/internal/export"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
	"google.golang.org/api/iterator"
)

// ObjectStore 实现 service.URILister 与 export.LineReader
type ObjectStore struct {
	client *storage.Client
}

func NewObjectStore(client *storage.Client) *ObjectStore {
	return &ObjectStore{client: client}
}

// ListObjectURIs 对象路径为 <selector>/<startMs>_<endMs>...，取起始时间落在 [startMs, endMs) 的数据文件
func (s *ObjectStore) ListObjectURIs(ctx context.Context, bucket, selector string, startMs, endMs int64) ([]string, error) {
	it := s.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: selector + "/"})
	var uris []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "list gs://%s/%s", bucket, selector)
		}
		if inRange(attrs.Name, selector, startMs, endMs) {
			uris = append(uris, "gs://"+bucket+"/"+attrs.Name)
		}
	}
	sort.Strings(uris)
	return uris, nil
}

func inRange(name, selector string, startMs, endMs int64) bool {
	if strings.HasSuffix(name, export.SchemaSuffix) {
		return false
	}
	rest, ok := strings.CutPrefix(name, selector+"/")
	if !ok {
		return false
	}
	start, _, found := strings.Cut(rest, "_")
	if !found {
		return false
	}
	ms, err := strconv.ParseInt(start, 10, 64)
	if err != nil {
		return false
	}
	return ms >= startMs && ms < endMs
}

// ReadFirstLine 空对象返回 ok=false
func (s *ObjectStore) ReadFirstLine(ctx context.Context, uri string) (string, bool, error) {
	bucket, object, err := parseGCSURI(uri)
	if err != nil {
		return "", false, err
	}
	r, err := s.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return "", false, errors.Wrapf(err, "open %s", uri)
	}
	defer r.Close()
	return firstLine(r)
}

func firstLine(r io.Reader) (string, bool, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", false, err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" && err == io.EOF {
		return "", false, nil
	}
	return line, true, nil
}

func parseGCSURI(uri string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(uri, "gs://")
	if !ok {
		return "", "", errors.Errorf("not a gs:// uri: %q", uri)
	}
	bucket, object, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", errors.Errorf("gs:// uri needs bucket and object: %q", uri)
	}
	return bucket, object, nil
}

package export

import (
	"context"
	"strings"

	"BigqueryIngest/internal/domain"

	"github.com/pkg/errors"
)

var ErrMalformedSchema = errors.New("malformed schema descriptor")

// SchemaSuffix 数据文件对应的 schema 描述文件后缀
const SchemaSuffix = ".schema"

// LineReader 读取对象的第一行；对象为空时 ok 为 false
type LineReader interface {
	ReadFirstLine(ctx context.Context, uri string) (line string, ok bool, err error)
}

// ReadSchema 读取 dataURI 对应的 schema 描述文件
func ReadSchema(ctx context.Context, r LineReader, dataURI string) ([]domain.SchemaField, error) {
	uri := dataURI + SchemaSuffix
	line, ok, err := r.ReadFirstLine(ctx, uri)
	if err != nil {
		return nil, errors.Wrapf(err, "read schema %s", uri)
	}
	if !ok {
		return nil, errors.Wrapf(ErrMalformedSchema, "%s is empty", uri)
	}
	fields, err := ParseSchemaLine(line)
	if err != nil {
		return nil, errors.Wrapf(err, "parse schema %s", uri)
	}
	return fields, nil
}

// ParseSchemaLine 解析 "name:type,name:type" 格式
func ParseSchemaLine(line string) ([]domain.SchemaField, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, errors.Wrap(ErrMalformedSchema, "empty line")
	}
	parts := strings.Split(line, ",")
	fields := make([]domain.SchemaField, 0, len(parts))
	for _, p := range parts {
		name, typ, found := strings.Cut(strings.TrimSpace(p), ":")
		if !found || name == "" || typ == "" {
			return nil, errors.Wrapf(ErrMalformedSchema, "bad field %q", p)
		}
		fields = append(fields, domain.SchemaField{Name: name, Type: typ, Nullable: true})
	}
	return fields, nil
}

// FormatSchemaLine 与 ParseSchemaLine 对应，写出 schema 描述文件内容
func FormatSchemaLine(fields []FieldDescriptor) string {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f.Name+":"+f.Type)
	}
	return strings.Join(parts, ",")
}

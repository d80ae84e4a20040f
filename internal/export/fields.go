// Package export 定义编译期固定的导出器与导出配置注册表
package export

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"

	"BigqueryIngest/internal/domain"
)

const (
	TypeString    = "string"
	TypeInteger   = "integer"
	TypeFloat     = "float"
	TypeBoolean   = "boolean"
	TypeTimestamp = "timestamp"
)

// FieldDescriptor 描述导出到仓库的一列
type FieldDescriptor struct {
	Name     string
	Type     string
	Nullable bool
	Repeated bool
}

// Row 是一条日志抽取后的结构化行，按列顺序排列
type Row []any

// FieldExporter 暴露有序的列描述，并从一条原始日志中一次抽取所有列
type FieldExporter interface {
	Fields() []FieldDescriptor
	Extract(log domain.RequestLog) Row
}

type HTTPTransactionExporter struct{}

func (HTTPTransactionExporter) Fields() []FieldDescriptor {
	return []FieldDescriptor{
		{Name: "httpStatus", Type: TypeInteger},
		{Name: "method", Type: TypeString},
		{Name: "httpVersion", Type: TypeString},
		{Name: "requestId", Type: TypeString},
	}
}

func (HTTPTransactionExporter) Extract(log domain.RequestLog) Row {
	return Row{log.Status, log.Method, log.HTTPVersion, log.RequestID}
}

type TimingExporter struct{}

func (TimingExporter) Fields() []FieldDescriptor {
	return []FieldDescriptor{
		{Name: "timestamp", Type: TypeTimestamp},
		{Name: "latencyUsec", Type: TypeInteger},
	}
}

func (TimingExporter) Extract(log domain.RequestLog) Row {
	return Row{log.EndTime.UTC().Unix(), log.Latency.Microseconds()}
}

type ResourceExporter struct{}

func (ResourceExporter) Fields() []FieldDescriptor {
	return []FieldDescriptor{
		{Name: "resource", Type: TypeString},
		{Name: "host", Type: TypeString, Nullable: true},
	}
}

func (ResourceExporter) Extract(log domain.RequestLog) Row {
	var host any
	if log.Host != "" {
		host = log.Host
	}
	return Row{log.Resource, host}
}

// ExporterSet 一组导出器，决定一张日志表的完整 schema
type ExporterSet struct {
	ID        string
	Exporters []FieldExporter
}

func (s ExporterSet) Fields() []FieldDescriptor {
	var out []FieldDescriptor
	for _, e := range s.Exporters {
		out = append(out, e.Fields()...)
	}
	return out
}

func (s ExporterSet) Extract(log domain.RequestLog) Row {
	var out Row
	for _, e := range s.Exporters {
		out = append(out, e.Extract(log)...)
	}
	return out
}

// SchemaHash 由有序列名与类型计算，schema 变化时对象存储路径随之变化
func (s ExporterSet) SchemaHash() string {
	var b strings.Builder
	for _, f := range s.Fields() {
		b.WriteString(f.Name)
		b.WriteByte(':')
		b.WriteString(f.Type)
		b.WriteByte(',')
	}
	sum := sha1.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Schema 转换为仓库 schema
func (s ExporterSet) Schema() []domain.SchemaField {
	fields := s.Fields()
	out := make([]domain.SchemaField, 0, len(fields))
	for _, f := range fields {
		out = append(out, domain.SchemaField{Name: f.Name, Type: f.Type, Nullable: f.Nullable, Repeated: f.Repeated})
	}
	return out
}

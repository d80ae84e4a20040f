package export

import (
	"sort"

	"github.com/pkg/errors"
)

var (
	ErrUnknownExporterSet  = errors.New("unknown field exporter set")
	ErrUnknownExportConfig = errors.New("unknown export config")
)

var exporterSets = map[string]ExporterSet{
	"http-transactions": {
		ID:        "http-transactions",
		Exporters: []FieldExporter{HTTPTransactionExporter{}},
	},
	"full-request": {
		ID:        "full-request",
		Exporters: []FieldExporter{TimingExporter{}, HTTPTransactionExporter{}, ResourceExporter{}},
	},
}

// LookupExporterSet 按 id 取导出器集合
func LookupExporterSet(id string) (ExporterSet, error) {
	set, ok := exporterSets[id]
	if !ok {
		return ExporterSet{}, errors.Wrapf(ErrUnknownExporterSet, "%q", id)
	}
	return set, nil
}

// ExportConfig 描述一次备份导入：从哪个备份读、写入哪些表
type ExportConfig struct {
	ID               string
	BackupNamePrefix string
	BucketName       string
	ProjectID        string
	DatasetID        string
	Kinds            []string
	AppendTimestamp  bool   // true 为追加模式（表名带时间戳），false 为替换模式
	QueueName        string // 为空时使用默认队列
}

// Defaults 由部署配置提供的公共字段
type Defaults struct {
	BackupNamePrefix string
	BucketName       string
	ProjectID        string
	DatasetID        string
}

// ConfigRegistry 固定的导出配置集合
type ConfigRegistry struct {
	configs map[string]ExportConfig
}

func NewConfigRegistry(configs ...ExportConfig) *ConfigRegistry {
	r := &ConfigRegistry{configs: make(map[string]ExportConfig, len(configs))}
	for _, c := range configs {
		r.configs[c.ID] = c
	}
	return r
}

// BuiltinConfigs 编译期内置的导出配置
func BuiltinConfigs(d Defaults) *ConfigRegistry {
	kinds := []string{"User", "Organization", "Pipeline"}
	return NewConfigRegistry(
		ExportConfig{
			ID:               "datastore-replace",
			BackupNamePrefix: d.BackupNamePrefix,
			BucketName:       d.BucketName,
			ProjectID:        d.ProjectID,
			DatasetID:        d.DatasetID,
			Kinds:            kinds,
		},
		ExportConfig{
			ID:               "datastore-append",
			BackupNamePrefix: d.BackupNamePrefix,
			BucketName:       d.BucketName,
			ProjectID:        d.ProjectID,
			DatasetID:        d.DatasetID + "_history",
			Kinds:            kinds,
			AppendTimestamp:  true,
		},
	)
}

func (r *ConfigRegistry) Lookup(id string) (ExportConfig, error) {
	c, ok := r.configs[id]
	if !ok {
		return ExportConfig{}, errors.Wrapf(ErrUnknownExportConfig, "%q", id)
	}
	return c, nil
}

func (r *ConfigRegistry) IDs() []string {
	ids := make([]string, 0, len(r.configs))
	for id := range r.configs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

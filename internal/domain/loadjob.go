package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	FormatCSV             = "CSV"
	FormatDatastoreBackup = "DATASTORE_BACKUP"
)

type TableRef struct {
	ProjectID string `json:"project_id"`
	DatasetID string `json:"dataset_id"`
	TableID   string `json:"table_id"`
}

func (t TableRef) String() string {
	return t.ProjectID + ":" + t.DatasetID + "." + t.TableID
}

// SchemaField 是 schema 描述文件中的一列
type SchemaField struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
	Repeated bool   `json:"repeated"`
}

// LoadJobSpec 每次提交时新建，不持久化
type LoadJobSpec struct {
	SourceURIs       []string          `json:"source_uris"`
	DestinationTable TableRef          `json:"destination_table"`
	Format           string            `json:"format"`
	Schema           []SchemaField     `json:"schema,omitempty"`
	Options          map[string]string `json:"options,omitempty"`
	AppendMode       bool              `json:"append_mode"`
}

const (
	LoadJobSubmitted = "submitted"
	LoadJobFailed    = "failed"
)

// LoadJobRecord 是一次提交尝试的审计记录
type LoadJobRecord struct {
	ID          uuid.UUID `json:"id"`
	Flow        string    `json:"flow"`
	Kind        string    `json:"kind,omitempty"`
	JobID       string    `json:"job_id,omitempty"`
	Destination string    `json:"destination"`
	SourceURIs  []string  `json:"source_uris"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

package domain

import "time"

// BackupRecord 由外部备份注册表维护，本系统只读
type BackupRecord struct {
	Name           string     `json:"name"`
	CompletionTime *time.Time `json:"completion_time,omitempty"`
	StorageHandle  string     `json:"storage_handle,omitempty"`
}

// RequestLog 是一条原始请求日志，由字段导出器抽取为行
type RequestLog struct {
	RequestID   string
	Method      string
	Resource    string
	Host        string
	HTTPVersion string
	Status      int
	Latency     time.Duration
	EndTime     time.Time
}

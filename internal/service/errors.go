package service

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrBackupExpired 超过轮询窗口仍未找到备份，终态
	ErrBackupExpired = errors.New("backup not found within polling window")
	// ErrSchemaRead schema 描述文件不可读或格式错误，本次提交失败
	ErrSchemaRead = errors.New("schema read failure")
)

// MissingParameterError 必填触发参数缺失或无法解析
type MissingParameterError struct {
	Name string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("missing required param: %s", e.Name)
}

// InvalidParameterError 触发参数存在但取值不可接受
type InvalidParameterError struct {
	Name   string
	Reason string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid param %s: %s", e.Name, e.Reason)
}

// SubmissionError 导入任务提交失败
type SubmissionError struct {
	Kind string
	Err  error
}

func (e *SubmissionError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("submit load job: %v", e.Err)
	}
	return fmt.Sprintf("submit load job for kind %s: %v", e.Kind, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// TableDeleteError 替换模式下删除旧表失败（表不存在不算失败）
type TableDeleteError struct {
	Kind string
	Err  error
}

func (e *TableDeleteError) Error() string {
	return fmt.Sprintf("delete old table for kind %s: %v", e.Kind, e.Err)
}

func (e *TableDeleteError) Unwrap() error { return e.Err }

// SchemaReadError 包装 schema 读取错误，errors.Is(err, ErrSchemaRead) 成立
type SchemaReadError struct {
	URI string
	Err error
}

func (e *SchemaReadError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrSchemaRead, e.URI, e.Err)
}

func (e *SchemaReadError) Unwrap() error { return e.Err }

func (e *SchemaReadError) Is(target error) bool { return target == ErrSchemaRead }

package domain

import "github.com/pkg/errors"

// ErrTableNotFound 目标表不存在；替换模式下删除旧表时视为成功
var ErrTableNotFound = errors.New("table not found")

package service

import (
	"errors"

	"wisefido-config/internal/repository"
)

// ErrValidation 回滚/写入前置校验失败，未发生任何变更
var ErrValidation = errors.New("validation failed")

// ErrAuditWrite 审计日志写入失败。变更不允许在无审计记录的情况下上报成功，
// 该错误必须向调用方传播
var ErrAuditWrite = errors.New("audit log write failed")

// ErrConflict 并发写入版本冲突（透传存储层），调用方可整体重试
var ErrConflict = repository.ErrConflict

// ErrNotFound 记录不存在（透传存储层）
var ErrNotFound = repository.ErrNotFound

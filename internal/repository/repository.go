package repository

import (
	"errors"

	"github.com/lib/pq"

	"wisefido-config/internal/domain"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("not found")

// ErrConflict 并发写入冲突：同一 (key, scope) 的版本号被其他写入者抢先占用，
// 由数据库唯一约束保证原子性，调用方可整体重试 set 操作
var ErrConflict = errors.New("version conflict")

// isUniqueViolation pq 唯一约束冲突（SQLSTATE 23505）
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

// tableFor Kind 到表名的映射
func tableFor(kind domain.Kind) string {
	switch kind {
	case domain.KindRule:
		return "business_rules"
	case domain.KindTemplate:
		return "templates"
	default:
		return "config_entries"
	}
}

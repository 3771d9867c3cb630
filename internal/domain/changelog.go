package domain

import (
	"encoding/json"
	"time"
)

// OperationType 变更操作类型
type OperationType string

const (
	OpSet             OperationType = "set"
	OpRollback        OperationType = "rollback"
	OpSnapshotRestore OperationType = "snapshot_restore"
	OpBulkUpdate      OperationType = "bulk_update"
)

// ConfigType 审计日志中的配置分类
type ConfigType string

const (
	ConfigTypeValue    ConfigType = "config_value"
	ConfigTypeRule     ConfigType = "business_rule"
	ConfigTypeTemplate ConfigType = "template"
)

// ConfigTypeOf Kind 到审计分类的映射
func ConfigTypeOf(kind Kind) ConfigType {
	switch kind {
	case KindRule:
		return ConfigTypeRule
	case KindTemplate:
		return ConfigTypeTemplate
	default:
		return ConfigTypeValue
	}
}

// ChangeLogEntry 变更审计日志（config_change_logs 表）
// 每次变更调用（无论成功失败）写入一条，写入后不可修改
type ChangeLogEntry struct {
	LogID string `db:"log_id"` // UUID, PRIMARY KEY

	OperationType OperationType `db:"operation_type"` // VARCHAR(50), NOT NULL
	ConfigKey     string        `db:"config_key"`     // VARCHAR(255)；批量操作为 '*'
	ConfigType    ConfigType    `db:"config_type"`    // VARCHAR(50), NOT NULL
	Scope         Scope

	// 变更前后状态快照（JSONB，可为 NULL）
	PreviousState json.RawMessage `db:"previous_state"`
	NewState      json.RawMessage `db:"new_state"`

	PerformedBy string `db:"performed_by"` // VARCHAR(255), NOT NULL
	Reason      string `db:"reason"`       // TEXT

	// 回滚目标（仅 rollback 操作）
	RollbackTargetVersion *int       `db:"rollback_target_version"`
	RollbackTargetDate    *time.Time `db:"rollback_target_date"`

	// 快照恢复引用（仅 snapshot_restore 操作）
	SnapshotID string `db:"snapshot_id"` // UUID, nullable

	AffectedCount   int    `db:"affected_count"`    // INT, NOT NULL DEFAULT 1
	Success         bool   `db:"success"`           // BOOLEAN, NOT NULL
	ErrorDetails    string `db:"error_details"`     // TEXT
	ExecutionTimeMs int64  `db:"execution_time_ms"` // BIGINT

	Timestamp time.Time `db:"timestamp"` // TIMESTAMPTZ, NOT NULL
}

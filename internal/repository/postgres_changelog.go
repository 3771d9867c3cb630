package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"wisefido-config/internal/domain"
)

// PostgresChangeLogRepository 变更审计日志 Repository 实现
type PostgresChangeLogRepository struct {
	db *sql.DB
}

// NewPostgresChangeLogRepository 创建审计日志 Repository
func NewPostgresChangeLogRepository(db *sql.DB) *PostgresChangeLogRepository {
	return &PostgresChangeLogRepository{db: db}
}

// 确保实现了接口
var _ ChangeLogRepository = (*PostgresChangeLogRepository)(nil)

// Insert 写入一条审计记录
func (r *PostgresChangeLogRepository) Insert(ctx context.Context, entry *domain.ChangeLogEntry) (string, error) {
	if entry.OperationType == "" {
		return "", fmt.Errorf("operation_type is required")
	}
	if entry.PerformedBy == "" {
		return "", fmt.Errorf("performed_by is required")
	}

	logID := entry.LogID
	if logID == "" {
		logID = uuid.New().String()
	}

	query := `
		INSERT INTO config_change_logs (
			log_id, operation_type, config_key, config_type,
			persona, agent_id, workflow_id,
			previous_state, new_state,
			performed_by, reason,
			rollback_target_version, rollback_target_date, snapshot_id,
			affected_count, success, error_details, execution_time_ms, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, NOW())
	`

	var prevState, newState any
	if len(entry.PreviousState) > 0 {
		prevState = string(entry.PreviousState)
	}
	if len(entry.NewState) > 0 {
		newState = string(entry.NewState)
	}
	var snapshotID any
	if entry.SnapshotID != "" {
		snapshotID = entry.SnapshotID
	}

	_, err := r.db.ExecContext(ctx, query,
		logID, string(entry.OperationType), entry.ConfigKey, string(entry.ConfigType),
		nullStr(entry.Scope.Persona), nullInt(entry.Scope.AgentID), nullInt(entry.Scope.WorkflowID),
		prevState, newState,
		entry.PerformedBy, entry.Reason,
		entry.RollbackTargetVersion, entry.RollbackTargetDate, snapshotID,
		entry.AffectedCount, entry.Success, entry.ErrorDetails, entry.ExecutionTimeMs,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert change log: %w", err)
	}
	return logID, nil
}

// List 按过滤条件查询审计日志（时间降序）
func (r *PostgresChangeLogRepository) List(ctx context.Context, filters ChangeLogFilters, limit int) ([]*domain.ChangeLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	where := []string{"1=1"}
	var args []any
	argN := 1

	if filters.Key != "" {
		where = append(where, fmt.Sprintf("config_key = $%d", argN))
		args = append(args, filters.Key)
		argN++
	}
	if filters.Scope != nil {
		scopeSQL, scopeParams, next := scopeWhere(*filters.Scope, argN)
		where = append(where, scopeSQL)
		args = append(args, scopeParams...)
		argN = next
	}
	if filters.FromDate != nil {
		where = append(where, fmt.Sprintf("timestamp >= $%d", argN))
		args = append(args, *filters.FromDate)
		argN++
	}
	if filters.ToDate != nil {
		where = append(where, fmt.Sprintf("timestamp <= $%d", argN))
		args = append(args, *filters.ToDate)
		argN++
	}

	query := `
		SELECT
			log_id::text, operation_type, config_key, config_type,
			persona, agent_id, workflow_id,
			previous_state, new_state,
			performed_by, COALESCE(reason, ''),
			rollback_target_version, rollback_target_date, snapshot_id::text,
			affected_count, success, COALESCE(error_details, ''), execution_time_ms, timestamp
		FROM config_change_logs
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY timestamp DESC
		LIMIT $` + fmt.Sprintf("%d", argN)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list change logs: %w", err)
	}
	defer rows.Close()

	var entries []*domain.ChangeLogEntry
	for rows.Next() {
		var e domain.ChangeLogEntry
		var persona sql.NullString
		var agentID, workflowID sql.NullInt64
		var prevState, newState sql.NullString
		var targetVersion sql.NullInt64
		var targetDate sql.NullTime
		var snapshotID sql.NullString

		if err := rows.Scan(
			&e.LogID, &e.OperationType, &e.ConfigKey, &e.ConfigType,
			&persona, &agentID, &workflowID,
			&prevState, &newState,
			&e.PerformedBy, &e.Reason,
			&targetVersion, &targetDate, &snapshotID,
			&e.AffectedCount, &e.Success, &e.ErrorDetails, &e.ExecutionTimeMs, &e.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan change log: %w", err)
		}

		if persona.Valid {
			e.Scope.Persona = &persona.String
		}
		if agentID.Valid {
			e.Scope.AgentID = &agentID.Int64
		}
		if workflowID.Valid {
			e.Scope.WorkflowID = &workflowID.Int64
		}
		if prevState.Valid {
			e.PreviousState = []byte(prevState.String)
		}
		if newState.Valid {
			e.NewState = []byte(newState.String)
		}
		if targetVersion.Valid {
			v := int(targetVersion.Int64)
			e.RollbackTargetVersion = &v
		}
		if targetDate.Valid {
			e.RollbackTargetDate = &targetDate.Time
		}
		if snapshotID.Valid {
			e.SnapshotID = snapshotID.String
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate change logs: %w", err)
	}
	return entries, nil
}

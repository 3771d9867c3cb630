package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"wisefido-config/internal/domain"
)

// PostgresSnapshotsRepository 配置快照 Repository 实现
type PostgresSnapshotsRepository struct {
	db *sql.DB
}

// NewPostgresSnapshotsRepository 创建快照 Repository
func NewPostgresSnapshotsRepository(db *sql.DB) *PostgresSnapshotsRepository {
	return &PostgresSnapshotsRepository{db: db}
}

// 确保实现了接口
var _ SnapshotsRepository = (*PostgresSnapshotsRepository)(nil)

// Insert 持久化一个快照
func (r *PostgresSnapshotsRepository) Insert(ctx context.Context, snapshot *domain.Snapshot) (string, error) {
	if snapshot.Name == "" {
		return "", fmt.Errorf("name is required")
	}
	if len(snapshot.CapturedData) == 0 {
		return "", fmt.Errorf("captured_data is required")
	}

	snapshotID := snapshot.SnapshotID
	if snapshotID == "" {
		snapshotID = uuid.New().String()
	}

	query := `
		INSERT INTO config_snapshots (
			snapshot_id, name, description,
			filter_persona, filter_agent_id, filter_workflow_id,
			captured_data, metrics_summary, created_by, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
	`

	var fp, fa, fw any
	if snapshot.ScopeFilter != nil {
		fp = nullStr(snapshot.ScopeFilter.Persona)
		fa = nullInt(snapshot.ScopeFilter.AgentID)
		fw = nullInt(snapshot.ScopeFilter.WorkflowID)
	}

	_, err := r.db.ExecContext(ctx, query,
		snapshotID, snapshot.Name, snapshot.Description,
		fp, fa, fw,
		string(snapshot.CapturedData), string(snapshot.Metrics), snapshot.CreatedBy,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return snapshotID, nil
}

// Get 按 ID 读取快照
func (r *PostgresSnapshotsRepository) Get(ctx context.Context, snapshotID string) (*domain.Snapshot, error) {
	if snapshotID == "" {
		return nil, ErrNotFound
	}

	query := `
		SELECT snapshot_id::text, name, COALESCE(description, ''),
			filter_persona, filter_agent_id, filter_workflow_id,
			captured_data, metrics_summary, created_by, created_at
		FROM config_snapshots
		WHERE snapshot_id = $1
	`

	row := r.db.QueryRowContext(ctx, query, snapshotID)
	snapshot, err := scanSnapshot(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return snapshot, nil
}

// List 快照列表（创建时间降序）
func (r *PostgresSnapshotsRepository) List(ctx context.Context, limit int) ([]*domain.Snapshot, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT snapshot_id::text, name, COALESCE(description, ''),
			filter_persona, filter_agent_id, filter_workflow_id,
			captured_data, metrics_summary, created_by, created_at
		FROM config_snapshots
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []*domain.Snapshot
	for rows.Next() {
		snapshot, err := scanSnapshot(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snapshots = append(snapshots, snapshot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate snapshots: %w", err)
	}
	return snapshots, nil
}

func scanSnapshot(scan func(dest ...any) error) (*domain.Snapshot, error) {
	var s domain.Snapshot
	var fp sql.NullString
	var fa, fw sql.NullInt64
	var captured, metrics sql.NullString

	if err := scan(
		&s.SnapshotID, &s.Name, &s.Description,
		&fp, &fa, &fw,
		&captured, &metrics, &s.CreatedBy, &s.CreatedAt,
	); err != nil {
		return nil, err
	}

	if fp.Valid || fa.Valid || fw.Valid {
		filter := domain.Scope{}
		if fp.Valid {
			filter.Persona = &fp.String
		}
		if fa.Valid {
			filter.AgentID = &fa.Int64
		}
		if fw.Valid {
			filter.WorkflowID = &fw.Int64
		}
		s.ScopeFilter = &filter
	}
	if captured.Valid {
		s.CapturedData = []byte(captured.String)
	}
	if metrics.Valid {
		s.Metrics = []byte(metrics.String)
	}
	return &s, nil
}

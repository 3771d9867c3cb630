package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"wisefido-config/internal/domain"
)

// PostgresEntriesRepository 版本化配置存储 Repository 实现
// 三张结构相同的表（config_entries / business_rules / templates）共用一套查询，
// 按 Kind 选表；templates 额外携带 channel/locale 两列
type PostgresEntriesRepository struct {
	db *sql.DB
}

// NewPostgresEntriesRepository 创建版本化配置存储 Repository
func NewPostgresEntriesRepository(db *sql.DB) *PostgresEntriesRepository {
	return &PostgresEntriesRepository{db: db}
}

// 确保实现了接口
var _ EntriesRepository = (*PostgresEntriesRepository)(nil)

// groupColsFor 逻辑序列的分组列。templates 的 channel/locale 参与唯一序列划分，
// 同一 (key, scope) 下不同 channel/locale 是相互独立的版本序列
func groupColsFor(kind domain.Kind) string {
	cols := "key, persona, agent_id, workflow_id"
	if kind == domain.KindTemplate {
		cols += ", channel, locale"
	}
	return cols
}

func columnsFor(kind domain.Kind) string {
	cols := `entry_id::text, key, persona, agent_id, workflow_id, value, version,
		effective_from, effective_to, is_active, created_by, updated_at`
	if kind == domain.KindTemplate {
		cols += `, channel, locale`
	}
	return cols
}

// scanEntry 扫描一行配置条目（nullable 列统一处理）
func scanEntry(kind domain.Kind, scan func(dest ...any) error) (*domain.ConfigEntry, error) {
	var e domain.ConfigEntry
	var persona sql.NullString
	var agentID, workflowID sql.NullInt64
	var value sql.NullString
	var effectiveTo sql.NullTime
	var channel, locale sql.NullString

	dest := []any{
		&e.EntryID, &e.Key, &persona, &agentID, &workflowID, &value, &e.Version,
		&e.EffectiveFrom, &effectiveTo, &e.IsActive, &e.CreatedBy, &e.UpdatedAt,
	}
	if kind == domain.KindTemplate {
		dest = append(dest, &channel, &locale)
	}
	if err := scan(dest...); err != nil {
		return nil, err
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
	if value.Valid {
		e.Value = []byte(value.String)
	}
	if effectiveTo.Valid {
		e.EffectiveTo = &effectiveTo.Time
	}
	if channel.Valid {
		e.Channel = channel.String
	}
	if locale.Valid {
		e.Locale = locale.String
	}
	return &e, nil
}

// scopeArgs 作用域精确匹配条件（NULL 只匹配 NULL）
func scopeWhere(scope domain.Scope, argN int) (string, []any, int) {
	clauses := []string{
		fmt.Sprintf("persona IS NOT DISTINCT FROM $%d", argN),
		fmt.Sprintf("agent_id IS NOT DISTINCT FROM $%d", argN+1),
		fmt.Sprintf("workflow_id IS NOT DISTINCT FROM $%d", argN+2),
	}
	args := []any{nullStr(scope.Persona), nullInt(scope.AgentID), nullInt(scope.WorkflowID)}
	return strings.Join(clauses, " AND "), args, argN + 3
}

// filterWhere 子树匹配条件：只约束 filter 中已设置的维度
func filterWhere(filter *domain.Scope, argN int) (string, []any, int) {
	if filter == nil {
		return "", nil, argN
	}
	var clauses []string
	var args []any
	if filter.Persona != nil {
		clauses = append(clauses, fmt.Sprintf("persona = $%d", argN))
		args = append(args, *filter.Persona)
		argN++
	}
	if filter.AgentID != nil {
		clauses = append(clauses, fmt.Sprintf("agent_id = $%d", argN))
		args = append(args, *filter.AgentID)
		argN++
	}
	if filter.WorkflowID != nil {
		clauses = append(clauses, fmt.Sprintf("workflow_id = $%d", argN))
		args = append(args, *filter.WorkflowID)
		argN++
	}
	if len(clauses) == 0 {
		return "", nil, argN
	}
	return " AND " + strings.Join(clauses, " AND "), args, argN
}

func nullStr(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullInt(i *int64) any {
	if i == nil {
		return nil
	}
	return *i
}

// GetCurrent 查询指定时间点生效的最高版本条目
func (r *PostgresEntriesRepository) GetCurrent(ctx context.Context, q CurrentQuery) (*domain.ConfigEntry, error) {
	if q.Key == "" || !q.Kind.Valid() {
		return nil, ErrNotFound
	}

	scopeSQL, scopeParams, argN := scopeWhere(q.Scope, 2)
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE key = $1
			AND %s
			AND is_active = true
			AND effective_from <= $%d
			AND (effective_to IS NULL OR effective_to > $%d)`,
		columnsFor(q.Kind), tableFor(q.Kind), scopeSQL, argN, argN)
	args := append([]any{q.Key}, scopeParams...)
	args = append(args, q.AsOf)
	argN++

	if q.Kind == domain.KindTemplate {
		query += fmt.Sprintf(" AND channel = $%d AND locale = $%d", argN, argN+1)
		args = append(args, q.Channel, q.Locale)
	}
	query += `
		ORDER BY version DESC
		LIMIT 1`

	row := r.db.QueryRowContext(ctx, query, args...)
	entry, err := scanEntry(q.Kind, row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get current entry: %w", err)
	}
	return entry, nil
}

// GetVersion 按版本号精确读取
func (r *PostgresEntriesRepository) GetVersion(ctx context.Context, kind domain.Kind, key string, scope domain.Scope, version int) (*domain.ConfigEntry, error) {
	scopeSQL, scopeParams, argN := scopeWhere(scope, 2)
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE key = $1 AND %s AND version = $%d`,
		columnsFor(kind), tableFor(kind), scopeSQL, argN)
	args := append([]any{key}, scopeParams...)
	args = append(args, version)

	row := r.db.QueryRowContext(ctx, query, args...)
	entry, err := scanEntry(kind, row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get entry version %d: %w", version, err)
	}
	return entry, nil
}

// MaxVersion 当前最大版本号（无记录返回 0）
func (r *PostgresEntriesRepository) MaxVersion(ctx context.Context, kind domain.Kind, key string, scope domain.Scope) (int, error) {
	scopeSQL, scopeParams, _ := scopeWhere(scope, 2)
	query := fmt.Sprintf(`
		SELECT COALESCE(MAX(version), 0)
		FROM %s
		WHERE key = $1 AND %s`,
		tableFor(kind), scopeSQL)
	args := append([]any{key}, scopeParams...)

	var max int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&max); err != nil {
		return 0, fmt.Errorf("failed to get max version: %w", err)
	}
	return max, nil
}

// Insert 追加新版本；唯一约束冲突映射为 ErrConflict
func (r *PostgresEntriesRepository) Insert(ctx context.Context, kind domain.Kind, entry *domain.ConfigEntry) (string, error) {
	if entry.Key == "" {
		return "", fmt.Errorf("key is required")
	}
	if entry.Version <= 0 {
		return "", fmt.Errorf("version must be positive")
	}
	if len(entry.Value) == 0 {
		return "", fmt.Errorf("value is required")
	}

	entryID := entry.EntryID
	if entryID == "" {
		entryID = uuid.New().String()
	}

	cols := `entry_id, key, persona, agent_id, workflow_id, value, version,
		effective_from, effective_to, is_active, created_by, updated_at`
	placeholders := `$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW()`
	args := []any{
		entryID, entry.Key,
		nullStr(entry.Scope.Persona), nullInt(entry.Scope.AgentID), nullInt(entry.Scope.WorkflowID),
		string(entry.Value), entry.Version,
		entry.EffectiveFrom, entry.EffectiveTo, entry.IsActive, entry.CreatedBy,
	}
	if kind == domain.KindTemplate {
		cols += `, channel, locale`
		placeholders += `, $12, $13`
		args = append(args, entry.Channel, entry.Locale)
	}

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`, tableFor(kind), cols, placeholders)
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return "", fmt.Errorf("version %d for key %s already exists: %w", entry.Version, entry.Key, ErrConflict)
		}
		return "", fmt.Errorf("failed to insert entry: %w", err)
	}
	return entryID, nil
}

// ListVersions 版本历史（版本降序）
func (r *PostgresEntriesRepository) ListVersions(ctx context.Context, kind domain.Kind, key string, scope domain.Scope, limit int) ([]*domain.ConfigEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	scopeSQL, scopeParams, argN := scopeWhere(scope, 2)
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE key = $1 AND %s
		ORDER BY version DESC
		LIMIT $%d`,
		columnsFor(kind), tableFor(kind), scopeSQL, argN)
	args := append([]any{key}, scopeParams...)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	defer rows.Close()

	var entries []*domain.ConfigEntry
	for rows.Next() {
		entry, err := scanEntry(kind, rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate versions: %w", err)
	}
	return entries, nil
}

// ListActive 当前时刻生效的所有条目，每个逻辑序列取最高版本
func (r *PostgresEntriesRepository) ListActive(ctx context.Context, kind domain.Kind, filter *domain.Scope, now time.Time) ([]*domain.ConfigEntry, error) {
	filterSQL, filterParams, _ := filterWhere(filter, 2)
	groupCols := groupColsFor(kind)
	query := fmt.Sprintf(`
		SELECT DISTINCT ON (%s) %s
		FROM %s
		WHERE is_active = true
			AND effective_from <= $1
			AND (effective_to IS NULL OR effective_to > $1)%s
		ORDER BY %s, version DESC`,
		groupCols, columnsFor(kind), tableFor(kind), filterSQL, groupCols)
	args := append([]any{now}, filterParams...)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list active entries: %w", err)
	}
	defer rows.Close()

	var entries []*domain.ConfigEntry
	for rows.Next() {
		entry, err := scanEntry(kind, rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate active entries: %w", err)
	}
	return entries, nil
}

// DistinctKeys 指定精确作用域下存在条目的全部键
func (r *PostgresEntriesRepository) DistinctKeys(ctx context.Context, kind domain.Kind, scope domain.Scope) ([]string, error) {
	scopeSQL, scopeParams, _ := scopeWhere(scope, 1)
	query := fmt.Sprintf(`
		SELECT DISTINCT key
		FROM %s
		WHERE %s
		ORDER BY key`,
		tableFor(kind), scopeSQL)

	rows, err := r.db.QueryContext(ctx, query, scopeParams...)
	if err != nil {
		return nil, fmt.Errorf("failed to list distinct keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate keys: %w", err)
	}
	return keys, nil
}

// CountActive 当前生效条目数（影响评估用）
func (r *PostgresEntriesRepository) CountActive(ctx context.Context, kind domain.Kind, filter *domain.Scope, now time.Time) (int, error) {
	filterSQL, filterParams, _ := filterWhere(filter, 2)
	query := fmt.Sprintf(`
		SELECT COUNT(DISTINCT (%s))
		FROM %s
		WHERE is_active = true
			AND effective_from <= $1
			AND (effective_to IS NULL OR effective_to > $1)%s`,
		groupColsFor(kind), tableFor(kind), filterSQL)
	args := append([]any{now}, filterParams...)

	var count int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count active entries: %w", err)
	}
	return count, nil
}

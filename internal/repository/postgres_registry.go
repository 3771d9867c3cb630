package repository

import (
	"context"
	"database/sql"
	"fmt"

	"wisefido-config/internal/domain"
)

// PostgresRegistryRepository 配置注册表 Repository 实现
type PostgresRegistryRepository struct {
	db *sql.DB
}

// NewPostgresRegistryRepository 创建配置注册表 Repository
func NewPostgresRegistryRepository(db *sql.DB) *PostgresRegistryRepository {
	return &PostgresRegistryRepository{db: db}
}

// 确保实现了接口
var _ RegistryRepository = (*PostgresRegistryRepository)(nil)

// Get 按键读取注册表行
func (r *PostgresRegistryRepository) Get(ctx context.Context, key string) (*domain.RegistryEntry, error) {
	if key == "" {
		return nil, ErrNotFound
	}

	query := `
		SELECT key, value_type, default_value, COALESCE(description, ''), updated_at
		FROM config_registry
		WHERE key = $1
	`

	var entry domain.RegistryEntry
	var defaultValue sql.NullString

	err := r.db.QueryRowContext(ctx, query, key).Scan(
		&entry.Key,
		&entry.ValueType,
		&defaultValue,
		&entry.Description,
		&entry.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get registry entry: %w", err)
	}

	if defaultValue.Valid {
		entry.DefaultValue = []byte(defaultValue.String)
	}
	return &entry, nil
}

// Upsert 注册/更新逻辑键
func (r *PostgresRegistryRepository) Upsert(ctx context.Context, entry *domain.RegistryEntry) error {
	if entry.Key == "" {
		return fmt.Errorf("key is required")
	}
	if entry.ValueType == "" {
		return fmt.Errorf("value_type is required")
	}

	query := `
		INSERT INTO config_registry (key, value_type, default_value, description, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (key)
		DO UPDATE SET value_type = EXCLUDED.value_type,
		              default_value = EXCLUDED.default_value,
		              description = EXCLUDED.description,
		              updated_at = NOW()
	`

	var defaultValue any
	if len(entry.DefaultValue) > 0 {
		defaultValue = string(entry.DefaultValue)
	}
	if _, err := r.db.ExecContext(ctx, query, entry.Key, entry.ValueType, defaultValue, entry.Description); err != nil {
		return fmt.Errorf("failed to upsert registry entry: %w", err)
	}
	return nil
}

// List 全部注册键
func (r *PostgresRegistryRepository) List(ctx context.Context) ([]*domain.RegistryEntry, error) {
	query := `
		SELECT key, value_type, default_value, COALESCE(description, ''), updated_at
		FROM config_registry
		ORDER BY key
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list registry entries: %w", err)
	}
	defer rows.Close()

	var entries []*domain.RegistryEntry
	for rows.Next() {
		var entry domain.RegistryEntry
		var defaultValue sql.NullString
		if err := rows.Scan(&entry.Key, &entry.ValueType, &defaultValue, &entry.Description, &entry.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan registry entry: %w", err)
		}
		if defaultValue.Valid {
			entry.DefaultValue = []byte(defaultValue.String)
		}
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate registry entries: %w", err)
	}
	return entries, nil
}

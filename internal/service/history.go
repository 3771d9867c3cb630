package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"wisefido-config/internal/domain"
	"wisefido-config/internal/repository"
)

// VersionHistoryEntry 版本历史条目
type VersionHistoryEntry struct {
	Version       int             `json:"version"`
	Value         json.RawMessage `json:"value"`
	EffectiveFrom time.Time       `json:"effective_from"`
	EffectiveTo   *time.Time      `json:"effective_to,omitempty"`
	IsActive      bool            `json:"is_active"`
	CreatedBy     string          `json:"created_by"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// History 版本历史与审计历史查询
type History struct {
	entries   repository.EntriesRepository
	changelog repository.ChangeLogRepository
	logger    *zap.Logger
}

// NewHistory 创建历史查询服务
func NewHistory(entries repository.EntriesRepository, changelog repository.ChangeLogRepository, logger *zap.Logger) *History {
	return &History{entries: entries, changelog: changelog, logger: logger}
}

// GetVersionHistory 指定 (key, scope) 的版本历史（版本降序）
func (h *History) GetVersionHistory(ctx context.Context, kind domain.Kind, key string, scope domain.Scope, limit int) ([]VersionHistoryEntry, error) {
	if kind == "" {
		kind = domain.KindSetting
	}
	if key == "" {
		return nil, fmt.Errorf("%w: key is required", ErrValidation)
	}

	versions, err := h.entries.ListVersions(ctx, kind, key, scope, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load version history: %w", err)
	}

	history := make([]VersionHistoryEntry, 0, len(versions))
	for _, v := range versions {
		history = append(history, VersionHistoryEntry{
			Version:       v.Version,
			Value:         v.Value,
			EffectiveFrom: v.EffectiveFrom,
			EffectiveTo:   v.EffectiveTo,
			IsActive:      v.IsActive,
			CreatedBy:     v.CreatedBy,
			UpdatedAt:     v.UpdatedAt,
		})
	}
	return history, nil
}

// GetChangeHistory 审计历史查询（时间降序）。scope 为 nil 表示不过滤作用域；
// 非 nil 为精确匹配，传全局作用域只返回全局变更
func (h *History) GetChangeHistory(ctx context.Context, key string, scope *domain.Scope, fromDate, toDate *time.Time, limit int) ([]*domain.ChangeLogEntry, error) {
	logs, err := h.changelog.List(ctx, repository.ChangeLogFilters{
		Key:      key,
		Scope:    scope,
		FromDate: fromDate,
		ToDate:   toDate,
	}, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load change history: %w", err)
	}
	return logs, nil
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"wisefido-config/internal/domain"
	"wisefido-config/internal/repository"
)

// CreateSnapshotRequest 创建快照请求
type CreateSnapshotRequest struct {
	Name        string
	Description string
	ScopeFilter *domain.Scope // nil 表示全量捕获
	Actor       string
}

// RestoreRequest 快照恢复请求
type RestoreRequest struct {
	SnapshotID  string
	ScopeFilter *domain.Scope // 可进一步收窄恢复范围
	Actor       string
	Reason      string
}

// Snapshotter 快照管理。快照创建后不可修改；
// 恢复只产生受影响键的新版本，不回写快照、不跳过历史
type Snapshotter struct {
	entries   repository.EntriesRepository
	snapshots repository.SnapshotsRepository
	changelog repository.ChangeLogRepository
	mutator   *Mutator
	publisher ChangePublisher
	logger    *zap.Logger
}

// NewSnapshotter 创建快照管理器
func NewSnapshotter(entries repository.EntriesRepository, snapshots repository.SnapshotsRepository, changelog repository.ChangeLogRepository, mutator *Mutator, publisher ChangePublisher, logger *zap.Logger) *Snapshotter {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	return &Snapshotter{
		entries: entries, snapshots: snapshots, changelog: changelog,
		mutator: mutator, publisher: publisher, logger: logger,
	}
}

// CreateSnapshot 捕获当前时刻全部生效条目（settings/rules/templates），
// 连同统计摘要持久化为一条不可变记录
func (s *Snapshotter) CreateSnapshot(ctx context.Context, req CreateSnapshotRequest) (*domain.Snapshot, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if req.Actor == "" {
		return nil, fmt.Errorf("%w: actor is required", ErrValidation)
	}

	now := time.Now()
	data := &domain.SnapshotData{}
	var err error
	if data.Settings, err = s.entries.ListActive(ctx, domain.KindSetting, req.ScopeFilter, now); err != nil {
		return nil, fmt.Errorf("failed to capture settings: %w", err)
	}
	if data.Rules, err = s.entries.ListActive(ctx, domain.KindRule, req.ScopeFilter, now); err != nil {
		return nil, fmt.Errorf("failed to capture rules: %w", err)
	}
	if data.Templates, err = s.entries.ListActive(ctx, domain.KindTemplate, req.ScopeFilter, now); err != nil {
		return nil, fmt.Errorf("failed to capture templates: %w", err)
	}

	captured, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize snapshot data: %w", err)
	}
	metrics, err := json.Marshal(domain.SnapshotMetrics{
		SettingCount:  len(data.Settings),
		RuleCount:     len(data.Rules),
		TemplateCount: len(data.Templates),
		TotalBytes:    len(captured),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize snapshot metrics: %w", err)
	}

	snapshot := &domain.Snapshot{
		Name:         req.Name,
		Description:  req.Description,
		ScopeFilter:  req.ScopeFilter,
		CapturedData: captured,
		Metrics:      metrics,
		CreatedBy:    req.Actor,
		CreatedAt:    now,
	}
	snapshotID, err := s.snapshots.Insert(ctx, snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to persist snapshot: %w", err)
	}
	snapshot.SnapshotID = snapshotID

	s.logger.Info("snapshot created",
		zap.String("snapshot_id", snapshotID),
		zap.String("name", req.Name),
		zap.Int("settings", len(data.Settings)),
		zap.Int("rules", len(data.Rules)),
		zap.Int("templates", len(data.Templates)),
	)
	return snapshot, nil
}

// RestoreFromSnapshot 快照恢复：逐个对比捕获的 setting 条目与该精确作用域
// 当前解析值，不同则以捕获值追加新版本（effective_from=now，无限期）。
// rules/templates 仅捕获供检视，不参与恢复。整个操作写一条汇总审计记录
func (s *Snapshotter) RestoreFromSnapshot(ctx context.Context, req RestoreRequest) (*RollbackResult, error) {
	start := time.Now()

	affected, restoreErr := s.restore(ctx, req)

	audit := &domain.ChangeLogEntry{
		OperationType:   domain.OpSnapshotRestore,
		ConfigKey:       "*",
		ConfigType:      domain.ConfigTypeValue,
		PerformedBy:     req.Actor,
		Reason:          req.Reason,
		SnapshotID:      req.SnapshotID,
		AffectedCount:   affected,
		Success:         restoreErr == nil,
		ExecutionTimeMs: elapsedMs(start),
	}
	if req.ScopeFilter != nil {
		audit.Scope = *req.ScopeFilter
	}
	if restoreErr != nil {
		audit.ErrorDetails = restoreErr.Error()
	}
	if auditErr := writeAudit(ctx, s.changelog, s.logger, audit); auditErr != nil {
		if restoreErr == nil {
			return nil, auditErr
		}
		return nil, errors.Join(restoreErr, auditErr)
	}
	if restoreErr != nil {
		return nil, restoreErr
	}

	s.publisher.PublishChange(ctx, ChangeEvent{
		Operation: string(domain.OpSnapshotRestore),
		Kind:      string(domain.KindSetting),
		Key:       "*",
		Scope:     audit.Scope.Key(),
		Actor:     req.Actor,
		Timestamp: time.Now(),
	})

	return &RollbackResult{
		Key:             "*",
		Scope:           audit.Scope,
		AffectedCount:   affected,
		ExecutionTimeMs: elapsedMs(start),
	}, nil
}

func (s *Snapshotter) restore(ctx context.Context, req RestoreRequest) (int, error) {
	if req.SnapshotID == "" {
		return 0, fmt.Errorf("%w: snapshot_id is required", ErrValidation)
	}
	if req.Actor == "" {
		return 0, fmt.Errorf("%w: actor is required", ErrValidation)
	}

	snapshot, err := s.snapshots.Get(ctx, req.SnapshotID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return 0, fmt.Errorf("%w: snapshot %s does not exist", ErrValidation, req.SnapshotID)
		}
		return 0, fmt.Errorf("failed to load snapshot: %w", err)
	}
	data, err := snapshot.Data()
	if err != nil {
		return 0, fmt.Errorf("failed to decode snapshot data: %w", err)
	}

	affected := 0
	for _, captured := range data.Settings {
		if req.ScopeFilter != nil && !captured.Scope.Matches(*req.ScopeFilter) {
			continue
		}

		current, err := s.entries.GetCurrent(ctx, repository.CurrentQuery{
			Kind: domain.KindSetting, Key: captured.Key, Scope: captured.Scope, AsOf: time.Now(),
		})
		if err == nil && jsonEqual(current.Value, captured.Value) {
			continue
		}
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return affected, fmt.Errorf("failed to resolve current value of %s: %w", captured.Key, err)
		}

		if _, _, err := s.mutator.apply(ctx, SetRequest{
			Kind:   domain.KindSetting,
			Key:    captured.Key,
			Value:  captured.Value,
			Scope:  captured.Scope,
			Actor:  req.Actor,
			Reason: req.Reason,
		}); err != nil {
			return affected, fmt.Errorf("failed to restore key %s: %w", captured.Key, err)
		}
		affected++
	}
	return affected, nil
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"go.uber.org/zap"

	"wisefido-config/internal/domain"
	"wisefido-config/internal/repository"
)

// 影响评估阈值
const (
	blastRadiusWarnThreshold = 10                  // 受影响键数超过该值提示大范围操作
	oldTargetWarnWindow      = 30 * 24 * time.Hour // 目标时间早于该窗口提示过旧
)

// RollbackRequest 按版本回滚请求
type RollbackRequest struct {
	Kind          domain.Kind
	Key           string
	Scope         domain.Scope
	TargetVersion int
	Actor         string
	Reason        string
}

// RollbackToDateRequest 按时间点回滚请求；Key 为空表示作用域内全部键
type RollbackToDateRequest struct {
	Kind       domain.Kind
	Key        string
	Scope      domain.Scope
	TargetDate time.Time
	Actor      string
	Reason     string
}

// RollbackResult 回滚结果
type RollbackResult struct {
	Key             string       `json:"key"`
	Scope           domain.Scope `json:"scope"`
	TargetVersion   int          `json:"target_version,omitempty"`
	NewVersion      int          `json:"new_version,omitempty"`
	AffectedCount   int          `json:"affected_count"`
	ExecutionTimeMs int64        `json:"execution_time_ms"`
}

// ImpactAssessment 回滚影响评估（作用域内各类型当前生效条目数）
type ImpactAssessment struct {
	Settings  int `json:"settings"`
	Rules     int `json:"rules"`
	Templates int `json:"templates"`
}

// ValidationResult 回滚前置校验结果
type ValidationResult struct {
	IsValid      bool             `json:"is_valid"`
	Warnings     []string         `json:"warnings"`
	Errors       []string         `json:"errors"`
	AffectedKeys []string         `json:"affected_keys"`
	Impact       ImpactAssessment `json:"impact_assessment"`
}

// ValidateRequest 回滚校验请求：TargetVersion 与 TargetDate 二选一
type ValidateRequest struct {
	Kind          domain.Kind
	Key           string
	Scope         domain.Scope
	TargetVersion int
	TargetDate    *time.Time
}

// RollbackPreview 回滚预览
type RollbackPreview struct {
	Current    json.RawMessage `json:"current"`
	Target     json.RawMessage `json:"target"`
	WillChange bool            `json:"will_change"`
}

// Rollbacker 回滚管理。回滚永远通过追加新版本实现：
// 历史只前进不倒带，回滚后版本号继续递增
type Rollbacker struct {
	entries   repository.EntriesRepository
	changelog repository.ChangeLogRepository
	mutator   *Mutator
	publisher ChangePublisher
	logger    *zap.Logger
}

// NewRollbacker 创建回滚管理器
func NewRollbacker(entries repository.EntriesRepository, changelog repository.ChangeLogRepository, mutator *Mutator, publisher ChangePublisher, logger *zap.Logger) *Rollbacker {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	return &Rollbacker{entries: entries, changelog: changelog, mutator: mutator, publisher: publisher, logger: logger}
}

// ValidateRollback 纯前置校验，无任何副作用。
// 回滚提交前必须调用，IsValid 为 false 时操作必须中止
func (r *Rollbacker) ValidateRollback(ctx context.Context, req ValidateRequest) (*ValidationResult, error) {
	result := &ValidationResult{
		Warnings: []string{},
		Errors:   []string{},
	}
	kind := req.Kind
	if kind == "" {
		kind = domain.KindSetting
	}

	switch {
	case req.TargetVersion > 0 && req.TargetDate != nil:
		result.Errors = append(result.Errors, "specify either target version or target date, not both")
	case req.TargetVersion > 0:
		if req.Key == "" {
			result.Errors = append(result.Errors, "key is required for version-based rollback")
			break
		}
		if _, err := r.entries.GetVersion(ctx, kind, req.Key, req.Scope, req.TargetVersion); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				result.Errors = append(result.Errors,
					fmt.Sprintf("version %d does not exist for key %s at scope %s", req.TargetVersion, req.Key, req.Scope.Key()))
			} else {
				return nil, fmt.Errorf("failed to check target version: %w", err)
			}
		}
	case req.TargetDate != nil:
		now := time.Now()
		if req.TargetDate.After(now) {
			result.Errors = append(result.Errors, "target date cannot be in the future")
		} else if now.Sub(*req.TargetDate) > oldTargetWarnWindow {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("target date is more than %d days in the past", int(oldTargetWarnWindow.Hours()/24)))
		}
	default:
		result.Errors = append(result.Errors, "rollback target is required (version or date)")
	}

	// 受影响键列表
	if req.Key != "" {
		result.AffectedKeys = []string{req.Key}
	} else {
		keys, err := r.entries.DistinctKeys(ctx, kind, req.Scope)
		if err != nil {
			return nil, fmt.Errorf("failed to enumerate affected keys: %w", err)
		}
		result.AffectedKeys = keys
	}
	if len(result.AffectedKeys) > blastRadiusWarnThreshold {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("large blast radius: %d keys affected", len(result.AffectedKeys)))
	}

	// 影响评估：作用域内各类型当前生效条目数
	var filter *domain.Scope
	if !req.Scope.IsGlobal() {
		scope := req.Scope
		filter = &scope
	}
	now := time.Now()
	for _, k := range []domain.Kind{domain.KindSetting, domain.KindRule, domain.KindTemplate} {
		count, err := r.entries.CountActive(ctx, k, filter, now)
		if err != nil {
			return nil, fmt.Errorf("failed to assess impact: %w", err)
		}
		switch k {
		case domain.KindSetting:
			result.Impact.Settings = count
		case domain.KindRule:
			result.Impact.Rules = count
		case domain.KindTemplate:
			result.Impact.Templates = count
		}
	}

	result.IsValid = len(result.Errors) == 0
	return result, nil
}

// PreviewRollback 回滚预览：当前值与目标版本值的对照，无副作用
func (r *Rollbacker) PreviewRollback(ctx context.Context, kind domain.Kind, key string, scope domain.Scope, targetVersion int) (*RollbackPreview, error) {
	if kind == "" {
		kind = domain.KindSetting
	}
	target, err := r.entries.GetVersion(ctx, kind, key, scope, targetVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to read target version: %w", err)
	}

	preview := &RollbackPreview{Target: target.Value}
	current, err := r.entries.GetCurrent(ctx, repository.CurrentQuery{
		Kind: kind, Key: key, Scope: scope, AsOf: time.Now(),
		Channel: target.Channel, Locale: target.Locale,
	})
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("failed to read current value: %w", err)
		}
		preview.WillChange = true
		return preview, nil
	}
	preview.Current = current.Value
	preview.WillChange = !jsonEqual(current.Value, target.Value)
	return preview, nil
}

// RollbackToVersion 回滚到指定版本：以目标版本的值追加新版本（effective_from=now，无限期）。
// 校验失败不发生任何变更；成功与失败都写审计记录
func (r *Rollbacker) RollbackToVersion(ctx context.Context, req RollbackRequest) (*RollbackResult, error) {
	start := time.Now()
	if req.Kind == "" {
		req.Kind = domain.KindSetting
	}

	result, err := r.rollbackToVersion(ctx, req)

	targetVersion := req.TargetVersion
	audit := &domain.ChangeLogEntry{
		OperationType:         domain.OpRollback,
		ConfigKey:             req.Key,
		ConfigType:            domain.ConfigTypeOf(req.Kind),
		Scope:                 req.Scope,
		PerformedBy:           req.Actor,
		Reason:                req.Reason,
		RollbackTargetVersion: &targetVersion,
		Success:               err == nil,
		ExecutionTimeMs:       elapsedMs(start),
	}
	if err != nil {
		audit.ErrorDetails = err.Error()
	} else {
		audit.AffectedCount = 1
		audit.PreviousState = result.previousState
		audit.NewState = result.newState
	}
	if auditErr := writeAudit(ctx, r.changelog, r.logger, audit); auditErr != nil {
		if err == nil {
			return nil, auditErr
		}
		return nil, errors.Join(err, auditErr)
	}
	if err != nil {
		return nil, err
	}

	r.publisher.PublishChange(ctx, ChangeEvent{
		Operation: string(domain.OpRollback),
		Kind:      string(req.Kind),
		Key:       req.Key,
		Scope:     req.Scope.Key(),
		Version:   result.NewVersion,
		Actor:     req.Actor,
		Timestamp: time.Now(),
	})
	result.ExecutionTimeMs = elapsedMs(start)
	return &result.RollbackResult, nil
}

type rollbackOutcome struct {
	RollbackResult
	previousState json.RawMessage
	newState      json.RawMessage
}

func (r *Rollbacker) rollbackToVersion(ctx context.Context, req RollbackRequest) (*rollbackOutcome, error) {
	if req.Actor == "" {
		return nil, fmt.Errorf("%w: actor is required", ErrValidation)
	}

	validation, err := r.ValidateRollback(ctx, ValidateRequest{
		Kind: req.Kind, Key: req.Key, Scope: req.Scope, TargetVersion: req.TargetVersion,
	})
	if err != nil {
		return nil, err
	}
	if !validation.IsValid {
		return nil, fmt.Errorf("%w: %s", ErrValidation, strings.Join(validation.Errors, "; "))
	}

	target, err := r.entries.GetVersion(ctx, req.Kind, req.Key, req.Scope, req.TargetVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to read target version: %w", err)
	}

	entry, prevState, err := r.mutator.apply(ctx, SetRequest{
		Kind:    req.Kind,
		Key:     req.Key,
		Value:   target.Value,
		Scope:   req.Scope,
		Channel: target.Channel,
		Locale:  target.Locale,
		Actor:   req.Actor,
		Reason:  req.Reason,
	})
	if err != nil {
		return nil, err
	}

	return &rollbackOutcome{
		RollbackResult: RollbackResult{
			Key:           req.Key,
			Scope:         req.Scope,
			TargetVersion: req.TargetVersion,
			NewVersion:    entry.Version,
			AffectedCount: 1,
		},
		previousState: prevState,
		newState:      mustMarshal(entry),
	}, nil
}

// RollbackToDate 回滚到指定时间点。Key 为空时遍历作用域内全部键；
// 每个键只有当时值与现值不同才进行单键回滚；整批写一条汇总审计记录，
// 每个实际回滚的键另有嵌套调用写入的单键记录
func (r *Rollbacker) RollbackToDate(ctx context.Context, req RollbackToDateRequest) (*RollbackResult, error) {
	start := time.Now()
	if req.Kind == "" {
		req.Kind = domain.KindSetting
	}

	affected, batchErr := r.rollbackToDate(ctx, req)

	targetDate := req.TargetDate
	summaryKey := req.Key
	if summaryKey == "" {
		summaryKey = "*"
	}
	audit := &domain.ChangeLogEntry{
		OperationType:      domain.OpBulkUpdate,
		ConfigKey:          summaryKey,
		ConfigType:         domain.ConfigTypeOf(req.Kind),
		Scope:              req.Scope,
		PerformedBy:        req.Actor,
		Reason:             req.Reason,
		RollbackTargetDate: &targetDate,
		AffectedCount:      affected,
		Success:            batchErr == nil,
		ExecutionTimeMs:    elapsedMs(start),
	}
	if batchErr != nil {
		audit.ErrorDetails = batchErr.Error()
	}
	if auditErr := writeAudit(ctx, r.changelog, r.logger, audit); auditErr != nil {
		if batchErr == nil {
			return nil, auditErr
		}
		return nil, errors.Join(batchErr, auditErr)
	}
	if batchErr != nil {
		return nil, batchErr
	}

	return &RollbackResult{
		Key:             summaryKey,
		Scope:           req.Scope,
		AffectedCount:   affected,
		ExecutionTimeMs: elapsedMs(start),
	}, nil
}

func (r *Rollbacker) rollbackToDate(ctx context.Context, req RollbackToDateRequest) (int, error) {
	if req.Actor == "" {
		return 0, fmt.Errorf("%w: actor is required", ErrValidation)
	}

	validation, err := r.ValidateRollback(ctx, ValidateRequest{
		Kind: req.Kind, Key: req.Key, Scope: req.Scope, TargetDate: &req.TargetDate,
	})
	if err != nil {
		return 0, err
	}
	if !validation.IsValid {
		return 0, fmt.Errorf("%w: %s", ErrValidation, strings.Join(validation.Errors, "; "))
	}

	affected := 0
	for _, key := range validation.AffectedKeys {
		changed, err := r.rollbackKeyToDate(ctx, req, key)
		if err != nil {
			return affected, fmt.Errorf("rollback of key %s failed: %w", key, err)
		}
		if changed {
			affected++
		}
	}
	return affected, nil
}

// rollbackKeyToDate 单键时间点回滚：目标时间点无生效值或与现值相同则跳过
func (r *Rollbacker) rollbackKeyToDate(ctx context.Context, req RollbackToDateRequest, key string) (bool, error) {
	atTarget, err := r.entries.GetCurrent(ctx, repository.CurrentQuery{
		Kind: req.Kind, Key: key, Scope: req.Scope, AsOf: req.TargetDate,
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to resolve value at target date: %w", err)
	}

	current, err := r.entries.GetCurrent(ctx, repository.CurrentQuery{
		Kind: req.Kind, Key: key, Scope: req.Scope, AsOf: time.Now(),
		Channel: atTarget.Channel, Locale: atTarget.Locale,
	})
	if err == nil && jsonEqual(current.Value, atTarget.Value) {
		return false, nil
	}
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return false, fmt.Errorf("failed to resolve current value: %w", err)
	}

	if _, err := r.RollbackToVersion(ctx, RollbackRequest{
		Kind:          req.Kind,
		Key:           key,
		Scope:         req.Scope,
		TargetVersion: atTarget.Version,
		Actor:         req.Actor,
		Reason:        req.Reason,
	}); err != nil {
		return false, err
	}
	return true, nil
}

// jsonEqual 语义化 JSON 比较（容忍键序与空白差异）
func jsonEqual(a, b json.RawMessage) bool {
	var va, vb any
	if err := json.Unmarshal(a, &va); err != nil {
		return string(a) == string(b)
	}
	if err := json.Unmarshal(b, &vb); err != nil {
		return false
	}
	return reflect.DeepEqual(va, vb)
}

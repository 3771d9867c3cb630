package domain

import (
	"encoding/json"
	"time"
)

// SnapshotData 快照捕获的全量生效配置（按类型分组）
type SnapshotData struct {
	Settings  []*ConfigEntry `json:"settings"`
	Rules     []*ConfigEntry `json:"rules"`
	Templates []*ConfigEntry `json:"templates"`
}

// SnapshotMetrics 快照统计信息
type SnapshotMetrics struct {
	SettingCount  int `json:"setting_count"`
	RuleCount     int `json:"rule_count"`
	TemplateCount int `json:"template_count"`
	TotalBytes    int `json:"total_bytes"` // 序列化后的字节数
}

// Snapshot 配置快照（config_snapshots 表），创建后不可修改；
// 恢复只会产生受影响键的新版本，不回写快照本身
type Snapshot struct {
	SnapshotID  string `db:"snapshot_id"` // UUID, PRIMARY KEY
	Name        string `db:"name"`        // VARCHAR(255), NOT NULL
	Description string `db:"description"` // TEXT

	// 捕获范围限定（可选，NULL 表示全量）
	ScopeFilter *Scope

	// 捕获数据（JSONB，SnapshotData 序列化）
	CapturedData json.RawMessage `db:"captured_data"` // JSONB, NOT NULL

	// 统计摘要（JSONB，SnapshotMetrics 序列化）
	Metrics json.RawMessage `db:"metrics_summary"` // JSONB, NOT NULL

	CreatedBy string    `db:"created_by"` // VARCHAR(255), NOT NULL
	CreatedAt time.Time `db:"created_at"` // TIMESTAMPTZ, NOT NULL
}

// Data 反序列化捕获数据
func (s *Snapshot) Data() (*SnapshotData, error) {
	var data SnapshotData
	if err := json.Unmarshal(s.CapturedData, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

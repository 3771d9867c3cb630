package domain

import (
	"encoding/json"
	"time"
)

// Kind 配置条目类型
type Kind string

const (
	KindSetting  Kind = "setting"  // 普通配置值（config_entries 表）
	KindRule     Kind = "rule"     // 业务规则（business_rules 表，value 为表达式+参数）
	KindTemplate Kind = "template" // 内容模板（templates 表，额外携带 channel/locale）
)

// Valid 是否为合法的配置类型
func (k Kind) Valid() bool {
	switch k {
	case KindSetting, KindRule, KindTemplate:
		return true
	}
	return false
}

// ConfigEntry 配置条目领域模型（config_entries / business_rules / templates 共用结构）
// 版本生效区间为 [effective_from, effective_to)，effective_to 为 NULL 表示当前仍生效。
// 历史只追加，不物理删除、不原地修改。
type ConfigEntry struct {
	EntryID string `db:"entry_id"` // UUID, PRIMARY KEY

	// 逻辑键，同一设置的所有版本/作用域共享
	Key string `db:"key"` // VARCHAR(255), NOT NULL

	// 作用域（三列均可为 NULL）
	Scope Scope

	// 配置数据（JSONB）；rule 为 {expression, parameters}；template 为 {body, ...}
	Value json.RawMessage `db:"value"` // JSONB, NOT NULL

	// 版本号：同一 (key, scope) 内从 1 起严格递增
	Version int `db:"version"` // INT, NOT NULL

	EffectiveFrom time.Time  `db:"effective_from"` // TIMESTAMPTZ, NOT NULL
	EffectiveTo   *time.Time `db:"effective_to"`   // TIMESTAMPTZ, nullable

	// 软禁用标志，独立于生效区间
	IsActive bool `db:"is_active"` // BOOLEAN, NOT NULL DEFAULT true

	// 仅 template 使用；其他类型为空字符串
	Channel string `db:"channel"` // VARCHAR(50)
	Locale  string `db:"locale"`  // VARCHAR(20)

	CreatedBy string    `db:"created_by"` // VARCHAR(255), NOT NULL
	UpdatedAt time.Time `db:"updated_at"` // TIMESTAMPTZ, NOT NULL
}

// ActiveAt 条目在指定时间点是否生效：is_active 且 effective_from <= at < effective_to。
// 上界严格开区间，因此零宽区间（from == to）永不生效。
func (e *ConfigEntry) ActiveAt(at time.Time) bool {
	if !e.IsActive {
		return false
	}
	if e.EffectiveFrom.After(at) {
		return false
	}
	if e.EffectiveTo != nil && !e.EffectiveTo.After(at) {
		return false
	}
	return true
}

// RegistryEntry 配置注册表（config_registry 表）：每个逻辑键一行，
// 携带类型描述与注册表级默认值（仅 setting 在全链路未命中时回退使用）
type RegistryEntry struct {
	Key          string          `db:"key"`           // VARCHAR(255), PRIMARY KEY
	ValueType    string          `db:"value_type"`    // VARCHAR(50) - 'string'/'number'/'boolean'/'json'
	DefaultValue json.RawMessage `db:"default_value"` // JSONB, nullable
	Description  string          `db:"description"`   // TEXT
	UpdatedAt    time.Time       `db:"updated_at"`    // TIMESTAMPTZ
}

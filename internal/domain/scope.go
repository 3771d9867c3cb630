package domain

import (
	"fmt"
	"sort"
	"strconv"
)

// Scope 配置作用域（persona / agent / workflow 三个可选维度）
// 维度为 nil 表示"不限定该维度"；三个维度全为 nil 即全局作用域
type Scope struct {
	Persona    *string `json:"persona,omitempty"`
	AgentID    *int64  `json:"agent_id,omitempty"`
	WorkflowID *int64  `json:"workflow_id,omitempty"`
}

// GlobalScope 全局作用域（所有维度为空）
func GlobalScope() Scope {
	return Scope{}
}

// ScopeOf 构造作用域的便捷函数（空字符串/0 视为未设置）
func ScopeOf(persona string, agentID, workflowID int64) Scope {
	s := Scope{}
	if persona != "" {
		s.Persona = &persona
	}
	if agentID != 0 {
		s.AgentID = &agentID
	}
	if workflowID != 0 {
		s.WorkflowID = &workflowID
	}
	return s
}

// IsGlobal 是否为全局作用域
func (s Scope) IsGlobal() bool {
	return s.Persona == nil && s.AgentID == nil && s.WorkflowID == nil
}

// Dimensions 非空维度数量（0-3）
func (s Scope) Dimensions() int {
	n := 0
	if s.WorkflowID != nil {
		n++
	}
	if s.AgentID != nil {
		n++
	}
	if s.Persona != nil {
		n++
	}
	return n
}

// Key 作用域的规范化字符串（用于缓存键和日志）
// 格式: w=<id|->:a=<id|->:p=<persona|->
func (s Scope) Key() string {
	w, a, p := "-", "-", "-"
	if s.WorkflowID != nil {
		w = strconv.FormatInt(*s.WorkflowID, 10)
	}
	if s.AgentID != nil {
		a = strconv.FormatInt(*s.AgentID, 10)
	}
	if s.Persona != nil {
		p = *s.Persona
	}
	return fmt.Sprintf("w=%s:a=%s:p=%s", w, a, p)
}

// Equal 作用域精确相等（逐维度比较，nil 只等于 nil）
func (s Scope) Equal(other Scope) bool {
	return eqStrPtr(s.Persona, other.Persona) &&
		eqInt64Ptr(s.AgentID, other.AgentID) &&
		eqInt64Ptr(s.WorkflowID, other.WorkflowID)
}

// Matches 子树匹配：filter 中已设置的维度必须与本作用域相等，
// 未设置的维度视为通配（用于快照的 scope filter）
func (s Scope) Matches(filter Scope) bool {
	if filter.Persona != nil && !eqStrPtr(s.Persona, filter.Persona) {
		return false
	}
	if filter.AgentID != nil && !eqInt64Ptr(s.AgentID, filter.AgentID) {
		return false
	}
	if filter.WorkflowID != nil && !eqInt64Ptr(s.WorkflowID, filter.WorkflowID) {
		return false
	}
	return true
}

// Combinations 生成优先级探测顺序：对查询中每个非空维度独立取舍，
// 共 2^n 个组合，按非空维度数降序排列（最具体优先，全局最后）。
// 同一具体度内的顺序由 workflow→agent→persona 的生成次序决定，
// 调用方不得依赖同级内的相对顺序。
func (s Scope) Combinations() []Scope {
	dims := []func(*Scope){}
	if s.WorkflowID != nil {
		v := *s.WorkflowID
		dims = append(dims, func(c *Scope) { c.WorkflowID = &v })
	}
	if s.AgentID != nil {
		v := *s.AgentID
		dims = append(dims, func(c *Scope) { c.AgentID = &v })
	}
	if s.Persona != nil {
		v := *s.Persona
		dims = append(dims, func(c *Scope) { c.Persona = &v })
	}

	n := len(dims)
	combos := make([]Scope, 0, 1<<n)
	for mask := (1 << n) - 1; mask >= 0; mask-- {
		c := Scope{}
		for i := 0; i < n; i++ {
			if mask&(1<<i) != 0 {
				dims[i](&c)
			}
		}
		combos = append(combos, c)
	}

	// 按具体度降序稳定排序（掩码枚举顺序保证同级内生成次序稳定）
	sort.SliceStable(combos, func(i, j int) bool {
		return combos[i].Dimensions() > combos[j].Dimensions()
	})
	return combos
}

func eqStrPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqInt64Ptr(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

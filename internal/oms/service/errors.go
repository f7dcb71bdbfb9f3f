package service

import "fmt"

// ConflictError 规格唯一性/互斥约束冲突
//
// 带上冲突双方的规格ID与作用域，便于操作员直接定位处理。
type ConflictError struct {
	SpecID     string // 触发冲突的规格
	Existing   string // 作用域内已存在的规格（如有）
	Scope      string // 变体ID或模板ID
	ScopeLevel string // variant / template
	Reason     string
}

func (e *ConflictError) Error() string {
	if e.Existing != "" {
		return fmt.Sprintf("规格冲突: %s（作用域 %s/%s 已存在基础规格 %s）", e.Reason, e.ScopeLevel, e.Scope, e.Existing)
	}
	return fmt.Sprintf("规格冲突: %s（规格 %s）", e.Reason, e.SpecID)
}

// StateError 操作在当前生命周期状态下不合法
type StateError struct {
	Entity    string // order / order_line / shipment
	EntityID  string
	State     string
	Operation string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("状态不允许: %s 当前状态为 %s，无法执行 %s（%s）", e.Entity, e.State, e.Operation, e.EntityID)
}

// CyclicSpecificationError 套装规格图中存在环
//
// 展开必须在写入任何履约指令之前失败，Path 记录检测到环时的访问链。
type CyclicSpecificationError struct {
	SpecID string
	Path   []string
}

func (e *CyclicSpecificationError) Error() string {
	return fmt.Sprintf("规格存在循环引用: %s（路径 %v）", e.SpecID, e.Path)
}

// internal/service/order/domain/state.go
package domain

import "strings"

// State 定义了订单的生命周期状态
type State string

const (
	StatePending   State = "Pending"   // 客户已提交，等待员工审核
	StateApproved  State = "Approved"  // 员工已审核通过
	StateAssigned  State = "Assigned"  // 已有员工接单，截止时间生效
	StateCompleted State = "Completed" // 接单员工已完成
	StateCancelled State = "Cancelled" // 客户在审核前取消
)

// 展示用标签，不会被持久化
const (
	DisplayProcessing = "Processing"
	DisplayOverdue    = "Overdue"
)

// IsValid reports whether s is one of the lifecycle states.
func (s State) IsValid() bool {
	switch s {
	case StatePending, StateApproved, StateAssigned, StateCompleted, StateCancelled:
		return true
	}
	return false
}

// MatchesStatus reports whether the order matches a user-supplied status filter.
// Both the stored state and the display label are accepted, case-insensitively.
func (o *Order) MatchesStatus(filter string) bool {
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return true
	}
	return strings.EqualFold(filter, string(o.State)) || strings.EqualFold(filter, o.DisplayStatus())
}

// internal/service/order/domain/order.go
package domain

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Order 是订单聚合的根实体
type Order struct {
	ID           string `json:"id"`
	CustomerID   string `json:"customerId"`
	CustomerName string `json:"customerName,omitempty"`
	ServiceType  string `json:"serviceType"`
	SubType      string `json:"subType,omitempty"`
	Quantity     string `json:"quantity,omitempty"`
	Note         string `json:"note,omitempty"`
	State        State  `json:"status"`

	// AssigneeID 与 Deadline 要么同时存在，要么同时为空
	AssigneeID   string     `json:"assigneeId,omitempty"`
	AssigneeName string     `json:"assigneeName,omitempty"`
	Deadline     *time.Time `json:"deadline,omitempty"`

	CreatedAt time.Time `json:"createdAt"`

	OverdueNotified bool `json:"overdueNotified"`
	IsOverdue       bool `json:"isOverdue"`
	WarningNotified bool `json:"warningNotified"`
}

// Submission carries the customer-supplied fields of a new order.
type Submission struct {
	CustomerID   string
	CustomerName string
	ServiceType  string
	SubType      string
	Quantity     string
	Note         string
}

// 工厂函数: NewOrder 用于创建一个新的待审核订单，ID 由仓储在写入时分配
func NewOrder(s Submission, now time.Time) (*Order, error) {
	if strings.TrimSpace(s.CustomerID) == "" || strings.TrimSpace(s.ServiceType) == "" {
		return nil, errors.Wrap(ErrValidation, "customer and service type are required")
	}
	return &Order{
		CustomerID:   s.CustomerID,
		CustomerName: s.CustomerName,
		ServiceType:  strings.TrimSpace(s.ServiceType),
		SubType:      strings.TrimSpace(s.SubType),
		Quantity:     strings.TrimSpace(s.Quantity),
		Note:         s.Note,
		State:        StatePending,
		CreatedAt:    now.UTC(),
	}, nil
}

// Clone returns a deep copy so callers never share the stored instance.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	if o.Deadline != nil {
		d := *o.Deadline
		c.Deadline = &d
	}
	return &c
}

// Validate checks the structural invariants that must hold after every mutation.
func (o *Order) Validate() error {
	if o.ID == "" {
		return errors.Wrap(ErrValidation, "order id is empty")
	}
	if !o.State.IsValid() {
		return errors.Wrapf(ErrInvalidState, "order %s has unknown status %q", o.ID, o.State)
	}
	if o.HasAssignee() != (o.Deadline != nil) {
		return errors.Wrapf(ErrInvalidState, "order %s: assignee and deadline must be set together", o.ID)
	}
	return nil
}

// HasAssignee reports whether a staff member has claimed the order.
func (o *Order) HasAssignee() bool {
	return o.AssigneeID != ""
}

// DisplayStatus 返回面向用户的状态标签，Overdue 和 Processing 只是 Assigned 的视图
func (o *Order) DisplayStatus() string {
	if o.State == StateAssigned {
		if o.IsOverdue {
			return DisplayOverdue
		}
		if o.HasAssignee() {
			return DisplayProcessing
		}
	}
	return string(o.State)
}

// Remaining returns the time left until the deadline. ok is false without a deadline.
func (o *Order) Remaining(now time.Time) (time.Duration, bool) {
	if o.Deadline == nil {
		return 0, false
	}
	return o.Deadline.Sub(now), true
}

// Approve 审核通过，只能从 Pending 流转
func (o *Order) Approve() error {
	if o.State != StatePending {
		return errors.Wrapf(ErrInvalidState, "order %s is %s, only pending orders can be approved", o.ID, o.State)
	}
	o.State = StateApproved
	return nil
}

// Cancel 客户取消自己的订单，只允许在审核前
func (o *Order) Cancel(callerID string) error {
	if callerID != o.CustomerID {
		return errors.Wrapf(ErrForbidden, "order %s belongs to another customer", o.ID)
	}
	if o.State != StatePending {
		return errors.Wrapf(ErrInvalidState, "order %s is %s, only pending orders can be cancelled", o.ID, o.State)
	}
	o.State = StateCancelled
	return nil
}

// Assign 接单。相当于对 AssigneeID 的 compare-and-swap，调用方需持有仓储锁。
func (o *Order) Assign(assigneeID, assigneeName string, hours int, now time.Time) error {
	if hours <= 0 {
		return errors.Wrapf(ErrValidation, "deadline hours must be positive, got %d", hours)
	}
	if strings.TrimSpace(assigneeID) == "" {
		return errors.Wrap(ErrValidation, "assignee is required")
	}
	if o.HasAssignee() {
		return errors.Wrapf(ErrInvalidState, "order %s is already assigned to %s", o.ID, o.AssigneeID)
	}
	if o.State != StatePending && o.State != StateApproved {
		return errors.Wrapf(ErrInvalidState, "order %s is %s and cannot be assigned", o.ID, o.State)
	}
	deadline := now.UTC().Add(time.Duration(hours) * time.Hour)
	o.State = StateAssigned
	o.AssigneeID = assigneeID
	o.AssigneeName = assigneeName
	o.Deadline = &deadline
	o.resetDeadlineFlags()
	return nil
}

// Complete 只有接单人可以标记完成
func (o *Order) Complete(callerID string) error {
	if !o.HasAssignee() {
		return errors.Wrapf(ErrInvalidState, "order %s has no assignee", o.ID)
	}
	if callerID != o.AssigneeID {
		return errors.Wrapf(ErrForbidden, "order %s is assigned to someone else", o.ID)
	}
	if o.State != StateAssigned {
		return errors.Wrapf(ErrInvalidState, "order %s is %s, only assigned orders can be completed", o.ID, o.State)
	}
	o.State = StateCompleted
	return nil
}

// Extend 延长截止时间并重置所有截止提醒标记
func (o *Order) Extend(minutes int) error {
	if minutes <= 0 {
		return errors.Wrapf(ErrValidation, "extension must be a positive number of minutes, got %d", minutes)
	}
	if !o.HasAssignee() || o.Deadline == nil {
		return errors.Wrapf(ErrInvalidState, "order %s has not been assigned", o.ID)
	}
	if o.State != StateAssigned {
		return errors.Wrapf(ErrInvalidState, "order %s is %s, only assigned orders can be extended", o.ID, o.State)
	}
	deadline := o.Deadline.Add(time.Duration(minutes) * time.Minute)
	o.Deadline = &deadline
	o.resetDeadlineFlags()
	return nil
}

// EditNote 员工或下单客户可以修改备注
func (o *Order) EditNote(callerID string, isStaff bool, note string) error {
	if !isStaff && callerID != o.CustomerID {
		return errors.Wrapf(ErrForbidden, "only staff or the customer may edit order %s", o.ID)
	}
	o.Note = note
	return nil
}

// MarkOverdue 由截止监控调用。返回 false 表示无需处理（未到期、已提醒或状态不符）。
func (o *Order) MarkOverdue(now time.Time) bool {
	if o.State != StateAssigned || o.OverdueNotified {
		return false
	}
	remaining, ok := o.Remaining(now)
	if !ok || remaining > 0 {
		return false
	}
	o.IsOverdue = true
	o.OverdueNotified = true
	return true
}

// MarkWarned flags the one-shot "deadline approaching" notice.
func (o *Order) MarkWarned(now time.Time, threshold time.Duration) bool {
	if threshold <= 0 || o.State != StateAssigned || o.WarningNotified {
		return false
	}
	remaining, ok := o.Remaining(now)
	if !ok || remaining <= 0 || remaining > threshold {
		return false
	}
	o.WarningNotified = true
	return true
}

func (o *Order) resetDeadlineFlags() {
	o.OverdueNotified = false
	o.IsOverdue = false
	o.WarningNotified = false
}

// internal/service/order/domain/event.go
package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NotificationKind 区分出站通知的类型
type NotificationKind string

const (
	KindOrderCreated        NotificationKind = "order.created"
	KindOrderApproved       NotificationKind = "order.approved"
	KindOrderOverdue        NotificationKind = "order.overdue"
	KindDeadlineExtended    NotificationKind = "order.deadline_extended"
	KindDeadlineApproaching NotificationKind = "order.deadline_approaching"
)

// Audience 决定通知投递给员工频道还是某个具体用户
type Audience string

const (
	AudienceStaff Audience = "staff"
	AudienceUser  Audience = "user"
)

// deadlineLayout matches the timestamp format shown to users by the bot.
const deadlineLayout = "2006-01-02 15:04:05 UTC"

// NotificationEvent 是核心发出的通知，由平台适配器消费
type NotificationEvent struct {
	ID          string           `json:"id"`
	Kind        NotificationKind `json:"kind"`
	OrderID     string           `json:"orderId"`
	RecipientID string           `json:"recipientId,omitempty"`
	Audience    Audience         `json:"audience"`
	GuildID     string           `json:"guildId,omitempty"`
	Message     string           `json:"message"`
	Deadline    *time.Time       `json:"deadline,omitempty"`
	OccurredAt  time.Time        `json:"occurredAt"`
}

func newEvent(kind NotificationKind, o *Order, audience Audience, recipient, msg string, now time.Time) *NotificationEvent {
	ev := &NotificationEvent{
		ID:          uuid.New().String(),
		Kind:        kind,
		OrderID:     o.ID,
		RecipientID: recipient,
		Audience:    audience,
		Message:     msg,
		OccurredAt:  now.UTC(),
	}
	if o.Deadline != nil {
		d := *o.Deadline
		ev.Deadline = &d
	}
	return ev
}

// OrderCreated 通知员工有新订单
func OrderCreated(o *Order, now time.Time) *NotificationEvent {
	msg := fmt.Sprintf("New order %s from %s: %s", o.ID, displayName(o.CustomerName, o.CustomerID), o.ServiceType)
	if o.SubType != "" {
		msg += " / " + o.SubType
	}
	if o.Quantity != "" {
		msg += " x" + o.Quantity
	}
	return newEvent(KindOrderCreated, o, AudienceStaff, "", msg, now)
}

// OrderApproved 通知客户订单已审核
func OrderApproved(o *Order, now time.Time) *NotificationEvent {
	return newEvent(KindOrderApproved, o, AudienceUser, o.CustomerID,
		fmt.Sprintf("Order %s has been approved.", o.ID), now)
}

// OrderOverdue 通知接单人订单已超时。staff 为 true 时生成发往员工频道的副本。
func OrderOverdue(o *Order, staff bool, now time.Time) *NotificationEvent {
	if staff {
		return newEvent(KindOrderOverdue, o, AudienceStaff, "",
			fmt.Sprintf("Order %s assigned to %s is overdue.", o.ID, displayName(o.AssigneeName, o.AssigneeID)), now)
	}
	return newEvent(KindOrderOverdue, o, AudienceUser, o.AssigneeID,
		fmt.Sprintf("Order %s passed its deadline (%s).", o.ID, formatDeadline(o.Deadline)), now)
}

// DeadlineExtended 通知接单人截止时间已延长
func DeadlineExtended(o *Order, minutes int, now time.Time) *NotificationEvent {
	return newEvent(KindDeadlineExtended, o, AudienceUser, o.AssigneeID,
		fmt.Sprintf("Order %s extended by %d minutes. New deadline: %s", o.ID, minutes, formatDeadline(o.Deadline)), now)
}

// DeadlineApproaching 提前提醒接单人
func DeadlineApproaching(o *Order, remaining time.Duration, now time.Time) *NotificationEvent {
	return newEvent(KindDeadlineApproaching, o, AudienceUser, o.AssigneeID,
		fmt.Sprintf("Order %s is due in %s (%s).", o.ID, remaining.Round(time.Minute), formatDeadline(o.Deadline)), now)
}

func formatDeadline(d *time.Time) string {
	if d == nil {
		return "-"
	}
	return d.UTC().Format(deadlineLayout)
}

func displayName(name, id string) string {
	if name != "" {
		return name
	}
	return id
}

// internal/service/order/application/dto.go
package application

import (
	"time"

	"github.com/Highkingd/Huygame2341-botdis/internal/service/order/domain"
)

// Caller 是宿主平台传入的调用者身份，本服务不做认证
type Caller struct {
	ID   string `json:"callerId" validate:"required"`
	Name string `json:"callerName,omitempty"`
}

// SubmitOrderRequest 对应客户提交的下单表单
type SubmitOrderRequest struct {
	CustomerID   string `json:"customerId" validate:"required,max=64"`
	CustomerName string `json:"customerName" validate:"max=128"`
	ServiceType  string `json:"serviceType" validate:"required,max=32"`
	SubType      string `json:"subType" validate:"max=32"`
	Quantity     string `json:"quantity" validate:"max=64"`
	Note         string `json:"note" validate:"max=1000"`
}

func (r *SubmitOrderRequest) toSubmission() domain.Submission {
	return domain.Submission{
		CustomerID:   r.CustomerID,
		CustomerName: r.CustomerName,
		ServiceType:  r.ServiceType,
		SubType:      r.SubType,
		Quantity:     r.Quantity,
		Note:         r.Note,
	}
}

type AssignOrderRequest struct {
	DeadlineHours int `json:"deadlineHours"`
}

type ExtendOrderRequest struct {
	Minutes int `json:"minutes"`
}

type EditNoteRequest struct {
	Note string `json:"note" validate:"max=1000"`
}

// PriceQuoteRequest 报价参数，premium 只对 RP 有意义
type PriceQuoteRequest struct {
	ServiceType string `json:"serviceType" validate:"required"`
	SubType     string `json:"subType"`
	Quantity    string `json:"quantity"`
	Premium     string `json:"premium"`
}

type PriceQuoteResponse struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// ListOrdersQuery 状态过滤与可选的 CEL 表达式
type ListOrdersQuery struct {
	Status     string `json:"status,omitempty"`
	Expression string `json:"where,omitempty"`
}

// OrderStats 对应统计命令的输出
type OrderStats struct {
	Completed  int `json:"completed"`
	Processing int `json:"processing"`
	Overdue    int `json:"overdue"`
	Total      int `json:"total"`
}

// OrderView 是返回给适配器的订单表示，附带展示状态
type OrderView struct {
	*domain.Order
	DisplayStatus    string `json:"displayStatus"`
	RemainingSeconds *int64 `json:"remainingSeconds,omitempty"`
}

func NewOrderView(o *domain.Order, now time.Time) *OrderView {
	if o == nil {
		return nil
	}
	v := &OrderView{Order: o, DisplayStatus: o.DisplayStatus()}
	if o.State == domain.StateAssigned {
		if remaining, ok := o.Remaining(now); ok {
			secs := int64(remaining / time.Second)
			v.RemainingSeconds = &secs
		}
	}
	return v
}

func NewOrderViews(orders []*domain.Order, now time.Time) []*OrderView {
	views := make([]*OrderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, NewOrderView(o, now))
	}
	return views
}

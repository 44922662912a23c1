// internal/service/order/application/service.go
package application

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Highkingd/Huygame2341-botdis/internal/pkg/logger"
	"github.com/Highkingd/Huygame2341-botdis/internal/pkg/metrics"
	"github.com/Highkingd/Huygame2341-botdis/internal/service/order/domain"
	"github.com/Highkingd/Huygame2341-botdis/internal/service/order/port"
)

const (
	listLimit            = 10
	defaultNotifyTimeout = 5 * time.Second
)

// OrderApplicationService 编排订单生命周期：身份校验、仓储读写、通知发送。
// 状态规则本身在 domain.Order 上，这里只负责"谁可以做"和"做完之后通知谁"。
type OrderApplicationService struct {
	orderRepo domain.OrderRepository
	notifier  port.NotificationProducer
	filters   port.FilterCompiler
	tracer    trace.Tracer
	metrics   *metrics.Registry
	validate  *validator.Validate

	staff         map[string]struct{}
	notifyTimeout time.Duration
	now           func() time.Time
}

// Option 用于覆盖可选依赖
type Option func(*OrderApplicationService)

// WithClock 替换时钟，测试中用于快进时间
func WithClock(now func() time.Time) Option {
	return func(s *OrderApplicationService) { s.now = now }
}

func WithNotifyTimeout(d time.Duration) Option {
	return func(s *OrderApplicationService) {
		if d > 0 {
			s.notifyTimeout = d
		}
	}
}

func WithFilterCompiler(c port.FilterCompiler) Option {
	return func(s *OrderApplicationService) { s.filters = c }
}

func WithMetrics(m *metrics.Registry) Option {
	return func(s *OrderApplicationService) { s.metrics = m }
}

func NewOrderApplicationService(orderRepo domain.OrderRepository, notifier port.NotificationProducer, tracer trace.Tracer, staffIDs []string, opts ...Option) *OrderApplicationService {
	staff := make(map[string]struct{}, len(staffIDs))
	for _, id := range staffIDs {
		if id = strings.TrimSpace(id); id != "" {
			staff[id] = struct{}{}
		}
	}
	s := &OrderApplicationService{
		orderRepo:     orderRepo,
		notifier:      notifier,
		tracer:        tracer,
		validate:      validator.New(),
		staff:         staff,
		notifyTimeout: defaultNotifyTimeout,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IsStaff reports whether id is on the staff allow-list.
func (s *OrderApplicationService) IsStaff(id string) bool {
	_, ok := s.staff[id]
	return ok
}

// Now 返回服务使用的当前时间
func (s *OrderApplicationService) Now() time.Time { return s.now() }

// Submit 创建一个 Pending 订单并通知员工频道
func (s *OrderApplicationService) Submit(ctx context.Context, req *SubmitOrderRequest) (order *domain.Order, err error) {
	ctx, span := s.startSpan(ctx, "app.Submit", "", req.CustomerID)
	defer func() { s.finish(span, "submit", err) }()

	if err := s.validateStruct(req); err != nil {
		return nil, err
	}
	order, err = domain.NewOrder(req.toSubmission(), s.now())
	if err != nil {
		return nil, err
	}
	if _, err = s.orderRepo.Create(ctx, order); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("order.id", order.ID))
	logger.Ctx(ctx).Info().Str("order", order.ID).Str("caller", req.CustomerID).Str("service", order.ServiceType).Msg("Order submitted")

	s.notify(ctx, domain.OrderCreated(order, s.now()))
	return order, nil
}

// Approve 员工审核
func (s *OrderApplicationService) Approve(ctx context.Context, caller Caller, id string) (order *domain.Order, err error) {
	ctx, span := s.startSpan(ctx, "app.Approve", id, caller.ID)
	defer func() { s.finish(span, "approve", err) }()

	if err := s.validateStruct(&caller); err != nil {
		return nil, err
	}

	order, err = s.orderRepo.Update(ctx, id, func(o *domain.Order) error {
		if !s.IsStaff(caller.ID) {
			return errors.Wrapf(domain.ErrForbidden, "%s is not staff", caller.ID)
		}
		return o.Approve()
	})
	if err != nil {
		return nil, err
	}
	logger.Ctx(ctx).Info().Str("order", id).Str("caller", caller.ID).Msg("Order approved")
	s.notify(ctx, domain.OrderApproved(order, s.now()))
	return order, nil
}

// Cancel 客户取消自己的待审核订单，记录会被删除。返回的副本状态为 Cancelled。
func (s *OrderApplicationService) Cancel(ctx context.Context, caller Caller, id string) (order *domain.Order, err error) {
	ctx, span := s.startSpan(ctx, "app.Cancel", id, caller.ID)
	defer func() { s.finish(span, "cancel", err) }()

	if err := s.validateStruct(&caller); err != nil {
		return nil, err
	}

	order, err = s.orderRepo.Delete(ctx, id, func(o *domain.Order) error {
		return o.Cancel(caller.ID)
	})
	if err != nil {
		return nil, err
	}
	logger.Ctx(ctx).Info().Str("order", id).Str("caller", caller.ID).Msg("Order cancelled")
	return order, nil
}

// Assign 接单，先到先得
func (s *OrderApplicationService) Assign(ctx context.Context, caller Caller, id string, deadlineHours int) (order *domain.Order, err error) {
	ctx, span := s.startSpan(ctx, "app.Assign", id, caller.ID)
	defer func() { s.finish(span, "assign", err) }()

	if err := s.validateStruct(&caller); err != nil {
		return nil, err
	}

	now := s.now()
	order, err = s.orderRepo.Update(ctx, id, func(o *domain.Order) error {
		return o.Assign(caller.ID, caller.Name, deadlineHours, now)
	})
	if err != nil {
		return nil, err
	}
	logger.Ctx(ctx).Info().Str("order", id).Str("caller", caller.ID).Time("deadline", *order.Deadline).Msg("Order assigned")
	return order, nil
}

// Complete 接单人标记完成
func (s *OrderApplicationService) Complete(ctx context.Context, caller Caller, id string) (order *domain.Order, err error) {
	ctx, span := s.startSpan(ctx, "app.Complete", id, caller.ID)
	defer func() { s.finish(span, "complete", err) }()

	if err := s.validateStruct(&caller); err != nil {
		return nil, err
	}

	order, err = s.orderRepo.Update(ctx, id, func(o *domain.Order) error {
		return o.Complete(caller.ID)
	})
	if err != nil {
		return nil, err
	}
	logger.Ctx(ctx).Info().Str("order", id).Str("caller", caller.ID).Msg("Order completed")
	return order, nil
}

// Extend 延长截止时间并通知接单人
func (s *OrderApplicationService) Extend(ctx context.Context, caller Caller, id string, minutes int) (order *domain.Order, err error) {
	ctx, span := s.startSpan(ctx, "app.Extend", id, caller.ID)
	defer func() { s.finish(span, "extend", err) }()

	if err := s.validateStruct(&caller); err != nil {
		return nil, err
	}

	order, err = s.orderRepo.Update(ctx, id, func(o *domain.Order) error {
		return o.Extend(minutes)
	})
	if err != nil {
		return nil, err
	}
	logger.Ctx(ctx).Info().Str("order", id).Str("caller", caller.ID).Int("minutes", minutes).Time("deadline", *order.Deadline).Msg("Order deadline extended")
	s.notify(ctx, domain.DeadlineExtended(order, minutes, s.now()))
	return order, nil
}

func (s *OrderApplicationService) EditNote(ctx context.Context, caller Caller, id, note string) (order *domain.Order, err error) {
	ctx, span := s.startSpan(ctx, "app.EditNote", id, caller.ID)
	defer func() { s.finish(span, "edit_note", err) }()

	if err := s.validateStruct(&caller); err != nil {
		return nil, err
	}

	if err := s.validateStruct(&EditNoteRequest{Note: note}); err != nil {
		return nil, err
	}
	order, err = s.orderRepo.Update(ctx, id, func(o *domain.Order) error {
		return o.EditNote(caller.ID, s.IsStaff(caller.ID), note)
	})
	if err != nil {
		return nil, err
	}
	logger.Ctx(ctx).Info().Str("order", id).Str("caller", caller.ID).Msg("Order note updated")
	return order, nil
}

// Delete 员工删除任意状态的订单
func (s *OrderApplicationService) Delete(ctx context.Context, caller Caller, id string) (order *domain.Order, err error) {
	ctx, span := s.startSpan(ctx, "app.Delete", id, caller.ID)
	defer func() { s.finish(span, "delete", err) }()

	if err := s.validateStruct(&caller); err != nil {
		return nil, err
	}

	order, err = s.orderRepo.Delete(ctx, id, func(*domain.Order) error {
		if !s.IsStaff(caller.ID) {
			return errors.Wrapf(domain.ErrForbidden, "%s is not staff", caller.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Ctx(ctx).Info().Str("order", id).Str("caller", caller.ID).Msg("Order deleted")
	return order, nil
}

func (s *OrderApplicationService) GetStatus(ctx context.Context, id string) (order *domain.Order, err error) {
	ctx, span := s.startSpan(ctx, "app.GetStatus", id, "")
	defer func() { s.finish(span, "get_status", err) }()
	return s.orderRepo.Get(ctx, id)
}

// ListOrders 按创建时间倒序返回最多 10 个订单
func (s *OrderApplicationService) ListOrders(ctx context.Context, q ListOrdersQuery) (orders []*domain.Order, err error) {
	ctx, span := s.startSpan(ctx, "app.ListOrders", "", "")
	defer func() { s.finish(span, "list", err) }()

	var match port.OrderPredicate
	if strings.TrimSpace(q.Expression) != "" {
		if s.filters == nil {
			return nil, errors.Wrap(domain.ErrValidation, "expression filters are not enabled")
		}
		if match, err = s.filters.Compile(q.Expression); err != nil {
			return nil, err
		}
	}

	all, err := s.orderRepo.List(ctx)
	if err != nil {
		return nil, err
	}
	orders = make([]*domain.Order, 0, len(all))
	for _, o := range all {
		if !o.MatchesStatus(q.Status) {
			continue
		}
		if match != nil {
			ok, err := match(o)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		orders = append(orders, o)
	}
	sortNewestFirst(orders)
	if len(orders) > listLimit {
		orders = orders[:listLimit]
	}
	span.SetAttributes(attribute.Int("orders.count", len(orders)))
	return orders, nil
}

// Stats 统计各类订单数量，processing 与 overdue 都是 Assigned 的子集
func (s *OrderApplicationService) Stats(ctx context.Context) (stats *OrderStats, err error) {
	ctx, span := s.startSpan(ctx, "app.Stats", "", "")
	defer func() { s.finish(span, "stats", err) }()

	all, err := s.orderRepo.List(ctx)
	if err != nil {
		return nil, err
	}
	stats = &OrderStats{Total: len(all)}
	for _, o := range all {
		switch o.DisplayStatus() {
		case string(domain.StateCompleted):
			stats.Completed++
		case domain.DisplayProcessing:
			stats.Processing++
		case domain.DisplayOverdue:
			stats.Overdue++
		}
	}
	return stats, nil
}

func (s *OrderApplicationService) QuotePrice(ctx context.Context, req *PriceQuoteRequest) (resp *PriceQuoteResponse, err error) {
	_, span := s.startSpan(ctx, "app.QuotePrice", "", "")
	defer func() { s.finish(span, "price", err) }()

	if err := s.validateStruct(req); err != nil {
		return nil, err
	}
	premium := req.Premium
	if strings.TrimSpace(premium) == "" {
		premium = "yes" // 与聊天命令的默认值一致
	}
	amount, err := QuotePrice(req.ServiceType, req.SubType, req.Quantity, premium)
	if err != nil {
		return nil, err
	}
	return &PriceQuoteResponse{Amount: amount, Currency: "VND"}, nil
}

// notify 在仓储锁释放后调用。失败只记录，不影响命令结果。
func (s *OrderApplicationService) notify(ctx context.Context, ev *domain.NotificationEvent) {
	deliver(ctx, s.notifier, s.metrics, s.notifyTimeout, ev)
}

func deliver(ctx context.Context, notifier port.NotificationProducer, m *metrics.Registry, timeout time.Duration, ev *domain.NotificationEvent) bool {
	if notifier == nil {
		return true
	}
	// 请求结束后通知仍需完成，只继承追踪信息
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	err := notifier.Notify(nctx, ev)
	result := "ok"
	if err != nil {
		result = "failed"
		logger.Ctx(ctx).Warn().Err(err).Str("order", ev.OrderID).Str("kind", string(ev.Kind)).
			Str("recipient", ev.RecipientID).Msg("Failed to deliver notification")
	}
	if m != nil {
		m.Notifications.WithLabelValues(string(ev.Kind), result).Inc()
	}
	return err == nil
}

func (s *OrderApplicationService) validateStruct(v interface{}) error {
	if err := s.validate.Struct(v); err != nil {
		return errors.Wrap(domain.ErrValidation, err.Error())
	}
	return nil
}

func (s *OrderApplicationService) startSpan(ctx context.Context, name, orderID, callerID string) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, name)
	if orderID != "" {
		span.SetAttributes(attribute.String("order.id", orderID))
	}
	if callerID != "" {
		span.SetAttributes(attribute.String("caller.id", callerID))
	}
	return ctx, span
}

func (s *OrderApplicationService) finish(span trace.Span, command string, err error) {
	result := ErrorCode(err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, result)
	}
	if s.metrics != nil {
		s.metrics.Commands.WithLabelValues(command, result).Inc()
	}
	span.End()
}

// ErrorCode 把错误归类为稳定的短标识，供日志、指标和适配器使用
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrForbidden):
		return "forbidden"
	case errors.Is(err, domain.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, domain.ErrStorage):
		return "storage"
	default:
		return "internal"
	}
}

func sortNewestFirst(orders []*domain.Order) {
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.After(orders[j].CreatedAt)
		}
		return orders[i].ID > orders[j].ID
	})
}

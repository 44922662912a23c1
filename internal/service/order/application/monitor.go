package application

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Highkingd/Huygame2341-botdis/internal/pkg/logger"
	"github.com/Highkingd/Huygame2341-botdis/internal/pkg/metrics"
	"github.com/Highkingd/Huygame2341-botdis/internal/service/order/domain"
	"github.com/Highkingd/Huygame2341-botdis/internal/service/order/port"
)

// errUnchanged 让仓储跳过持久化：锁内复查后发现无需标记
var errUnchanged = errors.New("order unchanged")

// MonitorConfig 截止监控的参数
type MonitorConfig struct {
	Interval             time.Duration
	WarningThreshold     time.Duration // 0 表示不发提前提醒
	NotifyTimeout        time.Duration
	NotifyStaffOnOverdue bool
}

// DeadlineMonitor 周期扫描已接单订单，超时或即将超时时发出一次性通知。
// 它只修改提醒标记，从不改变订单状态。
type DeadlineMonitor struct {
	orderRepo domain.OrderRepository
	notifier  port.NotificationProducer
	elector   port.LeaderElector
	tracer    trace.Tracer
	metrics   *metrics.Registry
	cfg       MonitorConfig
	now       func() time.Time
}

func NewDeadlineMonitor(orderRepo domain.OrderRepository, notifier port.NotificationProducer, tracer trace.Tracer, cfg MonitorConfig) *DeadlineMonitor {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = defaultNotifyTimeout
	}
	return &DeadlineMonitor{
		orderRepo: orderRepo,
		notifier:  notifier,
		tracer:    tracer,
		cfg:       cfg,
		now:       time.Now,
	}
}

// WithLeaderElector 多副本部署时只有持有锁的实例执行扫描
func (m *DeadlineMonitor) WithLeaderElector(e port.LeaderElector) *DeadlineMonitor {
	m.elector = e
	return m
}

func (m *DeadlineMonitor) WithMetrics(r *metrics.Registry) *DeadlineMonitor {
	m.metrics = r
	return m
}

func (m *DeadlineMonitor) WithClock(now func() time.Time) *DeadlineMonitor {
	m.now = now
	return m
}

// Run 阻塞直到 ctx 结束。ctx 取消不视为错误。
func (m *DeadlineMonitor) Run(ctx context.Context) error {
	if m.elector != nil {
		logger.Ctx(ctx).Info().Msg("Deadline monitor waiting for leadership")
		if err := m.elector.Acquire(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		defer func() {
			if err := m.elector.Release(); err != nil {
				logger.Ctx(ctx).Warn().Err(err).Msg("Failed to release monitor leadership")
			}
		}()
		logger.Ctx(ctx).Info().Msg("Deadline monitor acquired leadership")
	}

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	logger.Ctx(ctx).Info().Dur("interval", m.cfg.Interval).Dur("warning", m.cfg.WarningThreshold).Msg("Deadline monitor started")

	for {
		select {
		case <-ctx.Done():
			logger.Ctx(ctx).Info().Msg("Deadline monitor stopped")
			return nil
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// SweepResult 汇总一次扫描的结果，主要用于测试与日志
type SweepResult struct {
	Checked       int
	MarkedOverdue int
	Warned        int
	NotifyFailed  int
}

// Sweep 执行一次扫描。每个订单的标记都在仓储锁内重新判断，
// 因此与并发的延期操作交错时不会误标。
func (m *DeadlineMonitor) Sweep(ctx context.Context) SweepResult {
	ctx, span := m.tracer.Start(ctx, "monitor.Sweep")
	defer span.End()

	var res SweepResult
	orders, err := m.orderRepo.List(ctx)
	if err != nil {
		span.RecordError(err)
		logger.Ctx(ctx).Error().Err(err).Msg("Deadline monitor failed to list orders")
		return res
	}

	now := m.now()
	for _, o := range orders {
		if o.State != domain.StateAssigned || o.Deadline == nil {
			continue
		}
		res.Checked++
		remaining := o.Deadline.Sub(now)

		switch {
		case remaining <= 0 && !o.OverdueNotified:
			m.markOverdue(ctx, o.ID, now, &res)
		case m.cfg.WarningThreshold > 0 && remaining > 0 && remaining <= m.cfg.WarningThreshold && !o.WarningNotified:
			m.markWarned(ctx, o.ID, now, &res)
		}
	}

	span.SetAttributes(
		attribute.Int("orders.checked", res.Checked),
		attribute.Int("orders.overdue", res.MarkedOverdue),
		attribute.Int("orders.warned", res.Warned),
	)
	if m.metrics != nil {
		m.metrics.Sweeps.Inc()
		m.metrics.OverdueMarked.Add(float64(res.MarkedOverdue))
		m.metrics.WarningsMarked.Add(float64(res.Warned))
	}
	if res.MarkedOverdue > 0 || res.Warned > 0 || res.NotifyFailed > 0 {
		logger.Ctx(ctx).Info().Int("checked", res.Checked).Int("overdue", res.MarkedOverdue).
			Int("warned", res.Warned).Int("notify_failed", res.NotifyFailed).Msg("Deadline sweep finished")
	}
	return res
}

func (m *DeadlineMonitor) markOverdue(ctx context.Context, id string, now time.Time, res *SweepResult) {
	order, err := m.orderRepo.Update(ctx, id, func(o *domain.Order) error {
		if !o.MarkOverdue(now) {
			return errUnchanged
		}
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return
	}
	if err != nil {
		// 订单可能在扫描期间被删除或完成
		logger.Ctx(ctx).Warn().Err(err).Str("order", id).Msg("Failed to mark order overdue")
		return
	}
	res.MarkedOverdue++
	logger.Ctx(ctx).Info().Str("order", id).Str("assignee", order.AssigneeID).Msg("Order is overdue")

	if !deliver(ctx, m.notifier, m.metrics, m.cfg.NotifyTimeout, domain.OrderOverdue(order, false, now)) {
		res.NotifyFailed++
	}
	if m.cfg.NotifyStaffOnOverdue {
		if !deliver(ctx, m.notifier, m.metrics, m.cfg.NotifyTimeout, domain.OrderOverdue(order, true, now)) {
			res.NotifyFailed++
		}
	}
}

func (m *DeadlineMonitor) markWarned(ctx context.Context, id string, now time.Time, res *SweepResult) {
	order, err := m.orderRepo.Update(ctx, id, func(o *domain.Order) error {
		if !o.MarkWarned(now, m.cfg.WarningThreshold) {
			return errUnchanged
		}
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return
	}
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("order", id).Msg("Failed to mark deadline warning")
		return
	}
	res.Warned++
	remaining, _ := order.Remaining(now)
	if !deliver(ctx, m.notifier, m.metrics, m.cfg.NotifyTimeout, domain.DeadlineApproaching(order, remaining, now)) {
		res.NotifyFailed++
	}
}

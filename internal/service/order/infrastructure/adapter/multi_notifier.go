package adapter

import (
	"context"

	"github.com/pkg/errors"

	"github.com/Highkingd/Huygame2341-botdis/internal/pkg/logger"
	"github.com/Highkingd/Huygame2341-botdis/internal/pkg/metrics"
	"github.com/Highkingd/Huygame2341-botdis/internal/service/order/domain"
	"github.com/Highkingd/Huygame2341-botdis/internal/service/order/port"
)

type namedSink struct {
	name string
	sink port.NotificationProducer
}

// MultiNotifier 把同一条通知投递给所有已配置的通道。
// 每个通道都会被尝试，单个通道失败只记录日志和指标；全部失败时才返回错误。
type MultiNotifier struct {
	sinks   []namedSink
	metrics *metrics.Registry
}

func NewMultiNotifier(m *metrics.Registry) *MultiNotifier {
	return &MultiNotifier{metrics: m}
}

// Add 注册一个通道，name 用于日志和 sink 标签
func (n *MultiNotifier) Add(name string, sink port.NotificationProducer) *MultiNotifier {
	if sink != nil {
		n.sinks = append(n.sinks, namedSink{name: name, sink: sink})
	}
	return n
}

func (n *MultiNotifier) Len() int { return len(n.sinks) }

func (n *MultiNotifier) Notify(ctx context.Context, ev *domain.NotificationEvent) error {
	if len(n.sinks) == 0 {
		return nil
	}
	failed := 0
	var lastErr error
	for _, s := range n.sinks {
		if err := s.sink.Notify(ctx, ev); err != nil {
			failed++
			lastErr = err
			logger.Ctx(ctx).Warn().Err(err).
				Str("sink", s.name).
				Str("kind", string(ev.Kind)).
				Str("order", ev.OrderID).
				Msg("Notification sink failed")
			if n.metrics != nil {
				n.metrics.SinkFailures.WithLabelValues(s.name).Inc()
			}
		}
	}
	if failed == len(n.sinks) {
		return errors.Wrapf(lastErr, "all %d notification sinks failed", failed)
	}
	return nil
}

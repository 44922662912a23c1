// internal/service/order/interfaces/command_consumer.go
package interfaces

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Highkingd/Huygame2341-botdis/internal/pkg/logger"
	"github.com/Highkingd/Huygame2341-botdis/internal/pkg/metrics"
	"github.com/Highkingd/Huygame2341-botdis/internal/pkg/mq"
)

// MessageReader 是 kafka.Reader 的子集
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// CommandConsumerAdapter 是一个驱动适配器，它监听命令 topic 并把结果写到回复 topic。
type CommandConsumerAdapter struct {
	reader     MessageReader
	replies    mq.MessageWriter
	dispatcher *CommandDispatcher
	tracer     trace.Tracer
	metrics    *metrics.Registry
}

func NewCommandConsumerAdapter(reader MessageReader, replies mq.MessageWriter, dispatcher *CommandDispatcher, tracer trace.Tracer, m *metrics.Registry) *CommandConsumerAdapter {
	return &CommandConsumerAdapter{
		reader:     reader,
		replies:    replies,
		dispatcher: dispatcher,
		tracer:     tracer,
		metrics:    m,
	}
}

// Run 开始监听，阻塞直到 ctx 结束。每条消息处理完（包括回复）后才提交 offset。
func (a *CommandConsumerAdapter) Run(ctx context.Context) error {
	logger.Ctx(ctx).Info().Msg("✅ Command consumer started.")
	defer func() {
		if err := a.reader.Close(); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Msg("Failed to close command reader")
		}
	}()

	for {
		// 我们使用FetchMessage而不是ReadMessage，以便更好地控制提交
		msg, err := a.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Ctx(ctx).Info().Msg("🛑 Command consumer shutting down.")
				return nil
			}
			logger.Ctx(ctx).Error().Err(err).Msg("Could not fetch command message, retrying")
			select {
			case <-time.After(time.Second): // 避免快速失败循环
			case <-ctx.Done():
				return nil
			}
			continue
		}

		a.handleMessage(ctx, msg)

		if err := a.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			logger.Ctx(ctx).Error().Err(err).Int64("offset", msg.Offset).Msg("Failed to commit command message")
		}
	}
}

func (a *CommandConsumerAdapter) handleMessage(parentCtx context.Context, msg kafka.Message) {
	ctx := mq.ExtractTraceContext(parentCtx, msg.Headers)
	ctx, span := a.tracer.Start(ctx, "consumer.Command", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()
	span.SetAttributes(
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.destination", msg.Topic),
		attribute.Int64("messaging.kafka.offset", msg.Offset),
	)

	var cmd Command
	if err := json.Unmarshal(msg.Value, &cmd); err != nil {
		// 无法解析的消息直接跳过，不回复
		span.RecordError(err)
		logger.Ctx(ctx).Error().Err(err).Int64("offset", msg.Offset).Msg("Failed to unmarshal command, skipping")
		a.count("invalid")
		return
	}
	span.SetAttributes(attribute.String("command", cmd.Name), attribute.String("request.id", cmd.RequestID))

	reply := a.dispatcher.Dispatch(ctx, &cmd)
	if reply.OK {
		a.count("ok")
	} else {
		a.count("rejected")
		logger.Ctx(ctx).Info().Str("command", reply.Command).Str("caller", cmd.CallerID).
			Str("order", cmd.OrderID).Str("code", reply.Code).Msg("Command rejected")
	}

	if a.replies == nil {
		return
	}
	body, err := json.Marshal(reply)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("Failed to marshal command reply")
		return
	}
	if err := mq.ProduceMessage(ctx, a.replies, []byte(cmd.RequestID), body); err != nil {
		span.RecordError(err)
		logger.Ctx(ctx).Warn().Err(err).Str("request", cmd.RequestID).Msg("Failed to publish command reply")
	}
}

func (a *CommandConsumerAdapter) count(result string) {
	if a.metrics != nil {
		a.metrics.CommandsConsumed.WithLabelValues(result).Inc()
	}
}

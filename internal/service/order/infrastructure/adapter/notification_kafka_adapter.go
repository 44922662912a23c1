package adapter

import (
	"context"
	"encoding/json"
	"io"

	"github.com/pkg/errors"

	"github.com/Highkingd/Huygame2341-botdis/internal/pkg/mq"
	"github.com/Highkingd/Huygame2341-botdis/internal/service/order/domain"
	"github.com/Highkingd/Huygame2341-botdis/internal/service/order/port"
)

// NotificationKafkaAdapter 实现了 port.NotificationProducer 接口，把通知写入 notifications topic。
type NotificationKafkaAdapter struct {
	writer  mq.MessageWriter
	guildID string
}

// NewNotificationKafkaAdapter 创建一个新的通知生产者适配器。
func NewNotificationKafkaAdapter(writer mq.MessageWriter, guildID string) *NotificationKafkaAdapter {
	return &NotificationKafkaAdapter{writer: writer, guildID: guildID}
}

var _ port.NotificationProducer = (*NotificationKafkaAdapter)(nil)

func (a *NotificationKafkaAdapter) Notify(ctx context.Context, ev *domain.NotificationEvent) error {
	out := *ev
	if out.GuildID == "" {
		out.GuildID = a.guildID
	}
	eventBytes, err := json.Marshal(&out)
	if err != nil {
		return errors.Wrap(err, "marshal notification event")
	}

	// 按接收人分区，同一个人的通知保持顺序；员工频道通知按订单分区
	key := ev.RecipientID
	if key == "" {
		key = ev.OrderID
	}
	return mq.ProduceMessage(ctx, a.writer, []byte(key), eventBytes)
}

// Close 关闭底层的Kafka writer。
func (a *NotificationKafkaAdapter) Close() error {
	if c, ok := a.writer.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

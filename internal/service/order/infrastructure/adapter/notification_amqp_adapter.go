package adapter

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/Highkingd/Huygame2341-botdis/internal/pkg/mq"
	"github.com/Highkingd/Huygame2341-botdis/internal/service/order/domain"
)

// NotificationAMQPAdapter 把通知发布到 RabbitMQ fanout exchange，routing key 使用通知类型。
type NotificationAMQPAdapter struct {
	publisher mq.AMQPPublisher
	exchange  string
	guildID   string
}

func NewNotificationAMQPAdapter(publisher mq.AMQPPublisher, exchange, guildID string) *NotificationAMQPAdapter {
	return &NotificationAMQPAdapter{publisher: publisher, exchange: exchange, guildID: guildID}
}

func (a *NotificationAMQPAdapter) Notify(ctx context.Context, ev *domain.NotificationEvent) error {
	out := *ev
	if out.GuildID == "" {
		out.GuildID = a.guildID
	}
	body, err := json.Marshal(&out)
	if err != nil {
		return errors.Wrap(err, "marshal notification event")
	}
	if err := mq.PublishJSON(ctx, a.publisher, a.exchange, string(ev.Kind), ev.ID, body); err != nil {
		return errors.Wrapf(err, "publish to %s", a.exchange)
	}
	return nil
}

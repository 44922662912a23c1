package adapter

import (
	"context"

	"github.com/pkg/errors"

	"github.com/Highkingd/Huygame2341-botdis/internal/service/order/domain"
)

// JSONPoster 是 httpclient.Client 的子集
type JSONPoster interface {
	PostJSON(ctx context.Context, target string, payload interface{}) error
}

// webhookMessage 是聊天平台 incoming webhook 的最小负载
type webhookMessage struct {
	Content string `json:"content"`
}

// NotificationWebhookAdapter 把员工频道的通知推送到日志频道和管理频道的 webhook。
// 发给个人的通知不经过这里。
type NotificationWebhookAdapter struct {
	client JSONPoster
	urls   []string
}

func NewNotificationWebhookAdapter(client JSONPoster, urls ...string) *NotificationWebhookAdapter {
	var targets []string
	for _, u := range urls {
		if u != "" {
			targets = append(targets, u)
		}
	}
	return &NotificationWebhookAdapter{client: client, urls: targets}
}

// Enabled reports whether at least one channel webhook is configured.
func (a *NotificationWebhookAdapter) Enabled() bool { return len(a.urls) > 0 }

func (a *NotificationWebhookAdapter) Notify(ctx context.Context, ev *domain.NotificationEvent) error {
	if ev.Audience != domain.AudienceStaff {
		return nil
	}
	var firstErr error
	for _, u := range a.urls {
		if err := a.client.PostJSON(ctx, u, webhookMessage{Content: ev.Message}); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, "channel webhook")
		}
	}
	return firstErr
}

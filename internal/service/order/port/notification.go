package port

import (
	"context"

	"github.com/Highkingd/Huygame2341-botdis/internal/service/order/domain"
)

// NotificationProducer 是通知的出站端口。
// 投递是尽力而为的：实现返回的错误只会被记录，不会影响已经落盘的状态。
type NotificationProducer interface {
	// Notify 投递一条通知。
	Notify(ctx context.Context, event *domain.NotificationEvent) error
}

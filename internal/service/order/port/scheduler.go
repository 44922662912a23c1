package port

import "context"

// LeaderElector 保证多副本部署时只有一个截止监控在扫描。
type LeaderElector interface {
	// Acquire 阻塞直到获得领导权或 ctx 结束。
	Acquire(ctx context.Context) error

	// Release 放弃领导权。
	Release() error
}

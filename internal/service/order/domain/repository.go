// internal/service/order/domain/repository.go
package domain

import "context"

// OrderRepository 定义了订单集合的持久化接口。
// 它位于领域层，但由基础设施层实现。每个成功的变更都必须在返回前落盘。
type OrderRepository interface {
	// Create 分配新 ID 并写入订单，返回分配的 ID。
	Create(ctx context.Context, order *Order) (string, error)

	// Get 返回订单副本，不存在时返回 ErrNotFound。
	Get(ctx context.Context, id string) (*Order, error)

	// Update 在仓储锁内对订单副本执行 mutate，成功后替换并持久化。
	// mutate 返回错误时订单保持不变。
	Update(ctx context.Context, id string, mutate func(o *Order) error) (*Order, error)

	// Delete 删除订单。guard 非空时在同一把锁内先校验。
	Delete(ctx context.Context, id string, guard func(o *Order) error) (*Order, error)

	// List 返回所有订单的快照副本，顺序不做保证。
	List(ctx context.Context) ([]*Order, error)
}

// Snapshot 是订单集合的持久化形态
type Snapshot struct {
	// Sequence 是已发放的最大 ID 序号，保证删除后的 ID 不会被复用
	Sequence uint64            `json:"sequence"`
	Orders   map[string]*Order `json:"orders"`
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{Orders: make(map[string]*Order)}
}

package port

import "github.com/Highkingd/Huygame2341-botdis/internal/service/order/domain"

// OrderPredicate reports whether an order passes a compiled filter.
type OrderPredicate func(o *domain.Order) (bool, error)

// FilterCompiler 把用户输入的表达式编译为订单过滤条件。
type FilterCompiler interface {
	Compile(expr string) (OrderPredicate, error)
}

package rule

import (
	"strings"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"

	"github.com/Highkingd/Huygame2341-botdis/internal/service/order/domain"
	"github.com/Highkingd/Huygame2341-botdis/internal/service/order/port"
)

// CELFilterCompiler 是 port.FilterCompiler 的 CEL 实现。
// 表达式中可以直接引用订单字段，例如:
//
//	serviceType == "SL" && !isOverdue
//	assigneeId != "" && deadline < timestamp("2025-01-01T00:00:00Z")
type CELFilterCompiler struct {
	env *cel.Env
}

func NewCELFilterCompiler() (*CELFilterCompiler, error) {
	env, err := cel.NewEnv(
		cel.Variable("id", cel.StringType),
		cel.Variable("customerId", cel.StringType),
		cel.Variable("serviceType", cel.StringType),
		cel.Variable("subType", cel.StringType),
		cel.Variable("quantity", cel.StringType),
		cel.Variable("note", cel.StringType),
		cel.Variable("status", cel.StringType),
		cel.Variable("displayStatus", cel.StringType),
		cel.Variable("assigneeId", cel.StringType),
		cel.Variable("isOverdue", cel.BoolType),
		cel.Variable("hasDeadline", cel.BoolType),
		cel.Variable("createdAt", cel.TimestampType),
		cel.Variable("deadline", cel.TimestampType),
	)
	if err != nil {
		return nil, errors.Wrap(err, "cel env")
	}
	return &CELFilterCompiler{env: env}, nil
}

var _ port.FilterCompiler = (*CELFilterCompiler)(nil)

// Compile 编译表达式。语法错误或返回值不是 bool 时返回 domain.ErrValidation。
func (c *CELFilterCompiler) Compile(expr string) (port.OrderPredicate, error) {
	if strings.TrimSpace(expr) == "" {
		return func(*domain.Order) (bool, error) { return true, nil }, nil
	}
	ast, iss := c.env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, errors.Wrapf(domain.ErrValidation, "filter expression: %v", iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, errors.Wrapf(domain.ErrValidation, "filter expression must return bool, got %s", ast.OutputType())
	}
	prg, err := c.env.Program(ast)
	if err != nil {
		return nil, errors.Wrapf(domain.ErrValidation, "filter expression: %v", err)
	}

	return func(o *domain.Order) (bool, error) {
		out, _, err := prg.Eval(activation(o))
		if err != nil {
			return false, errors.Wrapf(domain.ErrValidation, "evaluate filter on %s: %v", o.ID, err)
		}
		matched, ok := out.Value().(bool)
		if !ok {
			return false, errors.Wrapf(domain.ErrValidation, "filter returned %T", out.Value())
		}
		return matched, nil
	}, nil
}

// activation 把订单展开为 CEL 变量。没有截止时间时 deadline 为零值时间，配合 hasDeadline 使用。
func activation(o *domain.Order) map[string]any {
	var deadline time.Time
	if o.Deadline != nil {
		deadline = o.Deadline.UTC()
	}
	return map[string]any{
		"id":            o.ID,
		"customerId":    o.CustomerID,
		"serviceType":   o.ServiceType,
		"subType":       o.SubType,
		"quantity":      o.Quantity,
		"note":          o.Note,
		"status":        string(o.State),
		"displayStatus": o.DisplayStatus(),
		"assigneeId":    o.AssigneeID,
		"isOverdue":     o.IsOverdue,
		"hasDeadline":   o.Deadline != nil,
		"createdAt":     o.CreatedAt.UTC(),
		"deadline":      deadline,
	}
}

// internal/service/order/interfaces/command_dispatcher.go
package interfaces

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/Highkingd/Huygame2341-botdis/internal/service/order/application"
	"github.com/Highkingd/Huygame2341-botdis/internal/service/order/domain"
)

// 命令名。聊天网关转发斜杠命令时也可以直接使用原来的越南语命令名。
const (
	CmdSubmit   = "submit"
	CmdApprove  = "approve"
	CmdCancel   = "cancel"
	CmdAssign   = "assign"
	CmdComplete = "complete"
	CmdExtend   = "extend"
	CmdEditNote = "edit_note"
	CmdDelete   = "delete"
	CmdStatus   = "status"
	CmdList     = "list"
	CmdStats    = "stats"
	CmdPrice    = "price"
)

var commandAliases = map[string]string{
	"donhang":     CmdSubmit,
	"duyetdon":    CmdApprove,
	"huydon":      CmdCancel,
	"nhancay":     CmdAssign,
	"hoanthanh":   CmdComplete,
	"giahan":      CmdExtend,
	"suadon":      CmdEditNote,
	"xoadon":      CmdDelete,
	"trangthai":   CmdStatus,
	"danhsachdon": CmdList,
	"thongke":     CmdStats,
	"tinhgia":     CmdPrice,
	"get_status":  CmdStatus,
	"note":        CmdEditNote,
}

// Command 是来自聊天网关的一条命令
type Command struct {
	RequestID  string          `json:"requestId"`
	Name       string          `json:"command"`
	CallerID   string          `json:"callerId"`
	CallerName string          `json:"callerName,omitempty"`
	OrderID    string          `json:"orderId,omitempty"`
	Args       json.RawMessage `json:"args,omitempty"`
}

// Reply 是命令的执行结果，Code 与 HTTP 适配器使用同一套错误分类
type Reply struct {
	RequestID string                          `json:"requestId"`
	Command   string                          `json:"command"`
	OK        bool                            `json:"ok"`
	Code      string                          `json:"code,omitempty"`
	Error     string                          `json:"error,omitempty"`
	Order     *application.OrderView          `json:"order,omitempty"`
	Orders    []*application.OrderView        `json:"orders,omitempty"`
	Stats     *application.OrderStats         `json:"stats,omitempty"`
	Price     *application.PriceQuoteResponse `json:"price,omitempty"`
}

// CommandDispatcher 把命令路由到应用服务，与传输方式无关
type CommandDispatcher struct {
	svc *application.OrderApplicationService
}

func NewCommandDispatcher(svc *application.OrderApplicationService) *CommandDispatcher {
	return &CommandDispatcher{svc: svc}
}

// Dispatch 执行命令并总是返回一个 Reply，错误写在 Reply 里
func (d *CommandDispatcher) Dispatch(ctx context.Context, cmd *Command) *Reply {
	name := NormalizeCommand(cmd.Name)
	reply := &Reply{RequestID: cmd.RequestID, Command: name}
	if err := d.dispatch(ctx, name, cmd, reply); err != nil {
		reply.OK = false
		reply.Code = application.ErrorCode(err)
		reply.Error = err.Error()
		return reply
	}
	reply.OK = true
	return reply
}

// NormalizeCommand 统一大小写并解析别名
func NormalizeCommand(name string) string {
	name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "/")))
	if canonical, ok := commandAliases[name]; ok {
		return canonical
	}
	return name
}

func (d *CommandDispatcher) dispatch(ctx context.Context, name string, cmd *Command, reply *Reply) error {
	caller := application.Caller{ID: cmd.CallerID, Name: cmd.CallerName}
	now := d.svc.Now()

	needsOrder := name != CmdSubmit && name != CmdList && name != CmdStats && name != CmdPrice
	if needsOrder && strings.TrimSpace(cmd.OrderID) == "" {
		return errors.Wrapf(domain.ErrValidation, "%s requires an order id", name)
	}
	needsCaller := name != CmdStatus && name != CmdList && name != CmdStats && name != CmdPrice
	if needsCaller && strings.TrimSpace(cmd.CallerID) == "" {
		return errors.Wrapf(domain.ErrValidation, "%s requires a caller", name)
	}

	var (
		order *domain.Order
		err   error
	)
	switch name {
	case CmdSubmit:
		var req application.SubmitOrderRequest
		if err := decodeArgs(cmd.Args, &req); err != nil {
			return err
		}
		// 下单人总是调用者本人
		req.CustomerID = caller.ID
		if req.CustomerName == "" {
			req.CustomerName = caller.Name
		}
		order, err = d.svc.Submit(ctx, &req)
	case CmdApprove:
		order, err = d.svc.Approve(ctx, caller, cmd.OrderID)
	case CmdCancel:
		order, err = d.svc.Cancel(ctx, caller, cmd.OrderID)
	case CmdAssign:
		var req application.AssignOrderRequest
		if err := decodeArgs(cmd.Args, &req); err != nil {
			return err
		}
		order, err = d.svc.Assign(ctx, caller, cmd.OrderID, req.DeadlineHours)
	case CmdComplete:
		order, err = d.svc.Complete(ctx, caller, cmd.OrderID)
	case CmdExtend:
		var req application.ExtendOrderRequest
		if err := decodeArgs(cmd.Args, &req); err != nil {
			return err
		}
		order, err = d.svc.Extend(ctx, caller, cmd.OrderID, req.Minutes)
	case CmdEditNote:
		var req application.EditNoteRequest
		if err := decodeArgs(cmd.Args, &req); err != nil {
			return err
		}
		order, err = d.svc.EditNote(ctx, caller, cmd.OrderID, req.Note)
	case CmdDelete:
		order, err = d.svc.Delete(ctx, caller, cmd.OrderID)
	case CmdStatus:
		order, err = d.svc.GetStatus(ctx, cmd.OrderID)
	case CmdList:
		var q application.ListOrdersQuery
		if err := decodeArgs(cmd.Args, &q); err != nil {
			return err
		}
		orders, err := d.svc.ListOrders(ctx, q)
		if err != nil {
			return err
		}
		reply.Orders = application.NewOrderViews(orders, now)
		return nil
	case CmdStats:
		stats, err := d.svc.Stats(ctx)
		if err != nil {
			return err
		}
		reply.Stats = stats
		return nil
	case CmdPrice:
		var req application.PriceQuoteRequest
		if err := decodeArgs(cmd.Args, &req); err != nil {
			return err
		}
		price, err := d.svc.QuotePrice(ctx, &req)
		if err != nil {
			return err
		}
		reply.Price = price
		return nil
	default:
		return errors.Wrapf(domain.ErrValidation, "unknown command %q", cmd.Name)
	}
	if err != nil {
		return err
	}
	reply.Order = application.NewOrderView(order, now)
	return nil
}

func decodeArgs(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.Wrapf(domain.ErrValidation, "invalid args: %v", err)
	}
	return nil
}

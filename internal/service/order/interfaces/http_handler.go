package interfaces

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/Highkingd/Huygame2341-botdis/internal/pkg/logger"
	"github.com/Highkingd/Huygame2341-botdis/internal/service/order/application"
	"github.com/Highkingd/Huygame2341-botdis/internal/service/order/domain"
)

// 宿主平台通过请求头传入调用者身份
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserName = "X-User-Name"
)

// OrderHandler 封装了订单服务的 HTTP 处理器
type OrderHandler struct {
	service *application.OrderApplicationService
	metrics http.Handler
	push    http.Handler
}

// NewOrderHandler 创建一个新的 HTTP 处理器实例。metrics 与 push 为空时不注册对应路由。
func NewOrderHandler(service *application.OrderApplicationService, metrics, push http.Handler) *OrderHandler {
	return &OrderHandler{service: service, metrics: metrics, push: push}
}

// RegisterRoutes 在 chi 路由上注册所有路由
func (h *OrderHandler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics)
	}
	if h.push != nil {
		r.Handle("/ws", h.push)
	}
	r.Get("/price", h.quotePrice)

	r.Route("/orders", func(r chi.Router) {
		r.Use(traceContext)
		r.Post("/", h.submit)
		r.Get("/", h.list)
		r.Get("/stats", h.stats)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getStatus)
			r.Delete("/", h.delete)
			r.Post("/approve", h.approve)
			r.Post("/cancel", h.cancel)
			r.Post("/assign", h.assign)
			r.Post("/complete", h.complete)
			r.Post("/extend", h.extend)
			r.Put("/note", h.editNote)
		})
	})
}

// traceContext 从请求头恢复上游的追踪上下文
func traceContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *OrderHandler) submit(w http.ResponseWriter, r *http.Request) {
	var req application.SubmitOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	// 身份头优先，body 中的 customerId 仅在没有身份头时使用
	if caller := callerFrom(r); caller.ID != "" {
		req.CustomerID = caller.ID
		if req.CustomerName == "" {
			req.CustomerName = caller.Name
		}
	}
	order, err := h.service.Submit(r.Context(), &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, application.NewOrderView(order, h.service.Now()))
}

func (h *OrderHandler) list(w http.ResponseWriter, r *http.Request) {
	q := application.ListOrdersQuery{
		Status:     r.URL.Query().Get("status"),
		Expression: r.URL.Query().Get("where"),
	}
	orders, err := h.service.ListOrders(r.Context(), q)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, application.NewOrderViews(orders, h.service.Now()))
}

func (h *OrderHandler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *OrderHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	order, err := h.service.GetStatus(r.Context(), chi.URLParam(r, "id"))
	h.respondOrder(w, r, order, err)
}

func (h *OrderHandler) approve(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	order, err := h.service.Approve(r.Context(), caller, chi.URLParam(r, "id"))
	h.respondOrder(w, r, order, err)
}

func (h *OrderHandler) cancel(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	order, err := h.service.Cancel(r.Context(), caller, chi.URLParam(r, "id"))
	h.respondOrder(w, r, order, err)
}

func (h *OrderHandler) assign(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req application.AssignOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	order, err := h.service.Assign(r.Context(), caller, chi.URLParam(r, "id"), req.DeadlineHours)
	h.respondOrder(w, r, order, err)
}

func (h *OrderHandler) complete(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	order, err := h.service.Complete(r.Context(), caller, chi.URLParam(r, "id"))
	h.respondOrder(w, r, order, err)
}

func (h *OrderHandler) extend(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req application.ExtendOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	order, err := h.service.Extend(r.Context(), caller, chi.URLParam(r, "id"), req.Minutes)
	h.respondOrder(w, r, order, err)
}

func (h *OrderHandler) editNote(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req application.EditNoteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	order, err := h.service.EditNote(r.Context(), caller, chi.URLParam(r, "id"), req.Note)
	h.respondOrder(w, r, order, err)
}

func (h *OrderHandler) delete(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	if _, err := h.service.Delete(r.Context(), caller, chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *OrderHandler) quotePrice(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	resp, err := h.service.QuotePrice(r.Context(), &application.PriceQuoteRequest{
		ServiceType: q.Get("serviceType"),
		SubType:     q.Get("subType"),
		Quantity:    q.Get("quantity"),
		Premium:     q.Get("premium"),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *OrderHandler) respondOrder(w http.ResponseWriter, r *http.Request, order *domain.Order, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, application.NewOrderView(order, h.service.Now()))
}

type errorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func (h *OrderHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	}
	writeJSON(w, status, errorResponse{Code: application.ErrorCode(err), Error: err.Error()})
}

// StatusFor 把领域错误映射为 HTTP 状态码
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func callerFrom(r *http.Request) application.Caller {
	return application.Caller{
		ID:   strings.TrimSpace(r.Header.Get(HeaderUserID)),
		Name: strings.TrimSpace(r.Header.Get(HeaderUserName)),
	}
}

func requireCaller(w http.ResponseWriter, r *http.Request) (application.Caller, bool) {
	caller := callerFrom(r)
	if caller.ID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "validation", Error: HeaderUserID + " header is required"})
		return caller, false
	}
	return caller, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "validation", Error: "invalid request body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to encode response")
	}
}

package interfaces

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/Highkingd/Huygame2341-botdis/internal/pkg/metrics"
	"github.com/Highkingd/Huygame2341-botdis/internal/service/order/application"
	"github.com/Highkingd/Huygame2341-botdis/internal/service/order/domain"
	"github.com/Highkingd/Huygame2341-botdis/internal/service/order/infrastructure"
	"github.com/Highkingd/Huygame2341-botdis/internal/service/order/infrastructure/rule"
)

const (
	staffID    = "staff-x"
	customerID = "cust-1"
)

func newTestService(t *testing.T) *application.OrderApplicationService {
	t.Helper()
	backend, err := infrastructure.NewFileSnapshotter(filepath.Join(t.TempDir(), "orders.json"))
	require.NoError(t, err)
	store := infrastructure.NewSnapshotStore(backend, infrastructure.NewSequenceGenerator("CS"), nil)
	require.NoError(t, store.Load(context.Background()))
	filters, err := rule.NewCELFilterCompiler()
	require.NoError(t, err)
	return application.NewOrderApplicationService(store, nil, otel.Tracer("test"), []string{staffID},
		application.WithFilterCompiler(filters), application.WithMetrics(metrics.NewRegistry()))
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	r := chi.NewRouter()
	NewOrderHandler(newTestService(t), nil, nil).RegisterRoutes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set(HeaderUserID, user)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeView(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var v map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHTTP_OrderLifecycle(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/orders", customerID, `{"serviceType":"RP","quantity":"100000","note":"asap"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeView(t, rec)
	assert.Equal(t, "CS0001", created["id"])
	assert.Equal(t, customerID, created["customerId"])
	assert.Equal(t, "Pending", created["status"])

	rec = do(t, h, http.MethodPost, "/orders/CS0001/approve", staffID, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Approved", decodeView(t, rec)["status"])

	rec = do(t, h, http.MethodPost, "/orders/CS0001/assign", staffID, `{"deadlineHours":2}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assigned := decodeView(t, rec)
	assert.Equal(t, "Assigned", assigned["status"])
	assert.Equal(t, "Processing", assigned["displayStatus"])
	assert.NotNil(t, assigned["remainingSeconds"])

	rec = do(t, h, http.MethodGet, "/orders/CS0001", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, staffID, decodeView(t, rec)["assigneeId"])

	rec = do(t, h, http.MethodPost, "/orders/CS0001/complete", staffID, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Completed", decodeView(t, rec)["status"])

	rec = do(t, h, http.MethodGet, "/orders/stats", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats application.OrderStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, application.OrderStats{Completed: 1, Total: 1}, stats)
}

func TestHTTP_ErrorStatusMapping(t *testing.T) {
	h := newTestRouter(t)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/orders", customerID, `{"serviceType":"RP"}`).Code)

	tests := []struct {
		name   string
		method string
		path   string
		user   string
		body   string
		status int
		code   string
	}{
		{"unknown order", http.MethodGet, "/orders/CS9999", "", "", http.StatusNotFound, "not_found"},
		{"customer cannot approve", http.MethodPost, "/orders/CS0001/approve", customerID, "", http.StatusForbidden, "forbidden"},
		{"complete before assign", http.MethodPost, "/orders/CS0001/complete", staffID, "", http.StatusConflict, "invalid_state"},
		{"zero deadline", http.MethodPost, "/orders/CS0001/assign", staffID, `{"deadlineHours":0}`, http.StatusBadRequest, "validation"},
		{"missing identity header", http.MethodPost, "/orders/CS0001/approve", "", "", http.StatusBadRequest, "validation"},
		{"extend without identity header", http.MethodPost, "/orders/CS0001/extend", "", `{"minutes":30}`, http.StatusBadRequest, "validation"},
		{"malformed body", http.MethodPost, "/orders", customerID, `{"serviceType":`, http.StatusBadRequest, "validation"},
		{"missing service type", http.MethodPost, "/orders", customerID, `{"note":"x"}`, http.StatusBadRequest, "validation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path, tt.user, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			var resp errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.code, resp.Code)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestHTTP_CancelAndDelete(t *testing.T) {
	h := newTestRouter(t)
	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/orders", customerID, `{"serviceType":"RP"}`).Code)
	}

	rec := do(t, h, http.MethodPost, "/orders/CS0001/cancel", customerID, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Cancelled", decodeView(t, rec)["status"])
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/orders/CS0001", "", "").Code)

	assert.Equal(t, http.StatusForbidden, do(t, h, http.MethodDelete, "/orders/CS0002", customerID, "").Code)
	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/orders/CS0002", staffID, "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/orders/CS0002", "", "").Code)
}

func TestHTTP_ListAndNote(t *testing.T) {
	h := newTestRouter(t)
	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/orders", customerID, `{"serviceType":"RP"}`).Code)
	}
	rec := do(t, h, http.MethodPut, "/orders/CS0002/note", customerID, `{"note":"updated"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "updated", decodeView(t, rec)["note"])

	rec = do(t, h, http.MethodGet, "/orders?status=pending", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var views []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 3)
	assert.Equal(t, "CS0003", views[0]["id"])

	rec = do(t, h, http.MethodGet, `/orders?where=note+%3D%3D+%22updated%22`, "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	views = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "CS0002", views[0]["id"])

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/orders?where=quantity+%2B", "", "").Code)
}

func TestHTTP_QuotePrice(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodGet, "/price?serviceType=RP&quantity=100000&premium=no", "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp application.PriceQuoteResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "VND", resp.Currency)
	assert.Positive(t, resp.Amount)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/price", "", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "", "").Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, StatusFor(errors.Wrap(domain.ErrNotFound, "CS0001")))
	assert.Equal(t, http.StatusForbidden, StatusFor(domain.ErrForbidden))
	assert.Equal(t, http.StatusConflict, StatusFor(domain.ErrInvalidState))
	assert.Equal(t, http.StatusBadRequest, StatusFor(domain.ErrValidation))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(errors.New("disk full")))
}

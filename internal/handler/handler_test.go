package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pesio-ai/be-ap-budgets/internal/platform/auth"
	"github.com/pesio-ai/be-ap-budgets/internal/platform/errors"
	"github.com/pesio-ai/be-ap-budgets/internal/platform/logger"
	"github.com/pesio-ai/be-ap-budgets/internal/platform/middleware"
	"github.com/pesio-ai/be-ap-budgets/internal/repository/memory"
	"github.com/pesio-ai/be-ap-budgets/internal/service"
)

var testSecret = []byte("test-secret")

type testServer struct {
	t      *testing.T
	srv    http.Handler
	tokens map[string]string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := memory.New()
	log := logger.Nop()
	h := NewHTTPHandler(
		service.NewBudgetService(store, nil, log),
		service.NewPurchaseOrderService(store, nil, log),
		service.NewContractService(store, nil, log),
		log,
	)
	mux := http.NewServeMux()
	h.Register(mux)

	ts := &testServer{t: t, srv: middleware.Auth(testSecret)(mux), tokens: map[string]string{}}
	for name, actor := range map[string]auth.Actor{
		"admin":   {UserID: "admin-1", Role: auth.RoleAdmin},
		"finance": {UserID: "fin-1", Role: auth.RoleFinance},
		"manager": {UserID: "mgr-1", Role: auth.RoleManager, DepartmentID: "eng"},
		"staff":   {UserID: "staff-1", Role: auth.RoleStaff, DepartmentID: "eng"},
		"sales":   {UserID: "staff-2", Role: auth.RoleStaff, DepartmentID: "sales"},
	} {
		tok, err := middleware.IssueToken(testSecret, actor, time.Hour)
		if err != nil {
			t.Fatal(err)
		}
		ts.tokens[name] = tok
	}
	return ts
}

func (ts *testServer) do(who, method, path string, body any) *httptest.ResponseRecorder {
	ts.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			ts.t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if who != "" {
		req.Header.Set("Authorization", "Bearer "+ts.tokens[who])
	}
	rec := httptest.NewRecorder()
	ts.srv.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}

func year() int { return time.Now().Year() }

func createBudget(ts *testServer, dept, total string) {
	ts.t.Helper()
	rec := ts.do("admin", http.MethodPost, "/api/v1/budgets", map[string]any{
		"department_id": dept,
		"fiscal_year":   year(),
		"total_amount":  total,
	})
	expectStatus(ts.t, rec, http.StatusCreated)
}

func poBody(dept, amount string) map[string]any {
	return map[string]any{
		"vendor_id":     "vendor-1",
		"department_id": dept,
		"items": []map[string]any{
			{"description": "Laptops", "quantity": "1", "unit_price": amount},
		},
		"total_amount": amount,
	}
}

func TestEnvelopeEndpoints(t *testing.T) {
	ts := newTestServer(t)
	createBudget(ts, "eng", "10000")

	rec := ts.do("staff", http.MethodPost, "/api/v1/budgets", map[string]any{
		"department_id": "ops", "fiscal_year": year(), "total_amount": "5",
	})
	expectStatus(t, rec, http.StatusForbidden)

	rec = ts.do("admin", http.MethodPost, "/api/v1/budgets", map[string]any{
		"department_id": "eng", "fiscal_year": year(), "total_amount": "5",
	})
	expectStatus(t, rec, http.StatusConflict)

	rec = ts.do("staff", http.MethodGet, fmt.Sprintf("/api/v1/budgets?department_id=eng&fiscal_year=%d", year()), nil)
	expectStatus(t, rec, http.StatusOK)
	var env envelopeResponse
	decodeBody(t, rec, &env)
	if env.Remaining.String() != "10000" || env.Status != "active" {
		t.Errorf("unexpected envelope %+v", env)
	}

	rec = ts.do("staff", http.MethodGet, "/api/v1/budgets?id="+env.ID, nil)
	expectStatus(t, rec, http.StatusOK)

	rec = ts.do("finance", http.MethodPost, "/api/v1/budgets/allocate", map[string]any{
		"department_id": "eng", "amount": "2500",
	})
	expectStatus(t, rec, http.StatusCreated)

	rec = ts.do("staff", http.MethodPost, "/api/v1/budgets/allocate", map[string]any{
		"department_id": "eng", "amount": "1",
	})
	expectStatus(t, rec, http.StatusForbidden)

	rec = ts.do("finance", http.MethodPost, "/api/v1/budgets/allocate", map[string]any{
		"department_id": "eng", "amount": "7500.01",
	})
	expectStatus(t, rec, http.StatusUnprocessableEntity)
	var eb errorBody
	decodeBody(t, rec, &eb)
	if eb.Code != string(errors.ErrCodeInsufficientFunds) {
		t.Errorf("expected INSUFFICIENT_FUNDS, got %+v", eb)
	}

	rec = ts.do("finance", http.MethodGet, fmt.Sprintf("/api/v1/budgets/report?fiscal_year=%d", year()), nil)
	expectStatus(t, rec, http.StatusOK)
	var report struct {
		Budgets []utilizationResponse `json:"budgets"`
	}
	decodeBody(t, rec, &report)
	if len(report.Budgets) != 1 || report.Budgets[0].UtilizationPercent.String() != "25" {
		t.Errorf("unexpected report %+v", report)
	}

	rec = ts.do("finance", http.MethodGet, "/api/v1/audit?entity_type=budget&entity_id="+env.ID, nil)
	expectStatus(t, rec, http.StatusOK)
}

func TestTransferEndpoint(t *testing.T) {
	ts := newTestServer(t)
	createBudget(ts, "eng", "1000")
	createBudget(ts, "sales", "1000")

	rec := ts.do("admin", http.MethodPost, "/api/v1/budgets/transfer", map[string]any{
		"from_department_id": "eng", "to_department_id": "sales", "amount": "400", "reason": "reorg",
	})
	expectStatus(t, rec, http.StatusCreated)

	rec = ts.do("admin", http.MethodPost, "/api/v1/budgets/transfer", map[string]any{
		"from_department_id": "eng", "to_department_id": "eng", "amount": "1", "reason": "noop",
	})
	expectStatus(t, rec, http.StatusUnprocessableEntity)

	rec = ts.do("manager", http.MethodPost, "/api/v1/budgets/transfer", map[string]any{
		"from_department_id": "eng", "to_department_id": "sales", "amount": "1", "reason": "x",
	})
	expectStatus(t, rec, http.StatusForbidden)

	rec = ts.do("staff", http.MethodGet, fmt.Sprintf("/api/v1/budgets/transfers?department_id=sales&fiscal_year=%d", year()), nil)
	expectStatus(t, rec, http.StatusOK)
	var hist struct {
		Transfers []transferResponse `json:"transfers"`
	}
	decodeBody(t, rec, &hist)
	if len(hist.Transfers) != 1 || hist.Transfers[0].Amount.String() != "400" {
		t.Errorf("unexpected history %+v", hist)
	}
}

func TestValidationErrors(t *testing.T) {
	ts := newTestServer(t)
	createBudget(ts, "eng", "1000")

	rec := ts.do("admin", http.MethodPost, "/api/v1/budgets", map[string]any{
		"department_id": "ops", "fiscal_year": year(), "total_amount": "0",
	})
	expectStatus(t, rec, http.StatusUnprocessableEntity)
	var eb errorBody
	decodeBody(t, rec, &eb)
	if eb.Errors["total_amount"] != "gt" {
		t.Errorf("expected total_amount gt error, got %+v", eb.Errors)
	}

	// NUMERIC(15,2) tops out at 9999999999999.99.
	rec = ts.do("admin", http.MethodPost, "/api/v1/budgets", map[string]any{
		"department_id": "ops", "fiscal_year": year(), "total_amount": "10000000000000",
	})
	expectStatus(t, rec, http.StatusUnprocessableEntity)
	eb = errorBody{}
	decodeBody(t, rec, &eb)
	if eb.Errors["total_amount"] != "lte" {
		t.Errorf("expected total_amount lte error, got %+v", eb.Errors)
	}

	body := poBody("eng", "10")
	body["items"] = []map[string]any{{"description": "", "quantity": "1", "unit_price": "10"}}
	rec = ts.do("staff", http.MethodPost, "/api/v1/purchase-orders", body)
	expectStatus(t, rec, http.StatusUnprocessableEntity)
	eb = errorBody{}
	decodeBody(t, rec, &eb)
	if eb.Errors["items[0].description"] != "required" {
		t.Errorf("expected line item error, got %+v", eb.Errors)
	}

	// Total disagrees with the line items: rejected by the service, not the DTO.
	body = poBody("eng", "10")
	body["total_amount"] = "11"
	rec = ts.do("staff", http.MethodPost, "/api/v1/purchase-orders", body)
	expectStatus(t, rec, http.StatusBadRequest)

	rec = ts.do("staff", http.MethodPost, "/api/v1/purchase-orders", map[string]any{"unknown": true})
	expectStatus(t, rec, http.StatusBadRequest)
}

func TestPurchaseOrderEndpoints(t *testing.T) {
	ts := newTestServer(t)
	createBudget(ts, "eng", "1000")
	createBudget(ts, "sales", "1000")

	rec := ts.do("sales", http.MethodPost, "/api/v1/purchase-orders", poBody("eng", "100"))
	expectStatus(t, rec, http.StatusForbidden)

	rec = ts.do("staff", http.MethodPost, "/api/v1/purchase-orders", poBody("eng", "1000.01"))
	expectStatus(t, rec, http.StatusUnprocessableEntity)

	rec = ts.do("staff", http.MethodPost, "/api/v1/purchase-orders", poBody("eng", "600"))
	expectStatus(t, rec, http.StatusCreated)
	var po purchaseOrderResponse
	decodeBody(t, rec, &po)
	if po.PONumber != fmt.Sprintf("PO-%d-00001", year()) || po.Status != "draft" {
		t.Errorf("unexpected purchase order %+v", po)
	}

	rec = ts.do("sales", http.MethodPost, "/api/v1/purchase-orders/submit", map[string]any{"id": po.ID})
	expectStatus(t, rec, http.StatusForbidden)
	rec = ts.do("staff", http.MethodPost, "/api/v1/purchase-orders/submit", map[string]any{"id": po.ID})
	expectStatus(t, rec, http.StatusOK)

	rec = ts.do("staff", http.MethodPost, "/api/v1/purchase-orders/approve", map[string]any{"id": po.ID})
	expectStatus(t, rec, http.StatusForbidden)
	rec = ts.do("manager", http.MethodPost, "/api/v1/purchase-orders/reject", map[string]any{"id": po.ID, "comments": "not now"})
	expectStatus(t, rec, http.StatusOK)
	decodeBody(t, rec, &po)
	if po.Status != "rejected" || po.ApprovedBy == nil || *po.ApprovedBy != "mgr-1" {
		t.Errorf("unexpected rejected order %+v", po)
	}

	rec = ts.do("staff", http.MethodGet, fmt.Sprintf("/api/v1/budgets?department_id=eng&fiscal_year=%d", year()), nil)
	expectStatus(t, rec, http.StatusOK)
	var env envelopeResponse
	decodeBody(t, rec, &env)
	if env.Remaining.String() != "1000" {
		t.Errorf("expected rejected order to be refunded, remaining %s", env.Remaining)
	}

	rec = ts.do("staff", http.MethodDelete, "/api/v1/purchase-orders?id="+po.ID, nil)
	expectStatus(t, rec, http.StatusNoContent)
	rec = ts.do("staff", http.MethodGet, "/api/v1/purchase-orders?id="+po.ID, nil)
	expectStatus(t, rec, http.StatusNotFound)
}

func TestUpdatePurchaseOrderDepartment(t *testing.T) {
	ts := newTestServer(t)
	createBudget(ts, "eng", "1000")
	createBudget(ts, "sales", "1000")

	rec := ts.do("sales", http.MethodPost, "/api/v1/purchase-orders", poBody("sales", "100"))
	expectStatus(t, rec, http.StatusCreated)
	var po purchaseOrderResponse
	decodeBody(t, rec, &po)

	// An eng manager may not pull a sales order into eng.
	rec = ts.do("manager", http.MethodPut, "/api/v1/purchase-orders?id="+po.ID, poBody("eng", "100"))
	expectStatus(t, rec, http.StatusForbidden)

	rec = ts.do("admin", http.MethodGet, "/api/v1/purchase-orders?id="+po.ID, nil)
	expectStatus(t, rec, http.StatusOK)
	decodeBody(t, rec, &po)
	if po.DepartmentID != "sales" {
		t.Errorf("expected order to stay in sales, got %s", po.DepartmentID)
	}

	rec = ts.do("sales", http.MethodPut, "/api/v1/purchase-orders?id="+po.ID, poBody("sales", "150"))
	expectStatus(t, rec, http.StatusOK)
}

func TestContractEndpoints(t *testing.T) {
	ts := newTestServer(t)
	start := time.Now().UTC().AddDate(0, -1, 0).Format(service.DateLayout)
	end := time.Now().UTC().AddDate(0, 0, 10).Format(service.DateLayout)

	body := map[string]any{
		"vendor_id":  "vendor-1",
		"title":      "Support",
		"start_date": start,
		"end_date":   end,
		"value":      "5000",
	}
	rec := ts.do("staff", http.MethodPost, "/api/v1/contracts", body)
	expectStatus(t, rec, http.StatusForbidden)
	rec = ts.do("manager", http.MethodPost, "/api/v1/contracts", body)
	expectStatus(t, rec, http.StatusCreated)
	var c contractResponse
	decodeBody(t, rec, &c)
	if c.StartDate != start || c.EndDate != end {
		t.Errorf("expected dates %s..%s, got %s..%s", start, end, c.StartDate, c.EndDate)
	}

	body["start_date"] = time.Now().UTC().Format(time.RFC3339)
	rec = ts.do("manager", http.MethodPost, "/api/v1/contracts", body)
	expectStatus(t, rec, http.StatusUnprocessableEntity)
	var eb errorBody
	decodeBody(t, rec, &eb)
	if eb.Errors["start_date"] != "datetime" {
		t.Errorf("expected start_date datetime error, got %+v", eb.Errors)
	}

	rec = ts.do("manager", http.MethodPost, "/api/v1/contracts/approve", map[string]any{"id": c.ID})
	expectStatus(t, rec, http.StatusUnprocessableEntity)
	rec = ts.do("manager", http.MethodPost, "/api/v1/contracts/approve", map[string]any{"id": c.ID, "comments": "ok"})
	expectStatus(t, rec, http.StatusOK)

	rec = ts.do("staff", http.MethodGet, "/api/v1/contracts/expiring?days=30", nil)
	expectStatus(t, rec, http.StatusOK)
	var list struct {
		Contracts []contractResponse `json:"contracts"`
	}
	decodeBody(t, rec, &list)
	if len(list.Contracts) != 1 || list.Contracts[0].ID != c.ID {
		t.Errorf("expected the approved contract to be expiring, got %+v", list.Contracts)
	}

	rec = ts.do("admin", http.MethodDelete, "/api/v1/contracts?id="+c.ID, nil)
	expectStatus(t, rec, http.StatusConflict)

	rec = ts.do("manager", http.MethodPost, "/api/v1/contracts/terminate", map[string]any{"id": c.ID, "reason": "breach"})
	expectStatus(t, rec, http.StatusOK)
	decodeBody(t, rec, &c)
	if c.Status != "terminated" {
		t.Errorf("expected terminated, got %s", c.Status)
	}
}

func TestAuthAndMethods(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do("", http.MethodGet, "/api/v1/budgets?id=x", nil)
	expectStatus(t, rec, http.StatusUnauthorized)

	rec = ts.do("admin", http.MethodPatch, "/api/v1/budgets", nil)
	expectStatus(t, rec, http.StatusMethodNotAllowed)

	rec = ts.do("admin", http.MethodGet, "/api/v1/budgets?department_id=eng", nil)
	expectStatus(t, rec, http.StatusBadRequest)
}

func TestWriteErrorMapping(t *testing.T) {
	h := &HTTPHandler{validate: newValidator(), log: logger.Nop()}

	tests := []struct {
		name       string
		err        error
		status     int
		retryAfter bool
	}{
		{"invalid input", errors.InvalidInput("amount", "must be positive"), http.StatusBadRequest, false},
		{"not found", errors.NotFound("budget", "b-1"), http.StatusNotFound, false},
		{"conflict", errors.Conflict("duplicate"), http.StatusConflict, false},
		{"insufficient funds", errors.InsufficientFunds("short"), http.StatusUnprocessableEntity, false},
		{"timeout", errors.New(errors.ErrCodeTimeout, "lock wait"), http.StatusServiceUnavailable, true},
		{"transaction failure", errors.New(errors.ErrCodeTransactionFailure, "serialization"), http.StatusServiceUnavailable, true},
		{"untyped", context.Canceled, http.StatusInternalServerError, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			h.writeError(rec, req, tt.err)
			if rec.Code != tt.status {
				t.Errorf("expected %d, got %d", tt.status, rec.Code)
			}
			if got := rec.Header().Get("Retry-After") != ""; got != tt.retryAfter {
				t.Errorf("Retry-After present = %v, want %v", got, tt.retryAfter)
			}
		})
	}

	rec := httptest.NewRecorder()
	h.writeError(rec, httptest.NewRequest(http.MethodGet, "/", nil), context.Canceled)
	var eb errorBody
	decodeBody(t, rec, &eb)
	if eb.Message != "internal server error" || eb.Code != string(errors.ErrCodeInternal) {
		t.Errorf("internal details leaked: %+v", eb)
	}
}

package handler

import (
	"encoding/json"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-ap-budgets/internal/platform/auth"
	"github.com/pesio-ai/be-ap-budgets/internal/platform/errors"
	"github.com/pesio-ai/be-ap-budgets/internal/platform/logger"
	"github.com/pesio-ai/be-ap-budgets/internal/platform/middleware"
	"github.com/pesio-ai/be-ap-budgets/internal/service"
)

const maxBodyBytes = 1 << 20

// HTTPHandler handles HTTP requests for budgets, purchase orders and contracts.
type HTTPHandler struct {
	budgets   *service.BudgetService
	orders    *service.PurchaseOrderService
	contracts *service.ContractService
	validate  *validator.Validate
	log       *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(
	budgets *service.BudgetService,
	orders *service.PurchaseOrderService,
	contracts *service.ContractService,
	log *logger.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		budgets:   budgets,
		orders:    orders,
		contracts: contracts,
		validate:  newValidator(),
		log:       log,
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	// Report json names in validation errors.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	// Amounts are validated numerically with gt/gte tags.
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.InexactFloat64()
		}
		return nil
	}, decimal.Decimal{})
	return v
}

// Register mounts every route on mux. Role gates sit in front of the
// handlers; the whole mux is expected to run behind middleware.Auth.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	admin := middleware.RequireRole(auth.RoleAdmin)
	adminFinance := middleware.RequireRole(auth.RoleAdmin, auth.RoleFinance)
	reviewers := middleware.RequireRole(auth.RoleAdmin, auth.RoleManager)

	// Budget envelopes
	mux.HandleFunc("/api/v1/budgets", h.Envelopes)
	mux.Handle("/api/v1/budgets/close", admin(http.HandlerFunc(h.CloseEnvelope)))
	mux.Handle("/api/v1/budgets/allocate", adminFinance(http.HandlerFunc(h.Allocate)))
	mux.Handle("/api/v1/budgets/transfer", admin(http.HandlerFunc(h.Transfer)))
	mux.HandleFunc("/api/v1/budgets/utilization", h.GetUtilization)
	mux.Handle("/api/v1/budgets/report", adminFinance(http.HandlerFunc(h.FiscalYearReport)))
	mux.HandleFunc("/api/v1/budgets/allocations", h.AllocationHistory)
	mux.HandleFunc("/api/v1/budgets/transfers", h.TransferHistory)

	// Purchase orders
	mux.HandleFunc("/api/v1/purchase-orders", h.PurchaseOrders)
	mux.HandleFunc("/api/v1/purchase-orders/submit", h.SubmitPurchaseOrder)
	mux.Handle("/api/v1/purchase-orders/approve", reviewers(http.HandlerFunc(h.ApprovePurchaseOrder)))
	mux.Handle("/api/v1/purchase-orders/reject", reviewers(http.HandlerFunc(h.RejectPurchaseOrder)))
	mux.Handle("/api/v1/purchase-orders/complete", reviewers(http.HandlerFunc(h.CompletePurchaseOrder)))

	// Contracts
	mux.HandleFunc("/api/v1/contracts", h.Contracts)
	mux.HandleFunc("/api/v1/contracts/expiring", h.ListExpiringContracts)
	mux.Handle("/api/v1/contracts/approve", reviewers(http.HandlerFunc(h.ApproveContract)))
	mux.Handle("/api/v1/contracts/reject", reviewers(http.HandlerFunc(h.RejectContract)))
	mux.Handle("/api/v1/contracts/terminate", reviewers(http.HandlerFunc(h.TerminateContract)))
	mux.Handle("/api/v1/contracts/renew", reviewers(http.HandlerFunc(h.RenewContract)))

	// Audit
	mux.Handle("/api/v1/audit", adminFinance(http.HandlerFunc(h.AuditTrail)))
}

// actor returns the authenticated actor, writing 401 when there is none.
func (h *HTTPHandler) actor(w http.ResponseWriter, r *http.Request) (auth.Actor, bool) {
	a, err := auth.GetActor(r.Context())
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorBody{Code: "UNAUTHORIZED", Message: "authentication required"})
		return auth.Actor{}, false
	}
	return a, true
}

// requireRole is the in-handler gate for paths that mix methods with
// different permissions.
func (h *HTTPHandler) requireRole(w http.ResponseWriter, r *http.Request, roles ...string) (auth.Actor, bool) {
	a, ok := h.actor(w, r)
	if !ok {
		return a, false
	}
	if !a.HasRole(roles...) {
		writeJSON(w, http.StatusForbidden, errorBody{Code: "FORBIDDEN", Message: "insufficient role"})
		return a, false
	}
	return a, true
}

// decode reads a JSON body into dst and validates it.
func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: string(errors.ErrCodeInvalidInput), Message: "invalid request body"})
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.writeError(w, r, err)
		return false
	}
	return true
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, errorBody{Code: "METHOD_NOT_ALLOWED", Message: "method not allowed"})
}

func requireQuery(w http.ResponseWriter, r *http.Request, names ...string) ([]string, bool) {
	values := make([]string, len(names))
	for i, name := range names {
		values[i] = strings.TrimSpace(r.URL.Query().Get(name))
		if values[i] == "" {
			writeJSON(w, http.StatusBadRequest, errorBody{
				Code:    string(errors.ErrCodeInvalidInput),
				Message: name + " is required",
				Field:   name,
			})
			return nil, false
		}
	}
	return values, true
}

func queryInt(w http.ResponseWriter, name, raw string) (int, bool) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{
			Code:    string(errors.ErrCodeInvalidInput),
			Message: name + " must be an integer",
			Field:   name,
		})
		return 0, false
	}
	return n, true
}

// departmentYear reads the department_id and fiscal_year query parameters.
func departmentYear(w http.ResponseWriter, r *http.Request) (string, int, bool) {
	q, ok := requireQuery(w, r, "department_id", "fiscal_year")
	if !ok {
		return "", 0, false
	}
	year, ok := queryInt(w, "fiscal_year", q[1])
	return q[0], year, ok
}

type errorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Field   string            `json:"field,omitempty"`
	Errors  map[string]string `json:"errors,omitempty"`
}

// writeError maps err onto an HTTP status. Internal details are logged, not
// returned.
func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		fields := make(map[string]string, len(ve))
		for _, fe := range ve {
			_, name, _ := strings.Cut(fe.Namespace(), ".")
			fields[name] = fe.Tag()
		}
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{
			Code:    string(errors.ErrCodeInvalidInput),
			Message: "validation failed",
			Errors:  fields,
		})
		return
	}

	body := errorBody{Code: string(errors.CodeOf(err)), Message: err.Error()}
	var typed *errors.Error
	if errors.As(err, &typed) {
		body.Message = typed.Message
		body.Field = typed.Field
	}

	status := http.StatusInternalServerError
	switch errors.CodeOf(err) {
	case errors.ErrCodeInvalidInput:
		status = http.StatusBadRequest
	case errors.ErrCodeNotFound:
		status = http.StatusNotFound
	case errors.ErrCodeConflict:
		status = http.StatusConflict
	case errors.ErrCodeInsufficientFunds:
		status = http.StatusUnprocessableEntity
	case errors.ErrCodeTimeout, errors.ErrCodeTransactionFailure:
		status = http.StatusServiceUnavailable
		w.Header().Set("Retry-After", "1")
	default:
		logger.WithContext(r.Context(), h.log).Error().Err(err).
			Str("path", r.URL.Path).
			Msg("request failed")
		body.Code = string(errors.ErrCodeInternal)
		body.Message = "internal server error"
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

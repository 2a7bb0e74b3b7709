package handler

import (
	"net/http"

	"github.com/pesio-ai/be-ap-budgets/internal/platform/auth"
	"github.com/pesio-ai/be-ap-budgets/internal/service"
)

// Envelopes serves /api/v1/budgets.
//
//	GET    ?id= or ?department_id=&fiscal_year=
//	POST   create (admin)
//	PUT    update total (admin)
//	DELETE ?id= (admin)
func (h *HTTPHandler) Envelopes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.getEnvelope(w, r)
	case http.MethodPost:
		h.createEnvelope(w, r)
	case http.MethodPut:
		h.updateEnvelope(w, r)
	case http.MethodDelete:
		h.deleteEnvelope(w, r)
	default:
		methodNotAllowed(w)
	}
}

func (h *HTTPHandler) getEnvelope(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}
	if id := r.URL.Query().Get("id"); id != "" {
		e, err := h.budgets.GetEnvelopeByID(r.Context(), id)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toEnvelope(e))
		return
	}

	dept, year, ok := departmentYear(w, r)
	if !ok {
		return
	}
	e, err := h.budgets.GetEnvelope(r.Context(), dept, year)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEnvelope(e))
}

func (h *HTTPHandler) createEnvelope(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireRole(w, r, auth.RoleAdmin)
	if !ok {
		return
	}
	var body createEnvelopeBody
	if !h.decode(w, r, &body) {
		return
	}

	e, err := h.budgets.CreateEnvelope(r.Context(), &service.CreateEnvelopeRequest{
		DepartmentID: body.DepartmentID,
		FiscalYear:   body.FiscalYear,
		TotalAmount:  body.TotalAmount,
		Notes:        body.Notes,
		ActorID:      actor.UserID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEnvelope(e))
}

func (h *HTTPHandler) updateEnvelope(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireRole(w, r, auth.RoleAdmin)
	if !ok {
		return
	}
	var body updateEnvelopeBody
	if !h.decode(w, r, &body) {
		return
	}

	e, err := h.budgets.UpdateEnvelopeTotal(r.Context(), &service.UpdateEnvelopeRequest{
		ID:          body.ID,
		TotalAmount: body.TotalAmount,
		Notes:       body.Notes,
		ActorID:     actor.UserID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEnvelope(e))
}

func (h *HTTPHandler) deleteEnvelope(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireRole(w, r, auth.RoleAdmin)
	if !ok {
		return
	}
	q, ok := requireQuery(w, r, "id")
	if !ok {
		return
	}
	if err := h.budgets.DeleteEnvelope(r.Context(), q[0], actor.UserID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CloseEnvelope handles POST /api/v1/budgets/close
func (h *HTTPHandler) CloseEnvelope(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var body idBody
	if !h.decode(w, r, &body) {
		return
	}

	e, err := h.budgets.CloseEnvelope(r.Context(), body.ID, actor.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEnvelope(e))
}

// Allocate handles POST /api/v1/budgets/allocate
func (h *HTTPHandler) Allocate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var body allocateBody
	if !h.decode(w, r, &body) {
		return
	}

	alloc, e, err := h.budgets.Allocate(r.Context(), &service.AllocateRequest{
		DepartmentID: body.DepartmentID,
		Amount:       body.Amount,
		Notes:        body.Notes,
		ActorID:      actor.UserID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"allocation": toAllocation(alloc),
		"budget":     toEnvelope(e),
	})
}

// Transfer handles POST /api/v1/budgets/transfer
func (h *HTTPHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var body transferBody
	if !h.decode(w, r, &body) {
		return
	}

	t, err := h.budgets.Transfer(r.Context(), &service.TransferRequest{
		FromDepartmentID: body.FromDepartmentID,
		ToDepartmentID:   body.ToDepartmentID,
		Amount:           body.Amount,
		Reason:           body.Reason,
		ActorID:          actor.UserID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransfer(t))
}

// GetUtilization handles GET /api/v1/budgets/utilization?department_id=&fiscal_year=
func (h *HTTPHandler) GetUtilization(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if _, ok := h.actor(w, r); !ok {
		return
	}
	dept, year, ok := departmentYear(w, r)
	if !ok {
		return
	}

	u, err := h.budgets.GetUtilization(r.Context(), dept, year)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUtilization(u))
}

// FiscalYearReport handles GET /api/v1/budgets/report?fiscal_year=
func (h *HTTPHandler) FiscalYearReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	q, ok := requireQuery(w, r, "fiscal_year")
	if !ok {
		return
	}
	year, ok := queryInt(w, "fiscal_year", q[0])
	if !ok {
		return
	}

	rows, err := h.budgets.FiscalYearReport(r.Context(), year)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]*utilizationResponse, len(rows))
	for i, u := range rows {
		out[i] = toUtilization(u)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"fiscal_year": year,
		"budgets":     out,
	})
}

// AllocationHistory handles GET /api/v1/budgets/allocations?department_id=&fiscal_year=
func (h *HTTPHandler) AllocationHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if _, ok := h.actor(w, r); !ok {
		return
	}
	dept, year, ok := departmentYear(w, r)
	if !ok {
		return
	}

	rows, err := h.budgets.AllocationHistory(r.Context(), dept, year)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"allocations": toAllocations(rows)})
}

// TransferHistory handles GET /api/v1/budgets/transfers?department_id=&fiscal_year=
func (h *HTTPHandler) TransferHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if _, ok := h.actor(w, r); !ok {
		return
	}
	dept, year, ok := departmentYear(w, r)
	if !ok {
		return
	}

	rows, err := h.budgets.TransferHistory(r.Context(), dept, year)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transfers": toTransfers(rows)})
}

// AuditTrail handles GET /api/v1/audit?entity_type=&entity_id=
func (h *HTTPHandler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	q, ok := requireQuery(w, r, "entity_type", "entity_id")
	if !ok {
		return
	}

	entries, err := h.budgets.AuditTrail(r.Context(), q[0], q[1])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": toAudit(entries)})
}

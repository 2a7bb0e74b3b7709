package handler

import (
	"net/http"

	"github.com/pesio-ai/be-ap-budgets/internal/platform/auth"
	"github.com/pesio-ai/be-ap-budgets/internal/service"
)

const defaultExpiringDays = 30

// Contracts serves /api/v1/contracts.
//
//	GET    ?id=
//	POST   create (admin, manager)
//	PUT    ?id= update (admin, manager)
//	DELETE ?id= (admin)
func (h *HTTPHandler) Contracts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.getContract(w, r)
	case http.MethodPost:
		h.createContract(w, r)
	case http.MethodPut:
		h.updateContract(w, r)
	case http.MethodDelete:
		h.deleteContract(w, r)
	default:
		methodNotAllowed(w)
	}
}

func (b *contractBody) request(actorID string) *service.ContractRequest {
	return &service.ContractRequest{
		VendorID:        b.VendorID,
		Title:           b.Title,
		Description:     b.Description,
		StartDate:       parseDate(b.StartDate),
		EndDate:         parseDate(b.EndDate),
		Value:           b.Value,
		TermsConditions: b.TermsConditions,
		RenewalTerms:    b.RenewalTerms,
		ActorID:         actorID,
	}
}

func (h *HTTPHandler) getContract(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}
	q, ok := requireQuery(w, r, "id")
	if !ok {
		return
	}
	c, err := h.contracts.GetContract(r.Context(), q[0])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toContract(c))
}

func (h *HTTPHandler) createContract(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireRole(w, r, auth.RoleAdmin, auth.RoleManager)
	if !ok {
		return
	}
	var body contractBody
	if !h.decode(w, r, &body) {
		return
	}

	c, err := h.contracts.CreateContract(r.Context(), body.request(actor.UserID))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toContract(c))
}

func (h *HTTPHandler) updateContract(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireRole(w, r, auth.RoleAdmin, auth.RoleManager)
	if !ok {
		return
	}
	q, ok := requireQuery(w, r, "id")
	if !ok {
		return
	}
	var body contractBody
	if !h.decode(w, r, &body) {
		return
	}

	c, err := h.contracts.UpdateContract(r.Context(), q[0], body.request(actor.UserID))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toContract(c))
}

func (h *HTTPHandler) deleteContract(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireRole(w, r, auth.RoleAdmin)
	if !ok {
		return
	}
	q, ok := requireQuery(w, r, "id")
	if !ok {
		return
	}
	if err := h.contracts.DeleteContract(r.Context(), q[0], actor.UserID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListExpiringContracts handles GET /api/v1/contracts/expiring?days=
func (h *HTTPHandler) ListExpiringContracts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if _, ok := h.actor(w, r); !ok {
		return
	}
	days := defaultExpiringDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, ok := queryInt(w, "days", raw)
		if !ok {
			return
		}
		days = n
	}

	rows, err := h.contracts.ListExpiring(r.Context(), days)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"days":      days,
		"contracts": toContracts(rows),
	})
}

// ApproveContract handles POST /api/v1/contracts/approve
func (h *HTTPHandler) ApproveContract(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var body approveContractBody
	if !h.decode(w, r, &body) {
		return
	}

	c, err := h.contracts.ApproveContract(r.Context(), body.ID, actor.UserID, body.Comments)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toContract(c))
}

// RejectContract handles POST /api/v1/contracts/reject
func (h *HTTPHandler) RejectContract(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var body reviewBody
	if !h.decode(w, r, &body) {
		return
	}

	c, err := h.contracts.RejectContract(r.Context(), body.ID, actor.UserID, body.Comments)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toContract(c))
}

// TerminateContract handles POST /api/v1/contracts/terminate
func (h *HTTPHandler) TerminateContract(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var body terminateBody
	if !h.decode(w, r, &body) {
		return
	}

	c, err := h.contracts.TerminateContract(r.Context(), body.ID, actor.UserID, body.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toContract(c))
}

// RenewContract handles POST /api/v1/contracts/renew
func (h *HTTPHandler) RenewContract(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var body renewBody
	if !h.decode(w, r, &body) {
		return
	}

	c, err := h.contracts.RenewContract(r.Context(), &service.RenewRequest{
		ID:           body.ID,
		ActorID:      actor.UserID,
		RenewalTerms: body.RenewalTerms,
		NewEndDate:   parseDatePtr(body.NewEndDate),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toContract(c))
}

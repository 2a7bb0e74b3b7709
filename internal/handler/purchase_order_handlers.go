package handler

import (
	"context"
	"net/http"

	"github.com/pesio-ai/be-ap-budgets/internal/platform/auth"
	"github.com/pesio-ai/be-ap-budgets/internal/repository"
	"github.com/pesio-ai/be-ap-budgets/internal/service"
)

// PurchaseOrders serves /api/v1/purchase-orders.
//
//	GET    ?id=
//	POST   create
//	PUT    ?id= update
//	DELETE ?id=
func (h *HTTPHandler) PurchaseOrders(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.getPurchaseOrder(w, r)
	case http.MethodPost:
		h.createPurchaseOrder(w, r)
	case http.MethodPut:
		h.updatePurchaseOrder(w, r)
	case http.MethodDelete:
		h.deletePurchaseOrder(w, r)
	default:
		methodNotAllowed(w)
	}
}

// checkDepartment limits non-admins to their own department.
func checkDepartment(w http.ResponseWriter, actor auth.Actor, departmentID string) bool {
	if actor.HasRole(auth.RoleAdmin) || actor.DepartmentID == departmentID {
		return true
	}
	writeJSON(w, http.StatusForbidden, errorBody{
		Code:    "FORBIDDEN",
		Message: "purchase orders may only be raised for your own department",
		Field:   "department_id",
	})
	return false
}

// ownedOrder loads a purchase order the actor may modify: its creator, an
// admin, or a manager.
func (h *HTTPHandler) ownedOrder(w http.ResponseWriter, r *http.Request, actor auth.Actor, id string) (*repository.PurchaseOrder, bool) {
	po, err := h.orders.GetPurchaseOrder(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	if po.CreatedBy != actor.UserID && !actor.HasRole(auth.RoleAdmin, auth.RoleManager) {
		writeJSON(w, http.StatusForbidden, errorBody{Code: "FORBIDDEN", Message: "not allowed to modify this purchase order"})
		return nil, false
	}
	return po, true
}

func (b *purchaseOrderBody) request(actorID string) *service.PurchaseOrderRequest {
	return &service.PurchaseOrderRequest{
		VendorID:            b.VendorID,
		ContractID:          b.ContractID,
		DepartmentID:        b.DepartmentID,
		Items:               b.items(),
		TotalAmount:         b.TotalAmount,
		DeliveryDate:        parseDatePtr(b.DeliveryDate),
		DeliveryAddress:     b.DeliveryAddress,
		SpecialInstructions: b.SpecialInstructions,
		ActorID:             actorID,
	}
}

func (h *HTTPHandler) getPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}
	q, ok := requireQuery(w, r, "id")
	if !ok {
		return
	}
	po, err := h.orders.GetPurchaseOrder(r.Context(), q[0])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPurchaseOrder(po))
}

func (h *HTTPHandler) createPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var body purchaseOrderBody
	if !h.decode(w, r, &body) {
		return
	}
	if !checkDepartment(w, actor, body.DepartmentID) {
		return
	}

	po, err := h.orders.CreatePurchaseOrder(r.Context(), body.request(actor.UserID))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPurchaseOrder(po))
}

func (h *HTTPHandler) updatePurchaseOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	q, ok := requireQuery(w, r, "id")
	if !ok {
		return
	}
	var body purchaseOrderBody
	if !h.decode(w, r, &body) {
		return
	}
	if !checkDepartment(w, actor, body.DepartmentID) {
		return
	}
	current, ok := h.ownedOrder(w, r, actor, q[0])
	if !ok {
		return
	}
	// Moving an order needs access to both departments.
	if !checkDepartment(w, actor, current.DepartmentID) {
		return
	}

	po, err := h.orders.UpdatePurchaseOrder(r.Context(), q[0], body.request(actor.UserID))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPurchaseOrder(po))
}

func (h *HTTPHandler) deletePurchaseOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	q, ok := requireQuery(w, r, "id")
	if !ok {
		return
	}
	if _, ok := h.ownedOrder(w, r, actor, q[0]); !ok {
		return
	}

	if err := h.orders.DeletePurchaseOrder(r.Context(), q[0], actor.UserID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SubmitPurchaseOrder handles POST /api/v1/purchase-orders/submit
func (h *HTTPHandler) SubmitPurchaseOrder(w http.ResponseWriter, r *http.Request) {
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
	if _, ok := h.ownedOrder(w, r, actor, body.ID); !ok {
		return
	}

	po, err := h.orders.SubmitPurchaseOrder(r.Context(), body.ID, actor.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPurchaseOrder(po))
}

// ApprovePurchaseOrder handles POST /api/v1/purchase-orders/approve
func (h *HTTPHandler) ApprovePurchaseOrder(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, h.orders.ApprovePurchaseOrder)
}

// RejectPurchaseOrder handles POST /api/v1/purchase-orders/reject
func (h *HTTPHandler) RejectPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, h.orders.RejectPurchaseOrder)
}

func (h *HTTPHandler) review(
	w http.ResponseWriter,
	r *http.Request,
	decide func(ctx context.Context, req *service.ReviewRequest) (*repository.PurchaseOrder, error),
) {
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

	po, err := decide(r.Context(), &service.ReviewRequest{
		ID:         body.ID,
		ReviewerID: actor.UserID,
		Comments:   body.Comments,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPurchaseOrder(po))
}

// CompletePurchaseOrder handles POST /api/v1/purchase-orders/complete
func (h *HTTPHandler) CompletePurchaseOrder(w http.ResponseWriter, r *http.Request) {
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

	po, err := h.orders.CompletePurchaseOrder(r.Context(), body.ID, actor.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPurchaseOrder(po))
}

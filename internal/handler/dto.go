package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-ap-budgets/internal/repository"
	"github.com/pesio-ai/be-ap-budgets/internal/service"
)

// ── Requests ──────────────────────────────────────────────────────────────────

type createEnvelopeBody struct {
	DepartmentID string          `json:"department_id" validate:"required"`
	FiscalYear   int             `json:"fiscal_year" validate:"required,gte=2000,lte=9999"`
	TotalAmount  decimal.Decimal `json:"total_amount" validate:"gt=0,lte=9999999999999.99"`
	Notes        *string         `json:"notes"`
}

type updateEnvelopeBody struct {
	ID          string          `json:"id" validate:"required"`
	TotalAmount decimal.Decimal `json:"total_amount" validate:"gt=0,lte=9999999999999.99"`
	Notes       *string         `json:"notes"`
}

type idBody struct {
	ID string `json:"id" validate:"required"`
}

type allocateBody struct {
	DepartmentID string          `json:"department_id" validate:"required"`
	Amount       decimal.Decimal `json:"amount" validate:"gt=0,lte=9999999999999.99"`
	Notes        *string         `json:"notes"`
}

type transferBody struct {
	FromDepartmentID string          `json:"from_department_id" validate:"required"`
	ToDepartmentID   string          `json:"to_department_id" validate:"required,nefield=FromDepartmentID"`
	Amount           decimal.Decimal `json:"amount" validate:"gt=0,lte=9999999999999.99"`
	Reason           string          `json:"reason" validate:"required"`
}

type lineItemBody struct {
	Description string          `json:"description" validate:"required"`
	Quantity    decimal.Decimal `json:"quantity" validate:"gt=0,lte=9999999999999.99"`
	UnitPrice   decimal.Decimal `json:"unit_price" validate:"gte=0"`
}

type purchaseOrderBody struct {
	VendorID            string          `json:"vendor_id" validate:"required"`
	ContractID          *string         `json:"contract_id" validate:"omitempty,min=1"`
	DepartmentID        string          `json:"department_id" validate:"required"`
	Items               []lineItemBody  `json:"items" validate:"required,min=1,dive"`
	TotalAmount         decimal.Decimal `json:"total_amount" validate:"gt=0,lte=9999999999999.99"`
	DeliveryDate        *string         `json:"delivery_date" validate:"omitempty,datetime=2006-01-02"`
	DeliveryAddress     *string         `json:"delivery_address"`
	SpecialInstructions *string         `json:"special_instructions"`
}

func (b *purchaseOrderBody) items() []repository.LineItem {
	out := make([]repository.LineItem, len(b.Items))
	for i, it := range b.Items {
		out[i] = repository.LineItem{Description: it.Description, Quantity: it.Quantity, UnitPrice: it.UnitPrice}
	}
	return out
}

type reviewBody struct {
	ID       string  `json:"id" validate:"required"`
	Comments *string `json:"comments"`
}

type contractBody struct {
	VendorID        string          `json:"vendor_id" validate:"required"`
	Title           string          `json:"title" validate:"required"`
	Description     *string         `json:"description"`
	StartDate       string          `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate         string          `json:"end_date" validate:"required,datetime=2006-01-02"`
	Value           decimal.Decimal `json:"value" validate:"gte=0,lte=9999999999999.99"`
	TermsConditions *string         `json:"terms_conditions"`
	RenewalTerms    *string         `json:"renewal_terms"`
}

type approveContractBody struct {
	ID       string `json:"id" validate:"required"`
	Comments string `json:"comments" validate:"required"`
}

type terminateBody struct {
	ID     string `json:"id" validate:"required"`
	Reason string `json:"reason" validate:"required"`
}

type renewBody struct {
	ID           string  `json:"id" validate:"required"`
	RenewalTerms string  `json:"renewal_terms" validate:"required"`
	NewEndDate   *string `json:"new_end_date" validate:"omitempty,datetime=2006-01-02"`
}

// parseDate reads a date already checked by the datetime=2006-01-02 tag.
func parseDate(s string) time.Time {
	t, _ := time.Parse(service.DateLayout, s)
	return t
}

func parseDatePtr(s *string) *time.Time {
	if s == nil {
		return nil
	}
	t := parseDate(*s)
	return &t
}

func formatDatePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(service.DateLayout)
	return &s
}

// ── Responses ─────────────────────────────────────────────────────────────────

type envelopeResponse struct {
	ID           string          `json:"id"`
	DepartmentID string          `json:"department_id"`
	FiscalYear   int             `json:"fiscal_year"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	Allocated    decimal.Decimal `json:"allocated_amount"`
	Remaining    decimal.Decimal `json:"remaining_amount"`
	Status       string          `json:"status"`
	Notes        *string         `json:"notes,omitempty"`
	CreatedBy    string          `json:"created_by"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func toEnvelope(e *repository.Envelope) *envelopeResponse {
	return &envelopeResponse{
		ID:           e.ID,
		DepartmentID: e.DepartmentID,
		FiscalYear:   e.FiscalYear,
		TotalAmount:  e.Total,
		Allocated:    e.Allocated,
		Remaining:    e.Remaining,
		Status:       e.Status,
		Notes:        e.Notes,
		CreatedBy:    e.CreatedBy,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}
}

type allocationResponse struct {
	ID           string          `json:"id"`
	EnvelopeID   string          `json:"budget_id"`
	DepartmentID string          `json:"department_id"`
	FiscalYear   int             `json:"fiscal_year"`
	Amount       decimal.Decimal `json:"amount"`
	Notes        *string         `json:"notes,omitempty"`
	CreatedBy    string          `json:"created_by"`
	CreatedAt    time.Time       `json:"created_at"`
}

func toAllocation(a *repository.Allocation) *allocationResponse {
	return &allocationResponse{
		ID:           a.ID,
		EnvelopeID:   a.EnvelopeID,
		DepartmentID: a.DepartmentID,
		FiscalYear:   a.FiscalYear,
		Amount:       a.Amount,
		Notes:        a.Notes,
		CreatedBy:    a.CreatedBy,
		CreatedAt:    a.CreatedAt,
	}
}

func toAllocations(in []*repository.Allocation) []*allocationResponse {
	out := make([]*allocationResponse, len(in))
	for i, a := range in {
		out[i] = toAllocation(a)
	}
	return out
}

type transferResponse struct {
	ID               string          `json:"id"`
	FromDepartmentID string          `json:"from_department_id"`
	ToDepartmentID   string          `json:"to_department_id"`
	FiscalYear       int             `json:"fiscal_year"`
	Amount           decimal.Decimal `json:"amount"`
	Reason           string          `json:"reason"`
	CreatedBy        string          `json:"created_by"`
	CreatedAt        time.Time       `json:"created_at"`
}

func toTransfer(t *repository.Transfer) *transferResponse {
	return &transferResponse{
		ID:               t.ID,
		FromDepartmentID: t.FromDepartmentID,
		ToDepartmentID:   t.ToDepartmentID,
		FiscalYear:       t.FiscalYear,
		Amount:           t.Amount,
		Reason:           t.Reason,
		CreatedBy:        t.CreatedBy,
		CreatedAt:        t.CreatedAt,
	}
}

func toTransfers(in []*repository.Transfer) []*transferResponse {
	out := make([]*transferResponse, len(in))
	for i, t := range in {
		out[i] = toTransfer(t)
	}
	return out
}

type utilizationResponse struct {
	BudgetID           string          `json:"budget_id"`
	DepartmentID       string          `json:"department_id"`
	FiscalYear         int             `json:"fiscal_year"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	Allocated          decimal.Decimal `json:"allocated_amount"`
	Remaining          decimal.Decimal `json:"remaining_amount"`
	Status             string          `json:"status"`
	PurchaseOrderCount int             `json:"po_count"`
	CommittedAmount    decimal.Decimal `json:"committed_amount"`
	ApprovedAmount     decimal.Decimal `json:"approved_amount"`
	PendingAmount      decimal.Decimal `json:"pending_amount"`
	CompletedAmount    decimal.Decimal `json:"completed_amount"`
	UtilizationPercent decimal.Decimal `json:"utilization_percent"`
}

func toUtilization(u *repository.Utilization) *utilizationResponse {
	return &utilizationResponse{
		BudgetID:           u.EnvelopeID,
		DepartmentID:       u.DepartmentID,
		FiscalYear:         u.FiscalYear,
		TotalAmount:        u.Total,
		Allocated:          u.Allocated,
		Remaining:          u.Remaining,
		Status:             u.Status,
		PurchaseOrderCount: u.PurchaseOrderCount,
		CommittedAmount:    u.CommittedAmount,
		ApprovedAmount:     u.ApprovedAmount,
		PendingAmount:      u.PendingAmount,
		CompletedAmount:    u.CompletedAmount,
		UtilizationPercent: u.UtilizationPercent,
	}
}

type purchaseOrderResponse struct {
	ID                  string                `json:"id"`
	PONumber            string                `json:"po_number"`
	VendorID            string                `json:"vendor_id"`
	ContractID          *string               `json:"contract_id,omitempty"`
	DepartmentID        string                `json:"department_id"`
	FiscalYear          int                   `json:"fiscal_year"`
	Items               []repository.LineItem `json:"items"`
	TotalAmount         decimal.Decimal       `json:"total_amount"`
	Status              string                `json:"status"`
	DeliveryDate        *string               `json:"delivery_date,omitempty"`
	DeliveryAddress     *string               `json:"delivery_address,omitempty"`
	SpecialInstructions *string               `json:"special_instructions,omitempty"`
	CreatedBy           string                `json:"created_by"`
	ApprovedBy          *string               `json:"approved_by,omitempty"`
	ApprovedAt          *time.Time            `json:"approved_at,omitempty"`
	ApprovalComments    *string               `json:"approval_comments,omitempty"`
	CreatedAt           time.Time             `json:"created_at"`
	UpdatedAt           time.Time             `json:"updated_at"`
}

func toPurchaseOrder(po *repository.PurchaseOrder) *purchaseOrderResponse {
	return &purchaseOrderResponse{
		ID:                  po.ID,
		PONumber:            po.PONumber,
		VendorID:            po.VendorID,
		ContractID:          po.ContractID,
		DepartmentID:        po.DepartmentID,
		FiscalYear:          po.FiscalYear,
		Items:               po.Items,
		TotalAmount:         po.TotalAmount,
		Status:              po.Status,
		DeliveryDate:        formatDatePtr(po.DeliveryDate),
		DeliveryAddress:     po.DeliveryAddress,
		SpecialInstructions: po.SpecialInstructions,
		CreatedBy:           po.CreatedBy,
		ApprovedBy:          po.ApprovedBy,
		ApprovedAt:          po.ApprovedAt,
		ApprovalComments:    po.ApprovalComments,
		CreatedAt:           po.CreatedAt,
		UpdatedAt:           po.UpdatedAt,
	}
}

type contractResponse struct {
	ID                string          `json:"id"`
	ContractNumber    string          `json:"contract_number"`
	VendorID          string          `json:"vendor_id"`
	Title             string          `json:"title"`
	Description       *string         `json:"description,omitempty"`
	StartDate         string          `json:"start_date"`
	EndDate           string          `json:"end_date"`
	Value             decimal.Decimal `json:"value"`
	Status            string          `json:"status"`
	TermsConditions   *string         `json:"terms_conditions,omitempty"`
	RenewalTerms      *string         `json:"renewal_terms,omitempty"`
	ApprovedBy        *string         `json:"approved_by,omitempty"`
	ApprovedAt        *time.Time      `json:"approved_at,omitempty"`
	ApprovalComments  *string         `json:"approval_comments,omitempty"`
	RejectedBy        *string         `json:"rejected_by,omitempty"`
	RejectedAt        *time.Time      `json:"rejected_at,omitempty"`
	RejectionComments *string         `json:"rejection_comments,omitempty"`
	TerminatedBy      *string         `json:"terminated_by,omitempty"`
	TerminatedAt      *time.Time      `json:"terminated_at,omitempty"`
	TerminationReason *string         `json:"termination_reason,omitempty"`
	RenewedBy         *string         `json:"renewed_by,omitempty"`
	RenewedAt         *time.Time      `json:"renewed_at,omitempty"`
	CreatedBy         string          `json:"created_by"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func toContract(c *repository.Contract) *contractResponse {
	return &contractResponse{
		ID:                c.ID,
		ContractNumber:    c.ContractNumber,
		VendorID:          c.VendorID,
		Title:             c.Title,
		Description:       c.Description,
		StartDate:         c.StartDate.Format(service.DateLayout),
		EndDate:           c.EndDate.Format(service.DateLayout),
		Value:             c.Value,
		Status:            c.Status,
		TermsConditions:   c.TermsConditions,
		RenewalTerms:      c.RenewalTerms,
		ApprovedBy:        c.ApprovedBy,
		ApprovedAt:        c.ApprovedAt,
		ApprovalComments:  c.ApprovalComments,
		RejectedBy:        c.RejectedBy,
		RejectedAt:        c.RejectedAt,
		RejectionComments: c.RejectionComments,
		TerminatedBy:      c.TerminatedBy,
		TerminatedAt:      c.TerminatedAt,
		TerminationReason: c.TerminationReason,
		RenewedBy:         c.RenewedBy,
		RenewedAt:         c.RenewedAt,
		CreatedBy:         c.CreatedBy,
		CreatedAt:         c.CreatedAt,
		UpdatedAt:         c.UpdatedAt,
	}
}

func toContracts(in []*repository.Contract) []*contractResponse {
	out := make([]*contractResponse, len(in))
	for i, c := range in {
		out[i] = toContract(c)
	}
	return out
}

type auditResponse struct {
	ID          string    `json:"id"`
	EventType   string    `json:"event_type"`
	EntityType  string    `json:"entity_type"`
	EntityID    string    `json:"entity_id"`
	Description string    `json:"description"`
	ActorID     string    `json:"actor_id"`
	CreatedAt   time.Time `json:"created_at"`
}

func toAudit(in []*repository.AuditEntry) []*auditResponse {
	out := make([]*auditResponse, len(in))
	for i, e := range in {
		out[i] = &auditResponse{
			ID:          e.ID,
			EventType:   e.EventType,
			EntityType:  e.EntityType,
			EntityID:    e.EntityID,
			Description: e.Description,
			ActorID:     e.ActorID,
			CreatedAt:   e.CreatedAt,
		}
	}
	return out
}

package repository

import (
	"time"

	"github.com/shopspring/decimal"
)

// ── Envelope ──────────────────────────────────────────────────────────────────

// Envelope statuses.
const (
	EnvelopeActive    = "active"
	EnvelopeExhausted = "exhausted"
	EnvelopeClosed    = "closed"
)

// Envelope is the budget for one department and fiscal year.
// Remaining always equals Total minus Allocated and never goes below zero.
type Envelope struct {
	ID           string
	DepartmentID string
	FiscalYear   int
	Total        decimal.Decimal
	Allocated    decimal.Decimal
	Remaining    decimal.Decimal
	Status       string
	Notes        *string
	CreatedBy    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Allocation records a direct commitment against an envelope.
type Allocation struct {
	ID           string
	EnvelopeID   string
	DepartmentID string
	FiscalYear   int
	Amount       decimal.Decimal
	Notes        *string
	CreatedBy    string
	CreatedAt    time.Time
}

// Transfer records funds moved between two envelopes of the same year.
type Transfer struct {
	ID               string
	FromDepartmentID string
	ToDepartmentID   string
	FiscalYear       int
	Amount           decimal.Decimal
	Reason           string
	CreatedBy        string
	CreatedAt        time.Time
}

// Utilization is the read-only spend view of one envelope.
type Utilization struct {
	EnvelopeID         string
	DepartmentID       string
	FiscalYear         int
	Total              decimal.Decimal
	Allocated          decimal.Decimal
	Remaining          decimal.Decimal
	Status             string
	PurchaseOrderCount int
	CommittedAmount    decimal.Decimal // non-rejected purchase orders
	ApprovedAmount     decimal.Decimal
	PendingAmount      decimal.Decimal
	CompletedAmount    decimal.Decimal
	UtilizationPercent decimal.Decimal
}

// ── Purchase orders ───────────────────────────────────────────────────────────

// Purchase order statuses.
const (
	POStatusDraft     = "draft"
	POStatusPending   = "pending"
	POStatusApproved  = "approved"
	POStatusRejected  = "rejected"
	POStatusCompleted = "completed"
)

// LineItem is one ordered line of a purchase order.
type LineItem struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// Amount returns quantity × unit price.
func (l LineItem) Amount() decimal.Decimal {
	return l.Quantity.Mul(l.UnitPrice)
}

// PurchaseOrder holds a claim of TotalAmount against the envelope of its
// department for FiscalYear while it exists and is not rejected.
type PurchaseOrder struct {
	ID                  string
	PONumber            string
	VendorID            string
	ContractID          *string
	DepartmentID        string
	FiscalYear          int
	Items               []LineItem
	TotalAmount         decimal.Decimal
	Status              string
	DeliveryDate        *time.Time
	DeliveryAddress     *string
	SpecialInstructions *string
	CreatedBy           string
	ApprovedBy          *string
	ApprovedAt          *time.Time
	ApprovalComments    *string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// HoldsClaim reports whether the order currently debits its envelope.
func (po *PurchaseOrder) HoldsClaim() bool {
	return po.Status != POStatusRejected
}

// ── Contracts ─────────────────────────────────────────────────────────────────

// Contract statuses.
const (
	ContractDraft      = "draft"
	ContractActive     = "active"
	ContractExpired    = "expired"
	ContractTerminated = "terminated"
	ContractRejected   = "rejected"
	ContractRenewed    = "renewed"
)

// Contract is a vendor agreement. It never touches an envelope.
type Contract struct {
	ID                string
	ContractNumber    string
	VendorID          string
	Title             string
	Description       *string
	StartDate         time.Time
	EndDate           time.Time
	Value             decimal.Decimal
	Status            string
	TermsConditions   *string
	RenewalTerms      *string
	ApprovedBy        *string
	ApprovedAt        *time.Time
	ApprovalComments  *string
	RejectedBy        *string
	RejectedAt        *time.Time
	RejectionComments *string
	TerminatedBy      *string
	TerminatedAt      *time.Time
	TerminationReason *string
	RenewedBy         *string
	RenewedAt         *time.Time
	CreatedBy         string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsInForce reports whether purchase orders may reference the contract.
func (c *Contract) IsInForce() bool {
	return c.Status == ContractActive || c.Status == ContractRenewed
}

// ── Audit ─────────────────────────────────────────────────────────────────────

// Audit event types.
const (
	EventBudgetCreation      = "BUDGET_CREATION"
	EventBudgetUpdate        = "BUDGET_UPDATE"
	EventBudgetDeletion      = "BUDGET_DELETION"
	EventBudgetClosed        = "BUDGET_CLOSED"
	EventBudgetAllocation    = "BUDGET_ALLOCATION"
	EventBudgetTransfer      = "BUDGET_TRANSFER"
	EventPOCreation          = "PO_CREATION"
	EventPOUpdate            = "PO_UPDATE"
	EventPODeletion          = "PO_DELETION"
	EventPOSubmission        = "PO_SUBMISSION"
	EventPOApproval          = "PO_APPROVAL"
	EventPORejection         = "PO_REJECTION"
	EventPOCompletion        = "PO_COMPLETION"
	EventContractCreation    = "CONTRACT_CREATION"
	EventContractUpdate      = "CONTRACT_UPDATE"
	EventContractApproval    = "CONTRACT_APPROVAL"
	EventContractRejection   = "CONTRACT_REJECTION"
	EventContractTermination = "CONTRACT_TERMINATION"
	EventContractRenewal     = "CONTRACT_RENEWAL"
	EventContractExpiry      = "CONTRACT_EXPIRY"
	EventContractDeletion    = "CONTRACT_DELETION"
)

// Audited entity types.
const (
	EntityBudget        = "budget"
	EntityPurchaseOrder = "purchase_order"
	EntityContract      = "contract"
)

// AuditEntry is one immutable audit log row.
type AuditEntry struct {
	ID          string
	EventType   string
	EntityType  string
	EntityID    string
	Description string
	ActorID     string
	CreatedAt   time.Time
}

package repository

import (
	"context"
	"time"
)

// Store is the transactional ledger store. Every mutation runs inside
// InTransaction; an error returned by fn rolls back every write made through
// tx, including audit rows.
type Store interface {
	InTransaction(ctx context.Context, fn func(tx Tx) error) error
	Reader
}

// Reader exposes non-locking reads used outside of transactions.
type Reader interface {
	GetEnvelope(ctx context.Context, departmentID string, fiscalYear int) (*Envelope, error)
	GetEnvelopeByID(ctx context.Context, id string) (*Envelope, error)
	GetUtilization(ctx context.Context, departmentID string, fiscalYear int) (*Utilization, error)
	ListUtilization(ctx context.Context, fiscalYear int) ([]*Utilization, error)
	ListAllocations(ctx context.Context, departmentID string, fiscalYear int) ([]*Allocation, error)
	ListTransfers(ctx context.Context, departmentID string, fiscalYear int) ([]*Transfer, error)
	GetPurchaseOrder(ctx context.Context, id string) (*PurchaseOrder, error)
	GetContract(ctx context.Context, id string) (*Contract, error)
	ListExpiringContracts(ctx context.Context, from, until time.Time) ([]*Contract, error)
	ListAuditEntries(ctx context.Context, entityType, entityID string) ([]*AuditEntry, error)
}

// Tx is the set of operations available inside one transaction. The
// Lock... reads hold a row lock until the transaction ends.
type Tx interface {
	// Envelopes
	LockEnvelope(ctx context.Context, departmentID string, fiscalYear int) (*Envelope, error)
	LockEnvelopeByID(ctx context.Context, id string) (*Envelope, error)
	InsertEnvelope(ctx context.Context, e *Envelope) error
	UpdateEnvelope(ctx context.Context, e *Envelope) error
	DeleteEnvelope(ctx context.Context, id string) error
	CountPurchaseOrders(ctx context.Context, departmentID string, fiscalYear int) (int, error)
	InsertAllocation(ctx context.Context, a *Allocation) error
	InsertTransfer(ctx context.Context, t *Transfer) error

	// Identifiers
	NextSequence(ctx context.Context, prefix string, year int) (int64, error)

	// Purchase orders
	InsertPurchaseOrder(ctx context.Context, po *PurchaseOrder) error
	LockPurchaseOrder(ctx context.Context, id string) (*PurchaseOrder, error)
	UpdatePurchaseOrder(ctx context.Context, po *PurchaseOrder) error
	DeletePurchaseOrder(ctx context.Context, id string) error

	// Contracts
	InsertContract(ctx context.Context, c *Contract) error
	LockContract(ctx context.Context, id string) (*Contract, error)
	UpdateContract(ctx context.Context, c *Contract) error
	DeleteContract(ctx context.Context, id string) error
	LockContractsDue(ctx context.Context, asOf time.Time) ([]*Contract, error)

	// Audit
	AppendAudit(ctx context.Context, entry *AuditEntry) error
}

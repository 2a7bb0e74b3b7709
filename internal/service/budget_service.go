package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-ap-budgets/internal/platform/errors"
	"github.com/pesio-ai/be-ap-budgets/internal/platform/logger"
	"github.com/pesio-ai/be-ap-budgets/internal/repository"
)

// BudgetService owns department budget envelopes: creation, direct
// allocation, inter-department transfer and reporting.
type BudgetService struct {
	store    repository.Store
	notifier Notifier
	log      *logger.Logger
	now      func() time.Time
}

// NewBudgetService creates a new budget service
func NewBudgetService(store repository.Store, notifier Notifier, log *logger.Logger) *BudgetService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &BudgetService{
		store:    store,
		notifier: notifier,
		log:      log,
		now:      time.Now,
	}
}

// CreateEnvelopeRequest represents a create budget request
type CreateEnvelopeRequest struct {
	DepartmentID string
	FiscalYear   int
	TotalAmount  decimal.Decimal
	Notes        *string
	ActorID      string
}

// AllocateRequest represents a direct allocation against the current year's budget
type AllocateRequest struct {
	DepartmentID string
	Amount       decimal.Decimal
	Notes        *string
	ActorID      string
}

// TransferRequest represents a transfer between two departments' current-year budgets
type TransferRequest struct {
	FromDepartmentID string
	ToDepartmentID   string
	Amount           decimal.Decimal
	Reason           string
	ActorID          string
}

// UpdateEnvelopeRequest represents a budget resize
type UpdateEnvelopeRequest struct {
	ID          string
	TotalAmount decimal.Decimal
	Notes       *string
	ActorID     string
}

func validFiscalYear(year int) bool {
	return year >= 2000 && year <= 9999
}

// CreateEnvelope creates the budget for one department and fiscal year.
func (s *BudgetService) CreateEnvelope(ctx context.Context, req *CreateEnvelopeRequest) (*repository.Envelope, error) {
	if err := requireField("department_id", req.DepartmentID); err != nil {
		return nil, err
	}
	if !validFiscalYear(req.FiscalYear) {
		return nil, errors.InvalidInput("fiscal_year", "invalid fiscal year")
	}
	if err := validateAmount("total_amount", req.TotalAmount); err != nil {
		return nil, err
	}

	envelope := &repository.Envelope{
		ID:           newID(),
		DepartmentID: req.DepartmentID,
		FiscalYear:   req.FiscalYear,
		Total:        req.TotalAmount,
		Allocated:    decimal.Zero,
		Remaining:    req.TotalAmount,
		Status:       repository.EnvelopeActive,
		Notes:        req.Notes,
		CreatedBy:    req.ActorID,
	}

	err := s.store.InTransaction(ctx, func(tx repository.Tx) error {
		if err := tx.InsertEnvelope(ctx, envelope); err != nil {
			return err
		}
		return audit(ctx, tx, repository.EventBudgetCreation, repository.EntityBudget, envelope.ID, req.ActorID,
			fmt.Sprintf("Budget created for department %s, fiscal year %d: %s",
				envelope.DepartmentID, envelope.FiscalYear, envelope.Total.StringFixed(2)))
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("budget_id", envelope.ID).
		Str("department_id", envelope.DepartmentID).
		Int("fiscal_year", envelope.FiscalYear).
		Str("total_amount", envelope.Total.StringFixed(2)).
		Msg("Budget created")

	notify(ctx, s.notifier, s.log, Notification{
		Template:   TemplateBudgetCreated,
		Recipient:  envelope.DepartmentID,
		EntityType: repository.EntityBudget,
		EntityID:   envelope.ID,
		ActorID:    req.ActorID,
		Payload: map[string]any{
			"fiscal_year":  envelope.FiscalYear,
			"total_amount": envelope.Total.StringFixed(2),
		},
	})

	return envelope, nil
}

// Allocate commits part of the department's current-year budget.
func (s *BudgetService) Allocate(ctx context.Context, req *AllocateRequest) (*repository.Allocation, *repository.Envelope, error) {
	if err := requireField("department_id", req.DepartmentID); err != nil {
		return nil, nil, err
	}
	if err := validateAmount("amount", req.Amount); err != nil {
		return nil, nil, err
	}

	fiscalYear := s.now().Year()
	allocation := &repository.Allocation{
		ID:           newID(),
		DepartmentID: req.DepartmentID,
		FiscalYear:   fiscalYear,
		Amount:       req.Amount,
		Notes:        req.Notes,
		CreatedBy:    req.ActorID,
	}

	var envelope *repository.Envelope
	err := s.store.InTransaction(ctx, func(tx repository.Tx) error {
		e, err := tx.LockEnvelope(ctx, req.DepartmentID, fiscalYear)
		if err != nil {
			return err
		}
		if err := debit(e, req.Amount); err != nil {
			return err
		}
		if err := tx.UpdateEnvelope(ctx, e); err != nil {
			return err
		}

		allocation.EnvelopeID = e.ID
		if err := tx.InsertAllocation(ctx, allocation); err != nil {
			return err
		}
		envelope = e
		return audit(ctx, tx, repository.EventBudgetAllocation, repository.EntityBudget, e.ID, req.ActorID,
			fmt.Sprintf("Allocated %s from budget of department %s", req.Amount.StringFixed(2), e.DepartmentID))
	})
	if err != nil {
		return nil, nil, err
	}

	s.log.Info().
		Str("budget_id", envelope.ID).
		Str("allocation_id", allocation.ID).
		Str("department_id", envelope.DepartmentID).
		Str("amount", req.Amount.StringFixed(2)).
		Str("remaining_amount", envelope.Remaining.StringFixed(2)).
		Msg("Budget allocated")

	notify(ctx, s.notifier, s.log, Notification{
		Template:   TemplateBudgetAllocated,
		Recipient:  envelope.DepartmentID,
		EntityType: repository.EntityBudget,
		EntityID:   envelope.ID,
		ActorID:    req.ActorID,
		Payload: map[string]any{
			"amount":           req.Amount.StringFixed(2),
			"remaining_amount": envelope.Remaining.StringFixed(2),
		},
	})

	return allocation, envelope, nil
}

// Transfer moves budget from one department to another for the current
// fiscal year. Both envelopes shrink or grow in total and remaining by the
// same amount; allocations are untouched.
func (s *BudgetService) Transfer(ctx context.Context, req *TransferRequest) (*repository.Transfer, error) {
	if err := requireField("from_department_id", req.FromDepartmentID); err != nil {
		return nil, err
	}
	if err := requireField("to_department_id", req.ToDepartmentID); err != nil {
		return nil, err
	}
	if req.FromDepartmentID == req.ToDepartmentID {
		return nil, errors.InvalidInput("to_department_id", "cannot transfer to the same department")
	}
	if err := validateAmount("amount", req.Amount); err != nil {
		return nil, err
	}

	transfer := &repository.Transfer{
		ID:               newID(),
		FromDepartmentID: req.FromDepartmentID,
		ToDepartmentID:   req.ToDepartmentID,
		FiscalYear:       s.now().Year(),
		Amount:           req.Amount,
		Reason:           req.Reason,
		CreatedBy:        req.ActorID,
	}

	var source, target *repository.Envelope
	err := s.store.InTransaction(ctx, func(tx repository.Tx) error {
		var err error
		source, target, err = lockEnvelopesOrdered(ctx, tx, req.FromDepartmentID, req.ToDepartmentID, transfer.FiscalYear)
		if err != nil {
			return err
		}
		for _, e := range []*repository.Envelope{source, target} {
			if e.Status == repository.EnvelopeClosed {
				return errors.Conflict(fmt.Sprintf("budget for department %s is closed", e.DepartmentID))
			}
		}
		if source.Remaining.LessThan(req.Amount) {
			return errors.InsufficientFunds(fmt.Sprintf(
				"insufficient budget for department %s: requested %s, remaining %s",
				source.DepartmentID, req.Amount.StringFixed(2), source.Remaining.StringFixed(2)))
		}

		if target.Total.Add(req.Amount).GreaterThan(MaxAmount) {
			return errors.InvalidInput("amount", fmt.Sprintf(
				"transfer would grow the budget of department %s beyond %s", target.DepartmentID, MaxAmount))
		}

		source.Total = source.Total.Sub(req.Amount)
		source.Remaining = source.Remaining.Sub(req.Amount)
		target.Total = target.Total.Add(req.Amount)
		target.Remaining = target.Remaining.Add(req.Amount)
		refreshStatus(source)
		refreshStatus(target)

		if err := tx.UpdateEnvelope(ctx, source); err != nil {
			return err
		}
		if err := tx.UpdateEnvelope(ctx, target); err != nil {
			return err
		}
		if err := tx.InsertTransfer(ctx, transfer); err != nil {
			return err
		}

		desc := fmt.Sprintf("Transferred %s from department %s to department %s",
			req.Amount.StringFixed(2), req.FromDepartmentID, req.ToDepartmentID)
		if err := audit(ctx, tx, repository.EventBudgetTransfer, repository.EntityBudget, source.ID, req.ActorID, desc); err != nil {
			return err
		}
		return audit(ctx, tx, repository.EventBudgetTransfer, repository.EntityBudget, target.ID, req.ActorID, desc)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("transfer_id", transfer.ID).
		Str("from_department_id", req.FromDepartmentID).
		Str("to_department_id", req.ToDepartmentID).
		Int("fiscal_year", transfer.FiscalYear).
		Str("amount", req.Amount.StringFixed(2)).
		Msg("Budget transferred")

	for _, e := range []*repository.Envelope{source, target} {
		notify(ctx, s.notifier, s.log, Notification{
			Template:   TemplateBudgetTransferred,
			Recipient:  e.DepartmentID,
			EntityType: repository.EntityBudget,
			EntityID:   e.ID,
			ActorID:    req.ActorID,
			Payload: map[string]any{
				"from_department_id": req.FromDepartmentID,
				"to_department_id":   req.ToDepartmentID,
				"amount":             req.Amount.StringFixed(2),
				"remaining_amount":   e.Remaining.StringFixed(2),
			},
		})
	}

	return transfer, nil
}

// UpdateEnvelopeTotal resizes a budget. The new total may not drop below what
// is already allocated.
func (s *BudgetService) UpdateEnvelopeTotal(ctx context.Context, req *UpdateEnvelopeRequest) (*repository.Envelope, error) {
	if err := validateAmount("total_amount", req.TotalAmount); err != nil {
		return nil, err
	}

	var envelope *repository.Envelope
	var previous decimal.Decimal
	err := s.store.InTransaction(ctx, func(tx repository.Tx) error {
		e, err := tx.LockEnvelopeByID(ctx, req.ID)
		if err != nil {
			return err
		}
		if e.Status == repository.EnvelopeClosed {
			return errors.Conflict("cannot update a closed budget")
		}
		if req.TotalAmount.LessThan(e.Allocated) {
			return errors.InsufficientFunds(fmt.Sprintf(
				"total amount %s is below allocated amount %s",
				req.TotalAmount.StringFixed(2), e.Allocated.StringFixed(2)))
		}

		previous = e.Total
		e.Total = req.TotalAmount
		e.Remaining = req.TotalAmount.Sub(e.Allocated)
		if req.Notes != nil {
			e.Notes = req.Notes
		}
		refreshStatus(e)

		if err := tx.UpdateEnvelope(ctx, e); err != nil {
			return err
		}
		envelope = e
		return audit(ctx, tx, repository.EventBudgetUpdate, repository.EntityBudget, e.ID, req.ActorID,
			fmt.Sprintf("Budget total changed from %s to %s", previous.StringFixed(2), e.Total.StringFixed(2)))
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("budget_id", envelope.ID).
		Str("previous_total", previous.StringFixed(2)).
		Str("total_amount", envelope.Total.StringFixed(2)).
		Msg("Budget updated")

	notify(ctx, s.notifier, s.log, Notification{
		Template:   TemplateBudgetUpdated,
		Recipient:  envelope.DepartmentID,
		EntityType: repository.EntityBudget,
		EntityID:   envelope.ID,
		ActorID:    req.ActorID,
		Payload: map[string]any{
			"previous_total": previous.StringFixed(2),
			"total_amount":   envelope.Total.StringFixed(2),
		},
	})

	return envelope, nil
}

// DeleteEnvelope removes a budget that no purchase order references.
func (s *BudgetService) DeleteEnvelope(ctx context.Context, id, actorID string) error {
	var envelope *repository.Envelope
	err := s.store.InTransaction(ctx, func(tx repository.Tx) error {
		e, err := tx.LockEnvelopeByID(ctx, id)
		if err != nil {
			return err
		}
		n, err := tx.CountPurchaseOrders(ctx, e.DepartmentID, e.FiscalYear)
		if err != nil {
			return err
		}
		if n > 0 {
			return errors.Conflict(fmt.Sprintf("budget is referenced by %d purchase orders", n))
		}
		if err := tx.DeleteEnvelope(ctx, e.ID); err != nil {
			return err
		}
		envelope = e
		return audit(ctx, tx, repository.EventBudgetDeletion, repository.EntityBudget, e.ID, actorID,
			fmt.Sprintf("Budget deleted for department %s, fiscal year %d", e.DepartmentID, e.FiscalYear))
	})
	if err != nil {
		return err
	}

	s.log.Info().
		Str("budget_id", envelope.ID).
		Str("department_id", envelope.DepartmentID).
		Int("fiscal_year", envelope.FiscalYear).
		Msg("Budget deleted")

	return nil
}

// CloseEnvelope freezes a budget against further commitments.
func (s *BudgetService) CloseEnvelope(ctx context.Context, id, actorID string) (*repository.Envelope, error) {
	var envelope *repository.Envelope
	err := s.store.InTransaction(ctx, func(tx repository.Tx) error {
		e, err := tx.LockEnvelopeByID(ctx, id)
		if err != nil {
			return err
		}
		if e.Status == repository.EnvelopeClosed {
			return errors.Conflict("budget is already closed")
		}
		e.Status = repository.EnvelopeClosed
		if err := tx.UpdateEnvelope(ctx, e); err != nil {
			return err
		}
		envelope = e
		return audit(ctx, tx, repository.EventBudgetClosed, repository.EntityBudget, e.ID, actorID,
			fmt.Sprintf("Budget closed with %s remaining", e.Remaining.StringFixed(2)))
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("budget_id", envelope.ID).
		Str("department_id", envelope.DepartmentID).
		Msg("Budget closed")

	notify(ctx, s.notifier, s.log, Notification{
		Template:   TemplateBudgetClosed,
		Recipient:  envelope.DepartmentID,
		EntityType: repository.EntityBudget,
		EntityID:   envelope.ID,
		ActorID:    actorID,
	})

	return envelope, nil
}

// GetEnvelope retrieves the budget for a department and fiscal year
func (s *BudgetService) GetEnvelope(ctx context.Context, departmentID string, fiscalYear int) (*repository.Envelope, error) {
	return s.store.GetEnvelope(ctx, departmentID, fiscalYear)
}

// GetEnvelopeByID retrieves a budget by ID
func (s *BudgetService) GetEnvelopeByID(ctx context.Context, id string) (*repository.Envelope, error) {
	return s.store.GetEnvelopeByID(ctx, id)
}

// GetUtilization reports how much of a budget is spent and by which orders.
func (s *BudgetService) GetUtilization(ctx context.Context, departmentID string, fiscalYear int) (*repository.Utilization, error) {
	return s.store.GetUtilization(ctx, departmentID, fiscalYear)
}

// FiscalYearReport returns utilization for every budget of a year.
func (s *BudgetService) FiscalYearReport(ctx context.Context, fiscalYear int) ([]*repository.Utilization, error) {
	if !validFiscalYear(fiscalYear) {
		return nil, errors.InvalidInput("fiscal_year", "invalid fiscal year")
	}
	return s.store.ListUtilization(ctx, fiscalYear)
}

// AllocationHistory lists direct allocations of a department budget
func (s *BudgetService) AllocationHistory(ctx context.Context, departmentID string, fiscalYear int) ([]*repository.Allocation, error) {
	return s.store.ListAllocations(ctx, departmentID, fiscalYear)
}

// TransferHistory lists transfers in and out of a department
func (s *BudgetService) TransferHistory(ctx context.Context, departmentID string, fiscalYear int) ([]*repository.Transfer, error) {
	return s.store.ListTransfers(ctx, departmentID, fiscalYear)
}

// AuditTrail returns the audit rows of one entity, oldest first.
func (s *BudgetService) AuditTrail(ctx context.Context, entityType, entityID string) ([]*repository.AuditEntry, error) {
	switch entityType {
	case repository.EntityBudget, repository.EntityPurchaseOrder, repository.EntityContract:
	default:
		return nil, errors.InvalidInput("entity_type", "unknown entity type")
	}
	return s.store.ListAuditEntries(ctx, entityType, entityID)
}

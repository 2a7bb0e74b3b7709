package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-ap-budgets/internal/platform/errors"
	"github.com/pesio-ai/be-ap-budgets/internal/platform/logger"
	"github.com/pesio-ai/be-ap-budgets/internal/repository"
)

// PurchaseOrderService couples every purchase order change with the matching
// debit or credit on its department's budget, in the same transaction.
type PurchaseOrderService struct {
	store    repository.Store
	notifier Notifier
	log      *logger.Logger
	now      func() time.Time
}

// NewPurchaseOrderService creates a new purchase order service
func NewPurchaseOrderService(store repository.Store, notifier Notifier, log *logger.Logger) *PurchaseOrderService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &PurchaseOrderService{
		store:    store,
		notifier: notifier,
		log:      log,
		now:      time.Now,
	}
}

// PurchaseOrderRequest carries the mutable fields of a purchase order, for
// both create and update.
type PurchaseOrderRequest struct {
	VendorID            string
	ContractID          *string
	DepartmentID        string
	Items               []repository.LineItem
	TotalAmount         decimal.Decimal
	DeliveryDate        *time.Time
	DeliveryAddress     *string
	SpecialInstructions *string
	ActorID             string
}

// ReviewRequest represents an approve or reject decision
type ReviewRequest struct {
	ID         string
	ReviewerID string
	Comments   *string
}

func (req *PurchaseOrderRequest) validate() error {
	if err := requireField("vendor_id", req.VendorID); err != nil {
		return err
	}
	if err := requireField("department_id", req.DepartmentID); err != nil {
		return err
	}
	if len(req.Items) == 0 {
		return errors.InvalidInput("items", "purchase order must have at least 1 item")
	}
	if err := validateAmount("total_amount", req.TotalAmount); err != nil {
		return err
	}

	sum := decimal.Zero
	for i, item := range req.Items {
		field := fmt.Sprintf("items[%d]", i)
		if strings.TrimSpace(item.Description) == "" {
			return errors.InvalidInput(field+".description", "is required")
		}
		if !item.Quantity.IsPositive() {
			return errors.InvalidInput(field+".quantity", "quantity must be positive")
		}
		if item.UnitPrice.IsNegative() {
			return errors.InvalidInput(field+".unit_price", "unit price cannot be negative")
		}
		sum = sum.Add(item.Amount())
	}
	if !sum.Round(2).Equal(req.TotalAmount) {
		return errors.InvalidInput("total_amount", fmt.Sprintf(
			"total amount %s does not match line items total %s",
			req.TotalAmount.StringFixed(2), sum.StringFixed(2)))
	}
	if req.DeliveryDate != nil {
		d := calendarDate(*req.DeliveryDate)
		req.DeliveryDate = &d
	}
	return nil
}

// checkContract requires a referenced contract to be in force for the vendor.
func checkContract(ctx context.Context, tx repository.Tx, contractID *string, vendorID string) error {
	if contractID == nil {
		return nil
	}
	c, err := tx.LockContract(ctx, *contractID)
	if err != nil {
		return err
	}
	if !c.IsInForce() {
		return errors.InvalidInput("contract_id", fmt.Sprintf("contract %s is %s", c.ContractNumber, c.Status))
	}
	if c.VendorID != vendorID {
		return errors.InvalidInput("contract_id", "contract belongs to a different vendor")
	}
	return nil
}

// CreatePurchaseOrder creates a draft purchase order and debits the
// department's current-year budget by its total.
func (s *PurchaseOrderService) CreatePurchaseOrder(ctx context.Context, req *PurchaseOrderRequest) (*repository.PurchaseOrder, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	fiscalYear := s.now().Year()
	po := &repository.PurchaseOrder{
		ID:                  newID(),
		VendorID:            req.VendorID,
		ContractID:          req.ContractID,
		DepartmentID:        req.DepartmentID,
		FiscalYear:          fiscalYear,
		Items:               req.Items,
		TotalAmount:         req.TotalAmount,
		Status:              repository.POStatusDraft,
		DeliveryDate:        req.DeliveryDate,
		DeliveryAddress:     req.DeliveryAddress,
		SpecialInstructions: req.SpecialInstructions,
		CreatedBy:           req.ActorID,
	}

	var envelope *repository.Envelope
	// Lock order is purchase order, contract, envelope, sequence.
	err := s.store.InTransaction(ctx, func(tx repository.Tx) error {
		if err := checkContract(ctx, tx, req.ContractID, req.VendorID); err != nil {
			return err
		}
		e, err := tx.LockEnvelope(ctx, req.DepartmentID, fiscalYear)
		if err != nil {
			return err
		}
		if err := debit(e, req.TotalAmount); err != nil {
			return err
		}

		seq, err := tx.NextSequence(ctx, repository.PrefixPurchaseOrder, fiscalYear)
		if err != nil {
			return err
		}
		po.PONumber = formatNumber(repository.PrefixPurchaseOrder, fiscalYear, seq)

		if err := tx.InsertPurchaseOrder(ctx, po); err != nil {
			return err
		}
		if err := tx.UpdateEnvelope(ctx, e); err != nil {
			return err
		}
		envelope = e
		return audit(ctx, tx, repository.EventPOCreation, repository.EntityPurchaseOrder, po.ID, req.ActorID,
			fmt.Sprintf("Purchase Order %s created for %s", po.PONumber, po.TotalAmount.StringFixed(2)))
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("po_id", po.ID).
		Str("po_number", po.PONumber).
		Str("vendor_id", po.VendorID).
		Str("department_id", po.DepartmentID).
		Str("total_amount", po.TotalAmount.StringFixed(2)).
		Str("remaining_amount", envelope.Remaining.StringFixed(2)).
		Int("item_count", len(po.Items)).
		Msg("Purchase order created")

	s.notifyVendor(ctx, TemplatePOCreated, po, req.ActorID, nil)

	return po, nil
}

// UpdatePurchaseOrder replaces the mutable fields of a draft or pending
// order. The budget impact is netted: same department adjusts by the delta,
// a department change releases the old amount and commits the new one.
func (s *PurchaseOrderService) UpdatePurchaseOrder(ctx context.Context, id string, req *PurchaseOrderRequest) (*repository.PurchaseOrder, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	var po *repository.PurchaseOrder
	var previousTotal decimal.Decimal
	err := s.store.InTransaction(ctx, func(tx repository.Tx) error {
		var err error
		po, err = tx.LockPurchaseOrder(ctx, id)
		if err != nil {
			return err
		}
		if po.Status != repository.POStatusDraft && po.Status != repository.POStatusPending {
			return errors.Conflict(fmt.Sprintf("cannot update purchase order with status '%s'", po.Status))
		}
		if err := checkContract(ctx, tx, req.ContractID, req.VendorID); err != nil {
			return err
		}

		previousTotal = po.TotalAmount
		if req.DepartmentID == po.DepartmentID {
			e, err := tx.LockEnvelope(ctx, po.DepartmentID, po.FiscalYear)
			if err != nil {
				return err
			}
			delta := req.TotalAmount.Sub(po.TotalAmount)
			switch delta.Sign() {
			case 1:
				err = debit(e, delta)
			case -1:
				err = credit(e, delta.Neg())
			}
			if err != nil {
				return err
			}
			if !delta.IsZero() {
				if err := tx.UpdateEnvelope(ctx, e); err != nil {
					return err
				}
			}
		} else {
			oldEnv, newEnv, err := lockEnvelopesOrdered(ctx, tx, po.DepartmentID, req.DepartmentID, po.FiscalYear)
			if err != nil {
				return err
			}
			if err := credit(oldEnv, po.TotalAmount); err != nil {
				return err
			}
			if err := debit(newEnv, req.TotalAmount); err != nil {
				return err
			}
			if err := tx.UpdateEnvelope(ctx, oldEnv); err != nil {
				return err
			}
			if err := tx.UpdateEnvelope(ctx, newEnv); err != nil {
				return err
			}
		}

		po.VendorID = req.VendorID
		po.ContractID = req.ContractID
		po.DepartmentID = req.DepartmentID
		po.Items = req.Items
		po.TotalAmount = req.TotalAmount
		po.DeliveryDate = req.DeliveryDate
		po.DeliveryAddress = req.DeliveryAddress
		po.SpecialInstructions = req.SpecialInstructions
		if err := tx.UpdatePurchaseOrder(ctx, po); err != nil {
			return err
		}
		return audit(ctx, tx, repository.EventPOUpdate, repository.EntityPurchaseOrder, po.ID, req.ActorID,
			fmt.Sprintf("Purchase Order %s updated: %s -> %s",
				po.PONumber, previousTotal.StringFixed(2), po.TotalAmount.StringFixed(2)))
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("po_id", po.ID).
		Str("po_number", po.PONumber).
		Str("department_id", po.DepartmentID).
		Str("previous_total", previousTotal.StringFixed(2)).
		Str("total_amount", po.TotalAmount.StringFixed(2)).
		Msg("Purchase order updated")

	return po, nil
}

// DeletePurchaseOrder deletes an order and releases its budget claim.
// Completed orders cannot be deleted; rejected orders hold no claim.
func (s *PurchaseOrderService) DeletePurchaseOrder(ctx context.Context, id, actorID string) error {
	var po *repository.PurchaseOrder
	err := s.store.InTransaction(ctx, func(tx repository.Tx) error {
		var err error
		po, err = tx.LockPurchaseOrder(ctx, id)
		if err != nil {
			return err
		}
		if po.Status == repository.POStatusCompleted {
			return errors.Conflict("cannot delete a completed purchase order")
		}

		if po.HoldsClaim() {
			e, err := tx.LockEnvelope(ctx, po.DepartmentID, po.FiscalYear)
			if err != nil {
				return err
			}
			if err := credit(e, po.TotalAmount); err != nil {
				return err
			}
			if err := tx.UpdateEnvelope(ctx, e); err != nil {
				return err
			}
		}

		if err := tx.DeletePurchaseOrder(ctx, po.ID); err != nil {
			return err
		}
		return audit(ctx, tx, repository.EventPODeletion, repository.EntityPurchaseOrder, po.ID, actorID,
			fmt.Sprintf("Purchase Order %s deleted", po.PONumber))
	})
	if err != nil {
		return err
	}

	s.log.Info().
		Str("po_id", po.ID).
		Str("po_number", po.PONumber).
		Str("released_amount", po.TotalAmount.StringFixed(2)).
		Msg("Purchase order deleted")

	return nil
}

// transition locks an order, checks its current status against from, and
// applies mutate and the audit row in one transaction.
func (s *PurchaseOrderService) transition(
	ctx context.Context,
	id, actorID, eventType, verb string,
	from []string,
	mutate func(tx repository.Tx, po *repository.PurchaseOrder) error,
) (*repository.PurchaseOrder, error) {
	var po *repository.PurchaseOrder
	err := s.store.InTransaction(ctx, func(tx repository.Tx) error {
		var err error
		po, err = tx.LockPurchaseOrder(ctx, id)
		if err != nil {
			return err
		}
		allowed := false
		for _, st := range from {
			if po.Status == st {
				allowed = true
				break
			}
		}
		if !allowed {
			return errors.Conflict(fmt.Sprintf("cannot %s purchase order with status '%s'", verb, po.Status))
		}
		if err := mutate(tx, po); err != nil {
			return err
		}
		if err := tx.UpdatePurchaseOrder(ctx, po); err != nil {
			return err
		}
		return audit(ctx, tx, eventType, repository.EntityPurchaseOrder, po.ID, actorID,
			fmt.Sprintf("Purchase Order %s %s", po.PONumber, po.Status))
	})
	if err != nil {
		return nil, err
	}
	return po, nil
}

// SubmitPurchaseOrder moves a draft order to pending.
func (s *PurchaseOrderService) SubmitPurchaseOrder(ctx context.Context, id, actorID string) (*repository.PurchaseOrder, error) {
	po, err := s.transition(ctx, id, actorID, repository.EventPOSubmission, "submit",
		[]string{repository.POStatusDraft},
		func(_ repository.Tx, po *repository.PurchaseOrder) error {
			po.Status = repository.POStatusPending
			return nil
		})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("po_id", po.ID).
		Str("po_number", po.PONumber).
		Str("submitted_by", actorID).
		Msg("Purchase order submitted")

	s.notifyVendor(ctx, TemplatePOSubmitted, po, actorID, nil)
	return po, nil
}

// ApprovePurchaseOrder approves a draft or pending order.
func (s *PurchaseOrderService) ApprovePurchaseOrder(ctx context.Context, req *ReviewRequest) (*repository.PurchaseOrder, error) {
	if err := requireField("approved_by", req.ReviewerID); err != nil {
		return nil, err
	}
	po, err := s.transition(ctx, req.ID, req.ReviewerID, repository.EventPOApproval, "approve",
		[]string{repository.POStatusDraft, repository.POStatusPending},
		func(_ repository.Tx, po *repository.PurchaseOrder) error {
			now := s.now()
			po.Status = repository.POStatusApproved
			po.ApprovedBy = &req.ReviewerID
			po.ApprovedAt = &now
			po.ApprovalComments = req.Comments
			return nil
		})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("po_id", po.ID).
		Str("po_number", po.PONumber).
		Str("approved_by", req.ReviewerID).
		Msg("Purchase order approved")

	s.notifyVendor(ctx, TemplatePOApproved, po, req.ReviewerID, req.Comments)
	return po, nil
}

// RejectPurchaseOrder rejects a draft or pending order and releases its
// budget claim.
func (s *PurchaseOrderService) RejectPurchaseOrder(ctx context.Context, req *ReviewRequest) (*repository.PurchaseOrder, error) {
	if err := requireField("rejected_by", req.ReviewerID); err != nil {
		return nil, err
	}
	po, err := s.transition(ctx, req.ID, req.ReviewerID, repository.EventPORejection, "reject",
		[]string{repository.POStatusDraft, repository.POStatusPending},
		func(tx repository.Tx, po *repository.PurchaseOrder) error {
			e, err := tx.LockEnvelope(ctx, po.DepartmentID, po.FiscalYear)
			if err != nil {
				return err
			}
			if err := credit(e, po.TotalAmount); err != nil {
				return err
			}
			if err := tx.UpdateEnvelope(ctx, e); err != nil {
				return err
			}

			now := s.now()
			po.Status = repository.POStatusRejected
			po.ApprovedBy = &req.ReviewerID
			po.ApprovedAt = &now
			po.ApprovalComments = req.Comments
			return nil
		})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("po_id", po.ID).
		Str("po_number", po.PONumber).
		Str("rejected_by", req.ReviewerID).
		Str("released_amount", po.TotalAmount.StringFixed(2)).
		Msg("Purchase order rejected")

	s.notifyVendor(ctx, TemplatePORejected, po, req.ReviewerID, req.Comments)
	return po, nil
}

// CompletePurchaseOrder marks an approved order as delivered.
func (s *PurchaseOrderService) CompletePurchaseOrder(ctx context.Context, id, actorID string) (*repository.PurchaseOrder, error) {
	po, err := s.transition(ctx, id, actorID, repository.EventPOCompletion, "complete",
		[]string{repository.POStatusApproved},
		func(_ repository.Tx, po *repository.PurchaseOrder) error {
			po.Status = repository.POStatusCompleted
			return nil
		})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("po_id", po.ID).
		Str("po_number", po.PONumber).
		Str("completed_by", actorID).
		Msg("Purchase order completed")

	s.notifyVendor(ctx, TemplatePOCompleted, po, actorID, nil)
	return po, nil
}

// GetPurchaseOrder retrieves a purchase order by ID
func (s *PurchaseOrderService) GetPurchaseOrder(ctx context.Context, id string) (*repository.PurchaseOrder, error) {
	return s.store.GetPurchaseOrder(ctx, id)
}

func (s *PurchaseOrderService) notifyVendor(ctx context.Context, template string, po *repository.PurchaseOrder, actorID string, comments *string) {
	payload := map[string]any{
		"po_number":     po.PONumber,
		"department_id": po.DepartmentID,
		"total_amount":  po.TotalAmount.StringFixed(2),
		"status":        po.Status,
	}
	if comments != nil {
		payload["comments"] = *comments
	}
	notify(ctx, s.notifier, s.log, Notification{
		Template:   template,
		Recipient:  po.VendorID,
		EntityType: repository.EntityPurchaseOrder,
		EntityID:   po.ID,
		ActorID:    actorID,
		Payload:    payload,
	})
}

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

// ContractService drives the vendor contract lifecycle:
//
//	draft -> active (approve) | rejected (reject)
//	active, renewed -> terminated (terminate) | renewed (renew) | expired (sweep)
type ContractService struct {
	store    repository.Store
	notifier Notifier
	log      *logger.Logger
	now      func() time.Time
}

// NewContractService creates a new contract service
func NewContractService(store repository.Store, notifier Notifier, log *logger.Logger) *ContractService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &ContractService{
		store:    store,
		notifier: notifier,
		log:      log,
		now:      time.Now,
	}
}

// ContractRequest carries the editable fields of a contract
type ContractRequest struct {
	VendorID        string
	Title           string
	Description     *string
	StartDate       time.Time
	EndDate         time.Time
	Value           decimal.Decimal
	TermsConditions *string
	RenewalTerms    *string
	ActorID         string
}

// RenewRequest represents a contract renewal
type RenewRequest struct {
	ID           string
	ActorID      string
	RenewalTerms string
	NewEndDate   *time.Time
}

func (req *ContractRequest) validate() error {
	if err := requireField("vendor_id", req.VendorID); err != nil {
		return err
	}
	if err := requireField("title", req.Title); err != nil {
		return err
	}
	if req.StartDate.IsZero() || req.EndDate.IsZero() {
		return errors.InvalidInput("start_date", "start and end dates are required")
	}
	req.StartDate = calendarDate(req.StartDate)
	req.EndDate = calendarDate(req.EndDate)
	if !req.StartDate.Before(req.EndDate) {
		return errors.InvalidInput("end_date", "end date must be after start date")
	}
	if req.Value.IsNegative() {
		return errors.InvalidInput("value", "value cannot be negative")
	}
	if req.Value.GreaterThan(MaxAmount) {
		return errors.InvalidInput("value", "value must not exceed "+MaxAmount.String())
	}
	return nil
}

// CreateContract creates a draft contract with a generated number.
func (s *ContractService) CreateContract(ctx context.Context, req *ContractRequest) (*repository.Contract, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	year := s.now().Year()
	c := &repository.Contract{
		ID:              newID(),
		VendorID:        req.VendorID,
		Title:           strings.TrimSpace(req.Title),
		Description:     req.Description,
		StartDate:       req.StartDate,
		EndDate:         req.EndDate,
		Value:           req.Value,
		Status:          repository.ContractDraft,
		TermsConditions: req.TermsConditions,
		RenewalTerms:    req.RenewalTerms,
		CreatedBy:       req.ActorID,
	}

	err := s.store.InTransaction(ctx, func(tx repository.Tx) error {
		seq, err := tx.NextSequence(ctx, repository.PrefixContract, year)
		if err != nil {
			return err
		}
		c.ContractNumber = formatNumber(repository.PrefixContract, year, seq)
		if err := tx.InsertContract(ctx, c); err != nil {
			return err
		}
		return audit(ctx, tx, repository.EventContractCreation, repository.EntityContract, c.ID, req.ActorID,
			fmt.Sprintf("Contract %s created: %s", c.ContractNumber, c.Title))
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("contract_id", c.ID).
		Str("contract_number", c.ContractNumber).
		Str("vendor_id", c.VendorID).
		Str("value", c.Value.StringFixed(2)).
		Msg("Contract created")

	s.notifyVendor(ctx, TemplateContractCreated, c, req.ActorID, nil)
	return c, nil
}

// UpdateContract edits a contract while it is still a draft.
func (s *ContractService) UpdateContract(ctx context.Context, id string, req *ContractRequest) (*repository.Contract, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	c, err := s.transition(ctx, id, req.ActorID, repository.EventContractUpdate, "update",
		[]string{repository.ContractDraft},
		func(c *repository.Contract) error {
			c.VendorID = req.VendorID
			c.Title = strings.TrimSpace(req.Title)
			c.Description = req.Description
			c.StartDate = req.StartDate
			c.EndDate = req.EndDate
			c.Value = req.Value
			c.TermsConditions = req.TermsConditions
			c.RenewalTerms = req.RenewalTerms
			return nil
		})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("contract_id", c.ID).
		Str("contract_number", c.ContractNumber).
		Msg("Contract updated")

	return c, nil
}

// ApproveContract activates a draft contract. Comments are required.
func (s *ContractService) ApproveContract(ctx context.Context, id, approverID, comments string) (*repository.Contract, error) {
	if err := requireField("approved_by", approverID); err != nil {
		return nil, err
	}
	if err := requireField("comments", comments); err != nil {
		return nil, err
	}

	c, err := s.transition(ctx, id, approverID, repository.EventContractApproval, "approve",
		[]string{repository.ContractDraft},
		func(c *repository.Contract) error {
			now := s.now()
			c.Status = repository.ContractActive
			c.ApprovedBy = &approverID
			c.ApprovedAt = &now
			c.ApprovalComments = &comments
			return nil
		})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("contract_id", c.ID).
		Str("contract_number", c.ContractNumber).
		Str("approved_by", approverID).
		Msg("Contract approved")

	s.notifyVendor(ctx, TemplateContractApproved, c, approverID, &comments)
	return c, nil
}

// RejectContract rejects a draft contract.
func (s *ContractService) RejectContract(ctx context.Context, id, actorID string, comments *string) (*repository.Contract, error) {
	if err := requireField("rejected_by", actorID); err != nil {
		return nil, err
	}

	c, err := s.transition(ctx, id, actorID, repository.EventContractRejection, "reject",
		[]string{repository.ContractDraft},
		func(c *repository.Contract) error {
			now := s.now()
			c.Status = repository.ContractRejected
			c.RejectedBy = &actorID
			c.RejectedAt = &now
			c.RejectionComments = comments
			return nil
		})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("contract_id", c.ID).
		Str("contract_number", c.ContractNumber).
		Str("rejected_by", actorID).
		Msg("Contract rejected")

	s.notifyVendor(ctx, TemplateContractRejected, c, actorID, comments)
	return c, nil
}

// TerminateContract ends an in-force contract early.
func (s *ContractService) TerminateContract(ctx context.Context, id, actorID, reason string) (*repository.Contract, error) {
	if err := requireField("reason", reason); err != nil {
		return nil, err
	}

	c, err := s.transition(ctx, id, actorID, repository.EventContractTermination, "terminate",
		[]string{repository.ContractActive, repository.ContractRenewed},
		func(c *repository.Contract) error {
			now := s.now()
			c.Status = repository.ContractTerminated
			c.TerminatedBy = &actorID
			c.TerminatedAt = &now
			c.TerminationReason = &reason
			return nil
		})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("contract_id", c.ID).
		Str("contract_number", c.ContractNumber).
		Str("terminated_by", actorID).
		Msg("Contract terminated")

	s.notifyVendor(ctx, TemplateContractTerminated, c, actorID, &reason)
	return c, nil
}

// RenewContract renews an in-force contract, optionally extending its end date.
func (s *ContractService) RenewContract(ctx context.Context, req *RenewRequest) (*repository.Contract, error) {
	if err := requireField("renewal_terms", req.RenewalTerms); err != nil {
		return nil, err
	}

	c, err := s.transition(ctx, req.ID, req.ActorID, repository.EventContractRenewal, "renew",
		[]string{repository.ContractActive, repository.ContractRenewed},
		func(c *repository.Contract) error {
			if req.NewEndDate != nil {
				end := calendarDate(*req.NewEndDate)
				if !end.After(calendarDate(c.EndDate)) {
					return errors.InvalidInput("end_date", "new end date must be after the current end date")
				}
				c.EndDate = end
			}
			now := s.now()
			terms := req.RenewalTerms
			c.Status = repository.ContractRenewed
			c.RenewalTerms = &terms
			c.RenewedBy = &req.ActorID
			c.RenewedAt = &now
			return nil
		})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("contract_id", c.ID).
		Str("contract_number", c.ContractNumber).
		Time("end_date", c.EndDate).
		Msg("Contract renewed")

	s.notifyVendor(ctx, TemplateContractRenewed, c, req.ActorID, nil)
	return c, nil
}

// DeleteContract deletes a draft or rejected contract.
func (s *ContractService) DeleteContract(ctx context.Context, id, actorID string) error {
	var c *repository.Contract
	err := s.store.InTransaction(ctx, func(tx repository.Tx) error {
		var err error
		c, err = tx.LockContract(ctx, id)
		if err != nil {
			return err
		}
		if c.Status != repository.ContractDraft && c.Status != repository.ContractRejected {
			return errors.Conflict(fmt.Sprintf("cannot delete contract with status '%s'", c.Status))
		}
		if err := tx.DeleteContract(ctx, c.ID); err != nil {
			return err
		}
		return audit(ctx, tx, repository.EventContractDeletion, repository.EntityContract, c.ID, actorID,
			fmt.Sprintf("Contract %s deleted", c.ContractNumber))
	})
	if err != nil {
		return err
	}

	s.log.Info().
		Str("contract_id", c.ID).
		Str("contract_number", c.ContractNumber).
		Msg("Contract deleted")

	return nil
}

// ExpireDue moves every in-force contract whose end date has passed to
// expired and returns the expired contracts.
func (s *ContractService) ExpireDue(ctx context.Context) ([]*repository.Contract, error) {
	asOf := s.now()

	var expired []*repository.Contract
	err := s.store.InTransaction(ctx, func(tx repository.Tx) error {
		due, err := tx.LockContractsDue(ctx, asOf)
		if err != nil {
			return err
		}
		for _, c := range due {
			c.Status = repository.ContractExpired
			if err := tx.UpdateContract(ctx, c); err != nil {
				return err
			}
			if err := audit(ctx, tx, repository.EventContractExpiry, repository.EntityContract, c.ID, SystemActor,
				fmt.Sprintf("Contract %s expired on %s", c.ContractNumber, c.EndDate.Format("2006-01-02"))); err != nil {
				return err
			}
		}
		expired = due
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(expired) > 0 {
		s.log.Info().
			Int("count", len(expired)).
			Time("as_of", asOf).
			Msg("Contracts expired")
	}
	for _, c := range expired {
		s.notifyVendor(ctx, TemplateContractExpired, c, SystemActor, nil)
	}
	return expired, nil
}

// GetContract retrieves a contract by ID
func (s *ContractService) GetContract(ctx context.Context, id string) (*repository.Contract, error) {
	return s.store.GetContract(ctx, id)
}

// ListExpiring lists in-force contracts ending within the given number of days.
func (s *ContractService) ListExpiring(ctx context.Context, withinDays int) ([]*repository.Contract, error) {
	if withinDays < 0 || withinDays > 3650 {
		return nil, errors.InvalidInput("days", "must be between 0 and 3650")
	}
	now := s.now()
	return s.store.ListExpiringContracts(ctx, now, now.AddDate(0, 0, withinDays))
}

func (s *ContractService) transition(
	ctx context.Context,
	id, actorID, eventType, verb string,
	from []string,
	mutate func(c *repository.Contract) error,
) (*repository.Contract, error) {
	var c *repository.Contract
	err := s.store.InTransaction(ctx, func(tx repository.Tx) error {
		var err error
		c, err = tx.LockContract(ctx, id)
		if err != nil {
			return err
		}
		allowed := false
		for _, st := range from {
			if c.Status == st {
				allowed = true
				break
			}
		}
		if !allowed {
			return errors.Conflict(fmt.Sprintf("cannot %s contract with status '%s'", verb, c.Status))
		}
		if err := mutate(c); err != nil {
			return err
		}
		if err := tx.UpdateContract(ctx, c); err != nil {
			return err
		}
		return audit(ctx, tx, eventType, repository.EntityContract, c.ID, actorID,
			fmt.Sprintf("Contract %s %s", c.ContractNumber, c.Status))
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *ContractService) notifyVendor(ctx context.Context, template string, c *repository.Contract, actorID string, comments *string) {
	payload := map[string]any{
		"contract_number": c.ContractNumber,
		"title":           c.Title,
		"status":          c.Status,
		"end_date":        c.EndDate.Format("2006-01-02"),
	}
	if comments != nil {
		payload["comments"] = *comments
	}
	notify(ctx, s.notifier, s.log, Notification{
		Template:   template,
		Recipient:  c.VendorID,
		EntityType: repository.EntityContract,
		EntityID:   c.ID,
		ActorID:    actorID,
		Payload:    payload,
	})
}

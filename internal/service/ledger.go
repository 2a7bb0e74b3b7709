package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-ap-budgets/internal/platform/errors"
	"github.com/pesio-ai/be-ap-budgets/internal/repository"
)

// SystemActor is recorded as the actor of scheduled operations.
const SystemActor = "system"

func newID() string {
	return uuid.NewString()
}

// MaxAmount is the largest value a NUMERIC(15,2) money column holds.
var MaxAmount = decimal.RequireFromString("9999999999999.99")

// validateAmount requires a positive amount with at most two decimal places
// that fits a money column.
func validateAmount(field string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return errors.InvalidInput(field, "amount must be positive")
	}
	if amount.GreaterThan(MaxAmount) {
		return errors.InvalidInput(field, "amount must not exceed "+MaxAmount.String())
	}
	if !amount.Round(2).Equal(amount) {
		return errors.InvalidInput(field, "amount must have at most 2 decimal places")
	}
	return nil
}

func requireField(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return errors.InvalidInput(field, "is required")
	}
	return nil
}

// debit commits amount against e. Closed envelopes accept no new commitments.
func debit(e *repository.Envelope, amount decimal.Decimal) error {
	if e.Status == repository.EnvelopeClosed {
		return errors.Conflict(fmt.Sprintf("budget for department %s fiscal year %d is closed", e.DepartmentID, e.FiscalYear))
	}
	if e.Remaining.LessThan(amount) {
		return errors.InsufficientFunds(fmt.Sprintf(
			"insufficient budget for department %s: requested %s, remaining %s",
			e.DepartmentID, amount.StringFixed(2), e.Remaining.StringFixed(2)))
	}
	e.Allocated = e.Allocated.Add(amount)
	e.Remaining = e.Remaining.Sub(amount)
	refreshStatus(e)
	return nil
}

// credit releases a previous commitment of amount back to e.
func credit(e *repository.Envelope, amount decimal.Decimal) error {
	if e.Allocated.LessThan(amount) {
		return errors.New(errors.ErrCodeInternal, fmt.Sprintf(
			"budget %s: release of %s exceeds allocated %s", e.ID, amount.StringFixed(2), e.Allocated.StringFixed(2)))
	}
	e.Allocated = e.Allocated.Sub(amount)
	e.Remaining = e.Remaining.Add(amount)
	refreshStatus(e)
	return nil
}

func refreshStatus(e *repository.Envelope) {
	if e.Status == repository.EnvelopeClosed {
		return
	}
	if e.Remaining.IsZero() {
		e.Status = repository.EnvelopeExhausted
	} else {
		e.Status = repository.EnvelopeActive
	}
}

// audit appends an audit row in tx. Its error must abort the transaction.
func audit(ctx context.Context, tx repository.Tx, eventType, entityType, entityID, actorID, description string) error {
	return tx.AppendAudit(ctx, &repository.AuditEntry{
		ID:          newID(),
		EventType:   eventType,
		EntityType:  entityType,
		EntityID:    entityID,
		Description: description,
		ActorID:     actorID,
	})
}

// lockEnvelopesOrdered locks the envelopes of two departments in ascending
// department id order and returns them in argument order.
func lockEnvelopesOrdered(ctx context.Context, tx repository.Tx, deptA, deptB string, fiscalYear int) (*repository.Envelope, *repository.Envelope, error) {
	first, second := deptA, deptB
	if second < first {
		first, second = second, first
	}
	e1, err := tx.LockEnvelope(ctx, first, fiscalYear)
	if err != nil {
		return nil, nil, err
	}
	e2, err := tx.LockEnvelope(ctx, second, fiscalYear)
	if err != nil {
		return nil, nil, err
	}
	if first == deptA {
		return e1, e2, nil
	}
	return e2, e1, nil
}

// DateLayout is the wire and storage format of calendar dates.
const DateLayout = "2006-01-02"

// calendarDate drops the clock part of t, matching a DATE column.
func calendarDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func formatNumber(prefix string, year int, seq int64) string {
	return fmt.Sprintf("%s-%d-%05d", prefix, year, seq)
}

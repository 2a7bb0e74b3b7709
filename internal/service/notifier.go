package service

import (
	"context"
	"fmt"
	"time"

	"github.com/pesio-ai/be-ap-budgets/internal/platform/logger"
)

// Notification templates.
const (
	TemplateBudgetCreated      = "budget_created"
	TemplateBudgetUpdated      = "budget_updated"
	TemplateBudgetClosed       = "budget_closed"
	TemplateBudgetAllocated    = "budget_allocated"
	TemplateBudgetTransferred  = "budget_transferred"
	TemplatePOCreated          = "po_created"
	TemplatePOSubmitted        = "po_submitted"
	TemplatePOApproved         = "po_approved"
	TemplatePORejected         = "po_rejected"
	TemplatePOCompleted        = "po_completed"
	TemplateContractCreated    = "contract_created"
	TemplateContractApproved   = "contract_approved"
	TemplateContractRejected   = "contract_rejected"
	TemplateContractTerminated = "contract_terminated"
	TemplateContractRenewed    = "contract_renewed"
	TemplateContractExpired    = "contract_expired"
)

// Notification is a best-effort message sent after a transaction commits.
// Recipient is a department, vendor or user reference; resolving it to an
// address belongs to the notifications service.
type Notification struct {
	Template   string
	Recipient  string
	EntityType string
	EntityID   string
	ActorID    string
	Payload    map[string]any
}

// Notifier delivers notifications. Implementations must not block for long;
// errors are logged by the caller and never retried.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// NopNotifier drops every notification.
type NopNotifier struct{}

func (NopNotifier) Send(context.Context, Notification) error { return nil }

const notifyTimeout = 5 * time.Second

// notify sends n to the notifier, swallowing any failure. It is only called
// once the owning transaction has committed.
func notify(ctx context.Context, notifier Notifier, log *logger.Logger, n Notification) {
	if notifier == nil {
		return
	}

	// Detached from request cancellation, bounded by notifyTimeout.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			log.Warn().
				Str("template", n.Template).
				Str("entity_id", n.EntityID).
				Str("panic", fmt.Sprint(r)).
				Msg("notification: notifier panicked (non-fatal)")
		}
	}()

	if err := notifier.Send(ctx, n); err != nil {
		log.Warn().Err(err).
			Str("template", n.Template).
			Str("recipient", n.Recipient).
			Str("entity_id", n.EntityID).
			Msg("notification: failed to send (non-fatal)")
	}
}

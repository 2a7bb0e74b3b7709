package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-ap-budgets/internal/platform/errors"
	"github.com/pesio-ai/be-ap-budgets/internal/platform/logger"
	"github.com/pesio-ai/be-ap-budgets/internal/repository"
	"github.com/pesio-ai/be-ap-budgets/internal/repository/memory"
)

var fixedNow = time.Date(2026, time.March, 15, 10, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func (r *recordingNotifier) Send(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingNotifier) templates() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sent))
	for _, n := range r.sent {
		out = append(out, n.Template)
	}
	return out
}

type failingNotifier struct{}

func (failingNotifier) Send(context.Context, Notification) error {
	return errors.New(errors.ErrCodeInternal, "smtp unavailable")
}

type panickingNotifier struct{}

func (panickingNotifier) Send(context.Context, Notification) error {
	panic("notifier exploded")
}

// failingAuditStore fails every audit append, as if the audit table were unavailable.
type failingAuditStore struct {
	*memory.Store
}

func (s failingAuditStore) InTransaction(ctx context.Context, fn func(tx repository.Tx) error) error {
	return s.Store.InTransaction(ctx, func(tx repository.Tx) error {
		return fn(failingAuditTx{tx})
	})
}

type failingAuditTx struct {
	repository.Tx
}

func (failingAuditTx) AppendAudit(context.Context, *repository.AuditEntry) error {
	return errors.New(errors.ErrCodeTransactionFailure, "audit log unavailable")
}

type fixture struct {
	store     repository.Store
	notifier  *recordingNotifier
	budgets   *BudgetService
	orders    *PurchaseOrderService
	contracts *ContractService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, memory.New(), nil)
}

// newFixtureWith builds the services on store and reads results back
// through reads. A nil store means reads.
func newFixtureWith(t *testing.T, reads, store repository.Store) *fixture {
	t.Helper()
	if store == nil {
		store = reads
	}
	n := &recordingNotifier{}
	log := logger.Nop()
	clock := func() time.Time { return fixedNow }

	f := &fixture{
		store:     reads,
		notifier:  n,
		budgets:   NewBudgetService(store, n, log),
		orders:    NewPurchaseOrderService(store, n, log),
		contracts: NewContractService(store, n, log),
	}
	f.budgets.now = clock
	f.orders.now = clock
	f.contracts.now = clock
	return f
}

func (f *fixture) envelope(t *testing.T, dept, total string) *repository.Envelope {
	t.Helper()
	e, err := f.budgets.CreateEnvelope(context.Background(), &CreateEnvelopeRequest{
		DepartmentID: dept,
		FiscalYear:   fixedNow.Year(),
		TotalAmount:  dec(total),
		ActorID:      "admin-1",
	})
	if err != nil {
		t.Fatalf("create envelope %s: %v", dept, err)
	}
	return e
}

func (f *fixture) reload(t *testing.T, dept string) *repository.Envelope {
	t.Helper()
	e, err := f.store.GetEnvelope(context.Background(), dept, fixedNow.Year())
	if err != nil {
		t.Fatalf("get envelope %s: %v", dept, err)
	}
	assertBalanced(t, e)
	return e
}

func assertBalanced(t *testing.T, e *repository.Envelope) {
	t.Helper()
	if !e.Remaining.Equal(e.Total.Sub(e.Allocated)) {
		t.Errorf("envelope %s out of balance: total=%s allocated=%s remaining=%s",
			e.DepartmentID, e.Total, e.Allocated, e.Remaining)
	}
	if e.Remaining.IsNegative() {
		t.Errorf("envelope %s has negative remaining %s", e.DepartmentID, e.Remaining)
	}
}

func assertRemaining(t *testing.T, e *repository.Envelope, want string) {
	t.Helper()
	if !e.Remaining.Equal(dec(want)) {
		t.Errorf("expected remaining %s for %s, got %s", want, e.DepartmentID, e.Remaining)
	}
}

func assertCode(t *testing.T, err error, want errors.Code) {
	t.Helper()
	if got := errors.CodeOf(err); got != want {
		t.Errorf("expected %s, got %s (%v)", want, got, err)
	}
}

func auditEvents(t *testing.T, store repository.Reader, entityType, entityID string) []string {
	t.Helper()
	entries, err := store.ListAuditEntries(context.Background(), entityType, entityID)
	if err != nil {
		t.Fatal(err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.EventType)
	}
	return out
}

func singleItem(amount string) []repository.LineItem {
	return []repository.LineItem{{Description: "Services", Quantity: decimal.NewFromInt(1), UnitPrice: dec(amount)}}
}

func poRequest(dept, amount string) *PurchaseOrderRequest {
	return &PurchaseOrderRequest{
		VendorID:     "vendor-1",
		DepartmentID: dept,
		Items:        singleItem(amount),
		TotalAmount:  dec(amount),
		ActorID:      "staff-1",
	}
}

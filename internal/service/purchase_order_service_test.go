package service

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-ap-budgets/internal/platform/errors"
	"github.com/pesio-ai/be-ap-budgets/internal/repository"
)

func TestPurchaseOrderScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.envelope(t, "eng", "10000")

	a, err := f.orders.CreatePurchaseOrder(ctx, poRequest("eng", "4000"))
	if err != nil {
		t.Fatal(err)
	}
	assertRemaining(t, f.reload(t, "eng"), "6000")

	_, err = f.orders.CreatePurchaseOrder(ctx, poRequest("eng", "7000"))
	assertCode(t, err, errors.ErrCodeInsufficientFunds)
	assertRemaining(t, f.reload(t, "eng"), "6000")

	if err := f.orders.DeletePurchaseOrder(ctx, a.ID, "staff-1"); err != nil {
		t.Fatal(err)
	}
	e := f.reload(t, "eng")
	assertRemaining(t, e, "10000")
	if !e.Allocated.IsZero() {
		t.Errorf("expected allocated back to zero, got %s", e.Allocated)
	}

	events := auditEvents(t, f.store, repository.EntityPurchaseOrder, a.ID)
	if len(events) != 2 || events[0] != repository.EventPOCreation || events[1] != repository.EventPODeletion {
		t.Errorf("expected PO_CREATION then PO_DELETION, got %v", events)
	}
}

func TestCreatePurchaseOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.envelope(t, "eng", "1000")

	delivery := time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)
	addr := "1 Main St"
	req := &PurchaseOrderRequest{
		VendorID:     "vendor-1",
		DepartmentID: "eng",
		Items: []repository.LineItem{
			{Description: "Laptop", Quantity: dec("2"), UnitPrice: dec("199.99")},
			{Description: "Cable", Quantity: dec("3"), UnitPrice: dec("4.34")},
		},
		TotalAmount:     dec("413.00"),
		DeliveryDate:    &delivery,
		DeliveryAddress: &addr,
		ActorID:         "staff-1",
	}
	po, err := f.orders.CreatePurchaseOrder(ctx, req)
	if err != nil {
		t.Fatal(err)
	}

	if po.PONumber != "PO-2026-00001" {
		t.Errorf("expected PO-2026-00001, got %s", po.PONumber)
	}
	if po.Status != repository.POStatusDraft || po.FiscalYear != 2026 {
		t.Errorf("unexpected po %+v", po)
	}
	assertRemaining(t, f.reload(t, "eng"), "587.00")

	got, err := f.orders.GetPurchaseOrder(ctx, po.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Items) != 2 || got.DeliveryAddress == nil || *got.DeliveryAddress != addr {
		t.Errorf("unexpected stored po %+v", got)
	}

	sent := f.notifier.sent[len(f.notifier.sent)-1]
	if sent.Template != TemplatePOCreated || sent.Recipient != "vendor-1" {
		t.Errorf("expected vendor notification, got %+v", sent)
	}
}

func TestPurchaseOrderValidation(t *testing.T) {
	f := newFixture(t)
	f.envelope(t, "eng", "1000")

	item := func(desc, qty, price string) repository.LineItem {
		return repository.LineItem{Description: desc, Quantity: dec(qty), UnitPrice: dec(price)}
	}
	tests := []struct {
		name  string
		items []repository.LineItem
		total string
		field string
	}{
		{"no items", nil, "10", "items"},
		{"zero total", []repository.LineItem{item("a", "1", "0")}, "0", "total_amount"},
		{"total mismatch", []repository.LineItem{item("a", "2", "5")}, "11", "total_amount"},
		{"zero quantity", []repository.LineItem{item("a", "0", "5")}, "5", "items[0].quantity"},
		{"negative price", []repository.LineItem{item("a", "1", "10"), item("b", "1", "-1")}, "9", "items[1].unit_price"},
		{"missing description", []repository.LineItem{item(" ", "1", "5")}, "5", "items[0].description"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := poRequest("eng", "1")
			req.Items = tt.items
			req.TotalAmount = dec(tt.total)
			_, err := f.orders.CreatePurchaseOrder(context.Background(), req)
			assertCode(t, err, errors.ErrCodeInvalidInput)
			var typed *errors.Error
			if errors.As(err, &typed) && typed.Field != tt.field {
				t.Errorf("expected field %s, got %s", tt.field, typed.Field)
			}
		})
	}
	assertRemaining(t, f.reload(t, "eng"), "1000")
}

func TestConcurrentPurchaseOrderNumbersAreDistinct(t *testing.T) {
	f := newFixture(t)
	f.envelope(t, "eng", "100000")

	const k = 25
	var wg sync.WaitGroup
	numbers := make(chan string, k)
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			po, err := f.orders.CreatePurchaseOrder(context.Background(), poRequest("eng", "10"))
			if err != nil {
				t.Errorf("create: %v", err)
				return
			}
			numbers <- po.PONumber
		}()
	}
	wg.Wait()
	close(numbers)

	format := regexp.MustCompile(`^PO-2026-\d{5}$`)
	seen := map[string]bool{}
	for n := range numbers {
		if !format.MatchString(n) {
			t.Errorf("bad number format %q", n)
		}
		if seen[n] {
			t.Errorf("duplicate number %s", n)
		}
		seen[n] = true
	}
	if len(seen) != k {
		t.Errorf("expected %d distinct numbers, got %d", k, len(seen))
	}
	assertRemaining(t, f.reload(t, "eng"), "99750")
}

func TestUpdatePurchaseOrderSameDepartment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.envelope(t, "eng", "1000")
	po, err := f.orders.CreatePurchaseOrder(ctx, poRequest("eng", "400"))
	if err != nil {
		t.Fatal(err)
	}

	// Netting the existing claim lets the order grow to the full budget.
	if _, err := f.orders.UpdatePurchaseOrder(ctx, po.ID, poRequest("eng", "1000")); err != nil {
		t.Fatal(err)
	}
	assertRemaining(t, f.reload(t, "eng"), "0")

	_, err = f.orders.UpdatePurchaseOrder(ctx, po.ID, poRequest("eng", "1000.01"))
	assertCode(t, err, errors.ErrCodeInsufficientFunds)
	assertRemaining(t, f.reload(t, "eng"), "0")

	updated, err := f.orders.UpdatePurchaseOrder(ctx, po.ID, poRequest("eng", "250"))
	if err != nil {
		t.Fatal(err)
	}
	if !updated.TotalAmount.Equal(dec("250")) {
		t.Errorf("expected total 250, got %s", updated.TotalAmount)
	}
	assertRemaining(t, f.reload(t, "eng"), "750")
}

func TestUpdatePurchaseOrderMovesDepartment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.envelope(t, "eng", "1000")
	f.envelope(t, "ops", "300")
	po, err := f.orders.CreatePurchaseOrder(ctx, poRequest("eng", "400"))
	if err != nil {
		t.Fatal(err)
	}

	_, err = f.orders.UpdatePurchaseOrder(ctx, po.ID, poRequest("ops", "400"))
	assertCode(t, err, errors.ErrCodeInsufficientFunds)
	assertRemaining(t, f.reload(t, "eng"), "600")
	assertRemaining(t, f.reload(t, "ops"), "300")

	moved, err := f.orders.UpdatePurchaseOrder(ctx, po.ID, poRequest("ops", "300"))
	if err != nil {
		t.Fatal(err)
	}
	if moved.DepartmentID != "ops" {
		t.Errorf("expected department ops, got %s", moved.DepartmentID)
	}
	assertRemaining(t, f.reload(t, "eng"), "1000")
	assertRemaining(t, f.reload(t, "ops"), "0")

	_, err = f.orders.UpdatePurchaseOrder(ctx, po.ID, poRequest("hr", "10"))
	assertCode(t, err, errors.ErrCodeNotFound)
}

func TestPurchaseOrderLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.envelope(t, "eng", "1000")
	po, err := f.orders.CreatePurchaseOrder(ctx, poRequest("eng", "400"))
	if err != nil {
		t.Fatal(err)
	}

	_, err = f.orders.CompletePurchaseOrder(ctx, po.ID, "mgr-1")
	assertCode(t, err, errors.ErrCodeConflict)

	if _, err := f.orders.SubmitPurchaseOrder(ctx, po.ID, "staff-1"); err != nil {
		t.Fatal(err)
	}
	_, err = f.orders.SubmitPurchaseOrder(ctx, po.ID, "staff-1")
	assertCode(t, err, errors.ErrCodeConflict)

	comments := "within policy"
	approved, err := f.orders.ApprovePurchaseOrder(ctx, &ReviewRequest{ID: po.ID, ReviewerID: "mgr-1", Comments: &comments})
	if err != nil {
		t.Fatal(err)
	}
	if approved.Status != repository.POStatusApproved || approved.ApprovedBy == nil || *approved.ApprovedBy != "mgr-1" {
		t.Errorf("unexpected approved po %+v", approved)
	}
	if !approved.ApprovedAt.Equal(fixedNow) {
		t.Errorf("expected approval time from clock, got %v", approved.ApprovedAt)
	}
	assertRemaining(t, f.reload(t, "eng"), "600")

	_, err = f.orders.UpdatePurchaseOrder(ctx, po.ID, poRequest("eng", "100"))
	assertCode(t, err, errors.ErrCodeConflict)

	_, err = f.orders.RejectPurchaseOrder(ctx, &ReviewRequest{ID: po.ID, ReviewerID: "mgr-1"})
	assertCode(t, err, errors.ErrCodeConflict)

	if _, err := f.orders.CompletePurchaseOrder(ctx, po.ID, "mgr-1"); err != nil {
		t.Fatal(err)
	}
	assertCode(t, f.orders.DeletePurchaseOrder(ctx, po.ID, "admin-1"), errors.ErrCodeConflict)
	assertRemaining(t, f.reload(t, "eng"), "600")

	want := []string{
		repository.EventPOCreation,
		repository.EventPOSubmission,
		repository.EventPOApproval,
		repository.EventPOCompletion,
	}
	got := auditEvents(t, f.store, repository.EntityPurchaseOrder, po.ID)
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("audit[%d]: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestRejectRefundsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.envelope(t, "eng", "1000")
	po, err := f.orders.CreatePurchaseOrder(ctx, poRequest("eng", "400"))
	if err != nil {
		t.Fatal(err)
	}

	rejected, err := f.orders.RejectPurchaseOrder(ctx, &ReviewRequest{ID: po.ID, ReviewerID: "mgr-1"})
	if err != nil {
		t.Fatal(err)
	}
	if rejected.Status != repository.POStatusRejected {
		t.Errorf("expected rejected, got %s", rejected.Status)
	}
	assertRemaining(t, f.reload(t, "eng"), "1000")

	_, err = f.orders.ApprovePurchaseOrder(ctx, &ReviewRequest{ID: po.ID, ReviewerID: "mgr-1"})
	assertCode(t, err, errors.ErrCodeConflict)

	if err := f.orders.DeletePurchaseOrder(ctx, po.ID, "staff-1"); err != nil {
		t.Fatal(err)
	}
	e := f.reload(t, "eng")
	assertRemaining(t, e, "1000")
	if !e.Total.Equal(dec("1000")) {
		t.Errorf("expected total unchanged, got %s", e.Total)
	}

	u, err := f.store.GetUtilization(ctx, "eng", 2026)
	if err != nil {
		t.Fatal(err)
	}
	if u.PurchaseOrderCount != 0 {
		t.Errorf("expected no purchase orders, got %d", u.PurchaseOrderCount)
	}
}

func TestPurchaseOrderNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assertCode(t, f.orders.DeletePurchaseOrder(ctx, "missing", "staff-1"), errors.ErrCodeNotFound)
	_, err := f.orders.GetPurchaseOrder(ctx, "missing")
	assertCode(t, err, errors.ErrCodeNotFound)
	_, err = f.orders.SubmitPurchaseOrder(ctx, "missing", "staff-1")
	assertCode(t, err, errors.ErrCodeNotFound)
	_, err = f.orders.CreatePurchaseOrder(ctx, poRequest("eng", "10"))
	assertCode(t, err, errors.ErrCodeNotFound)
}

func TestPurchaseOrderContractReference(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.envelope(t, "eng", "1000")

	c, err := f.contracts.CreateContract(ctx, contractRequest("vendor-1"))
	if err != nil {
		t.Fatal(err)
	}

	req := poRequest("eng", "100")
	req.ContractID = &c.ID
	_, err = f.orders.CreatePurchaseOrder(ctx, req)
	assertCode(t, err, errors.ErrCodeInvalidInput)

	if _, err := f.contracts.ApproveContract(ctx, c.ID, "mgr-1", "ok"); err != nil {
		t.Fatal(err)
	}

	other := poRequest("eng", "100")
	other.VendorID = "vendor-2"
	other.ContractID = &c.ID
	_, err = f.orders.CreatePurchaseOrder(ctx, other)
	assertCode(t, err, errors.ErrCodeInvalidInput)

	po, err := f.orders.CreatePurchaseOrder(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if po.ContractID == nil || *po.ContractID != c.ID {
		t.Errorf("expected contract reference, got %v", po.ContractID)
	}

	missing := "missing"
	req.ContractID = &missing
	_, err = f.orders.CreatePurchaseOrder(ctx, req)
	assertCode(t, err, errors.ErrCodeNotFound)
	assertRemaining(t, f.reload(t, "eng"), "900")
}

func TestPurchaseOrderRollbackKeepsSequence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.envelope(t, "eng", "100")

	if _, err := f.orders.CreatePurchaseOrder(ctx, poRequest("eng", "101")); err == nil {
		t.Fatal("expected insufficient funds")
	}
	po, err := f.orders.CreatePurchaseOrder(ctx, poRequest("eng", "100"))
	if err != nil {
		t.Fatal(err)
	}
	if po.PONumber != "PO-2026-00001" {
		t.Errorf("expected first number after rollback, got %s", po.PONumber)
	}
	if e := f.reload(t, "eng"); e.Status != repository.EnvelopeExhausted {
		t.Errorf("expected exhausted, got %s", e.Status)
	}
	if !decimal.Zero.Equal(f.reload(t, "eng").Remaining) {
		t.Error("expected zero remaining")
	}
}

package service

import (
	"context"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-ap-budgets/internal/platform/database"
	"github.com/pesio-ai/be-ap-budgets/internal/platform/errors"
	"github.com/pesio-ai/be-ap-budgets/internal/platform/logger"
	"github.com/pesio-ai/be-ap-budgets/internal/repository"
)

// newPostgresFixture runs the services against PostgreSQL in a throwaway
// schema. It skips unless DATABASE_URL points at a server.
func newPostgresFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	log := logger.Nop()

	admin, err := database.New(ctx, database.Config{URL: dsn, MaxConns: 2}, log)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	schema := "ledger_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if _, err := admin.Exec(ctx, "CREATE SCHEMA "+schema); err != nil {
		admin.Close()
		t.Fatalf("create schema: %v", err)
	}
	t.Cleanup(func() {
		if _, err := admin.Exec(context.Background(), "DROP SCHEMA "+schema+" CASCADE"); err != nil {
			t.Logf("drop schema %s: %v", schema, err)
		}
		admin.Close()
	})

	db, err := database.New(ctx, database.Config{
		URL:         withSearchPath(dsn, schema),
		MaxConns:    10,
		TxTimeout:   10 * time.Second,
		LockTimeout: 5 * time.Second,
	}, log)
	if err != nil {
		t.Fatalf("connect to schema: %v", err)
	}
	t.Cleanup(db.Close)

	// Twice: the schema must be re-appliable on start-up.
	for i := 0; i < 2; i++ {
		if err := repository.Migrate(ctx, db); err != nil {
			t.Fatalf("migrate: %v", err)
		}
	}

	store := repository.NewPostgresStore(db)
	return newFixtureWith(t, store, store)
}

func withSearchPath(dsn, schema string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		u, err := url.Parse(dsn)
		if err == nil {
			q := u.Query()
			q.Set("search_path", schema)
			u.RawQuery = q.Encode()
			return u.String()
		}
	}
	return dsn + " search_path=" + schema
}

func TestPostgresPurchaseOrderScenario(t *testing.T) {
	f := newPostgresFixture(t)
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
	assertRemaining(t, f.reload(t, "eng"), "10000")

	events := auditEvents(t, f.store, repository.EntityPurchaseOrder, a.ID)
	if len(events) != 2 || events[0] != repository.EventPOCreation || events[1] != repository.EventPODeletion {
		t.Errorf("expected PO_CREATION then PO_DELETION, got %v", events)
	}
}

func TestPostgresConcurrentAllocations(t *testing.T) {
	f := newPostgresFixture(t)
	f.envelope(t, "eng", "1000")

	const n = 30
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := f.budgets.Allocate(context.Background(), &AllocateRequest{DepartmentID: "eng", Amount: dec("50"), ActorID: "fin-1"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	ok, short := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, errors.ErrCodeInsufficientFunds):
			short++
		default:
			t.Errorf("unexpected error %v", err)
		}
	}
	if ok != 20 || short != 10 {
		t.Errorf("expected 20 successes and 10 insufficient, got %d and %d", ok, short)
	}
	e := f.reload(t, "eng")
	assertRemaining(t, e, "0")
	if e.Status != repository.EnvelopeExhausted {
		t.Errorf("expected exhausted, got %s", e.Status)
	}

	allocations, err := f.store.ListAllocations(context.Background(), "eng", fixedNow.Year())
	if err != nil {
		t.Fatal(err)
	}
	if len(allocations) != 20 {
		t.Errorf("expected 20 allocation rows, got %d", len(allocations))
	}
}

func TestPostgresConcurrentOppositeTransfers(t *testing.T) {
	f := newPostgresFixture(t)
	f.envelope(t, "eng", "1000")
	f.envelope(t, "ops", "1000")

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		from, to := "eng", "ops"
		if i%2 == 1 {
			from, to = to, from
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.budgets.Transfer(context.Background(), &TransferRequest{
				FromDepartmentID: from,
				ToDepartmentID:   to,
				Amount:           dec("75"),
				Reason:           "rebalance",
				ActorID:          "admin-1",
			})
			// A deadlock would surface as TRANSACTION_FAILURE.
			if err != nil && !errors.Is(err, errors.ErrCodeInsufficientFunds) {
				t.Errorf("unexpected error %v", err)
			}
		}()
	}
	wg.Wait()

	sum := f.reload(t, "eng").Remaining.Add(f.reload(t, "ops").Remaining)
	if !sum.Equal(dec("2000")) {
		t.Errorf("expected combined remaining 2000, got %s", sum)
	}
}

func TestPostgresConcurrentPurchaseOrderNumbers(t *testing.T) {
	f := newPostgresFixture(t)
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

	seen := map[string]bool{}
	for n := range numbers {
		if seen[n] {
			t.Errorf("duplicate number %s", n)
		}
		seen[n] = true
	}
	if len(seen) != k {
		t.Errorf("expected %d distinct numbers, got %d", k, len(seen))
	}
	// Numbers are gapless: 1..k in some order.
	for i := 1; i <= k; i++ {
		if n := formatNumber(repository.PrefixPurchaseOrder, fixedNow.Year(), int64(i)); !seen[n] {
			t.Errorf("missing number %s", n)
		}
	}
	assertRemaining(t, f.reload(t, "eng"), "99750")
}

func TestPostgresConstraintTranslation(t *testing.T) {
	f := newPostgresFixture(t)
	ctx := context.Background()
	e := f.envelope(t, "eng", "1000")

	overdrawn := *e
	overdrawn.Allocated = dec("1001")
	overdrawn.Remaining = dec("-1")
	err := f.store.InTransaction(ctx, func(tx repository.Tx) error {
		return tx.UpdateEnvelope(ctx, &overdrawn)
	})
	assertCode(t, err, errors.ErrCodeInsufficientFunds)

	oversized := *e
	oversized.Total = dec("100000000000000")
	oversized.Remaining = oversized.Total
	err = f.store.InTransaction(ctx, func(tx repository.Tx) error {
		return tx.UpdateEnvelope(ctx, &oversized)
	})
	assertCode(t, err, errors.ErrCodeInvalidInput)
	if errors.IsRetryable(err) {
		t.Errorf("numeric overflow must not be retryable: %v", err)
	}

	_, err = f.budgets.CreateEnvelope(ctx, &CreateEnvelopeRequest{
		DepartmentID: "eng", FiscalYear: fixedNow.Year(), TotalAmount: dec("5"), ActorID: "admin-1",
	})
	assertCode(t, err, errors.ErrCodeConflict)

	assertRemaining(t, f.reload(t, "eng"), "1000")
}

func TestPostgresConcurrentExpirySweeps(t *testing.T) {
	f := newPostgresFixture(t)
	ctx := context.Background()

	req := contractRequest("vendor-1")
	req.EndDate = time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	c, err := f.contracts.CreateContract(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.contracts.ApproveContract(ctx, c.ID, "mgr-1", "ok"); err != nil {
		t.Fatal(err)
	}

	const sweeps = 4
	var wg sync.WaitGroup
	counts := make(chan int, sweeps)
	for i := 0; i < sweeps; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			expired, err := f.contracts.ExpireDue(context.Background())
			if err != nil {
				t.Errorf("sweep: %v", err)
				return
			}
			counts <- len(expired)
		}()
	}
	wg.Wait()
	close(counts)

	total := 0
	for n := range counts {
		total += n
	}
	if total != 1 {
		t.Errorf("expected the contract to expire exactly once, got %d", total)
	}

	got, err := f.store.GetContract(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != repository.ContractExpired || !got.EndDate.Equal(req.EndDate) {
		t.Errorf("unexpected contract %+v", got)
	}
}

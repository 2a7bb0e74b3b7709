// Package memory provides an in-memory repository.Store with the same
// transaction semantics as the PostgreSQL store: transactions are serialized
// and a failed transaction leaves no trace.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-ap-budgets/internal/platform/errors"
	"github.com/pesio-ai/be-ap-budgets/internal/repository"
)

type envelopeKey struct {
	departmentID string
	fiscalYear   int
}

type sequenceKey struct {
	prefix string
	year   int
}

type state struct {
	envelopes      map[string]repository.Envelope
	envelopeIndex  map[envelopeKey]string
	allocations    []repository.Allocation
	transfers      []repository.Transfer
	purchaseOrders map[string]repository.PurchaseOrder
	contracts      map[string]repository.Contract
	audit          []repository.AuditEntry
	sequences      map[sequenceKey]int64
}

func newState() state {
	return state{
		envelopes:      map[string]repository.Envelope{},
		envelopeIndex:  map[envelopeKey]string{},
		purchaseOrders: map[string]repository.PurchaseOrder{},
		contracts:      map[string]repository.Contract{},
		sequences:      map[sequenceKey]int64{},
	}
}

func (s state) clone() state {
	c := state{
		envelopes:      make(map[string]repository.Envelope, len(s.envelopes)),
		envelopeIndex:  make(map[envelopeKey]string, len(s.envelopeIndex)),
		allocations:    append([]repository.Allocation(nil), s.allocations...),
		transfers:      append([]repository.Transfer(nil), s.transfers...),
		purchaseOrders: make(map[string]repository.PurchaseOrder, len(s.purchaseOrders)),
		contracts:      make(map[string]repository.Contract, len(s.contracts)),
		audit:          append([]repository.AuditEntry(nil), s.audit...),
		sequences:      make(map[sequenceKey]int64, len(s.sequences)),
	}
	for k, v := range s.envelopes {
		c.envelopes[k] = v
	}
	for k, v := range s.envelopeIndex {
		c.envelopeIndex[k] = v
	}
	for k, v := range s.purchaseOrders {
		c.purchaseOrders[k] = clonePurchaseOrder(v)
	}
	for k, v := range s.contracts {
		c.contracts[k] = v
	}
	for k, v := range s.sequences {
		c.sequences[k] = v
	}
	return c
}

func clonePurchaseOrder(po repository.PurchaseOrder) repository.PurchaseOrder {
	po.Items = append([]repository.LineItem(nil), po.Items...)
	return po
}

// Store is an in-memory repository.Store.
type Store struct {
	mu    sync.Mutex
	state state
	now   func() time.Time
}

var _ repository.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{state: newState(), now: time.Now}
}

// InTransaction runs fn against a private copy of the state and publishes the
// copy only when fn succeeds.
func (s *Store) InTransaction(ctx context.Context, fn func(tx repository.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeTimeout, "transaction cancelled")
	}

	working := s.state.clone()
	if err := fn(&tx{st: &working, now: s.now}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeTimeout, "transaction cancelled before commit")
	}
	s.state = working
	return nil
}

type tx struct {
	st  *state
	now func() time.Time
}

var _ repository.Tx = (*tx)(nil)

// checkBalances mirrors the CHECK constraints on the budgets table.
func checkBalances(e *repository.Envelope) error {
	if e.Remaining.IsNegative() || e.Allocated.GreaterThan(e.Total) || !e.Remaining.Equal(e.Total.Sub(e.Allocated)) {
		return errors.InsufficientFunds("budget balance constraint violated")
	}
	return nil
}

func (t *tx) LockEnvelope(_ context.Context, departmentID string, fiscalYear int) (*repository.Envelope, error) {
	id, ok := t.st.envelopeIndex[envelopeKey{departmentID, fiscalYear}]
	if !ok {
		return nil, errors.NotFound("budget", fmt.Sprintf("%s/%d", departmentID, fiscalYear))
	}
	e := t.st.envelopes[id]
	return &e, nil
}

func (t *tx) LockEnvelopeByID(_ context.Context, id string) (*repository.Envelope, error) {
	e, ok := t.st.envelopes[id]
	if !ok {
		return nil, errors.NotFound("budget", id)
	}
	return &e, nil
}

func (t *tx) InsertEnvelope(_ context.Context, e *repository.Envelope) error {
	key := envelopeKey{e.DepartmentID, e.FiscalYear}
	if _, exists := t.st.envelopeIndex[key]; exists {
		return errors.Conflict(fmt.Sprintf("budget already exists for department %s and fiscal year %d", e.DepartmentID, e.FiscalYear))
	}
	if _, exists := t.st.envelopes[e.ID]; exists {
		return errors.Conflict("duplicate budget id")
	}
	if err := checkBalances(e); err != nil {
		return err
	}
	now := t.now()
	e.CreatedAt, e.UpdatedAt = now, now
	t.st.envelopes[e.ID] = *e
	t.st.envelopeIndex[key] = e.ID
	return nil
}

func (t *tx) UpdateEnvelope(_ context.Context, e *repository.Envelope) error {
	cur, ok := t.st.envelopes[e.ID]
	if !ok {
		return errors.NotFound("budget", e.ID)
	}
	if err := checkBalances(e); err != nil {
		return err
	}
	e.DepartmentID, e.FiscalYear, e.CreatedAt = cur.DepartmentID, cur.FiscalYear, cur.CreatedAt
	e.UpdatedAt = t.now()
	t.st.envelopes[e.ID] = *e
	return nil
}

func (t *tx) DeleteEnvelope(_ context.Context, id string) error {
	e, ok := t.st.envelopes[id]
	if !ok {
		return errors.NotFound("budget", id)
	}
	for _, po := range t.st.purchaseOrders {
		if po.DepartmentID == e.DepartmentID && po.FiscalYear == e.FiscalYear {
			return errors.InvalidInput("budget", "budget is referenced by purchase orders")
		}
	}
	delete(t.st.envelopes, id)
	delete(t.st.envelopeIndex, envelopeKey{e.DepartmentID, e.FiscalYear})

	kept := t.st.allocations[:0]
	for _, a := range t.st.allocations {
		if a.EnvelopeID != id {
			kept = append(kept, a)
		}
	}
	t.st.allocations = kept
	return nil
}

func (t *tx) CountPurchaseOrders(_ context.Context, departmentID string, fiscalYear int) (int, error) {
	n := 0
	for _, po := range t.st.purchaseOrders {
		if po.DepartmentID == departmentID && po.FiscalYear == fiscalYear {
			n++
		}
	}
	return n, nil
}

func (t *tx) InsertAllocation(_ context.Context, a *repository.Allocation) error {
	if _, ok := t.st.envelopes[a.EnvelopeID]; !ok {
		return errors.InvalidInput("budget_id", "referenced record does not exist")
	}
	a.CreatedAt = t.now()
	t.st.allocations = append(t.st.allocations, *a)
	return nil
}

func (t *tx) InsertTransfer(_ context.Context, tr *repository.Transfer) error {
	tr.CreatedAt = t.now()
	t.st.transfers = append(t.st.transfers, *tr)
	return nil
}

func (t *tx) NextSequence(_ context.Context, prefix string, year int) (int64, error) {
	key := sequenceKey{prefix, year}
	t.st.sequences[key]++
	return t.st.sequences[key], nil
}

func (t *tx) InsertPurchaseOrder(_ context.Context, po *repository.PurchaseOrder) error {
	if _, exists := t.st.purchaseOrders[po.ID]; exists {
		return errors.Conflict("duplicate purchase order id")
	}
	for _, other := range t.st.purchaseOrders {
		if other.PONumber == po.PONumber {
			return errors.Conflict("duplicate purchase order number " + po.PONumber)
		}
	}
	if _, ok := t.st.envelopeIndex[envelopeKey{po.DepartmentID, po.FiscalYear}]; !ok {
		return errors.InvalidInput("department_id", "referenced record does not exist")
	}
	now := t.now()
	po.CreatedAt, po.UpdatedAt = now, now
	t.st.purchaseOrders[po.ID] = clonePurchaseOrder(*po)
	return nil
}

func (t *tx) LockPurchaseOrder(_ context.Context, id string) (*repository.PurchaseOrder, error) {
	po, ok := t.st.purchaseOrders[id]
	if !ok {
		return nil, errors.NotFound("purchase order", id)
	}
	po = clonePurchaseOrder(po)
	return &po, nil
}

func (t *tx) UpdatePurchaseOrder(_ context.Context, po *repository.PurchaseOrder) error {
	cur, ok := t.st.purchaseOrders[po.ID]
	if !ok {
		return errors.NotFound("purchase order", po.ID)
	}
	if _, ok := t.st.envelopeIndex[envelopeKey{po.DepartmentID, po.FiscalYear}]; !ok {
		return errors.InvalidInput("department_id", "referenced record does not exist")
	}
	po.PONumber, po.CreatedBy, po.CreatedAt = cur.PONumber, cur.CreatedBy, cur.CreatedAt
	po.UpdatedAt = t.now()
	t.st.purchaseOrders[po.ID] = clonePurchaseOrder(*po)
	return nil
}

func (t *tx) DeletePurchaseOrder(_ context.Context, id string) error {
	if _, ok := t.st.purchaseOrders[id]; !ok {
		return errors.NotFound("purchase order", id)
	}
	delete(t.st.purchaseOrders, id)
	return nil
}

func (t *tx) InsertContract(_ context.Context, c *repository.Contract) error {
	if _, exists := t.st.contracts[c.ID]; exists {
		return errors.Conflict("duplicate contract id")
	}
	for _, other := range t.st.contracts {
		if other.ContractNumber == c.ContractNumber {
			return errors.Conflict("duplicate contract number " + c.ContractNumber)
		}
	}
	now := t.now()
	c.CreatedAt, c.UpdatedAt = now, now
	t.st.contracts[c.ID] = *c
	return nil
}

func (t *tx) LockContract(_ context.Context, id string) (*repository.Contract, error) {
	c, ok := t.st.contracts[id]
	if !ok {
		return nil, errors.NotFound("contract", id)
	}
	return &c, nil
}

func (t *tx) UpdateContract(_ context.Context, c *repository.Contract) error {
	cur, ok := t.st.contracts[c.ID]
	if !ok {
		return errors.NotFound("contract", c.ID)
	}
	c.ContractNumber, c.CreatedBy, c.CreatedAt = cur.ContractNumber, cur.CreatedBy, cur.CreatedAt
	c.UpdatedAt = t.now()
	t.st.contracts[c.ID] = *c
	return nil
}

func (t *tx) DeleteContract(_ context.Context, id string) error {
	if _, ok := t.st.contracts[id]; !ok {
		return errors.NotFound("contract", id)
	}
	for _, po := range t.st.purchaseOrders {
		if po.ContractID != nil && *po.ContractID == id {
			return errors.InvalidInput("contract", "contract is referenced by purchase orders")
		}
	}
	delete(t.st.contracts, id)
	return nil
}

func (t *tx) LockContractsDue(_ context.Context, asOf time.Time) ([]*repository.Contract, error) {
	out := make([]*repository.Contract, 0)
	for _, c := range t.st.contracts {
		if c.IsInForce() && !c.EndDate.After(asOf) {
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EndDate.Equal(out[j].EndDate) {
			return out[i].EndDate.Before(out[j].EndDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *tx) AppendAudit(_ context.Context, entry *repository.AuditEntry) error {
	entry.CreatedAt = t.now()
	t.st.audit = append(t.st.audit, *entry)
	return nil
}

// ── Reader ────────────────────────────────────────────────────────────────────

func (s *Store) GetEnvelope(_ context.Context, departmentID string, fiscalYear int) (*repository.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.state.envelopeIndex[envelopeKey{departmentID, fiscalYear}]
	if !ok {
		return nil, errors.NotFound("budget", fmt.Sprintf("%s/%d", departmentID, fiscalYear))
	}
	e := s.state.envelopes[id]
	return &e, nil
}

func (s *Store) GetEnvelopeByID(_ context.Context, id string) (*repository.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.state.envelopes[id]
	if !ok {
		return nil, errors.NotFound("budget", id)
	}
	return &e, nil
}

func (s *Store) utilization(e repository.Envelope) *repository.Utilization {
	u := &repository.Utilization{
		EnvelopeID:      e.ID,
		DepartmentID:    e.DepartmentID,
		FiscalYear:      e.FiscalYear,
		Total:           e.Total,
		Allocated:       e.Allocated,
		Remaining:       e.Remaining,
		Status:          e.Status,
		CommittedAmount: decimal.Zero,
		ApprovedAmount:  decimal.Zero,
		PendingAmount:   decimal.Zero,
		CompletedAmount: decimal.Zero,
	}
	for _, po := range s.state.purchaseOrders {
		if po.DepartmentID != e.DepartmentID || po.FiscalYear != e.FiscalYear {
			continue
		}
		u.PurchaseOrderCount++
		if po.HoldsClaim() {
			u.CommittedAmount = u.CommittedAmount.Add(po.TotalAmount)
		}
		switch po.Status {
		case repository.POStatusApproved:
			u.ApprovedAmount = u.ApprovedAmount.Add(po.TotalAmount)
		case repository.POStatusPending:
			u.PendingAmount = u.PendingAmount.Add(po.TotalAmount)
		case repository.POStatusCompleted:
			u.CompletedAmount = u.CompletedAmount.Add(po.TotalAmount)
		}
	}
	u.UtilizationPercent = repository.UtilizationPercent(e.Total, e.Remaining)
	return u
}

func (s *Store) GetUtilization(_ context.Context, departmentID string, fiscalYear int) (*repository.Utilization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.state.envelopeIndex[envelopeKey{departmentID, fiscalYear}]
	if !ok {
		return nil, errors.NotFound("budget", fmt.Sprintf("%s/%d", departmentID, fiscalYear))
	}
	return s.utilization(s.state.envelopes[id]), nil
}

func (s *Store) ListUtilization(_ context.Context, fiscalYear int) ([]*repository.Utilization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*repository.Utilization, 0)
	for _, e := range s.state.envelopes {
		if e.FiscalYear == fiscalYear {
			out = append(out, s.utilization(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DepartmentID < out[j].DepartmentID })
	return out, nil
}

func (s *Store) ListAllocations(_ context.Context, departmentID string, fiscalYear int) ([]*repository.Allocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*repository.Allocation, 0)
	for i := len(s.state.allocations) - 1; i >= 0; i-- {
		a := s.state.allocations[i]
		if a.DepartmentID == departmentID && a.FiscalYear == fiscalYear {
			out = append(out, &a)
		}
	}
	return out, nil
}

func (s *Store) ListTransfers(_ context.Context, departmentID string, fiscalYear int) ([]*repository.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*repository.Transfer, 0)
	for i := len(s.state.transfers) - 1; i >= 0; i-- {
		tr := s.state.transfers[i]
		if tr.FiscalYear == fiscalYear && (tr.FromDepartmentID == departmentID || tr.ToDepartmentID == departmentID) {
			out = append(out, &tr)
		}
	}
	return out, nil
}

func (s *Store) GetPurchaseOrder(_ context.Context, id string) (*repository.PurchaseOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	po, ok := s.state.purchaseOrders[id]
	if !ok {
		return nil, errors.NotFound("purchase order", id)
	}
	po = clonePurchaseOrder(po)
	return &po, nil
}

func (s *Store) GetContract(_ context.Context, id string) (*repository.Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.state.contracts[id]
	if !ok {
		return nil, errors.NotFound("contract", id)
	}
	return &c, nil
}

func (s *Store) ListExpiringContracts(_ context.Context, from, until time.Time) ([]*repository.Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*repository.Contract, 0)
	for _, c := range s.state.contracts {
		if c.IsInForce() && !c.EndDate.Before(from) && !c.EndDate.After(until) {
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EndDate.Equal(out[j].EndDate) {
			return out[i].EndDate.Before(out[j].EndDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) ListAuditEntries(_ context.Context, entityType, entityID string) ([]*repository.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*repository.AuditEntry, 0)
	for _, e := range s.state.audit {
		if e.EntityType == entityType && e.EntityID == entityID {
			out = append(out, &e)
		}
	}
	return out, nil
}

package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-ap-budgets/internal/platform/database"
	"github.com/pesio-ai/be-ap-budgets/internal/platform/errors"
)

const envelopeColumns = `
	id, department_id, fiscal_year, total_amount, allocated_amount, remaining_amount,
	status, notes, created_by, created_at, updated_at`

func scanEnvelope(sc rowScanner) (*Envelope, error) {
	e := &Envelope{}
	err := sc.Scan(
		&e.ID,
		&e.DepartmentID,
		&e.FiscalYear,
		&e.Total,
		&e.Allocated,
		&e.Remaining,
		&e.Status,
		&e.Notes,
		&e.CreatedBy,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return e, nil
}

func getEnvelope(ctx context.Context, q querier, query, label string, args ...any) (*Envelope, error) {
	e, err := scanEnvelope(q.QueryRow(ctx, query, args...))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("budget", label)
	}
	if err != nil {
		return nil, database.Translate(err, "failed to get budget")
	}
	return e, nil
}

// ── Tx ────────────────────────────────────────────────────────────────────────

// LockEnvelope reads and row-locks the envelope for a department and year.
func (t *pgTx) LockEnvelope(ctx context.Context, departmentID string, fiscalYear int) (*Envelope, error) {
	query := `SELECT` + envelopeColumns + `
		FROM budgets
		WHERE department_id = $1 AND fiscal_year = $2
		FOR UPDATE`
	return getEnvelope(ctx, t.q, query, fmt.Sprintf("%s/%d", departmentID, fiscalYear), departmentID, fiscalYear)
}

// LockEnvelopeByID reads and row-locks an envelope by id.
func (t *pgTx) LockEnvelopeByID(ctx context.Context, id string) (*Envelope, error) {
	query := `SELECT` + envelopeColumns + `
		FROM budgets
		WHERE id = $1
		FOR UPDATE`
	return getEnvelope(ctx, t.q, query, id, id)
}

// InsertEnvelope inserts a new envelope. The (department_id, fiscal_year)
// unique index turns a concurrent duplicate into a CONFLICT.
func (t *pgTx) InsertEnvelope(ctx context.Context, e *Envelope) error {
	query := `
		INSERT INTO budgets (id, department_id, fiscal_year, total_amount, allocated_amount,
		                     remaining_amount, status, notes, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`
	err := t.q.QueryRow(ctx, query,
		e.ID,
		e.DepartmentID,
		e.FiscalYear,
		e.Total,
		e.Allocated,
		e.Remaining,
		e.Status,
		e.Notes,
		e.CreatedBy,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(database.Translate(err, ""), errors.ErrCodeConflict) {
			return errors.Conflict(fmt.Sprintf("budget already exists for department %s and fiscal year %d", e.DepartmentID, e.FiscalYear))
		}
		return database.Translate(err, "failed to create budget")
	}
	return nil
}

// UpdateEnvelope writes balances, status and notes of a locked envelope.
func (t *pgTx) UpdateEnvelope(ctx context.Context, e *Envelope) error {
	query := `
		UPDATE budgets
		SET total_amount = $2,
		    allocated_amount = $3,
		    remaining_amount = $4,
		    status = $5,
		    notes = $6,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`
	err := t.q.QueryRow(ctx, query, e.ID, e.Total, e.Allocated, e.Remaining, e.Status, e.Notes).Scan(&e.UpdatedAt)
	if err == pgx.ErrNoRows {
		return errors.NotFound("budget", e.ID)
	}
	if err != nil {
		return database.Translate(err, "failed to update budget")
	}
	return nil
}

// DeleteEnvelope removes an envelope row.
func (t *pgTx) DeleteEnvelope(ctx context.Context, id string) error {
	tag, err := t.q.Exec(ctx, `DELETE FROM budgets WHERE id = $1`, id)
	if err != nil {
		return database.Translate(err, "failed to delete budget")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("budget", id)
	}
	return nil
}

// CountPurchaseOrders counts orders that reference an envelope.
func (t *pgTx) CountPurchaseOrders(ctx context.Context, departmentID string, fiscalYear int) (int, error) {
	var n int
	err := t.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM purchase_orders WHERE department_id = $1 AND fiscal_year = $2`,
		departmentID, fiscalYear,
	).Scan(&n)
	if err != nil {
		return 0, database.Translate(err, "failed to count purchase orders")
	}
	return n, nil
}

// InsertAllocation records a direct allocation.
func (t *pgTx) InsertAllocation(ctx context.Context, a *Allocation) error {
	query := `
		INSERT INTO budget_allocations (id, budget_id, department_id, fiscal_year, amount, notes, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`
	err := t.q.QueryRow(ctx, query,
		a.ID, a.EnvelopeID, a.DepartmentID, a.FiscalYear, a.Amount, a.Notes, a.CreatedBy,
	).Scan(&a.CreatedAt)
	if err != nil {
		return database.Translate(err, "failed to record allocation")
	}
	return nil
}

// InsertTransfer records an inter-department transfer.
func (t *pgTx) InsertTransfer(ctx context.Context, tr *Transfer) error {
	query := `
		INSERT INTO budget_transfers (id, from_department_id, to_department_id, fiscal_year,
		                              amount, reason, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`
	err := t.q.QueryRow(ctx, query,
		tr.ID, tr.FromDepartmentID, tr.ToDepartmentID, tr.FiscalYear, tr.Amount, tr.Reason, tr.CreatedBy,
	).Scan(&tr.CreatedAt)
	if err != nil {
		return database.Translate(err, "failed to record transfer")
	}
	return nil
}

// ── Reader ────────────────────────────────────────────────────────────────────

// GetEnvelope reads an envelope without locking it.
func (s *PostgresStore) GetEnvelope(ctx context.Context, departmentID string, fiscalYear int) (*Envelope, error) {
	query := `SELECT` + envelopeColumns + `
		FROM budgets
		WHERE department_id = $1 AND fiscal_year = $2`
	return getEnvelope(ctx, s.db, query, fmt.Sprintf("%s/%d", departmentID, fiscalYear), departmentID, fiscalYear)
}

// GetEnvelopeByID reads an envelope by id without locking it.
func (s *PostgresStore) GetEnvelopeByID(ctx context.Context, id string) (*Envelope, error) {
	query := `SELECT` + envelopeColumns + `
		FROM budgets
		WHERE id = $1`
	return getEnvelope(ctx, s.db, query, id, id)
}

const utilizationQuery = `
	SELECT b.id, b.department_id, b.fiscal_year, b.total_amount, b.allocated_amount,
	       b.remaining_amount, b.status,
	       COUNT(po.id),
	       COALESCE(SUM(po.total_amount) FILTER (WHERE po.status <> 'rejected'), 0),
	       COALESCE(SUM(po.total_amount) FILTER (WHERE po.status = 'approved'), 0),
	       COALESCE(SUM(po.total_amount) FILTER (WHERE po.status = 'pending'), 0),
	       COALESCE(SUM(po.total_amount) FILTER (WHERE po.status = 'completed'), 0)
	FROM budgets b
	LEFT JOIN purchase_orders po
	       ON po.department_id = b.department_id AND po.fiscal_year = b.fiscal_year`

func scanUtilization(sc rowScanner) (*Utilization, error) {
	u := &Utilization{}
	err := sc.Scan(
		&u.EnvelopeID,
		&u.DepartmentID,
		&u.FiscalYear,
		&u.Total,
		&u.Allocated,
		&u.Remaining,
		&u.Status,
		&u.PurchaseOrderCount,
		&u.CommittedAmount,
		&u.ApprovedAmount,
		&u.PendingAmount,
		&u.CompletedAmount,
	)
	if err != nil {
		return nil, err
	}
	u.UtilizationPercent = UtilizationPercent(u.Total, u.Remaining)
	return u, nil
}

// UtilizationPercent is (total − remaining) / total × 100, rounded to 2 places.
func UtilizationPercent(total, remaining decimal.Decimal) decimal.Decimal {
	if !total.IsPositive() {
		return decimal.Zero
	}
	return total.Sub(remaining).Div(total).Mul(decimal.NewFromInt(100)).Round(2)
}

// GetUtilization aggregates an envelope with its linked purchase orders.
func (s *PostgresStore) GetUtilization(ctx context.Context, departmentID string, fiscalYear int) (*Utilization, error) {
	query := utilizationQuery + `
	WHERE b.department_id = $1 AND b.fiscal_year = $2
	GROUP BY b.id`

	u, err := scanUtilization(s.db.QueryRow(ctx, query, departmentID, fiscalYear))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("budget", fmt.Sprintf("%s/%d", departmentID, fiscalYear))
	}
	if err != nil {
		return nil, database.Translate(err, "failed to get budget utilization")
	}
	return u, nil
}

// ListUtilization returns one utilization row per envelope of a fiscal year.
func (s *PostgresStore) ListUtilization(ctx context.Context, fiscalYear int) ([]*Utilization, error) {
	query := utilizationQuery + `
	WHERE b.fiscal_year = $1
	GROUP BY b.id
	ORDER BY b.department_id`

	rows, err := s.db.Query(ctx, query, fiscalYear)
	if err != nil {
		return nil, database.Translate(err, "failed to list budget utilization")
	}
	defer rows.Close()

	out := make([]*Utilization, 0)
	for rows.Next() {
		u, err := scanUtilization(rows)
		if err != nil {
			return nil, database.Translate(err, "failed to scan budget utilization")
		}
		out = append(out, u)
	}
	return out, database.Translate(rows.Err(), "failed to list budget utilization")
}

// ListAllocations returns allocation history, newest first.
func (s *PostgresStore) ListAllocations(ctx context.Context, departmentID string, fiscalYear int) ([]*Allocation, error) {
	query := `
		SELECT id, budget_id, department_id, fiscal_year, amount, notes, created_by, created_at
		FROM budget_allocations
		WHERE department_id = $1 AND fiscal_year = $2
		ORDER BY created_at DESC
	`
	rows, err := s.db.Query(ctx, query, departmentID, fiscalYear)
	if err != nil {
		return nil, database.Translate(err, "failed to list allocations")
	}
	defer rows.Close()

	out := make([]*Allocation, 0)
	for rows.Next() {
		a := &Allocation{}
		if err := rows.Scan(&a.ID, &a.EnvelopeID, &a.DepartmentID, &a.FiscalYear, &a.Amount, &a.Notes, &a.CreatedBy, &a.CreatedAt); err != nil {
			return nil, database.Translate(err, "failed to scan allocation")
		}
		out = append(out, a)
	}
	return out, database.Translate(rows.Err(), "failed to list allocations")
}

// ListTransfers returns transfers in or out of a department, newest first.
func (s *PostgresStore) ListTransfers(ctx context.Context, departmentID string, fiscalYear int) ([]*Transfer, error) {
	query := `
		SELECT id, from_department_id, to_department_id, fiscal_year, amount, reason, created_by, created_at
		FROM budget_transfers
		WHERE (from_department_id = $1 OR to_department_id = $1) AND fiscal_year = $2
		ORDER BY created_at DESC
	`
	rows, err := s.db.Query(ctx, query, departmentID, fiscalYear)
	if err != nil {
		return nil, database.Translate(err, "failed to list transfers")
	}
	defer rows.Close()

	out := make([]*Transfer, 0)
	for rows.Next() {
		tr := &Transfer{}
		if err := rows.Scan(&tr.ID, &tr.FromDepartmentID, &tr.ToDepartmentID, &tr.FiscalYear, &tr.Amount, &tr.Reason, &tr.CreatedBy, &tr.CreatedAt); err != nil {
			return nil, database.Translate(err, "failed to scan transfer")
		}
		out = append(out, tr)
	}
	return out, database.Translate(rows.Err(), "failed to list transfers")
}

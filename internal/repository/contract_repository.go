package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-ap-budgets/internal/platform/database"
	"github.com/pesio-ai/be-ap-budgets/internal/platform/errors"
)

const contractColumns = `
	id, contract_number, vendor_id, title, description, start_date, end_date, value, status,
	terms_conditions, renewal_terms,
	approved_by, approved_at, approval_comments,
	rejected_by, rejected_at, rejection_comments,
	terminated_by, terminated_at, termination_reason,
	renewed_by, renewed_at,
	created_by, created_at, updated_at`

func scanContract(sc rowScanner) (*Contract, error) {
	c := &Contract{}
	err := sc.Scan(
		&c.ID,
		&c.ContractNumber,
		&c.VendorID,
		&c.Title,
		&c.Description,
		&c.StartDate,
		&c.EndDate,
		&c.Value,
		&c.Status,
		&c.TermsConditions,
		&c.RenewalTerms,
		&c.ApprovedBy,
		&c.ApprovedAt,
		&c.ApprovalComments,
		&c.RejectedBy,
		&c.RejectedAt,
		&c.RejectionComments,
		&c.TerminatedBy,
		&c.TerminatedAt,
		&c.TerminationReason,
		&c.RenewedBy,
		&c.RenewedAt,
		&c.CreatedBy,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func getContract(ctx context.Context, q querier, query, id string) (*Contract, error) {
	c, err := scanContract(q.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("contract", id)
	}
	if err != nil {
		return nil, database.Translate(err, "failed to get contract")
	}
	return c, nil
}

// InsertContract creates a contract row.
func (t *pgTx) InsertContract(ctx context.Context, c *Contract) error {
	query := `
		INSERT INTO contracts (
			id, contract_number, vendor_id, title, description, start_date, end_date,
			value, status, terms_conditions, renewal_terms, created_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`
	err := t.q.QueryRow(ctx, query,
		c.ID,
		c.ContractNumber,
		c.VendorID,
		c.Title,
		c.Description,
		c.StartDate,
		c.EndDate,
		c.Value,
		c.Status,
		c.TermsConditions,
		c.RenewalTerms,
		c.CreatedBy,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return database.Translate(err, "failed to create contract")
	}
	return nil
}

// LockContract reads and row-locks a contract.
func (t *pgTx) LockContract(ctx context.Context, id string) (*Contract, error) {
	query := `SELECT` + contractColumns + `
		FROM contracts
		WHERE id = $1
		FOR UPDATE`
	return getContract(ctx, t.q, query, id)
}

// UpdateContract writes every mutable column of a locked contract.
func (t *pgTx) UpdateContract(ctx context.Context, c *Contract) error {
	query := `
		UPDATE contracts
		SET vendor_id = $2,
		    title = $3,
		    description = $4,
		    start_date = $5,
		    end_date = $6,
		    value = $7,
		    status = $8,
		    terms_conditions = $9,
		    renewal_terms = $10,
		    approved_by = $11,
		    approved_at = $12,
		    approval_comments = $13,
		    rejected_by = $14,
		    rejected_at = $15,
		    rejection_comments = $16,
		    terminated_by = $17,
		    terminated_at = $18,
		    termination_reason = $19,
		    renewed_by = $20,
		    renewed_at = $21,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`
	err := t.q.QueryRow(ctx, query,
		c.ID,
		c.VendorID,
		c.Title,
		c.Description,
		c.StartDate,
		c.EndDate,
		c.Value,
		c.Status,
		c.TermsConditions,
		c.RenewalTerms,
		c.ApprovedBy,
		c.ApprovedAt,
		c.ApprovalComments,
		c.RejectedBy,
		c.RejectedAt,
		c.RejectionComments,
		c.TerminatedBy,
		c.TerminatedAt,
		c.TerminationReason,
		c.RenewedBy,
		c.RenewedAt,
	).Scan(&c.UpdatedAt)
	if err == pgx.ErrNoRows {
		return errors.NotFound("contract", c.ID)
	}
	if err != nil {
		return database.Translate(err, "failed to update contract")
	}
	return nil
}

// DeleteContract removes a contract row.
func (t *pgTx) DeleteContract(ctx context.Context, id string) error {
	tag, err := t.q.Exec(ctx, `DELETE FROM contracts WHERE id = $1`, id)
	if err != nil {
		return database.Translate(err, "failed to delete contract")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("contract", id)
	}
	return nil
}

// LockContractsDue locks every in-force contract whose end date is at or
// before asOf. SKIP LOCKED lets concurrent sweeps split the work.
func (t *pgTx) LockContractsDue(ctx context.Context, asOf time.Time) ([]*Contract, error) {
	query := `SELECT` + contractColumns + `
		FROM contracts
		WHERE status IN ('active', 'renewed') AND end_date <= $1
		ORDER BY end_date, id
		FOR UPDATE SKIP LOCKED`

	rows, err := t.q.Query(ctx, query, asOf)
	if err != nil {
		return nil, database.Translate(err, "failed to list due contracts")
	}
	defer rows.Close()

	out := make([]*Contract, 0)
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, database.Translate(err, "failed to scan contract")
		}
		out = append(out, c)
	}
	return out, database.Translate(rows.Err(), "failed to list due contracts")
}

// GetContract reads a contract without locking it.
func (s *PostgresStore) GetContract(ctx context.Context, id string) (*Contract, error) {
	query := `SELECT` + contractColumns + `
		FROM contracts
		WHERE id = $1`
	return getContract(ctx, s.db, query, id)
}

// ListExpiringContracts lists in-force contracts ending in [from, until].
func (s *PostgresStore) ListExpiringContracts(ctx context.Context, from, until time.Time) ([]*Contract, error) {
	query := `SELECT` + contractColumns + `
		FROM contracts
		WHERE status IN ('active', 'renewed') AND end_date BETWEEN $1 AND $2
		ORDER BY end_date, id`

	rows, err := s.db.Query(ctx, query, from, until)
	if err != nil {
		return nil, database.Translate(err, "failed to list expiring contracts")
	}
	defer rows.Close()

	out := make([]*Contract, 0)
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, database.Translate(err, "failed to scan contract")
		}
		out = append(out, c)
	}
	return out, database.Translate(rows.Err(), "failed to list expiring contracts")
}

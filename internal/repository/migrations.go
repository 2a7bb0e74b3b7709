package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-ap-budgets/internal/platform/database"
)

// schema is applied in order; every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS budgets (
		id               TEXT PRIMARY KEY,
		department_id    TEXT NOT NULL,
		fiscal_year      INTEGER NOT NULL,
		total_amount     NUMERIC(15,2) NOT NULL,
		allocated_amount NUMERIC(15,2) NOT NULL DEFAULT 0,
		remaining_amount NUMERIC(15,2) NOT NULL,
		status           TEXT NOT NULL DEFAULT 'active',
		notes            TEXT,
		created_by       TEXT NOT NULL,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT uq_budgets_department_year UNIQUE (department_id, fiscal_year),
		CONSTRAINT chk_budgets_total_nonneg CHECK (total_amount >= 0),
		CONSTRAINT chk_budgets_remaining_nonneg CHECK (remaining_amount >= 0),
		CONSTRAINT chk_budgets_allocated_le_total CHECK (allocated_amount <= total_amount),
		CONSTRAINT chk_budgets_balance CHECK (remaining_amount = total_amount - allocated_amount),
		CONSTRAINT chk_budgets_status CHECK (status IN ('active', 'exhausted', 'closed'))
	)`,

	`CREATE TABLE IF NOT EXISTS budget_allocations (
		id            TEXT PRIMARY KEY,
		budget_id     TEXT NOT NULL REFERENCES budgets(id) ON DELETE CASCADE,
		department_id TEXT NOT NULL,
		fiscal_year   INTEGER NOT NULL,
		amount        NUMERIC(15,2) NOT NULL CHECK (amount > 0),
		notes         TEXT,
		created_by    TEXT NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_budget_allocations_department
		ON budget_allocations (department_id, fiscal_year)`,

	`CREATE TABLE IF NOT EXISTS budget_transfers (
		id                 TEXT PRIMARY KEY,
		from_department_id TEXT NOT NULL,
		to_department_id   TEXT NOT NULL,
		fiscal_year        INTEGER NOT NULL,
		amount             NUMERIC(15,2) NOT NULL CHECK (amount > 0),
		reason             TEXT NOT NULL DEFAULT '',
		created_by         TEXT NOT NULL,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CHECK (from_department_id <> to_department_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_budget_transfers_from ON budget_transfers (from_department_id, fiscal_year)`,
	`CREATE INDEX IF NOT EXISTS idx_budget_transfers_to ON budget_transfers (to_department_id, fiscal_year)`,

	`CREATE TABLE IF NOT EXISTS contracts (
		id                 TEXT PRIMARY KEY,
		contract_number    TEXT NOT NULL UNIQUE,
		vendor_id          TEXT NOT NULL,
		title              TEXT NOT NULL,
		description        TEXT,
		start_date         DATE NOT NULL,
		end_date           DATE NOT NULL,
		value              NUMERIC(15,2) NOT NULL DEFAULT 0,
		status             TEXT NOT NULL DEFAULT 'draft',
		terms_conditions   TEXT,
		renewal_terms      TEXT,
		approved_by        TEXT,
		approved_at        TIMESTAMPTZ,
		approval_comments  TEXT,
		rejected_by        TEXT,
		rejected_at        TIMESTAMPTZ,
		rejection_comments TEXT,
		terminated_by      TEXT,
		terminated_at      TIMESTAMPTZ,
		termination_reason TEXT,
		renewed_by         TEXT,
		renewed_at         TIMESTAMPTZ,
		created_by         TEXT NOT NULL,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT chk_contracts_dates CHECK (start_date < end_date),
		CONSTRAINT chk_contracts_status CHECK (
			status IN ('draft', 'active', 'expired', 'terminated', 'rejected', 'renewed'))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_contracts_due ON contracts (status, end_date)`,

	`CREATE TABLE IF NOT EXISTS purchase_orders (
		id                   TEXT PRIMARY KEY,
		po_number            TEXT NOT NULL UNIQUE,
		vendor_id            TEXT NOT NULL,
		contract_id          TEXT REFERENCES contracts(id),
		department_id        TEXT NOT NULL,
		fiscal_year          INTEGER NOT NULL,
		items                JSONB NOT NULL DEFAULT '[]',
		total_amount         NUMERIC(15,2) NOT NULL,
		status               TEXT NOT NULL DEFAULT 'draft',
		delivery_date        DATE,
		delivery_address     TEXT,
		special_instructions TEXT,
		created_by           TEXT NOT NULL,
		approved_by          TEXT,
		approved_at          TIMESTAMPTZ,
		approval_comments    TEXT,
		created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT fk_purchase_orders_budget FOREIGN KEY (department_id, fiscal_year)
			REFERENCES budgets (department_id, fiscal_year) ON DELETE RESTRICT,
		CONSTRAINT chk_purchase_orders_total_positive CHECK (total_amount > 0),
		CONSTRAINT chk_purchase_orders_status CHECK (
			status IN ('draft', 'pending', 'approved', 'rejected', 'completed'))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_purchase_orders_budget ON purchase_orders (department_id, fiscal_year)`,

	`CREATE TABLE IF NOT EXISTS audit_logs (
		id          TEXT PRIMARY KEY,
		event_type  TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id   TEXT NOT NULL,
		description TEXT NOT NULL,
		actor_id    TEXT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_entity ON audit_logs (entity_type, entity_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS document_sequences (
		prefix     TEXT NOT NULL,
		year       INTEGER NOT NULL,
		last_value BIGINT NOT NULL,
		PRIMARY KEY (prefix, year)
	)`,
}

// Migrate applies the ledger schema in a single transaction.
func Migrate(ctx context.Context, db *database.DB) error {
	return db.InTransaction(ctx, func(tx pgx.Tx) error {
		for i, stmt := range schema {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("migration step %d failed: %w", i+1, err)
			}
		}
		return nil
	})
}

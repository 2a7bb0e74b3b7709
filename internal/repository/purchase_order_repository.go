package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-ap-budgets/internal/platform/database"
	"github.com/pesio-ai/be-ap-budgets/internal/platform/errors"
)

const purchaseOrderColumns = `
	id, po_number, vendor_id, contract_id, department_id, fiscal_year, items, total_amount,
	status, delivery_date, delivery_address, special_instructions, created_by,
	approved_by, approved_at, approval_comments, created_at, updated_at`

func scanPurchaseOrder(sc rowScanner) (*PurchaseOrder, error) {
	po := &PurchaseOrder{}
	var items []byte
	err := sc.Scan(
		&po.ID,
		&po.PONumber,
		&po.VendorID,
		&po.ContractID,
		&po.DepartmentID,
		&po.FiscalYear,
		&items,
		&po.TotalAmount,
		&po.Status,
		&po.DeliveryDate,
		&po.DeliveryAddress,
		&po.SpecialInstructions,
		&po.CreatedBy,
		&po.ApprovedBy,
		&po.ApprovedAt,
		&po.ApprovalComments,
		&po.CreatedAt,
		&po.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(items) > 0 {
		if err := json.Unmarshal(items, &po.Items); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to decode line items")
		}
	}
	return po, nil
}

func getPurchaseOrder(ctx context.Context, q querier, query, id string) (*PurchaseOrder, error) {
	po, err := scanPurchaseOrder(q.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("purchase order", id)
	}
	if err != nil {
		return nil, database.Translate(err, "failed to get purchase order")
	}
	return po, nil
}

// InsertPurchaseOrder creates a purchase order row.
func (t *pgTx) InsertPurchaseOrder(ctx context.Context, po *PurchaseOrder) error {
	items, err := json.Marshal(po.Items)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to encode line items")
	}

	query := `
		INSERT INTO purchase_orders (
			id, po_number, vendor_id, contract_id, department_id, fiscal_year, items,
			total_amount, status, delivery_date, delivery_address, special_instructions, created_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at
	`
	err = t.q.QueryRow(ctx, query,
		po.ID,
		po.PONumber,
		po.VendorID,
		po.ContractID,
		po.DepartmentID,
		po.FiscalYear,
		items,
		po.TotalAmount,
		po.Status,
		po.DeliveryDate,
		po.DeliveryAddress,
		po.SpecialInstructions,
		po.CreatedBy,
	).Scan(&po.CreatedAt, &po.UpdatedAt)
	if err != nil {
		return database.Translate(err, "failed to create purchase order")
	}
	return nil
}

// LockPurchaseOrder reads and row-locks a purchase order.
func (t *pgTx) LockPurchaseOrder(ctx context.Context, id string) (*PurchaseOrder, error) {
	query := `SELECT` + purchaseOrderColumns + `
		FROM purchase_orders
		WHERE id = $1
		FOR UPDATE`
	return getPurchaseOrder(ctx, t.q, query, id)
}

// UpdatePurchaseOrder writes every mutable column of a locked purchase order.
func (t *pgTx) UpdatePurchaseOrder(ctx context.Context, po *PurchaseOrder) error {
	items, err := json.Marshal(po.Items)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to encode line items")
	}

	query := `
		UPDATE purchase_orders
		SET vendor_id = $2,
		    contract_id = $3,
		    department_id = $4,
		    fiscal_year = $5,
		    items = $6,
		    total_amount = $7,
		    status = $8,
		    delivery_date = $9,
		    delivery_address = $10,
		    special_instructions = $11,
		    approved_by = $12,
		    approved_at = $13,
		    approval_comments = $14,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`
	err = t.q.QueryRow(ctx, query,
		po.ID,
		po.VendorID,
		po.ContractID,
		po.DepartmentID,
		po.FiscalYear,
		items,
		po.TotalAmount,
		po.Status,
		po.DeliveryDate,
		po.DeliveryAddress,
		po.SpecialInstructions,
		po.ApprovedBy,
		po.ApprovedAt,
		po.ApprovalComments,
	).Scan(&po.UpdatedAt)
	if err == pgx.ErrNoRows {
		return errors.NotFound("purchase order", po.ID)
	}
	if err != nil {
		return database.Translate(err, "failed to update purchase order")
	}
	return nil
}

// DeletePurchaseOrder removes a purchase order row.
func (t *pgTx) DeletePurchaseOrder(ctx context.Context, id string) error {
	tag, err := t.q.Exec(ctx, `DELETE FROM purchase_orders WHERE id = $1`, id)
	if err != nil {
		return database.Translate(err, "failed to delete purchase order")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("purchase order", id)
	}
	return nil
}

// GetPurchaseOrder reads a purchase order without locking it.
func (s *PostgresStore) GetPurchaseOrder(ctx context.Context, id string) (*PurchaseOrder, error) {
	query := `SELECT` + purchaseOrderColumns + `
		FROM purchase_orders
		WHERE id = $1`
	return getPurchaseOrder(ctx, s.db, query, id)
}

package repository

import (
	"context"

	"github.com/pesio-ai/be-ap-budgets/internal/platform/database"
)

// Document number prefixes.
const (
	PrefixPurchaseOrder = "PO"
	PrefixContract      = "CNT"
)

// NextSequence atomically increments the counter for (prefix, year) and
// returns the new value. The upsert holds the counter row lock until the
// transaction ends, so concurrent callers never observe the same value.
func (t *pgTx) NextSequence(ctx context.Context, prefix string, year int) (int64, error) {
	query := `
		INSERT INTO document_sequences (prefix, year, last_value)
		VALUES ($1, $2, 1)
		ON CONFLICT (prefix, year) DO UPDATE
		SET last_value = document_sequences.last_value + 1
		RETURNING last_value
	`
	var next int64
	if err := t.q.QueryRow(ctx, query, prefix, year).Scan(&next); err != nil {
		return 0, database.Translate(err, "failed to allocate document number")
	}
	return next, nil
}

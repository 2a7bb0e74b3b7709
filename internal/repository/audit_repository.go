package repository

import (
	"context"

	"github.com/pesio-ai/be-ap-budgets/internal/platform/database"
)

// AppendAudit inserts an audit row in the caller's transaction. A failure here
// fails the transaction, so the audited change is rolled back with it.
func (t *pgTx) AppendAudit(ctx context.Context, entry *AuditEntry) error {
	query := `
		INSERT INTO audit_logs (id, event_type, entity_type, entity_id, description, actor_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`
	err := t.q.QueryRow(ctx, query,
		entry.ID,
		entry.EventType,
		entry.EntityType,
		entry.EntityID,
		entry.Description,
		entry.ActorID,
	).Scan(&entry.CreatedAt)
	if err != nil {
		return database.Translate(err, "failed to write audit log")
	}
	return nil
}

// ListAuditEntries returns the audit trail of one entity, oldest first.
func (s *PostgresStore) ListAuditEntries(ctx context.Context, entityType, entityID string) ([]*AuditEntry, error) {
	query := `
		SELECT id, event_type, entity_type, entity_id, description, actor_id, created_at
		FROM audit_logs
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at, id
	`
	rows, err := s.db.Query(ctx, query, entityType, entityID)
	if err != nil {
		return nil, database.Translate(err, "failed to list audit logs")
	}
	defer rows.Close()

	out := make([]*AuditEntry, 0)
	for rows.Next() {
		e := &AuditEntry{}
		if err := rows.Scan(&e.ID, &e.EventType, &e.EntityType, &e.EntityID, &e.Description, &e.ActorID, &e.CreatedAt); err != nil {
			return nil, database.Translate(err, "failed to scan audit log")
		}
		out = append(out, e)
	}
	return out, database.Translate(rows.Err(), "failed to list audit logs")
}

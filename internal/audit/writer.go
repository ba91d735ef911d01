package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bastion-iam/bastion/internal/shared"
)

// Writer persists audit events into audit_logs. It runs inside the worker
// process, downstream of the asynq queue.
type Writer struct {
	pool *pgxpool.Pool
}

// NewWriter constructs a Writer.
func NewWriter(pool *pgxpool.Pool) *Writer {
	return &Writer{pool: pool}
}

// Write inserts one event.
func (w *Writer) Write(ctx context.Context, event Event) error {
	props, err := json.Marshal(event.Props)
	if err != nil {
		return shared.Wrap(shared.KindValidation, err, "audit: marshal props")
	}
	_, err = w.pool.Exec(ctx, `INSERT INTO audit_logs (op, principal, entity, entity_id, outcome, occurred_at, props)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.Op, event.Principal, event.Entity, event.EntityID, event.Outcome, event.At, props)
	if err != nil {
		return shared.Wrap(shared.KindStoreUnavailable, err, "audit: insert event")
	}
	return nil
}

// Purge removes events older than the cutoff and reports how many rows
// went away.
func (w *Writer) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := w.pool.Exec(ctx, `DELETE FROM audit_logs WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return 0, shared.Wrap(shared.KindStoreUnavailable, err, "audit: purge events")
	}
	return tag.RowsAffected(), nil
}

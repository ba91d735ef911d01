package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bastion-iam/bastion/internal/shared"
)

// PGTimelineRepository reads audit_logs.
type PGTimelineRepository struct {
	pool *pgxpool.Pool
}

// NewTimelineRepository constructs the repository.
func NewTimelineRepository(pool *pgxpool.Pool) *PGTimelineRepository {
	return &PGTimelineRepository{pool: pool}
}

var _ TimelineRepository = (*PGTimelineRepository)(nil)

// Timeline returns events matching the filters, newest first. Empty filter
// fields match everything; zero times leave that bound open.
func (r *PGTimelineRepository) Timeline(ctx context.Context, filters TimelineFilters, limit, offset int) ([]Event, error) {
	rows, err := r.pool.Query(ctx, `SELECT op, principal, entity, entity_id, outcome, occurred_at, props
		FROM audit_logs
		WHERE ($1::timestamptz IS NULL OR occurred_at >= $1)
		  AND ($2::timestamptz IS NULL OR occurred_at <= $2)
		  AND ($3 = '' OR principal = $3)
		  AND ($4 = '' OR entity = $4)
		  AND ($5 = '' OR op = $5)
		ORDER BY occurred_at DESC
		LIMIT $6 OFFSET $7`,
		nullableTime(filters.From), nullableTime(filters.To),
		filters.Principal, filters.Entity, filters.Op, limit, offset)
	if err != nil {
		return nil, shared.Wrap(shared.KindStoreUnavailable, err, "audit: timeline query")
	}
	defer rows.Close()
	var events []Event
	for rows.Next() {
		var (
			e     Event
			props []byte
		)
		if err := rows.Scan(&e.Op, &e.Principal, &e.Entity, &e.EntityID, &e.Outcome, &e.At, &props); err != nil {
			return nil, shared.Wrap(shared.KindStoreUnavailable, err, "audit: scan event")
		}
		if len(props) > 0 {
			_ = json.Unmarshal(props, &e.Props)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Wrap(shared.KindStoreUnavailable, err, "audit: timeline query")
	}
	return events, nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

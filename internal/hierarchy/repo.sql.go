package hierarchy

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bastion-iam/bastion/internal/platform/db"
	"github.com/bastion-iam/bastion/internal/shared"
)

// PGEdgeStore provides PostgreSQL backed persistence for inheritance edges.
// All four graph kinds share one table keyed by kind.
type PGEdgeStore struct {
	pool *pgxpool.Pool
}

// NewPGEdgeStore constructs the store.
func NewPGEdgeStore(pool *pgxpool.Pool) *PGEdgeStore {
	return &PGEdgeStore{pool: pool}
}

var _ EdgeStore = (*PGEdgeStore)(nil)

// ListEdges returns every edge of one graph kind.
func (s *PGEdgeStore) ListEdges(ctx context.Context, kind Kind) ([]Edge, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT parent, child FROM inheritance_edges WHERE kind = $1`, string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var edges []Edge
	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e.Parent, &e.Child); err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// InsertEdge adds an edge. Edits to the same graph serialize on a
// per-kind advisory lock; the duplicate and cycle checks re-run against
// the edge set read under that lock, so two writers racing to close a
// cycle cannot both commit.
func (s *PGEdgeStore) InsertEdge(ctx context.Context, kind Kind, edge Edge) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if err := lockGraph(ctx, tx, kind); err != nil {
			return err
		}
		edges, err := listEdgesTx(ctx, tx, kind)
		if err != nil {
			return err
		}
		if err := validateNewEdge(edges, edge); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `INSERT INTO inheritance_edges (kind, parent, child)
			VALUES ($1, $2, $3)`,
			string(kind), edge.Parent, edge.Child)
		return err
	})
}

func listEdgesTx(ctx context.Context, tx pgx.Tx, kind Kind) ([]Edge, error) {
	rows, err := tx.Query(ctx,
		`SELECT parent, child FROM inheritance_edges WHERE kind = $1`, string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var edges []Edge
	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e.Parent, &e.Child); err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// DeleteEdge removes an edge under the same per-kind lock.
func (s *PGEdgeStore) DeleteEdge(ctx context.Context, kind Kind, edge Edge) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if err := lockGraph(ctx, tx, kind); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM inheritance_edges
			WHERE kind = $1 AND parent = $2 AND child = $3`,
			string(kind), edge.Parent, edge.Child)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return shared.E(shared.KindNotFound,
				"hierarchy: no edge %s → %s", edge.Parent, edge.Child)
		}
		return nil
	})
}

func lockGraph(ctx context.Context, tx pgx.Tx, kind Kind) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "hierarchy:"+string(kind))
	return err
}

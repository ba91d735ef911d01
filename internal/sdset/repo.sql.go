package sdset

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bastion-iam/bastion/internal/platform/db"
	"github.com/bastion-iam/bastion/internal/shared"
)

// PGRepository provides PostgreSQL backed persistence for SSD and DSD sets.
// Members live in sd_set_members keyed by (type, set_name, role).
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

var _ Repository = (*PGRepository)(nil)

func scanSet(row pgx.Row) (*Set, error) {
	var set Set
	err := row.Scan(&set.Name, &set.Type, &set.Description, &set.Cardinality,
		&set.Members, &set.CreatedAt, &set.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &set, nil
}

const setQuery = `SELECT s.name, s.type, s.description, s.cardinality,
	COALESCE(array_agg(m.role ORDER BY m.role) FILTER (WHERE m.role IS NOT NULL), '{}'),
	s.created_at, s.updated_at
	FROM sd_sets s LEFT JOIN sd_set_members m ON m.type = s.type AND m.set_name = s.name`

// Get fetches a set with its members.
func (r *PGRepository) Get(ctx context.Context, typ SetType, name string) (*Set, error) {
	row := r.pool.QueryRow(ctx, setQuery+` WHERE s.type = $1 AND s.name = $2
		GROUP BY s.name, s.type, s.description, s.cardinality, s.created_at, s.updated_at`,
		typ, shared.NormalizeName(name))
	set, err := scanSet(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.E(shared.KindNotFound, "sdset: %s set %s not found", typ, name)
		}
		return nil, shared.Wrap(shared.KindStoreUnavailable, err, "sdset: get set")
	}
	return set, nil
}

// Create inserts a set together with its initial members.
func (r *PGRepository) Create(ctx context.Context, set Set) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		now := time.Now().UTC()
		name := shared.NormalizeName(set.Name)
		_, err := tx.Exec(ctx, `INSERT INTO sd_sets (name, type, description, cardinality, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			name, set.Type, set.Description, set.Cardinality, now, now)
		if err != nil {
			if db.IsUniqueViolation(err) {
				return shared.E(shared.KindAlreadyExists, "sdset: %s set %s already exists", set.Type, set.Name)
			}
			return shared.Wrap(shared.KindStoreUnavailable, err, "sdset: create set")
		}
		for _, role := range shared.NormalizeNames(set.Members) {
			_, err := tx.Exec(ctx, `INSERT INTO sd_set_members (type, set_name, role) VALUES ($1, $2, $3)`,
				set.Type, name, role)
			if err != nil {
				return shared.Wrap(shared.KindStoreUnavailable, err, "sdset: add member")
			}
		}
		return nil
	})
}

// Update replaces the description and cardinality. Membership changes go
// through AddMember and DeleteMember. The cardinality bound is enforced
// inside the transaction, with the set row locked, so a concurrent member
// removal cannot slip the count under the new cardinality.
func (r *PGRepository) Update(ctx context.Context, set Set) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		name := shared.NormalizeName(set.Name)
		tag, err := tx.Exec(ctx, `UPDATE sd_sets SET description = $3, cardinality = $4, updated_at = $5
			WHERE type = $1 AND name = $2`,
			set.Type, name, set.Description, set.Cardinality, time.Now().UTC())
		if err != nil {
			return shared.Wrap(shared.KindStoreUnavailable, err, "sdset: update set")
		}
		if tag.RowsAffected() == 0 {
			return shared.E(shared.KindNotFound, "sdset: %s set %s not found", set.Type, set.Name)
		}
		members, err := countMembersTx(ctx, tx, set.Type, name)
		if err != nil {
			return err
		}
		return checkBounds(set.Cardinality, members)
	})
}

// Delete removes a set and its membership rows.
func (r *PGRepository) Delete(ctx context.Context, typ SetType, name string) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		name = shared.NormalizeName(name)
		if _, err := tx.Exec(ctx, `DELETE FROM sd_set_members WHERE type = $1 AND set_name = $2`, typ, name); err != nil {
			return shared.Wrap(shared.KindStoreUnavailable, err, "sdset: delete members")
		}
		tag, err := tx.Exec(ctx, `DELETE FROM sd_sets WHERE type = $1 AND name = $2`, typ, name)
		if err != nil {
			return shared.Wrap(shared.KindStoreUnavailable, err, "sdset: delete set")
		}
		if tag.RowsAffected() == 0 {
			return shared.E(shared.KindNotFound, "sdset: %s set %s not found", typ, name)
		}
		return nil
	})
}

func (r *PGRepository) querySets(ctx context.Context, query string, args ...any) ([]Set, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, shared.Wrap(shared.KindStoreUnavailable, err, "sdset: query sets")
	}
	defer rows.Close()
	var result []Set
	for rows.Next() {
		set, err := scanSet(rows)
		if err != nil {
			return nil, shared.Wrap(shared.KindStoreUnavailable, err, "sdset: scan set")
		}
		result = append(result, *set)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Wrap(shared.KindStoreUnavailable, err, "sdset: query sets")
	}
	return result, nil
}

// Search returns sets of a type whose name contains the folded substring.
func (r *PGRepository) Search(ctx context.Context, typ SetType, substring string) ([]Set, error) {
	return r.querySets(ctx, setQuery+` WHERE s.type = $1 AND s.name LIKE '%' || $2 || '%'
		GROUP BY s.name, s.type, s.description, s.cardinality, s.created_at, s.updated_at
		ORDER BY s.name`, typ, shared.NormalizeName(substring))
}

// AddMember inserts a membership row.
func (r *PGRepository) AddMember(ctx context.Context, typ SetType, name, role string) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO sd_set_members (type, set_name, role) VALUES ($1, $2, $3)`,
		typ, shared.NormalizeName(name), shared.NormalizeName(role))
	if err != nil {
		if db.IsUniqueViolation(err) {
			return shared.E(shared.KindAlreadyExists, "sdset: %s is already a member of %s", role, name)
		}
		return shared.Wrap(shared.KindStoreUnavailable, err, "sdset: add member")
	}
	return nil
}

// DeleteMember removes a membership row. The set row is locked for the
// duration so the post-removal member count is checked against the
// cardinality the set actually has, not a stale read.
func (r *PGRepository) DeleteMember(ctx context.Context, typ SetType, name, role string) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		name = shared.NormalizeName(name)
		cardinality, err := lockSetTx(ctx, tx, typ, name)
		if err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM sd_set_members WHERE type = $1 AND set_name = $2 AND role = $3`,
			typ, name, shared.NormalizeName(role))
		if err != nil {
			return shared.Wrap(shared.KindStoreUnavailable, err, "sdset: delete member")
		}
		if tag.RowsAffected() == 0 {
			return shared.E(shared.KindNotFound, "sdset: %s is not a member of %s", role, name)
		}
		members, err := countMembersTx(ctx, tx, typ, name)
		if err != nil {
			return err
		}
		return checkBounds(cardinality, members)
	})
}

// SetCardinality updates the cardinality alone, validating the bound
// against the member count inside the same transaction.
func (r *PGRepository) SetCardinality(ctx context.Context, typ SetType, name string, cardinality int) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		name = shared.NormalizeName(name)
		if _, err := lockSetTx(ctx, tx, typ, name); err != nil {
			return err
		}
		members, err := countMembersTx(ctx, tx, typ, name)
		if err != nil {
			return err
		}
		if err := checkBounds(cardinality, members); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE sd_sets SET cardinality = $3, updated_at = $4
			WHERE type = $1 AND name = $2`,
			typ, name, cardinality, time.Now().UTC())
		if err != nil {
			return shared.Wrap(shared.KindStoreUnavailable, err, "sdset: set cardinality")
		}
		return nil
	})
}

// lockSetTx locks the set row and returns its current cardinality.
func lockSetTx(ctx context.Context, tx pgx.Tx, typ SetType, name string) (int, error) {
	var cardinality int
	err := tx.QueryRow(ctx, `SELECT cardinality FROM sd_sets WHERE type = $1 AND name = $2 FOR UPDATE`,
		typ, name).Scan(&cardinality)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, shared.E(shared.KindNotFound, "sdset: %s set %s not found", typ, name)
		}
		return 0, shared.Wrap(shared.KindStoreUnavailable, err, "sdset: lock set")
	}
	return cardinality, nil
}

func countMembersTx(ctx context.Context, tx pgx.Tx, typ SetType, name string) (int, error) {
	var members int
	err := tx.QueryRow(ctx, `SELECT count(*) FROM sd_set_members WHERE type = $1 AND set_name = $2`,
		typ, name).Scan(&members)
	if err != nil {
		return 0, shared.Wrap(shared.KindStoreUnavailable, err, "sdset: count members")
	}
	return members, nil
}

// ContainingRole returns the sets that include the role.
func (r *PGRepository) ContainingRole(ctx context.Context, typ SetType, role string) ([]Set, error) {
	return r.querySets(ctx, setQuery+` WHERE s.type = $1 AND s.name IN (
			SELECT set_name FROM sd_set_members WHERE type = $1 AND role = $2)
		GROUP BY s.name, s.type, s.description, s.cardinality, s.created_at, s.updated_at
		ORDER BY s.name`, typ, shared.NormalizeName(role))
}

package orgunit

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bastion-iam/bastion/internal/platform/db"
	"github.com/bastion-iam/bastion/internal/shared"
)

// PGRepository provides PostgreSQL backed persistence for org units.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

var _ Repository = (*PGRepository)(nil)

const ouColumns = `name, type, description, created_at, updated_at`

func scanOrgUnit(row pgx.Row) (*OrgUnit, error) {
	var ou OrgUnit
	err := row.Scan(&ou.Name, &ou.Type, &ou.Description, &ou.CreatedAt, &ou.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &ou, nil
}

// Get fetches an org unit.
func (r *PGRepository) Get(ctx context.Context, typ Type, name string) (*OrgUnit, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+ouColumns+` FROM org_units WHERE type = $1 AND name = $2`,
		typ, shared.NormalizeName(name))
	ou, err := scanOrgUnit(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.E(shared.KindNotFound, "orgunit: %s org unit %s not found", typ, name)
		}
		return nil, shared.Wrap(shared.KindStoreUnavailable, err, "orgunit: get org unit")
	}
	return ou, nil
}

// Create inserts an org unit.
func (r *PGRepository) Create(ctx context.Context, ou OrgUnit) error {
	now := time.Now().UTC()
	_, err := r.pool.Exec(ctx, `INSERT INTO org_units (`+ouColumns+`) VALUES ($1, $2, $3, $4, $5)`,
		shared.NormalizeName(ou.Name), ou.Type, ou.Description, now, now)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return shared.E(shared.KindAlreadyExists, "orgunit: %s org unit %s already exists", ou.Type, ou.Name)
		}
		return shared.Wrap(shared.KindStoreUnavailable, err, "orgunit: create org unit")
	}
	return nil
}

// Update replaces an org unit's description.
func (r *PGRepository) Update(ctx context.Context, ou OrgUnit) error {
	tag, err := r.pool.Exec(ctx, `UPDATE org_units SET description = $3, updated_at = $4
		WHERE type = $1 AND name = $2`,
		ou.Type, shared.NormalizeName(ou.Name), ou.Description, time.Now().UTC())
	if err != nil {
		return shared.Wrap(shared.KindStoreUnavailable, err, "orgunit: update org unit")
	}
	if tag.RowsAffected() == 0 {
		return shared.E(shared.KindNotFound, "orgunit: %s org unit %s not found", ou.Type, ou.Name)
	}
	return nil
}

// Delete removes an org unit.
func (r *PGRepository) Delete(ctx context.Context, typ Type, name string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM org_units WHERE type = $1 AND name = $2`,
		typ, shared.NormalizeName(name))
	if err != nil {
		return shared.Wrap(shared.KindStoreUnavailable, err, "orgunit: delete org unit")
	}
	if tag.RowsAffected() == 0 {
		return shared.E(shared.KindNotFound, "orgunit: %s org unit %s not found", typ, name)
	}
	return nil
}

// Search returns org units of a type whose name contains the substring.
func (r *PGRepository) Search(ctx context.Context, typ Type, substring string) ([]OrgUnit, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+ouColumns+` FROM org_units
		WHERE type = $1 AND name LIKE '%' || $2 || '%' ORDER BY name`,
		typ, shared.NormalizeName(substring))
	if err != nil {
		return nil, shared.Wrap(shared.KindStoreUnavailable, err, "orgunit: search org units")
	}
	defer rows.Close()
	var result []OrgUnit
	for rows.Next() {
		ou, err := scanOrgUnit(rows)
		if err != nil {
			return nil, shared.Wrap(shared.KindStoreUnavailable, err, "orgunit: scan org unit")
		}
		result = append(result, *ou)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Wrap(shared.KindStoreUnavailable, err, "orgunit: search org units")
	}
	return result, nil
}

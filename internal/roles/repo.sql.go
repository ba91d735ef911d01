package roles

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bastion-iam/bastion/internal/platform/db"
	"github.com/bastion-iam/bastion/internal/shared"
)

// PGRepository provides PostgreSQL backed persistence for roles.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

var _ Repository = (*PGRepository)(nil)

const roleColumns = `name, description, begin_time, end_time, begin_date, end_date,
	begin_lock_date, end_lock_date, day_mask, timeout_mins, created_at, updated_at`

func scanRole(row pgx.Row) (*Role, error) {
	var r Role
	err := row.Scan(&r.Name, &r.Description,
		&r.Constraint.BeginTime, &r.Constraint.EndTime,
		&r.Constraint.BeginDate, &r.Constraint.EndDate,
		&r.Constraint.BeginLockDate, &r.Constraint.EndLockDate,
		&r.Constraint.DayMask, &r.Constraint.TimeoutMins,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// GetRole fetches a role by name.
func (r *PGRepository) GetRole(ctx context.Context, name string) (*Role, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE name = $1`,
		shared.NormalizeName(name))
	role, err := scanRole(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.E(shared.KindNotFound, "roles: role %s not found", name)
		}
		return nil, shared.Wrap(shared.KindStoreUnavailable, err, "roles: get role")
	}
	return role, nil
}

// CreateRole inserts a new role.
func (r *PGRepository) CreateRole(ctx context.Context, role Role) error {
	now := time.Now().UTC()
	_, err := r.pool.Exec(ctx, `INSERT INTO roles (`+roleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		shared.NormalizeName(role.Name), role.Description,
		role.Constraint.BeginTime, role.Constraint.EndTime,
		role.Constraint.BeginDate, role.Constraint.EndDate,
		role.Constraint.BeginLockDate, role.Constraint.EndLockDate,
		role.Constraint.DayMask, role.Constraint.TimeoutMins,
		now, now)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return shared.E(shared.KindAlreadyExists, "roles: role %s already exists", role.Name)
		}
		return shared.Wrap(shared.KindStoreUnavailable, err, "roles: create role")
	}
	return nil
}

// UpdateRole updates an existing role.
func (r *PGRepository) UpdateRole(ctx context.Context, role Role) error {
	tag, err := r.pool.Exec(ctx, `UPDATE roles SET description = $2,
		begin_time = $3, end_time = $4, begin_date = $5, end_date = $6,
		begin_lock_date = $7, end_lock_date = $8, day_mask = $9,
		timeout_mins = $10, updated_at = $11 WHERE name = $1`,
		shared.NormalizeName(role.Name), role.Description,
		role.Constraint.BeginTime, role.Constraint.EndTime,
		role.Constraint.BeginDate, role.Constraint.EndDate,
		role.Constraint.BeginLockDate, role.Constraint.EndLockDate,
		role.Constraint.DayMask, role.Constraint.TimeoutMins,
		time.Now().UTC())
	if err != nil {
		return shared.Wrap(shared.KindStoreUnavailable, err, "roles: update role")
	}
	if tag.RowsAffected() == 0 {
		return shared.E(shared.KindNotFound, "roles: role %s not found", role.Name)
	}
	return nil
}

// DeleteRole removes a role row. Cascade cleanup is orchestrated by the
// service, not here.
func (r *PGRepository) DeleteRole(ctx context.Context, name string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM roles WHERE name = $1`, shared.NormalizeName(name))
	if err != nil {
		return shared.Wrap(shared.KindStoreUnavailable, err, "roles: delete role")
	}
	if tag.RowsAffected() == 0 {
		return shared.E(shared.KindNotFound, "roles: role %s not found", name)
	}
	return nil
}

// SearchRoles returns roles whose name contains the folded substring.
func (r *PGRepository) SearchRoles(ctx context.Context, substring string) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+roleColumns+` FROM roles
		WHERE name LIKE '%' || $1 || '%' ORDER BY name`,
		shared.NormalizeName(substring))
	if err != nil {
		return nil, shared.Wrap(shared.KindStoreUnavailable, err, "roles: search roles")
	}
	defer rows.Close()
	var result []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, shared.Wrap(shared.KindStoreUnavailable, err, "roles: scan role")
		}
		result = append(result, *role)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Wrap(shared.KindStoreUnavailable, err, "roles: search roles")
	}
	return result, nil
}

const adminRoleColumns = roleColumns + `, begin_range, end_range,
	begin_inclusive, end_inclusive, user_ous, perm_ous`

func scanAdminRole(row pgx.Row) (*AdminRole, error) {
	var r AdminRole
	err := row.Scan(&r.Name, &r.Description,
		&r.Constraint.BeginTime, &r.Constraint.EndTime,
		&r.Constraint.BeginDate, &r.Constraint.EndDate,
		&r.Constraint.BeginLockDate, &r.Constraint.EndLockDate,
		&r.Constraint.DayMask, &r.Constraint.TimeoutMins,
		&r.CreatedAt, &r.UpdatedAt,
		&r.BeginRange, &r.EndRange, &r.BeginInclusive, &r.EndInclusive,
		&r.UserOUs, &r.PermOUs)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// GetAdminRole fetches an admin role by name.
func (r *PGRepository) GetAdminRole(ctx context.Context, name string) (*AdminRole, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+adminRoleColumns+` FROM admin_roles WHERE name = $1`,
		shared.NormalizeName(name))
	role, err := scanAdminRole(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.E(shared.KindNotFound, "roles: admin role %s not found", name)
		}
		return nil, shared.Wrap(shared.KindStoreUnavailable, err, "roles: get admin role")
	}
	return role, nil
}

// CreateAdminRole inserts a new admin role.
func (r *PGRepository) CreateAdminRole(ctx context.Context, role AdminRole) error {
	now := time.Now().UTC()
	_, err := r.pool.Exec(ctx, `INSERT INTO admin_roles (`+adminRoleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		shared.NormalizeName(role.Name), role.Description,
		role.Constraint.BeginTime, role.Constraint.EndTime,
		role.Constraint.BeginDate, role.Constraint.EndDate,
		role.Constraint.BeginLockDate, role.Constraint.EndLockDate,
		role.Constraint.DayMask, role.Constraint.TimeoutMins,
		now, now,
		shared.NormalizeName(role.BeginRange), shared.NormalizeName(role.EndRange),
		role.BeginInclusive, role.EndInclusive,
		shared.NormalizeNames(role.UserOUs), shared.NormalizeNames(role.PermOUs))
	if err != nil {
		if db.IsUniqueViolation(err) {
			return shared.E(shared.KindAlreadyExists, "roles: admin role %s already exists", role.Name)
		}
		return shared.Wrap(shared.KindStoreUnavailable, err, "roles: create admin role")
	}
	return nil
}

// UpdateAdminRole updates an existing admin role.
func (r *PGRepository) UpdateAdminRole(ctx context.Context, role AdminRole) error {
	tag, err := r.pool.Exec(ctx, `UPDATE admin_roles SET description = $2,
		begin_time = $3, end_time = $4, begin_date = $5, end_date = $6,
		begin_lock_date = $7, end_lock_date = $8, day_mask = $9,
		timeout_mins = $10, updated_at = $11, begin_range = $12, end_range = $13,
		begin_inclusive = $14, end_inclusive = $15, user_ous = $16, perm_ous = $17
		WHERE name = $1`,
		shared.NormalizeName(role.Name), role.Description,
		role.Constraint.BeginTime, role.Constraint.EndTime,
		role.Constraint.BeginDate, role.Constraint.EndDate,
		role.Constraint.BeginLockDate, role.Constraint.EndLockDate,
		role.Constraint.DayMask, role.Constraint.TimeoutMins,
		time.Now().UTC(),
		shared.NormalizeName(role.BeginRange), shared.NormalizeName(role.EndRange),
		role.BeginInclusive, role.EndInclusive,
		shared.NormalizeNames(role.UserOUs), shared.NormalizeNames(role.PermOUs))
	if err != nil {
		return shared.Wrap(shared.KindStoreUnavailable, err, "roles: update admin role")
	}
	if tag.RowsAffected() == 0 {
		return shared.E(shared.KindNotFound, "roles: admin role %s not found", role.Name)
	}
	return nil
}

// DeleteAdminRole removes an admin role row.
func (r *PGRepository) DeleteAdminRole(ctx context.Context, name string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM admin_roles WHERE name = $1`, shared.NormalizeName(name))
	if err != nil {
		return shared.Wrap(shared.KindStoreUnavailable, err, "roles: delete admin role")
	}
	if tag.RowsAffected() == 0 {
		return shared.E(shared.KindNotFound, "roles: admin role %s not found", name)
	}
	return nil
}

// SearchAdminRoles returns admin roles whose name contains the folded substring.
func (r *PGRepository) SearchAdminRoles(ctx context.Context, substring string) ([]AdminRole, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+adminRoleColumns+` FROM admin_roles
		WHERE name LIKE '%' || $1 || '%' ORDER BY name`,
		shared.NormalizeName(substring))
	if err != nil {
		return nil, shared.Wrap(shared.KindStoreUnavailable, err, "roles: search admin roles")
	}
	defer rows.Close()
	var result []AdminRole
	for rows.Next() {
		role, err := scanAdminRole(rows)
		if err != nil {
			return nil, shared.Wrap(shared.KindStoreUnavailable, err, "roles: scan admin role")
		}
		result = append(result, *role)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Wrap(shared.KindStoreUnavailable, err, "roles: search admin roles")
	}
	return result, nil
}

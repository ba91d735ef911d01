package users

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bastion-iam/bastion/internal/platform/db"
	"github.com/bastion-iam/bastion/internal/shared"
)

// PGRepository provides PostgreSQL backed persistence for users. Role and
// admin-role assignments share one table discriminated by kind.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

var _ Repository = (*PGRepository)(nil)

const (
	assignKindRole  = "ROLE"
	assignKindAdmin = "ADMIN_ROLE"
)

const userColumns = `id, description, org_unit, password_hash, begin_time, end_time,
	begin_date, end_date, begin_lock_date, end_lock_date, day_mask, timeout_mins,
	locked, disabled, props, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var (
		u     User
		props []byte
	)
	err := row.Scan(&u.ID, &u.Description, &u.OrgUnit, &u.PasswordHash,
		&u.Constraint.BeginTime, &u.Constraint.EndTime,
		&u.Constraint.BeginDate, &u.Constraint.EndDate,
		&u.Constraint.BeginLockDate, &u.Constraint.EndLockDate,
		&u.Constraint.DayMask, &u.Constraint.TimeoutMins,
		&u.Locked, &u.Disabled, &props, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(props) > 0 {
		_ = json.Unmarshal(props, &u.Props)
	}
	return &u, nil
}

// Get fetches a user by ID.
func (r *PGRepository) Get(ctx context.Context, id string) (*User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`,
		shared.NormalizeName(id))
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.E(shared.KindNotFound, "users: user %s not found", id)
		}
		return nil, shared.Wrap(shared.KindStoreUnavailable, err, "users: get user")
	}
	return user, nil
}

// Create inserts a new user.
func (r *PGRepository) Create(ctx context.Context, user User) error {
	props, err := json.Marshal(user.Props)
	if err != nil {
		return shared.Wrap(shared.KindValidation, err, "users: marshal props")
	}
	now := time.Now().UTC()
	_, err = r.pool.Exec(ctx, `INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		shared.NormalizeName(user.ID), user.Description, shared.NormalizeName(user.OrgUnit),
		user.PasswordHash,
		user.Constraint.BeginTime, user.Constraint.EndTime,
		user.Constraint.BeginDate, user.Constraint.EndDate,
		user.Constraint.BeginLockDate, user.Constraint.EndLockDate,
		user.Constraint.DayMask, user.Constraint.TimeoutMins,
		user.Locked, user.Disabled, props, now, now)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return shared.E(shared.KindAlreadyExists, "users: user %s already exists", user.ID)
		}
		return shared.Wrap(shared.KindStoreUnavailable, err, "users: create user")
	}
	return nil
}

// Update replaces a user's mutable fields. The password hash is managed
// separately through SetPassword.
func (r *PGRepository) Update(ctx context.Context, user User) error {
	props, err := json.Marshal(user.Props)
	if err != nil {
		return shared.Wrap(shared.KindValidation, err, "users: marshal props")
	}
	tag, err := r.pool.Exec(ctx, `UPDATE users SET description = $2, org_unit = $3,
		begin_time = $4, end_time = $5, begin_date = $6, end_date = $7,
		begin_lock_date = $8, end_lock_date = $9, day_mask = $10, timeout_mins = $11,
		props = $12, updated_at = $13 WHERE id = $1`,
		shared.NormalizeName(user.ID), user.Description, shared.NormalizeName(user.OrgUnit),
		user.Constraint.BeginTime, user.Constraint.EndTime,
		user.Constraint.BeginDate, user.Constraint.EndDate,
		user.Constraint.BeginLockDate, user.Constraint.EndLockDate,
		user.Constraint.DayMask, user.Constraint.TimeoutMins,
		props, time.Now().UTC())
	if err != nil {
		return shared.Wrap(shared.KindStoreUnavailable, err, "users: update user")
	}
	if tag.RowsAffected() == 0 {
		return shared.E(shared.KindNotFound, "users: user %s not found", user.ID)
	}
	return nil
}

// Delete hard-removes a user and its assignment edges.
func (r *PGRepository) Delete(ctx context.Context, id string) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		id = shared.NormalizeName(id)
		if _, err := tx.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1`, id); err != nil {
			return shared.Wrap(shared.KindStoreUnavailable, err, "users: delete assignments")
		}
		tag, err := tx.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
		if err != nil {
			return shared.Wrap(shared.KindStoreUnavailable, err, "users: delete user")
		}
		if tag.RowsAffected() == 0 {
			return shared.E(shared.KindNotFound, "users: user %s not found", id)
		}
		return nil
	})
}

// Search returns users whose ID contains the folded substring.
func (r *PGRepository) Search(ctx context.Context, substring string) ([]User, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users
		WHERE id LIKE '%' || $1 || '%' ORDER BY id`,
		shared.NormalizeName(substring))
	if err != nil {
		return nil, shared.Wrap(shared.KindStoreUnavailable, err, "users: search users")
	}
	defer rows.Close()
	var result []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, shared.Wrap(shared.KindStoreUnavailable, err, "users: scan user")
		}
		result = append(result, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Wrap(shared.KindStoreUnavailable, err, "users: search users")
	}
	return result, nil
}

func (r *PGRepository) setFlag(ctx context.Context, id, column string, value bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET `+column+` = $2, updated_at = $3 WHERE id = $1`,
		shared.NormalizeName(id), value, time.Now().UTC())
	if err != nil {
		return shared.Wrap(shared.KindStoreUnavailable, err, "users: set %s", column)
	}
	if tag.RowsAffected() == 0 {
		return shared.E(shared.KindNotFound, "users: user %s not found", id)
	}
	return nil
}

// SetLocked toggles the credential lock.
func (r *PGRepository) SetLocked(ctx context.Context, id string, locked bool) error {
	return r.setFlag(ctx, id, "locked", locked)
}

// SetDisabled toggles the soft-delete flag.
func (r *PGRepository) SetDisabled(ctx context.Context, id string, disabled bool) error {
	return r.setFlag(ctx, id, "disabled", disabled)
}

// SetPassword replaces the stored credential hash.
func (r *PGRepository) SetPassword(ctx context.Context, id, hash string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`,
		shared.NormalizeName(id), hash, time.Now().UTC())
	if err != nil {
		return shared.Wrap(shared.KindStoreUnavailable, err, "users: set password")
	}
	if tag.RowsAffected() == 0 {
		return shared.E(shared.KindNotFound, "users: user %s not found", id)
	}
	return nil
}

func (r *PGRepository) assign(ctx context.Context, kind string, a Assignment) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO user_roles (user_id, role, kind, begin_time, end_time,
		begin_date, end_date, begin_lock_date, end_lock_date, day_mask, timeout_mins, assigned_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		shared.NormalizeName(a.UserID), shared.NormalizeName(a.Role), kind,
		a.Constraint.BeginTime, a.Constraint.EndTime,
		a.Constraint.BeginDate, a.Constraint.EndDate,
		a.Constraint.BeginLockDate, a.Constraint.EndLockDate,
		a.Constraint.DayMask, a.Constraint.TimeoutMins,
		time.Now().UTC())
	if err != nil {
		if db.IsUniqueViolation(err) {
			return shared.E(shared.KindAlreadyExists, "users: %s already assigned to %s", a.Role, a.UserID)
		}
		return shared.Wrap(shared.KindStoreUnavailable, err, "users: assign role")
	}
	return nil
}

func (r *PGRepository) deassign(ctx context.Context, kind, userID, role string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role = $2 AND kind = $3`,
		shared.NormalizeName(userID), shared.NormalizeName(role), kind)
	if err != nil {
		return shared.Wrap(shared.KindStoreUnavailable, err, "users: deassign role")
	}
	if tag.RowsAffected() == 0 {
		return shared.E(shared.KindNotFound, "users: %s is not assigned to %s", role, userID)
	}
	return nil
}

func (r *PGRepository) assignments(ctx context.Context, kind, userID string) ([]Assignment, error) {
	rows, err := r.pool.Query(ctx, `SELECT user_id, role, begin_time, end_time, begin_date, end_date,
		begin_lock_date, end_lock_date, day_mask, timeout_mins, assigned_at
		FROM user_roles WHERE user_id = $1 AND kind = $2 ORDER BY role`,
		shared.NormalizeName(userID), kind)
	if err != nil {
		return nil, shared.Wrap(shared.KindStoreUnavailable, err, "users: list assignments")
	}
	defer rows.Close()
	var result []Assignment
	for rows.Next() {
		var a Assignment
		err := rows.Scan(&a.UserID, &a.Role,
			&a.Constraint.BeginTime, &a.Constraint.EndTime,
			&a.Constraint.BeginDate, &a.Constraint.EndDate,
			&a.Constraint.BeginLockDate, &a.Constraint.EndLockDate,
			&a.Constraint.DayMask, &a.Constraint.TimeoutMins, &a.AssignedAt)
		if err != nil {
			return nil, shared.Wrap(shared.KindStoreUnavailable, err, "users: scan assignment")
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Wrap(shared.KindStoreUnavailable, err, "users: list assignments")
	}
	return result, nil
}

func (r *PGRepository) assignedUsers(ctx context.Context, kind, role string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT user_id FROM user_roles WHERE role = $1 AND kind = $2 ORDER BY user_id`,
		shared.NormalizeName(role), kind)
	if err != nil {
		return nil, shared.Wrap(shared.KindStoreUnavailable, err, "users: assigned users")
	}
	defer rows.Close()
	var result []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, shared.Wrap(shared.KindStoreUnavailable, err, "users: scan assigned user")
		}
		result = append(result, id)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Wrap(shared.KindStoreUnavailable, err, "users: assigned users")
	}
	return result, nil
}

// AssignRole records a user↔role edge.
func (r *PGRepository) AssignRole(ctx context.Context, a Assignment) error {
	return r.assign(ctx, assignKindRole, a)
}

// DeassignRole removes a user↔role edge.
func (r *PGRepository) DeassignRole(ctx context.Context, userID, role string) error {
	return r.deassign(ctx, assignKindRole, userID, role)
}

// Assignments lists a user's role assignments.
func (r *PGRepository) Assignments(ctx context.Context, userID string) ([]Assignment, error) {
	return r.assignments(ctx, assignKindRole, userID)
}

// AssignedUsers lists users directly assigned to a role.
func (r *PGRepository) AssignedUsers(ctx context.Context, role string) ([]string, error) {
	return r.assignedUsers(ctx, assignKindRole, role)
}

// AssignAdminRole records a user↔admin-role edge.
func (r *PGRepository) AssignAdminRole(ctx context.Context, a Assignment) error {
	return r.assign(ctx, assignKindAdmin, a)
}

// DeassignAdminRole removes a user↔admin-role edge.
func (r *PGRepository) DeassignAdminRole(ctx context.Context, userID, adminRole string) error {
	return r.deassign(ctx, assignKindAdmin, userID, adminRole)
}

// AdminAssignments lists a user's admin-role assignments.
func (r *PGRepository) AdminAssignments(ctx context.Context, userID string) ([]Assignment, error) {
	return r.assignments(ctx, assignKindAdmin, userID)
}

// AssignedAdminUsers lists users directly assigned to an admin role.
func (r *PGRepository) AssignedAdminUsers(ctx context.Context, adminRole string) ([]string, error) {
	return r.assignedUsers(ctx, assignKindAdmin, adminRole)
}

// DeassignRoleFromAllUsers drops every assignment of a role. Used by role
// deletion; deleting zero rows is fine.
func (r *PGRepository) DeassignRoleFromAllUsers(ctx context.Context, role string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM user_roles WHERE role = $1 AND kind = $2`,
		shared.NormalizeName(role), assignKindRole)
	if err != nil {
		return shared.Wrap(shared.KindStoreUnavailable, err, "users: deassign role everywhere")
	}
	return nil
}

// DeassignAdminRoleFromAllUsers drops every assignment of an admin role.
func (r *PGRepository) DeassignAdminRoleFromAllUsers(ctx context.Context, adminRole string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM user_roles WHERE role = $1 AND kind = $2`,
		shared.NormalizeName(adminRole), assignKindAdmin)
	if err != nil {
		return shared.Wrap(shared.KindStoreUnavailable, err, "users: deassign admin role everywhere")
	}
	return nil
}

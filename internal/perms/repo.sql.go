package perms

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

// PGRepository provides PostgreSQL backed persistence for permission
// objects, permissions and grants.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

var _ Repository = (*PGRepository)(nil)

const objectColumns = `name, description, org_unit, type, props, created_at, updated_at`

func scanObject(row pgx.Row) (*Object, error) {
	var (
		obj   Object
		props []byte
	)
	err := row.Scan(&obj.Name, &obj.Description, &obj.OrgUnit, &obj.Type,
		&props, &obj.CreatedAt, &obj.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(props) > 0 {
		_ = json.Unmarshal(props, &obj.Props)
	}
	return &obj, nil
}

// GetObject fetches a permission object by name.
func (r *PGRepository) GetObject(ctx context.Context, name string) (*Object, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+objectColumns+` FROM perm_objects WHERE name = $1`,
		shared.NormalizeName(name))
	obj, err := scanObject(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.E(shared.KindNotFound, "perms: object %s not found", name)
		}
		return nil, shared.Wrap(shared.KindStoreUnavailable, err, "perms: get object")
	}
	return obj, nil
}

// CreateObject inserts a permission object.
func (r *PGRepository) CreateObject(ctx context.Context, obj Object) error {
	props, err := json.Marshal(obj.Props)
	if err != nil {
		return shared.Wrap(shared.KindValidation, err, "perms: marshal props")
	}
	now := time.Now().UTC()
	_, err = r.pool.Exec(ctx, `INSERT INTO perm_objects (`+objectColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		shared.NormalizeName(obj.Name), obj.Description, shared.NormalizeName(obj.OrgUnit),
		obj.Type, props, now, now)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return shared.E(shared.KindAlreadyExists, "perms: object %s already exists", obj.Name)
		}
		return shared.Wrap(shared.KindStoreUnavailable, err, "perms: create object")
	}
	return nil
}

// UpdateObject replaces an object's mutable fields.
func (r *PGRepository) UpdateObject(ctx context.Context, obj Object) error {
	props, err := json.Marshal(obj.Props)
	if err != nil {
		return shared.Wrap(shared.KindValidation, err, "perms: marshal props")
	}
	tag, err := r.pool.Exec(ctx, `UPDATE perm_objects SET description = $2, org_unit = $3,
		type = $4, props = $5, updated_at = $6 WHERE name = $1`,
		shared.NormalizeName(obj.Name), obj.Description, shared.NormalizeName(obj.OrgUnit),
		obj.Type, props, time.Now().UTC())
	if err != nil {
		return shared.Wrap(shared.KindStoreUnavailable, err, "perms: update object")
	}
	if tag.RowsAffected() == 0 {
		return shared.E(shared.KindNotFound, "perms: object %s not found", obj.Name)
	}
	return nil
}

// DeleteObject removes an object together with its permissions and grants.
func (r *PGRepository) DeleteObject(ctx context.Context, name string) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		name = shared.NormalizeName(name)
		if _, err := tx.Exec(ctx, `DELETE FROM perm_grants WHERE object = $1`, name); err != nil {
			return shared.Wrap(shared.KindStoreUnavailable, err, "perms: delete object grants")
		}
		if _, err := tx.Exec(ctx, `DELETE FROM permissions WHERE object = $1`, name); err != nil {
			return shared.Wrap(shared.KindStoreUnavailable, err, "perms: delete object permissions")
		}
		tag, err := tx.Exec(ctx, `DELETE FROM perm_objects WHERE name = $1`, name)
		if err != nil {
			return shared.Wrap(shared.KindStoreUnavailable, err, "perms: delete object")
		}
		if tag.RowsAffected() == 0 {
			return shared.E(shared.KindNotFound, "perms: object %s not found", name)
		}
		return nil
	})
}

// SearchObjects returns objects whose name contains the folded substring.
func (r *PGRepository) SearchObjects(ctx context.Context, substring string) ([]Object, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+objectColumns+` FROM perm_objects
		WHERE name LIKE '%' || $1 || '%' ORDER BY name`,
		shared.NormalizeName(substring))
	if err != nil {
		return nil, shared.Wrap(shared.KindStoreUnavailable, err, "perms: search objects")
	}
	defer rows.Close()
	var result []Object
	for rows.Next() {
		obj, err := scanObject(rows)
		if err != nil {
			return nil, shared.Wrap(shared.KindStoreUnavailable, err, "perms: scan object")
		}
		result = append(result, *obj)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Wrap(shared.KindStoreUnavailable, err, "perms: search objects")
	}
	return result, nil
}

func scanPermission(row pgx.Row) (*Permission, error) {
	var (
		perm  Permission
		props []byte
	)
	err := row.Scan(&perm.Object, &perm.Operation, &perm.ObjectID, &perm.Description,
		&props, &perm.CreatedAt, &perm.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(props) > 0 {
		_ = json.Unmarshal(props, &perm.Props)
	}
	return &perm, nil
}

const permColumns = `object, operation, object_id, description, props, created_at, updated_at`

// GetPermission fetches a permission with its grants attached. objectID is
// "" for permissions on the object as a whole.
func (r *PGRepository) GetPermission(ctx context.Context, object, operation, objectID string) (*Permission, error) {
	object = shared.NormalizeName(object)
	operation = shared.NormalizeName(operation)
	row := r.pool.QueryRow(ctx, `SELECT `+permColumns+` FROM permissions
		WHERE object = $1 AND operation = $2 AND object_id = $3`, object, operation, objectID)
	perm, err := scanPermission(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.E(shared.KindNotFound, "perms: permission %s.%s not found", object, operation)
		}
		return nil, shared.Wrap(shared.KindStoreUnavailable, err, "perms: get permission")
	}
	if err := r.loadGrants(ctx, perm); err != nil {
		return nil, err
	}
	return perm, nil
}

func (r *PGRepository) loadGrants(ctx context.Context, perm *Permission) error {
	rows, err := r.pool.Query(ctx, `SELECT grantee, grantee_kind FROM perm_grants
		WHERE object = $1 AND operation = $2 AND object_id = $3 ORDER BY grantee`,
		perm.Object, perm.Operation, perm.ObjectID)
	if err != nil {
		return shared.Wrap(shared.KindStoreUnavailable, err, "perms: load grants")
	}
	defer rows.Close()
	for rows.Next() {
		var grantee, kind string
		if err := rows.Scan(&grantee, &kind); err != nil {
			return shared.Wrap(shared.KindStoreUnavailable, err, "perms: scan grant")
		}
		switch kind {
		case granteeRole:
			perm.Roles = append(perm.Roles, grantee)
		case granteeUser:
			perm.Users = append(perm.Users, grantee)
		}
	}
	if err := rows.Err(); err != nil {
		return shared.Wrap(shared.KindStoreUnavailable, err, "perms: load grants")
	}
	return nil
}

const (
	granteeRole = "ROLE"
	granteeUser = "USER"
)

// CreatePermission inserts a permission under an existing object.
func (r *PGRepository) CreatePermission(ctx context.Context, perm Permission) error {
	props, err := json.Marshal(perm.Props)
	if err != nil {
		return shared.Wrap(shared.KindValidation, err, "perms: marshal props")
	}
	now := time.Now().UTC()
	_, err = r.pool.Exec(ctx, `INSERT INTO permissions (`+permColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		shared.NormalizeName(perm.Object), shared.NormalizeName(perm.Operation),
		perm.ObjectID, perm.Description, props, now, now)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return shared.E(shared.KindAlreadyExists, "perms: permission %s.%s already exists", perm.Object, perm.Operation)
		}
		return shared.Wrap(shared.KindStoreUnavailable, err, "perms: create permission")
	}
	return nil
}

// UpdatePermission replaces a permission's description and props.
func (r *PGRepository) UpdatePermission(ctx context.Context, perm Permission) error {
	props, err := json.Marshal(perm.Props)
	if err != nil {
		return shared.Wrap(shared.KindValidation, err, "perms: marshal props")
	}
	tag, err := r.pool.Exec(ctx, `UPDATE permissions SET description = $4, props = $5, updated_at = $6
		WHERE object = $1 AND operation = $2 AND object_id = $3`,
		shared.NormalizeName(perm.Object), shared.NormalizeName(perm.Operation),
		perm.ObjectID, perm.Description, props, time.Now().UTC())
	if err != nil {
		return shared.Wrap(shared.KindStoreUnavailable, err, "perms: update permission")
	}
	if tag.RowsAffected() == 0 {
		return shared.E(shared.KindNotFound, "perms: permission %s.%s not found", perm.Object, perm.Operation)
	}
	return nil
}

// DeletePermission removes a permission and its grants.
func (r *PGRepository) DeletePermission(ctx context.Context, object, operation, objectID string) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		object = shared.NormalizeName(object)
		operation = shared.NormalizeName(operation)
		if _, err := tx.Exec(ctx, `DELETE FROM perm_grants
			WHERE object = $1 AND operation = $2 AND object_id = $3`,
			object, operation, objectID); err != nil {
			return shared.Wrap(shared.KindStoreUnavailable, err, "perms: delete permission grants")
		}
		tag, err := tx.Exec(ctx, `DELETE FROM permissions
			WHERE object = $1 AND operation = $2 AND object_id = $3`,
			object, operation, objectID)
		if err != nil {
			return shared.Wrap(shared.KindStoreUnavailable, err, "perms: delete permission")
		}
		if tag.RowsAffected() == 0 {
			return shared.E(shared.KindNotFound, "perms: permission %s.%s not found", object, operation)
		}
		return nil
	})
}

func (r *PGRepository) queryPermissions(ctx context.Context, query string, args ...any) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, shared.Wrap(shared.KindStoreUnavailable, err, "perms: query permissions")
	}
	defer rows.Close()
	var result []Permission
	for rows.Next() {
		perm, err := scanPermission(rows)
		if err != nil {
			return nil, shared.Wrap(shared.KindStoreUnavailable, err, "perms: scan permission")
		}
		result = append(result, *perm)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Wrap(shared.KindStoreUnavailable, err, "perms: query permissions")
	}
	return result, nil
}

// SearchPermissions returns permissions whose object name contains the
// folded substring.
func (r *PGRepository) SearchPermissions(ctx context.Context, objectSubstring string) ([]Permission, error) {
	return r.queryPermissions(ctx, `SELECT `+permColumns+` FROM permissions
		WHERE object LIKE '%' || $1 || '%' ORDER BY object, operation, object_id`,
		shared.NormalizeName(objectSubstring))
}

// ObjectPermissions lists the permissions under an object.
func (r *PGRepository) ObjectPermissions(ctx context.Context, object string) ([]Permission, error) {
	return r.queryPermissions(ctx, `SELECT `+permColumns+` FROM permissions
		WHERE object = $1 ORDER BY operation, object_id`, shared.NormalizeName(object))
}

func (r *PGRepository) grant(ctx context.Context, object, operation, objectID, grantee, kind string) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO perm_grants (object, operation, object_id, grantee, grantee_kind, granted_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		shared.NormalizeName(object), shared.NormalizeName(operation), objectID,
		shared.NormalizeName(grantee), kind, time.Now().UTC())
	if err != nil {
		if db.IsUniqueViolation(err) {
			return shared.E(shared.KindAlreadyExists, "perms: %s already granted %s.%s", grantee, object, operation)
		}
		return shared.Wrap(shared.KindStoreUnavailable, err, "perms: grant permission")
	}
	return nil
}

func (r *PGRepository) revoke(ctx context.Context, object, operation, objectID, grantee, kind string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM perm_grants
		WHERE object = $1 AND operation = $2 AND object_id = $3 AND grantee = $4 AND grantee_kind = $5`,
		shared.NormalizeName(object), shared.NormalizeName(operation), objectID,
		shared.NormalizeName(grantee), kind)
	if err != nil {
		return shared.Wrap(shared.KindStoreUnavailable, err, "perms: revoke permission")
	}
	if tag.RowsAffected() == 0 {
		return shared.E(shared.KindNotFound, "perms: %s holds no grant on %s.%s", grantee, object, operation)
	}
	return nil
}

// GrantToRole grants a permission to a role.
func (r *PGRepository) GrantToRole(ctx context.Context, object, operation, objectID, role string) error {
	return r.grant(ctx, object, operation, objectID, role, granteeRole)
}

// RevokeFromRole revokes a role's grant.
func (r *PGRepository) RevokeFromRole(ctx context.Context, object, operation, objectID, role string) error {
	return r.revoke(ctx, object, operation, objectID, role, granteeRole)
}

// GrantToUser grants a permission directly to a user.
func (r *PGRepository) GrantToUser(ctx context.Context, object, operation, objectID, userID string) error {
	return r.grant(ctx, object, operation, objectID, userID, granteeUser)
}

// RevokeFromUser revokes a user's direct grant.
func (r *PGRepository) RevokeFromUser(ctx context.Context, object, operation, objectID, userID string) error {
	return r.revoke(ctx, object, operation, objectID, userID, granteeUser)
}

// GrantedToRoles returns permissions granted to any of the given roles.
func (r *PGRepository) GrantedToRoles(ctx context.Context, roles []string) ([]Permission, error) {
	if len(roles) == 0 {
		return nil, nil
	}
	return r.queryPermissions(ctx, `SELECT DISTINCT p.object, p.operation, p.object_id, p.description, p.props, p.created_at, p.updated_at
		FROM permissions p JOIN perm_grants g ON g.object = p.object AND g.operation = p.operation AND g.object_id = p.object_id
		WHERE g.grantee_kind = 'ROLE' AND g.grantee = ANY($1)
		ORDER BY p.object, p.operation, p.object_id`, shared.NormalizeNames(roles))
}

// GrantedToUser returns permissions granted directly to a user.
func (r *PGRepository) GrantedToUser(ctx context.Context, userID string) ([]Permission, error) {
	return r.queryPermissions(ctx, `SELECT p.object, p.operation, p.object_id, p.description, p.props, p.created_at, p.updated_at
		FROM permissions p JOIN perm_grants g ON g.object = p.object AND g.operation = p.operation AND g.object_id = p.object_id
		WHERE g.grantee_kind = 'USER' AND g.grantee = $1
		ORDER BY p.object, p.operation, p.object_id`, shared.NormalizeName(userID))
}

// RevokeRoleEverywhere drops every grant held by a role. Used by role
// deletion; deleting zero rows is fine.
func (r *PGRepository) RevokeRoleEverywhere(ctx context.Context, role string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM perm_grants WHERE grantee = $1 AND grantee_kind = $2`,
		shared.NormalizeName(role), granteeRole)
	if err != nil {
		return shared.Wrap(shared.KindStoreUnavailable, err, "perms: revoke role everywhere")
	}
	return nil
}

// RevokeUserEverywhere drops every direct grant held by a user.
func (r *PGRepository) RevokeUserEverywhere(ctx context.Context, userID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM perm_grants WHERE grantee = $1 AND grantee_kind = $2`,
		shared.NormalizeName(userID), granteeUser)
	if err != nil {
		return shared.Wrap(shared.KindStoreUnavailable, err, "perms: revoke user everywhere")
	}
	return nil
}

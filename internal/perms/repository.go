package perms

import (
	"context"

	"github.com/bastion-iam/bastion/internal/roles"
	"github.com/bastion-iam/bastion/internal/users"
)

// Repository defines persistence for permission objects, permissions and
// their role/user grants.
type Repository interface {
	GetObject(ctx context.Context, name string) (*Object, error)
	CreateObject(ctx context.Context, obj Object) error
	UpdateObject(ctx context.Context, obj Object) error
	DeleteObject(ctx context.Context, name string) error
	SearchObjects(ctx context.Context, substring string) ([]Object, error)

	GetPermission(ctx context.Context, object, operation, objectID string) (*Permission, error)
	CreatePermission(ctx context.Context, perm Permission) error
	UpdatePermission(ctx context.Context, perm Permission) error
	DeletePermission(ctx context.Context, object, operation, objectID string) error
	SearchPermissions(ctx context.Context, objectSubstring string) ([]Permission, error)
	ObjectPermissions(ctx context.Context, object string) ([]Permission, error)

	GrantToRole(ctx context.Context, object, operation, objectID, role string) error
	RevokeFromRole(ctx context.Context, object, operation, objectID, role string) error
	GrantToUser(ctx context.Context, object, operation, objectID, userID string) error
	RevokeFromUser(ctx context.Context, object, operation, objectID, userID string) error

	// GrantedToRoles returns permissions granted directly to any of the
	// given roles. Used by the access resolver after hierarchy expansion.
	GrantedToRoles(ctx context.Context, roles []string) ([]Permission, error)
	GrantedToUser(ctx context.Context, userID string) ([]Permission, error)

	// Cascade hooks used by role and user deletion.
	RevokeRoleEverywhere(ctx context.Context, role string) error
	RevokeUserEverywhere(ctx context.Context, userID string) error
}

// RoleDirectory verifies a role exists before a grant is recorded.
// Implemented by the roles repository.
type RoleDirectory interface {
	GetRole(ctx context.Context, name string) (*roles.Role, error)
}

// UserDirectory verifies a user exists before a grant is recorded.
// Implemented by the users repository.
type UserDirectory interface {
	Get(ctx context.Context, id string) (*users.User, error)
}

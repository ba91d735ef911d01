package roles

import (
	"context"
)

// Repository defines persistence for roles and admin roles. Implementations
// report absence as a not-found security error and uniqueness violations as
// already-exists so services can surface kinds unchanged.
type Repository interface {
	GetRole(ctx context.Context, name string) (*Role, error)
	CreateRole(ctx context.Context, role Role) error
	UpdateRole(ctx context.Context, role Role) error
	DeleteRole(ctx context.Context, name string) error
	SearchRoles(ctx context.Context, substring string) ([]Role, error)

	GetAdminRole(ctx context.Context, name string) (*AdminRole, error)
	CreateAdminRole(ctx context.Context, role AdminRole) error
	UpdateAdminRole(ctx context.Context, role AdminRole) error
	DeleteAdminRole(ctx context.Context, name string) error
	SearchAdminRoles(ctx context.Context, substring string) ([]AdminRole, error)
}

// AssignmentCleaner removes user assignments that reference a role being
// deleted. Implemented by the users repository.
type AssignmentCleaner interface {
	DeassignRoleFromAllUsers(ctx context.Context, role string) error
	DeassignAdminRoleFromAllUsers(ctx context.Context, adminRole string) error
}

// GrantCleaner removes permission grants that reference a role being
// deleted. Implemented by the perms repository.
type GrantCleaner interface {
	RevokeRoleEverywhere(ctx context.Context, role string) error
}

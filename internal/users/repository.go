package users

import (
	"context"

	"github.com/bastion-iam/bastion/internal/constraint"
	"github.com/bastion-iam/bastion/internal/roles"
)

// Repository defines persistence for users and their role assignments.
type Repository interface {
	Get(ctx context.Context, id string) (*User, error)
	Create(ctx context.Context, user User) error
	Update(ctx context.Context, user User) error
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, substring string) ([]User, error)

	SetLocked(ctx context.Context, id string, locked bool) error
	SetDisabled(ctx context.Context, id string, disabled bool) error
	SetPassword(ctx context.Context, id, hash string) error

	AssignRole(ctx context.Context, a Assignment) error
	DeassignRole(ctx context.Context, userID, role string) error
	Assignments(ctx context.Context, userID string) ([]Assignment, error)
	AssignedUsers(ctx context.Context, role string) ([]string, error)

	AssignAdminRole(ctx context.Context, a Assignment) error
	DeassignAdminRole(ctx context.Context, userID, adminRole string) error
	AdminAssignments(ctx context.Context, userID string) ([]Assignment, error)
	AssignedAdminUsers(ctx context.Context, adminRole string) ([]string, error)

	// Cascade hooks used by role deletion.
	DeassignRoleFromAllUsers(ctx context.Context, role string) error
	DeassignAdminRoleFromAllUsers(ctx context.Context, adminRole string) error
}

// RoleDirectory resolves role entities during assignment checks.
// Implemented by the roles repository.
type RoleDirectory interface {
	GetRole(ctx context.Context, name string) (*roles.Role, error)
	GetAdminRole(ctx context.Context, name string) (*roles.AdminRole, error)
}

// SeparationSets supplies the SSD/DSD sets containing a role. Implemented
// by the sdset repository.
type SeparationSets interface {
	StaticSets(ctx context.Context, role string) ([]constraint.RoleSet, error)
	DynamicSets(ctx context.Context, role string) ([]constraint.RoleSet, error)
}

// GrantCleaner revokes a user's direct permission grants when the account
// is disabled or deleted. Implemented by the perms repository.
type GrantCleaner interface {
	RevokeUserEverywhere(ctx context.Context, userID string) error
}

package sdset

import (
	"context"

	"github.com/bastion-iam/bastion/internal/roles"
)

// Repository defines persistence for separation-of-duty sets.
type Repository interface {
	Get(ctx context.Context, typ SetType, name string) (*Set, error)
	Create(ctx context.Context, set Set) error
	Update(ctx context.Context, set Set) error
	Delete(ctx context.Context, typ SetType, name string) error
	Search(ctx context.Context, typ SetType, substring string) ([]Set, error)

	AddMember(ctx context.Context, typ SetType, name, role string) error
	DeleteMember(ctx context.Context, typ SetType, name, role string) error
	SetCardinality(ctx context.Context, typ SetType, name string, cardinality int) error

	// ContainingRole returns the sets of the given type that include the
	// role as a member.
	ContainingRole(ctx context.Context, typ SetType, role string) ([]Set, error)
}

// RoleDirectory verifies member roles exist. Implemented by the roles
// repository.
type RoleDirectory interface {
	GetRole(ctx context.Context, name string) (*roles.Role, error)
}

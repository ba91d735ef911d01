package roles

import (
	"time"

	"github.com/bastion-iam/bastion/internal/constraint"
)

// Role is an RBAC role: a named grouping of permissions that users activate
// through sessions. Parents and Children are the immediate inheritance
// neighbours in the role DAG.
type Role struct {
	Name        string
	Description string
	Constraint  constraint.Temporal
	Parents     []string
	Children    []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AdminRole is an administrative role. Beyond the plain role fields it
// carries the scope an administrator holding it may manage: a contiguous
// range over the RBAC role hierarchy and org-unit sets for users and
// permission objects.
type AdminRole struct {
	Name        string
	Description string
	Constraint  constraint.Temporal

	// Range over the RBAC role hierarchy. Empty bounds are open;
	// inclusivity governs whether the bound role itself is in scope.
	BeginRange     string
	EndRange       string
	BeginInclusive bool
	EndInclusive   bool

	// Org-unit scopes for delegated user and permission administration.
	UserOUs []string
	PermOUs []string

	Parents   []string
	Children  []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

package users

import (
	"time"

	"github.com/bastion-iam/bastion/internal/constraint"
)

// User is a directory principal. The constraint governs when the account
// itself may open sessions; each role assignment additionally carries its
// own constraint.
type User struct {
	ID           string
	Description  string
	OrgUnit      string
	PasswordHash string
	Constraint   constraint.Temporal
	Locked       bool
	Disabled     bool
	Props        map[string]string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Assignment is a user↔role edge with its own activation constraint,
// distinct from the role's. Both must pass for the role to activate.
type Assignment struct {
	UserID     string
	Role       string
	Constraint constraint.Temporal
	AssignedAt time.Time
}

package sdset

import (
	"time"

	"github.com/bastion-iam/bastion/internal/constraint"
)

// SetType discriminates static from dynamic separation-of-duty sets.
type SetType string

const (
	// TypeStatic sets constrain role assignment and activation.
	TypeStatic SetType = "SSD"
	// TypeDynamic sets constrain concurrent activation within a session.
	TypeDynamic SetType = "DSD"
)

// Set is a separation-of-duty constraint: a user may hold (SSD) or
// concurrently activate (DSD) at most Cardinality-1 of the member roles.
type Set struct {
	Name        string
	Type        SetType
	Description string
	Members     []string
	Cardinality int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RoleSet converts to the checker's representation.
func (s *Set) RoleSet() constraint.RoleSet {
	return constraint.NewRoleSet(s.Name, s.Members, s.Cardinality)
}

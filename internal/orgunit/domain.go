package orgunit

import (
	"time"

	"github.com/bastion-iam/bastion/internal/hierarchy"
)

// Type discriminates the two independent org-unit trees.
type Type string

const (
	// TypeUser org units scope user administration.
	TypeUser Type = "USER"
	// TypePerm org units scope permission-object administration.
	TypePerm Type = "PERM"
)

// HierarchyKind maps an org-unit type onto its inheritance graph.
func (t Type) HierarchyKind() hierarchy.Kind {
	if t == TypePerm {
		return hierarchy.KindPermOU
	}
	return hierarchy.KindUserOU
}

// OrgUnit is an organizational unit node. Delegated administrators are
// scoped to subtrees of these.
type OrgUnit struct {
	Name        string
	Type        Type
	Description string
	Parents     []string
	Children    []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

package constraint

import (
	"github.com/bastion-iam/bastion/internal/shared"
)

// RoleSet is the checker's view of an SSD or DSD set: the member roles and
// the cardinality n. A user may hold at most n-1 roles from the set.
type RoleSet struct {
	Name        string
	Members     map[string]struct{}
	Cardinality int
}

// NewRoleSet builds a RoleSet from a member list, folding names.
func NewRoleSet(name string, members []string, cardinality int) RoleSet {
	set := RoleSet{
		Name:        shared.NormalizeName(name),
		Members:     make(map[string]struct{}, len(members)),
		Cardinality: cardinality,
	}
	for _, m := range members {
		set.Members[shared.NormalizeName(m)] = struct{}{}
	}
	return set
}

// CheckSeparation verifies that adding candidate to the user's held roles
// keeps every supplied set below its cardinality. held is the user's
// assigned roles for static (and dynamic) checks at assignment time, or the
// session's activated roles for static checks at activation time; sets
// should be those containing candidate.
func CheckSeparation(held []string, candidate string, sets []RoleSet) error {
	candidate = shared.NormalizeName(candidate)
	for _, set := range sets {
		if _, ok := set.Members[candidate]; !ok {
			continue
		}
		matched := 1 // the candidate itself
		for _, role := range held {
			role = shared.NormalizeName(role)
			if role == candidate {
				continue
			}
			if _, ok := set.Members[role]; ok {
				matched++
			}
		}
		if set.Cardinality >= 2 && matched >= set.Cardinality {
			return shared.E(shared.KindSeparationOfDuty,
				"constraint: activating %s would give %d roles from set %s (limit %d)",
				candidate, matched, set.Name, set.Cardinality)
		}
	}
	return nil
}

package sdset

import (
	"context"
	"strings"

	"github.com/bastion-iam/bastion/internal/audit"
	"github.com/bastion-iam/bastion/internal/constraint"
	"github.com/bastion-iam/bastion/internal/shared"
)

// Service orchestrates separation-of-duty set administration. A set is
// only coherent when 2 <= cardinality <= member count; mutations check
// the bound up front for a fast error, and the SQL repository re-checks
// it inside its transactions so concurrent mutations cannot break it.
type Service struct {
	repo     Repository
	roles    RoleDirectory
	recorder audit.Recorder
}

// NewService builds a Service.
func NewService(repo Repository, roles RoleDirectory, recorder audit.Recorder) *Service {
	return &Service{repo: repo, roles: roles, recorder: recorder}
}

func (s *Service) audit(ctx context.Context, op, entityID string, err error) {
	outcome := audit.OutcomeSuccess
	if err != nil {
		outcome = audit.OutcomeFailure
	}
	s.recorder.Record(ctx, audit.Event{
		Op:        op,
		Principal: audit.PrincipalFromContext(ctx),
		Entity:    "sdset",
		EntityID:  entityID,
		Outcome:   outcome,
	})
}

func opPrefix(typ SetType) string {
	if typ == TypeDynamic {
		return "dsd"
	}
	return "ssd"
}

func validType(typ SetType) error {
	if typ != TypeStatic && typ != TypeDynamic {
		return shared.E(shared.KindValidation, "sdset: unknown set type %q", typ)
	}
	return nil
}

func checkBounds(cardinality, members int) error {
	if cardinality < 2 {
		return shared.E(shared.KindValidation, "sdset: cardinality must be at least 2")
	}
	if cardinality > members {
		return shared.E(shared.KindValidation,
			"sdset: cardinality %d exceeds member count %d", cardinality, members)
	}
	return nil
}

// Create adds a set. Every member must name an existing role.
func (s *Service) Create(ctx context.Context, set Set) (*Set, error) {
	if err := validType(set.Type); err != nil {
		return nil, err
	}
	if strings.TrimSpace(set.Name) == "" {
		return nil, shared.E(shared.KindValidation, "sdset: set name required")
	}
	set.Members = shared.NormalizeNames(set.Members)
	if err := checkBounds(set.Cardinality, len(set.Members)); err != nil {
		return nil, err
	}
	for _, role := range set.Members {
		if _, err := s.roles.GetRole(ctx, role); err != nil {
			return nil, err
		}
	}
	err := s.repo.Create(ctx, set)
	s.audit(ctx, opPrefix(set.Type)+".create", set.Name, err)
	if err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, set.Type, set.Name)
}

// Update replaces the description and cardinality.
func (s *Service) Update(ctx context.Context, set Set) (*Set, error) {
	if err := validType(set.Type); err != nil {
		return nil, err
	}
	existing, err := s.repo.Get(ctx, set.Type, set.Name)
	if err != nil {
		return nil, err
	}
	if err := checkBounds(set.Cardinality, len(existing.Members)); err != nil {
		return nil, err
	}
	err = s.repo.Update(ctx, set)
	s.audit(ctx, opPrefix(set.Type)+".update", set.Name, err)
	if err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, set.Type, set.Name)
}

// Get reads a set.
func (s *Service) Get(ctx context.Context, typ SetType, name string) (*Set, error) {
	if err := validType(typ); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, typ, name)
}

// Search returns sets of a type matching the substring.
func (s *Service) Search(ctx context.Context, typ SetType, substring string) ([]Set, error) {
	if err := validType(typ); err != nil {
		return nil, err
	}
	return s.repo.Search(ctx, typ, substring)
}

// Delete removes a set. Deleting a set lifts its constraint; existing
// assignments and sessions are untouched.
func (s *Service) Delete(ctx context.Context, typ SetType, name string) error {
	if err := validType(typ); err != nil {
		return err
	}
	err := s.repo.Delete(ctx, typ, name)
	s.audit(ctx, opPrefix(typ)+".delete", name, err)
	return err
}

// AddMember adds an existing role to a set.
func (s *Service) AddMember(ctx context.Context, typ SetType, name, role string) (*Set, error) {
	if err := validType(typ); err != nil {
		return nil, err
	}
	if _, err := s.repo.Get(ctx, typ, name); err != nil {
		return nil, err
	}
	if _, err := s.roles.GetRole(ctx, role); err != nil {
		return nil, err
	}
	err := s.repo.AddMember(ctx, typ, name, role)
	s.audit(ctx, opPrefix(typ)+".member.add", shared.NormalizeName(name)+":"+shared.NormalizeName(role), err)
	if err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, typ, name)
}

// DeleteMember removes a role from a set. Removal is rejected when it
// would leave fewer members than the cardinality; shrink the cardinality
// first.
func (s *Service) DeleteMember(ctx context.Context, typ SetType, name, role string) (*Set, error) {
	if err := validType(typ); err != nil {
		return nil, err
	}
	set, err := s.repo.Get(ctx, typ, name)
	if err != nil {
		return nil, err
	}
	if err := checkBounds(set.Cardinality, len(set.Members)-1); err != nil {
		return nil, err
	}
	err = s.repo.DeleteMember(ctx, typ, name, role)
	s.audit(ctx, opPrefix(typ)+".member.delete", shared.NormalizeName(name)+":"+shared.NormalizeName(role), err)
	if err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, typ, name)
}

// SetCardinality changes the cardinality within [2, member count].
func (s *Service) SetCardinality(ctx context.Context, typ SetType, name string, cardinality int) (*Set, error) {
	if err := validType(typ); err != nil {
		return nil, err
	}
	set, err := s.repo.Get(ctx, typ, name)
	if err != nil {
		return nil, err
	}
	if err := checkBounds(cardinality, len(set.Members)); err != nil {
		return nil, err
	}
	err = s.repo.SetCardinality(ctx, typ, name, cardinality)
	s.audit(ctx, opPrefix(typ)+".cardinality", set.Name, err)
	if err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, typ, name)
}

// SetsContainingRole returns the sets of a type that include the role.
func (s *Service) SetsContainingRole(ctx context.Context, typ SetType, role string) ([]Set, error) {
	if err := validType(typ); err != nil {
		return nil, err
	}
	return s.repo.ContainingRole(ctx, typ, role)
}

func (s *Service) roleSets(ctx context.Context, typ SetType, role string) ([]constraint.RoleSet, error) {
	sets, err := s.repo.ContainingRole(ctx, typ, role)
	if err != nil {
		return nil, err
	}
	out := make([]constraint.RoleSet, 0, len(sets))
	for i := range sets {
		out = append(out, sets[i].RoleSet())
	}
	return out, nil
}

// StaticSets returns the SSD sets containing the role, in checker form.
func (s *Service) StaticSets(ctx context.Context, role string) ([]constraint.RoleSet, error) {
	return s.roleSets(ctx, TypeStatic, role)
}

// DynamicSets returns the DSD sets containing the role, in checker form.
func (s *Service) DynamicSets(ctx context.Context, role string) ([]constraint.RoleSet, error) {
	return s.roleSets(ctx, TypeDynamic, role)
}

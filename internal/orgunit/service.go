package orgunit

import (
	"context"
	"strings"

	"github.com/bastion-iam/bastion/internal/audit"
	"github.com/bastion-iam/bastion/internal/hierarchy"
	"github.com/bastion-iam/bastion/internal/shared"
)

// Service orchestrates org-unit administration for both trees.
type Service struct {
	repo      Repository
	userGraph *hierarchy.Resolver
	permGraph *hierarchy.Resolver
	recorder  audit.Recorder
}

// NewService builds a Service.
func NewService(repo Repository, userGraph, permGraph *hierarchy.Resolver, recorder audit.Recorder) *Service {
	return &Service{repo: repo, userGraph: userGraph, permGraph: permGraph, recorder: recorder}
}

func (s *Service) graphFor(typ Type) *hierarchy.Resolver {
	if typ == TypePerm {
		return s.permGraph
	}
	return s.userGraph
}

func (s *Service) audit(ctx context.Context, op, entityID string, err error) {
	outcome := audit.OutcomeSuccess
	if err != nil {
		outcome = audit.OutcomeFailure
	}
	s.recorder.Record(ctx, audit.Event{
		Op:        op,
		Principal: audit.PrincipalFromContext(ctx),
		Entity:    "orgunit",
		EntityID:  entityID,
		Outcome:   outcome,
	})
}

func opPrefix(typ Type) string {
	if typ == TypePerm {
		return "permou"
	}
	return "userou"
}

func validType(typ Type) error {
	if typ != TypeUser && typ != TypePerm {
		return shared.E(shared.KindValidation, "orgunit: unknown org unit type %q", typ)
	}
	return nil
}

// Create adds an org unit.
func (s *Service) Create(ctx context.Context, ou OrgUnit) (*OrgUnit, error) {
	if err := validType(ou.Type); err != nil {
		return nil, err
	}
	if strings.TrimSpace(ou.Name) == "" {
		return nil, shared.E(shared.KindValidation, "orgunit: org unit name required")
	}
	err := s.repo.Create(ctx, ou)
	s.audit(ctx, opPrefix(ou.Type)+".create", ou.Name, err)
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, ou.Type, ou.Name)
}

// Update replaces an org unit's description.
func (s *Service) Update(ctx context.Context, ou OrgUnit) (*OrgUnit, error) {
	if err := validType(ou.Type); err != nil {
		return nil, err
	}
	err := s.repo.Update(ctx, ou)
	s.audit(ctx, opPrefix(ou.Type)+".update", ou.Name, err)
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, ou.Type, ou.Name)
}

// Get reads an org unit with its immediate hierarchy neighbours.
func (s *Service) Get(ctx context.Context, typ Type, name string) (*OrgUnit, error) {
	if err := validType(typ); err != nil {
		return nil, err
	}
	ou, err := s.repo.Get(ctx, typ, name)
	if err != nil {
		return nil, err
	}
	graph := s.graphFor(typ)
	if ou.Parents, err = graph.Parents(ctx, ou.Name); err != nil {
		return nil, err
	}
	if ou.Children, err = graph.Children(ctx, ou.Name); err != nil {
		return nil, err
	}
	return ou, nil
}

// Search returns org units of a type matching the substring.
func (s *Service) Search(ctx context.Context, typ Type, substring string) ([]OrgUnit, error) {
	if err := validType(typ); err != nil {
		return nil, err
	}
	return s.repo.Search(ctx, typ, substring)
}

// Delete removes an org unit after pruning its hierarchy edges.
func (s *Service) Delete(ctx context.Context, typ Type, name string) error {
	if err := validType(typ); err != nil {
		return err
	}
	ou, err := s.repo.Get(ctx, typ, name)
	if err != nil {
		return err
	}
	graph := s.graphFor(typ)
	parents, err := graph.Parents(ctx, ou.Name)
	if err != nil {
		return err
	}
	for _, parent := range parents {
		if err := graph.RemoveEdge(ctx, parent, ou.Name); err != nil && !shared.IsKind(err, shared.KindNotFound) {
			return err
		}
	}
	children, err := graph.Children(ctx, ou.Name)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := graph.RemoveEdge(ctx, ou.Name, child); err != nil && !shared.IsKind(err, shared.KindNotFound) {
			return err
		}
	}
	err = s.repo.Delete(ctx, typ, ou.Name)
	s.audit(ctx, opPrefix(typ)+".delete", ou.Name, err)
	return err
}

// AddInheritance records parent→child between two existing org units.
func (s *Service) AddInheritance(ctx context.Context, typ Type, parent, child string) error {
	if err := validType(typ); err != nil {
		return err
	}
	if _, err := s.repo.Get(ctx, typ, parent); err != nil {
		return err
	}
	if _, err := s.repo.Get(ctx, typ, child); err != nil {
		return err
	}
	err := s.graphFor(typ).AddEdge(ctx, parent, child)
	s.audit(ctx, opPrefix(typ)+".inherit.add", shared.NormalizeName(parent)+":"+shared.NormalizeName(child), err)
	return err
}

// DeleteInheritance removes a parent→child edge.
func (s *Service) DeleteInheritance(ctx context.Context, typ Type, parent, child string) error {
	if err := validType(typ); err != nil {
		return err
	}
	err := s.graphFor(typ).RemoveEdge(ctx, parent, child)
	s.audit(ctx, opPrefix(typ)+".inherit.delete", shared.NormalizeName(parent)+":"+shared.NormalizeName(child), err)
	return err
}

// Descendants returns the full subtree beneath an org unit, excluding
// the unit itself.
func (s *Service) Descendants(ctx context.Context, typ Type, name string) (map[string]struct{}, error) {
	if err := validType(typ); err != nil {
		return nil, err
	}
	return s.graphFor(typ).Descendants(ctx, name)
}

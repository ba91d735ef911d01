package roles

import (
	"context"
	"strings"

	"github.com/bastion-iam/bastion/internal/audit"
	"github.com/bastion-iam/bastion/internal/hierarchy"
	"github.com/bastion-iam/bastion/internal/shared"
)

// Service orchestrates role and admin-role administration: CRUD plus
// inheritance edits over the two independent graphs.
type Service struct {
	repo        Repository
	roleGraph   *hierarchy.Resolver
	adminGraph  *hierarchy.Resolver
	assignments AssignmentCleaner
	grants      GrantCleaner
	recorder    audit.Recorder
}

// NewService builds a Service.
func NewService(repo Repository, roleGraph, adminGraph *hierarchy.Resolver, assignments AssignmentCleaner, grants GrantCleaner, recorder audit.Recorder) *Service {
	return &Service{
		repo:        repo,
		roleGraph:   roleGraph,
		adminGraph:  adminGraph,
		assignments: assignments,
		grants:      grants,
		recorder:    recorder,
	}
}

func (s *Service) audit(ctx context.Context, op, entityID string, err error) {
	outcome := audit.OutcomeSuccess
	if err != nil {
		outcome = audit.OutcomeFailure
	}
	s.recorder.Record(ctx, audit.Event{
		Op:        op,
		Principal: audit.PrincipalFromContext(ctx),
		Entity:    "role",
		EntityID:  entityID,
		Outcome:   outcome,
	})
}

// CreateRole adds a role.
func (s *Service) CreateRole(ctx context.Context, role Role) (*Role, error) {
	if strings.TrimSpace(role.Name) == "" {
		return nil, shared.E(shared.KindValidation, "roles: role name required")
	}
	err := s.repo.CreateRole(ctx, role)
	s.audit(ctx, "role.create", role.Name, err)
	if err != nil {
		return nil, err
	}
	return s.GetRole(ctx, role.Name)
}

// UpdateRole replaces a role's description and constraint.
func (s *Service) UpdateRole(ctx context.Context, role Role) (*Role, error) {
	if strings.TrimSpace(role.Name) == "" {
		return nil, shared.E(shared.KindValidation, "roles: role name required")
	}
	err := s.repo.UpdateRole(ctx, role)
	s.audit(ctx, "role.update", role.Name, err)
	if err != nil {
		return nil, err
	}
	return s.GetRole(ctx, role.Name)
}

// GetRole reads a role with its immediate inheritance neighbours.
func (s *Service) GetRole(ctx context.Context, name string) (*Role, error) {
	role, err := s.repo.GetRole(ctx, name)
	if err != nil {
		return nil, err
	}
	if role.Parents, err = s.roleGraph.Parents(ctx, role.Name); err != nil {
		return nil, err
	}
	if role.Children, err = s.roleGraph.Children(ctx, role.Name); err != nil {
		return nil, err
	}
	return role, nil
}

// SearchRoles finds roles by name substring.
func (s *Service) SearchRoles(ctx context.Context, substring string) ([]Role, error) {
	return s.repo.SearchRoles(ctx, substring)
}

// DeleteRole removes a role and everything referencing it. Cleanup applies
// in a fixed order (grants, assignments, edges, row) with each step
// tolerating prior removal, so a retried failed delete converges.
func (s *Service) DeleteRole(ctx context.Context, name string) error {
	name = shared.NormalizeName(name)
	if _, err := s.repo.GetRole(ctx, name); err != nil {
		return err
	}
	err := s.deleteRoleCascade(ctx, name)
	s.audit(ctx, "role.delete", name, err)
	return err
}

func (s *Service) deleteRoleCascade(ctx context.Context, name string) error {
	if err := s.grants.RevokeRoleEverywhere(ctx, name); err != nil {
		return err
	}
	if err := s.assignments.DeassignRoleFromAllUsers(ctx, name); err != nil {
		return err
	}
	if err := s.pruneEdges(ctx, s.roleGraph, name); err != nil {
		return err
	}
	return s.repo.DeleteRole(ctx, name)
}

func (s *Service) pruneEdges(ctx context.Context, graph *hierarchy.Resolver, name string) error {
	parents, err := graph.Parents(ctx, name)
	if err != nil {
		return err
	}
	for _, p := range parents {
		if err := graph.RemoveEdge(ctx, p, name); err != nil && !shared.IsKind(err, shared.KindNotFound) {
			return err
		}
	}
	children, err := graph.Children(ctx, name)
	if err != nil {
		return err
	}
	for _, c := range children {
		if err := graph.RemoveEdge(ctx, name, c); err != nil && !shared.IsKind(err, shared.KindNotFound) {
			return err
		}
	}
	return nil
}

// CreateAdminRole adds an admin role after validating its range bounds
// reference existing RBAC roles.
func (s *Service) CreateAdminRole(ctx context.Context, role AdminRole) (*AdminRole, error) {
	if strings.TrimSpace(role.Name) == "" {
		return nil, shared.E(shared.KindValidation, "roles: admin role name required")
	}
	if err := s.checkRangeBounds(ctx, role); err != nil {
		return nil, err
	}
	err := s.repo.CreateAdminRole(ctx, role)
	s.audit(ctx, "adminrole.create", role.Name, err)
	if err != nil {
		return nil, err
	}
	return s.GetAdminRole(ctx, role.Name)
}

// UpdateAdminRole replaces an admin role's mutable fields.
func (s *Service) UpdateAdminRole(ctx context.Context, role AdminRole) (*AdminRole, error) {
	if strings.TrimSpace(role.Name) == "" {
		return nil, shared.E(shared.KindValidation, "roles: admin role name required")
	}
	if err := s.checkRangeBounds(ctx, role); err != nil {
		return nil, err
	}
	err := s.repo.UpdateAdminRole(ctx, role)
	s.audit(ctx, "adminrole.update", role.Name, err)
	if err != nil {
		return nil, err
	}
	return s.GetAdminRole(ctx, role.Name)
}

func (s *Service) checkRangeBounds(ctx context.Context, role AdminRole) error {
	for _, bound := range []string{role.BeginRange, role.EndRange} {
		if bound == "" {
			continue
		}
		if _, err := s.repo.GetRole(ctx, bound); err != nil {
			if shared.IsKind(err, shared.KindNotFound) {
				return shared.E(shared.KindValidation, "roles: range bound %s is not a role", bound)
			}
			return err
		}
	}
	return nil
}

// GetAdminRole reads an admin role with its immediate neighbours.
func (s *Service) GetAdminRole(ctx context.Context, name string) (*AdminRole, error) {
	role, err := s.repo.GetAdminRole(ctx, name)
	if err != nil {
		return nil, err
	}
	if role.Parents, err = s.adminGraph.Parents(ctx, role.Name); err != nil {
		return nil, err
	}
	if role.Children, err = s.adminGraph.Children(ctx, role.Name); err != nil {
		return nil, err
	}
	return role, nil
}

// SearchAdminRoles finds admin roles by name substring.
func (s *Service) SearchAdminRoles(ctx context.Context, substring string) ([]AdminRole, error) {
	return s.repo.SearchAdminRoles(ctx, substring)
}

// DeleteAdminRole removes an admin role, its user assignments, and its
// inheritance edges.
func (s *Service) DeleteAdminRole(ctx context.Context, name string) error {
	name = shared.NormalizeName(name)
	if _, err := s.repo.GetAdminRole(ctx, name); err != nil {
		return err
	}
	err := s.deleteAdminRoleCascade(ctx, name)
	s.audit(ctx, "adminrole.delete", name, err)
	return err
}

func (s *Service) deleteAdminRoleCascade(ctx context.Context, name string) error {
	if err := s.assignments.DeassignAdminRoleFromAllUsers(ctx, name); err != nil {
		return err
	}
	if err := s.pruneEdges(ctx, s.adminGraph, name); err != nil {
		return err
	}
	return s.repo.DeleteAdminRole(ctx, name)
}

// graphFor selects the resolver for a role kind. Only the two role graphs
// are addressable here; org-unit graphs belong to the orgunit service.
func (s *Service) graphFor(kind hierarchy.Kind) (*hierarchy.Resolver, error) {
	switch kind {
	case hierarchy.KindRole:
		return s.roleGraph, nil
	case hierarchy.KindAdminRole:
		return s.adminGraph, nil
	default:
		return nil, shared.E(shared.KindValidation, "roles: unsupported graph kind %s", kind)
	}
}

func (s *Service) roleExists(ctx context.Context, kind hierarchy.Kind, name string) error {
	var err error
	if kind == hierarchy.KindAdminRole {
		_, err = s.repo.GetAdminRole(ctx, name)
	} else {
		_, err = s.repo.GetRole(ctx, name)
	}
	return err
}

// AddInheritance records parent→child in the graph for the given kind.
// Both roles must exist; the edge must not duplicate or create a cycle.
func (s *Service) AddInheritance(ctx context.Context, kind hierarchy.Kind, parent, child string) error {
	graph, err := s.graphFor(kind)
	if err != nil {
		return err
	}
	if err := s.roleExists(ctx, kind, parent); err != nil {
		return err
	}
	if err := s.roleExists(ctx, kind, child); err != nil {
		return err
	}
	err = graph.AddEdge(ctx, parent, child)
	s.audit(ctx, "role.inherit.add", parent+"/"+child, err)
	return err
}

// DeleteInheritance prunes parent→child from the graph for the given kind.
func (s *Service) DeleteInheritance(ctx context.Context, kind hierarchy.Kind, parent, child string) error {
	graph, err := s.graphFor(kind)
	if err != nil {
		return err
	}
	err = graph.RemoveEdge(ctx, parent, child)
	s.audit(ctx, "role.inherit.delete", parent+"/"+child, err)
	return err
}

// AddAscendant creates a new role as an immediate parent of an existing one.
func (s *Service) AddAscendant(ctx context.Context, role Role, child string) (*Role, error) {
	created, err := s.CreateRole(ctx, role)
	if err != nil {
		return nil, err
	}
	if err := s.AddInheritance(ctx, hierarchy.KindRole, created.Name, child); err != nil {
		return nil, err
	}
	return s.GetRole(ctx, created.Name)
}

// AddDescendant creates a new role as an immediate child of an existing one.
func (s *Service) AddDescendant(ctx context.Context, role Role, parent string) (*Role, error) {
	created, err := s.CreateRole(ctx, role)
	if err != nil {
		return nil, err
	}
	if err := s.AddInheritance(ctx, hierarchy.KindRole, parent, created.Name); err != nil {
		return nil, err
	}
	return s.GetRole(ctx, created.Name)
}

package access

import (
	"context"
	"sort"

	"github.com/bastion-iam/bastion/internal/audit"
	"github.com/bastion-iam/bastion/internal/hierarchy"
	"github.com/bastion-iam/bastion/internal/perms"
	"github.com/bastion-iam/bastion/internal/session"
	"github.com/bastion-iam/bastion/internal/shared"
	"github.com/bastion-iam/bastion/internal/users"
)

// Grants reads permission grants. Implemented by the perms repository.
type Grants interface {
	GetPermission(ctx context.Context, object, operation, objectID string) (*perms.Permission, error)
	GrantedToRoles(ctx context.Context, roles []string) ([]perms.Permission, error)
	GrantedToUser(ctx context.Context, userID string) ([]perms.Permission, error)
}

// Assignments reads user-role assignments. Implemented by the users
// repository.
type Assignments interface {
	Assignments(ctx context.Context, userID string) ([]users.Assignment, error)
	AssignedUsers(ctx context.Context, role string) ([]string, error)
}

// Sessions reads live sessions. Implemented by the session manager.
type Sessions interface {
	Get(ctx context.Context, id string) (*session.Session, error)
}

// Decider reports access decisions to observers (metrics).
type Decider interface {
	Decided(granted bool)
}

// NopDecider drops decisions.
type NopDecider struct{}

// Decided implements Decider.
func (NopDecider) Decided(bool) {}

// Service answers authorization queries. A role carries its own grants
// plus those of every ascendant: adding an edge parent→child hands the
// parent's grants down to the child.
type Service struct {
	grants      Grants
	assignments Assignments
	sessions    Sessions
	roleGraph   *hierarchy.Resolver
	recorder    audit.Recorder
	decider     Decider
}

// NewService builds a Service.
func NewService(grants Grants, assignments Assignments, sessions Sessions, roleGraph *hierarchy.Resolver, recorder audit.Recorder, decider Decider) *Service {
	if decider == nil {
		decider = NopDecider{}
	}
	return &Service{
		grants:      grants,
		assignments: assignments,
		sessions:    sessions,
		roleGraph:   roleGraph,
		recorder:    recorder,
		decider:     decider,
	}
}

// expand returns the roles plus every ascendant, deduplicated and sorted.
func (s *Service) expand(ctx context.Context, roleNames []string) ([]string, error) {
	seen := make(map[string]struct{})
	for _, role := range shared.NormalizeNames(roleNames) {
		seen[role] = struct{}{}
		ascendants, err := s.roleGraph.Ascendants(ctx, role)
		if err != nil {
			return nil, err
		}
		for a := range ascendants {
			seen[a] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for role := range seen {
		out = append(out, role)
	}
	sort.Strings(out)
	return out, nil
}

// RolePermissions returns the permissions a role carries, including
// those inherited from its ascendants.
func (s *Service) RolePermissions(ctx context.Context, role string) ([]perms.Permission, error) {
	expanded, err := s.expand(ctx, []string{role})
	if err != nil {
		return nil, err
	}
	granted, err := s.grants.GrantedToRoles(ctx, expanded)
	if err != nil {
		return nil, err
	}
	return mergePermissions(granted), nil
}

// UserPermissions returns every permission a user could reach: all
// assigned roles expanded through the hierarchy, plus direct user grants.
func (s *Service) UserPermissions(ctx context.Context, userID string) ([]perms.Permission, error) {
	assignments, err := s.assignments.Assignments(ctx, userID)
	if err != nil {
		return nil, err
	}
	roleNames := make([]string, 0, len(assignments))
	for _, a := range assignments {
		roleNames = append(roleNames, a.Role)
	}
	return s.permissionsFor(ctx, roleNames, userID)
}

func (s *Service) permissionsFor(ctx context.Context, roleNames []string, userID string) ([]perms.Permission, error) {
	expanded, err := s.expand(ctx, roleNames)
	if err != nil {
		return nil, err
	}
	viaRoles, err := s.grants.GrantedToRoles(ctx, expanded)
	if err != nil {
		return nil, err
	}
	direct, err := s.grants.GrantedToUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return mergePermissions(viaRoles, direct), nil
}

func mergePermissions(lists ...[]perms.Permission) []perms.Permission {
	seen := make(map[string]struct{})
	var out []perms.Permission
	for _, list := range lists {
		for _, p := range list {
			key := p.Object + "\x00" + p.Operation + "\x00" + p.ObjectID
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Object != out[j].Object {
			return out[i].Object < out[j].Object
		}
		return out[i].Operation < out[j].Operation
	})
	return out
}

// SessionRoles returns the roles active in a session.
func (s *Service) SessionRoles(ctx context.Context, sessionID string) ([]string, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return sess.ActiveRoleNames(), nil
}

// SessionPermissions returns the permissions reachable through a
// session's active roles plus the user's direct grants.
func (s *Service) SessionPermissions(ctx context.Context, sessionID string) ([]perms.Permission, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.permissionsFor(ctx, sess.ActiveRoleNames(), sess.UserID)
}

// CheckAccess decides whether a session may perform an operation on an
// object, optionally narrowed to one object instance. The permission must
// exist; an unknown permission is an error, not a deny.
func (s *Service) CheckAccess(ctx context.Context, sessionID, object, operation, objectID string) (bool, error) {
	perm, err := s.grants.GetPermission(ctx, object, operation, objectID)
	if err != nil {
		return false, err
	}
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return false, err
	}
	granted, err := s.decide(ctx, sess, perm)
	if err != nil {
		return false, err
	}
	s.decider.Decided(granted)
	outcome := audit.OutcomeDenied
	if granted {
		outcome = audit.OutcomeSuccess
	}
	entityID := perm.Object + "." + perm.Operation
	if perm.ObjectID != "" {
		entityID += ":" + perm.ObjectID
	}
	s.recorder.Record(ctx, audit.Event{
		Op:        "access.check",
		Principal: sess.UserID,
		Entity:    "permission",
		EntityID:  entityID,
		Outcome:   outcome,
	})
	return granted, nil
}

func (s *Service) decide(ctx context.Context, sess *session.Session, perm *perms.Permission) (bool, error) {
	for _, userID := range perm.Users {
		if userID == sess.UserID {
			return true, nil
		}
	}
	if len(perm.Roles) == 0 {
		return false, nil
	}
	granted := make(map[string]struct{}, len(perm.Roles))
	for _, role := range perm.Roles {
		granted[role] = struct{}{}
	}
	// An active role matches when it is granted directly or inherits the
	// grant from one of its ascendants.
	for _, active := range sess.ActiveRoleNames() {
		if _, ok := granted[active]; ok {
			return true, nil
		}
		ascendants, err := s.roleGraph.Ascendants(ctx, active)
		if err != nil {
			return false, err
		}
		for a := range ascendants {
			if _, ok := granted[a]; ok {
				return true, nil
			}
		}
	}
	return false, nil
}

// PermissionRoles returns the roles granted a permission directly.
func (s *Service) PermissionRoles(ctx context.Context, object, operation, objectID string) ([]string, error) {
	perm, err := s.grants.GetPermission(ctx, object, operation, objectID)
	if err != nil {
		return nil, err
	}
	return perm.Roles, nil
}

// AuthorizedPermissionRoles adds every descendant of the directly granted
// roles: any role below a grantee inherits the permission.
func (s *Service) AuthorizedPermissionRoles(ctx context.Context, object, operation, objectID string) ([]string, error) {
	perm, err := s.grants.GetPermission(ctx, object, operation, objectID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	for _, role := range perm.Roles {
		seen[role] = struct{}{}
		descendants, err := s.roleGraph.Descendants(ctx, role)
		if err != nil {
			return nil, err
		}
		for d := range descendants {
			seen[d] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for role := range seen {
		out = append(out, role)
	}
	sort.Strings(out)
	return out, nil
}

// PermissionUsers returns the users granted a permission directly.
func (s *Service) PermissionUsers(ctx context.Context, object, operation, objectID string) ([]string, error) {
	perm, err := s.grants.GetPermission(ctx, object, operation, objectID)
	if err != nil {
		return nil, err
	}
	return perm.Users, nil
}

// AuthorizedPermissionUsers returns every user who could reach the
// permission: direct grantees plus users assigned to any authorized role.
func (s *Service) AuthorizedPermissionUsers(ctx context.Context, object, operation, objectID string) ([]string, error) {
	perm, err := s.grants.GetPermission(ctx, object, operation, objectID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	for _, userID := range perm.Users {
		seen[userID] = struct{}{}
	}
	authorized, err := s.AuthorizedPermissionRoles(ctx, object, operation, objectID)
	if err != nil {
		return nil, err
	}
	for _, role := range authorized {
		assigned, err := s.assignments.AssignedUsers(ctx, role)
		if err != nil {
			return nil, err
		}
		for _, userID := range assigned {
			seen[userID] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for userID := range seen {
		out = append(out, userID)
	}
	sort.Strings(out)
	return out, nil
}

package admin

import (
	"context"
	"time"

	"github.com/bastion-iam/bastion/internal/constraint"
	"github.com/bastion-iam/bastion/internal/hierarchy"
	"github.com/bastion-iam/bastion/internal/perms"
	"github.com/bastion-iam/bastion/internal/roles"
	"github.com/bastion-iam/bastion/internal/session"
	"github.com/bastion-iam/bastion/internal/shared"
	"github.com/bastion-iam/bastion/internal/users"
)

// Sessions reads the administrator's live session. Implemented by the
// session manager.
type Sessions interface {
	Get(ctx context.Context, id string) (*session.Session, error)
}

// Directory resolves the target user of a delegated operation.
// Implemented by the users repository.
type Directory interface {
	Get(ctx context.Context, id string) (*users.User, error)
}

// AdminRoles resolves admin-role definitions. Implemented by the roles
// repository.
type AdminRoles interface {
	GetAdminRole(ctx context.Context, name string) (*roles.AdminRole, error)
}

// Objects resolves permission objects for OU scoping. Implemented by the
// perms repository.
type Objects interface {
	GetObject(ctx context.Context, name string) (*perms.Object, error)
}

// Authorizer decides whether an administrator may perform a delegated
// operation. An operation is allowed when some active admin role both
// contains the target role in its range over the RBAC hierarchy and
// covers the relevant org unit.
type Authorizer struct {
	sessions   Sessions
	dir        Directory
	adminRoles AdminRoles
	objects    Objects
	roleGraph  *hierarchy.Resolver
	userOUs    *hierarchy.Resolver
	permOUs    *hierarchy.Resolver
	now        func() time.Time
}

// NewAuthorizer builds an Authorizer. roleGraph must be the RBAC role
// resolver; range containment never consults the admin-role graph.
func NewAuthorizer(sessions Sessions, dir Directory, adminRoles AdminRoles, objects Objects, roleGraph, userOUs, permOUs *hierarchy.Resolver) *Authorizer {
	return &Authorizer{
		sessions:   sessions,
		dir:        dir,
		adminRoles: adminRoles,
		objects:    objects,
		roleGraph:  roleGraph,
		userOUs:    userOUs,
		permOUs:    permOUs,
		now:        time.Now,
	}
}

// activeAdminRoles resolves the admin roles the administrator activated
// into the session, dropping any whose definition has since vanished or
// whose temporal constraint no longer passes.
func (a *Authorizer) activeAdminRoles(ctx context.Context, adminSessionID string) ([]*roles.AdminRole, error) {
	sess, err := a.sessions.Get(ctx, adminSessionID)
	if err != nil {
		return nil, err
	}
	now := a.now()
	var active []*roles.AdminRole
	for _, name := range sess.ActiveAdminRoleNames() {
		role, err := a.adminRoles.GetAdminRole(ctx, name)
		if err != nil {
			if shared.IsKind(err, shared.KindNotFound) {
				continue
			}
			return nil, err
		}
		if constraint.ValidateTemporal(role.Constraint, now) != nil {
			continue
		}
		active = append(active, role)
	}
	return active, nil
}

// roleInRange reports whether the target role falls inside the admin
// role's [BeginRange, EndRange] slice of the RBAC hierarchy. BeginRange is
// the junior bound, EndRange the senior; an unset bound is open.
func (a *Authorizer) roleInRange(ctx context.Context, admin *roles.AdminRole, role string) (bool, error) {
	role = shared.NormalizeName(role)
	if admin.EndRange != "" {
		if role == admin.EndRange {
			if !admin.EndInclusive {
				return false, nil
			}
		} else {
			belowSenior, err := a.roleGraph.IsAscendant(ctx, role, admin.EndRange)
			if err != nil {
				return false, err
			}
			if !belowSenior {
				return false, nil
			}
		}
	}
	if admin.BeginRange != "" {
		if role == admin.BeginRange {
			if !admin.BeginInclusive {
				return false, nil
			}
		} else {
			aboveJunior, err := a.roleGraph.IsAscendant(ctx, admin.BeginRange, role)
			if err != nil {
				return false, err
			}
			if !aboveJunior {
				return false, nil
			}
		}
	}
	return true, nil
}

// ouInScope reports whether ou is one of the scoped org units or sits in
// a scoped unit's subtree.
func ouInScope(ctx context.Context, graph *hierarchy.Resolver, scoped []string, ou string) (bool, error) {
	ou = shared.NormalizeName(ou)
	for _, s := range shared.NormalizeNames(scoped) {
		if s == ou {
			return true, nil
		}
		descendant, err := graph.IsAscendant(ctx, s, ou)
		if err != nil {
			return false, err
		}
		if descendant {
			return true, nil
		}
	}
	return false, nil
}

// canManageUser finds an active admin role whose range contains the
// target role and whose user-OU scope covers the target user's org unit.
func (a *Authorizer) canManageUser(ctx context.Context, adminSessionID, userID, role string) error {
	target, err := a.dir.Get(ctx, userID)
	if err != nil {
		return err
	}
	active, err := a.activeAdminRoles(ctx, adminSessionID)
	if err != nil {
		return err
	}
	for _, admin := range active {
		inRange, err := a.roleInRange(ctx, admin, role)
		if err != nil {
			return err
		}
		if !inRange {
			continue
		}
		inScope, err := ouInScope(ctx, a.userOUs, admin.UserOUs, target.OrgUnit)
		if err != nil {
			return err
		}
		if inScope {
			return nil
		}
	}
	return shared.E(shared.KindNotAuthorized,
		"admin: not authorized to manage role %s for user %s", shared.NormalizeName(role), target.ID)
}

// canManageGrant finds an active admin role whose range contains the
// target role and whose perm-OU scope covers the object's org unit.
func (a *Authorizer) canManageGrant(ctx context.Context, adminSessionID, object, role string) error {
	obj, err := a.objects.GetObject(ctx, object)
	if err != nil {
		return err
	}
	active, err := a.activeAdminRoles(ctx, adminSessionID)
	if err != nil {
		return err
	}
	for _, admin := range active {
		inRange, err := a.roleInRange(ctx, admin, role)
		if err != nil {
			return err
		}
		if !inRange {
			continue
		}
		inScope, err := ouInScope(ctx, a.permOUs, admin.PermOUs, obj.OrgUnit)
		if err != nil {
			return err
		}
		if inScope {
			return nil
		}
	}
	return shared.E(shared.KindNotAuthorized,
		"admin: not authorized to manage grants on %s for role %s", obj.Name, shared.NormalizeName(role))
}

// CanAssign decides whether the administrator may assign the role to the
// user.
func (a *Authorizer) CanAssign(ctx context.Context, adminSessionID, userID, role string) error {
	return a.canManageUser(ctx, adminSessionID, userID, role)
}

// CanDeassign decides whether the administrator may remove the
// assignment.
func (a *Authorizer) CanDeassign(ctx context.Context, adminSessionID, userID, role string) error {
	return a.canManageUser(ctx, adminSessionID, userID, role)
}

// CanGrant decides whether the administrator may grant a permission on
// the object to the role.
func (a *Authorizer) CanGrant(ctx context.Context, adminSessionID, object, role string) error {
	return a.canManageGrant(ctx, adminSessionID, object, role)
}

// CanRevoke decides whether the administrator may revoke the grant.
func (a *Authorizer) CanRevoke(ctx context.Context, adminSessionID, object, role string) error {
	return a.canManageGrant(ctx, adminSessionID, object, role)
}

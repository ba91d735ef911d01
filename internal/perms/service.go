package perms

import (
	"context"
	"strings"

	"github.com/bastion-iam/bastion/internal/audit"
	"github.com/bastion-iam/bastion/internal/shared"
)

// Service orchestrates permission administration: object and permission
// lifecycle plus role and user grants.
type Service struct {
	repo     Repository
	roles    RoleDirectory
	users    UserDirectory
	recorder audit.Recorder
}

// NewService builds a Service.
func NewService(repo Repository, roles RoleDirectory, users UserDirectory, recorder audit.Recorder) *Service {
	return &Service{repo: repo, roles: roles, users: users, recorder: recorder}
}

func (s *Service) audit(ctx context.Context, op, entityID string, err error) {
	outcome := audit.OutcomeSuccess
	if err != nil {
		outcome = audit.OutcomeFailure
	}
	s.recorder.Record(ctx, audit.Event{
		Op:        op,
		Principal: audit.PrincipalFromContext(ctx),
		Entity:    "permission",
		EntityID:  entityID,
		Outcome:   outcome,
	})
}

func permID(object, operation, objectID string) string {
	id := shared.NormalizeName(object) + "." + shared.NormalizeName(operation)
	if objectID != "" {
		id += ":" + objectID
	}
	return id
}

// CreateObject adds a permission object.
func (s *Service) CreateObject(ctx context.Context, obj Object) (*Object, error) {
	if strings.TrimSpace(obj.Name) == "" {
		return nil, shared.E(shared.KindValidation, "perms: object name required")
	}
	err := s.repo.CreateObject(ctx, obj)
	s.audit(ctx, "perm.object.create", obj.Name, err)
	if err != nil {
		return nil, err
	}
	return s.repo.GetObject(ctx, obj.Name)
}

// UpdateObject replaces an object's description, org unit, type and props.
func (s *Service) UpdateObject(ctx context.Context, obj Object) (*Object, error) {
	if strings.TrimSpace(obj.Name) == "" {
		return nil, shared.E(shared.KindValidation, "perms: object name required")
	}
	err := s.repo.UpdateObject(ctx, obj)
	s.audit(ctx, "perm.object.update", obj.Name, err)
	if err != nil {
		return nil, err
	}
	return s.repo.GetObject(ctx, obj.Name)
}

// GetObject reads a permission object.
func (s *Service) GetObject(ctx context.Context, name string) (*Object, error) {
	return s.repo.GetObject(ctx, name)
}

// SearchObjects returns objects matching the substring.
func (s *Service) SearchObjects(ctx context.Context, substring string) ([]Object, error) {
	return s.repo.SearchObjects(ctx, substring)
}

// DeleteObject removes an object and cascades to its permissions and
// their grants.
func (s *Service) DeleteObject(ctx context.Context, name string) error {
	err := s.repo.DeleteObject(ctx, name)
	s.audit(ctx, "perm.object.delete", name, err)
	return err
}

// CreatePermission adds a permission. The object must already exist.
func (s *Service) CreatePermission(ctx context.Context, perm Permission) (*Permission, error) {
	if strings.TrimSpace(perm.Object) == "" || strings.TrimSpace(perm.Operation) == "" {
		return nil, shared.E(shared.KindValidation, "perms: object and operation required")
	}
	if _, err := s.repo.GetObject(ctx, perm.Object); err != nil {
		return nil, err
	}
	err := s.repo.CreatePermission(ctx, perm)
	s.audit(ctx, "perm.create", permID(perm.Object, perm.Operation, perm.ObjectID), err)
	if err != nil {
		return nil, err
	}
	return s.repo.GetPermission(ctx, perm.Object, perm.Operation, perm.ObjectID)
}

// UpdatePermission replaces a permission's description and props.
func (s *Service) UpdatePermission(ctx context.Context, perm Permission) (*Permission, error) {
	err := s.repo.UpdatePermission(ctx, perm)
	s.audit(ctx, "perm.update", permID(perm.Object, perm.Operation, perm.ObjectID), err)
	if err != nil {
		return nil, err
	}
	return s.repo.GetPermission(ctx, perm.Object, perm.Operation, perm.ObjectID)
}

// GetPermission reads a permission with its grants.
func (s *Service) GetPermission(ctx context.Context, object, operation, objectID string) (*Permission, error) {
	return s.repo.GetPermission(ctx, object, operation, objectID)
}

// SearchPermissions returns permissions whose object matches the substring.
func (s *Service) SearchPermissions(ctx context.Context, objectSubstring string) ([]Permission, error) {
	return s.repo.SearchPermissions(ctx, objectSubstring)
}

// ObjectPermissions lists the permissions under an object.
func (s *Service) ObjectPermissions(ctx context.Context, object string) ([]Permission, error) {
	if _, err := s.repo.GetObject(ctx, object); err != nil {
		return nil, err
	}
	return s.repo.ObjectPermissions(ctx, object)
}

// DeletePermission removes a permission and its grants.
func (s *Service) DeletePermission(ctx context.Context, object, operation, objectID string) error {
	err := s.repo.DeletePermission(ctx, object, operation, objectID)
	s.audit(ctx, "perm.delete", permID(object, operation, objectID), err)
	return err
}

// GrantToRole grants a permission to an existing role.
func (s *Service) GrantToRole(ctx context.Context, object, operation, objectID, role string) error {
	if _, err := s.repo.GetPermission(ctx, object, operation, objectID); err != nil {
		return err
	}
	if _, err := s.roles.GetRole(ctx, role); err != nil {
		return err
	}
	err := s.repo.GrantToRole(ctx, object, operation, objectID, role)
	s.audit(ctx, "perm.grant", permID(object, operation, objectID)+":"+shared.NormalizeName(role), err)
	return err
}

// RevokeFromRole revokes a role's grant.
func (s *Service) RevokeFromRole(ctx context.Context, object, operation, objectID, role string) error {
	err := s.repo.RevokeFromRole(ctx, object, operation, objectID, role)
	s.audit(ctx, "perm.revoke", permID(object, operation, objectID)+":"+shared.NormalizeName(role), err)
	return err
}

// GrantToUser grants a permission directly to an existing user, outside
// any role.
func (s *Service) GrantToUser(ctx context.Context, object, operation, objectID, userID string) error {
	if _, err := s.repo.GetPermission(ctx, object, operation, objectID); err != nil {
		return err
	}
	if _, err := s.users.Get(ctx, userID); err != nil {
		return err
	}
	err := s.repo.GrantToUser(ctx, object, operation, objectID, userID)
	s.audit(ctx, "perm.grant_user", permID(object, operation, objectID)+":"+shared.NormalizeName(userID), err)
	return err
}

// RevokeFromUser revokes a user's direct grant.
func (s *Service) RevokeFromUser(ctx context.Context, object, operation, objectID, userID string) error {
	err := s.repo.RevokeFromUser(ctx, object, operation, objectID, userID)
	s.audit(ctx, "perm.revoke_user", permID(object, operation, objectID)+":"+shared.NormalizeName(userID), err)
	return err
}

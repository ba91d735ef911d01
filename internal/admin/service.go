package admin

import (
	"context"

	"github.com/bastion-iam/bastion/internal/shared"
	"github.com/bastion-iam/bastion/internal/users"
)

// UserAdmin performs the underlying assignment mutations. Implemented by
// the users service.
type UserAdmin interface {
	AssignRole(ctx context.Context, a users.Assignment) error
	DeassignRole(ctx context.Context, userID, role string) error
}

// PermAdmin performs the underlying grant mutations. Implemented by the
// perms service.
type PermAdmin interface {
	GrantToRole(ctx context.Context, object, operation, objectID, role string) error
	RevokeFromRole(ctx context.Context, object, operation, objectID, role string) error
}

// Service is the delegated-administration facade: each mutation first
// passes the authorizer's predicate for the calling administrator, then
// delegates to the plain service. Predicate failure surfaces as
// NotAuthorized, distinct from NotFound on the entities themselves.
type Service struct {
	authorizer *Authorizer
	userAdmin  UserAdmin
	permAdmin  PermAdmin
}

// NewService builds a Service.
func NewService(authorizer *Authorizer, userAdmin UserAdmin, permAdmin PermAdmin) *Service {
	return &Service{authorizer: authorizer, userAdmin: userAdmin, permAdmin: permAdmin}
}

func adminSession(ctx context.Context) (string, error) {
	id := shared.AdminSessionIDFromContext(ctx)
	if id == "" {
		return "", shared.E(shared.KindNotAuthorized, "admin: admin session required")
	}
	return id, nil
}

// AssignUser assigns a role on behalf of the administrator in context.
func (s *Service) AssignUser(ctx context.Context, a users.Assignment) error {
	adminID, err := adminSession(ctx)
	if err != nil {
		return err
	}
	if err := s.authorizer.CanAssign(ctx, adminID, a.UserID, a.Role); err != nil {
		return err
	}
	return s.userAdmin.AssignRole(ctx, a)
}

// DeassignUser removes an assignment on behalf of the administrator.
func (s *Service) DeassignUser(ctx context.Context, userID, role string) error {
	adminID, err := adminSession(ctx)
	if err != nil {
		return err
	}
	if err := s.authorizer.CanDeassign(ctx, adminID, userID, role); err != nil {
		return err
	}
	return s.userAdmin.DeassignRole(ctx, userID, role)
}

// GrantToRole grants a permission to a role on behalf of the
// administrator.
func (s *Service) GrantToRole(ctx context.Context, object, operation, objectID, role string) error {
	adminID, err := adminSession(ctx)
	if err != nil {
		return err
	}
	if err := s.authorizer.CanGrant(ctx, adminID, object, role); err != nil {
		return err
	}
	return s.permAdmin.GrantToRole(ctx, object, operation, objectID, role)
}

// RevokeFromRole revokes a role's grant on behalf of the administrator.
func (s *Service) RevokeFromRole(ctx context.Context, object, operation, objectID, role string) error {
	adminID, err := adminSession(ctx)
	if err != nil {
		return err
	}
	if err := s.authorizer.CanRevoke(ctx, adminID, object, role); err != nil {
		return err
	}
	return s.permAdmin.RevokeFromRole(ctx, object, operation, objectID, role)
}

package users

import (
	"context"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/bastion-iam/bastion/internal/audit"
	"github.com/bastion-iam/bastion/internal/constraint"
	"github.com/bastion-iam/bastion/internal/shared"
)

// Service orchestrates user administration: lifecycle, credentials and
// role assignment under separation-of-duty checks.
type Service struct {
	repo     Repository
	roles    RoleDirectory
	sets     SeparationSets
	grants   GrantCleaner
	recorder audit.Recorder
}

// NewService builds a Service.
func NewService(repo Repository, roles RoleDirectory, sets SeparationSets, grants GrantCleaner, recorder audit.Recorder) *Service {
	return &Service{
		repo:     repo,
		roles:    roles,
		sets:     sets,
		grants:   grants,
		recorder: recorder,
	}
}

func (s *Service) audit(ctx context.Context, op, entityID string, err error) {
	outcome := audit.OutcomeSuccess
	if err != nil {
		outcome = audit.OutcomeFailure
		if shared.IsKind(err, shared.KindSeparationOfDuty) {
			outcome = audit.OutcomeDenied
		}
	}
	s.recorder.Record(ctx, audit.Event{
		Op:        op,
		Principal: audit.PrincipalFromContext(ctx),
		Entity:    "user",
		EntityID:  entityID,
		Outcome:   outcome,
	})
}

// Create adds a user, hashing the supplied password. An empty password is
// allowed for accounts that only authenticate through trusted sessions.
func (s *Service) Create(ctx context.Context, user User, password string) (*User, error) {
	if strings.TrimSpace(user.ID) == "" {
		return nil, shared.E(shared.KindValidation, "users: user id required")
	}
	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, shared.Wrap(shared.KindValidation, err, "users: hash password")
		}
		user.PasswordHash = string(hash)
	}
	err := s.repo.Create(ctx, user)
	s.audit(ctx, "user.create", user.ID, err)
	if err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, user.ID)
}

// Update replaces a user's description, org unit, constraint and props.
func (s *Service) Update(ctx context.Context, user User) (*User, error) {
	if strings.TrimSpace(user.ID) == "" {
		return nil, shared.E(shared.KindValidation, "users: user id required")
	}
	err := s.repo.Update(ctx, user)
	s.audit(ctx, "user.update", user.ID, err)
	if err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, user.ID)
}

// Get reads a user.
func (s *Service) Get(ctx context.Context, id string) (*User, error) {
	return s.repo.Get(ctx, id)
}

// Search returns users whose ID contains the substring.
func (s *Service) Search(ctx context.Context, substring string) ([]User, error) {
	return s.repo.Search(ctx, substring)
}

// Delete hard-removes a user. Direct permission grants are revoked first so
// no orphaned grants survive; assignment edges go with the user row.
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return err
	}
	if err := s.grants.RevokeUserEverywhere(ctx, id); err != nil {
		return err
	}
	err := s.repo.Delete(ctx, id)
	s.audit(ctx, "user.delete", id, err)
	return err
}

// Disable soft-deletes a user: all role and admin-role assignments are
// dropped, direct grants revoked, and the account locked. The user row
// itself survives for audit continuity.
func (s *Service) Disable(ctx context.Context, id string) error {
	user, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	assignments, err := s.repo.Assignments(ctx, user.ID)
	if err != nil {
		return err
	}
	for _, a := range assignments {
		if err := s.repo.DeassignRole(ctx, a.UserID, a.Role); err != nil && !shared.IsKind(err, shared.KindNotFound) {
			return err
		}
	}
	adminAssignments, err := s.repo.AdminAssignments(ctx, user.ID)
	if err != nil {
		return err
	}
	for _, a := range adminAssignments {
		if err := s.repo.DeassignAdminRole(ctx, a.UserID, a.Role); err != nil && !shared.IsKind(err, shared.KindNotFound) {
			return err
		}
	}
	if err := s.grants.RevokeUserEverywhere(ctx, user.ID); err != nil {
		return err
	}
	if err := s.repo.SetLocked(ctx, user.ID, true); err != nil {
		return err
	}
	err = s.repo.SetDisabled(ctx, user.ID, true)
	s.audit(ctx, "user.disable", user.ID, err)
	return err
}

// Enable clears the soft-delete flag. The lock stays until explicitly
// lifted; assignments are not restored.
func (s *Service) Enable(ctx context.Context, id string) error {
	err := s.repo.SetDisabled(ctx, id, false)
	s.audit(ctx, "user.enable", id, err)
	return err
}

// Lock blocks password authentication for the user.
func (s *Service) Lock(ctx context.Context, id string) error {
	err := s.repo.SetLocked(ctx, id, true)
	s.audit(ctx, "user.lock", id, err)
	return err
}

// Unlock re-enables password authentication.
func (s *Service) Unlock(ctx context.Context, id string) error {
	err := s.repo.SetLocked(ctx, id, false)
	s.audit(ctx, "user.unlock", id, err)
	return err
}

// ChangePassword verifies the old password before setting the new one.
func (s *Service) ChangePassword(ctx context.Context, id, oldPassword, newPassword string) error {
	user, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(oldPassword)); err != nil {
		return shared.E(shared.KindValidation, "users: old password does not match")
	}
	return s.setPassword(ctx, user.ID, newPassword)
}

// ResetPassword sets a new password without checking the old one. Admin
// surface only; the authorizer gates the route.
func (s *Service) ResetPassword(ctx context.Context, id, newPassword string) error {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return err
	}
	return s.setPassword(ctx, id, newPassword)
}

func (s *Service) setPassword(ctx context.Context, id, password string) error {
	if password == "" {
		return shared.E(shared.KindValidation, "users: password required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return shared.Wrap(shared.KindValidation, err, "users: hash password")
	}
	err = s.repo.SetPassword(ctx, id, string(hash))
	s.audit(ctx, "user.password", id, err)
	return err
}

// AssignRole adds a role assignment after checking both static and dynamic
// separation-of-duty sets against the user's currently assigned roles.
func (s *Service) AssignRole(ctx context.Context, a Assignment) error {
	user, err := s.repo.Get(ctx, a.UserID)
	if err != nil {
		return err
	}
	a.UserID = user.ID
	role, err := s.roles.GetRole(ctx, a.Role)
	if err != nil {
		return err
	}
	a.Role = role.Name

	assigned, err := s.repo.Assignments(ctx, a.UserID)
	if err != nil {
		return err
	}
	held := make([]string, 0, len(assigned))
	for _, existing := range assigned {
		held = append(held, existing.Role)
	}
	if err := s.checkSeparation(ctx, held, a.Role); err != nil {
		s.audit(ctx, "user.assign", a.UserID+":"+a.Role, err)
		return err
	}

	err = s.repo.AssignRole(ctx, a)
	s.audit(ctx, "user.assign", a.UserID+":"+a.Role, err)
	return err
}

// checkSeparation enforces SSD and DSD sets at assignment time. DSD also
// binds here: an assignment that could never co-activate is still rejected
// up front when it would exceed the dynamic cardinality by assignment alone.
func (s *Service) checkSeparation(ctx context.Context, held []string, candidate string) error {
	static, err := s.sets.StaticSets(ctx, candidate)
	if err != nil {
		return err
	}
	if err := constraint.CheckSeparation(held, candidate, static); err != nil {
		return err
	}
	dynamic, err := s.sets.DynamicSets(ctx, candidate)
	if err != nil {
		return err
	}
	return constraint.CheckSeparation(held, candidate, dynamic)
}

// DeassignRole removes a role assignment.
func (s *Service) DeassignRole(ctx context.Context, userID, role string) error {
	err := s.repo.DeassignRole(ctx, userID, role)
	s.audit(ctx, "user.deassign", shared.NormalizeName(userID)+":"+shared.NormalizeName(role), err)
	return err
}

// Assignments lists a user's role assignments.
func (s *Service) Assignments(ctx context.Context, userID string) ([]Assignment, error) {
	if _, err := s.repo.Get(ctx, userID); err != nil {
		return nil, err
	}
	return s.repo.Assignments(ctx, userID)
}

// AssignedUsers lists the users directly assigned to a role.
func (s *Service) AssignedUsers(ctx context.Context, role string) ([]string, error) {
	if _, err := s.roles.GetRole(ctx, role); err != nil {
		return nil, err
	}
	return s.repo.AssignedUsers(ctx, role)
}

// AssignAdminRole adds an admin-role assignment. Admin roles sit outside
// the RBAC separation sets, so no SoD check applies.
func (s *Service) AssignAdminRole(ctx context.Context, a Assignment) error {
	user, err := s.repo.Get(ctx, a.UserID)
	if err != nil {
		return err
	}
	a.UserID = user.ID
	adminRole, err := s.roles.GetAdminRole(ctx, a.Role)
	if err != nil {
		return err
	}
	a.Role = adminRole.Name
	err = s.repo.AssignAdminRole(ctx, a)
	s.audit(ctx, "user.assign_admin", a.UserID+":"+a.Role, err)
	return err
}

// DeassignAdminRole removes an admin-role assignment.
func (s *Service) DeassignAdminRole(ctx context.Context, userID, adminRole string) error {
	err := s.repo.DeassignAdminRole(ctx, userID, adminRole)
	s.audit(ctx, "user.deassign_admin", shared.NormalizeName(userID)+":"+shared.NormalizeName(adminRole), err)
	return err
}

// AdminAssignments lists a user's admin-role assignments.
func (s *Service) AdminAssignments(ctx context.Context, userID string) ([]Assignment, error) {
	if _, err := s.repo.Get(ctx, userID); err != nil {
		return nil, err
	}
	return s.repo.AdminAssignments(ctx, userID)
}

// AssignedAdminUsers lists the users directly assigned to an admin role.
func (s *Service) AssignedAdminUsers(ctx context.Context, adminRole string) ([]string, error) {
	if _, err := s.roles.GetAdminRole(ctx, adminRole); err != nil {
		return nil, err
	}
	return s.repo.AssignedAdminUsers(ctx, adminRole)
}

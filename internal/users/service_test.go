package users

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/bastion-iam/bastion/internal/audit"
	"github.com/bastion-iam/bastion/internal/constraint"
	"github.com/bastion-iam/bastion/internal/roles"
	"github.com/bastion-iam/bastion/internal/shared"
)

type memoryUserRepo struct {
	users       map[string]*User
	assignments map[string][]Assignment
	adminAssign map[string][]Assignment
}

func newMemoryUserRepo() *memoryUserRepo {
	return &memoryUserRepo{
		users:       make(map[string]*User),
		assignments: make(map[string][]Assignment),
		adminAssign: make(map[string][]Assignment),
	}
}

func (r *memoryUserRepo) Get(ctx context.Context, id string) (*User, error) {
	u, ok := r.users[shared.NormalizeName(id)]
	if !ok {
		return nil, shared.E(shared.KindNotFound, "users: user %s not found", id)
	}
	copied := *u
	return &copied, nil
}

func (r *memoryUserRepo) Create(ctx context.Context, user User) error {
	id := shared.NormalizeName(user.ID)
	if _, ok := r.users[id]; ok {
		return shared.E(shared.KindAlreadyExists, "users: user %s already exists", id)
	}
	user.ID = id
	user.CreatedAt = time.Now().UTC()
	user.UpdatedAt = user.CreatedAt
	r.users[id] = &user
	return nil
}

func (r *memoryUserRepo) Update(ctx context.Context, user User) error {
	id := shared.NormalizeName(user.ID)
	existing, ok := r.users[id]
	if !ok {
		return shared.E(shared.KindNotFound, "users: user %s not found", id)
	}
	existing.Description = user.Description
	existing.OrgUnit = shared.NormalizeName(user.OrgUnit)
	existing.Constraint = user.Constraint
	existing.Props = user.Props
	existing.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *memoryUserRepo) Delete(ctx context.Context, id string) error {
	id = shared.NormalizeName(id)
	if _, ok := r.users[id]; !ok {
		return shared.E(shared.KindNotFound, "users: user %s not found", id)
	}
	delete(r.users, id)
	delete(r.assignments, id)
	delete(r.adminAssign, id)
	return nil
}

func (r *memoryUserRepo) Search(ctx context.Context, substring string) ([]User, error) {
	var out []User
	for _, u := range r.users {
		out = append(out, *u)
	}
	return out, nil
}

func (r *memoryUserRepo) setFlag(id string, apply func(*User)) error {
	u, ok := r.users[shared.NormalizeName(id)]
	if !ok {
		return shared.E(shared.KindNotFound, "users: user %s not found", id)
	}
	apply(u)
	return nil
}

func (r *memoryUserRepo) SetLocked(ctx context.Context, id string, locked bool) error {
	return r.setFlag(id, func(u *User) { u.Locked = locked })
}

func (r *memoryUserRepo) SetDisabled(ctx context.Context, id string, disabled bool) error {
	return r.setFlag(id, func(u *User) { u.Disabled = disabled })
}

func (r *memoryUserRepo) SetPassword(ctx context.Context, id, hash string) error {
	return r.setFlag(id, func(u *User) { u.PasswordHash = hash })
}

func assignTo(m map[string][]Assignment, a Assignment) error {
	a.UserID = shared.NormalizeName(a.UserID)
	a.Role = shared.NormalizeName(a.Role)
	for _, existing := range m[a.UserID] {
		if existing.Role == a.Role {
			return shared.E(shared.KindAlreadyExists, "users: %s already assigned to %s", a.Role, a.UserID)
		}
	}
	a.AssignedAt = time.Now().UTC()
	m[a.UserID] = append(m[a.UserID], a)
	return nil
}

func deassignFrom(m map[string][]Assignment, userID, role string) error {
	userID = shared.NormalizeName(userID)
	role = shared.NormalizeName(role)
	list := m[userID]
	for i, a := range list {
		if a.Role == role {
			m[userID] = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	return shared.E(shared.KindNotFound, "users: %s is not assigned to %s", role, userID)
}

func (r *memoryUserRepo) AssignRole(ctx context.Context, a Assignment) error {
	return assignTo(r.assignments, a)
}

func (r *memoryUserRepo) DeassignRole(ctx context.Context, userID, role string) error {
	return deassignFrom(r.assignments, userID, role)
}

func (r *memoryUserRepo) Assignments(ctx context.Context, userID string) ([]Assignment, error) {
	return append([]Assignment(nil), r.assignments[shared.NormalizeName(userID)]...), nil
}

func (r *memoryUserRepo) AssignedUsers(ctx context.Context, role string) ([]string, error) {
	role = shared.NormalizeName(role)
	var out []string
	for userID, list := range r.assignments {
		for _, a := range list {
			if a.Role == role {
				out = append(out, userID)
			}
		}
	}
	return out, nil
}

func (r *memoryUserRepo) AssignAdminRole(ctx context.Context, a Assignment) error {
	return assignTo(r.adminAssign, a)
}

func (r *memoryUserRepo) DeassignAdminRole(ctx context.Context, userID, adminRole string) error {
	return deassignFrom(r.adminAssign, userID, adminRole)
}

func (r *memoryUserRepo) AdminAssignments(ctx context.Context, userID string) ([]Assignment, error) {
	return append([]Assignment(nil), r.adminAssign[shared.NormalizeName(userID)]...), nil
}

func (r *memoryUserRepo) AssignedAdminUsers(ctx context.Context, adminRole string) ([]string, error) {
	adminRole = shared.NormalizeName(adminRole)
	var out []string
	for userID, list := range r.adminAssign {
		for _, a := range list {
			if a.Role == adminRole {
				out = append(out, userID)
			}
		}
	}
	return out, nil
}

func (r *memoryUserRepo) DeassignRoleFromAllUsers(ctx context.Context, role string) error {
	role = shared.NormalizeName(role)
	for userID := range r.assignments {
		_ = deassignFrom(r.assignments, userID, role)
	}
	return nil
}

func (r *memoryUserRepo) DeassignAdminRoleFromAllUsers(ctx context.Context, adminRole string) error {
	adminRole = shared.NormalizeName(adminRole)
	for userID := range r.adminAssign {
		_ = deassignFrom(r.adminAssign, userID, adminRole)
	}
	return nil
}

type stubRoleDirectory struct {
	roles      map[string]bool
	adminRoles map[string]bool
}

func (d *stubRoleDirectory) GetRole(ctx context.Context, name string) (*roles.Role, error) {
	name = shared.NormalizeName(name)
	if !d.roles[name] {
		return nil, shared.E(shared.KindNotFound, "roles: role %s not found", name)
	}
	return &roles.Role{Name: name}, nil
}

func (d *stubRoleDirectory) GetAdminRole(ctx context.Context, name string) (*roles.AdminRole, error) {
	name = shared.NormalizeName(name)
	if !d.adminRoles[name] {
		return nil, shared.E(shared.KindNotFound, "roles: admin role %s not found", name)
	}
	return &roles.AdminRole{Name: name}, nil
}

type stubSeparationSets struct {
	static  []constraint.RoleSet
	dynamic []constraint.RoleSet
}

func (s *stubSeparationSets) StaticSets(ctx context.Context, role string) ([]constraint.RoleSet, error) {
	return s.static, nil
}

func (s *stubSeparationSets) DynamicSets(ctx context.Context, role string) ([]constraint.RoleSet, error) {
	return s.dynamic, nil
}

type stubGrantCleaner struct {
	revoked []string
}

func (s *stubGrantCleaner) RevokeUserEverywhere(ctx context.Context, userID string) error {
	s.revoked = append(s.revoked, shared.NormalizeName(userID))
	return nil
}

func newTestService(repo *memoryUserRepo, dir *stubRoleDirectory, sets *stubSeparationSets, grants *stubGrantCleaner) *Service {
	if dir == nil {
		dir = &stubRoleDirectory{roles: map[string]bool{}, adminRoles: map[string]bool{}}
	}
	if sets == nil {
		sets = &stubSeparationSets{}
	}
	if grants == nil {
		grants = &stubGrantCleaner{}
	}
	return NewService(repo, dir, sets, grants, audit.NopRecorder{})
}

func TestCreateHashesPassword(t *testing.T) {
	repo := newMemoryUserRepo()
	svc := newTestService(repo, nil, nil, nil)

	user, err := svc.Create(context.Background(), User{ID: "Alice"}, "s3cret")
	require.NoError(t, err)
	require.Equal(t, "alice", user.ID)
	require.NotEqual(t, "s3cret", user.PasswordHash)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("s3cret")))

	_, err = svc.Create(context.Background(), User{ID: "alice"}, "other")
	require.True(t, shared.IsKind(err, shared.KindAlreadyExists))
}

func TestCreateRequiresID(t *testing.T) {
	svc := newTestService(newMemoryUserRepo(), nil, nil, nil)
	_, err := svc.Create(context.Background(), User{ID: "   "}, "pw")
	require.True(t, shared.IsKind(err, shared.KindValidation))
}

func TestAssignRoleChecksSeparation(t *testing.T) {
	repo := newMemoryUserRepo()
	dir := &stubRoleDirectory{roles: map[string]bool{"teller": true, "auditor": true, "clerk": true}}
	sets := &stubSeparationSets{
		static: []constraint.RoleSet{constraint.NewRoleSet("payments", []string{"teller", "auditor"}, 2)},
	}
	svc := newTestService(repo, dir, sets, nil)

	_, err := svc.Create(context.Background(), User{ID: "bob"}, "pw")
	require.NoError(t, err)

	require.NoError(t, svc.AssignRole(context.Background(), Assignment{UserID: "bob", Role: "Teller"}))
	require.NoError(t, svc.AssignRole(context.Background(), Assignment{UserID: "bob", Role: "clerk"}))

	err = svc.AssignRole(context.Background(), Assignment{UserID: "bob", Role: "auditor"})
	require.True(t, shared.IsKind(err, shared.KindSeparationOfDuty))

	assignments, err := svc.Assignments(context.Background(), "bob")
	require.NoError(t, err)
	require.Len(t, assignments, 2)
}

func TestAssignRoleRejectsUnknownRole(t *testing.T) {
	repo := newMemoryUserRepo()
	dir := &stubRoleDirectory{roles: map[string]bool{}}
	svc := newTestService(repo, dir, nil, nil)

	_, err := svc.Create(context.Background(), User{ID: "bob"}, "pw")
	require.NoError(t, err)

	err = svc.AssignRole(context.Background(), Assignment{UserID: "bob", Role: "ghost"})
	require.True(t, shared.IsKind(err, shared.KindNotFound))
}

func TestAssignRoleDynamicSetBindsAtAssignment(t *testing.T) {
	repo := newMemoryUserRepo()
	dir := &stubRoleDirectory{roles: map[string]bool{"drafter": true, "approver": true}}
	sets := &stubSeparationSets{
		dynamic: []constraint.RoleSet{constraint.NewRoleSet("workflow", []string{"drafter", "approver"}, 2)},
	}
	svc := newTestService(repo, dir, sets, nil)

	_, err := svc.Create(context.Background(), User{ID: "carol"}, "pw")
	require.NoError(t, err)

	require.NoError(t, svc.AssignRole(context.Background(), Assignment{UserID: "carol", Role: "drafter"}))
	err = svc.AssignRole(context.Background(), Assignment{UserID: "carol", Role: "approver"})
	require.True(t, shared.IsKind(err, shared.KindSeparationOfDuty))
}

func TestDisableCascades(t *testing.T) {
	repo := newMemoryUserRepo()
	dir := &stubRoleDirectory{
		roles:      map[string]bool{"teller": true},
		adminRoles: map[string]bool{"helpdesk": true},
	}
	grants := &stubGrantCleaner{}
	svc := newTestService(repo, dir, nil, grants)

	_, err := svc.Create(context.Background(), User{ID: "dave"}, "pw")
	require.NoError(t, err)
	require.NoError(t, svc.AssignRole(context.Background(), Assignment{UserID: "dave", Role: "teller"}))
	require.NoError(t, svc.AssignAdminRole(context.Background(), Assignment{UserID: "dave", Role: "helpdesk"}))

	require.NoError(t, svc.Disable(context.Background(), "dave"))

	user, err := svc.Get(context.Background(), "dave")
	require.NoError(t, err)
	require.True(t, user.Disabled)
	require.True(t, user.Locked)
	require.Equal(t, []string{"dave"}, grants.revoked)

	assignments, err := svc.Assignments(context.Background(), "dave")
	require.NoError(t, err)
	require.Empty(t, assignments)
	adminAssignments, err := svc.AdminAssignments(context.Background(), "dave")
	require.NoError(t, err)
	require.Empty(t, adminAssignments)
}

func TestDeleteRevokesGrants(t *testing.T) {
	repo := newMemoryUserRepo()
	grants := &stubGrantCleaner{}
	svc := newTestService(repo, nil, nil, grants)

	_, err := svc.Create(context.Background(), User{ID: "erin"}, "pw")
	require.NoError(t, err)
	require.NoError(t, svc.Delete(context.Background(), "erin"))
	require.Equal(t, []string{"erin"}, grants.revoked)

	_, err = svc.Get(context.Background(), "erin")
	require.True(t, shared.IsKind(err, shared.KindNotFound))
}

func TestChangePasswordVerifiesOld(t *testing.T) {
	repo := newMemoryUserRepo()
	svc := newTestService(repo, nil, nil, nil)

	_, err := svc.Create(context.Background(), User{ID: "frank"}, "original")
	require.NoError(t, err)

	err = svc.ChangePassword(context.Background(), "frank", "wrong", "updated")
	require.True(t, shared.IsKind(err, shared.KindValidation))

	require.NoError(t, svc.ChangePassword(context.Background(), "frank", "original", "updated"))
	user, err := svc.Get(context.Background(), "frank")
	require.NoError(t, err)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("updated")))
}

func TestAdminAssignmentSkipsSeparation(t *testing.T) {
	repo := newMemoryUserRepo()
	dir := &stubRoleDirectory{adminRoles: map[string]bool{"ou-admin": true, "role-admin": true}}
	sets := &stubSeparationSets{
		static: []constraint.RoleSet{constraint.NewRoleSet("admins", []string{"ou-admin", "role-admin"}, 2)},
	}
	svc := newTestService(repo, dir, sets, nil)

	_, err := svc.Create(context.Background(), User{ID: "grace"}, "pw")
	require.NoError(t, err)
	require.NoError(t, svc.AssignAdminRole(context.Background(), Assignment{UserID: "grace", Role: "ou-admin"}))
	require.NoError(t, svc.AssignAdminRole(context.Background(), Assignment{UserID: "grace", Role: "role-admin"}))
}

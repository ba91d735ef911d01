package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/bastion-iam/bastion/internal/audit"
	"github.com/bastion-iam/bastion/internal/constraint"
	"github.com/bastion-iam/bastion/internal/roles"
	"github.com/bastion-iam/bastion/internal/shared"
	"github.com/bastion-iam/bastion/internal/users"
)

type stubUserDirectory struct {
	users            map[string]*users.User
	assignments      map[string][]users.Assignment
	adminAssignments map[string][]users.Assignment
}

func (d *stubUserDirectory) Get(ctx context.Context, id string) (*users.User, error) {
	u, ok := d.users[shared.NormalizeName(id)]
	if !ok {
		return nil, shared.E(shared.KindNotFound, "users: user %s not found", id)
	}
	return u, nil
}

func (d *stubUserDirectory) Assignments(ctx context.Context, userID string) ([]users.Assignment, error) {
	return d.assignments[shared.NormalizeName(userID)], nil
}

func (d *stubUserDirectory) AdminAssignments(ctx context.Context, userID string) ([]users.Assignment, error) {
	return d.adminAssignments[shared.NormalizeName(userID)], nil
}

type stubRoleDirectory struct {
	roles      map[string]*roles.Role
	adminRoles map[string]*roles.AdminRole
}

func (d *stubRoleDirectory) GetRole(ctx context.Context, name string) (*roles.Role, error) {
	role, ok := d.roles[shared.NormalizeName(name)]
	if !ok {
		return nil, shared.E(shared.KindNotFound, "roles: role %s not found", name)
	}
	return role, nil
}

func (d *stubRoleDirectory) GetAdminRole(ctx context.Context, name string) (*roles.AdminRole, error) {
	role, ok := d.adminRoles[shared.NormalizeName(name)]
	if !ok {
		return nil, shared.E(shared.KindNotFound, "roles: admin role %s not found", name)
	}
	return role, nil
}

type stubSets struct {
	static  []constraint.RoleSet
	dynamic []constraint.RoleSet
}

func (s *stubSets) StaticSets(ctx context.Context, role string) ([]constraint.RoleSet, error) {
	return s.static, nil
}

func (s *stubSets) DynamicSets(ctx context.Context, role string) ([]constraint.RoleSet, error) {
	return s.dynamic, nil
}

func hash(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func testStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client), mr
}

func testManager(t *testing.T, dir *stubUserDirectory, roleDir *stubRoleDirectory, sets *stubSets) (*Manager, *miniredis.Miniredis) {
	t.Helper()
	store, mr := testStore(t)
	if sets == nil {
		sets = &stubSets{}
	}
	m := NewManager(store, dir, roleDir, sets, audit.NopRecorder{})
	return m, mr
}

func plainRoles(names ...string) *stubRoleDirectory {
	dir := &stubRoleDirectory{roles: map[string]*roles.Role{}}
	for _, name := range names {
		dir.roles[name] = &roles.Role{Name: name}
	}
	return dir
}

func TestCreateAuthenticatesAndActivates(t *testing.T) {
	dir := &stubUserDirectory{
		users: map[string]*users.User{
			"alice": {ID: "alice", PasswordHash: hash(t, "pw")},
		},
		assignments: map[string][]users.Assignment{
			"alice": {{UserID: "alice", Role: "teller"}, {UserID: "alice", Role: "clerk"}},
		},
	}
	m, _ := testManager(t, dir, plainRoles("teller", "clerk"), nil)

	_, err := m.Create(context.Background(), CreateRequest{UserID: "alice", Password: "wrong"})
	require.True(t, shared.IsKind(err, shared.KindNotAuthorized))

	sess, err := m.Create(context.Background(), CreateRequest{UserID: "Alice", Password: "pw"})
	require.NoError(t, err)
	require.Equal(t, "alice", sess.UserID)
	require.ElementsMatch(t, []string{"teller", "clerk"}, sess.ActiveRoleNames())
	require.Equal(t, DefaultTimeoutMins, sess.TimeoutMins)

	got, err := m.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Equal(t, sess.ID, got.ID)
}

func TestCreateTrustedSkipsPassword(t *testing.T) {
	dir := &stubUserDirectory{
		users:       map[string]*users.User{"alice": {ID: "alice"}},
		assignments: map[string][]users.Assignment{},
	}
	m, _ := testManager(t, dir, plainRoles(), nil)

	sess, err := m.Create(context.Background(), CreateRequest{UserID: "alice", Trusted: true})
	require.NoError(t, err)
	require.True(t, sess.Trusted)
	require.Empty(t, sess.Active)
}

func TestCreateRejectsDisabledAndLocked(t *testing.T) {
	dir := &stubUserDirectory{
		users: map[string]*users.User{
			"disabled": {ID: "disabled", Disabled: true, PasswordHash: hash(t, "pw")},
			"locked":   {ID: "locked", Locked: true, PasswordHash: hash(t, "pw")},
		},
		assignments: map[string][]users.Assignment{},
	}
	m, _ := testManager(t, dir, plainRoles(), nil)

	_, err := m.Create(context.Background(), CreateRequest{UserID: "disabled", Password: "pw"})
	require.True(t, shared.IsKind(err, shared.KindNotAuthorized))

	_, err = m.Create(context.Background(), CreateRequest{UserID: "locked", Password: "pw"})
	require.True(t, shared.IsKind(err, shared.KindNotAuthorized))

	// Disabled blocks even trusted sessions.
	_, err = m.Create(context.Background(), CreateRequest{UserID: "disabled", Trusted: true})
	require.True(t, shared.IsKind(err, shared.KindNotAuthorized))
}

func TestCreateSilentlyExcludesFailingRoles(t *testing.T) {
	weekdayOnly := constraint.Temporal{DayMask: "23456"} // Monday through Friday
	dir := &stubUserDirectory{
		users: map[string]*users.User{"alice": {ID: "alice", PasswordHash: hash(t, "pw")}},
		assignments: map[string][]users.Assignment{
			"alice": {{UserID: "alice", Role: "teller"}, {UserID: "alice", Role: "weekday"}},
		},
	}
	roleDir := plainRoles("teller")
	roleDir.roles["weekday"] = &roles.Role{Name: "weekday", Constraint: weekdayOnly}
	m, _ := testManager(t, dir, roleDir, nil)
	// Sunday: the weekday role fails its day mask and drops out quietly.
	m.now = func() time.Time { return time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC) }

	sess, err := m.Create(context.Background(), CreateRequest{UserID: "alice", Password: "pw"})
	require.NoError(t, err)
	require.Equal(t, []string{"teller"}, sess.ActiveRoleNames())
}

func TestCreateFailsWhenNothingActivates(t *testing.T) {
	sunday := constraint.Temporal{DayMask: "1"}
	dir := &stubUserDirectory{
		users: map[string]*users.User{"alice": {ID: "alice", PasswordHash: hash(t, "pw")}},
		assignments: map[string][]users.Assignment{
			"alice": {{UserID: "alice", Role: "sunday", Constraint: sunday}},
		},
	}
	m, _ := testManager(t, dir, plainRoles("sunday"), nil)
	// Tuesday: the only assignment's constraint fails.
	m.now = func() time.Time { return time.Date(2024, 3, 12, 12, 0, 0, 0, time.UTC) }

	_, err := m.Create(context.Background(), CreateRequest{UserID: "alice", Password: "pw"})
	require.True(t, shared.IsKind(err, shared.KindNoActivatableRole))
}

func TestDynamicSeparationAtActivation(t *testing.T) {
	dir := &stubUserDirectory{
		users: map[string]*users.User{"alice": {ID: "alice", PasswordHash: hash(t, "pw")}},
		assignments: map[string][]users.Assignment{
			"alice": {{UserID: "alice", Role: "drafter"}, {UserID: "alice", Role: "approver"}},
		},
	}
	sets := &stubSets{
		dynamic: []constraint.RoleSet{constraint.NewRoleSet("workflow", []string{"drafter", "approver"}, 2)},
	}
	m, _ := testManager(t, dir, plainRoles("drafter", "approver"), sets)

	// Only one of the two DSD members activates; the second drops out.
	sess, err := m.Create(context.Background(), CreateRequest{UserID: "alice", Password: "pw"})
	require.NoError(t, err)
	require.Len(t, sess.Active, 1)

	// Explicitly activating the other member is refused, not silent.
	other := "approver"
	if sess.ActiveRoleNames()[0] == "approver" {
		other = "drafter"
	}
	_, err = m.AddActiveRole(context.Background(), sess.ID, other)
	require.True(t, shared.IsKind(err, shared.KindSeparationOfDuty))
}

func TestAddAndDropActiveRole(t *testing.T) {
	dir := &stubUserDirectory{
		users: map[string]*users.User{"alice": {ID: "alice", PasswordHash: hash(t, "pw")}},
		assignments: map[string][]users.Assignment{
			"alice": {{UserID: "alice", Role: "teller"}, {UserID: "alice", Role: "clerk"}},
		},
	}
	m, _ := testManager(t, dir, plainRoles("teller", "clerk"), nil)

	sess, err := m.Create(context.Background(), CreateRequest{
		UserID: "alice", Password: "pw", Roles: []string{"teller"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"teller"}, sess.ActiveRoleNames())

	sess, err = m.AddActiveRole(context.Background(), sess.ID, "clerk")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"teller", "clerk"}, sess.ActiveRoleNames())

	_, err = m.AddActiveRole(context.Background(), sess.ID, "clerk")
	require.True(t, shared.IsKind(err, shared.KindAlreadyExists))

	_, err = m.AddActiveRole(context.Background(), sess.ID, "auditor")
	require.True(t, shared.IsKind(err, shared.KindNotFound))

	sess, err = m.DropActiveRole(context.Background(), sess.ID, "teller")
	require.NoError(t, err)
	require.Equal(t, []string{"clerk"}, sess.ActiveRoleNames())

	_, err = m.DropActiveRole(context.Background(), sess.ID, "teller")
	require.True(t, shared.IsKind(err, shared.KindNotActive))
}

func TestCloseAndExpiry(t *testing.T) {
	dir := &stubUserDirectory{
		users:       map[string]*users.User{"alice": {ID: "alice", PasswordHash: hash(t, "pw")}},
		assignments: map[string][]users.Assignment{},
	}
	m, mr := testManager(t, dir, plainRoles(), nil)

	sess, err := m.Create(context.Background(), CreateRequest{UserID: "alice", Password: "pw"})
	require.NoError(t, err)

	require.NoError(t, m.Close(context.Background(), sess.ID))
	err = m.Close(context.Background(), sess.ID)
	require.True(t, shared.IsKind(err, shared.KindSessionClosed))
	_, err = m.Get(context.Background(), sess.ID)
	require.True(t, shared.IsKind(err, shared.KindSessionClosed))

	// A fresh session times out after its inactivity window.
	sess, err = m.Create(context.Background(), CreateRequest{UserID: "alice", Password: "pw"})
	require.NoError(t, err)
	mr.FastForward(time.Duration(sess.TimeoutMins)*time.Minute + time.Second)
	_, err = m.Get(context.Background(), sess.ID)
	require.True(t, shared.IsKind(err, shared.KindSessionClosed))
}

func TestCreateActivatesAdminRoles(t *testing.T) {
	dir := &stubUserDirectory{
		users: map[string]*users.User{"carol": {ID: "carol", PasswordHash: hash(t, "pw")}},
		assignments: map[string][]users.Assignment{
			"carol": {{UserID: "carol", Role: "teller"}},
		},
		adminAssignments: map[string][]users.Assignment{
			"carol": {{UserID: "carol", Role: "branch-admin"}},
		},
	}
	roleDir := plainRoles("teller")
	roleDir.adminRoles = map[string]*roles.AdminRole{
		"branch-admin": {Name: "branch-admin"},
	}
	m, _ := testManager(t, dir, roleDir, nil)

	sess, err := m.Create(context.Background(), CreateRequest{UserID: "carol", Password: "pw"})
	require.NoError(t, err)
	require.Equal(t, []string{"teller"}, sess.ActiveRoleNames())
	require.Equal(t, []string{"branch-admin"}, sess.ActiveAdminRoleNames())

	// The activated set survives the round trip through the store.
	got, err := m.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"branch-admin"}, got.ActiveAdminRoleNames())
}

func TestCreateFailsWhenNoAdminRoleActivates(t *testing.T) {
	sunday := constraint.Temporal{DayMask: "1"}
	dir := &stubUserDirectory{
		users: map[string]*users.User{"carol": {ID: "carol", PasswordHash: hash(t, "pw")}},
		assignments: map[string][]users.Assignment{
			"carol": {{UserID: "carol", Role: "teller"}},
		},
		adminAssignments: map[string][]users.Assignment{
			"carol": {{UserID: "carol", Role: "sunday-admin"}},
		},
	}
	roleDir := plainRoles("teller")
	roleDir.adminRoles = map[string]*roles.AdminRole{
		"sunday-admin": {Name: "sunday-admin", Constraint: sunday},
	}
	m, _ := testManager(t, dir, roleDir, nil)
	// Tuesday: the regular role activates, the requested admin role cannot.
	m.now = func() time.Time { return time.Date(2024, 3, 12, 12, 0, 0, 0, time.UTC) }

	_, err := m.Create(context.Background(), CreateRequest{
		UserID: "carol", Password: "pw", AdminRoles: []string{"sunday-admin"},
	})
	require.True(t, shared.IsKind(err, shared.KindNoActivatableRole))
}

func TestAddAndDropActiveAdminRole(t *testing.T) {
	dir := &stubUserDirectory{
		users:       map[string]*users.User{"carol": {ID: "carol", PasswordHash: hash(t, "pw")}},
		assignments: map[string][]users.Assignment{},
		adminAssignments: map[string][]users.Assignment{
			"carol": {{UserID: "carol", Role: "branch-admin"}, {UserID: "carol", Role: "hq-admin"}},
		},
	}
	roleDir := plainRoles()
	roleDir.adminRoles = map[string]*roles.AdminRole{
		"branch-admin": {Name: "branch-admin"},
		"hq-admin":     {Name: "hq-admin"},
	}
	m, _ := testManager(t, dir, roleDir, nil)

	sess, err := m.Create(context.Background(), CreateRequest{
		UserID: "carol", Password: "pw", AdminRoles: []string{"branch-admin"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"branch-admin"}, sess.ActiveAdminRoleNames())

	sess, err = m.AddActiveAdminRole(context.Background(), sess.ID, "hq-admin")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"branch-admin", "hq-admin"}, sess.ActiveAdminRoleNames())

	_, err = m.AddActiveAdminRole(context.Background(), sess.ID, "hq-admin")
	require.True(t, shared.IsKind(err, shared.KindAlreadyExists))

	_, err = m.AddActiveAdminRole(context.Background(), sess.ID, "super-admin")
	require.True(t, shared.IsKind(err, shared.KindNotFound))

	sess, err = m.DropActiveAdminRole(context.Background(), sess.ID, "branch-admin")
	require.NoError(t, err)
	require.Equal(t, []string{"hq-admin"}, sess.ActiveAdminRoleNames())

	_, err = m.DropActiveAdminRole(context.Background(), sess.ID, "branch-admin")
	require.True(t, shared.IsKind(err, shared.KindNotActive))
}

type recordingRecorder struct {
	events []audit.Event
}

func (r *recordingRecorder) Record(ctx context.Context, event audit.Event) {
	r.events = append(r.events, event)
}

func TestPropsStoredAndStampedOntoAuditEvents(t *testing.T) {
	dir := &stubUserDirectory{
		users:       map[string]*users.User{"alice": {ID: "alice", PasswordHash: hash(t, "pw")}},
		assignments: map[string][]users.Assignment{},
	}
	store, _ := testStore(t)
	rec := &recordingRecorder{}
	m := NewManager(store, dir, plainRoles(), &stubSets{}, rec)

	props := map[string]string{"host": "teller-3.branch.example"}
	sess, err := m.Create(context.Background(), CreateRequest{
		UserID: "alice", Password: "pw", Props: props,
	})
	require.NoError(t, err)
	require.Equal(t, props, sess.Props)

	got, err := m.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Equal(t, props, got.Props)

	require.NoError(t, m.Close(context.Background(), sess.ID))
	require.Len(t, rec.events, 2)
	require.Equal(t, "session.create", rec.events[0].Op)
	require.Equal(t, props, rec.events[0].Props)
	require.Equal(t, "session.close", rec.events[1].Op)
	require.Equal(t, props, rec.events[1].Props)
}

func TestUserTimeoutOverridesDefault(t *testing.T) {
	dir := &stubUserDirectory{
		users: map[string]*users.User{
			"alice": {ID: "alice", PasswordHash: hash(t, "pw"),
				Constraint: constraint.Temporal{TimeoutMins: 5}},
		},
		assignments: map[string][]users.Assignment{},
	}
	m, _ := testManager(t, dir, plainRoles(), nil)

	sess, err := m.Create(context.Background(), CreateRequest{UserID: "alice", Password: "pw"})
	require.NoError(t, err)
	require.Equal(t, 5, sess.TimeoutMins)
}

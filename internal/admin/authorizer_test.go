package admin

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bastion-iam/bastion/internal/hierarchy"
	"github.com/bastion-iam/bastion/internal/perms"
	"github.com/bastion-iam/bastion/internal/roles"
	"github.com/bastion-iam/bastion/internal/session"
	"github.com/bastion-iam/bastion/internal/shared"
	"github.com/bastion-iam/bastion/internal/users"
)

type stubSessions struct {
	sessions map[string]*session.Session
}

func (s *stubSessions) Get(ctx context.Context, id string) (*session.Session, error) {
	sess, ok := s.sessions[id]
	if !ok {
		return nil, shared.E(shared.KindSessionClosed, "session: closed")
	}
	return sess, nil
}

type stubDirectory struct {
	users map[string]*users.User
}

func (d *stubDirectory) Get(ctx context.Context, id string) (*users.User, error) {
	u, ok := d.users[shared.NormalizeName(id)]
	if !ok {
		return nil, shared.E(shared.KindNotFound, "users: user not found")
	}
	return u, nil
}

type stubAdminRoles struct {
	roles map[string]*roles.AdminRole
}

func (s *stubAdminRoles) GetAdminRole(ctx context.Context, name string) (*roles.AdminRole, error) {
	role, ok := s.roles[shared.NormalizeName(name)]
	if !ok {
		return nil, shared.E(shared.KindNotFound, "roles: admin role not found")
	}
	return role, nil
}

type stubObjects struct {
	objects map[string]*perms.Object
}

func (s *stubObjects) GetObject(ctx context.Context, name string) (*perms.Object, error) {
	obj, ok := s.objects[shared.NormalizeName(name)]
	if !ok {
		return nil, shared.E(shared.KindNotFound, "perms: object not found")
	}
	return obj, nil
}

type memEdgeStore struct {
	edges map[hierarchy.Kind][]hierarchy.Edge
}

func newMemEdgeStore() *memEdgeStore {
	return &memEdgeStore{edges: make(map[hierarchy.Kind][]hierarchy.Edge)}
}

func (s *memEdgeStore) ListEdges(ctx context.Context, kind hierarchy.Kind) ([]hierarchy.Edge, error) {
	return s.edges[kind], nil
}

func (s *memEdgeStore) InsertEdge(ctx context.Context, kind hierarchy.Kind, edge hierarchy.Edge) error {
	s.edges[kind] = append(s.edges[kind], edge)
	return nil
}

func (s *memEdgeStore) DeleteEdge(ctx context.Context, kind hierarchy.Kind, edge hierarchy.Edge) error {
	return nil
}

// Fixture hierarchy: teller → manager → director in the RBAC graph, so
// director inherits the most; corp > branch in the user-OU tree. carol's
// session has branch-admin active, with range [teller, director) and
// user-OU scope corp.
func fixture(t *testing.T) (*Authorizer, *stubSessions) {
	t.Helper()
	store := newMemEdgeStore()
	roleGraph := hierarchy.NewResolver(hierarchy.KindRole, store)
	require.NoError(t, roleGraph.AddEdge(context.Background(), "teller", "manager"))
	require.NoError(t, roleGraph.AddEdge(context.Background(), "manager", "director"))
	userOUs := hierarchy.NewResolver(hierarchy.KindUserOU, store)
	require.NoError(t, userOUs.AddEdge(context.Background(), "corp", "branch"))
	permOUs := hierarchy.NewResolver(hierarchy.KindPermOU, store)
	require.NoError(t, permOUs.AddEdge(context.Background(), "apps", "ledger-apps"))

	dir := &stubDirectory{
		users: map[string]*users.User{
			"carol": {ID: "carol"},
			"bob":   {ID: "bob", OrgUnit: "branch"},
			"eve":   {ID: "eve", OrgUnit: "remote"},
		},
	}
	adminRoles := &stubAdminRoles{roles: map[string]*roles.AdminRole{
		"branch-admin": {
			Name:           "branch-admin",
			BeginRange:     "teller",
			EndRange:       "director",
			BeginInclusive: true,
			EndInclusive:   false,
			UserOUs:        []string{"corp"},
			PermOUs:        []string{"apps"},
		},
	}}
	objects := &stubObjects{objects: map[string]*perms.Object{
		"ledger": {Name: "ledger", OrgUnit: "ledger-apps"},
		"vault":  {Name: "vault", OrgUnit: "secure"},
	}}
	sessions := &stubSessions{sessions: map[string]*session.Session{
		"sess-carol": {ID: "sess-carol", UserID: "carol",
			ActiveAdmin: []session.ActiveRole{{Name: "branch-admin"}}},
	}}
	return NewAuthorizer(sessions, dir, adminRoles, objects, roleGraph, userOUs, permOUs), sessions
}

func TestCanAssignWithinRangeAndScope(t *testing.T) {
	auth, _ := fixture(t)

	// teller: begin bound, inclusive. bob's OU branch descends from corp.
	require.NoError(t, auth.CanAssign(context.Background(), "sess-carol", "bob", "teller"))
	// manager: strictly inside the range.
	require.NoError(t, auth.CanAssign(context.Background(), "sess-carol", "bob", "manager"))
}

func TestCanAssignRejectsExclusiveTopBound(t *testing.T) {
	auth, _ := fixture(t)
	err := auth.CanAssign(context.Background(), "sess-carol", "bob", "director")
	require.True(t, shared.IsKind(err, shared.KindNotAuthorized))
}

func TestCanAssignRejectsRoleOutsideRange(t *testing.T) {
	auth, _ := fixture(t)
	err := auth.CanAssign(context.Background(), "sess-carol", "bob", "intern")
	require.True(t, shared.IsKind(err, shared.KindNotAuthorized))
}

func TestCanAssignRejectsUserOutsideOUScope(t *testing.T) {
	auth, _ := fixture(t)
	err := auth.CanAssign(context.Background(), "sess-carol", "eve", "teller")
	require.True(t, shared.IsKind(err, shared.KindNotAuthorized))
}

func TestCanAssignUnknownTargetUser(t *testing.T) {
	auth, _ := fixture(t)
	err := auth.CanAssign(context.Background(), "sess-carol", "ghost", "teller")
	require.True(t, shared.IsKind(err, shared.KindNotFound))
}

func TestCanAssignClosedAdminSession(t *testing.T) {
	auth, _ := fixture(t)
	err := auth.CanAssign(context.Background(), "sess-gone", "bob", "teller")
	require.True(t, shared.IsKind(err, shared.KindSessionClosed))
}

func TestCanGrantUsesPermOUScope(t *testing.T) {
	auth, _ := fixture(t)

	// ledger's OU descends from the scoped apps tree.
	require.NoError(t, auth.CanGrant(context.Background(), "sess-carol", "ledger", "teller"))

	// vault's OU is outside the scope.
	err := auth.CanGrant(context.Background(), "sess-carol", "vault", "teller")
	require.True(t, shared.IsKind(err, shared.KindNotAuthorized))

	// in-scope object but out-of-range role.
	err = auth.CanGrant(context.Background(), "sess-carol", "ledger", "director")
	require.True(t, shared.IsKind(err, shared.KindNotAuthorized))
}

func TestTemporallyExpiredAdminRoleIsIgnored(t *testing.T) {
	auth, _ := fixture(t)
	// Confine branch-admin to Sundays and check on a Tuesday.
	role := mustAdminRole(t, auth, "branch-admin")
	role.Constraint.DayMask = "1"
	auth.now = func() time.Time {
		return time.Date(2024, time.March, 12, 10, 0, 0, 0, time.UTC)
	}
	err := auth.CanAssign(context.Background(), "sess-carol", "bob", "teller")
	require.True(t, shared.IsKind(err, shared.KindNotAuthorized))
}

func mustAdminRole(t *testing.T, auth *Authorizer, name string) *roles.AdminRole {
	t.Helper()
	role, err := auth.adminRoles.GetAdminRole(context.Background(), name)
	require.NoError(t, err)
	return role
}

func TestSessionWithoutActiveAdminRolesIsRefused(t *testing.T) {
	auth, sessions := fixture(t)
	sessions.sessions["sess-carol"].ActiveAdmin = nil
	err := auth.CanAssign(context.Background(), "sess-carol", "bob", "teller")
	require.True(t, shared.IsKind(err, shared.KindNotAuthorized))
}

func TestVanishedAdminRoleIsSkipped(t *testing.T) {
	auth, sessions := fixture(t)
	// The session still references an admin role that has been deleted.
	sessions.sessions["sess-carol"].ActiveAdmin = []session.ActiveRole{{Name: "retired-admin"}}
	err := auth.CanAssign(context.Background(), "sess-carol", "bob", "teller")
	require.True(t, shared.IsKind(err, shared.KindNotAuthorized))
}

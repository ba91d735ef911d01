package access

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bastion-iam/bastion/internal/audit"
	"github.com/bastion-iam/bastion/internal/hierarchy"
	"github.com/bastion-iam/bastion/internal/perms"
	"github.com/bastion-iam/bastion/internal/session"
	"github.com/bastion-iam/bastion/internal/shared"
	"github.com/bastion-iam/bastion/internal/users"
)

type stubGrants struct {
	// permission key -> grants
	permissions map[string]*perms.Permission
}

func pk(object, operation, objectID string) string {
	return object + "\x00" + operation + "\x00" + objectID
}

func (g *stubGrants) GetPermission(ctx context.Context, object, operation, objectID string) (*perms.Permission, error) {
	perm, ok := g.permissions[pk(shared.NormalizeName(object), shared.NormalizeName(operation), objectID)]
	if !ok {
		return nil, shared.E(shared.KindNotFound, "perms: permission not found")
	}
	return perm, nil
}

func (g *stubGrants) GrantedToRoles(ctx context.Context, roleNames []string) ([]perms.Permission, error) {
	wanted := make(map[string]struct{}, len(roleNames))
	for _, role := range roleNames {
		wanted[role] = struct{}{}
	}
	var out []perms.Permission
	for _, perm := range g.permissions {
		for _, role := range perm.Roles {
			if _, ok := wanted[role]; ok {
				out = append(out, *perm)
				break
			}
		}
	}
	return out, nil
}

func (g *stubGrants) GrantedToUser(ctx context.Context, userID string) ([]perms.Permission, error) {
	var out []perms.Permission
	for _, perm := range g.permissions {
		for _, u := range perm.Users {
			if u == shared.NormalizeName(userID) {
				out = append(out, *perm)
				break
			}
		}
	}
	return out, nil
}

type stubAssignments struct {
	byUser map[string][]users.Assignment
}

func (a *stubAssignments) Assignments(ctx context.Context, userID string) ([]users.Assignment, error) {
	return a.byUser[shared.NormalizeName(userID)], nil
}

func (a *stubAssignments) AssignedUsers(ctx context.Context, role string) ([]string, error) {
	role = shared.NormalizeName(role)
	var out []string
	for userID, list := range a.byUser {
		for _, assignment := range list {
			if assignment.Role == role {
				out = append(out, userID)
			}
		}
	}
	return out, nil
}

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

type memEdgeStore struct {
	edges []hierarchy.Edge
}

func (s *memEdgeStore) ListEdges(ctx context.Context, kind hierarchy.Kind) ([]hierarchy.Edge, error) {
	return s.edges, nil
}

func (s *memEdgeStore) InsertEdge(ctx context.Context, kind hierarchy.Kind, edge hierarchy.Edge) error {
	s.edges = append(s.edges, edge)
	return nil
}

func (s *memEdgeStore) DeleteEdge(ctx context.Context, kind hierarchy.Kind, edge hierarchy.Edge) error {
	for i, e := range s.edges {
		if e == edge {
			s.edges = append(s.edges[:i], s.edges[i+1:]...)
			return nil
		}
	}
	return nil
}

type countingDecider struct {
	granted int
	denied  int
}

func (d *countingDecider) Decided(granted bool) {
	if granted {
		d.granted++
	} else {
		d.denied++
	}
}

// Fixture: manager inherits from teller (teller is manager's ascendant),
// teller is granted ledger.read, manager alone holds vault.close, and
// alice also carries a direct grant on vault.open.
func fixture(t *testing.T) (*Service, *stubSessions, *countingDecider) {
	t.Helper()
	grants := &stubGrants{permissions: map[string]*perms.Permission{
		pk("ledger", "read", ""):  {Object: "ledger", Operation: "read", Roles: []string{"teller"}},
		pk("ledger", "audit", ""): {Object: "ledger", Operation: "audit", Roles: []string{"auditor"}},
		pk("vault", "close", ""):  {Object: "vault", Operation: "close", Roles: []string{"manager"}},
		pk("vault", "open", ""):   {Object: "vault", Operation: "open", Users: []string{"alice"}},
	}}
	assignments := &stubAssignments{byUser: map[string][]users.Assignment{
		"alice": {{UserID: "alice", Role: "manager"}},
		"bob":   {{UserID: "bob", Role: "teller"}},
	}}
	sessions := &stubSessions{sessions: map[string]*session.Session{
		"sess-alice": {ID: "sess-alice", UserID: "alice",
			Active: []session.ActiveRole{{Name: "manager"}}},
		"sess-bob": {ID: "sess-bob", UserID: "bob",
			Active: []session.ActiveRole{{Name: "teller"}}},
	}}
	store := &memEdgeStore{}
	graph := hierarchy.NewResolver(hierarchy.KindRole, store)
	require.NoError(t, graph.AddEdge(context.Background(), "teller", "manager"))
	decider := &countingDecider{}
	return NewService(grants, assignments, sessions, graph, audit.NopRecorder{}, decider), sessions, decider
}

func TestRolePermissionsIncludeAscendants(t *testing.T) {
	svc, _, _ := fixture(t)

	// manager picks up its own grant plus teller's inherited one.
	list, err := svc.RolePermissions(context.Background(), "manager")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "ledger", list[0].Object)
	require.Equal(t, "vault", list[1].Object)

	// inheritance never flows downward: teller sees only its own grant.
	list, err = svc.RolePermissions(context.Background(), "teller")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "ledger", list[0].Object)
}

func TestUserPermissionsMergeDirectGrants(t *testing.T) {
	svc, _, _ := fixture(t)

	list, err := svc.UserPermissions(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, list, 3)
	require.Equal(t, "ledger", list[0].Object)
	require.Equal(t, "vault", list[1].Object)
	require.Equal(t, "vault", list[2].Object)
}

func TestCheckAccessThroughHierarchy(t *testing.T) {
	svc, _, decider := fixture(t)

	// manager reaches ledger.read through its ascendant teller.
	granted, err := svc.CheckAccess(context.Background(), "sess-alice", "ledger", "read", "")
	require.NoError(t, err)
	require.True(t, granted)

	// but not ledger.audit, granted to an unrelated role.
	granted, err = svc.CheckAccess(context.Background(), "sess-alice", "ledger", "audit", "")
	require.NoError(t, err)
	require.False(t, granted)

	// direct user grants work without any active role.
	granted, err = svc.CheckAccess(context.Background(), "sess-alice", "vault", "open", "")
	require.NoError(t, err)
	require.True(t, granted)

	// teller does not inherit manager's vault.close.
	granted, err = svc.CheckAccess(context.Background(), "sess-bob", "vault", "close", "")
	require.NoError(t, err)
	require.False(t, granted)

	require.Equal(t, 2, decider.granted)
	require.Equal(t, 2, decider.denied)
}

func TestCheckAccessDistinguishesObjectIDs(t *testing.T) {
	svc, _, _ := fixture(t)
	svc.grants.(*stubGrants).permissions[pk("ledger", "read", "branch-7")] =
		&perms.Permission{Object: "ledger", Operation: "read", ObjectID: "branch-7", Roles: []string{"auditor"}}

	// the instance-scoped grant belongs to auditor alone.
	granted, err := svc.CheckAccess(context.Background(), "sess-bob", "ledger", "read", "branch-7")
	require.NoError(t, err)
	require.False(t, granted)

	// the unscoped permission is untouched by the scoped one.
	granted, err = svc.CheckAccess(context.Background(), "sess-bob", "ledger", "read", "")
	require.NoError(t, err)
	require.True(t, granted)
}

func TestCheckAccessUnknownPermissionIsError(t *testing.T) {
	svc, _, _ := fixture(t)
	_, err := svc.CheckAccess(context.Background(), "sess-alice", "ghost", "read", "")
	require.True(t, shared.IsKind(err, shared.KindNotFound))
}

func TestCheckAccessClosedSession(t *testing.T) {
	svc, sessions, _ := fixture(t)
	delete(sessions.sessions, "sess-alice")
	_, err := svc.CheckAccess(context.Background(), "sess-alice", "ledger", "read", "")
	require.True(t, shared.IsKind(err, shared.KindSessionClosed))
}

func TestSessionPermissionsFollowActiveRoles(t *testing.T) {
	svc, sessions, _ := fixture(t)

	list, err := svc.SessionPermissions(context.Background(), "sess-alice")
	require.NoError(t, err)
	require.Len(t, list, 3)

	// Dropping manager leaves only the direct grant reachable.
	sessions.sessions["sess-alice"].Active = nil
	list, err = svc.SessionPermissions(context.Background(), "sess-alice")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "vault", list[0].Object)
}

func TestInverseQueries(t *testing.T) {
	svc, _, _ := fixture(t)

	roles, err := svc.PermissionRoles(context.Background(), "ledger", "read", "")
	require.NoError(t, err)
	require.Equal(t, []string{"teller"}, roles)

	// manager inherits teller's grant, so both are authorized.
	roles, err = svc.AuthorizedPermissionRoles(context.Background(), "ledger", "read", "")
	require.NoError(t, err)
	require.Equal(t, []string{"manager", "teller"}, roles)

	// manager's own grant never reaches teller.
	roles, err = svc.AuthorizedPermissionRoles(context.Background(), "vault", "close", "")
	require.NoError(t, err)
	require.Equal(t, []string{"manager"}, roles)

	users, err := svc.AuthorizedPermissionUsers(context.Background(), "ledger", "read", "")
	require.NoError(t, err)
	require.Equal(t, []string{"alice", "bob"}, users)

	users, err = svc.PermissionUsers(context.Background(), "vault", "open", "")
	require.NoError(t, err)
	require.Equal(t, []string{"alice"}, users)
}

package admin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bastion-iam/bastion/internal/shared"
	"github.com/bastion-iam/bastion/internal/users"
)

type recordingUserAdmin struct {
	assigned []users.Assignment
}

func (r *recordingUserAdmin) AssignRole(ctx context.Context, a users.Assignment) error {
	r.assigned = append(r.assigned, a)
	return nil
}

func (r *recordingUserAdmin) DeassignRole(ctx context.Context, userID, role string) error {
	return nil
}

type recordingPermAdmin struct {
	grants []string
}

func (r *recordingPermAdmin) GrantToRole(ctx context.Context, object, operation, objectID, role string) error {
	key := object + "." + operation
	if objectID != "" {
		key += ":" + objectID
	}
	r.grants = append(r.grants, key+":"+role)
	return nil
}

func (r *recordingPermAdmin) RevokeFromRole(ctx context.Context, object, operation, objectID, role string) error {
	return nil
}

func TestAssignUserRequiresAdminSession(t *testing.T) {
	auth, _ := fixture(t)
	ua := &recordingUserAdmin{}
	svc := NewService(auth, ua, &recordingPermAdmin{})

	err := svc.AssignUser(context.Background(), users.Assignment{UserID: "bob", Role: "teller"})
	require.True(t, shared.IsKind(err, shared.KindNotAuthorized))
	require.Empty(t, ua.assigned)
}

func TestAssignUserDelegatesWhenAuthorized(t *testing.T) {
	auth, _ := fixture(t)
	ua := &recordingUserAdmin{}
	svc := NewService(auth, ua, &recordingPermAdmin{})
	ctx := shared.ContextWithAdminSessionID(context.Background(), "sess-carol")

	require.NoError(t, svc.AssignUser(ctx, users.Assignment{UserID: "bob", Role: "teller"}))
	require.Len(t, ua.assigned, 1)
	require.Equal(t, "bob", ua.assigned[0].UserID)
}

func TestAssignUserStopsBeforeDelegateOnDeny(t *testing.T) {
	auth, _ := fixture(t)
	ua := &recordingUserAdmin{}
	svc := NewService(auth, ua, &recordingPermAdmin{})
	ctx := shared.ContextWithAdminSessionID(context.Background(), "sess-carol")

	err := svc.AssignUser(ctx, users.Assignment{UserID: "bob", Role: "director"})
	require.True(t, shared.IsKind(err, shared.KindNotAuthorized))
	require.Empty(t, ua.assigned)
}

func TestGrantToRoleChecksObjectScope(t *testing.T) {
	auth, _ := fixture(t)
	pa := &recordingPermAdmin{}
	svc := NewService(auth, &recordingUserAdmin{}, pa)
	ctx := shared.ContextWithAdminSessionID(context.Background(), "sess-carol")

	require.NoError(t, svc.GrantToRole(ctx, "ledger", "read", "", "teller"))
	require.Equal(t, []string{"ledger.read:teller"}, pa.grants)

	err := svc.GrantToRole(ctx, "vault", "open", "", "teller")
	require.True(t, shared.IsKind(err, shared.KindNotAuthorized))
	require.Len(t, pa.grants, 1)
}

package audit

import (
	"context"

	"github.com/bastion-iam/bastion/internal/shared"
)

// PrincipalFromContext derives the audit principal from the request context:
// the admin session when one gated the call, otherwise the caller's own
// session, otherwise "system".
func PrincipalFromContext(ctx context.Context) string {
	if id := shared.AdminSessionIDFromContext(ctx); id != "" {
		return id
	}
	if id := shared.SessionIDFromContext(ctx); id != "" {
		return id
	}
	return "system"
}

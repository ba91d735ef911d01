package session

import (
	"time"
)

// ActiveRole is a role activated within a session.
type ActiveRole struct {
	Name        string    `json:"name"`
	ActivatedAt time.Time `json:"activated_at"`
}

// Session is an authenticated principal with its activated role sets.
// RBAC and admin roles activate independently; Props carries caller
// metadata such as the origin host, copied into audit events. The whole
// value round-trips through Redis as JSON; the key's TTL carries the
// inactivity timeout.
type Session struct {
	ID          string            `json:"id"`
	UserID      string            `json:"user_id"`
	Trusted     bool              `json:"trusted"`
	Active      []ActiveRole      `json:"active"`
	ActiveAdmin []ActiveRole      `json:"active_admin,omitempty"`
	Props       map[string]string `json:"props,omitempty"`
	TimeoutMins int               `json:"timeout_mins"`
	CreatedAt   time.Time         `json:"created_at"`
	LastAccess  time.Time         `json:"last_access"`
}

// ActiveRoleNames returns the activated role names in activation order.
func (s *Session) ActiveRoleNames() []string {
	names := make([]string, 0, len(s.Active))
	for _, r := range s.Active {
		names = append(names, r.Name)
	}
	return names
}

// ActiveAdminRoleNames returns the activated admin-role names in
// activation order.
func (s *Session) ActiveAdminRoleNames() []string {
	names := make([]string, 0, len(s.ActiveAdmin))
	for _, r := range s.ActiveAdmin {
		names = append(names, r.Name)
	}
	return names
}

// IsActive reports whether the named role is activated.
func (s *Session) IsActive(role string) bool {
	for _, r := range s.Active {
		if r.Name == role {
			return true
		}
	}
	return false
}

// IsAdminActive reports whether the named admin role is activated.
func (s *Session) IsAdminActive(role string) bool {
	for _, r := range s.ActiveAdmin {
		if r.Name == role {
			return true
		}
	}
	return false
}

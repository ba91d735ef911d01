package session

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/bastion-iam/bastion/internal/audit"
	"github.com/bastion-iam/bastion/internal/constraint"
	"github.com/bastion-iam/bastion/internal/roles"
	"github.com/bastion-iam/bastion/internal/shared"
	"github.com/bastion-iam/bastion/internal/users"
)

// UserDirectory resolves the authenticating user and their role and
// admin-role assignments. Implemented by the users repository.
type UserDirectory interface {
	Get(ctx context.Context, id string) (*users.User, error)
	Assignments(ctx context.Context, userID string) ([]users.Assignment, error)
	AdminAssignments(ctx context.Context, userID string) ([]users.Assignment, error)
}

// RoleDirectory resolves role and admin-role definitions for activation
// checks. Implemented by the roles repository.
type RoleDirectory interface {
	GetRole(ctx context.Context, name string) (*roles.Role, error)
	GetAdminRole(ctx context.Context, name string) (*roles.AdminRole, error)
}

// SeparationSets supplies the SSD/DSD sets containing a role. Implemented
// by the sdset service.
type SeparationSets interface {
	StaticSets(ctx context.Context, role string) ([]constraint.RoleSet, error)
	DynamicSets(ctx context.Context, role string) ([]constraint.RoleSet, error)
}

// DefaultTimeoutMins applies when neither the user nor the request carries
// an inactivity timeout.
const DefaultTimeoutMins = 30

// Manager creates and mutates sessions. Role activation enforces the full
// gauntlet: assignment, role and user temporal constraints plus SSD and
// DSD sets against the roles already active.
type Manager struct {
	store          Store
	users          UserDirectory
	roles          RoleDirectory
	sets           SeparationSets
	recorder       audit.Recorder
	now            func() time.Time
	defaultTimeout int
}

// NewManager builds a Manager.
func NewManager(store Store, userDir UserDirectory, roleDir RoleDirectory, sets SeparationSets, recorder audit.Recorder) *Manager {
	return &Manager{
		store:          store,
		users:          userDir,
		roles:          roleDir,
		sets:           sets,
		recorder:       recorder,
		now:            time.Now,
		defaultTimeout: DefaultTimeoutMins,
	}
}

// SetDefaultTimeout overrides the fallback inactivity timeout applied to
// users without one of their own.
func (m *Manager) SetDefaultTimeout(mins int) {
	if mins > 0 {
		m.defaultTimeout = mins
	}
}

func (m *Manager) audit(ctx context.Context, op, entityID string, props map[string]string, err error) {
	outcome := audit.OutcomeSuccess
	if err != nil {
		outcome = audit.OutcomeFailure
		switch shared.KindOf(err) {
		case shared.KindNotAuthorized, shared.KindSeparationOfDuty,
			shared.KindTemporalConstraint, shared.KindNoActivatableRole:
			outcome = audit.OutcomeDenied
		}
	}
	m.recorder.Record(ctx, audit.Event{
		Op:        op,
		Principal: audit.PrincipalFromContext(ctx),
		Entity:    "session",
		EntityID:  entityID,
		Outcome:   outcome,
		Props:     props,
	})
}

func sessionProps(s *Session) map[string]string {
	if s == nil {
		return nil
	}
	return s.Props
}

// CreateRequest carries the inputs for opening a session.
type CreateRequest struct {
	UserID   string
	Password string
	// Roles restricts activation to a subset of the user's assignments.
	// Empty means activate everything that passes its checks.
	Roles []string
	// AdminRoles does the same for the user's admin-role assignments.
	AdminRoles []string
	// Props carries caller metadata, typically the origin host or IP,
	// stored on the session and stamped onto its audit events.
	Props map[string]string
	// Trusted skips password verification; the caller has already
	// authenticated the principal.
	Trusted bool
}

// Create authenticates the user and opens a session, activating every
// requested (or assigned) role that passes its constraint and
// separation checks. Admin roles activate through the same rule but
// independently. Roles that fail are silently excluded; if candidates
// existed but none survived, the session is refused.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*Session, error) {
	sess, err := m.create(ctx, req)
	m.audit(ctx, "session.create", shared.NormalizeName(req.UserID), req.Props, err)
	return sess, err
}

func (m *Manager) create(ctx context.Context, req CreateRequest) (*Session, error) {
	user, err := m.users.Get(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if user.Disabled {
		return nil, shared.E(shared.KindNotAuthorized, "session: user %s is disabled", user.ID)
	}
	if !req.Trusted {
		if user.Locked {
			return nil, shared.E(shared.KindNotAuthorized, "session: user %s is locked", user.ID)
		}
		if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
			return nil, shared.E(shared.KindNotAuthorized, "session: invalid credentials for %s", user.ID)
		}
	}

	now := m.now()
	if err := constraint.ValidateTemporal(user.Constraint, now); err != nil {
		return nil, err
	}

	assignments, err := m.users.Assignments(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	candidates := m.selectCandidates(assignments, req.Roles)

	timeout := user.Constraint.TimeoutMins
	if timeout <= 0 {
		timeout = m.defaultTimeout
	}
	sess := &Session{
		ID:          uuid.NewString(),
		UserID:      user.ID,
		Trusted:     req.Trusted,
		Props:       req.Props,
		TimeoutMins: timeout,
		CreatedAt:   now,
		LastAccess:  now,
	}

	for _, candidate := range candidates {
		if m.tryActivate(ctx, sess, candidate, now) == nil {
			sess.Active = append(sess.Active, ActiveRole{Name: candidate.Role, ActivatedAt: now})
		}
	}
	if len(candidates) > 0 && len(sess.Active) == 0 {
		return nil, shared.E(shared.KindNoActivatableRole,
			"session: no role could be activated for %s", user.ID)
	}

	adminAssignments, err := m.users.AdminAssignments(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	adminCandidates := m.selectCandidates(adminAssignments, req.AdminRoles)
	for _, candidate := range adminCandidates {
		if m.tryActivateAdmin(ctx, candidate, now) == nil {
			sess.ActiveAdmin = append(sess.ActiveAdmin, ActiveRole{Name: candidate.Role, ActivatedAt: now})
		}
	}
	if len(adminCandidates) > 0 && len(sess.ActiveAdmin) == 0 {
		return nil, shared.E(shared.KindNoActivatableRole,
			"session: no admin role could be activated for %s", user.ID)
	}

	if err := m.store.Save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// selectCandidates intersects the user's assignments with the requested
// role names, preserving assignment order. Unassigned requested roles are
// dropped rather than rejected.
func (m *Manager) selectCandidates(assignments []users.Assignment, requested []string) []users.Assignment {
	if len(requested) == 0 {
		return assignments
	}
	wanted := make(map[string]struct{}, len(requested))
	for _, name := range shared.NormalizeNames(requested) {
		wanted[name] = struct{}{}
	}
	var out []users.Assignment
	for _, a := range assignments {
		if _, ok := wanted[a.Role]; ok {
			out = append(out, a)
		}
	}
	return out
}

// tryActivate runs the full activation gauntlet for one assignment against
// the session's current active set.
func (m *Manager) tryActivate(ctx context.Context, sess *Session, a users.Assignment, now time.Time) error {
	role, err := m.roles.GetRole(ctx, a.Role)
	if err != nil {
		return err
	}
	if err := constraint.ValidateTemporal(role.Constraint, now); err != nil {
		return err
	}
	if err := constraint.ValidateTemporal(a.Constraint, now); err != nil {
		return err
	}
	active := sess.ActiveRoleNames()
	static, err := m.sets.StaticSets(ctx, role.Name)
	if err != nil {
		return err
	}
	if err := constraint.CheckSeparation(active, role.Name, static); err != nil {
		return err
	}
	dynamic, err := m.sets.DynamicSets(ctx, role.Name)
	if err != nil {
		return err
	}
	return constraint.CheckSeparation(active, role.Name, dynamic)
}

// tryActivateAdmin checks one admin-role assignment. Admin roles carry
// temporal constraints but no separation sets.
func (m *Manager) tryActivateAdmin(ctx context.Context, a users.Assignment, now time.Time) error {
	role, err := m.roles.GetAdminRole(ctx, a.Role)
	if err != nil {
		return err
	}
	if err := constraint.ValidateTemporal(role.Constraint, now); err != nil {
		return err
	}
	return constraint.ValidateTemporal(a.Constraint, now)
}

// Get reads a session and refreshes its inactivity window.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	sess, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	sess.LastAccess = m.now()
	if err := m.store.Save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// AddActiveRole activates one more assigned role in a live session.
func (m *Manager) AddActiveRole(ctx context.Context, id, role string) (*Session, error) {
	sess, err := m.addActiveRole(ctx, id, role)
	m.audit(ctx, "session.role.add", id+":"+shared.NormalizeName(role), sessionProps(sess), err)
	return sess, err
}

func (m *Manager) addActiveRole(ctx context.Context, id, role string) (*Session, error) {
	sess, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	role = shared.NormalizeName(role)
	if sess.IsActive(role) {
		return nil, shared.E(shared.KindAlreadyExists, "session: role %s is already active", role)
	}
	assignments, err := m.users.Assignments(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	var assignment *users.Assignment
	for i := range assignments {
		if assignments[i].Role == role {
			assignment = &assignments[i]
			break
		}
	}
	if assignment == nil {
		return nil, shared.E(shared.KindNotFound, "session: role %s is not assigned to %s", role, sess.UserID)
	}
	now := m.now()
	if err := m.tryActivate(ctx, sess, *assignment, now); err != nil {
		return nil, err
	}
	sess.Active = append(sess.Active, ActiveRole{Name: role, ActivatedAt: now})
	sess.LastAccess = now
	if err := m.store.Save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// DropActiveRole deactivates a role within a live session.
func (m *Manager) DropActiveRole(ctx context.Context, id, role string) (*Session, error) {
	sess, err := m.dropActiveRole(ctx, id, role)
	m.audit(ctx, "session.role.drop", id+":"+shared.NormalizeName(role), sessionProps(sess), err)
	return sess, err
}

func (m *Manager) dropActiveRole(ctx context.Context, id, role string) (*Session, error) {
	sess, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	role = shared.NormalizeName(role)
	found := false
	for i, active := range sess.Active {
		if active.Name == role {
			sess.Active = append(sess.Active[:i], sess.Active[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		return nil, shared.E(shared.KindNotActive, "session: role %s is not active", role)
	}
	sess.LastAccess = m.now()
	if err := m.store.Save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// AddActiveAdminRole activates one more assigned admin role in a live
// session.
func (m *Manager) AddActiveAdminRole(ctx context.Context, id, role string) (*Session, error) {
	sess, err := m.addActiveAdminRole(ctx, id, role)
	m.audit(ctx, "session.adminrole.add", id+":"+shared.NormalizeName(role), sessionProps(sess), err)
	return sess, err
}

func (m *Manager) addActiveAdminRole(ctx context.Context, id, role string) (*Session, error) {
	sess, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	role = shared.NormalizeName(role)
	if sess.IsAdminActive(role) {
		return nil, shared.E(shared.KindAlreadyExists, "session: admin role %s is already active", role)
	}
	assignments, err := m.users.AdminAssignments(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	var assignment *users.Assignment
	for i := range assignments {
		if assignments[i].Role == role {
			assignment = &assignments[i]
			break
		}
	}
	if assignment == nil {
		return nil, shared.E(shared.KindNotFound, "session: admin role %s is not assigned to %s", role, sess.UserID)
	}
	now := m.now()
	if err := m.tryActivateAdmin(ctx, *assignment, now); err != nil {
		return nil, err
	}
	sess.ActiveAdmin = append(sess.ActiveAdmin, ActiveRole{Name: role, ActivatedAt: now})
	sess.LastAccess = now
	if err := m.store.Save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// DropActiveAdminRole deactivates an admin role within a live session.
func (m *Manager) DropActiveAdminRole(ctx context.Context, id, role string) (*Session, error) {
	sess, err := m.dropActiveAdminRole(ctx, id, role)
	m.audit(ctx, "session.adminrole.drop", id+":"+shared.NormalizeName(role), sessionProps(sess), err)
	return sess, err
}

func (m *Manager) dropActiveAdminRole(ctx context.Context, id, role string) (*Session, error) {
	sess, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	role = shared.NormalizeName(role)
	found := false
	for i, active := range sess.ActiveAdmin {
		if active.Name == role {
			sess.ActiveAdmin = append(sess.ActiveAdmin[:i], sess.ActiveAdmin[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		return nil, shared.E(shared.KindNotActive, "session: admin role %s is not active", role)
	}
	sess.LastAccess = m.now()
	if err := m.store.Save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Close terminates a session. Closing an already-closed session reports
// session-closed.
func (m *Manager) Close(ctx context.Context, id string) error {
	var props map[string]string
	if sess, err := m.store.Get(ctx, id); err == nil {
		props = sess.Props
	}
	err := m.store.Delete(ctx, id)
	m.audit(ctx, "session.close", id, props, err)
	return err
}

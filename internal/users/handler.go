package users

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/bastion-iam/bastion/internal/constraint"
	"github.com/bastion-iam/bastion/internal/platform/httpx"
	"github.com/bastion-iam/bastion/internal/shared"
)

// Handler wires HTTP endpoints for user administration.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

type userRequest struct {
	ID          string              `json:"id" validate:"required"`
	Description string              `json:"description"`
	OrgUnit     string              `json:"org_unit"`
	Password    string              `json:"password"`
	Constraint  constraint.Temporal `json:"constraint"`
	Props       map[string]string   `json:"props"`
}

type assignRequest struct {
	Role       string              `json:"role" validate:"required"`
	Constraint constraint.Temporal `json:"constraint"`
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password" validate:"required"`
}

type resetPasswordRequest struct {
	NewPassword string `json:"new_password" validate:"required"`
}

type userResponse struct {
	ID          string              `json:"id"`
	Description string              `json:"description,omitempty"`
	OrgUnit     string              `json:"org_unit,omitempty"`
	Constraint  constraint.Temporal `json:"constraint"`
	Locked      bool                `json:"locked"`
	Disabled    bool                `json:"disabled"`
	Props       map[string]string   `json:"props,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

type assignmentResponse struct {
	UserID     string              `json:"user_id"`
	Role       string              `json:"role"`
	Constraint constraint.Temporal `json:"constraint"`
	AssignedAt time.Time           `json:"assigned_at"`
}

func toUserResponse(u *User) userResponse {
	return userResponse{
		ID:          u.ID,
		Description: u.Description,
		OrgUnit:     u.OrgUnit,
		Constraint:  u.Constraint,
		Locked:      u.Locked,
		Disabled:    u.Disabled,
		Props:       u.Props,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}

func toAssignmentResponses(assignments []Assignment) []assignmentResponse {
	out := make([]assignmentResponse, 0, len(assignments))
	for _, a := range assignments {
		out = append(out, assignmentResponse{
			UserID:     a.UserID,
			Role:       a.Role,
			Constraint: a.Constraint,
			AssignedAt: a.AssignedAt,
		})
	}
	return out
}

// MountRoutes registers user administration routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.searchUsers)
	r.Post("/", h.createUser)
	r.Get("/{id}", h.getUser)
	r.Put("/{id}", h.updateUser)
	r.Delete("/{id}", h.deleteUser)
	r.Post("/{id}/disable", h.disableUser)
	r.Post("/{id}/enable", h.enableUser)
	r.Post("/{id}/lock", h.lockUser)
	r.Post("/{id}/unlock", h.unlockUser)
	r.Post("/{id}/password", h.changePassword)
	r.Post("/{id}/password/reset", h.resetPassword)
	r.Get("/{id}/roles", h.listAssignments)
	r.Post("/{id}/roles", h.assignRole)
	r.Delete("/{id}/roles/{role}", h.deassignRole)
	r.Get("/{id}/admin-roles", h.listAdminAssignments)
	r.Post("/{id}/admin-roles", h.assignAdminRole)
	r.Delete("/{id}/admin-roles/{role}", h.deassignAdminRole)
}

func (h *Handler) decode(r *http.Request, target any) error {
	if err := httpx.DecodeJSON(r, target); err != nil {
		return shared.E(shared.KindValidation, "users: malformed request body")
	}
	if err := h.validator.Struct(target); err != nil {
		return shared.Wrap(shared.KindValidation, err, "users: invalid request")
	}
	return nil
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	user, err := h.service.Create(r.Context(), User{
		ID:          req.ID,
		Description: req.Description,
		OrgUnit:     req.OrgUnit,
		Constraint:  req.Constraint,
		Props:       req.Props,
	}, req.Password)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toUserResponse(user))
}

func (h *Handler) updateUser(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.E(shared.KindValidation, "users: malformed request body"))
		return
	}
	req.ID = chi.URLParam(r, "id")
	if err := h.validator.Struct(&req); err != nil {
		httpx.RespondError(w, shared.Wrap(shared.KindValidation, err, "users: invalid request"))
		return
	}
	user, err := h.service.Update(r.Context(), User{
		ID:          req.ID,
		Description: req.Description,
		OrgUnit:     req.OrgUnit,
		Constraint:  req.Constraint,
		Props:       req.Props,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toUserResponse(user))
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toUserResponse(user))
}

func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) searchUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]userResponse, 0, len(users))
	for i := range users {
		out = append(out, toUserResponse(&users[i]))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) disableUser(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Disable(r.Context(), chi.URLParam(r, "id")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) enableUser(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Enable(r.Context(), chi.URLParam(r, "id")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) lockUser(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Lock(r.Context(), chi.URLParam(r, "id")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) unlockUser(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Unlock(r.Context(), chi.URLParam(r, "id")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.ChangePassword(r.Context(), chi.URLParam(r, "id"), req.OldPassword, req.NewPassword); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.ResetPassword(r.Context(), chi.URLParam(r, "id"), req.NewPassword); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	err := h.service.AssignRole(r.Context(), Assignment{
		UserID:     chi.URLParam(r, "id"),
		Role:       req.Role,
		Constraint: req.Constraint,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) deassignRole(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeassignRole(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "role")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listAssignments(w http.ResponseWriter, r *http.Request) {
	assignments, err := h.service.Assignments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toAssignmentResponses(assignments))
}

func (h *Handler) assignAdminRole(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	err := h.service.AssignAdminRole(r.Context(), Assignment{
		UserID:     chi.URLParam(r, "id"),
		Role:       req.Role,
		Constraint: req.Constraint,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) deassignAdminRole(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeassignAdminRole(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "role")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listAdminAssignments(w http.ResponseWriter, r *http.Request) {
	assignments, err := h.service.AdminAssignments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toAssignmentResponses(assignments))
}

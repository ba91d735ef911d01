package roles

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/bastion-iam/bastion/internal/constraint"
	"github.com/bastion-iam/bastion/internal/hierarchy"
	"github.com/bastion-iam/bastion/internal/platform/httpx"
	"github.com/bastion-iam/bastion/internal/shared"
)

// Handler wires HTTP endpoints for role administration.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

type roleRequest struct {
	Name        string              `json:"name" validate:"required"`
	Description string              `json:"description"`
	Constraint  constraint.Temporal `json:"constraint"`
}

type inheritanceRequest struct {
	Parent string `json:"parent" validate:"required"`
	Child  string `json:"child" validate:"required"`
}

type relativeRequest struct {
	roleRequest
	Existing string `json:"existing" validate:"required"`
}

type adminRoleRequest struct {
	roleRequest
	BeginRange     string   `json:"begin_range"`
	EndRange       string   `json:"end_range"`
	BeginInclusive bool     `json:"begin_inclusive"`
	EndInclusive   bool     `json:"end_inclusive"`
	UserOUs        []string `json:"user_ous"`
	PermOUs        []string `json:"perm_ous"`
}

type roleResponse struct {
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Constraint  constraint.Temporal `json:"constraint"`
	Parents     []string            `json:"parents,omitempty"`
	Children    []string            `json:"children,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

type adminRoleResponse struct {
	roleResponse
	BeginRange     string   `json:"begin_range,omitempty"`
	EndRange       string   `json:"end_range,omitempty"`
	BeginInclusive bool     `json:"begin_inclusive"`
	EndInclusive   bool     `json:"end_inclusive"`
	UserOUs        []string `json:"user_ous,omitempty"`
	PermOUs        []string `json:"perm_ous,omitempty"`
}

func toRoleResponse(r *Role) roleResponse {
	return roleResponse{
		Name:        r.Name,
		Description: r.Description,
		Constraint:  r.Constraint,
		Parents:     r.Parents,
		Children:    r.Children,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func toAdminRoleResponse(r *AdminRole) adminRoleResponse {
	return adminRoleResponse{
		roleResponse: roleResponse{
			Name:        r.Name,
			Description: r.Description,
			Constraint:  r.Constraint,
			Parents:     r.Parents,
			Children:    r.Children,
			CreatedAt:   r.CreatedAt,
			UpdatedAt:   r.UpdatedAt,
		},
		BeginRange:     r.BeginRange,
		EndRange:       r.EndRange,
		BeginInclusive: r.BeginInclusive,
		EndInclusive:   r.EndInclusive,
		UserOUs:        r.UserOUs,
		PermOUs:        r.PermOUs,
	}
}

// MountRoutes registers RBAC role routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.searchRoles)
	r.Post("/", h.createRole)
	r.Get("/{name}", h.getRole)
	r.Put("/{name}", h.updateRole)
	r.Delete("/{name}", h.deleteRole)
	r.Post("/inheritance", h.addInheritance(hierarchy.KindRole))
	r.Delete("/inheritance", h.deleteInheritance(hierarchy.KindRole))
	r.Post("/ascendant", h.addAscendant)
	r.Post("/descendant", h.addDescendant)
}

// MountAdminRoutes registers admin-role routes.
func (h *Handler) MountAdminRoutes(r chi.Router) {
	r.Get("/", h.searchAdminRoles)
	r.Post("/", h.createAdminRole)
	r.Get("/{name}", h.getAdminRole)
	r.Put("/{name}", h.updateAdminRole)
	r.Delete("/{name}", h.deleteAdminRole)
	r.Post("/inheritance", h.addInheritance(hierarchy.KindAdminRole))
	r.Delete("/inheritance", h.deleteInheritance(hierarchy.KindAdminRole))
}

func (h *Handler) decode(r *http.Request, target any) error {
	if err := httpx.DecodeJSON(r, target); err != nil {
		return shared.E(shared.KindValidation, "roles: malformed request body")
	}
	if err := h.validator.Struct(target); err != nil {
		return shared.Wrap(shared.KindValidation, err, "roles: invalid request")
	}
	return nil
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	role, err := h.service.CreateRole(r.Context(), Role{
		Name:        req.Name,
		Description: req.Description,
		Constraint:  req.Constraint,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toRoleResponse(role))
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.E(shared.KindValidation, "roles: malformed request body"))
		return
	}
	req.Name = chi.URLParam(r, "name")
	if err := h.validator.Struct(&req); err != nil {
		httpx.RespondError(w, shared.Wrap(shared.KindValidation, err, "roles: invalid request"))
		return
	}
	role, err := h.service.UpdateRole(r.Context(), Role{
		Name:        req.Name,
		Description: req.Description,
		Constraint:  req.Constraint,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRoleResponse(role))
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	role, err := h.service.GetRole(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRoleResponse(role))
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteRole(r.Context(), chi.URLParam(r, "name")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) searchRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.SearchRoles(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]roleResponse, 0, len(roles))
	for i := range roles {
		out = append(out, toRoleResponse(&roles[i]))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) addInheritance(kind hierarchy.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req inheritanceRequest
		if err := h.decode(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
		if err := h.service.AddInheritance(r.Context(), kind, req.Parent, req.Child); err != nil {
			httpx.RespondError(w, err)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}
}

func (h *Handler) deleteInheritance(kind hierarchy.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req inheritanceRequest
		if err := h.decode(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
		if err := h.service.DeleteInheritance(r.Context(), kind, req.Parent, req.Child); err != nil {
			httpx.RespondError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) addAscendant(w http.ResponseWriter, r *http.Request) {
	var req relativeRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	role, err := h.service.AddAscendant(r.Context(), Role{
		Name:        req.Name,
		Description: req.Description,
		Constraint:  req.Constraint,
	}, req.Existing)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toRoleResponse(role))
}

func (h *Handler) addDescendant(w http.ResponseWriter, r *http.Request) {
	var req relativeRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	role, err := h.service.AddDescendant(r.Context(), Role{
		Name:        req.Name,
		Description: req.Description,
		Constraint:  req.Constraint,
	}, req.Existing)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toRoleResponse(role))
}

func (h *Handler) createAdminRole(w http.ResponseWriter, r *http.Request) {
	var req adminRoleRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	role, err := h.service.CreateAdminRole(r.Context(), adminRoleFromRequest(req, req.Name))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toAdminRoleResponse(role))
}

func (h *Handler) updateAdminRole(w http.ResponseWriter, r *http.Request) {
	var req adminRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.E(shared.KindValidation, "roles: malformed request body"))
		return
	}
	req.Name = chi.URLParam(r, "name")
	if err := h.validator.Struct(&req); err != nil {
		httpx.RespondError(w, shared.Wrap(shared.KindValidation, err, "roles: invalid request"))
		return
	}
	role, err := h.service.UpdateAdminRole(r.Context(), adminRoleFromRequest(req, req.Name))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toAdminRoleResponse(role))
}

func adminRoleFromRequest(req adminRoleRequest, name string) AdminRole {
	return AdminRole{
		Name:           name,
		Description:    req.Description,
		Constraint:     req.Constraint,
		BeginRange:     req.BeginRange,
		EndRange:       req.EndRange,
		BeginInclusive: req.BeginInclusive,
		EndInclusive:   req.EndInclusive,
		UserOUs:        req.UserOUs,
		PermOUs:        req.PermOUs,
	}
}

func (h *Handler) getAdminRole(w http.ResponseWriter, r *http.Request) {
	role, err := h.service.GetAdminRole(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toAdminRoleResponse(role))
}

func (h *Handler) deleteAdminRole(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteAdminRole(r.Context(), chi.URLParam(r, "name")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) searchAdminRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.SearchAdminRoles(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]adminRoleResponse, 0, len(roles))
	for i := range roles {
		out = append(out, toAdminRoleResponse(&roles[i]))
	}
	httpx.JSON(w, http.StatusOK, out)
}

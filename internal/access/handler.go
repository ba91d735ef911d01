package access

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/bastion-iam/bastion/internal/perms"
	"github.com/bastion-iam/bastion/internal/platform/httpx"
	"github.com/bastion-iam/bastion/internal/shared"
)

// Handler wires HTTP endpoints for authorization queries.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

type checkAccessRequest struct {
	SessionID string `json:"session_id" validate:"required"`
	Object    string `json:"object" validate:"required"`
	Operation string `json:"operation" validate:"required"`
	ObjectID  string `json:"object_id"`
}

type checkAccessResponse struct {
	Granted bool `json:"granted"`
}

type permissionView struct {
	Object      string `json:"object"`
	Operation   string `json:"operation"`
	ObjectID    string `json:"object_id,omitempty"`
	Description string `json:"description,omitempty"`
}

func toPermissionViews(list []perms.Permission) []permissionView {
	out := make([]permissionView, 0, len(list))
	for _, p := range list {
		out = append(out, permissionView{
			Object:      p.Object,
			Operation:   p.Operation,
			ObjectID:    p.ObjectID,
			Description: p.Description,
		})
	}
	return out
}

// MountRoutes registers authorization query routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/check", h.checkAccess)
	r.Get("/roles/{name}/permissions", h.rolePermissions)
	r.Get("/users/{id}/permissions", h.userPermissions)
	r.Get("/sessions/{id}/roles", h.sessionRoles)
	r.Get("/sessions/{id}/permissions", h.sessionPermissions)
	r.Get("/permissions/{object}/{op}/roles", h.permissionRoles)
	r.Get("/permissions/{object}/{op}/users", h.permissionUsers)
}

func (h *Handler) checkAccess(w http.ResponseWriter, r *http.Request) {
	var req checkAccessRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.E(shared.KindValidation, "access: malformed request body"))
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		httpx.RespondError(w, shared.Wrap(shared.KindValidation, err, "access: invalid request"))
		return
	}
	granted, err := h.service.CheckAccess(r.Context(), req.SessionID, req.Object, req.Operation, req.ObjectID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, checkAccessResponse{Granted: granted})
}

func (h *Handler) rolePermissions(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.RolePermissions(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPermissionViews(list))
}

func (h *Handler) userPermissions(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.UserPermissions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPermissionViews(list))
}

func (h *Handler) sessionRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.SessionRoles(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, roles)
}

func (h *Handler) sessionPermissions(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.SessionPermissions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPermissionViews(list))
}

func (h *Handler) permissionRoles(w http.ResponseWriter, r *http.Request) {
	object, op := chi.URLParam(r, "object"), chi.URLParam(r, "op")
	objectID := r.URL.Query().Get("object_id")
	var (
		roles []string
		err   error
	)
	if r.URL.Query().Get("authorized") == "true" {
		roles, err = h.service.AuthorizedPermissionRoles(r.Context(), object, op, objectID)
	} else {
		roles, err = h.service.PermissionRoles(r.Context(), object, op, objectID)
	}
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, roles)
}

func (h *Handler) permissionUsers(w http.ResponseWriter, r *http.Request) {
	object, op := chi.URLParam(r, "object"), chi.URLParam(r, "op")
	objectID := r.URL.Query().Get("object_id")
	var (
		users []string
		err   error
	)
	if r.URL.Query().Get("authorized") == "true" {
		users, err = h.service.AuthorizedPermissionUsers(r.Context(), object, op, objectID)
	} else {
		users, err = h.service.PermissionUsers(r.Context(), object, op, objectID)
	}
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, users)
}

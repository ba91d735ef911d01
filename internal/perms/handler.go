package perms

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/bastion-iam/bastion/internal/platform/httpx"
	"github.com/bastion-iam/bastion/internal/shared"
)

// Handler wires HTTP endpoints for permission administration.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

type objectRequest struct {
	Name        string            `json:"name" validate:"required"`
	Description string            `json:"description"`
	OrgUnit     string            `json:"org_unit"`
	Type        string            `json:"type"`
	Props       map[string]string `json:"props"`
}

type permissionRequest struct {
	Operation   string            `json:"operation" validate:"required"`
	ObjectID    string            `json:"object_id"`
	Description string            `json:"description"`
	Props       map[string]string `json:"props"`
}

type granteeRequest struct {
	Role     string `json:"role"`
	User     string `json:"user"`
	ObjectID string `json:"object_id"`
}

type objectResponse struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	OrgUnit     string            `json:"org_unit,omitempty"`
	Type        string            `json:"type,omitempty"`
	Props       map[string]string `json:"props,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

type permissionResponse struct {
	Object      string            `json:"object"`
	Operation   string            `json:"operation"`
	ObjectID    string            `json:"object_id,omitempty"`
	Description string            `json:"description,omitempty"`
	Props       map[string]string `json:"props,omitempty"`
	Roles       []string          `json:"roles,omitempty"`
	Users       []string          `json:"users,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

func toObjectResponse(o *Object) objectResponse {
	return objectResponse{
		Name:        o.Name,
		Description: o.Description,
		OrgUnit:     o.OrgUnit,
		Type:        o.Type,
		Props:       o.Props,
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
	}
}

func toPermissionResponse(p *Permission) permissionResponse {
	return permissionResponse{
		Object:      p.Object,
		Operation:   p.Operation,
		ObjectID:    p.ObjectID,
		Description: p.Description,
		Props:       p.Props,
		Roles:       p.Roles,
		Users:       p.Users,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

// MountRoutes registers permission administration routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/objects", h.searchObjects)
	r.Post("/objects", h.createObject)
	r.Get("/objects/{name}", h.getObject)
	r.Put("/objects/{name}", h.updateObject)
	r.Delete("/objects/{name}", h.deleteObject)
	r.Get("/objects/{name}/permissions", h.listObjectPermissions)
	r.Post("/objects/{name}/permissions", h.createPermission)
	r.Get("/objects/{name}/permissions/{op}", h.getPermission)
	r.Put("/objects/{name}/permissions/{op}", h.updatePermission)
	r.Delete("/objects/{name}/permissions/{op}", h.deletePermission)
	r.Post("/objects/{name}/permissions/{op}/grants", h.grant)
	r.Delete("/objects/{name}/permissions/{op}/grants", h.revoke)
}

func (h *Handler) decode(r *http.Request, target any) error {
	if err := httpx.DecodeJSON(r, target); err != nil {
		return shared.E(shared.KindValidation, "perms: malformed request body")
	}
	if err := h.validator.Struct(target); err != nil {
		return shared.Wrap(shared.KindValidation, err, "perms: invalid request")
	}
	return nil
}

func (h *Handler) createObject(w http.ResponseWriter, r *http.Request) {
	var req objectRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	obj, err := h.service.CreateObject(r.Context(), Object{
		Name:        req.Name,
		Description: req.Description,
		OrgUnit:     req.OrgUnit,
		Type:        req.Type,
		Props:       req.Props,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toObjectResponse(obj))
}

func (h *Handler) updateObject(w http.ResponseWriter, r *http.Request) {
	var req objectRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.E(shared.KindValidation, "perms: malformed request body"))
		return
	}
	req.Name = chi.URLParam(r, "name")
	if err := h.validator.Struct(&req); err != nil {
		httpx.RespondError(w, shared.Wrap(shared.KindValidation, err, "perms: invalid request"))
		return
	}
	obj, err := h.service.UpdateObject(r.Context(), Object{
		Name:        req.Name,
		Description: req.Description,
		OrgUnit:     req.OrgUnit,
		Type:        req.Type,
		Props:       req.Props,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toObjectResponse(obj))
}

func (h *Handler) getObject(w http.ResponseWriter, r *http.Request) {
	obj, err := h.service.GetObject(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toObjectResponse(obj))
}

func (h *Handler) deleteObject(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteObject(r.Context(), chi.URLParam(r, "name")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) searchObjects(w http.ResponseWriter, r *http.Request) {
	objects, err := h.service.SearchObjects(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]objectResponse, 0, len(objects))
	for i := range objects {
		out = append(out, toObjectResponse(&objects[i]))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) createPermission(w http.ResponseWriter, r *http.Request) {
	var req permissionRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	perm, err := h.service.CreatePermission(r.Context(), Permission{
		Object:      chi.URLParam(r, "name"),
		Operation:   req.Operation,
		ObjectID:    req.ObjectID,
		Description: req.Description,
		Props:       req.Props,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toPermissionResponse(perm))
}

func (h *Handler) updatePermission(w http.ResponseWriter, r *http.Request) {
	var req permissionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.E(shared.KindValidation, "perms: malformed request body"))
		return
	}
	perm, err := h.service.UpdatePermission(r.Context(), Permission{
		Object:      chi.URLParam(r, "name"),
		Operation:   chi.URLParam(r, "op"),
		ObjectID:    req.ObjectID,
		Description: req.Description,
		Props:       req.Props,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPermissionResponse(perm))
}

func (h *Handler) getPermission(w http.ResponseWriter, r *http.Request) {
	perm, err := h.service.GetPermission(r.Context(), chi.URLParam(r, "name"), chi.URLParam(r, "op"), r.URL.Query().Get("object_id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPermissionResponse(perm))
}

func (h *Handler) deletePermission(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeletePermission(r.Context(), chi.URLParam(r, "name"), chi.URLParam(r, "op"), r.URL.Query().Get("object_id")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listObjectPermissions(w http.ResponseWriter, r *http.Request) {
	permissions, err := h.service.ObjectPermissions(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]permissionResponse, 0, len(permissions))
	for i := range permissions {
		out = append(out, toPermissionResponse(&permissions[i]))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) grant(w http.ResponseWriter, r *http.Request) {
	var req granteeRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	object, operation := chi.URLParam(r, "name"), chi.URLParam(r, "op")
	var err error
	switch {
	case req.Role != "":
		err = h.service.GrantToRole(r.Context(), object, operation, req.ObjectID, req.Role)
	case req.User != "":
		err = h.service.GrantToUser(r.Context(), object, operation, req.ObjectID, req.User)
	default:
		err = shared.E(shared.KindValidation, "perms: grant requires a role or a user")
	}
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	var req granteeRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	object, operation := chi.URLParam(r, "name"), chi.URLParam(r, "op")
	var err error
	switch {
	case req.Role != "":
		err = h.service.RevokeFromRole(r.Context(), object, operation, req.ObjectID, req.Role)
	case req.User != "":
		err = h.service.RevokeFromUser(r.Context(), object, operation, req.ObjectID, req.User)
	default:
		err = shared.E(shared.KindValidation, "perms: revoke requires a role or a user")
	}
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

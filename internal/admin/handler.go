package admin

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/bastion-iam/bastion/internal/constraint"
	"github.com/bastion-iam/bastion/internal/platform/httpx"
	"github.com/bastion-iam/bastion/internal/shared"
	"github.com/bastion-iam/bastion/internal/users"
)

// Handler wires HTTP endpoints for delegated administration. The admin
// session comes from the X-Admin-Session header, placed in context by the
// router middleware.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

type assignUserRequest struct {
	UserID     string              `json:"user_id" validate:"required"`
	Role       string              `json:"role" validate:"required"`
	Constraint constraint.Temporal `json:"constraint"`
}

type grantRequest struct {
	Object    string `json:"object" validate:"required"`
	Operation string `json:"operation" validate:"required"`
	ObjectID  string `json:"object_id"`
	Role      string `json:"role" validate:"required"`
}

// MountRoutes registers delegated administration routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/assignments", h.assignUser)
	r.Delete("/assignments/{id}/{role}", h.deassignUser)
	r.Post("/grants", h.grant)
	r.Delete("/grants", h.revoke)
}

func (h *Handler) decode(r *http.Request, target any) error {
	if err := httpx.DecodeJSON(r, target); err != nil {
		return shared.E(shared.KindValidation, "admin: malformed request body")
	}
	if err := h.validator.Struct(target); err != nil {
		return shared.Wrap(shared.KindValidation, err, "admin: invalid request")
	}
	return nil
}

func (h *Handler) assignUser(w http.ResponseWriter, r *http.Request) {
	var req assignUserRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	err := h.service.AssignUser(r.Context(), users.Assignment{
		UserID:     req.UserID,
		Role:       req.Role,
		Constraint: req.Constraint,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) deassignUser(w http.ResponseWriter, r *http.Request) {
	err := h.service.DeassignUser(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "role"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) grant(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.GrantToRole(r.Context(), req.Object, req.Operation, req.ObjectID, req.Role); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.RevokeFromRole(r.Context(), req.Object, req.Operation, req.ObjectID, req.Role); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

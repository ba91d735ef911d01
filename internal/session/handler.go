package session

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/bastion-iam/bastion/internal/platform/httpx"
	"github.com/bastion-iam/bastion/internal/shared"
)

// Handler wires HTTP endpoints for session lifecycle.
type Handler struct {
	logger    *slog.Logger
	manager   *Manager
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, manager *Manager) *Handler {
	return &Handler{logger: logger, manager: manager, validator: validator.New()}
}

type createSessionRequest struct {
	UserID     string            `json:"user_id" validate:"required"`
	Password   string            `json:"password"`
	Roles      []string          `json:"roles"`
	AdminRoles []string          `json:"admin_roles"`
	Props      map[string]string `json:"props"`
	Trusted    bool              `json:"trusted"`
}

type activeRoleRequest struct {
	Role string `json:"role" validate:"required"`
}

type activeRoleResponse struct {
	Name        string    `json:"name"`
	ActivatedAt time.Time `json:"activated_at"`
}

type sessionResponse struct {
	ID          string               `json:"id"`
	UserID      string               `json:"user_id"`
	Trusted     bool                 `json:"trusted"`
	Active      []activeRoleResponse `json:"active"`
	ActiveAdmin []activeRoleResponse `json:"active_admin,omitempty"`
	Props       map[string]string    `json:"props,omitempty"`
	TimeoutMins int                  `json:"timeout_mins"`
	CreatedAt   time.Time            `json:"created_at"`
	LastAccess  time.Time            `json:"last_access"`
}

func toSessionResponse(s *Session) sessionResponse {
	out := sessionResponse{
		ID:          s.ID,
		UserID:      s.UserID,
		Trusted:     s.Trusted,
		Active:      make([]activeRoleResponse, 0, len(s.Active)),
		Props:       s.Props,
		TimeoutMins: s.TimeoutMins,
		CreatedAt:   s.CreatedAt,
		LastAccess:  s.LastAccess,
	}
	for _, r := range s.Active {
		out.Active = append(out.Active, activeRoleResponse{Name: r.Name, ActivatedAt: r.ActivatedAt})
	}
	for _, r := range s.ActiveAdmin {
		out.ActiveAdmin = append(out.ActiveAdmin, activeRoleResponse{Name: r.Name, ActivatedAt: r.ActivatedAt})
	}
	return out
}

// MountRoutes registers session routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Delete("/{id}", h.close)
	r.Post("/{id}/roles", h.addActiveRole)
	r.Delete("/{id}/roles/{role}", h.dropActiveRole)
	r.Post("/{id}/admin-roles", h.addActiveAdminRole)
	r.Delete("/{id}/admin-roles/{role}", h.dropActiveAdminRole)
}

func (h *Handler) decode(r *http.Request, target any) error {
	if err := httpx.DecodeJSON(r, target); err != nil {
		return shared.E(shared.KindValidation, "session: malformed request body")
	}
	if err := h.validator.Struct(target); err != nil {
		return shared.Wrap(shared.KindValidation, err, "session: invalid request")
	}
	return nil
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	sess, err := h.manager.Create(r.Context(), CreateRequest{
		UserID:     req.UserID,
		Password:   req.Password,
		Roles:      req.Roles,
		AdminRoles: req.AdminRoles,
		Props:      req.Props,
		Trusted:    req.Trusted,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toSessionResponse(sess))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	sess, err := h.manager.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toSessionResponse(sess))
}

func (h *Handler) close(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Close(r.Context(), chi.URLParam(r, "id")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) addActiveRole(w http.ResponseWriter, r *http.Request) {
	var req activeRoleRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	sess, err := h.manager.AddActiveRole(r.Context(), chi.URLParam(r, "id"), req.Role)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toSessionResponse(sess))
}

func (h *Handler) dropActiveRole(w http.ResponseWriter, r *http.Request) {
	sess, err := h.manager.DropActiveRole(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "role"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toSessionResponse(sess))
}

func (h *Handler) addActiveAdminRole(w http.ResponseWriter, r *http.Request) {
	var req activeRoleRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	sess, err := h.manager.AddActiveAdminRole(r.Context(), chi.URLParam(r, "id"), req.Role)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toSessionResponse(sess))
}

func (h *Handler) dropActiveAdminRole(w http.ResponseWriter, r *http.Request) {
	sess, err := h.manager.DropActiveAdminRole(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "role"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toSessionResponse(sess))
}

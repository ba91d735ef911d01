package orgunit

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/bastion-iam/bastion/internal/platform/httpx"
	"github.com/bastion-iam/bastion/internal/shared"
)

// Handler wires HTTP endpoints for org-unit administration. The same
// handler mounts twice, once per tree.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

type ouRequest struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
}

type ouInheritanceRequest struct {
	Parent string `json:"parent" validate:"required"`
	Child  string `json:"child" validate:"required"`
}

type ouResponse struct {
	Name        string    `json:"name"`
	Type        Type      `json:"type"`
	Description string    `json:"description,omitempty"`
	Parents     []string  `json:"parents,omitempty"`
	Children    []string  `json:"children,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toOUResponse(ou *OrgUnit) ouResponse {
	return ouResponse{
		Name:        ou.Name,
		Type:        ou.Type,
		Description: ou.Description,
		Parents:     ou.Parents,
		Children:    ou.Children,
		CreatedAt:   ou.CreatedAt,
		UpdatedAt:   ou.UpdatedAt,
	}
}

// MountRoutes registers routes for one org-unit tree.
func (h *Handler) MountRoutes(r chi.Router, typ Type) {
	r.Get("/", h.search(typ))
	r.Post("/", h.create(typ))
	r.Get("/{name}", h.get(typ))
	r.Put("/{name}", h.update(typ))
	r.Delete("/{name}", h.delete(typ))
	r.Post("/inheritance", h.addInheritance(typ))
	r.Delete("/inheritance", h.deleteInheritance(typ))
}

func (h *Handler) decode(r *http.Request, target any) error {
	if err := httpx.DecodeJSON(r, target); err != nil {
		return shared.E(shared.KindValidation, "orgunit: malformed request body")
	}
	if err := h.validator.Struct(target); err != nil {
		return shared.Wrap(shared.KindValidation, err, "orgunit: invalid request")
	}
	return nil
}

func (h *Handler) create(typ Type) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ouRequest
		if err := h.decode(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
		ou, err := h.service.Create(r.Context(), OrgUnit{
			Name:        req.Name,
			Type:        typ,
			Description: req.Description,
		})
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusCreated, toOUResponse(ou))
	}
}

func (h *Handler) update(typ Type) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ouRequest
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, shared.E(shared.KindValidation, "orgunit: malformed request body"))
			return
		}
		ou, err := h.service.Update(r.Context(), OrgUnit{
			Name:        chi.URLParam(r, "name"),
			Type:        typ,
			Description: req.Description,
		})
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, toOUResponse(ou))
	}
}

func (h *Handler) get(typ Type) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ou, err := h.service.Get(r.Context(), typ, chi.URLParam(r, "name"))
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, toOUResponse(ou))
	}
}

func (h *Handler) delete(typ Type) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h.service.Delete(r.Context(), typ, chi.URLParam(r, "name")); err != nil {
			httpx.RespondError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) search(typ Type) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		units, err := h.service.Search(r.Context(), typ, r.URL.Query().Get("q"))
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		out := make([]ouResponse, 0, len(units))
		for i := range units {
			out = append(out, toOUResponse(&units[i]))
		}
		httpx.JSON(w, http.StatusOK, out)
	}
}

func (h *Handler) addInheritance(typ Type) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ouInheritanceRequest
		if err := h.decode(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
		if err := h.service.AddInheritance(r.Context(), typ, req.Parent, req.Child); err != nil {
			httpx.RespondError(w, err)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}
}

func (h *Handler) deleteInheritance(typ Type) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ouInheritanceRequest
		if err := h.decode(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
		if err := h.service.DeleteInheritance(r.Context(), typ, req.Parent, req.Child); err != nil {
			httpx.RespondError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

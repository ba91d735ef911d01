package sdset

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/bastion-iam/bastion/internal/platform/httpx"
	"github.com/bastion-iam/bastion/internal/shared"
)

// Handler wires HTTP endpoints for SSD and DSD set administration. The
// same handler mounts twice, once per set type.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

type setRequest struct {
	Name        string   `json:"name" validate:"required"`
	Description string   `json:"description"`
	Members     []string `json:"members" validate:"required,min=2"`
	Cardinality int      `json:"cardinality" validate:"required,min=2"`
}

type memberRequest struct {
	Role string `json:"role" validate:"required"`
}

type cardinalityRequest struct {
	Cardinality int `json:"cardinality" validate:"required,min=2"`
}

type setResponse struct {
	Name        string    `json:"name"`
	Type        SetType   `json:"type"`
	Description string    `json:"description,omitempty"`
	Members     []string  `json:"members"`
	Cardinality int       `json:"cardinality"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toSetResponse(s *Set) setResponse {
	return setResponse{
		Name:        s.Name,
		Type:        s.Type,
		Description: s.Description,
		Members:     s.Members,
		Cardinality: s.Cardinality,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}

// MountRoutes registers routes for one set type.
func (h *Handler) MountRoutes(r chi.Router, typ SetType) {
	r.Get("/", h.search(typ))
	r.Post("/", h.create(typ))
	r.Get("/{name}", h.get(typ))
	r.Put("/{name}", h.update(typ))
	r.Delete("/{name}", h.delete(typ))
	r.Post("/{name}/members", h.addMember(typ))
	r.Delete("/{name}/members/{role}", h.deleteMember(typ))
	r.Put("/{name}/cardinality", h.setCardinality(typ))
}

func (h *Handler) decode(r *http.Request, target any) error {
	if err := httpx.DecodeJSON(r, target); err != nil {
		return shared.E(shared.KindValidation, "sdset: malformed request body")
	}
	if err := h.validator.Struct(target); err != nil {
		return shared.Wrap(shared.KindValidation, err, "sdset: invalid request")
	}
	return nil
}

func (h *Handler) create(typ SetType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req setRequest
		if err := h.decode(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
		set, err := h.service.Create(r.Context(), Set{
			Name:        req.Name,
			Type:        typ,
			Description: req.Description,
			Members:     req.Members,
			Cardinality: req.Cardinality,
		})
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusCreated, toSetResponse(set))
	}
}

func (h *Handler) update(typ SetType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req setRequest
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, shared.E(shared.KindValidation, "sdset: malformed request body"))
			return
		}
		set, err := h.service.Update(r.Context(), Set{
			Name:        chi.URLParam(r, "name"),
			Type:        typ,
			Description: req.Description,
			Cardinality: req.Cardinality,
		})
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, toSetResponse(set))
	}
}

func (h *Handler) get(typ SetType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		set, err := h.service.Get(r.Context(), typ, chi.URLParam(r, "name"))
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, toSetResponse(set))
	}
}

func (h *Handler) delete(typ SetType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h.service.Delete(r.Context(), typ, chi.URLParam(r, "name")); err != nil {
			httpx.RespondError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) search(typ SetType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sets, err := h.service.Search(r.Context(), typ, r.URL.Query().Get("q"))
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		out := make([]setResponse, 0, len(sets))
		for i := range sets {
			out = append(out, toSetResponse(&sets[i]))
		}
		httpx.JSON(w, http.StatusOK, out)
	}
}

func (h *Handler) addMember(typ SetType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req memberRequest
		if err := h.decode(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
		set, err := h.service.AddMember(r.Context(), typ, chi.URLParam(r, "name"), req.Role)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusCreated, toSetResponse(set))
	}
}

func (h *Handler) deleteMember(typ SetType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		set, err := h.service.DeleteMember(r.Context(), typ, chi.URLParam(r, "name"), chi.URLParam(r, "role"))
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, toSetResponse(set))
	}
}

func (h *Handler) setCardinality(typ SetType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req cardinalityRequest
		if err := h.decode(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
		set, err := h.service.SetCardinality(r.Context(), typ, chi.URLParam(r, "name"), req.Cardinality)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, toSetResponse(set))
	}
}

package audit

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bastion-iam/bastion/internal/platform/httpx"
	"github.com/bastion-iam/bastion/internal/shared"
)

// Handler exposes the audit timeline over HTTP.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

type timelineResponse struct {
	Events  []eventResponse `json:"events"`
	Page    int             `json:"page"`
	PerPage int             `json:"per_page"`
	HasNext bool            `json:"has_next"`
}

type eventResponse struct {
	Op        string            `json:"op"`
	Principal string            `json:"principal"`
	Entity    string            `json:"entity"`
	EntityID  string            `json:"entity_id"`
	Outcome   string            `json:"outcome"`
	At        time.Time         `json:"at"`
	Props     map[string]string `json:"props,omitempty"`
}

// MountRoutes registers audit routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.timeline)
}

func (h *Handler) timeline(w http.ResponseWriter, r *http.Request) {
	filters, err := parseTimelineFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	events := make([]eventResponse, 0, len(result.Events))
	for _, e := range result.Events {
		events = append(events, eventResponse{
			Op:        e.Op,
			Principal: e.Principal,
			Entity:    e.Entity,
			EntityID:  e.EntityID,
			Outcome:   e.Outcome,
			At:        e.At,
			Props:     e.Props,
		})
	}
	httpx.JSON(w, http.StatusOK, timelineResponse{
		Events:  events,
		Page:    result.Paging.Page,
		PerPage: result.Paging.PerPage,
		HasNext: result.HasNext,
	})
}

func parseTimelineFilters(r *http.Request) (TimelineFilters, error) {
	q := r.URL.Query()
	filters := TimelineFilters{
		Principal: q.Get("principal"),
		Entity:    q.Get("entity"),
		Op:        q.Get("op"),
	}
	var err error
	if filters.From, err = parseTimeParam(q.Get("from")); err != nil {
		return filters, err
	}
	if filters.To, err = parseTimeParam(q.Get("to")); err != nil {
		return filters, err
	}
	if v := q.Get("page"); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil {
			return filters, shared.E(shared.KindValidation, "audit: invalid page")
		}
		filters.Page = page
	}
	if v := q.Get("page_size"); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil {
			return filters, shared.E(shared.KindValidation, "audit: invalid page_size")
		}
		filters.PageSize = size
	}
	return filters, nil
}

func parseTimeParam(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, shared.E(shared.KindValidation, "audit: timestamps must be RFC 3339")
	}
	return t, nil
}

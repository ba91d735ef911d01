package audit

import (
	"context"
	"time"

	"github.com/bastion-iam/bastion/internal/shared"
)

// TimelineFilters narrows a timeline query.
type TimelineFilters struct {
	From      time.Time
	To        time.Time
	Principal string
	Entity    string
	Op        string
	Page      int
	PageSize  int
}

// TimelineRepository reads persisted audit events.
type TimelineRepository interface {
	Timeline(ctx context.Context, filters TimelineFilters, limit, offset int) ([]Event, error)
}

// Result wraps timeline rows with paging information.
type Result struct {
	Events []Event
	Paging shared.Pagination
	// HasNext reports whether a further page exists; Total is not computed
	// because the timeline is unbounded.
	HasNext bool
}

// Service coordinates audit timeline reads.
type Service struct {
	repo TimelineRepository
}

// NewService constructs the audit query service.
func NewService(repo TimelineRepository) *Service {
	return &Service{repo: repo}
}

// Timeline fetches one page of audit events, newest first.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * pageSize
	rows, err := s.repo.Timeline(ctx, filters, pageSize+1, offset)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	return Result{
		Events:  rows,
		Paging:  shared.Pagination{Page: page, PerPage: pageSize},
		HasNext: hasNext,
	}, nil
}

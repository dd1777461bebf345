package audit

import (
	"context"
	"fmt"

	"github.com/horacite/horacite/internal/apperror"
)

// perPage is the number of audit entries shown per page.
const perPage = 50

// AuditService handles the read side of the audit trail.
type AuditService interface {
	// ListEvents returns one page of entries, most recent first. An empty
	// action lists every action. Pages are 1-indexed.
	ListEvents(ctx context.Context, action string, page int) (*EventPage, error)
}

// auditService implements AuditService.
type auditService struct {
	repo AuditRepository
}

// NewAuditService creates a new audit service with the given repository.
func NewAuditService(repo AuditRepository) AuditService {
	return &auditService{repo: repo}
}

// ListEvents validates the filter and fetches a page. Invalid page numbers
// are clamped to 1.
func (s *auditService) ListEvents(ctx context.Context, action string, page int) (*EventPage, error) {
	a, ok := ParseAction(action)
	if !ok {
		return nil, apperror.NewBadRequest(fmt.Sprintf("unknown audit action %q", action))
	}
	if page < 1 {
		page = 1
	}

	entries, total, err := s.repo.List(ctx, a, perPage, (page-1)*perPage)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("listing audit events: %w", err))
	}

	totalPages := (total + perPage - 1) / perPage
	if totalPages == 0 {
		totalPages = 1
	}

	return &EventPage{
		Entries:    entries,
		Action:     a,
		Page:       page,
		PerPage:    perPage,
		Total:      total,
		TotalPages: totalPages,
	}, nil
}

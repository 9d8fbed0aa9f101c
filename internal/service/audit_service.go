package service

import (
	"context"

	"gild/internal/apperr"
	"gild/internal/domain"
	"gild/internal/repository"
)

const (
	DefaultAuditPerPage = 20
	MaxAuditPerPage     = 100
)

// AuditService is the read path over the audit trail.
type AuditService interface {
	List(ctx context.Context, query domain.AuditQuery) ([]domain.AuditLogEntry, error)
}

type auditService struct {
	entries repository.AuditLogRepository
}

func NewAuditService(entries repository.AuditLogRepository) AuditService {
	return &auditService{entries: entries}
}

func (s *auditService) List(ctx context.Context, query domain.AuditQuery) ([]domain.AuditLogEntry, error) {
	query = NormalizeAuditQuery(query)
	entries, err := s.entries.List(ctx, query)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if entries == nil {
		entries = []domain.AuditLogEntry{}
	}
	return entries, nil
}

// NormalizeAuditQuery applies the paging defaults and limits.
func NormalizeAuditQuery(query domain.AuditQuery) domain.AuditQuery {
	if query.Page < 0 {
		query.Page = 0
	}
	switch {
	case query.PerPage <= 0:
		query.PerPage = DefaultAuditPerPage
	case query.PerPage > MaxAuditPerPage:
		query.PerPage = MaxAuditPerPage
	}
	return query
}

package repository

import (
	"context"

	"gild/internal/domain"
)

// AuditLogRepository appends and reads audit entries.
type AuditLogRepository interface {
	Append(ctx context.Context, entry *domain.AuditLogEntry) (int64, error)
	List(ctx context.Context, query domain.AuditQuery) ([]domain.AuditLogEntry, error)
}

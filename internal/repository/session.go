package repository

import (
	"context"
	"time"

	"gild/internal/domain"
)

// SessionRepository persists sessions. Sessions are inserted and deleted, never updated.
type SessionRepository interface {
	Create(ctx context.Context, session *domain.Session) (int64, error)
	GetByID(ctx context.Context, id int64) (*domain.Session, error)
	// DeleteExpiredBefore removes sessions whose expiry is strictly earlier than cutoff.
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

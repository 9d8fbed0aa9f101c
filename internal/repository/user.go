package repository

import (
	"context"
	"errors"
	"time"

	"gild/internal/domain"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write violates a uniqueness constraint.
	ErrConflict = errors.New("conflict")
	// ErrSetupComplete is returned by CreateInitial once an active user exists.
	ErrSetupComplete = errors.New("initial user already exists")
)

// UserRepository defines persistence operations for User entities.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) (int64, error)
	// CreateInitial inserts user only if no active user exists, atomically.
	CreateInitial(ctx context.Context, user *domain.User) (int64, error)
	Update(ctx context.Context, user *domain.User) error
	SoftDelete(ctx context.Context, id int64, at time.Time) error
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	ListActive(ctx context.Context) ([]domain.User, error)
	CountActive(ctx context.Context) (int64, error)
}

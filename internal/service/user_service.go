package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"gild/internal/apperr"
	"gild/internal/domain"
	"gild/internal/repository"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Credentials is a login attempt.
type Credentials struct {
	Username string `json:"username" form:"username" validate:"required,min=3,max=30"`
	Password string `json:"password" form:"password" validate:"required,min=8,max=100"`
}

// NewUser describes a user to create.
type NewUser struct {
	Username string  `json:"username" validate:"required,min=3,max=30"`
	Password string  `json:"password" validate:"required,min=8,max=100"`
	Realname *string `json:"realname" validate:"omitempty,min=3,max=50"`
	Email    *string `json:"email" validate:"omitempty,min=6,max=100,email"`
	Phone    *string `json:"phone" validate:"omitempty,min=10,max=20"`
}

// UserUpdate replaces a user's profile fields. A nil Password leaves the
// password unchanged.
type UserUpdate struct {
	Password *string `json:"password" validate:"omitempty,min=8,max=100"`
	Realname *string `json:"realname" validate:"omitempty,min=3,max=50"`
	Email    *string `json:"email" validate:"omitempty,min=6,max=100,email"`
	Phone    *string `json:"phone" validate:"omitempty,min=10,max=20"`
}

// UserService describes user lifecycle operations.
type UserService interface {
	// Create adds a user. A nil actor is only allowed while no active user
	// exists (first-time setup).
	Create(ctx context.Context, actor *domain.User, input NewUser) (*domain.User, error)
	Login(ctx context.Context, creds Credentials) (*domain.User, error)
	Get(ctx context.Context, id int64) (*domain.User, error)
	List(ctx context.Context) ([]domain.User, error)
	Update(ctx context.Context, id int64, input UserUpdate) (*domain.User, error)
	Delete(ctx context.Context, id int64) error
}

type userService struct {
	users repository.UserRepository
	clock domain.Clock
}

func NewUserService(users repository.UserRepository, clock domain.Clock) UserService {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &userService{
		users: users,
		clock: clock,
	}
}

func (s *userService) Create(ctx context.Context, actor *domain.User, input NewUser) (*domain.User, error) {
	input.Username = strings.TrimSpace(input.Username)
	if err := validate.Struct(input); err != nil {
		return nil, apperr.FromBinding(err)
	}

	hash, err := HashPassword(input.Password)
	if err != nil {
		return nil, apperr.Internalf("hash password: %w", err)
	}

	user := &domain.User{
		Username:     input.Username,
		Realname:     input.Realname,
		Email:        input.Email,
		Phone:        input.Phone,
		PasswordHash: hash,
	}

	if actor == nil {
		_, err = s.users.CreateInitial(ctx, user)
	} else {
		_, err = s.users.Create(ctx, user)
	}
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrSetupComplete):
		return nil, apperr.InvalidCredentials(fmt.Errorf("unauthenticated user creation: %w", err))
	case errors.Is(err, repository.ErrConflict):
		return nil, apperr.Validation("invalid request", "username is already taken")
	default:
		return nil, apperr.Internal(err)
	}

	return sanitizeUser(user), nil
}

func (s *userService) Login(ctx context.Context, creds Credentials) (*domain.User, error) {
	creds.Username = strings.TrimSpace(creds.Username)
	if err := validate.Struct(creds); err != nil {
		return nil, apperr.FromBinding(err)
	}

	user, err := s.users.GetByUsername(ctx, creds.Username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			VerifyPassword(creds.Password, dummyHash)
			return nil, apperr.InvalidCredentials(fmt.Errorf("unknown user %q", creds.Username))
		}
		return nil, apperr.Internal(err)
	}

	if !VerifyPassword(creds.Password, user.PasswordHash) {
		return nil, apperr.InvalidCredentials(fmt.Errorf("wrong password for user %q", creds.Username))
	}
	if user.Deleted() {
		return nil, apperr.InvalidCredentials(fmt.Errorf("user %q is deleted", creds.Username))
	}

	return sanitizeUser(user), nil
}

func (s *userService) Get(ctx context.Context, id int64) (*domain.User, error) {
	user, err := s.active(ctx, id)
	if err != nil {
		return nil, err
	}
	return sanitizeUser(user), nil
}

func (s *userService) List(ctx context.Context) ([]domain.User, error) {
	users, err := s.users.ListActive(ctx)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	out := make([]domain.User, 0, len(users))
	for i := range users {
		out = append(out, *sanitizeUser(&users[i]))
	}
	return out, nil
}

func (s *userService) Update(ctx context.Context, id int64, input UserUpdate) (*domain.User, error) {
	if err := validate.Struct(input); err != nil {
		return nil, apperr.FromBinding(err)
	}

	user, err := s.active(ctx, id)
	if err != nil {
		return nil, err
	}

	user.Realname = input.Realname
	user.Email = input.Email
	user.Phone = input.Phone
	if input.Password != nil {
		hash, err := HashPassword(*input.Password)
		if err != nil {
			return nil, apperr.Internalf("hash password: %w", err)
		}
		user.PasswordHash = hash
	}

	if err := s.users.Update(ctx, user); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("user not found")
		}
		return nil, apperr.Internal(err)
	}
	return sanitizeUser(user), nil
}

func (s *userService) Delete(ctx context.Context, id int64) error {
	if err := s.users.SoftDelete(ctx, id, s.clock.Now().UTC()); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("user not found")
		}
		return apperr.Internal(err)
	}
	return nil
}

func (s *userService) active(ctx context.Context, id int64) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("user not found")
		}
		return nil, apperr.Internal(err)
	}
	if user.Deleted() {
		return nil, apperr.NotFound("user not found")
	}
	return user, nil
}

func sanitizeUser(user *domain.User) *domain.User {
	if user == nil {
		return nil
	}
	return &domain.User{
		ID:        user.ID,
		Username:  user.Username,
		Realname:  user.Realname,
		Email:     user.Email,
		Phone:     user.Phone,
		DeletedAt: user.DeletedAt,
	}
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"gild/internal/apperr"
	"gild/internal/domain"
	"gild/internal/repository"
)

// SessionClaims is the payload carried in a signed session token.
type SessionClaims struct {
	SessionID string `json:"kid"`
	Expires   string `json:"exp"`
}

// SessionService manages the session lifecycle.
type SessionService interface {
	Create(ctx context.Context, user *domain.User) (*domain.Session, error)
	ToClaims(session *domain.Session) SessionClaims
	FromClaims(ctx context.Context, claims SessionClaims) (*domain.Session, error)
	// Prune deletes sessions that expired before now.
	Prune(ctx context.Context, now time.Time) (int64, error)
}

type sessionService struct {
	sessions repository.SessionRepository
	clock    domain.Clock
}

func NewSessionService(sessions repository.SessionRepository, clock domain.Clock) SessionService {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &sessionService{
		sessions: sessions,
		clock:    clock,
	}
}

func (s *sessionService) Create(ctx context.Context, user *domain.User) (*domain.Session, error) {
	session := &domain.Session{
		UserID: user.ID,
		// whole seconds so the RFC3339 claim matches the stored value exactly
		Expires: s.clock.Now().UTC().Add(domain.SessionTTL).Truncate(time.Second),
	}
	if _, err := s.sessions.Create(ctx, session); err != nil {
		return nil, apperr.Internal(err)
	}
	return session, nil
}

func (s *sessionService) ToClaims(session *domain.Session) SessionClaims {
	return SessionClaims{
		SessionID: strconv.FormatInt(session.ID, 10),
		Expires:   session.Expires.UTC().Format(time.RFC3339),
	}
}

func (s *sessionService) FromClaims(ctx context.Context, claims SessionClaims) (*domain.Session, error) {
	id, err := strconv.ParseInt(claims.SessionID, 10, 64)
	if err != nil {
		return nil, apperr.InvalidCredentials(fmt.Errorf("invalid session id %q", claims.SessionID))
	}

	session, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.InvalidCredentials(fmt.Errorf("invalid session %d", id))
		}
		return nil, apperr.Internal(err)
	}

	claimed, err := time.Parse(time.RFC3339, claims.Expires)
	if err != nil {
		return nil, apperr.InvalidCredentials(fmt.Errorf("invalid session expiry %q", claims.Expires))
	}
	if session.Expires.Sub(claimed) < 0 {
		return nil, apperr.ExpiredSession(fmt.Errorf("session %d expires %s, token claims %s",
			id, session.Expires.Format(time.RFC3339), claims.Expires))
	}
	if !session.Expires.After(s.clock.Now()) {
		return nil, apperr.ExpiredSession(fmt.Errorf("session %d expired at %s",
			id, session.Expires.Format(time.RFC3339)))
	}
	return session, nil
}

func (s *sessionService) Prune(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.sessions.DeleteExpiredBefore(ctx, now)
	if err != nil {
		return 0, apperr.Internal(err)
	}
	return n, nil
}

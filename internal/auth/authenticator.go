package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"gild/internal/apperr"
	"gild/internal/domain"
	"gild/internal/service"
)

const (
	userContextKey    = "gild.user"
	sessionContextKey = "gild.session"
)

var errMissingToken = errors.New("missing bearer token")

// Capability decides whether a request proceeds when no user could be
// resolved from it.
type Capability interface {
	Admit(err error) error
}

// Required rejects requests without a valid session.
type Required struct{}

func (Required) Admit(err error) error { return err }

// Optional lets every request through; handlers check CurrentUser.
type Optional struct{}

func (Optional) Admit(error) error { return nil }

// Authenticator resolves bearer tokens to live sessions and users.
type Authenticator struct {
	signer   *Signer
	sessions service.SessionService
	users    service.UserService
	clock    domain.Clock
	logger   *logrus.Logger
}

func NewAuthenticator(signer *Signer, sessions service.SessionService, users service.UserService, clock domain.Clock, logger *logrus.Logger) *Authenticator {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Authenticator{
		signer:   signer,
		sessions: sessions,
		users:    users,
		clock:    clock,
		logger:   logger,
	}
}

// Issue opens a new session for user and returns its signed token.
func (a *Authenticator) Issue(ctx context.Context, user *domain.User) (string, *domain.Session, error) {
	session, err := a.sessions.Create(ctx, user)
	if err != nil {
		return "", nil, err
	}
	token, err := a.signer.Sign(a.sessions.ToClaims(session))
	if err != nil {
		return "", nil, apperr.Internal(err)
	}
	return token, session, nil
}

// Resolve returns the user behind the request's bearer token.
func (a *Authenticator) Resolve(ctx context.Context, authorization string) (*domain.User, *domain.Session, error) {
	if _, err := a.sessions.Prune(ctx, a.clock.Now()); err != nil {
		return nil, nil, err
	}

	raw, ok := bearerToken(authorization)
	if !ok {
		return nil, nil, apperr.InvalidCredentials(errMissingToken)
	}

	claims, err := a.signer.Verify(raw)
	if err != nil {
		return nil, nil, apperr.InvalidCredentials(err)
	}

	session, err := a.sessions.FromClaims(ctx, claims)
	if err != nil {
		if apperr.IsKind(err, apperr.KindInternal) {
			return nil, nil, err
		}
		return nil, nil, apperr.InvalidCredentials(err)
	}

	user, err := a.users.Get(ctx, session.UserID)
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			return nil, nil, apperr.InvalidCredentials(fmt.Errorf("session %d: user %d is missing or deleted", session.ID, session.UserID))
		}
		return nil, nil, err
	}
	return user, session, nil
}

// Middleware resolves the caller and applies the capability to the outcome.
func (a *Authenticator) Middleware(capability Capability) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, session, err := a.Resolve(c.Request.Context(), c.GetHeader("Authorization"))
		if err == nil {
			c.Set(userContextKey, user)
			c.Set(sessionContextKey, session)
			c.Next()
			return
		}

		entry := a.logger.WithFields(logrus.Fields{
			"endpoint":   c.FullPath(),
			"request_id": c.GetString("request_id"),
		}).WithError(err)

		if err := capability.Admit(err); err != nil {
			entry.Info("authentication rejected")
			_ = c.Error(err)
			appErr := apperr.From(err)
			c.AbortWithStatusJSON(appErr.Status(), appErr.Body())
			return
		}
		if !errors.Is(err, errMissingToken) {
			entry.Debug("optional authentication failed")
		}
		c.Next()
	}
}

func (a *Authenticator) Required() gin.HandlerFunc { return a.Middleware(Required{}) }

func (a *Authenticator) Optional() gin.HandlerFunc { return a.Middleware(Optional{}) }

// CurrentUser returns the authenticated user, or nil for anonymous requests.
func CurrentUser(c *gin.Context) *domain.User {
	v, ok := c.Get(userContextKey)
	if !ok {
		return nil
	}
	user, _ := v.(*domain.User)
	return user
}

// CurrentUserID is CurrentUser's id, or nil.
func CurrentUserID(c *gin.Context) *int64 {
	user := CurrentUser(c)
	if user == nil {
		return nil
	}
	id := user.ID
	return &id
}

// CurrentSession returns the resolved session, or nil.
func CurrentSession(c *gin.Context) *domain.Session {
	v, ok := c.Get(sessionContextKey)
	if !ok {
		return nil
	}
	session, _ := v.(*domain.Session)
	return session
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

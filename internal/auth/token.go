package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"gild/internal/domain"
	"gild/internal/service"
)

var signingMethod = jwt.SigningMethodHS384

// tokenClaims adapts session claims to the jwt library. The expiry travels as
// an RFC3339 string rather than a NumericDate.
type tokenClaims struct {
	service.SessionClaims
}

func (c tokenClaims) GetExpirationTime() (*jwt.NumericDate, error) {
	if c.Expires == "" {
		return nil, nil
	}
	exp, err := time.Parse(time.RFC3339, c.Expires)
	if err != nil {
		return nil, fmt.Errorf("parse exp claim: %w", err)
	}
	return jwt.NewNumericDate(exp), nil
}

func (c tokenClaims) GetIssuedAt() (*jwt.NumericDate, error)  { return nil, nil }
func (c tokenClaims) GetNotBefore() (*jwt.NumericDate, error) { return nil, nil }
func (c tokenClaims) GetIssuer() (string, error)              { return "", nil }
func (c tokenClaims) GetSubject() (string, error)             { return "", nil }
func (c tokenClaims) GetAudience() (jwt.ClaimStrings, error)  { return nil, nil }

// Signer signs and verifies session tokens with the derived server key.
type Signer struct {
	key    []byte
	parser *jwt.Parser
}

func NewSigner(key []byte, clock domain.Clock) (*Signer, error) {
	if len(key) == 0 {
		return nil, errors.New("signing key is empty")
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Signer{
		key: key,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{signingMethod.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithTimeFunc(clock.Now),
		),
	}, nil
}

func (s *Signer) Sign(claims service.SessionClaims) (string, error) {
	token := jwt.NewWithClaims(signingMethod, tokenClaims{SessionClaims: claims})
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the token signature and expiry and returns its claims.
func (s *Signer) Verify(raw string) (service.SessionClaims, error) {
	var claims tokenClaims
	_, err := s.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return s.key, nil
	})
	if err != nil {
		return service.SessionClaims{}, fmt.Errorf("verify token: %w", err)
	}
	return claims.SessionClaims, nil
}

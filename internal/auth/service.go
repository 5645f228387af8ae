// Package auth guards the inbound webhook endpoint with the gateway's shared
// secret and the payment and ops APIs with scoped HS256 bearer tokens.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/temmyjay001/payments-core/internal/config"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrTokenExpired  = errors.New("token has expired")
	ErrInvalidScopes = errors.New("invalid scopes")
)

type Service struct {
	jwtSecret    []byte
	webhookToken string
	now          func() time.Time
}

func NewService(cfg *config.Config) *Service {
	return &Service{
		jwtSecret:    []byte(cfg.JWTSecret),
		webhookToken: cfg.WebhookToken,
		now:          time.Now,
	}
}

// IssueToken signs a token for subject carrying scopes, valid for ttl.
func (s *Service) IssueToken(subject string, scopes []string, ttl time.Duration) (string, time.Time, error) {
	if len(scopes) == 0 || !ValidateScopes(scopes) {
		return "", time.Time{}, ErrInvalidScopes
	}

	now := s.now()
	expiresAt := now.Add(ttl)
	claims := &Claims{
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
			Subject:   subject,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithTimeFunc(s.now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

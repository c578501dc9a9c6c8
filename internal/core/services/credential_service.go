package services

import (
	"errors"
	"fmt"
	"time"

	"facestream/internal/core/domain"
	"facestream/internal/core/ports"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL is the access token lifetime used by login.
const DefaultTokenTTL = 60 * time.Minute

var (
	ErrInvalidToken  = fmt.Errorf("%w: invalid token", domain.ErrUnauthenticated)
	ErrExpiredToken  = fmt.Errorf("%w: token expired", domain.ErrUnauthenticated)
	ErrInactiveToken = fmt.Errorf("%w: account inactive or suspended", domain.ErrForbidden)
)

type Claims struct {
	Role   domain.Role          `json:"role"`
	Status domain.AccountStatus `json:"status"`
	jwt.RegisteredClaims
}

type credentialService struct {
	secret []byte
	now    func() time.Time
}

type CredentialOption func(*credentialService)

// WithClock replaces the time source used for issuing and verifying.
func WithClock(now func() time.Time) CredentialOption {
	return func(s *credentialService) {
		s.now = now
	}
}

func NewCredentialService(secret string, opts ...CredentialOption) ports.CredentialService {
	s := &credentialService{
		secret: []byte(secret),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *credentialService) Issue(subject string, role domain.Role, status domain.AccountStatus, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := s.now()
	claims := &Claims{
		Role:   role,
		Status: status,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func (s *credentialService) Verify(tokenString string) (*domain.Credential, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	if !claims.Status.IsActive() {
		return nil, ErrInactiveToken
	}

	cred := &domain.Credential{
		Subject: claims.Subject,
		Role:    claims.Role,
		Status:  claims.Status,
	}
	if claims.IssuedAt != nil {
		cred.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		cred.ExpiresAt = claims.ExpiresAt.Time
	}
	return cred, nil
}

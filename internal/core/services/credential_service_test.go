package services

import (
	"errors"
	"strings"
	"testing"
	"time"

	"facestream/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key"

var t0 = time.Unix(1_700_000_000, 0)

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestCredentialService_IssueVerify(t *testing.T) {
	svc := NewCredentialService(testSecret, WithClock(fixedClock(t0)))

	token, err := svc.Issue("alice", domain.RoleAdmin, domain.StatusActive, time.Hour)
	require.NoError(t, err)

	cred, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", cred.Subject)
	assert.Equal(t, domain.RoleAdmin, cred.Role)
	assert.Equal(t, domain.StatusActive, cred.Status)
	assert.True(t, cred.IssuedAt.Equal(t0))
	assert.True(t, cred.ExpiresAt.Equal(t0.Add(time.Hour)))
}

func TestCredentialService_DefaultTTL(t *testing.T) {
	svc := NewCredentialService(testSecret, WithClock(fixedClock(t0)))

	token, err := svc.Issue("alice", domain.RoleUser, domain.StatusActive, 0)
	require.NoError(t, err)

	cred, err := svc.Verify(token)
	require.NoError(t, err)
	assert.True(t, cred.ExpiresAt.Equal(t0.Add(DefaultTokenTTL)))
}

func TestCredentialService_ExpiryWindow(t *testing.T) {
	ttl := 10 * time.Minute
	token, err := NewCredentialService(testSecret, WithClock(fixedClock(t0))).
		Issue("alice", domain.RoleUser, domain.StatusActive, ttl)
	require.NoError(t, err)

	before := NewCredentialService(testSecret, WithClock(fixedClock(t0.Add(ttl-time.Second))))
	_, err = before.Verify(token)
	assert.NoError(t, err)

	after := NewCredentialService(testSecret, WithClock(fixedClock(t0.Add(ttl+time.Second))))
	_, err = after.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestCredentialService_RejectsForgedTokens(t *testing.T) {
	svc := NewCredentialService(testSecret, WithClock(fixedClock(t0)))

	userToken, err := svc.Issue("bob", domain.RoleUser, domain.StatusActive, time.Hour)
	require.NoError(t, err)
	adminToken, err := svc.Issue("bob", domain.RoleAdmin, domain.StatusActive, time.Hour)
	require.NoError(t, err)

	// admin payload under the user token's signature
	userParts := strings.Split(userToken, ".")
	adminParts := strings.Split(adminToken, ".")
	spliced := strings.Join([]string{userParts[0], adminParts[1], userParts[2]}, ".")

	otherKey, err := NewCredentialService("another-secret", WithClock(fixedClock(t0))).
		Issue("bob", domain.RoleAdmin, domain.StatusActive, time.Hour)
	require.NoError(t, err)

	claims := &Claims{
		Role:   domain.RoleAdmin,
		Status: domain.StatusActive,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "bob",
			ExpiresAt: jwt.NewNumericDate(t0.Add(time.Hour)),
		},
	}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		Role:             domain.RoleAdmin,
		Status:           domain.StatusActive,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "bob"},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	tests := map[string]string{
		"spliced payload": spliced,
		"wrong key":       otherKey,
		"alg none":        unsigned,
		"other hmac alg":  hs512,
		"missing exp":     noExp,
		"garbage":         "not.a.token",
		"empty":           "",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			cred, err := svc.Verify(token)
			assert.Nil(t, cred)
			assert.ErrorIs(t, err, ErrInvalidToken)
			assert.ErrorIs(t, err, domain.ErrUnauthenticated)
		})
	}
}

func TestCredentialService_InactiveStatusForbidden(t *testing.T) {
	svc := NewCredentialService(testSecret, WithClock(fixedClock(t0)))

	for _, status := range []domain.AccountStatus{domain.StatusInactive, domain.StatusSuspended} {
		token, err := svc.Issue("carol", domain.RoleUser, status, time.Hour)
		require.NoError(t, err)

		_, err = svc.Verify(token)
		assert.ErrorIs(t, err, domain.ErrForbidden)
		assert.False(t, errors.Is(err, domain.ErrUnauthenticated))
	}
}

func TestCredentialService_SharedKeyAcrossInstances(t *testing.T) {
	a := NewCredentialService(testSecret)
	b := NewCredentialService(testSecret)

	token, err := a.Issue("dave", domain.RoleUser, domain.StatusActive, time.Minute)
	require.NoError(t, err)

	cred, err := b.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "dave", cred.Subject)
}

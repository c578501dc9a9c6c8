package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"facestream/internal/core/domain"
	"facestream/internal/core/ports"
	"facestream/pkg/password"
	"facestream/pkg/tracing"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	LoginOutcomeSuccess   = "success"
	LoginOutcomeRejected  = "rejected"
	LoginOutcomeForbidden = "forbidden"
	LoginOutcomeError     = "error"
)

var (
	ErrBadCredentials  = fmt.Errorf("%w: incorrect username or password", domain.ErrUnauthenticated)
	ErrMissingBearer   = fmt.Errorf("%w: bearer token required", domain.ErrUnauthenticated)
	ErrAccountInactive = fmt.Errorf("%w: account inactive or suspended", domain.ErrForbidden)
	ErrRoleRequired    = fmt.Errorf("%w: role required", domain.ErrForbidden)
)

// dummyHash is compared against when the username is unknown, so both login
// rejections cost one bcrypt comparison.
var dummyHash = sync.OnceValue(func() string {
	hash, _ := password.Hash("facestream-unknown-account")
	return hash
})

// AccessGate authenticates requests and issues credentials on login.
type AccessGate struct {
	credentials ports.CredentialService
	users       ports.UserStore
	metrics     ports.StreamMetrics
	tokenTTL    time.Duration
	logger      *zap.SugaredLogger
}

func NewAccessGate(
	credentials ports.CredentialService,
	users ports.UserStore,
	metrics ports.StreamMetrics,
	tokenTTL time.Duration,
	logger *zap.SugaredLogger,
) *AccessGate {
	if tokenTTL <= 0 {
		tokenTTL = DefaultTokenTTL
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &AccessGate{
		credentials: credentials,
		users:       users,
		metrics:     metrics,
		tokenTTL:    tokenTTL,
		logger:      logger,
	}
}

// Login checks the password before the account status, so a caller without
// the password cannot learn that an account exists but is suspended.
func (g *AccessGate) Login(ctx context.Context, username, pass string) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "auth.login")
	defer span.End()
	span.SetAttributes(attribute.String("auth.username", username))

	account, err := g.users.Lookup(ctx, username)
	if err != nil {
		if !errors.Is(err, domain.ErrAccountNotFound) {
			g.metrics.LoginAttempt(LoginOutcomeError)
			tracing.RecordError(ctx, err)
			return "", fmt.Errorf("failed to look up account: %w", err)
		}
		_, _ = password.Verify(pass, dummyHash())
		g.metrics.LoginAttempt(LoginOutcomeRejected)
		g.logger.Infow("login rejected", "username", username)
		return "", ErrBadCredentials
	}

	ok, err := password.Verify(pass, account.PasswordHash)
	if err != nil {
		g.logger.Warnw("stored password hash unusable", "username", username, "error", err)
	}
	if !ok {
		g.metrics.LoginAttempt(LoginOutcomeRejected)
		g.logger.Infow("login rejected", "username", username)
		return "", ErrBadCredentials
	}

	if !account.Status.IsActive() {
		g.metrics.LoginAttempt(LoginOutcomeForbidden)
		g.logger.Infow("login refused for inactive account", "username", username, "status", account.Status)
		return "", ErrAccountInactive
	}

	role := account.Role
	if role == "" {
		role = domain.RoleUser
	}

	token, err := g.credentials.Issue(account.Username, role, account.Status, g.tokenTTL)
	if err != nil {
		g.metrics.LoginAttempt(LoginOutcomeError)
		return "", err
	}

	g.metrics.LoginAttempt(LoginOutcomeSuccess)
	g.logger.Infow("login succeeded", "username", username, "role", role)
	return token, nil
}

// Authenticate verifies the request's bearer credential.
func (g *AccessGate) Authenticate(r *http.Request) (*domain.Credential, error) {
	token, err := BearerToken(r.Header.Get("Authorization"))
	if err != nil {
		return nil, err
	}
	return g.credentials.Verify(token)
}

// RequireRole is an exact match; there is no role hierarchy.
func (g *AccessGate) RequireRole(cred *domain.Credential, role domain.Role) error {
	if cred == nil || cred.Role != role {
		return fmt.Errorf("%w: %s", ErrRoleRequired, role)
	}
	return nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrMissingBearer
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrMissingBearer
	}
	return token, nil
}

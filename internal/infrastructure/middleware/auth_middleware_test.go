package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"facestream/internal/core/domain"
	"facestream/internal/core/services"
	"facestream/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testSecret = "middleware-test-secret"

func newAuthRouter(t *testing.T) (*gin.Engine, func(sub string, role domain.Role, status domain.AccountStatus) string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := zaptest.NewLogger(t).Sugar()
	creds := services.NewCredentialService(testSecret)
	gate := services.NewAccessGate(creds, nil, nil, time.Hour, log)

	router := gin.New()
	router.Use(RequestIDMiddleware(), ErrorHandlerMiddleware(log))

	secured := router.Group("/", AuthMiddleware(gate))
	secured.GET("/secure", func(c *gin.Context) {
		cred, ok := GetCredential(c)
		require.True(t, ok)
		c.JSON(http.StatusOK, gin.H{
			"sub":     cred.Subject,
			"subject": logger.Subject(c.Request.Context()),
		})
	})
	secured.GET("/admin", RequireRole(gate, domain.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	issue := func(sub string, role domain.Role, status domain.AccountStatus) string {
		token, err := creds.Issue(sub, role, status, time.Hour)
		require.NoError(t, err)
		return token
	}
	return router, issue
}

func serve(router *gin.Engine, path, auth string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	router.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware_AcceptsValidBearer(t *testing.T) {
	router, issue := newAuthRouter(t)

	w := serve(router, "/secure", "Bearer "+issue("alice", domain.RoleUser, domain.StatusActive))
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "alice", body["sub"])
	assert.Equal(t, "alice", body["subject"])
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
}

func TestAuthMiddleware_RejectsWithoutLeakingCause(t *testing.T) {
	router, issue := newAuthRouter(t)

	otherKey := services.NewCredentialService("some-other-secret")
	foreign, err := otherKey.Issue("alice", domain.RoleUser, domain.StatusActive, time.Hour)
	require.NoError(t, err)

	cases := map[string]string{
		"missing header": "",
		"wrong scheme":   "Basic " + issue("alice", domain.RoleUser, domain.StatusActive),
		"empty token":    "Bearer ",
		"garbage":        "Bearer not-a-token",
		"foreign key":    "Bearer " + foreign,
	}

	var bodies []string
	for name, header := range cases {
		w := serve(router, "/secure", header)
		assert.Equal(t, http.StatusUnauthorized, w.Code, name)
		assert.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"), name)
		bodies = append(bodies, w.Body.String())
	}
	for _, b := range bodies[1:] {
		assert.Equal(t, bodies[0], b)
	}
}

func TestAuthMiddleware_InactiveTokenIsForbidden(t *testing.T) {
	router, issue := newAuthRouter(t)

	w := serve(router, "/secure", "Bearer "+issue("bob", domain.RoleUser, domain.StatusSuspended))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "FORBIDDEN")
}

func TestRequireRole(t *testing.T) {
	router, issue := newAuthRouter(t)

	w := serve(router, "/admin", "Bearer "+issue("root", domain.RoleAdmin, domain.StatusActive))
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(router, "/admin", "Bearer "+issue("alice", domain.RoleUser, domain.StatusActive))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "Admin privileges required")

	w = serve(router, "/admin", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"bad login", services.ErrBadCredentials, http.StatusUnauthorized},
		{"expired", services.ErrExpiredToken, http.StatusUnauthorized},
		{"inactive", services.ErrAccountInactive, http.StatusForbidden},
		{"store down", errors.New("connection refused"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appErr := AuthError(tt.err)
			assert.Equal(t, tt.status, appErr.HTTPStatus)
			assert.ErrorIs(t, appErr, tt.err)
		})
	}
}

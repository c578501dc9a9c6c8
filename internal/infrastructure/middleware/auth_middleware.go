package middleware

import (
	"errors"
	"fmt"
	"strings"

	"facestream/internal/core/domain"
	"facestream/internal/core/services"
	apperrors "facestream/pkg/errors"
	"facestream/pkg/logger"

	"github.com/gin-gonic/gin"
)

const credentialKey = "credential"

// AuthMiddleware rejects any request without a valid bearer credential.
func AuthMiddleware(gate *services.AccessGate) gin.HandlerFunc {
	return func(c *gin.Context) {
		cred, err := gate.Authenticate(c.Request)
		if err != nil {
			_ = c.Error(AuthError(err))
			c.Abort()
			return
		}

		c.Set(credentialKey, cred)
		c.Request = c.Request.WithContext(logger.WithSubject(c.Request.Context(), cred.Subject))
		c.Next()
	}
}

// RequireRole must run after AuthMiddleware.
func RequireRole(gate *services.AccessGate, role domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		cred, ok := GetCredential(c)
		if !ok {
			_ = c.Error(apperrors.NewUnauthorizedError(unauthenticatedMessage))
			c.Abort()
			return
		}
		if err := gate.RequireRole(cred, role); err != nil {
			_ = c.Error(apperrors.NewForbiddenError(roleMessage(role)).WithCause(err))
			c.Abort()
			return
		}
		c.Next()
	}
}

func GetCredential(c *gin.Context) (*domain.Credential, bool) {
	v, exists := c.Get(credentialKey)
	if !exists {
		return nil, false
	}
	cred, ok := v.(*domain.Credential)
	return cred, ok && cred != nil
}

const (
	unauthenticatedMessage = "Invalid authentication credentials"
	badLoginMessage        = "Incorrect username or password"
	inactiveMessage        = "Account inactive or suspended"
)

func roleMessage(role domain.Role) string {
	r := string(role)
	if r == "" {
		return "Insufficient privileges"
	}
	return fmt.Sprintf("%s%s privileges required", strings.ToUpper(r[:1]), r[1:])
}

// AuthError translates access gate failures into client-facing errors.
// Every unauthenticated cause of the same kind renders the same body.
func AuthError(err error) *apperrors.AppError {
	switch {
	case errors.Is(err, services.ErrBadCredentials):
		return apperrors.NewUnauthorizedError(badLoginMessage).WithCause(err)
	case errors.Is(err, domain.ErrUnauthenticated):
		return apperrors.NewUnauthorizedError(unauthenticatedMessage).WithCause(err)
	case errors.Is(err, domain.ErrForbidden):
		return apperrors.NewForbiddenError(inactiveMessage).WithCause(err)
	default:
		return apperrors.NewInternalError("Internal server error").WithCause(err)
	}
}

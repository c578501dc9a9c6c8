package http

import (
	"fmt"
	"net/http"
	"strings"

	"facestream/internal/core/domain"
	"facestream/internal/core/services"
	"facestream/internal/infrastructure/middleware"
	"facestream/pkg/errors"
	"facestream/pkg/validation"

	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	gate       *services.AccessGate
	loginLimit gin.HandlerFunc
}

// NewAuthHandler wires the auth endpoints. loginLimit may be nil.
func NewAuthHandler(gate *services.AccessGate, loginLimit gin.HandlerFunc) *AuthHandler {
	if loginLimit == nil {
		loginLimit = func(c *gin.Context) { c.Next() }
	}
	return &AuthHandler{
		gate:       gate,
		loginLimit: loginLimit,
	}
}

func (h *AuthHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/auth")
	{
		api.POST("/login/", h.loginLimit, h.Login)

		secured := api.Group("/", middleware.AuthMiddleware(h.gate))
		secured.GET("/secure/", h.Secure)
		secured.GET("/role-protected/", middleware.RequireRole(h.gate, domain.RoleAdmin), h.RoleProtected)
	}
}

// LoginRequest accepts an OAuth2 password form or the same fields as JSON.
type LoginRequest struct {
	Username string `form:"username" json:"username"`
	Password string `form:"password" json:"password"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBind(&req); err != nil {
		_ = c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	// A decodable form with missing or oversized fields is just a bad login.
	req.Username = strings.TrimSpace(req.Username)
	if err := validation.ValidateLoginForm(req.Username, req.Password); err != nil {
		_ = c.Error(middleware.AuthError(fmt.Errorf("%w: %v", services.ErrBadCredentials, err)))
		return
	}

	token, err := h.gate.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		_ = c.Error(middleware.AuthError(err))
		return
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, TokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
	})
}

func (h *AuthHandler) Secure(c *gin.Context) {
	cred, _ := middleware.GetCredential(c)
	c.JSON(http.StatusOK, gin.H{
		"message": fmt.Sprintf("Hello %s, you accessed a protected endpoint", cred.Subject),
	})
}

func (h *AuthHandler) RoleProtected(c *gin.Context) {
	cred, _ := middleware.GetCredential(c)
	c.JSON(http.StatusOK, gin.H{
		"message": fmt.Sprintf("Admin endpoint accessed by %s", cred.Subject),
	})
}

package http

import (
	"errors"
	"net/http"
	"time"

	"facestream/internal/core/domain"
	"facestream/internal/core/ports"
	"facestream/internal/core/services"
	"facestream/internal/infrastructure/distributed"
	"facestream/internal/infrastructure/middleware"
	"facestream/internal/infrastructure/signal"
	"facestream/internal/infrastructure/streaming"
	apperrors "facestream/pkg/errors"
	"facestream/pkg/logger"

	"github.com/gin-gonic/gin"
)

const (
	transportMultipart = "multipart"
	transportWebSocket = "websocket"
)

type StreamHandler struct {
	gate         *services.AccessGate
	registry     *services.PipelineRegistry
	metrics      ports.StreamMetrics
	events       ports.EventPublisher
	ws           *signal.WebSocketServer
	cluster      *distributed.ClusterView
	writeTimeout time.Duration
	logger       *logger.ContextLogger
}

type StreamHandlerConfig struct {
	// WriteTimeout bounds each multipart frame write; zero disables it.
	WriteTimeout time.Duration
}

// NewStreamHandler builds the stream routes. ws and cluster are optional.
func NewStreamHandler(
	gate *services.AccessGate,
	registry *services.PipelineRegistry,
	metrics ports.StreamMetrics,
	events ports.EventPublisher,
	ws *signal.WebSocketServer,
	cluster *distributed.ClusterView,
	cfg StreamHandlerConfig,
	log *logger.ContextLogger,
) *StreamHandler {
	return &StreamHandler{
		gate:         gate,
		registry:     registry,
		metrics:      metrics,
		events:       events,
		ws:           ws,
		cluster:      cluster,
		writeTimeout: cfg.WriteTimeout,
		logger:       log,
	}
}

func (h *StreamHandler) SetupRoutes(router *gin.Engine) {
	router.GET("/", h.Root)

	auth := middleware.AuthMiddleware(h.gate)
	admin := middleware.RequireRole(h.gate, domain.RoleAdmin)

	api := router.Group("/stream", auth)
	{
		api.GET("/:camera_id", h.Stream)
		api.GET("/", admin, h.ListCameras)
		api.DELETE("/:camera_id", admin, h.TeardownCamera)
	}

	if h.ws != nil {
		router.GET("/ws/stream/:camera_id", bearerFromQuery, auth, h.StreamWebSocket)
	}
}

func (h *StreamHandler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Face Tracking System API Running"})
}

// Stream serves the camera as multipart/x-mixed-replace until the viewer
// leaves or the pipeline ends. Errors after the headers are sent can only
// end the response.
func (h *StreamHandler) Stream(c *gin.Context) {
	cred, _ := middleware.GetCredential(c)
	sub, ok := h.subscribe(c)
	if !ok {
		return
	}

	streaming.SetHeaders(c.Writer.Header())
	c.Status(http.StatusOK)
	w := streaming.NewMultipartWriter(c.Writer, h.writeTimeout)
	if err := w.Start(); err != nil {
		_ = sub.Close()
		return
	}

	ctx := c.Request.Context()
	session := services.NewStreamSession(sub, cred.Subject, transportMultipart, h.metrics, h.events, h.logger.Sugar(ctx))
	session.Run(ctx, w)
}

// StreamWebSocket sends one binary message per frame. Browsers cannot set
// headers on a websocket handshake, so the token may come as ?access_token=.
func (h *StreamHandler) StreamWebSocket(c *gin.Context) {
	cred, _ := middleware.GetCredential(c)
	sub, ok := h.subscribe(c)
	if !ok {
		return
	}

	sock, err := h.ws.Accept(c.Request.Context(), c.Writer, c.Request)
	if err != nil {
		_ = sub.Close()
		return
	}

	ctx := sock.Context()
	session := services.NewStreamSession(sub, cred.Subject, transportWebSocket, h.metrics, h.events, h.logger.Sugar(c.Request.Context()))
	cause := session.Run(ctx, sock)
	sock.Close(signal.CloseCode(cause))
}

// subscribe resolves the camera id and attaches a viewer, replying with an
// error when it cannot.
func (h *StreamHandler) subscribe(c *gin.Context) (*services.Subscription, bool) {
	id, err := domain.ParseCameraID(c.Param("camera_id"))
	if err != nil {
		_ = c.Error(apperrors.NewInvalidInputError("camera_id must be a non-negative integer"))
		return nil, false
	}

	sub, err := h.registry.Subscribe(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(subscribeError(err))
		return nil, false
	}
	return sub, true
}

func subscribeError(err error) *apperrors.AppError {
	switch {
	case errors.Is(err, domain.ErrCameraNotFound):
		return apperrors.NewNotFoundError("camera").WithCause(err)
	default:
		return apperrors.NewServiceUnavailableError("camera stream unavailable").WithCause(err)
	}
}

func (h *StreamHandler) ListCameras(c *gin.Context) {
	resp := gin.H{"cameras": h.registry.Cameras()}
	if h.cluster != nil {
		resp["remote"] = h.cluster.Snapshot()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *StreamHandler) TeardownCamera(c *gin.Context) {
	id, err := domain.ParseCameraID(c.Param("camera_id"))
	if err != nil {
		_ = c.Error(apperrors.NewInvalidInputError("camera_id must be a non-negative integer"))
		return
	}

	if err := h.registry.Teardown(c.Request.Context(), id); err != nil {
		if errors.Is(err, domain.ErrCameraNotFound) {
			_ = c.Error(apperrors.NewNotFoundError("camera").WithCause(err))
			return
		}
		_ = c.Error(apperrors.NewInternalError("failed to close camera").WithCause(err))
		return
	}

	cred, _ := middleware.GetCredential(c)
	h.logger.Sugar(c.Request.Context()).Infow("camera closed by admin", "camera_id", id, "subject", cred.Subject)
	c.JSON(http.StatusOK, gin.H{"status": "closed"})
}

// bearerFromQuery copies ?access_token= into the Authorization header when
// the header is absent.
func bearerFromQuery(c *gin.Context) {
	if c.GetHeader("Authorization") == "" {
		if token := c.Query("access_token"); token != "" {
			c.Request.Header.Set("Authorization", "Bearer "+token)
		}
	}
	c.Next()
}

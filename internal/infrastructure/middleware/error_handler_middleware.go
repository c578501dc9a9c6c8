package middleware

import (
	"net/http"

	"facestream/pkg/errors"
	"facestream/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorHandlerMiddleware handles application errors and returns appropriate HTTP responses
func ErrorHandlerMiddleware(log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err
		ctx := c.Request.Context()

		// A stream that already started cannot carry an error body.
		if c.Writer.Written() {
			log.Debugw("error after response started",
				"error", err,
				"path", c.Request.URL.Path,
				"request_id", logger.RequestID(ctx),
			)
			return
		}

		appErr := errors.GetAppError(err)
		if appErr == nil {
			log.Errorw("unhandled error",
				"error", err.Error(),
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
				"request_id", logger.RequestID(ctx),
			)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   string(errors.ErrCodeInternal),
				"message": "Internal server error",
				"details": gin.H{},
			})
			return
		}

		fields := []interface{}{
			"code", appErr.Code,
			"message", appErr.Message,
			"status", appErr.HTTPStatus,
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
			"request_id", logger.RequestID(ctx),
		}
		if appErr.Cause != nil {
			fields = append(fields, "cause", appErr.Cause.Error())
		}
		if appErr.HTTPStatus >= http.StatusInternalServerError {
			log.Errorw("application error", fields...)
		} else {
			log.Infow("request rejected", fields...)
		}

		for k, v := range appErr.Headers {
			c.Header(k, v)
		}
		details := appErr.Details
		if details == nil {
			details = map[string]interface{}{}
		}
		c.JSON(appErr.HTTPStatus, gin.H{
			"error":   string(appErr.Code),
			"message": appErr.Message,
			"details": details,
		})
	}
}

// RecoveryMiddleware recovers from panics and returns proper error responses
func RecoveryMiddleware(log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				if err == http.ErrAbortHandler {
					panic(err)
				}
				log.Errorw("panic recovered",
					"error", err,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
					"request_id", logger.RequestID(c.Request.Context()),
				)

				if !c.Writer.Written() {
					c.JSON(http.StatusInternalServerError, gin.H{
						"error":   string(errors.ErrCodeInternal),
						"message": "Internal server error",
						"details": gin.H{},
					})
				}
				c.Abort()
			}
		}()

		c.Next()
	}
}

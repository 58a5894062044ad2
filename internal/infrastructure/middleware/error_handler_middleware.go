package middleware

import (
	"net/http"

	pkgerrors "callmesh/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorHandlerMiddleware turns errors attached to the gin context into the
// structured wire error body.
func ErrorHandlerMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err

		resp, status := pkgerrors.ToResponse(err)
		if status >= http.StatusInternalServerError {
			logger.Errorw("request failed",
				"error", err,
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
			)
		} else {
			logger.Warnw("request rejected",
				"code", resp.Code,
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
			)
		}
		c.JSON(status, resp)
	}
}

// RecoveryMiddleware recovers from handler panics.
func RecoveryMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorw("panic recovered",
					"error", r,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, pkgerrors.Response{
					Code:    pkgerrors.CodeInternal,
					Message: "internal error",
				})
			}
		}()
		c.Next()
	}
}

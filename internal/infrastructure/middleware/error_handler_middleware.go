package middleware

import (
	"errors"
	"net/http"

	"ringline/internal/core/domain"
	apperrors "ringline/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ToAppError maps domain errors onto HTTP errors. Errors that already are
// AppErrors are returned as is.
func ToAppError(err error) *apperrors.AppError {
	if appErr := apperrors.GetAppError(err); appErr != nil {
		return appErr
	}

	switch {
	case errors.Is(err, domain.ErrStoreUnavailable):
		return apperrors.WrapError(err, apperrors.ErrCodeServiceUnavailable, "contact store unavailable", http.StatusServiceUnavailable)
	case errors.Is(err, domain.ErrUnknownIdentity):
		return apperrors.WrapError(err, apperrors.ErrCodeNotFound, "identity not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrInvalidMessage):
		return apperrors.WrapError(err, apperrors.ErrCodeInvalidInput, "invalid request", http.StatusBadRequest)
	case errors.Is(err, domain.ErrUnauthorized):
		return apperrors.WrapError(err, apperrors.ErrCodeForbidden, "not a mutual contact", http.StatusForbidden)
	case errors.Is(err, domain.ErrAlreadyAttached), errors.Is(err, domain.ErrAlreadyInProgress):
		return apperrors.WrapError(err, apperrors.ErrCodeConflict, err.Error(), http.StatusConflict)
	default:
		return apperrors.WrapError(err, apperrors.ErrCodeInternal, "Internal server error", http.StatusInternalServerError)
	}
}

// ErrorHandlerMiddleware renders the last error a handler attached with
// c.Error, unless the handler already wrote a response.
func ErrorHandlerMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		appErr := ToAppError(c.Errors.Last().Err)

		if appErr.HTTPStatus >= http.StatusInternalServerError {
			logger.Errorw("request failed",
				"code", appErr.Code,
				"error", appErr.Error(),
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
			)
		} else {
			logger.Debugw("request rejected",
				"code", appErr.Code,
				"message", appErr.Message,
				"path", c.Request.URL.Path,
			)
		}

		if c.Writer.Written() {
			return
		}
		body := gin.H{
			"error":   string(appErr.Code),
			"message": appErr.Message,
		}
		if len(appErr.Context) > 0 {
			body["details"] = appErr.Context
		}
		c.JSON(appErr.HTTPStatus, body)
	}
}

// RecoveryMiddleware recovers from panics and returns proper error responses
func RecoveryMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Errorw("panic recovered",
					"error", err,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":   string(apperrors.ErrCodeInternal),
					"message": "Internal server error",
				})
			}
		}()

		c.Next()
	}
}

package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"ringline/internal/core/domain"
	apperrors "ringline/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestToAppError(t *testing.T) {
	tests := []struct {
		err    error
		code   apperrors.ErrorCode
		status int
	}{
		{fmt.Errorf("x: %w", domain.ErrStoreUnavailable), apperrors.ErrCodeServiceUnavailable, http.StatusServiceUnavailable},
		{fmt.Errorf("x: %w", domain.ErrUnknownIdentity), apperrors.ErrCodeNotFound, http.StatusNotFound},
		{domain.ErrInvalidMessage, apperrors.ErrCodeInvalidInput, http.StatusBadRequest},
		{domain.ErrUnauthorized, apperrors.ErrCodeForbidden, http.StatusForbidden},
		{domain.ErrAlreadyAttached, apperrors.ErrCodeConflict, http.StatusConflict},
		{apperrors.NewRateLimitError(), apperrors.ErrCodeRateLimit, http.StatusTooManyRequests},
		{errors.New("boom"), apperrors.ErrCodeInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			appErr := ToAppError(tt.err)
			assert.Equal(t, tt.code, appErr.Code)
			assert.Equal(t, tt.status, appErr.HTTPStatus)
		})
	}
}

func TestErrorHandlerMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(ErrorHandlerMiddleware(zaptest.NewLogger(t).Sugar()))
	router.GET("/down", func(c *gin.Context) {
		_ = c.Error(fmt.Errorf("lookup: %w", domain.ErrStoreUnavailable))
	})
	router.GET("/ok", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/down", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, string(apperrors.ErrCodeServiceUnavailable), body["error"])

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RecoveryMiddleware(zaptest.NewLogger(t).Sugar()))
	router.GET("/panic", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

package middleware

import (
	"net/http"
	"strings"

	"ringline/internal/core/domain"
	"ringline/internal/core/services"
	apperrors "ringline/pkg/errors"

	"github.com/gin-gonic/gin"
)

const (
	ContextKeyIdentity    = "identity"
	ContextKeyDisplayName = "display_name"
)

// ExtractToken returns the bearer token from the Authorization header, or
// from the "token" query parameter for clients that cannot set headers
// (browser WebSocket).
func ExtractToken(r *http.Request) (string, bool) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			return "", false
		}
		return parts[1], true
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, true
	}
	return "", false
}

// AuthMiddleware rejects requests without a valid attach token and stores
// the token's identity in the gin context.
func AuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := ExtractToken(c.Request)
		if !ok {
			abortWithAppError(c, apperrors.NewUnauthorizedError("authorization token required"))
			return
		}

		claims, err := authService.ValidateToken(token)
		if err != nil {
			abortWithAppError(c, apperrors.WrapError(err, apperrors.ErrCodeUnauthorized, err.Error(), http.StatusUnauthorized))
			return
		}

		c.Set(ContextKeyIdentity, claims.Identity)
		c.Set(ContextKeyDisplayName, claims.Name)
		c.Next()
	}
}

// IdentityFromContext returns the identity set by AuthMiddleware.
func IdentityFromContext(c *gin.Context) (domain.IdentityID, bool) {
	v, ok := c.Get(ContextKeyIdentity)
	if !ok {
		return "", false
	}
	id, ok := v.(domain.IdentityID)
	return id, ok && id != ""
}

func abortWithAppError(c *gin.Context, appErr *apperrors.AppError) {
	_ = c.Error(appErr)
	c.AbortWithStatusJSON(appErr.HTTPStatus, gin.H{
		"error":   string(appErr.Code),
		"message": appErr.Message,
	})
}

// auth_middleware.go
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"floor-dispatch-service/internal/model"
	"floor-dispatch-service/internal/service"

	"github.com/gin-gonic/gin"
)

const workerKey = "worker"

type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (model.Worker, error)
}

// AuthMiddleware validates the bearer token and stores the worker in the
// context.
func AuthMiddleware(v TokenValidator, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		w, err := v.ValidateToken(c.Request.Context(), token)
		switch {
		case err == nil:
		case errors.Is(err, service.ErrInvalidToken), errors.Is(err, service.ErrUserDisabled):
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		default:
			log.Error("auth service unreachable", "action", "auth_failed", "request_id", RequestID(c), "error", err)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "auth service unavailable"})
			return
		}

		c.Set(workerKey, w)
		c.Next()
	}
}

// CurrentWorker returns the worker AuthMiddleware stored.
func CurrentWorker(c *gin.Context) model.Worker {
	if v, ok := c.Get(workerKey); ok {
		if w, ok := v.(model.Worker); ok {
			return w
		}
	}
	return model.Worker{}
}

package middleware

import (
	"net/http"
	"strings"

	"callmesh/internal/infrastructure/auth"
	pkgerrors "callmesh/pkg/errors"

	"github.com/gin-gonic/gin"
)

// ParticipantKey is the gin context key carrying the authenticated
// participant id.
const ParticipantKey = "participant_id"

// AuthMiddleware validates the bearer token on command API requests and
// stores the authenticated participant in the request context.
func AuthMiddleware(svc *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			return
		}

		claims, err := svc.ValidateToken(parts[1])
		if err != nil {
			resp, status := pkgerrors.ToResponse(err)
			c.AbortWithStatusJSON(status, resp)
			return
		}

		c.Set(ParticipantKey, claims.Participant)
		c.Next()
	}
}

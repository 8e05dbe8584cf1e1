package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"facesync/internal/security"
)

const (
	userIDKey = "user_id"
	claimsKey = "identity_claims"
)

// Auth verifies the identity-provider token and stores its subject as the
// request's user id. Websocket upgrades may pass the token as ?token= since
// browsers cannot set headers on them.
func Auth(secret string, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr, ok := security.BearerToken(c.GetHeader("Authorization"))
		if !ok && isWebsocketUpgrade(c.Request) {
			tokenStr = c.Query("token")
			ok = tokenStr != ""
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing_token"})
			return
		}

		claims, err := security.ParseIdentityToken(tokenStr, secret)
		if err != nil {
			log.Debug().Err(err).Str("request_id", RequestIDFrom(c)).Msg("reject identity token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
			return
		}

		c.Set(userIDKey, claims.Subject)
		c.Set(claimsKey, claims)

		c.Next()
	}
}

// UserID returns the id Auth stored, or "" on unauthenticated routes.
func UserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}

func isWebsocketUpgrade(r *http.Request) bool {
	return r.Method == http.MethodGet && headerContainsToken(r.Header, "Connection", "upgrade") &&
		headerContainsToken(r.Header, "Upgrade", "websocket")
}

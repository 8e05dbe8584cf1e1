package middleware

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"facesync/internal/security"
)

const (
	signatureMaxAge  = 5 * time.Minute
	signatureMaxSkew = 2 * time.Minute
)

// NonceGuard remembers nonces; *redis.Client satisfies it.
type NonceGuard interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// Signature verifies the request signature of the authenticated user and
// rejects replayed nonces. It must run after Auth. Bodies above maxBody are
// rejected before hashing.
func Signature(secret string, nonces NonceGuard, maxBody int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		date, nonce, signature, err := security.ExtractSignatureHeaders(c.Request.Header)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "signature_required"})
			return
		}

		requestTime, err := time.Parse(time.RFC3339, date)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_date"})
			return
		}
		if time.Since(requestTime) > signatureMaxAge || time.Until(requestTime) > signatureMaxSkew {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "request_expired"})
			return
		}

		userID := UserID(c)
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		rawBody, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBody+1))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_body"})
			return
		}
		if int64(len(rawBody)) > maxBody {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "body_too_large"})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(rawBody))

		valid := security.ValidateSignature(
			secret,
			userID,
			signature,
			c.Request.Method,
			c.Request.URL.Path,
			c.Request.URL.RawQuery,
			rawBody,
			date,
			nonce,
		)
		if !valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_signature"})
			return
		}

		nonceKey := fmt.Sprintf("sig:%s:%s", userID, nonce)
		fresh, err := nonces.SetNX(c.Request.Context(), nonceKey, "1", signatureMaxAge).Result()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "nonce_store_unavailable"})
			return
		}
		if !fresh {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "replay_detected"})
			return
		}

		c.Next()
	}
}

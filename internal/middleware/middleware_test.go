package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"facesync/internal/security"
)

const testSecret = "jwt-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type memoryNonces struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func (m *memoryNonces) SetNX(_ context.Context, key string, _ interface{}, _ time.Duration) *redis.BoolCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	m.seen[key] = struct{}{}
	return redis.NewBoolResult(true, nil)
}

func newEngine(handlers ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(RequestID())
	r.Use(handlers...)
	whoami := func(c *gin.Context) {
		c.String(http.StatusOK, UserID(c))
	}
	r.GET("/whoami", whoami)
	r.POST("/whoami", whoami)
	return r
}

func issue(t *testing.T, userID string) string {
	t.Helper()
	token, err := security.IssueIdentityToken(testSecret, userID, time.Minute)
	require.NoError(t, err)
	return token
}

func TestAuthAcceptsBearerToken(t *testing.T) {
	r := newEngine(Auth(testSecret, zerolog.Nop()))

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+issue(t, "u1"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u1", w.Body.String())
}

func TestAuthRejections(t *testing.T) {
	r := newEngine(Auth(testSecret, zerolog.Nop()))

	cases := map[string]*http.Request{}
	cases["missing"] = httptest.NewRequest(http.MethodGet, "/whoami", nil)

	bad := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	bad.Header.Set("Authorization", "Bearer nope")
	cases["invalid"] = bad

	query := httptest.NewRequest(http.MethodGet, "/whoami?token="+issue(t, "u1"), nil)
	cases["query token without upgrade"] = query

	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestAuthAcceptsQueryTokenOnUpgrade(t *testing.T) {
	r := newEngine(Auth(testSecret, zerolog.Nop()))

	req := httptest.NewRequest(http.MethodGet, "/whoami?token="+issue(t, "u7"), nil)
	req.Header.Set("Connection", "keep-alive, Upgrade")
	req.Header.Set("Upgrade", "websocket")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u7", w.Body.String())
}

func TestRequestIDIsMintedOrKept(t *testing.T) {
	r := newEngine()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	minted := w.Header().Get(requestIDHeader)
	assert.Len(t, minted, 36)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set(requestIDHeader, minted)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, minted, w.Header().Get(requestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set(requestIDHeader, "not a uuid\n")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.NotEqual(t, "not a uuid\n", w.Header().Get(requestIDHeader))
}

func TestCORSPreflight(t *testing.T) {
	r := newEngine(CORS([]string{"https://app.example"}))

	req := httptest.NewRequest(http.MethodOptions, "/whoami", nil)
	req.Header.Set("Origin", "https://app.example")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), security.HeaderSignature)

	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecoveryReturnsInternalError(t *testing.T) {
	r := gin.New()
	r.Use(RequestID(), Recovery(zerolog.Nop()))
	r.GET("/panic", func(*gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "internal_error")
}

func TestSignatureVerifiesAndBlocksReplay(t *testing.T) {
	nonces := &memoryNonces{seen: map[string]struct{}{}}
	r := newEngine(Auth(testSecret, zerolog.Nop()), Signature("sig-secret", nonces, 1<<10))
	token := issue(t, "u1")
	body := `{"uri":"s3://captures/users/u1/a.jpg"}`

	signed := func(nonce, sigUser string) *http.Request {
		date := time.Now().UTC().Format(time.RFC3339)
		req := httptest.NewRequest(http.MethodPost, "/whoami?x=1", strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set(security.HeaderDate, date)
		req.Header.Set(security.HeaderNonce, nonce)
		req.Header.Set(security.HeaderSignature, security.ComputeSignature(
			"sig-secret", sigUser, http.MethodPost, "/whoami", "x=1",
			security.ComputeBodyHash([]byte(body)), date, nonce,
		))
		return req
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, signed("n1", "u1"))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, signed("n1", "u1"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "replay_detected")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, signed("n2", "u2"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_signature")

	unsigned := httptest.NewRequest(http.MethodPost, "/whoami", strings.NewReader(body))
	unsigned.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, unsigned)
	assert.Contains(t, w.Body.String(), "signature_required")
}

func TestSignatureRejectsLargeBody(t *testing.T) {
	nonces := &memoryNonces{seen: map[string]struct{}{}}
	r := newEngine(Auth(testSecret, zerolog.Nop()), Signature("sig-secret", nonces, 8))

	req := httptest.NewRequest(http.MethodPost, "/whoami", strings.NewReader(strings.Repeat("x", 64)))
	req.Header.Set("Authorization", "Bearer "+issue(t, "u1"))
	req.Header.Set(security.HeaderDate, time.Now().UTC().Format(time.RFC3339))
	req.Header.Set(security.HeaderNonce, "n1")
	req.Header.Set(security.HeaderSignature, "x")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

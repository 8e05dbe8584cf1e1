package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidCursor = errors.New("invalid cursor")

func SignResource(secret string, parts ...string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	payload := strings.Join(parts, ":")
	mac.Write([]byte(payload))
	sum := mac.Sum(nil)
	return []byte(base64.RawURLEncoding.EncodeToString(sum))
}

// EncodeCursor turns a page position into an opaque token that is only
// accepted back for the same scope.
func EncodeCursor(secret string, scope string, at time.Time, id string) string {
	payload := base64.RawURLEncoding.EncodeToString(
		[]byte(strconv.FormatInt(at.UnixNano(), 10) + ":" + id),
	)
	return payload + "." + string(SignResource(secret, scope, payload))
}

func DecodeCursor(secret string, scope string, token string) (time.Time, string, error) {
	payload, sig, ok := strings.Cut(token, ".")
	if !ok || payload == "" {
		return time.Time{}, "", ErrInvalidCursor
	}
	if !hmac.Equal([]byte(sig), SignResource(secret, scope, payload)) {
		return time.Time{}, "", ErrInvalidCursor
	}

	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return time.Time{}, "", ErrInvalidCursor
	}
	nanos, id, ok := strings.Cut(string(raw), ":")
	if !ok || id == "" {
		return time.Time{}, "", ErrInvalidCursor
	}
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return time.Time{}, "", ErrInvalidCursor
	}
	return time.Unix(0, n).UTC(), id, nil
}

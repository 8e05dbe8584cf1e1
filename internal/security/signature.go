package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
)

const (
	HeaderSignature = "X-Facesync-Signature"
	HeaderDate      = "X-Facesync-Date"
	HeaderNonce     = "X-Facesync-Nonce"
)

func ComputeBodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// ComputeSignature signs one request of userID. Devices send the result in
// HeaderSignature together with the date and nonce they used.
func ComputeSignature(secret string, userID string, method string, path string, query string, bodyHash string, date string, nonce string) string {
	data := strings.Join([]string{
		userID,
		strings.ToUpper(method),
		path,
		query,
		bodyHash,
		date,
		nonce,
	}, "\n")

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(data))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func ValidateSignature(secret string, userID string, signature string, method string, path string, query string, body []byte, date string, nonce string) bool {
	bodyHash := ComputeBodyHash(body)
	expected := ComputeSignature(secret, userID, method, path, query, bodyHash, date, nonce)
	return hmac.Equal([]byte(signature), []byte(expected))
}

func ExtractSignatureHeaders(h http.Header) (date string, nonce string, signature string, err error) {
	date = h.Get(HeaderDate)
	nonce = h.Get(HeaderNonce)
	signature = h.Get(HeaderSignature)

	if date == "" || nonce == "" || signature == "" {
		return "", "", "", fmt.Errorf("missing signature headers")
	}
	return date, nonce, signature, nil
}

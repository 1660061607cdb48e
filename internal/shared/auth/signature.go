package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidSignature = errors.New("invalid webhook signature")

// WebhookVerifier checks the detached JWS signatures the bank feed provider
// attaches to webhook deliveries. The compact serialization arrives with an
// empty payload segment (header..signature); the raw request body stands in
// for the payload during verification.
type WebhookVerifier struct {
	secret []byte
}

func NewWebhookVerifier(secret string) *WebhookVerifier {
	return &WebhookVerifier{secret: []byte(secret)}
}

// Verify validates signature against body. Only HS256 is accepted; anything
// else, including the alg=none downgrade, fails closed.
func (v *WebhookVerifier) Verify(signature string, body []byte) error {
	header, sig, ok := strings.Cut(signature, "..")
	if !ok || header == "" || sig == "" || strings.Contains(sig, ".") {
		return fmt.Errorf("%w: not a detached compact serialization", ErrInvalidSignature)
	}

	compact := header + "." + base64.RawURLEncoding.EncodeToString(body) + "." + sig
	_, err := jwt.Parse(compact, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

// Sign produces the detached JWS for body, the inverse of Verify.
func (v *WebhookVerifier) Sign(body []byte) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	payload := base64.RawURLEncoding.EncodeToString(body)

	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(header + "." + payload))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))

	return header + ".." + sig
}

package auth

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func TestWebhookVerifier_SignAndVerify(t *testing.T) {
	v := NewWebhookVerifier("test-webhook-secret")
	body := []byte(`{"connection_id":"conn-1","event":"transactions.updated"}`)

	sig := v.Sign(body)
	if sig == "" {
		t.Fatal("Sign() returned empty signature")
	}
	if !strings.Contains(sig, "..") {
		t.Fatalf("Sign() did not produce a detached serialization: %s", sig)
	}

	if err := v.Verify(sig, body); err != nil {
		t.Fatalf("Verify() failed on own signature: %v", err)
	}
}

func TestWebhookVerifier_RejectsTamperedBody(t *testing.T) {
	v := NewWebhookVerifier("test-webhook-secret")
	body := []byte(`{"connection_id":"conn-1","event":"transactions.updated"}`)
	sig := v.Sign(body)

	tampered := []byte(`{"connection_id":"conn-2","event":"transactions.updated"}`)
	err := v.Verify(sig, tampered)
	if err == nil {
		t.Fatal("Verify() accepted a signature for a different body")
	}
	if !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("Verify() error = %v, want ErrInvalidSignature", err)
	}
}

func TestWebhookVerifier_RejectsWrongSecret(t *testing.T) {
	signer := NewWebhookVerifier("provider-secret")
	verifier := NewWebhookVerifier("different-secret")
	body := []byte(`{"connection_id":"conn-1","event":"sync.requested"}`)

	if err := verifier.Verify(signer.Sign(body), body); err == nil {
		t.Fatal("Verify() accepted a signature made with another secret")
	}
}

func TestWebhookVerifier_RejectsMalformedSignatures(t *testing.T) {
	v := NewWebhookVerifier("test-webhook-secret")
	body := []byte(`{"connection_id":"conn-1","event":"transactions.updated"}`)

	full := strings.Replace(v.Sign(body), "..", "."+base64.RawURLEncoding.EncodeToString(body)+".", 1)

	tests := []struct {
		name      string
		signature string
	}{
		{"empty", ""},
		{"no separator", "abc.def"},
		{"missing header", "..sig"},
		{"missing signature", "header.."},
		{"attached payload", full},
		{"garbage", "not-a-jws"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := v.Verify(tt.signature, body); !errors.Is(err, ErrInvalidSignature) {
				t.Errorf("Verify(%q) error = %v, want ErrInvalidSignature", tt.signature, err)
			}
		})
	}
}

func TestWebhookVerifier_RejectsAlgNone(t *testing.T) {
	v := NewWebhookVerifier("test-webhook-secret")
	body := []byte(`{"connection_id":"conn-1","event":"transactions.updated"}`)

	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	if err := v.Verify(header+"..", body); err == nil {
		t.Fatal("Verify() accepted alg=none")
	}
	if err := v.Verify(header+"..x", body); err == nil {
		t.Fatal("Verify() accepted alg=none with a signature present")
	}
}

package statetoken

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestIssuer(t *testing.T) *Issuer {
	t.Helper()
	issuer, err := NewIssuer([]byte("state-signing-secret"), 10*time.Minute)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	return issuer
}

func TestNewIssuerRejectsEmptySecret(t *testing.T) {
	t.Parallel()

	if _, err := NewIssuer(nil, time.Minute); !errors.Is(err, ErrMissingSecret) {
		t.Fatalf("expected ErrMissingSecret, got %v", err)
	}
}

func TestIssueAndVerifyReturnsSubject(t *testing.T) {
	t.Parallel()

	issuer := newTestIssuer(t)
	token, err := issuer.Issue("user-42", "instagram")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	subject, verifyErr := issuer.Verify(token, "instagram")
	if verifyErr != nil {
		t.Fatalf("verify: %v", verifyErr)
	}
	if subject != "user-42" {
		t.Fatalf("expected subject user-42, got %q", subject)
	}
}

func TestVerifyRejectsPurposeMismatch(t *testing.T) {
	t.Parallel()

	issuer := newTestIssuer(t)
	token, err := issuer.Issue("user-42", "instagram")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, verifyErr := issuer.Verify(token, "youtube"); !errors.Is(verifyErr, ErrPurposeMismatch) {
		t.Fatalf("expected ErrPurposeMismatch, got %v", verifyErr)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	t.Parallel()

	issuer := newTestIssuer(t)
	current := time.Unix(1_700_000_000, 0)
	issuer.now = func() time.Time { return current }

	token, err := issuer.Issue("user-42", "youtube")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	current = current.Add(11 * time.Minute)

	if _, verifyErr := issuer.Verify(token, "youtube"); !errors.Is(verifyErr, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", verifyErr)
	}
}

func TestVerifyRejectsAlteredSignature(t *testing.T) {
	t.Parallel()

	issuer := newTestIssuer(t)
	token, err := issuer.Issue("user-42", "youtube")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	raw, decodeErr := base64.RawURLEncoding.DecodeString(token)
	if decodeErr != nil {
		t.Fatalf("decode: %v", decodeErr)
	}
	decoded := string(raw)
	last := decoded[len(decoded)-1]
	replacement := byte('0')
	if last == replacement {
		replacement = '1'
	}
	mutated := decoded[:len(decoded)-1] + string(replacement)
	forged := base64.RawURLEncoding.EncodeToString([]byte(mutated))

	if _, verifyErr := issuer.Verify(forged, "youtube"); !errors.Is(verifyErr, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", verifyErr)
	}
}

func TestVerifyRejectsMalformedTokens(t *testing.T) {
	t.Parallel()

	issuer := newTestIssuer(t)

	cases := map[string]string{
		"not base64url":     "!!!not-base64!!!",
		"wrong field count": base64.RawURLEncoding.EncodeToString([]byte("only:two")),
		"bad expiry":        base64.RawURLEncoding.EncodeToString([]byte("user:youtube:soon:sig")),
	}
	for name, token := range cases {
		if _, err := issuer.Verify(token, "youtube"); !errors.Is(err, ErrMalformed) {
			t.Fatalf("%s: expected ErrMalformed, got %v", name, err)
		}
	}
}

func TestIssueRejectsDelimiterInSubject(t *testing.T) {
	t.Parallel()

	issuer := newTestIssuer(t)
	if _, err := issuer.Issue("user:42", "youtube"); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
	if _, err := issuer.Issue("user-42", "you:tube"); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestTokenIsOpaque(t *testing.T) {
	t.Parallel()

	issuer := newTestIssuer(t)
	token, err := issuer.Issue("user-42", "youtube")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if strings.Contains(token, "user-42") || strings.Contains(token, ":") {
		t.Fatalf("token leaks raw fields: %q", token)
	}
}

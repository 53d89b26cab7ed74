package statetoken

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrMissingSecret indicates the issuer was built without a signing secret.
	ErrMissingSecret = errors.New("state.missing_secret")
	// ErrMalformed indicates the token could not be decoded or has the wrong shape.
	ErrMalformed = errors.New("state.malformed")
	// ErrPurposeMismatch indicates the token was issued for a different flow.
	ErrPurposeMismatch = errors.New("state.purpose_mismatch")
	// ErrExpired indicates the token outlived its TTL.
	ErrExpired = errors.New("state.expired")
	// ErrInvalidSignature indicates the signature does not match the payload.
	ErrInvalidSignature = errors.New("state.invalid_signature")
)

// DefaultTTL bounds how long an issued token stays verifiable. State tokens
// only need to survive one user-driven consent round trip.
const DefaultTTL = 10 * time.Minute

const fieldCount = 4

// Issuer signs and verifies short-lived, purpose-scoped state tokens. Tokens
// are never persisted; they live entirely inside one OAuth round trip.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer constructs an Issuer with the given server-held secret. A zero or
// negative TTL falls back to DefaultTTL.
func NewIssuer(secret []byte, ttl time.Duration) (*Issuer, error) {
	if len(secret) == 0 {
		return nil, ErrMissingSecret
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{
		secret: secret,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// Issue builds a token binding the subject to the purpose until the TTL
// elapses. Layout before encoding: subject:purpose:expiresUnix:signature.
func (issuer *Issuer) Issue(subject string, purpose string) (string, error) {
	if strings.ContainsRune(subject, ':') || strings.ContainsRune(purpose, ':') {
		return "", fmt.Errorf("%w: subject and purpose must not contain ':'", ErrMalformed)
	}
	expiresUnix := issuer.now().Add(issuer.ttl).Unix()
	payload := fmt.Sprintf("%s:%s:%d", subject, purpose, expiresUnix)
	token := payload + ":" + issuer.sign(payload)
	return base64.RawURLEncoding.EncodeToString([]byte(token)), nil
}

// Verify checks decoding, shape, purpose, expiry, and signature in that order
// and returns the embedded subject. The signature comparison is constant time.
func (issuer *Issuer) Verify(token string, expectedPurpose string) (string, error) {
	raw, decodeErr := base64.RawURLEncoding.DecodeString(token)
	if decodeErr != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, decodeErr)
	}
	fields := strings.Split(string(raw), ":")
	if len(fields) != fieldCount {
		return "", fmt.Errorf("%w: expected %d fields, got %d", ErrMalformed, fieldCount, len(fields))
	}
	subject, purpose, expiryField, signature := fields[0], fields[1], fields[2], fields[3]

	if purpose != expectedPurpose {
		return "", fmt.Errorf("%w: token purpose %q", ErrPurposeMismatch, purpose)
	}

	expiresUnix, parseErr := strconv.ParseInt(expiryField, 10, 64)
	if parseErr != nil {
		return "", fmt.Errorf("%w: bad expiry field", ErrMalformed)
	}
	if issuer.now().After(time.Unix(expiresUnix, 0)) {
		return "", ErrExpired
	}

	payload := fmt.Sprintf("%s:%s:%s", subject, purpose, expiryField)
	if !hmac.Equal([]byte(issuer.sign(payload)), []byte(signature)) {
		return "", ErrInvalidSignature
	}
	return subject, nil
}

func (issuer *Issuer) sign(payload string) string {
	mac := hmac.New(sha256.New, issuer.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

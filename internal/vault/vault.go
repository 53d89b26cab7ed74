package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

var (
	// ErrMissingSecret indicates the vault was constructed without an operator secret.
	ErrMissingSecret = errors.New("vault.missing_secret")
	// ErrDecryptFailed indicates a tampered envelope, a truncated envelope, or the wrong key.
	ErrDecryptFailed = errors.New("vault.decrypt_failed")
)

// DefaultSalt is the fixed application-level salt mixed into key derivation.
const DefaultSalt = "creatorlens-token-vault"

const (
	nonceLength = 16
	tagLength   = 16

	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	keyLength    = 32
)

// Vault performs envelope encryption of opaque secret strings with AES-256-GCM.
// The key is derived once at construction and is safe for concurrent use.
type Vault struct {
	aead            cipher.AEAD
	legacyPlaintext bool
}

// Option adjusts vault construction.
type Option func(*Vault)

// WithLegacyPlaintext controls whether SafeDecrypt passes through values that
// fail to decrypt. It exists solely to migrate rows written before encryption
// was introduced and should stay off for fresh deployments.
func WithLegacyPlaintext(enabled bool) Option {
	return func(v *Vault) {
		v.legacyPlaintext = enabled
	}
}

// New derives the symmetric key from the operator secret and salt using
// argon2id and returns a ready vault. The derivation is deliberately slow and
// runs exactly once per process.
func New(operatorSecret string, salt string, options ...Option) (*Vault, error) {
	if operatorSecret == "" {
		return nil, ErrMissingSecret
	}
	if salt == "" {
		salt = DefaultSalt
	}
	key := argon2.IDKey([]byte(operatorSecret), []byte(salt), argonTime, argonMemory, argonThreads, keyLength)
	return fromKey(key, options...)
}

// NewEphemeral builds a vault keyed by random bytes that are never persisted.
// Secrets written with it are unreadable after restart; callers must log that
// loudly and must not use it in production.
func NewEphemeral(options ...Option) (*Vault, error) {
	key := make([]byte, keyLength)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("vault.ephemeral_key: %w", err)
	}
	return fromKey(key, options...)
}

func fromKey(key []byte, options ...Option) (*Vault, error) {
	block, cipherErr := aes.NewCipher(key)
	if cipherErr != nil {
		return nil, fmt.Errorf("vault.new_cipher: %w", cipherErr)
	}
	aead, gcmErr := cipher.NewGCMWithNonceSize(block, nonceLength)
	if gcmErr != nil {
		return nil, fmt.Errorf("vault.new_gcm: %w", gcmErr)
	}
	vault := &Vault{aead: aead}
	for _, option := range options {
		option(vault)
	}
	return vault, nil
}

// Encrypt seals the plaintext under a fresh random nonce. The envelope layout
// is base64(nonce || tag || ciphertext).
func (v *Vault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, nonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("vault.nonce: %w", err)
	}
	sealed := v.aead.Seal(nil, nonce, []byte(plaintext), nil)
	// Seal appends the tag after the ciphertext; the envelope stores it first.
	ciphertext := sealed[:len(sealed)-tagLength]
	tag := sealed[len(sealed)-tagLength:]

	envelope := make([]byte, 0, nonceLength+tagLength+len(ciphertext))
	envelope = append(envelope, nonce...)
	envelope = append(envelope, tag...)
	envelope = append(envelope, ciphertext...)
	return base64.StdEncoding.EncodeToString(envelope), nil
}

// Decrypt opens an envelope produced by Encrypt. Any corruption, truncation,
// or key mismatch yields ErrDecryptFailed; garbage plaintext is never returned.
func (v *Vault) Decrypt(envelope string) (string, error) {
	raw, decodeErr := base64.StdEncoding.DecodeString(envelope)
	if decodeErr != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptFailed, decodeErr)
	}
	if len(raw) < nonceLength+tagLength {
		return "", fmt.Errorf("%w: envelope too short", ErrDecryptFailed)
	}
	nonce := raw[:nonceLength]
	tag := raw[nonceLength : nonceLength+tagLength]
	ciphertext := raw[nonceLength+tagLength:]

	sealed := make([]byte, 0, len(ciphertext)+tagLength)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, openErr := v.aead.Open(nil, nonce, sealed, nil)
	if openErr != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptFailed, openErr)
	}
	return string(plaintext), nil
}

// SafeDecrypt attempts Decrypt. When the vault runs in legacy-plaintext mode a
// failed decryption returns the input unchanged, which lets rows stored before
// encryption keep working until they are rewritten. Outside legacy mode the
// decryption error propagates.
func (v *Vault) SafeDecrypt(value string) (string, error) {
	plaintext, err := v.Decrypt(value)
	if err == nil {
		return plaintext, nil
	}
	if v.legacyPlaintext {
		return value, nil
	}
	return "", err
}

package vault

import (
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestVault(t *testing.T, options ...Option) *Vault {
	t.Helper()
	v, err := New("test-secret", "", options...)
	require.NoError(t, err)
	return v
}

func TestNewRejectsEmptySecret(t *testing.T) {
	t.Parallel()

	_, err := New("", "")
	require.ErrorIs(t, err, ErrMissingSecret)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	t.Parallel()

	v := newTestVault(t)
	envelope, err := v.Encrypt("token-abc123")
	require.NoError(t, err)
	require.NotEqual(t, "token-abc123", envelope)

	plaintext, err := v.Decrypt(envelope)
	require.NoError(t, err)
	require.Equal(t, "token-abc123", plaintext)
}

func TestEncryptUsesFreshNonce(t *testing.T) {
	t.Parallel()

	v := newTestVault(t)
	first, err := v.Encrypt("same-plaintext")
	require.NoError(t, err)
	second, err := v.Encrypt("same-plaintext")
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	firstPlain, err := v.Decrypt(first)
	require.NoError(t, err)
	secondPlain, err := v.Decrypt(second)
	require.NoError(t, err)
	require.Equal(t, firstPlain, secondPlain)
}

func TestDecryptRejectsTamperedEnvelope(t *testing.T) {
	t.Parallel()

	v := newTestVault(t)
	envelope, err := v.Encrypt("sensitive-value")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(envelope)
	require.NoError(t, err)

	// Flip one byte in every region of the envelope in turn.
	for _, position := range []int{0, nonceLength, nonceLength + tagLength} {
		mutated := make([]byte, len(raw))
		copy(mutated, raw)
		mutated[position] ^= 0x01

		_, decryptErr := v.Decrypt(base64.StdEncoding.EncodeToString(mutated))
		require.ErrorIs(t, decryptErr, ErrDecryptFailed, "byte %d", position)
	}
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	t.Parallel()

	first := newTestVault(t)
	second, err := New("another-secret", "")
	require.NoError(t, err)

	envelope, err := first.Encrypt("sensitive-value")
	require.NoError(t, err)

	_, decryptErr := second.Decrypt(envelope)
	require.ErrorIs(t, decryptErr, ErrDecryptFailed)
}

func TestDecryptRejectsTruncatedEnvelope(t *testing.T) {
	t.Parallel()

	v := newTestVault(t)
	short := base64.StdEncoding.EncodeToString([]byte("tiny"))

	_, err := v.Decrypt(short)
	require.ErrorIs(t, err, ErrDecryptFailed)
}

func TestSafeDecryptLegacyPassthrough(t *testing.T) {
	t.Parallel()

	v := newTestVault(t, WithLegacyPlaintext(true))

	value, err := v.SafeDecrypt("plain-legacy-token")
	require.NoError(t, err)
	require.Equal(t, "plain-legacy-token", value)

	envelope, err := v.Encrypt("fresh-token")
	require.NoError(t, err)
	value, err = v.SafeDecrypt(envelope)
	require.NoError(t, err)
	require.Equal(t, "fresh-token", value)
}

func TestSafeDecryptStrictWithoutLegacyMode(t *testing.T) {
	t.Parallel()

	v := newTestVault(t)

	_, err := v.SafeDecrypt("plain-legacy-token")
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrDecryptFailed))
}

func TestEphemeralVaultRoundTrip(t *testing.T) {
	t.Parallel()

	v, err := NewEphemeral()
	require.NoError(t, err)

	envelope, err := v.Encrypt("dev-only")
	require.NoError(t, err)
	plaintext, err := v.Decrypt(envelope)
	require.NoError(t, err)
	require.Equal(t, "dev-only", plaintext)
}

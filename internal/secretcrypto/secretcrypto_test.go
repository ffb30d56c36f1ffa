package secretcrypto

import (
	"bytes"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rajeevramani/flowplane/internal/errs"
)

func TestNewRejectsEmptyKey(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
	require.True(t, errors.Is(err, errs.Validation))
}

func TestNewRejectsBadKeyLength(t *testing.T) {
	_, err := New([]byte("too-short"))
	require.Error(t, err)
	require.True(t, errors.Is(err, errs.Validation))
}

func TestSealOpenRoundTripRawKey(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 32)
	s, err := New(key)
	require.NoError(t, err)

	plaintext := []byte("super secret value")
	sealed, err := s.Seal(plaintext)
	require.NoError(t, err)
	require.NotEqual(t, plaintext, sealed)

	opened, err := s.Open(sealed)
	require.NoError(t, err)
	require.Equal(t, plaintext, opened)
}

func TestSealOpenRoundTripBase64Key(t *testing.T) {
	raw := bytes.Repeat([]byte{0x7}, 32)
	key := []byte(base64.StdEncoding.EncodeToString(raw))
	s, err := New(key)
	require.NoError(t, err)

	plaintext := []byte("another value")
	sealed, err := s.Seal(plaintext)
	require.NoError(t, err)

	opened, err := s.Open(sealed)
	require.NoError(t, err)
	require.Equal(t, plaintext, opened)
}

func TestSealProducesDistinctCiphertextsForSamePlaintext(t *testing.T) {
	key := bytes.Repeat([]byte{0x1}, 32)
	s, err := New(key)
	require.NoError(t, err)

	a, err := s.Seal([]byte("value"))
	require.NoError(t, err)
	b, err := s.Seal([]byte("value"))
	require.NoError(t, err)
	require.NotEqual(t, a, b, "distinct nonces must make repeated seals of the same plaintext differ")
}

func TestOpenRejectsTruncatedInput(t *testing.T) {
	key := bytes.Repeat([]byte{0x9}, 32)
	s, err := New(key)
	require.NoError(t, err)

	_, err = s.Open([]byte("x"))
	require.Error(t, err)
	require.True(t, errors.Is(err, errs.Build))
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	key := bytes.Repeat([]byte{0x3}, 32)
	s, err := New(key)
	require.NoError(t, err)

	sealed, err := s.Seal([]byte("value"))
	require.NoError(t, err)
	tampered := append([]byte{}, sealed...)
	tampered[len(tampered)-1] ^= 0xFF

	_, err = s.Open(tampered)
	require.Error(t, err)
}

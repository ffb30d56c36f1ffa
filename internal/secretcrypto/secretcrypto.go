// Package secretcrypto encrypts inline secret values at rest with AES-256-GCM.
// No third-party envelope-encryption library appears anywhere in the example
// corpus (DESIGN.md records this as a deliberate stdlib fallback); the
// primitive itself is small enough that reaching for one would just add a
// dependency around two stdlib calls.
package secretcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/rajeevramani/flowplane/internal/errs"
)

// Sealer encrypts and decrypts inline secret values under one 32-byte key.
type Sealer struct {
	gcm cipher.AEAD
}

// New builds a Sealer from a base64 or raw 32-byte key. An empty key is
// rejected: callers must configure FLOWPLANE_SECRET_ENCRYPTION_KEY before
// any inline secret can be created.
func New(key []byte) (*Sealer, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("%w: secret encryption key is not configured", errs.Validation)
	}
	raw := key
	if len(key) != 32 {
		decoded := make([]byte, base64.StdEncoding.DecodedLen(len(key)))
		n, err := base64.StdEncoding.Decode(decoded, key)
		if err != nil || n != 32 {
			return nil, fmt.Errorf("%w: secret encryption key must decode to 32 bytes", errs.Validation)
		}
		raw = decoded[:n]
	}
	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: building AES cipher: %v", errs.Build, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: building GCM mode: %v", errs.Build, err)
	}
	return &Sealer{gcm: gcm}, nil
}

// Seal encrypts plaintext, prefixing a freshly generated nonce. The returned
// bytes are what gets stored in Secret.EncryptedValue.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("%w: generating nonce: %v", errs.Build, err)
	}
	return s.gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Open reverses Seal.
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	nonceSize := s.gcm.NonceSize()
	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("%w: encrypted value shorter than nonce", errs.Build)
	}
	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := s.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decrypting secret: %v", errs.Build, err)
	}
	return plaintext, nil
}

package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	dErrors "custodia/pkg/domain-errors"
)

// ChaChaSealer implements Sealer with ChaCha20-Poly1305 AEAD. The nonce is
// prepended to the ciphertext.
type ChaChaSealer struct{}

func NewChaChaSealer() ChaChaSealer { return ChaChaSealer{} }

func (ChaChaSealer) NewKey() ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "key generation failed")
	}
	return key, nil
}

// DeriveKey derives a sealing key from a secret and context info via HKDF.
// Used for ephemeral sharing-token keys so the stored secret alone is not the
// sealing key.
func (ChaChaSealer) DeriveKey(secret, info []byte) ([]byte, error) {
	r := hkdf.New(sha256.New, secret, nil, info)
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "key derivation failed")
	}
	return key, nil
}

func (ChaChaSealer) Seal(key, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid sealing key")
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "nonce generation failed")
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (ChaChaSealer) Open(key, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid sealing key")
	}
	if len(ciphertext) < aead.NonceSize() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "ciphertext too short")
	}
	nonce, sealed := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "payload authentication failed")
	}
	return plaintext, nil
}

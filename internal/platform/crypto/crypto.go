// Package crypto defines the cryptographic capability collaborator: a 256-bit
// collision-resistant hash, an asymmetric sign/verify primitive, and an
// authenticated symmetric encryption primitive for payload sealing. The core
// depends on these interfaces only, so algorithms are substitutable without
// touching domain logic.
package crypto

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher produces collision-resistant digests for chain links and canonical
// documents.
type Hasher interface {
	// Sum returns the hex-encoded digest of data.
	Sum(data []byte) string
	// Algorithm names the digest for proof objects.
	Algorithm() string
}

// KeyPair carries raw public/private key bytes. Private keys are returned
// once to callers; the core never acts as a permanent key custodian.
type KeyPair struct {
	Public  []byte
	Private []byte
}

// Signer provides asymmetric signing for proofs and challenge/response
// ownership checks.
type Signer interface {
	Generate() (KeyPair, error)
	Sign(privateKey, message []byte) ([]byte, error)
	Verify(publicKey, message, signature []byte) bool
	Algorithm() string
}

// Sealer provides authenticated symmetric encryption for optional payload
// confidentiality. Sealed payloads are hashed as ciphertext, so chain
// verification never requires the key.
type Sealer interface {
	NewKey() ([]byte, error)
	DeriveKey(secret, info []byte) ([]byte, error)
	Seal(key, plaintext []byte) ([]byte, error)
	Open(key, ciphertext []byte) ([]byte, error)
}

// SHA256Hasher is the default Hasher.
type SHA256Hasher struct{}

func NewSHA256Hasher() SHA256Hasher { return SHA256Hasher{} }

func (SHA256Hasher) Sum(data []byte) string {
	digest := sha256.Sum256(data)
	return hex.EncodeToString(digest[:])
}

func (SHA256Hasher) Algorithm() string { return "SHA-256" }

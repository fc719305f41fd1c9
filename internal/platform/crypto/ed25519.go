package crypto

import (
	"crypto/ed25519"
	"crypto/rand"

	dErrors "custodia/pkg/domain-errors"
)

// Ed25519Signer implements Signer with Ed25519 keys.
type Ed25519Signer struct{}

func NewEd25519Signer() Ed25519Signer { return Ed25519Signer{} }

func (Ed25519Signer) Generate() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, dErrors.Wrap(err, dErrors.CodeInternal, "key generation failed")
	}
	return KeyPair{Public: pub, Private: priv}, nil
}

func (Ed25519Signer) Sign(privateKey, message []byte) ([]byte, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "invalid private key length")
	}
	return ed25519.Sign(ed25519.PrivateKey(privateKey), message), nil
}

func (Ed25519Signer) Verify(publicKey, message, signature []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), message, signature)
}

func (Ed25519Signer) Algorithm() string { return "Ed25519" }

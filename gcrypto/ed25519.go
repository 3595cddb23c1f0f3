package gcrypto

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
)

const ed25519TypeName = "ed25519"

// Ed25519PubKey is the ed25519 implementation of [PubKey].
type Ed25519PubKey ed25519.PublicKey

// NewEd25519PubKey decodes b as an ed25519 public key.
// It is the decoder registered by [RegisterEd25519].
func NewEd25519PubKey(b []byte) (PubKey, error) {
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("expected %d ed25519 public key bytes, got %d", ed25519.PublicKeySize, len(b))
	}

	return Ed25519PubKey(b), nil
}

// RegisterEd25519 registers the ed25519 key type with reg.
func RegisterEd25519(reg *Registry) {
	reg.Register(ed25519TypeName, Ed25519PubKey{}, NewEd25519PubKey)
}

// Address returns the first 20 bytes of the sha256 hash of the key.
func (k Ed25519PubKey) Address() []byte {
	h := sha256.Sum256(k)
	return h[:20]
}

func (k Ed25519PubKey) PubKeyBytes() []byte {
	return []byte(k)
}

func (k Ed25519PubKey) Equal(other PubKey) bool {
	o, ok := other.(Ed25519PubKey)
	if !ok {
		return false
	}

	return ed25519.PublicKey(k).Equal(ed25519.PublicKey(o))
}

func (k Ed25519PubKey) Verify(msg, sig []byte) bool {
	if len(k) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(k), msg, sig)
}

func (Ed25519PubKey) TypeName() string {
	return ed25519TypeName
}

// Ed25519Signer is the in-process ed25519 implementation of [Signer].
type Ed25519Signer struct {
	priv ed25519.PrivateKey
	pub  Ed25519PubKey
}

// NewEd25519Signer returns a signer for the given private key.
func NewEd25519Signer(priv ed25519.PrivateKey) Ed25519Signer {
	return Ed25519Signer{
		priv: priv,
		pub:  Ed25519PubKey(priv.Public().(ed25519.PublicKey)),
	}
}

func (s Ed25519Signer) PubKey() PubKey {
	return s.pub
}

func (s Ed25519Signer) Sign(_ context.Context, input []byte) ([]byte, error) {
	return ed25519.Sign(s.priv, input), nil
}

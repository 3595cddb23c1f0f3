package gblsminsig

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/chaoschain/chaoscore/gcrypto"
	blst "github.com/supranational/blst/bindings/go"
)

// TypeName is the registry name for keys of this package.
// It fits the 8-byte prefix of [gcrypto.Registry].
const TypeName = "bls12381"

// DomainSeparationTag is the ciphersuite ID of the basic BLS scheme
// with signatures on G1, following draft-irtf-cfrg-bls-signature-05 section 4.1
// and the hash-to-curve suite naming of RFC 9380 section 8.8.1.
var DomainSeparationTag = []byte("BLS_SIG_BLS12381G1_XMD:SHA-256_SSWU_RO_NUL_")

// KeyGenSalt salts key derivation from initial key material.
// Changing it changes every key derived from the same material.
var KeyGenSalt = []byte("CHAOSCORE-BLS-KEYGEN-SALT-")

// Register adds the BLS key type to reg.
func Register(reg *gcrypto.Registry) {
	reg.Register(TypeName, PubKey{}, NewPubKey)
}

// PubKey is a validated point on G2.
type PubKey blst.P2Affine

var _ gcrypto.PubKey = PubKey{}

// NewPubKey decodes a compressed G2 point.
// The point must be in the correct subgroup and not the identity.
func NewPubKey(b []byte) (gcrypto.PubKey, error) {
	if len(b) != blst.BLST_P2_COMPRESS_BYTES {
		return nil, fmt.Errorf(
			"bls public key must be %d compressed bytes, got %d",
			blst.BLST_P2_COMPRESS_BYTES, len(b),
		)
	}

	p := new(blst.P2Affine).Uncompress(b)
	if p == nil {
		return nil, errors.New("bls public key is not a valid compressed point")
	}
	if !p.KeyValidate() {
		return nil, errors.New("bls public key failed subgroup validation")
	}
	return PubKey(*p), nil
}

func (k PubKey) point() *blst.P2Affine {
	p := blst.P2Affine(k)
	return &p
}

// Address returns the first 20 bytes of the sha256 hash of the compressed key.
func (k PubKey) Address() []byte {
	h := sha256.Sum256(k.PubKeyBytes())
	return h[:20]
}

func (k PubKey) PubKeyBytes() []byte {
	return k.point().Compress()
}

func (k PubKey) Equal(other gcrypto.PubKey) bool {
	o, ok := other.(PubKey)
	return ok && k.point().Equals(o.point())
}

// Verify reports whether sig, a compressed G1 point, signs msg under k.
func (k PubKey) Verify(msg, sig []byte) bool {
	s := decompressSignature(sig)
	if s == nil {
		return false
	}
	return s.Verify(false, k.point(), false, blst.Message(msg), DomainSeparationTag)
}

func (k PubKey) TypeName() string {
	return TypeName
}

// decompressSignature returns nil unless sig is a valid compressed G1 point
// in the signature subgroup.
func decompressSignature(sig []byte) *blst.P1Affine {
	s := new(blst.P1Affine).Uncompress(sig)
	if s == nil || !s.SigValidate(false) {
		return nil
	}
	return s
}

// Signer is a BLS secret scalar and its public point.
type Signer struct {
	secret blst.SecretKey
	pub    blst.P2Affine
}

var _ gcrypto.Signer = Signer{}

// NewSigner derives a signer from ikm,
// which must be at least 32 bytes of secret randomness.
func NewSigner(ikm []byte) (Signer, error) {
	if len(ikm) < blst.BLST_SCALAR_BYTES {
		return Signer{}, fmt.Errorf(
			"initial key material must be at least %d bytes, got %d",
			blst.BLST_SCALAR_BYTES, len(ikm),
		)
	}

	sk := blst.KeyGenV5(ikm, KeyGenSalt)
	return Signer{
		secret: *sk,
		pub:    *new(blst.P2Affine).From(sk),
	}, nil
}

func (s Signer) PubKey() gcrypto.PubKey {
	return PubKey(s.pub)
}

// Sign returns the compressed G1 signature of input under [DomainSeparationTag].
func (s Signer) Sign(_ context.Context, input []byte) ([]byte, error) {
	sig := new(blst.P1Affine).Sign(&s.secret, input, DomainSeparationTag, true)
	if sig == nil {
		return nil, errors.New("bls signing failed")
	}
	return sig.Compress(), nil
}

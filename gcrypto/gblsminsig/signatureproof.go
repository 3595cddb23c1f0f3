package gblsminsig

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"
	"github.com/chaoschain/chaoscore/gcrypto"
)

// SignatureProof is the [gcrypto.CommonMessageSignatureProof] for BLS keys.
//
// While collecting votes, each signature is held individually,
// so a validator's contribution can be checked and gossiped on its own.
// Aggregation happens once, in [SignatureProofScheme.Finalize].
type SignatureProof struct {
	inner gcrypto.SimpleCommonMessageSignatureProof
}

// NewSignatureProof returns an empty proof over msg for the given keys.
func NewSignatureProof(msg []byte, keys []gcrypto.PubKey, pubKeyHash string) (SignatureProof, error) {
	for i, k := range keys {
		if _, ok := k.(PubKey); !ok {
			return SignatureProof{}, fmt.Errorf("key %d: expected gblsminsig.PubKey, got %T", i, k)
		}
	}

	return SignatureProof{
		inner: gcrypto.NewSimpleCommonMessageSignatureProof(msg, keys, pubKeyHash),
	}, nil
}

func (p SignatureProof) Message() []byte {
	return p.inner.Message()
}

func (p SignatureProof) PubKeyHash() []byte {
	return p.inner.PubKeyHash()
}

func (p SignatureProof) AddSignature(sig []byte, key gcrypto.PubKey) error {
	if _, ok := key.(PubKey); !ok {
		return fmt.Errorf("expected type gblsminsig.PubKey, got %T: %w", key, gcrypto.ErrUnknownKey)
	}

	return p.inner.AddSignature(sig, key)
}

func (p SignatureProof) MergeSparse(s gcrypto.SparseSignatureProof) gcrypto.SignatureProofMergeResult {
	return p.inner.MergeSparse(s)
}

func (p SignatureProof) HasSparseKeyID(keyID []byte) (has, valid bool) {
	return p.inner.HasSparseKeyID(keyID)
}

func (p SignatureProof) Clone() gcrypto.CommonMessageSignatureProof {
	return SignatureProof{
		inner: p.inner.Clone().(gcrypto.SimpleCommonMessageSignatureProof),
	}
}

func (p SignatureProof) SignatureBitSet(dst *bitset.BitSet) {
	p.inner.SignatureBitSet(dst)
}

func (p SignatureProof) AsSparse() gcrypto.SparseSignatureProof {
	return p.inner.AsSparse()
}

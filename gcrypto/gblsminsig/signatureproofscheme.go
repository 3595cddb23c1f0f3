package gblsminsig

import (
	"bytes"
	"encoding/binary"

	"github.com/bits-and-blooms/bitset"
	"github.com/chaoschain/chaoscore/gcrypto"
	blst "github.com/supranational/blst/bindings/go"
)

// SignatureProofScheme satisfies [gcrypto.CommonMessageSignatureProofScheme].
//
// Unfinalized proofs use the same 2-byte key IDs as
// [gcrypto.SimpleCommonMessageSignatureProofScheme].
// A finalized proof holds exactly one aggregated signature,
// whose key ID is the signer bit set as little-endian 64-bit words.
type SignatureProofScheme struct{}

func (SignatureProofScheme) New(msg []byte, keys []gcrypto.PubKey, pubKeyHash string) (
	gcrypto.CommonMessageSignatureProof, error,
) {
	return NewSignatureProof(msg, keys, pubKeyHash)
}

func (SignatureProofScheme) KeyIDChecker(keys []gcrypto.PubKey) gcrypto.KeyIDChecker {
	return gcrypto.SimpleCommonMessageSignatureProofScheme{}.KeyIDChecker(keys)
}

func (SignatureProofScheme) Finalize(p gcrypto.CommonMessageSignatureProof) gcrypto.FinalizedCommonMessageSignatureProof {
	sp := p.(SignatureProof)

	out := gcrypto.FinalizedCommonMessageSignatureProof{
		PubKeyHash: string(sp.PubKeyHash()),
		Message:    bytes.Clone(sp.Message()),
	}

	sparse := sp.AsSparse().Signatures
	if len(sparse) == 0 {
		return out
	}

	var signers bitset.BitSet
	sp.SignatureBitSet(&signers)

	agg := new(blst.P1)
	for _, ss := range sparse {
		// Every stored signature was uncompressed and verified on the way in.
		p1a := new(blst.P1Affine).Uncompress(ss.Sig)
		agg = agg.Add(p1a)
	}

	out.Signatures = []gcrypto.SparseSignature{{
		KeyID: encodeSigners(&signers),
		Sig:   agg.ToAffine().Compress(),
	}}
	return out
}

func (SignatureProofScheme) ValidateFinalizedProof(
	proof gcrypto.FinalizedCommonMessageSignatureProof, keys []gcrypto.PubKey,
) (*bitset.BitSet, bool) {
	if len(proof.Signatures) == 0 {
		return bitset.New(uint(len(keys))), true
	}
	if len(proof.Signatures) != 1 {
		return nil, false
	}

	ss := proof.Signatures[0]
	signers, ok := decodeSigners(ss.KeyID, len(keys))
	if !ok || signers.None() {
		return nil, false
	}

	aggKey := new(blst.P2)
	for i, ok := signers.NextSet(0); ok; i, ok = signers.NextSet(i + 1) {
		pk, isBLS := keys[i].(PubKey)
		if !isBLS {
			return nil, false
		}
		p2a := blst.P2Affine(pk)
		aggKey = aggKey.Add(&p2a)
	}

	if !PubKey(*aggKey.ToAffine()).Verify(proof.Message, ss.Sig) {
		return nil, false
	}

	return signers, true
}

func encodeSigners(bs *bitset.BitSet) []byte {
	words := bs.Bytes()
	out := make([]byte, 8*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint64(out[8*i:], w)
	}
	return out
}

func decodeSigners(b []byte, nKeys int) (*bitset.BitSet, bool) {
	if len(b)%8 != 0 {
		return nil, false
	}

	words := make([]uint64, len(b)/8)
	for i := range words {
		words[i] = binary.LittleEndian.Uint64(b[8*i:])
	}

	bs := bitset.From(words)

	// Any bit past the last key is malformed.
	if _, ok := bs.NextSet(uint(nKeys)); ok {
		return nil, false
	}
	return bs, true
}

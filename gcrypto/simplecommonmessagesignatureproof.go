package gcrypto

import (
	"bytes"
	"encoding/binary"
	"maps"
	"slices"

	"github.com/bits-and-blooms/bitset"
)

// SimpleCommonMessageSignatureProofScheme satisfies [CommonMessageSignatureProofScheme]
// for non-aggregating signatures such as ed25519.
// Key IDs are the big-endian uint16 index of the key in the candidate set.
type SimpleCommonMessageSignatureProofScheme struct{}

func (SimpleCommonMessageSignatureProofScheme) New(
	msg []byte, candidateKeys []PubKey, pubKeyHash string,
) (CommonMessageSignatureProof, error) {
	return NewSimpleCommonMessageSignatureProof(msg, candidateKeys, pubKeyHash), nil
}

func (SimpleCommonMessageSignatureProofScheme) KeyIDChecker(keys []PubKey) KeyIDChecker {
	return beUint16KeyIDChecker{nKeys: len(keys)}
}

func (SimpleCommonMessageSignatureProofScheme) Finalize(p CommonMessageSignatureProof) FinalizedCommonMessageSignatureProof {
	sp := p.(SimpleCommonMessageSignatureProof)
	return FinalizedCommonMessageSignatureProof{
		PubKeyHash: sp.keyHash,
		Message:    bytes.Clone(sp.msg),
		Signatures: sp.AsSparse().Signatures,
	}
}

func (SimpleCommonMessageSignatureProofScheme) ValidateFinalizedProof(
	proof FinalizedCommonMessageSignatureProof, keys []PubKey,
) (*bitset.BitSet, bool) {
	tmp := NewSimpleCommonMessageSignatureProof(proof.Message, keys, proof.PubKeyHash)

	res := tmp.MergeSparse(SparseSignatureProof{
		PubKeyHash: proof.PubKeyHash,
		Signatures: proof.Signatures,
	})
	if !res.AllValidSignatures {
		return nil, false
	}

	// A signature repeated under the same key ID is not an error in MergeSparse,
	// but it has no place in a finalized proof.
	if int(tmp.bitset.Count()) != len(proof.Signatures) {
		return nil, false
	}

	return tmp.bitset.Clone(), true
}

// SimpleCommonMessageSignatureProof tracks one individual signature per candidate key.
type SimpleCommonMessageSignatureProof struct {
	msg []byte

	// Indexed in parallel with keys; nil where no signature is present.
	sigs [][]byte

	keys []PubKey

	// string(pub key bytes) -> index in keys
	keyIdxs map[string]int

	keyHash string

	bitset *bitset.BitSet
}

func NewSimpleCommonMessageSignatureProof(msg []byte, candidateKeys []PubKey, pubKeyHash string) SimpleCommonMessageSignatureProof {
	keyIdxs := make(map[string]int, len(candidateKeys))
	for i, k := range candidateKeys {
		keyIdxs[string(k.PubKeyBytes())] = i
	}

	return SimpleCommonMessageSignatureProof{
		msg:     msg,
		sigs:    make([][]byte, len(candidateKeys)),
		keys:    candidateKeys,
		keyIdxs: keyIdxs,
		keyHash: pubKeyHash,
		bitset:  bitset.New(uint(len(candidateKeys))),
	}
}

func (p SimpleCommonMessageSignatureProof) Message() []byte {
	return p.msg
}

func (p SimpleCommonMessageSignatureProof) PubKeyHash() []byte {
	return []byte(p.keyHash)
}

func (p SimpleCommonMessageSignatureProof) AddSignature(sig []byte, key PubKey) error {
	idx, ok := p.keyIdxs[string(key.PubKeyBytes())]
	if !ok {
		return ErrUnknownKey
	}

	return p.addAt(idx, sig)
}

func (p SimpleCommonMessageSignatureProof) addAt(idx int, sig []byte) error {
	if p.sigs[idx] != nil && bytes.Equal(p.sigs[idx], sig) {
		return nil
	}

	if !p.keys[idx].Verify(p.msg, sig) {
		return ErrInvalidSignature
	}

	// Signatures for a fixed message are not unique for every scheme,
	// so a second valid signature for the same key simply replaces the first.
	p.sigs[idx] = bytes.Clone(sig)
	p.bitset.Set(uint(idx))
	return nil
}

func (p SimpleCommonMessageSignatureProof) MergeSparse(s SparseSignatureProof) SignatureProofMergeResult {
	if p.keyHash != s.PubKeyHash {
		return SignatureProofMergeResult{}
	}

	res := SignatureProofMergeResult{
		AllValidSignatures: true,
	}

	before := p.bitset.Clone()
	added := bitset.New(uint(len(p.keys)))

	for _, ss := range s.Signatures {
		if len(ss.KeyID) != 2 {
			res.AllValidSignatures = false
			continue
		}

		n := int(binary.BigEndian.Uint16(ss.KeyID))
		if n >= len(p.keys) {
			res.AllValidSignatures = false
			continue
		}

		if err := p.addAt(n, ss.Sig); err != nil {
			res.AllValidSignatures = false
			continue
		}

		added.Set(uint(n))
	}

	res.IncreasedSignatures = p.bitset.Count() > before.Count()
	res.WasStrictSuperset = added.IsStrictSuperSet(before)
	return res
}

func (p SimpleCommonMessageSignatureProof) HasSparseKeyID(keyID []byte) (has, valid bool) {
	if len(keyID) != 2 {
		return false, false
	}

	idx := binary.BigEndian.Uint16(keyID)
	if int(idx) >= len(p.keys) {
		return false, false
	}

	return p.bitset.Test(uint(idx)), true
}

func (p SimpleCommonMessageSignatureProof) Clone() CommonMessageSignatureProof {
	sigs := make([][]byte, len(p.sigs))
	for i, s := range p.sigs {
		sigs[i] = bytes.Clone(s)
	}

	return SimpleCommonMessageSignatureProof{
		msg:     bytes.Clone(p.msg),
		sigs:    sigs,
		keys:    p.keys,
		keyIdxs: maps.Clone(p.keyIdxs),
		keyHash: p.keyHash,
		bitset:  p.bitset.Clone(),
	}
}

func (p SimpleCommonMessageSignatureProof) SignatureBitSet(dst *bitset.BitSet) {
	p.bitset.CopyFull(dst)
}

// AsSparse returns the signatures in ascending key ID order.
func (p SimpleCommonMessageSignatureProof) AsSparse() SparseSignatureProof {
	out := make([]SparseSignature, 0, p.bitset.Count())
	for i, ok := p.bitset.NextSet(0); ok; i, ok = p.bitset.NextSet(i + 1) {
		var id [2]byte
		binary.BigEndian.PutUint16(id[:], uint16(i))

		out = append(out, SparseSignature{
			KeyID: id[:],
			Sig:   slices.Clone(p.sigs[i]),
		})
	}

	return SparseSignatureProof{
		PubKeyHash: p.keyHash,
		Signatures: out,
	}
}

type beUint16KeyIDChecker struct {
	nKeys int
}

func (c beUint16KeyIDChecker) IsValid(keyID []byte) bool {
	if len(keyID) != 2 {
		return false
	}

	return int(binary.BigEndian.Uint16(keyID)) < c.nKeys
}

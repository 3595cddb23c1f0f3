package gcrypto

import (
	"github.com/bits-and-blooms/bitset"
)

// CommonMessageSignatureProof collects signatures from a fixed, ordered set of candidate keys,
// all over one common message.
// For consensus, the message is a vote's sign bytes
// and the candidate keys are the validator set effective at the vote's height.
type CommonMessageSignatureProof interface {
	// Message is the value every signature in the proof covers.
	Message() []byte

	// PubKeyHash identifies the candidate key set,
	// so two proofs can cheaply confirm they refer to the same validators.
	PubKeyHash() []byte

	// AddSignature verifies sig against key and adds it to the proof.
	// It returns ErrUnknownKey if key is not a candidate,
	// or ErrInvalidSignature if sig does not verify.
	AddSignature(sig []byte, key PubKey) error

	// MergeSparse verifies and adds the signatures of an untrusted sparse proof.
	MergeSparse(SparseSignatureProof) SignatureProofMergeResult

	// HasSparseKeyID reports whether the proof already holds a signature for keyID.
	// valid is false if keyID does not map to a candidate key.
	HasSparseKeyID(keyID []byte) (has, valid bool)

	Clone() CommonMessageSignatureProof

	// SignatureBitSet copies the set of candidate indices
	// that have a signature in the proof into dst.
	SignatureBitSet(dst *bitset.BitSet)

	// AsSparse returns the wire representation of the proof.
	AsSparse() SparseSignatureProof
}

// SignatureProofMergeResult describes the outcome of a merge into a proof.
type SignatureProofMergeResult struct {
	// AllValidSignatures is false if any incoming signature was rejected.
	AllValidSignatures bool

	// IncreasedSignatures is true if the merge added at least one new signer.
	IncreasedSignatures bool

	// WasStrictSuperset is true if the incoming signers
	// were a strict superset of the signers before the merge.
	WasStrictSuperset bool
}

// SparseSignatureProof is the minimal wire form of a proof.
type SparseSignatureProof struct {
	PubKeyHash string

	Signatures []SparseSignature
}

// SparseSignature pairs a signature with an implementation-specific key ID.
// For aggregating schemes a single SparseSignature may stand for many keys.
type SparseSignature struct {
	KeyID []byte
	Sig   []byte
}

// CommonMessageSignatureProofScheme creates and finalizes
// [CommonMessageSignatureProof] values of one concrete type.
type CommonMessageSignatureProofScheme interface {
	New(msg []byte, candidateKeys []PubKey, pubKeyHash string) (CommonMessageSignatureProof, error)

	// KeyIDChecker returns a checker for sparse key IDs against keys.
	KeyIDChecker(keys []PubKey) KeyIDChecker

	// Finalize converts a collecting proof into its compact, immutable form.
	// Finalize panics if p was created by a different scheme.
	Finalize(p CommonMessageSignatureProof) FinalizedCommonMessageSignatureProof

	// ValidateFinalizedProof checks every signature in proof against keys
	// and returns the set of candidate indices that signed.
	// ok is false if any signature is invalid or the key hash does not match.
	ValidateFinalizedProof(proof FinalizedCommonMessageSignatureProof, keys []PubKey) (signers *bitset.BitSet, ok bool)
}

// KeyIDChecker reports whether a sparse key ID is well formed for a known key set.
// It does not inspect signatures.
type KeyIDChecker interface {
	IsValid(keyID []byte) bool
}

// FinalizedCommonMessageSignatureProof is the compact proof carried with a committed block.
// Keys are not included; the verifier supplies the validator set it trusts.
type FinalizedCommonMessageSignatureProof struct {
	PubKeyHash string

	// The signed content, not the block hash.
	Message []byte

	Signatures []SparseSignature
}

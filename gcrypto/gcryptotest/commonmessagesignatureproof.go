package gcryptotest

import (
	"bytes"

	"github.com/chaoschain/chaoscore/gcrypto"
)

// CloneFinalizedCommonMessageSignatureProof returns a deep copy of in,
// for tests that tamper with a proof and expect validation to fail.
func CloneFinalizedCommonMessageSignatureProof(
	in gcrypto.FinalizedCommonMessageSignatureProof,
) gcrypto.FinalizedCommonMessageSignatureProof {
	out := gcrypto.FinalizedCommonMessageSignatureProof{
		PubKeyHash: in.PubKeyHash,
		Message:    bytes.Clone(in.Message),
		Signatures: make([]gcrypto.SparseSignature, len(in.Signatures)),
	}

	for i, ss := range in.Signatures {
		out.Signatures[i] = gcrypto.SparseSignature{
			KeyID: bytes.Clone(ss.KeyID),
			Sig:   bytes.Clone(ss.Sig),
		}
	}

	return out
}

package gcryptotest

import (
	"crypto/ed25519"
	"encoding/binary"

	"github.com/chaoschain/chaoscore/gcrypto"
)

// DeterministicEd25519Signers returns n ed25519 signers
// whose seeds are the big-endian index padded to the seed size.
// The same index always produces the same key across processes.
func DeterministicEd25519Signers(n int) []gcrypto.Ed25519Signer {
	out := make([]gcrypto.Ed25519Signer, n)
	for i := range out {
		var seed [ed25519.SeedSize]byte
		binary.BigEndian.PutUint64(seed[ed25519.SeedSize-8:], uint64(i))
		out[i] = gcrypto.NewEd25519Signer(ed25519.NewKeyFromSeed(seed[:]))
	}
	return out
}

// DeterministicEd25519PubKeys returns the public keys of [DeterministicEd25519Signers].
func DeterministicEd25519PubKeys(n int) []gcrypto.PubKey {
	out := make([]gcrypto.PubKey, n)
	for i, s := range DeterministicEd25519Signers(n) {
		out[i] = s.PubKey()
	}
	return out
}

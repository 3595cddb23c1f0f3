package gmerkle

import (
	"bytes"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

const (
	leafPrefix  = 0x00
	innerPrefix = 0x01
)

// HashSize is the size of every root and proof element.
const HashSize = blake2b.Size256

// ErrInvalidProof is returned by [Verify] when a proof does not lead to the root.
var ErrInvalidProof = errors.New("invalid merkle proof")

// emptyRoot is the root of zero leaves.
var emptyRoot = func() []byte {
	h := blake2b.Sum256(nil)
	return h[:]
}()

// Root returns the Merkle root of leaves.
// The root of zero leaves is the hash of the empty input.
func Root(leaves [][]byte) []byte {
	if len(leaves) == 0 {
		return bytes.Clone(emptyRoot)
	}

	layer := hashLeaves(leaves)
	for len(layer) > 1 {
		layer = nextLayer(layer)
	}
	return layer[0]
}

// Proof returns the sibling hashes needed to prove that leaves[idx] is under [Root] of leaves.
// A nil element marks a layer where the node was promoted without a sibling.
func Proof(leaves [][]byte, idx int) ([][]byte, error) {
	if idx < 0 || idx >= len(leaves) {
		return nil, fmt.Errorf("leaf index %d out of range [0, %d)", idx, len(leaves))
	}

	var proof [][]byte
	layer := hashLeaves(leaves)
	for len(layer) > 1 {
		sib := idx ^ 1
		if sib < len(layer) {
			proof = append(proof, layer[sib])
		} else {
			proof = append(proof, nil)
		}

		layer = nextLayer(layer)
		idx /= 2
	}

	return proof, nil
}

// Verify reports an error unless proof shows that leaf is at idx under root.
func Verify(root, leaf []byte, idx int, proof [][]byte) error {
	if idx < 0 {
		return ErrInvalidProof
	}

	cur := hashLeaf(leaf)
	for _, sib := range proof {
		switch {
		case sib == nil:
			// Promoted.
		case idx%2 == 0:
			cur = hashInner(cur, sib)
		default:
			cur = hashInner(sib, cur)
		}
		idx /= 2
	}

	if idx != 0 || !bytes.Equal(cur, root) {
		return ErrInvalidProof
	}
	return nil
}

func hashLeaves(leaves [][]byte) [][]byte {
	out := make([][]byte, len(leaves))
	for i, l := range leaves {
		out[i] = hashLeaf(l)
	}
	return out
}

func nextLayer(layer [][]byte) [][]byte {
	out := make([][]byte, 0, (len(layer)+1)/2)
	for i := 0; i < len(layer); i += 2 {
		if i+1 == len(layer) {
			out = append(out, layer[i])
			break
		}
		out = append(out, hashInner(layer[i], layer[i+1]))
	}
	return out
}

func hashLeaf(b []byte) []byte {
	h, _ := blake2b.New256(nil)
	h.Write([]byte{leafPrefix})
	h.Write(b)
	return h.Sum(nil)
}

func hashInner(l, r []byte) []byte {
	h, _ := blake2b.New256(nil)
	h.Write([]byte{innerPrefix})
	h.Write(l)
	h.Write(r)
	return h.Sum(nil)
}

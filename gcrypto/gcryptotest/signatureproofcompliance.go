package gcryptotest

import (
	"context"
	"testing"

	"github.com/bits-and-blooms/bitset"
	"github.com/chaoschain/chaoscore/gcrypto"
	"github.com/stretchr/testify/require"
)

// TestCommonMessageSignatureProofCompliance runs the behavior every
// [gcrypto.CommonMessageSignatureProofScheme] must satisfy.
// signers must contain at least four signers whose keys the scheme accepts.
func TestCommonMessageSignatureProofCompliance[S gcrypto.Signer](
	t *testing.T,
	s gcrypto.CommonMessageSignatureProofScheme,
	signers []S,
) {
	require.GreaterOrEqual(t, len(signers), 4, "compliance test needs at least four signers")

	ctx := context.Background()

	keys := make([]gcrypto.PubKey, 4)
	for i := range keys {
		keys[i] = signers[i].PubKey()
	}

	hello := []byte("hello")
	helloSigs := make([][]byte, 4)
	for i := range helloSigs {
		sig, err := signers[i].Sign(ctx, hello)
		require.NoError(t, err)
		helloSigs[i] = sig
	}

	t.Run("Message", func(t *testing.T) {
		t.Parallel()

		p, err := s.New(hello, keys, "myhash")
		require.NoError(t, err)

		require.Equal(t, hello, p.Message())
		require.Equal(t, []byte("myhash"), p.PubKeyHash())
	})

	t.Run("AddSignature", func(t *testing.T) {
		t.Run("accepts valid signature", func(t *testing.T) {
			t.Parallel()

			p, err := s.New(hello, keys, "myhash")
			require.NoError(t, err)

			require.NoError(t, p.AddSignature(helloSigs[0], keys[0]))

			var bs bitset.BitSet
			p.SignatureBitSet(&bs)
			require.Equal(t, uint(1), bs.Count())
			require.True(t, bs.Test(0))
		})

		t.Run("rejects signature over different message", func(t *testing.T) {
			t.Parallel()

			p, err := s.New(hello, keys, "myhash")
			require.NoError(t, err)

			other, err := signers[0].Sign(ctx, []byte("something else"))
			require.NoError(t, err)

			require.Error(t, p.AddSignature(other, keys[0]))

			var bs bitset.BitSet
			p.SignatureBitSet(&bs)
			require.True(t, bs.None())
		})

		t.Run("rejects another key's signature", func(t *testing.T) {
			t.Parallel()

			p, err := s.New(hello, keys, "myhash")
			require.NoError(t, err)

			require.Error(t, p.AddSignature(helloSigs[1], keys[0]))
		})

		t.Run("rejects unknown key", func(t *testing.T) {
			t.Parallel()

			p, err := s.New(hello, keys[:2], "myhash")
			require.NoError(t, err)

			require.Error(t, p.AddSignature(helloSigs[2], keys[2]))
		})
	})

	t.Run("sparse round trip", func(t *testing.T) {
		t.Parallel()

		p, err := s.New(hello, keys, "myhash")
		require.NoError(t, err)

		require.NoError(t, p.AddSignature(helloSigs[1], keys[1]))
		require.NoError(t, p.AddSignature(helloSigs[3], keys[3]))

		sparse := p.AsSparse()
		require.Equal(t, "myhash", sparse.PubKeyHash)

		q, err := s.New(hello, keys, "myhash")
		require.NoError(t, err)

		res := q.MergeSparse(sparse)
		require.True(t, res.AllValidSignatures)
		require.True(t, res.IncreasedSignatures)
		require.True(t, res.WasStrictSuperset)

		var bs bitset.BitSet
		q.SignatureBitSet(&bs)
		require.Equal(t, uint(2), bs.Count())
		require.True(t, bs.Test(1))
		require.True(t, bs.Test(3))

		// Merging the same content again adds nothing.
		res = q.MergeSparse(sparse)
		require.True(t, res.AllValidSignatures)
		require.False(t, res.IncreasedSignatures)

		for _, ss := range sparse.Signatures {
			has, valid := q.HasSparseKeyID(ss.KeyID)
			require.True(t, valid)
			require.True(t, has)
		}
	})

	t.Run("MergeSparse rejects mismatched key hash", func(t *testing.T) {
		t.Parallel()

		p, err := s.New(hello, keys, "myhash")
		require.NoError(t, err)
		require.NoError(t, p.AddSignature(helloSigs[0], keys[0]))

		q, err := s.New(hello, keys, "otherhash")
		require.NoError(t, err)

		res := q.MergeSparse(p.AsSparse())
		require.False(t, res.AllValidSignatures)
		require.False(t, res.IncreasedSignatures)
	})

	t.Run("Clone is independent", func(t *testing.T) {
		t.Parallel()

		p, err := s.New(hello, keys, "myhash")
		require.NoError(t, err)
		require.NoError(t, p.AddSignature(helloSigs[0], keys[0]))

		c := p.Clone()
		require.NoError(t, c.AddSignature(helloSigs[1], keys[1]))

		var pbs, cbs bitset.BitSet
		p.SignatureBitSet(&pbs)
		c.SignatureBitSet(&cbs)
		require.Equal(t, uint(1), pbs.Count())
		require.Equal(t, uint(2), cbs.Count())
	})

	t.Run("finalized proof", func(t *testing.T) {
		t.Run("validates", func(t *testing.T) {
			t.Parallel()

			p, err := s.New(hello, keys, "myhash")
			require.NoError(t, err)
			for i := range 3 {
				require.NoError(t, p.AddSignature(helloSigs[i], keys[i]))
			}

			fin := s.Finalize(p)
			require.Equal(t, hello, fin.Message)

			signers, ok := s.ValidateFinalizedProof(fin, keys)
			require.True(t, ok)
			require.Equal(t, uint(3), signers.Count())
			require.False(t, signers.Test(3))
		})

		t.Run("rejects tampered signature", func(t *testing.T) {
			t.Parallel()

			p, err := s.New(hello, keys, "myhash")
			require.NoError(t, err)
			for i := range 3 {
				require.NoError(t, p.AddSignature(helloSigs[i], keys[i]))
			}

			fin := CloneFinalizedCommonMessageSignatureProof(s.Finalize(p))
			last := fin.Signatures[len(fin.Signatures)-1].Sig
			last[len(last)-1] ^= 1

			_, ok := s.ValidateFinalizedProof(fin, keys)
			require.False(t, ok)
		})

		t.Run("rejects different message", func(t *testing.T) {
			t.Parallel()

			p, err := s.New(hello, keys, "myhash")
			require.NoError(t, err)
			require.NoError(t, p.AddSignature(helloSigs[0], keys[0]))

			fin := CloneFinalizedCommonMessageSignatureProof(s.Finalize(p))
			fin.Message = []byte("goodbye")

			_, ok := s.ValidateFinalizedProof(fin, keys)
			require.False(t, ok)
		})
	})
}

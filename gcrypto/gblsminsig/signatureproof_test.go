package gblsminsig_test

import (
	"context"
	"testing"

	"github.com/chaoschain/chaoscore/gcrypto"
	"github.com/chaoschain/chaoscore/gcrypto/gblsminsig"
	"github.com/chaoschain/chaoscore/gcrypto/gblsminsig/gblsminsigtest"
	"github.com/chaoschain/chaoscore/gcrypto/gcryptotest"
	"github.com/stretchr/testify/require"
	blst "github.com/supranational/blst/bindings/go"
)

func TestSignatureProofCompliance(t *testing.T) {
	t.Parallel()

	gcryptotest.TestCommonMessageSignatureProofCompliance(
		t,
		gblsminsig.SignatureProofScheme{},
		gblsminsigtest.DeterministicSigners(4),
	)
}

func TestSignatureProofScheme_FinalizeAggregates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	msg := []byte("height 1 block abc")

	signers := gblsminsigtest.DeterministicSigners(6)
	keys := make([]gcrypto.PubKey, len(signers))
	for i, s := range signers {
		keys[i] = s.PubKey()
	}

	s := gblsminsig.SignatureProofScheme{}
	p, err := s.New(msg, keys, "valset")
	require.NoError(t, err)

	want := new(blst.P1)
	for _, i := range []int{0, 2, 3, 5} {
		sig, err := signers[i].Sign(ctx, msg)
		require.NoError(t, err)
		require.NoError(t, p.AddSignature(sig, keys[i]))

		want = want.Add(new(blst.P1Affine).Uncompress(sig))
	}

	fin := s.Finalize(p)
	require.Len(t, fin.Signatures, 1)
	require.Equal(t, want.ToAffine().Compress(), fin.Signatures[0].Sig)

	got, ok := s.ValidateFinalizedProof(fin, keys)
	require.True(t, ok)
	require.Equal(t, uint(4), got.Count())
	for _, i := range []uint{0, 2, 3, 5} {
		require.True(t, got.Test(i))
	}

	t.Run("claiming an extra signer fails", func(t *testing.T) {
		t.Parallel()

		forged := gcryptotest.CloneFinalizedCommonMessageSignatureProof(fin)
		forged.Signatures[0].KeyID[0] |= 1 << 1

		_, ok := s.ValidateFinalizedProof(forged, keys)
		require.False(t, ok)
	})

	t.Run("bits past the key set fail", func(t *testing.T) {
		t.Parallel()

		_, ok := s.ValidateFinalizedProof(fin, keys[:4])
		require.False(t, ok)
	})
}

func TestNewSignatureProof_RejectsForeignKeys(t *testing.T) {
	t.Parallel()

	_, err := gblsminsig.NewSignatureProof(
		[]byte("x"),
		gcryptotest.DeterministicEd25519PubKeys(2),
		"h",
	)
	require.Error(t, err)
}

func TestRegister(t *testing.T) {
	t.Parallel()

	reg := new(gcrypto.Registry)
	gblsminsig.Register(reg)

	pk := gblsminsigtest.DeterministicPubKeys(1)[0]
	got, err := reg.Unmarshal(reg.Marshal(pk))
	require.NoError(t, err)
	require.True(t, pk.Equal(got))
	require.Len(t, pk.Address(), 20)
}

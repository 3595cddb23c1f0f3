package gcrypto_test

import (
	"context"
	"testing"

	"github.com/chaoschain/chaoscore/gcrypto"
	"github.com/chaoschain/chaoscore/gcrypto/gcryptotest"
	"github.com/stretchr/testify/require"
)

func TestEd25519Signer_SignVerify(t *testing.T) {
	t.Parallel()

	signers := gcryptotest.DeterministicEd25519Signers(2)

	msg := []byte("intent")
	sig, err := signers[0].Sign(context.Background(), msg)
	require.NoError(t, err)

	require.True(t, signers[0].PubKey().Verify(msg, sig))
	require.False(t, signers[1].PubKey().Verify(msg, sig))
	require.False(t, signers[0].PubKey().Verify([]byte("other"), sig))

	require.Len(t, signers[0].PubKey().Address(), 20)
	require.False(t, signers[0].PubKey().Equal(signers[1].PubKey()))
	require.Equal(t, "ed25519", signers[0].PubKey().TypeName())
}

func TestDeterministicEd25519Signers_Stable(t *testing.T) {
	t.Parallel()

	a := gcryptotest.DeterministicEd25519Signers(3)
	b := gcryptotest.DeterministicEd25519Signers(3)
	for i := range a {
		require.True(t, a[i].PubKey().Equal(b[i].PubKey()))
	}

	_, err := gcrypto.NewEd25519PubKey([]byte("short"))
	require.Error(t, err)
}

package gcrypto_test

import (
	"testing"

	"github.com/chaoschain/chaoscore/gcrypto"
	"github.com/chaoschain/chaoscore/gcrypto/gcryptotest"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RoundTrip(t *testing.T) {
	t.Parallel()

	origKey := gcryptotest.DeterministicEd25519PubKeys(1)[0]

	reg := new(gcrypto.Registry)
	gcrypto.RegisterEd25519(reg)

	b := reg.Marshal(origKey)
	require.Equal(t, "ed25519\x00", string(b[:8]))

	newKey, err := reg.Unmarshal(b)
	require.NoError(t, err)

	require.True(t, origKey.Equal(newKey))
	require.IsType(t, gcrypto.Ed25519PubKey{}, newKey)
	require.Equal(t, origKey.PubKeyBytes(), newKey.PubKeyBytes())
}

func TestRegistry_Unmarshal_UnknownType(t *testing.T) {
	t.Parallel()

	reg := new(gcrypto.Registry)
	gcrypto.RegisterEd25519(reg)

	_, err := reg.Unmarshal([]byte("abcd\x00\x00\x00\x00111222333"))
	require.ErrorContains(t, err, "no registered public key type for prefix \"abcd\"")
}

func TestRegistry_Unmarshal_BadLength(t *testing.T) {
	t.Parallel()

	reg := new(gcrypto.Registry)
	gcrypto.RegisterEd25519(reg)

	_, err := reg.Unmarshal([]byte("ed25519\x00short"))
	require.Error(t, err)

	_, err = reg.Unmarshal([]byte("ed2"))
	require.Error(t, err)
}

func TestRegistry_Register_Duplicate(t *testing.T) {
	t.Parallel()

	reg := new(gcrypto.Registry)
	gcrypto.RegisterEd25519(reg)

	require.Panics(t, func() {
		gcrypto.RegisterEd25519(reg)
	})
}

package gcrypto_test

import (
	"testing"

	"github.com/chaoschain/chaoscore/gcrypto"
	"github.com/chaoschain/chaoscore/gcrypto/gcryptotest"
)

func TestSimpleCommonMessageSignatureProofCompliance(t *testing.T) {
	t.Parallel()

	gcryptotest.TestCommonMessageSignatureProofCompliance(
		t,
		gcrypto.SimpleCommonMessageSignatureProofScheme{},
		gcryptotest.DeterministicEd25519Signers(4),
	)
}

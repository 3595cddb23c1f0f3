package chintegration_test

import (
	"testing"

	"github.com/chaoschain/chaoscore/chintegration"
)

// Libp2pInmemFactory uses loopback libp2p hosts
// along with in-memory chains.
type Libp2pInmemFactory struct {
	chintegration.Libp2pFactory

	chintegration.InmemChainFactory
}

func TestLibp2pInmem(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping libp2p integration test in short mode")
	}

	chintegration.RunIntegrationTest(t, func(e *chintegration.Env) chintegration.Factory {
		return Libp2pInmemFactory{
			Libp2pFactory: chintegration.NewLibp2pFactory(e),
		}
	})
}

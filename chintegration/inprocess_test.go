package chintegration_test

import (
	"testing"

	"github.com/chaoschain/chaoscore/chintegration"
)

type DaisyChainInmemFactory struct {
	chintegration.DaisyChainFactory

	chintegration.InmemChainFactory
}

func TestDaisyChainInmem(t *testing.T) {
	t.Parallel()

	chintegration.RunIntegrationTest(t, func(e *chintegration.Env) chintegration.Factory {
		return DaisyChainInmemFactory{
			DaisyChainFactory: chintegration.NewDaisyChainFactory(e),
		}
	})
}

// TreeBadgerFactory relays through a binary tree
// and keeps each validator's chain in badger.
type TreeBadgerFactory struct {
	chintegration.TreeFactory

	chintegration.BadgerChainFactory
}

func TestTreeBadger(t *testing.T) {
	t.Parallel()

	chintegration.RunIntegrationTest(t, func(e *chintegration.Env) chintegration.Factory {
		return TreeBadgerFactory{
			TreeFactory:        chintegration.NewTreeFactory(e, 2),
			BadgerChainFactory: chintegration.NewBadgerChainFactory(e),
		}
	})
}

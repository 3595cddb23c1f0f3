package chmemstore_test

import (
	"testing"

	"github.com/chaoschain/chaoscore/chconsensus/chconsensustest"
	"github.com/chaoschain/chaoscore/chstore"
	"github.com/chaoschain/chaoscore/chstore/chmemstore"
	"github.com/chaoschain/chaoscore/chstore/chstoretest"
)

func TestCommittedChainCompliance(t *testing.T) {
	t.Parallel()

	chstoretest.TestCommittedChainCompliance(t, func(*testing.T, *chconsensustest.Fixture) chstore.CommittedChain {
		return chmemstore.NewCommittedChain()
	})
}

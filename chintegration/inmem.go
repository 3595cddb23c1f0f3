package chintegration

import (
	"context"

	"github.com/chaoschain/chaoscore/chstore"
	"github.com/chaoschain/chaoscore/chstore/chmemstore"
	"github.com/chaoschain/chaoscore/gcrypto"
)

// InmemChainFactory is meant to be embedded in another [Factory]
// to provide in-memory committed chains.
type InmemChainFactory struct{}

func (InmemChainFactory) NewCommittedChain(context.Context, int, *gcrypto.Registry) (chstore.CommittedChain, error) {
	return chmemstore.NewCommittedChain(), nil
}

package chintegration

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/chaoschain/chaoscore/chstore"
	"github.com/chaoschain/chaoscore/chstore/chbadger"
	"github.com/chaoschain/chaoscore/gcrypto"
)

// BadgerChainFactory is meant to be embedded in another [Factory]
// to give every validator its own on-disk chain in a temporary directory.
type BadgerChainFactory struct {
	e *Env
}

func NewBadgerChainFactory(e *Env) BadgerChainFactory {
	return BadgerChainFactory{e: e}
}

func (f BadgerChainFactory) NewCommittedChain(
	_ context.Context, idx int, reg *gcrypto.Registry,
) (chstore.CommittedChain, error) {
	dir := filepath.Join(f.e.TempDir(), fmt.Sprintf("chain-%d", idx))
	c, err := chbadger.Open(f.e.RootLogger.With("sys", "chbadger", "idx", idx), dir, reg)
	if err != nil {
		return nil, err
	}
	f.e.Cleanup(func() {
		if err := c.Close(); err != nil {
			f.e.RootLogger.Warn("Failed to close badger chain", "idx", idx, "err", err)
		}
	})
	return c, nil
}

// Package chstore defines storage for the committed chain.
package chstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/chaoschain/chaoscore/chconsensus"
)

// CommittedChain is the append-only ledger of committed blocks.
//
// Appends come only from the consensus engine's commit step.
// Reads may come from any goroutine.
type CommittedChain interface {
	// Append adds cb as the next block.
	// The first block must be the genesis block at height 0;
	// every later block must be at tip height + 1 and reference the tip's hash.
	// Violations return an error matching [ErrNonContiguous].
	Append(ctx context.Context, cb chconsensus.CommittedBlock) error

	// Tip returns the most recent block, or [ErrEmpty].
	Tip(ctx context.Context) (chconsensus.CommittedBlock, error)

	// BlockAt returns the block at height, or [ErrHeightUnknown].
	BlockAt(ctx context.Context, height uint64) (chconsensus.CommittedBlock, error)

	// HasIntent reports whether id was included in any committed block.
	HasIntent(ctx context.Context, id chconsensus.IntentID) (bool, error)

	// Intent returns a committed intent and the height that included it,
	// or [ErrIntentUnknown].
	Intent(ctx context.Context, id chconsensus.IntentID) (chconsensus.Intent, uint64, error)
}

var (
	ErrEmpty         = errors.New("committed chain is empty")
	ErrHeightUnknown = errors.New("height not committed")
	ErrIntentUnknown = errors.New("intent not committed")
	ErrNonContiguous = errors.New("block does not extend the committed chain")
)

// CheckAppend returns an error matching [ErrNonContiguous]
// unless cb may be appended after tip.
// hasTip is false for an empty chain.
// Store implementations call it while holding their write lock.
func CheckAppend(tip chconsensus.Block, hasTip bool, cb chconsensus.CommittedBlock) error {
	b := cb.Block

	if !b.HashValid() {
		return fmt.Errorf("block at height %d has invalid hash: %w", b.Height, ErrNonContiguous)
	}

	if len(cb.Intents) != len(b.IntentIDs) {
		return fmt.Errorf(
			"block at height %d lists %d intents but carries %d: %w",
			b.Height, len(b.IntentIDs), len(cb.Intents), ErrNonContiguous,
		)
	}
	for i, in := range cb.Intents {
		if in.ID() != b.IntentIDs[i] {
			return fmt.Errorf("intent %d does not match block at height %d: %w", i, b.Height, ErrNonContiguous)
		}
	}

	if !hasTip {
		if b.Height != 0 || !bytes.Equal(b.PrevHash, chconsensus.ZeroHash) {
			return fmt.Errorf("first block must be genesis, got height %d: %w", b.Height, ErrNonContiguous)
		}
		return nil
	}

	if b.Height != tip.Height+1 {
		return fmt.Errorf("block height %d after tip %d: %w", b.Height, tip.Height, ErrNonContiguous)
	}
	if !bytes.Equal(b.PrevHash, tip.Hash) {
		return fmt.Errorf("block at height %d has prev hash %x, tip is %x: %w", b.Height, b.PrevHash, tip.Hash, ErrNonContiguous)
	}

	return nil
}

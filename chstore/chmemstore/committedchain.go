// Package chmemstore contains in-memory implementations of the chstore interfaces.
package chmemstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/chaoschain/chaoscore/chconsensus"
	"github.com/chaoschain/chaoscore/chstore"
)

type CommittedChain struct {
	mu sync.RWMutex

	blocks []chconsensus.CommittedBlock

	// Intent ID -> height.
	intents map[chconsensus.IntentID]uint64
}

func NewCommittedChain() *CommittedChain {
	return &CommittedChain{
		intents: make(map[chconsensus.IntentID]uint64),
	}
}

func (c *CommittedChain) Append(_ context.Context, cb chconsensus.CommittedBlock) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var tip chconsensus.Block
	if len(c.blocks) > 0 {
		tip = c.blocks[len(c.blocks)-1].Block
	}
	if err := chstore.CheckAppend(tip, len(c.blocks) > 0, cb); err != nil {
		return err
	}

	c.blocks = append(c.blocks, cb)
	for _, id := range cb.Block.IntentIDs {
		c.intents[id] = cb.Block.Height
	}
	return nil
}

func (c *CommittedChain) Tip(_ context.Context) (chconsensus.CommittedBlock, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.blocks) == 0 {
		return chconsensus.CommittedBlock{}, chstore.ErrEmpty
	}
	return c.blocks[len(c.blocks)-1], nil
}

func (c *CommittedChain) BlockAt(_ context.Context, height uint64) (chconsensus.CommittedBlock, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if height >= uint64(len(c.blocks)) {
		return chconsensus.CommittedBlock{}, fmt.Errorf("height %d: %w", height, chstore.ErrHeightUnknown)
	}

	// The genesis block is at index 0, so heights are indices.
	return c.blocks[height], nil
}

func (c *CommittedChain) HasIntent(_ context.Context, id chconsensus.IntentID) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.intents[id]
	return ok, nil
}

func (c *CommittedChain) Intent(_ context.Context, id chconsensus.IntentID) (chconsensus.Intent, uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	h, ok := c.intents[id]
	if !ok {
		return chconsensus.Intent{}, 0, fmt.Errorf("intent %s: %w", id.Short(), chstore.ErrIntentUnknown)
	}

	cb := c.blocks[h]
	for i, iid := range cb.Block.IntentIDs {
		if iid == id {
			return cb.Intents[i], h, nil
		}
	}

	panic(fmt.Errorf("intent index for %s points at height %d which does not include it", id, h))
}

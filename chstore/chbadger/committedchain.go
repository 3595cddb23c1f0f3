// Package chbadger is a badger-backed implementation of the chstore interfaces.
package chbadger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chaoschain/chaoscore/chcodec/chcbor"
	"github.com/chaoschain/chaoscore/chconsensus"
	"github.com/chaoschain/chaoscore/chstore"
	"github.com/chaoschain/chaoscore/gcrypto"
	"github.com/dgraph-io/badger/v2"
)

var _ chstore.CommittedChain = (*CommittedChain)(nil)

// CommittedChain stores committed blocks in a badger database.
// Each block is a single CBOR value keyed by height,
// with a secondary index from intent ID to height.
type CommittedChain struct {
	log *slog.Logger
	db  *badger.DB

	codec chcbor.Codec

	// Serializes appends so the tip check and the write are atomic
	// without relying on badger transaction conflicts.
	appendMu sync.Mutex
}

// Open opens or creates a database in dir.
// An empty dir opens an in-memory database.
func Open(log *slog.Logger, dir string, reg *gcrypto.Registry) (*CommittedChain, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	return New(log, db, reg), nil
}

// New wraps an already opened database.
func New(log *slog.Logger, db *badger.DB, reg *gcrypto.Registry) *CommittedChain {
	return &CommittedChain{
		log:   log,
		db:    db,
		codec: chcbor.NewCodec(reg),
	}
}

func (c *CommittedChain) Close() error {
	return c.db.Close()
}

func (c *CommittedChain) Append(_ context.Context, cb chconsensus.CommittedBlock) error {
	c.appendMu.Lock()
	defer c.appendMu.Unlock()

	enc, err := c.codec.MarshalCommittedBlock(cb)
	if err != nil {
		return fmt.Errorf("failed to encode committed block: %w", err)
	}

	return c.db.Update(func(tx *badger.Txn) error {
		tip, hasTip, err := c.tip(tx)
		if err != nil {
			return err
		}
		if err := chstore.CheckAppend(tip.Block, hasTip, cb); err != nil {
			return err
		}

		h := cb.Block.Height
		if err := tx.Set(blockKey(h), enc); err != nil {
			return fmt.Errorf("could not store block: %w", err)
		}
		hv := encodeHeight(h)
		for _, id := range cb.Block.IntentIDs {
			if err := tx.Set(intentKey(id), hv); err != nil {
				return fmt.Errorf("could not index intent: %w", err)
			}
		}
		if err := tx.Set(tipKey(), hv); err != nil {
			return fmt.Errorf("could not store tip: %w", err)
		}

		c.log.Debug("Appended committed block", "height", h, "n_intents", len(cb.Intents))
		return nil
	})
}

func (c *CommittedChain) Tip(_ context.Context) (chconsensus.CommittedBlock, error) {
	var out chconsensus.CommittedBlock
	err := c.db.View(func(tx *badger.Txn) error {
		tip, ok, err := c.tip(tx)
		if err != nil {
			return err
		}
		if !ok {
			return chstore.ErrEmpty
		}
		out = tip
		return nil
	})
	return out, err
}

func (c *CommittedChain) BlockAt(_ context.Context, height uint64) (chconsensus.CommittedBlock, error) {
	var out chconsensus.CommittedBlock
	err := c.db.View(func(tx *badger.Txn) error {
		var err error
		out, err = c.blockAt(tx, height)
		return err
	})
	return out, err
}

func (c *CommittedChain) HasIntent(_ context.Context, id chconsensus.IntentID) (bool, error) {
	var ok bool
	err := c.db.View(exists(intentKey(id), &ok))
	return ok, err
}

func (c *CommittedChain) Intent(_ context.Context, id chconsensus.IntentID) (chconsensus.Intent, uint64, error) {
	var (
		out chconsensus.Intent
		h   uint64
	)
	err := c.db.View(func(tx *badger.Txn) error {
		if err := retrieveHeight(intentKey(id), &h)(tx); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("intent %s: %w", id.Short(), chstore.ErrIntentUnknown)
			}
			return fmt.Errorf("could not read intent index: %w", err)
		}

		cb, err := c.blockAt(tx, h)
		if err != nil {
			return err
		}
		for i, iid := range cb.Block.IntentIDs {
			if iid == id {
				out = cb.Intents[i]
				return nil
			}
		}
		return fmt.Errorf("intent index for %s points at height %d which does not include it", id.Short(), h)
	})
	return out, h, err
}

func (c *CommittedChain) tip(tx *badger.Txn) (chconsensus.CommittedBlock, bool, error) {
	var h uint64
	if err := retrieveHeight(tipKey(), &h)(tx); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return chconsensus.CommittedBlock{}, false, nil
		}
		return chconsensus.CommittedBlock{}, false, fmt.Errorf("could not read tip: %w", err)
	}

	cb, err := c.blockAt(tx, h)
	if err != nil {
		return chconsensus.CommittedBlock{}, false, err
	}
	return cb, true, nil
}

func (c *CommittedChain) blockAt(tx *badger.Txn, height uint64) (chconsensus.CommittedBlock, error) {
	var b []byte
	if err := retrieve(blockKey(height), &b)(tx); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return chconsensus.CommittedBlock{}, fmt.Errorf("height %d: %w", height, chstore.ErrHeightUnknown)
		}
		return chconsensus.CommittedBlock{}, fmt.Errorf("could not read block at height %d: %w", height, err)
	}

	var cb chconsensus.CommittedBlock
	if err := c.codec.UnmarshalCommittedBlock(b, &cb); err != nil {
		return chconsensus.CommittedBlock{}, fmt.Errorf("corrupt block at height %d: %w", height, err)
	}
	return cb, nil
}

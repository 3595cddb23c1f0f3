package chengine

import (
	"context"

	"github.com/chaoschain/chaoscore/chconsensus"
	"github.com/chaoschain/chaoscore/chstate"
)

// Mempool is the subset of [*chmempool.Mempool] the engine uses.
type Mempool interface {
	Drain(max int) []chconsensus.Intent
	Get(id chconsensus.IntentID) (chconsensus.Intent, bool)
	Evict(ids []chconsensus.IntentID)
	MarkCommitted(ids []chconsensus.IntentID)
	Len() int
}

// StateMachine is the subset of [*chstate.Machine] the engine uses.
type StateMachine interface {
	Current() chstate.State

	Build(ctx context.Context, prior chstate.State, candidates []chconsensus.Intent) (
		chstate.State, []chconsensus.Intent, []chstate.RejectedIntent,
	)

	ValidateTransition(ctx context.Context, prior chstate.State, b chconsensus.Block) (chstate.State, error)
	ValidateTransitionWith(
		ctx context.Context, prior chstate.State, b chconsensus.Block, intents []chconsensus.Intent,
	) (chstate.State, error)

	Commit(ctx context.Context, s chstate.State, b chconsensus.Block) error

	Replay(ctx context.Context, b chconsensus.Block, intents []chconsensus.Intent) error
}

// FinalitySink receives every committed block with its finality proof,
// for example to relay it to a settlement chain.
//
// Delivery is at least once:
// a block may be delivered again after an error or a restart,
// so implementations must be idempotent on block hash.
type FinalitySink interface {
	DeliverFinalized(ctx context.Context, cb chconsensus.CommittedBlock) error
}

// FinalitySinkFunc adapts a function to [FinalitySink].
type FinalitySinkFunc func(ctx context.Context, cb chconsensus.CommittedBlock) error

func (f FinalitySinkFunc) DeliverFinalized(ctx context.Context, cb chconsensus.CommittedBlock) error {
	return f(ctx, cb)
}

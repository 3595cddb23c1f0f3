package chconsensus

import "context"

// Decision is the outcome of a [ValidatorPolicy].
type Decision uint8

const (
	_ Decision = iota

	Approve
	Reject
)

func (d Decision) String() string {
	switch d {
	case Approve:
		return "approve"
	case Reject:
		return "reject"
	default:
		return "undecided"
	}
}

// StateView is the read-only state a [ValidatorPolicy] may inspect.
type StateView interface {
	Height() uint64
	Root() []byte
	Get(key string) ([]byte, bool)
}

// ValidatorPolicy decides whether this node is willing to vote for a proposal.
// It is consulted after the proposal is well formed
// and before the node recomputes the state transition.
//
// Any value other than Approve is treated as Reject.
type ValidatorPolicy interface {
	Decide(ctx context.Context, p Proposal, intents []Intent, state StateView) Decision
}

// PolicyFunc adapts a function to [ValidatorPolicy].
type PolicyFunc func(ctx context.Context, p Proposal, intents []Intent, state StateView) Decision

func (f PolicyFunc) Decide(ctx context.Context, p Proposal, intents []Intent, state StateView) Decision {
	return f(ctx, p, intents, state)
}

// ApproveAll is a policy that approves every proposal.
var ApproveAll ValidatorPolicy = PolicyFunc(func(context.Context, Proposal, []Intent, StateView) Decision {
	return Approve
})

// RejectAll is a policy that rejects every proposal.
var RejectAll ValidatorPolicy = PolicyFunc(func(context.Context, Proposal, []Intent, StateView) Decision {
	return Reject
})

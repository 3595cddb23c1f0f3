package chelink

import (
	"context"

	"github.com/chaoschain/chaoscore/chconsensus"
)

// ProposalInterceptor is called after the local producer has built a proposal
// and before it is signed and broadcast.
//
// The interceptor may modify the block; the engine re-hashes it afterward.
// Returning an error abandons the proposal for the round.
type ProposalInterceptor interface {
	InterceptProposal(context.Context, *chconsensus.Proposal) error
}

// ProposalInterceptorFunc allows converting a standalone function
// into a [ProposalInterceptor].
type ProposalInterceptorFunc func(context.Context, *chconsensus.Proposal) error

// InterceptProposal implements [ProposalInterceptor].
func (f ProposalInterceptorFunc) InterceptProposal(ctx context.Context, p *chconsensus.Proposal) error {
	return f(ctx, p)
}

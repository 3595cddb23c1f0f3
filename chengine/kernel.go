package chengine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/trace"
	"time"

	"github.com/chaoschain/chaoscore/chcodec"
	"github.com/chaoschain/chaoscore/chconsensus"
	"github.com/chaoschain/chaoscore/chengine/chelink"
	"github.com/chaoschain/chaoscore/chengine/internal/chround"
	"github.com/chaoschain/chaoscore/chgossip"
	"github.com/chaoschain/chaoscore/chstate"
	"github.com/chaoschain/chaoscore/chstore"
	"github.com/chaoschain/chaoscore/gcrypto"
)

// kernel is the single goroutine that owns round state.
// Every tally mutation and commit happens on it,
// so a vote that completes the threshold is observed exactly once.
type kernel struct {
	log *slog.Logger

	signer   gcrypto.Signer
	mempool  Mempool
	machine  StateMachine
	chain    chstore.CommittedChain
	network  chgossip.Network
	codec    chcodec.Codec
	policy   chconsensus.ValidatorPolicy
	selector chconsensus.ProducerSelector
	timeouts TimeoutStrategy
	cmsp     gcrypto.CommonMessageSignatureProofScheme

	interceptor  chelink.ProposalInterceptor
	roundUpdates chan<- chelink.RoundUpdate

	fd  *finalityDeliverer
	m   *Metrics
	now func() time.Time

	maxProposalIntents  int
	maxRootMismatches   int
	maxBufferedMessages int
	maxTimestampDrift   time.Duration

	inbound        <-chan inboundMessage
	statusRequests <-chan statusRequest

	// Last committed block and the state after it.
	tip   chconsensus.Block
	prior chstate.State
	vals  chconsensus.ValidatorSet

	height uint64
	round  uint32
	phase  Phase

	// Set by a commit; the run loop then enters the next height.
	advance bool

	hv *chround.HeightVotes

	// Everything below, through futureRounds, is reset on each new height.
	// Maps are keyed by string(block hash).

	blocks    map[string]chconsensus.Block
	validated map[string]validatedBlock
	invalid   map[string]error

	// This node's vote at the height.
	// Once set, this node never signs a different block hash at the height.
	myVote *chconsensus.Vote

	// Hash of the first acceptable proposal seen in the current round.
	roundProposal []byte

	futureRounds     map[uint32][]inboundMessage
	futureRoundCount int

	catchUpServed map[chconsensus.RoundRef]struct{}

	stalled bool

	future  *chround.HeightQueue[inboundMessage]
	pending []inboundMessage

	// Intents committed by the tip, reported in the next round-0 update.
	lastCommitted []chconsensus.IntentID

	rootMismatches int
	desynced       bool

	timer *time.Timer

	// Delays a round-0 proposal so empty heights do not commit back to back.
	proposalDelay   time.Duration
	proposeTimer    *time.Timer
	proposeAwaiting bool
}

type validatedBlock struct {
	state   chstate.State
	intents []chconsensus.Intent

	// Whether the validator policy approved the block.
	approved bool
}

// Messages more than this many heights ahead are dropped rather than buffered.
const maxFutureHeightLead = 64

// Upper bound on distinct catch-up responses within one height.
const maxCatchUpResponses = 256

// Number of following rounds reported in a [chelink.RoundUpdate].
const upcomingProducers = 3

func newKernel(
	log *slog.Logger,
	cfg engineConfig,
	tip chconsensus.Block,
	fd *finalityDeliverer,
	inbound <-chan inboundMessage,
	statusRequests <-chan statusRequest,
) *kernel {
	return &kernel{
		log: log,

		signer:   cfg.signer,
		mempool:  cfg.mempool,
		machine:  cfg.machine,
		chain:    cfg.chain,
		network:  cfg.network,
		codec:    cfg.codec,
		policy:   cfg.policy,
		selector: cfg.selector,
		timeouts: cfg.timeouts,
		cmsp:     cfg.cmspScheme,

		interceptor:  cfg.interceptor,
		roundUpdates: cfg.roundUpdates,

		fd:  fd,
		m:   cfg.metrics,
		now: cfg.now,

		maxProposalIntents:  cfg.maxProposalIntents,
		maxRootMismatches:   cfg.maxRootMismatches,
		maxBufferedMessages: cfg.maxBufferedMessages,
		maxTimestampDrift:   cfg.maxTimestampDrift,

		proposalDelay: cfg.proposalDelay,

		inbound:        inbound,
		statusRequests: statusRequests,

		tip: tip,

		future: chround.NewHeightQueue[inboundMessage](cfg.maxBufferedMessages),
	}
}

func (k *kernel) run(ctx context.Context) error {
	k.timer = time.NewTimer(time.Hour)
	k.timer.Stop()
	defer k.timer.Stop()

	k.proposeTimer = time.NewTimer(time.Hour)
	k.proposeTimer.Stop()
	defer k.proposeTimer.Stop()

	k.advance = true

	for {
		if err := ctx.Err(); err != nil {
			return context.Cause(ctx)
		}

		if k.advance {
			k.advance = false
			if err := k.enterHeight(ctx); err != nil {
				return err
			}
			continue
		}

		// Buffered messages for the new height or round are handled
		// before anything else arrives.
		if len(k.pending) > 0 {
			msg := k.pending[0]
			k.pending = k.pending[1:]
			if len(k.pending) == 0 {
				k.pending = nil
			}
			if err := k.handleMessage(ctx, msg); err != nil {
				return err
			}
			continue
		}

		select {
		case <-ctx.Done():
			return context.Cause(ctx)

		case msg := <-k.inbound:
			if err := k.handleMessage(ctx, msg); err != nil {
				return err
			}

		case <-k.timer.C:
			if err := k.handleTimeout(ctx); err != nil {
				return err
			}

		case <-k.proposeTimer.C:
			if k.proposeAwaiting {
				k.proposeAwaiting = false
				if err := k.propose(ctx); err != nil {
					return err
				}
			}

		case req := <-k.statusRequests:
			// Response channel is 1-buffered.
			req.Resp <- k.status()
		}
	}
}

// enterHeight resets round state for the height after the tip.
func (k *kernel) enterHeight(ctx context.Context) error {
	k.prior = k.machine.Current()
	if k.prior.Height() != k.tip.Height {
		return fmt.Errorf(
			"state machine at height %d does not match committed tip at height %d",
			k.prior.Height(), k.tip.Height,
		)
	}
	k.vals = k.prior.ValidatorSet()

	k.height = k.tip.Height + 1
	k.hv = chround.NewHeightVotes(k.height, k.vals)

	k.blocks = make(map[string]chconsensus.Block)
	k.validated = make(map[string]validatedBlock)
	k.invalid = make(map[string]error)
	k.myVote = nil
	k.futureRounds = make(map[uint32][]inboundMessage)
	k.futureRoundCount = 0
	k.catchUpServed = make(map[chconsensus.RoundRef]struct{})
	k.stalled = false

	// Includes anything below the new height, which is then handled as stale.
	k.pending = append(k.pending, k.future.PopThrough(k.height)...)

	return k.enterRound(ctx, 0)
}

func (k *kernel) enterRound(ctx context.Context, round uint32) error {
	k.round = round
	k.phase = PhasePropose
	k.roundProposal = nil
	k.proposeAwaiting = false
	k.proposeTimer.Stop()

	k.timer.Reset(k.timeouts.RoundTimeout(round))
	k.m.enterRound(k.height, round)

	producer := k.selector.Producer(k.vals, k.height, round)
	isProducer := producer.PubKey.Equal(k.signer.PubKey())

	k.log.Debug(
		"Entered round",
		"height", k.height,
		"round", round,
		"is_producer", isProducer,
	)
	k.emitRoundUpdate(producer, isProducer)

	for r, msgs := range k.futureRounds {
		if r > round {
			continue
		}
		if r == round {
			k.pending = append(k.pending, msgs...)
		}
		k.futureRoundCount -= len(msgs)
		delete(k.futureRounds, r)
	}

	if !isProducer {
		return nil
	}
	if round == 0 && k.proposalDelay > 0 {
		k.proposeAwaiting = true
		k.proposeTimer.Reset(k.proposalDelay)
		return nil
	}
	return k.propose(ctx)
}

func (k *kernel) emitRoundUpdate(producer chconsensus.Validator, isProducer bool) {
	if k.roundUpdates == nil {
		return
	}

	u := chelink.RoundUpdate{
		Height:     k.height,
		Round:      k.round,
		Producer:   producer.PubKey,
		IsProducer: isProducer,
	}
	for i := range uint32(upcomingProducers) {
		p := k.selector.Producer(k.vals, k.height, k.round+1+i)
		u.UpcomingProducers = append(u.UpcomingProducers, p.PubKey)
	}
	if k.round == 0 {
		u.Committed = k.lastCommitted
	}

	select {
	case k.roundUpdates <- u:
	default:
		k.log.Debug("Dropped round update for slow consumer", "height", k.height, "round", k.round)
	}
}

func (k *kernel) handleTimeout(ctx context.Context) error {
	defer trace.StartRegion(ctx, "handleTimeout").End()

	k.phase = PhaseFailed
	k.m.count(roundTimeouts)
	k.log.Warn(
		"Round failed",
		"height", k.height,
		"round", k.round,
		"err", chconsensus.ErrRoundTimeout,
		"voted", k.myVote != nil,
		"pending_intents", k.mempool.Len(),
	)

	if err := k.enterRound(ctx, k.round+1); err != nil {
		return err
	}

	// Votes are sent once and may have been lost;
	// announcing ours again in the new round lets late peers count it.
	if k.myVote != nil && !k.advance {
		return k.castVote(ctx, k.myVote.BlockHash)
	}
	return nil
}

func (k *kernel) handleMessage(ctx context.Context, msg inboundMessage) error {
	switch h := msg.Env.Height; {
	case h > k.height:
		if h-k.height > maxFutureHeightLead {
			k.log.Debug("Dropped message too far ahead of current height", "height", h, "kind", msg.Env.Kind)
			return nil
		}
		// Validator sets change at commits, so membership for a later height
		// is approximated by the current set.
		if k.vals.Index(msg.Env.Sender) < 0 {
			k.m.rejected(chconsensus.ErrUnknownVoter)
			k.log.Debug("Dropped future message from non-validator", "height", h, "kind", msg.Env.Kind)
			return nil
		}
		if !k.future.Push(h, msg) {
			k.log.Debug("Dropped future message; buffer full", "height", h, "kind", msg.Env.Kind)
		}
		return nil
	case h < k.height:
		k.serveCatchUp(ctx, msg)
		return nil
	}

	switch {
	case msg.Proposal != nil:
		return k.handleProposal(ctx, msg.Env, *msg.Proposal)
	case msg.Vote != nil:
		return k.handleVote(ctx, *msg.Vote)
	case msg.Committed != nil:
		return k.handleCommitted(ctx, *msg.Committed)
	}
	return nil
}

func (k *kernel) handleProposal(ctx context.Context, env chconsensus.Envelope, p chconsensus.Proposal) error {
	defer trace.StartRegion(ctx, "handleProposal").End()

	producer := k.selector.Producer(k.vals, k.height, p.Round)
	if !producer.PubKey.Equal(env.Sender) {
		k.m.rejected(chconsensus.ErrUnknownVoter)
		k.log.Debug(
			"Ignoring proposal from validator that is not the round's producer",
			"height", k.height, "round", p.Round,
		)
		return nil
	}

	if p.Round < k.round {
		// No vote, but the block stays available for reproposal
		// and for commit if others reach the threshold on it.
		k.log.Debug("Recording proposal from abandoned round", "height", k.height, "round", p.Round)
		_, _, err := k.recordProposal(ctx, p)
		return err
	}

	if p.Round > k.round {
		if k.futureRoundCount >= k.maxBufferedMessages {
			k.log.Debug("Dropped future round proposal; buffer full", "height", k.height, "round", p.Round)
			return nil
		}
		k.futureRounds[p.Round] = append(k.futureRounds[p.Round], inboundMessage{
			Env:      env,
			Proposal: &p,
		})
		k.futureRoundCount++
		return nil
	}

	if k.roundProposal != nil && !bytes.Equal(k.roundProposal, p.Block.Hash) {
		k.log.Warn(
			"Producer sent conflicting proposals in one round",
			"height", k.height, "round", p.Round,
			"first", fmt.Sprintf("%x", k.roundProposal),
			"second", fmt.Sprintf("%x", p.Block.Hash),
		)
	}

	return k.considerProposal(ctx, p)
}

// considerProposal validates p's block if it has not seen it before,
// and votes for it if allowed.
// p must be at the current height and round, from the round's producer.
func (k *kernel) considerProposal(ctx context.Context, p chconsensus.Proposal) error {
	b := p.Block

	vb, ok, err := k.recordProposal(ctx, p)
	if err != nil || !ok || k.advance {
		return err
	}

	if k.roundProposal == nil {
		k.roundProposal = b.Hash
		k.phase = PhaseVoting
	}

	if !vb.approved {
		k.log.Info(
			"Validator policy rejected proposal; withholding vote",
			"height", k.height, "round", p.Round,
			"hash", fmt.Sprintf("%x", b.Hash),
		)
		return nil
	}

	return k.castVote(ctx, b.Hash)
}

// recordProposal validates p's block if it has not seen it before
// and keeps it when valid, reporting whether it was.
// Votes may have reached the threshold before the block was known,
// so the block commits here if they did.
func (k *kernel) recordProposal(ctx context.Context, p chconsensus.Proposal) (validatedBlock, bool, error) {
	b := p.Block
	key := string(b.Hash)

	if _, ok := k.invalid[key]; ok {
		return validatedBlock{}, false, nil
	}

	vb, ok := k.validated[key]
	if !ok {
		var err error
		vb, err = k.validateProposal(ctx, p)
		if err != nil {
			k.m.rejected(err)
			k.log.Info(
				"Rejected proposal",
				"height", k.height, "round", p.Round,
				"hash", fmt.Sprintf("%x", b.Hash),
				"err", err,
			)
			return validatedBlock{}, false, nil
		}
		k.validated[key] = vb
	}
	k.blocks[key] = b

	return vb, true, k.maybeCommit(ctx, b.Hash)
}

func (k *kernel) validateProposal(ctx context.Context, p chconsensus.Proposal) (validatedBlock, error) {
	b := p.Block
	if err := k.checkBlock(b); err != nil {
		k.invalid[string(b.Hash)] = err
		return validatedBlock{}, err
	}

	// Committed blocks are not held to this bound.
	// Not marked invalid: the block becomes acceptable as the local clock advances.
	if limit := k.now().Add(k.maxTimestampDrift); b.Timestamp.After(limit) {
		return validatedBlock{}, fmt.Errorf(
			"block timestamp %s is more than %s past local time: %w",
			b.Timestamp, k.maxTimestampDrift, chconsensus.ErrFutureTimestamp,
		)
	}

	intents := make([]chconsensus.Intent, len(b.IntentIDs))
	for i, id := range b.IntentIDs {
		in, ok := k.mempool.Get(id)
		if !ok {
			// Not marked invalid: the intent may still arrive,
			// and the block may be proposed again in a later round.
			return validatedBlock{}, fmt.Errorf("intent %s: %w", id.Short(), chconsensus.ErrUnknownIntent)
		}
		intents[i] = in
	}

	// The policy only ever withholds this node's vote.
	// The transition is still validated so the block can commit
	// if the rest of the network finalizes it.
	approved := k.policy.Decide(ctx, p, intents, k.prior) == chconsensus.Approve

	st, err := k.machine.ValidateTransition(ctx, k.prior, b)
	if err != nil {
		if errors.Is(err, chconsensus.ErrRootMismatch) {
			k.noteRootMismatch(b)
		}
		if !errors.Is(err, chconsensus.ErrUnknownIntent) {
			k.invalid[string(b.Hash)] = err
		}
		return validatedBlock{}, err
	}
	k.noteValidTransition()

	return validatedBlock{state: st, intents: intents, approved: approved}, nil
}

// checkBlock checks the parts of b that depend only on the tip and validator set.
func (k *kernel) checkBlock(b chconsensus.Block) error {
	if !bytes.Equal(b.PrevHash, k.tip.Hash) {
		return fmt.Errorf("block at height %d does not extend tip %x", b.Height, k.tip.Hash)
	}
	if b.Timestamp.Before(k.tip.Timestamp) {
		return fmt.Errorf("block timestamp %s precedes tip timestamp %s", b.Timestamp, k.tip.Timestamp)
	}
	if b.Producer == nil || k.vals.Index(b.Producer) < 0 {
		return fmt.Errorf("block producer: %w", chconsensus.ErrUnknownVoter)
	}
	return nil
}

func (k *kernel) noteRootMismatch(b chconsensus.Block) {
	k.rootMismatches++
	if k.rootMismatches < k.maxRootMismatches || k.desynced {
		return
	}

	k.desynced = true
	k.m.setDesynchronized(true)
	k.log.Error(
		"Local state root repeatedly disagrees with proposed blocks; this node may be desynchronized",
		"height", k.height,
		"consecutive_mismatches", k.rootMismatches,
		"last_claimed_root", fmt.Sprintf("%x", b.StateRoot),
		"local_prior_root", fmt.Sprintf("%x", k.prior.Root()),
	)
}

func (k *kernel) noteValidTransition() {
	k.rootMismatches = 0
	if !k.desynced {
		return
	}

	k.desynced = false
	k.m.setDesynchronized(false)
	k.log.Info("Local state agrees with proposals again", "height", k.height)
}

func (k *kernel) propose(ctx context.Context) error {
	defer trace.StartRegion(ctx, "propose").End()

	b, fresh := k.chooseBlock(ctx)
	p := chconsensus.Proposal{Block: b, Round: k.round}

	if fresh && k.interceptor != nil {
		if err := k.interceptor.InterceptProposal(ctx, &p); err != nil {
			k.log.Info(
				"Proposal interceptor abandoned proposal",
				"height", k.height, "round", k.round,
				"err", err,
			)
			return nil
		}
		p.Block.SetHash()
	}

	payload, err := k.codec.MarshalProposal(p)
	if err != nil {
		k.log.Warn("Failed to encode proposal", "height", k.height, "err", err)
		return nil
	}
	if !k.broadcast(ctx, chgossip.TopicProposals, chconsensus.KindProposal, payload) {
		return nil
	}
	k.m.count(proposals)

	k.log.Info(
		"Proposed block",
		"height", k.height, "round", k.round,
		"hash", fmt.Sprintf("%x", p.Block.Hash),
		"intents", len(p.Block.IntentIDs),
		"reproposal", !fresh,
	)

	return k.considerProposal(ctx, p)
}

// chooseBlock returns the block to propose in the current round.
// A block this node voted for comes first, then the best-supported valid block,
// and only then a new block from the mempool.
func (k *kernel) chooseBlock(ctx context.Context) (b chconsensus.Block, fresh bool) {
	if k.myVote != nil {
		if b, ok := k.blocks[string(k.myVote.BlockHash)]; ok {
			return b, false
		}
	}

	for _, h := range k.hv.Leading() {
		if _, ok := k.validated[string(h)]; ok {
			return k.blocks[string(h)], false
		}
	}

	candidates := k.mempool.Drain(k.maxProposalIntents)
	st, accepted, rejected := k.machine.Build(ctx, k.prior, candidates)
	if len(rejected) > 0 {
		ids := make([]chconsensus.IntentID, len(rejected))
		for i, r := range rejected {
			ids[i] = r.Intent.ID()
			k.log.Debug("Evicting intent that cannot apply", "id", ids[i].Short(), "err", r.Err)
		}
		k.mempool.Evict(ids)
	}

	ts := k.now().UTC().Round(0)
	if ts.Before(k.tip.Timestamp) {
		ts = k.tip.Timestamp
	}

	b = chconsensus.Block{
		Height:    k.height,
		PrevHash:  k.tip.Hash,
		IntentIDs: chconsensus.IntentIDs(accepted),
		Timestamp: ts,
		Producer:  k.signer.PubKey(),
		StateRoot: st.Root(),
	}
	b.SetHash()
	return b, true
}

// castVote signs and broadcasts a vote for blockHash in the current round.
// It never signs a second block hash at one height;
// for the block already voted for, it announces the vote again in a newer round.
func (k *kernel) castVote(ctx context.Context, blockHash []byte) error {
	if k.vals.Index(k.signer.PubKey()) < 0 {
		return nil
	}

	first := k.myVote == nil
	if !first {
		if !bytes.Equal(k.myVote.BlockHash, blockHash) {
			k.log.Debug(
				"Already voted for a different block at this height",
				"height", k.height,
				"voted", fmt.Sprintf("%x", k.myVote.BlockHash),
			)
			return nil
		}
		if k.myVote.Round >= k.round {
			return nil
		}
	}

	vote, err := chconsensus.NewVote(ctx, k.signer, k.height, k.round, blockHash)
	if err != nil {
		k.log.Warn("Failed to sign vote", "height", k.height, "err", err)
		return nil
	}
	k.myVote = &vote

	payload, err := k.codec.MarshalVote(vote)
	if err != nil {
		k.log.Warn("Failed to encode vote", "height", k.height, "err", err)
	} else {
		k.broadcast(ctx, chgossip.TopicVotes, chconsensus.KindVote, payload)
	}

	if !first {
		return nil
	}
	k.m.count(votesCast)
	k.log.Debug("Voted", "height", k.height, "round", k.round, "hash", fmt.Sprintf("%x", blockHash))
	return k.addVote(ctx, vote)
}

func (k *kernel) handleVote(ctx context.Context, v chconsensus.Vote) error {
	defer trace.StartRegion(ctx, "handleVote").End()

	if v.Round < k.round {
		k.log.Debug("Ignoring vote from abandoned round", "height", k.height, "round", v.Round)
		return nil
	}
	return k.addVote(ctx, v)
}

func (k *kernel) addVote(ctx context.Context, v chconsensus.Vote) error {
	res, err := k.hv.Add(v)
	if err != nil {
		k.m.rejected(err)
		k.log.Debug("Rejected vote", "height", k.height, "err", err)
		return nil
	}

	switch res {
	case chround.AddDuplicate, chround.AddFromEquivocator:
		return nil
	case chround.AddEquivocation:
		k.m.rejected(chconsensus.ErrEquivocation)
		k.m.count(equivocations)
		ev := k.hv.Evidence()
		last := ev[len(ev)-1]
		k.log.Warn(
			"Validator equivocated; excluding its votes at this height",
			"height", k.height,
			"validator_index", k.vals.Index(v.Voter),
			"first", fmt.Sprintf("%x", last.First.BlockHash),
			"second", fmt.Sprintf("%x", last.Second.BlockHash),
		)
		k.checkStalled()
		return nil
	}

	k.checkStalled()
	return k.maybeCommit(ctx, v.BlockHash)
}

func (k *kernel) checkStalled() {
	if k.stalled || !k.hv.Stalled() {
		return
	}
	k.stalled = true
	k.m.count(stalledHeights)
	k.log.Error(
		"Votes are split so that no block can finalize at this height by voting",
		"height", k.height,
		"round", k.round,
	)
}

// maybeCommit commits the block with blockHash
// if it has reached the threshold and was validated locally.
// A returned error is fatal to the engine.
func (k *kernel) maybeCommit(ctx context.Context, blockHash []byte) error {
	if k.advance || !k.hv.Reached(blockHash) {
		return nil
	}

	vb, ok := k.validated[string(blockHash)]
	if !ok {
		k.log.Debug(
			"Threshold reached for block not validated locally; awaiting proposal or committed block",
			"height", k.height,
			"hash", fmt.Sprintf("%x", blockHash),
		)
		return nil
	}

	proof, err := k.buildProof(blockHash)
	if err != nil {
		// Every counted vote was verified, so this is a bug, not bad input.
		return fmt.Errorf("failed to build finality proof at height %d: %w", k.height, err)
	}

	cb := chconsensus.CommittedBlock{
		Block:   k.blocks[string(blockHash)],
		Intents: vb.intents,
		Round:   k.round,
		Proof:   proof,
	}
	return k.commit(ctx, cb, vb.state, false)
}

func (k *kernel) buildProof(blockHash []byte) (gcrypto.FinalizedCommonMessageSignatureProof, error) {
	p, err := k.cmsp.New(
		chconsensus.VoteSignBytes(k.height, blockHash),
		k.vals.PubKeys(),
		k.vals.PubKeyHash(),
	)
	if err != nil {
		return gcrypto.FinalizedCommonMessageSignatureProof{}, err
	}

	for _, v := range k.hv.VotesFor(blockHash) {
		if err := p.AddSignature(v.Signature, v.Voter); err != nil {
			return gcrypto.FinalizedCommonMessageSignatureProof{}, err
		}
	}

	return k.cmsp.Finalize(p), nil
}

// commit makes cb canonical.
// Storage or state machine failures here are fatal,
// as the chain and the state would otherwise diverge.
func (k *kernel) commit(ctx context.Context, cb chconsensus.CommittedBlock, st chstate.State, fastForward bool) error {
	defer trace.StartRegion(ctx, "commit").End()

	if err := k.chain.Append(ctx, cb); err != nil {
		return fmt.Errorf("failed to append block at height %d: %w", cb.Block.Height, err)
	}
	if err := k.machine.Commit(ctx, st, cb.Block); err != nil {
		return fmt.Errorf("failed to commit state at height %d: %w", cb.Block.Height, err)
	}

	ids := cb.Block.IntentIDs
	k.mempool.MarkCommitted(ids)

	k.tip = cb.Block
	k.lastCommitted = ids
	k.phase = PhaseCommitted
	k.timer.Stop()
	k.advance = true

	k.m.committed(fastForward)
	k.log.Info(
		"Committed block",
		"height", cb.Block.Height,
		"round", cb.Round,
		"hash", fmt.Sprintf("%x", cb.Block.Hash),
		"intents", len(ids),
		"fast_forward", fastForward,
	)

	if !fastForward {
		k.broadcastCommitted(ctx, cb, chconsensus.RoundRef{})
	}
	if k.fd != nil {
		k.fd.Enqueue(cb)
	}
	return nil
}

// handleCommitted adopts a committed block for the current height
// on the strength of its finality proof, without voting.
func (k *kernel) handleCommitted(ctx context.Context, cb chconsensus.CommittedBlock) error {
	defer trace.StartRegion(ctx, "handleCommitted").End()

	b := cb.Block
	if err := k.checkBlock(b); err != nil {
		k.log.Debug("Ignoring committed block", "height", k.height, "err", err)
		return nil
	}
	if err := k.verifyProof(cb); err != nil {
		k.m.rejected(err)
		k.log.Info("Rejected committed block", "height", k.height, "err", err)
		return nil
	}

	st, err := k.machine.ValidateTransitionWith(ctx, k.prior, b, cb.Intents)
	if err != nil {
		if errors.Is(err, chconsensus.ErrRootMismatch) {
			k.noteRootMismatch(b)
		}
		k.m.rejected(err)
		k.log.Warn(
			"Cannot reproduce finalized block",
			"height", k.height,
			"hash", fmt.Sprintf("%x", b.Hash),
			"err", err,
		)
		return nil
	}
	k.noteValidTransition()

	k.blocks[string(b.Hash)] = b
	return k.commit(ctx, cb, st, true)
}

// verifyProof checks that cb's proof holds valid signatures
// from at least the threshold of the current validator set,
// not counting known equivocators.
func (k *kernel) verifyProof(cb chconsensus.CommittedBlock) error {
	proof := cb.Proof
	if proof.PubKeyHash != k.vals.PubKeyHash() {
		return fmt.Errorf("proof for a different validator set: %w", chconsensus.ErrUnknownVoter)
	}
	if !bytes.Equal(proof.Message, chconsensus.VoteSignBytes(cb.Block.Height, cb.Block.Hash)) {
		return fmt.Errorf("proof signs a different message: %w", chconsensus.ErrBadSignature)
	}

	signers, ok := k.cmsp.ValidateFinalizedProof(proof, k.vals.PubKeys())
	if !ok {
		return fmt.Errorf("invalid finality proof: %w", chconsensus.ErrBadSignature)
	}

	equivocators := k.hv.Equivocators()
	var power uint64
	for i, ok := signers.NextSet(0); ok; i, ok = signers.NextSet(i + 1) {
		if equivocators.Test(i) {
			continue
		}
		power += k.vals.At(int(i)).Power
	}
	if power < k.vals.Threshold() {
		return fmt.Errorf(
			"finality proof has power %d below threshold %d: %w",
			power, k.vals.Threshold(), chconsensus.ErrBadSignature,
		)
	}
	return nil
}

// serveCatchUp rebroadcasts the committed block for a height
// that a peer is still sending proposals or votes for.
func (k *kernel) serveCatchUp(ctx context.Context, msg inboundMessage) {
	var key chconsensus.RoundRef
	switch {
	case msg.Proposal != nil:
		key = chconsensus.RoundRef{Height: msg.Env.Height, Round: msg.Proposal.Round}
	case msg.Vote != nil:
		key = chconsensus.RoundRef{Height: msg.Env.Height, Round: msg.Vote.Round}
	default:
		return
	}

	if key.Height == 0 || key.Height > k.tip.Height {
		return
	}
	if _, ok := k.catchUpServed[key]; ok || len(k.catchUpServed) >= maxCatchUpResponses {
		return
	}
	k.catchUpServed[key] = struct{}{}

	cb, err := k.chain.BlockAt(ctx, key.Height)
	if err != nil {
		k.log.Warn("Failed to load committed block for lagging peer", "height", key.Height, "err", err)
		return
	}

	k.log.Debug("Rebroadcasting committed block for lagging peer", "height", key.Height, "peer_round", key.Round)
	k.broadcastCommitted(ctx, cb, key)
}

// broadcastCommitted sends cb, as an answer to the stale message at inReplyTo
// unless inReplyTo is zero.
func (k *kernel) broadcastCommitted(ctx context.Context, cb chconsensus.CommittedBlock, inReplyTo chconsensus.RoundRef) {
	payload, err := k.codec.MarshalCommittedBlock(cb)
	if err != nil {
		k.log.Warn("Failed to encode committed block", "height", cb.Block.Height, "err", err)
		return
	}
	k.broadcastAt(ctx, chgossip.TopicCommittedBlocks, chconsensus.KindCommittedBlock, cb.Block.Height, inReplyTo, payload)
}

func (k *kernel) broadcast(ctx context.Context, topic chgossip.Topic, kind chconsensus.MessageKind, payload []byte) bool {
	return k.broadcastAt(ctx, topic, kind, k.height, chconsensus.RoundRef{}, payload)
}

// broadcastAt signs and broadcasts payload, reporting whether it was sent.
// Gossip is best effort, so failures are only logged.
func (k *kernel) broadcastAt(
	ctx context.Context,
	topic chgossip.Topic, kind chconsensus.MessageKind,
	height uint64, inReplyTo chconsensus.RoundRef,
	payload []byte,
) bool {
	env, err := chconsensus.SignReply(ctx, k.signer, kind, height, inReplyTo, payload)
	if err != nil {
		k.log.Warn("Failed to sign envelope", "kind", kind, "err", err)
		return false
	}
	data, err := k.codec.MarshalEnvelope(env)
	if err != nil {
		k.log.Warn("Failed to encode envelope", "kind", kind, "err", err)
		return false
	}
	if err := k.network.Broadcast(ctx, topic, data); err != nil {
		k.log.Warn("Failed to broadcast", "topic", topic, "err", err)
		return false
	}
	return true
}

func (k *kernel) status() Status {
	s := Status{
		Height: k.height,
		Round:  k.round,
		Phase:  k.phase,

		TipHeight: k.tip.Height,
		TipHash:   bytes.Clone(k.tip.Hash),

		Stalled: k.stalled,

		ConsecutiveRootMismatches: k.rootMismatches,
		Desynchronized:            k.desynced,

		PendingIntents:         k.mempool.Len(),
		BufferedFutureMessages: k.future.Len() + k.futureRoundCount,
	}

	if k.myVote != nil {
		s.Voted = true
		s.VotedBlockHash = bytes.Clone(k.myVote.BlockHash)
	}

	if k.hv != nil {
		eq := k.hv.Equivocators()
		for i, ok := eq.NextSet(0); ok; i, ok = eq.NextSet(i + 1) {
			s.Equivocators = append(s.Equivocators, i)
		}
	}

	return s
}

package chenginetest

import (
	"context"
	"log/slog"
	"testing"

	"github.com/chaoschain/chaoscore/chcodec"
	"github.com/chaoschain/chaoscore/chcodec/chcbor"
	"github.com/chaoschain/chaoscore/chconsensus"
	"github.com/chaoschain/chaoscore/chconsensus/chconsensustest"
	"github.com/chaoschain/chaoscore/chgossip"
	"github.com/chaoschain/chaoscore/chstate"
	"github.com/chaoschain/chaoscore/gcrypto"
	"github.com/stretchr/testify/require"
)

// Puppet sends hand-built consensus messages on a network node,
// signed as whichever fixture validator the test chooses.
// It lets a test drive a single engine through exact scenarios.
type Puppet struct {
	t  *testing.T
	fx *chconsensustest.Fixture
	n  chgossip.Network

	Codec chcodec.Codec

	machine *chstate.Machine
}

func NewPuppet(t *testing.T, log *slog.Logger, fx *chconsensustest.Fixture, n chgossip.Network) *Puppet {
	return &Puppet{
		t:  t,
		fx: fx,
		n:  n,

		Codec: chcbor.NewCodec(&fx.Registry),

		machine: chstate.NewMachine(log, chstate.MachineConfig{Registry: &fx.Registry}),
	}
}

// Block returns a block at height 1 on top of genesis with the correct state root for intents.
func (p *Puppet) Block(producerIdx int, intents ...chconsensus.Intent) chconsensus.Block {
	p.t.Helper()

	gs, err := chstate.GenesisState(p.fx.Genesis)
	require.NoError(p.t, err)
	st, err := p.machine.Apply(gs, intents)
	require.NoError(p.t, err)

	return p.fx.Block(1, p.GenesisHash(), producerIdx, chconsensus.IntentIDs(intents), st.Root())
}

// GenesisHash returns the hash of the fixture's genesis block.
func (p *Puppet) GenesisHash() []byte {
	p.t.Helper()

	gs, err := chstate.GenesisState(p.fx.Genesis)
	require.NoError(p.t, err)
	return p.fx.Genesis.Block(gs.Root()).Hash
}

// Propose broadcasts b as validator senderIdx's proposal for round.
func (p *Puppet) Propose(ctx context.Context, senderIdx int, b chconsensus.Block, round uint32) {
	p.t.Helper()

	payload, err := p.Codec.MarshalProposal(chconsensus.Proposal{Block: b, Round: round})
	require.NoError(p.t, err)
	p.send(ctx, senderIdx, chgossip.TopicProposals, chconsensus.KindProposal, b.Height, payload)
}

// Vote broadcasts validator idx's vote.
func (p *Puppet) Vote(ctx context.Context, idx int, height uint64, round uint32, blockHash []byte) {
	p.t.Helper()

	payload, err := p.Codec.MarshalVote(p.fx.Vote(ctx, idx, height, round, blockHash))
	require.NoError(p.t, err)
	p.send(ctx, idx, chgossip.TopicVotes, chconsensus.KindVote, height, payload)
}

// Committed returns b as a committed block whose proof holds votes from voterIdxs.
func (p *Puppet) Committed(
	ctx context.Context, b chconsensus.Block, intents []chconsensus.Intent, round uint32, voterIdxs ...int,
) chconsensus.CommittedBlock {
	p.t.Helper()

	vs := p.fx.ValidatorSet()
	var scheme gcrypto.SimpleCommonMessageSignatureProofScheme
	proof, err := scheme.New(chconsensus.VoteSignBytes(b.Height, b.Hash), vs.PubKeys(), vs.PubKeyHash())
	require.NoError(p.t, err)

	for _, idx := range voterIdxs {
		v := p.fx.Vote(ctx, idx, b.Height, round, b.Hash)
		require.NoError(p.t, proof.AddSignature(v.Signature, v.Voter))
	}

	return chconsensus.CommittedBlock{
		Block:   b,
		Intents: intents,
		Round:   round,
		Proof:   scheme.Finalize(proof),
	}
}

// SendCommitted broadcasts cb as validator senderIdx.
func (p *Puppet) SendCommitted(ctx context.Context, senderIdx int, cb chconsensus.CommittedBlock) {
	p.t.Helper()

	payload, err := p.Codec.MarshalCommittedBlock(cb)
	require.NoError(p.t, err)
	p.send(ctx, senderIdx, chgossip.TopicCommittedBlocks, chconsensus.KindCommittedBlock, cb.Block.Height, payload)
}

func (p *Puppet) send(
	ctx context.Context, senderIdx int,
	topic chgossip.Topic, kind chconsensus.MessageKind, height uint64, payload []byte,
) {
	p.t.Helper()
	p.SendAs(ctx, p.fx.PrivVals[senderIdx].Signer, topic, kind, height, payload)
}

// SendAs broadcasts payload in an envelope signed by s,
// which need not belong to the validator set.
func (p *Puppet) SendAs(
	ctx context.Context, s gcrypto.Signer,
	topic chgossip.Topic, kind chconsensus.MessageKind, height uint64, payload []byte,
) {
	p.t.Helper()

	env, err := chconsensus.SignEnvelope(ctx, s, kind, height, payload)
	require.NoError(p.t, err)
	data, err := p.Codec.MarshalEnvelope(env)
	require.NoError(p.t, err)
	require.NoError(p.t, p.n.Broadcast(ctx, topic, data))
}

// Join subscribes to the consensus topics and discards what arrives.
// On fabrics that route by subscription, such as gossipsub,
// other peers then count the puppet as a topic peer.
// Do not combine Join with [Puppet.Votes] or [Puppet.Envelopes] on one puppet.
func (p *Puppet) Join(ctx context.Context) {
	p.t.Helper()

	for _, topic := range []chgossip.Topic{
		chgossip.TopicProposals,
		chgossip.TopicVotes,
		chgossip.TopicCommittedBlocks,
	} {
		envs := p.Envelopes(ctx, topic)
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-envs:
				}
			}
		}()
	}
}

// Votes subscribes to the votes topic and returns decoded votes.
func (p *Puppet) Votes(ctx context.Context) <-chan chconsensus.Vote {
	p.t.Helper()

	envs := p.Envelopes(ctx, chgossip.TopicVotes)
	out := make(chan chconsensus.Vote, 16)
	go func() {
		for {
			var env chconsensus.Envelope
			select {
			case <-ctx.Done():
				return
			case env = <-envs:
			}

			var v chconsensus.Vote
			if err := p.Codec.UnmarshalVote(env.Payload, &v); err != nil {
				continue
			}
			select {
			case out <- v:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Envelopes subscribes to topic and returns every decodable envelope,
// including those whose payload is not a consensus message.
func (p *Puppet) Envelopes(ctx context.Context, topic chgossip.Topic) <-chan chconsensus.Envelope {
	p.t.Helper()

	sub, err := p.n.Subscribe(topic)
	require.NoError(p.t, err)

	out := make(chan chconsensus.Envelope, 16)
	go func() {
		defer sub.Cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case data, ok := <-sub.C():
				if !ok {
					return
				}
				var env chconsensus.Envelope
				if err := p.Codec.UnmarshalEnvelope(data, &env); err != nil {
					continue
				}
				select {
				case out <- env:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

package chengine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/trace"

	"github.com/chaoschain/chaoscore/chcodec"
	"github.com/chaoschain/chaoscore/chconsensus"
	"github.com/chaoschain/chaoscore/chgossip"
	"github.com/chaoschain/chaoscore/internal/gchan"
)

// inboundMessage is a decoded gossip message whose envelope signature,
// and vote signature if any, have been verified.
// Exactly one of the payload fields is set.
type inboundMessage struct {
	Env chconsensus.Envelope

	Proposal  *chconsensus.Proposal
	Vote      *chconsensus.Vote
	Committed *chconsensus.CommittedBlock
}

// inboundVerifier does the per-message work that needs no kernel state.
// Its Handle method runs concurrently on the engine's worker pool.
type inboundVerifier struct {
	log   *slog.Logger
	codec chcodec.Codec
	out   chan<- inboundMessage
	m     *Metrics
}

var topicKinds = map[chgossip.Topic]chconsensus.MessageKind{
	chgossip.TopicProposals:       chconsensus.KindProposal,
	chgossip.TopicVotes:           chconsensus.KindVote,
	chgossip.TopicCommittedBlocks: chconsensus.KindCommittedBlock,
}

// Handle decodes and verifies data received on topic,
// and forwards it to the kernel if it is acceptable.
func (v *inboundVerifier) Handle(ctx context.Context, topic chgossip.Topic, data []byte) {
	defer trace.StartRegion(ctx, "verifyInbound").End()

	msg, err := v.decode(topic, data)
	if err != nil {
		v.m.rejected(err)
		v.log.Debug("Discarding inbound message", "topic", topic, "err", err)
		return
	}

	_ = gchan.SendC(ctx, v.log, v.out, msg, "inbound")
}

func (v *inboundVerifier) decode(topic chgossip.Topic, data []byte) (inboundMessage, error) {
	var env chconsensus.Envelope
	if err := v.codec.UnmarshalEnvelope(data, &env); err != nil {
		return inboundMessage{}, fmt.Errorf("failed to decode envelope: %w", err)
	}

	// Nothing else about the message is trusted before this.
	if err := env.Verify(); err != nil {
		return inboundMessage{}, err
	}

	if want := topicKinds[topic]; env.Kind != want {
		return inboundMessage{}, fmt.Errorf("%s envelope on %s topic", env.Kind, topic)
	}

	msg := inboundMessage{Env: env}
	switch env.Kind {
	case chconsensus.KindProposal:
		var p chconsensus.Proposal
		if err := v.codec.UnmarshalProposal(env.Payload, &p); err != nil {
			return inboundMessage{}, fmt.Errorf("failed to decode proposal: %w", err)
		}
		if p.Block.Height != env.Height {
			return inboundMessage{}, fmt.Errorf(
				"proposal for height %d in envelope for height %d", p.Block.Height, env.Height,
			)
		}
		// Hash validity is checked here rather than in the kernel since it needs no state.
		if !p.Block.HashValid() {
			return inboundMessage{}, fmt.Errorf("proposed block at height %d has invalid hash", p.Block.Height)
		}
		msg.Proposal = &p

	case chconsensus.KindVote:
		var vote chconsensus.Vote
		if err := v.codec.UnmarshalVote(env.Payload, &vote); err != nil {
			return inboundMessage{}, fmt.Errorf("failed to decode vote: %w", err)
		}
		if vote.Height != env.Height {
			return inboundMessage{}, fmt.Errorf(
				"vote for height %d in envelope for height %d", vote.Height, env.Height,
			)
		}
		if vote.Voter == nil || !vote.Voter.Equal(env.Sender) {
			return inboundMessage{}, fmt.Errorf("vote relayed by a different sender: %w", chconsensus.ErrBadSignature)
		}
		if !vote.Voter.Verify(chconsensus.VoteSignBytes(vote.Height, vote.BlockHash), vote.Signature) {
			return inboundMessage{}, fmt.Errorf("vote at height %d: %w", vote.Height, chconsensus.ErrBadSignature)
		}
		msg.Vote = &vote

	case chconsensus.KindCommittedBlock:
		var cb chconsensus.CommittedBlock
		if err := v.codec.UnmarshalCommittedBlock(env.Payload, &cb); err != nil {
			return inboundMessage{}, fmt.Errorf("failed to decode committed block: %w", err)
		}
		if cb.Block.Height != env.Height {
			return inboundMessage{}, fmt.Errorf(
				"committed block for height %d in envelope for height %d", cb.Block.Height, env.Height,
			)
		}
		if !cb.Block.HashValid() {
			return inboundMessage{}, fmt.Errorf("committed block at height %d has invalid hash", cb.Block.Height)
		}
		msg.Committed = &cb
	}

	return msg, nil
}

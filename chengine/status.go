package chengine

import "fmt"

// Phase is the progress of the current round.
type Phase uint8

const (
	_ Phase = iota

	// Waiting for the round's proposal.
	PhasePropose

	// A proposal for the round has been observed; votes are being collected.
	PhaseVoting

	// The height committed. Reported only briefly, before the next height begins.
	PhaseCommitted

	// The round timed out. The next round follows immediately.
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhasePropose:
		return "propose"
	case PhaseVoting:
		return "voting"
	case PhaseCommitted:
		return "committed"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("Phase(%d)", uint8(p))
	}
}

// Status is a snapshot of the engine, as reported by [*Engine.Status].
type Status struct {
	Height uint64
	Round  uint32
	Phase  Phase

	TipHeight uint64
	TipHash   []byte

	// Whether this node has voted at Height, and for which block.
	Voted          bool
	VotedBlockHash []byte

	// Validator indices excluded at Height for equivocating.
	Equivocators []uint

	// Set when split votes mean Height cannot finalize by voting.
	Stalled bool

	ConsecutiveRootMismatches int

	// Set after too many consecutive root mismatches,
	// until this node next validates a proposal successfully.
	Desynchronized bool

	PendingIntents         int
	BufferedFutureMessages int
}

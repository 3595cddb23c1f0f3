package chelink

import (
	"github.com/chaoschain/chaoscore/chconsensus"
	"github.com/chaoschain/chaoscore/gcrypto"
)

// RoundUpdate is emitted from the engine each time it enters a round.
//
// The primary consumer is intent forwarding,
// which wants to know who will produce the next few blocks.
type RoundUpdate struct {
	Height uint64
	Round  uint32

	Producer   gcrypto.PubKey
	IsProducer bool

	// Producers of the following rounds at this height, nearest first.
	UpcomingProducers []gcrypto.PubKey

	// Intents committed by the block that ended the previous height.
	// Only set on round 0.
	Committed []chconsensus.IntentID
}

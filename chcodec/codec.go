// Package chcodec defines the encoding of consensus values for gossip and storage.
package chcodec

import "github.com/chaoschain/chaoscore/chconsensus"

// MarshalCodec marshals consensus values to bytes.
// Implementations must be deterministic:
// equal values always produce identical bytes,
// so content-hash deduplication and signatures over encodings are stable.
type MarshalCodec interface {
	MarshalEnvelope(chconsensus.Envelope) ([]byte, error)
	MarshalProposal(chconsensus.Proposal) ([]byte, error)
	MarshalVote(chconsensus.Vote) ([]byte, error)
	MarshalCommittedBlock(chconsensus.CommittedBlock) ([]byte, error)
	MarshalIntent(chconsensus.Intent) ([]byte, error)
}

// UnmarshalCodec unmarshals bytes produced by a [MarshalCodec].
type UnmarshalCodec interface {
	UnmarshalEnvelope([]byte, *chconsensus.Envelope) error
	UnmarshalProposal([]byte, *chconsensus.Proposal) error
	UnmarshalVote([]byte, *chconsensus.Vote) error
	UnmarshalCommittedBlock([]byte, *chconsensus.CommittedBlock) error
	UnmarshalIntent([]byte, *chconsensus.Intent) error
}

type Codec interface {
	MarshalCodec
	UnmarshalCodec
}

package chconsensus

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/chaoschain/chaoscore/gcrypto"
)

// MessageKind is the type of payload carried in an [Envelope].
type MessageKind uint8

const (
	// Zero value reserved so uninitialized envelopes are invalid.
	_ MessageKind = iota

	KindProposal
	KindVote
	KindCommittedBlock
	KindIntent
)

func (k MessageKind) String() string {
	switch k {
	case KindProposal:
		return "proposal"
	case KindVote:
		return "vote"
	case KindCommittedBlock:
		return "committed-block"
	case KindIntent:
		return "intent"
	default:
		return fmt.Sprintf("MessageKind(%d)", uint8(k))
	}
}

// RoundRef names one round at one height.
type RoundRef struct {
	Height uint64
	Round  uint32
}

// Envelope is the signed wrapper for every gossiped message.
type Envelope struct {
	Kind   MessageKind
	Height uint64

	// Encoded proposal, vote, committed block, or intent.
	Payload []byte

	// Zero except on a committed block sent to a lagging peer,
	// where it names the stale proposal or vote being answered.
	// Each answer is then distinct on the wire from the original broadcast
	// and from answers to other stale messages.
	InReplyTo RoundRef

	Sender    gcrypto.PubKey
	Signature []byte
}

const envelopeSignDomain = "chaoscore/envelope\x00"

// EnvelopeSignBytes returns the content an envelope's signature covers.
func EnvelopeSignBytes(kind MessageKind, height uint64, inReplyTo RoundRef, payload []byte) []byte {
	out := make([]byte, 0, len(envelopeSignDomain)+1+8+8+4+len(payload))
	out = append(out, envelopeSignDomain...)
	out = append(out, byte(kind))
	out = binary.BigEndian.AppendUint64(out, height)
	out = binary.BigEndian.AppendUint64(out, inReplyTo.Height)
	out = binary.BigEndian.AppendUint32(out, inReplyTo.Round)
	return append(out, payload...)
}

// SignEnvelope returns an envelope around payload, signed by s.
func SignEnvelope(ctx context.Context, s gcrypto.Signer, kind MessageKind, height uint64, payload []byte) (Envelope, error) {
	return SignReply(ctx, s, kind, height, RoundRef{}, payload)
}

// SignReply is like [SignEnvelope] for a message answering the stale message at inReplyTo.
func SignReply(
	ctx context.Context, s gcrypto.Signer, kind MessageKind, height uint64, inReplyTo RoundRef, payload []byte,
) (Envelope, error) {
	sig, err := s.Sign(ctx, EnvelopeSignBytes(kind, height, inReplyTo, payload))
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to sign %s envelope: %w", kind, err)
	}

	return Envelope{
		Kind:      kind,
		Height:    height,
		Payload:   payload,
		InReplyTo: inReplyTo,
		Sender:    s.PubKey(),
		Signature: sig,
	}, nil
}

// Verify checks only the envelope signature against the claimed sender.
// Membership of the sender is a separate decision for the receiver.
func (e Envelope) Verify() error {
	if e.Sender == nil {
		return fmt.Errorf("%s envelope without sender: %w", e.Kind, ErrBadSignature)
	}
	if !e.Sender.Verify(EnvelopeSignBytes(e.Kind, e.Height, e.InReplyTo, e.Payload), e.Signature) {
		return fmt.Errorf("%s envelope at height %d: %w", e.Kind, e.Height, ErrBadSignature)
	}
	return nil
}

package chcbor

import (
	"fmt"

	"github.com/chaoschain/chaoscore/chcodec"
	"github.com/chaoschain/chaoscore/chconsensus"
	"github.com/chaoschain/chaoscore/gcrypto"
	"github.com/fxamacker/cbor/v2"
)

var _ chcodec.Codec = Codec{}

var (
	encMode = func() cbor.EncMode {
		em, err := cbor.CoreDetEncOptions().EncMode()
		if err != nil {
			panic(err)
		}
		return em
	}()

	decMode = func() cbor.DecMode {
		dm, err := cbor.DecOptions{
			// Duplicate map keys would make two encodings decode identically.
			DupMapKey:         cbor.DupMapKeyEnforcedAPF,
			MaxArrayElements:  1 << 20,
			ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
		}.DecMode()
		if err != nil {
			panic(err)
		}
		return dm
	}()
)

// Codec is the CBOR [chcodec.Codec].
type Codec struct {
	reg *gcrypto.Registry
}

// NewCodec returns a codec that encodes keys with reg.
func NewCodec(reg *gcrypto.Registry) Codec {
	return Codec{reg: reg}
}

// Marshal encodes any value with the deterministic encoding mode.
// Other packages use it for their own persisted values.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes b into v with the strict decoding mode.
func Unmarshal(b []byte, v any) error {
	return decMode.Unmarshal(b, v)
}

func (c Codec) MarshalEnvelope(e chconsensus.Envelope) ([]byte, error) {
	return encMode.Marshal(wireEnvelope{
		Kind:        uint8(e.Kind),
		Height:      e.Height,
		Payload:     e.Payload,
		ReplyHeight: e.InReplyTo.Height,
		ReplyRound:  e.InReplyTo.Round,
		Sender:      c.marshalKey(e.Sender),
		Signature:   e.Signature,
	})
}

func (c Codec) UnmarshalEnvelope(b []byte, e *chconsensus.Envelope) error {
	var w wireEnvelope
	if err := decMode.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("failed to decode envelope: %w", err)
	}

	sender, err := c.unmarshalKey(w.Sender)
	if err != nil {
		return fmt.Errorf("failed to decode envelope sender: %w", err)
	}

	*e = chconsensus.Envelope{
		Kind:    chconsensus.MessageKind(w.Kind),
		Height:  w.Height,
		Payload: w.Payload,
		InReplyTo: chconsensus.RoundRef{
			Height: w.ReplyHeight,
			Round:  w.ReplyRound,
		},
		Sender:    sender,
		Signature: w.Signature,
	}
	return nil
}

func (c Codec) MarshalProposal(p chconsensus.Proposal) ([]byte, error) {
	return encMode.Marshal(wireProposal{
		Block: c.toWireBlock(p.Block),
		Round: p.Round,
	})
}

func (c Codec) UnmarshalProposal(b []byte, p *chconsensus.Proposal) error {
	var w wireProposal
	if err := decMode.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("failed to decode proposal: %w", err)
	}

	blk, err := c.fromWireBlock(w.Block)
	if err != nil {
		return fmt.Errorf("failed to decode proposed block: %w", err)
	}

	*p = chconsensus.Proposal{Block: blk, Round: w.Round}
	return nil
}

func (c Codec) MarshalVote(v chconsensus.Vote) ([]byte, error) {
	return encMode.Marshal(wireVote{
		Height:    v.Height,
		Round:     v.Round,
		BlockHash: v.BlockHash,
		Voter:     c.marshalKey(v.Voter),
		Signature: v.Signature,
	})
}

func (c Codec) UnmarshalVote(b []byte, v *chconsensus.Vote) error {
	var w wireVote
	if err := decMode.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("failed to decode vote: %w", err)
	}

	voter, err := c.unmarshalKey(w.Voter)
	if err != nil {
		return fmt.Errorf("failed to decode voter key: %w", err)
	}

	*v = chconsensus.Vote{
		Height:    w.Height,
		Round:     w.Round,
		BlockHash: w.BlockHash,
		Voter:     voter,
		Signature: w.Signature,
	}
	return nil
}

func (c Codec) MarshalIntent(in chconsensus.Intent) ([]byte, error) {
	return encMode.Marshal(c.toWireIntent(in))
}

func (c Codec) UnmarshalIntent(b []byte, in *chconsensus.Intent) error {
	var w wireIntent
	if err := decMode.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("failed to decode intent: %w", err)
	}

	out, err := c.fromWireIntent(w)
	if err != nil {
		return err
	}
	*in = out
	return nil
}

func (c Codec) MarshalCommittedBlock(cb chconsensus.CommittedBlock) ([]byte, error) {
	intents := make([]wireIntent, len(cb.Intents))
	for i, in := range cb.Intents {
		intents[i] = c.toWireIntent(in)
	}

	sigs := make([]wireSparseSignature, len(cb.Proof.Signatures))
	for i, s := range cb.Proof.Signatures {
		sigs[i] = wireSparseSignature{KeyID: s.KeyID, Sig: s.Sig}
	}

	return encMode.Marshal(wireCommittedBlock{
		Block:   c.toWireBlock(cb.Block),
		Intents: intents,
		Round:   cb.Round,
		Proof: wireProof{
			PubKeyHash: []byte(cb.Proof.PubKeyHash),
			Message:    cb.Proof.Message,
			Signatures: sigs,
		},
	})
}

func (c Codec) UnmarshalCommittedBlock(b []byte, cb *chconsensus.CommittedBlock) error {
	var w wireCommittedBlock
	if err := decMode.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("failed to decode committed block: %w", err)
	}

	blk, err := c.fromWireBlock(w.Block)
	if err != nil {
		return fmt.Errorf("failed to decode committed block: %w", err)
	}

	intents := make([]chconsensus.Intent, len(w.Intents))
	for i, wi := range w.Intents {
		in, err := c.fromWireIntent(wi)
		if err != nil {
			return fmt.Errorf("committed intent %d: %w", i, err)
		}
		intents[i] = in
	}

	sigs := make([]gcrypto.SparseSignature, len(w.Proof.Signatures))
	for i, s := range w.Proof.Signatures {
		sigs[i] = gcrypto.SparseSignature{KeyID: s.KeyID, Sig: s.Sig}
	}

	*cb = chconsensus.CommittedBlock{
		Block:   blk,
		Intents: intents,
		Round:   w.Round,
		Proof: gcrypto.FinalizedCommonMessageSignatureProof{
			PubKeyHash: string(w.Proof.PubKeyHash),
			Message:    w.Proof.Message,
			Signatures: sigs,
		},
	}
	return nil
}

package chcbor

import (
	"fmt"
	"time"

	"github.com/chaoschain/chaoscore/chconsensus"
	"github.com/chaoschain/chaoscore/gcrypto"
)

type wireEnvelope struct {
	_ struct{} `cbor:",toarray"`

	Kind        uint8
	Height      uint64
	Payload     []byte
	ReplyHeight uint64
	ReplyRound  uint32
	Sender      []byte
	Signature   []byte
}

type wireBlock struct {
	_ struct{} `cbor:",toarray"`

	Height    uint64
	PrevHash  []byte
	IntentIDs [][]byte
	Timestamp int64
	Producer  []byte
	StateRoot []byte
	Hash      []byte
}

type wireProposal struct {
	_ struct{} `cbor:",toarray"`

	Block wireBlock
	Round uint32
}

type wireVote struct {
	_ struct{} `cbor:",toarray"`

	Height    uint64
	Round     uint32
	BlockHash []byte
	Voter     []byte
	Signature []byte
}

type wireIntent struct {
	_ struct{} `cbor:",toarray"`

	Submitter  []byte
	Nonce      uint64
	Payload    []byte
	Commitment []byte
}

type wireSparseSignature struct {
	_ struct{} `cbor:",toarray"`

	KeyID []byte
	Sig   []byte
}

type wireProof struct {
	_ struct{} `cbor:",toarray"`

	PubKeyHash []byte
	Message    []byte
	Signatures []wireSparseSignature
}

type wireCommittedBlock struct {
	_ struct{} `cbor:",toarray"`

	Block   wireBlock
	Intents []wireIntent
	Round   uint32
	Proof   wireProof
}

func (c Codec) marshalKey(k gcrypto.PubKey) []byte {
	if k == nil {
		return nil
	}
	return c.reg.Marshal(k)
}

func (c Codec) unmarshalKey(b []byte) (gcrypto.PubKey, error) {
	if len(b) == 0 {
		return nil, nil
	}
	return c.reg.Unmarshal(b)
}

func (c Codec) toWireBlock(b chconsensus.Block) wireBlock {
	ids := make([][]byte, len(b.IntentIDs))
	for i, id := range b.IntentIDs {
		ids[i] = id[:]
	}

	return wireBlock{
		Height:    b.Height,
		PrevHash:  b.PrevHash,
		IntentIDs: ids,
		Timestamp: b.Timestamp.UnixNano(),
		Producer:  c.marshalKey(b.Producer),
		StateRoot: b.StateRoot,
		Hash:      b.Hash,
	}
}

func (c Codec) fromWireBlock(w wireBlock) (chconsensus.Block, error) {
	ids := make([]chconsensus.IntentID, len(w.IntentIDs))
	for i, id := range w.IntentIDs {
		if len(id) != len(chconsensus.IntentID{}) {
			return chconsensus.Block{}, fmt.Errorf("intent ID %d: wrong length %d", i, len(id))
		}
		copy(ids[i][:], id)
	}

	producer, err := c.unmarshalKey(w.Producer)
	if err != nil {
		return chconsensus.Block{}, fmt.Errorf("failed to decode producer key: %w", err)
	}

	return chconsensus.Block{
		Height:    w.Height,
		PrevHash:  w.PrevHash,
		IntentIDs: ids,
		Timestamp: time.Unix(0, w.Timestamp).UTC(),
		Producer:  producer,
		StateRoot: w.StateRoot,
		Hash:      w.Hash,
	}, nil
}

func (c Codec) toWireIntent(in chconsensus.Intent) wireIntent {
	return wireIntent{
		Submitter:  c.marshalKey(in.Submitter),
		Nonce:      in.Nonce,
		Payload:    in.Payload,
		Commitment: in.Commitment,
	}
}

func (c Codec) fromWireIntent(w wireIntent) (chconsensus.Intent, error) {
	sub, err := c.unmarshalKey(w.Submitter)
	if err != nil {
		return chconsensus.Intent{}, fmt.Errorf("failed to decode submitter key: %w", err)
	}
	if sub == nil {
		return chconsensus.Intent{}, fmt.Errorf("intent without submitter")
	}

	return chconsensus.Intent{
		Submitter:  sub,
		Nonce:      w.Nonce,
		Payload:    w.Payload,
		Commitment: w.Commitment,
	}, nil
}

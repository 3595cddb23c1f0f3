package chconsensus

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"

	"github.com/chaoschain/chaoscore/gcrypto"
)

// Vote is a validator's approval of a block hash at a height.
type Vote struct {
	Height uint64

	// Round is carried for tallying only.
	// It is not covered by Signature;
	// the enclosing envelope's signature covers it.
	Round uint32

	BlockHash []byte

	Voter gcrypto.PubKey

	Signature []byte
}

const voteSignDomain = "chaoscore/vote\x00"

// VoteSignBytes returns the content a vote's signature covers.
func VoteSignBytes(height uint64, blockHash []byte) []byte {
	out := make([]byte, 0, len(voteSignDomain)+8+len(blockHash))
	out = append(out, voteSignDomain...)
	out = binary.BigEndian.AppendUint64(out, height)
	return append(out, blockHash...)
}

// NewVote returns a vote signed by s.
func NewVote(ctx context.Context, s gcrypto.Signer, height uint64, round uint32, blockHash []byte) (Vote, error) {
	sig, err := s.Sign(ctx, VoteSignBytes(height, blockHash))
	if err != nil {
		return Vote{}, fmt.Errorf("failed to sign vote: %w", err)
	}

	return Vote{
		Height:    height,
		Round:     round,
		BlockHash: bytes.Clone(blockHash),
		Voter:     s.PubKey(),
		Signature: sig,
	}, nil
}

// Verify checks that v's voter is in vs and that the signature is valid.
// It returns an error matching [ErrUnknownVoter] or [ErrBadSignature].
func (v Vote) Verify(vs ValidatorSet) error {
	if v.Voter == nil || vs.Index(v.Voter) < 0 {
		return ErrUnknownVoter
	}

	if !v.Voter.Verify(VoteSignBytes(v.Height, v.BlockHash), v.Signature) {
		return fmt.Errorf("vote at height %d: %w", v.Height, ErrBadSignature)
	}

	return nil
}

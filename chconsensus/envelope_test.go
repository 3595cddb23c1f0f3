package chconsensus_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/chaoschain/chaoscore/chconsensus"
	"github.com/chaoschain/chaoscore/chconsensus/chconsensustest"
	"github.com/stretchr/testify/require"
)

func TestEnvelope_Verify(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := chconsensustest.NewEd25519Fixture(2)

	e, err := chconsensus.SignEnvelope(ctx, fx.PrivVals[0].Signer, chconsensus.KindVote, 7, []byte("payload"))
	require.NoError(t, err)
	require.NoError(t, e.Verify())

	for name, mutate := range map[string]func(*chconsensus.Envelope){
		"kind":    func(e *chconsensus.Envelope) { e.Kind = chconsensus.KindProposal },
		"height":  func(e *chconsensus.Envelope) { e.Height = 8 },
		"payload": func(e *chconsensus.Envelope) { e.Payload = []byte("other") },
		"reply":   func(e *chconsensus.Envelope) { e.InReplyTo.Round = 1 },
		"sender":  func(e *chconsensus.Envelope) { e.Sender = fx.PrivVals[1].Signer.PubKey() },
		"nil sender": func(e *chconsensus.Envelope) {
			e.Sender = nil
		},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			c := e
			mutate(&c)
			require.ErrorIs(t, c.Verify(), chconsensus.ErrBadSignature)
		})
	}
}

func TestIntent_Commitment(t *testing.T) {
	t.Parallel()

	fx := chconsensustest.NewEd25519Fixture(1)
	in := fx.Intent(0, []byte("set x"))
	require.NoError(t, in.VerifyCommitment())

	forged := in
	forged.Payload = []byte("set y")
	require.ErrorIs(t, forged.VerifyCommitment(), chconsensus.ErrInvalidCommitment)
	require.NotEqual(t, in.ID(), forged.ID())

	resigned := in
	resigned.Commitment = nil
	require.Equal(t, in.ID(), resigned.ID())
}

func TestClassOf(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("proposal 3: %w", chconsensus.ErrRootMismatch)
	require.Equal(t, chconsensus.ValidationError, chconsensus.ClassOf(wrapped))
	require.True(t, chconsensus.IsValidationError(wrapped))
	require.ErrorIs(t, wrapped, chconsensus.ErrRootMismatch)

	require.True(t, chconsensus.IsAdmissionError(chconsensus.ErrFull))
	require.Equal(t, chconsensus.ProtocolError, chconsensus.ClassOf(chconsensus.ErrEquivocation))
	require.Equal(t, chconsensus.LivenessFailure, chconsensus.ClassOf(chconsensus.ErrRoundTimeout))
	require.Zero(t, chconsensus.ClassOf(fmt.Errorf("plain")))
}

func TestSignReply(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := chconsensustest.NewEd25519Fixture(1)
	s := fx.PrivVals[0].Signer

	plain, err := chconsensus.SignEnvelope(ctx, s, chconsensus.KindCommittedBlock, 3, []byte("block"))
	require.NoError(t, err)

	r0, err := chconsensus.SignReply(ctx, s, chconsensus.KindCommittedBlock, 3, chconsensus.RoundRef{Height: 3, Round: 0}, []byte("block"))
	require.NoError(t, err)
	require.NoError(t, r0.Verify())

	r1, err := chconsensus.SignReply(ctx, s, chconsensus.KindCommittedBlock, 3, chconsensus.RoundRef{Height: 3, Round: 1}, []byte("block"))
	require.NoError(t, err)
	require.NoError(t, r1.Verify())

	// Signatures are deterministic, so only the reply reference sets these apart.
	require.NotEqual(t, plain.Signature, r0.Signature)
	require.NotEqual(t, r0.Signature, r1.Signature)
}

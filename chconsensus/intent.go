package chconsensus

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/chaoschain/chaoscore/gcrypto"
)

// IntentID is the content hash identifying an [Intent].
type IntentID [sha256.Size]byte

func (id IntentID) String() string {
	return hex.EncodeToString(id[:])
}

// Short returns the first eight hex characters of the ID, for logging.
func (id IntentID) Short() string {
	return hex.EncodeToString(id[:4])
}

// Intent is an opaque payload submitted for inclusion in a block.
// The commitment is the submitter's signature over [IntentSignBytes].
type Intent struct {
	Submitter gcrypto.PubKey

	// Nonce distinguishes otherwise identical payloads from the same submitter.
	Nonce uint64

	Payload []byte

	Commitment []byte
}

// IntentSignBytes returns the content that an intent's commitment signs.
// The intent ID is the sha256 hash of the same content.
func IntentSignBytes(submitter gcrypto.PubKey, nonce uint64, payload []byte) []byte {
	pk := submitter.PubKeyBytes()
	out := make([]byte, 0, len(pk)+8+len(payload))
	out = append(out, pk...)
	out = binary.LittleEndian.AppendUint64(out, nonce)
	return append(out, payload...)
}

// ID returns the content hash of the intent.
// The commitment is not part of the ID,
// so resigning the same content does not produce a new intent.
func (i Intent) ID() IntentID {
	return sha256.Sum256(IntentSignBytes(i.Submitter, i.Nonce, i.Payload))
}

// VerifyCommitment returns [ErrInvalidCommitment] unless the commitment
// is a valid signature by the submitter.
func (i Intent) VerifyCommitment() error {
	if i.Submitter == nil {
		return fmt.Errorf("missing submitter: %w", ErrInvalidCommitment)
	}
	if !i.Submitter.Verify(IntentSignBytes(i.Submitter, i.Nonce, i.Payload), i.Commitment) {
		return ErrInvalidCommitment
	}
	return nil
}

// NewIntent returns a committed intent signed by s.
func NewIntent(ctx context.Context, s gcrypto.Signer, nonce uint64, payload []byte) (Intent, error) {
	sig, err := s.Sign(ctx, IntentSignBytes(s.PubKey(), nonce, payload))
	if err != nil {
		return Intent{}, fmt.Errorf("failed to sign intent: %w", err)
	}

	return Intent{
		Submitter:  s.PubKey(),
		Nonce:      nonce,
		Payload:    payload,
		Commitment: sig,
	}, nil
}

// IntentIDs returns the IDs of intents, in order.
func IntentIDs(intents []Intent) []IntentID {
	out := make([]IntentID, len(intents))
	for i, in := range intents {
		out[i] = in.ID()
	}
	return out
}

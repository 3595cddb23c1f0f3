package chconsensus

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"time"

	"github.com/chaoschain/chaoscore/gcrypto"
)

// Block is a candidate or committed block.
//
// The round in which a block is proposed is deliberately absent,
// so the same block may be proposed again in a later round
// and keep its hash and any votes for it.
type Block struct {
	Height uint64

	// Hash of the block at Height-1.
	// All zero bytes at the genesis height.
	PrevHash []byte

	// Ordered; the order is part of the hash.
	IntentIDs []IntentID

	Timestamp time.Time

	// Nil only for the genesis block.
	Producer gcrypto.PubKey

	StateRoot []byte

	// Content hash of every preceding field, as set by [Block.SetHash].
	Hash []byte
}

// ZeroHash is the PrevHash of the genesis block.
var ZeroHash = make([]byte, sha256.Size)

const blockHashDomain = "chaoscore/block\x00"

// ComputeHash returns the canonical hash of every field except Hash.
// Variable-length fields are length-prefixed,
// so no two distinct blocks share an encoding.
func (b Block) ComputeHash() []byte {
	var buf bytes.Buffer
	buf.WriteString(blockHashDomain)

	buf.Write(binary.BigEndian.AppendUint64(nil, b.Height))
	writeLenPrefixed(&buf, b.PrevHash)

	buf.Write(binary.BigEndian.AppendUint32(nil, uint32(len(b.IntentIDs))))
	for _, id := range b.IntentIDs {
		buf.Write(id[:])
	}

	buf.Write(binary.BigEndian.AppendUint64(nil, uint64(b.Timestamp.UnixNano())))

	if b.Producer == nil {
		writeLenPrefixed(&buf, nil)
		writeLenPrefixed(&buf, nil)
	} else {
		writeLenPrefixed(&buf, []byte(b.Producer.TypeName()))
		writeLenPrefixed(&buf, b.Producer.PubKeyBytes())
	}

	writeLenPrefixed(&buf, b.StateRoot)

	h := sha256.Sum256(buf.Bytes())
	return h[:]
}

// SetHash sets b.Hash to b.ComputeHash().
func (b *Block) SetHash() {
	b.Hash = b.ComputeHash()
}

// HashValid reports whether b.Hash matches the block's content.
func (b Block) HashValid() bool {
	return bytes.Equal(b.Hash, b.ComputeHash())
}

func writeLenPrefixed(buf *bytes.Buffer, b []byte) {
	buf.Write(binary.BigEndian.AppendUint32(nil, uint32(len(b))))
	buf.Write(b)
}

// Proposal is a block offered by the designated producer for a particular round.
type Proposal struct {
	Block Block
	Round uint32
}

// CommittedBlock is a finalized block with everything a lagging peer
// needs to adopt it without voting: the full intents and the finality proof.
type CommittedBlock struct {
	Block   Block
	Intents []Intent

	// Round in which the block gathered its votes.
	Round uint32

	Proof gcrypto.FinalizedCommonMessageSignatureProof
}

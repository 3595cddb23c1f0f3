package network

// IntentBatch is the gossip unit on the intents topic.
type IntentBatch struct {
	// Codec-encoded intents.
	Intents [][]byte `cbor:"i"`

	// Address of the producer the batch was forwarded toward.
	// Empty for freshly submitted intents.
	Producer []byte `cbor:"p,omitempty"`

	Height uint64 `cbor:"h"`
	Round  uint32 `cbor:"r"`
}

// Stats tracks network client statistics.
type Stats struct {
	BatchesSent  uint64
	IntentsSent  uint64
	SendErrors   uint64
	DecodeErrors uint64
	ActiveSends  uint32 // Currently active send operations
}

package gcrypto

import "context"

// PubKey is the public half of a validator or submitter identity.
type PubKey interface {
	// Address is a short identifier derived from the key,
	// suitable for logging and map keys.
	Address() []byte

	PubKeyBytes() []byte

	Equal(other PubKey) bool

	Verify(msg, sig []byte) bool

	// TypeName is the name under which the key type is registered in a [Registry].
	TypeName() string
}

// Signer produces signatures for a single private key.
type Signer interface {
	PubKey() PubKey

	// Sign returns the signature for input.
	// The context is present for signers that call out to a remote process;
	// in-process signers may ignore it.
	Sign(ctx context.Context, input []byte) ([]byte, error)
}

package gcrypto

import "errors"

var (
	// ErrUnknownKey is returned when a key is not among a proof's candidate keys.
	ErrUnknownKey = errors.New("unknown key")

	// ErrInvalidSignature is returned when a signature does not verify against its claimed key.
	ErrInvalidSignature = errors.New("invalid signature")
)

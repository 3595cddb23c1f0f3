// Package gerasure defines erasure coding of byte payloads into shards
// from which the payload can be recovered when some shards are lost.
package gerasure

import (
	"context"
	"errors"
)

// Encoder splits data into shards.
// Which subsets of the shards suffice to recover data depends on the implementation.
type Encoder interface {
	Encode(ctx context.Context, data []byte) ([][]byte, error)
}

// Reconstructor recovers one payload from shards produced by a matching [Encoder].
type Reconstructor interface {
	// ReconstructData adds the shard at index idx.
	// It returns nil once enough shards are present for [Reconstructor.Data],
	// [ErrIncompleteSet] if more are needed,
	// or another error if the shard was unusable.
	ReconstructData(ctx context.Context, idx int, shard []byte) error

	// Data appends the recovered payload to dst.
	// Shards may be zero-padded, so the caller supplies the original size.
	Data(dst []byte, dataSize int) ([]byte, error)
}

// ErrIncompleteSet is returned by [Reconstructor.ReconstructData]
// when a shard was accepted but more are needed.
var ErrIncompleteSet = errors.New("insufficient shards to reconstruct data")

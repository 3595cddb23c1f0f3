// Package gereedsolomon implements [gerasure] with Reed-Solomon codes
// from [github.com/klauspost/reedsolomon].
package gereedsolomon

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/chaoschain/chaoscore/gerasure"
	"github.com/klauspost/reedsolomon"
)

func newCodec(dataShards, parityShards int) (reedsolomon.Encoder, error) {
	if dataShards <= 0 || parityShards <= 0 {
		return nil, fmt.Errorf(
			"data and parity shard counts must be positive, got %d and %d",
			dataShards, parityShards,
		)
	}
	rs, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return nil, fmt.Errorf("failed to create reed-solomon codec: %w", err)
	}
	return rs, nil
}

// Encoder produces dataShards data shards followed by parityShards parity shards.
// Any dataShards of them recover the payload.
type Encoder struct {
	rs reedsolomon.Encoder
}

var _ gerasure.Encoder = (*Encoder)(nil)

func NewEncoder(dataShards, parityShards int) (*Encoder, error) {
	rs, err := newCodec(dataShards, parityShards)
	if err != nil {
		return nil, err
	}
	return &Encoder{rs: rs}, nil
}

// Encode may retain data as the backing array of the data shards.
func (e *Encoder) Encode(_ context.Context, data []byte) ([][]byte, error) {
	shards, err := e.rs.Split(data)
	if err != nil {
		return nil, fmt.Errorf("failed to split data: %w", err)
	}
	if err := e.rs.Encode(shards); err != nil {
		return nil, fmt.Errorf("failed to compute parity: %w", err)
	}
	return shards, nil
}

// Reconstructor collects shards of a known size.
type Reconstructor struct {
	rs reedsolomon.Encoder

	// Data shards then parity shards.
	// Missing shards have zero length, which is how reedsolomon recognizes them.
	shards [][]byte

	shardSize int
}

var _ gerasure.Reconstructor = (*Reconstructor)(nil)

// NewReconstructor returns a Reconstructor for shards of exactly shardSize bytes,
// as produced by an [Encoder] with the same shard counts.
func NewReconstructor(dataShards, parityShards, shardSize int) (*Reconstructor, error) {
	if shardSize <= 0 {
		return nil, fmt.Errorf("shard size must be positive, got %d", shardSize)
	}
	rs, err := newCodec(dataShards, parityShards)
	if err != nil {
		return nil, err
	}

	shards := rs.(reedsolomon.Extensions).AllocAligned(shardSize)
	for i := range shards {
		shards[i] = shards[i][:0]
	}
	return &Reconstructor{
		rs:     rs,
		shards: shards,

		shardSize: shardSize,
	}, nil
}

func (r *Reconstructor) ReconstructData(_ context.Context, idx int, shard []byte) error {
	if idx < 0 || idx >= len(r.shards) {
		return fmt.Errorf("shard index %d out of range [0, %d)", idx, len(r.shards))
	}
	if len(shard) != r.shardSize {
		return fmt.Errorf("shard %d has size %d, want %d", idx, len(shard), r.shardSize)
	}

	r.shards[idx] = r.shards[idx][:r.shardSize]
	copy(r.shards[idx], shard)

	if err := r.rs.ReconstructData(r.shards); err != nil {
		if errors.Is(err, reedsolomon.ErrTooFewShards) {
			return gerasure.ErrIncompleteSet
		}
		return fmt.Errorf("failed to reconstruct data: %w", err)
	}
	return nil
}

func (r *Reconstructor) Data(dst []byte, dataSize int) ([]byte, error) {
	if cap(dst)-len(dst) < dataSize {
		grown := make([]byte, len(dst), len(dst)+dataSize)
		copy(grown, dst)
		dst = grown
	}
	buf := bytes.NewBuffer(dst)
	if err := r.rs.Join(buf, r.shards, dataSize); err != nil {
		return nil, fmt.Errorf("failed to join shards: %w", err)
	}
	return buf.Bytes(), nil
}

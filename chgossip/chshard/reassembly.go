package chshard

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bits-and-blooms/bitset"
	"github.com/chaoschain/chaoscore/chcodec/chcbor"
	"github.com/chaoschain/chaoscore/gerasure"
	"github.com/chaoschain/chaoscore/gerasure/gereedsolomon"
	lru "github.com/hashicorp/golang-lru/v2"
)

func encodeShards(ctx context.Context, data []byte, nData, nParity int) ([][]byte, error) {
	enc, err := gereedsolomon.NewEncoder(nData, nParity)
	if err != nil {
		return nil, err
	}

	hash := sha256.Sum256(data)

	// The encoder may keep the input as shard backing.
	shards, err := enc.Encode(ctx, bytes.Clone(data))
	if err != nil {
		return nil, err
	}

	out := make([][]byte, len(shards))
	for i, sb := range shards {
		out[i], err = marshalShard(shard{
			PayloadHash: hash[:],
			PayloadSize: len(data),

			DataShards:   nData,
			ParityShards: nParity,

			Index: i,
			Bytes: sb,
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// assembly is the partial state of one payload.
type assembly struct {
	header shard
	r      gerasure.Reconstructor
	have   *bitset.BitSet
}

// reassembler is owned by a single subscription goroutine.
type reassembler struct {
	log *slog.Logger

	maxPayloadSize int

	// Keyed by payload hash.
	pending *lru.Cache[string, *assembly]

	// Hashes of payloads already delivered, so trailing shards are ignored.
	done *lru.Cache[string, struct{}]
}

// add records one encoded shard and returns the payload once it is complete.
func (r *reassembler) add(ctx context.Context, b []byte) ([]byte, bool) {
	var s shard
	if err := chcbor.Unmarshal(b, &s); err != nil {
		r.log.Debug("Dropping undecodable shard", "err", err)
		return nil, false
	}
	if err := s.validate(r.maxPayloadSize); err != nil {
		r.log.Debug("Dropping invalid shard", "err", err)
		return nil, false
	}

	key := string(s.PayloadHash)
	a, ok := r.pending.Get(key)
	if !ok {
		if r.done.Contains(key) {
			return nil, false
		}
		rc, err := gereedsolomon.NewReconstructor(s.DataShards, s.ParityShards, len(s.Bytes))
		if err != nil {
			r.log.Debug("Dropping shard with unusable parameters", "err", err)
			return nil, false
		}
		a = &assembly{
			header: s,
			r:      rc,
			have:   bitset.New(uint(s.DataShards + s.ParityShards)),
		}
		r.pending.Add(key, a)
	} else if !a.header.sameSet(s) {
		r.log.Debug("Dropping shard inconsistent with earlier shards of the same payload", "index", s.Index)
		return nil, false
	}

	if a.have.Test(uint(s.Index)) {
		return nil, false
	}
	a.have.Set(uint(s.Index))

	err := a.r.ReconstructData(ctx, s.Index, s.Bytes)
	if errors.Is(err, gerasure.ErrIncompleteSet) {
		return nil, false
	}
	r.pending.Remove(key)
	if err != nil {
		r.log.Debug("Failed to reconstruct payload", "err", err)
		return nil, false
	}

	payload, err := a.r.Data(nil, s.PayloadSize)
	if err != nil {
		r.log.Debug("Failed to join payload", "err", err)
		return nil, false
	}
	if h := sha256.Sum256(payload); !bytes.Equal(h[:], s.PayloadHash) {
		r.log.Info("Reassembled payload does not match its hash", "hash", fmt.Sprintf("%x", s.PayloadHash))
		return nil, false
	}

	r.done.Add(key, struct{}{})
	return payload, true
}

func (s shard) sameSet(o shard) bool {
	return s.PayloadSize == o.PayloadSize &&
		s.DataShards == o.DataShards &&
		s.ParityShards == o.ParityShards &&
		len(s.Bytes) == len(o.Bytes)
}

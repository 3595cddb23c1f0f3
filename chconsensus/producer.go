package chconsensus

import (
	"crypto/sha256"
	"encoding/binary"
)

// ProducerSelector deterministically designates the producer for a height and round.
// Every node must use the same selector for the same chain.
type ProducerSelector interface {
	Producer(vs ValidatorSet, height uint64, round uint32) Validator
}

// RoundRobinSelector rotates through the validators in order,
// one step per height and one step per round.
// Round 0 at height 1 is produced by the first validator.
type RoundRobinSelector struct{}

func (RoundRobinSelector) Producer(vs ValidatorSet, height uint64, round uint32) Validator {
	n := uint64(vs.Len())
	// Reduce each term first, so the sum cannot overflow for any height.
	i := ((height+n-1)%n + uint64(round)%n) % n
	return vs.At(int(i))
}

// WeightedSelector picks a producer with probability proportional to power,
// seeded by the height and round.
type WeightedSelector struct{}

func (WeightedSelector) Producer(vs ValidatorSet, height uint64, round uint32) Validator {
	var seed [12]byte
	binary.BigEndian.PutUint64(seed[:8], height)
	binary.BigEndian.PutUint32(seed[8:], round)
	h := sha256.Sum256(seed[:])

	target := binary.BigEndian.Uint64(h[:8]) % vs.TotalPower()
	for i := range vs.Len() {
		v := vs.At(i)
		if target < v.Power {
			return v
		}
		target -= v.Power
	}

	// Unreachable when total power is the sum of all powers.
	panic("weighted producer selection overran validator set")
}

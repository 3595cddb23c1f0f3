package chconsensus

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/chaoschain/chaoscore/gcrypto"
)

// Validator is a voting identity and its weight.
type Validator struct {
	PubKey gcrypto.PubKey
	Power  uint64
}

// ValidatorSet is the ordered, immutable set of validators effective at a height.
// Order matters: it determines producer rotation and signature proof key IDs.
type ValidatorSet struct {
	vals []Validator

	// string(pub key bytes) -> index in vals
	idx map[string]int

	totalPower uint64
	hash       string
}

// NewValidatorSet validates vals and returns the set.
// Every validator must have positive power and a unique key,
// and the total power must fit in a uint64.
func NewValidatorSet(vals []Validator) (ValidatorSet, error) {
	if len(vals) == 0 {
		return ValidatorSet{}, errors.New("validator set must not be empty")
	}
	if len(vals) > math.MaxUint16 {
		return ValidatorSet{}, fmt.Errorf("too many validators: %d", len(vals))
	}

	vs := ValidatorSet{
		vals: slices.Clone(vals),
		idx:  make(map[string]int, len(vals)),
	}

	h := sha256.New()
	for i, v := range vs.vals {
		if v.PubKey == nil {
			return ValidatorSet{}, fmt.Errorf("validator %d: missing public key", i)
		}
		if v.Power == 0 {
			return ValidatorSet{}, fmt.Errorf("validator %d: power must be positive", i)
		}

		k := string(v.PubKey.PubKeyBytes())
		if j, ok := vs.idx[k]; ok {
			return ValidatorSet{}, fmt.Errorf("validator %d: duplicate of validator %d", i, j)
		}
		vs.idx[k] = i

		if vs.totalPower > math.MaxUint64-v.Power {
			return ValidatorSet{}, errors.New("total validator power overflows uint64")
		}
		vs.totalPower += v.Power

		h.Write([]byte(v.PubKey.TypeName()))
		h.Write([]byte{0})
		h.Write(binary.BigEndian.AppendUint32(nil, uint32(len(k))))
		h.Write([]byte(k))
		h.Write(binary.BigEndian.AppendUint64(nil, v.Power))
	}
	vs.hash = string(h.Sum(nil))

	return vs, nil
}

// Validators returns a copy of the validators in order.
func (vs ValidatorSet) Validators() []Validator {
	return slices.Clone(vs.vals)
}

func (vs ValidatorSet) Len() int {
	return len(vs.vals)
}

// At returns the validator at index i.
func (vs ValidatorSet) At(i int) Validator {
	return vs.vals[i]
}

// PubKeys returns the validator keys in order.
func (vs ValidatorSet) PubKeys() []gcrypto.PubKey {
	out := make([]gcrypto.PubKey, len(vs.vals))
	for i, v := range vs.vals {
		out[i] = v.PubKey
	}
	return out
}

// Index returns the index of pk in the set, or -1.
func (vs ValidatorSet) Index(pk gcrypto.PubKey) int {
	i, ok := vs.idx[string(pk.PubKeyBytes())]
	if !ok || !vs.vals[i].PubKey.Equal(pk) {
		return -1
	}
	return i
}

// PowerOf returns the power of pk, or zero if pk is not a member.
func (vs ValidatorSet) PowerOf(pk gcrypto.PubKey) uint64 {
	i := vs.Index(pk)
	if i < 0 {
		return 0
	}
	return vs.vals[i].Power
}

func (vs ValidatorSet) TotalPower() uint64 {
	return vs.totalPower
}

// Threshold returns floor(2W/3)+1 for total power W,
// the minimum power that finalizes a block.
func (vs ValidatorSet) Threshold() uint64 {
	return ThresholdFor(vs.totalPower)
}

// ThresholdFor returns floor(2w/3)+1 without overflowing for any w.
func ThresholdFor(w uint64) uint64 {
	q, r := w/3, w%3
	return 2*q + (2*r)/3 + 1
}

// PubKeyHash identifies the ordered keys and powers of the set.
func (vs ValidatorSet) PubKeyHash() string {
	return vs.hash
}

// Equal reports whether vs and other have the same validators in the same order.
func (vs ValidatorSet) Equal(other ValidatorSet) bool {
	return vs.hash == other.hash
}

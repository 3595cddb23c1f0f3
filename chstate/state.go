package chstate

import (
	"encoding/binary"
	"maps"
	"slices"

	"github.com/chaoschain/chaoscore/chconsensus"
	"github.com/chaoschain/chaoscore/gmerkle"
)

// State is the application state after a committed height.
// Its validator set governs votes for the following height.
type State struct {
	height uint64

	// Never mutated after construction.
	kv map[string][]byte

	vals chconsensus.ValidatorSet

	root []byte
}

var _ chconsensus.StateView = State{}

// GenesisState returns the state at height 0 for g.
func GenesisState(g chconsensus.Genesis) (State, error) {
	vs, err := g.ValidatorSet()
	if err != nil {
		return State{}, err
	}

	return newState(0, maps.Clone(g.AppState), vs), nil
}

func newState(height uint64, kv map[string][]byte, vals chconsensus.ValidatorSet) State {
	if kv == nil {
		kv = map[string][]byte{}
	}

	s := State{
		height: height,
		kv:     kv,
		vals:   vals,
	}
	s.root = s.computeRoot()
	return s
}

func (s State) Height() uint64 {
	return s.height
}

func (s State) Root() []byte {
	return slices.Clone(s.root)
}

// Get returns the value stored under key.
func (s State) Get(key string) ([]byte, bool) {
	v, ok := s.kv[key]
	return slices.Clone(v), ok
}

// Keys returns every application key in sorted order.
func (s State) Keys() []string {
	return slices.Sorted(maps.Keys(s.kv))
}

// ValidatorSet returns the validators that vote on the height after s.
func (s State) ValidatorSet() chconsensus.ValidatorSet {
	return s.vals
}

const (
	kvLeafTag  = 0x01
	valLeafTag = 0x02
)

// computeRoot hashes the sorted key-value entries followed by the ordered validators.
func (s State) computeRoot() []byte {
	leaves := make([][]byte, 0, len(s.kv)+s.vals.Len())

	for _, k := range s.Keys() {
		v := s.kv[k]
		leaf := make([]byte, 0, 1+4+len(k)+4+len(v))
		leaf = append(leaf, kvLeafTag)
		leaf = binary.BigEndian.AppendUint32(leaf, uint32(len(k)))
		leaf = append(leaf, k...)
		leaf = binary.BigEndian.AppendUint32(leaf, uint32(len(v)))
		leaf = append(leaf, v...)
		leaves = append(leaves, leaf)
	}

	for i := range s.vals.Len() {
		v := s.vals.At(i)
		name := v.PubKey.TypeName()
		pk := v.PubKey.PubKeyBytes()

		leaf := make([]byte, 0, 1+1+len(name)+4+len(pk)+8)
		leaf = append(leaf, valLeafTag, byte(len(name)))
		leaf = append(leaf, name...)
		leaf = binary.BigEndian.AppendUint32(leaf, uint32(len(pk)))
		leaf = append(leaf, pk...)
		leaf = binary.BigEndian.AppendUint64(leaf, v.Power)
		leaves = append(leaves, leaf)
	}

	return gmerkle.Root(leaves)
}

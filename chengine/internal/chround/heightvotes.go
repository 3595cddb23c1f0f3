package chround

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/bits-and-blooms/bitset"
	"github.com/chaoschain/chaoscore/chconsensus"
)

type AddResult uint8

const (
	_ AddResult = iota

	// First vote from this voter at the height.
	AddAccepted

	// Same voter, same block hash, possibly from a different round.
	AddDuplicate

	// Same voter, different block hash. The voter's weight is withdrawn.
	AddEquivocation

	// Voter was already caught equivocating at this height.
	AddFromEquivocator
)

func (r AddResult) String() string {
	switch r {
	case AddAccepted:
		return "accepted"
	case AddDuplicate:
		return "duplicate"
	case AddEquivocation:
		return "equivocation"
	case AddFromEquivocator:
		return "from equivocator"
	default:
		return fmt.Sprintf("AddResult(%d)", uint8(r))
	}
}

// Equivocation is evidence of one voter signing two block hashes at one height.
type Equivocation struct {
	First, Second chconsensus.Vote
}

// HeightVotes tallies votes for every block hash at one height.
//
// The signed content of a vote is (height, block hash),
// so a vote counts for its block in every round of the height.
// The tally only counts voters that have voted for exactly one hash.
type HeightVotes struct {
	height uint64
	vals   chconsensus.ValidatorSet

	// Indexed by validator index.
	byVoter []*chconsensus.Vote

	equivocators *bitset.BitSet
	evidence     []Equivocation

	// Keyed by string(block hash).
	tally map[string]uint64

	// Power of every validator that has voted, equivocators included.
	votedPower uint64
}

func NewHeightVotes(height uint64, vals chconsensus.ValidatorSet) *HeightVotes {
	return &HeightVotes{
		height: height,
		vals:   vals,

		byVoter:      make([]*chconsensus.Vote, vals.Len()),
		equivocators: bitset.New(uint(vals.Len())),
		tally:        make(map[string]uint64),
	}
}

// Add records v. The caller must have checked v's signature.
// It returns an error matching [chconsensus.ErrUnknownVoter] for a non-validator,
// and an error for a vote at a different height.
func (hv *HeightVotes) Add(v chconsensus.Vote) (AddResult, error) {
	if v.Height != hv.height {
		return 0, fmt.Errorf("vote for height %d added to tally for height %d", v.Height, hv.height)
	}

	idx := hv.vals.Index(v.Voter)
	if idx < 0 {
		return 0, chconsensus.ErrUnknownVoter
	}

	if hv.equivocators.Test(uint(idx)) {
		return AddFromEquivocator, nil
	}

	power := hv.vals.At(idx).Power

	prev := hv.byVoter[idx]
	if prev == nil {
		hv.byVoter[idx] = &v
		hv.tally[string(v.BlockHash)] += power
		hv.votedPower += power
		return AddAccepted, nil
	}

	if bytes.Equal(prev.BlockHash, v.BlockHash) {
		return AddDuplicate, nil
	}

	hv.equivocators.Set(uint(idx))
	hv.evidence = append(hv.evidence, Equivocation{First: *prev, Second: v})

	k := string(prev.BlockHash)
	hv.tally[k] -= power
	if hv.tally[k] == 0 {
		delete(hv.tally, k)
	}
	return AddEquivocation, nil
}

// Power returns the counted weight for blockHash.
func (hv *HeightVotes) Power(blockHash []byte) uint64 {
	return hv.tally[string(blockHash)]
}

// Reached reports whether blockHash has reached the finality threshold.
func (hv *HeightVotes) Reached(blockHash []byte) bool {
	return hv.Power(blockHash) >= hv.vals.Threshold()
}

// Leading returns the block hashes with counted votes,
// highest power first, ties broken by hash.
func (hv *HeightVotes) Leading() [][]byte {
	out := make([][]byte, 0, len(hv.tally))
	for k := range hv.tally {
		out = append(out, []byte(k))
	}
	slices.SortFunc(out, func(a, b []byte) int {
		pa, pb := hv.tally[string(a)], hv.tally[string(b)]
		if pa != pb {
			if pa > pb {
				return -1
			}
			return 1
		}
		return bytes.Compare(a, b)
	})
	return out
}

// VoteOf returns the vote counted for the validator at idx, if any.
func (hv *HeightVotes) VoteOf(idx int) (chconsensus.Vote, bool) {
	if hv.equivocators.Test(uint(idx)) || hv.byVoter[idx] == nil {
		return chconsensus.Vote{}, false
	}
	return *hv.byVoter[idx], true
}

// VotesFor returns the counted votes for blockHash in validator order.
func (hv *HeightVotes) VotesFor(blockHash []byte) []chconsensus.Vote {
	var out []chconsensus.Vote
	for i, v := range hv.byVoter {
		if v == nil || hv.equivocators.Test(uint(i)) {
			continue
		}
		if bytes.Equal(v.BlockHash, blockHash) {
			out = append(out, *v)
		}
	}
	return out
}

// Equivocators returns a copy of the set of validator indices excluded at this height.
func (hv *HeightVotes) Equivocators() *bitset.BitSet {
	return hv.equivocators.Clone()
}

func (hv *HeightVotes) Evidence() []Equivocation {
	return slices.Clone(hv.evidence)
}

// Stalled reports whether no block hash can reach the threshold
// even if every validator yet to vote votes for it.
// Honest validators never change their vote at a height,
// so a stalled height cannot finalize through voting.
func (hv *HeightVotes) Stalled() bool {
	var best uint64
	for _, p := range hv.tally {
		best = max(best, p)
	}
	undecided := hv.vals.TotalPower() - hv.votedPower
	return best+undecided < hv.vals.Threshold()
}

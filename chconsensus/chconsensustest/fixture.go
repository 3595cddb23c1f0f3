// Package chconsensustest contains deterministic fixtures for consensus tests.
package chconsensustest

import (
	"context"
	"fmt"
	"time"

	"github.com/chaoschain/chaoscore/chconsensus"
	"github.com/chaoschain/chaoscore/gcrypto"
	"github.com/chaoschain/chaoscore/gcrypto/gblsminsig"
	"github.com/chaoschain/chaoscore/gcrypto/gblsminsig/gblsminsigtest"
	"github.com/chaoschain/chaoscore/gcrypto/gcryptotest"
)

// PrivVal pairs a validator with the signer backing it.
type PrivVal struct {
	Val    chconsensus.Validator
	Signer gcrypto.Signer
}

type PrivVals []PrivVal

func (vs PrivVals) Vals() []chconsensus.Validator {
	out := make([]chconsensus.Validator, len(vs))
	for i, v := range vs {
		out[i] = v.Val
	}
	return out
}

func (vs PrivVals) PubKeys() []gcrypto.PubKey {
	out := make([]gcrypto.PubKey, len(vs))
	for i, v := range vs {
		out[i] = v.Signer.PubKey()
	}
	return out
}

// DeterministicValidatorsEd25519 returns n validators with power 1 each,
// backed by [gcryptotest.DeterministicEd25519Signers].
func DeterministicValidatorsEd25519(n int) PrivVals {
	out := make(PrivVals, n)
	for i, s := range gcryptotest.DeterministicEd25519Signers(n) {
		out[i] = PrivVal{
			Val:    chconsensus.Validator{PubKey: s.PubKey(), Power: 1},
			Signer: s,
		}
	}
	return out
}

// Fixture carries the validators and genesis for a test chain,
// plus helpers that sign blocks, votes, and intents as those validators.
type Fixture struct {
	PrivVals PrivVals

	// Signers for intent submitters, distinct from the validators.
	Submitters []gcrypto.Signer

	Genesis chconsensus.Genesis

	Registry gcrypto.Registry

	nonce uint64
}

// NewEd25519Fixture returns a fixture with numVals equally weighted ed25519 validators
// and four submitters.
func NewEd25519Fixture(numVals int) *Fixture {
	pvs := DeterministicValidatorsEd25519(numVals)

	// Submitter keys follow the validator keys so the two never collide.
	all := gcryptotest.DeterministicEd25519Signers(numVals + 4)
	subs := make([]gcrypto.Signer, 4)
	for i := range subs {
		subs[i] = all[numVals+i]
	}

	var reg gcrypto.Registry
	gcrypto.RegisterEd25519(&reg)

	return &Fixture{
		PrivVals:   pvs,
		Submitters: subs,
		Genesis: chconsensus.Genesis{
			ChainID:     "chaoscore-test",
			InitialTime: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			Validators:  pvs.Vals(),
			AppState:    map[string][]byte{},
		},
		Registry: reg,
	}
}

// NewBLSFixture is like [NewEd25519Fixture],
// except that validators use BLS keys from [gblsminsigtest.DeterministicSigners].
// Submitters keep ed25519 keys.
func NewBLSFixture(numVals int) *Fixture {
	f := NewEd25519Fixture(numVals)

	pvs := make(PrivVals, numVals)
	for i, s := range gblsminsigtest.DeterministicSigners(numVals) {
		pvs[i] = PrivVal{
			Val:    chconsensus.Validator{PubKey: s.PubKey(), Power: 1},
			Signer: s,
		}
	}
	f.PrivVals = pvs
	f.Genesis.Validators = pvs.Vals()
	gblsminsig.Register(&f.Registry)

	return f
}

// ValidatorSet returns the genesis validator set, panicking on error.
func (f *Fixture) ValidatorSet() chconsensus.ValidatorSet {
	vs, err := f.Genesis.ValidatorSet()
	if err != nil {
		panic(fmt.Errorf("fixture validator set: %w", err))
	}
	return vs
}

// Intent returns a new intent signed by submitter idx.
// Each call uses a fresh nonce, so identical payloads yield distinct intents.
func (f *Fixture) Intent(idx int, payload []byte) chconsensus.Intent {
	f.nonce++
	in, err := chconsensus.NewIntent(context.Background(), f.Submitters[idx], f.nonce, payload)
	if err != nil {
		panic(err)
	}
	return in
}

// Vote returns a vote from validator idx for blockHash.
func (f *Fixture) Vote(ctx context.Context, idx int, height uint64, round uint32, blockHash []byte) chconsensus.Vote {
	v, err := chconsensus.NewVote(ctx, f.PrivVals[idx].Signer, height, round, blockHash)
	if err != nil {
		panic(err)
	}
	return v
}

// Block returns a hashed block at height produced by validator producerIdx.
func (f *Fixture) Block(
	height uint64, prevHash []byte, producerIdx int, ids []chconsensus.IntentID, stateRoot []byte,
) chconsensus.Block {
	b := chconsensus.Block{
		Height:    height,
		PrevHash:  prevHash,
		IntentIDs: ids,
		Timestamp: f.Genesis.InitialTime.Add(time.Duration(height) * time.Second),
		Producer:  f.PrivVals[producerIdx].Signer.PubKey(),
		StateRoot: stateRoot,
	}
	b.SetHash()
	return b
}

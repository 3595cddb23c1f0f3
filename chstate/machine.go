package chstate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/chaoschain/chaoscore/chconsensus"
	"github.com/chaoschain/chaoscore/gcrypto"
)

// PendingLookup resolves intent IDs that are not yet committed.
// The mempool satisfies it.
type PendingLookup interface {
	Get(id chconsensus.IntentID) (chconsensus.Intent, bool)
}

// CommittedLookup reports whether an intent already appears in committed history.
type CommittedLookup interface {
	HasIntent(ctx context.Context, id chconsensus.IntentID) (bool, error)
}

// MachineConfig configures a [Machine].
type MachineConfig struct {
	// Decodes validator keys in governance operations.
	Registry *gcrypto.Registry

	Pending PendingLookup

	// Optional. When set, blocks re-including committed intents are rejected.
	History CommittedLookup

	// The canonical state to start from.
	Initial State
}

// Machine validates and commits state transitions.
type Machine struct {
	log *slog.Logger

	reg     *gcrypto.Registry
	pending PendingLookup
	history CommittedLookup

	mu sync.Mutex

	current State

	// Results of successful validations since the last commit,
	// keyed by string(block hash).
	validated map[string]validatedTransition
}

type validatedTransition struct {
	block chconsensus.Block
	state State
}

// NewMachine returns a Machine whose canonical state is cfg.Initial.
func NewMachine(log *slog.Logger, cfg MachineConfig) *Machine {
	return &Machine{
		log: log,

		reg:     cfg.Registry,
		pending: cfg.Pending,
		history: cfg.History,

		current:   cfg.Initial,
		validated: make(map[string]validatedTransition),
	}
}

// Current returns the canonical state.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Apply applies intents to prior in order and returns the new state at prior's next height.
// It reports an error matching [chconsensus.ErrApplication]
// for a malformed or rejected intent.
// prior is never modified.
func (m *Machine) Apply(prior State, intents []chconsensus.Intent) (State, error) {
	t := m.newTransition(prior)
	for i, in := range intents {
		if err := t.apply(in); err != nil {
			return State{}, fmt.Errorf("intent %d (%s): %w", i, in.ID().Short(), err)
		}
	}
	return t.finish(), nil
}

// RejectedIntent is a candidate intent that [Machine.Build] left out.
type RejectedIntent struct {
	Intent chconsensus.Intent
	Err    error
}

// Build applies as many candidates as possible to prior, in order,
// skipping any that fail to apply or are already committed.
// It returns the resulting state and the intents that were applied,
// which are exactly the intents a producer should list in its block.
func (m *Machine) Build(
	ctx context.Context, prior State, candidates []chconsensus.Intent,
) (State, []chconsensus.Intent, []RejectedIntent) {
	t := m.newTransition(prior)

	var (
		accepted = make([]chconsensus.Intent, 0, len(candidates))
		rejected []RejectedIntent
	)
	for _, in := range candidates {
		if m.history != nil {
			has, err := m.history.HasIntent(ctx, in.ID())
			if err == nil && has {
				err = fmt.Errorf("already committed: %w", chconsensus.ErrApplication)
			}
			if err != nil {
				rejected = append(rejected, RejectedIntent{Intent: in, Err: err})
				continue
			}
		}

		if err := t.apply(in); err != nil {
			rejected = append(rejected, RejectedIntent{Intent: in, Err: err})
			continue
		}
		accepted = append(accepted, in)
	}

	return t.finish(), accepted, rejected
}

// transition accumulates the effects of intents on a copy of a prior state.
type transition struct {
	m     *Machine
	prior State

	kv   map[string][]byte
	vals []chconsensus.Validator

	// Set once a governance op succeeds.
	vs *chconsensus.ValidatorSet
}

func (m *Machine) newTransition(prior State) *transition {
	return &transition{
		m:     m,
		prior: prior,
		kv:    maps.Clone(prior.kv),
		vals:  prior.vals.Validators(),
	}
}

// apply applies a single intent, leaving t unchanged on error.
func (t *transition) apply(in chconsensus.Intent) error {
	op, err := decodeOp(in.Payload)
	if err != nil {
		return fmt.Errorf("%w: %w", chconsensus.ErrApplication, err)
	}

	switch op.Kind {
	case OpSet:
		t.kv[op.Key] = bytes.Clone(op.Value)
		return nil
	case OpDelete:
		delete(t.kv, op.Key)
		return nil
	}

	// Governance is authorized by the validator set in force for the block.
	if t.prior.vals.Index(in.Submitter) < 0 {
		return fmt.Errorf("%s submitted by non-validator: %w", op.Kind, chconsensus.ErrApplication)
	}

	vals, err := t.m.applyGovernance(slices.Clone(t.vals), op)
	if err != nil {
		return fmt.Errorf("%w: %w", chconsensus.ErrApplication, err)
	}

	vs, err := chconsensus.NewValidatorSet(vals)
	if err != nil {
		return fmt.Errorf("resulting validator set: %w: %w", chconsensus.ErrApplication, err)
	}

	t.vals = vals
	t.vs = &vs
	return nil
}

func (t *transition) finish() State {
	vs := t.prior.vals
	if t.vs != nil {
		vs = *t.vs
	}
	return newState(t.prior.height+1, t.kv, vs)
}

func (m *Machine) applyGovernance(vals []chconsensus.Validator, op Op) ([]chconsensus.Validator, error) {
	if m.reg == nil {
		return nil, errors.New("no key registry for governance operations")
	}

	pk, err := m.reg.Unmarshal(op.PubKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode validator key: %w", err)
	}

	idx := -1
	for i, v := range vals {
		if v.PubKey.Equal(pk) {
			idx = i
			break
		}
	}

	switch op.Kind {
	case OpAddValidator:
		if idx >= 0 {
			return nil, errors.New("validator already present")
		}
		return append(vals, chconsensus.Validator{PubKey: pk, Power: op.Power}), nil
	case OpRemoveValidator:
		if idx < 0 {
			return nil, errors.New("validator not present")
		}
		return append(vals[:idx:idx], vals[idx+1:]...), nil
	case OpSetPower:
		if idx < 0 {
			return nil, errors.New("validator not present")
		}
		vals[idx].Power = op.Power
		return vals, nil
	}

	panic(fmt.Errorf("unreachable governance op %s", op.Kind))
}

// ValidateTransition resolves block's intents from the pending lookup,
// applies them to prior, and checks the resulting root against the block's claim.
//
// It returns an error matching [chconsensus.ErrUnknownIntent],
// [chconsensus.ErrApplication], or [chconsensus.ErrRootMismatch].
// On success the resulting state is remembered for a later [Machine.Commit].
func (m *Machine) ValidateTransition(ctx context.Context, prior State, b chconsensus.Block) (State, error) {
	intents := make([]chconsensus.Intent, len(b.IntentIDs))
	for i, id := range b.IntentIDs {
		in, ok := m.pending.Get(id)
		if !ok {
			return State{}, fmt.Errorf("intent %s: %w", id.Short(), chconsensus.ErrUnknownIntent)
		}
		intents[i] = in
	}

	return m.validate(ctx, prior, b, intents, true)
}

// ValidateTransitionWith is like [Machine.ValidateTransition],
// but uses the supplied intents instead of the pending lookup.
// This is how a node adopts a committed block whose intents it never saw.
// The intents must match the block's IDs in order and carry valid commitments.
func (m *Machine) ValidateTransitionWith(
	ctx context.Context, prior State, b chconsensus.Block, intents []chconsensus.Intent,
) (State, error) {
	if len(intents) != len(b.IntentIDs) {
		return State{}, fmt.Errorf(
			"block lists %d intents but %d supplied: %w",
			len(b.IntentIDs), len(intents), chconsensus.ErrUnknownIntent,
		)
	}

	for i, in := range intents {
		if in.ID() != b.IntentIDs[i] {
			return State{}, fmt.Errorf("intent %d does not match block: %w", i, chconsensus.ErrUnknownIntent)
		}
		if err := in.VerifyCommitment(); err != nil {
			return State{}, fmt.Errorf("intent %d: %w: %w", i, chconsensus.ErrApplication, err)
		}
	}

	return m.validate(ctx, prior, b, intents, true)
}

// Replay applies a block that is already in committed history
// on top of the canonical state and commits it.
// It is how state is rebuilt from a persisted chain at startup.
func (m *Machine) Replay(ctx context.Context, b chconsensus.Block, intents []chconsensus.Intent) error {
	if len(intents) != len(b.IntentIDs) {
		return fmt.Errorf("block at height %d lists %d intents but %d supplied", b.Height, len(b.IntentIDs), len(intents))
	}
	for i, in := range intents {
		if in.ID() != b.IntentIDs[i] {
			return fmt.Errorf("intent %d does not match block at height %d", i, b.Height)
		}
	}

	st, err := m.validate(ctx, m.Current(), b, intents, false)
	if err != nil {
		return fmt.Errorf("failed to replay block at height %d: %w", b.Height, err)
	}
	return m.Commit(ctx, st, b)
}

func (m *Machine) validate(
	ctx context.Context, prior State, b chconsensus.Block, intents []chconsensus.Intent,
	checkHistory bool,
) (State, error) {
	if b.Height != prior.height+1 {
		return State{}, fmt.Errorf(
			"block height %d does not follow state height %d: %w",
			b.Height, prior.height, chconsensus.ErrApplication,
		)
	}

	seen := make(map[chconsensus.IntentID]struct{}, len(b.IntentIDs))
	for _, id := range b.IntentIDs {
		if _, ok := seen[id]; ok {
			return State{}, fmt.Errorf("intent %s listed twice: %w", id.Short(), chconsensus.ErrApplication)
		}
		seen[id] = struct{}{}

		if !checkHistory || m.history == nil {
			continue
		}
		has, err := m.history.HasIntent(ctx, id)
		if err != nil {
			return State{}, fmt.Errorf("failed to check history for intent %s: %w", id.Short(), err)
		}
		if has {
			return State{}, fmt.Errorf("intent %s already committed: %w", id.Short(), chconsensus.ErrApplication)
		}
	}

	next, err := m.Apply(prior, intents)
	if err != nil {
		return State{}, err
	}

	if !bytes.Equal(next.root, b.StateRoot) {
		return State{}, fmt.Errorf(
			"block %x claims root %x, computed %x: %w",
			b.Hash, b.StateRoot, next.root, chconsensus.ErrRootMismatch,
		)
	}

	m.mu.Lock()
	m.validated[string(b.Hash)] = validatedTransition{block: b, state: next}
	m.mu.Unlock()

	return next, nil
}

// Commit makes s canonical.
// It fails unless s is exactly the result of a successful validation of b
// and b is at the height following the current canonical state.
func (m *Machine) Commit(_ context.Context, s State, b chconsensus.Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b.Height != m.current.height+1 {
		return fmt.Errorf("cannot commit height %d on top of height %d", b.Height, m.current.height)
	}

	vt, ok := m.validated[string(b.Hash)]
	if !ok {
		return fmt.Errorf("block %x at height %d was not validated", b.Hash, b.Height)
	}
	if !bytes.Equal(vt.state.root, s.root) || vt.state.height != s.height {
		return fmt.Errorf("state does not match validated result for block %x", b.Hash)
	}

	m.current = vt.state
	clear(m.validated)

	m.log.Debug("Committed state", "height", b.Height, "root", fmt.Sprintf("%x", s.root))
	return nil
}

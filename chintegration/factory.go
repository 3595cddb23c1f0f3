// Package chintegration runs multi-validator consensus scenarios
// against any gossip network and committed chain implementation.
//
// A test package supplies a [NewFactoryFunc] to [RunIntegrationTest];
// the factory decides which network and which storage every validator uses.
package chintegration

import (
	"context"
	"log/slog"
	"testing"

	"github.com/chaoschain/chaoscore/chgossip"
	"github.com/chaoschain/chaoscore/chstore"
	"github.com/chaoschain/chaoscore/gcrypto"
)

// Network is a set of connected gossip endpoints, addressed by index.
type Network interface {
	Node(idx int) chgossip.Network

	// Stabilize blocks until the nodes at idxs,
	// once their engines are subscribed, can reach each other on every consensus topic.
	// This will be a no-op for some networks.
	Stabilize(ctx context.Context, idxs ...int) error

	// Block until all background work is finished.
	Wait()
}

// Env contains some of the primitives of the current test environment,
// to inform the creation of a [Factory].
type Env struct {
	// The RootLogger can be used when the Factory
	// needs a logger in a created value.
	RootLogger *slog.Logger

	// Inline interface to avoid directly depending on testing package.
	tb interface {
		Cleanup(func())

		TempDir() string
	}
}

// TempDir returns the path to a new temporary directory,
// in case the factory needs a place to write data to disk.
func (e *Env) TempDir() string {
	return e.tb.TempDir()
}

// Cleanup calls fn when the test is complete,
// regardless of whether the test passed or failed.
func (e *Env) Cleanup(fn func()) {
	e.tb.Cleanup(fn)
}

type NewFactoryFunc func(e *Env) Factory

// Factory is the interface provided when running integration tests
// (via [RunIntegrationTest]).
//
// Within each integration sub-test:
//   - The factory func is called once, creating a new Factory instance
//   - On that factory instance, NewNetwork is called once
//   - NewCommittedChain is called once for each validator that runs an engine
type Factory interface {
	// NewNetwork returns a network with n nodes.
	// The implementer may assume that the context will be canceled
	// at or before the test's completion.
	NewNetwork(t *testing.T, ctx context.Context, n int) (Network, error)

	// NewCommittedChain returns the chain for validator idx.
	// Blocks and intents are decoded with reg.
	NewCommittedChain(ctx context.Context, idx int, reg *gcrypto.Registry) (chstore.CommittedChain, error)
}

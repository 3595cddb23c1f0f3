package chgossiptest

import (
	"context"
	"log/slog"

	"github.com/chaoschain/chaoscore/gnetdag"
)

// NewTreeNetwork returns n nodes arranged as a [gnetdag.FixedTree]
// with the given branch factor. Each node is connected to its parent and children.
func NewTreeNetwork(ctx context.Context, log *slog.Logger, n, branchFactor int) *Network {
	tree := gnetdag.FixedTree{BranchFactor: branchFactor}

	neighbors := make([][]int, n)
	for i := range neighbors {
		neighbors[i] = tree.Neighbors(i, n)
	}
	return newNetwork(ctx, log, neighbors)
}

// Package chlibp2ptest builds connected [chlibp2p.Network] instances for tests.
package chlibp2ptest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/chaoschain/chaoscore/chp2p/chlibp2p"
)

// NewConnectedNetworks starts n loopback networks with every pair connected.
// All networks are closed if any fails to start or connect.
func NewConnectedNetworks(ctx context.Context, log *slog.Logger, n int) ([]*chlibp2p.Network, error) {
	nets := make([]*chlibp2p.Network, 0, n)
	closeAll := func() {
		for _, net := range nets {
			_ = net.Close()
		}
	}

	for i := range n {
		net, err := chlibp2p.New(ctx, log.With("idx", i), chlibp2p.Config{})
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("failed to start network %d: %w", i, err)
		}
		nets = append(nets, net)
	}

	for i := range nets {
		for j := i + 1; j < len(nets); j++ {
			if err := nets[i].Connect(ctx, nets[j].Addrs()[0]); err != nil {
				closeAll()
				return nil, fmt.Errorf("failed to connect %d to %d: %w", i, j, err)
			}
		}
	}

	return nets, nil
}

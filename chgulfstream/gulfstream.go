// Package chgulfstream propagates intents between nodes.
//
// Locally submitted intents are admitted to the local mempool
// and gossiped on the intents topic.
// Intents gossiped by peers are verified by the mempool on admission.
// When a round fails, pending intents are forwarded again
// toward the next producer so the failed producer's intents are not stranded.
package chgulfstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/chaoschain/chaoscore/chcodec"
	"github.com/chaoschain/chaoscore/chconsensus"
	"github.com/chaoschain/chaoscore/chengine/chelink"
	"github.com/chaoschain/chaoscore/chgossip"
	"github.com/chaoschain/chaoscore/chgulfstream/forwarder"
	"github.com/chaoschain/chaoscore/chgulfstream/network"
)

// Mempool is the local intent pool.
type Mempool interface {
	Submit(context.Context, chconsensus.Intent) (chconsensus.IntentID, error)
	forwarder.Pool
}

// GulfStream coordinates intent propagation.
type GulfStream struct {
	log     *slog.Logger
	mempool Mempool

	forwarder *forwarder.Forwarder
	client    *network.Client
	sub       chgossip.Subscription

	roundUpdates <-chan chelink.RoundUpdate

	// Height of the latest round update, for addressing fresh submissions.
	height atomic.Uint64

	received atomic.Uint64
	admitted atomic.Uint64
	rejected atomic.Uint64

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Options configures a new GulfStream instance.
type Options struct {
	Log     *slog.Logger
	Mempool Mempool
	Network chgossip.Network
	Codec   chcodec.Codec

	// Round updates from the engine.
	// Without them, intents are gossiped once on submission and never re-forwarded.
	RoundUpdates <-chan chelink.RoundUpdate

	ForwarderConfig *forwarder.Config
	NetworkConfig   *network.Config
}

// New creates a GulfStream and subscribes to the intents topic.
func New(ctx context.Context, opts *Options) (*GulfStream, error) {
	if opts == nil {
		return nil, errors.New("options required")
	}
	if opts.Mempool == nil {
		return nil, errors.New("mempool required")
	}
	if opts.Network == nil {
		return nil, errors.New("gossip network required")
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	ctx, cancel := context.WithCancel(ctx)

	client, err := network.New(ctx, log.With("sys", "gsclient"), opts.Network, opts.Codec, opts.NetworkConfig)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create network client: %w", err)
	}

	fwd, err := forwarder.New(log.With("sys", "forwarder"), opts.Mempool, client, opts.ForwarderConfig)
	if err != nil {
		cancel()
		_ = client.Close()
		return nil, fmt.Errorf("create forwarder: %w", err)
	}

	sub, err := opts.Network.Subscribe(chgossip.TopicIntents)
	if err != nil {
		cancel()
		_ = client.Close()
		return nil, fmt.Errorf("subscribe to intents: %w", err)
	}

	gs := &GulfStream{
		log:          log,
		mempool:      opts.Mempool,
		forwarder:    fwd,
		client:       client,
		sub:          sub,
		roundUpdates: opts.RoundUpdates,
		ctx:          ctx,
		cancel:       cancel,
	}

	gs.wg.Add(2)
	go gs.processIntents()
	go gs.processUpdates()

	return gs, nil
}

// Submit admits in to the local mempool and gossips it.
// A gossip failure is logged but does not fail the submission;
// the intent is pending locally and will be forwarded if a round fails.
func (gs *GulfStream) Submit(ctx context.Context, in chconsensus.Intent) (chconsensus.IntentID, error) {
	id, err := gs.mempool.Submit(ctx, in)
	if err != nil {
		return id, err
	}

	if err := gs.client.SendIntents(network.Target{Height: gs.height.Load()}, []chconsensus.Intent{in}); err != nil {
		gs.log.Warn("Failed to gossip submitted intent", "id", id.Short(), "err", err)
	}
	return id, nil
}

func (gs *GulfStream) processIntents() {
	defer gs.wg.Done()

	for {
		select {
		case <-gs.ctx.Done():
			return
		case data := <-gs.sub.C():
			gs.received.Add(1)
			batch, ins, err := gs.client.DecodeBatch(data)
			if err != nil {
				gs.log.Debug("Dropping malformed intent batch", "err", err)
				continue
			}
			gs.admit(batch, ins)
		}
	}
}

func (gs *GulfStream) admit(batch network.IntentBatch, ins []chconsensus.Intent) {
	for _, in := range ins {
		_, err := gs.mempool.Submit(gs.ctx, in)
		switch {
		case err == nil:
			gs.admitted.Add(1)
		case errors.Is(err, chconsensus.ErrDuplicate):
			// Already pending or committed; expected under flooding.
		default:
			gs.rejected.Add(1)
			gs.log.Debug(
				"Rejected gossiped intent",
				"id", in.ID().Short(),
				"batch_height", batch.Height, "batch_round", batch.Round,
				"err", err,
			)
		}
	}
}

func (gs *GulfStream) processUpdates() {
	defer gs.wg.Done()

	if gs.roundUpdates == nil {
		return
	}

	for {
		select {
		case <-gs.ctx.Done():
			return
		case u := <-gs.roundUpdates:
			gs.height.Store(u.Height)
			if err := gs.forwarder.HandleRoundUpdate(u); err != nil {
				gs.log.Warn(
					"Failed to forward pending intents",
					"height", u.Height, "round", u.Round,
					"err", err,
				)
			}
		}
	}
}

// Stats are current GulfStream statistics.
type Stats struct {
	ForwarderStats forwarder.Stats
	NetworkStats   network.Stats

	// Intent batches received from peers.
	Received uint64

	// Gossiped intents newly admitted or rejected.
	Admitted uint64
	Rejected uint64
}

// GetStats returns current statistics.
func (gs *GulfStream) GetStats() Stats {
	return Stats{
		ForwarderStats: gs.forwarder.GetStats(),
		NetworkStats:   gs.client.GetStats(),
		Received:       gs.received.Load(),
		Admitted:       gs.admitted.Load(),
		Rejected:       gs.rejected.Load(),
	}
}

// Close initiates shutdown and waits for it to complete.
func (gs *GulfStream) Close() error {
	var err error
	gs.closeOnce.Do(func() {
		gs.cancel()
		gs.sub.Cancel()

		if e := gs.client.Close(); e != nil {
			err = fmt.Errorf("client close: %w", e)
		}

		gs.wg.Wait()
	})
	return err
}

// Wait blocks until the context passed to [New] is canceled
// or [*GulfStream.Close] is called, and background work has stopped.
func (gs *GulfStream) Wait() {
	gs.wg.Wait()
}

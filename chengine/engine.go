package chengine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/chaoschain/chaoscore/chconsensus"
	"github.com/chaoschain/chaoscore/chgossip"
	"github.com/chaoschain/chaoscore/chstore"
	"github.com/chaoschain/chaoscore/internal/gchan"
	"github.com/gammazero/workerpool"
)

// Engine is the consensus engine for one validator.
//
// Create an Engine with [New].
// It runs until the context passed to New is canceled
// or it hits an unrecoverable storage error; see [*Engine.Err].
type Engine struct {
	log *slog.Logger

	statusRequests chan<- statusRequest

	subs []chgossip.Subscription
	wp   *workerpool.WorkerPool
	fd   *finalityDeliverer

	readersDone chan struct{}
	kernelDone  chan struct{}

	// Set before kernelDone is closed.
	err error
}

// New returns a running Engine.
//
// Before returning, New brings the committed chain and the state machine into agreement:
// an empty chain receives the genesis block,
// and committed blocks the state machine has not yet applied are replayed.
func New(ctx context.Context, log *slog.Logger, opts ...Opt) (*Engine, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid engine configuration: %w", err)
	}

	tip, err := bootstrapChain(ctx, log, cfg)
	if err != nil {
		return nil, err
	}

	subs := make([]chgossip.Subscription, 0, len(chgossip.ConsensusTopics))
	for _, topic := range chgossip.ConsensusTopics {
		sub, err := cfg.network.Subscribe(topic)
		if err != nil {
			for _, s := range subs {
				s.Cancel()
			}
			return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
		subs = append(subs, sub)
	}

	inbound := make(chan inboundMessage, cfg.verifyWorkers)

	// 1-buffered like the response channels, so a status request is accepted
	// while the kernel finishes its current message.
	statusRequests := make(chan statusRequest, 1)

	e := &Engine{
		log: log,

		statusRequests: statusRequests,

		subs: subs,
		wp:   workerpool.New(cfg.verifyWorkers),

		readersDone: make(chan struct{}),
		kernelDone:  make(chan struct{}),
	}

	if cfg.sink != nil {
		e.fd = newFinalityDeliverer(
			ctx, log.With("sys", "finality"), cfg.sink,
			cfg.finalityRetryBase, cfg.finalityRetryMaximum, cfg.metrics,
		)
	}

	k := newKernel(log.With("sys", "kernel"), cfg, tip, e.fd, inbound, statusRequests)
	go e.runKernel(ctx, k)

	ib := &inboundVerifier{
		log:   log.With("sys", "inbound"),
		codec: cfg.codec,
		out:   inbound,
		m:     cfg.metrics,
	}
	go e.runReaders(ctx, ib)

	return e, nil
}

// bootstrapChain returns the committed tip,
// appending genesis to an empty chain
// and replaying blocks the state machine is missing.
func bootstrapChain(ctx context.Context, log *slog.Logger, cfg engineConfig) (chconsensus.Block, error) {
	current := cfg.machine.Current()

	tip, err := cfg.chain.Tip(ctx)
	if errors.Is(err, chstore.ErrEmpty) {
		if current.Height() != 0 {
			return chconsensus.Block{}, fmt.Errorf(
				"committed chain is empty but state machine is at height %d", current.Height(),
			)
		}
		genesis := cfg.genesis.Block(current.Root())
		if err := cfg.chain.Append(ctx, chconsensus.CommittedBlock{Block: genesis}); err != nil {
			return chconsensus.Block{}, fmt.Errorf("failed to append genesis block: %w", err)
		}
		log.Info("Initialized committed chain", "genesis_hash", fmt.Sprintf("%x", genesis.Hash))
		return genesis, nil
	}
	if err != nil {
		return chconsensus.Block{}, fmt.Errorf("failed to load committed tip: %w", err)
	}

	// The genesis root is only known directly while the machine is at height 0.
	if current.Height() == 0 {
		stored, err := cfg.chain.BlockAt(ctx, 0)
		if err != nil {
			return chconsensus.Block{}, fmt.Errorf("failed to load genesis block: %w", err)
		}
		genesis := cfg.genesis.Block(current.Root())
		if !bytes.Equal(stored.Block.Hash, genesis.Hash) {
			return chconsensus.Block{}, fmt.Errorf(
				"stored genesis block %x does not match configured genesis %x",
				stored.Block.Hash, genesis.Hash,
			)
		}
	}

	if current.Height() > tip.Block.Height {
		return chconsensus.Block{}, fmt.Errorf(
			"state machine at height %d is ahead of committed chain at height %d",
			current.Height(), tip.Block.Height,
		)
	}

	for h := current.Height() + 1; h <= tip.Block.Height; h++ {
		cb, err := cfg.chain.BlockAt(ctx, h)
		if err != nil {
			return chconsensus.Block{}, fmt.Errorf("failed to load block at height %d for replay: %w", h, err)
		}
		if err := cfg.machine.Replay(ctx, cb.Block, cb.Intents); err != nil {
			return chconsensus.Block{}, err
		}
	}
	if tip.Block.Height > current.Height() {
		log.Info(
			"Replayed committed blocks",
			"from", current.Height()+1,
			"to", tip.Block.Height,
		)
	}

	return tip.Block, nil
}

func (e *Engine) runKernel(ctx context.Context, k *kernel) {
	defer close(e.kernelDone)

	if err := k.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		e.log.Error("Consensus kernel stopped", "err", err)
		e.err = err
	}
}

// runReaders starts one goroutine per subscribed topic,
// each handing raw messages to the worker pool for decoding and verification.
func (e *Engine) runReaders(ctx context.Context, ib *inboundVerifier) {
	defer close(e.readersDone)

	readerDone := make(chan struct{}, len(e.subs))
	for i, sub := range e.subs {
		topic := chgossip.ConsensusTopics[i]
		go func() {
			defer func() { readerDone <- struct{}{} }()
			for {
				select {
				case <-ctx.Done():
					return
				case data, ok := <-sub.C():
					if !ok {
						return
					}
					e.wp.Submit(func() {
						ib.Handle(ctx, topic, data)
					})
				}
			}
		}()
	}

	for range e.subs {
		<-readerDone
	}
	e.wp.StopWait()
}

// Wait blocks until every goroutine started by the engine has returned.
// Cancel the context passed to [New] to begin shutdown.
func (e *Engine) Wait() {
	<-e.kernelDone
	<-e.readersDone
	for _, s := range e.subs {
		s.Cancel()
	}
	if e.fd != nil {
		e.fd.Wait()
	}
}

// Err returns the error that stopped the kernel, if any.
// It is only meaningful after [*Engine.Wait] returns.
func (e *Engine) Err() error {
	select {
	case <-e.kernelDone:
		return e.err
	default:
		return nil
	}
}

// Status returns a snapshot of the engine's progress.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	req := statusRequest{Resp: make(chan Status, 1)}

	select {
	case <-ctx.Done():
		return Status{}, context.Cause(ctx)
	case <-e.kernelDone:
		return Status{}, ErrStopped
	case e.statusRequests <- req:
	}

	s, ok := gchan.RecvC(ctx, e.log, req.Resp, "Status")
	if !ok {
		return Status{}, context.Cause(ctx)
	}
	return s, nil
}

// ErrStopped is returned by [*Engine.Status] after the kernel has stopped.
var ErrStopped = errors.New("engine stopped")

type statusRequest struct {
	Resp chan Status
}

package forwarder

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/chaoschain/chaoscore/chconsensus"
	"github.com/chaoschain/chaoscore/chengine/chelink"
	"github.com/chaoschain/chaoscore/chgulfstream/network"
)

// Config holds forwarder configuration.
type Config struct {
	// Most intents re-forwarded per failed round.
	MaxBatchSize int
}

// DefaultConfig returns default configuration values.
func DefaultConfig() *Config {
	return &Config{
		MaxBatchSize: 100,
	}
}

// Pool is the view of the local mempool the forwarder needs.
type Pool interface {
	Drain(max int) []chconsensus.Intent
	Contains(id chconsensus.IntentID) bool
}

// Sender broadcasts intent batches.
// [*network.Client] is the production implementation.
type Sender interface {
	SendIntents(network.Target, []chconsensus.Intent) error
}

// Forwarder re-forwards pending intents toward the next producer
// when a round fails, so intents the failed producer held are not stranded.
type Forwarder struct {
	log    *slog.Logger
	cfg    *Config
	pool   Pool
	client Sender

	proposers *priorityQueue

	mu sync.Mutex
	// Intent ID -> addresses of producers the intent was forwarded toward.
	sentTo map[chconsensus.IntentID]map[string]struct{}

	intentsForwarded atomic.Uint64
	intentsDropped   atomic.Uint64
	roundsRecovered  atomic.Uint64
}

// New creates a new intent forwarder.
func New(log *slog.Logger, pool Pool, client Sender, cfg *Config) (*Forwarder, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if pool == nil {
		return nil, fmt.Errorf("intent pool required")
	}
	if client == nil {
		return nil, fmt.Errorf("network client required")
	}
	if cfg.MaxBatchSize <= 0 {
		return nil, fmt.Errorf("max batch size must be positive (got %d)", cfg.MaxBatchSize)
	}

	return &Forwarder{
		log:       log,
		cfg:       cfg,
		pool:      pool,
		client:    client,
		proposers: newPriorityQueue(),
		sentTo:    make(map[chconsensus.IntentID]map[string]struct{}),
	}, nil
}

// HandleRoundUpdate processes the engine entering a new round.
func (f *Forwarder) HandleRoundUpdate(u chelink.RoundUpdate) error {
	f.forget(u.Committed)

	ps := make([]Proposer, 0, 1+len(u.UpcomingProducers))
	ps = append(ps, Proposer{Address: u.Producer.Address(), Height: u.Height, Round: u.Round})
	for i, pk := range u.UpcomingProducers {
		ps = append(ps, Proposer{
			Address:  pk.Address(),
			Height:   u.Height,
			Round:    u.Round + 1 + uint32(i),
			Priority: 1 + i,
		})
	}
	f.proposers.Update(ps)

	// Round 0 producers received pending intents when they were first gossiped,
	// and a local producer already holds them.
	if u.Round == 0 || u.IsProducer {
		return nil
	}

	f.roundsRecovered.Add(1)
	return f.forwardPending()
}

func (f *Forwarder) forwardPending() error {
	head, ok := f.proposers.Head()
	if !ok {
		return nil
	}
	addr := string(head.Address)

	pending := f.pool.Drain(f.cfg.MaxBatchSize)

	f.mu.Lock()
	batch := make([]chconsensus.Intent, 0, len(pending))
	for _, in := range pending {
		if _, sent := f.sentTo[in.ID()][addr]; !sent {
			batch = append(batch, in)
		}
	}
	f.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	target := network.Target{Producer: head.Address, Height: head.Height, Round: head.Round}
	if err := f.client.SendIntents(target, batch); err != nil {
		f.intentsDropped.Add(uint64(len(batch)))
		return fmt.Errorf("forward to %x: %w", head.Address, err)
	}

	f.mu.Lock()
	for _, in := range batch {
		id := in.ID()
		m := f.sentTo[id]
		if m == nil {
			m = make(map[string]struct{})
			f.sentTo[id] = m
		}
		m[addr] = struct{}{}
	}
	f.mu.Unlock()

	f.intentsForwarded.Add(uint64(len(batch)))
	f.log.Debug(
		"Forwarded pending intents",
		"height", head.Height, "round", head.Round,
		"n", len(batch),
	)
	return nil
}

// forget drops tracking for committed intents
// and for any intent that has otherwise left the pool.
func (f *Forwarder) forget(committed []chconsensus.IntentID) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, id := range committed {
		delete(f.sentTo, id)
	}
	for id := range f.sentTo {
		if !f.pool.Contains(id) {
			delete(f.sentTo, id)
		}
	}
}

// Stats are current forwarder statistics.
type Stats struct {
	IntentsForwarded uint64
	IntentsDropped   uint64
	RoundsRecovered  uint64

	// Intents with forwarding history.
	Tracked int
}

// GetStats returns current statistics.
func (f *Forwarder) GetStats() Stats {
	f.mu.Lock()
	tracked := len(f.sentTo)
	f.mu.Unlock()

	return Stats{
		IntentsForwarded: f.intentsForwarded.Load(),
		IntentsDropped:   f.intentsDropped.Load(),
		RoundsRecovered:  f.roundsRecovered.Load(),
		Tracked:          tracked,
	}
}

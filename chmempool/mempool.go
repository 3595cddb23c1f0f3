// Package chmempool holds intents that are admitted but not yet committed.
package chmempool

import (
	"container/list"
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chaoschain/chaoscore/chconsensus"
	lru "github.com/hashicorp/golang-lru/v2"
)

// CommittedLookup reports whether an intent is already in committed history.
// The committed chain store satisfies it.
type CommittedLookup interface {
	HasIntent(ctx context.Context, id chconsensus.IntentID) (bool, error)
}

// Config configures a [Mempool].
type Config struct {
	// Maximum number of pending intents.
	// Submissions beyond this are rejected with [chconsensus.ErrFull].
	MaxPending int

	// Number of recently committed intent IDs remembered in memory,
	// so that resubmissions are rejected without consulting History.
	CommittedCacheSize int

	// Optional authoritative lookup for intents committed longer ago
	// than the cache remembers.
	History CommittedLookup
}

const (
	DefaultMaxPending         = 10_000
	DefaultCommittedCacheSize = 100_000
)

// Mempool is a FIFO queue of pending intents with deduplication.
// All methods are safe for concurrent use;
// admission and drain are serialized so a drain sees a consistent snapshot.
type Mempool struct {
	log *slog.Logger

	maxPending int
	history    CommittedLookup

	mu sync.Mutex

	// Values are chconsensus.Intent, in admission order.
	queue   *list.List
	pending map[chconsensus.IntentID]*list.Element

	committed *lru.Cache[chconsensus.IntentID, struct{}]
}

// New returns an empty Mempool.
func New(log *slog.Logger, cfg Config) (*Mempool, error) {
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = DefaultMaxPending
	}
	if cfg.CommittedCacheSize <= 0 {
		cfg.CommittedCacheSize = DefaultCommittedCacheSize
	}

	committed, err := lru.New[chconsensus.IntentID, struct{}](cfg.CommittedCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create committed intent cache: %w", err)
	}

	return &Mempool{
		log: log,

		maxPending: cfg.MaxPending,
		history:    cfg.History,

		queue:   list.New(),
		pending: make(map[chconsensus.IntentID]*list.Element),

		committed: committed,
	}, nil
}

// Submit admits in and returns its ID.
//
// It returns an error matching [chconsensus.ErrInvalidCommitment]
// if the commitment does not verify,
// [chconsensus.ErrDuplicate] if the intent is pending or committed,
// or [chconsensus.ErrFull] if the mempool is at capacity.
func (m *Mempool) Submit(ctx context.Context, in chconsensus.Intent) (chconsensus.IntentID, error) {
	// Signature checks happen outside the lock.
	if err := in.VerifyCommitment(); err != nil {
		return chconsensus.IntentID{}, err
	}

	id := in.ID()

	if m.history != nil {
		has, err := m.history.HasIntent(ctx, id)
		if err != nil {
			return id, fmt.Errorf("failed to check committed history for intent %s: %w", id.Short(), err)
		}
		if has {
			return id, fmt.Errorf("intent %s already committed: %w", id.Short(), chconsensus.ErrDuplicate)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.pending[id]; ok {
		return id, fmt.Errorf("intent %s already pending: %w", id.Short(), chconsensus.ErrDuplicate)
	}
	if m.committed.Contains(id) {
		return id, fmt.Errorf("intent %s already committed: %w", id.Short(), chconsensus.ErrDuplicate)
	}
	if len(m.pending) >= m.maxPending {
		return id, fmt.Errorf("%d pending intents: %w", len(m.pending), chconsensus.ErrFull)
	}

	m.pending[id] = m.queue.PushBack(in)

	m.log.Debug("Admitted intent", "id", id.Short(), "pending", len(m.pending))
	return id, nil
}

// Drain returns up to max pending intents in admission order.
// Drained intents stay pending until evicted,
// so a failed round leaves them available to the next producer.
func (m *Mempool) Drain(max int) []chconsensus.Intent {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := min(max, len(m.pending))
	if n <= 0 {
		return nil
	}

	out := make([]chconsensus.Intent, 0, n)
	for e := m.queue.Front(); e != nil && len(out) < n; e = e.Next() {
		out = append(out, e.Value.(chconsensus.Intent))
	}
	return out
}

// Evict removes the given intents. IDs that are not pending are ignored.
func (m *Mempool) Evict(ids []chconsensus.IntentID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.evictLocked(ids)
}

func (m *Mempool) evictLocked(ids []chconsensus.IntentID) {
	for _, id := range ids {
		if e, ok := m.pending[id]; ok {
			m.queue.Remove(e)
			delete(m.pending, id)
		}
	}
}

// MarkCommitted evicts ids and remembers them as committed,
// so that later submissions of the same intents are duplicates.
func (m *Mempool) MarkCommitted(ids []chconsensus.IntentID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.evictLocked(ids)
	for _, id := range ids {
		m.committed.Add(id, struct{}{})
	}
}

// Contains reports whether id is pending.
func (m *Mempool) Contains(id chconsensus.IntentID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.pending[id]
	return ok
}

// Get returns the pending intent with the given ID.
func (m *Mempool) Get(id chconsensus.IntentID) (chconsensus.Intent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.pending[id]
	if !ok {
		return chconsensus.Intent{}, false
	}
	return e.Value.(chconsensus.Intent), true
}

// Len returns the number of pending intents.
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.pending)
}

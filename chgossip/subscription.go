package chgossip

import (
	"context"
	"sync"

	"github.com/chaoschain/chaoscore/internal/gqueue"
)

// TopicSubscription is a [Subscription] fed by [*TopicSubscription.Deliver].
// Network implementations share it to get unbounded, deduplicated delivery.
type TopicSubscription struct {
	q     *gqueue.Queue[[]byte]
	dedup *Deduplicator

	cancel     context.CancelFunc
	cancelOnce sync.Once
	onCancel   func()
}

// NewTopicSubscription returns a subscription that stops when ctx is canceled
// or Cancel is called. onCancel, if not nil, runs once on Cancel.
func NewTopicSubscription(ctx context.Context, dedup *Deduplicator, onCancel func()) *TopicSubscription {
	ctx, cancel := context.WithCancel(ctx)
	return &TopicSubscription{
		q:        gqueue.New[[]byte](ctx),
		dedup:    dedup,
		cancel:   cancel,
		onCancel: onCancel,
	}
}

// Deliver queues data unless it has already been delivered.
// It never blocks.
func (s *TopicSubscription) Deliver(data []byte) bool {
	if !s.dedup.FirstSeen(data) {
		return false
	}
	s.q.Push(data)
	return true
}

func (s *TopicSubscription) C() <-chan []byte {
	return s.q.Out()
}

func (s *TopicSubscription) Cancel() {
	s.cancelOnce.Do(func() {
		s.cancel()
		if s.onCancel != nil {
			s.onCancel()
		}
	})
}

// Wait blocks until the subscription's background work has stopped.
func (s *TopicSubscription) Wait() {
	s.q.Wait()
}

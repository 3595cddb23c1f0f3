package chengine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chaoschain/chaoscore/chconsensus"
	"github.com/chaoschain/chaoscore/internal/gqueue"
	"github.com/sethvargo/go-retry"
)

// finalityDeliverer hands committed blocks to a [FinalitySink] in commit order,
// retrying each until it is accepted.
// The kernel never waits on the sink.
type finalityDeliverer struct {
	log  *slog.Logger
	sink FinalitySink

	q *gqueue.Queue[chconsensus.CommittedBlock]

	base, maximum time.Duration

	m *Metrics

	done chan struct{}
}

func newFinalityDeliverer(
	ctx context.Context, log *slog.Logger, sink FinalitySink,
	base, maximum time.Duration, m *Metrics,
) *finalityDeliverer {
	d := &finalityDeliverer{
		log:  log,
		sink: sink,

		q: gqueue.New[chconsensus.CommittedBlock](ctx),

		base:    base,
		maximum: maximum,

		m: m,

		done: make(chan struct{}),
	}
	go d.run(ctx)
	return d
}

// Enqueue schedules cb for delivery. It never blocks.
func (d *finalityDeliverer) Enqueue(cb chconsensus.CommittedBlock) {
	d.q.Push(cb)
}

func (d *finalityDeliverer) Wait() {
	<-d.done
	d.q.Wait()
}

func (d *finalityDeliverer) run(ctx context.Context) {
	defer close(d.done)

	for {
		select {
		case <-ctx.Done():
			return
		case cb := <-d.q.Out():
			if err := d.deliver(ctx, cb); err != nil {
				// Only a canceled context ends the retries.
				d.log.Info(
					"Stopped delivering finalized block",
					"height", cb.Block.Height,
					"err", err,
				)
				return
			}
		}
	}
}

func (d *finalityDeliverer) deliver(ctx context.Context, cb chconsensus.CommittedBlock) error {
	backoff := retry.WithCappedDuration(d.maximum, retry.NewExponential(d.base))

	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := d.sink.DeliverFinalized(ctx, cb); err != nil {
			d.m.count(finalityRetries)
			d.log.Warn(
				"Finality sink rejected block; will retry",
				"height", cb.Block.Height,
				"hash", fmt.Sprintf("%x", cb.Block.Hash),
				"attempt", attempt,
				"err", err,
			)
			return retry.RetryableError(err)
		}
		return nil
	})
}

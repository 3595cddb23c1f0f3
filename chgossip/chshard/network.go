// Package chshard wraps a [chgossip.Network] so that payloads too large
// for one gossip message travel as Reed-Solomon coded shards.
//
// Small payloads are sent whole behind a one-byte marker.
// Large payloads are split into data and parity shards, each broadcast separately;
// a receiver delivers the payload once any sufficient subset of shards
// has arrived and the reassembled bytes match the advertised hash.
package chshard

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chaoschain/chaoscore/chcodec/chcbor"
	"github.com/chaoschain/chaoscore/chgossip"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	markWhole byte = 0
	markShard byte = 1
)

// Config configures a [Network]. Zero fields take defaults.
type Config struct {
	// Payloads of at most this many bytes are sent whole.
	MaxWholeSize int

	DataShards   int
	ParityShards int

	// Largest reassembled payload accepted from peers.
	MaxPayloadSize int

	// Number of payloads per topic that may be partially reassembled at once.
	// The least recently touched is abandoned beyond that.
	MaxPending int
}

const (
	DefaultMaxWholeSize   = 256 << 10
	DefaultDataShards     = 8
	DefaultParityShards   = 4
	DefaultMaxPayloadSize = 32 << 20
	DefaultMaxPending     = 64

	// Bounds on shard counts claimed by peers.
	maxShards = 256
)

func (c *Config) setDefaults() {
	if c.MaxWholeSize <= 0 {
		c.MaxWholeSize = DefaultMaxWholeSize
	}
	if c.DataShards <= 0 {
		c.DataShards = DefaultDataShards
	}
	if c.ParityShards <= 0 {
		c.ParityShards = DefaultParityShards
	}
	if c.MaxPayloadSize <= 0 {
		c.MaxPayloadSize = DefaultMaxPayloadSize
	}
	if c.MaxPending <= 0 {
		c.MaxPending = DefaultMaxPending
	}
}

// Network is a [chgossip.Network] that shards large payloads over an inner network.
type Network struct {
	log   *slog.Logger
	inner chgossip.Network
	cfg   Config

	ctx    context.Context
	cancel context.CancelFunc

	wg sync.WaitGroup
}

var _ chgossip.Network = (*Network)(nil)

// New wraps inner. inner is closed with the returned Network.
func New(ctx context.Context, log *slog.Logger, inner chgossip.Network, cfg Config) (*Network, error) {
	cfg.setDefaults()
	if cfg.DataShards+cfg.ParityShards > maxShards {
		return nil, fmt.Errorf("at most %d total shards supported, got %d", maxShards, cfg.DataShards+cfg.ParityShards)
	}

	ctx, cancel := context.WithCancel(ctx)
	return &Network{
		log:   log,
		inner: inner,
		cfg:   cfg,

		ctx:    ctx,
		cancel: cancel,
	}, nil
}

func (n *Network) Broadcast(ctx context.Context, topic chgossip.Topic, data []byte) error {
	if len(data) <= n.cfg.MaxWholeSize {
		msg := make([]byte, 1+len(data))
		msg[0] = markWhole
		copy(msg[1:], data)
		return n.inner.Broadcast(ctx, topic, msg)
	}

	msgs, err := encodeShards(ctx, data, n.cfg.DataShards, n.cfg.ParityShards)
	if err != nil {
		return err
	}

	// Later shards may still recover the payload if earlier ones fail to send.
	var sendErr error
	for _, m := range msgs {
		if err := n.inner.Broadcast(ctx, topic, m); err != nil {
			if errors.Is(err, chgossip.ErrClosed) {
				return err
			}
			sendErr = err
		}
	}
	return sendErr
}

func (n *Network) Subscribe(topic chgossip.Topic) (chgossip.Subscription, error) {
	innerSub, err := n.inner.Subscribe(topic)
	if err != nil {
		return nil, err
	}

	pending, err := lru.New[string, *assembly](n.cfg.MaxPending)
	if err != nil {
		innerSub.Cancel()
		return nil, fmt.Errorf("failed to create reassembly cache: %w", err)
	}
	done, err := lru.New[string, struct{}](4 * n.cfg.MaxPending)
	if err != nil {
		innerSub.Cancel()
		return nil, fmt.Errorf("failed to create reassembly cache: %w", err)
	}

	ctx, cancel := context.WithCancel(n.ctx)
	out := chgossip.NewTopicSubscription(ctx, chgossip.NewDeduplicator(0), func() {
		cancel()
		innerSub.Cancel()
	})

	r := &reassembler{
		log:            n.log.With("topic", topic),
		maxPayloadSize: n.cfg.MaxPayloadSize,
		pending:        pending,
		done:           done,
	}

	n.wg.Add(1)
	go n.readSubscription(ctx, innerSub, out, r)

	return out, nil
}

func (n *Network) readSubscription(
	ctx context.Context, in chgossip.Subscription, out *chgossip.TopicSubscription, r *reassembler,
) {
	defer n.wg.Done()
	defer out.Cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case data := <-in.C():
			if len(data) == 0 {
				continue
			}

			switch data[0] {
			case markWhole:
				out.Deliver(data[1:])
			case markShard:
				if payload, ok := r.add(ctx, data[1:]); ok {
					out.Deliver(payload)
				}
			default:
				r.log.Debug("Dropping message with unknown marker", "marker", data[0])
			}
		}
	}
}

func (n *Network) PeerEvents() <-chan chgossip.PeerEvent {
	return n.inner.PeerEvents()
}

// Close stops reassembly and closes the inner network.
func (n *Network) Close() error {
	n.cancel()
	err := n.inner.Close()
	n.wg.Wait()
	return err
}

// shard is the wire form of one shard, after the marker byte.
type shard struct {
	// sha256 of the whole payload; identifies the shard set.
	PayloadHash []byte `cbor:"h"`
	PayloadSize int    `cbor:"s"`

	DataShards   int `cbor:"d"`
	ParityShards int `cbor:"p"`

	Index int    `cbor:"i"`
	Bytes []byte `cbor:"b"`
}

func (s shard) validate(maxPayloadSize int) error {
	switch {
	case len(s.PayloadHash) != sha256.Size:
		return fmt.Errorf("payload hash has %d bytes", len(s.PayloadHash))
	case s.PayloadSize <= 0 || s.PayloadSize > maxPayloadSize:
		return fmt.Errorf("payload size %d outside (0, %d]", s.PayloadSize, maxPayloadSize)
	case s.DataShards <= 0 || s.ParityShards <= 0 || s.DataShards+s.ParityShards > maxShards:
		return fmt.Errorf("invalid shard counts %d+%d", s.DataShards, s.ParityShards)
	case s.Index < 0 || s.Index >= s.DataShards+s.ParityShards:
		return fmt.Errorf("shard index %d out of range", s.Index)
	case len(s.Bytes) == 0 || len(s.Bytes)*s.DataShards < s.PayloadSize:
		return fmt.Errorf("shard of %d bytes cannot hold its part of %d", len(s.Bytes), s.PayloadSize)
	}
	return nil
}

func marshalShard(s shard) ([]byte, error) {
	b, err := chcbor.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode shard: %w", err)
	}
	return append([]byte{markShard}, b...), nil
}

package network

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chaoschain/chaoscore/chcodec"
	"github.com/chaoschain/chaoscore/chcodec/chcbor"
	"github.com/chaoschain/chaoscore/chconsensus"
	"github.com/chaoschain/chaoscore/chgossip"
	"github.com/sethvargo/go-retry"
)

// Client sends and decodes intent batches on the gossip network.
type Client struct {
	log        *slog.Logger
	net        chgossip.Network
	codec      chcodec.Codec
	maxRetries uint64
	retryDelay time.Duration

	stats Stats

	activeSends sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// Config configures the network client.
type Config struct {
	// Broadcast attempts after the first failure.
	MaxRetries uint64
	RetryDelay time.Duration
}

// DefaultConfig returns default configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries: 3,
		RetryDelay: 50 * time.Millisecond,
	}
}

// Target identifies the producer a batch is forwarded toward.
type Target struct {
	Producer []byte
	Height   uint64
	Round    uint32
}

// New creates a new network client.
func New(
	ctx context.Context, log *slog.Logger, net chgossip.Network, codec chcodec.Codec, cfg *Config,
) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if net == nil {
		return nil, errors.New("gossip network required")
	}
	if codec == nil {
		return nil, errors.New("codec required")
	}
	if cfg.RetryDelay <= 0 {
		return nil, errors.New("retry delay must be positive")
	}

	ctx, cancel := context.WithCancel(ctx)

	return &Client{
		log:        log,
		net:        net,
		codec:      codec,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// SendIntents broadcasts intents as one batch addressed to target.
func (c *Client) SendIntents(target Target, intents []chconsensus.Intent) error {
	if err := c.ctx.Err(); err != nil {
		return fmt.Errorf("client is closed: %w", err)
	}
	if len(intents) == 0 {
		return nil
	}

	c.activeSends.Add(1)
	atomic.AddUint32(&c.stats.ActiveSends, 1)
	defer func() {
		c.activeSends.Done()
		atomic.AddUint32(&c.stats.ActiveSends, ^uint32(0))
	}()

	batch := IntentBatch{
		Intents:  make([][]byte, len(intents)),
		Producer: target.Producer,
		Height:   target.Height,
		Round:    target.Round,
	}
	for i, in := range intents {
		b, err := c.codec.MarshalIntent(in)
		if err != nil {
			return fmt.Errorf("encode intent %s: %w", in.ID().Short(), err)
		}
		batch.Intents[i] = b
	}
	data, err := chcbor.Marshal(batch)
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}

	backoff := retry.WithMaxRetries(c.maxRetries, retry.NewConstant(c.retryDelay))
	err = retry.Do(c.ctx, backoff, func(ctx context.Context) error {
		if err := c.net.Broadcast(ctx, chgossip.TopicIntents, data); err != nil {
			if errors.Is(err, chgossip.ErrClosed) {
				return err
			}
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		atomic.AddUint64(&c.stats.SendErrors, 1)
		return fmt.Errorf("broadcast batch: %w", err)
	}

	atomic.AddUint64(&c.stats.BatchesSent, 1)
	atomic.AddUint64(&c.stats.IntentsSent, uint64(len(intents)))
	return nil
}

// DecodeBatch returns the intents carried by a batch received on the intents topic.
// Intents that fail to decode are skipped and counted.
func (c *Client) DecodeBatch(data []byte) (IntentBatch, []chconsensus.Intent, error) {
	var batch IntentBatch
	if err := chcbor.Unmarshal(data, &batch); err != nil {
		atomic.AddUint64(&c.stats.DecodeErrors, 1)
		return IntentBatch{}, nil, fmt.Errorf("decode batch: %w", err)
	}

	out := make([]chconsensus.Intent, 0, len(batch.Intents))
	for _, b := range batch.Intents {
		var in chconsensus.Intent
		if err := c.codec.UnmarshalIntent(b, &in); err != nil {
			atomic.AddUint64(&c.stats.DecodeErrors, 1)
			c.log.Debug("Dropping undecodable intent", "err", err)
			continue
		}
		out = append(out, in)
	}
	return batch, out, nil
}

// GetStats returns current statistics.
func (c *Client) GetStats() Stats {
	return Stats{
		BatchesSent:  atomic.LoadUint64(&c.stats.BatchesSent),
		IntentsSent:  atomic.LoadUint64(&c.stats.IntentsSent),
		SendErrors:   atomic.LoadUint64(&c.stats.SendErrors),
		DecodeErrors: atomic.LoadUint64(&c.stats.DecodeErrors),
		ActiveSends:  atomic.LoadUint32(&c.stats.ActiveSends),
	}
}

// Close shuts down the client.
func (c *Client) Close() error {
	c.cancel()
	c.activeSends.Wait()
	return nil
}

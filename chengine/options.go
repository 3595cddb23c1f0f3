package chengine

import (
	"errors"
	"time"

	"github.com/chaoschain/chaoscore/chcodec"
	"github.com/chaoschain/chaoscore/chconsensus"
	"github.com/chaoschain/chaoscore/chengine/chelink"
	"github.com/chaoschain/chaoscore/chgossip"
	"github.com/chaoschain/chaoscore/chstore"
	"github.com/chaoschain/chaoscore/gcrypto"
	"github.com/hashicorp/go-multierror"
)

// Opt is an option for [New].
type Opt func(*engineConfig) error

// engineConfig is the accumulated result of every [Opt].
type engineConfig struct {
	signer  gcrypto.Signer
	genesis *chconsensus.Genesis

	mempool Mempool
	machine StateMachine
	chain   chstore.CommittedChain
	network chgossip.Network
	codec   chcodec.Codec

	policy   chconsensus.ValidatorPolicy
	selector chconsensus.ProducerSelector
	timeouts TimeoutStrategy

	sink    FinalitySink
	metrics *Metrics

	cmspScheme gcrypto.CommonMessageSignatureProofScheme

	interceptor  chelink.ProposalInterceptor
	roundUpdates chan<- chelink.RoundUpdate

	now func() time.Time

	proposalDelay time.Duration

	verifyWorkers        int
	maxProposalIntents   int
	maxRootMismatches    int
	maxBufferedMessages  int
	maxTimestampDrift    time.Duration
	finalityRetryBase    time.Duration
	finalityRetryMaximum time.Duration
}

const (
	DefaultVerifyWorkers        = 4
	DefaultMaxProposalIntents   = 1000
	DefaultMaxRootMismatches    = 3
	DefaultMaxBufferedMessages  = 4096
	DefaultMaxTimestampDrift    = 30 * time.Second
	DefaultFinalityRetryBase    = 100 * time.Millisecond
	DefaultFinalityRetryMaximum = 30 * time.Second
)

func defaultConfig() engineConfig {
	return engineConfig{
		policy:   chconsensus.ApproveAll,
		selector: chconsensus.RoundRobinSelector{},
		timeouts: LinearTimeoutStrategy{Base: DefaultBaseTimeout, Increase: DefaultBaseTimeout / 2},

		cmspScheme: gcrypto.SimpleCommonMessageSignatureProofScheme{},

		now: time.Now,

		verifyWorkers:        DefaultVerifyWorkers,
		maxProposalIntents:   DefaultMaxProposalIntents,
		maxRootMismatches:    DefaultMaxRootMismatches,
		maxBufferedMessages:  DefaultMaxBufferedMessages,
		maxTimestampDrift:    DefaultMaxTimestampDrift,
		finalityRetryBase:    DefaultFinalityRetryBase,
		finalityRetryMaximum: DefaultFinalityRetryMaximum,
	}
}

// validate reports every required option that was not set.
func (c engineConfig) validate() error {
	var result *multierror.Error
	if c.signer == nil {
		result = multierror.Append(result, errors.New("no signer set (use WithSigner)"))
	}
	if c.genesis == nil {
		result = multierror.Append(result, errors.New("no genesis set (use WithGenesis)"))
	}
	if c.mempool == nil {
		result = multierror.Append(result, errors.New("no mempool set (use WithMempool)"))
	}
	if c.machine == nil {
		result = multierror.Append(result, errors.New("no state machine set (use WithStateMachine)"))
	}
	if c.chain == nil {
		result = multierror.Append(result, errors.New("no committed chain set (use WithCommittedChain)"))
	}
	if c.network == nil {
		result = multierror.Append(result, errors.New("no network set (use WithNetwork)"))
	}
	if c.codec == nil {
		result = multierror.Append(result, errors.New("no codec set (use WithCodec)"))
	}
	return result.ErrorOrNil()
}

// WithSigner sets the signer for this validator's proposals and votes. Required.
// A signer whose key is not in the validator set still follows the chain
// but never proposes or votes.
func WithSigner(s gcrypto.Signer) Opt {
	return func(c *engineConfig) error {
		c.signer = s
		return nil
	}
}

// WithGenesis sets the chain's genesis. Required.
func WithGenesis(g chconsensus.Genesis) Opt {
	return func(c *engineConfig) error {
		if err := g.Validate(); err != nil {
			return err
		}
		c.genesis = &g
		return nil
	}
}

// WithMempool sets the source of intents for proposals. Required.
func WithMempool(m Mempool) Opt {
	return func(c *engineConfig) error {
		c.mempool = m
		return nil
	}
}

// WithStateMachine sets the state machine. Required.
// The machine's current state is taken as the committed state on startup.
func WithStateMachine(m StateMachine) Opt {
	return func(c *engineConfig) error {
		c.machine = m
		return nil
	}
}

// WithCommittedChain sets the store for committed blocks. Required.
// The engine is the store's only writer.
func WithCommittedChain(s chstore.CommittedChain) Opt {
	return func(c *engineConfig) error {
		c.chain = s
		return nil
	}
}

// WithNetwork sets the gossip network. Required.
func WithNetwork(n chgossip.Network) Opt {
	return func(c *engineConfig) error {
		c.network = n
		return nil
	}
}

// WithCodec sets the wire codec. Required.
func WithCodec(cdc chcodec.Codec) Opt {
	return func(c *engineConfig) error {
		c.codec = cdc
		return nil
	}
}

// WithValidatorPolicy sets the policy deciding whether this node votes for a proposal.
// Defaults to [chconsensus.ApproveAll].
func WithValidatorPolicy(p chconsensus.ValidatorPolicy) Opt {
	return func(c *engineConfig) error {
		c.policy = p
		return nil
	}
}

// WithProducerSelector sets the producer selector.
// Defaults to [chconsensus.RoundRobinSelector].
func WithProducerSelector(s chconsensus.ProducerSelector) Opt {
	return func(c *engineConfig) error {
		c.selector = s
		return nil
	}
}

func WithTimeoutStrategy(s TimeoutStrategy) Opt {
	return func(c *engineConfig) error {
		c.timeouts = s
		return nil
	}
}

// WithFinalitySink sets the sink receiving every committed block and its proof.
// Delivery is retried until it succeeds or the engine stops.
func WithFinalitySink(s FinalitySink) Opt {
	return func(c *engineConfig) error {
		c.sink = s
		return nil
	}
}

// WithFinalityRetry sets the initial and maximum delay between failed sink deliveries.
func WithFinalityRetry(base, maximum time.Duration) Opt {
	return func(c *engineConfig) error {
		if base <= 0 || maximum < base {
			return errors.New("finality retry delays must be positive and maximum must be at least base")
		}
		c.finalityRetryBase = base
		c.finalityRetryMaximum = maximum
		return nil
	}
}

func WithMetrics(m *Metrics) Opt {
	return func(c *engineConfig) error {
		c.metrics = m
		return nil
	}
}

// WithVerifyWorkers sets the number of goroutines decoding and verifying inbound messages.
func WithVerifyWorkers(n int) Opt {
	return func(c *engineConfig) error {
		if n <= 0 {
			return errors.New("verify workers must be positive")
		}
		c.verifyWorkers = n
		return nil
	}
}

// WithMaxProposalIntents caps the number of intents drained into one fresh proposal.
func WithMaxProposalIntents(n int) Opt {
	return func(c *engineConfig) error {
		if n <= 0 {
			return errors.New("max proposal intents must be positive")
		}
		c.maxProposalIntents = n
		return nil
	}
}

// WithMaxConsecutiveRootMismatches sets how many consecutive state root mismatches
// on otherwise valid proposals mark this node as desynchronized.
func WithMaxConsecutiveRootMismatches(n int) Opt {
	return func(c *engineConfig) error {
		if n <= 0 {
			return errors.New("max consecutive root mismatches must be positive")
		}
		c.maxRootMismatches = n
		return nil
	}
}

// WithMaxBufferedMessages caps the messages held for heights not yet reached.
func WithMaxBufferedMessages(n int) Opt {
	return func(c *engineConfig) error {
		if n <= 0 {
			return errors.New("max buffered messages must be positive")
		}
		c.maxBufferedMessages = n
		return nil
	}
}

// WithMaxTimestampDrift sets how far past the local clock
// a proposed block's timestamp may be before this node refuses to vote for it.
func WithMaxTimestampDrift(d time.Duration) Opt {
	return func(c *engineConfig) error {
		if d <= 0 {
			return errors.New("max timestamp drift must be positive")
		}
		c.maxTimestampDrift = d
		return nil
	}
}

// WithClock overrides the source of block timestamps. Defaults to time.Now.
func WithClock(now func() time.Time) Opt {
	return func(c *engineConfig) error {
		c.now = now
		return nil
	}
}

func WithProposalInterceptor(i chelink.ProposalInterceptor) Opt {
	return func(c *engineConfig) error {
		c.interceptor = i
		return nil
	}
}

// WithRoundUpdates sets a channel to receive a [chelink.RoundUpdate] on every round entrance.
// Sends never block; a consumer that falls behind misses updates.
func WithRoundUpdates(ch chan<- chelink.RoundUpdate) Opt {
	return func(c *engineConfig) error {
		c.roundUpdates = ch
		return nil
	}
}

// WithSignatureProofScheme sets the scheme used to build and check finality proofs.
// Defaults to [gcrypto.SimpleCommonMessageSignatureProofScheme].
func WithSignatureProofScheme(s gcrypto.CommonMessageSignatureProofScheme) Opt {
	return func(c *engineConfig) error {
		c.cmspScheme = s
		return nil
	}
}

// WithProposalDelay makes this node wait d after entering round 0 of a height
// before proposing, so an idle chain does not produce empty blocks back to back.
// It should be well below the round 0 timeout.
func WithProposalDelay(d time.Duration) Opt {
	return func(c *engineConfig) error {
		if d < 0 {
			return errors.New("proposal delay must not be negative")
		}
		c.proposalDelay = d
		return nil
	}
}

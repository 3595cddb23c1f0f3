package chengine

import (
	"github.com/chaoschain/chaoscore/chconsensus"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the prometheus collectors updated by an [Engine].
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Height prometheus.Gauge
	Round  prometheus.Gauge

	Commits       prometheus.Counter
	FastForwards  prometheus.Counter
	RoundTimeouts prometheus.Counter
	Proposals     prometheus.Counter
	VotesCast     prometheus.Counter

	// Labeled by error class.
	Rejections *prometheus.CounterVec

	Equivocations  prometheus.Counter
	StalledHeights prometheus.Counter

	// 1 while local state disagrees with repeated valid proposals.
	Desynchronized prometheus.Gauge

	FinalityRetries prometheus.Counter
}

// NewMetrics returns a set of engine collectors registered with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	const ns, sub = "chaoscore", "engine"

	m := &Metrics{
		Height: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub, Name: "height",
			Help: "Height currently being decided.",
		}),
		Round: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub, Name: "round",
			Help: "Round currently being decided.",
		}),
		Commits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "commits_total",
			Help: "Blocks committed.",
		}),
		FastForwards: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "fast_forwards_total",
			Help: "Blocks adopted from a peer's committed block without local voting.",
		}),
		RoundTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "round_timeouts_total",
			Help: "Rounds that failed by deadline.",
		}),
		Proposals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "proposals_total",
			Help: "Proposals broadcast by this node.",
		}),
		VotesCast: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "votes_cast_total",
			Help: "Votes signed by this node.",
		}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "rejections_total",
			Help: "Inbound messages or proposals rejected, by error class.",
		}, []string{"class"}),
		Equivocations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "equivocations_total",
			Help: "Validators caught voting for two blocks at one height.",
		}),
		StalledHeights: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "stalled_heights_total",
			Help: "Heights where split votes made finality by voting impossible.",
		}),
		Desynchronized: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub, Name: "desynchronized",
			Help: "1 while local state roots repeatedly disagree with proposals.",
		}),
		FinalityRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "finality_retries_total",
			Help: "Failed deliveries to the finality sink.",
		}),
	}

	if reg == nil {
		return m, nil
	}

	var result *multierror.Error
	for _, c := range []prometheus.Collector{
		m.Height, m.Round,
		m.Commits, m.FastForwards, m.RoundTimeouts, m.Proposals, m.VotesCast,
		m.Rejections,
		m.Equivocations, m.StalledHeights,
		m.Desynchronized,
		m.FinalityRetries,
	} {
		if err := reg.Register(c); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) enterRound(height uint64, round uint32) {
	if m == nil {
		return
	}
	m.Height.Set(float64(height))
	m.Round.Set(float64(round))
}

func (m *Metrics) committed(fastForward bool) {
	if m == nil {
		return
	}
	m.Commits.Inc()
	if fastForward {
		m.FastForwards.Inc()
	}
}

func (m *Metrics) rejected(err error) {
	if m == nil {
		return
	}
	class := chconsensus.ClassOf(err).String()
	m.Rejections.WithLabelValues(class).Inc()
}

// count increments the counter chosen by pick, if m is set.
func (m *Metrics) count(pick func(*Metrics) prometheus.Counter) {
	if m == nil {
		return
	}
	pick(m).Inc()
}

func roundTimeouts(m *Metrics) prometheus.Counter   { return m.RoundTimeouts }
func proposals(m *Metrics) prometheus.Counter       { return m.Proposals }
func votesCast(m *Metrics) prometheus.Counter       { return m.VotesCast }
func equivocations(m *Metrics) prometheus.Counter   { return m.Equivocations }
func stalledHeights(m *Metrics) prometheus.Counter  { return m.StalledHeights }
func finalityRetries(m *Metrics) prometheus.Counter { return m.FinalityRetries }

func (m *Metrics) setDesynchronized(v bool) {
	if m == nil {
		return
	}
	if v {
		m.Desynchronized.Set(1)
	} else {
		m.Desynchronized.Set(0)
	}
}

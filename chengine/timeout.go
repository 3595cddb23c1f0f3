package chengine

import "time"

// TimeoutStrategy returns how long a round may run before it fails.
// Timeouts only trade latency for liveness; they never affect safety.
type TimeoutStrategy interface {
	RoundTimeout(round uint32) time.Duration
}

const DefaultBaseTimeout = 2 * time.Second

// LinearTimeoutStrategy grows the round timeout by Increase each round.
type LinearTimeoutStrategy struct {
	// Timeout of round 0. Non-positive values use [DefaultBaseTimeout].
	Base time.Duration

	Increase time.Duration
}

func (s LinearTimeoutStrategy) RoundTimeout(round uint32) time.Duration {
	base := s.Base
	if base <= 0 {
		base = DefaultBaseTimeout
	}
	return base + time.Duration(round)*s.Increase
}

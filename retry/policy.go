package retry

import (
	"time"

	"github.com/omni/alias-relay/config"
)

type Policy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts uint
	AuthDelay   time.Duration
}

func NewPolicy(cfg *config.RetryConfig) *Policy {
	return &Policy{
		BaseDelay:   cfg.BaseDelay,
		MaxDelay:    cfg.MaxDelay,
		MaxAttempts: cfg.MaxAttempts,
		AuthDelay:   cfg.AuthDelay,
	}
}

// Delay is min(2^attempts * base, max).
func (p *Policy) Delay(attempts uint) time.Duration {
	delay := p.BaseDelay
	for i := uint(0); i < attempts; i++ {
		if delay >= p.MaxDelay/2 {
			return p.MaxDelay
		}
		delay *= 2
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

func (p *Policy) NextAttemptAt(now time.Time, attempts uint) time.Time {
	return now.Add(p.Delay(attempts))
}

// Decision is the outcome of a failed attempt.
type Decision struct {
	Class         Class
	Attempts      uint
	NextAttemptAt *time.Time
	Stuck         bool
}

// OnFailure classifies err and decides how the event is rescheduled, given the
// number of attempts made before this failure.
func (p *Policy) OnFailure(now time.Time, attempts uint, err error) Decision {
	class := Classify(err)
	switch class {
	case ClassAuth:
		next := now.Add(p.AuthDelay)
		return Decision{Class: class, Attempts: attempts, NextAttemptAt: &next}
	case ClassTerminal:
		return Decision{Class: class, Attempts: attempts + 1, Stuck: true}
	}
	attempts++
	if attempts >= p.MaxAttempts {
		return Decision{Class: class, Attempts: attempts, Stuck: true}
	}
	next := p.NextAttemptAt(now, attempts-1)
	return Decision{Class: class, Attempts: attempts, NextAttemptAt: &next}
}

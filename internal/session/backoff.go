package session

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff"
)

// Reconnect delay defaults.
const (
	DefaultInitialDelay = 1 * time.Second
	DefaultMaxDelay     = 30 * time.Second
	DefaultMultiplier   = 2.0
	DefaultJitter       = 0.2
)

// BackoffConfig controls the delay between reconnect attempts.
type BackoffConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	Jitter       float64       `yaml:"jitter"`

	// MaxAttempts is the number of consecutive failed attempts after
	// which the session gives up. 0 retries forever.
	MaxAttempts int `yaml:"max_attempts"`
}

// DefaultBackoffConfig returns the reconnect defaults.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: DefaultInitialDelay,
		MaxDelay:     DefaultMaxDelay,
		Multiplier:   DefaultMultiplier,
		Jitter:       DefaultJitter,
	}
}

func (c BackoffConfig) withDefaults() BackoffConfig {
	if c.InitialDelay <= 0 {
		c.InitialDelay = DefaultInitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.MaxDelay < c.InitialDelay {
		c.MaxDelay = c.InitialDelay
	}
	if c.Multiplier < 1 {
		c.Multiplier = DefaultMultiplier
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	}
	if c.Jitter > 1 {
		c.Jitter = 1
	}
	return c
}

// Backoff yields reconnect delays. Delays grow exponentially with jitter,
// never exceed MaxDelay, and never get shorter than the previous delay
// until Reset.
type Backoff struct {
	mu       sync.Mutex
	cfg      BackoffConfig
	exp      *backoff.ExponentialBackOff
	last     time.Duration
	attempts int
}

// NewBackoff creates a Backoff from cfg, filling zero fields with defaults.
func NewBackoff(cfg BackoffConfig) *Backoff {
	cfg = cfg.withDefaults()
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = cfg.InitialDelay
	exp.MaxInterval = cfg.MaxDelay
	exp.Multiplier = cfg.Multiplier
	exp.RandomizationFactor = cfg.Jitter
	exp.MaxElapsedTime = 0
	exp.Reset()
	return &Backoff{cfg: cfg, exp: exp}
}

// Next returns the delay before the next attempt.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	d := b.exp.NextBackOff()
	if d == backoff.Stop || d > b.cfg.MaxDelay {
		d = b.cfg.MaxDelay
	}
	if d < b.last {
		d = b.last
	}
	b.last = d
	b.attempts++
	return d
}

// Reset starts the sequence over. Call it after a successful connection.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.exp.Reset()
	b.last = 0
	b.attempts = 0
}

// Attempts returns how many delays have been handed out since Reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Exhausted reports whether failures consecutive failures use up the
// attempt budget.
func (c BackoffConfig) Exhausted(failures int) bool {
	return c.MaxAttempts > 0 && failures >= c.MaxAttempts
}

package errors

import (
	"fmt"
	"sync"
	"time"

	"autoloom/internal/logging"
)

// BreakerState is the position of a Breaker.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	// BreakerProbing lets requests through after the cooldown until enough
	// of them succeed or one fails.
	BreakerProbing
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerProbing:
		return "probing"
	}
	return fmt.Sprintf("BreakerState(%d)", int(s))
}

// BreakerConfig tunes a Breaker. Zero fields take the defaults.
type BreakerConfig struct {
	// Threshold is the run of consecutive failures that opens the breaker.
	Threshold int
	// Probes is the run of successes needed to close it again.
	Probes   int
	Cooldown time.Duration
	// OnTransition runs synchronously on every state change.
	OnTransition func(name string, from, to BreakerState)
}

const (
	defaultBreakerThreshold = 5
	defaultBreakerProbes    = 2
	defaultBreakerCooldown  = 30 * time.Second
)

// Breaker short-circuits calls to a backend that keeps failing. While open,
// Allow returns a DegradedError so callers fall back instead of waiting.
type Breaker struct {
	name   string
	cfg    BreakerConfig
	logger logging.Logger
	now    func() time.Time

	mu       sync.Mutex
	state    BreakerState
	failures int
	probes   int
	openedAt time.Time
}

// NewBreaker builds a closed breaker.
func NewBreaker(name string, cfg BreakerConfig, logger logging.Logger) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = defaultBreakerThreshold
	}
	if cfg.Probes <= 0 {
		cfg.Probes = defaultBreakerProbes
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultBreakerCooldown
	}
	return &Breaker{name: name, cfg: cfg, logger: logging.OrNop(logger), now: time.Now}
}

// Allow reports whether a call may go out.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != BreakerOpen {
		return nil
	}
	wait := b.cfg.Cooldown - b.now().Sub(b.openedAt)
	if wait <= 0 {
		b.probes = 0
		b.moveTo(BreakerProbing)
		return nil
	}
	return NewDegradedError(
		fmt.Errorf("%s breaker open", b.name),
		fmt.Sprintf("%s keeps failing; next attempt in %v", b.name, wait.Round(time.Second)),
	)
}

// Record feeds a call result back. A nil err is a success.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.failures = 0
		if b.state == BreakerProbing {
			b.probes++
			if b.probes >= b.cfg.Probes {
				b.moveTo(BreakerClosed)
			}
		}
		return
	}

	switch b.state {
	case BreakerClosed:
		b.failures++
		b.logger.Debug("[%s] failure %d/%d: %v", b.name, b.failures, b.cfg.Threshold, err)
		if b.failures >= b.cfg.Threshold {
			b.open()
		}
	case BreakerProbing:
		b.open()
	}
}

func (b *Breaker) open() {
	b.openedAt = b.now()
	b.failures = 0
	b.moveTo(BreakerOpen)
}

func (b *Breaker) moveTo(next BreakerState) {
	prev := b.state
	if prev == next {
		return
	}
	b.state = next
	b.logger.Info("[%s] breaker %s -> %s", b.name, prev, next)
	if b.cfg.OnTransition != nil {
		b.cfg.OnTransition(b.name, prev, next)
	}
}

// State returns the current position.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

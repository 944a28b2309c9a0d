// Package resilience provides retry and circuit breaking for calls that
// leave the process: event publishing and the Agent Pulse API.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// State is the state of a Breaker.
type State int

const (
	// Closed lets calls through.
	Closed State = iota
	// Open rejects calls until the cooldown elapses.
	Open
	// HalfOpen lets trial calls through.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned for calls rejected by an open breaker.
var ErrOpen = eris.New("resilience: circuit open")

// BreakerConfig controls a Breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the circuit. Default: 5.
	FailureThreshold int

	// Cooldown is how long the circuit stays open. Default: 30s.
	Cooldown time.Duration

	// Probes is the number of successes in half-open that close it again.
	// Default: 1.
	Probes int

	// OnStateChange is called on every transition, under the breaker lock.
	OnStateChange func(from, to State)
}

// Breaker trips after repeated failures so a dead downstream is not
// hammered. It is safe for concurrent use.
type Breaker struct {
	cfg BreakerConfig

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time

	now func() time.Time
}

// NewBreaker returns a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Probes <= 0 {
		cfg.Probes = 1
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// Do runs fn unless the circuit is open.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	b.record(err)
	return err
}

// State returns the current state, reporting HalfOpen once an open
// circuit's cooldown has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		return HalfOpen
	}
	return b.state
}

// Failures returns the consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != Open {
		return nil
	}
	if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
		return ErrOpen
	}
	b.moveTo(HalfOpen)
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.failures = 0
		if b.state == HalfOpen {
			b.successes++
			if b.successes >= b.cfg.Probes {
				b.successes = 0
				b.moveTo(Closed)
			}
		}
		return
	}

	b.failures++
	switch {
	case b.state == HalfOpen:
		b.successes = 0
		b.openedAt = b.now()
		b.moveTo(Open)
	case b.state == Closed && b.failures >= b.cfg.FailureThreshold:
		b.openedAt = b.now()
		b.moveTo(Open)
	}
}

func (b *Breaker) moveTo(to State) {
	from := b.state
	b.state = to
	if b.cfg.OnStateChange != nil && from != to {
		b.cfg.OnStateChange(from, to)
	}
}

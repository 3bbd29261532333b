// Package circuitbreaker stops hammering a failing checkout endpoint. Each
// endpoint has its own circuit: after enough consecutive failures it opens,
// rejects calls for a cooldown, then lets a single probe decide whether to
// close again.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/mbd888/checkoutkit/internal/metrics"
)

// ErrOpen is returned by Execute without calling fn.
var ErrOpen = errors.New("circuitbreaker: circuit open")

// State of one endpoint's circuit.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

type circuit struct {
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// Breaker holds one circuit per endpoint name.
type Breaker struct {
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	circuits map[string]*circuit
}

// New returns a breaker that opens after threshold consecutive failures and
// probes again after cooldown. Zero values mean 5 failures and 30s.
func New(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
		circuits:  make(map[string]*circuit),
	}
}

// Execute calls fn unless the endpoint's circuit is open. Only errors that
// countable accepts are failures; a nil countable counts every error. A
// refused payment is a healthy answer and should not be counted.
func (b *Breaker) Execute(endpoint string, countable func(error) bool, fn func() error) error {
	if !b.admit(endpoint) {
		return ErrOpen
	}
	err := fn()
	b.record(endpoint, err != nil && (countable == nil || countable(err)))
	return err
}

func (b *Breaker) admit(endpoint string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuit(endpoint)
	switch c.state {
	case StateOpen:
		if b.now().Sub(c.openedAt) < b.cooldown {
			return false
		}
		b.move(endpoint, c, StateHalfOpen)
		c.probing = true
		return true
	case StateHalfOpen:
		if c.probing {
			return false
		}
		c.probing = true
		return true
	default:
		return true
	}
}

func (b *Breaker) record(endpoint string, failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuit(endpoint)
	c.probing = false
	if !failed {
		c.failures = 0
		b.move(endpoint, c, StateClosed)
		return
	}

	c.failures++
	if c.state == StateHalfOpen || c.failures >= b.threshold {
		c.openedAt = b.now()
		b.move(endpoint, c, StateOpen)
	}
}

// caller holds b.mu
func (b *Breaker) circuit(endpoint string) *circuit {
	c, ok := b.circuits[endpoint]
	if !ok {
		c = &circuit{}
		b.circuits[endpoint] = c
	}
	return c
}

// caller holds b.mu
func (b *Breaker) move(endpoint string, c *circuit, to State) {
	if c.state == to {
		return
	}
	metrics.CheckoutBreakerTransitions.WithLabelValues(endpoint, c.state.String(), to.String()).Inc()
	c.state = to
}

// State returns the endpoint's current state. Unseen endpoints are closed.
func (b *Breaker) State(endpoint string) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.circuits[endpoint]; ok {
		return c.state
	}
	return StateClosed
}

// Snapshot copies the state of every endpoint called so far.
func (b *Breaker) Snapshot() map[string]State {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]State, len(b.circuits))
	for name, c := range b.circuits {
		out[name] = c.state
	}
	return out
}

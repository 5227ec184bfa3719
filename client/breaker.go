package client

import (
	"sync"
	"time"

	"github.com/cenk/backoff"
	circuit "github.com/rubyist/circuitbreaker"
)

// breakerGroup holds one circuit breaker per registry host.
type breakerGroup struct {
	mu       sync.RWMutex
	breakers map[string]*circuit.Breaker
}

func newBreakerGroup() *breakerGroup {
	return &breakerGroup{
		breakers: make(map[string]*circuit.Breaker),
	}
}

// get returns or creates the circuit breaker for the given host.
func (g *breakerGroup) get(host string) *circuit.Breaker {
	g.mu.RLock()
	breaker, exists := g.breakers[host]
	g.mu.RUnlock()

	if exists {
		return breaker
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	// Double-check after acquiring write lock
	if breaker, exists := g.breakers[host]; exists {
		return breaker
	}

	// Trips after 5 consecutive failures, resets with exponential backoff.
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 30 * time.Second
	expBackoff.MaxInterval = 5 * time.Minute
	expBackoff.Multiplier = 2.0
	expBackoff.Reset()

	opts := &circuit.Options{
		BackOff:    expBackoff,
		ShouldTrip: circuit.ThresholdTripFunc(5),
	}
	breaker = circuit.NewBreakerWithOptions(opts)

	g.breakers[host] = breaker
	return breaker
}

// BreakerState returns the state of the per-host circuit breakers, keyed by
// host. Useful for diagnostics when a registry looks unreachable.
func (c *Client) BreakerState() map[string]string {
	c.breakers.mu.RLock()
	defer c.breakers.mu.RUnlock()

	states := make(map[string]string)
	for host, breaker := range c.breakers.breakers {
		if breaker.Tripped() {
			states[host] = "open"
		} else {
			states[host] = "closed"
		}
	}
	return states
}

// Package readinesstest provides a manual clock and a scripted resolver for
// driving readiness polling in tests.
package readinesstest

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Clock advances by exactly the requested duration whenever After is called,
// so polling loops run without real sleeps.
type Clock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

// NewClock returns a clock starting at a fixed instant.
func NewClock() *Clock {
	return &Clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

// Sleeps returns every duration passed to After.
func (c *Clock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// Resolver fails the first Failures lookups of each host and succeeds after.
// A negative Failures never succeeds.
type Resolver struct {
	mu       sync.Mutex
	Failures int
	Addr     string
	calls    map[string]int
}

// NewResolver returns a resolver failing failures times per host.
func NewResolver(failures int) *Resolver {
	return &Resolver{Failures: failures, Addr: "10.0.0.1", calls: map[string]int{}}
}

func (r *Resolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[host]++
	if r.Failures < 0 || r.calls[host] <= r.Failures {
		return nil, fmt.Errorf("lookup %s: no such host", host)
	}
	return []string{r.Addr}, nil
}

// Calls returns how many lookups were made for host.
func (r *Resolver) Calls(host string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[host]
}

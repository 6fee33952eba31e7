// Package readiness waits for freshly created instances to become usable:
// first until the backend finishes building them, then until their name
// resolves.
package readiness

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/raftisctl/internal/compute"
	"github.com/edvin/raftisctl/internal/model"
)

// Default polling intervals.
const (
	DefaultBuildInterval = 5 * time.Second
	DefaultDNSInterval   = 200 * time.Millisecond
)

// Phases reported by ProvisionTimeoutError.
const (
	PhaseBuild = "build"
	PhaseDNS   = "dns"
)

// ErrTimeout is wrapped by every ProvisionTimeoutError.
var ErrTimeout = errors.New("readiness timeout")

// ErrNoFQDN is returned when a built instance carries no FQDN to resolve.
var ErrNoFQDN = errors.New("instance has no fqdn")

// ProvisionTimeoutError reports an instance that did not become ready in
// time. Phase tells whether it was still building or built but not yet
// resolvable.
type ProvisionTimeoutError struct {
	Name    string
	Phase   string
	Elapsed time.Duration
	LastErr error
}

func (e *ProvisionTimeoutError) Error() string {
	switch e.Phase {
	case PhaseBuild:
		return fmt.Sprintf("instance %s still building after %s", e.Name, e.Elapsed)
	default:
		if e.LastErr != nil {
			return fmt.Sprintf("instance %s built but not resolvable after %s: %v", e.Name, e.Elapsed, e.LastErr)
		}
		return fmt.Sprintf("instance %s built but not resolvable after %s", e.Name, e.Elapsed)
	}
}

func (e *ProvisionTimeoutError) Unwrap() error { return ErrTimeout }

// BuildFailedError means the backend gave up building the instance.
type BuildFailedError struct {
	Name   string
	Status string
}

func (e *BuildFailedError) Error() string {
	return fmt.Sprintf("instance %s failed to build: status %s", e.Name, e.Status)
}

// Clock abstracts time so polling can be driven by tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RealClock is the wall clock.
var RealClock Clock = realClock{}

// Resolver resolves host names.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// StatusGetter fetches the current state of an instance.
type StatusGetter interface {
	GetInstance(ctx context.Context, id string) (*compute.Instance, error)
}

// Options configures a Waiter. Zero values select the defaults; a zero
// timeout waits until the context is done.
type Options struct {
	BuildInterval time.Duration
	DNSInterval   time.Duration
	BuildTimeout  time.Duration
	DNSTimeout    time.Duration
	Clock         Clock
	Resolver      Resolver
	// Heartbeat, when set, is called once per poll.
	Heartbeat func(ctx context.Context)
}

// Waiter blocks the calling goroutine until an instance is ready.
type Waiter struct {
	backend StatusGetter
	logger  zerolog.Logger
	opts    Options
}

// NewWaiter creates a Waiter polling backend for instance status.
func NewWaiter(backend StatusGetter, logger zerolog.Logger, opts Options) *Waiter {
	if opts.BuildInterval <= 0 {
		opts.BuildInterval = DefaultBuildInterval
	}
	if opts.DNSInterval <= 0 {
		opts.DNSInterval = DefaultDNSInterval
	}
	if opts.Clock == nil {
		opts.Clock = RealClock
	}
	if opts.Resolver == nil {
		opts.Resolver = net.DefaultResolver
	}
	return &Waiter{
		backend: backend,
		logger:  logger.With().Str("component", "readiness").Logger(),
		opts:    opts,
	}
}

// Wait drives an instance through the build and DNS phases.
// onState, if not nil, is called on every state transition. It returns the
// last fetched view of the instance.
func (w *Waiter) Wait(ctx context.Context, inst *compute.Instance, onState func(model.InstanceState)) (*compute.Instance, error) {
	report := func(s model.InstanceState) {
		if onState != nil {
			onState(s)
		}
	}

	report(model.StateBuilding)
	built, err := w.WaitForBuild(ctx, inst)
	if err != nil {
		report(model.StateFailed)
		return nil, err
	}

	report(model.StateDNSPending)
	if _, err := w.WaitForDNS(ctx, built.Name, built.FQDN); err != nil {
		report(model.StateFailed)
		return nil, err
	}

	report(model.StateReady)
	return built, nil
}

// WaitForBuild re-fetches the instance every BuildInterval until its status
// is no longer BUILD. An ERROR status yields a BuildFailedError.
func (w *Waiter) WaitForBuild(ctx context.Context, inst *compute.Instance) (*compute.Instance, error) {
	start := w.opts.Clock.Now()
	cur := inst
	polls := 0

	for cur.Building() {
		if w.expired(start, w.opts.BuildTimeout) {
			return nil, &ProvisionTimeoutError{Name: inst.Name, Phase: PhaseBuild, Elapsed: w.opts.Clock.Now().Sub(start)}
		}
		if err := w.sleep(ctx, w.opts.BuildInterval); err != nil {
			return nil, fmt.Errorf("wait for %s to build: %w", inst.Name, err)
		}

		polls++
		next, err := w.backend.GetInstance(ctx, inst.ID)
		if err != nil {
			if errors.Is(err, compute.ErrNotFound) {
				return nil, fmt.Errorf("instance %s disappeared while building: %w", inst.Name, err)
			}
			w.logger.Warn().Err(err).Str("instance", inst.Name).Msg("status poll failed, retrying")
			continue
		}
		cur = next
	}

	if cur.Status == compute.StatusError {
		return nil, &BuildFailedError{Name: inst.Name, Status: cur.Status}
	}

	w.logger.Info().Str("instance", inst.Name).Str("status", cur.Status).Int("polls", polls).
		Dur("elapsed", w.opts.Clock.Now().Sub(start)).Msg("instance built, waiting for DNS")
	return cur, nil
}

// WaitForDNS resolves fqdn every DNSInterval until it succeeds. The backend
// reports the name before the DNS record exists, so failures are expected
// for a while.
func (w *Waiter) WaitForDNS(ctx context.Context, name, fqdn string) ([]string, error) {
	if fqdn == "" {
		return nil, fmt.Errorf("instance %s: %w", name, ErrNoFQDN)
	}

	start := w.opts.Clock.Now()
	attempts := 0
	for {
		attempts++
		w.heartbeat(ctx)
		addrs, err := w.opts.Resolver.LookupHost(ctx, fqdn)
		if err == nil && len(addrs) > 0 {
			w.logger.Info().Str("instance", name).Str("fqdn", fqdn).Strs("addrs", addrs).
				Int("attempts", attempts).Msg("instance resolvable")
			return addrs, nil
		}
		if err == nil {
			err = fmt.Errorf("no addresses for %s", fqdn)
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("wait for %s to resolve: %w", fqdn, ctx.Err())
		}
		if w.expired(start, w.opts.DNSTimeout) {
			return nil, &ProvisionTimeoutError{Name: name, Phase: PhaseDNS, Elapsed: w.opts.Clock.Now().Sub(start), LastErr: err}
		}
		if err := w.sleep(ctx, w.opts.DNSInterval); err != nil {
			return nil, fmt.Errorf("wait for %s to resolve: %w", fqdn, err)
		}
	}
}

func (w *Waiter) expired(start time.Time, timeout time.Duration) bool {
	return timeout > 0 && w.opts.Clock.Now().Sub(start) >= timeout
}

func (w *Waiter) sleep(ctx context.Context, d time.Duration) error {
	w.heartbeat(ctx)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-w.opts.Clock.After(d):
		return nil
	}
}

func (w *Waiter) heartbeat(ctx context.Context) {
	if w.opts.Heartbeat != nil {
		w.opts.Heartbeat(ctx)
	}
}

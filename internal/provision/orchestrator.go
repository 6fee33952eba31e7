// Package provision makes the compute backend hold every instance a cluster
// definition expects, creating the missing ones in parallel and waiting for
// each to become reachable.
package provision

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/edvin/raftisctl/internal/compute"
	"github.com/edvin/raftisctl/internal/metrics"
	"github.com/edvin/raftisctl/internal/model"
	"github.com/edvin/raftisctl/internal/readiness"
)

// PartialFailureError is returned alongside a report when some hosts did
// not become ready.
type PartialFailureError struct {
	Failed []model.HostFailure
	Total  int
}

func (e *PartialFailureError) Error() string {
	parts := make([]string, len(e.Failed))
	for i, f := range e.Failed {
		parts[i] = fmt.Sprintf("%s (%s): %s", f.Name, f.State, f.Error)
	}
	return fmt.Sprintf("%d of %d hosts failed: %s", len(e.Failed), e.Total, strings.Join(parts, "; "))
}

// Options configures an Orchestrator.
type Options struct {
	// Readiness is the base waiter configuration. Per-request timeouts
	// override its BuildTimeout and DNSTimeout when set.
	Readiness readiness.Options
	// ReadFile reads the public key file. Defaults to os.ReadFile.
	ReadFile func(path string) ([]byte, error)
}

// Orchestrator provisions clusters on one compute backend.
type Orchestrator struct {
	backend  compute.Backend
	logger   zerolog.Logger
	opts     readiness.Options
	readFile func(string) ([]byte, error)
}

// New creates an Orchestrator. The backend is shared by every unit of work.
func New(backend compute.Backend, logger zerolog.Logger, opts Options) *Orchestrator {
	readFile := opts.ReadFile
	if readFile == nil {
		readFile = os.ReadFile
	}
	return &Orchestrator{
		backend:  backend,
		logger:   logger.With().Str("component", "provision").Logger(),
		opts:     opts.Readiness,
		readFile: readFile,
	}
}

// Plan is the difference between the expected and the existing cluster.
// Instances holds the backend record of every name in Existing, in the
// same order.
type Plan struct {
	Request   model.ProvisionRequest
	Expected  []string
	Existing  []string
	Missing   []string
	Instances []compute.Instance
}

// Plan validates req and diffs its expected identity set against the
// current inventory.
func (o *Orchestrator) Plan(ctx context.Context, req model.ProvisionRequest) (*Plan, error) {
	req = req.WithDefaults()
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	instances, err := o.backend.ListInstances(ctx)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	existing := compute.InstancesByName(instances)

	p := &Plan{Request: req, Expected: req.ExpectedNames()}
	for _, name := range p.Expected {
		if inst, ok := existing[name]; ok {
			p.Existing = append(p.Existing, name)
			p.Instances = append(p.Instances, inst)
		} else {
			p.Missing = append(p.Missing, name)
		}
	}
	return p, nil
}

// Run creates every missing instance and waits until every expected host,
// existing or new, is built and resolvable. Existing instances are never
// re-created; one left in ERROR or stuck building is reported as failed.
// When any host failed the report comes with a *PartialFailureError.
// Re-running against a complete, healthy inventory creates nothing.
func (o *Orchestrator) Run(ctx context.Context, req model.ProvisionRequest) (*model.ProvisionReport, error) {
	req = req.WithDefaults()
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	plan, err := o.Plan(ctx, req)
	if err != nil {
		return nil, err
	}
	report := &model.ProvisionReport{
		Expected: plan.Expected,
		Existing: plan.Existing,
	}

	o.logger.Info().Int("expected", len(plan.Expected)).Int("existing", len(plan.Existing)).
		Int("missing", len(plan.Missing)).Msg("provisioning plan")

	var flavorID, imageID string
	if len(plan.Missing) > 0 {
		if err := o.EnsureKeypair(ctx, req.KeyName, req.PublicKeyPath); err != nil {
			return nil, err
		}
		if flavorID, err = o.backend.FindFlavor(ctx, req.Flavor); err != nil {
			return nil, fmt.Errorf("find flavor: %w", err)
		}
		if imageID, err = o.backend.FindImage(ctx, req.Image); err != nil {
			return nil, fmt.Errorf("find image: %w", err)
		}
	}

	waitOpts := o.opts
	if req.BuildTimeout > 0 {
		waitOpts.BuildTimeout = req.BuildTimeout
	}
	if req.DNSTimeout > 0 {
		waitOpts.DNSTimeout = req.DNSTimeout
	}
	waiter := readiness.NewWaiter(o.backend, o.logger, waitOpts)

	results := make([]unitResult, len(plan.Missing)+len(plan.Instances))
	var g errgroup.Group
	if req.Concurrency > 0 {
		g.SetLimit(req.Concurrency)
	}
	for i, name := range plan.Missing {
		g.Go(func() error {
			results[i] = o.provisionOne(ctx, waiter, compute.CreateOpts{
				Name:     name,
				FlavorID: flavorID,
				ImageID:  imageID,
				KeyName:  req.KeyName,
			})
			return nil
		})
	}
	for i, inst := range plan.Instances {
		g.Go(func() error {
			results[len(plan.Missing)+i] = o.verifyOne(ctx, waiter, inst)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		if r.err != nil {
			report.Failed = append(report.Failed, model.HostFailure{
				Name:  r.name,
				State: r.state,
				Error: r.err.Error(),
			})
			continue
		}
		report.Ready = append(report.Ready, r.host)
	}
	sort.Slice(report.Ready, func(i, j int) bool { return report.Ready[i].Name < report.Ready[j].Name })
	sort.Slice(report.Failed, func(i, j int) bool { return report.Failed[i].Name < report.Failed[j].Name })

	o.logger.Info().Int("ready", len(report.Ready)).Int("failed", len(report.Failed)).
		Int("launched", report.Launched()).Msg("provisioning finished")
	if len(report.Failed) > 0 {
		return report, &PartialFailureError{Failed: report.Failed, Total: report.Checked()}
	}
	return report, nil
}

type unitResult struct {
	name  string
	host  model.Host
	state model.InstanceState
	err   error
}

// provisionOne is a single unit of work. Its state is owned by this
// goroutine only.
func (o *Orchestrator) provisionOne(ctx context.Context, waiter *readiness.Waiter, opts compute.CreateOpts) unitResult {
	res := unitResult{name: opts.Name, state: model.StateRequested}
	log := o.logger.With().Str("instance", opts.Name).Logger()
	dc := datacenterOf(opts.Name)
	start := time.Now()

	log.Info().Msg("creating instance")
	inst, err := o.backend.CreateInstance(ctx, opts)
	if err != nil {
		metrics.InstanceCreateFailures.WithLabelValues(dc).Inc()
		return o.finish(res, start, err)
	}
	metrics.InstancesCreated.WithLabelValues(dc).Inc()

	return o.await(ctx, waiter, inst, res, start, log)
}

// verifyOne checks an instance that already exists: it is waited on like a
// fresh one but never created.
func (o *Orchestrator) verifyOne(ctx context.Context, waiter *readiness.Waiter, inst compute.Instance) unitResult {
	res := unitResult{name: inst.Name, state: model.StateBuilding}
	log := o.logger.With().Str("instance", inst.Name).Logger()
	log.Debug().Str("status", inst.Status).Msg("checking existing instance")
	return o.await(ctx, waiter, &inst, res, time.Now(), log)
}

func (o *Orchestrator) await(ctx context.Context, waiter *readiness.Waiter, inst *compute.Instance, res unitResult, start time.Time, log zerolog.Logger) unitResult {
	built, err := waiter.Wait(ctx, inst, func(s model.InstanceState) {
		if s != model.StateFailed {
			res.state = s
		}
		log.Debug().Str("state", string(s)).Msg("instance state")
	})
	if err != nil {
		return o.finish(res, start, err)
	}

	host, err := model.HostFromInstance(built.Name, built.FQDN)
	if err != nil {
		return o.finish(res, start, err)
	}
	res.host = host
	return o.finish(res, start, nil)
}

func (o *Orchestrator) finish(res unitResult, start time.Time, err error) unitResult {
	final := model.StateReady
	if err != nil {
		final = model.StateFailed
		res.err = err
		o.logger.Error().Err(err).Str("instance", res.name).Str("state", string(res.state)).Msg("instance failed")
	} else {
		res.state = model.StateReady
		o.logger.Info().Str("instance", res.name).Str("fqdn", res.host.FQDN).Msg("instance ready")
	}
	metrics.InstancesFinished.WithLabelValues(string(final)).Inc()
	metrics.ReadinessDuration.WithLabelValues(string(final)).Observe(time.Since(start).Seconds())
	return res
}

func datacenterOf(name string) string {
	id, err := model.ParseIdentity(name)
	if err != nil {
		return "unknown"
	}
	return id.Datacenter
}

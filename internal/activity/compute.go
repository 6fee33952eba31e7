package activity

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/edvin/raftisctl/internal/compute"
	"github.com/edvin/raftisctl/internal/metrics"
	"github.com/edvin/raftisctl/internal/model"
	"github.com/edvin/raftisctl/internal/provision"
	"github.com/edvin/raftisctl/internal/readiness"
)

// Compute exposes the provisioning steps as Temporal activities so a
// workflow can run them durably, one instance per child workflow.
type Compute struct {
	backend  compute.Backend
	orch     *provision.Orchestrator
	waitOpts readiness.Options
	logger   zerolog.Logger
}

// NewCompute creates the compute activities. waitOpts configures polling;
// per-call timeouts come from the activity params.
func NewCompute(backend compute.Backend, logger zerolog.Logger, waitOpts readiness.Options) *Compute {
	return &Compute{
		backend:  backend,
		orch:     provision.New(backend, logger, provision.Options{Readiness: waitOpts}),
		waitOpts: waitOpts,
		logger:   logger.With().Str("component", "compute-activity").Logger(),
	}
}

// PlanProvision applies defaults, validates the request and returns the
// names that still need to be created.
func (a *Compute) PlanProvision(ctx context.Context, req model.ProvisionRequest) (*provision.Plan, error) {
	if err := provision.ValidateRequest(req.WithDefaults()); err != nil {
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), "INVALID_REQUEST", err)
	}
	return a.orch.Plan(ctx, req)
}

type EnsureKeypairParams struct {
	KeyName       string `json:"key_name"`
	PublicKeyPath string `json:"public_key_path"`
}

func (a *Compute) EnsureKeypair(ctx context.Context, params EnsureKeypairParams) error {
	return a.orch.EnsureKeypair(ctx, params.KeyName, params.PublicKeyPath)
}

type ResolveLaunchSpecParams struct {
	Flavor string `json:"flavor"`
	Image  string `json:"image"`
}

// LaunchSpec holds the backend IDs shared by every instance of a run.
type LaunchSpec struct {
	FlavorID string `json:"flavor_id"`
	ImageID  string `json:"image_id"`
}

func (a *Compute) ResolveLaunchSpec(ctx context.Context, params ResolveLaunchSpecParams) (*LaunchSpec, error) {
	flavorID, err := a.backend.FindFlavor(ctx, params.Flavor)
	if err != nil {
		return nil, nonRetryableNotFound(err)
	}
	imageID, err := a.backend.FindImage(ctx, params.Image)
	if err != nil {
		return nil, nonRetryableNotFound(err)
	}
	return &LaunchSpec{FlavorID: flavorID, ImageID: imageID}, nil
}

// CreateInstance asks the backend for one instance. It is not idempotent;
// workflows should not retry it blindly after the backend accepted it.
func (a *Compute) CreateInstance(ctx context.Context, opts compute.CreateOpts) (*compute.Instance, error) {
	dc := "unknown"
	if id, err := model.ParseIdentity(opts.Name); err == nil {
		dc = id.Datacenter
	}
	inst, err := a.backend.CreateInstance(ctx, opts)
	if err != nil {
		metrics.InstanceCreateFailures.WithLabelValues(dc).Inc()
		return nil, err
	}
	metrics.InstancesCreated.WithLabelValues(dc).Inc()
	a.logger.Info().Str("instance", inst.Name).Str("id", inst.ID).Msg("instance created")
	return inst, nil
}

type WaitForBuildParams struct {
	Instance compute.Instance `json:"instance"`
	Timeout  time.Duration    `json:"timeout"`
}

func (a *Compute) WaitForBuild(ctx context.Context, params WaitForBuildParams) (*compute.Instance, error) {
	opts := a.waitOpts
	opts.BuildTimeout = params.Timeout
	opts.Heartbeat = recordHeartbeat
	inst := params.Instance
	built, err := readiness.NewWaiter(a.backend, a.logger, opts).WaitForBuild(ctx, &inst)
	if err != nil {
		return nil, classifyWaitError(err)
	}
	return built, nil
}

type WaitForDNSParams struct {
	Name    string        `json:"name"`
	FQDN    string        `json:"fqdn"`
	Timeout time.Duration `json:"timeout"`
}

func (a *Compute) WaitForDNS(ctx context.Context, params WaitForDNSParams) ([]string, error) {
	opts := a.waitOpts
	opts.DNSTimeout = params.Timeout
	opts.Heartbeat = recordHeartbeat
	addrs, err := readiness.NewWaiter(a.backend, a.logger, opts).WaitForDNS(ctx, params.Name, params.FQDN)
	if err != nil {
		return nil, classifyWaitError(err)
	}
	return addrs, nil
}

func recordHeartbeat(ctx context.Context) {
	if activity.IsActivity(ctx) {
		activity.RecordHeartbeat(ctx)
	}
}

// classifyWaitError marks errors that a retry cannot fix.
func classifyWaitError(err error) error {
	var buildErr *readiness.BuildFailedError
	var timeoutErr *readiness.ProvisionTimeoutError
	switch {
	case errors.As(err, &buildErr):
		return temporal.NewNonRetryableApplicationError(err.Error(), "BUILD_FAILED", err)
	case errors.As(err, &timeoutErr):
		return temporal.NewNonRetryableApplicationError(err.Error(), "PROVISION_TIMEOUT", err)
	case errors.Is(err, readiness.ErrNoFQDN):
		return temporal.NewNonRetryableApplicationError(err.Error(), "NO_FQDN", err)
	}
	return nonRetryableNotFound(err)
}

func nonRetryableNotFound(err error) error {
	if errors.Is(err, compute.ErrNotFound) {
		return temporal.NewNonRetryableApplicationError(err.Error(), "NOT_FOUND", err)
	}
	return err
}

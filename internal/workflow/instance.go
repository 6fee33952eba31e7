package workflow

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/edvin/raftisctl/internal/activity"
	"github.com/edvin/raftisctl/internal/compute"
	"github.com/edvin/raftisctl/internal/model"
)

// instanceFailedType is the application error type of a failed
// ProvisionInstanceWorkflow. Its details hold the state reached.
const instanceFailedType = "INSTANCE_FAILED"

// defaultPhaseTimeout bounds a polling activity when the request sets no
// timeout for that phase.
const defaultPhaseTimeout = 30 * time.Minute

// ProvisionInstanceParams is the input of ProvisionInstanceWorkflow.
type ProvisionInstanceParams struct {
	Name         string        `json:"name"`
	FlavorID     string        `json:"flavor_id"`
	ImageID      string        `json:"image_id"`
	KeyName      string        `json:"key_name"`
	BuildTimeout time.Duration `json:"build_timeout"`
	DNSTimeout   time.Duration `json:"dns_timeout"`
	// Existing, when set, is an instance already on the backend. It is
	// checked like a new one but never created.
	Existing *compute.Instance `json:"existing,omitempty"`
}

// ProvisionInstanceWorkflow creates one instance, unless it already exists,
// and waits until it is built and resolvable.
func ProvisionInstanceWorkflow(ctx workflow.Context, params ProvisionInstanceParams) (*model.Host, error) {
	var inst compute.Instance
	if params.Existing != nil {
		inst = *params.Existing
	} else {
		// Create is not idempotent on the backend, so it is attempted once.
		createCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
			StartToCloseTimeout: 2 * time.Minute,
			RetryPolicy: &temporal.RetryPolicy{
				MaximumAttempts: 1,
			},
		})
		err := workflow.ExecuteActivity(createCtx, "CreateInstance", compute.CreateOpts{
			Name:     params.Name,
			FlavorID: params.FlavorID,
			ImageID:  params.ImageID,
			KeyName:  params.KeyName,
		}).Get(ctx, &inst)
		if err != nil {
			return nil, instanceFailed(model.StateRequested, err)
		}
	}

	var built compute.Instance
	err := workflow.ExecuteActivity(pollActivityCtx(ctx, params.BuildTimeout), "WaitForBuild", activity.WaitForBuildParams{
		Instance: inst,
		Timeout:  params.BuildTimeout,
	}).Get(ctx, &built)
	if err != nil {
		return nil, instanceFailed(model.StateBuilding, err)
	}

	err = workflow.ExecuteActivity(pollActivityCtx(ctx, params.DNSTimeout), "WaitForDNS", activity.WaitForDNSParams{
		Name:    built.Name,
		FQDN:    built.FQDN,
		Timeout: params.DNSTimeout,
	}).Get(ctx, nil)
	if err != nil {
		return nil, instanceFailed(model.StateDNSPending, err)
	}

	host, err := model.HostFromInstance(built.Name, built.FQDN)
	if err != nil {
		return nil, instanceFailed(model.StateDNSPending, err)
	}
	return &host, nil
}

// pollActivityCtx gives a polling activity room for its own timeout plus
// slack, and requires heartbeats so a dead worker is noticed quickly.
func pollActivityCtx(ctx workflow.Context, timeout time.Duration) workflow.Context {
	if timeout <= 0 {
		timeout = defaultPhaseTimeout
	}
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout + time.Minute,
		HeartbeatTimeout:    time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:    3,
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 2.0,
		},
	})
}

func instanceFailed(state model.InstanceState, err error) error {
	return temporal.NewNonRetryableApplicationError(err.Error(), instanceFailedType, nil, state)
}

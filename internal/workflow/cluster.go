package workflow

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/edvin/raftisctl/internal/activity"
	"github.com/edvin/raftisctl/internal/model"
	"github.com/edvin/raftisctl/internal/provision"
	"github.com/edvin/raftisctl/internal/topology"
)

// ProvisionClusterParams is the input of ProvisionClusterWorkflow.
type ProvisionClusterParams struct {
	Request       model.ProvisionRequest `json:"request"`
	SlotsPerShard int                    `json:"slots_per_shard"`
	Publish       bool                   `json:"publish"`
}

// ProvisionClusterResult carries the per-host report. Topology is only set
// when every host became ready.
type ProvisionClusterResult struct {
	Report   model.ProvisionReport `json:"report"`
	Topology *topology.Topology    `json:"topology,omitempty"`
}

// ProvisionClusterWorkflow creates every missing instance of a cluster as a
// child workflow and waits for all of them. Instances that already exist get
// a child too, which checks them without creating anything. Host failures are reported in
// the result rather than failing the workflow, so the caller always gets the
// full picture.
func ProvisionClusterWorkflow(ctx workflow.Context, params ProvisionClusterParams) (*ProvisionClusterResult, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	logger := workflow.GetLogger(ctx)

	var plan provision.Plan
	err := workflow.ExecuteActivity(ctx, "PlanProvision", params.Request).Get(ctx, &plan)
	if err != nil {
		return nil, err
	}
	req := plan.Request

	result := &ProvisionClusterResult{
		Report: model.ProvisionReport{
			Expected: plan.Expected,
			Existing: plan.Existing,
		},
	}
	logger.Info("provisioning plan", "expected", len(plan.Expected), "missing", len(plan.Missing))

	hosts := make([]ProvisionInstanceParams, 0, len(plan.Expected))
	if len(plan.Missing) > 0 {
		err = workflow.ExecuteActivity(ctx, "EnsureKeypair", activity.EnsureKeypairParams{
			KeyName:       req.KeyName,
			PublicKeyPath: req.PublicKeyPath,
		}).Get(ctx, nil)
		if err != nil {
			return nil, err
		}

		var spec activity.LaunchSpec
		err = workflow.ExecuteActivity(ctx, "ResolveLaunchSpec", activity.ResolveLaunchSpecParams{
			Flavor: req.Flavor,
			Image:  req.Image,
		}).Get(ctx, &spec)
		if err != nil {
			return nil, err
		}

		for _, name := range plan.Missing {
			hosts = append(hosts, ProvisionInstanceParams{
				Name:         name,
				FlavorID:     spec.FlavorID,
				ImageID:      spec.ImageID,
				KeyName:      req.KeyName,
				BuildTimeout: req.BuildTimeout,
				DNSTimeout:   req.DNSTimeout,
			})
		}
	}
	for i := range plan.Instances {
		hosts = append(hosts, ProvisionInstanceParams{
			Name:         plan.Instances[i].Name,
			BuildTimeout: req.BuildTimeout,
			DNSTimeout:   req.DNSTimeout,
			Existing:     &plan.Instances[i],
		})
	}
	runHosts(ctx, req.Concurrency, hosts, &result.Report)

	if len(result.Report.Failed) > 0 {
		logger.Warn("provisioning incomplete", "failed", len(result.Report.Failed))
		return result, nil
	}

	var topo topology.Topology
	err = workflow.ExecuteActivity(ctx, "GenerateTopology", activity.GenerateTopologyParams{
		Prefix:        req.Prefix,
		SlotsPerShard: params.SlotsPerShard,
	}).Get(ctx, &topo)
	if err != nil {
		return nil, err
	}
	result.Topology = &topo

	if params.Publish {
		err = workflow.ExecuteActivity(ctx, "PublishTopology", activity.PublishTopologyParams{
			Cluster:  req.Prefix,
			Topology: &topo,
		}).Get(ctx, nil)
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

// runHosts starts one child workflow per host, at most concurrency at a
// time, and records each outcome in report.
func runHosts(ctx workflow.Context, concurrency int, hosts []ProvisionInstanceParams, report *model.ProvisionReport) {
	batch := len(hosts)
	if concurrency > 0 && concurrency < batch {
		batch = concurrency
	}
	parentID := workflow.GetInfo(ctx).WorkflowExecution.ID

	for start := 0; start < len(hosts); start += batch {
		end := min(start+batch, len(hosts))
		futures := make([]workflow.ChildWorkflowFuture, 0, end-start)
		for _, params := range hosts[start:end] {
			childCtx := workflow.WithChildOptions(ctx, workflow.ChildWorkflowOptions{
				WorkflowID: fmt.Sprintf("%s-%s", parentID, params.Name),
			})
			futures = append(futures, workflow.ExecuteChildWorkflow(childCtx, ProvisionInstanceWorkflow, params))
		}

		for i, f := range futures {
			name := hosts[start+i].Name
			var host model.Host
			if err := f.Get(ctx, &host); err != nil {
				report.Failed = append(report.Failed, hostFailure(name, err))
				continue
			}
			report.Ready = append(report.Ready, host)
		}
	}
	sort.Slice(report.Ready, func(i, j int) bool { return report.Ready[i].Name < report.Ready[j].Name })
	sort.Slice(report.Failed, func(i, j int) bool { return report.Failed[i].Name < report.Failed[j].Name })
}

// hostFailure extracts the state a failed child reached from its error
// details.
func hostFailure(name string, err error) model.HostFailure {
	f := model.HostFailure{Name: name, State: model.StateRequested, Error: err.Error()}
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) && appErr.Type() == instanceFailedType {
		var state model.InstanceState
		if appErr.HasDetails() && appErr.Details(&state) == nil {
			f.State = state
		}
		f.Error = appErr.Message()
	}
	return f
}

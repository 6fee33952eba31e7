package workflow

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/edvin/raftisctl/internal/activity"
	"github.com/edvin/raftisctl/internal/topology"
)

// RefreshTopologyParams is the input of RefreshTopologyWorkflow.
type RefreshTopologyParams struct {
	Cluster       string `json:"cluster"`
	SlotsPerShard int    `json:"slots_per_shard"`
}

// RefreshTopologyWorkflow regenerates a cluster's topology from the live
// inventory and publishes it. The worker schedules it periodically so
// published documents follow hosts added outside a provisioning run.
func RefreshTopologyWorkflow(ctx workflow.Context, params RefreshTopologyParams) (*topology.Topology, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var topo topology.Topology
	err := workflow.ExecuteActivity(ctx, "GenerateTopology", activity.GenerateTopologyParams{
		Prefix:        params.Cluster,
		SlotsPerShard: params.SlotsPerShard,
	}).Get(ctx, &topo)
	if err != nil {
		return nil, err
	}

	err = workflow.ExecuteActivity(ctx, "PublishTopology", activity.PublishTopologyParams{
		Cluster:  params.Cluster,
		Topology: &topo,
	}).Get(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &topo, nil
}

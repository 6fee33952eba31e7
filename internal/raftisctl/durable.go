package raftisctl

import (
	"context"
	"fmt"
	"io"

	temporalclient "go.temporal.io/sdk/client"

	"github.com/edvin/raftisctl/internal/platform"
	"github.com/edvin/raftisctl/internal/topology"
	"github.com/edvin/raftisctl/internal/workflow"
)

// ClusterApplyDurable runs the provisioning as a Temporal workflow on a
// worker and waits for it. The workflow survives this process exiting; its
// ID is printed so it can be followed elsewhere. The request timeout, when
// set, bounds the whole workflow execution.
func ClusterApplyDurable(ctx context.Context, tc temporalclient.Client, taskQueue string, def *ClusterDef, out io.Writer) error {
	req := def.WithDefaults()
	opts := temporalclient.StartWorkflowOptions{
		ID:        platform.RunID(req.Prefix),
		TaskQueue: taskQueue,
	}
	if req.Timeout > 0 {
		opts.WorkflowExecutionTimeout = req.Timeout
	}
	run, err := tc.ExecuteWorkflow(ctx, opts, workflow.ProvisionClusterWorkflow, workflow.ProvisionClusterParams{
		Request:       req,
		SlotsPerShard: def.SlotsPerShard,
		Publish:       def.Publish,
	})
	if err != nil {
		return fmt.Errorf("start provisioning workflow: %w", err)
	}
	fmt.Fprintf(out, "Started workflow %s (run %s)\n", run.GetID(), run.GetRunID())

	var result workflow.ProvisionClusterResult
	if err := run.Get(ctx, &result); err != nil {
		return fmt.Errorf("provisioning workflow %s: %w", run.GetID(), err)
	}
	PrintReport(out, &result.Report)
	if len(result.Report.Failed) > 0 {
		return fmt.Errorf("cluster incomplete: %d of %d hosts failed", len(result.Report.Failed), result.Report.Checked())
	}

	if result.Topology != nil && def.Output != "" {
		if err := topology.WriteFile(def.Output, result.Topology); err != nil {
			return err
		}
		fmt.Fprintf(out, "Wrote %s\n", def.Output)
	}
	return nil
}

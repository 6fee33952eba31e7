package raftisctl

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/edvin/raftisctl/internal/compute"
	"github.com/edvin/raftisctl/internal/model"
	"github.com/edvin/raftisctl/internal/provision"
	"github.com/edvin/raftisctl/internal/publish"
	"github.com/edvin/raftisctl/internal/topology"
)

// ClusterApply makes the backend hold every instance def describes, then
// generates the topology from the live inventory. With def.Output set the
// document is written there; with def.Publish it is published. Host
// failures are summarized on out and returned as an error after the
// summary, without writing a topology.
func ClusterApply(ctx context.Context, orch *provision.Orchestrator, lister compute.InstanceLister, pub publish.Publisher, def *ClusterDef, out io.Writer) error {
	req := def.WithDefaults()
	fmt.Fprintf(out, "Provisioning %d shards across %v (prefix %q)...\n", req.ShardCount, req.Datacenters, req.Prefix)

	report, err := orch.Run(ctx, req)
	if report != nil {
		PrintReport(out, report)
	}
	if err != nil {
		var pfe *provision.PartialFailureError
		if errors.As(err, &pfe) {
			return fmt.Errorf("cluster incomplete: %w", err)
		}
		return err
	}

	slots := def.SlotsPerShard
	if slots == 0 {
		slots = topology.DefaultSlotsPerShard
	}
	t, err := provision.Topology(ctx, lister, req.Prefix, slots)
	if err != nil {
		return fmt.Errorf("generate topology: %w", err)
	}
	fmt.Fprintf(out, "Topology: %d shards, %d slots\n", len(t.Shards), t.NumSlots)

	if def.Output != "" {
		if err := topology.WriteFile(def.Output, t); err != nil {
			return err
		}
		fmt.Fprintf(out, "Wrote %s\n", def.Output)
	}
	if def.Publish {
		if pub == nil {
			return fmt.Errorf("publish requested but no publisher is configured")
		}
		if err := pub.Publish(ctx, req.Prefix, t); err != nil {
			return err
		}
		fmt.Fprintf(out, "Published topology for %s\n", req.Prefix)
	}
	return nil
}

// PrintReport writes a human-readable summary of a provisioning run.
func PrintReport(out io.Writer, r *model.ProvisionReport) {
	fmt.Fprintf(out, "\nExpected %d, existing %d, launched %d\n", len(r.Expected), len(r.Existing), r.Launched())
	if len(r.Ready) > 0 {
		fmt.Fprintln(out, "\nReady:")
		for _, h := range r.Ready {
			fmt.Fprintf(out, "  %-20s group=%-6s shard=%-3d %s\n", h.Name, h.Group, h.Shard, h.FQDN)
		}
	}
	if len(r.Failed) > 0 {
		fmt.Fprintln(out, "\nFailed:")
		for _, f := range r.Failed {
			fmt.Fprintf(out, "  %-20s state=%-12s %s\n", f.Name, f.State, f.Error)
		}
	}
}

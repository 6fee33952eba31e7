package provision

import (
	"context"

	"github.com/edvin/raftisctl/internal/compute"
	"github.com/edvin/raftisctl/internal/metrics"
	"github.com/edvin/raftisctl/internal/topology"
)

// Topology generates the topology of the live inventory. It is a fresh
// snapshot every call; callers re-run it when membership changes.
func Topology(ctx context.Context, b compute.InstanceLister, prefix string, slotsPerShard int) (*topology.Topology, error) {
	hosts, err := compute.Inventory(ctx, b, prefix)
	if err != nil {
		metrics.TopologyGenerations.WithLabelValues("error").Inc()
		return nil, err
	}
	t, err := topology.Generate(hosts, slotsPerShard)
	if err != nil {
		metrics.TopologyGenerations.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.TopologyGenerations.WithLabelValues("ok").Inc()
	return t, nil
}

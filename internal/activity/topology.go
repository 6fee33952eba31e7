package activity

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"go.temporal.io/sdk/temporal"

	"github.com/edvin/raftisctl/internal/compute"
	"github.com/edvin/raftisctl/internal/provision"
	"github.com/edvin/raftisctl/internal/publish"
	"github.com/edvin/raftisctl/internal/topology"
)

// Topology generates and publishes the cluster topology from the live
// inventory.
type Topology struct {
	lister    compute.InstanceLister
	publisher publish.Publisher
	logger    zerolog.Logger
}

// NewTopology creates the topology activities. publisher may be nil, in
// which case PublishTopology only logs.
func NewTopology(lister compute.InstanceLister, publisher publish.Publisher, logger zerolog.Logger) *Topology {
	return &Topology{
		lister:    lister,
		publisher: publisher,
		logger:    logger.With().Str("component", "topology-activity").Logger(),
	}
}

type GenerateTopologyParams struct {
	Prefix        string `json:"prefix"`
	SlotsPerShard int    `json:"slots_per_shard"`
}

func (a *Topology) GenerateTopology(ctx context.Context, params GenerateTopologyParams) (*topology.Topology, error) {
	slots := params.SlotsPerShard
	if slots == 0 {
		slots = topology.DefaultSlotsPerShard
	}
	t, err := provision.Topology(ctx, a.lister, params.Prefix, slots)
	if err != nil {
		var balanceErr *topology.BalanceError
		var memberErr *topology.ShardMembershipError
		if errors.As(err, &balanceErr) || errors.As(err, &memberErr) {
			return nil, temporal.NewNonRetryableApplicationError(err.Error(), "INVALID_TOPOLOGY", err)
		}
		return nil, err
	}
	return t, nil
}

type PublishTopologyParams struct {
	Cluster  string             `json:"cluster"`
	Topology *topology.Topology `json:"topology"`
}

func (a *Topology) PublishTopology(ctx context.Context, params PublishTopologyParams) error {
	if a.publisher == nil {
		a.logger.Warn().Str("cluster", params.Cluster).Msg("no publisher configured, skipping")
		return nil
	}
	return a.publisher.Publish(ctx, params.Cluster, params.Topology)
}

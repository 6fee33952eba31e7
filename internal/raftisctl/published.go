package raftisctl

import (
	"context"
	"fmt"
	"io"

	"github.com/edvin/raftisctl/internal/publish"
	"github.com/edvin/raftisctl/internal/topology"
)

// ShowPublished writes the topology currently published for cluster to w.
func ShowPublished(ctx context.Context, f publish.Fetcher, cluster string, w io.Writer) error {
	t, err := f.Fetch(ctx, cluster)
	if err != nil {
		return fmt.Errorf("fetch published topology: %w", err)
	}
	return topology.Write(w, t)
}

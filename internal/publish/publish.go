// Package publish makes a topology document available to nodes that fetch
// their configuration at startup instead of receiving it over SSH.
package publish

import (
	"bytes"
	"context"
	"errors"

	"github.com/edvin/raftisctl/internal/topology"
)

// Publisher stores a cluster's topology somewhere nodes can read it.
type Publisher interface {
	Publish(ctx context.Context, cluster string, t *topology.Topology) error
}

// Fetcher reads back a cluster's published topology.
type Fetcher interface {
	Fetch(ctx context.Context, cluster string) (*topology.Topology, error)
}

// Multi publishes to every publisher in order and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, cluster string, t *topology.Topology) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, cluster, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func encode(t *topology.Topology) ([]byte, error) {
	var buf bytes.Buffer
	if err := topology.Write(&buf, t); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/edvin/raftisctl/internal/topology"
)

// Etcd writes the topology under <root>/<cluster>/. The full document lives
// at "topology" and each shard at "shards/<index>", so a node can watch only
// its own shard.
type Etcd struct {
	kv     clientv3.KV
	root   string
	logger zerolog.Logger
}

// NewEtcd creates an etcd publisher. kv is usually a *clientv3.Client.
func NewEtcd(kv clientv3.KV, root string, logger zerolog.Logger) *Etcd {
	return &Etcd{
		kv:     kv,
		root:   root,
		logger: logger.With().Str("component", "etcd-publisher").Logger(),
	}
}

// DocumentKey returns the key holding the full document for cluster.
func (e *Etcd) DocumentKey(cluster string) string {
	return path.Join(e.root, cluster, "topology")
}

// ShardKey returns the key holding shard index of cluster.
func (e *Etcd) ShardKey(cluster string, index int) string {
	return path.Join(e.shardPrefix(cluster), strconv.Itoa(index))
}

func (e *Etcd) shardPrefix(cluster string) string {
	return path.Join(e.root, cluster, "shards") + "/"
}

// Publish replaces the stored topology in one transaction. Shard keys
// left over from a larger previous topology are deleted.
func (e *Etcd) Publish(ctx context.Context, cluster string, t *topology.Topology) error {
	doc, err := encode(t)
	if err != nil {
		return err
	}

	ops := []clientv3.Op{clientv3.OpPut(e.DocumentKey(cluster), string(doc))}
	current := make(map[string]bool, len(t.Shards))
	for i, shard := range t.Shards {
		data, err := json.Marshal(shard)
		if err != nil {
			return fmt.Errorf("encode shard %d: %w", i, err)
		}
		key := e.ShardKey(cluster, i)
		current[key] = true
		ops = append(ops, clientv3.OpPut(key, string(data)))
	}

	existing, err := e.kv.Get(ctx, e.shardPrefix(cluster), clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return fmt.Errorf("list shard keys: %w", err)
	}
	stale := 0
	for _, kv := range existing.Kvs {
		key := string(kv.Key)
		if !current[key] && strings.HasPrefix(key, e.shardPrefix(cluster)) {
			ops = append(ops, clientv3.OpDelete(key))
			stale++
		}
	}

	resp, err := e.kv.Txn(ctx).Then(ops...).Commit()
	if err != nil {
		return fmt.Errorf("publish topology to etcd: %w", err)
	}
	if !resp.Succeeded {
		return fmt.Errorf("publish topology to etcd: transaction not applied")
	}

	e.logger.Info().Str("cluster", cluster).Str("key", e.DocumentKey(cluster)).
		Int("shards", len(t.Shards)).Int("stale", stale).Msg("published topology")
	return nil
}

// Fetch reads the full document back.
func (e *Etcd) Fetch(ctx context.Context, cluster string) (*topology.Topology, error) {
	resp, err := e.kv.Get(ctx, e.DocumentKey(cluster))
	if err != nil {
		return nil, fmt.Errorf("get topology: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return nil, fmt.Errorf("topology for %s: not published", cluster)
	}
	return topology.Read(bytes.NewReader(resp.Kvs[0].Value))
}

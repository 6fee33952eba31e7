package topology

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// Ports and paths the node service uses.
const (
	DefaultRedisPort = 6379
	DefaultPeerPort  = 1103
	DefaultHomeDir   = "/opt/raftis"
)

// NodeParams describes one node's service definition.
type NodeParams struct {
	HomeDir   string
	Address   string
	RedisPort int
	PeerPort  int
	Peers     []string
}

var nodeUnitTmpl = template.Must(template.New("raftis").Parse(`description "raftis"

start on runlevel [2345]
stop on runlevel [!2345]
respawn

script
  export PATH={{.HomeDir}}/bin:$PATH
  exec raftis -r {{.Address}}:{{.RedisPort}} -i {{.Address}}:{{.PeerPort}} -d {{.HomeDir}}/var/raftis -p {{.PeerList}}
end script
`))

// NodeUnit renders the service definition the process supervisor starts the
// node from.
func NodeUnit(p NodeParams) (string, error) {
	if p.Address == "" {
		return "", fmt.Errorf("node address is required")
	}
	if len(p.Peers) == 0 {
		return "", fmt.Errorf("node %s has no peers", p.Address)
	}
	if p.HomeDir == "" {
		p.HomeDir = DefaultHomeDir
	}
	if p.RedisPort == 0 {
		p.RedisPort = DefaultRedisPort
	}
	if p.PeerPort == 0 {
		p.PeerPort = DefaultPeerPort
	}

	var buf bytes.Buffer
	err := nodeUnitTmpl.Execute(&buf, struct {
		NodeParams
		PeerList string
	}{p, strings.Join(p.Peers, ",")})
	if err != nil {
		return "", fmt.Errorf("render node unit: %w", err)
	}
	return buf.String(), nil
}

// Peers returns the host:port peer addresses of every member of shard.
func Peers(t *Topology, shard, port int) ([]string, error) {
	if shard < 0 || shard >= len(t.Shards) {
		return nil, fmt.Errorf("shard %d out of range [0, %d)", shard, len(t.Shards))
	}
	hosts := t.Shards[shard].Hosts
	peers := make([]string, len(hosts))
	for i, h := range hosts {
		peers[i] = fmt.Sprintf("%s:%d", h.Host, port)
	}
	return peers, nil
}

// NodeParamsFor builds the service parameters for host from the topology.
func NodeParamsFor(t *Topology, host, homeDir string) (NodeParams, error) {
	shard, ok := ShardOf(t, host)
	if !ok {
		return NodeParams{}, fmt.Errorf("host %s is not in the topology", host)
	}
	peers, err := Peers(t, shard, DefaultPeerPort)
	if err != nil {
		return NodeParams{}, err
	}
	return NodeParams{
		HomeDir:   homeDir,
		Address:   host,
		RedisPort: DefaultRedisPort,
		PeerPort:  DefaultPeerPort,
		Peers:     peers,
	}, nil
}

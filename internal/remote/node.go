package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/edvin/raftisctl/internal/topology"
)

// UnitPath is where the process supervisor looks for the service definition.
const UnitPath = "/etc/init/raftis.conf"

// HostError records a failure on one host.
type HostError struct {
	Host string
	Err  error
}

func (e *HostError) Error() string { return fmt.Sprintf("%s: %v", e.Host, e.Err) }
func (e *HostError) Unwrap() error { return e.Err }

// NodeOptions configures a NodeManager.
type NodeOptions struct {
	HomeDir     string
	Concurrency int
}

// NodeManager runs node lifecycle operations on many hosts in parallel.
type NodeManager struct {
	runner      Runner
	homeDir     string
	concurrency int
	logger      zerolog.Logger
}

func NewNodeManager(runner Runner, logger zerolog.Logger, opts NodeOptions) *NodeManager {
	if opts.HomeDir == "" {
		opts.HomeDir = topology.DefaultHomeDir
	}
	return &NodeManager{
		runner:      runner,
		homeDir:     opts.HomeDir,
		concurrency: opts.Concurrency,
		logger:      logger.With().Str("component", "node-manager").Logger(),
	}
}

// Deploy uploads the topology document, the node binary and a service
// definition derived from each host's shard to every host in t.
func (m *NodeManager) Deploy(ctx context.Context, t *topology.Topology, binary []byte) error {
	var doc bytes.Buffer
	if err := topology.Write(&doc, t); err != nil {
		return err
	}

	return m.each(ctx, topology.HostNames(t), func(ctx context.Context, host string) error {
		params, err := topology.NodeParamsFor(t, host, m.homeDir)
		if err != nil {
			return err
		}
		unit, err := topology.NodeUnit(params)
		if err != nil {
			return err
		}

		mkdir := fmt.Sprintf("sudo mkdir -p %s %s %s",
			path.Join(m.homeDir, "bin"), path.Join(m.homeDir, "etc"), path.Join(m.homeDir, "var", "raftis"))
		if _, err := m.runner.Run(ctx, host, mkdir); err != nil {
			return err
		}
		if err := m.runner.Upload(ctx, host, path.Join(m.homeDir, "etc", "raftis.conf"), doc.Bytes(), 0o644); err != nil {
			return err
		}
		if err := m.runner.Upload(ctx, host, path.Join(m.homeDir, "bin", "raftis"), binary, 0o755); err != nil {
			return err
		}
		return m.runner.Upload(ctx, host, UnitPath, []byte(unit), 0o644)
	})
}

// Start starts the node service on every host.
func (m *NodeManager) Start(ctx context.Context, hosts []string) error {
	return m.runAll(ctx, hosts, "sudo start raftis")
}

// Stop stops the node service on hosts where it is running.
func (m *NodeManager) Stop(ctx context.Context, hosts []string) error {
	return m.runAll(ctx, hosts, "if sudo service raftis status | grep -q running; then sudo stop raftis; fi")
}

// Install adds the storage library the node binary links against.
func (m *NodeManager) Install(ctx context.Context, hosts []string) error {
	return m.runAll(ctx, hosts,
		"sudo apt-get install -y liblmdb0",
		"sudo ln -sf /usr/lib/x86_64-linux-gnu/liblmdb.so.0.0.0 /usr/lib/x86_64-linux-gnu/liblmdb.so",
	)
}

func (m *NodeManager) runAll(ctx context.Context, hosts []string, cmds ...string) error {
	return m.each(ctx, hosts, func(ctx context.Context, host string) error {
		for _, cmd := range cmds {
			if _, err := m.runner.Run(ctx, host, cmd); err != nil {
				return err
			}
		}
		return nil
	})
}

// each runs fn for every host. One host failing does not stop the others;
// all failures are returned together.
func (m *NodeManager) each(ctx context.Context, hosts []string, fn func(ctx context.Context, host string) error) error {
	if len(hosts) == 0 {
		return errors.New("no hosts")
	}
	errs := make([]error, len(hosts))
	var g errgroup.Group
	if m.concurrency > 0 {
		g.SetLimit(m.concurrency)
	}
	for i, host := range hosts {
		g.Go(func() error {
			if err := fn(ctx, host); err != nil {
				m.logger.Error().Err(err).Str("host", host).Msg("remote operation failed")
				errs[i] = &HostError{Host: host, Err: err}
				return nil
			}
			m.logger.Info().Str("host", host).Msg("remote operation done")
			return nil
		})
	}
	_ = g.Wait()

	var failed []error
	for _, err := range errs {
		if err != nil {
			failed = append(failed, err)
		}
	}
	return errors.Join(failed...)
}

// FailedHosts lists the hosts named in an error returned by NodeManager.
func FailedHosts(err error) []string {
	var hosts []string
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		for _, e := range joined.Unwrap() {
			var he *HostError
			if errors.As(e, &he) {
				hosts = append(hosts, he.Host)
			}
		}
	}
	sort.Strings(hosts)
	return hosts
}

// ParseHosts splits a comma-separated host list.
func ParseHosts(s string) []string {
	var hosts []string
	for _, h := range strings.Split(s, ",") {
		if h = strings.TrimSpace(h); h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	temporalclient "go.temporal.io/sdk/client"

	"github.com/edvin/raftisctl/internal/compute"
	"github.com/edvin/raftisctl/internal/config"
	"github.com/edvin/raftisctl/internal/logging"
	"github.com/edvin/raftisctl/internal/model"
	"github.com/edvin/raftisctl/internal/provision"
	"github.com/edvin/raftisctl/internal/publish"
	"github.com/edvin/raftisctl/internal/raftisctl"
	"github.com/edvin/raftisctl/internal/remote"
	"github.com/edvin/raftisctl/internal/topology"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.NewConsoleLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch os.Args[1] {
	case "cluster":
		err = runCluster(ctx, cfg, logger, os.Args[2:])
	case "genconfig":
		err = runGenConfig(ctx, cfg, logger, os.Args[2:])
	case "hosts":
		err = runHosts(ctx, cfg, os.Args[2:])
	case "deploy":
		err = runDeploy(ctx, cfg, logger, os.Args[2:])
	case "start", "stop", "install":
		err = runNodeCommand(ctx, cfg, logger, os.Args[1], os.Args[2:])
	case "publish":
		err = runPublish(ctx, cfg, logger, os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runCluster(ctx context.Context, cfg *config.Config, logger zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("cluster", flag.ExitOnError)
	file := fs.String("f", "", "Path to cluster definition YAML file")
	prefix := fs.String("prefix", cfg.ClusterPrefix, "Instance name prefix")
	shards := fs.Int("shards", model.DefaultShardCount, "Number of shards")
	dcs := fs.String("dcs", strings.Join(model.DefaultDatacenters, ","), "Comma-separated datacenters")
	flavor := fs.String("flavor", model.DefaultFlavor, "Instance flavor name")
	image := fs.String("image", model.DefaultImage, "Instance image name")
	keyName := fs.String("key", model.DefaultKeyName, "Keypair name")
	pubKey := fs.String("pubkey", model.DefaultPublicKeyPath, "Public key uploaded when the keypair is missing")
	concurrency := fs.Int("concurrency", 0, "Maximum hosts provisioned at once (0 = unlimited)")
	buildTimeout := fs.Duration("build-timeout", 0, "Per-host build timeout (0 = none)")
	dnsTimeout := fs.Duration("dns-timeout", 0, "Per-host DNS timeout (0 = none)")
	timeout := fs.Duration("timeout", 30*time.Minute, "Overall timeout")
	slots := fs.Int("slots", cfg.SlotsPerShard, "Slots per shard (default from SLOTS_PER_SHARD)")
	output := fs.String("o", "", "Write the topology document to this file")
	doPublish := fs.Bool("publish", false, "Publish the topology to etcd/S3")
	durable := fs.Bool("durable", false, "Run as a Temporal workflow on a worker")
	fs.Parse(args)

	var def *raftisctl.ClusterDef
	if *file != "" {
		var err error
		if def, err = raftisctl.LoadClusterDef(*file, cfg.SlotsPerShard); err != nil {
			return err
		}
	} else {
		def = &raftisctl.ClusterDef{
			ProvisionRequest: model.ProvisionRequest{
				Prefix:        *prefix,
				ShardCount:    *shards,
				Datacenters:   splitCSV(*dcs),
				Flavor:        *flavor,
				Image:         *image,
				KeyName:       *keyName,
				PublicKeyPath: *pubKey,
				Concurrency:   *concurrency,
				BuildTimeout:  *buildTimeout,
				DNSTimeout:    *dnsTimeout,
				Timeout:       *timeout,
			},
			SlotsPerShard: *slots,
			Output:        *output,
			Publish:       *doPublish,
		}
	}

	if *durable {
		if cfg.TemporalAddress == "" {
			return fmt.Errorf("TEMPORAL_ADDRESS is required with -durable")
		}
		tc, err := temporalclient.Dial(temporalclient.Options{HostPort: cfg.TemporalAddress})
		if err != nil {
			return fmt.Errorf("connect to temporal: %w", err)
		}
		defer tc.Close()
		return raftisctl.ClusterApplyDurable(ctx, tc, cfg.TemporalTaskQueue, def, os.Stdout)
	}

	if err := cfg.Validate("cluster"); err != nil {
		return err
	}
	backend, err := newBackend(ctx, cfg)
	if err != nil {
		return err
	}

	var pub publish.Publisher
	if def.Publish {
		p, closeFn, err := publish.FromConfig(cfg, logger)
		if err != nil {
			return err
		}
		defer closeFn()
		pub = p
	}

	orch := provision.New(backend, logger, provision.Options{})
	return raftisctl.ClusterApply(ctx, orch, backend, pub, def, os.Stdout)
}

func runGenConfig(ctx context.Context, cfg *config.Config, logger zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("genconfig", flag.ExitOnError)
	prefix := fs.String("prefix", cfg.ClusterPrefix, "Instance name prefix")
	slots := fs.Int("slots", cfg.SlotsPerShard, "Slots per shard (default from SLOTS_PER_SHARD)")
	hostsFile := fs.String("hosts", "", "Read hosts from this file (\"[group] fqdn\" per line, - for stdin) instead of the compute backend")
	output := fs.String("o", "", "Write to this file instead of stdout")
	doPublish := fs.Bool("publish", false, "Also publish the topology to etcd/S3")
	fs.Parse(args)

	// Generated into memory first so a failed generation writes nothing.
	var buf strings.Builder
	var t *topology.Topology
	if *hostsFile != "" {
		in := os.Stdin
		if *hostsFile != "-" {
			f, err := os.Open(*hostsFile)
			if err != nil {
				return err
			}
			defer f.Close()
			in = f
		}
		var err error
		if t, err = raftisctl.GenConfigFromHosts(in, *slots, &buf); err != nil {
			return err
		}
	} else {
		if err := cfg.Validate("genconfig"); err != nil {
			return err
		}
		backend, err := newBackend(ctx, cfg)
		if err != nil {
			return err
		}
		if t, err = raftisctl.GenConfig(ctx, backend, *prefix, *slots, &buf); err != nil {
			return err
		}
	}

	if *output == "" {
		fmt.Print(buf.String())
	} else if err := topology.WriteFile(*output, t); err != nil {
		return err
	}

	if *doPublish {
		return publishTopology(ctx, cfg, logger, *prefix, t)
	}
	return nil
}

func runHosts(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("hosts", flag.ExitOnError)
	prefix := fs.String("prefix", cfg.ClusterPrefix, "Instance name prefix")
	fs.Parse(args)

	if err := cfg.Validate("hosts"); err != nil {
		return err
	}
	backend, err := newBackend(ctx, cfg)
	if err != nil {
		return err
	}
	hosts, err := compute.Inventory(ctx, backend, *prefix)
	if err != nil {
		return err
	}
	for _, h := range hosts {
		fmt.Printf("%s\t%s\n", h.Group, h.Address())
	}
	return nil
}

func runDeploy(ctx context.Context, cfg *config.Config, logger zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("deploy", flag.ExitOnError)
	topoFile := fs.String("t", "", "Topology document (required)")
	binary := fs.String("binary", "", "Node binary to upload (required)")
	homeDir := fs.String("home", topology.DefaultHomeDir, "Install directory on the hosts")
	concurrency := fs.Int("concurrency", 0, "Maximum hosts at once (0 = unlimited)")
	fs.Parse(args)

	if *topoFile == "" || *binary == "" {
		fmt.Fprintln(os.Stderr, "Error: -t and -binary are required")
		fs.Usage()
		os.Exit(1)
	}
	if err := cfg.Validate("deploy"); err != nil {
		return err
	}

	t, err := topology.ReadFile(*topoFile)
	if err != nil {
		return err
	}
	bin, err := os.ReadFile(*binary)
	if err != nil {
		return fmt.Errorf("read binary: %w", err)
	}
	nodes, err := newNodeManager(cfg, logger, *homeDir, *concurrency)
	if err != nil {
		return err
	}
	if err := nodes.Deploy(ctx, t, bin); err != nil {
		return reportHostErrors(err)
	}
	fmt.Printf("Deployed to %d hosts\n", len(topology.HostNames(t)))
	return nil
}

func runNodeCommand(ctx context.Context, cfg *config.Config, logger zerolog.Logger, command string, args []string) error {
	fs := flag.NewFlagSet(command, flag.ExitOnError)
	hostList := fs.String("hosts", "", "Comma-separated hosts")
	topoFile := fs.String("t", "", "Take hosts from this topology document")
	concurrency := fs.Int("concurrency", 0, "Maximum hosts at once (0 = unlimited)")
	fs.Parse(args)

	hosts := remote.ParseHosts(*hostList)
	if *topoFile != "" {
		t, err := topology.ReadFile(*topoFile)
		if err != nil {
			return err
		}
		hosts = append(hosts, topology.HostNames(t)...)
	}
	if len(hosts) == 0 {
		fmt.Fprintf(os.Stderr, "Error: -hosts or -t is required\n")
		fs.Usage()
		os.Exit(1)
	}
	if err := cfg.Validate(command); err != nil {
		return err
	}

	nodes, err := newNodeManager(cfg, logger, "", *concurrency)
	if err != nil {
		return err
	}
	switch command {
	case "start":
		err = nodes.Start(ctx, hosts)
	case "stop":
		err = nodes.Stop(ctx, hosts)
	case "install":
		err = nodes.Install(ctx, hosts)
	}
	if err != nil {
		return reportHostErrors(err)
	}
	fmt.Printf("%s: done on %d hosts\n", command, len(hosts))
	return nil
}

func runPublish(ctx context.Context, cfg *config.Config, logger zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("publish", flag.ExitOnError)
	topoFile := fs.String("t", "", "Topology document (required unless -get)")
	cluster := fs.String("cluster", cfg.ClusterPrefix, "Cluster name the topology is published under")
	get := fs.Bool("get", false, "Print the currently published topology instead of publishing")
	fs.Parse(args)

	if *get {
		if err := cfg.Validate("publish"); err != nil {
			return err
		}
		f, closeFn, err := publish.FetcherFromConfig(cfg, logger)
		if err != nil {
			return err
		}
		defer closeFn()
		return raftisctl.ShowPublished(ctx, f, *cluster, os.Stdout)
	}
	if *topoFile == "" {
		fmt.Fprintln(os.Stderr, "Error: -t flag is required")
		fs.Usage()
		os.Exit(1)
	}
	t, err := topology.ReadFile(*topoFile)
	if err != nil {
		return err
	}
	return publishTopology(ctx, cfg, logger, *cluster, t)
}

func publishTopology(ctx context.Context, cfg *config.Config, logger zerolog.Logger, cluster string, t *topology.Topology) error {
	if err := cfg.Validate("publish"); err != nil {
		return err
	}
	pub, closeFn, err := publish.FromConfig(cfg, logger)
	if err != nil {
		return err
	}
	defer closeFn()
	if err := pub.Publish(ctx, cluster, t); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Published topology for %s\n", cluster)
	return nil
}

func newBackend(ctx context.Context, cfg *config.Config) (*compute.OpenStack, error) {
	return compute.NewOpenStack(ctx, compute.OpenStackOptions{
		AuthURL:    cfg.OSAuthURL,
		Username:   cfg.OSUsername,
		Password:   cfg.OSPassword,
		TenantName: cfg.OSTenantName,
		Region:     cfg.OSRegionName,
	})
}

func newNodeManager(cfg *config.Config, logger zerolog.Logger, homeDir string, concurrency int) (*remote.NodeManager, error) {
	runner, err := remote.NewSSH(remote.SSHOptions{User: cfg.SSHUser, KeyPath: cfg.SSHKeyPath}, logger)
	if err != nil {
		return nil, err
	}
	return remote.NewNodeManager(runner, logger, remote.NodeOptions{HomeDir: homeDir, Concurrency: concurrency}), nil
}

func reportHostErrors(err error) error {
	if failed := remote.FailedHosts(err); len(failed) > 0 {
		fmt.Fprintf(os.Stderr, "Failed hosts: %s\n", strings.Join(failed, ", "))
	}
	return err
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage:
  raftisctl cluster [-f <cluster-definition.yaml>] [-durable] [flags]
  raftisctl genconfig [-prefix P] [-slots N] [-hosts FILE] [-o FILE] [-publish]
  raftisctl hosts [-prefix P]
  raftisctl deploy -t <topology.json> -binary <raftis>
  raftisctl start|stop|install [-hosts a,b,c] [-t <topology.json>]
  raftisctl publish -t <topology.json> [-cluster NAME]
  raftisctl publish -get [-cluster NAME]

Commands:
  cluster     Create every missing cluster instance and wait until all are ready
  genconfig   Generate the topology document from the live inventory
  hosts       List cluster hosts as "group<TAB>fqdn"
  deploy      Upload the topology, binary and service definition to every host
  start       Start the node service
  stop        Stop the node service where it is running
  install     Install node runtime dependencies
  publish     Publish a topology document to etcd and/or S3, or print the published one

Environment:
  OS_AUTH_URL, OS_USERNAME, OS_PASSWORD, OS_TENANT_NAME, OS_REGION_NAME
  TEMPORAL_ADDRESS, TEMPORAL_TASK_QUEUE, ETCD_ENDPOINTS, ETCD_PREFIX
  S3_ENDPOINT, S3_BUCKET, S3_ACCESS_KEY, S3_SECRET_KEY, S3_REGION
  SSH_USER, SSH_KEY_PATH, CLUSTER_PREFIX, SLOTS_PER_SHARD, LOG_LEVEL`)
}

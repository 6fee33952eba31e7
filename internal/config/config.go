package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	ServiceName string
	LogLevel    string

	// OpenStack credentials, named as in the usual openrc file.
	OSAuthURL    string
	OSUsername   string
	OSPassword   string
	OSTenantName string
	OSRegionName string

	TemporalAddress   string
	TemporalTaskQueue string
	MetricsListenAddr string

	EtcdEndpoints []string
	EtcdPrefix    string

	S3Endpoint  string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3Region    string

	SSHUser    string
	SSHKeyPath string

	// ClusterPrefix is the instance name prefix and the cluster's name in
	// published topology keys.
	ClusterPrefix string

	// TopologyRefreshCron schedules the worker's periodic topology
	// republish. Empty disables it.
	TopologyRefreshCron string
	SlotsPerShard       int
}

func Load() (*Config, error) {
	cfg := &Config{
		ServiceName:       getEnv("SERVICE_NAME", "raftisctl"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		OSAuthURL:         getEnv("OS_AUTH_URL", ""),
		OSUsername:        getEnv("OS_USERNAME", ""),
		OSPassword:        getEnv("OS_PASSWORD", ""),
		OSTenantName:      getEnv("OS_TENANT_NAME", ""),
		OSRegionName:      getEnv("OS_REGION_NAME", ""),
		TemporalAddress:   getEnv("TEMPORAL_ADDRESS", "localhost:7233"),
		TemporalTaskQueue: getEnv("TEMPORAL_TASK_QUEUE", "raftis-provision"),
		MetricsListenAddr: getEnv("METRICS_LISTEN_ADDR", ":9090"),
		EtcdEndpoints:     splitList(getEnv("ETCD_ENDPOINTS", "")),
		EtcdPrefix:        getEnv("ETCD_PREFIX", "/raftis"),
		S3Endpoint:        getEnv("S3_ENDPOINT", ""),
		S3Bucket:          getEnv("S3_BUCKET", ""),
		S3AccessKey:       getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:       getEnv("S3_SECRET_KEY", ""),
		S3Region:          getEnv("S3_REGION", "us-east-1"),
		SSHUser:           getEnv("SSH_USER", "ubuntu"),
		SSHKeyPath:        getEnv("SSH_KEY_PATH", os.ExpandEnv("${HOME}/.ssh/id_rsa")),
		ClusterPrefix:     getEnv("CLUSTER_PREFIX", "raftis"),

		TopologyRefreshCron: getEnv("TOPOLOGY_REFRESH_CRON", ""),
	}

	slots, err := strconv.Atoi(getEnv("SLOTS_PER_SHARD", "1"))
	if err != nil {
		return nil, fmt.Errorf("SLOTS_PER_SHARD: %w", err)
	}
	cfg.SlotsPerShard = slots

	return cfg, nil
}

// Validate checks that everything command needs is set and names every
// missing variable at once.
func (c *Config) Validate(command string) error {
	var missing []string
	require := func(name, value string) {
		if value == "" {
			missing = append(missing, name)
		}
	}
	requireOpenStack := func() {
		require("OS_AUTH_URL", c.OSAuthURL)
		require("OS_USERNAME", c.OSUsername)
		require("OS_PASSWORD", c.OSPassword)
		require("OS_TENANT_NAME", c.OSTenantName)
	}

	switch command {
	case "cluster", "genconfig", "hosts":
		requireOpenStack()
	case "deploy", "start", "stop", "install":
		require("SSH_USER", c.SSHUser)
		require("SSH_KEY_PATH", c.SSHKeyPath)
	case "publish":
		if len(c.EtcdEndpoints) == 0 && c.S3Bucket == "" {
			return fmt.Errorf("publish needs ETCD_ENDPOINTS or S3_BUCKET")
		}
		if c.S3Bucket != "" {
			require("S3_ACCESS_KEY", c.S3AccessKey)
			require("S3_SECRET_KEY", c.S3SecretKey)
		}
	case "worker":
		requireOpenStack()
		require("TEMPORAL_ADDRESS", c.TemporalAddress)
		require("TEMPORAL_TASK_QUEUE", c.TemporalTaskQueue)
	default:
		return fmt.Errorf("unknown command %q", command)
	}

	if len(missing) > 0 {
		return fmt.Errorf("%s: missing required environment variables: %s", command, strings.Join(missing, ", "))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

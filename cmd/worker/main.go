package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	temporalclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/edvin/raftisctl/internal/activity"
	"github.com/edvin/raftisctl/internal/compute"
	"github.com/edvin/raftisctl/internal/config"
	"github.com/edvin/raftisctl/internal/logging"
	"github.com/edvin/raftisctl/internal/metrics"
	"github.com/edvin/raftisctl/internal/publish"
	"github.com/edvin/raftisctl/internal/readiness"
	"github.com/edvin/raftisctl/internal/workflow"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate("worker"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend, err := compute.NewOpenStack(ctx, compute.OpenStackOptions{
		AuthURL:    cfg.OSAuthURL,
		Username:   cfg.OSUsername,
		Password:   cfg.OSPassword,
		TenantName: cfg.OSTenantName,
		Region:     cfg.OSRegionName,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to openstack")
	}

	publisher, closePublisher, err := publish.FromConfig(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure topology publishing")
	}
	defer closePublisher()
	if publisher == nil {
		logger.Warn().Msg("no etcd or S3 configured, topologies will not be published")
	}

	tc, err := temporalclient.Dial(temporalclient.Options{HostPort: cfg.TemporalAddress})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to temporal")
	}
	defer tc.Close()

	taskQueue := cfg.TemporalTaskQueue
	w := worker.New(tc, taskQueue, worker.Options{})

	// Register activities
	w.RegisterActivity(activity.NewCompute(backend, logger, readiness.Options{}))
	w.RegisterActivity(activity.NewTopology(backend, publisher, logger))

	// Register workflows
	w.RegisterWorkflow(workflow.ProvisionClusterWorkflow)
	w.RegisterWorkflow(workflow.ProvisionInstanceWorkflow)
	w.RegisterWorkflow(workflow.RefreshTopologyWorkflow)

	if cfg.MetricsListenAddr != "" {
		metricsSrv := metrics.NewServer(cfg.MetricsListenAddr, metrics.HealthCheck{
			Name: "openstack",
			Check: func(ctx context.Context) error {
				_, err := backend.ListInstances(ctx)
				return err
			},
		})
		go func() {
			logger.Info().Str("addr", cfg.MetricsListenAddr).Msg("starting metrics server")
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	go func() {
		logger.Info().Str("taskQueue", taskQueue).Msg("starting temporal worker")
		if err := w.Run(worker.InterruptCh()); err != nil {
			logger.Fatal().Err(err).Msg("worker failed")
		}
	}()

	if cfg.TopologyRefreshCron != "" {
		if publisher == nil {
			logger.Warn().Msg("TOPOLOGY_REFRESH_CRON set without a publisher, not scheduling refresh")
		} else {
			registerRefreshSchedule(ctx, tc, taskQueue, cfg, logger)
		}
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down worker")
	cancel()
}

// registerRefreshSchedule creates the periodic topology republish. An
// already existing schedule is left alone so that re-deploys do not fail.
func registerRefreshSchedule(ctx context.Context, tc temporalclient.Client, taskQueue string, cfg *config.Config, logger zerolog.Logger) {
	id := "topology-refresh-" + cfg.ClusterPrefix
	_, err := tc.ScheduleClient().Create(ctx, temporalclient.ScheduleOptions{
		ID: id,
		Spec: temporalclient.ScheduleSpec{
			CronExpressions: []string{cfg.TopologyRefreshCron},
		},
		Action: &temporalclient.ScheduleWorkflowAction{
			ID:       id,
			Workflow: workflow.RefreshTopologyWorkflow,
			Args: []interface{}{workflow.RefreshTopologyParams{
				Cluster:       cfg.ClusterPrefix,
				SlotsPerShard: cfg.SlotsPerShard,
			}},
			TaskQueue: taskQueue,
		},
	})
	if err != nil {
		if strings.Contains(err.Error(), "already exists") || strings.Contains(err.Error(), "AlreadyExists") || strings.Contains(err.Error(), "already registered") {
			logger.Info().Str("id", id).Msg("refresh schedule already exists, skipping")
			return
		}
		logger.Fatal().Err(err).Str("id", id).Msg("failed to create refresh schedule")
	}
	logger.Info().Str("id", id).Str("cron", cfg.TopologyRefreshCron).Msg("created refresh schedule")
}

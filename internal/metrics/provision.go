package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Provisioning metrics, shared by the CLI orchestrator and the worker.
var (
	InstancesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "raftis_instances_created_total",
		Help: "Instances created on the compute backend",
	}, []string{"datacenter"})

	InstanceCreateFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "raftis_instance_create_failures_total",
		Help: "Instance create calls rejected by the compute backend",
	}, []string{"datacenter"})

	InstancesFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "raftis_instances_finished_total",
		Help: "Instances that reached a terminal provisioning state",
	}, []string{"state"})

	ReadinessDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "raftis_readiness_duration_seconds",
		Help:    "Time from instance creation until ready or failed",
		Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200},
	}, []string{"state"})

	TopologyGenerations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "raftis_topology_generations_total",
		Help: "Topology generation attempts",
	}, []string{"result"})
)

package raftisctl

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	temporalclient "go.temporal.io/sdk/client"
	temporalmocks "go.temporal.io/sdk/mocks"

	"github.com/edvin/raftisctl/internal/model"
	"github.com/edvin/raftisctl/internal/topology"
	"github.com/edvin/raftisctl/internal/workflow"
)

func TestClusterApplyDurable_WritesTopology(t *testing.T) {
	tc := &temporalmocks.Client{}
	wfRun := &temporalmocks.WorkflowRun{}
	out := filepath.Join(t.TempDir(), "raftis.json")
	def := &ClusterDef{
		ProvisionRequest: model.ProvisionRequest{ShardCount: 1, Datacenters: []string{"lvs"}},
		SlotsPerShard:    2,
		Output:           out,
		Publish:          true,
	}
	topo := &topology.Topology{NumSlots: 2, Shards: []topology.Shard{{
		Hosts: []topology.HostEntry{{Host: "raftis-0-lvs.dev.example.com", Group: "lvs"}},
		Slots: []int{0, 1},
	}}}

	wfRun.On("GetID").Return("provision-raftis-abcd1234")
	wfRun.On("GetRunID").Return("run-1")
	wfRun.On("Get", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		res := args.Get(1).(*workflow.ProvisionClusterResult)
		res.Report = model.ProvisionReport{
			Expected: []string{"raftis-0-lvs"},
			Ready:    []model.Host{{Name: "raftis-0-lvs", Group: "lvs"}},
		}
		res.Topology = topo
	}).Return(nil)
	tc.On("ExecuteWorkflow", mock.Anything,
		mock.MatchedBy(func(o temporalclient.StartWorkflowOptions) bool {
			return o.TaskQueue == "raftis-provision" && strings.HasPrefix(o.ID, "provision-raftis-") &&
				o.WorkflowExecutionTimeout == 0
		}),
		mock.Anything,
		mock.MatchedBy(func(p workflow.ProvisionClusterParams) bool {
			return p.Request.Prefix == "raftis" && p.SlotsPerShard == 2 && p.Publish
		}),
	).Return(wfRun, nil)

	var buf bytes.Buffer
	err := ClusterApplyDurable(context.Background(), tc, "raftis-provision", def, &buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Started workflow provision-raftis-abcd1234")

	written, err := topology.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, topo, written)
	tc.AssertExpectations(t)
	wfRun.AssertExpectations(t)
}

func TestClusterApplyDurable_ReportsFailedHosts(t *testing.T) {
	tc := &temporalmocks.Client{}
	wfRun := &temporalmocks.WorkflowRun{}

	wfRun.On("GetID").Return("wf")
	wfRun.On("GetRunID").Return("run")
	wfRun.On("Get", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		res := args.Get(1).(*workflow.ProvisionClusterResult)
		res.Report = model.ProvisionReport{
			Failed: []model.HostFailure{{Name: "raftis-0-lvs", State: model.StateBuilding, Error: "ERROR status"}},
		}
	}).Return(nil)
	tc.On("ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(wfRun, nil)

	var buf bytes.Buffer
	err := ClusterApplyDurable(context.Background(), tc, "q", &ClusterDef{}, &buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 1 hosts failed")
	assert.Contains(t, buf.String(), "ERROR status")
}

func TestClusterApplyDurable_RequestTimeoutBoundsWorkflow(t *testing.T) {
	tc := &temporalmocks.Client{}
	tc.On("ExecuteWorkflow", mock.Anything,
		mock.MatchedBy(func(o temporalclient.StartWorkflowOptions) bool {
			return o.WorkflowExecutionTimeout == 20*time.Minute
		}),
		mock.Anything, mock.Anything,
	).Return(nil, errors.New("stop here")).Once()

	def := &ClusterDef{ProvisionRequest: model.ProvisionRequest{Timeout: 20 * time.Minute}}
	err := ClusterApplyDurable(context.Background(), tc, "q", def, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stop here")
	tc.AssertExpectations(t)
}

func TestClusterApplyDurable_ExistingBrokenHostCounts(t *testing.T) {
	tc := &temporalmocks.Client{}
	wfRun := &temporalmocks.WorkflowRun{}

	wfRun.On("GetID").Return("wf")
	wfRun.On("GetRunID").Return("run")
	wfRun.On("Get", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		res := args.Get(1).(*workflow.ProvisionClusterResult)
		res.Report = model.ProvisionReport{
			Existing: []string{"raftis-0-lvs", "raftis-0-phx"},
			Ready:    []model.Host{{Name: "raftis-0-phx", Group: "phx"}},
			Failed:   []model.HostFailure{{Name: "raftis-0-lvs", State: model.StateBuilding, Error: "status ERROR"}},
		}
	}).Return(nil)
	tc.On("ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(wfRun, nil)

	var buf bytes.Buffer
	err := ClusterApplyDurable(context.Background(), tc, "q", &ClusterDef{}, &buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 hosts failed")
	assert.Contains(t, buf.String(), "launched 0")
}

func TestClusterApplyDurable_StartError(t *testing.T) {
	tc := &temporalmocks.Client{}
	tc.On("ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("connection refused"))

	err := ClusterApplyDurable(context.Background(), tc, "q", &ClusterDef{}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start provisioning workflow")
}

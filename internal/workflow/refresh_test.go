package workflow

import (
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/edvin/raftisctl/internal/activity"
	"github.com/edvin/raftisctl/internal/topology"
)

type RefreshTopologyWorkflowTestSuite struct {
	suite.Suite
	testsuite.WorkflowTestSuite
	env *testsuite.TestWorkflowEnvironment
}

func (s *RefreshTopologyWorkflowTestSuite) SetupTest() {
	s.env = s.NewTestWorkflowEnvironment()
	registerActivities(s.env)
}

func (s *RefreshTopologyWorkflowTestSuite) AfterTest(suiteName, testName string) {
	s.env.AssertExpectations(s.T())
}

func (s *RefreshTopologyWorkflowTestSuite) TestPublishesGeneratedTopology() {
	topo := &topology.Topology{NumSlots: 2, Shards: []topology.Shard{{
		Hosts: []topology.HostEntry{{Host: "raftis-0-lvs.dev.example.com", Group: "lvs"}},
		Slots: []int{0, 1},
	}}}
	s.env.OnActivity("GenerateTopology", mock.Anything, activity.GenerateTopologyParams{
		Prefix: "raftis", SlotsPerShard: 2,
	}).Return(topo, nil).Once()
	s.env.OnActivity("PublishTopology", mock.Anything, mock.MatchedBy(func(p activity.PublishTopologyParams) bool {
		return p.Cluster == "raftis" && p.Topology.NumSlots == 2
	})).Return(nil).Once()

	s.env.ExecuteWorkflow(RefreshTopologyWorkflow, RefreshTopologyParams{Cluster: "raftis", SlotsPerShard: 2})

	s.True(s.env.IsWorkflowCompleted())
	s.Require().NoError(s.env.GetWorkflowError())
	var got topology.Topology
	s.Require().NoError(s.env.GetWorkflowResult(&got))
	s.Equal(*topo, got)
}

func (s *RefreshTopologyWorkflowTestSuite) TestUnbalancedInventorySkipsPublish() {
	s.env.OnActivity("GenerateTopology", mock.Anything, mock.Anything).Return(nil,
		temporal.NewNonRetryableApplicationError("unbalanced", "INVALID_TOPOLOGY", nil)).Once()

	s.env.ExecuteWorkflow(RefreshTopologyWorkflow, RefreshTopologyParams{Cluster: "raftis"})

	s.True(s.env.IsWorkflowCompleted())
	s.Error(s.env.GetWorkflowError())
}

func TestRefreshTopologyWorkflow(t *testing.T) {
	suite.Run(t, new(RefreshTopologyWorkflowTestSuite))
}

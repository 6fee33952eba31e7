package workflow

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/edvin/raftisctl/internal/activity"
	"github.com/edvin/raftisctl/internal/compute"
	"github.com/edvin/raftisctl/internal/model"
)

type ProvisionInstanceWorkflowTestSuite struct {
	suite.Suite
	testsuite.WorkflowTestSuite
	env *testsuite.TestWorkflowEnvironment
}

func (s *ProvisionInstanceWorkflowTestSuite) SetupTest() {
	s.env = s.NewTestWorkflowEnvironment()
	registerActivities(s.env)
}

func (s *ProvisionInstanceWorkflowTestSuite) AfterTest(suiteName, testName string) {
	s.env.AssertExpectations(s.T())
}

func (s *ProvisionInstanceWorkflowTestSuite) failedState() model.InstanceState {
	err := s.env.GetWorkflowError()
	s.Require().Error(err)
	var appErr *temporal.ApplicationError
	s.Require().True(errors.As(err, &appErr))
	s.Equal(instanceFailedType, appErr.Type())
	var state model.InstanceState
	s.Require().NoError(appErr.Details(&state))
	return state
}

func (s *ProvisionInstanceWorkflowTestSuite) TestSuccess() {
	s.env.OnActivity("CreateInstance", mock.Anything, mock.Anything).Return(createOK)
	s.env.OnActivity("WaitForBuild", mock.Anything, mock.MatchedBy(func(p activity.WaitForBuildParams) bool {
		return p.Instance.Name == "raftis-2-slc" && p.Timeout == 10*time.Minute
	})).Return(buildOK)
	s.env.OnActivity("WaitForDNS", mock.Anything, activity.WaitForDNSParams{
		Name:    "raftis-2-slc",
		FQDN:    "raftis-2-slc.dev.example.com",
		Timeout: time.Minute,
	}).Return([]string{"10.0.0.1"}, nil)

	s.env.ExecuteWorkflow(ProvisionInstanceWorkflow, ProvisionInstanceParams{
		Name:         "raftis-2-slc",
		KeyName:      "raftis",
		BuildTimeout: 10 * time.Minute,
		DNSTimeout:   time.Minute,
	})

	s.True(s.env.IsWorkflowCompleted())
	s.Require().NoError(s.env.GetWorkflowError())
	var host model.Host
	s.Require().NoError(s.env.GetWorkflowResult(&host))
	s.Equal(model.Host{Name: "raftis-2-slc", FQDN: "raftis-2-slc.dev.example.com", Group: "slc", Shard: 2}, host)
}

func (s *ProvisionInstanceWorkflowTestSuite) TestCreateIsNotRetried() {
	s.env.OnActivity("CreateInstance", mock.Anything, mock.Anything).
		Return(nil, errors.New("backend unavailable")).Once()

	s.env.ExecuteWorkflow(ProvisionInstanceWorkflow, ProvisionInstanceParams{Name: "raftis-0-lvs"})

	s.True(s.env.IsWorkflowCompleted())
	s.Equal(model.StateRequested, s.failedState())
}

func (s *ProvisionInstanceWorkflowTestSuite) TestExistingIsCheckedNotCreated() {
	existing := compute.Instance{ID: "id-raftis-0-lvs", Name: "raftis-0-lvs", FQDN: "raftis-0-lvs.dev.example.com", Status: compute.StatusError}
	s.env.OnActivity("WaitForBuild", mock.Anything, mock.MatchedBy(func(p activity.WaitForBuildParams) bool {
		return p.Instance.ID == "id-raftis-0-lvs" && p.Instance.Status == compute.StatusError
	})).Return(nil, temporal.NewNonRetryableApplicationError("instance raftis-0-lvs failed to build: status ERROR", "BUILD_FAILED", nil)).Once()

	s.env.ExecuteWorkflow(ProvisionInstanceWorkflow, ProvisionInstanceParams{Name: "raftis-0-lvs", Existing: &existing})

	s.True(s.env.IsWorkflowCompleted())
	s.Equal(model.StateBuilding, s.failedState())
}

func (s *ProvisionInstanceWorkflowTestSuite) TestDNSTimeout() {
	s.env.OnActivity("CreateInstance", mock.Anything, mock.Anything).Return(createOK)
	s.env.OnActivity("WaitForBuild", mock.Anything, mock.Anything).Return(buildOK)
	s.env.OnActivity("WaitForDNS", mock.Anything, mock.Anything).
		Return(nil, temporal.NewNonRetryableApplicationError("instance raftis-0-lvs built but not resolvable after 1m0s", "PROVISION_TIMEOUT", nil))

	s.env.ExecuteWorkflow(ProvisionInstanceWorkflow, ProvisionInstanceParams{Name: "raftis-0-lvs", DNSTimeout: time.Minute})

	s.True(s.env.IsWorkflowCompleted())
	s.Equal(model.StateDNSPending, s.failedState())
}

func TestProvisionInstanceWorkflow(t *testing.T) {
	suite.Run(t, new(ProvisionInstanceWorkflowTestSuite))
}
